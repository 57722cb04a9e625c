package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-engine/internal/dto"
	"github.com/noah-isme/attendance-engine/internal/faceclient"
	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

type verifyRequestStore interface {
	Create(ctx context.Context, req *models.FaceVerifyRequest) error
	FindByID(ctx context.Context, id string) (*models.FaceVerifyRequest, error)
	Resolve(ctx context.Context, id string, status models.VerifyStatus, similarity *float64, now time.Time) (bool, error)
	CancelByGroup(ctx context.Context, groupID string, now time.Time) ([]string, error)
	ExpireDue(ctx context.Context, now time.Time) ([]string, error)
}

type faceScorer interface {
	Verify(ctx context.Context, userID, imageURL string) (*faceclient.VerifyResult, error)
}

// FaceIDConfig tunes verification defaults.
type FaceIDConfig struct {
	DefaultThreshold float64
	DefaultTimeout   time.Duration
	PollInterval     time.Duration
}

// FaceIDService owns the face verification request lifecycle. Requests are answered at most once;
// callers blocked in Await are released on answer, expiry or group cancellation.
type FaceIDService struct {
	store     verifyRequestStore
	scorer    faceScorer
	cfg       FaceIDConfig
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	waiters map[string][]chan models.VerifyOutcome
}

// NewFaceIDService constructs the service.
func NewFaceIDService(store verifyRequestStore, scorer faceScorer, cfg FaceIDConfig, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *FaceIDService {
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = 0.7
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FaceIDService{
		store:     store,
		scorer:    scorer,
		cfg:       cfg,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		waiters:   make(map[string][]chan models.VerifyOutcome),
	}
}

// CreateVerifyRequest persists a pending request for the target user.
func (s *FaceIDService) CreateVerifyRequest(ctx context.Context, req dto.CreateVerifyRequest) (*models.FaceVerifyRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verify request payload")
	}
	now := s.now().UTC()
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = s.cfg.DefaultThreshold
	}
	expiresAt := req.ExpiresAt.UTC()
	if req.ExpiresAt.IsZero() {
		expiresAt = now.Add(s.cfg.DefaultTimeout)
	}
	if !expiresAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expiresAt must be in the future")
	}
	groupID := req.GroupID
	if groupID == "" {
		groupID = req.RoundID
	}
	if groupID == "" {
		groupID = req.SessionID
	}

	record := &models.FaceVerifyRequest{
		GroupID:      groupID,
		TargetUserID: req.TargetUserID,
		SessionID:    req.SessionID,
		Threshold:    threshold,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}
	if req.RoundID != "" {
		roundID := req.RoundID
		record.RoundID = &roundID
	}
	if err := s.store.Create(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create verify request")
	}
	s.logger.Debug("face verify request created",
		zap.String("request_id", record.ID),
		zap.String("group_id", record.GroupID),
		zap.String("target_user_id", record.TargetUserID),
		zap.Time("expires_at", record.ExpiresAt),
	)
	return record, nil
}

// CompleteVerifyRequest records the scorer's answer. Late or repeated answers are rejected.
func (s *FaceIDService) CompleteVerifyRequest(ctx context.Context, requestID string, matched bool, similarity float64) (*models.FaceVerifyRequest, error) {
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Answered() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyAnswered, "verification request already "+string(req.Status))
	}
	now := s.now().UTC()
	if !now.Before(req.ExpiresAt) {
		s.resolve(ctx, req.ID, models.VerifyStatusExpired, nil, now)
		return nil, appErrors.Clone(appErrors.ErrGracePeriodExpired, "verification request expired")
	}

	status := models.VerifyStatusUnmatched
	if matched {
		status = models.VerifyStatusMatched
	}
	sim := similarity
	ok, err := s.store.Resolve(ctx, req.ID, status, &sim, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete verify request")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrAlreadyAnswered, "verification request already answered")
	}
	s.metrics.RecordFaceVerification(status)
	s.notify(req.ID, models.VerifyOutcome{RequestID: req.ID, Status: status, Similarity: &sim})

	req.Status = status
	req.Similarity = &sim
	req.CompletedAt = &now
	return req, nil
}

// VerifyWithImage scores a fresh capture with the external scorer and completes the request.
func (s *FaceIDService) VerifyWithImage(ctx context.Context, requestID string, body dto.VerifyFaceRequest) (*models.FaceVerifyRequest, error) {
	if err := s.validator.Struct(body); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verify payload")
	}
	req, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Answered() {
		return nil, appErrors.Clone(appErrors.ErrAlreadyAnswered, "verification request already "+string(req.Status))
	}
	if s.scorer == nil {
		return nil, appErrors.Clone(appErrors.ErrServiceUnavailable, "face scorer not configured")
	}

	scoreCtx := ctx
	if deadline := req.ExpiresAt; !deadline.IsZero() {
		var cancel context.CancelFunc
		scoreCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	result, err := s.scorer.Verify(scoreCtx, req.TargetUserID, body.ImageURL)
	if err != nil {
		s.logger.Warn("face scorer failed", zap.String("request_id", req.ID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "face scorer unavailable")
	}
	return s.CompleteVerifyRequest(ctx, req.ID, result.Similarity >= req.Threshold, result.Similarity)
}

// CancelVerifyRequestsByGroup cancels every pending request of the group and releases their waiters.
func (s *FaceIDService) CancelVerifyRequestsByGroup(ctx context.Context, groupID string) (int, error) {
	if groupID == "" {
		return 0, appErrors.Clone(appErrors.ErrValidation, "groupId is required")
	}
	ids, err := s.store.CancelByGroup(ctx, groupID, s.now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel verify requests")
	}
	for _, id := range ids {
		s.metrics.RecordFaceVerification(models.VerifyStatusCancelled)
		s.notify(id, models.VerifyOutcome{RequestID: id, Status: models.VerifyStatusCancelled})
	}
	if len(ids) > 0 {
		s.logger.Info("face verify group cancelled", zap.String("group_id", groupID), zap.Int("requests", len(ids)))
	}
	return len(ids), nil
}

// ExpireDue marks overdue requests expired and releases their waiters.
func (s *FaceIDService) ExpireDue(ctx context.Context) (int, error) {
	ids, err := s.store.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expire verify requests")
	}
	for _, id := range ids {
		s.metrics.RecordFaceVerification(models.VerifyStatusExpired)
		s.notify(id, models.VerifyOutcome{RequestID: id, Status: models.VerifyStatusExpired})
	}
	return len(ids), nil
}

// Await blocks until the request is answered, cancelled or reaches deadline. It never blocks past
// the deadline: an unanswered request is expired and reported as such.
func (s *FaceIDService) Await(ctx context.Context, requestID string, deadline time.Time) models.VerifyOutcome {
	ch := s.subscribe(requestID)
	defer s.unsubscribe(requestID, ch)

	if outcome, done := s.check(ctx, requestID); done {
		return outcome
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		wait := deadline.Sub(s.now())
		if wait <= 0 {
			return s.expire(ctx, requestID)
		}
		timer := time.NewTimer(wait)
		select {
		case outcome := <-ch:
			timer.Stop()
			return outcome
		case <-ticker.C:
			timer.Stop()
			if outcome, done := s.check(ctx, requestID); done {
				return outcome
			}
		case <-timer.C:
			return s.expire(ctx, requestID)
		case <-ctx.Done():
			timer.Stop()
			return s.expire(context.WithoutCancel(ctx), requestID)
		}
	}
}

func (s *FaceIDService) check(ctx context.Context, requestID string) (models.VerifyOutcome, bool) {
	req, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		s.logger.Warn("face verify request lookup failed", zap.String("request_id", requestID), zap.Error(err))
		return models.VerifyOutcome{}, false
	}
	if !req.Status.Answered() {
		return models.VerifyOutcome{}, false
	}
	return models.VerifyOutcome{RequestID: req.ID, Status: req.Status, Similarity: req.Similarity}, true
}

func (s *FaceIDService) expire(ctx context.Context, requestID string) models.VerifyOutcome {
	if s.resolve(ctx, requestID, models.VerifyStatusExpired, nil, s.now().UTC()) {
		return models.VerifyOutcome{RequestID: requestID, Status: models.VerifyStatusExpired}
	}
	if outcome, done := s.check(ctx, requestID); done {
		return outcome
	}
	return models.VerifyOutcome{RequestID: requestID, Status: models.VerifyStatusExpired}
}

func (s *FaceIDService) resolve(ctx context.Context, requestID string, status models.VerifyStatus, similarity *float64, now time.Time) bool {
	ok, err := s.store.Resolve(ctx, requestID, status, similarity, now)
	if err != nil {
		s.logger.Warn("face verify resolve failed", zap.String("request_id", requestID), zap.String("status", string(status)), zap.Error(err))
		return false
	}
	if ok {
		s.metrics.RecordFaceVerification(status)
		s.notify(requestID, models.VerifyOutcome{RequestID: requestID, Status: status, Similarity: similarity})
	}
	return ok
}

func (s *FaceIDService) load(ctx context.Context, requestID string) (*models.FaceVerifyRequest, error) {
	req, err := s.store.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "verification request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load verify request")
	}
	return req, nil
}

func (s *FaceIDService) subscribe(requestID string) chan models.VerifyOutcome {
	ch := make(chan models.VerifyOutcome, 1)
	s.mu.Lock()
	s.waiters[requestID] = append(s.waiters[requestID], ch)
	s.mu.Unlock()
	return ch
}

func (s *FaceIDService) unsubscribe(requestID string, ch chan models.VerifyOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[requestID]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.waiters, requestID)
		return
	}
	s.waiters[requestID] = list
}

func (s *FaceIDService) notify(requestID string, outcome models.VerifyOutcome) {
	s.mu.Lock()
	list := s.waiters[requestID]
	delete(s.waiters, requestID)
	s.mu.Unlock()
	for _, ch := range list {
		select {
		case ch <- outcome:
		default:
		}
	}
}
