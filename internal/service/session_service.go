package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-engine/internal/dto"
	"github.com/noah-isme/attendance-engine/internal/models"
	"github.com/noah-isme/attendance-engine/pkg/config"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

type sessionStore interface {
	CreateWithRounds(ctx context.Context, session *models.Session, rounds []models.Round) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	ListBySchedule(ctx context.Context, scheduleID string) ([]models.Session, error)
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus, from ...models.SessionStatus) (bool, error)
}

type sessionRoundStore interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.Round, error)
	CancelOpenBySession(ctx context.Context, sessionID string, now time.Time) ([]string, error)
}

// SessionService creates sessions with their rounds and a frozen copy of the attendance policy.
type SessionService struct {
	sessions  sessionStore
	rounds    sessionRoundStore
	faceID    verifyGroupCanceller
	cache     *CacheService
	policy    models.SessionConfigSnapshot
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSessionService constructs the service.
func NewSessionService(sessions sessionStore, rounds sessionRoundStore, faceID verifyGroupCanceller, cache *CacheService, policy models.SessionConfigSnapshot, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		sessions:  sessions,
		rounds:    rounds,
		faceID:    faceID,
		cache:     cache,
		policy:    policy,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// SnapshotFromPolicy copies the global engine policy into a session snapshot, filling unset
// values with engine defaults.
func SnapshotFromPolicy(engine config.EngineConfig, faceThreshold float64) models.SessionConfigSnapshot {
	snap := models.SessionConfigSnapshot{
		AttendanceWindowMinutes:          engine.AttendanceWindowMinutes,
		FaceIDVerificationTimeoutSeconds: engine.FaceIDVerificationTimeoutSeconds,
		TotalAttendanceRounds:            engine.TotalAttendanceRounds,
		AbsentReportGracePeriodHours:     engine.AbsentReportGracePeriodHours,
		ManualAdjustmentGracePeriodHours: engine.ManualAdjustmentGracePeriodHours,
		RSSIThreshold:                    engine.RSSIThreshold,
		AnchorTrust:                      models.AnchorTrust(engine.AnchorTrust),
		MaxHops:                          engine.MaxHops,
		BiometricPolicy:                  models.BiometricPolicy(engine.BiometricPolicy),
		FaceIDThreshold:                  faceThreshold,
		SessionPassFraction:              engine.SessionPassFraction,
	}
	if snap.AttendanceWindowMinutes < 0 {
		snap.AttendanceWindowMinutes = 0
	}
	if snap.FaceIDVerificationTimeoutSeconds <= 0 {
		snap.FaceIDVerificationTimeoutSeconds = 30
	}
	if snap.TotalAttendanceRounds <= 0 {
		snap.TotalAttendanceRounds = 1
	}
	if snap.RSSIThreshold == 0 || !models.ValidRSSI(snap.RSSIThreshold) {
		snap.RSSIThreshold = -70
	}
	if !snap.AnchorTrust.Valid() {
		snap.AnchorTrust = models.AnchorTrustAsymmetric
	}
	if snap.MaxHops < 1 {
		snap.MaxHops = 1
	}
	if !snap.BiometricPolicy.Valid() {
		snap.BiometricPolicy = models.BiometricPolicyNone
	}
	if snap.FaceIDThreshold <= 0 || snap.FaceIDThreshold > 1 {
		snap.FaceIDThreshold = 0.7
	}
	if snap.SessionPassFraction <= 0 || snap.SessionPassFraction > 1 {
		snap.SessionPassFraction = 0.75
	}
	return snap
}

// GenerateRounds splits [start, end) into total equal contiguous rounds numbered from 1.
func GenerateRounds(sessionID string, start, end time.Time, total int, now time.Time) []models.Round {
	if total <= 0 {
		total = 1
	}
	span := end.Sub(start) / time.Duration(total)
	rounds := make([]models.Round, 0, total)
	for i := 0; i < total; i++ {
		roundStart := start.Add(span * time.Duration(i))
		roundEnd := roundStart.Add(span)
		if i == total-1 {
			roundEnd = end
		}
		rounds = append(rounds, models.Round{
			ID:          uuid.NewString(),
			SessionID:   sessionID,
			RoundNumber: i + 1,
			StartTime:   roundStart,
			EndTime:     roundEnd,
			Status:      models.RoundStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return rounds
}

// CreateSession persists a session, its policy snapshot and its rounds in one transaction.
func (s *SessionService) CreateSession(ctx context.Context, req dto.CreateSessionRequest) (*dto.SessionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	now := s.now().UTC()
	start := req.StartTime.UTC()
	end := req.EndTime.UTC()
	snapshot := s.policy
	if end.Sub(start) < time.Duration(snapshot.TotalAttendanceRounds)*time.Minute {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session is too short for its attendance rounds")
	}

	session := &models.Session{
		ID:             uuid.NewString(),
		ScheduleID:     req.ScheduleID,
		CourseID:       req.CourseID,
		ClassSectionID: req.ClassSectionID,
		LecturerID:     req.LecturerID,
		Status:         models.SessionStatusPending,
		StartTime:      start,
		EndTime:        end,
		Config:         snapshot,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	rounds := GenerateRounds(session.ID, start, end, snapshot.TotalAttendanceRounds, now)
	if err := s.sessions.CreateWithRounds(ctx, session, rounds); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("schedule_id", session.ScheduleID),
		zap.Int("rounds", len(rounds)),
	)
	return &dto.SessionResponse{Session: *session, Rounds: rounds}, nil
}

// GetSession returns a session and its rounds.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*dto.SessionResponse, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, notFoundOrInternal(err, "session")
	}
	rounds, err := s.rounds.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rounds")
	}
	return &dto.SessionResponse{Session: *session, Rounds: rounds}, nil
}

// GetSessionsByScheduleID lists every session generated for a schedule with its rounds.
func (s *SessionService) GetSessionsByScheduleID(ctx context.Context, scheduleID string) ([]dto.SessionResponse, error) {
	if scheduleID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "scheduleId is required")
	}
	sessions, err := s.sessions.ListBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	out := make([]dto.SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		rounds, err := s.rounds.ListBySession(ctx, session.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rounds")
		}
		out = append(out, dto.SessionResponse{Session: session, Rounds: rounds})
	}
	return out, nil
}

// CancelSession cancels the session and every round that has not completed yet. Completed and
// finalized rounds keep their results.
func (s *SessionService) CancelSession(ctx context.Context, sessionID string) (*dto.SessionResponse, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, notFoundOrInternal(err, "session")
	}
	switch session.Status {
	case models.SessionStatusCancelled:
		return s.GetSession(ctx, sessionID)
	case models.SessionStatusCompleted, models.SessionStatusArchived:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "session already "+string(session.Status))
	case models.SessionStatusPending, models.SessionStatusActive:
	}

	ok, err := s.sessions.UpdateStatus(ctx, sessionID, models.SessionStatusCancelled, models.SessionStatusPending, models.SessionStatusActive)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel session")
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrConflict, "session status changed concurrently")
	}

	cancelled, err := s.rounds.CancelOpenBySession(ctx, sessionID, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel rounds")
	}
	for _, roundID := range cancelled {
		if s.faceID == nil {
			continue
		}
		if _, err := s.faceID.CancelVerifyRequestsByGroup(ctx, roundID); err != nil {
			s.logger.Warn("cancel round verifications failed", zap.String("round_id", roundID), zap.Error(err))
		}
	}
	_ = s.cache.Delete(ctx, sessionSummaryKey(sessionID), sessionWhitelistKey(sessionID))
	_ = s.cache.Invalidate(ctx, courseRatePattern(session.CourseID))

	s.logger.Info("session cancelled", zap.String("session_id", sessionID), zap.Int("rounds_cancelled", len(cancelled)))
	return s.GetSession(ctx, sessionID)
}
