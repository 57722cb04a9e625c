package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/attendance-engine/internal/dto"
	"github.com/noah-isme/attendance-engine/internal/models"
	"github.com/noah-isme/attendance-engine/internal/repository"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

type calcSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type calcRoundReader interface {
	FindByID(ctx context.Context, id string) (*models.Round, error)
}

type attendanceRecordStore interface {
	SaveRoundResults(ctx context.Context, roundID string, records []models.AttendanceRecord, finalize bool, now time.Time) error
	ListLatestByRound(ctx context.Context, roundID string) ([]models.AttendanceRecord, error)
}

type roundClaimer interface {
	Acquire(ctx context.Context, roundID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, roundID, owner string) error
}

type proximityGraphSource interface {
	Build(ctx context.Context, session *models.Session, round *models.Round, dir *models.ParticipantDirectory) (*ProximityGraph, error)
}

type faceVerifier interface {
	CreateVerifyRequest(ctx context.Context, req dto.CreateVerifyRequest) (*models.FaceVerifyRequest, error)
	Await(ctx context.Context, requestID string, deadline time.Time) models.VerifyOutcome
}

// CalculationConfig tunes round evaluation. ClaimTTL bounds the work outside face verification;
// the verification timeout of the session is added on top of it.
type CalculationConfig struct {
	Concurrency    int
	ClaimTTL       time.Duration
	ClaimWait      time.Duration
	PollInterval   time.Duration
	ResultTTL      time.Duration
	PersistTimeout time.Duration
}

// AttendanceCalculationService evaluates rounds. At most one evaluation per round runs at a
// time: calls in this process share one flight and processes elect a writer through a claim.
type AttendanceCalculationService struct {
	sessions    calcSessionReader
	rounds      calcRoundReader
	enrollments enrollmentLister
	records     attendanceRecordStore
	claims      roundClaimer
	graphs      proximityGraphSource
	directory   directoryResolver
	faceID      faceVerifier
	cache       *CacheService
	metrics     *MetricsService
	logger      *zap.Logger
	cfg         CalculationConfig
	owner       string
	now         func() time.Time
	group       singleflight.Group
}

// NewAttendanceCalculationService constructs the service.
func NewAttendanceCalculationService(
	sessions calcSessionReader,
	rounds calcRoundReader,
	enrollments enrollmentLister,
	records attendanceRecordStore,
	claims roundClaimer,
	graphs proximityGraphSource,
	directory directoryResolver,
	faceID faceVerifier,
	cache *CacheService,
	metrics *MetricsService,
	cfg CalculationConfig,
	logger *zap.Logger,
) *AttendanceCalculationService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Minute
	}
	if cfg.ClaimWait <= 0 {
		cfg.ClaimWait = 45 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceCalculationService{
		sessions:    sessions,
		rounds:      rounds,
		enrollments: enrollments,
		records:     records,
		claims:      claims,
		graphs:      graphs,
		directory:   directory,
		faceID:      faceID,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		owner:       uuid.NewString(),
		now:         time.Now,
	}
}

// CalculateAttendanceForRound evaluates a completed round and finalizes it when every enrollment
// produced a record. A finalized round returns its committed result without recomputing.
func (s *AttendanceCalculationService) CalculateAttendanceForRound(ctx context.Context, sessionID, roundID string) (*models.RoundEvaluation, error) {
	v, err, _ := s.group.Do(roundID, func() (interface{}, error) {
		return s.calculate(context.WithoutCancel(ctx), sessionID, roundID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.RoundEvaluation), nil
}

func (s *AttendanceCalculationService) calculate(ctx context.Context, sessionID, roundID string) (*models.RoundEvaluation, error) {
	loadCtx, cancelLoad := context.WithTimeout(ctx, s.cfg.ClaimTTL)
	session, err := s.sessions.FindByID(loadCtx, sessionID)
	cancelLoad()
	if err != nil {
		return nil, notFoundOrInternal(err, "session")
	}

	claimTTL := s.runBudget(session) + s.cfg.PersistTimeout
	deadline := time.Now().Add(s.cfg.ClaimWait)
	for {
		round, err := s.rounds.FindByID(ctx, roundID)
		if err != nil {
			return nil, notFoundOrInternal(err, "round")
		}
		if round.SessionID != session.ID {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "round does not belong to session")
		}

		switch round.Status {
		case models.RoundStatusFinalized:
			return s.finalizedResult(ctx, session, round)
		case models.RoundStatusCancelled:
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "round is cancelled")
		case models.RoundStatusPending, models.RoundStatusActive:
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "round is not completed")
		case models.RoundStatusCompleted:
		default:
			return nil, appErrors.Clone(appErrors.ErrInternal, "unknown round status "+string(round.Status))
		}

		acquired, err := s.claims.Acquire(ctx, round.ID, s.owner, claimTTL)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim round")
		}
		if acquired {
			return s.evaluateClaimed(ctx, session, round)
		}

		if !time.Now().Before(deadline) {
			return nil, appErrors.Clone(appErrors.ErrEvaluationInProgress, "round is being evaluated by another worker")
		}
		s.logger.Debug("round claimed elsewhere, waiting", zap.String("round_id", round.ID))
		if err := sleepContext(ctx, s.cfg.PollInterval); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrEvaluationInProgress.Code, appErrors.ErrEvaluationInProgress.Status, "gave up waiting for round evaluation")
		}
	}
}

func (s *AttendanceCalculationService) evaluateClaimed(ctx context.Context, session *models.Session, round *models.Round) (*models.RoundEvaluation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.runBudget(session))
	defer cancel()
	defer func() {
		if err := s.claims.Release(context.WithoutCancel(ctx), round.ID, s.owner); err != nil {
			s.logger.Warn("release round claim failed", zap.String("round_id", round.ID), zap.Error(err))
		}
	}()

	current, err := s.rounds.FindByID(ctx, round.ID)
	if err != nil {
		return nil, notFoundOrInternal(err, "round")
	}
	if current.Status == models.RoundStatusFinalized {
		return s.finalizedResult(ctx, session, current)
	}
	if current.Status != models.RoundStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "round is "+string(current.Status))
	}

	start := time.Now()
	eval, err := s.evaluate(ctx, session, current)
	if err != nil {
		s.metrics.ObserveRoundEvaluation("error", time.Since(start))
		return nil, err
	}

	finalize := len(eval.Failures) == 0
	records := make([]models.AttendanceRecord, 0, len(eval.Results))
	for _, res := range eval.Results {
		records = append(records, recordFromResult(session.ID, current.ID, res))
	}
	now := s.now().UTC()
	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancelPersist()
	if err := s.records.SaveRoundResults(persistCtx, current.ID, records, finalize, now); err != nil {
		if errors.Is(err, repository.ErrRoundNotCompleted) {
			latest, lerr := s.rounds.FindByID(persistCtx, current.ID)
			if lerr == nil && latest.Status == models.RoundStatusFinalized {
				return s.finalizedResult(persistCtx, session, latest)
			}
			return nil, appErrors.Clone(appErrors.ErrConflict, "round left completed state during evaluation")
		}
		s.metrics.ObserveRoundEvaluation("error", time.Since(start))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist attendance records")
	}
	eval.EvaluatedAt = now

	if !finalize {
		s.metrics.ObserveRoundEvaluation("partial", time.Since(start))
		s.logger.Warn("round evaluation incomplete, round stays completed",
			zap.String("round_id", current.ID),
			zap.Int("failures", len(eval.Failures)),
		)
		return eval, nil
	}

	eval.Status = models.RoundStatusFinalized
	s.metrics.RecordRoundTransition(models.RoundStatusCompleted, models.RoundStatusFinalized)
	s.metrics.ObserveRoundEvaluation("finalized", time.Since(start))
	for _, res := range eval.Results {
		s.metrics.RecordAttendanceOutcome(res.Status, res.Reason)
	}
	_ = s.cache.Set(persistCtx, roundResultKey(current.ID), eval, s.cfg.ResultTTL)
	_ = s.cache.Delete(persistCtx, sessionSummaryKey(session.ID))
	_ = s.cache.Invalidate(persistCtx, courseRatePattern(session.CourseID))

	s.logger.Info("round finalized",
		zap.String("session_id", session.ID),
		zap.String("round_id", current.ID),
		zap.Int("enrollments", len(eval.Results)),
		zap.Duration("took", time.Since(start)),
	)
	return eval, nil
}

// runBudget is how long one evaluation may hold its claim before persisting.
func (s *AttendanceCalculationService) runBudget(session *models.Session) time.Duration {
	return s.cfg.ClaimTTL + session.Config.VerificationTimeout()
}

func (s *AttendanceCalculationService) evaluate(ctx context.Context, session *models.Session, round *models.Round) (*models.RoundEvaluation, error) {
	dir, err := s.directory.Resolve(ctx, session)
	if err != nil {
		return nil, err
	}
	graph, err := s.graphs.Build(ctx, session, round, dir)
	if err != nil {
		return nil, err
	}
	enrollments, err := s.enrollments.ListByClassSection(ctx, session.ClassSectionID, session.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}

	faceRequired := session.Config.BiometricPolicy.Requires(round.RoundNumber, session.Config.TotalAttendanceRounds)
	results := make([]*models.AttendanceCalculationResult, len(enrollments))
	var (
		failures  []models.EvaluationFailure
		needsFace []int
	)
	for i, enrollment := range enrollments {
		res, err := judgeProximity(session, dir, graph, enrollment, faceRequired)
		if err != nil {
			s.logger.Error("enrollment evaluation failed",
				zap.String("round_id", round.ID),
				zap.String("enrollment_id", enrollment.ID),
				zap.Error(err),
			)
			failures = append(failures, models.EvaluationFailure{EnrollmentID: enrollment.ID, StudentID: enrollment.StudentID, Error: err.Error()})
			continue
		}
		results[i] = res
		if res.Status == "" {
			needsFace = append(needsFace, i)
		}
	}
	if len(needsFace) > 0 {
		s.verifyFaces(ctx, session, round, enrollments, results, needsFace)
	}

	eval := &models.RoundEvaluation{
		SessionID:   session.ID,
		RoundID:     round.ID,
		RoundNumber: round.RoundNumber,
		Status:      models.RoundStatusCompleted,
		Results:     make([]models.AttendanceCalculationResult, 0, len(enrollments)),
	}
	for _, res := range results {
		if res != nil {
			eval.Results = append(eval.Results, *res)
		}
	}
	sort.Slice(eval.Results, func(i, j int) bool { return eval.Results[i].EnrollmentID < eval.Results[j].EnrollmentID })
	sort.Slice(failures, func(i, j int) bool { return failures[i].EnrollmentID < failures[j].EnrollmentID })
	eval.Failures = failures
	return eval, nil
}

// judgeProximity settles an enrollment from the graph alone. A proximity-confirmed result that
// still needs face verification is returned with an empty status.
func judgeProximity(
	session *models.Session,
	dir *models.ParticipantDirectory,
	graph *ProximityGraph,
	enrollment models.Enrollment,
	faceRequired bool,
) (*models.AttendanceCalculationResult, error) {
	if enrollment.ID == "" || enrollment.StudentID == "" {
		return nil, fmt.Errorf("enrollment %q is missing student data", enrollment.ID)
	}
	res := &models.AttendanceCalculationResult{
		EnrollmentID: enrollment.ID,
		StudentID:    enrollment.StudentID,
		FaceRequired: faceRequired,
	}

	participant, ok := dir.DeviceForUser(enrollment.StudentID)
	if !ok {
		markAbsent(res, models.ReasonNoDevice)
		return res, nil
	}
	res.DeviceID = participant.DeviceID

	hops, reachable := graph.HopsToAnchor(participant.DeviceID, session.Config.MaxHops)
	if !reachable {
		if graph.Isolated(participant.DeviceID) {
			markAbsent(res, models.ReasonIsolated)
		} else {
			markAbsent(res, models.ReasonNoAnchorProximity)
		}
		return res, nil
	}
	res.ProximityConfirmed = true
	res.Hops = hops

	if !faceRequired {
		res.Status = models.RecordStatusPresent
		res.Present = true
	}
	return res, nil
}

// verifyFaces opens one request per student with a shared expiry, then waits for all of them
// together so the round never takes longer than a single verification timeout.
func (s *AttendanceCalculationService) verifyFaces(
	ctx context.Context,
	session *models.Session,
	round *models.Round,
	enrollments []models.Enrollment,
	results []*models.AttendanceCalculationResult,
	pending []int,
) {
	expiresAt := s.now().UTC().Add(session.Config.VerificationTimeout())
	requests := make([]*models.FaceVerifyRequest, len(results))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, i := range pending {
		i := i
		g.Go(func() error {
			req, err := s.faceID.CreateVerifyRequest(gctx, dto.CreateVerifyRequest{
				TargetUserID: enrollments[i].StudentID,
				SessionID:    session.ID,
				RoundID:      round.ID,
				GroupID:      round.ID,
				Threshold:    session.Config.FaceIDThreshold,
				ExpiresAt:    expiresAt,
			})
			if err != nil {
				s.logger.Warn("face verify request failed, deferring to review",
					zap.String("enrollment_id", enrollments[i].ID),
					zap.Error(err),
				)
				markPendingReview(results[i])
				return nil
			}
			requests[i] = req
			return nil
		})
	}
	_ = g.Wait()

	var wg sync.WaitGroup
	for _, i := range pending {
		if requests[i] == nil {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			applyVerifyOutcome(results[i], s.faceID.Await(ctx, requests[i].ID, requests[i].ExpiresAt))
		}(i)
	}
	wg.Wait()
}

func applyVerifyOutcome(res *models.AttendanceCalculationResult, outcome models.VerifyOutcome) {
	res.FaceSimilarity = outcome.Similarity
	switch outcome.Status {
	case models.VerifyStatusMatched:
		res.FaceVerified = true
		res.Status = models.RecordStatusPresent
		res.Present = true
	case models.VerifyStatusUnmatched:
		markAbsent(res, models.ReasonFaceMismatch)
	default:
		markPendingReview(res)
	}
}

func (s *AttendanceCalculationService) finalizedResult(ctx context.Context, session *models.Session, round *models.Round) (*models.RoundEvaluation, error) {
	var cached models.RoundEvaluation
	if hit, _ := s.cache.Get(ctx, roundResultKey(round.ID), &cached); hit {
		return &cached, nil
	}
	records, err := s.records.ListLatestByRound(ctx, round.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance records")
	}
	eval := &models.RoundEvaluation{
		SessionID:   session.ID,
		RoundID:     round.ID,
		RoundNumber: round.RoundNumber,
		Status:      models.RoundStatusFinalized,
		Results:     make([]models.AttendanceCalculationResult, 0, len(records)),
	}
	if round.FinalizedAt != nil {
		eval.EvaluatedAt = *round.FinalizedAt
	}
	for i := range records {
		eval.Results = append(eval.Results, records[i].Result())
	}
	sort.Slice(eval.Results, func(i, j int) bool { return eval.Results[i].EnrollmentID < eval.Results[j].EnrollmentID })
	_ = s.cache.Set(ctx, roundResultKey(round.ID), eval, s.cfg.ResultTTL)
	return eval, nil
}

func markAbsent(res *models.AttendanceCalculationResult, reason models.AbsenceReason) {
	res.Status = models.RecordStatusAbsent
	res.Present = false
	res.Reason = reason
}

func markPendingReview(res *models.AttendanceCalculationResult) {
	res.Status = models.RecordStatusPendingReview
	res.Present = false
	res.PendingReview = true
	res.Reason = models.ReasonPendingManualReview
}

func recordFromResult(sessionID, roundID string, res models.AttendanceCalculationResult) models.AttendanceRecord {
	return models.AttendanceRecord{
		EnrollmentID:       res.EnrollmentID,
		StudentID:          res.StudentID,
		SessionID:          sessionID,
		RoundID:            roundID,
		DeviceID:           res.DeviceID,
		Status:             res.Status,
		Present:            res.Present,
		Reason:             res.Reason,
		ProximityConfirmed: res.ProximityConfirmed,
		Hops:               res.Hops,
		FaceRequired:       res.FaceRequired,
		FaceVerified:       res.FaceVerified,
		FaceSimilarity:     res.FaceSimilarity,
		PendingReview:      res.PendingReview,
	}
}

func notFoundOrInternal(err error, resource string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, resource+" not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load "+resource)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
