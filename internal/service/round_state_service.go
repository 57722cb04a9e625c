package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

type roundStore interface {
	FindByID(ctx context.Context, id string) (*models.Round, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.Round, error)
	ListDue(ctx context.Context, now time.Time) ([]models.Round, error)
	CompareAndSetStatus(ctx context.Context, id string, from, to models.RoundStatus, now time.Time) (bool, error)
}

type sessionStatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, status models.SessionStatus, from ...models.SessionStatus) (bool, error)
}

type verifyGroupCanceller interface {
	CancelVerifyRequestsByGroup(ctx context.Context, groupID string) (int, error)
	ExpireDue(ctx context.Context) (int, error)
}

// CompletedHook is invoked for every round that reached Completed during a tick.
type CompletedHook func(ctx context.Context, round models.Round)

// TickResult lists the rounds moved by one tick.
type TickResult struct {
	Activated []string `json:"activated"`
	Completed []string `json:"completed"`
	Expired   int      `json:"expired_verifications"`
}

// RoundStateService drives round lifecycle transitions with compare-and-swap writes.
type RoundStateService struct {
	rounds      roundStore
	sessions    sessionStatusUpdater
	faceID      verifyGroupCanceller
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
	onCompleted CompletedHook
}

// NewRoundStateService constructs the service.
func NewRoundStateService(rounds roundStore, sessions sessionStatusUpdater, faceID verifyGroupCanceller, metrics *MetricsService, logger *zap.Logger) *RoundStateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoundStateService{rounds: rounds, sessions: sessions, faceID: faceID, metrics: metrics, logger: logger, now: time.Now}
}

// OnCompleted registers a hook fired after a round completes.
func (s *RoundStateService) OnCompleted(hook CompletedHook) {
	s.onCompleted = hook
}

// Transition moves a round to next. Re-applying a transition that already happened is a no-op.
func (s *RoundStateService) Transition(ctx context.Context, round *models.Round, next models.RoundStatus) error {
	if round.Status == next {
		return nil
	}
	if !round.Status.CanTransitionTo(next) {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "round cannot move from "+string(round.Status)+" to "+string(next))
	}
	now := s.now().UTC()
	ok, err := s.rounds.CompareAndSetStatus(ctx, round.ID, round.Status, next, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update round status")
	}
	if !ok {
		current, err := s.rounds.FindByID(ctx, round.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload round")
		}
		if current.Status == next {
			*round = *current
			return nil
		}
		return appErrors.Clone(appErrors.ErrConflict, "round status changed concurrently to "+string(current.Status))
	}

	s.metrics.RecordRoundTransition(round.Status, next)
	s.logger.Info("round transitioned",
		zap.String("round_id", round.ID),
		zap.String("session_id", round.SessionID),
		zap.String("from", string(round.Status)),
		zap.String("to", string(next)),
	)
	round.Status = next
	round.UpdatedAt = now
	if next == models.RoundStatusFinalized {
		round.FinalizedAt = &now
	}
	return nil
}

// Tick applies time-based transitions due at now and expires overdue verification requests.
func (s *RoundStateService) Tick(ctx context.Context) (*TickResult, error) {
	now := s.now().UTC()
	due, err := s.rounds.ListDue(ctx, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due rounds")
	}

	result := &TickResult{}
	for i := range due {
		round := due[i]
		if round.Status == models.RoundStatusPending && !now.Before(round.StartTime) {
			if err := s.Transition(ctx, &round, models.RoundStatusActive); err != nil {
				s.logger.Warn("activate round failed", zap.String("round_id", round.ID), zap.Error(err))
				continue
			}
			result.Activated = append(result.Activated, round.ID)
			s.markSession(ctx, round.SessionID, models.SessionStatusActive, models.SessionStatusPending)
		}
		if round.Status == models.RoundStatusActive && !now.Before(round.EndTime) {
			if err := s.Transition(ctx, &round, models.RoundStatusCompleted); err != nil {
				s.logger.Warn("complete round failed", zap.String("round_id", round.ID), zap.Error(err))
				continue
			}
			result.Completed = append(result.Completed, round.ID)
			s.completeSessionIfDone(ctx, round.SessionID)
			if s.onCompleted != nil {
				s.onCompleted(ctx, round)
			}
		}
	}

	if s.faceID != nil {
		expired, err := s.faceID.ExpireDue(ctx)
		if err != nil {
			s.logger.Warn("expire verifications failed", zap.Error(err))
		}
		result.Expired = expired
	}
	return result, nil
}

// Run ticks every interval until ctx is cancelled.
func (s *RoundStateService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("round tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Cancel irreversibly cancels a pending or active round and its face verification group.
func (s *RoundStateService) Cancel(ctx context.Context, roundID string) (*models.Round, error) {
	round, err := s.rounds.FindByID(ctx, roundID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "round not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load round")
	}
	if round.Status != models.RoundStatusCancelled && !round.Status.CanTransitionTo(models.RoundStatusCancelled) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "round can only be cancelled while pending or active")
	}
	if err := s.Transition(ctx, round, models.RoundStatusCancelled); err != nil {
		return nil, err
	}
	if s.faceID != nil {
		if _, err := s.faceID.CancelVerifyRequestsByGroup(ctx, round.ID); err != nil {
			s.logger.Warn("cancel round verifications failed", zap.String("round_id", round.ID), zap.Error(err))
		}
	}
	s.completeSessionIfDone(ctx, round.SessionID)
	return round, nil
}

func (s *RoundStateService) markSession(ctx context.Context, sessionID string, status models.SessionStatus, from ...models.SessionStatus) {
	if s.sessions == nil {
		return
	}
	if _, err := s.sessions.UpdateStatus(ctx, sessionID, status, from...); err != nil {
		s.logger.Warn("session status update failed", zap.String("session_id", sessionID), zap.String("status", string(status)), zap.Error(err))
	}
}

func (s *RoundStateService) completeSessionIfDone(ctx context.Context, sessionID string) {
	rounds, err := s.rounds.ListBySession(ctx, sessionID)
	if err != nil {
		s.logger.Warn("list session rounds failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	for _, r := range rounds {
		switch r.Status {
		case models.RoundStatusPending, models.RoundStatusActive:
			return
		case models.RoundStatusCompleted, models.RoundStatusFinalized, models.RoundStatusCancelled:
		}
	}
	s.markSession(ctx, sessionID, models.SessionStatusCompleted, models.SessionStatusPending, models.SessionStatusActive)
}
