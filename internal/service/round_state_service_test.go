package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

func twoRoundSession() (models.Session, []models.Round) {
	session := models.Session{ID: "sess-1", Status: models.SessionStatusPending, StartTime: fixtureStart, EndTime: fixtureStart.Add(20 * time.Minute), Config: defaultSnapshot()}
	rounds := []models.Round{
		{ID: "round-1", SessionID: "sess-1", RoundNumber: 1, StartTime: fixtureStart, EndTime: fixtureStart.Add(10 * time.Minute), Status: models.RoundStatusPending},
		{ID: "round-2", SessionID: "sess-1", RoundNumber: 2, StartTime: fixtureStart.Add(10 * time.Minute), EndTime: fixtureStart.Add(20 * time.Minute), Status: models.RoundStatusPending},
	}
	return session, rounds
}

func TestRoundStateTickDrivesLifecycle(t *testing.T) {
	session, rounds := twoRoundSession()
	sessions := newMemSessionStore(session)
	store := newMemRoundStore(rounds...)
	verify := newMemVerifyStore()
	faceID := NewFaceIDService(verify, nil, FaceIDConfig{}, nil, nil, nil)
	svc := NewRoundStateService(store, sessions, faceID, NewMetricsService(), nil)

	var completed []string
	svc.OnCompleted(func(ctx context.Context, round models.Round) {
		completed = append(completed, round.ID)
	})

	svc.now = fixedClock(fixtureStart.Add(time.Minute))
	res, err := svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"round-1"}, res.Activated)
	assert.Empty(t, res.Completed)
	assert.Equal(t, models.RoundStatusActive, store.status("round-1"))
	current, _ := sessions.FindByID(context.Background(), "sess-1")
	assert.Equal(t, models.SessionStatusActive, current.Status)

	svc.now = fixedClock(fixtureStart.Add(12 * time.Minute))
	res, err = svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"round-2"}, res.Activated)
	assert.Equal(t, []string{"round-1"}, res.Completed)
	assert.Equal(t, []string{"round-1"}, completed)

	svc.now = fixedClock(fixtureStart.Add(25 * time.Minute))
	_, err = svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusCompleted, store.status("round-2"))
	current, _ = sessions.FindByID(context.Background(), "sess-1")
	assert.Equal(t, models.SessionStatusCompleted, current.Status)
	assert.Equal(t, []string{"round-1", "round-2"}, completed)
}

func TestRoundStateTickCatchesUpMissedRound(t *testing.T) {
	session, rounds := twoRoundSession()
	store := newMemRoundStore(rounds[0])
	svc := NewRoundStateService(store, newMemSessionStore(session), nil, nil, nil)
	svc.now = fixedClock(fixtureStart.Add(15 * time.Minute))

	res, err := svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"round-1"}, res.Activated)
	assert.Equal(t, []string{"round-1"}, res.Completed)
	assert.Equal(t, models.RoundStatusCompleted, store.status("round-1"))
}

func TestRoundStateTickExpiresVerifications(t *testing.T) {
	verify := newMemVerifyStore()
	require.NoError(t, verify.Create(context.Background(), &models.FaceVerifyRequest{GroupID: "round-1", ExpiresAt: fixtureStart}))
	faceID := NewFaceIDService(verify, nil, FaceIDConfig{}, nil, nil, nil)
	faceID.now = fixedClock(fixtureStart.Add(time.Second))

	svc := NewRoundStateService(newMemRoundStore(), newMemSessionStore(), faceID, nil, nil)
	svc.now = fixedClock(fixtureStart.Add(time.Second))
	res, err := svc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)
}

func TestRoundStateTransitionRules(t *testing.T) {
	store := newMemRoundStore(models.Round{ID: "round-1", SessionID: "sess-1", Status: models.RoundStatusCompleted})
	svc := NewRoundStateService(store, nil, nil, nil, nil)
	round, _ := store.FindByID(context.Background(), "round-1")

	err := svc.Transition(context.Background(), round, models.RoundStatusActive)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))

	require.NoError(t, svc.Transition(context.Background(), round, models.RoundStatusFinalized))
	require.NotNil(t, round.FinalizedAt)
	require.NoError(t, svc.Transition(context.Background(), round, models.RoundStatusFinalized))

	stale := &models.Round{ID: "round-1", SessionID: "sess-1", Status: models.RoundStatusCompleted}
	require.NoError(t, svc.Transition(context.Background(), stale, models.RoundStatusFinalized))
	assert.Equal(t, models.RoundStatusFinalized, stale.Status)
}

func TestRoundStateTransitionConflict(t *testing.T) {
	store := newMemRoundStore(models.Round{ID: "round-1", SessionID: "sess-1", Status: models.RoundStatusCancelled})
	svc := NewRoundStateService(store, nil, nil, nil, nil)

	stale := &models.Round{ID: "round-1", SessionID: "sess-1", Status: models.RoundStatusActive}
	err := svc.Transition(context.Background(), stale, models.RoundStatusCompleted)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestRoundStateCancel(t *testing.T) {
	session, rounds := twoRoundSession()
	rounds[0].Status = models.RoundStatusActive
	rounds[1].Status = models.RoundStatusCompleted
	store := newMemRoundStore(rounds...)
	verify := newMemVerifyStore()
	faceID := NewFaceIDService(verify, nil, FaceIDConfig{}, nil, nil, nil)
	faceID.now = fixedClock(fixtureStart)
	for _, user := range []string{"alice", "bob"} {
		_, err := faceID.CreateVerifyRequest(context.Background(), dtoVerify(user, "round-1", fixtureStart.Add(time.Minute)))
		require.NoError(t, err)
	}
	svc := NewRoundStateService(store, newMemSessionStore(session), faceID, nil, nil)

	round, err := svc.Cancel(context.Background(), "round-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatusCancelled, round.Status)
	assert.Empty(t, verify.pending())

	_, err = svc.Cancel(context.Background(), "round-1")
	require.NoError(t, err, "cancelling twice is a no-op")

	_, err = svc.Cancel(context.Background(), "round-2")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))

	_, err = svc.Cancel(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
