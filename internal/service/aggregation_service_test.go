package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

type aggFixture struct {
	sessions *memSessionStore
	rounds   *memRoundStore
	records  *memRecordStore
	svc      *AggregationService
	day      int
}

func newAggFixture() *aggFixture {
	f := &aggFixture{sessions: newMemSessionStore(), rounds: newMemRoundStore()}
	f.records = &memRecordStore{rounds: f.rounds, sessions: f.sessions}
	enrollments := &memEnrollmentStore{enrollments: []models.Enrollment{
		{ID: "enr-alice", StudentID: "alice", ClassSectionID: "sec-1", CourseID: "course-1"},
	}}
	f.svc = NewAggregationService(enrollments, f.sessions, f.rounds, f.records, newMemCache(), AggregationConfig{}, nil)
	return f
}

type roundPlan struct {
	status  models.RoundStatus
	present *bool
}

func finalized(present bool) roundPlan {
	return roundPlan{status: models.RoundStatusFinalized, present: boolPtr(present)}
}

func (f *aggFixture) addSession(id string, status models.SessionStatus, passFraction float64, plans ...roundPlan) {
	f.day++
	cfg := defaultSnapshot()
	cfg.SessionPassFraction = passFraction
	start := fixtureStart.AddDate(0, 0, f.day)
	f.sessions.sessions[id] = &models.Session{
		ID: id, CourseID: "course-1", ClassSectionID: "sec-1", Status: status,
		StartTime: start, EndTime: start.Add(time.Hour), Config: cfg,
	}
	for i, plan := range plans {
		roundID := fmt.Sprintf("%s-r%d", id, i+1)
		f.rounds.rounds[roundID] = &models.Round{ID: roundID, SessionID: id, RoundNumber: i + 1, Status: plan.status}
		if plan.present != nil {
			f.records.records = append(f.records.records, models.AttendanceRecord{
				EnrollmentID: "enr-alice", StudentID: "alice", SessionID: id, RoundID: roundID,
				Version: 1, Present: *plan.present,
			})
		}
	}
}

func TestComputeAttendanceRateCountsOnlySettledSessions(t *testing.T) {
	f := newAggFixture()
	f.addSession("s1", models.SessionStatusCompleted, 0.75, finalized(true), finalized(true), finalized(true), finalized(false))
	f.addSession("s2", models.SessionStatusCompleted, 0.75, finalized(true), finalized(false), roundPlan{status: models.RoundStatusCancelled})
	f.addSession("s3", models.SessionStatusActive, 0.75, finalized(true), roundPlan{status: models.RoundStatusActive})
	f.addSession("s4", models.SessionStatusCompleted, 0.75, roundPlan{status: models.RoundStatusCancelled}, roundPlan{status: models.RoundStatusCancelled})
	f.addSession("s5", models.SessionStatusCancelled, 0.75, finalized(true))
	f.addSession("s6", models.SessionStatusCompleted, 0.5, finalized(true), finalized(false))
	f.addSession("s7", models.SessionStatusCompleted, 0.75, finalized(false))
	f.addSession("s8", models.SessionStatusCompleted, 0.75, roundPlan{status: models.RoundStatusCompleted})

	f.records.records = append(f.records.records, models.AttendanceRecord{
		EnrollmentID: "enr-alice", StudentID: "alice", SessionID: "s7", RoundID: "s7-r1",
		Version: 2, Present: true, IsManual: true,
	})

	rate, err := f.svc.ComputeAttendanceRate(context.Background(), "alice", "course-1")
	require.NoError(t, err)
	assert.Equal(t, 4, rate.TotalSessions)
	assert.Equal(t, 3, rate.AttendedSessions)
	assert.InDelta(t, 75.0, rate.Rate, 1e-9)
	assert.Equal(t, models.AbsenceStatusWarning, rate.AbsenceStatus)
}

func TestComputeAttendanceRateCachesAndReportsNoData(t *testing.T) {
	f := newAggFixture()
	f.addSession("s1", models.SessionStatusActive, 0.75, roundPlan{status: models.RoundStatusActive})

	rate, err := f.svc.ComputeAttendanceRate(context.Background(), "alice", "course-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rate.TotalSessions)
	assert.Equal(t, 0.0, rate.Rate)
	assert.Equal(t, models.AbsenceStatusNoData, rate.AbsenceStatus)

	f.addSession("s2", models.SessionStatusCompleted, 0.75, finalized(true))
	cached, err := f.svc.ComputeAttendanceRate(context.Background(), "alice", "course-1")
	require.NoError(t, err)
	assert.Equal(t, 0, cached.TotalSessions, "served from cache until invalidated")

	require.NoError(t, f.svc.cache.Invalidate(context.Background(), courseRatePattern("course-1")))
	fresh, err := f.svc.ComputeAttendanceRate(context.Background(), "alice", "course-1")
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.TotalSessions)
	assert.InDelta(t, 100.0, fresh.Rate, 1e-9)
	assert.Equal(t, models.AbsenceStatusNormal, fresh.AbsenceStatus)
}

func TestComputeAttendanceRateUnknownEnrollment(t *testing.T) {
	f := newAggFixture()
	_, err := f.svc.ComputeAttendanceRate(context.Background(), "mallory", "course-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.ComputeAttendanceRate(context.Background(), "", "course-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSessionSummary(t *testing.T) {
	f := newAggFixture()
	f.addSession("s1", models.SessionStatusCompleted, 0.75, finalized(true), finalized(true), finalized(true), roundPlan{status: models.RoundStatusCancelled})

	summary, err := f.svc.SessionSummary(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, summary.Settled)
	assert.Equal(t, 4, summary.TotalRounds)
	assert.Equal(t, 3, summary.FinalizedRounds)
	assert.Equal(t, 1, summary.CancelledRounds)
	require.Len(t, summary.Students, 1)
	assert.Equal(t, 3, summary.Students[0].PresentRounds)
	assert.True(t, summary.Students[0].Attended)

	_, err = f.svc.SessionSummary(context.Background(), "missing")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestRoundHalfEven(t *testing.T) {
	cases := map[float64]float64{
		0.25:        0.2,
		0.75:        0.8,
		12.25:       12.2,
		200.0 / 3.0: 66.7,
		100.0 / 6.0: 16.7,
	}
	for in, want := range cases {
		assert.InDelta(t, want, roundHalfEven(in), 1e-9, "input %v", in)
	}
	assert.InDelta(t, 66.7, attendanceRate(2, 3), 1e-9)
	assert.Equal(t, 0.0, attendanceRate(0, 0))
}

func TestClassifyAbsence(t *testing.T) {
	assert.Equal(t, models.AbsenceStatusNoData, classifyAbsence(0, 0, 80))
	assert.Equal(t, models.AbsenceStatusNormal, classifyAbsence(80, 5, 80))
	assert.Equal(t, models.AbsenceStatusWarning, classifyAbsence(79.9, 5, 80))
	assert.Equal(t, models.AbsenceStatusWarning, classifyAbsence(40.1, 5, 80))
	assert.Equal(t, models.AbsenceStatusCritical, classifyAbsence(40, 5, 80))
	assert.Equal(t, models.AbsenceStatusCritical, classifyAbsence(0, 5, 80))
}

func TestComputeAttendanceIgnoresUnknownSessions(t *testing.T) {
	outcomes := []models.RoundOutcome{
		{SessionID: "a", RoundID: "a1", RoundStatus: models.RoundStatusFinalized, Present: boolPtr(true)},
		{SessionID: "a", RoundID: "a2", RoundStatus: models.RoundStatusFinalized},
		{SessionID: "b", RoundID: "b1", RoundStatus: models.RoundStatusFinalized, Present: boolPtr(true)},
	}
	attended, total := computeAttendance(outcomes, map[string]float64{"a": 0.5})
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, attended)

	attended, total = computeAttendance(outcomes, map[string]float64{"a": 1})
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, attended)
}
