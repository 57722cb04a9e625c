package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/attendance-engine/internal/dto"
	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

type reportStoreStub struct {
	reports []models.ErrorReport
}

func (s *reportStoreStub) Create(ctx context.Context, report *models.ErrorReport) error {
	s.reports = append(s.reports, *report)
	return nil
}

func newReviewFixture(roundStatus models.RoundStatus) (*ReviewService, *memRecordStore, *reportStoreStub) {
	session := models.Session{
		ID: "sess-1", CourseID: "course-1", ClassSectionID: "sec-1", Status: models.SessionStatusCompleted,
		StartTime: fixtureStart, EndTime: fixtureStart.Add(time.Hour), Config: defaultSnapshot(),
	}
	sessions := newMemSessionStore(session)
	rounds := newMemRoundStore(
		models.Round{ID: "round-1", SessionID: "sess-1", RoundNumber: 1, Status: roundStatus},
		models.Round{ID: "round-x", SessionID: "sess-other", RoundNumber: 1, Status: models.RoundStatusFinalized},
	)
	records := &memRecordStore{rounds: rounds, sessions: sessions, records: []models.AttendanceRecord{
		{EnrollmentID: "enr-alice", StudentID: "alice", SessionID: "sess-1", RoundID: "round-1", Version: 1,
			Status: models.RecordStatusAbsent, Reason: models.ReasonIsolated, FaceRequired: true},
	}}
	enrollments := &memEnrollmentStore{enrollments: []models.Enrollment{
		{ID: "enr-alice", StudentID: "alice", ClassSectionID: "sec-1", CourseID: "course-1"},
		{ID: "enr-other", StudentID: "zed", ClassSectionID: "sec-9", CourseID: "course-1"},
	}}
	reports := &reportStoreStub{}
	svc := NewReviewService(sessions, rounds, enrollments, records, reports, newMemCache(), nil, nil)
	svc.now = fixedClock(fixtureStart.Add(2 * time.Hour))
	return svc, records, reports
}

func TestAdjustAttendanceAppendsVersion(t *testing.T) {
	svc, records, _ := newReviewFixture(models.RoundStatusFinalized)

	rec, err := svc.AdjustAttendance(context.Background(), dto.AdjustAttendanceRequest{
		EnrollmentID: "enr-alice", RoundID: "round-1", Present: boolPtr(true), Note: "phone battery died",
	}, "lecturer-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.True(t, rec.IsManual)
	assert.Equal(t, models.RecordStatusPresent, rec.Status)
	assert.Equal(t, models.ReasonManualAdjustment, rec.Reason)
	assert.True(t, rec.FaceRequired)

	latest, err := records.FindLatest(context.Background(), "enr-alice", "round-1")
	require.NoError(t, err)
	assert.True(t, latest.Present)
	assert.Len(t, records.records, 2, "history is preserved")
}

func TestAdjustAttendanceRules(t *testing.T) {
	svc, _, _ := newReviewFixture(models.RoundStatusCompleted)
	req := dto.AdjustAttendanceRequest{EnrollmentID: "enr-alice", RoundID: "round-1", Present: boolPtr(true)}

	_, err := svc.AdjustAttendance(context.Background(), req, "lecturer-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))

	svc, _, _ = newReviewFixture(models.RoundStatusFinalized)
	svc.now = fixedClock(fixtureStart.Add(time.Hour + 169*time.Hour))
	_, err = svc.AdjustAttendance(context.Background(), req, "lecturer-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrGracePeriodExpired))

	svc, _, _ = newReviewFixture(models.RoundStatusFinalized)
	other := req
	other.EnrollmentID = "enr-other"
	_, err = svc.AdjustAttendance(context.Background(), other, "lecturer-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	missing := req
	missing.Present = nil
	_, err = svc.AdjustAttendance(context.Background(), missing, "lecturer-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestSubmitErrorReport(t *testing.T) {
	svc, _, reports := newReviewFixture(models.RoundStatusFinalized)

	report, err := svc.SubmitErrorReport(context.Background(), dto.ErrorReportRequest{
		SessionID: "sess-1", RoundID: "round-1", Description: "I was in the front row",
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ErrorReportStatusPending, report.Status)
	require.NotNil(t, report.RoundID)
	assert.Len(t, reports.reports, 1)

	_, err = svc.SubmitErrorReport(context.Background(), dto.ErrorReportRequest{
		SessionID: "sess-1", RoundID: "round-x", Description: "wrong round",
	}, "alice")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	svc.now = fixedClock(fixtureStart.Add(time.Hour + 73*time.Hour))
	_, err = svc.SubmitErrorReport(context.Background(), dto.ErrorReportRequest{SessionID: "sess-1", Description: "late"}, "alice")
	assert.True(t, appErrors.Is(err, appErrors.ErrGracePeriodExpired))
}
