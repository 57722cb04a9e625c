package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

type enrollmentFinder interface {
	FindByStudentCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error)
}

type courseSessionLister interface {
	ListByClassSection(ctx context.Context, classSectionID, courseID string) ([]models.Session, error)
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type outcomeReader interface {
	ListOutcomes(ctx context.Context, enrollment models.Enrollment) ([]models.RoundOutcome, error)
	ListLatestBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
}

type sessionRoundLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.Round, error)
}

// AggregationConfig holds aggregation policy fallbacks.
type AggregationConfig struct {
	SessionPassFraction     float64
	AbsenceWarningThreshold float64
	RateTTL                 time.Duration
	SummaryTTL              time.Duration
}

// AggregationService rolls finalized round outcomes up into session and course statistics.
type AggregationService struct {
	enrollments enrollmentFinder
	sessions    courseSessionLister
	rounds      sessionRoundLister
	records     outcomeReader
	cache       *CacheService
	cfg         AggregationConfig
	logger      *zap.Logger
}

// NewAggregationService constructs the service.
func NewAggregationService(enrollments enrollmentFinder, sessions courseSessionLister, rounds sessionRoundLister, records outcomeReader, cache *CacheService, cfg AggregationConfig, logger *zap.Logger) *AggregationService {
	if cfg.SessionPassFraction <= 0 || cfg.SessionPassFraction > 1 {
		cfg.SessionPassFraction = 0.75
	}
	if cfg.AbsenceWarningThreshold <= 0 {
		cfg.AbsenceWarningThreshold = 80
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggregationService{
		enrollments: enrollments,
		sessions:    sessions,
		rounds:      rounds,
		records:     records,
		cache:       cache,
		cfg:         cfg,
		logger:      logger,
	}
}

// ComputeAttendanceRate returns the attended/total sessions of a student in a course. Sessions
// with rounds still in progress are left out of both counts.
func (s *AggregationService) ComputeAttendanceRate(ctx context.Context, studentID, courseID string) (*models.AttendanceRate, error) {
	if studentID == "" || courseID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "studentId and courseId are required")
	}
	key := attendanceRateKey(studentID, courseID)
	var cached models.AttendanceRate
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	enrollment, err := s.enrollments.FindByStudentCourse(ctx, studentID, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	sessions, err := s.sessions.ListByClassSection(ctx, enrollment.ClassSectionID, enrollment.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sessions")
	}
	outcomes, err := s.records.ListOutcomes(ctx, *enrollment)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load round outcomes")
	}

	fractions := make(map[string]float64, len(sessions))
	for _, session := range sessions {
		if session.Status == models.SessionStatusCancelled {
			continue
		}
		fractions[session.ID] = s.passFraction(session.Config)
	}

	attended, total := computeAttendance(outcomes, fractions)
	rate := attendanceRate(attended, total)
	result := &models.AttendanceRate{
		StudentID:        studentID,
		CourseID:         courseID,
		AttendedSessions: attended,
		TotalSessions:    total,
		Rate:             rate,
		AbsenceStatus:    classifyAbsence(rate, total, s.cfg.AbsenceWarningThreshold),
	}
	_ = s.cache.Set(ctx, key, result, s.cfg.RateTTL)
	return result, nil
}

// SessionSummary rolls the latest records of a session up per student.
func (s *AggregationService) SessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	key := sessionSummaryKey(sessionID)
	var cached models.SessionSummary
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, notFoundOrInternal(err, "session")
	}
	rounds, err := s.rounds.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rounds")
	}
	records, err := s.records.ListLatestBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance records")
	}

	summary := &models.SessionSummary{
		SessionID:   session.ID,
		Status:      session.Status,
		TotalRounds: len(rounds),
		Students:    []models.StudentSessionSummary{},
	}
	finalized := make(map[string]bool, len(rounds))
	for _, round := range rounds {
		switch round.Status {
		case models.RoundStatusFinalized:
			summary.FinalizedRounds++
			finalized[round.ID] = true
		case models.RoundStatusCancelled:
			summary.CancelledRounds++
		case models.RoundStatusPending, models.RoundStatusActive, models.RoundStatusCompleted:
		}
	}
	summary.Settled = len(rounds) > 0 && summary.FinalizedRounds > 0 &&
		summary.FinalizedRounds+summary.CancelledRounds == len(rounds)

	byEnrollment := make(map[string]*models.StudentSessionSummary)
	for _, record := range records {
		if !finalized[record.RoundID] {
			continue
		}
		entry, ok := byEnrollment[record.EnrollmentID]
		if !ok {
			entry = &models.StudentSessionSummary{EnrollmentID: record.EnrollmentID, StudentID: record.StudentID}
			byEnrollment[record.EnrollmentID] = entry
		}
		entry.FinalizedRounds++
		if record.Present {
			entry.PresentRounds++
		}
		if record.PendingReview {
			entry.PendingReview++
		}
	}

	fraction := s.passFraction(session.Config)
	for _, entry := range byEnrollment {
		entry.Attended = sessionAttended(entry.PresentRounds, summary.FinalizedRounds, fraction)
		summary.Students = append(summary.Students, *entry)
	}
	sort.Slice(summary.Students, func(i, j int) bool {
		return summary.Students[i].StudentID < summary.Students[j].StudentID
	})

	if summary.Settled {
		_ = s.cache.Set(ctx, key, summary, s.cfg.SummaryTTL)
	}
	return summary, nil
}

func (s *AggregationService) passFraction(cfg models.SessionConfigSnapshot) float64 {
	if cfg.SessionPassFraction > 0 && cfg.SessionPassFraction <= 1 {
		return cfg.SessionPassFraction
	}
	return s.cfg.SessionPassFraction
}

const passEpsilon = 1e-9

type sessionTally struct {
	finalized int
	cancelled int
	open      int
	present   int
}

// computeAttendance counts settled sessions and how many of them were attended. Outcomes of
// sessions missing from fractions are ignored.
func computeAttendance(outcomes []models.RoundOutcome, fractions map[string]float64) (attended, total int) {
	tallies := make(map[string]*sessionTally)
	order := make([]string, 0)
	for _, o := range outcomes {
		if _, ok := fractions[o.SessionID]; !ok {
			continue
		}
		t, ok := tallies[o.SessionID]
		if !ok {
			t = &sessionTally{}
			tallies[o.SessionID] = t
			order = append(order, o.SessionID)
		}
		switch o.RoundStatus {
		case models.RoundStatusFinalized:
			t.finalized++
			if o.Present != nil && *o.Present {
				t.present++
			}
		case models.RoundStatusCancelled:
			t.cancelled++
		case models.RoundStatusPending, models.RoundStatusActive, models.RoundStatusCompleted:
			t.open++
		default:
			t.open++
		}
	}

	for _, id := range order {
		t := tallies[id]
		if t.open > 0 || t.finalized == 0 {
			continue
		}
		total++
		if sessionAttended(t.present, t.finalized, fractions[id]) {
			attended++
		}
	}
	return attended, total
}

func sessionAttended(present, finalized int, fraction float64) bool {
	if finalized == 0 {
		return false
	}
	return float64(present)/float64(finalized)+passEpsilon >= fraction
}

func attendanceRate(attended, total int) float64 {
	if total == 0 {
		return 0
	}
	return roundHalfEven(float64(attended) / float64(total) * 100)
}

// roundHalfEven rounds to one decimal place with ties to even.
func roundHalfEven(v float64) float64 {
	return math.RoundToEven(v*10) / 10
}

func classifyAbsence(rate float64, total int, warningThreshold float64) models.AbsenceStatus {
	switch {
	case total == 0:
		return models.AbsenceStatusNoData
	case rate >= warningThreshold:
		return models.AbsenceStatusNormal
	case rate > warningThreshold/2:
		return models.AbsenceStatusWarning
	default:
		return models.AbsenceStatusCritical
	}
}
