package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-engine/internal/dto"
	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

type reviewSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type reviewRoundReader interface {
	FindByID(ctx context.Context, id string) (*models.Round, error)
}

type reviewEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

type recordVersionStore interface {
	FindLatest(ctx context.Context, enrollmentID, roundID string) (*models.AttendanceRecord, error)
	AppendVersion(ctx context.Context, record *models.AttendanceRecord) error
}

type errorReportStore interface {
	Create(ctx context.Context, report *models.ErrorReport) error
}

// ReviewService handles corrections after evaluation: lecturer adjustments and student disputes.
type ReviewService struct {
	sessions    reviewSessionReader
	rounds      reviewRoundReader
	enrollments reviewEnrollmentReader
	records     recordVersionStore
	reports     errorReportStore
	cache       *CacheService
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewReviewService constructs the service.
func NewReviewService(
	sessions reviewSessionReader,
	rounds reviewRoundReader,
	enrollments reviewEnrollmentReader,
	records recordVersionStore,
	reports errorReportStore,
	cache *CacheService,
	validate *validator.Validate,
	logger *zap.Logger,
) *ReviewService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewService{
		sessions:    sessions,
		rounds:      rounds,
		enrollments: enrollments,
		records:     records,
		reports:     reports,
		cache:       cache,
		validator:   validate,
		logger:      logger,
		now:         time.Now,
	}
}

// AdjustAttendance appends a manual version of a finalized record. History is never rewritten.
func (s *ReviewService) AdjustAttendance(ctx context.Context, req dto.AdjustAttendanceRequest, adjustedBy string) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid adjustment payload")
	}
	round, err := s.rounds.FindByID(ctx, req.RoundID)
	if err != nil {
		return nil, notFoundOrInternal(err, "round")
	}
	if round.Status != models.RoundStatusFinalized {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "only finalized rounds can be adjusted")
	}
	session, err := s.sessions.FindByID(ctx, round.SessionID)
	if err != nil {
		return nil, notFoundOrInternal(err, "session")
	}
	now := s.now().UTC()
	if now.After(session.AdjustmentDeadline()) {
		return nil, appErrors.Clone(appErrors.ErrGracePeriodExpired, "manual adjustment grace period has expired")
	}
	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		return nil, notFoundOrInternal(err, "enrollment")
	}
	if enrollment.ClassSectionID != session.ClassSectionID || enrollment.CourseID != session.CourseID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment does not belong to the session")
	}

	record := &models.AttendanceRecord{
		EnrollmentID: enrollment.ID,
		StudentID:    enrollment.StudentID,
		SessionID:    session.ID,
		RoundID:      round.ID,
		Present:      *req.Present,
		Reason:       models.ReasonManualAdjustment,
		IsManual:     true,
		AdjustedBy:   &adjustedBy,
		CreatedAt:    now,
	}
	if record.Present {
		record.Status = models.RecordStatusPresent
	} else {
		record.Status = models.RecordStatusAbsent
	}
	if previous, err := s.records.FindLatest(ctx, enrollment.ID, round.ID); err == nil {
		record.DeviceID = previous.DeviceID
		record.ProximityConfirmed = previous.ProximityConfirmed
		record.Hops = previous.Hops
		record.FaceRequired = previous.FaceRequired
		record.FaceVerified = previous.FaceVerified
		record.FaceSimilarity = previous.FaceSimilarity
	}
	if req.Note != "" {
		note := req.Note
		record.Note = &note
	}
	if err := s.records.AppendVersion(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store adjustment")
	}

	_ = s.cache.Delete(ctx, roundResultKey(round.ID), sessionSummaryKey(session.ID), attendanceRateKey(enrollment.StudentID, session.CourseID))
	s.logger.Info("attendance adjusted",
		zap.String("round_id", round.ID),
		zap.String("enrollment_id", enrollment.ID),
		zap.Bool("present", record.Present),
		zap.Int("version", record.Version),
		zap.String("adjusted_by", adjustedBy),
	)
	return record, nil
}

// SubmitErrorReport files a dispute while the session's report grace period is open.
func (s *ReviewService) SubmitErrorReport(ctx context.Context, req dto.ErrorReportRequest, studentID string) (*models.ErrorReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid error report payload")
	}
	session, err := s.sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		return nil, notFoundOrInternal(err, "session")
	}
	now := s.now().UTC()
	if now.After(session.ReportDeadline()) {
		return nil, appErrors.Clone(appErrors.ErrGracePeriodExpired, "absence report grace period has expired")
	}

	report := &models.ErrorReport{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		SessionID:   session.ID,
		Description: req.Description,
		Status:      models.ErrorReportStatusPending,
		CreatedAt:   now,
	}
	if req.RoundID != "" {
		round, err := s.rounds.FindByID(ctx, req.RoundID)
		if err != nil {
			return nil, notFoundOrInternal(err, "round")
		}
		if round.SessionID != session.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "round does not belong to the session")
		}
		roundID := round.ID
		report.RoundID = &roundID
	}
	if err := s.reports.Create(ctx, report); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store error report")
	}
	s.logger.Info("error report submitted", zap.String("report_id", report.ID), zap.String("session_id", session.ID))
	return report, nil
}
