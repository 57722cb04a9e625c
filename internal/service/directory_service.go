package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

type enrollmentLister interface {
	ListByClassSection(ctx context.Context, classSectionID, courseID string) ([]models.Enrollment, error)
}

type activeDeviceLister interface {
	ListActiveByUsers(ctx context.Context, userIDs []string) ([]models.Device, error)
}

// DirectoryService resolves the whitelist of devices taking part in a session.
type DirectoryService struct {
	enrollments enrollmentLister
	devices     activeDeviceLister
	cache       *CacheService
	ttl         time.Duration
	logger      *zap.Logger
}

// NewDirectoryService constructs the service.
func NewDirectoryService(enrollments enrollmentLister, devices activeDeviceLister, cache *CacheService, ttl time.Duration, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{enrollments: enrollments, devices: devices, cache: cache, ttl: ttl, logger: logger}
}

// Resolve returns the enrolled students' devices plus the lecturer's device as anchor.
func (s *DirectoryService) Resolve(ctx context.Context, session *models.Session) (*models.ParticipantDirectory, error) {
	key := sessionWhitelistKey(session.ID)
	var cached models.ParticipantDirectory
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	enrollments, err := s.enrollments.ListByClassSection(ctx, session.ClassSectionID, session.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	userIDs := make([]string, 0, len(enrollments)+1)
	userIDs = append(userIDs, session.LecturerID)
	for _, e := range enrollments {
		userIDs = append(userIDs, e.StudentID)
	}
	devices, err := s.devices.ListActiveByUsers(ctx, userIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load devices")
	}

	dir := &models.ParticipantDirectory{SessionID: session.ID}
	for _, d := range devices {
		role := models.ParticipantStudent
		if d.UserID == session.LecturerID {
			role = models.ParticipantAnchor
			dir.AnchorDeviceID = d.ID
		}
		dir.Participants = append(dir.Participants, models.Participant{
			UserID:     d.UserID,
			DeviceID:   d.ID,
			MacAddress: d.MacAddress,
			Role:       role,
		})
	}
	if dir.AnchorDeviceID == "" {
		s.logger.Warn("session has no anchor device", zap.String("session_id", session.ID), zap.String("lecturer_id", session.LecturerID))
	}

	_ = s.cache.Set(ctx, key, dir, s.ttl)
	return dir, nil
}
