package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-engine/internal/dto"
	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
	"github.com/noah-isme/attendance-engine/pkg/jobs"
)

// JobTypeScan is the job type carried by scan messages.
const JobTypeScan = "scan"

// Scan ingestion outcomes reported to metrics.
const (
	ScanResultStored    = "stored"
	ScanResultDuplicate = "duplicate"
	ScanResultDropped   = "dropped"
	ScanResultFailed    = "failed"
)

// Data-quality reasons raised at ingestion.
const (
	IssueInvalidMessage = "invalid_message"
	IssueUnknownSession = "unknown_session"
	IssueOutsideRounds  = "outside_rounds"
	IssueSessionClosed  = "session_closed"
	IssueDeviceOwner    = "device_owner_mismatch"
)

type scanPublisher interface {
	Publish(ctx context.Context, body []byte) error
}

type ingestSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type ingestRoundLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.Round, error)
}

type ingestDeviceReader interface {
	FindByID(ctx context.Context, id string) (*models.Device, error)
}

type scanInserter interface {
	Insert(ctx context.Context, scan *models.BluetoothScan) (bool, error)
}

// ScanIngestService accepts device scan reports and stores them against the round they belong to.
type ScanIngestService struct {
	source    scanPublisher
	sessions  ingestSessionReader
	rounds    ingestRoundLister
	devices   ingestDeviceReader
	scans     scanInserter
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewScanIngestService constructs the service.
func NewScanIngestService(source scanPublisher, sessions ingestSessionReader, rounds ingestRoundLister, devices ingestDeviceReader, scans scanInserter, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *ScanIngestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanIngestService{
		source:    source,
		sessions:  sessions,
		rounds:    rounds,
		devices:   devices,
		scans:     scans,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit validates a scan message and publishes it to the inbound queue.
func (s *ScanIngestService) Submit(ctx context.Context, msg dto.ProcessScanDataMessage) (*dto.ScanAccepted, error) {
	if err := s.validator.Struct(msg); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scan payload")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode scan message")
	}
	if err := s.source.Publish(ctx, body); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code, appErrors.ErrServiceUnavailable.Status, "failed to queue scan message")
	}
	return &dto.ScanAccepted{SessionID: msg.SessionID, DeviceID: msg.DeviceID, QueuedAt: s.now().UTC()}, nil
}

// HandleJob is the queue handler for scan messages. Data-quality problems are acked; only
// storage failures are returned for retry.
func (s *ScanIngestService) HandleJob(ctx context.Context, job jobs.Job) error {
	var msg dto.ProcessScanDataMessage
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		s.dropped(IssueInvalidMessage, zap.String("job_id", job.ID), zap.Error(err))
		return fmt.Errorf("decode scan message: %v: %w", err, jobs.ErrPermanent)
	}
	_, err := s.Process(ctx, msg)
	return err
}

// Process stores one scan message. It returns whether a new scan row was written.
func (s *ScanIngestService) Process(ctx context.Context, msg dto.ProcessScanDataMessage) (bool, error) {
	if err := s.validator.Struct(msg); err != nil {
		s.dropped(IssueInvalidMessage, zap.String("device_id", msg.DeviceID), zap.Error(err))
		return false, nil
	}

	device, err := s.devices.FindByID(ctx, msg.DeviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.dropped(IssueUnknownDevice, zap.String("device_id", msg.DeviceID), zap.String("submitter_user_id", msg.SubmitterUserID))
			return false, nil
		}
		s.metrics.RecordScan(ScanResultFailed)
		return false, fmt.Errorf("load device %s: %w", msg.DeviceID, err)
	}
	if device.Status != models.DeviceStatusActive || device.UserID != msg.SubmitterUserID {
		s.dropped(IssueDeviceOwner,
			zap.String("device_id", device.ID),
			zap.String("device_user_id", device.UserID),
			zap.String("submitter_user_id", msg.SubmitterUserID),
			zap.String("device_status", string(device.Status)),
		)
		return false, nil
	}

	session, err := s.sessions.FindByID(ctx, msg.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.dropped(IssueUnknownSession, zap.String("session_id", msg.SessionID), zap.String("device_id", msg.DeviceID))
			return false, nil
		}
		s.metrics.RecordScan(ScanResultFailed)
		return false, fmt.Errorf("load session %s: %w", msg.SessionID, err)
	}
	if session.Status == models.SessionStatusCancelled || session.Status == models.SessionStatusArchived {
		s.dropped(IssueSessionClosed, zap.String("session_id", session.ID), zap.String("status", string(session.Status)))
		return false, nil
	}

	rounds, err := s.rounds.ListBySession(ctx, session.ID)
	if err != nil {
		s.metrics.RecordScan(ScanResultFailed)
		return false, fmt.Errorf("list rounds of session %s: %w", session.ID, err)
	}
	round, ok := roundForTimestamp(rounds, msg.Timestamp, session.Config.AttendanceWindow())
	if !ok {
		s.dropped(IssueOutsideRounds,
			zap.String("session_id", session.ID),
			zap.String("device_id", msg.DeviceID),
			zap.Time("timestamp", msg.Timestamp),
		)
		return false, nil
	}

	scan := &models.BluetoothScan{
		DeviceID:        msg.DeviceID,
		SubmitterUserID: msg.SubmitterUserID,
		SessionID:       session.ID,
		RoundID:         round.ID,
		Timestamp:       msg.Timestamp.UTC(),
		ScannedDevices:  models.ScannedDevices(msg.ScannedDevices),
		CreatedAt:       s.now().UTC(),
	}
	inserted, err := s.scans.Insert(ctx, scan)
	if err != nil {
		s.metrics.RecordScan(ScanResultFailed)
		return false, fmt.Errorf("store scan: %w", err)
	}
	if !inserted {
		s.metrics.RecordScan(ScanResultDuplicate)
		s.logger.Debug("duplicate scan ignored",
			zap.String("device_id", scan.DeviceID),
			zap.String("round_id", scan.RoundID),
			zap.Time("timestamp", scan.Timestamp),
		)
		return false, nil
	}
	s.metrics.RecordScan(ScanResultStored)
	return true, nil
}

func (s *ScanIngestService) dropped(reason string, fields ...zap.Field) {
	s.metrics.RecordScan(ScanResultDropped)
	s.metrics.RecordDataQuality(reason)
	s.logger.Warn("data quality: scan dropped", append([]zap.Field{zap.String("reason", reason)}, fields...)...)
}

// roundForTimestamp picks the round whose [start, end) contains ts. A late report is attributed
// to the latest round whose attendance window still covers it.
func roundForTimestamp(rounds []models.Round, ts time.Time, window time.Duration) (*models.Round, bool) {
	var late *models.Round
	for i := range rounds {
		r := &rounds[i]
		if r.Status == models.RoundStatusCancelled {
			continue
		}
		if r.Contains(ts) {
			return r, true
		}
		if !ts.Before(r.EndTime) && !ts.After(r.ScanWindowEnd(window)) {
			if late == nil || r.EndTime.After(late.EndTime) {
				late = r
			}
		}
	}
	return late, late != nil
}
