package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-engine/internal/models"
)

// ErrRoundNotCompleted is returned when a finalize found the round outside the completed state.
var ErrRoundNotCompleted = errors.New("round not in completed state")

const recordColumns = `id, enrollment_id, student_id, session_id, round_id, version, status, present, reason,
proximity_confirmed, face_required, face_verified, face_similarity, pending_review, is_manual, adjusted_by, note, created_at,
device_id, hops`

// AttendanceRecordRepository persists versioned attendance outcomes.
type AttendanceRecordRepository struct {
	db *sqlx.DB
}

// NewAttendanceRecordRepository constructs the repository.
func NewAttendanceRecordRepository(db *sqlx.DB) *AttendanceRecordRepository {
	return &AttendanceRecordRepository{db: db}
}

// SaveRoundResults upserts version 1 of each record. When finalize is true the round
// moves from completed to finalized in the same transaction; if it is no longer
// completed nothing is written and ErrRoundNotCompleted is returned.
func (r *AttendanceRecordRepository) SaveRoundResults(ctx context.Context, roundID string, records []models.AttendanceRecord, finalize bool, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save results tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const upsert = `INSERT INTO attendance_records (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $8, $9, $10, $11, $12, $13, FALSE, NULL, NULL, $14, $15, $16)
ON CONFLICT (enrollment_id, round_id, version) DO UPDATE SET
status = EXCLUDED.status, present = EXCLUDED.present, reason = EXCLUDED.reason,
proximity_confirmed = EXCLUDED.proximity_confirmed, face_required = EXCLUDED.face_required,
face_verified = EXCLUDED.face_verified, face_similarity = EXCLUDED.face_similarity,
pending_review = EXCLUDED.pending_review, created_at = EXCLUDED.created_at,
device_id = EXCLUDED.device_id, hops = EXCLUDED.hops`
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		rec.Version = 1
		rec.CreatedAt = now
		if _, err := tx.ExecContext(ctx, upsert,
			rec.ID, rec.EnrollmentID, rec.StudentID, rec.SessionID, rec.RoundID,
			rec.Status, rec.Present, rec.Reason, rec.ProximityConfirmed, rec.FaceRequired,
			rec.FaceVerified, rec.FaceSimilarity, rec.PendingReview, rec.CreatedAt,
			rec.DeviceID, rec.Hops,
		); err != nil {
			return fmt.Errorf("upsert attendance record %s: %w", rec.EnrollmentID, err)
		}
	}

	if finalize {
		const finalizeRound = `UPDATE rounds SET status = $2, finalized_at = $4, updated_at = $4 WHERE id = $1 AND status = $3`
		res, err := tx.ExecContext(ctx, finalizeRound, roundID, models.RoundStatusFinalized, models.RoundStatusCompleted, now)
		if err != nil {
			return fmt.Errorf("finalize round: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finalize round rows affected: %w", err)
		}
		if rows != 1 {
			return ErrRoundNotCompleted
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit round results: %w", err)
	}
	return nil
}

// ListLatestByRound returns the newest version of every record of a round.
func (r *AttendanceRecordRepository) ListLatestByRound(ctx context.Context, roundID string) ([]models.AttendanceRecord, error) {
	query := `SELECT DISTINCT ON (enrollment_id) ` + recordColumns + `
FROM attendance_records WHERE round_id = $1 ORDER BY enrollment_id, version DESC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, roundID); err != nil {
		return nil, fmt.Errorf("list latest records by round: %w", err)
	}
	return records, nil
}

// ListLatestBySession returns the newest version of every record of a session.
func (r *AttendanceRecordRepository) ListLatestBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	query := `SELECT DISTINCT ON (enrollment_id, round_id) ` + recordColumns + `
FROM attendance_records WHERE session_id = $1 ORDER BY enrollment_id, round_id, version DESC`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list latest records by session: %w", err)
	}
	return records, nil
}

// FindLatest returns the newest version for an (enrollment, round) pair.
func (r *AttendanceRecordRepository) FindLatest(ctx context.Context, enrollmentID, roundID string) (*models.AttendanceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records
WHERE enrollment_id = $1 AND round_id = $2 ORDER BY version DESC LIMIT 1`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, enrollmentID, roundID); err != nil {
		return nil, err
	}
	return &record, nil
}

// AppendVersion stores a correction as the next version of the (enrollment, round) history.
func (r *AttendanceRecordRepository) AppendVersion(ctx context.Context, record *models.AttendanceRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO attendance_records (` + recordColumns + `)
SELECT $1, $2, $3, $4, $5, COALESCE(MAX(version), 0) + 1, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19
FROM attendance_records WHERE enrollment_id = $2 AND round_id = $5
RETURNING version`
	if err := r.db.GetContext(ctx, &record.Version, query,
		record.ID, record.EnrollmentID, record.StudentID, record.SessionID, record.RoundID,
		record.Status, record.Present, record.Reason, record.ProximityConfirmed, record.FaceRequired,
		record.FaceVerified, record.FaceSimilarity, record.PendingReview, record.IsManual,
		record.AdjustedBy, record.Note, record.CreatedAt, record.DeviceID, record.Hops,
	); err != nil {
		return fmt.Errorf("append attendance record version: %w", err)
	}
	return nil
}

// ListOutcomes returns every round of the enrollment's course sessions joined with the newest record.
func (r *AttendanceRecordRepository) ListOutcomes(ctx context.Context, enrollment models.Enrollment) ([]models.RoundOutcome, error) {
	const query = `SELECT r.session_id, r.id AS round_id, r.status AS round_status, latest.present
FROM sessions s
JOIN rounds r ON r.session_id = s.id
LEFT JOIN LATERAL (
	SELECT a.present FROM attendance_records a
	WHERE a.round_id = r.id AND a.enrollment_id = $1
	ORDER BY a.version DESC LIMIT 1
) latest ON TRUE
WHERE s.class_section_id = $2 AND s.course_id = $3
ORDER BY s.start_time, r.round_number`
	var outcomes []models.RoundOutcome
	if err := r.db.SelectContext(ctx, &outcomes, query, enrollment.ID, enrollment.ClassSectionID, enrollment.CourseID); err != nil {
		return nil, fmt.Errorf("list round outcomes: %w", err)
	}
	return outcomes, nil
}
