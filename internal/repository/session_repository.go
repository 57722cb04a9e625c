package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-engine/internal/models"
)

const sessionColumns = `id, schedule_id, course_id, class_section_id, lecturer_id, status, start_time, end_time, config, created_at, updated_at`

// SessionRepository handles persistence of class sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateWithRounds inserts a session and its rounds in one transaction.
func (r *SessionRepository) CreateWithRounds(ctx context.Context, session *models.Session, rounds []models.Round) error {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = now
	session.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create session tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertSession = `INSERT INTO sessions (` + sessionColumns + `)
VALUES (:id, :schedule_id, :course_id, :class_section_id, :lecturer_id, :status, :start_time, :end_time, :config, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertSession, session); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	const insertRound = `INSERT INTO rounds (id, session_id, round_number, start_time, end_time, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i := range rounds {
		rd := &rounds[i]
		if rd.ID == "" {
			rd.ID = uuid.NewString()
		}
		rd.SessionID = session.ID
		rd.CreatedAt = now
		rd.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, insertRound, rd.ID, rd.SessionID, rd.RoundNumber, rd.StartTime, rd.EndTime, rd.Status, rd.CreatedAt, rd.UpdatedAt); err != nil {
			return fmt.Errorf("insert round %d: %w", rd.RoundNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create session: %w", err)
	}
	return nil
}

// FindByID returns a session by its ID.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListBySchedule returns the sessions generated for a schedule ordered by start time.
func (r *SessionRepository) ListBySchedule(ctx context.Context, scheduleID string) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE schedule_id = $1 ORDER BY start_time`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, scheduleID); err != nil {
		return nil, fmt.Errorf("list sessions by schedule: %w", err)
	}
	return sessions, nil
}

// ListByClassSection returns every session of a course section ordered by start time.
func (r *SessionRepository) ListByClassSection(ctx context.Context, classSectionID, courseID string) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE class_section_id = $1 AND course_id = $2 ORDER BY start_time`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, classSectionID, courseID); err != nil {
		return nil, fmt.Errorf("list sessions by class section: %w", err)
	}
	return sessions, nil
}

// UpdateStatus moves a session to status when it is currently one of from.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status models.SessionStatus, from ...models.SessionStatus) (bool, error) {
	query := `UPDATE sessions SET status = $2, updated_at = $3 WHERE id = $1`
	args := []interface{}{id, status, time.Now().UTC()}
	if len(from) > 0 {
		placeholders := make([]string, len(from))
		for i, s := range from {
			args = append(args, s)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("session status rows affected: %w", err)
	}
	return rows > 0, nil
}
