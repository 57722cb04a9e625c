package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-engine/internal/models"
)

const roundColumns = `id, session_id, round_number, start_time, end_time, status, finalized_at, created_at, updated_at`

// RoundRepository handles persistence of attendance rounds.
type RoundRepository struct {
	db *sqlx.DB
}

// NewRoundRepository constructs the repository.
func NewRoundRepository(db *sqlx.DB) *RoundRepository {
	return &RoundRepository{db: db}
}

// FindByID returns a round by its ID.
func (r *RoundRepository) FindByID(ctx context.Context, id string) (*models.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE id = $1`
	var round models.Round
	if err := r.db.GetContext(ctx, &round, query, id); err != nil {
		return nil, err
	}
	return &round, nil
}

// ListBySession returns the rounds of a session ordered by number.
func (r *RoundRepository) ListBySession(ctx context.Context, sessionID string) ([]models.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE session_id = $1 ORDER BY round_number`
	var rounds []models.Round
	if err := r.db.SelectContext(ctx, &rounds, query, sessionID); err != nil {
		return nil, fmt.Errorf("list rounds by session: %w", err)
	}
	return rounds, nil
}

// ListDue returns rounds whose scheduled boundary has passed without the matching transition.
func (r *RoundRepository) ListDue(ctx context.Context, now time.Time) ([]models.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds
WHERE (status = $1 AND start_time <= $3) OR (status = $2 AND end_time <= $3)
ORDER BY start_time`
	var rounds []models.Round
	if err := r.db.SelectContext(ctx, &rounds, query, models.RoundStatusPending, models.RoundStatusActive, now); err != nil {
		return nil, fmt.Errorf("list due rounds: %w", err)
	}
	return rounds, nil
}

// CompareAndSetStatus moves a round from one status to another atomically.
// It reports false when the round was not in the expected status.
func (r *RoundRepository) CompareAndSetStatus(ctx context.Context, id string, from, to models.RoundStatus, now time.Time) (bool, error) {
	const query = `UPDATE rounds SET status = $3, updated_at = $4,
finalized_at = CASE WHEN $3 = 'finalized' THEN $4 ELSE finalized_at END
WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, now)
	if err != nil {
		return false, fmt.Errorf("update round status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("round status rows affected: %w", err)
	}
	return rows == 1, nil
}

// CancelOpenBySession cancels every pending or active round of a session and returns their IDs.
func (r *RoundRepository) CancelOpenBySession(ctx context.Context, sessionID string, now time.Time) ([]string, error) {
	const query = `UPDATE rounds SET status = $2, updated_at = $5
WHERE session_id = $1 AND status IN ($3, $4) RETURNING id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, sessionID, models.RoundStatusCancelled, models.RoundStatusPending, models.RoundStatusActive, now); err != nil {
		return nil, fmt.Errorf("cancel rounds by session: %w", err)
	}
	return ids, nil
}
