package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-engine/internal/models"
)

const verifyColumns = `id, group_id, target_user_id, session_id, round_id, threshold, status, similarity, expires_at, completed_at, created_at`

// VerifyRequestRepository persists face verification requests.
type VerifyRequestRepository struct {
	db *sqlx.DB
}

// NewVerifyRequestRepository constructs the repository.
func NewVerifyRequestRepository(db *sqlx.DB) *VerifyRequestRepository {
	return &VerifyRequestRepository{db: db}
}

// Create inserts a pending request.
func (r *VerifyRequestRepository) Create(ctx context.Context, req *models.FaceVerifyRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = models.VerifyStatusPending
	const query = `INSERT INTO face_verify_requests (` + verifyColumns + `)
VALUES (:id, :group_id, :target_user_id, :session_id, :round_id, :threshold, :status, :similarity, :expires_at, :completed_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("insert face verify request: %w", err)
	}
	return nil
}

// FindByID returns a request by its ID.
func (r *VerifyRequestRepository) FindByID(ctx context.Context, id string) (*models.FaceVerifyRequest, error) {
	query := `SELECT ` + verifyColumns + ` FROM face_verify_requests WHERE id = $1`
	var req models.FaceVerifyRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// Resolve answers a pending request. It reports false when the request was already answered.
func (r *VerifyRequestRepository) Resolve(ctx context.Context, id string, status models.VerifyStatus, similarity *float64, now time.Time) (bool, error) {
	const query = `UPDATE face_verify_requests SET status = $2, similarity = $3, completed_at = $4
WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, status, similarity, now, models.VerifyStatusPending)
	if err != nil {
		return false, fmt.Errorf("resolve face verify request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("face verify rows affected: %w", err)
	}
	return rows == 1, nil
}

// CancelByGroup cancels every pending request of a group and returns their IDs.
func (r *VerifyRequestRepository) CancelByGroup(ctx context.Context, groupID string, now time.Time) ([]string, error) {
	const query = `UPDATE face_verify_requests SET status = $2, completed_at = $3
WHERE group_id = $1 AND status = $4 RETURNING id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, groupID, models.VerifyStatusCancelled, now, models.VerifyStatusPending); err != nil {
		return nil, fmt.Errorf("cancel face verify group: %w", err)
	}
	return ids, nil
}

// ExpireDue marks pending requests past their expiry and returns their IDs.
func (r *VerifyRequestRepository) ExpireDue(ctx context.Context, now time.Time) ([]string, error) {
	const query = `UPDATE face_verify_requests SET status = $1, completed_at = $2
WHERE status = $3 AND expires_at <= $2 RETURNING id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, models.VerifyStatusExpired, now, models.VerifyStatusPending); err != nil {
		return nil, fmt.Errorf("expire face verify requests: %w", err)
	}
	return ids, nil
}
