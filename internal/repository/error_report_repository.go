package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-engine/internal/models"
)

// ErrorReportRepository persists attendance disputes.
type ErrorReportRepository struct {
	db *sqlx.DB
}

// NewErrorReportRepository constructs the repository.
func NewErrorReportRepository(db *sqlx.DB) *ErrorReportRepository {
	return &ErrorReportRepository{db: db}
}

// Create inserts a pending report.
func (r *ErrorReportRepository) Create(ctx context.Context, report *models.ErrorReport) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	if report.Status == "" {
		report.Status = models.ErrorReportStatusPending
	}
	const query = `INSERT INTO error_reports (id, student_id, session_id, round_id, description, status, created_at)
VALUES (:id, :student_id, :session_id, :round_id, :description, :status, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("insert error report: %w", err)
	}
	return nil
}
