package models

import "time"

// ErrorReportStatus tracks the human review of a dispute.
type ErrorReportStatus string

const (
	ErrorReportStatusPending  ErrorReportStatus = "pending"
	ErrorReportStatusAccepted ErrorReportStatus = "accepted"
	ErrorReportStatusRejected ErrorReportStatus = "rejected"
)

// ErrorReport is a student's dispute of an attendance outcome.
type ErrorReport struct {
	ID          string            `db:"id" json:"id"`
	StudentID   string            `db:"student_id" json:"student_id"`
	SessionID   string            `db:"session_id" json:"session_id"`
	RoundID     *string           `db:"round_id" json:"round_id,omitempty"`
	Description string            `db:"description" json:"description"`
	Status      ErrorReportStatus `db:"status" json:"status"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
}
