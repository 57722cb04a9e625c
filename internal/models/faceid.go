package models

import "time"

// VerifyStatus is the lifecycle of a face verification request.
type VerifyStatus string

const (
	VerifyStatusPending   VerifyStatus = "pending"
	VerifyStatusMatched   VerifyStatus = "matched"
	VerifyStatusUnmatched VerifyStatus = "unmatched"
	VerifyStatusExpired   VerifyStatus = "expired"
	VerifyStatusCancelled VerifyStatus = "cancelled"
)

// Valid returns true when the status is a supported value.
func (s VerifyStatus) Valid() bool {
	switch s {
	case VerifyStatusPending, VerifyStatusMatched, VerifyStatusUnmatched, VerifyStatusExpired, VerifyStatusCancelled:
		return true
	default:
		return false
	}
}

// Answered reports whether the request reached a final state.
func (s VerifyStatus) Answered() bool {
	switch s {
	case VerifyStatusMatched, VerifyStatusUnmatched, VerifyStatusExpired, VerifyStatusCancelled:
		return true
	case VerifyStatusPending:
		return false
	default:
		return false
	}
}

// FaceVerifyRequest asks one user to re-verify their face before ExpiresAt.
// Requests of one round share a GroupID so they can be cancelled together.
type FaceVerifyRequest struct {
	ID           string       `db:"id" json:"id"`
	GroupID      string       `db:"group_id" json:"group_id"`
	TargetUserID string       `db:"target_user_id" json:"target_user_id"`
	SessionID    string       `db:"session_id" json:"session_id"`
	RoundID      *string      `db:"round_id" json:"round_id,omitempty"`
	Threshold    float64      `db:"threshold" json:"threshold"`
	Status       VerifyStatus `db:"status" json:"status"`
	Similarity   *float64     `db:"similarity" json:"similarity,omitempty"`
	ExpiresAt    time.Time    `db:"expires_at" json:"expires_at"`
	CompletedAt  *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// VerifyOutcome is what an awaiting evaluator observes.
type VerifyOutcome struct {
	RequestID  string       `json:"request_id"`
	Status     VerifyStatus `json:"status"`
	Similarity *float64     `json:"similarity,omitempty"`
}
