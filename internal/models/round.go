package models

import "time"

// RoundStatus is the lifecycle state of an attendance round.
type RoundStatus string

const (
	RoundStatusPending   RoundStatus = "pending"
	RoundStatusActive    RoundStatus = "active"
	RoundStatusCompleted RoundStatus = "completed"
	RoundStatusFinalized RoundStatus = "finalized"
	RoundStatusCancelled RoundStatus = "cancelled"
)

// Valid returns true when the status is a supported value.
func (s RoundStatus) Valid() bool {
	switch s {
	case RoundStatusPending, RoundStatusActive, RoundStatusCompleted, RoundStatusFinalized, RoundStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s RoundStatus) Terminal() bool {
	switch s {
	case RoundStatusFinalized, RoundStatusCancelled:
		return true
	case RoundStatusPending, RoundStatusActive, RoundStatusCompleted:
		return false
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s RoundStatus) CanTransitionTo(next RoundStatus) bool {
	switch s {
	case RoundStatusPending:
		return next == RoundStatusActive || next == RoundStatusCancelled
	case RoundStatusActive:
		return next == RoundStatusCompleted || next == RoundStatusCancelled
	case RoundStatusCompleted:
		return next == RoundStatusFinalized
	case RoundStatusFinalized, RoundStatusCancelled:
		return false
	default:
		return false
	}
}

// Round is one verification interval inside a session.
type Round struct {
	ID          string      `db:"id" json:"id"`
	SessionID   string      `db:"session_id" json:"session_id"`
	RoundNumber int         `db:"round_number" json:"round_number"`
	StartTime   time.Time   `db:"start_time" json:"start_time"`
	EndTime     time.Time   `db:"end_time" json:"end_time"`
	Status      RoundStatus `db:"status" json:"status"`
	FinalizedAt *time.Time  `db:"finalized_at" json:"finalized_at,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Contains reports whether ts falls in [start, end).
func (r *Round) Contains(ts time.Time) bool {
	return !ts.Before(r.StartTime) && ts.Before(r.EndTime)
}

// ScanWindowEnd is the latest scan timestamp accepted for the round.
func (r *Round) ScanWindowEnd(window time.Duration) time.Time {
	return r.EndTime.Add(window)
}
