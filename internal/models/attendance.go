package models

import "time"

// RecordStatus is the outcome of evaluating one enrollment in one round.
type RecordStatus string

const (
	RecordStatusPresent       RecordStatus = "present"
	RecordStatusAbsent        RecordStatus = "absent"
	RecordStatusPendingReview RecordStatus = "pending_review"
)

// Valid returns true when the status is a supported value.
func (s RecordStatus) Valid() bool {
	switch s {
	case RecordStatusPresent, RecordStatusAbsent, RecordStatusPendingReview:
		return true
	default:
		return false
	}
}

// AbsenceReason explains a non-present outcome.
type AbsenceReason string

const (
	ReasonNone                AbsenceReason = ""
	ReasonNoDevice            AbsenceReason = "no_device"
	ReasonIsolated            AbsenceReason = "isolated"
	ReasonNoAnchorProximity   AbsenceReason = "no_anchor_proximity"
	ReasonFaceMismatch        AbsenceReason = "face_mismatch"
	ReasonPendingManualReview AbsenceReason = "pending_manual_review"
	ReasonManualAdjustment    AbsenceReason = "manual_adjustment"
)

// AttendanceCalculationResult is the engine's judgment for one enrollment in one round.
type AttendanceCalculationResult struct {
	EnrollmentID       string        `json:"enrollment_id"`
	StudentID          string        `json:"student_id"`
	DeviceID           string        `json:"device_id,omitempty"`
	Status             RecordStatus  `json:"status"`
	Present            bool          `json:"present"`
	Reason             AbsenceReason `json:"reason,omitempty"`
	ProximityConfirmed bool          `json:"proximity_confirmed"`
	Hops               int           `json:"hops,omitempty"`
	FaceRequired       bool          `json:"face_required"`
	FaceVerified       bool          `json:"face_verified"`
	FaceSimilarity     *float64      `json:"face_similarity,omitempty"`
	PendingReview      bool          `json:"pending_review"`
}

// EvaluationFailure records an enrollment that could not be evaluated.
type EvaluationFailure struct {
	EnrollmentID string `json:"enrollment_id"`
	StudentID    string `json:"student_id,omitempty"`
	Error        string `json:"error"`
}

// RoundEvaluation is the full result set of one round.
type RoundEvaluation struct {
	SessionID   string                        `json:"session_id"`
	RoundID     string                        `json:"round_id"`
	RoundNumber int                           `json:"round_number"`
	Status      RoundStatus                   `json:"status"`
	Results     []AttendanceCalculationResult `json:"results"`
	Failures    []EvaluationFailure           `json:"failures,omitempty"`
	EvaluatedAt time.Time                     `json:"evaluated_at"`
}

// AttendanceRecord is the persisted, versioned outcome for (enrollment, round).
// Corrections append a new version instead of mutating history.
type AttendanceRecord struct {
	ID                 string        `db:"id" json:"id"`
	EnrollmentID       string        `db:"enrollment_id" json:"enrollment_id"`
	StudentID          string        `db:"student_id" json:"student_id"`
	SessionID          string        `db:"session_id" json:"session_id"`
	RoundID            string        `db:"round_id" json:"round_id"`
	DeviceID           string        `db:"device_id" json:"device_id,omitempty"`
	Version            int           `db:"version" json:"version"`
	Status             RecordStatus  `db:"status" json:"status"`
	Present            bool          `db:"present" json:"present"`
	Reason             AbsenceReason `db:"reason" json:"reason,omitempty"`
	ProximityConfirmed bool          `db:"proximity_confirmed" json:"proximity_confirmed"`
	Hops               int           `db:"hops" json:"hops,omitempty"`
	FaceRequired       bool          `db:"face_required" json:"face_required"`
	FaceVerified       bool          `db:"face_verified" json:"face_verified"`
	FaceSimilarity     *float64      `db:"face_similarity" json:"face_similarity,omitempty"`
	PendingReview      bool          `db:"pending_review" json:"pending_review"`
	IsManual           bool          `db:"is_manual" json:"is_manual"`
	AdjustedBy         *string       `db:"adjusted_by" json:"adjusted_by,omitempty"`
	Note               *string       `db:"note" json:"note,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
}

// Result projects a record back into a calculation result.
func (r *AttendanceRecord) Result() AttendanceCalculationResult {
	return AttendanceCalculationResult{
		EnrollmentID:       r.EnrollmentID,
		StudentID:          r.StudentID,
		DeviceID:           r.DeviceID,
		Status:             r.Status,
		Present:            r.Present,
		Reason:             r.Reason,
		ProximityConfirmed: r.ProximityConfirmed,
		Hops:               r.Hops,
		FaceRequired:       r.FaceRequired,
		FaceVerified:       r.FaceVerified,
		FaceSimilarity:     r.FaceSimilarity,
		PendingReview:      r.PendingReview,
	}
}

// AbsenceStatus classifies an attendance rate.
type AbsenceStatus string

const (
	AbsenceStatusNoData   AbsenceStatus = "no_data"
	AbsenceStatusNormal   AbsenceStatus = "normal"
	AbsenceStatusWarning  AbsenceStatus = "warning"
	AbsenceStatusCritical AbsenceStatus = "critical"
)

// AttendanceRate summarises a student's attendance in a course.
type AttendanceRate struct {
	StudentID        string        `json:"student_id"`
	CourseID         string        `json:"course_id"`
	AttendedSessions int           `json:"attended_sessions"`
	TotalSessions    int           `json:"total_sessions"`
	Rate             float64       `json:"rate"`
	AbsenceStatus    AbsenceStatus `json:"absence_status"`
}

// RoundOutcome is one (session, round, latest record) row used by aggregation.
type RoundOutcome struct {
	SessionID   string      `db:"session_id"`
	RoundID     string      `db:"round_id"`
	RoundStatus RoundStatus `db:"round_status"`
	Present     *bool       `db:"present"`
}

// StudentSessionSummary is one student's roll-up for a session.
type StudentSessionSummary struct {
	EnrollmentID    string `json:"enrollment_id"`
	StudentID       string `json:"student_id"`
	PresentRounds   int    `json:"present_rounds"`
	PendingReview   int    `json:"pending_review_rounds"`
	FinalizedRounds int    `json:"finalized_rounds"`
	Attended        bool   `json:"attended"`
}

// SessionSummary rolls finalized rounds of a session up per student.
type SessionSummary struct {
	SessionID       string                  `json:"session_id"`
	Status          SessionStatus           `json:"status"`
	TotalRounds     int                     `json:"total_rounds"`
	FinalizedRounds int                     `json:"finalized_rounds"`
	CancelledRounds int                     `json:"cancelled_rounds"`
	Settled         bool                    `json:"settled"`
	Students        []StudentSessionSummary `json:"students"`
}
