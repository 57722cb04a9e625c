package dto

// AdjustAttendanceRequest records a manual correction for one enrollment in one round.
type AdjustAttendanceRequest struct {
	EnrollmentID string `json:"enrollmentId" validate:"required"`
	RoundID      string `json:"roundId" validate:"required"`
	Present      *bool  `json:"present" validate:"required"`
	Note         string `json:"note" validate:"max=500"`
}

// ErrorReportRequest files a student dispute.
type ErrorReportRequest struct {
	SessionID   string `json:"sessionId" validate:"required"`
	RoundID     string `json:"roundId"`
	Description string `json:"description" validate:"required,max=2000"`
}
