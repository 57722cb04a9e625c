package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SessionStatus captures the lifecycle of one scheduled class occurrence.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusArchived  SessionStatus = "archived"
)

// Valid returns true when the status is a supported value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusActive, SessionStatusCompleted, SessionStatusCancelled, SessionStatusArchived:
		return true
	default:
		return false
	}
}

// AnchorTrust decides whether a one-sided report from the anchor device is enough to confirm an edge.
type AnchorTrust string

const (
	AnchorTrustAsymmetric AnchorTrust = "asymmetric"
	AnchorTrustMutual     AnchorTrust = "mutual"
)

// Valid returns true when the trust mode is supported.
func (t AnchorTrust) Valid() bool {
	switch t {
	case AnchorTrustAsymmetric, AnchorTrustMutual:
		return true
	default:
		return false
	}
}

// BiometricPolicy selects the rounds that need face corroboration.
type BiometricPolicy string

const (
	BiometricPolicyNone      BiometricPolicy = "none"
	BiometricPolicyFirstLast BiometricPolicy = "first_last"
	BiometricPolicyAll       BiometricPolicy = "all"
)

// Valid returns true when the policy is supported.
func (p BiometricPolicy) Valid() bool {
	switch p {
	case BiometricPolicyNone, BiometricPolicyFirstLast, BiometricPolicyAll:
		return true
	default:
		return false
	}
}

// Requires reports whether round number n of total needs face verification.
func (p BiometricPolicy) Requires(n, total int) bool {
	switch p {
	case BiometricPolicyAll:
		return true
	case BiometricPolicyFirstLast:
		return n == 1 || n == total
	case BiometricPolicyNone:
		return false
	default:
		return false
	}
}

// SessionConfigSnapshot is the attendance policy copied into a session when it is created.
// It is persisted as JSONB and never rewritten.
type SessionConfigSnapshot struct {
	AttendanceWindowMinutes          int             `json:"attendanceWindowMinutes"`
	FaceIDVerificationTimeoutSeconds int             `json:"faceIdVerificationTimeoutSeconds"`
	TotalAttendanceRounds            int             `json:"totalAttendanceRounds"`
	AbsentReportGracePeriodHours     int             `json:"absentReportGracePeriodHours"`
	ManualAdjustmentGracePeriodHours int             `json:"manualAdjustmentGracePeriodHours"`
	RSSIThreshold                    int             `json:"rssiThreshold"`
	AnchorTrust                      AnchorTrust     `json:"anchorTrust"`
	MaxHops                          int             `json:"maxHops"`
	BiometricPolicy                  BiometricPolicy `json:"biometricPolicy"`
	FaceIDThreshold                  float64         `json:"faceIdThreshold"`
	SessionPassFraction              float64         `json:"sessionPassFraction"`
}

// AttendanceWindow is the grace added to a round end for late scans.
func (c SessionConfigSnapshot) AttendanceWindow() time.Duration {
	return time.Duration(c.AttendanceWindowMinutes) * time.Minute
}

// VerificationTimeout is the lifetime of a face verification request.
func (c SessionConfigSnapshot) VerificationTimeout() time.Duration {
	return time.Duration(c.FaceIDVerificationTimeoutSeconds) * time.Second
}

// Value marshals the snapshot to JSON for persistence.
func (c SessionConfigSnapshot) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal session config snapshot: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the snapshot.
func (c *SessionConfigSnapshot) Scan(value interface{}) error {
	if value == nil {
		*c = SessionConfigSnapshot{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for SessionConfigSnapshot", value)
	}
	if len(data) == 0 {
		*c = SessionConfigSnapshot{}
		return nil
	}
	return json.Unmarshal(data, c)
}

// Session is one scheduled class occurrence.
type Session struct {
	ID             string                `db:"id" json:"id"`
	ScheduleID     string                `db:"schedule_id" json:"schedule_id"`
	CourseID       string                `db:"course_id" json:"course_id"`
	ClassSectionID string                `db:"class_section_id" json:"class_section_id"`
	LecturerID     string                `db:"lecturer_id" json:"lecturer_id"`
	Status         SessionStatus         `db:"status" json:"status"`
	StartTime      time.Time             `db:"start_time" json:"start_time"`
	EndTime        time.Time             `db:"end_time" json:"end_time"`
	Config         SessionConfigSnapshot `db:"config" json:"config"`
	CreatedAt      time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time             `db:"updated_at" json:"updated_at"`
}

// ReportDeadline is the last instant an absence dispute may be filed.
func (s *Session) ReportDeadline() time.Time {
	return s.EndTime.Add(time.Duration(s.Config.AbsentReportGracePeriodHours) * time.Hour)
}

// AdjustmentDeadline is the last instant a manual correction may be recorded.
func (s *Session) AdjustmentDeadline() time.Time {
	return s.EndTime.Add(time.Duration(s.Config.ManualAdjustmentGracePeriodHours) * time.Hour)
}

// SessionWithRounds bundles a session and its rounds ordered by number.
type SessionWithRounds struct {
	Session
	Rounds []Round `json:"rounds"`
}
