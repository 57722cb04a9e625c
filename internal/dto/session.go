package dto

import (
	"time"

	"github.com/noah-isme/attendance-engine/internal/models"
)

// CreateSessionRequest schedules a class occurrence and generates its rounds.
type CreateSessionRequest struct {
	ScheduleID     string    `json:"scheduleId" validate:"required"`
	CourseID       string    `json:"courseId" validate:"required"`
	ClassSectionID string    `json:"classSectionId" validate:"required"`
	LecturerID     string    `json:"lecturerId" validate:"required"`
	StartTime      time.Time `json:"startTime" validate:"required"`
	EndTime        time.Time `json:"endTime" validate:"required,gtfield=StartTime"`
}

// SessionResponse returns a session with its rounds.
type SessionResponse struct {
	models.Session
	Rounds []models.Round `json:"rounds"`
}
