package models

import "time"

// Enrollment ties a student to a class section of a course. It is read-only here.
type Enrollment struct {
	ID             string    `db:"id" json:"id"`
	StudentID      string    `db:"student_id" json:"student_id"`
	ClassSectionID string    `db:"class_section_id" json:"class_section_id"`
	CourseID       string    `db:"course_id" json:"course_id"`
	EnrolledAt     time.Time `db:"enrolled_at" json:"enrolled_at"`
}
