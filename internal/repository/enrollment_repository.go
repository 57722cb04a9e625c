package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/attendance-engine/internal/models"
)

// EnrollmentRepository reads enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// ListByClassSection returns the enrollments of a course section.
func (r *EnrollmentRepository) ListByClassSection(ctx context.Context, classSectionID, courseID string) ([]models.Enrollment, error) {
	const query = `SELECT id, student_id, class_section_id, course_id, enrolled_at FROM enrollments
WHERE class_section_id = $1 AND course_id = $2 ORDER BY student_id`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, classSectionID, courseID); err != nil {
		return nil, fmt.Errorf("list enrollments by class section: %w", err)
	}
	return enrollments, nil
}

// FindByStudentCourse returns the enrollment of a student in a course.
func (r *EnrollmentRepository) FindByStudentCourse(ctx context.Context, studentID, courseID string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, class_section_id, course_id, enrolled_at FROM enrollments
WHERE student_id = $1 AND course_id = $2 ORDER BY enrolled_at DESC LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, courseID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, class_section_id, course_id, enrolled_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}
