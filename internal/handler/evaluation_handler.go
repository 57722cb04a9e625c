package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-engine/internal/models"
	"github.com/noah-isme/attendance-engine/pkg/response"
)

type roundEvaluator interface {
	CalculateAttendanceForRound(ctx context.Context, sessionID, roundID string) (*models.RoundEvaluation, error)
}

type roundCanceller interface {
	Cancel(ctx context.Context, roundID string) (*models.Round, error)
}

type rateCalculator interface {
	ComputeAttendanceRate(ctx context.Context, studentID, courseID string) (*models.AttendanceRate, error)
}

// EvaluationHandler exposes round evaluation and attendance rate endpoints.
type EvaluationHandler struct {
	evaluator roundEvaluator
	rounds    roundCanceller
	rates     rateCalculator
}

// NewEvaluationHandler builds an EvaluationHandler.
func NewEvaluationHandler(evaluator roundEvaluator, rounds roundCanceller, rates rateCalculator) *EvaluationHandler {
	return &EvaluationHandler{evaluator: evaluator, rounds: rounds, rates: rates}
}

// Evaluate godoc
// @Summary Evaluate and finalize attendance for a completed round
// @Tags Rounds
// @Produce json
// @Param sessionId path string true "Session ID"
// @Param roundId path string true "Round ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /sessions/{sessionId}/rounds/{roundId}/evaluate [post]
func (h *EvaluationHandler) Evaluate(c *gin.Context) {
	result, err := h.evaluator.CalculateAttendanceForRound(c.Request.Context(), c.Param("sessionId"), c.Param("roundId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, map[string]interface{}{
		"finalized": result.Status == models.RoundStatusFinalized,
		"failures":  len(result.Failures),
	})
}

// CancelRound godoc
// @Summary Cancel a pending or active round
// @Tags Rounds
// @Produce json
// @Param roundId path string true "Round ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /rounds/{roundId}/cancel [post]
func (h *EvaluationHandler) CancelRound(c *gin.Context) {
	round, err := h.rounds.Cancel(c.Request.Context(), c.Param("roundId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, round, nil)
}

// AttendanceRate godoc
// @Summary Attendance rate of a student in a course
// @Tags Attendance
// @Produce json
// @Param studentId path string true "Student ID"
// @Param courseId path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{studentId}/courses/{courseId}/attendance-rate [get]
func (h *EvaluationHandler) AttendanceRate(c *gin.Context) {
	rate, err := h.rates.ComputeAttendanceRate(c.Request.Context(), c.Param("studentId"), c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rate, nil)
}
