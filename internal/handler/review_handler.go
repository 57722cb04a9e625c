package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-engine/internal/dto"
	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
	"github.com/noah-isme/attendance-engine/pkg/response"
)

type reviewService interface {
	AdjustAttendance(ctx context.Context, req dto.AdjustAttendanceRequest, adjustedBy string) (*models.AttendanceRecord, error)
	SubmitErrorReport(ctx context.Context, req dto.ErrorReportRequest, studentID string) (*models.ErrorReport, error)
}

// ReviewHandler handles manual corrections and student disputes.
type ReviewHandler struct {
	service reviewService
}

// NewReviewHandler builds a ReviewHandler.
func NewReviewHandler(service reviewService) *ReviewHandler {
	return &ReviewHandler{service: service}
}

// Adjust godoc
// @Summary Manually adjust a finalized attendance record
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.AdjustAttendanceRequest true "Adjustment payload"
// @Success 201 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /attendance/adjustments [post]
func (h *ReviewHandler) Adjust(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AdjustAttendanceRequest
	if err := bindJSON(c, &req, "invalid adjustment payload"); err != nil {
		response.Error(c, err)
		return
	}
	record, err := h.service.AdjustAttendance(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// ReportError godoc
// @Summary File an attendance error report
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body dto.ErrorReportRequest true "Report payload"
// @Success 201 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /error-reports [post]
func (h *ReviewHandler) ReportError(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ErrorReportRequest
	if err := bindJSON(c, &req, "invalid error report payload"); err != nil {
		response.Error(c, err)
		return
	}
	report, err := h.service.SubmitErrorReport(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}
