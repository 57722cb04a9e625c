package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-engine/internal/dto"
	"github.com/noah-isme/attendance-engine/internal/models"
	"github.com/noah-isme/attendance-engine/pkg/response"
)

type sessionService interface {
	CreateSession(ctx context.Context, req dto.CreateSessionRequest) (*dto.SessionResponse, error)
	GetSession(ctx context.Context, sessionID string) (*dto.SessionResponse, error)
	GetSessionsByScheduleID(ctx context.Context, scheduleID string) ([]dto.SessionResponse, error)
	CancelSession(ctx context.Context, sessionID string) (*dto.SessionResponse, error)
}

type sessionSummarizer interface {
	SessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
}

// SessionHandler exposes class session endpoints.
type SessionHandler struct {
	sessions sessionService
	summary  sessionSummarizer
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(sessions sessionService, summary sessionSummarizer) *SessionHandler {
	return &SessionHandler{sessions: sessions, summary: summary}
}

// Create godoc
// @Summary Create a class session and its attendance rounds
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req dto.CreateSessionRequest
	if err := bindJSON(c, &req, "invalid session payload"); err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.sessions.CreateSession(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Get godoc
// @Summary Get a session with its rounds
// @Tags Sessions
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{sessionId} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// ListBySchedule godoc
// @Summary List sessions generated from a schedule
// @Tags Sessions
// @Produce json
// @Param scheduleId path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{scheduleId}/sessions [get]
func (h *SessionHandler) ListBySchedule(c *gin.Context) {
	sessions, err := h.sessions.GetSessionsByScheduleID(c.Request.Context(), c.Param("scheduleId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, nil)
}

// Cancel godoc
// @Summary Cancel a session and its open rounds
// @Tags Sessions
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /sessions/{sessionId}/cancel [post]
func (h *SessionHandler) Cancel(c *gin.Context) {
	session, err := h.sessions.CancelSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Summary godoc
// @Summary Per-student attendance roll-up for a session
// @Tags Sessions
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{sessionId}/summary [get]
func (h *SessionHandler) Summary(c *gin.Context) {
	summary, err := h.summary.SessionSummary(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
