package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-engine/internal/dto"
	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
	"github.com/noah-isme/attendance-engine/pkg/response"
)

type faceIDService interface {
	CreateVerifyRequest(ctx context.Context, req dto.CreateVerifyRequest) (*models.FaceVerifyRequest, error)
	CompleteVerifyRequest(ctx context.Context, requestID string, matched bool, similarity float64) (*models.FaceVerifyRequest, error)
	VerifyWithImage(ctx context.Context, requestID string, body dto.VerifyFaceRequest) (*models.FaceVerifyRequest, error)
	CancelVerifyRequestsByGroup(ctx context.Context, groupID string) (int, error)
}

// FaceIDHandler manages face re-verification requests.
type FaceIDHandler struct {
	service faceIDService
}

// NewFaceIDHandler builds a FaceIDHandler.
func NewFaceIDHandler(service faceIDService) *FaceIDHandler {
	return &FaceIDHandler{service: service}
}

// Create godoc
// @Summary Request face re-verification from a user
// @Tags FaceID
// @Accept json
// @Produce json
// @Param payload body dto.CreateVerifyRequest true "Verify request"
// @Success 201 {object} response.Envelope
// @Router /faceid/requests [post]
func (h *FaceIDHandler) Create(c *gin.Context) {
	var req dto.CreateVerifyRequest
	if err := bindJSON(c, &req, "invalid verify request payload"); err != nil {
		response.Error(c, err)
		return
	}
	created, err := h.service.CreateVerifyRequest(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Complete godoc
// @Summary Deliver the scorer answer for a verify request
// @Tags FaceID
// @Accept json
// @Produce json
// @Param requestId path string true "Request ID"
// @Param payload body dto.CompleteVerifyRequest true "Answer"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /faceid/requests/{requestId}/complete [post]
func (h *FaceIDHandler) Complete(c *gin.Context) {
	var req dto.CompleteVerifyRequest
	if err := bindJSON(c, &req, "invalid completion payload"); err != nil {
		response.Error(c, err)
		return
	}
	if req.Matched == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "matched is required"))
		return
	}
	updated, err := h.service.CompleteVerifyRequest(c.Request.Context(), c.Param("requestId"), *req.Matched, req.Similarity)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Verify godoc
// @Summary Score a fresh capture against the enrolled face
// @Tags FaceID
// @Accept json
// @Produce json
// @Param requestId path string true "Request ID"
// @Param payload body dto.VerifyFaceRequest true "Capture"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /faceid/requests/{requestId}/verify [post]
func (h *FaceIDHandler) Verify(c *gin.Context) {
	var req dto.VerifyFaceRequest
	if err := bindJSON(c, &req, "invalid capture payload"); err != nil {
		response.Error(c, err)
		return
	}
	updated, err := h.service.VerifyWithImage(c.Request.Context(), c.Param("requestId"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// CancelGroup godoc
// @Summary Cancel every pending request in a group
// @Tags FaceID
// @Produce json
// @Param groupId path string true "Group ID"
// @Success 200 {object} response.Envelope
// @Router /faceid/groups/{groupId}/cancel [post]
func (h *FaceIDHandler) CancelGroup(c *gin.Context) {
	groupID := c.Param("groupId")
	cancelled, err := h.service.CancelVerifyRequestsByGroup(c.Request.Context(), groupID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.CancelGroupResponse{GroupID: groupID, Cancelled: cancelled}, nil)
}
