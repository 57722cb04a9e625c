package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-engine/internal/dto"
	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
	"github.com/noah-isme/attendance-engine/pkg/response"
)

type scanSubmitter interface {
	Submit(ctx context.Context, msg dto.ProcessScanDataMessage) (*dto.ScanAccepted, error)
}

// ScanHandler accepts proximity scans from devices.
type ScanHandler struct {
	service scanSubmitter
}

// NewScanHandler builds a ScanHandler.
func NewScanHandler(service scanSubmitter) *ScanHandler {
	return &ScanHandler{service: service}
}

// Submit godoc
// @Summary Enqueue a Bluetooth proximity scan
// @Tags Scans
// @Accept json
// @Produce json
// @Param payload body dto.ProcessScanDataMessage true "Scan payload"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /scans [post]
func (h *ScanHandler) Submit(c *gin.Context) {
	var msg dto.ProcessScanDataMessage
	if err := bindJSON(c, &msg, "invalid scan payload"); err != nil {
		response.Error(c, err)
		return
	}

	claims := claimsFromContext(c)
	if claims != nil {
		if msg.SubmitterUserID == "" {
			msg.SubmitterUserID = claims.UserID
		}
		if claims.Role == models.RoleStudent && msg.SubmitterUserID != claims.UserID {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot submit scans for another user"))
			return
		}
	}

	accepted, err := h.service.Submit(c.Request.Context(), msg)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, accepted)
}
