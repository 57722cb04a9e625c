package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/attendance-engine/internal/middleware"
	"github.com/noah-isme/attendance-engine/internal/models"
	appErrors "github.com/noah-isme/attendance-engine/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return claims
}

func bindJSON(c *gin.Context, dst interface{}, msg string) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, msg)
	}
	return nil
}
