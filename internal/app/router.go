package app

import (
	"context"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/attendance-engine/api/swagger"
	"github.com/noah-isme/attendance-engine/internal/handler"
	"github.com/noah-isme/attendance-engine/internal/middleware"
	"github.com/noah-isme/attendance-engine/internal/models"
	"github.com/noah-isme/attendance-engine/pkg/config"
	"github.com/noah-isme/attendance-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/attendance-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/attendance-engine/pkg/middleware/requestid"
)

// Router builds the HTTP surface.
func (a *App) Router() *gin.Engine {
	if a.Config.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(a.Logger))
	r.Use(corsmiddleware.New(a.Config.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.Metrics))

	probes := handler.NewMetricsHandler(a.Metrics, map[string]handler.Pinger{
		"storage": a.Ping,
		"faceid": func(ctx context.Context) error {
			if a.Config.FaceID.Skip || a.Config.FaceID.ServiceURL == "" {
				return nil
			}
			return a.faceHealth(ctx)
		},
	})
	r.GET("/health", probes.Health)
	r.GET("/ready", probes.Ready)
	r.GET("/metrics", probes.Prometheus)
	if a.Config.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	scans := handler.NewScanHandler(a.Scans)
	sessions := handler.NewSessionHandler(a.Sessions, a.Aggregation)
	evaluation := handler.NewEvaluationHandler(a.Calculator, a.Rounds, a.Aggregation)
	reviews := handler.NewReviewHandler(a.Reviews)
	faceID := handler.NewFaceIDHandler(a.FaceID)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleLecturer)

	api := r.Group(a.Config.APIPrefix)
	api.Use(middleware.JWT(a.Tokens))

	api.POST("/scans", middleware.RequireRoles(models.RoleDevice, models.RoleStudent, models.RoleLecturer), scans.Submit)

	api.POST("/sessions", staff, sessions.Create)
	api.GET("/sessions/:sessionId", staff, sessions.Get)
	api.GET("/schedules/:scheduleId/sessions", staff, sessions.ListBySchedule)
	api.POST("/sessions/:sessionId/cancel", staff, sessions.Cancel)
	api.GET("/sessions/:sessionId/summary", staff, sessions.Summary)
	api.POST("/sessions/:sessionId/rounds/:roundId/evaluate", staff, evaluation.Evaluate)
	api.POST("/rounds/:roundId/cancel", staff, evaluation.CancelRound)

	api.GET("/students/:studentId/courses/:courseId/attendance-rate",
		middleware.RequireRolesOrSelf("studentId", models.RoleAdmin, models.RoleLecturer), evaluation.AttendanceRate)

	api.POST("/attendance/adjustments", staff, reviews.Adjust)
	api.POST("/error-reports", middleware.RequireRoles(models.RoleStudent), reviews.ReportError)

	face := api.Group("/faceid")
	face.POST("/requests", staff, faceID.Create)
	face.POST("/requests/:requestId/complete", middleware.RequireRoles(models.RoleAdmin, models.RoleDevice), faceID.Complete)
	face.POST("/requests/:requestId/verify", middleware.RequireRoles(models.RoleStudent, models.RoleDevice), faceID.Verify)
	face.POST("/groups/:groupId/cancel", staff, faceID.CancelGroup)

	return r
}
