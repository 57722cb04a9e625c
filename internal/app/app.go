// Package app assembles the engine's storage, services and workers from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/attendance-engine/internal/faceclient"
	"github.com/noah-isme/attendance-engine/internal/models"
	"github.com/noah-isme/attendance-engine/internal/repository"
	"github.com/noah-isme/attendance-engine/internal/service"
	"github.com/noah-isme/attendance-engine/pkg/cache"
	"github.com/noah-isme/attendance-engine/pkg/config"
	"github.com/noah-isme/attendance-engine/pkg/database"
	"github.com/noah-isme/attendance-engine/pkg/jobs"
	"github.com/noah-isme/attendance-engine/pkg/logger"
)

const autoEvaluateTimeout = 5 * time.Minute

type scanStore interface {
	Insert(ctx context.Context, scan *models.BluetoothScan) (bool, error)
	ListBySessionWindow(ctx context.Context, sessionID string, from, to time.Time) ([]models.BluetoothScan, error)
}

// App holds the wired engine.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *sqlx.DB
	Redis *redis.Client
	Mongo *mongo.Client

	Metrics *service.MetricsService
	Source  jobs.Source

	Sessions    *service.SessionService
	Rounds      *service.RoundStateService
	Calculator  *service.AttendanceCalculationService
	Graphs      *service.ProximityGraphBuilder
	Aggregation *service.AggregationService
	Scans       *service.ScanIngestService
	Reviews     *service.ReviewService
	FaceID      *service.FaceIDService
	Tokens      *service.TokenService

	face *faceclient.Client
}

// New connects to the configured backends and builds every service.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: log}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.DB = db

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.Redis = rdb

	scans, err := a.scanStore(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	switch cfg.Queue.Backend {
	case config.QueueBackendMemory:
		a.Source = jobs.NewMemorySource(cfg.Queue.BufferSize, cfg.Queue.PopTimeout)
	default:
		a.Source = jobs.NewRedisSource(rdb, cfg.Queue.Key, cfg.Queue.PopTimeout)
	}

	a.wire(scans)
	return a, nil
}

func (a *App) scanStore(ctx context.Context) (scanStore, error) {
	if a.Config.Engine.ScanStore != config.ScanStoreMongo {
		return repository.NewScanRepository(a.DB), nil
	}
	client, mdb, err := database.NewMongo(ctx, a.Config.Mongo)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	a.Mongo = client
	repo := repository.NewScanMongoRepository(mdb.Collection(a.Config.Mongo.ScanCollection))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure scan indexes: %w", err)
	}
	return repo, nil
}

func (a *App) wire(scans scanStore) {
	cfg := a.Config
	log := a.Logger
	validate := validator.New()

	a.Metrics = service.NewMetricsService()

	sessionRepo := repository.NewSessionRepository(a.DB)
	roundRepo := repository.NewRoundRepository(a.DB)
	enrollmentRepo := repository.NewEnrollmentRepository(a.DB)
	deviceRepo := repository.NewDeviceRepository(a.DB)
	recordRepo := repository.NewAttendanceRecordRepository(a.DB)
	verifyRepo := repository.NewVerifyRequestRepository(a.DB)
	reportRepo := repository.NewErrorReportRepository(a.DB)
	claimRepo := repository.NewRoundClaimRepository(a.Redis)
	cacheRepo := repository.NewCacheRepository(a.Redis, logger.Component(log, "cache"))

	cacheSvc := service.NewCacheService(cacheRepo, a.Metrics, cfg.Cache.ResultTTL, logger.Component(log, "cache"), cfg.Cache.Enabled)
	directory := service.NewDirectoryService(enrollmentRepo, deviceRepo, cacheSvc, cfg.Cache.WhitelistTTL, logger.Component(log, "directory"))

	a.face = faceclient.New(cfg.FaceID.ServiceURL, cfg.FaceID.Skip, cfg.FaceID.Timeout)
	a.FaceID = service.NewFaceIDService(verifyRepo, a.face, service.FaceIDConfig{
		DefaultThreshold: cfg.FaceID.Threshold,
		DefaultTimeout:   time.Duration(cfg.Engine.FaceIDVerificationTimeoutSeconds) * time.Second,
	}, validate, a.Metrics, logger.Component(log, "faceid"))

	a.Sessions = service.NewSessionService(sessionRepo, roundRepo, a.FaceID, cacheSvc,
		service.SnapshotFromPolicy(cfg.Engine, cfg.FaceID.Threshold), validate, logger.Component(log, "sessions"))
	a.Rounds = service.NewRoundStateService(roundRepo, sessionRepo, a.FaceID, a.Metrics, logger.Component(log, "rounds"))

	a.Graphs = service.NewProximityGraphBuilder(scans, sessionRepo, roundRepo, directory, a.Metrics, logger.Component(log, "proximity"))
	a.Calculator = service.NewAttendanceCalculationService(
		sessionRepo, roundRepo, enrollmentRepo, recordRepo, claimRepo, a.Graphs, directory, a.FaceID,
		cacheSvc, a.Metrics,
		service.CalculationConfig{
			Concurrency: cfg.Engine.EvaluationConcurrency,
			ClaimTTL:    cfg.Engine.ClaimTTL,
			ClaimWait:   cfg.Engine.ClaimWaitTimeout,
			ResultTTL:   cfg.Cache.ResultTTL,
		},
		logger.Component(log, "calculation"),
	)
	a.Aggregation = service.NewAggregationService(enrollmentRepo, sessionRepo, roundRepo, recordRepo, cacheSvc,
		service.AggregationConfig{
			SessionPassFraction:     cfg.Engine.SessionPassFraction,
			AbsenceWarningThreshold: cfg.Engine.AbsenceWarningThreshold,
			RateTTL:                 cfg.Cache.RateTTL,
			SummaryTTL:              cfg.Cache.ResultTTL,
		},
		logger.Component(log, "aggregation"),
	)
	a.Scans = service.NewScanIngestService(a.Source, sessionRepo, roundRepo, deviceRepo, scans, validate, a.Metrics, logger.Component(log, "scans"))
	a.Reviews = service.NewReviewService(sessionRepo, roundRepo, enrollmentRepo, recordRepo, reportRepo, cacheSvc, validate, logger.Component(log, "review"))
	a.Tokens = service.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer)

	a.Rounds.OnCompleted(a.evaluateCompleted)
}

// evaluateCompleted runs the calculation for a round the ticker just completed.
// Failures leave the round Completed for a later manual or CLI evaluation.
func (a *App) evaluateCompleted(ctx context.Context, round models.Round) {
	go func() {
		evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), autoEvaluateTimeout)
		defer cancel()
		result, err := a.Calculator.CalculateAttendanceForRound(evalCtx, round.SessionID, round.ID)
		if err != nil {
			a.Logger.Warn("auto evaluation failed",
				zap.String("session_id", round.SessionID),
				zap.String("round_id", round.ID),
				zap.Error(err))
			return
		}
		a.Logger.Info("round evaluated",
			zap.String("round_id", round.ID),
			zap.String("status", string(result.Status)),
			zap.Int("failures", len(result.Failures)))
	}()
}

// RunWorkers consumes scan messages and ticks rounds until ctx is cancelled.
func (a *App) RunWorkers(ctx context.Context) error {
	queue := jobs.NewQueue("scans", a.Scans.HandleJob, jobs.QueueConfig{
		Workers:    a.Config.Queue.Workers,
		BufferSize: a.Config.Queue.BufferSize,
		MaxRetries: a.Config.Queue.MaxRetries,
		RetryDelay: a.Config.Queue.RetryDelay,
		Logger:     logger.Component(a.Logger, "queue"),
		OnDrop: func(job jobs.Job, err error) {
			a.Metrics.RecordScan(service.ScanResultFailed)
		},
	})
	queue.Start(ctx)
	defer queue.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		jobs.Pump(gctx, a.Source, queue, service.JobTypeScan, logger.Component(a.Logger, "pump"))
		return nil
	})
	g.Go(func() error {
		a.Rounds.Run(gctx, a.Config.Engine.TickInterval)
		return nil
	})
	return g.Wait()
}

// Ping reports whether the relational store and Redis are reachable.
func (a *App) Ping(ctx context.Context) error {
	var errs []error
	if a.DB != nil {
		if err := a.DB.PingContext(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) faceHealth(ctx context.Context) error {
	if a.face == nil {
		return nil
	}
	return a.face.Health(ctx)
}

// Close releases backend connections.
func (a *App) Close(ctx context.Context) {
	if a.Mongo != nil {
		if err := a.Mongo.Disconnect(ctx); err != nil {
			a.Logger.Warn("mongo disconnect failed", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("postgres close failed", zap.Error(err))
		}
	}
}
