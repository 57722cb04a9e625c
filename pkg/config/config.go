package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Scan store backends.
const (
	ScanStorePostgres = "postgres"
	ScanStoreMongo    = "mongo"
)

// Queue backends.
const (
	QueueBackendRedis  = "redis"
	QueueBackendMemory = "memory"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Mongo    MongoConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Queue    QueueConfig
	Engine   EngineConfig
	FaceID   FaceIDConfig
	Cache    CacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

// MongoConfig is only used when the scan store backend is "mongo".
type MongoConfig struct {
	URI            string
	Database       string
	ScanCollection string
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// QueueConfig configures scan message consumption.
type QueueConfig struct {
	Backend    string
	Key        string
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	PopTimeout time.Duration
}

// EngineConfig holds the global attendance policy. Sessions copy it into their
// config snapshot at creation time and never read it again.
type EngineConfig struct {
	ScanStore                        string
	TickInterval                     time.Duration
	AttendanceWindowMinutes          int
	FaceIDVerificationTimeoutSeconds int
	TotalAttendanceRounds            int
	AbsentReportGracePeriodHours     int
	ManualAdjustmentGracePeriodHours int
	RSSIThreshold                    int
	AnchorTrust                      string
	MaxHops                          int
	BiometricPolicy                  string
	SessionPassFraction              float64
	AbsenceWarningThreshold          float64
	EvaluationConcurrency            int
	ClaimTTL                         time.Duration
	ClaimWaitTimeout                 time.Duration
}

// FaceIDConfig points at the external similarity scorer.
type FaceIDConfig struct {
	ServiceURL string
	Skip       bool
	Threshold  float64
	Timeout    time.Duration
}

// CacheConfig governs evaluation and rate caching.
type CacheConfig struct {
	Enabled      bool
	ResultTTL    time.Duration
	RateTTL      time.Duration
	WhitelistTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		QueryTimeout: parseDuration(v.GetString("DB_QUERY_TIMEOUT"), 5*time.Second),
	}

	cfg.Mongo = MongoConfig{
		URI:            v.GetString("MONGO_URI"),
		Database:       v.GetString("MONGO_DATABASE"),
		ScanCollection: v.GetString("MONGO_SCAN_COLLECTION"),
		ConnectTimeout: parseDuration(v.GetString("MONGO_CONNECT_TIMEOUT"), 10*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Queue = QueueConfig{
		Backend:    strings.ToLower(v.GetString("QUEUE_BACKEND")),
		Key:        v.GetString("QUEUE_SCAN_KEY"),
		Workers:    v.GetInt("QUEUE_WORKERS"),
		BufferSize: v.GetInt("QUEUE_BUFFER_SIZE"),
		MaxRetries: v.GetInt("QUEUE_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("QUEUE_RETRY_DELAY"), time.Second),
		PopTimeout: parseDuration(v.GetString("QUEUE_POP_TIMEOUT"), 5*time.Second),
	}

	cfg.Engine = EngineConfig{
		ScanStore:                        strings.ToLower(v.GetString("SCAN_STORE")),
		TickInterval:                     parseDuration(v.GetString("ROUND_TICK_INTERVAL"), 15*time.Second),
		AttendanceWindowMinutes:          v.GetInt("ATTENDANCE_WINDOW_MINUTES"),
		FaceIDVerificationTimeoutSeconds: v.GetInt("FACEID_VERIFICATION_TIMEOUT_SECONDS"),
		TotalAttendanceRounds:            v.GetInt("TOTAL_ATTENDANCE_ROUNDS"),
		AbsentReportGracePeriodHours:     v.GetInt("ABSENT_REPORT_GRACE_PERIOD_HOURS"),
		ManualAdjustmentGracePeriodHours: v.GetInt("MANUAL_ADJUSTMENT_GRACE_PERIOD_HOURS"),
		RSSIThreshold:                    v.GetInt("RSSI_THRESHOLD"),
		AnchorTrust:                      strings.ToLower(v.GetString("ANCHOR_TRUST")),
		MaxHops:                          v.GetInt("PROXIMITY_MAX_HOPS"),
		BiometricPolicy:                  strings.ToLower(v.GetString("BIOMETRIC_POLICY")),
		SessionPassFraction:              v.GetFloat64("SESSION_PASS_FRACTION"),
		AbsenceWarningThreshold:          v.GetFloat64("ABSENCE_WARNING_THRESHOLD"),
		EvaluationConcurrency:            v.GetInt("EVALUATION_CONCURRENCY"),
		ClaimTTL:                         parseDuration(v.GetString("EVALUATION_CLAIM_TTL"), 2*time.Minute),
		ClaimWaitTimeout:                 parseDuration(v.GetString("EVALUATION_CLAIM_WAIT"), 45*time.Second),
	}

	cfg.FaceID = FaceIDConfig{
		ServiceURL: v.GetString("FACE_SERVICE_URL"),
		Skip:       v.GetBool("FACE_SKIP"),
		Threshold:  v.GetFloat64("FACEID_THRESHOLD"),
		Timeout:    parseDuration(v.GetString("FACE_SERVICE_TIMEOUT"), 10*time.Second),
	}

	cfg.Cache = CacheConfig{
		Enabled:      v.GetBool("ENABLE_CACHE"),
		ResultTTL:    parseDuration(v.GetString("ROUND_RESULT_CACHE_TTL"), 24*time.Hour),
		RateTTL:      parseDuration(v.GetString("ATTENDANCE_RATE_CACHE_TTL"), 10*time.Minute),
		WhitelistTTL: parseDuration(v.GetString("WHITELIST_CACHE_TTL"), 24*time.Hour),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "attendance_engine")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_QUERY_TIMEOUT", "5s")

	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DATABASE", "attendance_engine")
	v.SetDefault("MONGO_SCAN_COLLECTION", "bluetooth_scans")
	v.SetDefault("MONGO_CONNECT_TIMEOUT", "10s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("QUEUE_BACKEND", QueueBackendRedis)
	v.SetDefault("QUEUE_SCAN_KEY", "attendance:scans")
	v.SetDefault("QUEUE_WORKERS", 4)
	v.SetDefault("QUEUE_BUFFER_SIZE", 64)
	v.SetDefault("QUEUE_MAX_RETRIES", 3)
	v.SetDefault("QUEUE_RETRY_DELAY", "1s")
	v.SetDefault("QUEUE_POP_TIMEOUT", "5s")

	v.SetDefault("SCAN_STORE", ScanStorePostgres)
	v.SetDefault("ROUND_TICK_INTERVAL", "15s")
	v.SetDefault("ATTENDANCE_WINDOW_MINUTES", 5)
	v.SetDefault("FACEID_VERIFICATION_TIMEOUT_SECONDS", 30)
	v.SetDefault("TOTAL_ATTENDANCE_ROUNDS", 3)
	v.SetDefault("ABSENT_REPORT_GRACE_PERIOD_HOURS", 24)
	v.SetDefault("MANUAL_ADJUSTMENT_GRACE_PERIOD_HOURS", 48)
	v.SetDefault("RSSI_THRESHOLD", -70)
	v.SetDefault("ANCHOR_TRUST", "asymmetric")
	v.SetDefault("PROXIMITY_MAX_HOPS", 1)
	v.SetDefault("BIOMETRIC_POLICY", "first_last")
	v.SetDefault("SESSION_PASS_FRACTION", 0.75)
	v.SetDefault("ABSENCE_WARNING_THRESHOLD", 80.0)
	v.SetDefault("EVALUATION_CONCURRENCY", 16)
	v.SetDefault("EVALUATION_CLAIM_TTL", "2m")
	v.SetDefault("EVALUATION_CLAIM_WAIT", "45s")

	v.SetDefault("FACE_SERVICE_URL", "http://localhost:8000")
	v.SetDefault("FACE_SKIP", false)
	v.SetDefault("FACEID_THRESHOLD", 0.7)
	v.SetDefault("FACE_SERVICE_TIMEOUT", "10s")

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("ROUND_RESULT_CACHE_TTL", "24h")
	v.SetDefault("ATTENDANCE_RATE_CACHE_TTL", "10m")
	v.SetDefault("WHITELIST_CACHE_TTL", "24h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
