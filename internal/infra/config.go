package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	JobStorePostgres = "postgres"
	JobStoreMemory   = "memory"

	StorageMinIO      = "minio"
	StorageFilesystem = "filesystem"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv          string
	Port            string
	DatabaseURL     string
	DBMaxConns      int32
	JobStore        string
	JWTSecret       string
	DefaultLocale   string
	GeoIPDBPath     string
	CORSOrigins     []string
	RateLimitPerMin int
	MaxUploadBytes  int64
	MaxImageDim     int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	StorageDriver  string
	StoragePath    string
	StorageBaseURL string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool

	SegmentationProviders []string
	RembgURL              string
	RemoveBGAPIKey        string
	RemoveBGURL           string
	ChromaKeyTolerance    int

	WorkerPollInterval time.Duration
	WorkerStopTimeout  time.Duration
	WorkerEmbedded     bool
	WorkerMetricsAddr  string
	StageTimeout       time.Duration
	JobMaxAttempts     int
	RetryBackoff       []time.Duration

	RedisURL     string
	RedisChannel string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:          getEnv("APP_ENV", "development"),
		Port:            port,
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DBMaxConns:      int32(getEnvInt("DB_MAX_CONNS", 10)),
		JobStore:        strings.ToLower(getEnv("JOB_STORE", JobStorePostgres)),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		DefaultLocale:   getEnv("DEFAULT_LOCALE", "en"),
		GeoIPDBPath:     os.Getenv("GEOIP_DB_PATH"),
		CORSOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		MaxImageDim:     getEnvInt("MAX_IMAGE_DIMENSION", 8000),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", StorageFilesystem)),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinIOSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinIOUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		SegmentationProviders: getEnvList("SEGMENTATION_PROVIDERS", []string{"rembg", "removebg", "chroma-key"}),
		RembgURL:              getEnv("REMBG_URL", "http://localhost:7000"),
		RemoveBGAPIKey:        os.Getenv("REMOVEBG_API_KEY"),
		RemoveBGURL:           os.Getenv("REMOVEBG_URL"),
		ChromaKeyTolerance:    getEnvInt("CHROMA_KEY_TOLERANCE", 40),

		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		WorkerStopTimeout:  getEnvDuration("WORKER_STOP_TIMEOUT", 30*time.Second),
		WorkerEmbedded:     getEnvBool("WORKER_EMBEDDED", false),
		WorkerMetricsAddr:  getEnv("WORKER_METRICS_ADDR", ":9102"),
		StageTimeout:       getEnvDuration("STAGE_TIMEOUT", 2*time.Minute),
		JobMaxAttempts:     getEnvInt("JOB_MAX_ATTEMPTS", 3),

		RedisURL:     os.Getenv("REDIS_URL"),
		RedisChannel: getEnv("REDIS_CHANNEL", "packshot:jobs"),
	}

	backoff, err := parseDurations(getEnv("RETRY_BACKOFF", "2s,4s,8s"))
	if err != nil {
		return nil, fmt.Errorf("RETRY_BACKOFF: %w", err)
	}
	cfg.RetryBackoff = backoff

	switch cfg.JobStore {
	case JobStorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case JobStoreMemory:
	default:
		return nil, fmt.Errorf("JOB_STORE %q is not supported", cfg.JobStore)
	}

	switch cfg.StorageDriver {
	case StorageFilesystem, StorageMinIO:
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER %q is not supported", cfg.StorageDriver)
	}

	if cfg.JobMaxAttempts <= 0 {
		return nil, fmt.Errorf("JOB_MAX_ATTEMPTS must be positive")
	}
	if cfg.WorkerPollInterval <= 0 {
		return nil, fmt.Errorf("WORKER_POLL_INTERVAL must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	if d, err := parseDuration(v); err == nil {
		return d
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func parseDurations(v string) ([]time.Duration, error) {
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := parseDuration(part)
		if err != nil {
			return nil, err
		}
		if d < 0 {
			return nil, fmt.Errorf("negative delay %s", part)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one delay is required")
	}
	return out, nil
}
