package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ocrbatch server and worker.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AWS       AWSConfig
	Worker    WorkerConfig
	Cleanup   CleanupConfig
	Extractor ExtractorConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	LogLevel        string
	APIKeyHash      string
	RateLimitPerMin int
	UploadMaxBytes  int64
	MetricsAddr     string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// AWSConfig covers the content store (S3), work queue (SQS) and audit log
// (DynamoDB). EndpointURL overrides every service endpoint, which is how
// LocalStack and MinIO are reached in development.
type AWSConfig struct {
	Region          string
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	QueueURL        string
	AuditTable      string
	Retention       time.Duration
}

type WorkerConfig struct {
	MaxMessages             int
	WaitTime                time.Duration
	VisibilityTimeout       time.Duration
	IdleBackoff             time.Duration
	ErrorBackoff            time.Duration
	Concurrency             int
	// BatchParallelism caps concurrent handlers within one received batch;
	// 0 runs one handler per delivery.
	BatchParallelism        int
	ItemNotFoundMaxReceives int
}

type CleanupConfig struct {
	BatchSize int
}

type ExtractorConfig struct {
	Backend   string
	Tesseract TesseractConfig
	HTTP      HTTPExtractorConfig
}

type TesseractConfig struct {
	Binary string
	Lang   string
	PSM    int
}

type HTTPExtractorConfig struct {
	URL     string
	Timeout time.Duration
}

var validBackends = map[string]bool{
	"tesseract": true,
	"http":      true,
	"plaintext": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("OCRBATCH_PORT", 8080),
			Env:             envString("OCRBATCH_ENV", "development"),
			LogLevel:        strings.ToLower(envString("LOG_LEVEL", "info")),
			APIKeyHash:      os.Getenv("API_KEY_HASH"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
			UploadMaxBytes:  int64(envInt("UPLOAD_MAX_BYTES", 50<<20)),
			MetricsAddr:     envString("METRICS_ADDR", ":9091"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AWS: AWSConfig{
			Region:          envString("AWS_REGION", "us-east-1"),
			EndpointURL:     os.Getenv("AWS_ENDPOINT_URL"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Bucket:          os.Getenv("S3_BUCKET"),
			QueueURL:        os.Getenv("SQS_QUEUE_URL"),
			AuditTable:      envString("DDB_TABLE_LOGS", "ocrbatch-audit-logs"),
			Retention:       envDurationSecs("SQS_RETENTION_SECONDS", 48*time.Hour),
		},
		Worker: WorkerConfig{
			MaxMessages:             envInt("WORKER_MAX_MESSAGES", 5),
			WaitTime:                envDurationSecs("WORKER_WAIT_SECONDS", 20*time.Second),
			VisibilityTimeout:       envDurationSecs("WORKER_VISIBILITY_TIMEOUT_SECS", 60*time.Second),
			IdleBackoff:             envDuration("WORKER_IDLE_BACKOFF", 0),
			ErrorBackoff:            envDuration("WORKER_ERROR_BACKOFF", 5*time.Second),
			Concurrency:             envInt("WORKER_CONCURRENCY", 1),
			BatchParallelism:        envInt("WORKER_BATCH_PARALLELISM", 0),
			ItemNotFoundMaxReceives: envInt("ITEM_NOT_FOUND_MAX_RECEIVES", 3),
		},
		Cleanup: CleanupConfig{
			BatchSize: envInt("CLEANUP_BATCH_SIZE", 1000),
		},
		Extractor: ExtractorConfig{
			Backend: envString("EXTRACTOR", "tesseract"),
			Tesseract: TesseractConfig{
				Binary: envString("TESSERACT_BIN", "tesseract"),
				Lang:   envString("TESSERACT_LANG", "eng"),
				PSM:    envInt("TESSERACT_PSM", 3),
			},
			HTTP: HTTPExtractorConfig{
				URL:     os.Getenv("OCR_SERVICE_URL"),
				Timeout: envDuration("OCR_SERVICE_TIMEOUT", 60*time.Second),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AWS.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	if c.AWS.QueueURL == "" {
		return fmt.Errorf("SQS_QUEUE_URL is required")
	}
	if c.AWS.EndpointURL != "" && !strings.HasPrefix(c.AWS.EndpointURL, "http://") && !strings.HasPrefix(c.AWS.EndpointURL, "https://") {
		return fmt.Errorf("AWS_ENDPOINT_URL must start with http:// or https://, got %q", c.AWS.EndpointURL)
	}
	if c.AWS.Retention <= 0 {
		return fmt.Errorf("SQS_RETENTION_SECONDS must be positive")
	}

	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	// SQS caps a single receive at 10 messages and a long poll at 20 seconds.
	if c.Worker.MaxMessages < 1 || c.Worker.MaxMessages > 10 {
		return fmt.Errorf("WORKER_MAX_MESSAGES must be between 1 and 10, got %d", c.Worker.MaxMessages)
	}
	if c.Worker.WaitTime < 0 || c.Worker.WaitTime > 20*time.Second {
		return fmt.Errorf("WORKER_WAIT_SECONDS must be between 0 and 20, got %s", c.Worker.WaitTime)
	}
	if c.Worker.VisibilityTimeout <= 0 {
		return fmt.Errorf("WORKER_VISIBILITY_TIMEOUT_SECS must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.BatchParallelism < 0 {
		return fmt.Errorf("WORKER_BATCH_PARALLELISM must not be negative, got %d", c.Worker.BatchParallelism)
	}
	if c.Worker.ItemNotFoundMaxReceives < 1 {
		return fmt.Errorf("ITEM_NOT_FOUND_MAX_RECEIVES must be at least 1, got %d", c.Worker.ItemNotFoundMaxReceives)
	}

	if c.Cleanup.BatchSize < 1 || c.Cleanup.BatchSize > 1000 {
		return fmt.Errorf("CLEANUP_BATCH_SIZE must be between 1 and 1000, got %d", c.Cleanup.BatchSize)
	}

	if !validBackends[c.Extractor.Backend] {
		return fmt.Errorf("EXTRACTOR must be one of tesseract, http, plaintext; got %q", c.Extractor.Backend)
	}
	if c.Extractor.Backend == "http" {
		u := c.Extractor.HTTP.URL
		if u == "" {
			return fmt.Errorf("OCR_SERVICE_URL is required when EXTRACTOR is http")
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("OCR_SERVICE_URL must start with http:// or https://, got %q", u)
		}
	}

	return nil
}

// SlogLevel maps LOG_LEVEL onto a slog level. Load has already rejected
// unknown values.
func (c ServerConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
