/**
 * Configuration for the segmentation worker
 *
 * Loads configuration from environment variables (a .env file is applied
 * first by the entry points).
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/adverant/nexus/segmentation-worker/internal/errors"
	"github.com/adverant/nexus/segmentation-worker/internal/segmentation"
)

// Queue backends
const (
	BackendRedis = "redis"
	BackendAsynq = "asynq"
)

// Config holds worker configuration
type Config struct {
	// Queue configuration
	RedisURL     string
	QueueName    string
	QueueBackend string

	// PostgreSQL configuration (empty disables persistence)
	DatabaseURL string

	// Qdrant layout index (empty disables indexing)
	QdrantURL        string
	QdrantCollection string

	// Worker configuration
	WorkerConcurrency int
	PageConcurrency   int
	JobRateLimit      float64 // jobs started per second, 0 = unlimited
	MaxFileSize       int64
	ProcessingTimeout int // milliseconds

	// Collaborators
	TempDir           string
	PdftoppmPath      string
	PdfinfoPath       string
	TesseractLanguage string
	OCRFallback       bool
	ImageSourceDPI    float64
	DebugImageDir     string

	// Logging
	LogLevel  string
	LogFormat string

	// Segmentation thresholds
	WhiteSpaceMaxRatio float64
	MinWhiteSpaceRun   int
	MinSizeMM          float64
	SegmentDPI         float64
	ScaleDown          int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		QueueName:          getEnvOrDefault("QUEUE_NAME", "segmentation:jobs"),
		QueueBackend:       strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", BackendRedis)),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", ""),
		QdrantURL:          getEnvOrDefault("QDRANT_URL", ""),
		QdrantCollection:   getEnvOrDefault("QDRANT_COLLECTION", "segmentation_layouts"),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		PageConcurrency:    getEnvAsIntOrDefault("PAGE_CONCURRENCY", 4),
		JobRateLimit:       getEnvAsFloatOrDefault("JOB_RATE_LIMIT", 0),
		MaxFileSize:        getEnvAsInt64OrDefault("MAX_FILE_SIZE", 524288000), // 500MB
		ProcessingTimeout:  getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		TempDir:            getEnvOrDefault("TEMP_DIR", os.TempDir()),
		PdftoppmPath:       getEnvOrDefault("PDFTOPPM_PATH", "pdftoppm"),
		PdfinfoPath:        getEnvOrDefault("PDFINFO_PATH", "pdfinfo"),
		TesseractLanguage:  getEnvOrDefault("TESSERACT_LANGUAGE", "eng"),
		OCRFallback:        getEnvAsBoolOrDefault("OCR_FALLBACK", true),
		ImageSourceDPI:     getEnvAsFloatOrDefault("IMAGE_SOURCE_DPI", 300),
		DebugImageDir:      getEnvOrDefault("DEBUG_IMAGE_DIR", ""),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if err := cfg.loadSegmentation(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.QueueBackend != BackendRedis && c.QueueBackend != BackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", BackendRedis, BackendAsynq, c.QueueBackend)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.PageConcurrency < 1 || c.PageConcurrency > 64 {
		return fmt.Errorf("PAGE_CONCURRENCY must be between 1 and 64, got %d", c.PageConcurrency)
	}

	if c.JobRateLimit < 0 {
		return fmt.Errorf("JOB_RATE_LIMIT must not be negative, got %v", c.JobRateLimit)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 10737418240 { // 1KB to 10GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 10GB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.ImageSourceDPI <= 0 {
		return fmt.Errorf("IMAGE_SOURCE_DPI must be positive, got %v", c.ImageSourceDPI)
	}

	return c.SegmentationParams().Validate()
}

// SegmentationParams converts the SEGMENT_* settings into thresholds.
func (c *Config) SegmentationParams() segmentation.Params {
	return segmentation.Params{
		WhiteSpaceMaxRatio: c.WhiteSpaceMaxRatio,
		MinWhiteSpaceRun:   c.MinWhiteSpaceRun,
		MinSize:            segmentation.MinSizeFromMM(c.MinSizeMM, c.SegmentDPI),
		DPI:                c.SegmentDPI,
		ScaleDown:          c.ScaleDown,
	}
}

// Timeout returns PROCESSING_TIMEOUT as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// TesseractLanguages splits TESSERACT_LANGUAGE on '+' or ','.
func (c *Config) TesseractLanguages() []string {
	fields := strings.FieldsFunc(c.TesseractLanguage, func(r rune) bool {
		return r == '+' || r == ','
	})
	langs := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			langs = append(langs, f)
		}
	}
	return langs
}

// loadSegmentation reads the SEGMENT_* thresholds. Unlike the other keys, a
// malformed value is a configuration error rather than a silent default.
func (c *Config) loadSegmentation() error {
	var err error
	if c.WhiteSpaceMaxRatio, err = parseEnvFloat("SEGMENT_WHITESPACE_MAX_RATIO", 0.04); err != nil {
		return err
	}
	if c.MinWhiteSpaceRun, err = parseEnvInt("SEGMENT_MIN_WHITESPACE_RUN", 5); err != nil {
		return err
	}
	if c.MinSizeMM, err = parseEnvFloat("SEGMENT_MIN_SIZE_MM", 8); err != nil {
		return err
	}
	if c.SegmentDPI, err = parseEnvFloat("SEGMENT_DPI", 36); err != nil {
		return err
	}
	c.ScaleDown, err = parseEnvInt("SEGMENT_SCALE_DOWN", 2)
	return err
}

func parseEnvFloat(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		return 0, apperrors.NewConfigurationError(key, valueStr, "not a number")
	}
	return value, nil
}

func parseEnvInt(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return 0, apperrors.NewConfigurationError(key, valueStr, "not an integer")
	}
	return value, nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
