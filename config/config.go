package config

import (
	"errors"
	"math"
	"time"
)

// StorageBackend selects the storage adapter.
type StorageBackend string

const (
	StorageNone  StorageBackend = "none"
	StorageLocal StorageBackend = "local"
	StorageS3    StorageBackend = "s3"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Worker pool controls.
	WorkerCount int           `yaml:"worker_count"` // default: runtime.NumCPU()
	QueueSize   int           `yaml:"queue_size"`   // max queued jobs before backpressure; default: 256
	JobTimeout  time.Duration `yaml:"job_timeout"`

	// Retry of transient failures (storage).
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	// Default encode quality used when no step overrides it.
	DefaultQuality int `yaml:"default_quality"` // 1-100; default 85

	// Streaming / memory limits.
	MaxImageBytes int64 `yaml:"max_image_bytes"` // 0 = no limit
	ChunkSize     int   `yaml:"chunk_size"`      // streaming chunk size in bytes; default 32 KiB

	// Size-targeting search.
	Search SearchConfig `yaml:"search"`

	// Storage.
	Storage StorageBackend `yaml:"storage"`
	Local   LocalConfig    `yaml:"local"`
	S3      S3Config       `yaml:"s3"`

	// History.
	History HistoryConfig `yaml:"history"`

	// Logging.
	LogLevel string `yaml:"log_level"` // "debug", "info", "warn", "error"
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string `yaml:"root_dir"`
	Permissions uint32 `yaml:"permissions"` // default 0644
	BaseURL     string `yaml:"base_url"`    // optional prefix for returned references
}

// S3Config configures the AWS S3 storage adapter.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"` // optional custom endpoint (MinIO, etc.)
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// HistoryConfig selects where completed resizes are recorded.
type HistoryConfig struct {
	Path  string `yaml:"path"`  // zstd journal file; empty keeps history in memory
	Limit int    `yaml:"limit"` // default listing size; default 20
}

// SearchConfig controls the size-targeting algorithm.
type SearchConfig struct {
	ToleranceKB       float64 `yaml:"tolerance_kb"`       // default 5
	InitialQuality    int     `yaml:"initial_quality"`    // first lossy attempt; default 80
	MinQuality        int     `yaml:"min_quality"`        // floor; default 10
	StepSize          int     `yaml:"step_size"`          // quality decrement per attempt; default 5
	MaxAttempts       int     `yaml:"max_attempts"`       // hard iteration cap; default 16
	UpscaleFactor     float64 `yaml:"upscale_factor"`     // grow-path scale; default 1.15
	GrowQuality       int     `yaml:"grow_quality"`       // encode quality of the upscaled image; default 90
	CorrectionQuality int     `yaml:"correction_quality"` // overshoot correction; default 85
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		WorkerCount:    0, // resolved at runtime to NumCPU
		QueueSize:      256,
		JobTimeout:     30 * time.Second,
		MaxRetries:     3,
		RetryDelay:     200 * time.Millisecond,
		DefaultQuality: 85,
		ChunkSize:      32 * 1024,
		Search:         DefaultSearch(),
		Storage:        StorageNone,
		Local:          LocalConfig{Permissions: 0o644},
		History:        HistoryConfig{Limit: 20},
		LogLevel:       "info",
	}
}

// DefaultSearch returns the default search tuning.
func DefaultSearch() SearchConfig {
	return SearchConfig{
		ToleranceKB:       5,
		InitialQuality:    80,
		MinQuality:        10,
		StepSize:          5,
		MaxAttempts:       16,
		UpscaleFactor:     1.15,
		GrowQuality:       90,
		CorrectionQuality: 85,
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		return errors.New("config: DefaultQuality must be between 1 and 100")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if err := ValidateSearch(c.Search); err != nil {
		return err
	}
	switch c.Storage {
	case "", StorageNone:
	case StorageLocal:
		if c.Local.RootDir == "" {
			return errors.New("config: Local.RootDir is required for local storage")
		}
	case StorageS3:
		if c.S3.Bucket == "" {
			return errors.New("config: S3.Bucket is required for s3 storage")
		}
	default:
		return errors.New("config: unknown storage backend " + string(c.Storage))
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.New("config: LogLevel must be one of debug, info, warn, error")
	}
	return nil
}

// ValidateSearch checks the search tuning on its own.
func ValidateSearch(s SearchConfig) error {
	if s.ToleranceKB < 0 || math.IsNaN(s.ToleranceKB) || math.IsInf(s.ToleranceKB, 0) {
		return errors.New("config: Search.ToleranceKB must be a non-negative number")
	}
	if s.MinQuality < 1 || s.InitialQuality > 100 {
		return errors.New("config: Search qualities must be between 1 and 100")
	}
	if s.MinQuality > s.InitialQuality {
		return errors.New("config: Search.MinQuality must not exceed InitialQuality")
	}
	if s.StepSize <= 0 {
		return errors.New("config: Search.StepSize must be positive")
	}
	if s.MaxAttempts <= 0 {
		return errors.New("config: Search.MaxAttempts must be positive")
	}
	if s.UpscaleFactor <= 1 || math.IsNaN(s.UpscaleFactor) || math.IsInf(s.UpscaleFactor, 0) {
		return errors.New("config: Search.UpscaleFactor must be greater than 1")
	}
	if s.GrowQuality < 1 || s.GrowQuality > 100 || s.CorrectionQuality < 1 || s.CorrectionQuality > 100 {
		return errors.New("config: Search.GrowQuality and CorrectionQuality must be between 1 and 100")
	}
	return nil
}
