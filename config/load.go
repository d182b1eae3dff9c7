package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "SIZEFIT_"

// Load reads a YAML file on top of Default() and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv loads the given .env files (missing files are ignored) and then
// applies SIZEFIT_* variables on top of c. Variables already present in the
// process environment win over .env values.
func ApplyEnv(c Config, files ...string) (Config, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return c, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	var err error
	setInt := func(name string, dst *int) {
		if err != nil {
			return
		}
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			var n int
			if n, err = strconv.Atoi(v); err != nil {
				err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
				return
			}
			*dst = n
		}
	}
	setFloat := func(name string, dst *float64) {
		if err != nil {
			return
		}
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			var f float64
			if f, err = strconv.ParseFloat(v, 64); err != nil {
				err = fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
				return
			}
			*dst = f
		}
	}
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	setInt("WORKER_COUNT", &c.WorkerCount)
	setInt("QUEUE_SIZE", &c.QueueSize)
	setInt("DEFAULT_QUALITY", &c.DefaultQuality)
	setFloat("TOLERANCE_KB", &c.Search.ToleranceKB)
	setInt("INITIAL_QUALITY", &c.Search.InitialQuality)
	setInt("MIN_QUALITY", &c.Search.MinQuality)
	setInt("STEP_SIZE", &c.Search.StepSize)
	setInt("MAX_ATTEMPTS", &c.Search.MaxAttempts)
	setFloat("UPSCALE_FACTOR", &c.Search.UpscaleFactor)
	setInt("GROW_QUALITY", &c.Search.GrowQuality)
	setInt("CORRECTION_QUALITY", &c.Search.CorrectionQuality)
	setInt("HISTORY_LIMIT", &c.History.Limit)
	if err != nil {
		return c, err
	}

	var storage string
	setString("STORAGE", &storage)
	if storage != "" {
		c.Storage = StorageBackend(storage)
	}
	setString("LOCAL_ROOT", &c.Local.RootDir)
	setString("LOCAL_BASE_URL", &c.Local.BaseURL)
	setString("S3_BUCKET", &c.S3.Bucket)
	setString("S3_REGION", &c.S3.Region)
	setString("HISTORY_PATH", &c.History.Path)
	setString("LOG_LEVEL", &c.LogLevel)

	if v, ok := os.LookupEnv(EnvPrefix + "JOB_TIMEOUT"); ok {
		d, perr := time.ParseDuration(v)
		if perr != nil {
			return c, fmt.Errorf("%sJOB_TIMEOUT: %w", EnvPrefix, perr)
		}
		c.JobTimeout = d
	}

	return c, Validate(c)
}
