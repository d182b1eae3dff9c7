package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Default() invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"quality zero", func(c *Config) { c.DefaultQuality = 0 }},
		{"quality above 100", func(c *Config) { c.DefaultQuality = 101 }},
		{"chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"local without root", func(c *Config) { c.Storage = StorageLocal }},
		{"s3 without bucket", func(c *Config) { c.Storage = StorageS3 }},
		{"unknown storage", func(c *Config) { c.Storage = "ftp" }},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"negative tolerance", func(c *Config) { c.Search.ToleranceKB = -1 }},
		{"nan tolerance", func(c *Config) { c.Search.ToleranceKB = math.NaN() }},
		{"min above initial", func(c *Config) { c.Search.MinQuality = 90 }},
		{"zero step", func(c *Config) { c.Search.StepSize = 0 }},
		{"zero attempts", func(c *Config) { c.Search.MaxAttempts = 0 }},
		{"no upscale", func(c *Config) { c.Search.UpscaleFactor = 1 }},
		{"grow quality", func(c *Config) { c.Search.GrowQuality = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			if err := Validate(c); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sizefit.yaml")
	yaml := `
worker_count: 3
job_timeout: 10s
storage: local
local:
  root_dir: /var/lib/sizefit
search:
  tolerance_kb: 2.5
  max_attempts: 8
history:
  path: /var/lib/sizefit/history.zst
log_level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WorkerCount != 3 || cfg.JobTimeout != 10*time.Second {
		t.Errorf("worker/timeout: %d %v", cfg.WorkerCount, cfg.JobTimeout)
	}
	if cfg.Storage != StorageLocal || cfg.Local.RootDir != "/var/lib/sizefit" {
		t.Errorf("storage: %s %q", cfg.Storage, cfg.Local.RootDir)
	}
	if cfg.Search.ToleranceKB != 2.5 || cfg.Search.MaxAttempts != 8 {
		t.Errorf("search: %+v", cfg.Search)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Search.InitialQuality != 80 || cfg.QueueSize != 256 || cfg.History.Limit != 20 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file: expected error")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("search: [not, a, map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Error("malformed yaml: expected error")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("default_quality: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(invalid); err == nil {
		t.Error("invalid config: expected error")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"WORKER_COUNT", "5")
	t.Setenv(EnvPrefix+"TOLERANCE_KB", "1.5")
	t.Setenv(EnvPrefix+"JOB_TIMEOUT", "2m")
	t.Setenv(EnvPrefix+"LOG_LEVEL", "warn")

	cfg, err := ApplyEnv(Default())
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.WorkerCount != 5 || cfg.Search.ToleranceKB != 1.5 || cfg.JobTimeout != 2*time.Minute || cfg.LogLevel != "warn" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestApplyEnv_DotEnvFile(t *testing.T) {
	key := EnvPrefix + "HISTORY_LIMIT"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := ApplyEnv(Default(), path, filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.History.Limit != 7 {
		t.Errorf("History.Limit = %d, want 7", cfg.History.Limit)
	}
}

func TestApplyEnv_BadNumber(t *testing.T) {
	t.Setenv(EnvPrefix+"MAX_ATTEMPTS", "lots")
	if _, err := ApplyEnv(Default()); err == nil {
		t.Error("expected a parse error")
	}
}

func TestApplyEnv_ResultIsValidated(t *testing.T) {
	t.Setenv(EnvPrefix+"STORAGE", "local")
	if _, err := ApplyEnv(Default()); err == nil {
		t.Error("local storage without a root should fail validation")
	}
}
