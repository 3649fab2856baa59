package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Checkpoint.WaitSecs != 60 {
		t.Errorf("expected checkpoint wait 60, got %d", cfg.Checkpoint.WaitSecs)
	}
	if cfg.Checkpoint.DebounceMs != 1 {
		t.Errorf("expected debounce 1ms, got %d", cfg.Checkpoint.DebounceMs)
	}
	if cfg.Trim.Backpressure != "drop-newest" {
		t.Errorf("expected drop-newest backpressure, got %q", cfg.Trim.Backpressure)
	}
	if cfg.Trim.MinLengthBytes != 4096 {
		t.Errorf("expected min length 4096, got %d", cfg.Trim.MinLengthBytes)
	}
	if cfg.Trim.CooldownThreshold != 10000 {
		t.Errorf("expected cooldown threshold 10000, got %d", cfg.Trim.CooldownThreshold)
	}
	if cfg.IO.MaxChunkBytes != 1<<30 {
		t.Errorf("expected 1GB max chunk, got %d", cfg.IO.MaxChunkBytes)
	}
	if cfg.IO.Placement.Boundary != 131072 {
		t.Errorf("expected boundary 131072, got %d", cfg.IO.Placement.Boundary)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	data := []byte(`
engine:
  dir: /var/lib/strata
  journalCompressor: zstd
checkpoint:
  waitSecs: 0
  logSizeBytes: 1048576
trim:
  backpressure: block
io:
  placement:
    strategy: split
    boundary: 4096
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Engine.Dir != "/var/lib/strata" {
		t.Errorf("dir = %q", cfg.Engine.Dir)
	}
	if cfg.Checkpoint.WaitSecs != 0 || cfg.Checkpoint.LogSizeBytes != 1048576 {
		t.Errorf("checkpoint = %+v", cfg.Checkpoint)
	}
	if cfg.IO.Placement.Strategy != "split" || cfg.IO.Placement.Boundary != 4096 {
		t.Errorf("placement = %+v", cfg.IO.Placement)
	}
	// untouched keys keep their defaults
	if cfg.Trim.MinLengthBytes != 4096 {
		t.Errorf("min length = %d, want default", cfg.Trim.MinLengthBytes)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("engine:\n  bogus: 1\n")); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadFromPathWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.yaml")
	if err := os.WriteFile(path, []byte("checkpoint:\n  waitSecs: 30\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("STRATA_CHECKPOINT_WAIT_SECS", "5")
	t.Setenv("STRATA_TRIM_ENABLED", "false")
	t.Setenv("STRATA_PLACEMENT_STRATEGY", "size")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Checkpoint.WaitSecs != 5 {
		t.Errorf("env should win over file: waitSecs = %d", cfg.Checkpoint.WaitSecs)
	}
	if cfg.Trim.Enabled {
		t.Error("trim should be disabled by env")
	}
	if cfg.IO.Placement.Strategy != "size" {
		t.Errorf("strategy = %q", cfg.IO.Placement.Strategy)
	}
}

func TestLoadWithoutPathUsesDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.Observability.LogLevel)
	}
}

func TestLoadBadEnvValue(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("STRATA_TRIM_FREQ", "lots")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "STRATA_TRIM_FREQ") {
		t.Fatalf("expected error naming STRATA_TRIM_FREQ, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"trim freq zero", func(c *Config) { c.Trim.Freq = 0 }, "trim.freq"},
		{"trim freq too big", func(c *Config) { c.Trim.Freq = 1_000_000_001 }, "trim.freq"},
		{"boundary zero", func(c *Config) { c.IO.Placement.Boundary = 0 }, "boundary"},
		{"boundary too big", func(c *Config) { c.IO.Placement.Boundary = 100_000_000_001 }, "boundary"},
		{"cache size", func(c *Config) { c.Engine.CacheSizeGB = 10001 }, "cacheSizeGB"},
		{"compressor", func(c *Config) { c.Engine.JournalCompressor = "brotli" }, "journalCompressor"},
		{"backpressure", func(c *Config) { c.Trim.Backpressure = "spill" }, "backpressure"},
		{"trim mode", func(c *Config) { c.Trim.Mode = "discard" }, "trim.mode"},
		{"strategy", func(c *Config) { c.IO.Placement.Strategy = "random" }, "strategy"},
		{"alignment", func(c *Config) { c.IO.Alignment = 3000 }, "alignment"},
		{"direct I/O chunk", func(c *Config) {
			c.IO.DirectIO = true
			c.IO.Alignment = 4096
			c.IO.MaxChunkBytes = 6000
		}, "maxChunkBytes"},
		{"negative wait", func(c *Config) { c.Checkpoint.WaitSecs = -1 }, "waitSecs"},
		{"archive bucket", func(c *Config) { c.Archive.Enabled = true }, "archive.bucket"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Trim.Freq = 0
	cfg.Trim.Mode = "bad"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "trim.freq") || !strings.Contains(msg, "trim.mode") {
		t.Errorf("expected both violations, got %q", msg)
	}
}

func TestCacheSizeZeroMeansUnset(t *testing.T) {
	cfg := Default()
	cfg.Engine.CacheSizeGB = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("cacheSizeGB 0 should be valid: %v", err)
	}
}

func TestValidateAcceptsAlignedDirectIOChunk(t *testing.T) {
	cfg := Default()
	cfg.IO.DirectIO = true
	cfg.IO.Alignment = 4096
	cfg.IO.MaxChunkBytes = 8 * 4096
	if err := cfg.Validate(); err != nil {
		t.Errorf("aligned max chunk should be valid: %v", err)
	}

	cfg.IO.DirectIO = false
	cfg.IO.MaxChunkBytes = 6000
	if err := cfg.Validate(); err != nil {
		t.Errorf("buffered I/O has no chunk alignment: %v", err)
	}
}

func TestNegativeDebounceDisables(t *testing.T) {
	cfg := Default()
	cfg.Checkpoint.DebounceMs = -1
	if err := cfg.Validate(); err != nil {
		t.Errorf("negative debounceMs should be accepted: %v", err)
	}
}
