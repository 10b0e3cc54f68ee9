package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.StoreBackend != BackendNATS {
		t.Fatalf("defaults = port %q backend %q, want 8080 nats", cfg.Port, cfg.StoreBackend)
	}
	if cfg.PollInterval != 1500*time.Millisecond || cfg.BatchSize != 3 {
		t.Fatalf("poll defaults = %s / %d, want 1.5s / 3", cfg.PollInterval, cfg.BatchSize)
	}
	if cfg.HeartbeatInterval != 5*time.Second || cfg.LeaseTimeout != 20*time.Second {
		t.Fatalf("lease defaults = %s / %s, want 5s / 20s", cfg.HeartbeatInterval, cfg.LeaseTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults error = %v", err)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("LEASE_TIMEOUT", "1m")
	t.Setenv("BATCH_SIZE", "7")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.StoreBackend != BackendMemory || cfg.LeaseTimeout != time.Minute || cfg.BatchSize != 7 {
		t.Fatalf("LoadConfig() = %+v", cfg)
	}
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("TRANSCODE_PRESET=slow\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("TRANSCODE_PRESET") })

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Preset != "slow" {
		t.Fatalf("Preset = %q, want slow", cfg.Preset)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.env")); err == nil {
		t.Fatal("LoadConfig() with a missing explicit file returned nil error")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		StoreBackend:      BackendMemory,
		HeartbeatInterval: 5 * time.Second,
		LeaseTimeout:      20 * time.Second,
		PollInterval:      time.Second,
		BatchSize:         3,
		ReclaimSchedule:   "@every 5s",
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"heartbeat margin", func(c *Config) { c.HeartbeatInterval = 10 * time.Second }, "at least 3x"},
		{"unknown backend", func(c *Config) { c.StoreBackend = "dynamo" }, "unknown STORE_BACKEND"},
		{"postgres without dsn", func(c *Config) { c.StoreBackend = BackendPostgres }, "POSTGRES_DSN"},
		{"batch size", func(c *Config) { c.BatchSize = 0 }, "BATCH_SIZE"},
		{"poll interval", func(c *Config) { c.PollInterval = 0 }, "POLL_INTERVAL"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("Validate() on valid config error = %v", err)
	}
	for _, tt := range tests {
		cfg := base
		tt.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: Validate() error = %v, want mention of %q", tt.name, err, tt.want)
		}
	}
}
