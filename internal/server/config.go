package server

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendNATS     = "nats"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds server configuration from environment variables.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	GRPCPort string `env:"GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StoreBackend     string `env:"STORE_BACKEND" envDefault:"nats"`
	NatsURL          string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	RedisURL         string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	PostgresDSN      string `env:"POSTGRES_DSN"`
	PostgresMaxConns int    `env:"POSTGRES_MAX_CONNS" envDefault:"8"`
	BlobDir          string `env:"BLOB_DIR" envDefault:"./data/objects"`

	WorkerID          string        `env:"WORKER_ID"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"1500ms"`
	BatchSize         int           `env:"BATCH_SIZE" envDefault:"3"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`
	LeaseTimeout      time.Duration `env:"LEASE_TIMEOUT" envDefault:"20s"`
	ReclaimSchedule   string        `env:"RECLAIM_SCHEDULE" envDefault:"@every 5s"`

	FFmpegPath      string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	Preset          string        `env:"TRANSCODE_PRESET" envDefault:"veryfast"`
	TempDir         string        `env:"TRANSCODE_TMPDIR"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// LoadConfig reads configuration from the environment after loading
// envFile. An empty envFile loads ./.env when it exists.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the queue cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendNATS, BackendRedis, BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_INTERVAL must be positive"))
	}
	// Renewals must fit at least three times into one lease so that a
	// heartbeat delayed by scheduling jitter does not expire the lease.
	if c.HeartbeatInterval*3 > c.LeaseTimeout {
		errs = append(errs, fmt.Errorf("LEASE_TIMEOUT (%s) must be at least 3x HEARTBEAT_INTERVAL (%s)", c.LeaseTimeout, c.HeartbeatInterval))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}
	if c.ReclaimSchedule == "" {
		errs = append(errs, errors.New("RECLAIM_SCHEDULE must not be empty"))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
