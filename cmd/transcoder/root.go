package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/h3nryswan/video-transcoder-2/internal/queue"
	"github.com/h3nryswan/video-transcoder-2/internal/server"
	"github.com/h3nryswan/video-transcoder-2/internal/transcode"
	"github.com/h3nryswan/video-transcoder-2/internal/worker"
)

var version = "dev"

// App returns the transcoder command tree.
func App() *cli.Command {
	return &cli.Command{
		Name:    "transcoder",
		Version: version,
		Usage:   "Video transcoding service backed by a lease-based job queue",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Usage:   "Path to a .env file (default ./.env when present)",
				Sources: cli.EnvVars("TRANSCODER_ENV_FILE"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error); overrides LOG_LEVEL",
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			apiCmd(),
			workerCmd(),
			reclaimCmd(),
			eventsCmd(),
		},
	}
}

// runtime is everything a command needs after configuration is loaded.
type runtime struct {
	cfg    server.Config
	logger *slog.Logger
	stores *server.Stores
	queue  *queue.Queue
}

func setup(ctx context.Context, cmd *cli.Command) (*runtime, error) {
	cfg, err := server.LoadConfig(cmd.String("env-file"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	stores, err := server.OpenStores(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}

	q := queue.New(stores.Jobs,
		queue.WithLeaseTimeout(cfg.LeaseTimeout),
		queue.WithHeartbeatInterval(cfg.HeartbeatInterval),
		queue.WithEvents(stores.Events),
		queue.WithLogger(logger),
	)
	return &runtime{cfg: cfg, logger: logger, stores: stores, queue: q}, nil
}

func (rt *runtime) close() {
	if err := rt.stores.Close(); err != nil {
		rt.logger.Warn("closing store", "error", err)
	}
}

func (rt *runtime) newWorker() *worker.Worker {
	exec := transcode.NewExecutor(rt.stores.Files, rt.stores.Blobs,
		transcode.WithRunner(transcode.FFmpeg{Path: rt.cfg.FFmpegPath}),
		transcode.WithPreset(rt.cfg.Preset),
		transcode.WithTempDir(rt.cfg.TempDir),
		transcode.WithLogger(rt.logger),
	)
	id := rt.cfg.WorkerID
	if id == "" {
		id = worker.DefaultID()
	}
	return worker.New(rt.queue, exec,
		worker.WithID(id),
		worker.WithPollInterval(rt.cfg.PollInterval),
		worker.WithBatchSize(rt.cfg.BatchSize),
		worker.WithLogger(rt.logger),
	)
}
