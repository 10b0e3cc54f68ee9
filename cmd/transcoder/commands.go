package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/h3nryswan/video-transcoder-2/internal/core"
	"github.com/h3nryswan/video-transcoder-2/internal/scheduler"
	"github.com/h3nryswan/video-transcoder-2/internal/server"
)

// healthService is the name reported by the gRPC health server.
const healthService = "transcoder.v1.Transcoder"

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, a worker and the reclaimer in one process",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "api", Value: true, Usage: "Serve the HTTP API"},
			&cli.BoolFlag{Name: "worker", Value: true, Usage: "Run a transcode worker"},
			&cli.BoolFlag{Name: "reclaimer", Value: true, Usage: "Requeue jobs with expired leases"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			g, ctx := errgroup.WithContext(ctx)
			if cmd.Bool("api") {
				g.Go(func() error { return runAPI(ctx, rt) })
			}
			if cmd.Bool("worker") {
				g.Go(func() error { return rt.newWorker().Run(ctx) })
			}
			if cmd.Bool("reclaimer") {
				g.Go(func() error { return runReclaimer(ctx, rt) })
			}
			return g.Wait()
		},
	}
}

func apiCmd() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Serve the HTTP API only",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			return runAPI(ctx, rt)
		},
	}
}

func workerCmd() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run a transcode worker",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "id",
				Usage:   "Worker identity (default <hostname>-<pid>)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.BoolFlag{Name: "reclaimer", Usage: "Also requeue jobs with expired leases"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			if v := cmd.String("id"); v != "" {
				rt.cfg.WorkerID = v
			}

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return rt.newWorker().Run(ctx) })
			if cmd.Bool("reclaimer") {
				g.Go(func() error { return runReclaimer(ctx, rt) })
			}
			return g.Wait()
		},
	}
}

func reclaimCmd() *cli.Command {
	return &cli.Command{
		Name:  "reclaim",
		Usage: "Run one reclaim sweep and print how many jobs were requeued",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			n, err := rt.queue.ReclaimStale(ctx)
			if err != nil {
				return fmt.Errorf("reclaim: %w", err)
			}
			fmt.Fprintf(cmd.Root().Writer, "requeued %d stale job(s)\n", n)
			return nil
		},
	}
}

func eventsCmd() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Print job events as JSON lines (nats backend only)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "job", Usage: "Only events for this job id"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.close()
			if rt.stores.Broker == nil {
				return fmt.Errorf("events require STORE_BACKEND=%s", server.BackendNATS)
			}

			var (
				ch    <-chan *core.JobEvent
				unsub func()
			)
			if id := cmd.String("job"); id != "" {
				ch, unsub, err = rt.stores.Broker.SubscribeJob(id)
			} else {
				ch, unsub, err = rt.stores.Broker.SubscribeAll()
			}
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer unsub()

			enc := json.NewEncoder(cmd.Root().Writer)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-ch:
					if !ok {
						return nil
					}
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
			}
		},
	}
}

// runAPI serves HTTP and gRPC health until ctx is done.
func runAPI(ctx context.Context, rt *runtime) error {
	router := server.NewRouter(server.Deps{
		Jobs:  rt.queue,
		Files: rt.stores.Files,
		Blobs: rt.stores.Blobs,
		Ping:  rt.stores.Ping,
	})
	srv := &http.Server{
		Addr:              ":" + rt.cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+rt.cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen for gRPC on %s: %w", rt.cfg.GRPCPort, err)
	}

	errCh := make(chan error, 2)
	go func() {
		rt.logger.Info("HTTP server listening", "port", rt.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		rt.logger.Info("gRPC health server listening", "port", rt.cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go watchHealth(ctx, rt, healthSrv)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		grpcServer.Stop()
		_ = srv.Close()
		return err
	}

	rt.logger.Info("shutting down server")
	healthSrv.Shutdown()
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	rt.logger.Info("server stopped")
	return nil
}

// watchHealth mirrors store reachability into the gRPC health status.
func watchHealth(ctx context.Context, rt *runtime, hs *health.Server) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rt.stores.Ping(pingCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			rt.logger.Warn("store unreachable", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(healthService, status)
	}
}

func runReclaimer(ctx context.Context, rt *runtime) error {
	sched, err := scheduler.New(rt.queue, rt.cfg.ReclaimSchedule, rt.logger)
	if err != nil {
		return err
	}
	sched.Start()
	<-ctx.Done()
	sched.Stop()
	return nil
}
