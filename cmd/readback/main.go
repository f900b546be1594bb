// Package main runs the collision readback pipeline: a simulated particle
// producer writes collisions into the shared buffer, the readback component
// copies them back every frame and fans them out to the configured sinks.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nmxmxh/collision-readback/internal/collision"
	"github.com/nmxmxh/collision-readback/internal/config"
	"github.com/nmxmxh/collision-readback/internal/metrics"
	"github.com/nmxmxh/collision-readback/internal/report"
	collisionsvc "github.com/nmxmxh/collision-readback/internal/service/collision"
	"github.com/nmxmxh/collision-readback/internal/simulation"
	"github.com/nmxmxh/collision-readback/internal/sink/audio"
	"github.com/nmxmxh/collision-readback/internal/sink/debugdraw"
	"github.com/nmxmxh/collision-readback/internal/sink/filter"
	"github.com/nmxmxh/collision-readback/internal/sink/logsink"
	"github.com/nmxmxh/collision-readback/internal/sink/redisstream"
	"github.com/nmxmxh/collision-readback/internal/sink/stream"
	apperrors "github.com/nmxmxh/collision-readback/pkg/errors"
	"github.com/nmxmxh/collision-readback/pkg/health"
	"github.com/nmxmxh/collision-readback/pkg/lifecycle"
	"github.com/nmxmxh/collision-readback/pkg/logger"
	runtimemetrics "github.com/nmxmxh/collision-readback/pkg/metrics"
	"github.com/nmxmxh/collision-readback/pkg/redis"
	"github.com/nmxmxh/collision-readback/pkg/tracing"
	"github.com/nmxmxh/collision-readback/pkg/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	// Create context that listens for the interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.ServiceName = cfg.AppName
	tracingCfg.Environment = cfg.AppEnv
	tracingCfg.Endpoint = cfg.TracingAddr
	_, shutdownTracing, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Warn("Failed to initialize tracing, continuing without it", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("Failed to shutdown tracing", zap.Error(err))
		}
	}()

	componentLog := func(name string) *zap.Logger {
		return logger.FromContext(logger.WithContext(ctx, name), log)
	}

	// Consumers, called per event in registration order.
	dispatcher := collision.NewDispatcher(componentLog("dispatch"))
	drawer := debugdraw.New(debugdraw.WithDuration(cfg.Sinks.DebugLineDuration))
	if cfg.Sinks.DebugDraw {
		dispatcher.Register("debug_draw", drawer)
	}
	var cue collision.Consumer = audio.NewSink(cfg.Sinks.AudioClip, audio.NewLogPlayer(componentLog("audio")), log)
	if cfg.Sinks.Filter != "" {
		if cue, err = filter.New(cfg.Sinks.Filter, cue, log); err != nil {
			return apperrors.LogWithError(ctx, log, "invalid audio filter", err)
		}
	}
	dispatcher.Register("audio", cue)
	if cfg.Sinks.Log {
		dispatcher.Register("log", logsink.New(log))
	}

	checker := health.NewHealthChecker()
	manager := lifecycle.NewManager(log)
	g, gctx := errgroup.WithContext(ctx)

	// Frame observers, called once per completed readback.
	var svcOpts []collisionsvc.Option
	var servers []*http.Server

	if cfg.Sinks.WebSocketAddr != "" {
		hub := ws.NewManager(componentLog("ws"))
		frames := stream.New(hub, log)
		svcOpts = append(svcOpts, collisionsvc.WithFrameObserver(frames.ObserveFrame))
		g.Go(func() error { return frames.Run(gctx) })
		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		servers = append(servers, &http.Server{Addr: cfg.Sinks.WebSocketAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
		manager.ScheduleCleanup("ws", func() error {
			hub.Close()
			return nil
		})
	}

	if cfg.Sinks.RedisEnabled {
		client, err := redis.NewClient(cfg.Sinks.Redis, log)
		if err != nil {
			return apperrors.LogWithError(ctx, log, "redis unavailable", err, zap.String("addr", cfg.Sinks.Redis.Addr()))
		}
		manager.ScheduleCleanup("redis", client.Close)
		checker.Register(health.NewRedisHealthCheck("redis", client))

		publisher := redisstream.New(client, cfg.Sinks.RedisStream, componentLog("redis_stream"))
		svcOpts = append(svcOpts, collisionsvc.WithFrameObserver(publisher.ObserveFrame))
		g.Go(func() error { return publisher.Run(gctx) })
	}

	if cfg.Simulation.Enabled {
		producer := simulation.New(simulation.Config{
			MaxPerStep:   cfg.Simulation.MaxPerStep,
			StepInterval: cfg.Readback.TickInterval(),
			Seed:         cfg.Simulation.Seed,
		}, componentLog("simulation"))
		svcOpts = append(svcOpts, collisionsvc.WithBinding(producer))
		g.Go(func() error { return producer.Run(gctx) })
	}

	svc := collisionsvc.New(cfg.Readback, dispatcher, componentLog("readback"), svcOpts...)
	if err := manager.Register(svc); err != nil {
		return err
	}
	checker.Register(health.CheckFunc{ID: svc.Name(), Fn: func(context.Context) error { return svc.Health() }})

	servers = append(servers, metrics.NewServer(cfg.MetricsAddr, metrics.Route{Pattern: "/healthz", Handler: checker.Handler()}))

	if cfg.Path != "" {
		watcher, err := config.NewWatcher(log, cfg.Path, func(next *config.Config) {
			if err := svc.OnConfigurationChanged(next.Readback); err != nil {
				log.Error("Failed to apply config", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	reporter := report.NewReporter(svc.Stats, log)
	if err := reporter.Start(cfg.ReportSchedule); err != nil {
		return err
	}
	defer reporter.Stop()

	if err := manager.Start(gctx); err != nil {
		return err
	}

	for _, srv := range servers {
		g.Go(func() error {
			log.Info("HTTP server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		runtimemetrics.CollectRuntimeMetrics(gctx, 15*time.Second)
		return nil
	})

	pruneEvery := cfg.Sinks.DebugLineDuration
	if pruneEvery <= 0 {
		pruneEvery = debugdraw.DefaultDuration
	}
	g.Go(func() error {
		ticker := time.NewTicker(pruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				drawer.Prune(now)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("HTTP server shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}
		return manager.Stop(shutdownCtx)
	})

	err = g.Wait()
	if renderErr := report.Render(os.Stdout, svc.Stats()); renderErr != nil {
		log.Warn("Failed to render summary", zap.Error(renderErr))
	}
	return err
}
