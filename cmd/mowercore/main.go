// Package main — cmd/mowercore/main.go
//
// mowercore agent entrypoint: the autonomous lawn-mowing robot's
// coordination core.
//
// Startup sequence:
//  1. Parse flags.
//  2. Load and validate config from /etc/mowercore/config.yaml.
//  3. Initialise structured logger (zap, JSON format).
//  4. Acquire the PID file (single-instance enforcement).
//  5. Construct the supervisor: opens BoltDB, the secrets store, the I2C
//     bus, and every component (hardware registry, sensor interface,
//     event bus, state manager, path planner, obstacle avoidance,
//     cross-process bridge).
//  6. Start Prometheus metrics server.
//  7. Bring the supervisor up (hardware registry, then sensors).
//  8. Register SIGHUP handler for config hot-reload.
//  9. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Supervisor.Shutdown(): stop sensors (bounded), clean up the
//     bridge, tear down the hardware registry in reverse order, prune
//     and close storage.
//  3. Release the PID file.
//  4. Flush logger.
//  5. Exit 0.
//
// On config validation failure or supervisor construction failure: exit 1.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/acredsfan/mowercore/internal/avoidance"
	"github.com/acredsfan/mowercore/internal/config"
	"github.com/acredsfan/mowercore/internal/observability"
	"github.com/acredsfan/mowercore/internal/pathplan"
	"github.com/acredsfan/mowercore/internal/supervisor"
)

func main() {
	// ── Flags ────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/mowercore/config.yaml", "Path to config.yaml")
	forceCleanup := flag.Bool("force_cleanup", false, "Terminate a sibling instance instead of aborting")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("mowercore %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 2: Load config ─────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 3: Initialise logger ────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("mowercore starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("mower_id", cfg.MowerID),
		zap.String("config", *configPath),
	)

	// ── Step 4: Single-instance enforcement ──────────────────────────
	if cfg.Supervisor.PIDFile != "" {
		if err := supervisor.AcquirePIDFile(cfg.Supervisor.PIDFile, *forceCleanup, log); err != nil {
			log.Fatal("single-instance check failed", zap.Error(err))
		}
		defer supervisor.ReleasePIDFile(cfg.Supervisor.PIDFile)
	}

	// ── Root context with cancellation ───────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 5: Construct the supervisor ─────────────────────────────
	boundary := defaultBoundary()
	metrics := observability.NewMetrics()
	sup, err := supervisor.New(cfg, log, metrics, boundary, noCamera{}, noPose{})
	if err != nil {
		log.Fatal("supervisor construction failed", zap.Error(err))
	}

	// ── Step 6: Prometheus metrics ────────────────────────────────────
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 7: Bring the supervisor up ──────────────────────────────
	if err := sup.Start(ctx); err != nil {
		log.Fatal("supervisor startup failed", zap.Error(err))
	}

	// ── Step 8: SIGHUP hot-reload ──────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			log.Info("config hot-reload successful",
				zap.Duration("new_shutdown_timeout", newCfg.Supervisor.ShutdownTimeout))
			// The reloaded config is only validated and logged; it is not
			// applied to the running supervisor, so changes take effect
			// after a restart.
		}
	}()

	// ── Step 9: Wait for shutdown signal ──────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(100 * time.Millisecond) // let in-flight goroutines observe ctx.Done()
	sup.Shutdown()

	log.Info("mowercore shutdown complete")
}

// defaultBoundary is a placeholder mowing area used until a boundary is
// learned or supplied operationally; the path planner's Reroute and
// pattern generation are agnostic to its exact shape.
func defaultBoundary() pathplan.Polygon {
	return pathplan.Polygon{
		{X: 0, Y: 0},
		{X: 20, Y: 0},
		{X: 20, Y: 15},
		{X: 0, Y: 15},
	}
}

// noCamera and noPose stand in for the vision and localization subsystems,
// which lie outside this coordination core's scope (spec.md Non-goals);
// the avoidance monitor degrades to ToF-only triggers against them.
type noCamera struct{}

func (noCamera) Latest() avoidance.CameraSignal { return avoidance.CameraSignal{} }

type noPose struct{}

func (noPose) Pose() avoidance.Pose { return avoidance.Pose{} }

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
