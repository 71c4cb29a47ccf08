package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/searchsync/internal/config"
	"github.com/syntrixbase/searchsync/internal/logging"
	"github.com/syntrixbase/searchsync/internal/services"
)

func main() {
	// 0. Parse Command Line Flags
	configDir := flag.String("config", "config", "Configuration directory")
	runSource := flag.Bool("source", false, "Run Change Source (binlog to broker)")
	runConsumer := flag.Bool("consumer", false, "Run Change Consumer (broker to index)")
	runAPI := flag.Bool("api", false, "Run Search API")
	runWarmup := flag.Bool("warmup", false, "Run Hot-Key Warmup")
	runScheduler := flag.Bool("scheduler", false, "Run Resync Scheduler")
	runAll := flag.Bool("all", false, "Run All Services")
	flag.Parse()

	opts := services.Options{
		RunSource:    *runSource,
		RunConsumer:  *runConsumer,
		RunAPI:       *runAPI,
		RunWarmup:    *runWarmup,
		RunScheduler: *runScheduler,
	}
	// Default to running all if no specific flags are provided or if --all is set
	if *runAll || opts == (services.Options{}) {
		opts = services.AllServices()
	}

	// 1. Load Configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Shutdown()

	slog.Info("Starting searchsync",
		"source", opts.RunSource,
		"consumer", opts.RunConsumer,
		"api", opts.RunAPI,
		"warmup", opts.RunWarmup,
		"scheduler", opts.RunScheduler,
	)

	// 2. Initialize Service Manager
	mgr := services.NewManager(cfg, opts, slog.Default())

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	if err := mgr.Init(initCtx); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		shutdown(mgr)
		logging.Shutdown()
		os.Exit(1)
	}

	// 3. Start Services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	mgr.Start(bgCtx)

	// 4. Wait for Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("Shutting down services", "signal", sig.String())

	shutdown(mgr)
	slog.Info("All services stopped")
}

func shutdown(mgr *services.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mgr.Shutdown(ctx)
}
