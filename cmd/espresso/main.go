package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/espresso-hep/espresso/internal/analysis"
	"github.com/espresso-hep/espresso/internal/api"
	"github.com/espresso-hep/espresso/internal/catalog"
	"github.com/espresso-hep/espresso/internal/config"
	"github.com/espresso-hep/espresso/internal/corrections"
	"github.com/espresso-hep/espresso/internal/eventbus"
	"github.com/espresso-hep/espresso/internal/executor"
	"github.com/espresso-hep/espresso/internal/store"
	"github.com/espresso-hep/espresso/internal/weights"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	validatePath := flag.String("validate", "", "resolve an analysis config and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Correction tables
	var tables *corrections.Tables
	if cfg.Corrections.Dir != "" {
		tables, err = corrections.Load(cfg.Corrections.Dir)
		if err != nil {
			logger.Error("failed to load corrections", "dir", cfg.Corrections.Dir, "error", err)
			os.Exit(1)
		}
	} else {
		tables = corrections.Defaults()
	}

	// Weight registry
	reg := weights.Default()
	if err := weights.RegisterBuiltins(reg, tables); err != nil {
		logger.Error("failed to register weights", "error", err)
		os.Exit(1)
	}
	logger.Info("weight registry ready", "weights", len(reg.Names()))

	if *validatePath != "" {
		if err := validate(*validatePath, reg); err != nil {
			logger.Error("config invalid", "path", *validatePath, "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	// Event bus (optional)
	var bus eventbus.Bus
	if cfg.Nats.URL != "" {
		b, err := eventbus.NewNATSBus(ctx, cfg.Nats.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to nats, running without events", "error", err)
		} else {
			bus = b
			defer b.Close()
			logger.Info("connected to nats")
		}
	}

	// Dataset catalog (optional)
	var cat catalog.Client
	if cfg.Catalog.URL != "" {
		cat = catalog.NewHTTPClient(cfg.Catalog.URL, cfg.Catalog.Token)
	}

	// Executor
	exec := executor.New(db, bus, cat, reg, tables, cfg, logger)
	exec.Start(ctx)
	defer exec.Stop()
	logger.Info("executor started", "poll_interval", cfg.PollInterval(), "workers", cfg.Executor.Workers)

	exec.SetupSubscriptions()

	// API server
	router := api.NewRouter(db, bus, exec, reg, cfg.Server.AdminToken, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsRouter := api.NewMetricsRouter()
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsRouter,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

// validate resolves an analysis configuration file and prints a short
// summary, exercising the exact validation path a submitted run goes
// through.
func validate(path string, reg *weights.Registry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, err := analysis.ParseConfig(data)
	if err != nil {
		return err
	}
	c, err := analysis.New(cfg, reg)
	if err != nil {
		return err
	}
	fmt.Printf("config OK: %d datasets, %d samples, %d categories\n",
		len(c.Datasets()), len(c.Samples()), len(c.Categories().Categories()))
	for _, sample := range c.Samples() {
		fmt.Printf("  %s: modifiers %v\n", sample, c.AvailableWeightModifiers(sample))
	}
	return nil
}
