package main

import (
	"can-telemetry-bridge/internal/bridge"
	"can-telemetry-bridge/internal/config"
	"can-telemetry-bridge/internal/logging"
	"can-telemetry-bridge/internal/metrics"
	"can-telemetry-bridge/internal/throttle"
	"can-telemetry-bridge/internal/version"
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// loadConfig reads and validates the configuration named by --env
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env")
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if cfg.EnvFile == "" {
		logger.Info("no .env file found, using defaults and environment")
	}

	signals, specs, err := cfg.TrackedSpecs()
	if err != nil {
		return err
	}

	adapter, err := bridge.NewAdapter(cfg, signals, logger)
	if err != nil {
		return err
	}
	sink, err := bridge.NewSink(cfg, logger)
	if err != nil {
		return err
	}

	session := uuid.NewString()
	logger.Info("starting CAN telemetry bridge",
		"version", version.Version,
		"adapter", cfg.CANAdapter,
		"tracked", cfg.TrackedSignals,
		"telemetry", cfg.TelemetryEnabled,
		"backends", cfg.TelemetryBackends,
		"session", session,
	)

	b := bridge.New(bridge.Deps{
		Adapter: adapter,
		Sink:    sink,
		Specs:   specs,
		Throttle: []throttle.Option{
			throttle.WithThreshold(cfg.PauseThreshold),
			throttle.WithPause(cfg.PauseDuration),
		},
		HealthInterval: cfg.HealthInterval,
		HealthTimeout:  cfg.HealthTimeout,
		Session:        session,
		APIPort:        cfg.APIPort,
		Logger:         logger,
		Metrics:        metrics.New(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		logger.Error("bridge stopped", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
