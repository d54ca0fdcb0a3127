package bridge

import (
	"can-telemetry-bridge/internal/can"
	"can-telemetry-bridge/internal/config"
	"can-telemetry-bridge/internal/database/clickhouse"
	"can-telemetry-bridge/internal/database/influxdb"
	"can-telemetry-bridge/internal/database/redis"
	"can-telemetry-bridge/internal/models"
	"can-telemetry-bridge/internal/telemetry"
	"can-telemetry-bridge/internal/telemetry/cayenne"
	"fmt"
	"log/slog"
)

// NewAdapter creates the CAN adapter selected by CAN_ADAPTER. The signal set
// is passed so the adapter can decode health frames.
func NewAdapter(cfg *config.Config, signals models.SignalSet, logger *slog.Logger) (can.Adapter, error) {
	opts := can.Options{
		BatchSize: cfg.CANBatchSize,
		Signals:   signals,
		Logger:    logger.With("component", "can", "adapter", cfg.CANAdapter),
	}

	switch cfg.CANAdapter {
	case config.AdapterSocketCAN:
		return can.NewSocketCAN(cfg.CANInterface, cfg.CANFilters, opts), nil
	case config.AdapterSLCAN:
		return can.NewSLCAN(cfg.SLCANPort, cfg.SLCANBaud, cfg.SLCANBitrate, can.OpenSerial, opts), nil
	}
	return nil, fmt.Errorf("unknown CAN adapter '%s'", cfg.CANAdapter)
}

// NewSink creates the telemetry sink for TELEMETRY_BACKEND. It returns nil
// when telemetry is disabled. Several backends fan out through telemetry.Multi.
func NewSink(cfg *config.Config, logger *slog.Logger) (telemetry.Sink, error) {
	if !cfg.TelemetryEnabled {
		return nil, nil
	}

	var sinks telemetry.Multi
	for _, backend := range cfg.TelemetryBackends {
		sinkLogger := logger.With("component", "telemetry", "backend", backend)

		switch backend {
		case config.BackendCayenne:
			sinks = append(sinks, cayenne.NewClient(cayenne.Config{
				Host:     cfg.MQTTHost,
				User:     cfg.MQTTUser,
				Password: cfg.MQTTPass,
				ClientID: cfg.MQTTClient,
			}, sinkLogger))

		case config.BackendInfluxDB:
			writer, err := influxdb.New(influxdb.Config{
				URL:      cfg.InfluxDBURL,
				Token:    cfg.InfluxDBToken,
				Database: cfg.InfluxDBDatabase,
			}, cfg.BatchSize, sinkLogger)
			if err != nil {
				return nil, fmt.Errorf("failed to create InfluxDB writer: %w", err)
			}
			sinks = append(sinks, writer)

		case config.BackendClickHouse:
			sinks = append(sinks, clickhouse.New(clickhouse.Config{
				Host:     cfg.ClickHouseHost,
				Port:     cfg.ClickHousePort,
				Database: cfg.ClickHouseDatabase,
				Username: cfg.ClickHouseUsername,
				Password: cfg.ClickHousePassword,
				Table:    cfg.ClickHouseTable,
			}, cfg.BatchSize, sinkLogger))

		case config.BackendRedis:
			sinks = append(sinks, redis.New(redis.Config{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, cfg.BatchSize, sinkLogger))

		default:
			return nil, fmt.Errorf("unknown telemetry backend '%s'", backend)
		}
	}

	switch len(sinks) {
	case 0:
		return nil, fmt.Errorf("telemetry enabled but no backend configured")
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}
