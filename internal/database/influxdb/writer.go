package influxdb

import (
	"can-telemetry-bridge/internal/database"
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
)

const measurement = "telemetry"

// Writer is a telemetry.Sink writing readings to InfluxDB v3 in batches
type Writer struct {
	client *influxdb3.Client
	config Config
	batch  *database.BatchWriter
	logger *slog.Logger
}

// New creates a new InfluxDB writer
func New(config Config, batchSize int, logger *slog.Logger) (*Writer, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     config.URL,
		Token:    config.Token,
		Database: config.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	w := &Writer{client: client, config: config, logger: logger}
	w.batch = database.NewBatchWriter("influxdb", batchSize, database.DefaultFlushInterval, w.flush, logger)
	return w, nil
}

// Connect checks the database answers a query and starts the write loop
func (w *Writer) Connect(ctx context.Context) error {
	iterator, err := w.client.Query(ctx, "SELECT 1")
	if err != nil {
		return &telemetry.ConnectError{Backend: "influxdb", Err: err}
	}
	for iterator.Next() {
	}

	w.batch.Start()
	return nil
}

// Publish queues a reading for writing
func (w *Writer) Publish(r telemetry.Reading) {
	w.batch.Write(r)
}

// Dropped returns the readings that never reached the database
func (w *Writer) Dropped() uint64 {
	return w.batch.Dropped()
}

// flush writes one batch as points
func (w *Writer) flush(ctx context.Context, batch []telemetry.Reading) error {
	points := make([]*influxdb3.Point, 0, len(batch))
	for _, r := range batch {
		tags, fields, ok := pointData(r)
		if !ok {
			w.logger.Debug("skipping non-numeric reading", "channel", r.Channel, "value", r.Value)
			continue
		}
		points = append(points, influxdb3.NewPoint(measurement, tags, fields, r.Time))
	}
	if len(points) == 0 {
		return nil
	}

	if err := w.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("failed to write points: %w", err)
	}
	return nil
}

// pointData maps a reading onto point tags and fields
func pointData(r telemetry.Reading) (map[string]string, map[string]any, bool) {
	value, ok := r.Float()
	if !ok {
		return nil, nil, false
	}

	tags := map[string]string{
		"channel": strconv.Itoa(r.Channel),
		"name":    r.Name,
	}
	if r.Device != "" {
		tags["device"] = r.Device
	}
	if r.Session != "" {
		tags["session"] = r.Session
	}
	if r.Type != "" {
		tags["type"] = r.Type
	}
	if r.Unit != "" {
		tags["unit"] = r.Unit
	}

	return tags, map[string]any{"value": value}, true
}

// Close flushes queued readings and closes the client
func (w *Writer) Close() error {
	w.batch.Close()
	if w.client != nil {
		return w.client.Close()
	}
	return nil
}

var _ telemetry.Sink = (*Writer)(nil)
