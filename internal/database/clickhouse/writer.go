package clickhouse

import (
	"can-telemetry-bridge/internal/database"
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Writer is a telemetry.Sink inserting readings into ClickHouse in batches
type Writer struct {
	config    Config
	batchSize int
	logger    *slog.Logger

	conn  driver.Conn
	batch *database.BatchWriter
}

// New creates a ClickHouse writer. The connection is opened by Connect.
func New(config Config, batchSize int, logger *slog.Logger) *Writer {
	if config.Table == "" {
		config.Table = DefaultTable
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Writer{config: config, batchSize: batchSize, logger: logger}
}

// Connect opens the connection, pings the server, creates the table if
// needed and starts the write loop
func (w *Writer) Connect(ctx context.Context) error {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", w.config.Host, w.config.Port)},
		Auth: clickhouse.Auth{
			Database: w.config.Database,
			Username: w.config.Username,
			Password: w.config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return &telemetry.ConnectError{Backend: "clickhouse", Err: err}
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return &telemetry.ConnectError{Backend: "clickhouse", Err: fmt.Errorf("failed to ping ClickHouse: %w", err)}
	}

	if err := conn.Exec(ctx, createTableQuery(w.config.Table)); err != nil {
		conn.Close()
		return &telemetry.ConnectError{Backend: "clickhouse", Err: fmt.Errorf("failed to create table: %w", err)}
	}

	w.conn = conn
	w.batch = database.NewBatchWriter("clickhouse", w.batchSize, database.DefaultFlushInterval, w.flush, w.logger)
	w.batch.Start()
	return nil
}

// createTableQuery returns the DDL of the readings table
func createTableQuery(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			device String,
			session String,
			channel Int32,
			name String,
			type String,
			unit String,
			value Float64
		) ENGINE = MergeTree()
		ORDER BY (device, channel, timestamp)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
		SETTINGS index_granularity = 8192
	`, table)
}

// Publish queues a reading for writing
func (w *Writer) Publish(r telemetry.Reading) {
	if w.batch == nil {
		return
	}
	w.batch.Write(r)
}

// Dropped returns the readings that never reached the table
func (w *Writer) Dropped() uint64 {
	if w.batch == nil {
		return 0
	}
	return w.batch.Dropped()
}

// flush inserts one batch
func (w *Writer) flush(ctx context.Context, readings []telemetry.Reading) error {
	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.config.Table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, r := range readings {
		row, ok := rowValues(r)
		if !ok {
			continue
		}
		if err := batch.Append(row...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// rowValues returns the column values of a reading in table order
func rowValues(r telemetry.Reading) ([]any, bool) {
	value, ok := r.Float()
	if !ok {
		return nil, false
	}
	return []any{r.Time, r.Device, r.Session, int32(r.Channel), r.Name, r.Type, r.Unit, value}, true
}

// Close flushes queued readings and closes the connection
func (w *Writer) Close() error {
	if w.batch != nil {
		w.batch.Close()
	}
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

var _ telemetry.Sink = (*Writer)(nil)
