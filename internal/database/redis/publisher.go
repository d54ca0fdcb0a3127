// Package redis publishes readings on Redis pub/sub channels and keeps the
// latest reading per channel as a plain key.
package redis

import (
	"can-telemetry-bridge/internal/database"
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// latest values expire if the bridge stops publishing
const latestTTL = 15 * time.Minute

// Config holds Redis connection configuration
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Publisher is a telemetry.Sink backed by Redis
type Publisher struct {
	client *redis.Client
	batch  *database.BatchWriter
}

// New creates a Redis publisher. The connection is checked by Connect.
func New(config Config, batchSize int, logger *slog.Logger) *Publisher {
	p := &Publisher{
		client: redis.NewClient(&redis.Options{
			Addr:     config.Addr,
			Password: config.Password,
			DB:       config.DB,
		}),
	}
	p.batch = database.NewBatchWriter("redis", batchSize, 100*time.Millisecond, p.flush, logger)
	return p
}

// Connect pings the server and starts the publish loop
func (p *Publisher) Connect(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return &telemetry.ConnectError{Backend: "redis", Err: err}
	}
	p.batch.Start()
	return nil
}

// Publish queues a reading
func (p *Publisher) Publish(r telemetry.Reading) {
	p.batch.Write(r)
}

// Dropped returns the readings that never reached Redis
func (p *Publisher) Dropped() uint64 {
	return p.batch.Dropped()
}

// flush publishes a batch in one pipeline
func (p *Publisher) flush(ctx context.Context, readings []telemetry.Reading) error {
	pipe := p.client.Pipeline()
	for _, r := range readings {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode reading: %w", err)
		}
		pipe.Publish(ctx, ChannelName(r.Device, r.Channel), payload)
		pipe.Set(ctx, LatestKey(r.Device, r.Channel), payload, latestTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to publish readings: %w", err)
	}
	return nil
}

// ChannelName is the pub/sub channel of a telemetry channel
func ChannelName(device string, channel int) string {
	return fmt.Sprintf("telemetry:%s:%d", device, channel)
}

// LatestKey holds the most recent reading of a telemetry channel
func LatestKey(device string, channel int) string {
	return fmt.Sprintf("telemetry:latest:%s:%d", device, channel)
}

// Close flushes queued readings and closes the client
func (p *Publisher) Close() error {
	p.batch.Close()
	return p.client.Close()
}

var _ telemetry.Sink = (*Publisher)(nil)
