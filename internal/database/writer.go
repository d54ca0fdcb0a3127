// Package database holds the telemetry sinks backed by databases and the
// batching loop they share.
package database

import (
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second

	closeFlushTimeout = 5 * time.Second
)

// FlushFunc writes one batch of readings
type FlushFunc func(ctx context.Context, batch []telemetry.Reading) error

// BatchWriter queues readings and flushes them when the batch is full or
// the flush interval elapses. Write never blocks; a full queue drops.
type BatchWriter struct {
	name      string
	batchSize int
	interval  time.Duration
	flushFn   FlushFunc
	logger    *slog.Logger

	batch     []telemetry.Reading
	batchChan chan telemetry.Reading
	dropped   atomic.Uint64
	failed    atomic.Uint64

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBatchWriter creates a batch writer; call Start to begin flushing
func NewBatchWriter(name string, batchSize int, interval time.Duration, flush FlushFunc, logger *slog.Logger) *BatchWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BatchWriter{
		name:      name,
		batchSize: batchSize,
		interval:  interval,
		flushFn:   flush,
		logger:    logger,
		batch:     make([]telemetry.Reading, 0, batchSize),
		batchChan: make(chan telemetry.Reading, batchSize*2),
		done:      make(chan struct{}),
	}
}

// Start begins the write loop
func (w *BatchWriter) Start() {
	w.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		w.cancel = cancel
		go w.writeLoop(ctx)
	})
}

// writeLoop collects readings and writes them in batches
func (w *BatchWriter) writeLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// drain what is queued and write it with a fresh deadline
		drain:
			for {
				select {
				case r := <-w.batchChan:
					w.batch = append(w.batch, r)
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
			w.flush(flushCtx)
			cancel()
			return

		case r := <-w.batchChan:
			w.batch = append(w.batch, r)
			if len(w.batch) >= w.batchSize {
				w.flush(ctx)
			}

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// flush writes the current batch. A failed batch is discarded.
func (w *BatchWriter) flush(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}

	if err := w.flushFn(ctx, w.batch); err != nil {
		w.failed.Add(uint64(len(w.batch)))
		w.logger.Warn("telemetry batch write failed", "sink", w.name, "readings", len(w.batch), "error", err)
	} else {
		w.logger.Debug("flushed telemetry batch", "sink", w.name, "readings", len(w.batch))
	}
	w.batch = w.batch[:0]
}

// Write queues a reading for writing
func (w *BatchWriter) Write(r telemetry.Reading) {
	select {
	case w.batchChan <- r:
	default:
		w.dropped.Add(1)
	}
}

// Dropped returns the readings lost to a full queue or a failed write
func (w *BatchWriter) Dropped() uint64 {
	return w.dropped.Load() + w.failed.Load()
}

// Close stops the loop after flushing what is queued
func (w *BatchWriter) Close() {
	w.closeOnce.Do(func() {
		if w.cancel == nil {
			return
		}
		w.cancel()
		<-w.done
	})
}
