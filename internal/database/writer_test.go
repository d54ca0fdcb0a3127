package database

import (
	"can-telemetry-bridge/internal/telemetry"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]telemetry.Reading
	err     error
	flushed chan int
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{flushed: make(chan int, 16)}
}

func (f *flushRecorder) flush(ctx context.Context, batch []telemetry.Reading) error {
	f.mu.Lock()
	f.batches = append(f.batches, append([]telemetry.Reading(nil), batch...))
	f.mu.Unlock()
	f.flushed <- len(batch)
	return f.err
}

func waitFlush(t *testing.T, f *flushRecorder) int {
	t.Helper()
	select {
	case n := <-f.flushed:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flush")
		return 0
	}
}

func TestBatchWriter_FlushesFullBatch(t *testing.T) {
	rec := newFlushRecorder()
	w := NewBatchWriter("test", 3, time.Hour, rec.flush, nil)
	w.Start()
	defer w.Close()

	for i := 0; i < 3; i++ {
		w.Write(telemetry.Reading{Channel: i, Value: float64(i)})
	}

	if n := waitFlush(t, rec); n != 3 {
		t.Errorf("expected a batch of 3, got %d", n)
	}
}

func TestBatchWriter_FlushesOnInterval(t *testing.T) {
	rec := newFlushRecorder()
	w := NewBatchWriter("test", 100, 20*time.Millisecond, rec.flush, nil)
	w.Start()
	defer w.Close()

	w.Write(telemetry.Reading{Channel: 0, Value: 1.0})

	if n := waitFlush(t, rec); n != 1 {
		t.Errorf("expected a batch of 1, got %d", n)
	}
}

func TestBatchWriter_CloseFlushesQueued(t *testing.T) {
	rec := newFlushRecorder()
	w := NewBatchWriter("test", 100, time.Hour, rec.flush, nil)
	w.Start()

	w.Write(telemetry.Reading{Channel: 100, Value: uint32(12000)})
	w.Write(telemetry.Reading{Channel: 101, Value: uint32(500)})
	w.Close()
	w.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	total := 0
	for _, b := range rec.batches {
		total += len(b)
	}
	if total != 2 {
		t.Errorf("expected 2 readings flushed on close, got %d", total)
	}
}

func TestBatchWriter_DropsWhenFull(t *testing.T) {
	rec := newFlushRecorder()
	// not started: nothing drains the queue
	w := NewBatchWriter("test", 2, time.Hour, rec.flush, nil)

	for i := 0; i < 6; i++ {
		w.Write(telemetry.Reading{Channel: 0, Value: 1.0})
	}
	if got := w.Dropped(); got != 2 {
		t.Errorf("expected 2 dropped, got %d", got)
	}
	w.Close()
}

func TestBatchWriter_FailedFlushCountsDropped(t *testing.T) {
	rec := newFlushRecorder()
	rec.err = errors.New("connection reset")
	w := NewBatchWriter("test", 2, time.Hour, rec.flush, nil)
	w.Start()
	defer w.Close()

	w.Write(telemetry.Reading{Channel: 0, Value: 1.0})
	w.Write(telemetry.Reading{Channel: 0, Value: 2.0})
	waitFlush(t, rec)

	deadline := time.Now().Add(time.Second)
	for w.Dropped() != 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := w.Dropped(); got != 2 {
		t.Errorf("expected failed batch counted as dropped, got %d", got)
	}
}
