package can

import (
	"can-telemetry-bridge/internal/models"
	"context"
	"errors"
	"testing"
	"time"
)

func message(id uint32, data ...byte) models.CANMessage {
	frame := models.CANFrame{ID: id, DLC: uint8(len(data))}
	copy(frame.Data[:], data)
	return models.CANMessage{Frame: frame, Timestamp: time.Now()}
}

func TestCore_Batching(t *testing.T) {
	c := newCore(Options{BatchSize: 2})

	sizes := make(chan int, 10)
	ids := make(chan uint32, 10)
	c.Subscribe(func(batch []models.CANMessage) {
		sizes <- len(batch)
		for _, msg := range batch {
			ids <- msg.Frame.ID
		}
	})

	for id := uint32(1); id <= 5; id++ {
		c.enqueue(message(id))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.dispatchLoop(ctx)

	for i, want := range []int{2, 2, 1} {
		select {
		case got := <-sizes:
			if got != want {
				t.Errorf("batch %d: expected %d frames, got %d", i, want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for batch %d", i)
		}
	}

	for want := uint32(1); want <= 5; want++ {
		if got := <-ids; got != want {
			t.Errorf("expected frame %d, got %d", want, got)
		}
	}
}

func TestCore_QueueFullDrops(t *testing.T) {
	c := newCore(Options{})
	for i := 0; i < cap(c.msgChan)+3; i++ {
		c.enqueue(message(1))
	}
	if got := c.Dropped(); got != 3 {
		t.Errorf("expected 3 dropped frames, got %d", got)
	}
}

func TestCore_UnsubscribeInsideHandler(t *testing.T) {
	c := newCore(Options{})

	var second Subscription
	firstCalls, secondCalls := 0, 0

	var first Subscription
	first = c.Subscribe(func(batch []models.CANMessage) {
		firstCalls++
		first.Unsubscribe()
		second.Unsubscribe()
		// unsubscribing twice is harmless
		first.Unsubscribe()
	})
	second = c.Subscribe(func(batch []models.CANMessage) {
		secondCalls++
	})

	batch := []models.CANMessage{message(1)}
	c.deliver(batch)
	c.deliver(batch)

	if firstCalls != 1 {
		t.Errorf("expected first handler called once, got %d", firstCalls)
	}
	if secondCalls != 0 {
		t.Errorf("expected second handler skipped after unsubscribe, got %d calls", secondCalls)
	}

	c.mu.Lock()
	remaining := len(c.subs)
	c.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected no subscriptions left, got %d", remaining)
	}
}

func TestCore_Fatal(t *testing.T) {
	c := newCore(Options{})
	c.fatal("bus-off", ErrBusOff)
	c.fatal("read", errors.New("second failure"))

	aerr := <-c.Errors()
	if aerr.Event != "bus-off" || !errors.Is(aerr, ErrBusOff) {
		t.Errorf("unexpected first error: %v", aerr)
	}
	select {
	case extra := <-c.Errors():
		t.Errorf("expected a single fatal error, got another: %v", extra)
	default:
	}
}

func TestCore_HealthSnapshot(t *testing.T) {
	signals := models.SignalSet{
		models.SignalVoltage:         {Name: models.SignalVoltage, Address: 0x100, ByteOffset: 0, ByteLength: 2, Scale: 1},
		models.SignalControlsAllowed: {Name: models.SignalControlsAllowed, Address: 0x101, ByteOffset: 0, ByteLength: 1, Scale: 1},
		"speed":                      {Name: "speed", Address: 180, ByteOffset: 5, ByteLength: 2, Scale: 0.01},
	}
	c := newCore(Options{Signals: signals})

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if _, err := c.healthSnapshot(); !errors.Is(err, ErrNoHealthFrame) {
		t.Fatalf("expected ErrNoHealthFrame before any frame, got %v", err)
	}

	c.cacheHealthFrames([]models.CANMessage{
		message(0x100, 0x30, 0x39), // 12345 mV
		message(0x101, 0x01),
		message(180, 0, 0, 0, 0, 0, 0x02, 0x6C),
	})

	snap, err := c.healthSnapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.VoltageMillivolts != 12345 {
		t.Errorf("expected 12345 mV, got %d", snap.VoltageMillivolts)
	}
	if !snap.ControlsAllowed {
		t.Error("expected controls allowed")
	}
	if snap.CurrentMilliamps != 0 || snap.GasInterceptorDetected {
		t.Errorf("unconfigured signals should stay zero: %+v", snap)
	}
	if _, cached := c.healthCache[180]; cached {
		t.Error("non-health frames should not be cached")
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.healthSnapshot(); !errors.Is(err, ErrNoHealthFrame) {
		t.Errorf("expected stale frames to be rejected, got %v", err)
	}
}

func TestCore_HealthSnapshotWithoutHealthSignals(t *testing.T) {
	c := newCore(Options{Signals: models.DefaultSignals()})

	if _, err := c.healthSnapshot(); !errors.Is(err, ErrNoHealthFrame) {
		t.Errorf("expected ErrNoHealthFrame with no health signals configured, got %v", err)
	}
}

func TestCore_HealthCacheSkipsRemoteAndOtherFormat(t *testing.T) {
	signals := models.SignalSet{
		models.SignalVoltage: {Name: models.SignalVoltage, Address: 0x100, ByteOffset: 0, ByteLength: 2, Scale: 1},
	}
	c := newCore(Options{Signals: signals})

	remote := message(0x100, 0, 0)
	remote.Frame.Remote = true
	extended := message(0x100, 0x11, 0x22)
	extended.Frame.Extended = true
	c.cacheHealthFrames([]models.CANMessage{remote, extended})

	if _, err := c.healthSnapshot(); !errors.Is(err, ErrNoHealthFrame) {
		t.Fatalf("expected remote and extended frames ignored, got %v", err)
	}

	c.cacheHealthFrames([]models.CANMessage{message(0x100, 0x30, 0x39)})
	snap, err := c.healthSnapshot()
	if err != nil || snap.VoltageMillivolts != 12345 {
		t.Errorf("expected 12345 mV from the data frame, got %d %v", snap.VoltageMillivolts, err)
	}
}
