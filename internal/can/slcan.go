package can

import (
	"can-telemetry-bridge/internal/models"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	slcanReadTimeout    = 250 * time.Millisecond
	slcanCommandTimeout = time.Second
)

var errCommandRejected = errors.New("slcan command rejected")

// OpenFunc opens the serial link to an SLCAN device
type OpenFunc func(port string, baud int) (io.ReadWriteCloser, error)

// OpenSerial opens a serial port with a short read timeout
func OpenSerial(port string, baud int) (io.ReadWriteCloser, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	if err := p.SetReadTimeout(slcanReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", port, err)
	}
	return p, nil
}

// SLCAN talks the Lawicel ASCII protocol to a USB-serial CAN adapter
type SLCAN struct {
	*core

	port    string
	baud    int
	bitrate int
	open    OpenFunc

	mu       sync.Mutex
	conn     io.ReadWriteCloser
	deviceID string
	started  bool
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	cmdMu    sync.Mutex
	respChan chan string
}

// NewSLCAN creates an adapter for the device on the given serial port.
// A nil open function uses OpenSerial.
func NewSLCAN(port string, baud, bitrate int, open OpenFunc, opts Options) *SLCAN {
	if open == nil {
		open = OpenSerial
	}
	return &SLCAN{
		core:     newCore(opts),
		port:     port,
		baud:     baud,
		bitrate:  bitrate,
		open:     open,
		respChan: make(chan string, 4),
	}
}

// Start opens the channel at the configured bitrate and begins reading frames
func (s *SLCAN) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	var bitrateCmd string
	if s.bitrate > 0 {
		cmd, err := bitrateCommand(s.bitrate)
		if err != nil {
			return err
		}
		bitrateCmd = cmd
	}

	conn, err := s.open(s.port, s.baud)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.conn = conn
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(runCtx, conn)
	}()

	fail := func(err error) error {
		cancel()
		conn.Close()
		s.wg.Wait()
		s.conn = nil
		s.cancel = nil
		return err
	}

	// The channel may already be open from a previous run; a rejected close is fine
	if _, err := s.command(ctx, "C"); err != nil && !errors.Is(err, errCommandRejected) {
		return fail(fmt.Errorf("slcan close channel: %w", err))
	}
	if bitrateCmd != "" {
		if _, err := s.command(ctx, bitrateCmd); err != nil {
			return fail(fmt.Errorf("slcan set bitrate %d: %w", s.bitrate, err))
		}
	}
	if _, err := s.command(ctx, "O"); err != nil {
		return fail(fmt.Errorf("slcan open channel: %w", err))
	}

	s.deviceID = s.queryDeviceID(ctx)
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatchLoop(runCtx)
	}()

	s.logger.Info("slcan adapter started", "port", s.port, "bitrate", s.bitrate, "device", s.deviceID)
	return nil
}

// queryDeviceID asks for the serial number, then the version, then falls back to the port name
func (s *SLCAN) queryDeviceID(ctx context.Context) string {
	for _, cmd := range []string{"N", "V"} {
		resp, err := s.command(ctx, cmd)
		if err == nil && len(resp) > 1 && resp[0] == cmd[0] {
			return resp[1:]
		}
		s.logger.Debug("slcan id query failed", "command", cmd, "response", resp, "error", err)
	}
	return s.port
}

// command sends one command and waits for its response line
func (s *SLCAN) command(ctx context.Context, cmd string) (string, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	// discard responses nobody waited for
	for {
		select {
		case <-s.respChan:
			continue
		default:
		}
		break
	}

	if _, err := io.WriteString(s.conn, cmd+"\r"); err != nil {
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}

	timer := time.NewTimer(slcanCommandTimeout)
	defer timer.Stop()

	select {
	case resp := <-s.respChan:
		if resp == "\a" {
			return "", fmt.Errorf("%q: %w", cmd, errCommandRejected)
		}
		return resp, nil
	case <-timer.C:
		return "", fmt.Errorf("%q: no response within %s", cmd, slcanCommandTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// readLoop splits the byte stream into lines and routes frames and responses
func (s *SLCAN) readLoop(ctx context.Context, conn io.Reader) {
	buf := make([]byte, 256)
	var pending []byte

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.fatal("read", err)
			return
		}
		if n == 0 {
			// read timeout
			continue
		}

		pending = append(pending, buf[:n]...)
		for {
			i := strings.IndexAny(string(pending), "\r\a")
			if i < 0 {
				break
			}
			line := string(pending[:i])
			term := pending[i]
			pending = pending[i+1:]

			if term == '\a' {
				s.respond("\a")
				continue
			}
			s.handleLine(line)
		}

		if len(pending) > 64 {
			s.logger.Debug("discarding unterminated slcan data", "bytes", len(pending))
			pending = pending[:0]
		}
	}
}

func (s *SLCAN) handleLine(line string) {
	switch {
	case isFrameLine(line):
		frame, ts, hasTS, err := decodeSLCAN(line)
		if err != nil {
			s.logger.Debug("invalid slcan frame", "line", line, "error", err)
			return
		}
		msg := models.CANMessage{
			Frame:     frame,
			Timestamp: time.Now().UTC(),
			Interface: s.port,
		}
		if hasTS {
			msg.BusTime = uint32(ts)
		}
		s.enqueue(msg)

	case line == "z" || line == "Z":
		// transmit acknowledgement

	default:
		s.respond(line)
	}
}

func (s *SLCAN) respond(resp string) {
	select {
	case s.respChan <- resp:
	default:
		s.logger.Debug("unsolicited slcan response", "response", resp)
	}
}

// DeviceID returns the adapter serial number or version string
func (s *SLCAN) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Health reads the bus status flags and decodes the latest health frames
func (s *SLCAN) Health(ctx context.Context) (models.HealthSnapshot, error) {
	s.mu.Lock()
	started, closed := s.started, s.closed
	s.mu.Unlock()
	if closed {
		return models.HealthSnapshot{}, ErrClosed
	}
	if !started {
		return models.HealthSnapshot{}, fmt.Errorf("slcan adapter not started")
	}

	resp, err := s.command(ctx, "F")
	if err != nil {
		return models.HealthSnapshot{}, fmt.Errorf("slcan status: %w", err)
	}
	flags, err := parseStatusFlags(resp)
	if err != nil {
		return models.HealthSnapshot{}, err
	}

	snap, err := s.healthSnapshot()
	snap.BusState = busStateFromFlags(flags)
	return snap, err
}

// Close closes the CAN channel and the serial link
func (s *SLCAN) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	conn, cancel := s.conn, s.cancel
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	if started {
		ctx, done := context.WithTimeout(context.Background(), slcanCommandTimeout)
		if _, err := s.command(ctx, "C"); err != nil {
			s.logger.Debug("slcan close channel failed", "error", err)
		}
		done()
	}

	cancel()
	err := conn.Close()
	s.wg.Wait()
	return err
}

var _ Adapter = (*SLCAN)(nil)
