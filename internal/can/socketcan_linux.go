//go:build linux

package can

import (
	"can-telemetry-bridge/internal/models"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	canRawErrFilter = 2
	canEffFlag      = 0x80000000
	canRtrFlag      = 0x40000000
	canErrFlag      = 0x20000000
	canSffMask      = 0x000007FF
	canEffMask      = 0x1FFFFFFF
	canErrBusOff    = 0x00000040

	frameSize   = 16 // struct can_frame
	readTimeout = 250 * time.Millisecond
)

// SocketCAN reads frames from a Linux SocketCAN interface
type SocketCAN struct {
	*core

	ifname  string
	filters []uint32

	mu       sync.Mutex
	socket   int
	deviceID string
	started  bool
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSocketCAN creates an adapter for the given interface. Filters restrict
// the frame IDs received; an empty list receives everything.
func NewSocketCAN(ifname string, filters []uint32, opts Options) *SocketCAN {
	return &SocketCAN{
		core:    newCore(opts),
		ifname:  ifname,
		filters: filters,
		socket:  -1,
	}
}

// Start opens and binds the raw socket and begins reading frames
func (s *SocketCAN) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	socket, ifindex, err := openSocket(s.ifname)
	if err != nil {
		return err
	}

	if err := setFilters(socket, s.filters); err != nil {
		unix.Close(socket)
		return err
	}

	// Only bus-off error frames are of interest
	if err := unix.SetsockoptInt(socket, unix.SOL_CAN_RAW, canRawErrFilter, canErrBusOff); err != nil {
		unix.Close(socket)
		return fmt.Errorf("failed to set error filter: %w", err)
	}

	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(socket, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(socket)
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.socket = socket
	s.deviceID = fmt.Sprintf("%s#%d", s.ifname, ifindex)
	s.cancel = cancel
	s.started = true

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.readLoop(runCtx, socket)
	}()
	go func() {
		defer s.wg.Done()
		s.dispatchLoop(runCtx)
	}()

	s.logger.Info("socketcan adapter started", "interface", s.ifname, "device", s.deviceID, "filters", len(s.filters))
	return nil
}

func openSocket(ifname string) (int, int, error) {
	socket, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return -1, 0, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(socket)
		return -1, 0, fmt.Errorf("failed to create ifreq: %w", err)
	}

	if err := unix.IoctlIfreq(socket, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(socket)
		return -1, 0, fmt.Errorf("failed to get interface index for %s: %w", ifname, err)
	}

	ifindex := int(ifreq.Uint32())
	if err := unix.Bind(socket, &unix.SockaddrCAN{Ifindex: ifindex}); err != nil {
		unix.Close(socket)
		return -1, 0, fmt.Errorf("failed to bind socket: %w", err)
	}

	return socket, ifindex, nil
}

// setFilters installs exact-match receive filters
func setFilters(socket int, ids []uint32) error {
	if len(ids) == 0 {
		return nil
	}

	filters := make([]unix.CanFilter, 0, len(ids))
	for _, id := range ids {
		if id > canSffMask {
			filters = append(filters, unix.CanFilter{Id: id | canEffFlag, Mask: canEffMask | canEffFlag | canRtrFlag})
		} else {
			filters = append(filters, unix.CanFilter{Id: id, Mask: canSffMask | canEffFlag | canRtrFlag})
		}
	}

	if err := unix.SetsockoptCanRawFilter(socket, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
		return fmt.Errorf("failed to set filter: %w", err)
	}
	return nil
}

// readLoop reads frames until the context is cancelled or the bus fails
func (s *SocketCAN) readLoop(ctx context.Context, socket int) {
	buf := make([]byte, frameSize)

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := unix.Read(socket, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.fatal("read", err)
			return
		}

		if n < frameSize {
			s.logger.Debug("incomplete CAN frame received", "bytes", n)
			continue
		}

		msg, busOff := parseFrame(buf, s.ifname)
		if busOff {
			s.fatal("bus-off", fmt.Errorf("%s: %w", s.ifname, ErrBusOff))
			return
		}
		if msg == nil {
			continue
		}

		s.enqueue(*msg)
	}
}

// parseFrame decodes a struct can_frame. Error frames yield a nil message.
func parseFrame(buf []byte, ifname string) (*models.CANMessage, bool) {
	rawID := binary.LittleEndian.Uint32(buf[0:4])

	if rawID&canErrFlag != 0 {
		return nil, rawID&canErrBusOff != 0
	}

	frame := models.CANFrame{
		DLC:      buf[4],
		Extended: rawID&canEffFlag != 0,
		Remote:   rawID&canRtrFlag != 0,
	}
	if frame.Extended {
		frame.ID = rawID & canEffMask
	} else {
		frame.ID = rawID & canSffMask
	}
	if frame.DLC > models.MaxPayload {
		frame.DLC = models.MaxPayload
	}
	copy(frame.Data[:], buf[8:16])

	return &models.CANMessage{
		Frame:     frame,
		Timestamp: time.Now().UTC(),
		Interface: ifname,
	}, false
}

// DeviceID returns "<interface>#<ifindex>"
func (s *SocketCAN) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID
}

// Health checks the interface and decodes the latest health frames
func (s *SocketCAN) Health(ctx context.Context) (models.HealthSnapshot, error) {
	stats, err := collectStats(ctx, s.ifname)
	if err != nil {
		return models.HealthSnapshot{}, err
	}
	if err := checkInterfaceHealth(stats); err != nil {
		return models.HealthSnapshot{BusState: stats.BusState}, err
	}

	snap, err := s.healthSnapshot()
	snap.BusState = stats.BusState
	return snap, err
}

// Close stops the read loop and closes the socket
func (s *SocketCAN) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	socket := s.socket
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	s.wg.Wait()
	return unix.Close(socket)
}

var _ Adapter = (*SocketCAN)(nil)
