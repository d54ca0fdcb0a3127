//go:build !linux

package can

import (
	"can-telemetry-bridge/internal/models"
	"context"
	"errors"
)

var errNoSocketCAN = errors.New("socketcan is only supported on linux")

// SocketCAN is unavailable on this platform
type SocketCAN struct {
	*core
	ifname string
}

func NewSocketCAN(ifname string, filters []uint32, opts Options) *SocketCAN {
	return &SocketCAN{core: newCore(opts), ifname: ifname}
}

func (s *SocketCAN) Start(ctx context.Context) error {
	return errNoSocketCAN
}

func (s *SocketCAN) DeviceID() string {
	return ""
}

func (s *SocketCAN) Health(ctx context.Context) (models.HealthSnapshot, error) {
	return models.HealthSnapshot{}, errNoSocketCAN
}

func (s *SocketCAN) Close() error {
	return nil
}

var _ Adapter = (*SocketCAN)(nil)
