package can

import (
	"errors"
	"testing"
)

const ipOutput = `3: can0: <NOARP,UP,LOWER_UP,ECHO> mtu 16 qdisc pfifo_fast state UP mode DEFAULT group default qlen 10
    link/can  promiscuity 0 minmtu 0 maxmtu 0
    can state ERROR-PASSIVE (berr-counter tx 128 rx 3) restart-ms 100
	  bitrate 500000 sample-point 0.875
	  tq 125 prop-seg 6 phase-seg1 7 phase-seg2 2 sjw 1
	  mcp251x: tseg1 3..16 tseg2 2..8 sjw 1..4 brp 1..64 brp-inc 1
	  clock 8000000
	  re-started bus-errors arbit-lost error-warn error-pass bus-off
	  2          17         0          4          1          2         numtxqueues 1 numrxqueues 1
    RX: bytes  packets  errors  dropped overrun mcast
    123456     7890     3       1       0       0
    TX: bytes  packets  errors  dropped carrier collsns
    6543       987      0       0       0       0
`

func TestParseIPOutput(t *testing.T) {
	stats := parseIPOutput(ipOutput)

	if stats.State != "UP" || stats.MTU != 16 {
		t.Errorf("unexpected link state: %+v", stats)
	}
	if stats.BusState != "ERROR-PASSIVE" || stats.TXErrorCounter != 128 || stats.RXErrorCounter != 3 {
		t.Errorf("unexpected bus state: %s tx=%d rx=%d", stats.BusState, stats.TXErrorCounter, stats.RXErrorCounter)
	}
	if stats.Bitrate != 500000 {
		t.Errorf("expected bitrate 500000, got %d", stats.Bitrate)
	}
	if stats.BusOffRestarts != 2 || stats.BusErrors != 17 || stats.ErrorWarning != 4 || stats.ErrorPassive != 1 || stats.BusOff != 2 {
		t.Errorf("unexpected error counters: %+v", stats)
	}
	if stats.RXPackets != 7890 || stats.RXErrors != 3 || stats.RXDropped != 1 || stats.TXPackets != 987 {
		t.Errorf("unexpected packet counters: %+v", stats)
	}
}

func TestParseIPOutput_Down(t *testing.T) {
	stats := parseIPOutput("4: can1: <NOARP,ECHO> mtu 16 qdisc noop state DOWN mode DEFAULT group default qlen 10\n")
	if stats.State != "DOWN" {
		t.Errorf("expected DOWN, got %s", stats.State)
	}

	// LOWER_UP alone does not mean the link is up
	stats = parseIPOutput("4: can1: <NOARP,LOWER_UP> mtu 16\n")
	if stats.State != "DOWN" {
		t.Errorf("expected DOWN for LOWER_UP only, got %s", stats.State)
	}
}

func TestCheckInterfaceHealth(t *testing.T) {
	stats := parseIPOutput(ipOutput)
	stats.Interface = "can0"
	if err := checkInterfaceHealth(stats); err != nil {
		t.Errorf("expected healthy interface, got %v", err)
	}

	stats.BusState = "BUS-OFF"
	if err := checkInterfaceHealth(stats); !errors.Is(err, ErrBusOff) {
		t.Errorf("expected ErrBusOff, got %v", err)
	}

	stats.State = "DOWN"
	if err := checkInterfaceHealth(stats); err == nil {
		t.Error("expected error for DOWN interface")
	}
}
