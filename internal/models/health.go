package models

import "time"

// Names of the signals an adapter decodes from the device's health frames
const (
	SignalVoltage         = "voltage"
	SignalCurrent         = "current"
	SignalGasInterceptor  = "gas_interceptor"
	SignalStartSignal     = "start_signal"
	SignalControlsAllowed = "controls_allowed"
)

// HealthSignals lists the health signal names in publish order
var HealthSignals = []string{
	SignalVoltage,
	SignalCurrent,
	SignalGasInterceptor,
	SignalStartSignal,
	SignalControlsAllowed,
}

// HealthSnapshot is a point-in-time read of the adapter device status
type HealthSnapshot struct {
	VoltageMillivolts      uint32    `json:"voltage_mv"`
	CurrentMilliamps       uint32    `json:"current_ma"`
	GasInterceptorDetected bool      `json:"gas_interceptor_detected"`
	StartSignalDetected    bool      `json:"start_signal_detected"`
	ControlsAllowed        bool      `json:"controls_allowed"`
	BusState               string    `json:"bus_state,omitempty"` // ERROR-ACTIVE, ERROR-PASSIVE, BUS-OFF, ...
	Taken                  time.Time `json:"taken"`
}

// InterfaceStats is the subset of SocketCAN interface statistics used for health
type InterfaceStats struct {
	Interface string    `json:"interface"`
	Timestamp time.Time `json:"timestamp"`

	State    string `json:"state"`     // UP, DOWN
	MTU      int    `json:"mtu"`       // Maximum Transmission Unit
	Bitrate  int    `json:"bitrate"`   // Bitrate in bps
	BusState string `json:"bus_state"` // ERROR-ACTIVE, ERROR-PASSIVE, BUS-OFF

	RXErrorCounter int `json:"rx_error_counter"`
	TXErrorCounter int `json:"tx_error_counter"`

	BusOffRestarts  uint64 `json:"bus_off_restarts"`
	BusErrors       uint64 `json:"bus_errors"`
	ArbitrationLost uint64 `json:"arbitration_lost"`
	ErrorWarning    uint64 `json:"error_warning"`
	ErrorPassive    uint64 `json:"error_passive"`
	BusOff          uint64 `json:"bus_off"`

	RXPackets uint64 `json:"rx_packets"`
	RXBytes   uint64 `json:"rx_bytes"`
	RXErrors  uint64 `json:"rx_errors"`
	RXDropped uint64 `json:"rx_dropped"`
	TXPackets uint64 `json:"tx_packets"`
	TXBytes   uint64 `json:"tx_bytes"`
	TXErrors  uint64 `json:"tx_errors"`
	TXDropped uint64 `json:"tx_dropped"`
}
