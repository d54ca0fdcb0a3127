package models

import "time"

// CANFrame represents a CAN 2.0 frame
type CANFrame struct {
	ID       uint32
	DLC      uint8
	Data     [8]byte
	Extended bool
	Remote   bool
}

// Payload returns the data bytes actually carried by the frame
func (f *CANFrame) Payload() []byte {
	n := int(f.DLC)
	if n > len(f.Data) {
		n = len(f.Data)
	}
	return f.Data[:n]
}

// CANMessage includes the CAN frame and where/when it was seen.
// BusTime is the adapter's own timestamp when the hardware provides one.
type CANMessage struct {
	Frame     CANFrame
	Bus       int
	BusTime   uint32
	Timestamp time.Time
	Interface string
}
