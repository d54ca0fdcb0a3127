package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Maximum payload of a classical CAN frame
const MaxPayload = 8

// Identifier ranges of standard (11-bit) and extended (29-bit) frames
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

// SignalSpec defines how a named signal is laid out inside a CAN frame
// and where its decoded value is published.
type SignalSpec struct {
	Name           string   `yaml:"-" json:"name"`
	Address        uint32   `yaml:"address" json:"address"`         // Frame ID carrying the signal
	ByteOffset     int      `yaml:"offset" json:"byte_offset"`      // Starting byte position (0-7)
	ByteLength     int      `yaml:"length" json:"byte_length"`      // Number of bytes, big-endian unsigned (1-8)
	Scale          float64  `yaml:"scale" json:"scale"`             // Applied after decode
	SecondaryScale *float64 `yaml:"secondary_scale,omitempty" json:"secondary_scale,omitempty"`
	Channel        int      `yaml:"channel" json:"channel"` // Telemetry channel id
	Type           string   `yaml:"type,omitempty" json:"type,omitempty"`
	Unit           string   `yaml:"unit,omitempty" json:"unit,omitempty"`
	Extended       bool     `yaml:"extended,omitempty" json:"extended,omitempty"` // 29-bit frame id; implied above 0x7FF
}

// IsExtended reports whether the signal travels in an extended frame
func (s SignalSpec) IsExtended() bool {
	return s.Extended || s.Address > MaxStandardID
}

// Matches reports whether the frame carries the signal. Remote frames carry
// no data and never match.
func (s SignalSpec) Matches(f CANFrame) bool {
	return !f.Remote && f.ID == s.Address && f.Extended == s.IsExtended()
}

// Validate checks the byte range against the classical CAN payload size
func (s SignalSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("signal has no name")
	}
	if s.Address > MaxExtendedID {
		return fmt.Errorf("signal '%s': can id 0x%X exceeds 29 bits", s.Name, s.Address)
	}
	if s.ByteLength < 1 || s.ByteLength > MaxPayload {
		return fmt.Errorf("signal '%s': byte length %d must be 1-8", s.Name, s.ByteLength)
	}
	if s.ByteOffset < 0 || s.ByteOffset > MaxPayload-1 {
		return fmt.Errorf("signal '%s': byte offset %d must be 0-7", s.Name, s.ByteOffset)
	}
	if s.ByteOffset+s.ByteLength > MaxPayload {
		return fmt.Errorf("signal '%s' exceeds 8-byte CAN data limit (offset %d + length %d)", s.Name, s.ByteOffset, s.ByteLength)
	}
	if s.Scale == 0 {
		return fmt.Errorf("signal '%s': scale must not be zero", s.Name)
	}
	return nil
}

// SignalSet maps signal names to their specs
type SignalSet map[string]SignalSpec

// Names returns the signal names in sorted order
func (s SignalSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate validates every signal in the set
func (s SignalSet) Validate() error {
	for _, name := range s.Names() {
		if err := s[name].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Select returns the specs for the given names, in the given order
func (s SignalSet) Select(names []string) ([]SignalSpec, error) {
	specs := make([]SignalSpec, 0, len(names))
	for _, name := range names {
		spec, ok := s[name]
		if !ok {
			return nil, fmt.Errorf("unknown signal '%s'", name)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Speed on the Toyota Prius '16-'18 bus: frame 0xB4, bytes 5-6 in 0.01 kph,
// converted to mph for publishing.
func DefaultSignals() SignalSet {
	mph := 0.621371
	return SignalSet{
		"speed": {
			Name:           "speed",
			Address:        180,
			ByteOffset:     5,
			ByteLength:     2,
			Scale:          0.01,
			SecondaryScale: &mph,
			Channel:        0,
		},
	}
}

// ParseSignalSpecs parses inline signal definitions
// Format: "name:address:offset:length:scale[:secondary_scale[:channel]]", comma separated
// Example: "speed:0xb4:5:2:0.01:0.621371:0,rpm:0x1c4:0:2:1"
func ParseSignalSpecs(value string) ([]SignalSpec, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	specs := []SignalSpec{}
	for _, def := range strings.Split(value, ",") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}

		parts := strings.Split(def, ":")
		if len(parts) < 5 || len(parts) > 7 {
			return nil, fmt.Errorf("invalid signal definition '%s', expected format: name:address:offset:length:scale[:secondary_scale[:channel]]", def)
		}
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		address, err := ParseAddress(parts[1])
		if err != nil {
			return nil, fmt.Errorf("signal '%s': %w", parts[0], err)
		}

		offset, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("signal '%s': invalid byte offset '%s'", parts[0], parts[2])
		}

		length, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil, fmt.Errorf("signal '%s': invalid byte length '%s'", parts[0], parts[3])
		}

		scale, err := strconv.ParseFloat(parts[4], 64)
		if err != nil {
			return nil, fmt.Errorf("signal '%s': invalid scale '%s'", parts[0], parts[4])
		}

		spec := SignalSpec{
			Name:       parts[0],
			Address:    address,
			ByteOffset: offset,
			ByteLength: length,
			Scale:      scale,
		}

		if len(parts) > 5 && parts[5] != "" {
			secondary, err := strconv.ParseFloat(parts[5], 64)
			if err != nil {
				return nil, fmt.Errorf("signal '%s': invalid secondary scale '%s'", parts[0], parts[5])
			}
			spec.SecondaryScale = &secondary
		}

		if len(parts) > 6 {
			spec.Channel, err = strconv.Atoi(parts[6])
			if err != nil {
				return nil, fmt.Errorf("signal '%s': invalid channel '%s'", parts[0], parts[6])
			}
		}

		if err := spec.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// ParseAddress parses a CAN ID in decimal or 0x-prefixed hex
func ParseAddress(s string) (uint32, error) {
	var id uint64
	var err error
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		id, err = strconv.ParseUint(s[2:], 16, 32)
	} else {
		id, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid can id '%s': %v", s, err)
	}
	return uint32(id), nil
}
