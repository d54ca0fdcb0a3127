package can

import (
	"can-telemetry-bridge/internal/models"
	"encoding/hex"
	"fmt"
	"strconv"
)

// SLCAN bus state flags returned by the F command
const (
	slcanFlagErrorWarning = 0x04
	slcanFlagErrorPassive = 0x20
	slcanFlagBusError     = 0x80

	canStdMax = 0x7FF
	canExtMax = 0x1FFFFFFF
)

var slcanBitrates = map[int]string{
	10000:   "S0",
	20000:   "S1",
	50000:   "S2",
	100000:  "S3",
	125000:  "S4",
	250000:  "S5",
	500000:  "S6",
	800000:  "S7",
	1000000: "S8",
}

// bitrateCommand returns the Sn command for a bus bitrate
func bitrateCommand(bitrate int) (string, error) {
	cmd, ok := slcanBitrates[bitrate]
	if !ok {
		return "", fmt.Errorf("unsupported slcan bitrate %d", bitrate)
	}
	return cmd, nil
}

// isFrameLine reports whether a received line carries a CAN frame
func isFrameLine(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case 't', 'T', 'r', 'R':
		return true
	}
	return false
}

// decodeSLCAN parses one frame line without its terminator, e.g.
// "t1B4801020304050607080A3F". A trailing 4 hex digit timestamp is
// returned when the device has timestamps enabled.
func decodeSLCAN(line string) (models.CANFrame, uint16, bool, error) {
	var frame models.CANFrame

	if line == "" {
		return frame, 0, false, fmt.Errorf("empty slcan frame")
	}

	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		idLen = 8
		frame.Extended = true
	case 'r':
		frame.Remote = true
	case 'R':
		idLen = 8
		frame.Extended = true
		frame.Remote = true
	default:
		return frame, 0, false, fmt.Errorf("unknown slcan frame type %q", line[0])
	}

	if len(line) < 1+idLen+1 {
		return frame, 0, false, fmt.Errorf("slcan frame too short: %q", line)
	}

	id, err := strconv.ParseUint(line[1:1+idLen], 16, 32)
	if err != nil {
		return frame, 0, false, fmt.Errorf("invalid slcan frame id %q: %w", line[1:1+idLen], err)
	}
	if !frame.Extended && id > canStdMax {
		return frame, 0, false, fmt.Errorf("standard frame id 0x%X out of range", id)
	}
	if frame.Extended && id > canExtMax {
		return frame, 0, false, fmt.Errorf("extended frame id 0x%X out of range", id)
	}
	frame.ID = uint32(id)

	dlc, err := strconv.ParseUint(line[1+idLen:2+idLen], 16, 8)
	if err != nil || dlc > models.MaxPayload {
		return frame, 0, false, fmt.Errorf("invalid slcan dlc %q", line[1+idLen:2+idLen])
	}
	frame.DLC = uint8(dlc)

	rest := line[2+idLen:]
	if !frame.Remote {
		dataLen := int(dlc) * 2
		if len(rest) < dataLen {
			return frame, 0, false, fmt.Errorf("slcan frame data too short: %q", line)
		}
		if _, err := hex.Decode(frame.Data[:], []byte(rest[:dataLen])); err != nil {
			return frame, 0, false, fmt.Errorf("invalid slcan frame data: %w", err)
		}
		rest = rest[dataLen:]
	}

	switch len(rest) {
	case 0:
		return frame, 0, false, nil
	case 4:
		ts, err := strconv.ParseUint(rest, 16, 16)
		if err != nil {
			return frame, 0, false, fmt.Errorf("invalid slcan timestamp %q: %w", rest, err)
		}
		return frame, uint16(ts), true, nil
	default:
		return frame, 0, false, fmt.Errorf("trailing data in slcan frame: %q", line)
	}
}

// busStateFromFlags maps F command status flags to a bus state name
func busStateFromFlags(flags uint8) string {
	switch {
	case flags&slcanFlagBusError != 0:
		return "BUS-ERROR"
	case flags&slcanFlagErrorPassive != 0:
		return "ERROR-PASSIVE"
	case flags&slcanFlagErrorWarning != 0:
		return "ERROR-WARNING"
	default:
		return "ERROR-ACTIVE"
	}
}

// parseStatusFlags parses an "Fxx" response
func parseStatusFlags(resp string) (uint8, error) {
	if len(resp) != 3 || resp[0] != 'F' {
		return 0, fmt.Errorf("unexpected status response %q", resp)
	}
	flags, err := strconv.ParseUint(resp[1:], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid status flags %q: %w", resp, err)
	}
	return uint8(flags), nil
}
