// Package signal extracts scaled signal values from raw CAN frames.
//
// Decoding is a pure function of a frame batch and a models.SignalSpec:
// the first data frame whose ID and format match the signal is read as a big-endian
// unsigned integer over the signal byte range, then scaled.
package signal

import (
	"can-telemetry-bridge/internal/models"
	"errors"
	"fmt"
)

// ErrOutOfRange is matched by every DecodeRangeError
var ErrOutOfRange = errors.New("signal byte range exceeds frame payload")

// DecodeRangeError reports a frame whose payload is too short for the signal
type DecodeRangeError struct {
	Signal     string
	Address    uint32
	Offset     int
	Length     int
	PayloadLen int
}

func (e *DecodeRangeError) Error() string {
	return fmt.Sprintf("signal %s: bytes %d..%d out of range for frame 0x%X with %d byte payload",
		e.Signal, e.Offset, e.Offset+e.Length-1, e.Address, e.PayloadLen)
}

func (e *DecodeRangeError) Unwrap() error {
	return ErrOutOfRange
}

// Decode scans the batch for the first frame carrying the signal.
// ok is false when no frame in the batch carries the signal. Remote frames
// and frames of the other id format are skipped.
func Decode(batch []models.CANMessage, spec models.SignalSpec) (value float64, ok bool, err error) {
	for i := range batch {
		if !spec.Matches(batch[i].Frame) {
			continue
		}
		value, err = Extract(batch[i].Frame.Payload(), spec)
		if err != nil {
			return 0, false, err
		}
		return value, true, nil
	}
	return 0, false, nil
}

// Extract reads the signal out of a single payload
func Extract(payload []byte, spec models.SignalSpec) (float64, error) {
	end := spec.ByteOffset + spec.ByteLength
	if spec.ByteOffset < 0 || spec.ByteLength < 1 || spec.ByteLength > models.MaxPayload || end > len(payload) {
		return 0, &DecodeRangeError{
			Signal:     spec.Name,
			Address:    spec.Address,
			Offset:     spec.ByteOffset,
			Length:     spec.ByteLength,
			PayloadLen: len(payload),
		}
	}

	var raw uint64
	for _, b := range payload[spec.ByteOffset:end] {
		raw = raw<<8 | uint64(b)
	}

	value := float64(raw) * spec.Scale
	if spec.SecondaryScale != nil {
		value *= *spec.SecondaryScale
	}
	return value, nil
}

// DecodeAll applies every spec to the batch. Signals without a matching
// frame are absent from the result. Any range error fails the whole batch.
func DecodeAll(batch []models.CANMessage, specs []models.SignalSpec) (map[string]float64, error) {
	var values map[string]float64
	var errs []error

	for _, spec := range specs {
		value, ok, err := Decode(batch, spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		if values == nil {
			values = make(map[string]float64, len(specs))
		}
		values[spec.Name] = value
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return values, nil
}
