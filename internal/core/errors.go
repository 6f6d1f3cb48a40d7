// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// Framing errors (fatal for the stream)
	ErrFraming   = errors.New("fabric: bad packet signature")
	ErrBadLength = errors.New("fabric: packet length shorter than header")

	// Encoding errors (fail a single pack call)
	ErrInvalidField   = errors.New("fabric: invalid packet field")
	ErrPacketTooLarge = errors.New("fabric: packet too large")

	// Packet object errors
	ErrMissingTarget   = errors.New("fabric: forward requires id_target")
	ErrDecode          = errors.New("fabric: decode failed")
	ErrMalformedPacket = errors.New("fabric: body offset exceeds packet length")

	// Configuration errors
	ErrConfigInvalid = errors.New("fabric: invalid configuration")
)

// FramingError reports a frame that cannot be aligned on the byte stream.
// Found and Expected hold the signature bytes as they appear on the wire.
type FramingError struct {
	Found    [2]byte
	Expected [2]byte
	Offset   int // stream offset of the frame start, -1 if unknown
	Reason   error
}

func (e *FramingError) Error() string {
	if e.Reason == ErrBadLength {
		return fmt.Sprintf("%v (at offset %d)", e.Reason, e.Offset)
	}
	return fmt.Sprintf("%v: found [0x%02X 0x%02X], expected [0x%02X 0x%02X] (at offset %d)",
		ErrFraming, e.Found[0], e.Found[1], e.Expected[0], e.Expected[1], e.Offset)
}

// Unwrap lets errors.Is match ErrFraming for every framing failure, and
// ErrBadLength for length failures.
func (e *FramingError) Unwrap() []error {
	if e.Reason == nil || e.Reason == ErrFraming {
		return []error{ErrFraming}
	}
	return []error{ErrFraming, e.Reason}
}
