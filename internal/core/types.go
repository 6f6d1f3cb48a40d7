// Package core defines wire-format constants and layouts with zero external dependencies.
package core

import (
	"fmt"
	"strings"
)

// Wire constants shared by every layout.
const (
	Signature    uint16 = 0xFEED // stored little-endian: 0xED 0xFE
	DefaultTTL   uint8  = 31
	MaxPacketLen        = 0xFFFF // packet_len is a 16-bit field

	MinHeaderSize = 12 // control header, Layout B
	MaxHeaderSize = 16 // routed header, both layouts
)

// SignatureBytes is the signature as it appears on the wire.
var SignatureBytes = [2]byte{byte(Signature & 0xFF), byte(Signature >> 8)}

// Layout selects the fixed header format of a stream.
type Layout uint8

const (
	// LayoutVariable is the canonical format: 12-byte control header when
	// id_router == 0, 16-byte routed header otherwise.
	//
	//	0-1 signature | 2-3 packet_len | 4 ttl | 5 type | 6-7 header_len
	//	8-11 id_router | 12-15 id_target (routed only)
	LayoutVariable Layout = iota

	// LayoutFixed always carries a 16-byte header.
	//
	//	0-1 signature | 2-3 packet_len | 4-5 header_len | 6 type | 7 ttl
	//	8-11 id_router | 12-15 id_target
	LayoutFixed
)

// Byte offsets of the fields whose position depends on the layout.
type Offsets struct {
	TTL       int
	Type      int
	HeaderLen int
}

// Fixed offsets common to both layouts.
const (
	OffsetSignature = 0
	OffsetPacketLen = 2
	OffsetIDRouter  = 8
	OffsetIDTarget  = 12
)

// Offsets returns the layout-specific field offsets.
func (l Layout) Offsets() Offsets {
	if l == LayoutFixed {
		return Offsets{TTL: 7, Type: 6, HeaderLen: 4}
	}
	return Offsets{TTL: 4, Type: 5, HeaderLen: 6}
}

// HeaderSize returns the fixed header size for a frame with the given router id.
func (l Layout) HeaderSize(idRouter uint32) int {
	if l == LayoutVariable && idRouter == 0 {
		return MinHeaderSize
	}
	return MaxHeaderSize
}

func (l Layout) String() string {
	switch l {
	case LayoutVariable:
		return "variable"
	case LayoutFixed:
		return "fixed"
	default:
		return fmt.Sprintf("layout(%d)", uint8(l))
	}
}

// ParseLayout converts a configuration string to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "variable", "b":
		return LayoutVariable, nil
	case "fixed", "a":
		return LayoutFixed, nil
	default:
		return LayoutVariable, fmt.Errorf("%w: unknown layout %q (must be variable/fixed)", ErrConfigInvalid, s)
	}
}
