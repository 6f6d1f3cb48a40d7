// Package core defines core data structures with zero external dependencies.
package core

// Header is the result of decoding a fixed header from bytes.
type Header struct {
	Type      uint8
	TTL       uint8  // as read from the wire, or after an explicit decrement
	IDRouter  uint32 // 0 marks a control packet in LayoutVariable
	IDTarget  uint32 // zero value for control packets
	HeaderLen int    // length of the variable header segment
	PacketLen int    // total frame length, all headers and body included
	Size      int    // bytes consumed by the fixed header (12 or 16)
	Layout    Layout
}

// IsControl reports whether the header has no router id.
func (h Header) IsControl() bool {
	return h.IDRouter == 0
}

// Fields describes a packet to encode.
// Ids are wider than the wire so out-of-range values can be rejected instead of truncated.
type Fields struct {
	Type     uint8
	TTL      uint8 // 0 encodes DefaultTTL
	IDRouter int64
	IDTarget int64
	Header   []byte // variable header segment
	Body     []byte
}

// Route carries routing ids for a rewrite; nil fields keep the current value.
type Route struct {
	IDRouter *uint32
	IDTarget *uint32
}

// ID returns a pointer to v, for building a Route.
func ID(v uint32) *uint32 {
	return &v
}
