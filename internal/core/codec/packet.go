package codec

import (
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
)

// InvalidOffset marks a body offset that lies beyond the packet length.
const InvalidOffset = -1

// Packet is a decoded header paired with the raw bytes of its frame.
// Accessors slice the raw buffer lazily; nothing is parsed up front.
type Packet struct {
	hdr     core.Header
	raw     []byte
	forward bool
}

// FromParts wraps a decoded header and the frame bytes it describes.
// A header whose variable segment overruns the frame yields a malformed packet,
// reported through BodyOffset and Malformed rather than at construction.
func FromParts(hdr core.Header, raw []byte) *Packet {
	return &Packet{hdr: hdr, raw: raw}
}

// Pack encodes f and re-decodes the result, so the returned packet is exactly
// what a receiver would see (ttl default applied, no hop decrement).
func (c *Codec) Pack(f core.Fields) (*Packet, error) {
	raw, err := c.Encode(f)
	if err != nil {
		return nil, err
	}
	hdr, ok, err := c.DecodeHeader(raw)
	if err != nil {
		return nil, fmt.Errorf("re-decode packed frame: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: packed frame too short (%d bytes)", core.ErrDecode, len(raw))
	}
	return FromParts(hdr, raw), nil
}

// Header returns the decoded header descriptor.
func (p *Packet) Header() core.Header { return p.hdr }

func (p *Packet) Type() uint8      { return p.hdr.Type }
func (p *Packet) TTL() uint8       { return p.hdr.TTL }
func (p *Packet) IDRouter() uint32 { return p.hdr.IDRouter }
func (p *Packet) IDTarget() uint32 { return p.hdr.IDTarget }
func (p *Packet) PacketLen() int   { return p.hdr.PacketLen }
func (p *Packet) IsForward() bool  { return p.forward }
func (p *Packet) IsControl() bool  { return p.hdr.IsControl() }

// Bytes returns the raw frame. The slice is owned by the packet; do not modify it.
func (p *Packet) Bytes() []byte { return p.raw }

// HeaderOffset is the position of the variable header segment.
func (p *Packet) HeaderOffset() int {
	return p.hdr.Size
}

// BodyOffset is the position of the body, or InvalidOffset when the variable
// header claims more bytes than the frame holds.
func (p *Packet) BodyOffset() int {
	off := p.hdr.Size + p.hdr.HeaderLen
	if off > p.hdr.PacketLen {
		return InvalidOffset
	}
	return off
}

// Malformed reports whether the header and body cannot be sliced.
func (p *Packet) Malformed() bool {
	return p.BodyOffset() == InvalidOffset || len(p.raw) < p.hdr.PacketLen
}

// HeaderBytes is a zero-copy view of the variable header; nil when malformed.
func (p *Packet) HeaderBytes() []byte {
	if p.Malformed() {
		return nil
	}
	return p.raw[p.HeaderOffset():p.BodyOffset():p.BodyOffset()]
}

// BodyBytes is a zero-copy view of the body; nil when malformed.
func (p *Packet) BodyBytes() []byte {
	if p.Malformed() {
		return nil
	}
	return p.raw[p.BodyOffset():p.hdr.PacketLen:p.hdr.PacketLen]
}

// HeaderText decodes the variable header as UTF-8 text.
func (p *Packet) HeaderText() (string, error) {
	return p.text("header", p.HeaderBytes())
}

// BodyText decodes the body as UTF-8 text.
func (p *Packet) BodyText() (string, error) {
	return p.text("body", p.BodyBytes())
}

func (p *Packet) text(part string, b []byte) (string, error) {
	if p.Malformed() {
		return "", fmt.Errorf("%w: %s of %s", core.ErrMalformedPacket, part, p)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", core.ErrDecode, part)
	}
	return string(b), nil
}

// UnpackID reads a 32-bit id at offset in the packet's raw bytes.
// core.OffsetIDRouter and core.OffsetIDTarget address the routing ids.
func (p *Packet) UnpackID(offset int) (uint32, error) {
	return UnpackID(p.raw, offset)
}

// WriteTo writes the raw frame to w.
func (p *Packet) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.raw)
	return int64(n), err
}

func (p *Packet) String() string {
	return fmt.Sprintf("packet{type=%d ttl=%d router=%d target=%d header_len=%d len=%d forward=%t}",
		p.hdr.Type, p.hdr.TTL, p.hdr.IDRouter, p.hdr.IDTarget, p.hdr.HeaderLen, p.hdr.PacketLen, p.forward)
}

// LogValue implements slog.LogValuer.
func (p *Packet) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("type", int(p.hdr.Type)),
		slog.Int("ttl", int(p.hdr.TTL)),
		slog.Uint64("id_router", uint64(p.hdr.IDRouter)),
		slog.Uint64("id_target", uint64(p.hdr.IDTarget)),
		slog.Int("packet_len", p.hdr.PacketLen),
		slog.Bool("forward", p.forward),
	)
}
