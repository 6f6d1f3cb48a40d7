// Package codec implements the packet header codec and the packet object view.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
)

// Codec encodes and decodes fixed packet headers for one layout.
type Codec struct {
	layout core.Layout
}

// Default uses the canonical variable-size layout.
var Default = New(core.LayoutVariable)

// New creates a codec for the given layout.
func New(layout core.Layout) *Codec {
	return &Codec{layout: layout}
}

// Layout returns the header layout of the codec.
func (c *Codec) Layout() core.Layout {
	return c.layout
}

// DecodeHeader decodes the fixed header at the start of buf without modifying buf.
// Returns:
//   - (header, true, nil) when the whole fixed header is available
//   - (zero, false, nil) when buf is too short; feed more bytes and retry
//   - (zero, false, err) with a *core.FramingError when the stream is misaligned
func (c *Codec) DecodeHeader(buf []byte) (core.Header, bool, error) {
	if len(buf) < core.MinHeaderSize {
		return core.Header{}, false, nil
	}

	if buf[0] != core.SignatureBytes[0] || buf[1] != core.SignatureBytes[1] {
		return core.Header{}, false, &core.FramingError{
			Found:    [2]byte{buf[0], buf[1]},
			Expected: core.SignatureBytes,
			Offset:   -1,
			Reason:   core.ErrFraming,
		}
	}

	off := c.layout.Offsets()
	hdr := core.Header{
		Type:      buf[off.Type],
		TTL:       buf[off.TTL],
		IDRouter:  binary.LittleEndian.Uint32(buf[core.OffsetIDRouter:]),
		HeaderLen: int(binary.LittleEndian.Uint16(buf[off.HeaderLen:])),
		PacketLen: int(binary.LittleEndian.Uint16(buf[core.OffsetPacketLen:])),
		Layout:    c.layout,
	}

	hdr.Size = c.layout.HeaderSize(hdr.IDRouter)
	if len(buf) < hdr.Size {
		// id_target has not arrived yet
		return core.Header{}, false, nil
	}
	if hdr.Size == core.MaxHeaderSize {
		hdr.IDTarget = binary.LittleEndian.Uint32(buf[core.OffsetIDTarget:])
	}

	// A frame shorter than its own header would never advance the stream.
	if hdr.PacketLen < hdr.Size {
		return core.Header{}, false, &core.FramingError{
			Found:    [2]byte{buf[0], buf[1]},
			Expected: core.SignatureBytes,
			Offset:   -1,
			Reason:   core.ErrBadLength,
		}
	}

	return hdr, true, nil
}

// DecodeHeaderDecrement decodes like DecodeHeader and then applies the hop
// decrement to both the result and buf.
func (c *Codec) DecodeHeaderDecrement(buf []byte) (core.Header, bool, error) {
	hdr, ok, err := c.DecodeHeader(buf)
	if !ok || err != nil {
		return hdr, ok, err
	}
	c.ApplyTTLDecrement(buf, &hdr)
	return hdr, true, nil
}

// ApplyTTLDecrement lowers hdr.TTL by one, flooring at zero, and writes the
// new value into buf at the layout's ttl offset.
func (c *Codec) ApplyTTLDecrement(buf []byte, hdr *core.Header) {
	if hdr.TTL > 0 {
		hdr.TTL--
	}
	off := c.layout.Offsets()
	if len(buf) > off.TTL {
		buf[off.TTL] = hdr.TTL
	}
}

// Encode builds a complete frame: fixed header, variable header and body.
// Nothing is allocated or written when validation fails.
func (c *Codec) Encode(f core.Fields) ([]byte, error) {
	if err := c.validateIDs(f.IDRouter, f.IDTarget); err != nil {
		return nil, err
	}

	size := c.layout.HeaderSize(uint32(f.IDRouter))
	total := size + len(f.Header) + len(f.Body)
	if total > core.MaxPacketLen {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", core.ErrPacketTooLarge, total, core.MaxPacketLen)
	}

	ttl := f.TTL
	if ttl == 0 {
		ttl = core.DefaultTTL
	}

	buf := make([]byte, total)
	c.putHeader(buf, core.Header{
		Type:      f.Type,
		TTL:       ttl,
		IDRouter:  uint32(f.IDRouter),
		IDTarget:  uint32(f.IDTarget),
		HeaderLen: len(f.Header),
		PacketLen: total,
		Size:      size,
	})
	copy(buf[size:], f.Header)
	copy(buf[size+len(f.Header):], f.Body)
	return buf, nil
}

// RewriteRouting returns a copy of the frame in buf with the routing ids in
// route substituted. In LayoutVariable a frame that gains or loses its router
// id is rebuilt with the matching header size; otherwise only the id bytes differ.
func (c *Codec) RewriteRouting(buf []byte, route core.Route) ([]byte, error) {
	hdr, ok, err := c.DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if !ok || len(buf) < hdr.PacketLen {
		return nil, fmt.Errorf("%w: truncated frame (%d bytes)", core.ErrDecode, len(buf))
	}

	next := hdr
	if route.IDRouter != nil {
		next.IDRouter = *route.IDRouter
	}
	if route.IDTarget != nil {
		next.IDTarget = *route.IDTarget
	}
	if err := c.validateIDs(int64(next.IDRouter), int64(next.IDTarget)); err != nil {
		return nil, err
	}

	next.Size = c.layout.HeaderSize(next.IDRouter)
	if next.Size == hdr.Size {
		out := bytes.Clone(buf[:hdr.PacketLen])
		binary.LittleEndian.PutUint32(out[core.OffsetIDRouter:], next.IDRouter)
		if next.Size == core.MaxHeaderSize {
			binary.LittleEndian.PutUint32(out[core.OffsetIDTarget:], next.IDTarget)
		}
		return out, nil
	}

	rest := buf[hdr.Size:hdr.PacketLen]
	next.PacketLen = next.Size + len(rest)
	if next.PacketLen > core.MaxPacketLen {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", core.ErrPacketTooLarge, next.PacketLen, core.MaxPacketLen)
	}
	out := make([]byte, next.PacketLen)
	c.putHeader(out, next)
	copy(out[next.Size:], rest)
	return out, nil
}

// UnpackID reads a little-endian 32-bit id at offset in buf.
func UnpackID(buf []byte, offset int) (uint32, error) {
	if offset < 0 || offset+4 > len(buf) {
		return 0, fmt.Errorf("%w: id at offset %d outside %d-byte buffer", core.ErrDecode, offset, len(buf))
	}
	return binary.LittleEndian.Uint32(buf[offset:]), nil
}

func (c *Codec) validateIDs(idRouter, idTarget int64) error {
	if idRouter < 0 || idRouter > math.MaxUint32 {
		return fmt.Errorf("%w: id_router %d out of uint32 range", core.ErrInvalidField, idRouter)
	}
	if idTarget < 0 || idTarget > math.MaxUint32 {
		return fmt.Errorf("%w: id_target %d out of uint32 range", core.ErrInvalidField, idTarget)
	}
	// Control headers have no room for a target.
	if c.layout == core.LayoutVariable && idRouter == 0 && idTarget != 0 {
		return fmt.Errorf("%w: id_target %d requires a non-zero id_router", core.ErrInvalidField, idTarget)
	}
	return nil
}

// putHeader writes the fixed header described by h into buf[:h.Size].
func (c *Codec) putHeader(buf []byte, h core.Header) {
	off := c.layout.Offsets()
	buf[0] = core.SignatureBytes[0]
	buf[1] = core.SignatureBytes[1]
	binary.LittleEndian.PutUint16(buf[core.OffsetPacketLen:], uint16(h.PacketLen))
	binary.LittleEndian.PutUint16(buf[off.HeaderLen:], uint16(h.HeaderLen))
	buf[off.Type] = h.Type
	buf[off.TTL] = h.TTL
	binary.LittleEndian.PutUint32(buf[core.OffsetIDRouter:], h.IDRouter)
	if h.Size == core.MaxHeaderSize {
		binary.LittleEndian.PutUint32(buf[core.OffsetIDTarget:], h.IDTarget)
	}
}
