package codec

import (
	"fmt"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
)

// ForwardTo derives a packet addressed by route. The result keeps the
// parent's type, ttl and payload but owns a rewritten copy of the frame;
// the parent is left untouched. A route without a target is rejected.
func (p *Packet) ForwardTo(route core.Route) (*Packet, error) {
	if route.IDTarget == nil {
		return nil, core.ErrMissingTarget
	}
	if p.Malformed() {
		return nil, fmt.Errorf("%w: cannot forward %s", core.ErrMalformedPacket, p)
	}

	raw, err := New(p.hdr.Layout).RewriteRouting(p.raw, route)
	if err != nil {
		return nil, fmt.Errorf("forward %s: %w", p, err)
	}

	hdr := p.hdr
	if route.IDRouter != nil {
		hdr.IDRouter = *route.IDRouter
	}
	hdr.IDTarget = *route.IDTarget
	hdr.Size = hdr.Layout.HeaderSize(hdr.IDRouter)
	hdr.PacketLen = len(raw)

	return &Packet{hdr: hdr, raw: raw, forward: true}, nil
}
