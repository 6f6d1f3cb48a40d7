// Package decoder implements stream reassembly of framed packets.
package decoder

import "github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"

// Decoder turns byte chunks of one stream into complete packets.
type Decoder interface {
	Feed(chunk []byte) ([]*codec.Packet, error)
	Buffered() int
	Reset()
}

var _ Decoder = (*Reassembler)(nil)
