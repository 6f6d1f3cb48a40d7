// Package sink defines where reassembled packets are delivered.
package sink

import (
	"context"
	"errors"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
)

// Sink receives every packet completed on any stream.
// Implementations must be safe for concurrent use by many streams.
type Sink interface {
	Name() string
	Send(ctx context.Context, stream string, pkt *codec.Packet) error
	Close() error
}

// ErrDropped marks a packet a sink deliberately did not deliver.
// It is counted, not treated as a failure.
var ErrDropped = errors.New("fabric: packet dropped by sink")
