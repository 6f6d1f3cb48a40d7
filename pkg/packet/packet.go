// Package packet re-exports the packet codec and stream reassembler for external use.
package packet

import (
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/decoder"
)

// Re-export core packet types
type (
	Header       = core.Header
	Fields       = core.Fields
	Route        = core.Route
	Layout       = core.Layout
	FramingError = core.FramingError

	Codec            = codec.Codec
	Packet           = codec.Packet
	Reassembler      = decoder.Reassembler
	ReassemblyConfig = decoder.ReassemblyConfig
	Reader           = decoder.Reader
)

const (
	LayoutVariable = core.LayoutVariable
	LayoutFixed    = core.LayoutFixed
)

var (
	ErrFraming         = core.ErrFraming
	ErrBadLength       = core.ErrBadLength
	ErrInvalidField    = core.ErrInvalidField
	ErrPacketTooLarge  = core.ErrPacketTooLarge
	ErrMissingTarget   = core.ErrMissingTarget
	ErrDecode          = core.ErrDecode
	ErrMalformedPacket = core.ErrMalformedPacket
)

// Default is the codec for the variable layout.
var Default = codec.Default

// Constructors
var (
	NewCodec       = codec.New
	NewReassembler = decoder.NewReassembler
	NewReader      = decoder.NewReader
	ParseLayout    = core.ParseLayout
	ID             = core.ID
)
