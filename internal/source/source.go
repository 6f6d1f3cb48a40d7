// Package source defines the transports that feed byte streams into the pipeline.
package source

import "context"

// StreamInfo identifies one logical byte stream.
type StreamInfo struct {
	Source string // name of the source that opened the stream
	ID     string // unique within the source, e.g. "10.0.0.1:5000"
}

func (s StreamInfo) String() string {
	return s.Source + "/" + s.ID
}

// Feeder consumes the bytes of one stream in order.
// A Feed error means the stream is unusable and the source must tear it down.
type Feeder interface {
	Feed(chunk []byte) error
	Close() error
}

// Opener creates a Feeder for every new stream.
type Opener interface {
	Open(info StreamInfo) Feeder
}

// Source produces streams until its input ends or ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, o Opener) error
}
