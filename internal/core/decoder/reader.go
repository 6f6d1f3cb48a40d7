package decoder

import (
	"errors"
	"io"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
)

// DefaultReadSize is the read buffer size used when none is given.
const DefaultReadSize = 32 * 1024

// Reader pulls bytes from an io.Reader through a Decoder one packet at a time.
type Reader struct {
	src   io.Reader
	dec   Decoder
	buf   []byte
	ready []*codec.Packet
	err   error
}

// NewReader creates a Reader. A bufSize <= 0 selects DefaultReadSize.
func NewReader(src io.Reader, dec Decoder, bufSize int) *Reader {
	if bufSize <= 0 {
		bufSize = DefaultReadSize
	}
	return &Reader{
		src: src,
		dec: dec,
		buf: make([]byte, bufSize),
	}
}

// Next returns the next complete packet.
// Packets completed before an error are always delivered first. At the end
// of input Next returns io.EOF, or io.ErrUnexpectedEOF if a partial frame
// was left buffered.
func (r *Reader) Next() (*codec.Packet, error) {
	for len(r.ready) == 0 {
		if r.err != nil {
			return nil, r.err
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			pkts, ferr := r.dec.Feed(r.buf[:n])
			r.ready = append(r.ready, pkts...)
			if ferr != nil {
				r.err = ferr
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && r.dec.Buffered() > 0 {
				err = io.ErrUnexpectedEOF
			}
			r.err = err
		}
	}

	p := r.ready[0]
	r.ready[0] = nil
	r.ready = r.ready[1:]
	return p, nil
}

// ForEach calls fn for every packet until the input ends or fn fails.
// A clean end of input returns nil.
func (r *Reader) ForEach(fn func(*codec.Packet) error) error {
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
}
