// Package decoder implements stream reassembly of framed packets.
package decoder

import (
	"errors"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/metrics"
)

// compactThreshold is the number of consumed chunk slots tolerated at the
// front of the queue before live chunks are shifted down.
const compactThreshold = 32

// ReassemblyConfig contains configuration for stream reassembly.
type ReassemblyConfig struct {
	Layout      core.Layout // header layout of the stream
	PreserveTTL bool        // skip the hop decrement applied while decoding headers
}

// chunkQueue is a deque of owned byte chunks with a cursor into the head chunk.
// size always equals the number of unconsumed bytes across all chunks.
type chunkQueue struct {
	chunks [][]byte
	head   int // index of the first live chunk
	off    int // bytes of chunks[head] already consumed
	size   int
}

func (q *chunkQueue) push(b []byte) {
	if len(b) == 0 {
		return
	}
	q.chunks = append(q.chunks, b)
	q.size += len(b)
}

func (q *chunkQueue) count() int {
	return len(q.chunks) - q.head
}

// front returns the unconsumed part of the head chunk.
func (q *chunkQueue) front() []byte {
	if q.count() == 0 {
		return nil
	}
	c := q.chunks[q.head][q.off:]
	return c[:len(c):len(c)]
}

// coalesce merges all live chunks into one so a header never straddles chunks.
func (q *chunkQueue) coalesce() {
	if q.count() <= 1 {
		return
	}
	parts := make([][]byte, 0, q.count())
	parts = append(parts, q.front())
	parts = append(parts, q.chunks[q.head+1:]...)
	joined := codec.Concat(parts)

	q.reset()
	q.chunks = append(q.chunks, joined)
	q.size = len(joined)
}

// take removes the first n bytes (n <= size) and returns them contiguously.
// Whole chunks are consumed in order; when the boundary falls inside a chunk
// its prefix is used and the suffix stays at the head of the queue.
func (q *chunkQueue) take(n int) []byte {
	parts := make([][]byte, 0, 2)
	remaining := n
	for remaining > 0 {
		c := q.front()
		if len(c) <= remaining {
			parts = append(parts, c)
			remaining -= len(c)
			q.chunks[q.head] = nil
			q.head++
			q.off = 0
			continue
		}
		parts = append(parts, c[:remaining:remaining])
		q.off += remaining
		remaining = 0
	}
	q.size -= n
	q.compact()
	return codec.Concat(parts)
}

func (q *chunkQueue) compact() {
	if q.head == len(q.chunks) {
		q.chunks = q.chunks[:0]
		q.head = 0
		return
	}
	if q.head >= compactThreshold && q.head*2 >= len(q.chunks) {
		n := copy(q.chunks, q.chunks[q.head:])
		clear(q.chunks[n:])
		q.chunks = q.chunks[:n]
		q.head = 0
	}
}

func (q *chunkQueue) reset() {
	clear(q.chunks)
	q.chunks = q.chunks[:0]
	q.head = 0
	q.off = 0
	q.size = 0
}

// Reassembler turns an arbitrarily chunked byte stream into complete packets.
//
// It alternates between awaiting a header (pending == nil) and awaiting the
// body of the pending header. A Reassembler belongs to exactly one stream and
// must not be fed concurrently.
type Reassembler struct {
	codec   *codec.Codec
	config  ReassemblyConfig
	queue   chunkQueue
	pending *core.Header
	offset  int64 // stream offset of the first queued byte
	err     error
}

// NewReassembler creates a reassembler in the awaiting-header state.
func NewReassembler(cfg ReassemblyConfig) *Reassembler {
	return &Reassembler{
		codec:  codec.New(cfg.Layout),
		config: cfg,
	}
}

// Feed queues chunk and returns every packet it completes, in stream order.
// The chunk is copied, so the caller may reuse its buffer.
//
// A framing error is sticky: packets completed earlier in the same call are
// still returned alongside it, queued bytes are left as they were, and every
// later call returns the same error until Reset.
func (r *Reassembler) Feed(chunk []byte) ([]*codec.Packet, error) {
	if r.err != nil {
		return nil, r.err
	}

	before := r.queue.size
	defer func() {
		metrics.StreamBufferedBytes.Add(float64(r.queue.size - before))
	}()

	if len(chunk) > 0 {
		r.queue.push(codec.FromBytes(chunk))
		metrics.StreamBytesTotal.Add(float64(len(chunk)))
	}

	var out []*codec.Packet
	for {
		if r.pending == nil {
			if r.queue.size == 0 {
				break
			}
			hdr, ok, err := r.decodeHeader()
			if err != nil {
				r.fail(err)
				return out, r.err
			}
			if !ok {
				break
			}
			r.pending = &hdr
		}

		need := r.pending.PacketLen
		if r.queue.size < need {
			break
		}

		raw := r.queue.take(need)
		r.offset += int64(need)
		out = append(out, codec.FromParts(*r.pending, raw))
		r.pending = nil
		metrics.StreamFramesTotal.Inc()
	}

	return out, nil
}

// FeedString queues the UTF-8 bytes of s.
func (r *Reassembler) FeedString(s string) ([]*codec.Packet, error) {
	return r.Feed(codec.FromText(s))
}

func (r *Reassembler) decodeHeader() (core.Header, bool, error) {
	r.queue.coalesce()
	buf := r.queue.front()
	if r.config.PreserveTTL {
		return r.codec.DecodeHeader(buf)
	}
	return r.codec.DecodeHeaderDecrement(buf)
}

func (r *Reassembler) fail(err error) {
	reason := "signature"
	var fe *core.FramingError
	if errors.As(err, &fe) {
		fe.Offset = int(r.offset)
		if errors.Is(fe, core.ErrBadLength) {
			reason = "length"
		}
	}
	metrics.StreamFramingErrorsTotal.WithLabelValues(reason).Inc()
	r.err = err
}

// Buffered returns the number of bytes queued but not yet emitted.
func (r *Reassembler) Buffered() int {
	return r.queue.size
}

// AwaitingBody reports whether a header has been decoded and its frame is incomplete.
func (r *Reassembler) AwaitingBody() bool {
	return r.pending != nil
}

// Offset returns the stream offset of the first byte not yet emitted.
func (r *Reassembler) Offset() int64 {
	return r.offset
}

// Err returns the sticky framing error, if any.
func (r *Reassembler) Err() error {
	return r.err
}

// Reset drops all queued bytes and any error, returning to the awaiting-header state.
func (r *Reassembler) Reset() {
	metrics.StreamBufferedBytes.Sub(float64(r.queue.size))
	r.queue.reset()
	r.pending = nil
	r.offset = 0
	r.err = nil
}
