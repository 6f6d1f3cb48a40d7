package decoder

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
)

// buildFrame encodes a frame with the canonical layout.
func buildFrame(t *testing.T, f core.Fields) []byte {
	t.Helper()
	raw, err := codec.Default.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raw
}

// sampleFrames returns a mix of routed, control, empty and large frames.
func sampleFrames(t *testing.T) [][]byte {
	t.Helper()
	large := make([]byte, 3000)
	for i := range large {
		large[i] = byte(i)
	}
	return [][]byte{
		buildFrame(t, core.Fields{Type: 1, TTL: 10, IDRouter: 100, IDTarget: 200, Header: []byte("h"), Body: []byte("hello")}),
		buildFrame(t, core.Fields{Type: 2, TTL: 3}),
		buildFrame(t, core.Fields{Type: 3, TTL: 7, Body: []byte(`{"op":"ping"}`)}),
		buildFrame(t, core.Fields{Type: 4, TTL: 31, IDRouter: 0xFFFFFFFF, IDTarget: 1, Header: []byte(`{"k":1}`), Body: large}),
	}
}

func preserving() *Reassembler {
	return NewReassembler(ReassemblyConfig{PreserveTTL: true})
}

func feedAll(t *testing.T, r *Reassembler, chunks [][]byte) []*codec.Packet {
	t.Helper()
	var out []*codec.Packet
	for i, c := range chunks {
		pkts, err := r.Feed(c)
		if err != nil {
			t.Fatalf("feed chunk %d: %v", i, err)
		}
		out = append(out, pkts...)
	}
	return out
}

func assertSamePackets(t *testing.T, got, want []*codec.Packet) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d packets, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Header() != want[i].Header() {
			t.Errorf("packet %d header mismatch: got %+v, want %+v", i, got[i].Header(), want[i].Header())
		}
		if !bytes.Equal(got[i].Bytes(), want[i].Bytes()) {
			t.Errorf("packet %d bytes mismatch", i)
		}
		if !bytes.Equal(got[i].BodyBytes(), want[i].BodyBytes()) {
			t.Errorf("packet %d body mismatch", i)
		}
	}
}

func TestReassembler_SingleFrame(t *testing.T) {
	frame := buildFrame(t, core.Fields{Type: 1, TTL: 10, IDRouter: 100, IDTarget: 200, Header: []byte("h"), Body: []byte("hello")})
	r := preserving()

	pkts, err := r.Feed(frame)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(pkts))
	}
	p := pkts[0]
	if p.Type() != 1 || p.TTL() != 10 || p.IDRouter() != 100 || p.IDTarget() != 200 {
		t.Errorf("unexpected header %+v", p.Header())
	}
	if text, _ := p.BodyText(); text != "hello" {
		t.Errorf("expected body hello, got %q", text)
	}
	if r.Buffered() != 0 || r.AwaitingBody() {
		t.Errorf("expected empty state, buffered=%d awaiting=%t", r.Buffered(), r.AwaitingBody())
	}
	if r.Offset() != int64(len(frame)) {
		t.Errorf("expected offset %d, got %d", len(frame), r.Offset())
	}
}

func TestReassembler_EveryTwoWaySplit(t *testing.T) {
	frames := sampleFrames(t)
	stream := codec.Concat(frames)

	want := feedAll(t, preserving(), [][]byte{stream})
	if len(want) != len(frames) {
		t.Fatalf("expected %d packets from whole stream, got %d", len(frames), len(want))
	}

	for cut := 1; cut < len(stream); cut++ {
		got := feedAll(t, preserving(), [][]byte{stream[:cut], stream[cut:]})
		if len(got) != len(want) {
			t.Fatalf("cut %d: expected %d packets, got %d", cut, len(want), len(got))
		}
		assertSamePackets(t, got, want)
	}
}

func TestReassembler_RandomChunking(t *testing.T) {
	frames := sampleFrames(t)
	stream := codec.Concat(frames)
	want := feedAll(t, preserving(), [][]byte{stream})

	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		var chunks [][]byte
		for rest := stream; len(rest) > 0; {
			n := 1 + rng.Intn(40)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		assertSamePackets(t, feedAll(t, preserving(), chunks), want)
	}
}

func TestReassembler_ByteAtATime(t *testing.T) {
	frame := buildFrame(t, core.Fields{Type: 5, TTL: 2, IDRouter: 7, IDTarget: 8, Body: []byte("abc")})
	r := preserving()

	for i := 0; i < len(frame)-1; i++ {
		pkts, err := r.Feed(frame[i : i+1])
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		if len(pkts) != 0 {
			t.Fatalf("byte %d: emitted a partial frame", i)
		}
	}
	if !r.AwaitingBody() {
		t.Error("expected header to be decoded before the last byte")
	}
	pkts, err := r.Feed(frame[len(frame)-1:])
	if err != nil || len(pkts) != 1 {
		t.Fatalf("expected 1 packet on the last byte, got %d (err %v)", len(pkts), err)
	}
	if !bytes.Equal(pkts[0].Bytes(), frame) {
		t.Error("reassembled bytes differ from the frame")
	}
}

func TestReassembler_MultiFrameBatch(t *testing.T) {
	var frames [][]byte
	for i := 0; i < 50; i++ {
		frames = append(frames, buildFrame(t, core.Fields{Type: uint8(i), TTL: 9, IDRouter: int64(i + 1), IDTarget: int64(i), Body: bytes.Repeat([]byte{byte(i)}, i)}))
	}

	pkts, err := preserving().Feed(codec.Concat(frames))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pkts) != len(frames) {
		t.Fatalf("expected %d packets, got %d", len(frames), len(pkts))
	}
	for i, p := range pkts {
		if p.Type() != uint8(i) {
			t.Errorf("packet %d out of order: type %d", i, p.Type())
		}
		if !bytes.Equal(p.Bytes(), frames[i]) {
			t.Errorf("packet %d bytes mismatch", i)
		}
	}
}

func TestReassembler_PartialThenComplete(t *testing.T) {
	frame := buildFrame(t, core.Fields{Type: 1, TTL: 4, IDRouter: 1, IDTarget: 2, Header: []byte("hdr"), Body: []byte("body")})
	want := feedAll(t, preserving(), [][]byte{frame})

	for k := 1; k < len(frame); k++ {
		r := preserving()
		pkts, err := r.Feed(frame[:k])
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		if len(pkts) != 0 {
			t.Fatalf("k=%d: expected no packets, got %d", k, len(pkts))
		}
		if r.Buffered() != k {
			t.Fatalf("k=%d: expected %d buffered bytes, got %d", k, k, r.Buffered())
		}
		pkts, err = r.Feed(frame[k:])
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		assertSamePackets(t, pkts, want)
	}
}

func TestReassembler_LeftoverCarriesOver(t *testing.T) {
	a := buildFrame(t, core.Fields{Type: 1, IDRouter: 1, IDTarget: 1, Body: []byte("first")})
	b := buildFrame(t, core.Fields{Type: 2, IDRouter: 2, IDTarget: 2, Body: []byte("second")})
	r := preserving()

	// first frame plus 3 bytes of the second
	pkts, err := r.Feed(append(bytes.Clone(a), b[:3]...))
	if err != nil || len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d (err %v)", len(pkts), err)
	}
	if r.Buffered() != 3 {
		t.Fatalf("expected 3 leftover bytes, got %d", r.Buffered())
	}

	pkts, err = r.Feed(b[3:])
	if err != nil || len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d (err %v)", len(pkts), err)
	}
	if !bytes.Equal(pkts[0].Bytes(), b) {
		t.Error("second frame corrupted across the split")
	}
}

func TestReassembler_ChunkIsCopied(t *testing.T) {
	frame := buildFrame(t, core.Fields{Type: 1, IDRouter: 1, IDTarget: 2, Body: []byte("payload")})
	buf := bytes.Clone(frame)
	r := preserving()

	if _, err := r.Feed(buf[:10]); err != nil {
		t.Fatal(err)
	}
	// caller reuses its read buffer
	for i := range buf[:10] {
		buf[i] = 0
	}
	pkts, err := r.Feed(frame[10:])
	if err != nil || len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d (err %v)", len(pkts), err)
	}
	if !bytes.Equal(pkts[0].Bytes(), frame) {
		t.Error("queued bytes alias the caller's buffer")
	}
}

func TestReassembler_TTLDecrement(t *testing.T) {
	frame := buildFrame(t, core.Fields{Type: 1, TTL: 5, IDRouter: 1, IDTarget: 2})
	input := bytes.Clone(frame)

	r := NewReassembler(ReassemblyConfig{})
	pkts, err := r.Feed(input)
	if err != nil || len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d (err %v)", len(pkts), err)
	}
	if pkts[0].TTL() != 4 {
		t.Errorf("expected ttl 4, got %d", pkts[0].TTL())
	}
	if pkts[0].Bytes()[4] != 4 {
		t.Errorf("expected ttl byte 4 in emitted frame, got %d", pkts[0].Bytes()[4])
	}
	if !bytes.Equal(input, frame) {
		t.Error("caller's chunk must not be modified")
	}

	pkts, err = preserving().Feed(frame)
	if err != nil || pkts[0].TTL() != 5 || pkts[0].Bytes()[4] != 5 {
		t.Errorf("PreserveTTL must keep ttl 5, got %+v (err %v)", pkts, err)
	}

	zero := bytes.Clone(frame)
	zero[4] = 0
	pkts, err = NewReassembler(ReassemblyConfig{}).Feed(zero)
	if err != nil || pkts[0].TTL() != 0 {
		t.Errorf("ttl 0 must floor at 0, got %+v (err %v)", pkts, err)
	}
}

func TestReassembler_TTLDecrementedOnceAcrossChunks(t *testing.T) {
	frame := buildFrame(t, core.Fields{Type: 1, TTL: 5, IDRouter: 1, IDTarget: 2, Body: []byte("0123456789")})
	r := NewReassembler(ReassemblyConfig{})
	for i := 0; i < len(frame); i += 3 {
		end := i + 3
		if end > len(frame) {
			end = len(frame)
		}
		pkts, err := r.Feed(frame[i:end])
		if err != nil {
			t.Fatal(err)
		}
		if len(pkts) == 1 && pkts[0].TTL() != 4 {
			t.Fatalf("expected ttl 4, got %d", pkts[0].TTL())
		}
	}
}

func TestReassembler_SignatureMismatch(t *testing.T) {
	good := buildFrame(t, core.Fields{Type: 1, IDRouter: 1, IDTarget: 2, Body: []byte("ok")})
	bad := buildFrame(t, core.Fields{Type: 2, IDRouter: 1, IDTarget: 2, Body: []byte("bad")})
	bad[0], bad[1] = 0x12, 0x34

	r := preserving()
	pkts, err := r.Feed(codec.Concat([][]byte{good, bad}))
	if len(pkts) != 1 {
		t.Fatalf("expected the frame before the error to be returned, got %d", len(pkts))
	}
	if !errors.Is(err, core.ErrFraming) {
		t.Fatalf("expected ErrFraming, got %v", err)
	}

	var fe *core.FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *core.FramingError, got %T", err)
	}
	if fe.Found != [2]byte{0x12, 0x34} || fe.Expected != core.SignatureBytes {
		t.Errorf("unexpected signature bytes in error: %+v", fe)
	}
	if fe.Offset != len(good) {
		t.Errorf("expected error offset %d, got %d", len(good), fe.Offset)
	}

	if r.Buffered() != len(bad) {
		t.Errorf("queue must be left as is: expected %d buffered, got %d", len(bad), r.Buffered())
	}

	// sticky
	pkts, err2 := r.Feed(good)
	if len(pkts) != 0 || err2 != err {
		t.Errorf("expected sticky error, got %d packets and %v", len(pkts), err2)
	}
	if r.Buffered() != len(bad) {
		t.Error("feeding a broken stream must not queue more bytes")
	}

	r.Reset()
	if r.Err() != nil || r.Buffered() != 0 {
		t.Error("reset must clear error and queue")
	}
	pkts, err = r.Feed(good)
	if err != nil || len(pkts) != 1 {
		t.Errorf("expected recovery after reset, got %d packets (err %v)", len(pkts), err)
	}
}

func TestReassembler_BadLength(t *testing.T) {
	frame := buildFrame(t, core.Fields{Type: 1, IDRouter: 1, IDTarget: 2})
	frame[2], frame[3] = 4, 0 // shorter than its own header

	_, err := preserving().Feed(frame)
	if !errors.Is(err, core.ErrBadLength) {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
}

func TestReassembler_FixedLayout(t *testing.T) {
	c := codec.New(core.LayoutFixed)
	var frames [][]byte
	for i := 0; i < 3; i++ {
		raw, err := c.Encode(core.Fields{Type: uint8(i), TTL: 6, Body: []byte("x")})
		if err != nil {
			t.Fatal(err)
		}
		frames = append(frames, raw)
	}
	stream := codec.Concat(frames)

	r := NewReassembler(ReassemblyConfig{Layout: core.LayoutFixed})
	var got []*codec.Packet
	for i := 0; i < len(stream); i += 5 {
		end := min(i+5, len(stream))
		pkts, err := r.Feed(stream[i:end])
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, pkts...)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 packets, got %d", len(got))
	}
	for _, p := range got {
		if p.TTL() != 5 || p.HeaderOffset() != 16 {
			t.Errorf("unexpected fixed-layout packet %v", p)
		}
	}
}

func TestReassembler_EmptyFeeds(t *testing.T) {
	r := preserving()
	for _, c := range [][]byte{nil, {}} {
		pkts, err := r.Feed(c)
		if err != nil || len(pkts) != 0 {
			t.Errorf("empty feed returned %d packets (err %v)", len(pkts), err)
		}
	}
	pkts, err := r.FeedString(string(buildFrame(t, core.Fields{Body: []byte("s")})))
	if err != nil || len(pkts) != 1 {
		t.Errorf("FeedString: expected 1 packet, got %d (err %v)", len(pkts), err)
	}
}

func TestChunkQueue_Accounting(t *testing.T) {
	var q chunkQueue
	q.push([]byte("abc"))
	q.push(nil)
	q.push([]byte("defg"))
	q.push([]byte("h"))
	if q.size != 8 || q.count() != 3 {
		t.Fatalf("expected size 8 in 3 chunks, got %d in %d", q.size, q.count())
	}

	if got := q.take(2); string(got) != "ab" {
		t.Errorf("expected ab, got %q", got)
	}
	if got := q.take(1); string(got) != "c" {
		t.Errorf("exact boundary: expected c, got %q", got)
	}
	if got := q.take(3); string(got) != "def" {
		t.Errorf("expected def, got %q", got)
	}
	if q.size != 2 || string(q.front()) != "g" {
		t.Errorf("expected size 2 with front g, got %d/%q", q.size, q.front())
	}

	q.coalesce()
	if q.count() != 1 || string(q.front()) != "gh" || q.size != 2 {
		t.Errorf("coalesce: got count=%d front=%q size=%d", q.count(), q.front(), q.size)
	}
	if got := q.take(2); string(got) != "gh" || q.size != 0 || q.count() != 0 {
		t.Errorf("drain: got %q size=%d count=%d", got, q.size, q.count())
	}
}

func TestChunkQueue_Compacts(t *testing.T) {
	var q chunkQueue
	for i := 0; i < 100; i++ {
		q.push([]byte{byte(i)})
	}
	for i := 0; i < 99; i++ {
		if got := q.take(1); got[0] != byte(i) {
			t.Fatalf("take %d: got %d", i, got[0])
		}
	}
	if q.head >= compactThreshold*2 {
		t.Errorf("queue was not compacted: head=%d len=%d", q.head, len(q.chunks))
	}
	if q.size != 1 || q.front()[0] != 99 {
		t.Errorf("expected last byte 99, got size=%d", q.size)
	}
}
