// Package console implements a sink that prints one line per packet.
package console

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/metrics"
)

const Name = "console"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Record is the JSON shape of one printed packet.
type Record struct {
	Stream    string `json:"stream,omitempty"`
	Type      uint8  `json:"type"`
	TTL       uint8  `json:"ttl"`
	IDRouter  uint32 `json:"id_router"`
	IDTarget  uint32 `json:"id_target"`
	PacketLen int    `json:"packet_len"`
	Forward   bool   `json:"forward,omitempty"`
	Malformed bool   `json:"malformed,omitempty"`
	Header    any    `json:"header,omitempty"`
	Body      any    `json:"body,omitempty"`
}

// Sink writes packets to a writer, stdout by default.
type Sink struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

// NewSink creates a console sink. format is "json" or "text"; w nil means stdout.
func NewSink(format string, w io.Writer) *Sink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "json"
	}
	return &Sink{w: w, format: format}
}

func (s *Sink) Name() string { return Name }

// Send prints pkt.
func (s *Sink) Send(_ context.Context, stream string, pkt *codec.Packet) error {
	start := time.Now()

	var line []byte
	if s.format == "text" {
		line = []byte(fmt.Sprintf("%s %s header=%q body=%q\n", stream, pkt, pkt.HeaderBytes(), pkt.BodyBytes()))
	} else {
		b, err := json.Marshal(NewRecord(stream, pkt))
		if err != nil {
			metrics.SinkPacketsTotal.WithLabelValues(Name, metrics.ResultError).Inc()
			return fmt.Errorf("console sink marshal: %w", err)
		}
		line = append(b, '\n')
	}

	s.mu.Lock()
	_, err := s.w.Write(line)
	s.mu.Unlock()

	metrics.SinkLatencySeconds.WithLabelValues(Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SinkPacketsTotal.WithLabelValues(Name, metrics.ResultError).Inc()
		return fmt.Errorf("console sink write: %w", err)
	}
	metrics.SinkPacketsTotal.WithLabelValues(Name, metrics.ResultOK).Inc()
	return nil
}

func (s *Sink) Close() error {
	return nil
}

// NewRecord builds the printable view of pkt. Header and body are shown as
// JSON values when they parse, as text when they are UTF-8, and as hex otherwise.
func NewRecord(stream string, pkt *codec.Packet) Record {
	return Record{
		Stream:    stream,
		Type:      pkt.Type(),
		TTL:       pkt.TTL(),
		IDRouter:  pkt.IDRouter(),
		IDTarget:  pkt.IDTarget(),
		PacketLen: pkt.PacketLen(),
		Forward:   pkt.IsForward(),
		Malformed: pkt.Malformed(),
		Header:    render(pkt.HeaderBytes(), pkt.HeaderValue, pkt.HeaderText),
		Body:      render(pkt.BodyBytes(), pkt.BodyValue, pkt.BodyText),
	}
}

func render(raw []byte, value func() (any, error), text func() (string, error)) any {
	if len(raw) == 0 {
		return nil
	}
	if v, err := value(); err == nil {
		return v
	}
	if s, err := text(); err == nil {
		return s
	}
	return "0x" + hex.EncodeToString(raw)
}
