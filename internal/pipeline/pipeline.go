// Package pipeline wires sources, per-stream reassembly and sinks together.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/decoder"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/sink"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source"
)

// Pipeline runs every source concurrently. Each stream a source opens gets
// its own Session, and every packet a session completes goes to every sink.
type Pipeline struct {
	sources    []source.Source
	sinks      []sink.Sink
	reassembly decoder.ReassemblyConfig
	metrics    *Metrics

	ctx context.Context
}

// Config contains pipeline configuration.
type Config struct {
	Sources    []source.Source
	Sinks      []sink.Sink
	Reassembly decoder.ReassemblyConfig
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		sources:    cfg.Sources,
		sinks:      cfg.Sinks,
		reassembly: cfg.Reassembly,
		metrics:    NewMetrics(),
		ctx:        context.Background(),
	}
}

// Run starts all sources and blocks until they have all returned, then
// closes the sinks. A failing source cancels the others.
func (p *Pipeline) Run(ctx context.Context) error {
	if len(p.sources) == 0 {
		return errors.New("pipeline has no sources")
	}

	g, gctx := errgroup.WithContext(ctx)
	p.ctx = gctx

	slog.Info("pipeline starting", "sources", len(p.sources), "sinks", len(p.sinks), "layout", p.reassembly.Layout.String())

	for _, src := range p.sources {
		src := src
		g.Go(func() error {
			if err := src.Run(gctx, p); err != nil {
				return fmt.Errorf("source %s: %w", src.Name(), err)
			}
			return nil
		})
	}

	var result *multierror.Error
	if err := g.Wait(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := p.closeSinks(); err != nil {
		result = multierror.Append(result, err)
	}

	stats := p.Stats()
	slog.Info("pipeline stopped",
		"sessions", stats.Sessions,
		"packets", stats.Packets,
		"framing_errors", stats.FramingErrors,
		"sink_errors", stats.SinkErrors,
		"dropped", stats.Dropped)

	return result.ErrorOrNil()
}

// Open implements source.Opener.
func (p *Pipeline) Open(info source.StreamInfo) source.Feeder {
	p.metrics.Sessions.Add(1)
	slog.Debug("stream opened", "stream", info.String())
	return &Session{
		info:     info,
		pipeline: p,
		asm:      decoder.NewReassembler(p.reassembly),
	}
}

func (p *Pipeline) closeSinks() error {
	var result *multierror.Error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("sink %s close: %w", s.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// deliver hands pkt to every sink. Deliberate drops are counted; failures are
// aggregated and logged without stopping the stream.
func (p *Pipeline) deliver(stream string, pkt *codec.Packet) {
	p.metrics.Packets.Add(1)

	var result *multierror.Error
	for _, s := range p.sinks {
		err := s.Send(p.ctx, stream, pkt)
		switch {
		case err == nil:
			p.metrics.Delivered.Add(1)
		case errors.Is(err, sink.ErrDropped):
			p.metrics.Dropped.Add(1)
			slog.Debug("packet dropped", "stream", stream, "sink", s.Name(), "packet", pkt, "reason", err)
		default:
			p.metrics.SinkErrors.Add(1)
			result = multierror.Append(result, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		slog.Warn("packet delivery failed", "stream", stream, "packet", pkt, "error", err)
	}
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return p.metrics.Snapshot()
}

// Session is the Feeder of one stream. It owns the stream's reassembler and
// must only be fed from one goroutine.
type Session struct {
	info     source.StreamInfo
	pipeline *Pipeline
	asm      *decoder.Reassembler
}

// Feed reassembles chunk and delivers every completed packet. A framing
// error is returned after the packets that preceded it have been delivered.
func (s *Session) Feed(chunk []byte) error {
	pkts, err := s.asm.Feed(chunk)
	for _, pkt := range pkts {
		s.pipeline.deliver(s.info.String(), pkt)
	}
	if err != nil {
		s.pipeline.metrics.FramingErrors.Add(1)
		return fmt.Errorf("stream %s: %w", s.info, err)
	}
	return nil
}

// Close releases the reassembler. A partial frame left behind is counted.
func (s *Session) Close() error {
	if s.asm.Err() == nil && s.asm.Buffered() > 0 {
		s.pipeline.metrics.Truncated.Add(1)
		slog.Debug("stream closed mid-frame", "stream", s.info.String(), "buffered_bytes", s.asm.Buffered())
	}
	s.asm.Reset()
	slog.Debug("stream closed", "stream", s.info.String())
	return nil
}
