// Package pcap implements offline replay of captured TCP flows: every TCP
// flow in the capture file becomes one stream.
package pcap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/metrics"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source"
)

const Name = "pcap"

// packetReader is satisfied by both pcapgo.Reader and pcapgo.NgReader.
type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// Source replays a pcap or pcapng file.
type Source struct {
	cfg config.PcapSourceConfig

	flows   int
	skipped int
}

// New creates a pcap source.
func New(cfg config.PcapSourceConfig) *Source {
	return &Source{cfg: cfg}
}

func (s *Source) Name() string { return Name }

// Run replays the whole file, then closes every stream still open.
func (s *Source) Run(ctx context.Context, o source.Opener) error {
	f, err := os.Open(s.cfg.File)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", s.cfg.File, err)
	}
	defer f.Close()

	r, err := openReader(f)
	if err != nil {
		return fmt.Errorf("failed to read pcap file %s: %w", s.cfg.File, err)
	}

	filter, err := portFilter(r.LinkType(), s.cfg.Port)
	if err != nil {
		return err
	}

	slog.Info("pcap source started", "file", s.cfg.File, "link_type", r.LinkType().String(), "port", s.cfg.Port, "bpf", filter != nil)

	assembler := tcpassembly.NewAssembler(tcpassembly.NewStreamPool(&streamFactory{source: s, opener: o}))
	defer assembler.FlushAll()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}
		if !match(filter, data) {
			s.skipped++
			continue
		}

		packet := gopacket.NewPacket(data, r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		netLayer := packet.NetworkLayer()
		tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if netLayer == nil || !ok {
			s.skipped++
			continue
		}
		if s.cfg.Port != 0 && int(tcp.SrcPort) != s.cfg.Port && int(tcp.DstPort) != s.cfg.Port {
			s.skipped++
			continue
		}

		assembler.AssembleWithTimestamp(netLayer.NetworkFlow(), tcp, ci.Timestamp)
	}

	slog.Info("pcap source finished", "file", s.cfg.File, "flows", s.flows, "skipped_packets", s.skipped)
	return nil
}

// openReader detects pcap or pcapng by trying the classic format first.
func openReader(f *os.File) (packetReader, error) {
	r, err := pcapgo.NewReader(f)
	if err == nil {
		return r, nil
	}
	if _, serr := f.Seek(0, io.SeekStart); serr != nil {
		return nil, serr
	}
	ng, ngErr := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, fmt.Errorf("neither pcap (%v) nor pcapng (%v)", err, ngErr)
	}
	return ng, nil
}

type streamFactory struct {
	source *Source
	opener source.Opener
}

func (f *streamFactory) New(netFlow, tcpFlow gopacket.Flow) tcpassembly.Stream {
	info := source.StreamInfo{
		Source: Name,
		ID: fmt.Sprintf("%s:%s->%s:%s",
			netFlow.Src(), tcpFlow.Src(), netFlow.Dst(), tcpFlow.Dst()),
	}
	f.source.flows++
	metrics.SessionsActive.WithLabelValues(Name).Inc()
	return &flowStream{info: info, feeder: f.opener.Open(info)}
}

// flowStream adapts one reassembled TCP flow to a Feeder.
// A sequence gap or a feed error ends the stream; later data is dropped.
type flowStream struct {
	info    source.StreamInfo
	feeder  source.Feeder
	started bool
	closed  bool
}

func (s *flowStream) Reassembled(rs []tcpassembly.Reassembly) {
	for _, r := range rs {
		if s.closed {
			return
		}
		// Skip < 0 only means the capture began mid-flow.
		if r.Skip > 0 || (r.Skip < 0 && s.started) {
			slog.Warn("closing stream", "stream", s.info.String(), "error", "tcp sequence gap", "skipped", r.Skip)
			s.close()
			return
		}
		if len(r.Bytes) == 0 {
			continue
		}
		s.started = true
		if err := s.feeder.Feed(r.Bytes); err != nil {
			slog.Warn("closing stream", "stream", s.info.String(), "error", err)
			s.close()
			return
		}
	}
}

func (s *flowStream) ReassemblyComplete() {
	s.close()
}

func (s *flowStream) close() {
	if s.closed {
		return
	}
	s.closed = true
	metrics.SessionsActive.WithLabelValues(Name).Dec()
	if err := s.feeder.Close(); err != nil {
		slog.Warn("stream closed with error", "stream", s.info.String(), "error", err)
	}
}
