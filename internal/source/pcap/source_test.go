package pcap

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source"
)

type segment struct {
	srcPort, dstPort uint16
	seq              uint32
	syn, fin         bool
	payload          []byte
}

func writeCapture(t *testing.T, segs []segment) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	ts := time.Unix(1700000000, 0)
	for i, s := range segs {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP{10, 0, 0, 1},
			DstIP:    net.IP{10, 0, 0, 2},
		}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(s.srcPort),
			DstPort: layers.TCPPort(s.dstPort),
			Seq:     s.seq,
			SYN:     s.syn,
			FIN:     s.fin,
			ACK:     !s.syn,
			Window:  65535,
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(s.payload)))

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

type bufferFeeder struct {
	buf    bytes.Buffer
	closed bool
}

func (f *bufferFeeder) Feed(chunk []byte) error {
	f.buf.Write(chunk)
	return nil
}

func (f *bufferFeeder) Close() error {
	f.closed = true
	return nil
}

type mapOpener struct {
	streams map[string]*bufferFeeder
}

func (o *mapOpener) Open(info source.StreamInfo) source.Feeder {
	f := &bufferFeeder{}
	o.streams[info.ID] = f
	return f
}

func flow(port uint16, seq uint32, parts ...string) []segment {
	segs := []segment{{srcPort: 5000, dstPort: port, seq: seq, syn: true}}
	next := seq + 1
	for _, p := range parts {
		segs = append(segs, segment{srcPort: 5000, dstPort: port, seq: next, payload: []byte(p)})
		next += uint32(len(p))
	}
	return append(segs, segment{srcPort: 5000, dstPort: port, seq: next, fin: true})
}

func TestSourceReplaysFlow(t *testing.T) {
	path := writeCapture(t, flow(7400, 1000, "hello ", "fabric ", "stream"))

	o := &mapOpener{streams: map[string]*bufferFeeder{}}
	require.NoError(t, New(config.PcapSourceConfig{File: path}).Run(context.Background(), o))

	require.Len(t, o.streams, 1)
	f := o.streams["10.0.0.1:5000->10.0.0.2:7400"]
	require.NotNil(t, f)
	assert.Equal(t, "hello fabric stream", f.buf.String())
	assert.True(t, f.closed)
}

func TestSourceReordersSegments(t *testing.T) {
	segs := flow(7400, 1, "aaa", "bbb", "ccc")
	segs[2], segs[3] = segs[3], segs[2]
	path := writeCapture(t, segs)

	o := &mapOpener{streams: map[string]*bufferFeeder{}}
	require.NoError(t, New(config.PcapSourceConfig{File: path}).Run(context.Background(), o))

	require.Len(t, o.streams, 1)
	for _, f := range o.streams {
		assert.Equal(t, "aaabbbccc", f.buf.String())
	}
}

func TestSourcePortFilter(t *testing.T) {
	segs := append(flow(7400, 1, "keep"), flow(8080, 1, "drop")...)
	path := writeCapture(t, segs)

	o := &mapOpener{streams: map[string]*bufferFeeder{}}
	src := New(config.PcapSourceConfig{File: path, Port: 7400})
	require.NoError(t, src.Run(context.Background(), o))

	require.Len(t, o.streams, 1)
	assert.Equal(t, "keep", o.streams["10.0.0.1:5000->10.0.0.2:7400"].buf.String())
	assert.Equal(t, 1, src.flows)
	assert.Equal(t, 3, src.skipped)
}

func TestSourceMissingFile(t *testing.T) {
	err := New(config.PcapSourceConfig{File: filepath.Join(t.TempDir(), "none.pcap")}).
		Run(context.Background(), &mapOpener{streams: map[string]*bufferFeeder{}})
	assert.Error(t, err)
}

func TestSourceRejectsNonCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a capture file"), 0644))

	err := New(config.PcapSourceConfig{File: path}).
		Run(context.Background(), &mapOpener{streams: map[string]*bufferFeeder{}})
	assert.Error(t, err)
}
