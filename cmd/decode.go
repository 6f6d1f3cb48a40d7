package cmd

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/decoder"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/pipeline"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/sink/console"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source/pcap"
)

type decodeOptions struct {
	layout      string
	preserveTTL bool
	chunk       int
	hexInput    bool
	format      string
	pcapPort    int
}

var decodeOpts decodeOptions

var decodeCmd = &cobra.Command{
	Use:   "decode [file|-]",
	Short: "Decode packets from a byte stream or a capture file",
	Long: `Decode a byte stream of framed packets and print one line per packet.

The input is a file, or stdin when the argument is "-" or missing. A file
ending in .pcap or .pcapng is replayed as captured TCP flows instead.

Examples:
  fabric decode stream.bin
  fabric decode --chunk 3 stream.bin         # feed the reassembler 3 bytes at a time
  fabric pack --body hi | fabric decode --hex
  fabric decode --port 7400 capture.pcap`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "-"
		if len(args) == 1 {
			path = args[0]
		}
		if err := runDecodePath(cmd.Context(), decodeOpts, path, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
			exitWithError("decode failed", err)
		}
	},
}

func init() {
	decodeCmd.Flags().StringVar(&decodeOpts.layout, "layout", "variable", "header layout: variable or fixed")
	decodeCmd.Flags().BoolVar(&decodeOpts.preserveTTL, "preserve-ttl", true, "print ttl as found on the wire (no hop decrement)")
	decodeCmd.Flags().IntVar(&decodeOpts.chunk, "chunk", 0, "read the input in chunks of this many bytes (0 = 32 KiB)")
	decodeCmd.Flags().BoolVar(&decodeOpts.hexInput, "hex", false, "input is hex text")
	decodeCmd.Flags().StringVar(&decodeOpts.format, "format", "json", "output format: json or text")
	decodeCmd.Flags().IntVar(&decodeOpts.pcapPort, "port", 0, "capture files only: keep TCP flows on this port")
}

func runDecodePath(ctx context.Context, opts decodeOptions, path string, stdin io.Reader, w, errw io.Writer) error {
	if strings.HasSuffix(path, ".pcap") || strings.HasSuffix(path, ".pcapng") {
		return runDecodeCapture(ctx, opts, path, w, errw)
	}

	in := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	return runDecode(opts, in, w, errw)
}

// runDecode reassembles in as it arrives and prints every packet to w.
// The summary line goes to errw so w stays machine readable.
func runDecode(opts decodeOptions, in io.Reader, w, errw io.Writer) error {
	layout, err := core.ParseLayout(opts.layout)
	if err != nil {
		return err
	}

	src := &countingReader{r: in}
	var data io.Reader = src
	if opts.hexInput {
		data = &hexReader{r: hex.NewDecoder(&spaceStripper{r: src})}
	}

	out := console.NewSink(opts.format, w)
	asm := decoder.NewReassembler(decoder.ReassemblyConfig{Layout: layout, PreserveTTL: opts.preserveTTL})
	r := decoder.NewReader(data, asm, opts.chunk)

	var count int
	err = r.ForEach(func(p *codec.Packet) error {
		count++
		return out.Send(context.Background(), "", p)
	})

	fmt.Fprintf(errw, "decoded %d packet(s) from %s\n", count, humanize.Bytes(uint64(src.n)))
	return err
}

// countingReader counts the bytes read from r.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// spaceStripper drops ASCII whitespace so hex text may be split across lines.
type spaceStripper struct {
	r io.Reader
}

func (s *spaceStripper) Read(p []byte) (int, error) {
	for {
		n, err := s.r.Read(p)
		k := 0
		for _, b := range p[:n] {
			switch b {
			case ' ', '\t', '\n', '\r', '\v', '\f':
				continue
			}
			p[k] = b
			k++
		}
		if k > 0 || err != nil || n == 0 {
			return k, err
		}
	}
}

// hexReader reports malformed hex text as a decode error.
type hexReader struct {
	r io.Reader
}

func (h *hexReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: hex input: %v", core.ErrDecode, err)
	}
	return n, err
}

// runDecodeCapture replays a capture file through a pipeline.
func runDecodeCapture(ctx context.Context, opts decodeOptions, path string, w, errw io.Writer) error {
	layout, err := core.ParseLayout(opts.layout)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	p := pipeline.NewBuilder().
		WithSources(pcap.New(config.PcapSourceConfig{File: path, Port: opts.pcapPort})).
		WithSinks(console.NewSink(opts.format, w)).
		WithReassembly(decoder.ReassemblyConfig{Layout: layout, PreserveTTL: opts.preserveTTL}).
		Build()

	err = p.Run(ctx)
	stats := p.Stats()
	fmt.Fprintf(errw, "decoded %s packet(s) from %s flow(s), %d framing error(s)\n",
		humanize.Comma(int64(stats.Packets)), humanize.Comma(int64(stats.Sessions)), stats.FramingErrors)
	return err
}
