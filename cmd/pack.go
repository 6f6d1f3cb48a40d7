package cmd

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
)

type packOptions struct {
	spec   config.PacketSpec
	header string
	body   string
	file   string
	layout string
	out    string
}

var packOpts packOptions

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Encode packets",
	Long: `Encode one packet from flags, or every packet of a YAML/JSON spec file.

Header and body given as flags are used as UTF-8 text. In a spec file they
may also be structured values, which are JSON-encoded.

Examples:
  fabric pack --type 1 --router 7 --target 9 --body '{"op":"ping"}'
  fabric pack --file packets.yml --out raw > stream.bin`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runPack(packOpts, cmd.OutOrStdout()); err != nil {
			exitWithError("pack failed", err)
		}
	},
}

func init() {
	packCmd.Flags().Int64Var(&packOpts.spec.Type, "type", 0, "packet type (0-255)")
	packCmd.Flags().Int64Var(&packOpts.spec.TTL, "ttl", 0, "ttl (0 encodes the default)")
	packCmd.Flags().Int64Var(&packOpts.spec.IDRouter, "router", 0, "router id (0 for a control packet)")
	packCmd.Flags().Int64Var(&packOpts.spec.IDTarget, "target", 0, "target id")
	packCmd.Flags().StringVar(&packOpts.header, "header", "", "header segment text")
	packCmd.Flags().StringVar(&packOpts.body, "body", "", "body text")
	packCmd.Flags().StringVarP(&packOpts.file, "file", "f", "", "packet spec file (YAML or JSON); overrides the packet flags")
	packCmd.Flags().StringVar(&packOpts.layout, "layout", "variable", "header layout: variable or fixed")
	packCmd.Flags().StringVar(&packOpts.out, "out", "hex", "output encoding: hex (one line per packet) or raw")
}

// runPack encodes the requested packets and writes them to w.
func runPack(opts packOptions, w io.Writer) error {
	layout, err := core.ParseLayout(opts.layout)
	if err != nil {
		return err
	}
	if opts.out != "hex" && opts.out != "raw" {
		return fmt.Errorf("unknown output encoding %q (must be hex or raw)", opts.out)
	}

	specs := []config.PacketSpec{opts.spec}
	if opts.file != "" {
		if specs, err = config.LoadPacketSpecs(opts.file); err != nil {
			return err
		}
	} else {
		if opts.header != "" {
			specs[0].Header = opts.header
		}
		if opts.body != "" {
			specs[0].Body = opts.body
		}
	}

	c := codec.New(layout)
	for i, spec := range specs {
		fields, err := spec.Fields()
		if err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
		raw, err := c.Encode(fields)
		if err != nil {
			return fmt.Errorf("packet %d: %w", i, err)
		}
		if opts.out == "raw" {
			_, err = w.Write(raw)
		} else {
			_, err = fmt.Fprintln(w, hex.EncodeToString(raw))
		}
		if err != nil {
			return err
		}
	}
	return nil
}
