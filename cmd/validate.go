package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without starting any source.

Examples:
  fabric validate -c /etc/fabric/config.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		if configFile == "" {
			exitWithError("--config is required", nil)
		}
		if err := runValidate(configFile, cmd.OutOrStdout()); err != nil {
			exitWithError("configuration is invalid", err)
		}
	},
}

// runValidate loads path and prints a summary of what would run.
func runValidate(path string, w io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(w, "INVALID %s\n", path)
		return err
	}

	fmt.Fprintf(w, "VALID %s\n", path)
	fmt.Fprintf(w, "  codec:    layout=%s preserve_ttl=%t read_buffer=%d\n",
		cfg.Codec.ParsedLayout(), cfg.Codec.PreserveTTL, cfg.Codec.ReadBuffer)

	src := cfg.Sources
	if src.TCP.Enabled {
		fmt.Fprintf(w, "  source:   tcp listen=%s max_conns=%d\n", src.TCP.Listen, src.TCP.MaxConns)
	}
	if src.WebSocket.Enabled {
		fmt.Fprintf(w, "  source:   websocket listen=%s path=%s\n", src.WebSocket.Listen, src.WebSocket.Path)
	}
	if src.Pcap.Enabled {
		fmt.Fprintf(w, "  source:   pcap file=%s port=%d\n", src.Pcap.File, src.Pcap.Port)
	}
	if !cfg.AnySourceEnabled() {
		fmt.Fprintln(w, "  warning:  no source enabled, serve will refuse to start")
	}

	if cfg.Sinks.Console.Enabled {
		fmt.Fprintf(w, "  sink:     console format=%s\n", cfg.Sinks.Console.Format)
	}
	if cfg.Sinks.Relay.Enabled {
		fmt.Fprintf(w, "  sink:     relay upstream=%s id_router=%d\n",
			strings.Join(cfg.Sinks.Relay.AllUpstreams(), ","), cfg.Sinks.Relay.IDRouter)
	}
	if cfg.Sinks.Kafka.Enabled {
		fmt.Fprintf(w, "  sink:     kafka brokers=%s topic=%s compression=%s\n",
			strings.Join(cfg.Sinks.Kafka.Brokers, ","), cfg.Sinks.Kafka.Topic, cfg.Sinks.Kafka.Compression)
	}
	if cfg.Metrics.Enabled {
		fmt.Fprintf(w, "  metrics:  %s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	return nil
}
