package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/decoder"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/log"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/metrics"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/pipeline"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/sink"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/sink/console"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/sink/kafka"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/sink/relay"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source/pcap"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source/tcp"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the configured sources and sinks",
	Long: `Run every enabled source (tcp, websocket, pcap) and deliver reassembled
packets to every enabled sink (console, relay, kafka) until SIGINT or SIGTERM.

Examples:
  fabric serve -c /etc/fabric/config.yml
  FABRIC_SOURCES_TCP_ENABLED=true fabric serve`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if err := log.Init(cfg.Log); err != nil {
			exitWithError("failed to init logger", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := runServe(ctx, cfg, os.Stdout); err != nil {
			exitWithError("serve failed", err)
		}
	},
}

// runServe starts the metrics server when enabled and runs the pipeline
// until ctx is cancelled or every source has finished.
func runServe(ctx context.Context, cfg *config.GlobalConfig, stdout io.Writer) error {
	p, err := buildPipeline(cfg, stdout)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop(context.Background())
	}

	err = p.Run(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	slog.Info("serve finished", "stats", fmt.Sprintf("%+v", p.Stats()))
	return err
}

// buildPipeline turns the enabled sources and sinks of cfg into a pipeline.
func buildPipeline(cfg *config.GlobalConfig, stdout io.Writer) (*pipeline.Pipeline, error) {
	if !cfg.AnySourceEnabled() {
		return nil, errors.New("no source enabled (sources.tcp, sources.websocket or sources.pcap)")
	}

	var sources []source.Source
	if cfg.Sources.TCP.Enabled {
		sources = append(sources, tcp.New(cfg.Sources.TCP, cfg.Codec.ReadBuffer))
	}
	if cfg.Sources.WebSocket.Enabled {
		sources = append(sources, websocket.New(cfg.Sources.WebSocket))
	}
	if cfg.Sources.Pcap.Enabled {
		sources = append(sources, pcap.New(cfg.Sources.Pcap))
	}

	var sinks []sink.Sink
	if cfg.Sinks.Console.Enabled {
		sinks = append(sinks, console.NewSink(cfg.Sinks.Console.Format, stdout))
	}
	if cfg.Sinks.Relay.Enabled {
		sinks = append(sinks, relay.NewSink(cfg.Sinks.Relay))
	}
	if cfg.Sinks.Kafka.Enabled {
		k, err := kafka.NewSink(cfg.Sinks.Kafka)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, k)
	}
	if len(sinks) == 0 {
		slog.Warn("no sink enabled, packets will only be counted")
	}

	return pipeline.NewBuilder().
		WithSources(sources...).
		WithSinks(sinks...).
		WithReassembly(decoder.ReassemblyConfig{
			Layout:      cfg.Codec.ParsedLayout(),
			PreserveTTL: cfg.Codec.PreserveTTL,
		}).
		Build(), nil
}
