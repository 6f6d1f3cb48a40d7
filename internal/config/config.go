// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
)

// GlobalConfig represents the top-level static configuration.
// Maps to the `fabric:` root key in YAML.
type GlobalConfig struct {
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Codec   CodecConfig   `mapstructure:"codec"`
	Sources SourcesConfig `mapstructure:"sources"`
	Sinks   SinksConfig   `mapstructure:"sinks"`
}

// ─── Codec ───

// CodecConfig selects the wire layout and stream decoding behavior.
type CodecConfig struct {
	Layout      string `mapstructure:"layout"`       // variable | fixed
	PreserveTTL bool   `mapstructure:"preserve_ttl"` // disable the hop decrement on receive
	ReadBuffer  int    `mapstructure:"read_buffer"`  // bytes per transport read
}

// ParsedLayout returns the configured header layout.
func (c CodecConfig) ParsedLayout() core.Layout {
	l, _ := core.ParseLayout(c.Layout)
	return l
}

// ─── Sources ───

// SourcesConfig lists the transports packets are read from.
type SourcesConfig struct {
	TCP       TCPSourceConfig       `mapstructure:"tcp"`
	WebSocket WebSocketSourceConfig `mapstructure:"websocket"`
	Pcap      PcapSourceConfig      `mapstructure:"pcap"`
}

// TCPSourceConfig configures the TCP listener.
type TCPSourceConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Listen      string        `mapstructure:"listen"`
	MaxConns    int           `mapstructure:"max_conns"`    // 0 = unlimited
	IdleTimeout time.Duration `mapstructure:"idle_timeout"` // 0 = no deadline
	// Per-peer admission limit, counted per RateWindow. 0 disables it.
	MaxSessionsPerPeer int           `mapstructure:"max_sessions_per_peer"`
	RateWindow         time.Duration `mapstructure:"rate_window"`
}

// WebSocketSourceConfig configures the websocket listener.
type WebSocketSourceConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Listen    string `mapstructure:"listen"`
	Path      string `mapstructure:"path"`
	ReadLimit int64  `mapstructure:"read_limit"` // max bytes per websocket message
}

// PcapSourceConfig configures offline replay of a capture file.
type PcapSourceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	File    string `mapstructure:"file"`
	Port    int    `mapstructure:"port"` // 0 = every TCP flow
}

// ─── Sinks ───

// SinksConfig lists where reassembled packets are delivered.
type SinksConfig struct {
	Console ConsoleSinkConfig `mapstructure:"console"`
	Relay   RelaySinkConfig   `mapstructure:"relay"`
	Kafka   KafkaSinkConfig   `mapstructure:"kafka"`
}

// ConsoleSinkConfig configures the stdout sink.
type ConsoleSinkConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Format  string `mapstructure:"format"` // json | text
}

// RelaySinkConfig configures forwarding to upstream peers.
type RelaySinkConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Upstream     string        `mapstructure:"upstream"`
	Upstreams    []string      `mapstructure:"upstreams"` // spread by id_target when more than one
	IDRouter     int64         `mapstructure:"id_router"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AllUpstreams returns Upstream followed by Upstreams, empty and duplicate entries removed.
func (c RelaySinkConfig) AllUpstreams() []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range append([]string{c.Upstream}, c.Upstreams...) {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// KafkaSinkConfig configures publishing raw frames to a Kafka topic.
type KafkaSinkConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	Compression  string        `mapstructure:"compression"` // none | gzip | snappy | lz4 | zstd
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string           `mapstructure:"level"`   // debug / info / warn / error
	Format     string           `mapstructure:"format"`  // json / text / pattern
	Pattern    string           `mapstructure:"pattern"` // used by the pattern format
	TimeFormat string           `mapstructure:"time_format"`
	Outputs    LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `fabric: ...`.
type configRoot struct {
	Fabric GlobalConfig `mapstructure:"fabric"`
}

// Load loads configuration from file.
// The YAML file uses `fabric:` as root key; env vars use the FABRIC_ prefix (e.g., FABRIC_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

// Default returns the configuration used when no file is given.
// Env overrides still apply.
func Default() (*GlobalConfig, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*GlobalConfig, error) {
	// key "fabric.log.level" maps to env "FABRIC_LOG_LEVEL"
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Fabric

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "fabric." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("fabric.log.level", "info")
	v.SetDefault("fabric.log.format", "json")
	v.SetDefault("fabric.log.pattern", "%time [%level] %msg %field\n")
	v.SetDefault("fabric.log.time_format", "2006-01-02 15:04:05.000")
	v.SetDefault("fabric.log.outputs.file.enabled", false)
	v.SetDefault("fabric.log.outputs.file.path", "/var/log/fabric/fabric.log")
	v.SetDefault("fabric.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("fabric.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("fabric.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("fabric.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("fabric.metrics.enabled", false)
	v.SetDefault("fabric.metrics.listen", ":9091")
	v.SetDefault("fabric.metrics.path", "/metrics")

	// Codec defaults
	v.SetDefault("fabric.codec.layout", "variable")
	v.SetDefault("fabric.codec.preserve_ttl", false)
	v.SetDefault("fabric.codec.read_buffer", 32*1024)

	// Source defaults
	v.SetDefault("fabric.sources.tcp.enabled", false)
	v.SetDefault("fabric.sources.tcp.listen", ":7400")
	v.SetDefault("fabric.sources.tcp.max_conns", 1024)
	v.SetDefault("fabric.sources.tcp.idle_timeout", "5m")
	v.SetDefault("fabric.sources.tcp.max_sessions_per_peer", 0)
	v.SetDefault("fabric.sources.tcp.rate_window", "10s")
	v.SetDefault("fabric.sources.websocket.enabled", false)
	v.SetDefault("fabric.sources.websocket.listen", ":7401")
	v.SetDefault("fabric.sources.websocket.path", "/fabric")
	v.SetDefault("fabric.sources.websocket.read_limit", core.MaxPacketLen*16)
	v.SetDefault("fabric.sources.pcap.enabled", false)
	v.SetDefault("fabric.sources.pcap.file", "")
	v.SetDefault("fabric.sources.pcap.port", 0)

	// Sink defaults
	v.SetDefault("fabric.sinks.console.enabled", true)
	v.SetDefault("fabric.sinks.console.format", "json")
	v.SetDefault("fabric.sinks.relay.enabled", false)
	v.SetDefault("fabric.sinks.relay.upstream", "")
	v.SetDefault("fabric.sinks.relay.id_router", 0)
	v.SetDefault("fabric.sinks.relay.dial_timeout", "5s")
	v.SetDefault("fabric.sinks.relay.write_timeout", "10s")
	v.SetDefault("fabric.sinks.kafka.enabled", false)
	v.SetDefault("fabric.sinks.kafka.topic", "fabric-packets")
	v.SetDefault("fabric.sinks.kafka.batch_size", 100)
	v.SetDefault("fabric.sinks.kafka.batch_timeout", "100ms")
	v.SetDefault("fabric.sinks.kafka.compression", "snappy")
	v.SetDefault("fabric.sinks.kafka.max_attempts", 3)
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be json/text/pattern)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Codec ──
	if _, err := core.ParseLayout(cfg.Codec.Layout); err != nil {
		return err
	}
	if cfg.Codec.ReadBuffer <= 0 {
		cfg.Codec.ReadBuffer = 32 * 1024
	}

	// ── Sources ──
	src := &cfg.Sources
	if src.TCP.Enabled && src.TCP.Listen == "" {
		return fmt.Errorf("%w: sources.tcp.listen is required when sources.tcp.enabled=true", core.ErrConfigInvalid)
	}
	if src.TCP.MaxConns < 0 {
		return fmt.Errorf("%w: sources.tcp.max_conns must not be negative", core.ErrConfigInvalid)
	}
	if src.WebSocket.Enabled {
		if src.WebSocket.Listen == "" {
			return fmt.Errorf("%w: sources.websocket.listen is required when sources.websocket.enabled=true", core.ErrConfigInvalid)
		}
		if !strings.HasPrefix(src.WebSocket.Path, "/") {
			src.WebSocket.Path = "/" + src.WebSocket.Path
		}
	}
	if src.Pcap.Enabled && src.Pcap.File == "" {
		return fmt.Errorf("%w: sources.pcap.file is required when sources.pcap.enabled=true", core.ErrConfigInvalid)
	}
	if src.Pcap.Port < 0 || src.Pcap.Port > math.MaxUint16 {
		return fmt.Errorf("%w: sources.pcap.port out of range: %d", core.ErrConfigInvalid, src.Pcap.Port)
	}

	// ── Sinks ──
	if cfg.Sinks.Console.Format != "json" && cfg.Sinks.Console.Format != "text" {
		return fmt.Errorf("%w: invalid sinks.console.format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Sinks.Console.Format)
	}
	relay := &cfg.Sinks.Relay
	if relay.Enabled {
		if len(relay.AllUpstreams()) == 0 {
			return fmt.Errorf("%w: sinks.relay.upstream or sinks.relay.upstreams is required when sinks.relay.enabled=true", core.ErrConfigInvalid)
		}
		if relay.IDRouter <= 0 || relay.IDRouter > math.MaxUint32 {
			return fmt.Errorf("%w: sinks.relay.id_router must be in 1..%d", core.ErrConfigInvalid, uint32(math.MaxUint32))
		}
	}

	kafka := &cfg.Sinks.Kafka
	if kafka.Enabled {
		if len(kafka.Brokers) == 0 {
			return fmt.Errorf("%w: sinks.kafka.brokers is required when sinks.kafka.enabled=true", core.ErrConfigInvalid)
		}
		if kafka.Topic == "" {
			return fmt.Errorf("%w: sinks.kafka.topic is required when sinks.kafka.enabled=true", core.ErrConfigInvalid)
		}
		switch kafka.Compression {
		case "", "none", "gzip", "snappy", "lz4", "zstd":
		default:
			return fmt.Errorf("%w: invalid sinks.kafka.compression: %s (must be none/gzip/snappy/lz4/zstd)", core.ErrConfigInvalid, kafka.Compression)
		}
	}

	return nil
}

// AnySourceEnabled reports whether at least one source is configured.
func (cfg *GlobalConfig) AnySourceEnabled() bool {
	return cfg.Sources.TCP.Enabled || cfg.Sources.WebSocket.Enabled || cfg.Sources.Pcap.Enabled
}
