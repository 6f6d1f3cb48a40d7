// Package kafka implements a sink that publishes packets to a Kafka topic.
// Each message value is the raw frame, so consumers decode it with the same codec.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/metrics"
)

const Name = "kafka"

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultMaxAttempts  = 3
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink publishes every packet as one message keyed by its target id.
type Sink struct {
	cfg    config.KafkaSinkConfig
	writer messageWriter

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewSink creates a Kafka sink. The writer connects on first use.
func NewSink(cfg config.KafkaSinkConfig) (*Sink, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	comp, err := compression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // same target, same partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  comp,
	}

	slog.Info("kafka sink created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"batch_size", cfg.BatchSize,
		"batch_timeout", cfg.BatchTimeout,
		"compression", cfg.Compression,
	)
	return newSink(cfg, w), nil
}

func newSink(cfg config.KafkaSinkConfig, w messageWriter) *Sink {
	return &Sink{cfg: cfg, writer: w}
}

func compression(name string) (kafka.Compression, error) {
	switch name {
	case "none", "":
		return 0, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	case "zstd":
		return compress.Zstd, nil
	default:
		return 0, fmt.Errorf("%w: invalid kafka compression: %s", core.ErrConfigInvalid, name)
	}
}

func (s *Sink) Name() string { return Name }

// Send publishes pkt synchronously.
func (s *Sink) Send(ctx context.Context, stream string, pkt *codec.Packet) error {
	start := time.Now()

	if err := s.writer.WriteMessages(ctx, Message(stream, pkt)); err != nil {
		s.failed.Add(1)
		metrics.SinkPacketsTotal.WithLabelValues(Name, metrics.ResultError).Inc()
		return fmt.Errorf("kafka write failed: %w", err)
	}

	s.published.Add(1)
	metrics.SinkLatencySeconds.WithLabelValues(Name).Observe(time.Since(start).Seconds())
	metrics.SinkPacketsTotal.WithLabelValues(Name, metrics.ResultOK).Inc()
	return nil
}

// Message builds the Kafka message for pkt. The routing fields are copied
// into headers so consumers can filter without decoding the value.
func Message(stream string, pkt *codec.Packet) kafka.Message {
	headers := []kafka.Header{
		{Key: "type", Value: []byte(strconv.Itoa(int(pkt.Type())))},
		{Key: "ttl", Value: []byte(strconv.Itoa(int(pkt.TTL())))},
		{Key: "id_router", Value: []byte(strconv.FormatUint(uint64(pkt.IDRouter()), 10))},
		{Key: "id_target", Value: []byte(strconv.FormatUint(uint64(pkt.IDTarget()), 10))},
	}
	if stream != "" {
		headers = append(headers, kafka.Header{Key: "stream", Value: []byte(stream)})
	}
	return kafka.Message{
		Key:     []byte(strconv.FormatUint(uint64(pkt.IDTarget()), 10)),
		Value:   pkt.Bytes(),
		Headers: headers,
	}
}

// Close flushes pending messages and closes the writer.
func (s *Sink) Close() error {
	err := s.writer.Close()
	if err != nil {
		slog.Error("error closing kafka writer", "error", err)
	}
	slog.Info("kafka sink stopped",
		"total_published", s.published.Load(),
		"total_errors", s.failed.Load(),
	)
	return err
}
