// Package relay implements a sink that forwards packets to upstream peers,
// readdressed with this node's router id. With several upstreams, packets
// are spread by target id on a consistent hash ring.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/serialx/hashring"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/core/codec"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/metrics"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/sink"
)

const Name = "relay"

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("relay: sink closed")

// Drop reasons
const (
	DropControl = "control"
	DropExpired = "ttl_expired"
)

// Sink forwards routable packets over one TCP connection per upstream,
// dialed lazily and redialed after a write failure.
type Sink struct {
	upstreams    []string
	ring         *hashring.HashRing
	idRouter     uint32
	dialTimeout  time.Duration
	writeTimeout time.Duration

	conns  map[string]*upstreamConn // fixed at construction
	closed atomic.Bool
}

// upstreamConn serializes writes to one upstream. connMu only guards the
// conn pointer, so Close can tear a connection down under a blocked write.
type upstreamConn struct {
	addr string

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    net.Conn
}

// NewSink creates a relay sink. cfg.IDRouter must already be validated.
func NewSink(cfg config.RelaySinkConfig) *Sink {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	upstreams := cfg.AllUpstreams()
	conns := make(map[string]*upstreamConn, len(upstreams))
	for _, u := range upstreams {
		conns[u] = &upstreamConn{addr: u}
	}
	return &Sink{
		upstreams:    upstreams,
		ring:         hashring.New(upstreams),
		idRouter:     uint32(cfg.IDRouter),
		dialTimeout:  dialTimeout,
		writeTimeout: writeTimeout,
		conns:        conns,
	}
}

func (s *Sink) Name() string { return Name }

// Send forwards pkt upstream. Control packets and packets whose ttl is
// exhausted are dropped with sink.ErrDropped.
func (s *Sink) Send(ctx context.Context, stream string, pkt *codec.Packet) error {
	start := time.Now()

	if pkt.IsControl() {
		metrics.RelayDropsTotal.WithLabelValues(DropControl).Inc()
		return fmt.Errorf("%w: control packet", sink.ErrDropped)
	}
	if pkt.TTL() == 0 {
		metrics.RelayDropsTotal.WithLabelValues(DropExpired).Inc()
		return fmt.Errorf("%w: ttl expired", sink.ErrDropped)
	}

	fwd, err := pkt.ForwardTo(core.Route{
		IDRouter: core.ID(s.idRouter),
		IDTarget: core.ID(pkt.IDTarget()),
	})
	if err != nil {
		metrics.SinkPacketsTotal.WithLabelValues(Name, metrics.ResultError).Inc()
		return err
	}

	if err := s.write(ctx, s.pick(fwd.IDTarget()), fwd.Bytes()); err != nil {
		metrics.SinkPacketsTotal.WithLabelValues(Name, metrics.ResultError).Inc()
		return err
	}

	metrics.SinkLatencySeconds.WithLabelValues(Name).Observe(time.Since(start).Seconds())
	metrics.SinkPacketsTotal.WithLabelValues(Name, metrics.ResultOK).Inc()
	slog.Debug("packet relayed", "stream", stream, "packet", fwd)
	return nil
}

// pick returns the upstream owning target. Every packet for one target
// takes the same upstream while the upstream set is unchanged.
func (s *Sink) pick(target uint32) string {
	if len(s.upstreams) == 1 {
		return s.upstreams[0]
	}
	if node, ok := s.ring.GetNode(strconv.FormatUint(uint64(target), 10)); ok {
		return node
	}
	return s.upstreams[0]
}

// write sends frame to upstream. Each write is bounded by the write timeout
// and aborted as soon as ctx is cancelled.
func (s *Sink) write(ctx context.Context, upstream string, frame []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	u := s.conns[upstream]

	u.writeMu.Lock()
	defer u.writeMu.Unlock()

	conn, err := s.connect(ctx, u)
	if err != nil {
		return err
	}

	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now())
	})
	_, err = conn.Write(frame)
	stop()

	if err != nil {
		u.drop(conn)
		if ctx.Err() != nil {
			return fmt.Errorf("relay write %s: %w", upstream, ctx.Err())
		}
		return fmt.Errorf("relay write %s: %w", upstream, err)
	}
	return nil
}

// connect returns the open connection of u, dialing when there is none.
// The caller holds u.writeMu.
func (s *Sink) connect(ctx context.Context, u *upstreamConn) (net.Conn, error) {
	u.connMu.Lock()
	conn := u.conn
	u.connMu.Unlock()
	if conn != nil {
		return conn, nil
	}

	d := net.Dialer{Timeout: s.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", u.addr)
	if err != nil {
		return nil, fmt.Errorf("relay dial %s: %w", u.addr, err)
	}

	u.connMu.Lock()
	defer u.connMu.Unlock()
	if s.closed.Load() {
		conn.Close()
		return nil, ErrClosed
	}
	u.conn = conn
	slog.Info("relay connected", "upstream", u.addr, "id_router", s.idRouter)
	return conn, nil
}

// drop closes conn and forgets it unless it was already replaced.
func (u *upstreamConn) drop(conn net.Conn) {
	u.connMu.Lock()
	if u.conn == conn {
		u.conn = nil
	}
	u.connMu.Unlock()
	conn.Close()
}

// Close closes every upstream connection. A write blocked on a stalled
// upstream fails immediately; later sends return ErrClosed.
func (s *Sink) Close() error {
	s.closed.Store(true)

	var result *multierror.Error
	for _, u := range s.conns {
		u.connMu.Lock()
		conn := u.conn
		u.conn = nil
		u.connMu.Unlock()

		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("relay close %s: %w", u.addr, err))
		}
	}
	return result.ErrorOrNil()
}
