// Package tcp implements a TCP listener source: one stream per connection.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/metrics"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source"
)

const Name = "tcp"

// Source accepts TCP connections and feeds each one as a separate stream.
type Source struct {
	cfg      config.TCPSourceConfig
	readSize int
	limiter  *PeerLimiter

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// New creates a TCP source. readSize is the per-read buffer size.
func New(cfg config.TCPSourceConfig, readSize int) *Source {
	if readSize <= 0 {
		readSize = 32 * 1024
	}
	return &Source{
		cfg:      cfg,
		readSize: readSize,
		limiter: NewPeerLimiter(PeerLimiterConfig{
			MaxPerPeer: cfg.MaxSessionsPerPeer,
			Window:     cfg.RateWindow,
		}),
		conns: make(map[net.Conn]struct{}),
	}
}

func (s *Source) Name() string { return Name }

// Listen binds the listen address. Run calls it when it has not been called.
func (s *Source) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("tcp source listen on %s: %w", s.cfg.Listen, err)
	}
	if s.cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Source) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run accepts connections until ctx is cancelled, then closes every open
// connection and waits for their handlers.
func (s *Source) Run(ctx context.Context, o source.Opener) error {
	if err := s.Listen(); err != nil {
		return err
	}
	ln := s.listener

	slog.Info("tcp source started", "addr", ln.Addr().String(), "max_conns", s.cfg.MaxConns)

	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		s.closeConns()
	})
	defer stop()

	var err error
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() == nil && !errors.Is(aerr, net.ErrClosed) {
				err = fmt.Errorf("tcp source accept: %w", aerr)
			}
			break
		}

		if !s.admit(conn) {
			conn.Close()
			continue
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(conn, o)
		}()
	}

	ln.Close()
	s.closeConns()
	s.wg.Wait()
	slog.Info("tcp source stopped", "addr", ln.Addr().String())
	return err
}

func (s *Source) admit(conn net.Conn) bool {
	if s.limiter == nil {
		return true
	}
	ap, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return true
	}
	if !s.limiter.Allow(ap.Addr(), time.Now()) {
		slog.Warn("tcp session rejected by peer limit", "remote", conn.RemoteAddr().String(), "rejected_total", s.limiter.Rejected())
		return false
	}
	return true
}

func (s *Source) serve(conn net.Conn, o source.Opener) {
	defer s.track(conn, false)
	defer conn.Close()

	info := source.StreamInfo{Source: Name, ID: conn.RemoteAddr().String()}
	feeder := o.Open(info)
	metrics.SessionsActive.WithLabelValues(Name).Inc()
	defer metrics.SessionsActive.WithLabelValues(Name).Dec()
	defer func() {
		if err := feeder.Close(); err != nil {
			slog.Warn("stream closed with error", "stream", info.String(), "error", err)
		}
	}()

	buf := make([]byte, s.readSize)
	for {
		if s.cfg.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := feeder.Feed(buf[:n]); ferr != nil {
				slog.Warn("closing stream", "stream", info.String(), "error", ferr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("tcp read ended", "stream", info.String(), "error", err)
			}
			return
		}
	}
}

func (s *Source) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Source) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}
