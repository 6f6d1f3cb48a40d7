// Package websocket implements a websocket listener source: one stream per
// websocket connection, message payloads concatenated in arrival order.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/metrics"
	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/source"
)

const Name = "websocket"

// Source upgrades HTTP requests on one path and feeds each connection as a stream.
type Source struct {
	cfg      config.WebSocketSourceConfig
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	conns    map[*websocket.Conn]struct{}
	wg       sync.WaitGroup
}

// New creates a websocket source.
func New(cfg config.WebSocketSourceConfig) *Source {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &Source{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024 * 4,
			WriteBufferSize: 1024 * 4,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		conns: make(map[*websocket.Conn]struct{}),
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
		return fmt.Errorf("websocket source listen on %s: %w", s.cfg.Listen, err)
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

// URL returns the ws:// URL clients connect to, or "" before Listen.
func (s *Source) URL() string {
	addr := s.Addr()
	if addr == nil {
		return ""
	}
	return "ws://" + addr.String() + s.cfg.Path
}

// Run serves until ctx is cancelled.
func (s *Source) Run(ctx context.Context, o source.Opener) error {
	if err := s.Listen(); err != nil {
		return err
	}
	ln := s.listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handler(o))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("websocket source started", "addr", ln.Addr().String(), "path", s.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	s.closeConns()
	s.wg.Wait()

	slog.Info("websocket source stopped", "addr", ln.Addr().String())
	if err != nil {
		return fmt.Errorf("websocket source serve: %w", err)
	}
	return nil
}

func (s *Source) handler(o source.Opener) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		conn, err := s.upgrader.Upgrade(w, req, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "error", err)
			return
		}
		if !s.track(conn, true) {
			conn.Close()
			return
		}
		defer s.track(conn, false)
		defer s.wg.Done()
		defer conn.Close()

		if s.cfg.ReadLimit > 0 {
			conn.SetReadLimit(s.cfg.ReadLimit)
		}
		s.serve(conn, req.RemoteAddr, o)
	}
}

func (s *Source) serve(conn *websocket.Conn, remote string, o source.Opener) {
	info := source.StreamInfo{Source: Name, ID: remote}
	feeder := o.Open(info)
	metrics.SessionsActive.WithLabelValues(Name).Inc()
	defer metrics.SessionsActive.WithLabelValues(Name).Dec()
	defer func() {
		if err := feeder.Close(); err != nil {
			slog.Warn("stream closed with error", "stream", info.String(), "error", err)
		}
	}()

	for {
		// text frames carry UTF-8 bytes of the same stream
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read ended", "stream", info.String(), "error", err)
			}
			return
		}
		if err := feeder.Feed(data); err != nil {
			slog.Warn("closing stream", "stream", info.String(), "error", err)
			msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, "framing error")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// track registers or removes conn. Registration fails once the source is closing.
func (s *Source) track(conn *websocket.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.conns, conn)
		return true
	}
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Source) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
	}
	s.conns = nil
}
