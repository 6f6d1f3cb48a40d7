package tcp

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// PeerLimiter tracks per-peer session counts so one address cannot
// exhaust the connection cap. Counts are kept per window and reset when
// the window rotates.
type PeerLimiter struct {
	mu           sync.Mutex
	current      map[netip.Addr]*atomic.Int64 // peer → sessions in current window
	windowStart  time.Time
	windowSize   time.Duration
	maxPerWindow int64

	rejected atomic.Int64
}

// PeerLimiterConfig configures per-peer admission.
type PeerLimiterConfig struct {
	MaxPerPeer int           // max sessions per peer per window (0 = disabled)
	Window     time.Duration // default 10s
}

// NewPeerLimiter creates a limiter. Returns nil if disabled (MaxPerPeer <= 0).
func NewPeerLimiter(cfg PeerLimiterConfig) *PeerLimiter {
	if cfg.MaxPerPeer <= 0 {
		return nil
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	return &PeerLimiter{
		current:      make(map[netip.Addr]*atomic.Int64),
		windowStart:  time.Now(),
		windowSize:   cfg.Window,
		maxPerWindow: int64(cfg.MaxPerPeer),
	}
}

// Allow reports whether a new session from peer is admitted.
// A nil limiter admits everything.
func (l *PeerLimiter) Allow(peer netip.Addr, now time.Time) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	if now.Sub(l.windowStart) >= l.windowSize {
		l.current = make(map[netip.Addr]*atomic.Int64)
		l.windowStart = now
	}

	peer = peer.Unmap()
	counter, exists := l.current[peer]
	if !exists {
		counter = &atomic.Int64{}
		l.current[peer] = counter
	}
	l.mu.Unlock()

	if counter.Add(1) > l.maxPerWindow {
		l.rejected.Add(1)
		return false
	}
	return true
}

// Rejected returns the total number of rejected sessions.
func (l *PeerLimiter) Rejected() int64 {
	if l == nil {
		return 0
	}
	return l.rejected.Load()
}

// ActivePeers returns the number of distinct peers in the current window.
func (l *PeerLimiter) ActivePeers() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.current)
}
