package tcp

import (
	"net/netip"
	"testing"
	"time"
)

func TestPeerLimiter_NilWhenDisabled(t *testing.T) {
	l := NewPeerLimiter(PeerLimiterConfig{MaxPerPeer: 0})
	if l != nil {
		t.Error("expected nil when MaxPerPeer = 0")
	}
	if !l.Allow(netip.MustParseAddr("10.0.0.1"), time.Now()) {
		t.Error("nil limiter must admit everything")
	}
	if l.Rejected() != 0 || l.ActivePeers() != 0 {
		t.Error("nil limiter must report zero counts")
	}
}

func TestPeerLimiter_RejectsOverLimit(t *testing.T) {
	l := NewPeerLimiter(PeerLimiterConfig{MaxPerPeer: 3, Window: 10 * time.Second})

	peer := netip.MustParseAddr("10.0.0.1")
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.Allow(peer, now) {
			t.Fatalf("session %d should be allowed (within limit)", i)
		}
	}
	if l.Allow(peer, now) {
		t.Error("4th session should be rejected")
	}
	if l.Rejected() != 1 {
		t.Errorf("expected 1 rejected, got %d", l.Rejected())
	}
}

func TestPeerLimiter_PeersIndependent(t *testing.T) {
	l := NewPeerLimiter(PeerLimiterConfig{MaxPerPeer: 1})
	now := time.Now()

	l.Allow(netip.MustParseAddr("1.1.1.1"), now)
	if l.Allow(netip.MustParseAddr("1.1.1.1"), now) {
		t.Error("1.1.1.1's 2nd session should be rejected")
	}
	if !l.Allow(netip.MustParseAddr("2.2.2.2"), now) {
		t.Error("2.2.2.2's 1st session should be allowed")
	}
}

func TestPeerLimiter_MappedAddressesShareCounter(t *testing.T) {
	l := NewPeerLimiter(PeerLimiterConfig{MaxPerPeer: 1})
	now := time.Now()

	l.Allow(netip.MustParseAddr("192.0.2.7"), now)
	if l.Allow(netip.MustParseAddr("::ffff:192.0.2.7"), now) {
		t.Error("IPv4-mapped address should count against the IPv4 peer")
	}
}

func TestPeerLimiter_WindowRotation(t *testing.T) {
	l := NewPeerLimiter(PeerLimiterConfig{MaxPerPeer: 2, Window: time.Second})

	peer := netip.MustParseAddr("10.0.0.1")
	now := time.Now()

	l.Allow(peer, now)
	l.Allow(peer, now)
	if l.Allow(peer, now) {
		t.Error("should be rejected before window rotation")
	}

	if !l.Allow(peer, now.Add(2*time.Second)) {
		t.Error("should be allowed after window rotation")
	}
	if got := l.ActivePeers(); got != 1 {
		t.Errorf("expected 1 active peer, got %d", got)
	}
}
