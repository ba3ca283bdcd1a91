package peermanager

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"swarmnode/internal/identity"
)

func testOverlay(b byte) identity.OverlayAddress {
	var o identity.OverlayAddress
	o[0] = b
	return o
}

func TestLifecycleHappyPath(t *testing.T) {
	var ready, disconnected identity.OverlayAddress
	readyFired := false
	mgr := New(Config{
		OnReady:        func(o identity.OverlayAddress) { ready = o; readyFired = true },
		OnDisconnected: func(o identity.OverlayAddress) { disconnected = o },
	})

	overlay := testOverlay(1)
	id := peer.ID("peer-1")

	if err := mgr.BindTransport(overlay, id, "1.2.3.4"); err != nil {
		t.Fatalf("bind transport: %v", err)
	}
	if got := mgr.State(overlay); got != StateConnecting {
		t.Fatalf("state = %s, want connecting", got)
	}

	if err := mgr.OnHandshaking(overlay); err != nil {
		t.Fatalf("handshaking: %v", err)
	}
	if err := mgr.OnAuthenticated(overlay); err != nil {
		t.Fatalf("authenticated: %v", err)
	}
	if !readyFired || ready != overlay {
		t.Fatalf("expected OnReady to fire for %v", overlay)
	}

	resolved, ok := mgr.Resolve(id)
	if !ok || resolved != overlay {
		t.Fatalf("resolve transport id failed: got %v ok=%v", resolved, ok)
	}

	mgr.OnDisconnected(overlay)
	if disconnected != overlay {
		t.Fatalf("expected OnDisconnected to fire for %v", overlay)
	}
	if got := mgr.State(overlay); got != StateKnown {
		t.Fatalf("state after disconnect = %s, want known", got)
	}
	if _, ok := mgr.Resolve(id); ok {
		t.Fatalf("transport id should be unbound after disconnect")
	}
}

func TestBanBlocksReconnectUntilExpiry(t *testing.T) {
	mgr := New(Config{ShortBanDuration: 10 * time.Millisecond})
	overlay := testOverlay(2)
	id := peer.ID("peer-2")

	mgr.Ban(overlay, false)
	if !mgr.IsBanned(overlay) {
		t.Fatalf("expected peer to be banned")
	}
	if err := mgr.BindTransport(overlay, id, "5.6.7.8"); err == nil {
		t.Fatalf("expected bind to fail while banned")
	}

	time.Sleep(20 * time.Millisecond)
	if mgr.IsBanned(overlay) {
		t.Fatalf("expected ban to have expired")
	}
	if err := mgr.BindTransport(overlay, id, "5.6.7.8"); err != nil {
		t.Fatalf("expected bind to succeed after ban expiry: %v", err)
	}
}

func TestBanScopedToIPIndependently(t *testing.T) {
	mgr := New(Config{ShortBanDuration: time.Minute})
	overlayA := testOverlay(3)
	overlayB := testOverlay(4)
	sharedIP := "9.9.9.9"

	if err := mgr.BindTransport(overlayA, peer.ID("peer-a"), sharedIP); err != nil {
		t.Fatalf("bind a: %v", err)
	}
	mgr.Ban(overlayA, false)

	// Same IP, different overlay: should also be refused since the ban is
	// scoped to the IP independently of the overlay identity.
	if err := mgr.BindTransport(overlayB, peer.ID("peer-b"), sharedIP); err == nil {
		t.Fatalf("expected bind from banned IP to fail for a different overlay")
	}
}

func TestScoringWeights(t *testing.T) {
	mgr := New(Config{})
	overlay := testOverlay(5)

	mgr.RecordSuccess(overlay)
	mgr.RecordSuccess(overlay)
	mgr.RecordFailure(overlay)
	mgr.RecordProtocolViolation(overlay)

	want := 2*DefaultScoreWeights.Success + 1*DefaultScoreWeights.Failure + 1*DefaultScoreWeights.Violation
	if got := mgr.Score(overlay); got != want {
		t.Fatalf("score = %v, want %v", got, want)
	}
}
