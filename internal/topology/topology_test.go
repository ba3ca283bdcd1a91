package topology

import (
	"testing"
	"time"

	"swarmnode/internal/identity"
)

// overlayAtProximity returns an overlay whose proximity to the all-zero
// self address used throughout these tests is exactly po: its leading po
// bits agree with self (all zero) and bit po itself disagrees.
func overlayAtProximity(po int) identity.OverlayAddress {
	var o identity.OverlayAddress
	byteIdx, bitIdx := po/8, 7-(po%8)
	o[byteIdx] = 1 << uint(bitIdx)
	return o
}

// overlayAtProximityVariant is a distinct overlay at the same proximity
// order as overlayAtProximity(po): it flips a trailing byte untouched by
// the leading-bit comparison that determines proximity, so tests can tell
// two same-bin overlays apart.
func overlayAtProximityVariant(po int, variant byte) identity.OverlayAddress {
	o := overlayAtProximity(po)
	o[31] ^= variant
	return o
}

func TestAddPeersAndMarkConnected(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 31, 2)

	peer := overlayAtProximity(4)
	tbl.AddPeers(peer)
	if tbl.IsConnected(peer) {
		t.Fatalf("peer should not be connected yet")
	}
	tbl.MarkConnected(peer)
	if !tbl.IsConnected(peer) {
		t.Fatalf("peer should be connected")
	}
	tbl.MarkDisconnected(peer)
	if tbl.IsConnected(peer) {
		t.Fatalf("peer should be disconnected")
	}
}

func TestDepthIsMaxPOWhenNoBinsSaturated(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 31, 4)
	if d := tbl.Depth(); d != 31 {
		t.Fatalf("depth = %d, want 31 (maxPO) when nothing is connected", d)
	}
}

func TestDepthShrinksAsOuterBinsSaturate(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 4, 1) // small maxPO and saturation target for a tractable test

	for po := 1; po <= 4; po++ {
		peer := overlayAtProximity(po)
		tbl.AddPeers(peer)
		tbl.MarkConnected(peer)
	}
	// bins 1..4 now have >=1 connected peer each; bin 0 has none.
	if d := tbl.Depth(); d != 1 {
		t.Fatalf("depth = %d, want 1", d)
	}
}

func TestIsResponsibleFor(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 4, 1)
	for po := 1; po <= 4; po++ {
		peer := overlayAtProximity(po)
		tbl.AddPeers(peer)
		tbl.MarkConnected(peer)
	}
	// depth is now 1; a chunk sharing >=1 leading bit with self is in range.
	near := overlayAtProximity(2)
	if !tbl.IsResponsibleFor(near) {
		t.Fatalf("expected responsibility for a nearby address at depth 1")
	}
	far := overlayAtProximity(0) // disagrees with self on the very first bit
	if tbl.IsResponsibleFor(far) {
		t.Fatalf("did not expect responsibility for a far address below depth")
	}
}

func TestClosestToOrdersByXORDistance(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 31, 2)

	var a, b, c identity.OverlayAddress
	a[0] = 0b00000001
	b[0] = 0b00000010
	c[0] = 0b11111111
	tbl.AddPeers(a, b, c)

	var target identity.OverlayAddress
	target[0] = 0b00000001 // exactly a

	closest := tbl.ClosestTo(target, 3)
	if len(closest) != 3 || closest[0] != a {
		t.Fatalf("expected a to be closest, got %v", closest)
	}
}

func TestPickAdmitsWhenBinHasRoom(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 4, 2)

	candidate := overlayAtProximity(1)
	ok, err := tbl.Pick(candidate, true)
	if !ok || err != nil {
		t.Fatalf("expected admission into an empty bin, got ok=%v err=%v", ok, err)
	}
}

func TestPickAlwaysAdmitsWithinNeighborhoodDepth(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 4, 1)
	for po := 1; po <= 4; po++ {
		p := overlayAtProximity(po)
		tbl.AddPeers(p)
		tbl.MarkConnected(p)
	}
	// depth is now 1; bin 4 already holds its one saturationTarget slot, but
	// po 4 is within the neighborhood so admission never checks capacity.
	candidate := overlayAtProximityVariant(4, 0x01)
	ok, err := tbl.Pick(candidate, true)
	if !ok || err != nil {
		t.Fatalf("expected neighborhood bin to admit despite saturation, got ok=%v err=%v", ok, err)
	}
}

func TestPickRejectsFreshlySaturatedBinOutsideNeighborhood(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 4, 1)
	for po := 2; po <= 4; po++ {
		p := overlayAtProximity(po)
		tbl.AddPeers(p)
		tbl.MarkConnected(p)
	}
	// bin 1 stays empty, so depth is 2 even once bin 0 holds a connection;
	// bin 0 is outside the neighborhood.
	existing := overlayAtProximity(0)
	tbl.AddPeers(existing)
	tbl.MarkConnected(existing) // freshly connected, not stale

	candidate := overlayAtProximityVariant(0, 0x01)
	ok, err := tbl.Pick(candidate, true)
	if ok || err != ErrBinSaturated {
		t.Fatalf("expected ErrBinSaturated, got ok=%v err=%v", ok, err)
	}
}

func TestPickCapsLightNodesMoreStrictly(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 4, 2)

	existing := overlayAtProximity(1)
	tbl.AddPeers(existing)
	tbl.MarkConnected(existing)

	fullCandidate := overlayAtProximityVariant(1, 0x01)
	if ok, err := tbl.Pick(fullCandidate, true); !ok || err != nil {
		t.Fatalf("full node should still fit under saturationTarget 2, got ok=%v err=%v", ok, err)
	}

	lightCandidate := overlayAtProximityVariant(1, 0x02)
	ok, err := tbl.Pick(lightCandidate, false)
	if ok || err != ErrBinSaturated {
		t.Fatalf("light node should be capped at saturationTarget/%d, got ok=%v err=%v", LightNodeBinCapDivisor, ok, err)
	}
}

func TestPickEvictsStaleConnectionToAdmit(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 4, 1)
	for po := 2; po <= 4; po++ {
		p := overlayAtProximity(po)
		tbl.AddPeers(p)
		tbl.MarkConnected(p)
	}
	// bin 1 stays empty, so depth is 2 and bin 0 is outside the neighborhood.
	stale := overlayAtProximity(0)
	tbl.AddPeers(stale)
	tbl.MarkConnected(stale)
	po := tbl.poOf(stale)
	tbl.bins[po].connectedAt[stale] = time.Now().Add(-StaleConnectionAge - time.Minute)

	candidate := overlayAtProximityVariant(0, 0x01)
	ok, err := tbl.Pick(candidate, true)
	if !ok || err != nil {
		t.Fatalf("expected stale peer to be evicted and candidate admitted, got ok=%v err=%v", ok, err)
	}
	if tbl.IsConnected(stale) {
		t.Fatalf("stale peer should have been evicted")
	}
}

func TestPeersToConnectSkipsSaturatedBins(t *testing.T) {
	var self identity.OverlayAddress
	tbl := New(self, 4, 1)

	saturatedPeer := overlayAtProximity(3)
	tbl.AddPeers(saturatedPeer)
	tbl.MarkConnected(saturatedPeer)

	unsaturatedPeer := overlayAtProximity(1)
	tbl.AddPeers(unsaturatedPeer)

	candidates := tbl.PeersToConnect(10)
	found := false
	for _, c := range candidates {
		if c == saturatedPeer {
			t.Fatalf("saturated bin's peer should not be offered for connection")
		}
		if c == unsaturatedPeer {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unsaturated bin's peer to be offered for connection")
	}
}
