package pricing

import (
	"net"
	"testing"

	"swarmnode/internal/identity"
	"swarmnode/internal/wire"
)

func TestPeerPriceDecreasesWithProximity(t *testing.T) {
	p := New(DefaultBasePriceAU, 31)
	var near, far, chunk identity.OverlayAddress
	chunk[0] = 0b11111111
	near[0] = 0b11111111 // agrees fully on first byte -> high proximity
	far[0] = 0b00000000  // disagrees immediately -> proximity 0

	priceNear := p.PeerPrice(near, chunk)
	priceFar := p.PeerPrice(far, chunk)
	if priceNear >= priceFar {
		t.Fatalf("expected closer peer to get a cheaper price: near=%d far=%d", priceNear, priceFar)
	}
	wantFar := int64(31-0+1) * DefaultBasePriceAU
	if priceFar != wantFar {
		t.Fatalf("far price = %d, want %d", priceFar, wantFar)
	}
}

func TestValidateAnnouncedThreshold(t *testing.T) {
	if err := ValidateAnnouncedThreshold(999); err == nil {
		t.Fatalf("expected 999 AU to be rejected")
	}
	if err := ValidateAnnouncedThreshold(1000); err != nil {
		t.Fatalf("expected 1000 AU to be accepted: %v", err)
	}
}

func TestAnnounceThresholdRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	type dialerResult struct {
		theirThresholdAU int64
		err              error
	}
	dialerDone := make(chan dialerResult, 1)
	go func() {
		f := wire.NewFramer(a)
		theirs, err := AnnounceThreshold(f, 5000)
		dialerDone <- dialerResult{theirs, err}
	}()

	fb := wire.NewFramer(b)
	ourListenerThreshold, err := Serve(fb, 8000)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if ourListenerThreshold != 5000 {
		t.Fatalf("listener learned threshold %d, want 5000", ourListenerThreshold)
	}

	res := <-dialerDone
	if res.err != nil {
		t.Fatalf("announce: %v", res.err)
	}
	if res.theirThresholdAU != 8000 {
		t.Fatalf("dialer learned threshold %d, want 8000", res.theirThresholdAU)
	}
}

func TestAnnounceThresholdRejectsBelowFloor(t *testing.T) {
	a, _ := net.Pipe()
	defer a.Close()
	f := wire.NewFramer(a)
	if _, err := AnnounceThreshold(f, MinAnnouncedThresholdAU-1); err == nil {
		t.Fatalf("expected a sub-floor announced threshold to be rejected before any I/O")
	}
}
