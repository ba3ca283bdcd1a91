package hive

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"swarmnode/internal/identity"
	"swarmnode/internal/wire"
)

const testNetworkID = 7

func signedRecord(t *testing.T, key *ecdsa.PrivateKey, networkID uint64) wire.PeerRecord {
	t.Helper()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	nonce := []byte("nonce")
	overlay := identity.Compute(addr, networkID, nonce)
	multiaddrs := [][]byte{[]byte("/ip4/127.0.0.1/tcp/1")}

	digest := identity.HandshakeDigest(multiaddrs, overlay, networkID)
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return wire.PeerRecord{
		Multiaddrs: multiaddrs,
		Signature:  sig,
		Overlay:    overlay.Bytes(),
		Nonce:      nonce,
		EthAddr:    addr.Bytes(),
	}
}

type fakeSource struct {
	records []wire.PeerRecord
}

func (f fakeSource) KnownRecords(max int) []wire.PeerRecord {
	if len(f.records) > max {
		return f.records[:max]
	}
	return f.records
}

type fakeSink struct {
	added []identity.OverlayAddress
}

func (f *fakeSink) AddPeers(overlays ...identity.OverlayAddress) {
	f.added = append(f.added, overlays...)
}

type fakeScorer struct {
	violations map[identity.OverlayAddress]int
}

func newFakeScorer() *fakeScorer {
	return &fakeScorer{violations: make(map[identity.OverlayAddress]int)}
}

func (f *fakeScorer) RecordProtocolViolation(overlay identity.OverlayAddress) {
	f.violations[overlay]++
}

func TestHandleGossipAcceptsValidRecord(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	rec := signedRecord(t, key, testNetworkID)

	sink := &fakeSink{}
	h := New(testNetworkID, fakeSource{}, sink, nil)

	if err := h.HandleGossip(identity.OverlayAddress{}, wire.Peers{Records: []wire.PeerRecord{rec}}); err != nil {
		t.Fatalf("handle gossip: %v", err)
	}
	if len(sink.added) != 1 {
		t.Fatalf("expected 1 peer added, got %d", len(sink.added))
	}
}

func TestHandleGossipRejectsTamperedOverlay(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	rec := signedRecord(t, key, testNetworkID)
	rec.Overlay[0] ^= 0xFF // tamper with the claimed overlay

	sink := &fakeSink{}
	scorer := newFakeScorer()
	h := New(testNetworkID, fakeSource{}, sink, scorer)
	sender := identity.OverlayAddress{}

	if err := h.HandleGossip(sender, wire.Peers{Records: []wire.PeerRecord{rec}}); err != nil {
		t.Fatalf("handle gossip should not error for a whole-message issue: %v", err)
	}
	if len(sink.added) != 0 {
		t.Fatalf("tampered record should not be added to topology")
	}
	if scorer.violations[sender] != 1 {
		t.Fatalf("expected sender to be scored for the invalid record")
	}
}

func TestHandleGossipRejectsOversizedMessage(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var records []wire.PeerRecord
	for i := 0; i < MaxPeersPerMessage+1; i++ {
		records = append(records, signedRecord(t, key, testNetworkID))
	}

	sink := &fakeSink{}
	scorer := newFakeScorer()
	h := New(testNetworkID, fakeSource{}, sink, scorer)
	sender := identity.OverlayAddress{}

	if err := h.HandleGossip(sender, wire.Peers{Records: records}); err == nil {
		t.Fatalf("expected oversized message to be rejected")
	}
	if scorer.violations[sender] != 1 {
		t.Fatalf("expected sender to be scored for the oversized message")
	}
}

func TestBuildGossipCapsAtMaxPeers(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var records []wire.PeerRecord
	for i := 0; i < MaxPeersPerMessage+10; i++ {
		records = append(records, signedRecord(t, key, testNetworkID))
	}
	h := New(testNetworkID, fakeSource{records: records}, &fakeSink{}, nil)

	msg := h.BuildGossip()
	if len(msg.Records) != MaxPeersPerMessage {
		t.Fatalf("gossip message has %d records, want %d", len(msg.Records), MaxPeersPerMessage)
	}
}
