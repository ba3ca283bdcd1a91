package swarmnode

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"swarmnode/internal/accounting"
	"swarmnode/internal/handshake"
	"swarmnode/internal/identity"
)

type fakeHost struct {
	id            peer.ID
	addrs         []multiaddr.Multiaddr
	handlers      map[protocol.ID]network.StreamHandler
	requestedPIDs []protocol.ID
}

func newFakeHost() *fakeHost {
	addr, err := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/1634")
	if err != nil {
		panic(err)
	}
	return &fakeHost{
		id:       peer.ID("fake-self"),
		addrs:    []multiaddr.Multiaddr{addr},
		handlers: make(map[protocol.ID]network.StreamHandler),
	}
}

func (f *fakeHost) ID() peer.ID                     { return f.id }
func (f *fakeHost) Addrs() []multiaddr.Multiaddr     { return f.addrs }
func (f *fakeHost) Connect(ctx context.Context, pi peer.AddrInfo) error { return nil }
func (f *fakeHost) NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (network.Stream, error) {
	f.requestedPIDs = append(f.requestedPIDs, pids...)
	return nil, errNotImplemented
}
func (f *fakeHost) SetStreamHandler(pid protocol.ID, handler network.StreamHandler) {
	f.handlers[pid] = handler
}
func (f *fakeHost) Close() error { return nil }

var errNotImplemented = errors.New("fakeHost: not implemented")

func testIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ethAddr := crypto.PubkeyToAddress(key.PublicKey)
	sign := func(digest []byte) ([]byte, error) { return crypto.Sign(digest, key) }
	return identity.New(ethAddr, []byte{1, 2, 3}, 1, identity.Client, sign)
}

func TestNewNodeWithHostRegistersAllProtocolHandlers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newFakeHost()
	n, err := newNodeWithHost(ctx, cancel, h, Config{
		NetworkID: 1,
		Identity:  testIdentity(t),
		Welcome:   "hi",
	})
	if err != nil {
		t.Fatalf("newNodeWithHost: %v", err)
	}
	defer n.cancel()

	for _, pid := range []protocol.ID{
		ProtocolHandshake, ProtocolHive, ProtocolPingpong, ProtocolRetrieval, ProtocolPushsync,
		ProtocolPricing, ProtocolPseudosettle, ProtocolSwap,
	} {
		if _, ok := h.handlers[pid]; !ok {
			t.Fatalf("protocol %s has no registered stream handler", pid)
		}
	}
}

// TestAdmitAuthenticatedPeerRegistersAccountingOnPricingFailure exercises
// admitAuthenticatedPeer against a fakeHost whose NewStream always fails:
// the pricing exchange can't run, so the peer is still registered, falling
// back to our own announced threshold (spec §4.5 Register, §6).
func TestAdmitAuthenticatedPeerRegistersAccountingOnPricingFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newFakeHost()
	n, err := newNodeWithHost(ctx, cancel, h, Config{
		NetworkID:        1,
		Identity:         testIdentity(t),
		AccountingConfig: accounting.Config{OurPaymentThresholdAU: 5000},
	})
	if err != nil {
		t.Fatalf("newNodeWithHost: %v", err)
	}
	defer n.cancel()

	var overlay identity.OverlayAddress
	overlay[0] = 0xEE
	result := handshake.Result{Record: handshake.PeerRecord{Overlay: overlay}, IsFullNode: true}

	if n.accounting.PeerCount() != 0 {
		t.Fatalf("expected no peers registered yet")
	}
	if err := n.admitAuthenticatedPeer(ctx, result, peer.ID("remote"), "127.0.0.1"); err != nil {
		t.Fatalf("admitAuthenticatedPeer: %v", err)
	}
	if n.accounting.PeerCount() != 1 {
		t.Fatalf("expected peer registered after admitAuthenticatedPeer")
	}

	handle, err := n.accounting.Handle(overlay)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if handle.Balance() != 0 {
		t.Fatalf("expected fresh balance of 0, got %d", handle.Balance())
	}
}

func TestOnPeerDisconnectedRemovesAccountingAndTopology(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newFakeHost()
	n, err := newNodeWithHost(ctx, cancel, h, Config{
		NetworkID: 1,
		Identity:  testIdentity(t),
	})
	if err != nil {
		t.Fatalf("newNodeWithHost: %v", err)
	}
	defer n.cancel()

	var overlay identity.OverlayAddress
	overlay[0] = 0xFF
	n.topology.AddPeers(overlay)
	n.topology.MarkConnected(overlay)
	n.accounting.Register(overlay, n.accounting.OurPaymentThresholdAU(), true)

	n.onPeerDisconnected(overlay)

	if n.topology.IsConnected(overlay) {
		t.Fatalf("expected overlay to be disconnected from topology")
	}
	if _, err := n.accounting.Handle(overlay); err == nil {
		t.Fatalf("expected accounting handle to be gone after disconnect")
	}
}

// TestAdmitAuthenticatedPeerRefusedBySaturatedTopology fills every out-of-
// neighborhood bin slot the admission gate allows, then verifies a further
// candidate in that same bin is refused and dropped back to Known rather
// than connected (spec §4.7 "pick", §7 BinSaturated).
func TestAdmitAuthenticatedPeerRefusedBySaturatedTopology(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newFakeHost()
	n, err := newNodeWithHost(ctx, cancel, h, Config{
		NetworkID:        1,
		Identity:         testIdentity(t),
		SaturationTarget: 1,
	})
	if err != nil {
		t.Fatalf("newNodeWithHost: %v", err)
	}
	defer n.cancel()

	// Flipping the local overlay's top bit guarantees proximity order 0
	// against both resident and candidate regardless of the randomly
	// generated local identity, putting both in the same bin.
	self := n.Overlay()
	resident := self
	resident[0] ^= 0x80
	n.topology.AddPeers(resident)
	n.topology.MarkConnected(resident)

	candidate := self
	candidate[0] ^= 0x80
	candidate[1] ^= 0x01
	result := handshake.Result{Record: handshake.PeerRecord{Overlay: candidate}, IsFullNode: true}

	err = n.admitAuthenticatedPeer(ctx, result, peer.ID("candidate"), "127.0.0.1")
	if err == nil {
		t.Fatalf("expected a saturated bin to refuse the candidate")
	}
	if n.topology.IsConnected(candidate) {
		t.Fatalf("refused candidate must not be marked connected")
	}
	if _, acctErr := n.accounting.Handle(candidate); acctErr == nil {
		t.Fatalf("refused candidate must not be registered with accounting")
	}
}

// TestTransmitSettlementSkipsNonPositiveAmounts confirms transmitSettlement
// never opens a stream for a zero or negative settled amount, since there
// is nothing to acknowledge.
func TestTransmitSettlementSkipsNonPositiveAmounts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newFakeHost()
	n, err := newNodeWithHost(ctx, cancel, h, Config{
		NetworkID: 1,
		Identity:  testIdentity(t),
	})
	if err != nil {
		t.Fatalf("newNodeWithHost: %v", err)
	}
	defer n.cancel()

	var overlay identity.OverlayAddress
	overlay[0] = 0x01
	if err := n.transmitSettlement(ctx, overlay, nil, 0); err != nil {
		t.Fatalf("expected no-op for zero settledAU, got %v", err)
	}
	if len(h.requestedPIDs) != 0 {
		t.Fatalf("expected no streams opened for a zero settlement")
	}
}
