// Package handshake implements the three-message syn/synack/ack admission
// protocol (C3, spec §4.2): mutual authentication, network-id gating, and
// the NAT-hinting "observed underlay" exchange. It never uses the headers
// wrapper (spec §4.3) — the handshake is the one protocol that runs before
// any header exchange would make sense.
package handshake

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"swarmnode/internal/identity"
	"swarmnode/internal/wire"
)

// Direction distinguishes the dialing side from the listening side of a
// freshly established stream.
type Direction int

const (
	Dialer Direction = iota
	Listener
)

// Timeout is the end-to-end handshake deadline (spec §4.2, §5).
const Timeout = 15 * time.Second

// WelcomeMaxLen is the maximum welcome message length in characters
// (spec §4.2, §9 — the source's byte-vs-char ambiguity is resolved in favor
// of characters here).
const WelcomeMaxLen = 140

// PeerRecord is the authenticated result of a successful handshake
// (spec §3).
type PeerRecord struct {
	Overlay        identity.OverlayAddress
	EthAddress     common.Address
	Nonce          []byte
	ListenAddrs    [][]byte
	Signature      []byte
}

// Result is what a successful handshake produces for the caller to hand to
// the peer manager (spec §4.2).
type Result struct {
	Record      PeerRecord
	IsFullNode  bool
	Welcome     string
	NetworkID   uint64
	// ObservedUnderlay is the address the *other* side reports seeing us
	// at — the dialer learns it from SynAck, the listener from Syn. Empty
	// when the other side reported nothing.
	ObservedUnderlay []byte
}

// Stream is the minimal surface the handshake engine needs from a
// transport-provided duplex stream.
type Stream interface {
	io.ReadWriteCloser
}

// Config carries everything the handshake engine needs to produce and
// verify records, independent of the concrete transport.
type Config struct {
	Identity        *identity.Identity
	ListenAddrs     [][]byte
	Welcome         string
	NetworkID       uint64
	// ObservedPeerUnderlay is the dialer-only input: the address the
	// dialer observed the listener reachable at, forwarded as NAT
	// feedback in Syn (spec §4.2).
	ObservedPeerUnderlay []byte
}

// Run executes the handshake over stream in the given direction, enforcing
// the end-to-end Timeout.
func Run(ctx context.Context, stream Stream, dir Direction, cfg Config) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	done := make(chan struct{})
	var res Result
	var err error
	go func() {
		defer close(done)
		if dir == Dialer {
			res, err = runDialer(stream, cfg)
		} else {
			res, err = runListener(stream, cfg)
		}
	}()

	select {
	case <-done:
		return res, err
	case <-ctx.Done():
		_ = stream.Close()
		<-done // let the goroutine observe the closed stream and exit
		return Result{}, wrapErr(KindTimeout, ctx.Err())
	}
}

func runDialer(stream Stream, cfg Config) (Result, error) {
	f := wire.NewFramer(stream)
	defer f.Close()

	syn := wire.Syn{ObservedMultiaddr: cfg.ObservedPeerUnderlay}
	if err := f.WriteMsg(syn.Encode()); err != nil {
		return Result{}, wrapErr(KindIO, err)
	}

	raw, err := f.ReadMsg()
	if err != nil {
		return Result{}, wrapErr(KindIO, err)
	}
	synAck, err := wire.DecodeSynAck(raw)
	if err != nil {
		return Result{}, wrapErr(KindProtocol, err)
	}

	if err := verifySide(synAck.Record, synAck.NetworkID, cfg.NetworkID, synAck.Welcome); err != nil {
		if IsKind(err, KindNetworkIDMismatch) {
			// Still send our Ack so the listener sees the mismatch in our
			// network id instead of an I/O error on the closed stream.
			if rec, signErr := signOwnRecord(cfg); signErr == nil {
				ack := wire.Ack{Record: rec, NetworkID: cfg.NetworkID, FullNode: cfg.Identity.IsFullNode()}
				_ = f.WriteMsg(ack.Encode())
			}
		}
		return Result{}, err
	}

	ourRecord, err := signOwnRecord(cfg)
	if err != nil {
		return Result{}, wrapErr(KindIO, err)
	}
	ack := wire.Ack{
		Record:    ourRecord,
		NetworkID: cfg.NetworkID,
		FullNode:  cfg.Identity.IsFullNode(),
		Welcome:   cfg.Welcome,
	}
	if err := f.WriteMsg(ack.Encode()); err != nil {
		return Result{}, wrapErr(KindIO, err)
	}

	peerRecord, err := toPeerRecord(synAck.Record)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Record:           peerRecord,
		IsFullNode:       synAck.FullNode,
		Welcome:          synAck.Welcome,
		NetworkID:        synAck.NetworkID,
		ObservedUnderlay: synAck.ObservedUnderlayOfDialer,
	}, nil
}

func runListener(stream Stream, cfg Config) (Result, error) {
	f := wire.NewFramer(stream)
	defer f.Close()

	raw, err := f.ReadMsg()
	if err != nil {
		return Result{}, wrapErr(KindIO, err)
	}
	syn, err := wire.DecodeSyn(raw)
	if err != nil {
		return Result{}, wrapErr(KindProtocol, err)
	}

	ourRecord, err := signOwnRecord(cfg)
	if err != nil {
		return Result{}, wrapErr(KindIO, err)
	}
	synAck := wire.SynAck{
		ObservedUnderlayOfDialer: syn.ObservedMultiaddr,
		Record:                   ourRecord,
		NetworkID:                cfg.NetworkID,
		FullNode:                 cfg.Identity.IsFullNode(),
		Welcome:                  cfg.Welcome,
	}
	if err := f.WriteMsg(synAck.Encode()); err != nil {
		return Result{}, wrapErr(KindIO, err)
	}

	raw, err = f.ReadMsg()
	if err != nil {
		return Result{}, wrapErr(KindIO, err)
	}
	ack, err := wire.DecodeAck(raw)
	if err != nil {
		return Result{}, wrapErr(KindProtocol, err)
	}

	if err := verifySide(ack.Record, ack.NetworkID, cfg.NetworkID, ack.Welcome); err != nil {
		return Result{}, err
	}

	peerRecord, err := toPeerRecord(ack.Record)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Record:           peerRecord,
		IsFullNode:       ack.FullNode,
		Welcome:          ack.Welcome,
		NetworkID:        ack.NetworkID,
		ObservedUnderlay: syn.ObservedMultiaddr,
	}, nil
}

func signOwnRecord(cfg Config) (wire.PeerRecord, error) {
	digest := identity.HandshakeDigest(cfg.ListenAddrs, cfg.Identity.Overlay(), cfg.NetworkID)
	sig, err := cfg.Identity.Sign(digest)
	if err != nil {
		return wire.PeerRecord{}, err
	}
	overlay := cfg.Identity.Overlay()
	return wire.PeerRecord{
		Multiaddrs: cfg.ListenAddrs,
		Signature:  sig,
		Overlay:    overlay.Bytes(),
		Nonce:      cfg.Identity.Nonce(),
		EthAddr:    cfg.Identity.EthereumAddress().Bytes(),
	}, nil
}

// verifySide checks network id, welcome length, signature and overlay
// recomputation for a record received from the other side (spec §4.2,
// invariant 3 in spec §8).
func verifySide(rec wire.PeerRecord, peerNetworkID, ourNetworkID uint64, welcome string) error {
	if peerNetworkID != ourNetworkID {
		return wrapErr(KindNetworkIDMismatch, fmt.Errorf("peer network id %d != ours %d", peerNetworkID, ourNetworkID))
	}
	if len([]rune(welcome)) > WelcomeMaxLen {
		return wrapErr(KindWelcomeTooLong, fmt.Errorf("welcome is %d characters, max %d", len([]rune(welcome)), WelcomeMaxLen))
	}
	if len(rec.EthAddr) != 20 {
		return wrapErr(KindProtocol, fmt.Errorf("peer record has malformed ethereum address"))
	}
	if len(rec.Multiaddrs) == 0 {
		return wrapErr(KindProtocol, fmt.Errorf("peer record advertises no listen addresses"))
	}
	if len(rec.Overlay) != 32 {
		return wrapErr(KindProtocol, fmt.Errorf("peer record has malformed overlay"))
	}

	var overlay identity.OverlayAddress
	copy(overlay[:], rec.Overlay)
	ethAddr := common.BytesToAddress(rec.EthAddr)

	recomputed := identity.Compute(ethAddr, peerNetworkID, rec.Nonce)
	if recomputed != overlay {
		return wrapErr(KindOverlayMismatch, fmt.Errorf("recomputed overlay %s != declared %s", recomputed, overlay))
	}

	digest := identity.HandshakeDigest(rec.Multiaddrs, overlay, peerNetworkID)
	ok, err := identity.VerifySignature(digest, rec.Signature, ethAddr)
	if err != nil {
		return wrapErr(KindInvalidSignature, err)
	}
	if !ok {
		return wrapErr(KindInvalidSignature, fmt.Errorf("signature does not verify against declared ethereum address"))
	}
	return nil
}

func toPeerRecord(rec wire.PeerRecord) (PeerRecord, error) {
	var overlay identity.OverlayAddress
	copy(overlay[:], rec.Overlay)
	return PeerRecord{
		Overlay:     overlay,
		EthAddress:  common.BytesToAddress(rec.EthAddr),
		Nonce:       rec.Nonce,
		ListenAddrs: rec.Multiaddrs,
		Signature:   rec.Signature,
	}, nil
}
