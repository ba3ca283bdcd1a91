// Package hive implements the unidirectional peer-record gossip protocol
// (C9, spec §4.9): broadcasting up to 30 known peer records to a
// neighbor and verifying every inbound record's signature and overlay
// before it is handed to the routing table.
package hive

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"swarmnode/internal/identity"
	"swarmnode/internal/wire"
)

// MaxPeersPerMessage caps how many records a single Peers message may
// carry (spec §4.9).
const MaxPeersPerMessage = 30

// Source supplies the peer records this node knows about, for gossiping
// out to neighbors.
type Source interface {
	// KnownRecords returns up to max signed PeerRecords this node can
	// vouch for (typically its own record plus cached neighbor records).
	KnownRecords(max int) []wire.PeerRecord
}

// Sink receives verified peer records for insertion into the routing
// table (spec §4.9 "receiver verifies ... before adding to topology").
type Sink interface {
	AddPeers(overlays ...identity.OverlayAddress)
}

// ScoreReporter lets the hive penalize peers that send oversized or
// invalid gossip (spec §4.9 "score penalty on oversized/invalid
// records").
type ScoreReporter interface {
	RecordProtocolViolation(overlay identity.OverlayAddress)
}

// Hive sends and validates Peers gossip messages.
type Hive struct {
	source    Source
	sink      Sink
	scorer    ScoreReporter
	networkID uint64
}

// New constructs a Hive bound to networkID: every gossiped record is only
// considered valid if it recomputes to the claimed overlay under this
// network id. scorer may be nil if protocol-violation scoring is not
// wired up (e.g. in isolated tests).
func New(networkID uint64, source Source, sink Sink, scorer ScoreReporter) *Hive {
	return &Hive{networkID: networkID, source: source, sink: sink, scorer: scorer}
}

// BuildGossip assembles an outbound Peers message capped at
// MaxPeersPerMessage records (spec §4.9).
func (h *Hive) BuildGossip() wire.Peers {
	records := h.source.KnownRecords(MaxPeersPerMessage)
	if len(records) > MaxPeersPerMessage {
		records = records[:MaxPeersPerMessage]
	}
	return wire.Peers{Records: records}
}

// HandleGossip verifies every record in an inbound Peers message and adds
// the valid ones to the routing table. Invalid records are dropped and
// reported against senderOverlay's score; the whole message is rejected
// only if it exceeds the size cap, since that itself is a protocol
// violation by the sender (spec §4.9).
func (h *Hive) HandleGossip(senderOverlay identity.OverlayAddress, msg wire.Peers) error {
	if len(msg.Records) > MaxPeersPerMessage {
		h.reportViolation(senderOverlay)
		return fmt.Errorf("hive: peers message from %s exceeds %d records (got %d)", senderOverlay, MaxPeersPerMessage, len(msg.Records))
	}

	var accepted []identity.OverlayAddress
	for _, rec := range msg.Records {
		overlay, err := h.verifyRecord(rec)
		if err != nil {
			h.reportViolation(senderOverlay)
			continue
		}
		accepted = append(accepted, overlay)
	}
	if len(accepted) > 0 {
		h.sink.AddPeers(accepted...)
	}
	return nil
}

func (h *Hive) reportViolation(overlay identity.OverlayAddress) {
	if h.scorer != nil {
		h.scorer.RecordProtocolViolation(overlay)
	}
}

// verifyRecord recomputes the overlay from the record's claimed identity
// fields, confirms it matches the claimed overlay, and checks the
// signature over the same handshake digest the handshake itself signs
// (spec §4.9: "verifies every record's signature+recomputed overlay
// before adding to topology").
func (h *Hive) verifyRecord(rec wire.PeerRecord) (identity.OverlayAddress, error) {
	if len(rec.Overlay) != 32 {
		return identity.OverlayAddress{}, fmt.Errorf("hive: record overlay must be 32 bytes, got %d", len(rec.Overlay))
	}
	if len(rec.EthAddr) != 20 {
		return identity.OverlayAddress{}, fmt.Errorf("hive: record eth address must be 20 bytes, got %d", len(rec.EthAddr))
	}
	if len(rec.Multiaddrs) == 0 {
		return identity.OverlayAddress{}, fmt.Errorf("hive: record carries no listen addresses")
	}

	ethAddr := common.BytesToAddress(rec.EthAddr)
	recomputed := identity.Compute(ethAddr, h.networkID, rec.Nonce)

	var claimed identity.OverlayAddress
	copy(claimed[:], rec.Overlay)
	if recomputed != claimed {
		return identity.OverlayAddress{}, fmt.Errorf("hive: record overlay does not match recomputed value")
	}

	digest := identity.HandshakeDigest(rec.Multiaddrs, claimed, h.networkID)
	ok, err := identity.VerifySignature(digest, rec.Signature, ethAddr)
	if err != nil {
		return identity.OverlayAddress{}, fmt.Errorf("hive: verify record signature: %w", err)
	}
	if !ok {
		return identity.OverlayAddress{}, fmt.Errorf("hive: record signature does not match claimed address")
	}
	return claimed, nil
}
