// Package accounting implements the per-peer balance engine (C5, spec
// §4.5): two-phase prepare/apply/release reservations on a lock-free hot
// path, payment-threshold bookkeeping, and dispatch into the pluggable
// settlement providers (internal/settlement) once a peer's debt crosses
// early_payment_percent of their announced threshold.
package accounting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swarmnode/internal/identity"
	"swarmnode/internal/settlement"
)

// DefaultDisconnectTolerancePercent is how far past their_payment_threshold
// we allow debt to grow before refusing further debits (spec §4.5).
const DefaultDisconnectTolerancePercent = 10

// DefaultEarlyPaymentPercent is the fraction of their_payment_threshold at
// which settlement is triggered proactively, before the hard threshold is
// reached (spec §4.5).
const DefaultEarlyPaymentPercent = 50

// ProviderFactory constructs the settlement provider for a newly
// registered peer. Accounting does not know about pseudosettle/swap/none
// directly — it only calls through settlement.Provider — so the embedder
// decides provider composition per peer (e.g. light nodes only ever get
// pseudosettle, spec §4.6).
type ProviderFactory func(overlay identity.OverlayAddress, fullNode bool) settlement.Provider

// TransmitFunc carries a computed settlement amount across the wire and
// blocks until the peer acknowledges it (spec §4.6 "on peer acknowledgement
// reduces our debt"). Accounting is transport-agnostic by design, so this
// hook is the only point where the embedder (swarmnode.Node) may reach out
// to the network on Accounting's behalf; a nil Transmit applies settledAU
// locally without waiting on anything, which is what every pre-existing
// test exercises.
type TransmitFunc func(ctx context.Context, overlay identity.OverlayAddress, provider settlement.Provider, settledAU int64) error

// Config configures an Accounting instance (spec §4.5, §6).
type Config struct {
	DisconnectTolerancePercent int
	EarlyPaymentPercent        int
	OurPaymentThresholdAU      int64
	NewProvider                ProviderFactory
	Transmit                   TransmitFunc
}

// Accounting owns the per-peer ledgers and mediates settlement dispatch.
// The peers map is guarded by a normal RWMutex since peer registration and
// removal are cold-path operations; the hot path (prepare/apply/release)
// only ever touches a single already-resolved *peerBalance and never takes
// this lock.
type Accounting struct {
	mu    sync.RWMutex
	peers map[identity.OverlayAddress]*peerBalance

	disconnectTolerancePercent int
	earlyPaymentPercent        int
	ourPaymentThresholdAU      int64
	newProvider                ProviderFactory
	transmit                   TransmitFunc
}

// New constructs an Accounting instance, defaulting unset Config fields to
// the spec's published defaults.
func New(cfg Config) *Accounting {
	if cfg.DisconnectTolerancePercent == 0 {
		cfg.DisconnectTolerancePercent = DefaultDisconnectTolerancePercent
	}
	if cfg.EarlyPaymentPercent == 0 {
		cfg.EarlyPaymentPercent = DefaultEarlyPaymentPercent
	}
	if cfg.NewProvider == nil {
		cfg.NewProvider = func(identity.OverlayAddress, bool) settlement.Provider { return settlement.None{} }
	}
	return &Accounting{
		peers:                      make(map[identity.OverlayAddress]*peerBalance),
		disconnectTolerancePercent: cfg.DisconnectTolerancePercent,
		earlyPaymentPercent:        cfg.EarlyPaymentPercent,
		ourPaymentThresholdAU:      cfg.OurPaymentThresholdAU,
		newProvider:                cfg.NewProvider,
		transmit:                   cfg.Transmit,
	}
}

// Register creates accounting state for a newly authenticated peer (spec
// §4.5; internal/swarmnode calls it from admitAuthenticatedPeer once the
// pricing exchange has run). theirThresholdAU is the payment threshold the
// peer announced during the pricing protocol.
func (a *Accounting) Register(overlay identity.OverlayAddress, theirThresholdAU int64, fullNode bool) *Handle {
	provider := a.newProvider(overlay, fullNode)

	a.mu.Lock()
	pb, exists := a.peers[overlay]
	if !exists {
		pb = newPeerBalance(theirThresholdAU, a.ourPaymentThresholdAU, provider, fullNode)
		a.peers[overlay] = pb
	}
	a.mu.Unlock()

	return &Handle{overlay: overlay, acc: a, peer: pb}
}

// Deregister drops a peer's accounting state (spec §6
// "PeerManager::on_peer_disconnected"). Any in-flight reservations for the
// peer become orphaned by design — the caller is expected to have already
// drained the peer's protocol handlers before disconnect.
func (a *Accounting) Deregister(overlay identity.OverlayAddress) {
	a.mu.Lock()
	delete(a.peers, overlay)
	a.mu.Unlock()
}

// Handle returns the accounting handle for an already-registered peer.
func (a *Accounting) Handle(overlay identity.OverlayAddress) (*Handle, error) {
	a.mu.RLock()
	pb, ok := a.peers[overlay]
	a.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownPeer
	}
	return &Handle{overlay: overlay, acc: a, peer: pb}, nil
}

// settle runs the peer's settlement provider against its current debt. Only
// one settlement per peer is ever in flight (spec §4.5
// "SettlementInProgress"); concurrent callers get settlement.ErrInProgress
// immediately rather than queuing. If Transmit is configured, the computed
// settledAU is only applied to the balance once the peer has acknowledged it
// over the wire (spec §4.6); a failed transmission leaves the balance
// untouched so the debt can be retried on the next Settle call.
func (a *Accounting) settle(ctx context.Context, overlay identity.OverlayAddress, pb *peerBalance) (int64, error) {
	if !pb.tryStartSettling() {
		return 0, settlement.ErrInProgress
	}
	defer pb.clearSettling()

	s := pb.snapshot()
	debt := -s.BalanceAU
	if debt <= 0 {
		return 0, nil
	}
	if pb.provider == nil {
		return 0, fmt.Errorf("accounting: peer %s has no settlement provider configured", overlay)
	}

	settledAU, err := pb.provider.Settle(ctx, debt)
	if err != nil {
		return settledAU, fmt.Errorf("accounting: settle peer %s: %w", overlay, err)
	}

	if a.transmit != nil {
		if err := a.transmit(ctx, overlay, pb.provider, settledAU); err != nil {
			return 0, fmt.Errorf("accounting: transmit settlement to peer %s: %w", overlay, err)
		}
	}

	pb.lock.lock()
	pb.balance += settledAU
	pb.lastSettlementUnixNano = time.Now().UnixNano()
	pb.lock.unlock()
	return settledAU, nil
}

// OurPaymentThresholdAU returns the threshold this node announces to
// peers via the pricing protocol (spec §4.5, §6). internal/swarmnode also
// registers a peer with it when the pricing exchange with that peer fails.
func (a *Accounting) OurPaymentThresholdAU() int64 {
	return a.ourPaymentThresholdAU
}

// PeerCount reports how many peers currently have accounting state.
func (a *Accounting) PeerCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.peers)
}
