package accounting

import (
	"context"
	"time"

	"swarmnode/internal/identity"
)

// Handle is the per-peer accounting API handed to protocol handlers (spec
// §6 "Accounting::peer_handle"). It never exposes the lock or the raw
// ledger directly — every method either is lock-free/short-spinlocked or
// explicitly documented as doing I/O.
type Handle struct {
	overlay identity.OverlayAddress
	acc     *Accounting
	peer    *peerBalance
}

// Balance returns the current signed balance in AU. Positive: the peer
// owes us. Negative: we owe the peer.
func (h *Handle) Balance() int64 {
	return h.peer.snapshot().BalanceAU
}

// Snapshot returns balance and in-flight reservation totals.
func (h *Handle) Snapshot() (balanceAU, reservedCreditAU, reservedDebitAU int64) {
	s := h.peer.snapshot()
	return s.BalanceAU, s.ReservedCreditAU, s.ReservedDebitAU
}

// PrepareCredit reserves amount AU we expect to receive from the peer for
// serving a request (spec §4.5). Hot path: lock-free aside from the short
// spinlock section, no I/O, no allocation beyond the returned value. Refused
// with ErrDisconnectThreshold if granting it would push the balance past the
// disconnect threshold in our favor.
func (h *Handle) PrepareCredit(amountAU int64) (Reservation, error) {
	return h.peer.prepareCredit(amountAU, h.acc.disconnectTolerancePercent)
}

// PrepareDebit reserves amount AU we will owe the peer for a request we are
// forwarding or retrieving (spec §4.5). If the reservation crosses
// early_payment_percent of their_payment_threshold, triggerSettle reports
// that the caller should invoke Settle asynchronously — settlement itself
// never runs inline on this path.
func (h *Handle) PrepareDebit(amountAU int64) (r Reservation, triggerSettle bool, err error) {
	return h.peer.prepareDebit(time.Now(), amountAU, h.acc.disconnectTolerancePercent, h.acc.earlyPaymentPercent)
}

// Apply commits a previously prepared reservation once the corresponding
// transfer has actually completed.
func (h *Handle) Apply(r Reservation) {
	h.peer.apply(r)
}

// Release discards a previously prepared reservation because the transfer
// it was guarding never completed (spec §4.5 "Failure semantics").
func (h *Handle) Release(r Reservation) {
	h.peer.release(r)
}

// Settle attempts to discharge outstanding debt via this peer's settlement
// provider (spec §4.5, §4.6), blocking until the provider and any configured
// transmit have finished, and returns the settled amount. It is safe to call
// concurrently; only one settlement per peer runs at a time
// (SettlementInProgress, spec §4.5/§5/§7) and extra calls made while one is
// in flight return settlement.ErrInProgress immediately without blocking.
func (h *Handle) Settle(ctx context.Context) (int64, error) {
	return h.acc.settle(ctx, h.overlay, h.peer)
}

// ConfirmPayment is the receiving side's counterpart to Settle: it records
// that the peer has transmitted and we have verified a payment of amountAU,
// reducing the peer's owed balance toward zero (spec §4.6 "on peer
// acknowledgement reduces our debt" — from the payer's perspective this is
// the payee's acknowledgement path). Never reduces the balance by more than
// is actually owed.
func (h *Handle) ConfirmPayment(amountAU int64) {
	h.peer.confirmPayment(amountAU)
}

// Overlay returns the peer this handle is bound to.
func (h *Handle) Overlay() identity.OverlayAddress { return h.overlay }
