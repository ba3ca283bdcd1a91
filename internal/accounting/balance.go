package accounting

import (
	"fmt"
	"sync/atomic"
	"time"

	"swarmnode/internal/settlement"
)

// kind distinguishes a credit reservation (money owed to us growing) from a
// debit reservation (money we owe growing), since each is checked against a
// different threshold direction (spec §4.5).
type kind int

const (
	kindCredit kind = iota
	kindDebit
)

// reservationSeq hands out process-wide unique reservation ids; allocating
// it outside the spinlock keeps the critical section free of anything that
// could contend globally.
var reservationSeq uint64

// Reservation is a prepared, not-yet-applied transfer (spec §4.5
// "Prepare/apply transfer protocol"). It must be resolved exactly once,
// either via Apply or Release.
type Reservation struct {
	id     uint64
	kind   kind
	amount int64
}

// peerBalance is the per-peer ledger (spec §4.5 data model). balance is
// positive when the peer owes us, negative when we owe the peer — the
// reverse of the reference implementation's "remote view" convention is
// avoided by fixing this sign once here and never flipping it downstream.
type peerBalance struct {
	lock lock

	balance       int64
	reservedCredit int64
	reservedDebit  int64

	theirPaymentThresholdAU int64
	ourPaymentThresholdAU   int64

	lastSettlementUnixNano int64
	settling               int32 // atomic bool: settlement in flight

	provider settlement.Provider
	fullNode bool
}

// lock is a thin rename of spinlock kept distinct so balance.go reads
// independently of the lock's implementation.
type lock = spinlock

func newPeerBalance(theirThresholdAU, ourThresholdAU int64, provider settlement.Provider, fullNode bool) *peerBalance {
	return &peerBalance{
		theirPaymentThresholdAU: theirThresholdAU,
		ourPaymentThresholdAU:   ourThresholdAU,
		provider:                provider,
		fullNode:                fullNode,
	}
}

func nextReservationID() uint64 {
	return atomic.AddUint64(&reservationSeq, 1)
}

// disconnectThresholdAU returns their_threshold scaled by
// (1 + tolerance_percent/100), the point past which we drop the peer
// rather than keep extending credit (spec §4.5).
func disconnectThresholdAU(theirThresholdAU int64, tolerancePercent int) int64 {
	return theirThresholdAU + (theirThresholdAU*int64(tolerancePercent))/100
}

// snapshot is a point-in-time copy used for logging/introspection; it is
// read under the lock but never held onto across I/O.
type snapshot struct {
	BalanceAU        int64
	ReservedCreditAU int64
	ReservedDebitAU  int64
}

func (p *peerBalance) snapshot() snapshot {
	p.lock.lock()
	s := snapshot{BalanceAU: p.balance, ReservedCreditAU: p.reservedCredit, ReservedDebitAU: p.reservedDebit}
	p.lock.unlock()
	return s
}

// prepareCredit reserves amount AU of incoming credit (the peer will owe us
// more), refusing the reservation if projected balance would exceed
// disconnect_threshold in our favor (spec §4.5 step 1, §8 invariant 1: the
// balance is bounded on both sides, not just the debit side).
func (p *peerBalance) prepareCredit(amount int64, tolerancePercent int) (Reservation, error) {
	if amount <= 0 {
		return Reservation{}, fmt.Errorf("accounting: credit amount must be positive, got %d", amount)
	}

	disconnectAU := disconnectThresholdAU(p.ourPaymentThresholdAU, tolerancePercent)

	p.lock.lock()
	projectedCredit := p.balance + p.reservedCredit + amount
	if projectedCredit > disconnectAU {
		p.lock.unlock()
		return Reservation{}, ErrDisconnectThreshold
	}
	p.reservedCredit += amount
	p.lock.unlock()
	return Reservation{id: nextReservationID(), kind: kindCredit, amount: amount}, nil
}

// prepareDebit reserves amount AU of outgoing debit (we will owe the peer
// more), first applying any pseudosettle-style forgiveness accrued since
// the last check, then refusing the reservation if projected debt would
// exceed disconnect_threshold (spec §4.5, §8 invariant 1).
func (p *peerBalance) prepareDebit(now time.Time, amount int64, tolerancePercent, earlyPaymentPercent int) (Reservation, bool, error) {
	if amount <= 0 {
		return Reservation{}, false, fmt.Errorf("accounting: debit amount must be positive, got %d", amount)
	}

	disconnectAU := disconnectThresholdAU(p.theirPaymentThresholdAU, tolerancePercent)

	p.lock.lock()
	currentDebt := -p.balance
	if currentDebt > 0 && p.provider != nil {
		granted := p.provider.PreAllow(now, currentDebt)
		p.balance += granted
	}
	projectedDebt := -p.balance + p.reservedDebit + amount
	if projectedDebt > disconnectAU {
		p.lock.unlock()
		return Reservation{}, false, ErrDisconnectThreshold
	}
	p.reservedDebit += amount
	earlyPaymentAU := (p.theirPaymentThresholdAU * int64(earlyPaymentPercent)) / 100
	shouldSettle := projectedDebt >= earlyPaymentAU
	p.lock.unlock()

	return Reservation{id: nextReservationID(), kind: kindDebit, amount: amount}, shouldSettle, nil
}

// apply commits a prepared reservation into the balance (spec §4.5).
func (p *peerBalance) apply(r Reservation) {
	p.lock.lock()
	switch r.kind {
	case kindCredit:
		p.balance += r.amount
		p.reservedCredit -= r.amount
	case kindDebit:
		p.balance -= r.amount
		p.reservedDebit -= r.amount
	}
	p.lock.unlock()
}

// release discards a prepared reservation without moving the balance,
// used when the underlying transfer failed after prepare but before the
// data was actually sent/received (spec §4.5 "Failure semantics").
func (p *peerBalance) release(r Reservation) {
	p.lock.lock()
	switch r.kind {
	case kindCredit:
		p.reservedCredit -= r.amount
	case kindDebit:
		p.reservedDebit -= r.amount
	}
	p.lock.unlock()
}

// confirmPayment reduces the peer's owed balance by a verified incoming
// payment (spec §4.6), clamped so a payment can never push the balance past
// zero into debt we don't actually have.
func (p *peerBalance) confirmPayment(amountAU int64) {
	if amountAU <= 0 {
		return
	}
	p.lock.lock()
	if amountAU > p.balance {
		amountAU = p.balance
	}
	if amountAU > 0 {
		p.balance -= amountAU
	}
	p.lock.unlock()
}

// tryStartSettling claims the single-flight slot for this peer's
// settlement, reporting false if one is already running
// (spec §4.5/§5/§7 "SettlementInProgress").
func (p *peerBalance) tryStartSettling() bool {
	return atomic.CompareAndSwapInt32(&p.settling, 0, 1)
}

// clearSettling releases the single-flight slot.
func (p *peerBalance) clearSettling() {
	atomic.StoreInt32(&p.settling, 0)
}
