package settlement

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"

	"swarmnode/internal/wire"
)

// Pseudosettle forgives debt over time at a fixed rate instead of moving
// real value (spec §4.6 "pseudosettle"): refresh_rate_AU_per_sec, divided
// by LightNodeDivisor for light nodes that do not carry storage
// responsibility.
type Pseudosettle struct {
	refreshRateAUPerSec int64
	lastRefreshUnixNano int64 // atomic
}

// DefaultRefreshRateAUPerSec is the full-node pseudosettle allowance rate
// (spec §4.6).
const DefaultRefreshRateAUPerSec = 4_500_000

// LightNodeDivisor scales the refresh rate down for light nodes (spec §4.6).
const LightNodeDivisor = 10

// NewPseudosettle constructs a Pseudosettle provider. fullNode selects
// between the full and light refresh rate; now is the construction time
// used to seed the refresh clock.
func NewPseudosettle(fullNode bool, now time.Time) *Pseudosettle {
	rate := int64(DefaultRefreshRateAUPerSec)
	if !fullNode {
		rate /= LightNodeDivisor
	}
	return &Pseudosettle{
		refreshRateAUPerSec: rate,
		lastRefreshUnixNano: now.UnixNano(),
	}
}

// PreAllow grants allowance*elapsed_seconds of forgiveness against debtAU,
// never more than the outstanding debt. It is a pure arithmetic
// compare-and-swap loop: no I/O, no allocation, safe to call from the
// accounting hot path (spec §9).
func (p *Pseudosettle) PreAllow(now time.Time, debtAU int64) int64 {
	if debtAU <= 0 {
		return 0
	}
	for {
		last := atomic.LoadInt64(&p.lastRefreshUnixNano)
		elapsed := now.UnixNano() - last
		if elapsed <= 0 {
			return 0
		}
		granted := (p.refreshRateAUPerSec * elapsed) / int64(time.Second)
		if granted <= 0 {
			return 0
		}
		if granted > debtAU {
			granted = debtAU
		}
		if atomic.CompareAndSwapInt64(&p.lastRefreshUnixNano, last, now.UnixNano()) {
			return granted
		}
		// lost the race to a concurrent refresh; retry with fresh clock state
	}
}

// Settle discharges up to debtAU of debt by evaluating the allowance
// accrued since the last refresh at the current wall-clock time;
// pseudosettle has no counterparty round trip, so settlement is simply a
// PreAllow call made outside the regular transfer-gate cadence.
func (p *Pseudosettle) Settle(_ context.Context, debtAU int64) (int64, error) {
	return p.PreAllow(time.Now(), debtAU), nil
}

func (p *Pseudosettle) Name() string { return "pseudosettle" }

// SendPayment notifies the peer of a pseudosettle-discharged amount and
// blocks for its acknowledgement (spec §4.6, §6
// "/swarm/pseudosettle/1.0.0/pseudosettle"): the allowance itself is granted
// purely locally by PreAllow, but the counterparty's own ledger (where this
// node is the debtor) only reduces once it has acknowledged the payment.
func SendPayment(f *wire.Framer, amountAU int64) error {
	msg := wire.Payment{Amount: wire.EncodeU256(uint256.NewInt(uint64(amountAU)))}
	if err := f.WriteMsg(msg.Encode()); err != nil {
		return fmt.Errorf("settlement: write payment: %w", err)
	}
	raw, err := f.ReadMsg()
	if err != nil {
		return fmt.Errorf("settlement: read payment ack: %w", err)
	}
	ack, err := wire.DecodePaymentAck(raw)
	if err != nil {
		return fmt.Errorf("settlement: decode payment ack: %w", err)
	}
	ackAmount, err := wire.DecodeU256(ack.Amount)
	if err != nil {
		return fmt.Errorf("settlement: decode payment ack amount: %w", err)
	}
	if ackAmount.Uint64() != uint64(amountAU) {
		return fmt.Errorf("settlement: payment ack amount %d != sent %d", ackAmount.Uint64(), amountAU)
	}
	return nil
}

// ServePayment reads an inbound pseudosettle payment notification, hands the
// amount to confirm (normally accounting.Handle.ConfirmPayment) so the
// receiver's ledger reflects it, and acknowledges.
func ServePayment(f *wire.Framer, confirm func(amountAU int64)) error {
	raw, err := f.ReadMsg()
	if err != nil {
		return fmt.Errorf("settlement: read payment: %w", err)
	}
	payment, err := wire.DecodePayment(raw)
	if err != nil {
		return fmt.Errorf("settlement: decode payment: %w", err)
	}
	amount, err := wire.DecodeU256(payment.Amount)
	if err != nil {
		return fmt.Errorf("settlement: decode payment amount: %w", err)
	}
	confirm(int64(amount.Uint64()))

	ack := wire.PaymentAck{Amount: payment.Amount, TimestampNano: time.Now().UnixNano()}
	if err := f.WriteMsg(ack.Encode()); err != nil {
		return fmt.Errorf("settlement: write payment ack: %w", err)
	}
	return nil
}
