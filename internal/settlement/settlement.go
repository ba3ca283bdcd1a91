// Package settlement implements the pluggable settlement providers (C6,
// spec §4.5-§4.6): none, pseudosettle (time-based allowance), swap
// (cryptographic cheque), and the composed "both" ordering. Every provider
// satisfies the same two-method contract so accounting can treat them
// uniformly (spec §4.5 "All providers implement the same two-method
// contract").
package settlement

import (
	"context"
	"errors"
	"time"
)

// ErrInProgress is returned when a second settlement is requested for a
// peer that already has one in flight (spec §4.5, §5, §7).
var ErrInProgress = errors.New("settlement: SettlementInProgress")

// Provider is the pluggable settlement contract. PreAllow is called
// synchronously on every transfer gate and must not block or allocate on
// its hot path (spec §9) — pseudosettle is the only provider that does
// real work there; none and swap return 0 immediately. Settle is invoked
// asynchronously on threshold breach.
type Provider interface {
	// PreAllow returns the credit (AU) this provider grants right now
	// against the given outstanding debt, given the current time.
	PreAllow(now time.Time, debtAU int64) int64

	// Settle attempts to discharge up to debtAU of debt and returns the
	// amount actually settled.
	Settle(ctx context.Context, debtAU int64) (settledAU int64, err error)

	// Name identifies the provider for logging/metrics.
	Name() string
}

// None never forgives debt and never settles; once a peer's debt reaches
// disconnect_threshold the transfer is refused and the peer is dropped
// (spec §4.5 "none").
type None struct{}

func (None) PreAllow(time.Time, int64) int64              { return 0 }
func (None) Settle(context.Context, int64) (int64, error) { return 0, nil }
func (None) Name() string                                 { return "none" }

// Composite runs pseudosettle before swap ("both" mode, spec §4.5): order
// matters because pseudosettle is free credit and must be applied before
// paid settlement.
type Composite struct {
	Pseudosettle Provider
	Swap         Provider
}

func (c *Composite) PreAllow(now time.Time, debtAU int64) int64 {
	return c.Pseudosettle.PreAllow(now, debtAU)
}

func (c *Composite) Settle(ctx context.Context, debtAU int64) (int64, error) {
	settled, err := c.Pseudosettle.Settle(ctx, debtAU)
	if err != nil {
		return settled, err
	}
	remaining := debtAU - settled
	if remaining <= 0 {
		return settled, nil
	}
	swapSettled, err := c.Swap.Settle(ctx, remaining)
	return settled + swapSettled, err
}

func (c *Composite) Name() string { return "both" }
