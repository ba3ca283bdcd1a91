package accounting

import (
	"context"
	"testing"
	"time"

	"swarmnode/internal/identity"
	"swarmnode/internal/settlement"
)

func testOverlay(b byte) identity.OverlayAddress {
	var o identity.OverlayAddress
	o[0] = b
	return o
}

func TestPrepareApplyCreditIncreasesBalance(t *testing.T) {
	a := New(Config{OurPaymentThresholdAU: 1_000_000})
	h := a.Register(testOverlay(1), 1_000_000, true)

	r, err := h.PrepareCredit(500)
	if err != nil {
		t.Fatalf("prepare credit: %v", err)
	}
	if bal := h.Balance(); bal != 0 {
		t.Fatalf("balance should be unchanged before apply, got %d", bal)
	}
	h.Apply(r)
	if bal := h.Balance(); bal != 500 {
		t.Fatalf("balance after apply = %d, want 500", bal)
	}
}

func TestPrepareDebitRefusedPastDisconnectThreshold(t *testing.T) {
	a := New(Config{OurPaymentThresholdAU: 1_000_000})
	h := a.Register(testOverlay(2), 1000, true) // their threshold tiny on purpose

	_, _, err := h.PrepareDebit(2000) // 2000 > 1000*1.10 disconnect threshold
	if err != ErrDisconnectThreshold {
		t.Fatalf("expected ErrDisconnectThreshold, got %v", err)
	}
}

func TestPrepareCreditRefusedPastDisconnectThreshold(t *testing.T) {
	a := New(Config{OurPaymentThresholdAU: 1000}) // our threshold tiny on purpose
	h := a.Register(testOverlay(4), 1_000_000, true)

	_, err := h.PrepareCredit(2000) // 2000 > 1000*1.10 disconnect threshold
	if err != ErrDisconnectThreshold {
		t.Fatalf("expected ErrDisconnectThreshold, got %v", err)
	}
	if bal, reservedCredit, _ := h.Snapshot(); bal != 0 || reservedCredit != 0 {
		t.Fatalf("refused reservation must not move balance or reservedCredit, got bal=%d reservedCredit=%d", bal, reservedCredit)
	}
}

func TestReleaseDoesNotMoveBalance(t *testing.T) {
	a := New(Config{OurPaymentThresholdAU: 1_000_000})
	h := a.Register(testOverlay(3), 1_000_000, true)

	r, _, err := h.PrepareDebit(100)
	if err != nil {
		t.Fatalf("prepare debit: %v", err)
	}
	h.Release(r)
	if bal := h.Balance(); bal != 0 {
		t.Fatalf("balance should be unchanged after release, got %d", bal)
	}
	_, _, reservedDebit := h.Snapshot()
	if reservedDebit != 0 {
		t.Fatalf("reserved debit should be cleared after release, got %d", reservedDebit)
	}
}

func TestPrepareDebitTriggersEarlyPayment(t *testing.T) {
	a := New(Config{OurPaymentThresholdAU: 1_000_000, EarlyPaymentPercent: 50})
	h := a.Register(testOverlay(4), 1000, true)

	_, triggered, err := h.PrepareDebit(600) // crosses the 50% (500 AU) early-payment line
	if err != nil {
		t.Fatalf("prepare debit: %v", err)
	}
	if !triggered {
		t.Fatalf("expected settlement trigger once projected debt crosses the early-payment line")
	}
}

func TestSettleDischargesDebtViaProvider(t *testing.T) {
	a := New(Config{
		OurPaymentThresholdAU: 1_000_000,
		NewProvider: func(identity.OverlayAddress, bool) settlement.Provider {
			return stubProvider{settleAmount: 300}
		},
	})
	h := a.Register(testOverlay(5), 1_000_000, true)

	r, _, err := h.PrepareDebit(300)
	if err != nil {
		t.Fatalf("prepare debit: %v", err)
	}
	h.Apply(r)
	if bal := h.Balance(); bal != -300 {
		t.Fatalf("balance after debit = %d, want -300", bal)
	}

	settled, err := h.Settle(context.Background())
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled != 300 {
		t.Fatalf("settled = %d, want 300", settled)
	}
	if bal := h.Balance(); bal != 0 {
		t.Fatalf("balance after settle = %d, want 0", bal)
	}
}

func TestSettleSingleFlightPerPeer(t *testing.T) {
	a := New(Config{
		OurPaymentThresholdAU: 1_000_000,
		NewProvider: func(identity.OverlayAddress, bool) settlement.Provider {
			return stubProvider{settleAmount: 100}
		},
	})
	h := a.Register(testOverlay(6), 1_000_000, true)
	r, _, _ := h.PrepareDebit(100)
	h.Apply(r)

	h.peer.settling = 1 // simulate a settlement already in flight
	_, err := h.Settle(context.Background())
	if err != settlement.ErrInProgress {
		t.Fatalf("expected ErrInProgress, got %v", err)
	}
}

type stubProvider struct {
	settleAmount int64
}

func (stubProvider) PreAllow(_ time.Time, _ int64) int64 {
	return 0
}

func (s stubProvider) Settle(_ context.Context, debtAU int64) (int64, error) {
	if s.settleAmount > debtAU {
		return debtAU, nil
	}
	return s.settleAmount, nil
}

func (stubProvider) Name() string { return "stub" }
