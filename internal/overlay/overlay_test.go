package overlay

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/boro-labs/borod/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestOverlay(window time.Duration) (*Overlay, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
	o := New(Config{ZeroDebtWindow: window, Now: clk.now})
	return o, clk
}

func position(shares, collateral int64) *models.PositionState {
	return &models.PositionState{
		MarketID:     common.HexToHash("0x01"),
		BorrowShares: big.NewInt(shares),
		Collateral:   big.NewInt(collateral),
	}
}

func submitted(t *testing.T, o *Overlay, kind models.ActionKind, full bool, amount *big.Int) {
	t.Helper()
	if _, err := o.Begin("cbBTC", kind, full, amount); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := o.Attach(common.HexToHash("0xabc")); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
}

func approved(t *testing.T, o *Overlay, loan bool, amount *big.Int) {
	t.Helper()
	if _, err := o.BeginApprove("cbBTC", loan, amount); err != nil {
		t.Fatalf("BeginApprove failed: %v", err)
	}
	if err := o.Attach(common.HexToHash("0xabc")); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
}

func TestAntiFlashRetainsLastRead(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)

	o.ObservePosition(position(500, 1000))
	o.ObservePosition(nil) // failed poll

	p := o.Position()
	if p == nil || p.BorrowShares.Cmp(big.NewInt(500)) != 0 {
		t.Fatal("failed poll must retain the last successful position read")
	}

	o.ObserveMarket(nil)
	if o.Market() != nil {
		t.Error("market must stay nil until a first successful read")
	}
}

func TestObserveBalancesIndependentRetention(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)

	o.ObserveBalances(big.NewInt(10), big.NewInt(20), big.NewInt(30), big.NewInt(40))
	o.ObserveBalances(nil, big.NewInt(25), nil, nil)

	if o.CollateralBalance().Cmp(big.NewInt(10)) != 0 {
		t.Error("nil collateral read must keep previous value")
	}
	if o.LoanBalance().Cmp(big.NewInt(25)) != 0 {
		t.Error("fresh loan read must replace previous value")
	}
	if !o.CollateralAllowanceSufficient(big.NewInt(30)) || o.CollateralAllowanceSufficient(big.NewInt(31)) {
		t.Error("nil collateral allowance read must keep previous value")
	}
	if !o.LoanAllowanceSufficient(big.NewInt(40)) || o.LoanAllowanceSufficient(big.NewInt(41)) {
		t.Error("nil loan allowance read must keep previous value")
	}
}

func TestFullRepayPinsDebtZeroWithinWindow(t *testing.T) {
	o, clk := newTestOverlay(15 * time.Second)
	o.ObservePosition(position(500, 1000))

	submitted(t, o, models.ActionRepay, true, big.NewInt(999))
	if _, err := o.Confirm(); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	// A stale read inside the window still reports shares; display must be 0.
	o.ObservePosition(position(500, 1000))
	if o.EffectiveBorrowShares().Sign() != 0 {
		t.Error("debt must be pinned to zero inside the repay window")
	}
	if !o.DebtPinnedZero() {
		t.Error("DebtPinnedZero must report the active window")
	}

	clk.advance(14 * time.Second)
	if o.EffectiveBorrowShares().Sign() != 0 {
		t.Error("window must still be active at 14s")
	}
}

func TestFullRepayWindowExpiryTrustsReads(t *testing.T) {
	o, clk := newTestOverlay(15 * time.Second)
	o.ObservePosition(position(500, 1000))

	submitted(t, o, models.ActionRepay, true, nil)
	if _, err := o.Confirm(); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	clk.advance(16 * time.Second)

	// Even an (incorrect) nonzero read is trusted after expiry.
	o.ObservePosition(position(7, 1000))
	if o.EffectiveBorrowShares().Cmp(big.NewInt(7)) != 0 {
		t.Error("reads after window expiry must be trusted unconditionally")
	}
	if o.DebtPinnedZero() {
		t.Error("override must be dropped after the window")
	}
}

func TestPartialRepayDoesNotPinDebt(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)
	o.ObservePosition(position(500, 1000))

	submitted(t, o, models.ActionRepay, false, big.NewInt(100))
	if _, err := o.Confirm(); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if o.EffectiveBorrowShares().Cmp(big.NewInt(500)) != 0 {
		t.Error("partial repay must not pin debt to zero")
	}
}

func TestApprovalOverrideLifecycle(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)
	required := big.NewInt(1000)

	if o.CollateralAllowanceSufficient(required) {
		t.Fatal("no allowance observed yet, must be insufficient")
	}

	approved(t, o, false, required)
	if _, err := o.Confirm(); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	// Optimistic: sufficient before any read catches up.
	if !o.CollateralAllowanceSufficient(required) {
		t.Error("confirmed approval must pin allowance sufficient")
	}
	if !o.CollateralAllowanceSufficient(big.NewInt(400)) {
		t.Error("smaller amounts are covered by the override")
	}

	// Raising the amount supersedes the override.
	if o.CollateralAllowanceSufficient(big.NewInt(2000)) {
		t.Error("an amount above the approved one needs a fresh approval")
	}

	// A real allowance read covering the amount clears the pin; the real
	// value then governs.
	o.ObserveBalances(nil, nil, big.NewInt(1500), nil)
	if !o.CollateralAllowanceSufficient(required) {
		t.Error("real allowance covers the requirement")
	}
	o.ObserveBalances(nil, nil, big.NewInt(1), nil)
	if o.CollateralAllowanceSufficient(required) {
		t.Error("after the pin is cleared, a shrunk real allowance governs")
	}
}

func TestLoanApprovalOverrideIndependent(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)
	required := big.NewInt(500_000)

	if o.LoanAllowanceSufficient(required) {
		t.Fatal("no loan allowance observed yet, must be insufficient")
	}

	approved(t, o, true, required)
	if _, err := o.Confirm(); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	if !o.LoanAllowanceSufficient(required) {
		t.Error("confirmed loan approval must pin loan allowance sufficient")
	}
	// The collateral side is untouched by a loan-token approval.
	if o.CollateralAllowanceSufficient(required) {
		t.Error("loan approval must not pin the collateral allowance")
	}

	// A real loan allowance read covering the amount clears the pin.
	o.ObserveBalances(nil, nil, nil, big.NewInt(600_000))
	if !o.LoanAllowanceSufficient(required) {
		t.Error("real loan allowance covers the requirement")
	}
	o.ObserveBalances(nil, nil, nil, big.NewInt(1))
	if o.LoanAllowanceSufficient(required) {
		t.Error("after the pin is cleared, a shrunk real allowance governs")
	}
}

func TestAllowanceSufficientZeroRequired(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)
	if !o.CollateralAllowanceSufficient(nil) || !o.CollateralAllowanceSufficient(big.NewInt(0)) {
		t.Error("zero required spend never needs approval")
	}
	if !o.LoanAllowanceSufficient(nil) || !o.LoanAllowanceSufficient(big.NewInt(0)) {
		t.Error("zero required loan spend never needs approval")
	}
}

func TestDuplicateSubmissionLocked(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)

	if _, err := o.Begin("cbBTC", models.ActionBorrow, false, big.NewInt(1)); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := o.Begin("cbBTC", models.ActionSupply, false, big.NewInt(1)); err != ErrIntentInFlight {
		t.Fatalf("second Begin = %v, want ErrIntentInFlight", err)
	}

	// Still locked after a hash exists.
	if err := o.Attach(common.HexToHash("0xabc")); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if _, err := o.Begin("cbBTC", models.ActionSupply, false, big.NewInt(1)); err != ErrIntentInFlight {
		t.Fatalf("Begin while awaiting = %v, want ErrIntentInFlight", err)
	}
}

func TestAbandonBeforeHashIsNoOp(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)

	if _, err := o.Begin("cbBTC", models.ActionBorrow, false, big.NewInt(1)); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	o.Abandon()

	got := o.Intent()
	if got.Status != models.IntentAbandoned {
		t.Errorf("intent status = %v, want abandoned", got.Status)
	}

	// The slot is free again.
	if _, err := o.Begin("cbBTC", models.ActionBorrow, false, big.NewInt(1)); err != nil {
		t.Errorf("Begin after abandon failed: %v", err)
	}
}

func TestAbandonAfterHashIgnored(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)
	submitted(t, o, models.ActionBorrow, false, big.NewInt(1))

	o.Abandon()
	if got := o.Intent(); got.Status != models.IntentAwaiting {
		t.Errorf("abandon with a hash attached must be ignored, status = %v", got.Status)
	}
}

func TestFailReturnsToIdleWithoutOptimism(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)
	o.ObservePosition(position(500, 1000))

	submitted(t, o, models.ActionRepay, true, nil)
	settled, err := o.Fail("execution reverted")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if settled.Status != models.IntentFailed || settled.Reason != "execution reverted" {
		t.Errorf("settled intent = %+v, want failed with reason", settled)
	}

	if o.EffectiveBorrowShares().Sign() == 0 {
		t.Error("a failed full repay must not pin debt to zero")
	}
	if _, err := o.Begin("cbBTC", models.ActionRepay, true, nil); err != nil {
		t.Errorf("Begin after failure must be allowed: %v", err)
	}
}

func TestConfirmRequiresAwaiting(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)
	if _, err := o.Confirm(); err != ErrNoPendingIntent {
		t.Errorf("Confirm with no intent = %v, want ErrNoPendingIntent", err)
	}
	if _, err := o.Begin("cbBTC", models.ActionSupply, false, big.NewInt(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Confirm(); err != ErrNoPendingIntent {
		t.Errorf("Confirm before Attach = %v, want ErrNoPendingIntent", err)
	}
}

func TestProjectionsAreCopies(t *testing.T) {
	o, _ := newTestOverlay(15 * time.Second)
	o.ObservePosition(position(500, 1000))

	p := o.Position()
	p.BorrowShares.SetInt64(9999)

	if o.Position().BorrowShares.Cmp(big.NewInt(500)) != 0 {
		t.Error("mutating a projection must not affect overlay state")
	}
}
