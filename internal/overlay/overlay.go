// Package overlay reconciles the last known good on-chain reads with
// in-flight user intent, bridging the gap between submitting a transaction
// and the next successful poll without permanently diverging from chain
// truth.
package overlay

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/boro-labs/borod/internal/models"
)

var (
	// ErrIntentInFlight rejects a submission while another intent for the
	// same position is still pending or awaiting its receipt.
	ErrIntentInFlight = errors.New("another action is already in flight")
	// ErrNoPendingIntent signals a lifecycle call without a live intent.
	ErrNoPendingIntent = errors.New("no pending intent")
)

// Config carries the overlay's policy windows.
type Config struct {
	// ZeroDebtWindow bounds how long a confirmed full repay pins the
	// displayed debt to zero while stale reads may still report shares.
	ZeroDebtWindow time.Duration

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Overlay owns all mutable per-position display state. It is single-writer:
// the session's reconciliation logic mutates it, everything else reads
// copy-returning projections.
type Overlay struct {
	mu             sync.Mutex
	now            func() time.Time
	zeroDebtWindow time.Duration

	market   *models.MarketState
	position *models.PositionState

	collateralBalance   *big.Int
	loanBalance         *big.Int
	collateralAllowance *big.Int
	loanAllowance       *big.Int

	intent *models.Intent
	// approveLoan marks a live approve intent as targeting the loan token
	// rather than the collateral token.
	approveLoan bool

	// A non-nil pin is an active optimistic approval override for that
	// token, holding the amount the approval was attempted for.
	collateralPin *big.Int
	loanPin       *big.Int

	zeroDebtUntil time.Time
}

// New creates an overlay with the given policy windows.
func New(cfg Config) *Overlay {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ZeroDebtWindow <= 0 {
		cfg.ZeroDebtWindow = 15 * time.Second
	}
	return &Overlay{
		now:            cfg.Now,
		zeroDebtWindow: cfg.ZeroDebtWindow,
	}
}

// ObserveMarket records a fresh market read. A nil read (a failed or absent
// poll) keeps the previous snapshot so the display never flashes empty.
func (o *Overlay) ObserveMarket(m *models.MarketState) {
	if m == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.market = copyMarket(m)
}

// ObservePosition records a fresh position read, with the same anti-flash
// rule as ObserveMarket.
func (o *Overlay) ObservePosition(p *models.PositionState) {
	if p == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.position = copyPosition(p)
}

// ObserveBalances records wallet balance and allowance reads. Each argument
// is retained independently when nil. A real allowance read that covers the
// optimistically approved amount clears that token's approval override.
func (o *Overlay) ObserveBalances(collateralBalance, loanBalance, collateralAllowance, loanAllowance *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if collateralBalance != nil {
		o.collateralBalance = new(big.Int).Set(collateralBalance)
	}
	if loanBalance != nil {
		o.loanBalance = new(big.Int).Set(loanBalance)
	}
	if collateralAllowance != nil {
		o.collateralAllowance = new(big.Int).Set(collateralAllowance)
		if o.collateralPin != nil && o.collateralAllowance.Cmp(o.collateralPin) >= 0 {
			o.collateralPin = nil
		}
	}
	if loanAllowance != nil {
		o.loanAllowance = new(big.Int).Set(loanAllowance)
		if o.loanPin != nil && o.loanAllowance.Cmp(o.loanPin) >= 0 {
			o.loanPin = nil
		}
	}
}

// Market returns the last known good market read, or nil before the first
// successful poll.
func (o *Overlay) Market() *models.MarketState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyMarket(o.market)
}

// Position returns the last known good position read, or nil before the
// first successful poll.
func (o *Overlay) Position() *models.PositionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyPosition(o.position)
}

// CollateralBalance returns the last observed collateral-token wallet balance.
func (o *Overlay) CollateralBalance() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.collateralBalance == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(o.collateralBalance)
}

// LoanBalance returns the last observed loan-token wallet balance.
func (o *Overlay) LoanBalance() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.loanBalance == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(o.loanBalance)
}

// EffectiveBorrowShares is the debt-share balance the display should use:
// the last position read, overridden to zero while a confirmed full repay's
// bounded window is active. After the window expires the next real read is
// trusted unconditionally, even if it still reports nonzero.
func (o *Overlay) EffectiveBorrowShares() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.now().Before(o.zeroDebtUntil) {
		return new(big.Int)
	}
	if o.position == nil || o.position.BorrowShares == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(o.position.BorrowShares)
}

// DebtPinnedZero reports whether the full-repay override is active.
func (o *Overlay) DebtPinnedZero() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now().Before(o.zeroDebtUntil)
}

// CollateralAllowanceSufficient reports whether the required collateral
// spend is covered, either by the last real allowance read or by an
// optimistic approval override for at least the required amount. Raising
// the amount above what was approved supersedes the override.
func (o *Overlay) CollateralAllowanceSufficient(required *big.Int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return sufficient(o.collateralAllowance, o.collateralPin, required)
}

// LoanAllowanceSufficient is CollateralAllowanceSufficient for the loan
// token, which repay transfers in.
func (o *Overlay) LoanAllowanceSufficient(required *big.Int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return sufficient(o.loanAllowance, o.loanPin, required)
}

func sufficient(allowance, pin, required *big.Int) bool {
	if required == nil || required.Sign() <= 0 {
		return true
	}
	if allowance != nil && allowance.Cmp(required) >= 0 {
		return true
	}
	return pin != nil && required.Cmp(pin) <= 0
}

// Begin reserves the submission slot for a new intent. It fails while any
// intent is live, which is what disables duplicate submissions in the
// display layer. The intent stays in the pending state until a transaction
// hash exists.
func (o *Overlay) Begin(asset string, kind models.ActionKind, full bool, amount *big.Int) (*models.Intent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.intent.Live() {
		return nil, ErrIntentInFlight
	}
	intent := &models.Intent{
		ID:          uuid.NewString(),
		Asset:       asset,
		Kind:        kind,
		Full:        full,
		Status:      models.IntentPending,
		SubmittedAt: o.now(),
	}
	if amount != nil {
		intent.Amount = new(big.Int).Set(amount)
	}
	o.intent = intent
	o.approveLoan = false
	return copyIntent(intent), nil
}

// BeginApprove reserves the slot for an approval, recording which token it
// targets so confirmation pins the right allowance override.
func (o *Overlay) BeginApprove(asset string, loan bool, amount *big.Int) (*models.Intent, error) {
	intent, err := o.Begin(asset, models.ActionApprove, false, amount)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.approveLoan = loan
	o.mu.Unlock()
	return intent, nil
}

// Attach binds the wallet-produced transaction hash to the pending intent,
// moving it into the awaiting state.
func (o *Overlay) Attach(hash common.Hash) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.intent == nil || o.intent.Status != models.IntentPending {
		return ErrNoPendingIntent
	}
	o.intent.TxHash = hash
	o.intent.Status = models.IntentAwaiting
	return nil
}

// Abandon clears a pending intent for which the wallet never produced a
// hash. This is a no-op outcome, not a failure.
func (o *Overlay) Abandon() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.intent == nil || o.intent.Status != models.IntentPending {
		return
	}
	o.intent.Status = models.IntentAbandoned
	o.intent.SettledAt = o.now()
}

// Confirm settles the awaiting intent as confirmed and applies its
// optimistic effect: an approval pins the allowance check sufficient for the
// attempted amount, and a full repay pins displayed debt to zero for the
// bounded window. The settled intent is returned so the caller can clear
// inputs and schedule re-reads.
func (o *Overlay) Confirm() (*models.Intent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.intent == nil || o.intent.Status != models.IntentAwaiting {
		return nil, ErrNoPendingIntent
	}
	now := o.now()
	o.intent.Status = models.IntentConfirmed
	o.intent.SettledAt = now

	switch {
	case o.intent.Kind == models.ActionApprove:
		if o.intent.Amount != nil {
			if o.approveLoan {
				o.loanPin = new(big.Int).Set(o.intent.Amount)
			} else {
				o.collateralPin = new(big.Int).Set(o.intent.Amount)
			}
		}
	case o.intent.Kind == models.ActionRepay && o.intent.Full:
		o.zeroDebtUntil = now.Add(o.zeroDebtWindow)
	}
	return copyIntent(o.intent), nil
}

// Fail settles the awaiting intent as failed. No optimistic state changes;
// the slot is freed so the user may resubmit manually.
func (o *Overlay) Fail(reason string) (*models.Intent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.intent == nil || o.intent.Status != models.IntentAwaiting {
		return nil, ErrNoPendingIntent
	}
	o.intent.Status = models.IntentFailed
	o.intent.Reason = reason
	o.intent.SettledAt = o.now()
	return copyIntent(o.intent), nil
}

// Intent returns the latest intent (live or settled), or nil if none was
// ever submitted.
func (o *Overlay) Intent() *models.Intent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyIntent(o.intent)
}

func copyMarket(m *models.MarketState) *models.MarketState {
	if m == nil {
		return nil
	}
	out := *m
	out.TotalSupplyAssets = copyBig(m.TotalSupplyAssets)
	out.TotalSupplyShares = copyBig(m.TotalSupplyShares)
	out.TotalBorrowAssets = copyBig(m.TotalBorrowAssets)
	out.TotalBorrowShares = copyBig(m.TotalBorrowShares)
	out.LastUpdate = copyBig(m.LastUpdate)
	out.Fee = copyBig(m.Fee)
	return &out
}

func copyPosition(p *models.PositionState) *models.PositionState {
	if p == nil {
		return nil
	}
	out := *p
	out.SupplyShares = copyBig(p.SupplyShares)
	out.BorrowShares = copyBig(p.BorrowShares)
	out.Collateral = copyBig(p.Collateral)
	return &out
}

func copyIntent(i *models.Intent) *models.Intent {
	if i == nil {
		return nil
	}
	out := *i
	out.Amount = copyBig(i.Amount)
	return &out
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
