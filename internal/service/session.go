// Package service coordinates chain reads, price reads, risk computation,
// and transaction submission for each tracked position.
package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/boro-labs/borod/internal/assets"
	"github.com/boro-labs/borod/internal/engine"
	"github.com/boro-labs/borod/internal/logger"
	"github.com/boro-labs/borod/internal/models"
	"github.com/boro-labs/borod/internal/morpho"
	"github.com/boro-labs/borod/internal/overlay"
)

var (
	// ErrAllowanceRequired means the action needs an ERC-20 approval first.
	ErrAllowanceRequired = errors.New("token approval required before this action")
	// ErrInsufficientBalance rejects an action the wallet cannot fund.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	// ErrDebtOutstanding blocks collateral withdrawal while debt remains.
	ErrDebtOutstanding = errors.New("repay outstanding debt before withdrawing collateral")
	// ErrNoPrice rejects USD-denominated actions before the first price read.
	ErrNoPrice = errors.New("no spot price available yet")
	// ErrAmountRequired rejects an action without a positive amount.
	ErrAmountRequired = errors.New("a positive amount is required")
	// ErrNoPosition means no market or position read has landed yet.
	ErrNoPosition = errors.New("position not loaded yet")
)

// ChainReader is the read surface of the chain client.
type ChainReader interface {
	Market(ctx context.Context, id common.Hash) (*models.MarketState, error)
	Position(ctx context.Context, id common.Hash, account common.Address) (*models.PositionState, error)
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// TxSubmitter is the write surface of the chain client.
type TxSubmitter interface {
	Approve(ctx context.Context, token common.Address) (common.Hash, error)
	SupplyCollateral(ctx context.Context, params morpho.MarketParams, assets *big.Int) (common.Hash, error)
	Borrow(ctx context.Context, params morpho.MarketParams, assets *big.Int) (common.Hash, error)
	RepayAssets(ctx context.Context, params morpho.MarketParams, assets *big.Int) (common.Hash, error)
	RepayShares(ctx context.Context, params morpho.MarketParams, shares *big.Int) (common.Hash, error)
	WithdrawCollateral(ctx context.Context, params morpho.MarketParams, assets *big.Int) (common.Hash, error)
	Wait(ctx context.Context, hash common.Hash) (bool, error)
}

// Store is the persistence surface the session writes through.
type Store interface {
	SaveMarketRead(asset string, m *models.MarketState) error
	SavePositionRead(asset string, p *models.PositionState) error
	AddRiskSnapshot(asset string, snap *models.RiskSnapshot) error
	SaveIntent(in *models.Intent) error
}

// Alerter is the notification surface. All methods tolerate being skipped
// when notifications are disabled.
type Alerter interface {
	HealthDegraded(asset string, snap *models.RiskSnapshot) error
	TxFailed(in *models.Intent) error
}

// SessionConfig carries the per-session knobs.
type SessionConfig struct {
	Asset   assets.Asset
	Account common.Address
	Meta    *morpho.MarketMeta

	// ReReadDelay is the pause before the follow-up read after a confirmed
	// transaction.
	ReReadDelay time.Duration
}

// Session tracks one collateral asset's market, position, and in-flight
// intent for a single account.
type Session struct {
	asset   assets.Asset
	account common.Address
	meta    *morpho.MarketMeta

	reader    ChainReader
	submitter TxSubmitter
	store     Store
	alerter   Alerter

	ov   *overlay.Overlay
	calc *engine.Calculator

	reReadDelay time.Duration

	mu           sync.Mutex
	spot         decimal.Decimal
	supplyUSD    decimal.Decimal
	borrowAmount decimal.Decimal
	lastHealth   models.HealthLabel
	hasHealth    bool
}

// NewSession wires a session from its collaborators. store and alerter may
// be nil; the session then skips persistence or notifications.
func NewSession(cfg SessionConfig, reader ChainReader, submitter TxSubmitter, store Store, alerter Alerter, ov *overlay.Overlay, calc *engine.Calculator) *Session {
	return &Session{
		asset:       cfg.Asset,
		account:     cfg.Account,
		meta:        cfg.Meta,
		reader:      reader,
		submitter:   submitter,
		store:       store,
		alerter:     alerter,
		ov:          ov,
		calc:        calc,
		reReadDelay: cfg.ReReadDelay,
	}
}

// Asset returns the session's collateral asset.
func (s *Session) Asset() assets.Asset {
	return s.asset
}

// Refresh performs one read cycle: market, position, wallet balances, and
// allowance. Individual read failures degrade to the last known good value
// through the overlay rather than failing the cycle outright; the first
// error is still returned for failure accounting.
func (s *Session) Refresh(ctx context.Context) error {
	var firstErr error

	market, err := s.reader.Market(ctx, s.meta.ID)
	if err != nil {
		logger.Warn("Market read failed for %s: %v", s.asset, err)
		firstErr = err
	} else {
		market.MaxLTV = s.meta.MaxLTV
		market.Oracle = s.meta.Params.Oracle
		market.IRM = s.meta.Params.Irm
		s.ov.ObserveMarket(market)
		if s.store != nil {
			if err := s.store.SaveMarketRead(s.asset.String(), market); err != nil {
				logger.Warn("Failed to persist market read for %s: %v", s.asset, err)
			}
		}
	}

	position, err := s.reader.Position(ctx, s.meta.ID, s.account)
	if err != nil {
		logger.Warn("Position read failed for %s: %v", s.asset, err)
		if firstErr == nil {
			firstErr = err
		}
	} else {
		s.ov.ObservePosition(position)
		if s.store != nil {
			if err := s.store.SavePositionRead(s.asset.String(), position); err != nil {
				logger.Warn("Failed to persist position read for %s: %v", s.asset, err)
			}
		}
	}

	collateralBalance, err := s.reader.BalanceOf(ctx, s.meta.Params.CollateralToken, s.account)
	if err != nil {
		logger.Warn("Collateral balance read failed for %s: %v", s.asset, err)
		collateralBalance = nil
		if firstErr == nil {
			firstErr = err
		}
	}
	loanBalance, err := s.reader.BalanceOf(ctx, s.meta.Params.LoanToken, s.account)
	if err != nil {
		logger.Warn("Loan balance read failed for %s: %v", s.asset, err)
		loanBalance = nil
		if firstErr == nil {
			firstErr = err
		}
	}
	collateralAllowance, err := s.reader.Allowance(ctx, s.meta.Params.CollateralToken, s.account, assets.MorphoBlue)
	if err != nil {
		logger.Warn("Collateral allowance read failed for %s: %v", s.asset, err)
		collateralAllowance = nil
		if firstErr == nil {
			firstErr = err
		}
	}
	loanAllowance, err := s.reader.Allowance(ctx, s.meta.Params.LoanToken, s.account, assets.MorphoBlue)
	if err != nil {
		logger.Warn("Loan allowance read failed for %s: %v", s.asset, err)
		loanAllowance = nil
		if firstErr == nil {
			firstErr = err
		}
	}
	s.ov.ObserveBalances(collateralBalance, loanBalance, collateralAllowance, loanAllowance)

	s.recordSnapshot()
	return firstErr
}

// SetSpot records a fresh USD spot price.
func (s *Session) SetSpot(price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	s.mu.Lock()
	s.spot = price
	s.mu.Unlock()
	s.recordSnapshot()
}

// SetSupplyUSD sets the hypothetical additional supply, denominated in USD.
func (s *Session) SetSupplyUSD(usd decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if usd.IsNegative() {
		usd = decimal.Zero
	}
	s.supplyUSD = usd
}

// SetBorrowAmount sets the hypothetical additional borrow in loan tokens.
func (s *Session) SetBorrowAmount(amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	s.borrowAmount = amount
}

// SetSupplyPercent sets the hypothetical supply to a percentage of the
// wallet's collateral balance, valued at the current spot price.
func (s *Session) SetSupplyPercent(percent decimal.Decimal) {
	balance := s.ov.CollateralBalance()
	s.mu.Lock()
	spot := s.spot
	s.mu.Unlock()
	if balance == nil || !spot.IsPositive() {
		return
	}
	value := engine.FromBaseUnits(balance, s.asset.Decimals()).Mul(spot)
	s.SetSupplyUSD(value.Mul(percent).Div(decimal.NewFromInt(100)))
}

// SetBorrowPercent sets the hypothetical borrow to a percentage of the
// currently available capacity.
func (s *Session) SetBorrowPercent(percent decimal.Decimal) {
	snap := s.calc.Compute(s.inputsWithoutBorrow())
	s.SetBorrowAmount(snap.AvailableToBorrow.Mul(percent).Div(decimal.NewFromInt(100)))
}

// SetTargetLTV sets the hypothetical borrow to whatever amount moves the
// projected position to the target LTV percent.
func (s *Session) SetTargetLTV(targetPercent decimal.Decimal) {
	in := s.inputs()
	in.AdditionalBorrow = decimal.Zero
	amount := s.calc.BorrowToTargetLTV(in, targetPercent)
	s.mu.Lock()
	s.borrowAmount = amount
	s.mu.Unlock()
}

// Snapshot computes the current projected risk snapshot.
func (s *Session) Snapshot() models.RiskSnapshot {
	return s.calc.Compute(s.inputs())
}

// Stress simulates a price drop against the current projection.
func (s *Session) Stress(dropPercent int) models.StressResult {
	return s.calc.StressTest(s.inputs(), dropPercent)
}

// Intent returns the latest intent, live or settled.
func (s *Session) Intent() *models.Intent {
	return s.ov.Intent()
}

// inputs assembles calculator inputs from the overlay projection and the
// hypothetical deltas.
func (s *Session) inputs() engine.Inputs {
	s.mu.Lock()
	spot := s.spot
	supplyUSD := s.supplyUSD
	borrowAmount := s.borrowAmount
	s.mu.Unlock()

	in := engine.Inputs{
		SpotPrice:        spot,
		AdditionalBorrow: borrowAmount,
	}
	if spot.IsPositive() {
		in.AdditionalCollateral = engine.TokensForUSD(supplyUSD, spot)
	}

	market := s.ov.Market()
	if market != nil {
		in.MaxLTV = market.MaxLTV
	} else {
		in.MaxLTV = s.meta.MaxLTV
	}

	position := s.ov.Position()
	if position != nil {
		in.CollateralAmount = engine.FromBaseUnits(position.Collateral, s.asset.Decimals())
	}
	if market != nil {
		debt := engine.DebtAssets(s.ov.EffectiveBorrowShares(), market.TotalBorrowAssets, market.TotalBorrowShares)
		in.DebtAssets = engine.FromBaseUnits(debt, assets.LoanDecimals)
	}
	return in
}

// debtShares returns the effective borrow shares and their exact asset value
// in loan base units.
func (s *Session) debtShares() (shares, debt *big.Int) {
	shares = s.ov.EffectiveBorrowShares()
	market := s.ov.Market()
	if market == nil {
		return shares, new(big.Int)
	}
	return shares, engine.DebtAssets(shares, market.TotalBorrowAssets, market.TotalBorrowShares)
}

// recordSnapshot persists the current snapshot and raises a degradation
// alert when health crosses into a worse band.
func (s *Session) recordSnapshot() {
	if s.ov.Market() == nil || s.ov.Position() == nil {
		return
	}
	snap := s.Snapshot()
	if s.store != nil {
		if err := s.store.AddRiskSnapshot(s.asset.String(), &snap); err != nil {
			logger.Warn("Failed to persist risk snapshot for %s: %v", s.asset, err)
		}
	}

	s.mu.Lock()
	degraded := s.hasHealth && snap.Health > s.lastHealth && snap.Health >= models.HealthWarning
	s.lastHealth = snap.Health
	s.hasHealth = true
	s.mu.Unlock()

	if degraded && s.alerter != nil {
		if err := s.alerter.HealthDegraded(s.asset.String(), &snap); err != nil {
			logger.Warn("Failed to send health alert for %s: %v", s.asset, err)
		}
	}
}

// SubmitApprove submits an unlimited token approval for the Morpho
// singleton. With loan false it approves the collateral token ahead of a
// supply, recording the currently attempted supply amount; with loan true it
// approves the loan token ahead of a repay, recording the full current debt
// so any repay up to it is covered. Either way the action gate opens as soon
// as the approval confirms.
func (s *Session) SubmitApprove(ctx context.Context, loan bool) (*models.Intent, error) {
	var (
		required *big.Int
		token    common.Address
	)
	if loan {
		_, debt := s.debtShares()
		if debt.Sign() <= 0 {
			return nil, ErrAmountRequired
		}
		required = debt
		token = s.meta.Params.LoanToken
	} else {
		base, err := s.pendingSupplyBase()
		if err != nil {
			return nil, err
		}
		required = base
		token = s.meta.Params.CollateralToken
	}

	intent, err := s.ov.BeginApprove(s.asset.String(), loan, required)
	if err != nil {
		return nil, err
	}
	s.persistIntent(intent)

	hash, err := s.submitter.Approve(ctx, token)
	return s.dispatch(ctx, intent, hash, err)
}

// SubmitSupply deposits the pending hypothetical supply as collateral.
func (s *Session) SubmitSupply(ctx context.Context) (*models.Intent, error) {
	base, err := s.pendingSupplyBase()
	if err != nil {
		return nil, err
	}
	if balance := s.ov.CollateralBalance(); balance == nil || balance.Cmp(base) < 0 {
		return nil, ErrInsufficientBalance
	}
	if !s.ov.CollateralAllowanceSufficient(base) {
		return nil, ErrAllowanceRequired
	}

	intent, err := s.ov.Begin(s.asset.String(), models.ActionSupply, false, base)
	if err != nil {
		return nil, err
	}
	s.persistIntent(intent)

	hash, err := s.submitter.SupplyCollateral(ctx, s.meta.Params, base)
	return s.dispatch(ctx, intent, hash, err)
}

// SubmitBorrow draws the pending hypothetical borrow amount.
func (s *Session) SubmitBorrow(ctx context.Context) (*models.Intent, error) {
	s.mu.Lock()
	amount := s.borrowAmount
	s.mu.Unlock()
	if !amount.IsPositive() {
		return nil, ErrAmountRequired
	}
	if s.ov.Market() == nil || s.ov.Position() == nil {
		return nil, ErrNoPosition
	}

	snap := s.calc.Compute(s.inputsWithoutBorrow())
	if amount.GreaterThan(snap.AvailableToBorrow) {
		return nil, ErrInsufficientBalance
	}

	base := engine.ToBaseUnits(amount, assets.LoanDecimals)
	intent, err := s.ov.Begin(s.asset.String(), models.ActionBorrow, false, base)
	if err != nil {
		return nil, err
	}
	s.persistIntent(intent)

	hash, err := s.submitter.Borrow(ctx, s.meta.Params, base)
	return s.dispatch(ctx, intent, hash, err)
}

// SubmitRepay pays down debt. A full repay burns the exact share balance so
// no interest-accrual dust survives; a partial repay uses the assets path
// with the given loan-token amount.
func (s *Session) SubmitRepay(ctx context.Context, full bool, amount decimal.Decimal) (*models.Intent, error) {
	shares, debt := s.debtShares()
	if shares.Sign() <= 0 || debt.Sign() <= 0 {
		return nil, ErrAmountRequired
	}

	var (
		base   *big.Int
		action func(context.Context) (common.Hash, error)
	)
	if full {
		base = debt
		action = func(ctx context.Context) (common.Hash, error) {
			return s.submitter.RepayShares(ctx, s.meta.Params, shares)
		}
	} else {
		if !amount.IsPositive() {
			return nil, ErrAmountRequired
		}
		base = engine.ToBaseUnits(amount, assets.LoanDecimals)
		if base.Cmp(debt) > 0 {
			base = debt
		}
		action = func(ctx context.Context) (common.Hash, error) {
			return s.submitter.RepayAssets(ctx, s.meta.Params, base)
		}
	}

	if balance := s.ov.LoanBalance(); balance == nil || balance.Cmp(base) < 0 {
		return nil, ErrInsufficientBalance
	}
	if !s.ov.LoanAllowanceSufficient(base) {
		return nil, ErrAllowanceRequired
	}

	intent, err := s.ov.Begin(s.asset.String(), models.ActionRepay, full, base)
	if err != nil {
		return nil, err
	}
	s.persistIntent(intent)

	hash, err := action(ctx)
	return s.dispatch(ctx, intent, hash, err)
}

// SubmitWithdraw removes collateral. Blocked while any effective debt
// remains, matching the protocol's health check.
func (s *Session) SubmitWithdraw(ctx context.Context, full bool, amount decimal.Decimal) (*models.Intent, error) {
	if shares, _ := s.debtShares(); shares.Sign() > 0 {
		return nil, ErrDebtOutstanding
	}
	position := s.ov.Position()
	if position == nil || position.Collateral == nil || position.Collateral.Sign() <= 0 {
		return nil, ErrNoPosition
	}

	var base *big.Int
	if full {
		base = new(big.Int).Set(position.Collateral)
	} else {
		if !amount.IsPositive() {
			return nil, ErrAmountRequired
		}
		base = engine.ToBaseUnits(amount, s.asset.Decimals())
		if base.Cmp(position.Collateral) > 0 {
			base = new(big.Int).Set(position.Collateral)
		}
	}
	if base.Sign() <= 0 {
		return nil, ErrAmountRequired
	}

	intent, err := s.ov.Begin(s.asset.String(), models.ActionWithdraw, full, base)
	if err != nil {
		return nil, err
	}
	s.persistIntent(intent)

	hash, err := s.submitter.WithdrawCollateral(ctx, s.meta.Params, base)
	return s.dispatch(ctx, intent, hash, err)
}

// pendingSupplyBase converts the pending USD supply input to collateral base
// units.
func (s *Session) pendingSupplyBase() (*big.Int, error) {
	s.mu.Lock()
	spot := s.spot
	supplyUSD := s.supplyUSD
	s.mu.Unlock()

	if !supplyUSD.IsPositive() {
		return nil, ErrAmountRequired
	}
	if !spot.IsPositive() {
		return nil, ErrNoPrice
	}
	base := engine.ToBaseUnits(engine.TokensForUSD(supplyUSD, spot), s.asset.Decimals())
	if base.Sign() <= 0 {
		return nil, ErrAmountRequired
	}
	return base, nil
}

// inputsWithoutBorrow is the projection before the hypothetical borrow,
// used to validate the borrow amount against available capacity.
func (s *Session) inputsWithoutBorrow() engine.Inputs {
	in := s.inputs()
	in.AdditionalBorrow = decimal.Zero
	return in
}

// dispatch settles the submission outcome: no hash abandons the intent,
// a hash moves it to awaiting and spawns the receipt watcher.
func (s *Session) dispatch(ctx context.Context, intent *models.Intent, hash common.Hash, submitErr error) (*models.Intent, error) {
	if submitErr != nil {
		s.ov.Abandon()
		s.persistIntent(s.ov.Intent())
		logger.Warn("Submission abandoned for %s %s: %v", s.asset, intent.Kind, submitErr)
		return nil, submitErr
	}
	if err := s.ov.Attach(hash); err != nil {
		return nil, err
	}
	live := s.ov.Intent()
	s.persistIntent(live)

	go s.awaitReceipt(context.WithoutCancel(ctx), hash)
	return live, nil
}

// awaitReceipt blocks on the transaction receipt and settles the intent.
func (s *Session) awaitReceipt(ctx context.Context, hash common.Hash) {
	ok, err := s.submitter.Wait(ctx, hash)

	var settled *models.Intent
	switch {
	case err != nil:
		settled, _ = s.ov.Fail(err.Error())
	case !ok:
		settled, _ = s.ov.Fail("transaction reverted")
	default:
		settled, _ = s.ov.Confirm()
	}
	if settled == nil {
		return
	}
	s.persistIntent(settled)

	if settled.Status == models.IntentFailed {
		logger.Error("Transaction failed for %s %s: %s", s.asset, settled.Kind, settled.Reason)
		if s.alerter != nil {
			if alertErr := s.alerter.TxFailed(settled); alertErr != nil {
				logger.Warn("Failed to send failure alert: %v", alertErr)
			}
		}
	} else {
		logger.Info("Transaction confirmed for %s %s (%s)", s.asset, settled.Kind, hash.Hex())
		s.clearInputs(settled)
	}

	// Re-read immediately and again after the node has had time to index.
	if err := s.Refresh(ctx); err != nil {
		logger.Warn("Post-transaction refresh failed for %s: %v", s.asset, err)
	}
	if s.reReadDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reReadDelay):
		}
		if err := s.Refresh(ctx); err != nil {
			logger.Warn("Delayed post-transaction refresh failed for %s: %v", s.asset, err)
		}
	}
}

// clearInputs resets the hypothetical input the confirmed action consumed.
func (s *Session) clearInputs(settled *models.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch settled.Kind {
	case models.ActionSupply:
		s.supplyUSD = decimal.Zero
	case models.ActionBorrow:
		s.borrowAmount = decimal.Zero
	case models.ActionRepay, models.ActionWithdraw:
		s.supplyUSD = decimal.Zero
		s.borrowAmount = decimal.Zero
	}
}

func (s *Session) persistIntent(in *models.Intent) {
	if s.store == nil || in == nil {
		return
	}
	if err := s.store.SaveIntent(in); err != nil {
		logger.Warn("Failed to persist intent %s: %v", in.ID, err)
	}
}
