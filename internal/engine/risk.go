package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/boro-labs/borod/internal/models"
)

var (
	hundred = decimal.NewFromInt(100)
)

// Config carries the calculator's policy constants. The thresholds are
// product policy, not protocol parameters.
type Config struct {
	// WarningRatio and DangerRatio classify health by ltv/maxLtv.
	WarningRatio decimal.Decimal
	DangerRatio  decimal.Decimal
}

// DefaultConfig returns the shipped policy thresholds.
func DefaultConfig() Config {
	return Config{
		WarningRatio: decimal.NewFromFloat(0.75),
		DangerRatio:  decimal.NewFromFloat(0.90),
	}
}

// Calculator derives every user-facing risk metric from raw balances and a
// hypothetical supply/borrow delta. It is stateless; Compute is safe to call
// from any goroutine.
type Calculator struct {
	cfg Config
	now func() time.Time
}

// New creates a calculator with the given policy thresholds.
func New(cfg Config) *Calculator {
	return &Calculator{cfg: cfg, now: time.Now}
}

// Inputs are the raw quantities the calculator works from. Amounts are in
// human token units (not base units); DebtAssets is the exact current debt
// from the share converter, in loan-token units.
type Inputs struct {
	CollateralAmount     decimal.Decimal
	DebtAssets           decimal.Decimal
	AdditionalCollateral decimal.Decimal
	AdditionalBorrow     decimal.Decimal

	// SpotPrice is the collateral asset's USD price. It may be zero while
	// the price feed is loading; every division below is guarded.
	SpotPrice decimal.Decimal

	// MaxLTV is the market's liquidation threshold as a fraction in (0,1].
	MaxLTV decimal.Decimal
}

// Compute derives the full risk snapshot. The derivation order is fixed;
// each quantity depends only on the ones before it.
func (c *Calculator) Compute(in Inputs) models.RiskSnapshot {
	collateralAmount := in.CollateralAmount.Add(in.AdditionalCollateral)
	collateralValue := collateralAmount.Mul(in.SpotPrice)
	debtValue := in.DebtAssets.Add(in.AdditionalBorrow)

	maxCapacity := collateralValue.Mul(in.MaxLTV)
	available := maxCapacity.Sub(debtValue)
	if available.IsNegative() {
		available = decimal.Zero
	}

	ltvPercent := decimal.Zero
	if collateralValue.IsPositive() {
		ltvPercent = debtValue.Div(collateralValue).Mul(hundred)
	}
	maxLTVPercent := in.MaxLTV.Mul(hundred)

	healthRatio := decimal.Zero
	if maxLTVPercent.IsPositive() {
		healthRatio = ltvPercent.Div(maxLTVPercent)
	}

	liquidated := collateralValue.IsPositive() && ltvPercent.GreaterThanOrEqual(maxLTVPercent)

	var health models.HealthLabel
	switch {
	case liquidated:
		health = models.HealthLiquidated
	case healthRatio.GreaterThan(c.cfg.DangerRatio):
		health = models.HealthDanger
	case healthRatio.GreaterThan(c.cfg.WarningRatio):
		health = models.HealthWarning
	default:
		health = models.HealthSafe
	}

	return models.RiskSnapshot{
		CollateralAmount:  collateralAmount,
		CollateralValue:   collateralValue,
		DebtValue:         debtValue,
		MaxBorrowCapacity: maxCapacity,
		AvailableToBorrow: available,
		LTVPercent:        ltvPercent,
		MaxLTVPercent:     maxLTVPercent,
		HealthRatio:       healthRatio,
		Health:            health,
		HealthName:        health.String(),
		LiquidationPrice:  liquidationPrice(debtValue, collateralAmount, in.MaxLTV),
		SpotPrice:         in.SpotPrice,
		ComputedAt:        c.now(),
	}
}

// StressTest simulates a hypothetical price drop of dropPercent (clamped to
// [0, 99]) and reports the resulting LTV and whether the position would be
// liquidatable at the simulated price.
func (c *Calculator) StressTest(in Inputs, dropPercent int) models.StressResult {
	if dropPercent < 0 {
		dropPercent = 0
	}
	if dropPercent > 99 {
		dropPercent = 99
	}

	factor := decimal.NewFromInt(1).Sub(decimal.NewFromInt(int64(dropPercent)).Div(hundred))
	simulatedPrice := in.SpotPrice.Mul(factor)

	collateralAmount := in.CollateralAmount.Add(in.AdditionalCollateral)
	debtValue := in.DebtAssets.Add(in.AdditionalBorrow)
	maxLTVPercent := in.MaxLTV.Mul(hundred)

	simulatedLTV := decimal.Zero
	simulatedValue := collateralAmount.Mul(simulatedPrice)
	if simulatedValue.IsPositive() {
		simulatedLTV = debtValue.Div(simulatedValue).Mul(hundred)
	}

	return models.StressResult{
		DropPercent:    dropPercent,
		SimulatedPrice: simulatedPrice,
		SimulatedLTV:   simulatedLTV,
		Liquidated:     simulatedValue.IsPositive() && maxLTVPercent.IsPositive() && simulatedLTV.GreaterThanOrEqual(maxLTVPercent),
	}
}

// BorrowToTargetLTV returns the additional borrow needed to move the position
// to the given target LTV percent, never negative. Backs the LTV slider.
func (c *Calculator) BorrowToTargetLTV(in Inputs, targetPercent decimal.Decimal) decimal.Decimal {
	collateralValue := in.CollateralAmount.Add(in.AdditionalCollateral).Mul(in.SpotPrice)
	targetDebt := collateralValue.Mul(targetPercent).Div(hundred)
	additional := targetDebt.Sub(in.DebtAssets)
	if additional.IsNegative() {
		return decimal.Zero
	}
	return additional
}

// liquidationPrice is the spot price at which LTV exactly reaches max LTV.
// Defined only for positions with both debt and collateral.
func liquidationPrice(debtValue, collateralAmount, maxLTV decimal.Decimal) decimal.Decimal {
	if !debtValue.IsPositive() || !collateralAmount.IsPositive() || !maxLTV.IsPositive() {
		return decimal.Zero
	}
	return debtValue.Div(collateralAmount.Mul(maxLTV))
}
