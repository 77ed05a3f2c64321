package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HealthLabel classifies how close a position's LTV is to the market's max
// LTV. The ordering is strict: Safe < Warning < Danger < Liquidated.
type HealthLabel int

const (
	HealthSafe HealthLabel = iota
	HealthWarning
	HealthDanger
	HealthLiquidated
)

func (h HealthLabel) String() string {
	switch h {
	case HealthSafe:
		return "Safe"
	case HealthWarning:
		return "Warning"
	case HealthDanger:
		return "Danger"
	case HealthLiquidated:
		return "Liquidated"
	default:
		return "Unknown"
	}
}

// RiskSnapshot holds every risk metric shown to the user. It is a pure
// function of the current market/position reads, the spot price, and any
// pending hypothetical deltas; it has no lifecycle of its own and is
// recomputed fresh on every evaluation.
type RiskSnapshot struct {
	// CollateralAmount is the projected collateral in token units
	// (existing plus hypothetical additional supply).
	CollateralAmount decimal.Decimal `json:"collateral_amount"`
	CollateralValue  decimal.Decimal `json:"collateral_value"`
	DebtValue        decimal.Decimal `json:"debt_value"`

	MaxBorrowCapacity decimal.Decimal `json:"max_borrow_capacity"`
	AvailableToBorrow decimal.Decimal `json:"available_to_borrow"`

	LTVPercent    decimal.Decimal `json:"ltv_percent"`
	MaxLTVPercent decimal.Decimal `json:"max_ltv_percent"`
	HealthRatio   decimal.Decimal `json:"health_ratio"`
	Health        HealthLabel     `json:"health"`
	HealthName    string          `json:"health_name"`

	// LiquidationPrice is zero when the position carries no debt or no
	// collateral.
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`

	SpotPrice  decimal.Decimal `json:"spot_price"`
	ComputedAt time.Time       `json:"computed_at"`
}

// StressResult is the outcome of simulating a hypothetical price drop.
type StressResult struct {
	DropPercent    int             `json:"drop_percent"`
	SimulatedPrice decimal.Decimal `json:"simulated_price"`
	SimulatedLTV   decimal.Decimal `json:"simulated_ltv"`
	Liquidated     bool            `json:"liquidated"`
}
