package engine

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FromBaseUnits converts an integer base-unit amount into human token units.
// Nil is treated as zero.
func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// ToBaseUnits converts a human token amount into integer base units,
// truncating any precision below one base unit.
func ToBaseUnits(v decimal.Decimal, decimals int32) *big.Int {
	return v.Shift(decimals).Truncate(0).BigInt()
}

// TokensForUSD converts a USD amount into token units at the given spot
// price. Returns zero while the price is unavailable.
func TokensForUSD(usd, spotPrice decimal.Decimal) decimal.Decimal {
	if !spotPrice.IsPositive() {
		return decimal.Zero
	}
	return usd.Div(spotPrice)
}
