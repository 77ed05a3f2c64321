// Package engine holds the position valuation core: the debt share/asset
// converter and the risk calculator. Everything in this package is a pure
// function over its inputs.
package engine

import "math/big"

// Morpho Blue's virtual share-price offsets. These are protocol constants,
// not policy: deviating from them yields a debt figure the protocol will not
// accept as a full payoff.
var (
	virtualShares = big.NewInt(1_000_000)
	virtualAssets = big.NewInt(1_000_000)
)

// DebtAssets converts a debt-share balance into the exact asset amount owed,
// mirroring the protocol's own accounting. The result is rounded up: debt is
// a liability, and understating it would let a position look clear while
// residual debt remains.
//
// Nil inputs are treated as zero; the function is total over non-negative
// integers and never returns nil.
func DebtAssets(borrowShares, totalBorrowAssets, totalBorrowShares *big.Int) *big.Int {
	if totalBorrowShares == nil || totalBorrowShares.Sign() <= 0 {
		return new(big.Int)
	}
	if borrowShares == nil || borrowShares.Sign() <= 0 {
		return new(big.Int)
	}
	if totalBorrowAssets == nil {
		totalBorrowAssets = new(big.Int)
	}

	numerator := new(big.Int).Add(totalBorrowAssets, virtualAssets)
	numerator.Mul(numerator, borrowShares)
	denominator := new(big.Int).Add(totalBorrowShares, virtualShares)

	// Ceiling division: (numerator + denominator - 1) / denominator.
	numerator.Add(numerator, denominator)
	numerator.Sub(numerator, big.NewInt(1))
	return numerator.Div(numerator, denominator)
}
