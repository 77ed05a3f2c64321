// Package models defines the core domain records: market and position reads,
// derived risk snapshots, and in-flight transaction intents.
package models

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MarketState is one on-chain read of a Morpho Blue market, combined with the
// market metadata discovered off-chain. Reads are eventually-consistent
// snapshots and are never mutated locally.
type MarketState struct {
	ID                common.Hash `json:"id"`
	TotalSupplyAssets *big.Int    `json:"total_supply_assets"`
	TotalSupplyShares *big.Int    `json:"total_supply_shares"`
	TotalBorrowAssets *big.Int    `json:"total_borrow_assets"`
	TotalBorrowShares *big.Int    `json:"total_borrow_shares"`
	LastUpdate        *big.Int    `json:"last_update"`
	Fee               *big.Int    `json:"fee"`

	// MaxLTV is the market's liquidation threshold as a fraction in (0,1].
	MaxLTV decimal.Decimal `json:"max_ltv"`
	Oracle common.Address  `json:"oracle"`
	IRM    common.Address  `json:"irm"`

	ReadAt time.Time `json:"read_at"`
}

// Validate checks market read field constraints.
func (m *MarketState) Validate() error {
	if m.ID == (common.Hash{}) {
		return errors.New("market ID must not be empty")
	}
	for _, v := range []*big.Int{m.TotalSupplyAssets, m.TotalSupplyShares, m.TotalBorrowAssets, m.TotalBorrowShares} {
		if v != nil && v.Sign() < 0 {
			return errors.New("market totals must not be negative")
		}
	}
	if m.MaxLTV.IsNegative() || m.MaxLTV.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("max LTV must be a fraction in [0, 1]")
	}
	return nil
}

// PositionState is one on-chain read of a single account's position in a market.
type PositionState struct {
	MarketID     common.Hash    `json:"market_id"`
	Account      common.Address `json:"account"`
	SupplyShares *big.Int       `json:"supply_shares"`
	BorrowShares *big.Int       `json:"borrow_shares"`
	Collateral   *big.Int       `json:"collateral"`

	ReadAt time.Time `json:"read_at"`
}

// Validate checks position read field constraints.
func (p *PositionState) Validate() error {
	if p.MarketID == (common.Hash{}) {
		return errors.New("market ID must not be empty")
	}
	for _, v := range []*big.Int{p.SupplyShares, p.BorrowShares, p.Collateral} {
		if v != nil && v.Sign() < 0 {
			return errors.New("position balances must not be negative")
		}
	}
	return nil
}
