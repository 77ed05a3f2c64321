package service

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/boro-labs/borod/internal/morpho"
)

// ErrReadOnly rejects transaction submission when no signing key was
// configured. Monitoring and what-if projections keep working.
var ErrReadOnly = errors.New("no signing key configured, running read-only")

// ReadOnlySubmitter satisfies TxSubmitter for deployments that only watch a
// position.
type ReadOnlySubmitter struct{}

func (ReadOnlySubmitter) Approve(ctx context.Context, token common.Address) (common.Hash, error) {
	return common.Hash{}, ErrReadOnly
}

func (ReadOnlySubmitter) SupplyCollateral(ctx context.Context, params morpho.MarketParams, assets *big.Int) (common.Hash, error) {
	return common.Hash{}, ErrReadOnly
}

func (ReadOnlySubmitter) Borrow(ctx context.Context, params morpho.MarketParams, assets *big.Int) (common.Hash, error) {
	return common.Hash{}, ErrReadOnly
}

func (ReadOnlySubmitter) RepayAssets(ctx context.Context, params morpho.MarketParams, assets *big.Int) (common.Hash, error) {
	return common.Hash{}, ErrReadOnly
}

func (ReadOnlySubmitter) RepayShares(ctx context.Context, params morpho.MarketParams, shares *big.Int) (common.Hash, error) {
	return common.Hash{}, ErrReadOnly
}

func (ReadOnlySubmitter) WithdrawCollateral(ctx context.Context, params morpho.MarketParams, assets *big.Int) (common.Hash, error) {
	return common.Hash{}, ErrReadOnly
}

func (ReadOnlySubmitter) Wait(ctx context.Context, hash common.Hash) (bool, error) {
	return false, ErrReadOnly
}
