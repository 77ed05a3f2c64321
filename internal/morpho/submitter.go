package morpho

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/boro-labs/borod/internal/logger"
)

// ErrAbandoned reports a submission that never reached the mempool, so no
// transaction hash exists and nothing is in flight.
var ErrAbandoned = errors.New("transaction abandoned before submission")

// maxUint256 is the unlimited ERC-20 approval amount.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var emptyBytes = []byte{}

// Submitter signs and sends Morpho Blue transactions for a single account.
type Submitter struct {
	backend Backend
	morpho  *bind.BoundContract
	addr    common.Address
	opts    *bind.TransactOpts
	account common.Address
}

// NewSubmitter builds a submitter from a hex-encoded private key.
func NewSubmitter(backend Backend, morphoAddr common.Address, privateKeyHex string, chainID uint64) (*Submitter, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	return &Submitter{
		backend: backend,
		morpho:  bind.NewBoundContract(morphoAddr, morphoABI, backend, backend, backend),
		addr:    morphoAddr,
		opts:    opts,
		account: opts.From,
	}, nil
}

// Account returns the submitting address.
func (s *Submitter) Account() common.Address {
	return s.account
}

// Approve grants the Morpho Blue singleton an unlimited allowance on token.
// Unlimited approval avoids a second approval round-trip for every later
// supply or repay.
func (s *Submitter) Approve(ctx context.Context, token common.Address) (common.Hash, error) {
	contract := bind.NewBoundContract(token, erc20ABI, s.backend, s.backend, s.backend)
	tx, err := contract.Transact(s.txOpts(ctx), "approve", s.addr, maxUint256)
	if err != nil {
		return common.Hash{}, fmt.Errorf("approve %s: %w", token.Hex(), errors.Join(ErrAbandoned, err))
	}
	logger.Info("Sent approve tx %s for token %s", tx.Hash().Hex(), token.Hex())
	return tx.Hash(), nil
}

// SupplyCollateral deposits assets base units of collateral.
func (s *Submitter) SupplyCollateral(ctx context.Context, params MarketParams, assets *big.Int) (common.Hash, error) {
	tx, err := s.morpho.Transact(s.txOpts(ctx), "supplyCollateral", params, assets, s.account, emptyBytes)
	if err != nil {
		return common.Hash{}, fmt.Errorf("supply collateral: %w", errors.Join(ErrAbandoned, err))
	}
	logger.Info("Sent supplyCollateral tx %s (%s base units)", tx.Hash().Hex(), assets)
	return tx.Hash(), nil
}

// Borrow draws assets base units of the loan token against the position.
func (s *Submitter) Borrow(ctx context.Context, params MarketParams, assets *big.Int) (common.Hash, error) {
	tx, err := s.morpho.Transact(s.txOpts(ctx), "borrow", params, assets, big.NewInt(0), s.account, s.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("borrow: %w", errors.Join(ErrAbandoned, err))
	}
	logger.Info("Sent borrow tx %s (%s base units)", tx.Hash().Hex(), assets)
	return tx.Hash(), nil
}

// RepayAssets pays down assets base units of debt. Partial repayments use
// the assets path so the paid amount is exact.
func (s *Submitter) RepayAssets(ctx context.Context, params MarketParams, assets *big.Int) (common.Hash, error) {
	tx, err := s.morpho.Transact(s.txOpts(ctx), "repay", params, assets, big.NewInt(0), s.account, emptyBytes)
	if err != nil {
		return common.Hash{}, fmt.Errorf("repay: %w", errors.Join(ErrAbandoned, err))
	}
	logger.Info("Sent repay tx %s (%s base units)", tx.Hash().Hex(), assets)
	return tx.Hash(), nil
}

// RepayShares burns the given borrow shares. Full repayment uses the shares
// path so interest accrued between the read and the mine is covered and the
// position closes with zero residual shares.
func (s *Submitter) RepayShares(ctx context.Context, params MarketParams, shares *big.Int) (common.Hash, error) {
	tx, err := s.morpho.Transact(s.txOpts(ctx), "repay", params, big.NewInt(0), shares, s.account, emptyBytes)
	if err != nil {
		return common.Hash{}, fmt.Errorf("repay shares: %w", errors.Join(ErrAbandoned, err))
	}
	logger.Info("Sent full repay tx %s (%s shares)", tx.Hash().Hex(), shares)
	return tx.Hash(), nil
}

// WithdrawCollateral removes assets base units of collateral to the account.
func (s *Submitter) WithdrawCollateral(ctx context.Context, params MarketParams, assets *big.Int) (common.Hash, error) {
	tx, err := s.morpho.Transact(s.txOpts(ctx), "withdrawCollateral", params, assets, s.account, s.account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("withdraw collateral: %w", errors.Join(ErrAbandoned, err))
	}
	logger.Info("Sent withdrawCollateral tx %s (%s base units)", tx.Hash().Hex(), assets)
	return tx.Hash(), nil
}

// Wait blocks until the transaction is mined and reports whether it
// succeeded.
func (s *Submitter) Wait(ctx context.Context, hash common.Hash) (bool, error) {
	receipt, err := waitMined(ctx, s.backend, hash)
	if err != nil {
		return false, fmt.Errorf("wait for tx %s: %w", hash.Hex(), err)
	}
	return receipt.Status == types.ReceiptStatusSuccessful, nil
}

// waitMined polls for the receipt of hash until found or ctx expires.
func waitMined(ctx context.Context, backend bind.DeployBackend, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Submitter) txOpts(ctx context.Context) *bind.TransactOpts {
	opts := *s.opts
	opts.Context = ctx
	return &opts
}
