package morpho

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/boro-labs/borod/internal/models"
)

// Backend is the subset of the ethclient surface the reader and submitter
// need. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.ContractFilterer
	bind.DeployBackend
}

// Client reads Morpho Blue market and position state plus ERC-20 balances
// from a single chain endpoint.
type Client struct {
	backend Backend
	morpho  *bind.BoundContract
	address common.Address
}

// Dial connects to the given RPC endpoint and binds the Morpho Blue
// singleton at morphoAddr.
func Dial(ctx context.Context, rpcURL string, morphoAddr common.Address) (*Client, error) {
	backend, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return NewClient(backend, morphoAddr), nil
}

// NewClient wraps an existing backend. Used directly by tests with a
// simulated backend.
func NewClient(backend Backend, morphoAddr common.Address) *Client {
	return &Client{
		backend: backend,
		morpho:  bind.NewBoundContract(morphoAddr, morphoABI, backend, backend, backend),
		address: morphoAddr,
	}
}

// Backend exposes the underlying connection so a Submitter can share it.
func (c *Client) Backend() Backend {
	return c.backend
}

// Market reads the aggregate market state for id. MaxLTV, oracle and IRM
// are not part of the on-chain market struct; callers merge those in from
// market discovery metadata.
func (c *Client) Market(ctx context.Context, id common.Hash) (*models.MarketState, error) {
	var out []interface{}
	if err := c.morpho.Call(&bind.CallOpts{Context: ctx}, &out, "market", id); err != nil {
		return nil, fmt.Errorf("read market %s: %w", id.Hex(), err)
	}
	if len(out) < 4 {
		return nil, fmt.Errorf("read market %s: short result (%d values)", id.Hex(), len(out))
	}
	state := &models.MarketState{
		ID:                id,
		TotalSupplyAssets: asBig(out[0]),
		TotalSupplyShares: asBig(out[1]),
		TotalBorrowAssets: asBig(out[2]),
		TotalBorrowShares: asBig(out[3]),
		ReadAt:            time.Now().UTC(),
	}
	if len(out) >= 6 {
		state.LastUpdate = asBig(out[4])
		state.Fee = asBig(out[5])
	}
	return state, nil
}

// Position reads account's position in market id.
func (c *Client) Position(ctx context.Context, id common.Hash, account common.Address) (*models.PositionState, error) {
	var out []interface{}
	if err := c.morpho.Call(&bind.CallOpts{Context: ctx}, &out, "position", id, account); err != nil {
		return nil, fmt.Errorf("read position %s/%s: %w", id.Hex(), account.Hex(), err)
	}
	if len(out) < 3 {
		return nil, fmt.Errorf("read position %s: short result (%d values)", id.Hex(), len(out))
	}
	return &models.PositionState{
		MarketID:     id,
		Account:      account,
		SupplyShares: asBig(out[0]),
		BorrowShares: asBig(out[1]),
		Collateral:   asBig(out[2]),
		ReadAt:       time.Now().UTC(),
	}, nil
}

// BalanceOf reads the ERC-20 balance of account for the token contract.
func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	contract := bind.NewBoundContract(token, erc20ABI, c.backend, c.backend, c.backend)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account); err != nil {
		return nil, fmt.Errorf("read balance %s: %w", token.Hex(), err)
	}
	if len(out) < 1 {
		return nil, fmt.Errorf("read balance %s: empty result", token.Hex())
	}
	return asBig(out[0]), nil
}

// Allowance reads the ERC-20 allowance granted by owner to spender.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	contract := bind.NewBoundContract(token, erc20ABI, c.backend, c.backend, c.backend)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("read allowance %s: %w", token.Hex(), err)
	}
	if len(out) < 1 {
		return nil, fmt.Errorf("read allowance %s: empty result", token.Hex())
	}
	return asBig(out[0]), nil
}

func asBig(v interface{}) *big.Int {
	if b, ok := v.(*big.Int); ok && b != nil {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// ScaleLLTV converts an on-chain 1e18-scaled LLTV into a decimal fraction.
func ScaleLLTV(lltv *big.Int) decimal.Decimal {
	if lltv == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(lltv, -18)
}
