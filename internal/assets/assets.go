// Package assets defines the closed set of supported tokens and the
// protocol addresses they live at on each supported chain.
package assets

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Asset is one of the supported collateral tokens.
type Asset int

const (
	CbBTC Asset = iota
	CbETH
	WETH
)

// Supported chains.
const (
	ChainBase        uint64 = 8453
	ChainBaseSepolia uint64 = 84532
)

// MorphoBlue is the immutable Morpho Blue singleton, same address on both chains.
var MorphoBlue = common.HexToAddress("0xBBBBBbbBBb9cC5e90e3b3Af64bdAF62C37EEFFCb")

// LoanDecimals is the decimal count of the loan token (USDC).
const LoanDecimals = 6

type attributes struct {
	symbol      string
	decimals    int32
	coinGeckoID string
	address     map[uint64]common.Address
}

var attrs = map[Asset]attributes{
	CbBTC: {
		symbol:      "cbBTC",
		decimals:    8,
		coinGeckoID: "coinbase-wrapped-btc",
		address: map[uint64]common.Address{
			ChainBase:        common.HexToAddress("0xcbB7C0000aB88B473b1f5aFd9ef808440eed33Bf"),
			ChainBaseSepolia: common.HexToAddress("0xcbB7C0000aB88B473b1f5aFd9ef808440eed33Bf"),
		},
	},
	CbETH: {
		symbol:      "cbETH",
		decimals:    18,
		coinGeckoID: "coinbase-wrapped-staked-eth",
		address: map[uint64]common.Address{
			ChainBase:        common.HexToAddress("0x2Ae3F1Ec7F1F5012CFEab0185bfc7aa3cf0DEc22"),
			ChainBaseSepolia: common.HexToAddress("0x2Ae3F1Ec7F1F5012CFEab0185bfc7aa3cf0DEc22"),
		},
	},
	WETH: {
		symbol:      "WETH",
		decimals:    18,
		coinGeckoID: "weth",
		address: map[uint64]common.Address{
			ChainBase:        common.HexToAddress("0x4200000000000000000000000000000000000006"),
			ChainBaseSepolia: common.HexToAddress("0x4200000000000000000000000000000000000006"),
		},
	},
}

var usdcAddress = map[uint64]common.Address{
	ChainBase:        common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
	ChainBaseSepolia: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
}

// All lists every supported collateral asset in a stable order.
func All() []Asset {
	return []Asset{CbBTC, CbETH, WETH}
}

// Parse resolves a symbol to its asset. Matching is exact.
func Parse(symbol string) (Asset, error) {
	for a, at := range attrs {
		if at.symbol == symbol {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unsupported asset: %q", symbol)
}

func (a Asset) String() string {
	at, ok := attrs[a]
	if !ok {
		return fmt.Sprintf("Asset(%d)", int(a))
	}
	return at.symbol
}

// Decimals returns the token's base-unit decimal count.
func (a Asset) Decimals() int32 {
	return attrs[a].decimals
}

// CoinGeckoID returns the price-feed identifier for the asset.
func (a Asset) CoinGeckoID() string {
	return attrs[a].coinGeckoID
}

// Address returns the token contract on the given chain.
func (a Asset) Address(chainID uint64) (common.Address, error) {
	addr, ok := attrs[a].address[chainID]
	if !ok {
		return common.Address{}, fmt.Errorf("asset %s not deployed on chain %d", a, chainID)
	}
	return addr, nil
}

// USDC returns the loan token contract on the given chain.
func USDC(chainID uint64) (common.Address, error) {
	addr, ok := usdcAddress[chainID]
	if !ok {
		return common.Address{}, fmt.Errorf("USDC not configured for chain %d", chainID)
	}
	return addr, nil
}
