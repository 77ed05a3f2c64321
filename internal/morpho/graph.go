package morpho

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/boro-labs/borod/internal/assets"
)

// MarketMeta is the off-chain metadata for the deepest live market of a
// collateral/loan pair: the market key plus the parameter tuple needed for
// state-changing calls.
type MarketMeta struct {
	ID        common.Hash
	Params    MarketParams
	MaxLTV    decimal.Decimal
	BorrowAPY decimal.Decimal
}

// GraphClient discovers Morpho Blue markets through the Morpho GraphQL API.
type GraphClient struct {
	apiURL     string
	httpClient *http.Client
}

// NewGraphClient creates a market discovery client.
func NewGraphClient(apiURL string, timeout time.Duration) *GraphClient {
	return &GraphClient{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

const marketQuery = `query Markets($chainId: Int!, $collateral: String!, $loan: String!) {
  markets(first: 10, orderBy: SupplyAssetsUsd, orderDirection: Desc,
          where: {chainId_in: [$chainId], collateralAssetAddress_in: [$collateral], loanAssetAddress_in: [$loan], whitelisted: true}) {
    items {
      uniqueKey
      lltv
      oracleAddress
      irmAddress
      state { supplyAssets borrowApy }
    }
  }
}`

type graphRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphMarket struct {
	UniqueKey     string `json:"uniqueKey"`
	LLTV          string `json:"lltv"`
	OracleAddress string `json:"oracleAddress"`
	IrmAddress    string `json:"irmAddress"`
	State         struct {
		SupplyAssets string  `json:"supplyAssets"`
		BorrowAPY    float64 `json:"borrowApy"`
	} `json:"state"`
}

type graphResponse struct {
	Data struct {
		Markets struct {
			Items []graphMarket `json:"items"`
		} `json:"markets"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// DiscoverMarket finds the deepest whitelisted market for the given
// collateral asset against the chain's USDC, by total supply assets.
func (g *GraphClient) DiscoverMarket(ctx context.Context, chainID uint64, asset assets.Asset) (*MarketMeta, error) {
	collateral, err := asset.Address(chainID)
	if err != nil {
		return nil, err
	}
	loan, err := assets.USDC(chainID)
	if err != nil {
		return nil, err
	}

	req := graphRequest{
		Query: marketQuery,
		Variables: map[string]interface{}{
			"chainId":    chainID,
			"collateral": collateral.Hex(),
			"loan":       loan.Hex(),
		},
	}

	resp, err := g.doRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("discover market for %s: %w", asset, err)
	}

	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("discover market for %s: graphql: %s", asset, resp.Errors[0].Message)
	}

	best := pickDeepest(resp.Data.Markets.Items)
	if best == nil {
		return nil, fmt.Errorf("no live market for %s/USDC on chain %d", asset, chainID)
	}

	lltv, ok := new(big.Int).SetString(best.LLTV, 10)
	if !ok {
		return nil, fmt.Errorf("discover market for %s: bad lltv %q", asset, best.LLTV)
	}

	return &MarketMeta{
		ID: common.HexToHash(best.UniqueKey),
		Params: MarketParams{
			LoanToken:       loan,
			CollateralToken: collateral,
			Oracle:          common.HexToAddress(best.OracleAddress),
			Irm:             common.HexToAddress(best.IrmAddress),
			Lltv:            lltv,
		},
		MaxLTV:    ScaleLLTV(lltv),
		BorrowAPY: decimal.NewFromFloat(best.State.BorrowAPY),
	}, nil
}

// pickDeepest returns the market with the largest supplyAssets. The API is
// asked to sort, but depth is re-checked locally since the field arrives as
// a string.
func pickDeepest(items []graphMarket) *graphMarket {
	var best *graphMarket
	bestDepth := new(big.Int)
	for i := range items {
		depth, ok := new(big.Int).SetString(items[i].State.SupplyAssets, 10)
		if !ok {
			continue
		}
		if best == nil || depth.Cmp(bestDepth) > 0 {
			best = &items[i]
			bestDepth = depth
		}
	}
	return best
}

// doRequest posts a GraphQL query with retry on transport and 5xx errors.
func (g *GraphClient) doRequest(ctx context.Context, body graphRequest) (*graphResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, "POST", g.apiURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}

		var out graphResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("decode response: %w", decodeErr)
		}
		return &out, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
