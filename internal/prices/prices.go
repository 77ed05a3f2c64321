// Package prices fetches USD spot prices for collateral assets.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boro-labs/borod/internal/assets"
)

// Client fetches spot prices from the CoinGecko simple-price API.
type Client struct {
	apiURL     string
	httpClient *http.Client
}

// NewClient creates a price client for the given API base URL.
func NewClient(apiURL string, timeout time.Duration) *Client {
	return &Client{
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch returns the USD spot price for each requested asset. Assets missing
// from the response are absent from the map; callers keep their previous
// price in that case.
func (c *Client) Fetch(ctx context.Context, list []assets.Asset) (map[assets.Asset]decimal.Decimal, error) {
	ids := make([]string, 0, len(list))
	byID := make(map[string]assets.Asset, len(list))
	for _, a := range list {
		id := a.CoinGeckoID()
		ids = append(ids, id)
		byID[id] = a
	}

	u, err := url.Parse(c.apiURL + "/simple/price")
	if err != nil {
		return nil, fmt.Errorf("parse price URL: %w", err)
	}
	q := u.Query()
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	// Response shape: {"coingecko-id": {"usd": 64123.5}, ...}
	var raw map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}

	out := make(map[assets.Asset]decimal.Decimal, len(raw))
	for id, quotes := range raw {
		asset, ok := byID[id]
		if !ok {
			continue
		}
		usd, ok := quotes["usd"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(usd.String())
		if err != nil || !price.IsPositive() {
			continue
		}
		out[asset] = price
	}
	return out, nil
}

// doRequest performs an HTTP GET with retry on transport and 5xx errors.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	maxRetries := 3
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
