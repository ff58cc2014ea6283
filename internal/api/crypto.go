package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rickgao/pricepulse/internal/model"
)

var (
	// ErrRateLimited is returned when CoinGecko answers 429.
	ErrRateLimited = errors.New("api rate limit reached")

	// ErrInvalidMarketData is returned when the markets payload fails validation.
	ErrInvalidMarketData = errors.New("invalid cryptocurrency data received")
)

// CryptoClient fetches market summaries from CoinGecko. The public API
// needs no key; a demo key is sent when configured.
type CryptoClient struct {
	c *Client
}

// NewCryptoClient creates a CoinGecko client.
func NewCryptoClient(baseURL, apiKey string, opts ...ClientOption) *CryptoClient {
	opts = append([]ClientOption{WithKeyParam("x_cg_demo_api_key")}, opts...)
	return &CryptoClient{c: NewClient(baseURL, apiKey, opts...)}
}

// Markets returns USD market data for ids, ordered by market cap.
func (cc *CryptoClient) Markets(ctx context.Context, ids []string) ([]model.MarketData, error) {
	if len(ids) == 0 {
		return []model.MarketData{}, nil
	}

	query := url.Values{
		"vs_currency": {"usd"},
		"ids":         {strings.Join(ids, ",")},
		"order":       {"market_cap_desc"},
		"per_page":    {"100"},
		"page":        {"1"},
		"sparkline":   {"false"},
	}

	body, err := cc.c.doWithRetry(ctx, http.MethodGet, "/coins/markets", query)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return nil, fmt.Errorf("markets: %w", err)
	}

	var raw []CoinMarket
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMarketData, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an array", ErrInvalidMarketData)
	}

	out := make([]model.MarketData, 0, len(raw))
	for i, m := range raw {
		if !m.Valid() {
			return nil, fmt.Errorf("%w: entry %d incomplete", ErrInvalidMarketData, i)
		}
		out = append(out, ToMarketData(m))
	}
	return out, nil
}
