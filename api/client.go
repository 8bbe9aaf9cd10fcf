// Package api provides the exchange-facing client: REST market data,
// the push transport for real-time trade events, wallet polling, and the
// leader-detection heuristic.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// Client is a REST client for the exchange data API. All responses are
// normalized to models types before they enter the core.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new exchange data client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://data-api.polymarket.com"
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// wireMarket is the raw market shape returned by the exchange.
type wireMarket struct {
	ID             string   `json:"id"`
	Question       string   `json:"question"`
	Outcomes       []string `json:"outcomes"`
	Resolved       bool     `json:"resolved"`
	WinningOutcome *int     `json:"winning_outcome"`
	Volume         float64  `json:"volume"`
}

// wireTrade is the raw trade shape returned by the exchange.
type wireTrade struct {
	ID           string  `json:"id"`
	Market       string  `json:"market"`
	ProxyWallet  string  `json:"proxyWallet"`
	Side         string  `json:"side"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Outcome      string  `json:"outcome"`
	Size         float64 `json:"size"`
	Price        float64 `json:"price"`
	Timestamp    int64   `json:"timestamp"`
}

// wirePosition is the raw closed-position shape returned by the exchange.
type wirePosition struct {
	Market      string  `json:"market"`
	RealizedPnl float64 `json:"realizedPnl"`
	InitialValue float64 `json:"initialValue"`
	Timestamp   int64   `json:"timestamp"`
}

func (m wireMarket) toModel() models.Market {
	winning := -1
	if m.WinningOutcome != nil {
		winning = *m.WinningOutcome
	}
	return models.Market{
		ID:             m.ID,
		Question:       m.Question,
		Outcomes:       m.Outcomes,
		Resolved:       m.Resolved,
		WinningOutcome: winning,
		Volume:         m.Volume,
	}
}

func (t wireTrade) toModel() models.TradeRecord {
	return models.TradeRecord{
		ID:            t.ID,
		MarketID:      t.Market,
		WalletAddress: utils.NormalizeAddress(t.ProxyWallet),
		Side:          models.Side(t.Side),
		OutcomeIndex:  t.OutcomeIndex,
		Outcome:       t.Outcome,
		Size:          t.Size,
		Price:         t.Price,
		AmountUsd:     t.Size * t.Price,
		TimestampMs:   t.Timestamp,
	}
}

// ListMarkets fetches up to limit markets.
func (c *Client) ListMarkets(ctx context.Context, limit int) ([]models.Market, error) {
	var raw []wireMarket
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.getJSON(ctx, "/markets", params, &raw); err != nil {
		return nil, err
	}
	markets := make([]models.Market, 0, len(raw))
	for _, m := range raw {
		markets = append(markets, m.toModel())
	}
	return markets, nil
}

// GetMarket fetches a single market by id.
func (c *Client) GetMarket(ctx context.Context, id string) (*models.Market, error) {
	var raw wireMarket
	if err := c.getJSON(ctx, "/markets/"+url.PathEscape(id), nil, &raw); err != nil {
		return nil, err
	}
	market := raw.toModel()
	return &market, nil
}

// GetMarketTrades fetches recent trades for a market, newest first.
func (c *Client) GetMarketTrades(ctx context.Context, marketID string, limit int) ([]models.TradeRecord, error) {
	params := url.Values{
		"market": {marketID},
		"limit":  {strconv.Itoa(limit)},
	}
	return c.getTrades(ctx, params)
}

// GetWalletTrades fetches recent trades for a wallet, newest first.
func (c *Client) GetWalletTrades(ctx context.Context, address string, limit int) ([]models.TradeRecord, error) {
	params := url.Values{
		"user":  {utils.NormalizeAddress(address)},
		"limit": {strconv.Itoa(limit)},
	}
	return c.getTrades(ctx, params)
}

// GetRecentTrades fetches a bounded sample of recent trades across the
// whole exchange, newest first.
func (c *Client) GetRecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	params := url.Values{"limit": {strconv.Itoa(limit)}}
	return c.getTrades(ctx, params)
}

// GetClosedPositions fetches resolved positions for a wallet.
func (c *Client) GetClosedPositions(ctx context.Context, address string, limit int) ([]models.ClosedPosition, error) {
	var raw []wirePosition
	params := url.Values{
		"user":  {utils.NormalizeAddress(address)},
		"limit": {strconv.Itoa(limit)},
	}
	if err := c.getJSON(ctx, "/closed-positions", params, &raw); err != nil {
		return nil, err
	}
	positions := make([]models.ClosedPosition, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, models.ClosedPosition{
			MarketID:    p.Market,
			RealizedPnl: p.RealizedPnl,
			CapitalUsd:  p.InitialValue,
			TimestampMs: p.Timestamp * 1000,
		})
	}
	return positions, nil
}

func (c *Client) getTrades(ctx context.Context, params url.Values) ([]models.TradeRecord, error) {
	var raw []wireTrade
	if err := c.getJSON(ctx, "/trades", params, &raw); err != nil {
		return nil, err
	}
	trades := make([]models.TradeRecord, 0, len(raw))
	for _, t := range raw {
		trades = append(trades, t.toModel())
	}
	return trades, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s: %v: %w", path, err, ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("api: %s: %w", path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("api: %s: status %d: %s: %w", path, resp.StatusCode, string(body), ErrUpstreamUnavailable)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: %s: decode: %v: %w", path, err, ErrUpstreamUnavailable)
	}
	return nil
}
