// Package rest is the exchange REST client used for kline (candle) fetches
// and the 24h-ticker volume side-channel.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"crypto-alerts/internal/model"
)

// Client calls the exchange spot REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a REST client. timeout is the per-request deadline
// (default 5s when zero).
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Ticker24h holds the 24hr ticker statistics for one symbol.
type Ticker24h struct {
	Symbol             string  `json:"symbol"`
	LastPrice          float64 `json:"lastPrice,string"`
	PriceChangePercent float64 `json:"priceChangePercent,string"`
	Volume             float64 `json:"volume,string"`
	QuoteVolume        float64 `json:"quoteVolume,string"`
}

// Klines fetches up to limit candles for (symbol, interval), oldest first.
// The response rows are [openTime, open, high, low, close, volume, closeTime, ...].
func (c *Client) Klines(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", tf.Interval())
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("rest: parse klines: %w", err)
	}

	candles := make([]model.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			return nil, fmt.Errorf("rest: short kline row for %s (%d fields)", symbol, len(row))
		}
		candles = append(candles, model.Candle{
			Symbol:      symbol,
			Timeframe:   tf,
			OpenTimeMs:  asInt64(row[0]),
			Open:        asFloat(row[1]),
			High:        asFloat(row[2]),
			Low:         asFloat(row[3]),
			Close:       asFloat(row[4]),
			Volume:      asFloat(row[5]),
			CloseTimeMs: asInt64(row[6]) + 1, // exchange closeTime is inclusive (…999ms)
		})
	}
	return candles, nil
}

// CurrentKline fetches only the currently-forming candle for (symbol, tf).
func (c *Client) CurrentKline(ctx context.Context, symbol string, tf model.Timeframe) (*model.Candle, error) {
	candles, err := c.Klines(ctx, symbol, tf, 1)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("rest: empty kline response for %s %s", symbol, tf)
	}
	k := candles[len(candles)-1]
	return &k, nil
}

// Ticker fetches the 24hr ticker statistics for one symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (*Ticker24h, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.get(ctx, "/api/v3/ticker/24hr", params)
	if err != nil {
		return nil, err
	}

	var t Ticker24h
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("rest: parse ticker: %w", err)
	}
	return &t, nil
}

// QuoteVolume24h returns the 24h quote volume for symbol, for the evaluator's
// volume side-channel.
func (c *Client) QuoteVolume24h(ctx context.Context, symbol string) (float64, error) {
	t, err := c.Ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.QuoteVolume, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("rest: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rest: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rest: %s: status %d: %s", path, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case float64:
		return t
	default:
		return 0
	}
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
