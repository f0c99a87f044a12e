package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig holds market-data HTTP client settings.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the HTTP implementation of Provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	stream     *Stream // optional; when set, book tops come from the stream
}

// NewClient creates a market-data client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetStream attaches a top-of-book stream. When attached, Snapshot uses
// the streamed quote if it is fresher than the REST book.
func (c *Client) SetStream(s *Stream) { c.stream = s }

// Metrics fetches derived metrics for all requested pairs in one call.
func (c *Client) Metrics(ctx context.Context, pairs []Pair, now time.Time) (map[Pair]PairMetrics, error) {
	symbols := make([]string, len(pairs))
	for i, p := range pairs {
		symbols[i] = string(p)
	}
	u := fmt.Sprintf("%s/v1/metrics?pairs=%s", c.baseURL, url.QueryEscape(strings.Join(symbols, ",")))

	var rows []PairMetrics
	if err := c.getJSON(ctx, u, &rows); err != nil {
		return nil, fmt.Errorf("fetch metrics: %w", err)
	}

	out := make(map[Pair]PairMetrics, len(rows))
	for _, m := range rows {
		if !m.Pair.Valid() {
			continue
		}
		out[m.Pair] = m
	}
	return out, nil
}

// Snapshot fetches book top, candles and metrics for one pair.
func (c *Client) Snapshot(ctx context.Context, pair Pair, resolutions []string, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		Pair:    pair,
		Candles: make(map[string][]Candle, len(resolutions)),
	}

	bookURL := fmt.Sprintf("%s/v1/book?pair=%s", c.baseURL, pair)
	if err := c.getJSON(ctx, bookURL, &snap.Book); err != nil {
		return nil, fmt.Errorf("fetch book %s: %w", pair, err)
	}
	if c.stream != nil {
		if top, ok := c.stream.Latest(pair); ok && top.Time.After(snap.Book.Time) {
			snap.Book = top
		}
	}

	for _, res := range resolutions {
		candleURL := fmt.Sprintf("%s/v1/candles?pair=%s&resolution=%s", c.baseURL, pair, url.QueryEscape(res))
		var candles []Candle
		if err := c.getJSON(ctx, candleURL, &candles); err != nil {
			return nil, fmt.Errorf("fetch candles %s %s: %w", pair, res, err)
		}
		if !ascending(candles) {
			return nil, fmt.Errorf("candles %s %s not ascending in time", pair, res)
		}
		snap.Candles[res] = candles
	}

	metricsURL := fmt.Sprintf("%s/v1/metrics?pairs=%s", c.baseURL, pair)
	var rows []PairMetrics
	if err := c.getJSON(ctx, metricsURL, &rows); err != nil {
		return nil, fmt.Errorf("fetch metrics %s: %w", pair, err)
	}
	if len(rows) > 0 {
		snap.Metrics = rows[0]
	}

	return snap, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func ascending(candles []Candle) bool {
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime.Before(candles[i-1].OpenTime) {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
