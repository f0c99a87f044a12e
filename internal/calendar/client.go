package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// countryToCurrency maps the country spellings seen across calendar
// feeds to ISO currency codes. Feeds disagree on naming, so both long
// names and codes appear here.
var countryToCurrency = map[string]string{
	"united states":  "USD",
	"usa":            "USD",
	"us":             "USD",
	"euro zone":      "EUR",
	"eurozone":       "EUR",
	"euro area":      "EUR",
	"germany":        "EUR",
	"france":         "EUR",
	"italy":          "EUR",
	"spain":          "EUR",
	"united kingdom": "GBP",
	"uk":             "GBP",
	"japan":          "JPY",
	"switzerland":    "CHF",
	"canada":         "CAD",
	"australia":      "AUD",
	"new zealand":    "NZD",
	"china":          "CNY",
}

// Client fetches raw calendar rows over HTTP and normalizes them into
// Events. Rows with unusable currency or timestamp fields are dropped.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientConfig holds calendar client settings.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a calendar client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Fetch retrieves and normalizes the upcoming event list. Returns a
// *FetchError on transport, status, or decode failures.
func (c *Client) Fetch(ctx context.Context) ([]Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	// Feeds vary wildly in schema, so rows are decoded untyped and
	// validated field by field before anything downstream sees them.
	var raw []map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Err: fmt.Errorf("malformed body: %w", err)}
	}

	events := make([]Event, 0, len(raw))
	for _, row := range raw {
		if ev, ok := normalizeRow(row); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

func normalizeRow(row map[string]interface{}) (Event, bool) {
	currency := extractCurrency(row)
	if currency == "" {
		return Event{}, false
	}

	ts, ok := extractTime(row)
	if !ok {
		return Event{}, false
	}

	name := stringField(row, "name", "title", "event")
	if name == "" {
		return Event{}, false
	}

	return Event{
		ID:       EventID(currency, ts, name),
		Time:     ts,
		Currency: currency,
		Impact:   normalizeImpact(stringField(row, "impact", "importance", "volatility")),
		Name:     name,
		Actual:   numericOrText(row, "actual"),
		Forecast: numericOrText(row, "forecast", "estimate"),
		Previous: numericOrText(row, "previous", "prior"),
		Source:   stringField(row, "source"),
	}, true
}

func extractCurrency(row map[string]interface{}) string {
	if cur := strings.ToUpper(stringField(row, "currency", "ccy")); len(cur) == 3 {
		return cur
	}
	country := strings.ToLower(strings.TrimSpace(stringField(row, "country", "region")))
	if ccy, ok := countryToCurrency[country]; ok {
		return ccy
	}
	return ""
}

func extractTime(row map[string]interface{}) (time.Time, bool) {
	for _, key := range []string{"timestamp", "time", "date", "datetime"} {
		v, ok := row[key]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			// Unix seconds or milliseconds.
			if t > 1e12 {
				return time.UnixMilli(int64(t)).UTC(), true
			}
			return time.Unix(int64(t), 0).UTC(), true
		case string:
			for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04"} {
				if ts, err := time.Parse(layout, t); err == nil {
					return ts.UTC(), true
				}
			}
		}
	}
	return time.Time{}, false
}

func normalizeImpact(s string) Impact {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW", "1":
		return ImpactLow
	case "MEDIUM", "MED", "MODERATE", "2":
		return ImpactMedium
	case "HIGH", "3":
		return ImpactHigh
	default:
		return ImpactUnknown
	}
}

func stringField(row map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := row[key]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func numericOrText(row map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) != "" {
				return strings.TrimSpace(t)
			}
		case float64:
			return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", t), "0"), ".")
		}
	}
	return ""
}
