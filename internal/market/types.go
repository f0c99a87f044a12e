// Package market defines the boundary types for the external market-data
// provider: candles, order-book top, and the per-pair derived metrics the
// engine consumes. The provider itself is a collaborator; everything here
// is immutable once read.
package market

import (
	"context"
	"strings"
	"time"
)

// Pair is a six-letter currency pair symbol, e.g. "EURUSD".
type Pair string

// Base returns the first ISO currency of the pair.
func (p Pair) Base() string {
	if !p.Valid() {
		return ""
	}
	return string(p)[:3]
}

// Quote returns the second ISO currency of the pair.
func (p Pair) Quote() string {
	if !p.Valid() {
		return ""
	}
	return string(p)[3:6]
}

// Currencies returns both legs of the pair.
func (p Pair) Currencies() (string, string) {
	return p.Base(), p.Quote()
}

// Valid reports whether the symbol is six uppercase ASCII letters.
func (p Pair) Valid() bool {
	s := string(p)
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// PipSize returns the pip unit for the pair. JPY-quoted pairs use 0.01,
// everything else 0.0001.
func (p Pair) PipSize() float64 {
	if strings.HasSuffix(string(p), "JPY") {
		return 0.01
	}
	return 0.0001
}

// Candle is a single OHLCV bar. Series are always ascending in time.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// BookTop is the best bid/offer.
type BookTop struct {
	Bid  float64   `json:"bid"`
	Ask  float64   `json:"ask"`
	Time time.Time `json:"time"`
}

// Mid returns the mid price.
func (b BookTop) Mid() float64 { return (b.Bid + b.Ask) / 2 }

// Spread returns the absolute bid/ask spread.
func (b BookTop) Spread() float64 { return b.Ask - b.Bid }

// Valid reports whether both sides are positive and crossed sanely.
func (b BookTop) Valid() bool { return b.Bid > 0 && b.Ask > 0 && b.Ask >= b.Bid }

// PairMetrics is the per-pair derived snapshot produced by the provider.
type PairMetrics struct {
	Pair           Pair      `json:"pair"`
	Price          float64   `json:"price"`
	SpreadAbs      float64   `json:"spread_abs"`
	SpreadPips     float64   `json:"spread_pips"`
	SpreadToATR1h  float64   `json:"spread_to_atr_1h"`
	ATR1h          float64   `json:"atr_1h"`
	ATR4h          float64   `json:"atr_4h"`
	ATRPercent     float64   `json:"atr_percent"`     // 1h ATR relative to price, in percent
	TrendStrength  float64   `json:"trend_strength"`  // 0..1
	TrendDirection string    `json:"trend_direction"` // "up", "down", or "flat"
	ChopScore      float64   `json:"chop_score"`      // 0..1
	Shock          bool      `json:"shock"`
	Session        string    `json:"session"`
	Timestamp      time.Time `json:"timestamp"`
}

// Snapshot bundles the market state modules evaluate against.
type Snapshot struct {
	Pair    Pair                `json:"pair"`
	Book    BookTop             `json:"book"`
	Candles map[string][]Candle `json:"candles"` // resolution -> ascending bars
	Metrics PairMetrics         `json:"metrics"`
}

// Provider is the external market-data collaborator.
type Provider interface {
	// Metrics returns the derived per-pair metrics for all requested pairs.
	Metrics(ctx context.Context, pairs []Pair, now time.Time) (map[Pair]PairMetrics, error)

	// Snapshot returns book top, candle series and metrics for one pair.
	Snapshot(ctx context.Context, pair Pair, resolutions []string, now time.Time) (*Snapshot, error)
}
