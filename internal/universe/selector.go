// Package universe scores and ranks the configured pairs into an
// eligibility list. Selection is a pure computation over the supplied
// metrics and gate decisions; it never talks to the outside world.
package universe

import (
	"sort"
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/market"
)

// ReasonCode tags why a pair was excluded (or kept).
type ReasonCode string

const (
	ReasonSpreadTooWide   ReasonCode = "spread_to_atr_above_max"
	ReasonATRTooLow       ReasonCode = "atr_percent_below_min"
	ReasonInactiveSession ReasonCode = "inactive_session"
	ReasonShock           ReasonCode = "volatility_shock"
	ReasonEventBlocked    ReasonCode = "event_gate_blocked"
	ReasonScoreBelowMin   ReasonCode = "score_below_min"
	ReasonNoMetrics       ReasonCode = "metrics_missing"
	ReasonEligible        ReasonCode = "eligible"
)

// Row is one pair's selection outcome for a scan cycle.
type Row struct {
	Pair     market.Pair        `json:"pair"`
	Eligible bool               `json:"eligible"`
	Rank     int                `json:"rank"` // 1-based, 0 for ineligible rows
	Score    float64            `json:"score"`
	Reasons  []ReasonCode       `json:"reasons"`
	Metrics  market.PairMetrics `json:"metrics"`
}

// Snapshot is the persisted scan-cycle output.
type Snapshot struct {
	Rows        []Row     `json:"rows"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Eligible returns the eligible rows in rank order.
func (s *Snapshot) Eligible() []Row {
	out := make([]Row, 0, len(s.Rows))
	for _, r := range s.Rows {
		if r.Eligible {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Find returns the row for a pair, if present.
func (s *Snapshot) Find(pair market.Pair) (Row, bool) {
	for _, r := range s.Rows {
		if r.Pair == pair {
			return r, true
		}
	}
	return Row{}, false
}

// Selector applies the eligibility filters and scoring.
type Selector struct {
	cfg config.UniverseConfig
}

// NewSelector creates a selector.
func NewSelector(cfg config.UniverseConfig) *Selector {
	return &Selector{cfg: cfg}
}

// Select builds the eligibility list for the configured pairs.
// gateBlocked marks pairs whose event-gate decision blocks new entries.
// Ineligible pairs accumulate every failing reason, not just the first.
func (s *Selector) Select(pairs []market.Pair, metrics map[market.Pair]market.PairMetrics, gateBlocked map[market.Pair]bool, now time.Time) *Snapshot {
	rows := make([]Row, 0, len(pairs))
	for _, pair := range pairs {
		m, ok := metrics[pair]
		if !ok {
			rows = append(rows, Row{Pair: pair, Reasons: []ReasonCode{ReasonNoMetrics}})
			continue
		}

		row := Row{Pair: pair, Metrics: m, Score: s.Score(m)}
		if m.SpreadToATR1h >= s.cfg.MaxSpreadToATR {
			row.Reasons = append(row.Reasons, ReasonSpreadTooWide)
		}
		if m.ATRPercent < s.cfg.MinATRPercent {
			row.Reasons = append(row.Reasons, ReasonATRTooLow)
		}
		if m.Session == s.cfg.InactiveSession {
			row.Reasons = append(row.Reasons, ReasonInactiveSession)
		}
		if m.Shock {
			row.Reasons = append(row.Reasons, ReasonShock)
		}
		if gateBlocked[pair] {
			row.Reasons = append(row.Reasons, ReasonEventBlocked)
		}
		if row.Score < s.cfg.MinScore {
			row.Reasons = append(row.Reasons, ReasonScoreBelowMin)
		}

		if len(row.Reasons) == 0 {
			row.Eligible = true
			row.Reasons = []ReasonCode{ReasonEligible}
		}
		rows = append(rows, row)
	}

	rankRows(rows)
	return &Snapshot{Rows: rows, GeneratedAt: now}
}

// Score is the pair-quality score in [0,1]: weighted trend clarity,
// inverse chop, volatility-adjusted liquidity, and volatility itself.
// Deterministic and monotonic in each input.
func (s *Selector) Score(m market.PairMetrics) float64 {
	liquidity := 1 - clamp01(m.SpreadToATR1h/s.cfg.MaxSpreadToATR)
	volatility := clamp01(m.ATRPercent / (4 * s.cfg.MinATRPercent))
	return 0.4*clamp01(m.TrendStrength) +
		0.25*(1-clamp01(m.ChopScore)) +
		0.2*liquidity +
		0.15*volatility
}

// rankRows assigns 1-based ranks to eligible rows by descending score.
// sort.SliceStable keeps input order for equal scores.
func rankRows(rows []Row) {
	idx := make([]int, 0, len(rows))
	for i, r := range rows {
		if r.Eligible {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return rows[idx[a]].Score > rows[idx[b]].Score
	})
	for rank, i := range idx {
		rows[i].Rank = rank + 1
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
