package regime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/logging"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/regime/llm"
	"fx-trading-engine/internal/universe"
)

const systemPrompt = `You are an FX market-regime classifier. Given per-pair metrics you
classify the current regime. Respond with ONLY a JSON object, no prose, no markdown:
{
  "regime": "trend_up|trend_down|range|high_vol|event_risk",
  "permission": "long_only|short_only|both|flat",
  "allowed_modules": ["pullback"|"breakout_retest"|"range_fade"|"none"],
  "risk_state": "normal|elevated|extreme",
  "confidence": 0.0,
  "nearest_support": null,
  "nearest_resistance": null,
  "support_dist_atr": null,
  "resistance_dist_atr": null
}`

// rawPacket is the untyped boundary shape of classifier output. Every
// field is validated before it reaches a Packet.
type rawPacket struct {
	Regime            string      `json:"regime"`
	Permission        string      `json:"permission"`
	AllowedModules    []string    `json:"allowed_modules"`
	RiskState         string      `json:"risk_state"`
	Confidence        json.Number `json:"confidence"`
	NearestSupport    *float64    `json:"nearest_support"`
	NearestResistance *float64    `json:"nearest_resistance"`
	SupportDistATR    *float64    `json:"support_dist_atr"`
	ResistanceDistATR *float64    `json:"resistance_dist_atr"`
}

// Classifier produces regime packets for eligible pairs.
type Classifier struct {
	client *llm.Client
	cfg    config.RegimeConfig
	log    *logging.Logger
}

// NewClassifier creates a classifier. client may be unconfigured, in
// which case every pair takes the fallback path.
func NewClassifier(client *llm.Client, cfg config.RegimeConfig, log *logging.Logger) *Classifier {
	return &Classifier{client: client, cfg: cfg, log: log.WithComponent("regime")}
}

// Classify builds the packet for one eligible pair. Classifier failures
// of any kind degrade to the deterministic fallback; the hard-rule pass
// runs on both paths.
func (c *Classifier) Classify(ctx context.Context, row universe.Row, eventLockout bool, now time.Time) *Packet {
	packet := c.classifierPacket(ctx, row, now)
	if packet == nil {
		packet = FallbackPacket(row.Metrics, now)
	}
	ApplyHardRules(packet, c.cfg.ConfidenceFloor, eventLockout)
	return packet
}

func (c *Classifier) classifierPacket(ctx context.Context, row universe.Row, now time.Time) *Packet {
	if c.client == nil || !c.client.IsConfigured() {
		return nil
	}

	response, err := c.client.Complete(ctx, systemPrompt, buildUserPrompt(row))
	if err != nil {
		c.log.Warn("classifier call failed, using fallback", "pair", string(row.Pair), "error", err)
		return nil
	}

	var raw rawPacket
	if err := json.Unmarshal([]byte(llm.StripMarkdownFences(response)), &raw); err != nil {
		c.log.Warn("classifier returned malformed JSON, using fallback", "pair", string(row.Pair), "error", err)
		return nil
	}

	return c.normalize(row.Pair, raw, now)
}

func buildUserPrompt(row universe.Row) string {
	m := row.Metrics
	return fmt.Sprintf(
		"pair=%s price=%.5f spread_pips=%.2f spread_to_atr=%.3f atr_1h=%.5f atr_4h=%.5f atr_pct=%.3f trend_strength=%.2f trend_direction=%s chop=%.2f shock=%t session=%s eligibility_score=%.3f rank=%d",
		m.Pair, m.Price, m.SpreadPips, m.SpreadToATR1h, m.ATR1h, m.ATR4h, m.ATRPercent,
		m.TrendStrength, m.TrendDirection, m.ChopScore, m.Shock, m.Session, row.Score, row.Rank,
	)
}

// normalize coerces every raw field into the allowed sets. Invalid
// values take the conservative fallback and tag the packet rather than
// rejecting the whole response.
func (c *Classifier) normalize(pair market.Pair, raw rawPacket, now time.Time) *Packet {
	p := &Packet{
		Pair:        pair,
		GeneratedAt: now,
		Source:      "classifier",
	}

	coerced := false

	p.Regime = Regime(strings.ToLower(strings.TrimSpace(raw.Regime)))
	if !validRegime(p.Regime) {
		p.Regime = RegimeRange
		coerced = true
	}

	p.Permission = Permission(strings.ToLower(strings.TrimSpace(raw.Permission)))
	if !validPermission(p.Permission) {
		p.Permission = PermissionFlat
		coerced = true
	}

	p.RiskState = strings.ToLower(strings.TrimSpace(raw.RiskState))
	if !validRiskState(p.RiskState) {
		p.RiskState = RiskStateElevated
		coerced = true
	}

	conf, err := raw.Confidence.Float64()
	if err != nil || math.IsNaN(conf) {
		conf = 0
		coerced = true
	}
	if conf < 0 || conf > 1 {
		coerced = true
	}
	p.Confidence = clampConfidence(conf)

	seen := make(map[Module]bool)
	for _, s := range raw.AllowedModules {
		m := Module(strings.ToLower(strings.TrimSpace(s)))
		if !validModule(m) {
			coerced = true
			continue
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		p.AllowedModules = append(p.AllowedModules, m)
	}
	if len(p.AllowedModules) == 0 {
		p.AllowedModules = []Module{ModuleNone}
	}

	p.Context = Context{
		NearestSupport:    finiteOrNil(raw.NearestSupport),
		NearestResistance: finiteOrNil(raw.NearestResistance),
		SupportDistATR:    finiteOrNil(raw.SupportDistATR),
		ResistanceDistATR: finiteOrNil(raw.ResistanceDistATR),
	}

	if coerced {
		p.addReason(ReasonFieldCoerced)
	}
	return p
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
