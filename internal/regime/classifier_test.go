package regime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/logging"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/regime/llm"
	"fx-trading-engine/internal/universe"
)

var clsNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func eligibleRow(pair market.Pair) universe.Row {
	return universe.Row{
		Pair:     pair,
		Eligible: true,
		Rank:     1,
		Score:    0.7,
		Metrics: market.PairMetrics{
			Pair:           pair,
			Price:          1.0850,
			SpreadToATR1h:  0.08,
			ATRPercent:     0.10,
			TrendStrength:  0.7,
			TrendDirection: "up",
			ChopScore:      0.2,
			Session:        "london",
		},
	}
}

// claudeServer wraps a raw model reply in the Claude response envelope.
func claudeServer(t *testing.T, modelText string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"content":[{"type":"text","text":%q}]}`, modelText)
	}))
}

func classifierAgainst(srv *httptest.Server) *Classifier {
	client := llm.NewClient(llm.ClientConfig{
		Provider: llm.ProviderClaude,
		APIKey:   "test-key",
		Model:    "test-model",
		BaseURL:  srv.URL,
	})
	cfg := config.RegimeConfig{ConfidenceFloor: 0.55, StaleAfterMins: 120}
	return NewClassifier(client, cfg, logging.Default())
}

func TestClassifyNormalizesWellFormedResponse(t *testing.T) {
	srv := claudeServer(t, "```json\n{\"regime\":\"TREND_UP\",\"permission\":\"long_only\",\"allowed_modules\":[\"pullback\",\"pullback\"],\"risk_state\":\"normal\",\"confidence\":0.82}\n```")
	defer srv.Close()

	p := classifierAgainst(srv).Classify(context.Background(), eligibleRow("EURUSD"), false, clsNow)
	if p.Source != "classifier" {
		t.Fatalf("expected classifier path, got %s (%v)", p.Source, p.ReasonCodes)
	}
	if p.Regime != RegimeTrendUp || p.Permission != PermissionLongOnly {
		t.Errorf("got %s/%s", p.Regime, p.Permission)
	}
	if p.Confidence != 0.82 {
		t.Errorf("confidence = %v", p.Confidence)
	}
	if !modulesAre(p.AllowedModules, ModulePullback) {
		t.Errorf("modules = %v", p.AllowedModules)
	}
	if !p.GeneratedAt.Equal(clsNow) {
		t.Errorf("generatedAt = %v, want the supplied now", p.GeneratedAt)
	}
}

func TestClassifyCoercesInvalidFields(t *testing.T) {
	srv := claudeServer(t, `{"regime":"sideways","permission":"yolo","allowed_modules":["martingale"],"risk_state":"chill","confidence":3.5}`)
	defer srv.Close()

	p := classifierAgainst(srv).Classify(context.Background(), eligibleRow("EURUSD"), false, clsNow)
	if p.Source != "classifier" {
		t.Fatalf("coercion must not fall back, got %s", p.Source)
	}
	if p.Regime != RegimeRange {
		t.Errorf("invalid regime coerced to %s, want range", p.Regime)
	}
	if p.Permission != PermissionFlat {
		t.Errorf("invalid permission coerced to %s, want flat", p.Permission)
	}
	if p.RiskState != RiskStateElevated {
		t.Errorf("invalid risk state coerced to %s, want elevated", p.RiskState)
	}
	if p.Confidence != 1.0 {
		t.Errorf("confidence clamped to %v, want 1.0", p.Confidence)
	}
	if !hasReason(p, ReasonFieldCoerced) {
		t.Errorf("missing coercion reason: %v", p.ReasonCodes)
	}
	if !modulesAre(p.AllowedModules, ModuleNone) {
		t.Errorf("flat packet modules = %v", p.AllowedModules)
	}
}

func TestClassifyFallsBackOnMalformedJSON(t *testing.T) {
	srv := claudeServer(t, "the market looks choppy today")
	defer srv.Close()

	p := classifierAgainst(srv).Classify(context.Background(), eligibleRow("EURUSD"), false, clsNow)
	if p.Source != "fallback" || !hasReason(p, ReasonFallbackPacket) {
		t.Errorf("expected fallback packet, got %+v", p)
	}
}

func TestClassifyFallsBackOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	srv.Close() // connection refused

	p := classifierAgainst(srv).Classify(context.Background(), eligibleRow("EURUSD"), false, clsNow)
	if p.Source != "fallback" {
		t.Errorf("expected fallback packet, got %s", p.Source)
	}
}

func TestClassifyUnconfiguredClientUsesFallback(t *testing.T) {
	client := llm.NewClient(llm.ClientConfig{Provider: llm.ProviderClaude})
	c := NewClassifier(client, config.RegimeConfig{ConfidenceFloor: 0.55}, logging.Default())

	p := c.Classify(context.Background(), eligibleRow("EURUSD"), false, clsNow)
	if p.Source != "fallback" {
		t.Errorf("expected fallback packet, got %s", p.Source)
	}
}

func TestFallbackPacketCases(t *testing.T) {
	base := market.PairMetrics{
		Pair:           "EURUSD",
		Price:          1.0850,
		SpreadToATR1h:  0.08,
		ATRPercent:     0.10,
		TrendStrength:  0.3,
		TrendDirection: "flat",
		ChopScore:      0.5,
	}

	tests := []struct {
		name       string
		mutate     func(*market.PairMetrics)
		regime     Regime
		permission Permission
		riskState  string
	}{
		{"excess spread forces flat", func(m *market.PairMetrics) { m.SpreadToATR1h = 0.40 }, RegimeHighVol, PermissionFlat, RiskStateElevated},
		{"shock", func(m *market.PairMetrics) { m.Shock = true }, RegimeHighVol, PermissionBoth, RiskStateElevated},
		{"clear range", func(m *market.PairMetrics) {
			m.ChopScore = 0.75
			m.TrendStrength = 0.2
			m.SpreadToATR1h = 0.05
		}, RegimeRange, PermissionBoth, RiskStateNormal},
		{"strong uptrend", func(m *market.PairMetrics) {
			m.TrendStrength = 0.8
			m.TrendDirection = "up"
			m.ChopScore = 0.2
		}, RegimeTrendUp, PermissionLongOnly, RiskStateNormal},
		{"strong downtrend", func(m *market.PairMetrics) {
			m.TrendStrength = 0.8
			m.TrendDirection = "down"
			m.ChopScore = 0.2
		}, RegimeTrendDown, PermissionShortOnly, RiskStateNormal},
		{"unclear defaults flat", func(m *market.PairMetrics) {}, RegimeRange, PermissionFlat, RiskStateNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)
			p := FallbackPacket(m, clsNow)
			if p.Regime != tt.regime || p.Permission != tt.permission || p.RiskState != tt.riskState {
				t.Errorf("got %s/%s/%s, want %s/%s/%s",
					p.Regime, p.Permission, p.RiskState, tt.regime, tt.permission, tt.riskState)
			}
			if !hasReason(p, ReasonFallbackPacket) {
				t.Errorf("missing fallback reason: %v", p.ReasonCodes)
			}
		})
	}
}
