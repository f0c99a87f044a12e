// Package broker is the execution boundary. Orders go out through an
// Executor; the REST implementation audits every attempt with zerolog
// and short-circuits to a no-op in dry-run.
package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/market"
)

// Action is what the order does.
type Action string

const (
	ActionOpenLong  Action = "OPEN_LONG"
	ActionOpenShort Action = "OPEN_SHORT"
	ActionClose     Action = "CLOSE"
	ActionTrim      Action = "TRIM"
)

// Decision is the execution request built from a module signal or a
// lifecycle close.
type Decision struct {
	Action   Action  `json:"action"`
	Leverage int     `json:"leverage"`
	Reason   string  `json:"reason"`
	StopLoss float64 `json:"stop_loss,omitempty"`
	ClosePct float64 `json:"close_pct,omitempty"`
}

// Result is the broker's answer.
type Result struct {
	Placed    bool   `json:"placed"`
	OrderID   string `json:"order_id,omitempty"`
	ClientOID string `json:"client_oid"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

// Executor places and closes orders.
type Executor interface {
	Execute(ctx context.Context, pair market.Pair, notional float64, decision Decision) (*Result, error)
	Equity(ctx context.Context) (float64, error)
}

// RESTExecutor talks to the broker's HTTP API.
type RESTExecutor struct {
	cfg        config.BrokerConfig
	dryRun     bool
	httpClient *http.Client
	audit      zerolog.Logger
}

// NewRESTExecutor creates the REST executor. dryRun disables order
// placement globally; every attempt is still audited.
func NewRESTExecutor(cfg config.BrokerConfig, dryRun bool) *RESTExecutor {
	return &RESTExecutor{
		cfg:    cfg,
		dryRun: dryRun,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		},
		audit: zerolog.New(os.Stdout).With().Timestamp().Str("component", "broker").Logger(),
	}
}

type orderRequest struct {
	Pair      string  `json:"pair"`
	Action    Action  `json:"action"`
	Notional  float64 `json:"notional"`
	Leverage  int     `json:"leverage"`
	StopLoss  float64 `json:"stop_loss,omitempty"`
	ClosePct  float64 `json:"close_pct,omitempty"`
	ClientOID string  `json:"client_oid"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Execute places one order. In dry-run it returns an unplaced result
// carrying the client OID so journaling stays uniform.
func (e *RESTExecutor) Execute(ctx context.Context, pair market.Pair, notional float64, decision Decision) (*Result, error) {
	clientOID := uuid.New().String()

	e.audit.Info().
		Str("pair", string(pair)).
		Str("action", string(decision.Action)).
		Float64("notional", notional).
		Int("leverage", decision.Leverage).
		Str("reason", decision.Reason).
		Str("client_oid", clientOID).
		Bool("dry_run", e.dryRun).
		Msg("order attempt")

	if e.dryRun {
		return &Result{Placed: false, ClientOID: clientOID, DryRun: true}, nil
	}

	req := orderRequest{
		Pair:      string(pair),
		Action:    decision.Action,
		Notional:  notional,
		Leverage:  decision.Leverage,
		StopLoss:  decision.StopLoss,
		ClosePct:  decision.ClosePct,
		ClientOID: clientOID,
	}

	var resp orderResponse
	if err := e.post(ctx, "/v1/orders", req, &resp); err != nil {
		e.audit.Error().Str("pair", string(pair)).Str("client_oid", clientOID).Err(err).Msg("order failed")
		return nil, err
	}
	if resp.Error != "" {
		e.audit.Error().Str("pair", string(pair)).Str("client_oid", clientOID).Str("error", resp.Error).Msg("order rejected")
		return nil, fmt.Errorf("broker rejected order: %s", resp.Error)
	}

	e.audit.Info().
		Str("pair", string(pair)).
		Str("order_id", resp.OrderID).
		Str("client_oid", clientOID).
		Msg("order placed")

	return &Result{Placed: true, OrderID: resp.OrderID, ClientOID: clientOID}, nil
}

// Equity returns current account equity.
func (e *RESTExecutor) Equity(ctx context.Context) (float64, error) {
	var out struct {
		Equity float64 `json:"equity"`
	}
	if err := e.get(ctx, "/v1/account", &out); err != nil {
		return 0, err
	}
	return out.Equity, nil
}

func (e *RESTExecutor) post(ctx context.Context, path string, payload, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", e.cfg.APIKey)
	req.Header.Set("X-Signature", e.sign(body))
	return e.do(req, dest)
}

func (e *RESTExecutor) get(ctx context.Context, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", e.cfg.APIKey)
	req.Header.Set("X-Signature", e.sign([]byte(path)))
	return e.do(req, dest)
}

func (e *RESTExecutor) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(e.cfg.SecretKey))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (e *RESTExecutor) do(req *http.Request, dest interface{}) error {
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("broker request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read broker response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("broker status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode broker response: %w", err)
	}
	return nil
}
