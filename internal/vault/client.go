// Package vault resolves runtime secrets from HashiCorp Vault so API
// keys never have to live in config files.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"fx-trading-engine/config"
)

// Secrets holds the credentials the engine resolves at startup.
type Secrets struct {
	ClassifierAPIKey string `json:"classifier_api_key"`
	BrokerAPIKey     string `json:"broker_api_key"`
	BrokerSecretKey  string `json:"broker_secret_key"`
	CalendarAPIKey   string `json:"calendar_api_key"`
}

// Client wraps the HashiCorp Vault client. When Vault is disabled the
// client is inert and Load returns empty secrets so config/env values
// win.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu     sync.RWMutex
	cached *Secrets
}

// NewClient creates a Vault client. A disabled config yields a no-op
// client rather than an error.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// Load reads the engine's secrets from the configured KV v2 path.
// Results are cached for the process lifetime.
func (c *Client) Load(ctx context.Context) (*Secrets, error) {
	if !c.config.Enabled {
		return &Secrets{}, nil
	}

	c.mu.RLock()
	if c.cached != nil {
		defer c.mu.RUnlock()
		return c.cached, nil
	}
	c.mu.RUnlock()

	path := fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", path)
	}

	out := &Secrets{
		ClassifierAPIKey: stringField(data, "classifier_api_key"),
		BrokerAPIKey:     stringField(data, "broker_api_key"),
		BrokerSecretKey:  stringField(data, "broker_secret_key"),
		CalendarAPIKey:   stringField(data, "calendar_api_key"),
	}

	c.mu.Lock()
	c.cached = out
	c.mu.Unlock()
	return out, nil
}

// Apply overlays non-empty secrets onto the config.
func (s *Secrets) Apply(cfg *config.Config) {
	if s.ClassifierAPIKey != "" {
		cfg.RegimeConfig.APIKey = s.ClassifierAPIKey
	}
	if s.BrokerAPIKey != "" {
		cfg.BrokerConfig.APIKey = s.BrokerAPIKey
	}
	if s.BrokerSecretKey != "" {
		cfg.BrokerConfig.SecretKey = s.BrokerSecretKey
	}
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
