package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the immutable engine configuration. It is built once in main
// from config.json plus environment overrides and passed down; components
// never read the environment themselves.
type Config struct {
	EngineConfig    EngineConfig    `json:"engine"`
	MarketConfig    MarketConfig    `json:"market"`
	CalendarConfig  CalendarConfig  `json:"calendar"`
	UniverseConfig  UniverseConfig  `json:"universe"`
	RegimeConfig    RegimeConfig    `json:"regime"`
	RiskConfig      RiskConfig      `json:"risk"`
	ModulesConfig   ModulesConfig   `json:"modules"`
	LifecycleConfig LifecycleConfig `json:"lifecycle"`
	JournalConfig   JournalConfig   `json:"journal"`
	BrokerConfig    BrokerConfig    `json:"broker"`
	ServerConfig    ServerConfig    `json:"server"`
	RedisConfig     RedisConfig     `json:"redis"`
	VaultConfig     VaultConfig     `json:"vault"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// EngineConfig holds cycle cadences and the traded universe.
type EngineConfig struct {
	Pairs               []string `json:"pairs"`                 // e.g. ["EURUSD", "GBPJPY"]
	ScanIntervalSecs    int      `json:"scan_interval_secs"`    // cadence of the scan cycle
	RegimeIntervalSecs  int      `json:"regime_interval_secs"`  // cadence of the regime cycle
	ExecuteIntervalSecs int      `json:"execute_interval_secs"` // cadence of the execute cycle
	DryRun              bool     `json:"dry_run"`               // simulate broker orders
}

// MarketConfig holds market-data provider settings.
type MarketConfig struct {
	BaseURL       string   `json:"base_url"`
	StreamURL     string   `json:"stream_url"`
	TimeoutSecs   int      `json:"timeout_secs"`
	FineTimeframe string   `json:"fine_timeframe"` // timeframe modules evaluate on, e.g. "5m"
	Timeframes    []string `json:"timeframes"`     // resolutions requested per snapshot
}

// CalendarConfig holds economic-calendar gate settings.
type CalendarConfig struct {
	BaseURL             string   `json:"base_url"`
	TimeoutSecs         int      `json:"timeout_secs"`
	RefreshIntervalMins int      `json:"refresh_interval_mins"` // skip refresh inside this window
	StaleAfterMins      int      `json:"stale_after_mins"`      // snapshot older than this is stale
	PreBlockMins        int      `json:"pre_block_mins"`        // entry block before event time
	PostBlockMins       int      `json:"post_block_mins"`       // entry block after event time
	BlockedImpacts      []string `json:"blocked_impacts"`       // impacts that block entries
	MaxCallsPerDay      int      `json:"max_calls_per_day"`
}

// UniverseConfig holds pair-selection thresholds.
type UniverseConfig struct {
	MaxSpreadToATR  float64 `json:"max_spread_to_atr"` // spread / 1h ATR ceiling
	MinATRPercent   float64 `json:"min_atr_percent"`   // minimum 1h ATR as % of price
	MinScore        float64 `json:"min_score"`
	InactiveSession string  `json:"inactive_session"` // session tag that disables a pair
}

// RegimeConfig holds classifier settings.
type RegimeConfig struct {
	Provider        string  `json:"provider"` // "claude", "openai", or "deepseek"
	APIKey          string  `json:"api_key"`
	Model           string  `json:"model"`
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	TimeoutSecs     int     `json:"timeout_secs"`
	ConfidenceFloor float64 `json:"confidence_floor"`  // below this, permission forced flat
	StaleAfterMins  int     `json:"stale_after_mins"`  // packet age threshold
}

// RiskConfig holds risk caps and sizing parameters.
type RiskConfig struct {
	PortfolioRiskCapPct  float64  `json:"portfolio_risk_cap_pct"`  // 0 disables the check
	CurrencyRiskCapPct   float64  `json:"currency_risk_cap_pct"`   // 0 disables the check
	RiskPerTradePct      float64  `json:"risk_per_trade_pct"`
	FallbackRiskPct      float64  `json:"fallback_risk_pct"`       // assumed risk for unsizable positions
	FallbackNotional     float64  `json:"fallback_notional"`       // flat notional when equity sizing fails
	MaxLeverage          int      `json:"max_leverage"`
	MaxSpreadPips        float64  `json:"max_spread_pips"`
	MaxSpreadToATR       float64  `json:"max_spread_to_atr"`
	SessionStressPips    float64  `json:"session_stress_pips"`     // tighter pips cap near session edges
	SessionEdgesUTC      []string `json:"session_edges_utc"`       // "HH:MM" session boundary times
	SessionEdgeWindowMin int      `json:"session_edge_window_min"` // +/- minutes around an edge
	RolloverStartUTC     string   `json:"rollover_start_utc"`      // "HH:MM"
	RolloverBlackoutMin  int      `json:"rollover_blackout_min"`   // entry blackout before rollover
	ShockCooldownMins    int      `json:"shock_cooldown_mins"`
	MaxCurrencyExposure  float64  `json:"max_currency_exposure"`   // open notional share per currency
}

// ModulesConfig holds per-module tuning.
type ModulesConfig struct {
	PullbackFastEMA      int     `json:"pullback_fast_ema"`
	PullbackSlowEMA      int     `json:"pullback_slow_ema"`
	PullbackSwingBars    int     `json:"pullback_swing_bars"`
	PullbackStopATR      float64 `json:"pullback_stop_atr"`
	BreakoutRangeBars    int     `json:"breakout_range_bars"`
	BreakoutBufferATR    float64 `json:"breakout_buffer_atr"`
	RangeBoundaryBars    int     `json:"range_boundary_bars"`
	RangeMinWidthATR     float64 `json:"range_min_width_atr"`
	RangeMaxTrend        float64 `json:"range_max_trend"`
	RangeMinChop         float64 `json:"range_min_chop"`
	RangeKillATR         float64 `json:"range_kill_atr"`
	RangeStopATR         float64 `json:"range_stop_atr"`
	ATRPeriod            int     `json:"atr_period"`
}

// LifecycleConfig holds exit-rule thresholds and reentry locks.
type LifecycleConfig struct {
	NoFollowThroughBars int     `json:"no_follow_through_bars"` // bar age before the MFE check
	MinFollowThroughR   float64 `json:"min_follow_through_r"`   // MFE (in R) required by then
	MaxHoldHours        float64 `json:"max_hold_hours"`
	EventLockMins       int     `json:"event_lock_mins"`
	RegimeFlipLockMins  int     `json:"regime_flip_lock_mins"`
	TimeStopLockMins    int     `json:"time_stop_lock_mins"`
	StopLockMins        int     `json:"stop_lock_mins"` // may be zero
}

// JournalConfig bounds the audit journal.
type JournalConfig struct {
	MaxEntries    int `json:"max_entries"`
	MaxEntryBytes int `json:"max_entry_bytes"`
}

// BrokerConfig holds execution API settings.
type BrokerConfig struct {
	BaseURL     string `json:"base_url"`
	APIKey      string `json:"api_key"`
	SecretKey   string `json:"secret_key"`
	TimeoutSecs int    `json:"timeout_secs"`
}

// ServerConfig holds the HTTP trigger/status server settings.
type ServerConfig struct {
	Port           int    `json:"port"`
	Host           string `json:"host"`
	AllowedOrigins string `json:"allowed_origins"`
}

// RedisConfig holds the key-value store connection settings.
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// VaultConfig holds secret-resolution settings.
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"`
}

// Load reads config.json if present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return &config, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.EngineConfig.Pairs) == 0 {
		cfg.EngineConfig.Pairs = []string{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD", "USDCAD", "EURJPY"}
	}
	setIntDefault(&cfg.EngineConfig.ScanIntervalSecs, 300)
	setIntDefault(&cfg.EngineConfig.RegimeIntervalSecs, 900)
	setIntDefault(&cfg.EngineConfig.ExecuteIntervalSecs, 300)

	setIntDefault(&cfg.MarketConfig.TimeoutSecs, 10)
	if cfg.MarketConfig.FineTimeframe == "" {
		cfg.MarketConfig.FineTimeframe = "5m"
	}
	if len(cfg.MarketConfig.Timeframes) == 0 {
		cfg.MarketConfig.Timeframes = []string{"5m", "1h", "4h"}
	}

	setIntDefault(&cfg.CalendarConfig.TimeoutSecs, 15)
	setIntDefault(&cfg.CalendarConfig.RefreshIntervalMins, 30)
	setIntDefault(&cfg.CalendarConfig.StaleAfterMins, 180)
	setIntDefault(&cfg.CalendarConfig.PreBlockMins, 30)
	setIntDefault(&cfg.CalendarConfig.PostBlockMins, 30)
	setIntDefault(&cfg.CalendarConfig.MaxCallsPerDay, 96)
	if len(cfg.CalendarConfig.BlockedImpacts) == 0 {
		cfg.CalendarConfig.BlockedImpacts = []string{"HIGH", "MEDIUM"}
	}

	setFloatDefault(&cfg.UniverseConfig.MaxSpreadToATR, 0.25)
	setFloatDefault(&cfg.UniverseConfig.MinATRPercent, 0.05)
	setFloatDefault(&cfg.UniverseConfig.MinScore, 0.35)
	if cfg.UniverseConfig.InactiveSession == "" {
		cfg.UniverseConfig.InactiveSession = "dead"
	}

	if cfg.RegimeConfig.Provider == "" {
		cfg.RegimeConfig.Provider = "claude"
	}
	if cfg.RegimeConfig.Model == "" {
		cfg.RegimeConfig.Model = "claude-3-haiku-20240307"
	}
	setIntDefault(&cfg.RegimeConfig.MaxTokens, 1024)
	setFloatDefault(&cfg.RegimeConfig.Temperature, 0.2)
	setIntDefault(&cfg.RegimeConfig.TimeoutSecs, 30)
	setFloatDefault(&cfg.RegimeConfig.ConfidenceFloor, 0.55)
	setIntDefault(&cfg.RegimeConfig.StaleAfterMins, 120)

	setFloatDefault(&cfg.RiskConfig.PortfolioRiskCapPct, 6.0)
	setFloatDefault(&cfg.RiskConfig.CurrencyRiskCapPct, 3.0)
	setFloatDefault(&cfg.RiskConfig.RiskPerTradePct, 1.0)
	setFloatDefault(&cfg.RiskConfig.FallbackRiskPct, 1.0)
	setFloatDefault(&cfg.RiskConfig.FallbackNotional, 1000)
	setIntDefault(&cfg.RiskConfig.MaxLeverage, 3)
	setFloatDefault(&cfg.RiskConfig.MaxSpreadPips, 3.0)
	setFloatDefault(&cfg.RiskConfig.MaxSpreadToATR, 0.30)
	setFloatDefault(&cfg.RiskConfig.SessionStressPips, 1.5)
	if len(cfg.RiskConfig.SessionEdgesUTC) == 0 {
		cfg.RiskConfig.SessionEdgesUTC = []string{"07:00", "12:00", "21:00"}
	}
	setIntDefault(&cfg.RiskConfig.SessionEdgeWindowMin, 20)
	if cfg.RiskConfig.RolloverStartUTC == "" {
		cfg.RiskConfig.RolloverStartUTC = "21:55"
	}
	setIntDefault(&cfg.RiskConfig.RolloverBlackoutMin, 25)
	setIntDefault(&cfg.RiskConfig.ShockCooldownMins, 45)
	setFloatDefault(&cfg.RiskConfig.MaxCurrencyExposure, 0.40)

	setIntDefault(&cfg.ModulesConfig.PullbackFastEMA, 8)
	setIntDefault(&cfg.ModulesConfig.PullbackSlowEMA, 21)
	setIntDefault(&cfg.ModulesConfig.PullbackSwingBars, 10)
	setFloatDefault(&cfg.ModulesConfig.PullbackStopATR, 0.5)
	setIntDefault(&cfg.ModulesConfig.BreakoutRangeBars, 20)
	setFloatDefault(&cfg.ModulesConfig.BreakoutBufferATR, 0.25)
	setIntDefault(&cfg.ModulesConfig.RangeBoundaryBars, 20)
	setFloatDefault(&cfg.ModulesConfig.RangeMinWidthATR, 2.0)
	setFloatDefault(&cfg.ModulesConfig.RangeMaxTrend, 0.40)
	setFloatDefault(&cfg.ModulesConfig.RangeMinChop, 0.55)
	setFloatDefault(&cfg.ModulesConfig.RangeKillATR, 0.75)
	setFloatDefault(&cfg.ModulesConfig.RangeStopATR, 0.35)
	setIntDefault(&cfg.ModulesConfig.ATRPeriod, 14)

	setIntDefault(&cfg.LifecycleConfig.NoFollowThroughBars, 18)
	setFloatDefault(&cfg.LifecycleConfig.MinFollowThroughR, 0.3)
	setFloatDefault(&cfg.LifecycleConfig.MaxHoldHours, 48)
	setIntDefault(&cfg.LifecycleConfig.EventLockMins, 90)
	setIntDefault(&cfg.LifecycleConfig.RegimeFlipLockMins, 60)
	setIntDefault(&cfg.LifecycleConfig.TimeStopLockMins, 45)

	setIntDefault(&cfg.JournalConfig.MaxEntries, 500)
	setIntDefault(&cfg.JournalConfig.MaxEntryBytes, 4096)

	setIntDefault(&cfg.BrokerConfig.TimeoutSecs, 10)

	setIntDefault(&cfg.ServerConfig.Port, 8080)
	if cfg.ServerConfig.Host == "" {
		cfg.ServerConfig.Host = "0.0.0.0"
	}
	if cfg.ServerConfig.AllowedOrigins == "" {
		cfg.ServerConfig.AllowedOrigins = "*"
	}

	if cfg.RedisConfig.Address == "" {
		cfg.RedisConfig.Address = "localhost:6379"
	}
	setIntDefault(&cfg.RedisConfig.PoolSize, 10)

	if cfg.LoggingConfig.Level == "" {
		cfg.LoggingConfig.Level = "INFO"
	}
	if cfg.LoggingConfig.Output == "" {
		cfg.LoggingConfig.Output = "stdout"
	}
}

func applyEnvOverrides(cfg *Config) {
	if pairs := os.Getenv("ENGINE_PAIRS"); pairs != "" {
		cfg.EngineConfig.Pairs = splitAndTrim(pairs)
	}
	cfg.EngineConfig.ScanIntervalSecs = getEnvIntOrDefault("ENGINE_SCAN_INTERVAL_SECS", cfg.EngineConfig.ScanIntervalSecs)
	cfg.EngineConfig.RegimeIntervalSecs = getEnvIntOrDefault("ENGINE_REGIME_INTERVAL_SECS", cfg.EngineConfig.RegimeIntervalSecs)
	cfg.EngineConfig.ExecuteIntervalSecs = getEnvIntOrDefault("ENGINE_EXECUTE_INTERVAL_SECS", cfg.EngineConfig.ExecuteIntervalSecs)
	cfg.EngineConfig.DryRun = getEnvOrDefault("ENGINE_DRY_RUN", boolString(cfg.EngineConfig.DryRun)) == "true"

	cfg.MarketConfig.BaseURL = getEnvOrDefault("MARKET_BASE_URL", cfg.MarketConfig.BaseURL)
	cfg.MarketConfig.StreamURL = getEnvOrDefault("MARKET_STREAM_URL", cfg.MarketConfig.StreamURL)

	cfg.CalendarConfig.BaseURL = getEnvOrDefault("CALENDAR_BASE_URL", cfg.CalendarConfig.BaseURL)
	cfg.CalendarConfig.RefreshIntervalMins = getEnvIntOrDefault("CALENDAR_REFRESH_INTERVAL_MINS", cfg.CalendarConfig.RefreshIntervalMins)
	cfg.CalendarConfig.StaleAfterMins = getEnvIntOrDefault("CALENDAR_STALE_AFTER_MINS", cfg.CalendarConfig.StaleAfterMins)
	cfg.CalendarConfig.PreBlockMins = getEnvIntOrDefault("CALENDAR_PRE_BLOCK_MINS", cfg.CalendarConfig.PreBlockMins)
	cfg.CalendarConfig.PostBlockMins = getEnvIntOrDefault("CALENDAR_POST_BLOCK_MINS", cfg.CalendarConfig.PostBlockMins)

	cfg.RegimeConfig.Provider = getEnvOrDefault("REGIME_LLM_PROVIDER", cfg.RegimeConfig.Provider)
	cfg.RegimeConfig.APIKey = getEnvOrDefault("REGIME_LLM_API_KEY", cfg.RegimeConfig.APIKey)
	cfg.RegimeConfig.Model = getEnvOrDefault("REGIME_LLM_MODEL", cfg.RegimeConfig.Model)
	cfg.RegimeConfig.StaleAfterMins = getEnvIntOrDefault("REGIME_STALE_AFTER_MINS", cfg.RegimeConfig.StaleAfterMins)

	cfg.RiskConfig.PortfolioRiskCapPct = getEnvFloatOrDefault("RISK_PORTFOLIO_CAP_PCT", cfg.RiskConfig.PortfolioRiskCapPct)
	cfg.RiskConfig.CurrencyRiskCapPct = getEnvFloatOrDefault("RISK_CURRENCY_CAP_PCT", cfg.RiskConfig.CurrencyRiskCapPct)
	cfg.RiskConfig.RiskPerTradePct = getEnvFloatOrDefault("RISK_PER_TRADE_PCT", cfg.RiskConfig.RiskPerTradePct)
	cfg.RiskConfig.MaxLeverage = getEnvIntOrDefault("RISK_MAX_LEVERAGE", cfg.RiskConfig.MaxLeverage)

	cfg.BrokerConfig.BaseURL = getEnvOrDefault("BROKER_BASE_URL", cfg.BrokerConfig.BaseURL)
	cfg.BrokerConfig.APIKey = getEnvOrDefault("BROKER_API_KEY", cfg.BrokerConfig.APIKey)
	cfg.BrokerConfig.SecretKey = getEnvOrDefault("BROKER_SECRET_KEY", cfg.BrokerConfig.SecretKey)

	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.VaultConfig.Enabled = getEnvOrDefault("VAULT_ENABLED", boolString(cfg.VaultConfig.Enabled)) == "true"
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", valueOr(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", valueOr(cfg.VaultConfig.SecretPath, "fx-engine/api-keys"))

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"
}

// ScanInterval returns the scan cadence as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.EngineConfig.ScanIntervalSecs) * time.Second
}

// RegimeInterval returns the regime cadence as a duration.
func (c *Config) RegimeInterval() time.Duration {
	return time.Duration(c.EngineConfig.RegimeIntervalSecs) * time.Second
}

// ExecuteInterval returns the execute cadence as a duration.
func (c *Config) ExecuteInterval() time.Duration {
	return time.Duration(c.EngineConfig.ExecuteIntervalSecs) * time.Second
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func setIntDefault(field *int, def int) {
	if *field == 0 {
		*field = def
	}
}

func setFloatDefault(field *float64, def float64) {
	if *field == 0 {
		*field = def
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func valueOr(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
