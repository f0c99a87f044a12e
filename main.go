package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"fx-trading-engine/config"
	"fx-trading-engine/internal/api"
	"fx-trading-engine/internal/broker"
	"fx-trading-engine/internal/calendar"
	"fx-trading-engine/internal/engine"
	"fx-trading-engine/internal/journal"
	"fx-trading-engine/internal/lifecycle"
	"fx-trading-engine/internal/logging"
	"fx-trading-engine/internal/market"
	"fx-trading-engine/internal/regime"
	"fx-trading-engine/internal/regime/llm"
	"fx-trading-engine/internal/risk"
	"fx-trading-engine/internal/store"
	"fx-trading-engine/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("structured logging initialized")

	st := store.NewRedisStore(redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Address,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
		PoolSize: cfg.RedisConfig.PoolSize,
	}))

	// Secrets from Vault override file/env credentials when enabled.
	if vc, err := vault.NewClient(cfg.VaultConfig); err != nil {
		logger.Warn("vault client init failed", "error", err.Error())
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		secrets, err := vc.Load(ctx)
		cancel()
		if err != nil {
			logger.Warn("vault secret load failed", "error", err.Error())
		} else {
			secrets.Apply(cfg)
		}
	}

	marketClient := market.NewClient(market.ClientConfig{
		BaseURL: cfg.MarketConfig.BaseURL,
		Timeout: time.Duration(cfg.MarketConfig.TimeoutSecs) * time.Second,
	})

	pairs := make([]market.Pair, 0, len(cfg.EngineConfig.Pairs))
	for _, p := range cfg.EngineConfig.Pairs {
		pair := market.Pair(p)
		if pair.Valid() {
			pairs = append(pairs, pair)
		}
	}

	var stream *market.Stream
	if cfg.MarketConfig.StreamURL != "" {
		stream = market.NewStream(cfg.MarketConfig.StreamURL, pairs)
		stream.Start()
		marketClient.SetStream(stream)
		logger.Info("book-top stream started", "url", cfg.MarketConfig.StreamURL)
	}

	gate := calendar.NewGate(
		calendar.NewClient(calendar.ClientConfig{
			BaseURL: cfg.CalendarConfig.BaseURL,
			Timeout: time.Duration(cfg.CalendarConfig.TimeoutSecs) * time.Second,
		}),
		st,
		gateConfig(cfg.CalendarConfig),
		logger,
	)

	classifier := regime.NewClassifier(llm.NewClient(llm.ClientConfig{
		Provider:    llm.Provider(cfg.RegimeConfig.Provider),
		APIKey:      cfg.RegimeConfig.APIKey,
		Model:       cfg.RegimeConfig.Model,
		MaxTokens:   cfg.RegimeConfig.MaxTokens,
		Temperature: cfg.RegimeConfig.Temperature,
		Timeout:     time.Duration(cfg.RegimeConfig.TimeoutSecs) * time.Second,
	}), cfg.RegimeConfig, logger)

	jnl := journal.New(st, cfg.JournalConfig, logger)
	exec := broker.NewRESTExecutor(cfg.BrokerConfig, cfg.EngineConfig.DryRun)

	eng := engine.New(cfg, st, marketClient, gate, classifier,
		risk.NewEngine(cfg.RiskConfig, st, logger),
		lifecycle.NewManager(cfg.LifecycleConfig, logger),
		exec, jnl, logger)

	server := api.NewServer(cfg.ServerConfig, eng, gate, jnl, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("http server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	go runScheduler(schedCtx, cfg, eng, logger)
	go watchRedis(schedCtx, st, logger)

	logger.Info("engine started",
		"pairs", len(pairs),
		"dry_run", cfg.EngineConfig.DryRun,
		"port", cfg.ServerConfig.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopScheduler()
	if stream != nil {
		stream.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err.Error())
	}
}

// runScheduler drives the three cycles on their configured cadences.
// An initial scan and regime pass runs at startup so the first execute
// tick has snapshots to work from.
func runScheduler(ctx context.Context, cfg *config.Config, eng *engine.Engine, logger *logging.Logger) {
	log := logger.WithComponent("scheduler")

	if _, err := eng.RunScan(ctx, time.Now().UTC()); err != nil {
		log.Error("initial scan failed", "error", err.Error())
	}
	if _, err := eng.RunRegime(ctx, time.Now().UTC()); err != nil {
		log.Error("initial regime failed", "error", err.Error())
	}

	scanTicker := time.NewTicker(cfg.ScanInterval())
	regimeTicker := time.NewTicker(cfg.RegimeInterval())
	executeTicker := time.NewTicker(cfg.ExecuteInterval())
	defer scanTicker.Stop()
	defer regimeTicker.Stop()
	defer executeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scanTicker.C:
			if _, err := eng.RunScan(ctx, time.Now().UTC()); err != nil {
				log.Error("scan cycle failed", "error", err.Error())
			}
		case <-regimeTicker.C:
			if _, err := eng.RunRegime(ctx, time.Now().UTC()); err != nil {
				log.Error("regime cycle failed", "error", err.Error())
			}
		case <-executeTicker.C:
			if _, err := eng.RunExecute(ctx, time.Now().UTC()); err != nil {
				log.Error("execute cycle failed", "error", err.Error())
			}
		}
	}
}

// watchRedis periodically re-checks Redis availability so the store can
// leave fallback mode once a transient outage clears.
func watchRedis(ctx context.Context, st *store.RedisStore, logger *logging.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := st.CheckConnection(pingCtx); err != nil {
				logger.Debug("redis health check failed", "error", err.Error())
			}
			cancel()
		}
	}
}

func gateConfig(cfg config.CalendarConfig) calendar.GateConfig {
	impacts := make([]calendar.Impact, 0, len(cfg.BlockedImpacts))
	for _, s := range cfg.BlockedImpacts {
		impacts = append(impacts, calendar.Impact(s))
	}
	return calendar.GateConfig{
		RefreshInterval: time.Duration(cfg.RefreshIntervalMins) * time.Minute,
		StaleAfter:      time.Duration(cfg.StaleAfterMins) * time.Minute,
		PreBlock:        time.Duration(cfg.PreBlockMins) * time.Minute,
		PostBlock:       time.Duration(cfg.PostBlockMins) * time.Minute,
		BlockedImpacts:  impacts,
		MaxCallsPerDay:  cfg.MaxCallsPerDay,
	}
}
