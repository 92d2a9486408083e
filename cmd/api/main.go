package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/perpsight/perpsight/internal/analysis"
	"github.com/perpsight/perpsight/internal/api"
	"github.com/perpsight/perpsight/internal/breaker"
	"github.com/perpsight/perpsight/internal/config"
	"github.com/perpsight/perpsight/internal/confluence"
	"github.com/perpsight/perpsight/internal/learning"
	"github.com/perpsight/perpsight/internal/market"
	"github.com/perpsight/perpsight/internal/recovery"
	"github.com/perpsight/perpsight/internal/screener"
	sigpkg "github.com/perpsight/perpsight/internal/signal"
	"github.com/perpsight/perpsight/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("Starting PerpSight API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	store := buildStore(ctx, cfg, redisClient)
	gateway := market.NewCachedGateway(
		buildGateway(cfg),
		market.NewRedisTickerCache(redisClient, 10*time.Second),
	)

	registry := learning.NewRegistry()
	registry.SetDefaultMinConfidence(cfg.Analysis.MinConfidence)
	for layer, weight := range confluence.BaseWeights() {
		registry.Seed(layer, weight)
	}
	restorePatterns(ctx, store, registry)

	learner := learning.NewLearner(registry, store, &learning.Config{
		Velocity:          cfg.Learning.Velocity,
		MinFeedback:       cfg.Learning.MinFeedback,
		NegativeThreshold: cfg.Learning.NegativeThreshold,
		PositiveThreshold: cfg.Learning.PositiveThreshold,
	})
	go learner.Run(ctx)

	breakers := breaker.NewRegistry(&breaker.Settings{
		FailureThreshold: uint32(cfg.Breaker.FailureThreshold),
		OpenTimeout:      cfg.Breaker.Cooldown(),
	})

	recoveryQueue := recovery.NewQueue(func(ctx context.Context, symbol string) error {
		return gateway.Health(ctx)
	})
	go recoveryQueue.Run(ctx)

	scorer := confluence.NewScorer(registry)
	enricher := sigpkg.NewEnricher(&sigpkg.Config{
		RiskReward:      cfg.Signals.RiskReward,
		AccountEquity:   cfg.Signals.AccountEquity,
		RiskPerTradePct: cfg.Signals.RiskPerTradePercent,
	})
	analyzer := analysis.NewAnalyzer(gateway, scorer, enricher, breakers, cfg.Analysis.Timeout())
	scr := screener.NewScreener(analyzer, &screener.Config{
		BatchSize:       cfg.Screener.BatchSize,
		RegimeBatchSize: cfg.Screener.RegimeBatchSize,
		InterBatchDelay: cfg.Screener.InterDelay(),
	})

	server := api.NewServer(api.Config{
		Host:          cfg.API.Host,
		Port:          cfg.API.Port,
		EnableMetrics: cfg.Monitoring.EnableMetrics,
		BatchSize:     cfg.Screener.BatchSize,
	}, analyzer, scr, learner, store, gateway)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("Server error")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	log.Info().Msg("Shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

// buildStore selects Postgres, Redis or the in-memory store, in that order.
func buildStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) storage.Store {
	if cfg.Database.Enabled() {
		pool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		store := storage.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
		log.Info().Str("host", cfg.Database.Host).Msg("Using Postgres storage")
		return store
	}
	if redisClient != nil {
		log.Info().Str("addr", cfg.Redis.Addr()).Msg("Using Redis storage")
		return storage.NewRedisStore(redisClient)
	}
	log.Info().Msg("Using in-memory storage")
	return storage.NewMemoryStore()
}

// buildGateway selects the live exchange client or the deterministic mock.
func buildGateway(cfg *config.Config) market.Gateway {
	if cfg.Exchange.Mock {
		log.Warn().Msg("Using mock market gateway")
		return market.NewMockGateway()
	}
	return market.NewBinanceGateway(market.BinanceConfig{
		APIKey:    cfg.Exchange.APIKey,
		SecretKey: cfg.Exchange.SecretKey,
		Testnet:   cfg.Exchange.Testnet,
	})
}

// restorePatterns loads persisted weights over the seeded defaults.
func restorePatterns(ctx context.Context, store storage.Store, registry *learning.Registry) {
	patterns, err := store.Patterns(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to restore pattern weights")
		return
	}
	for _, p := range patterns {
		registry.Restore(p)
	}
	if len(patterns) > 0 {
		log.Info().Int("patterns", len(patterns)).Msg("Restored pattern weights")
	}
}
