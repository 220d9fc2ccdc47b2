package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"structure-engine/config"
	"structure-engine/internal/api"
	"structure-engine/internal/cache"
	"structure-engine/internal/engine"
	"structure-engine/internal/events"
	"structure-engine/internal/feed"
	"structure-engine/internal/journal"
	"structure-engine/internal/logging"
	"structure-engine/internal/market"
	"structure-engine/internal/metrics"
	"structure-engine/internal/risk"
	"structure-engine/internal/scheduler"
)

func main() {
	configPath := os.Getenv("STRUCTURE_CONFIG")
	if configPath == "" {
		configPath = "structure.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := cfg.Logging
	logCfg.Component = "main"
	logger := logging.New(logCfg)
	logger.Info().Str("config", configPath).Msg("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Service stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	reg := metrics.NewRegistry()
	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventError, func(e events.Event) {
		logger.Warn().Interface("data", e.Data).Msg("Error event")
	})

	// Snapshot cache: Redis when enabled, in-memory otherwise.
	redisClient := cache.NewRedisClient(cfg.Redis)
	snapshots := cache.NewSnapshotCache(redisClient, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var store *journal.Store
	if cfg.Database.Enabled {
		var err error
		store, err = journal.Open(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	var source feed.Source
	switch cfg.Feed.Mode {
	case config.FeedMock:
		source = feed.NewMockSource(cfg.Feed.MockSeed, time.Time{})
	default:
		source = feed.NewRESTClient(cfg.Feed.REST, logger)
	}

	analyzer := engine.NewAnalyzer(cfg.Engine, logger)
	sizer := risk.NewSizer(cfg.Risk.Sizer, logger)

	schedDeps := scheduler.Deps{
		Source:   source,
		Analyzer: analyzer,
		Cache:    snapshots,
		Bus:      eventBus,
		Metrics:  reg,
	}
	apiDeps := api.Deps{
		Analyzer:    analyzer,
		Sizer:       sizer,
		Source:      source,
		Snapshots:   snapshots,
		Bus:         eventBus,
		Metrics:     reg,
		Instruments: cfg.InstrumentMap(),
	}
	if store != nil {
		schedDeps.Journal = store
		apiDeps.Signals = store
	}

	sched := scheduler.New(schedDeps, cfg.Feed.Limit, logger)
	if err := startTriggers(ctx, cfg, sched, logger); err != nil {
		return err
	}

	server := api.NewServer(cfg.Server, apiDeps, logger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()
	logger.Info().
		Int("watches", len(cfg.Watch)).
		Str("feed", cfg.Feed.Mode).
		Str("trigger", cfg.Feed.Trigger).
		Bool("redis", redisClient != nil).
		Bool("journal", store != nil).
		Msg("Structure engine started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down...")
	case runErr = <-serverErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cfg.Feed.Trigger == config.TriggerCron {
		sched.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("Error shutting down web server")
	}
	return runErr
}

// startTriggers runs every watched series once, then either registers the
// cron jobs or follows the kline stream of each series.
func startTriggers(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler, logger zerolog.Logger) error {
	for _, w := range cfg.Watch {
		for _, tf := range w.Timeframes {
			if _, _, err := sched.RunOnce(ctx, w.Symbol, tf); err != nil {
				logger.Warn().Err(err).Str("symbol", w.Symbol).Str("timeframe", string(tf)).Msg("Initial analysis failed")
			}
		}
	}

	if cfg.Feed.Trigger == config.TriggerCron {
		if err := sched.Register(cfg.Watch); err != nil {
			return err
		}
		sched.Start(ctx)
		return nil
	}

	stream := feed.NewKlineStream(cfg.Feed.StreamURL, logger)
	for _, w := range cfg.Watch {
		for _, tf := range w.Timeframes {
			go followStream(ctx, stream, sched, w.Symbol, tf, logger)
		}
	}
	return nil
}

func followStream(ctx context.Context, stream *feed.KlineStream, sched *scheduler.Scheduler, symbol string, tf market.Timeframe, logger zerolog.Logger) {
	err := stream.Run(ctx, symbol, tf, func(bar market.Bar) {
		if _, _, err := sched.RunOnce(ctx, symbol, tf); err != nil {
			logger.Warn().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("Stream-triggered analysis failed")
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("Kline stream stopped")
	}
}
