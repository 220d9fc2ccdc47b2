// Package scheduler re-analyses every watched series shortly after each bar
// closes and publishes the signals that are new since the previous run.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"structure-engine/internal/engine"
	"structure-engine/internal/events"
	"structure-engine/internal/feed"
	"structure-engine/internal/journal"
	"structure-engine/internal/market"
	"structure-engine/internal/metrics"
)

// Watch lists the timeframes followed for one symbol.
type Watch struct {
	Symbol     string             `json:"symbol" yaml:"symbol"`
	Timeframes []market.Timeframe `json:"timeframes" yaml:"timeframes"`
}

// SnapshotStore keeps the latest snapshot per series.
type SnapshotStore interface {
	Set(ctx context.Context, snap engine.Snapshot) error
}

// Recorder journals signals.
type Recorder interface {
	Record(ctx context.Context, sig journal.Signal) (bool, error)
}

// Deps are the collaborators of a Scheduler. Only Source and Analyzer are required.
type Deps struct {
	Source   feed.Source
	Analyzer *engine.Analyzer
	Cache    SnapshotStore
	Journal  Recorder
	Bus      *events.EventBus
	Metrics  *metrics.Registry
}

// Scheduler manages the per-bar cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	deps   Deps
	logger zerolog.Logger
	limit  int
	ctx    context.Context

	mu         sync.Mutex
	watermarks map[string]time.Time
	seeded     map[string]bool
}

// New creates a scheduler that fetches limit bars per run.
func New(deps Deps, limit int, logger zerolog.Logger) *Scheduler {
	if limit <= 0 {
		limit = 500
	}
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		deps:       deps,
		logger:     logger.With().Str("component", "Scheduler").Logger(),
		limit:      limit,
		ctx:        context.Background(),
		watermarks: make(map[string]time.Time),
		seeded:     make(map[string]bool),
	}
}

// CronSpec returns a seconds-field cron spec firing five seconds after each
// bar of tf closes.
func CronSpec(tf market.Timeframe) (string, error) {
	switch tf {
	case market.TF1m:
		return "5 * * * * *", nil
	case market.TF5m:
		return "5 */5 * * * *", nil
	case market.TF15m:
		return "5 */15 * * * *", nil
	case market.TF30m:
		return "5 */30 * * * *", nil
	case market.TF1h:
		return "5 0 * * * *", nil
	case market.TF4h:
		return "5 0 */4 * * *", nil
	case market.TF1d:
		return "5 0 0 * * *", nil
	}
	return "", fmt.Errorf("no schedule for timeframe %q", tf)
}

// Register adds one job per watched series.
func (s *Scheduler) Register(watches []Watch) error {
	for _, w := range watches {
		for _, tf := range w.Timeframes {
			spec, err := CronSpec(tf)
			if err != nil {
				return err
			}
			symbol := w.Symbol
			if _, err := s.cron.AddFunc(spec, func() {
				if _, _, err := s.RunOnce(s.ctx, symbol, tf); err != nil {
					s.logger.Error().Err(err).Str("symbol", symbol).Str("timeframe", string(tf)).Msg("Scheduled analysis failed")
				}
			}); err != nil {
				return fmt.Errorf("register %s %s: %w", symbol, tf, err)
			}
		}
	}
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Analysis jobs registered")
	return nil
}

// Start runs the cron loop; jobs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info().Msg("Scheduler started")
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// RunOnce fetches, analyses, caches and journals one series, then publishes
// the signals newer than the last ones published for it. The first run of a
// series only sets the watermark so history is not replayed.
func (s *Scheduler) RunOnce(ctx context.Context, symbol string, tf market.Timeframe) (engine.Snapshot, []journal.Signal, error) {
	series, err := s.deps.Source.Bars(ctx, symbol, tf, s.limit)
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.FeedErrors.WithLabelValues(symbol, string(tf)).Inc()
		}
		return engine.Snapshot{}, nil, fmt.Errorf("fetch %s %s: %w", symbol, tf, err)
	}

	start := time.Now()
	snap := s.deps.Analyzer.Analyze(series)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveAnalysis(string(tf), time.Since(start))
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, snap); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Snapshot not cached")
		}
	}
	if s.deps.Bus != nil {
		s.deps.Bus.PublishSnapshot(symbol, string(tf), snap.State.Trend.String(), len(snap.Events))
	}

	fresh := s.newSignals(snap)
	for _, sig := range fresh {
		if s.deps.Journal != nil {
			if _, err := s.deps.Journal.Record(ctx, sig); err != nil {
				s.logger.Warn().Err(err).Str("symbol", symbol).Str("kind", sig.Kind).Msg("Signal not journalled")
			}
		}
		s.publish(sig)
	}
	return snap, fresh, nil
}

// newSignals filters the snapshot's signals through the per-kind watermark.
func (s *Scheduler) newSignals(snap engine.Snapshot) []journal.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := snap.Symbol + "|" + string(snap.Timeframe)
	seeded := s.seeded[series]
	s.seeded[series] = true

	var fresh []journal.Signal
	for _, sig := range journal.FromSnapshot(snap) {
		k := series + "|" + sig.Kind
		mark := s.watermarks[k]
		if !sig.BarTime.After(mark) {
			continue
		}
		if seeded {
			fresh = append(fresh, sig)
		}
		s.watermarks[k] = sig.BarTime
	}
	return fresh
}

func (s *Scheduler) publish(sig journal.Signal) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.EventsDetected.WithLabelValues(sig.Symbol, string(sig.Timeframe), sig.Kind, sig.Direction.String()).Inc()
	}
	s.logger.Info().
		Str("symbol", sig.Symbol).
		Str("timeframe", string(sig.Timeframe)).
		Str("kind", sig.Kind).
		Str("direction", sig.Direction.String()).
		Float64("level", sig.Level).
		Time("bar_time", sig.BarTime).
		Msg("New signal")
	if s.deps.Bus == nil {
		return
	}
	switch sig.Kind {
	case journal.KindSweep, journal.KindReactionSweep:
		s.deps.Bus.PublishSweep(sig.Symbol, string(sig.Timeframe), sig.Direction.String(), sig.Level, sig.BarTime)
	default:
		s.deps.Bus.PublishBreak(sig.Symbol, string(sig.Timeframe), sig.Kind, sig.Direction.String(), sig.Level, sig.BarTime)
	}
}
