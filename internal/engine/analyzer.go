// Package engine runs the structure and zone detectors over a bar series
// and assembles the results into a Snapshot.
package engine

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"structure-engine/internal/market"
	"structure-engine/internal/structure"
	"structure-engine/internal/zones"
)

// Config tunes every detector the analyzer runs.
type Config struct {
	PivotStrength      int              `json:"pivot_strength" yaml:"pivot_strength"`
	IncludeTailPivots  bool             `json:"include_tail_pivots" yaml:"include_tail_pivots"`
	InitialTrend       market.Direction `json:"initial_trend" yaml:"initial_trend"`
	OrderBlockLookback int              `json:"order_block_lookback" yaml:"order_block_lookback"`
	ImpulseRatio       float64          `json:"impulse_ratio" yaml:"impulse_ratio"`
	MidpointMitigation bool             `json:"midpoint_mitigation" yaml:"midpoint_mitigation"`
	FVGLookback        int              `json:"fvg_lookback" yaml:"fvg_lookback"`
	FVGMinLevelRatio   float64          `json:"fvg_min_level_ratio" yaml:"fvg_min_level_ratio"`
	SweepLookback      int              `json:"sweep_lookback" yaml:"sweep_lookback"`
	ReactionDistance   float64          `json:"reaction_distance" yaml:"reaction_distance"`
	ReactionDeadline   int              `json:"reaction_deadline" yaml:"reaction_deadline"`
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		PivotStrength:      5,
		OrderBlockLookback: 50,
		ImpulseRatio:       zones.DefaultImpulseRatio,
		FVGLookback:        100,
		FVGMinLevelRatio:   0.5,
		SweepLookback:      20,
		ReactionDeadline:   5,
	}
}

// Validate rejects settings the detectors cannot work with.
func (c Config) Validate() error {
	if c.PivotStrength < 1 {
		return fmt.Errorf("pivot_strength must be at least 1, got %d", c.PivotStrength)
	}
	if c.OrderBlockLookback < 1 || c.FVGLookback < 1 || c.SweepLookback < 1 {
		return fmt.Errorf("lookbacks must be positive")
	}
	if c.ImpulseRatio < 0 || c.FVGMinLevelRatio < 0 || c.FVGMinLevelRatio >= 1 {
		return fmt.Errorf("ratios out of range: impulse=%.2f fvg_min=%.2f", c.ImpulseRatio, c.FVGMinLevelRatio)
	}
	return nil
}

// Snapshot is everything derived from one series at one point in time.
type Snapshot struct {
	Symbol         string                     `json:"symbol"`
	Timeframe      market.Timeframe           `json:"timeframe"`
	ClosedBars     int                        `json:"closed_bars"`
	LastClosedTime time.Time                  `json:"last_closed_time"`
	LastPrice      float64                    `json:"last_price"`
	Pivots         []structure.SwingPoint     `json:"pivots"`
	Structure      []structure.StructurePoint `json:"structure"`
	Events         []structure.BosEvent       `json:"events"`
	State          structure.State            `json:"state"`
	BullishOB      *zones.OrderBlock          `json:"bullish_order_block,omitempty"`
	BearishOB      *zones.OrderBlock          `json:"bearish_order_block,omitempty"`
	FVGs           []zones.FairValueGap       `json:"fvgs"`
	SupportFVG     *float64                   `json:"support_fvg,omitempty"`
	ResistanceFVG  *float64                   `json:"resistance_fvg,omitempty"`
	Sweep          *zones.LiquiditySweep      `json:"sweep,omitempty"`
	ReactionSweep  *zones.LiquiditySweep      `json:"reaction_sweep,omitempty"`
	ComputedAt     time.Time                  `json:"computed_at"`
}

// ConfirmedEvents returns the snapshot's confirmed breaks.
func (s Snapshot) ConfirmedEvents() []structure.BosEvent {
	return structure.ConfirmedOnly(s.Events)
}

// Analyzer is stateless apart from its config; one value can serve any
// number of goroutines.
type Analyzer struct {
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(config Config, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		config: config,
		logger: logger.With().Str("component", "Analyzer").Logger(),
		now:    time.Now,
	}
}

// Config returns the analyzer settings.
func (a *Analyzer) Config() Config {
	return a.config
}

// Analyze computes a snapshot. Pivots, zones and confirmed breaks only see
// closed bars. The forming bar (if any) feeds LastPrice and the provisional
// break check.
func (a *Analyzer) Analyze(series market.Series) Snapshot {
	start := a.now()
	closed := series.Closed()
	snap := Snapshot{
		Symbol:     series.Symbol,
		Timeframe:  series.Timeframe,
		ClosedBars: len(closed),
		ComputedAt: start,
	}
	if last, ok := series.Last(); ok {
		snap.LastPrice = last.Close
	}
	if len(closed) > 0 {
		snap.LastClosedTime = closed[len(closed)-1].OpenTime
	}

	var opts []structure.PivotOption
	if a.config.IncludeTailPivots {
		opts = append(opts, structure.WithTail())
	}
	snap.Pivots = collect(structure.Pivots(closed, a.config.PivotStrength, opts...))
	snap.Structure = structure.BuildStructure(snap.Pivots)
	snap.Events = structure.Classifier{InitialTrend: a.config.InitialTrend}.Classify(snap.Structure, series.Bars)
	snap.State = structure.Summarize(snap.Structure, snap.Events)

	obs := zones.NewOrderBlockDetector(a.config.OrderBlockLookback)
	if a.config.ImpulseRatio > 0 {
		obs.ImpulseRatio = a.config.ImpulseRatio
	}
	if a.config.MidpointMitigation {
		obs.Mitigation = zones.MitigationMidpoint
	}
	if ob, ok := obs.Find(closed, market.Bullish); ok {
		snap.BullishOB = &ob
	}
	if ob, ok := obs.Find(closed, market.Bearish); ok {
		snap.BearishOB = &ob
	}

	snap.FVGs = zones.DetectFVGs(closed, a.config.FVGLookback)
	if snap.LastPrice > 0 {
		q := zones.FVGQuery{Lookback: a.config.FVGLookback, MinLevelRatio: a.config.FVGMinLevelRatio, Direction: market.Bullish}
		if lvl, ok := zones.FindFairValueGap(closed, snap.LastPrice, q); ok {
			snap.SupportFVG = &lvl
		}
		q.Direction = market.Bearish
		if lvl, ok := zones.FindFairValueGap(closed, snap.LastPrice, q); ok {
			snap.ResistanceFVG = &lvl
		}
	}

	if sw, ok := zones.FindLiquiditySweep(closed, a.config.SweepLookback); ok {
		snap.Sweep = &sw
	}
	if a.config.ReactionDistance > 0 {
		cfg := zones.ReactionConfig{
			Lookback: a.config.SweepLookback,
			Distance: a.config.ReactionDistance,
			Deadline: a.config.ReactionDeadline,
		}
		if sw, ok := zones.FindSweepWithReaction(closed, cfg); ok {
			snap.ReactionSweep = &sw
		}
	}

	a.logger.Debug().
		Str("symbol", series.Symbol).
		Str("timeframe", string(series.Timeframe)).
		Int("bars", len(closed)).
		Int("pivots", len(snap.Pivots)).
		Int("events", len(snap.Events)).
		Dur("took", a.now().Sub(start)).
		Msg("Snapshot computed")
	return snap
}

// AnalyzeAll analyses independent series concurrently. Results keep the
// input order. Only context cancellation fails the call.
func (a *Analyzer) AnalyzeAll(ctx context.Context, series ...market.Series) ([]Snapshot, error) {
	out := make([]Snapshot, len(series))
	g, ctx := errgroup.WithContext(ctx)
	for i := range series {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out[i] = a.Analyze(series[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func collect(seq iter.Seq[structure.SwingPoint]) []structure.SwingPoint {
	out := make([]structure.SwingPoint, 0)
	for p := range seq {
		out = append(out, p)
	}
	return out
}
