package risk

import (
	"errors"
	"fmt"

	"structure-engine/internal/market"
	"structure-engine/internal/structure"
	"structure-engine/internal/zones"
)

// ErrNoLevel is returned when a planner finds no level and has no fallback.
var ErrNoLevel = errors.New("no level found")

// StopMode selects where a stop reference comes from.
type StopMode string

const (
	StopPips      StopMode = "pips"
	StopFVG       StopMode = "fvg"
	StopLiquidity StopMode = "liquidity"
	StopStructure StopMode = "structure"
)

// StopPlanner picks a stop reference for an entry. Offsets and distances
// are in pips of the instrument.
type StopPlanner struct {
	Mode     StopMode `json:"mode" yaml:"mode"`
	StopPips float64  `json:"stop_pips" yaml:"stop_pips"`

	FVGLookback   int     `json:"fvg_lookback" yaml:"fvg_lookback"`
	FVGOffsetPips float64 `json:"fvg_offset_pips" yaml:"fvg_offset_pips"`
	MinFVGRatio   float64 `json:"min_fvg_ratio" yaml:"min_fvg_ratio"`

	LiquidityLookback   int     `json:"liquidity_lookback" yaml:"liquidity_lookback"`
	LiquidityOffsetPips float64 `json:"liquidity_offset_pips" yaml:"liquidity_offset_pips"`
	MinLiquidityRatio   float64 `json:"min_liquidity_ratio" yaml:"min_liquidity_ratio"`

	StructureOffsetPips float64 `json:"structure_offset_pips" yaml:"structure_offset_pips"`
}

// StopInput is the market context for a stop.
type StopInput struct {
	Entry      float64
	Side       market.Direction
	Bars       []market.Bar
	Structure  []structure.StructurePoint
	BreakIndex int
	Instrument market.Instrument
}

// Plan is a resolved price level and where it came from.
type Plan struct {
	Price    float64 `json:"price"`
	Source   string  `json:"source"`
	Fallback bool    `json:"fallback"`
}

// Plan resolves the stop reference, falling back to a fixed pip distance
// when the configured source yields nothing.
func (p StopPlanner) Plan(in StopInput) (Plan, error) {
	if in.Side != market.Bullish && in.Side != market.Bearish {
		return Plan{}, fmt.Errorf("%w: side %s", ErrInvalidStop, in.Side)
	}
	pip := in.Instrument.Pip()
	protect := in.Side.Opposite()

	var (
		level float64
		ok    bool
	)
	switch p.Mode {
	case StopFVG:
		level, ok = zones.FindFairValueGap(in.Bars, in.Entry, zones.FVGQuery{
			Lookback:      p.FVGLookback,
			MinLevelRatio: p.MinFVGRatio,
			Direction:     in.Side,
		})
		if ok {
			return Plan{Price: offset(level, p.FVGOffsetPips*pip, protect), Source: string(StopFVG)}, nil
		}
	case StopLiquidity:
		level, _, ok = zones.LiquidityLevel(in.Bars, p.LiquidityLookback, in.Side)
		if ok && p.sensible(level, in.Entry, in.Side, p.MinLiquidityRatio) {
			return Plan{Price: offset(level, p.LiquidityOffsetPips*pip, protect), Source: string(StopLiquidity)}, nil
		}
	case StopStructure:
		kind := structure.Low
		if in.Side == market.Bearish {
			kind = structure.High
		}
		sw, found := structure.LastSwingBefore(in.Structure, kind, in.BreakIndex)
		if found && p.sensible(sw.Price, in.Entry, in.Side, 0) {
			return Plan{Price: offset(sw.Price, p.StructureOffsetPips*pip, protect), Source: string(StopStructure)}, nil
		}
	}

	if p.StopPips <= 0 {
		return Plan{}, fmt.Errorf("%w: %s stop for %s", ErrNoLevel, p.Mode, in.Side)
	}
	return Plan{
		Price:    offset(in.Entry, p.StopPips*pip, protect),
		Source:   string(StopPips),
		Fallback: p.Mode != StopPips && p.Mode != "",
	}, nil
}

// sensible keeps a level on the protective side of entry and, with a ratio,
// no further than entry*ratio (entry/ratio for shorts).
func (p StopPlanner) sensible(level, entry float64, side market.Direction, ratio float64) bool {
	if side == market.Bullish {
		return level < entry && (ratio <= 0 || level > entry*ratio)
	}
	return level > entry && (ratio <= 0 || level < entry/ratio)
}

// TargetMode selects where a take-profit comes from.
type TargetMode string

const (
	TargetRatio   TargetMode = "ratio"
	TargetFractal TargetMode = "fractal"
	TargetPips    TargetMode = "pips"
)

// TargetPlanner picks a take-profit.
type TargetPlanner struct {
	Mode              TargetMode `json:"mode" yaml:"mode"`
	RewardRatio       float64    `json:"reward_ratio" yaml:"reward_ratio"`
	FractalWindow     int        `json:"fractal_window" yaml:"fractal_window"`
	FractalLookback   int        `json:"fractal_lookback" yaml:"fractal_lookback"`
	FractalOffsetPips float64    `json:"fractal_offset_pips" yaml:"fractal_offset_pips"`
	FallbackPips      float64    `json:"fallback_pips" yaml:"fallback_pips"`
}

// Plan resolves the target for a trade from entry to stop. A fractal target
// falls back to FallbackPips, then to RewardRatio.
func (p TargetPlanner) Plan(entry, stop float64, side market.Direction, bars []market.Bar, inst market.Instrument) (Plan, bool) {
	pip := inst.Pip()
	if p.Mode == TargetFractal {
		var (
			level float64
			ok    bool
		)
		if side == market.Bullish {
			level, ok = structure.NearestFractalAbove(bars, entry, p.FractalWindow, p.FractalLookback)
		} else {
			level, ok = structure.NearestFractalBelow(bars, entry, p.FractalWindow, p.FractalLookback)
		}
		if ok {
			return Plan{Price: offset(level, p.FractalOffsetPips*pip, side), Source: string(TargetFractal)}, true
		}
	}
	fallback := p.Mode != "" && p.Mode != TargetRatio
	if (p.Mode == TargetFractal || p.Mode == TargetPips) && p.FallbackPips > 0 {
		return Plan{
			Price:    offset(entry, p.FallbackPips*pip, side),
			Source:   string(TargetPips),
			Fallback: p.Mode != TargetPips,
		}, true
	}
	wrongSide := (side == market.Bullish && stop >= entry) || (side == market.Bearish && stop <= entry)
	if p.RewardRatio > 0 && !wrongSide {
		dist := entry - stop
		if dist < 0 {
			dist = -dist
		}
		return Plan{Price: offset(entry, dist*p.RewardRatio, side), Source: string(TargetRatio), Fallback: fallback}, true
	}
	return Plan{}, false
}
