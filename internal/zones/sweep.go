package zones

import (
	"time"

	"structure-engine/internal/market"
)

// LiquiditySweep is a wick through a prior extreme that closed back inside.
// Anticipated is the move expected afterwards: sweeping highs anticipates a
// bearish move, sweeping lows a bullish one.
type LiquiditySweep struct {
	Anticipated  market.Direction `json:"anticipated"`
	SweptLevel   float64          `json:"swept_level"`
	SweptIndex   int              `json:"swept_index"`
	SweepExtreme float64          `json:"sweep_extreme"`
	SweepIndex   int              `json:"sweep_index"`
	SweepTime    time.Time        `json:"sweep_time"`
	// ReactionIndex is set by FindSweepWithReaction; -1 otherwise.
	ReactionIndex int `json:"reaction_index"`
}

// FindLiquiditySweep tests the newest closed bar against the extremes of
// the lookback bars before it.
func FindLiquiditySweep(bars []market.Bar, lookback int) (LiquiditySweep, bool) {
	return sweepAt(bars, len(bars)-1, lookback)
}

// sweepAt tests bar k against bars[k-lookback : k].
func sweepAt(bars []market.Bar, k, lookback int) (LiquiditySweep, bool) {
	if lookback < 1 || k < 1 || k >= len(bars) {
		return LiquiditySweep{}, false
	}
	oldest := max(0, k-lookback)

	hiIdx, loIdx := k-1, k-1
	for j := k - 1; j >= oldest; j-- {
		if bars[j].High > bars[hiIdx].High {
			hiIdx = j
		}
		if bars[j].Low < bars[loIdx].Low {
			loIdx = j
		}
	}

	b := bars[k]
	hi, lo := bars[hiIdx].High, bars[loIdx].Low
	sweptHigh := b.High > hi && b.Close < hi
	sweptLow := b.Low < lo && b.Close > lo

	// An outside bar that runs both sides counts on the side it ran further.
	if sweptHigh && sweptLow {
		if lo-b.Low > b.High-hi {
			sweptHigh = false
		} else {
			sweptLow = false
		}
	}

	switch {
	case sweptHigh:
		return LiquiditySweep{
			Anticipated:   market.Bearish,
			SweptLevel:    hi,
			SweptIndex:    hiIdx,
			SweepExtreme:  b.High,
			SweepIndex:    k,
			SweepTime:     b.OpenTime,
			ReactionIndex: -1,
		}, true
	case sweptLow:
		return LiquiditySweep{
			Anticipated:   market.Bullish,
			SweptLevel:    lo,
			SweptIndex:    loIdx,
			SweepExtreme:  b.Low,
			SweepIndex:    k,
			SweepTime:     b.OpenTime,
			ReactionIndex: -1,
		}, true
	}
	return LiquiditySweep{}, false
}

// ReactionConfig tunes FindSweepWithReaction.
type ReactionConfig struct {
	Lookback int
	// Distance is how far beyond the swept level price must travel, in price units.
	Distance float64
	// Deadline is the number of bars after the sweep allowed for the reaction.
	Deadline int
}

// FindSweepWithReaction returns the newest sweep whose reaction already
// reached cfg.Distance beyond the swept level within cfg.Deadline bars. Only
// sweeps in the last Deadline bars are tested. A sweep still waiting for its
// reaction, or one whose deadline passed without it, produces nothing.
func FindSweepWithReaction(bars []market.Bar, cfg ReactionConfig) (LiquiditySweep, bool) {
	if cfg.Deadline < 1 || cfg.Distance <= 0 {
		return LiquiditySweep{}, false
	}
	n := len(bars)
	oldest := max(1, n-1-cfg.Deadline)
	for k := n - 2; k >= oldest; k-- {
		sw, ok := sweepAt(bars, k, cfg.Lookback)
		if !ok {
			continue
		}
		last := min(n-1, k+cfg.Deadline)
		for m := k + 1; m <= last; m++ {
			if reached(bars[m], sw, cfg.Distance) {
				sw.ReactionIndex = m
				return sw, true
			}
		}
	}
	return LiquiditySweep{}, false
}

func reached(b market.Bar, sw LiquiditySweep, distance float64) bool {
	if sw.Anticipated == market.Bearish {
		return b.Low <= sw.SweptLevel-distance
	}
	return b.High >= sw.SweptLevel+distance
}
