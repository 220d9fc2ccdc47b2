// Package zones finds supply and demand areas in closed bars: order blocks,
// fair value gaps, liquidity sweeps and liquidity levels.
package zones

import (
	"time"

	"structure-engine/internal/market"
)

// DefaultImpulseRatio is the share of the candidate's range the breakout
// candle must cover to count as an impulse.
const DefaultImpulseRatio = 0.7

// MitigationRule decides what counts as price returning to an order block.
type MitigationRule int

const (
	// MitigationFull needs a touch of the far edge (the low of a bullish block).
	MitigationFull MitigationRule = iota
	// MitigationMidpoint needs a touch of the block's 50% level.
	MitigationMidpoint
)

// OrderBlock is the last opposing candle before an impulsive move.
type OrderBlock struct {
	Index     int              `json:"index"`
	Time      time.Time        `json:"time"`
	Direction market.Direction `json:"direction"`
	Open      float64          `json:"open"`
	High      float64          `json:"high"`
	Low       float64          `json:"low"`
	Close     float64          `json:"close"`
	Mitigated bool             `json:"mitigated"`
}

// OrderBlockDetector scans backwards from the newest closed bar.
type OrderBlockDetector struct {
	Lookback     int
	ImpulseRatio float64
	Mitigation   MitigationRule
}

// NewOrderBlockDetector creates a detector with the default impulse ratio
// and full-touch mitigation.
func NewOrderBlockDetector(lookback int) *OrderBlockDetector {
	return &OrderBlockDetector{
		Lookback:     lookback,
		ImpulseRatio: DefaultImpulseRatio,
		Mitigation:   MitigationFull,
	}
}

// FindOrderBlock returns the most recent qualifying block within lookback
// bars using the default detector settings.
func FindOrderBlock(bars []market.Bar, lookback int, dir market.Direction) (OrderBlock, bool) {
	return NewOrderBlockDetector(lookback).Find(bars, dir)
}

// Find returns the most recent order block for dir.
func (d *OrderBlockDetector) Find(bars []market.Bar, dir market.Direction) (OrderBlock, bool) {
	var found OrderBlock
	ok := false
	d.scan(bars, dir, func(ob OrderBlock) bool {
		found, ok = ob, true
		return false
	})
	return found, ok
}

// FindAll lists every order block for dir within the lookback, newest first.
func (d *OrderBlockDetector) FindAll(bars []market.Bar, dir market.Direction) []OrderBlock {
	out := make([]OrderBlock, 0)
	d.scan(bars, dir, func(ob OrderBlock) bool {
		out = append(out, ob)
		return true
	})
	return out
}

func (d *OrderBlockDetector) scan(bars []market.Bar, dir market.Direction, visit func(OrderBlock) bool) {
	n := len(bars)
	if n < 2 || d.Lookback < 1 || dir == market.DirectionNone {
		return
	}
	oldest := max(0, n-1-d.Lookback)
	for i := n - 2; i >= oldest; i-- {
		if !d.qualifies(bars[i], bars[i+1], dir) {
			continue
		}
		c := bars[i]
		ob := OrderBlock{
			Index:     i,
			Time:      c.OpenTime,
			Direction: dir,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
		}
		ob.Mitigated = d.Mitigated(ob, bars)
		if !visit(ob) {
			return
		}
	}
}

// qualifies checks the opposing candle and the impulse right after it.
func (d *OrderBlockDetector) qualifies(c, next market.Bar, dir market.Direction) bool {
	ratio := d.ImpulseRatio
	if ratio <= 0 {
		ratio = DefaultImpulseRatio
	}
	impulse := next.Range() >= ratio*c.Range()
	switch dir {
	case market.Bullish:
		return c.IsBearish() && ((impulse && next.IsBullish()) || next.Close > c.High)
	case market.Bearish:
		return c.IsBullish() && ((impulse && next.IsBearish()) || next.Close < c.Low)
	}
	return false
}

// Mitigated reports whether any bar after the block, the impulse candle
// included, returned to it. bars must be the same history (or a longer one) the block was
// found in, so once true it stays true as bars are appended.
func (d *OrderBlockDetector) Mitigated(ob OrderBlock, bars []market.Bar) bool {
	level := ob.mitigationLevel(d.Mitigation)
	for j := ob.Index + 1; j < len(bars); j++ {
		switch ob.Direction {
		case market.Bullish:
			if bars[j].Low <= level {
				return true
			}
		case market.Bearish:
			if bars[j].High >= level {
				return true
			}
		}
	}
	return false
}

func (ob OrderBlock) mitigationLevel(rule MitigationRule) float64 {
	if rule == MitigationMidpoint {
		return (ob.High + ob.Low) / 2
	}
	if ob.Direction == market.Bearish {
		return ob.High
	}
	return ob.Low
}
