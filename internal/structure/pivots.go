// Package structure derives swing pivots, the alternating market structure
// and break-of-structure events from closed bars.
package structure

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"structure-engine/internal/market"
)

// Kind tells whether a swing point is a high or a low.
type Kind int

const (
	High Kind = iota + 1
	Low
)

func (k Kind) String() string {
	switch k {
	case High:
		return "high"
	case Low:
		return "low"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "high":
		*k = High
	case "low":
		*k = Low
	default:
		return fmt.Errorf("unknown swing kind %q", text)
	}
	return nil
}

// SwingPoint is a bar whose high (or low) dominates its neighbourhood.
type SwingPoint struct {
	Index     int       `json:"index"`
	Price     float64   `json:"price"`
	Time      time.Time `json:"time"`
	Kind      Kind      `json:"kind"`
	Confirmed bool      `json:"confirmed"`
}

type pivotOptions struct {
	tail bool
}

// PivotOption tunes pivot detection.
type PivotOption func(*pivotOptions)

// WithTail also yields pivots in the last strength bars, tested against the
// bars that exist to their right (at least one). They carry Confirmed=false
// and may disappear once more bars close.
func WithTail() PivotOption {
	return func(o *pivotOptions) { o.tail = true }
}

// Pivots lazily yields swing points in index order. The sequence can be
// ranged over any number of times. bars must hold closed bars only.
//
// A bar i is a High when its high is >= every high within strength bars on
// both sides; otherwise it is a Low when its low is <= every low in the
// same window. At most one point is produced per index.
func Pivots(bars []market.Bar, strength int, opts ...PivotOption) iter.Seq[SwingPoint] {
	var o pivotOptions
	for _, opt := range opts {
		opt(&o)
	}
	return func(yield func(SwingPoint) bool) {
		if strength < 1 {
			return
		}
		n := len(bars)
		last := n - 1 - strength
		if o.tail {
			last = n - 2
		}
		for i := strength; i <= last; i++ {
			right := min(strength, n-1-i)
			confirmed := right == strength
			if sp, ok := pivotAt(bars, i, strength, right); ok {
				sp.Confirmed = confirmed
				if !yield(sp) {
					return
				}
			}
		}
	}
}

// DetectPivots collects the confirmed pivots. It returns an empty slice when
// fewer than 2*strength+1 bars are available.
func DetectPivots(bars []market.Bar, strength int) []SwingPoint {
	out := slices.Collect(Pivots(bars, strength))
	if out == nil {
		return []SwingPoint{}
	}
	return out
}

func pivotAt(bars []market.Bar, i, left, right int) (SwingPoint, bool) {
	b := bars[i]
	if dominates(bars, i, left, right, func(x market.Bar) bool { return x.High <= b.High }) {
		return SwingPoint{Index: i, Price: b.High, Time: b.OpenTime, Kind: High}, true
	}
	if dominates(bars, i, left, right, func(x market.Bar) bool { return x.Low >= b.Low }) {
		return SwingPoint{Index: i, Price: b.Low, Time: b.OpenTime, Kind: Low}, true
	}
	return SwingPoint{}, false
}

func dominates(bars []market.Bar, i, left, right int, ok func(market.Bar) bool) bool {
	for j := i - left; j <= i+right; j++ {
		if j != i && !ok(bars[j]) {
			return false
		}
	}
	return true
}
