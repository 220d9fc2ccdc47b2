package zones

import (
	"time"

	"structure-engine/internal/market"
)

// FairValueGap is a three-bar imbalance. For a bullish gap the first bar's
// high sits below the third bar's low; Level is that first-bar high.
type FairValueGap struct {
	Index     int              `json:"index"`
	Time      time.Time        `json:"time"`
	Direction market.Direction `json:"direction"`
	Top       float64          `json:"top"`
	Bottom    float64          `json:"bottom"`
	Mitigated bool             `json:"mitigated"`
}

// Level is the defining boundary used for stops and mitigation.
func (g FairValueGap) Level() float64 {
	if g.Direction == market.Bearish {
		return g.Top
	}
	return g.Bottom
}

// Contains reports whether price is inside the gap.
func (g FairValueGap) Contains(price float64) bool {
	return price >= g.Bottom && price <= g.Top
}

// DetectFVGs lists the gaps among the newest lookback+1 three-bar windows,
// oldest first. A lookback below 1 scans all bars.
func DetectFVGs(bars []market.Bar, lookback int) []FairValueGap {
	gaps := make([]FairValueGap, 0)
	if len(bars) < 3 {
		return gaps
	}
	from, to := fvgWindow(len(bars), lookback)
	for i := from; i <= to; i++ {
		if g, ok := gapAt(bars, i); ok {
			g.Mitigated = gapMitigated(g, bars)
			gaps = append(gaps, g)
		}
	}
	return gaps
}

// FVGQuery selects the gap nearest a reference price.
type FVGQuery struct {
	Lookback int
	// MinLevelRatio bounds how far from the reference a gap may sit:
	// a bullish level must be above ref*ratio, a bearish one below ref/ratio.
	MinLevelRatio float64
	Direction     market.Direction
}

// FindFairValueGap returns the boundary of the gap nearest to ref on the
// protective side: the highest bullish level below ref, or the lowest bearish
// level above it.
func FindFairValueGap(bars []market.Bar, ref float64, q FVGQuery) (float64, bool) {
	if len(bars) < 3 || ref <= 0 {
		return 0, false
	}
	lower, upper := 0.0, 0.0
	if q.MinLevelRatio > 0 {
		lower = ref * q.MinLevelRatio
		upper = ref / q.MinLevelRatio
	}
	from, to := fvgWindow(len(bars), q.Lookback)

	best, found := 0.0, false
	for i := to; i >= from; i-- {
		g, ok := gapAt(bars, i)
		if !ok || g.Direction != q.Direction {
			continue
		}
		level := g.Level()
		switch q.Direction {
		case market.Bullish:
			if level >= ref || level <= lower {
				continue
			}
			if !found || level > best {
				best, found = level, true
			}
		case market.Bearish:
			if level <= ref || (upper > 0 && level >= upper) {
				continue
			}
			if !found || level < best {
				best, found = level, true
			}
		}
	}
	return best, found
}

// fvgWindow returns the first-bar indexes to scan: the newest complete
// triple and the lookback triples before it.
func fvgWindow(n, lookback int) (from, to int) {
	to = n - 3
	from = 0
	if lookback > 0 {
		from = max(0, n-lookback-3)
	}
	return from, to
}

func gapAt(bars []market.Bar, i int) (FairValueGap, bool) {
	c1, c3 := bars[i], bars[i+2]
	switch {
	case c1.High < c3.Low:
		return FairValueGap{Index: i, Time: bars[i+1].OpenTime, Direction: market.Bullish, Top: c3.Low, Bottom: c1.High}, true
	case c1.Low > c3.High:
		return FairValueGap{Index: i, Time: bars[i+1].OpenTime, Direction: market.Bearish, Top: c1.Low, Bottom: c3.High}, true
	}
	return FairValueGap{}, false
}

// gapMitigated checks whether a bar after the gap traded through its level.
func gapMitigated(g FairValueGap, bars []market.Bar) bool {
	for j := g.Index + 3; j < len(bars); j++ {
		if g.Direction == market.Bullish && bars[j].Low <= g.Level() {
			return true
		}
		if g.Direction == market.Bearish && bars[j].High >= g.Level() {
			return true
		}
	}
	return false
}
