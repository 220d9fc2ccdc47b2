package zones

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"structure-engine/internal/market"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{OpenTime: t0.Add(time.Duration(i) * 15 * time.Minute), Open: o, High: h, Low: l, Close: c}
}

func bullishOBBars() []market.Bar {
	return []market.Bar{
		bar(0, 100, 102.5, 99.5, 102),
		bar(1, 102, 102.5, 100, 100.5), // last down candle
		bar(2, 100.5, 104, 100.2, 103.8),
		bar(3, 103.8, 105, 103, 104.5),
	}
}

func TestFindOrderBlockBullish(t *testing.T) {
	bars := bullishOBBars()
	ob, ok := FindOrderBlock(bars, 10, market.Bullish)
	require.True(t, ok)
	assert.Equal(t, 1, ob.Index)
	assert.Equal(t, 100.0, ob.Low)
	assert.Equal(t, 102.5, ob.High)
	assert.Equal(t, market.Bullish, ob.Direction)
	assert.False(t, ob.Mitigated)
}

func TestOrderBlockMitigationIsMonotonic(t *testing.T) {
	bars := bullishOBBars()
	d := NewOrderBlockDetector(10)
	ob, ok := d.Find(bars, market.Bullish)
	require.True(t, ok)
	require.False(t, ob.Mitigated)

	bars = append(bars, bar(4, 104.5, 104.6, 99.8, 101))
	assert.True(t, d.Mitigated(ob, bars))

	bars = append(bars, bar(5, 101, 106, 100.9, 105.5))
	assert.True(t, d.Mitigated(ob, bars))

	// A newer block formed at index 4; the first one stays mitigated.
	all := d.FindAll(bars, market.Bullish)
	require.Len(t, all, 2)
	assert.Equal(t, 4, all[0].Index)
	assert.Equal(t, ob.Index, all[1].Index)
	assert.True(t, all[1].Mitigated)
}

func TestOrderBlockMitigatedByImpulseWick(t *testing.T) {
	bars := bullishOBBars()
	bars[2] = bar(2, 100.5, 104, 99.8, 103.8)

	ob, ok := FindOrderBlock(bars, 10, market.Bullish)
	require.True(t, ok)
	assert.Equal(t, 1, ob.Index)
	assert.Equal(t, 100.0, ob.Low)
	assert.True(t, ob.Mitigated)
}

func TestOrderBlockMidpointRule(t *testing.T) {
	bars := append(bullishOBBars(), bar(4, 104.5, 104.6, 101, 103))

	full := NewOrderBlockDetector(10)
	ob, ok := full.Find(bars, market.Bullish)
	require.True(t, ok)
	assert.False(t, ob.Mitigated)

	mid := NewOrderBlockDetector(10)
	mid.Mitigation = MitigationMidpoint
	ob, ok = mid.Find(bars, market.Bullish)
	require.True(t, ok)
	assert.True(t, ob.Mitigated)
}

func TestOrderBlockCloseBeyondCandidate(t *testing.T) {
	// Breakout candle is small but closes above the candidate's high.
	bars := []market.Bar{
		bar(0, 100, 101, 99, 100.5),
		bar(1, 101, 101.2, 99, 99.5),
		bar(2, 100.9, 101.6, 100.8, 101.5),
	}
	ob, ok := FindOrderBlock(bars, 5, market.Bullish)
	require.True(t, ok)
	assert.Equal(t, 1, ob.Index)
}

func TestFindOrderBlockBearish(t *testing.T) {
	bars := []market.Bar{
		bar(0, 105, 105.5, 103, 103.5),
		bar(1, 103.5, 106, 103.2, 105.8), // last up candle
		bar(2, 105.8, 105.9, 102, 102.3),
		bar(3, 102.3, 103, 101, 101.5),
	}
	ob, ok := FindOrderBlock(bars, 10, market.Bearish)
	require.True(t, ok)
	assert.Equal(t, 1, ob.Index)
	assert.Equal(t, 106.0, ob.High)
	assert.False(t, ob.Mitigated)
}

func TestFindOrderBlockOutsideLookback(t *testing.T) {
	_, ok := FindOrderBlock(bullishOBBars(), 1, market.Bullish)
	assert.False(t, ok)
	_, ok = FindOrderBlock(nil, 10, market.Bullish)
	assert.False(t, ok)
	assert.Empty(t, NewOrderBlockDetector(10).FindAll(bullishOBBars(), market.DirectionNone))
}

func gapBars() []market.Bar {
	return []market.Bar{
		bar(0, 49, 50, 48, 49.5),
		bar(1, 50, 56, 50, 55.5),
		bar(2, 55.5, 58, 55, 57.5),
		bar(3, 57.5, 60, 57, 59),
	}
}

func TestDetectFVGs(t *testing.T) {
	gaps := DetectFVGs(gapBars()[:3], 0)
	require.Len(t, gaps, 1)
	assert.Equal(t, market.Bullish, gaps[0].Direction)
	assert.Equal(t, 50.0, gaps[0].Level())
	assert.Equal(t, 55.0, gaps[0].Top)
	assert.True(t, gaps[0].Contains(52))

	assert.Empty(t, DetectFVGs(gapBars()[:2], 0))
}

func TestOverlappingBarsHaveNoGap(t *testing.T) {
	// First high 55 is above the third low 50.
	bars := []market.Bar{
		bar(0, 53, 55, 52, 54),
		bar(1, 54, 57, 53, 56),
		bar(2, 56, 58, 50, 57),
	}
	assert.Empty(t, DetectFVGs(bars, 0))

	_, ok := FindFairValueGap(bars, 60, FVGQuery{Direction: market.Bullish})
	assert.False(t, ok)
}

func TestDetectFVGsMitigation(t *testing.T) {
	bars := append(gapBars(), bar(4, 59, 59, 55.5, 56))
	gaps := DetectFVGs(bars, 0)
	require.Len(t, gaps, 2)
	assert.Equal(t, 50.0, gaps[0].Level())
	assert.False(t, gaps[0].Mitigated)
	assert.Equal(t, 56.0, gaps[1].Level())
	assert.True(t, gaps[1].Mitigated)
}

func TestFindFairValueGapNearestSupport(t *testing.T) {
	bars := gapBars()
	q := FVGQuery{Lookback: 10, MinLevelRatio: 0.5, Direction: market.Bullish}

	level, ok := FindFairValueGap(bars, 70, q)
	require.True(t, ok)
	assert.Equal(t, 56.0, level)

	level, ok = FindFairValueGap(bars, 55, q)
	require.True(t, ok)
	assert.Equal(t, 50.0, level)

	_, ok = FindFairValueGap(bars, 49, q)
	assert.False(t, ok)

	q.MinLevelRatio = 0.9
	level, ok = FindFairValueGap(bars, 60, q)
	require.True(t, ok)
	assert.Equal(t, 56.0, level)
	_, ok = FindFairValueGap(bars, 64, q)
	assert.False(t, ok)
}

func TestFindFairValueGapBearish(t *testing.T) {
	bars := []market.Bar{
		bar(0, 61, 62, 60, 60.5),
		bar(1, 60.5, 60.5, 55, 55.5),
		bar(2, 55.5, 57, 54, 54.5),
	}
	gaps := DetectFVGs(bars, 0)
	require.Len(t, gaps, 1)
	assert.Equal(t, market.Bearish, gaps[0].Direction)
	assert.Equal(t, 60.0, gaps[0].Level())

	level, ok := FindFairValueGap(bars, 55, FVGQuery{Lookback: 5, MinLevelRatio: 0.5, Direction: market.Bearish})
	require.True(t, ok)
	assert.Equal(t, 60.0, level)

	_, ok = FindFairValueGap(bars, 55, FVGQuery{Lookback: 5, MinLevelRatio: 0.95, Direction: market.Bearish})
	assert.False(t, ok)
}

func sweepBars() []market.Bar {
	return []market.Bar{
		bar(0, 99, 100, 98, 99.5),
		bar(1, 100, 102, 100, 101),
		bar(2, 101, 101, 99, 100),
		bar(3, 100, 100.5, 98.5, 99.8),
		bar(4, 101, 103, 100.8, 101.5), // wicks above 102, closes back under
	}
}

func TestFindLiquiditySweepBearish(t *testing.T) {
	sw, ok := FindLiquiditySweep(sweepBars(), 10)
	require.True(t, ok)
	assert.Equal(t, market.Bearish, sw.Anticipated)
	assert.Equal(t, 102.0, sw.SweptLevel)
	assert.Equal(t, 1, sw.SweptIndex)
	assert.Equal(t, 103.0, sw.SweepExtreme)
	assert.Equal(t, 4, sw.SweepIndex)
	assert.Equal(t, -1, sw.ReactionIndex)
}

func TestFindLiquiditySweepNeedsCloseInside(t *testing.T) {
	bars := sweepBars()
	bars[4].Close = 102.5
	_, ok := FindLiquiditySweep(bars, 10)
	assert.False(t, ok)

	_, ok = FindLiquiditySweep(bars[:1], 10)
	assert.False(t, ok)
}

func TestFindLiquiditySweepBullish(t *testing.T) {
	bars := sweepBars()[:4]
	bars = append(bars, bar(4, 99, 99.5, 97, 99.2))
	sw, ok := FindLiquiditySweep(bars, 10)
	require.True(t, ok)
	assert.Equal(t, market.Bullish, sw.Anticipated)
	assert.Equal(t, 98.0, sw.SweptLevel)
	assert.Equal(t, 0, sw.SweptIndex)
}

func TestFindSweepWithReaction(t *testing.T) {
	bars := append(sweepBars(),
		bar(5, 101.5, 101.6, 100, 100.2),
		bar(6, 100.2, 100.4, 99, 99.3),
	)
	cfg := ReactionConfig{Lookback: 10, Distance: 2.5, Deadline: 3}

	sw, ok := FindSweepWithReaction(bars, cfg)
	require.True(t, ok)
	assert.Equal(t, 4, sw.SweepIndex)
	assert.Equal(t, 6, sw.ReactionIndex)

	// Reaction not reached yet.
	_, ok = FindSweepWithReaction(bars[:6], cfg)
	assert.False(t, ok)

	// Deadline too short for the reaction bar.
	cfg.Deadline = 1
	_, ok = FindSweepWithReaction(bars, cfg)
	assert.False(t, ok)
}

func TestLiquidityLevel(t *testing.T) {
	bars := sweepBars()
	level, idx, ok := LiquidityLevel(bars, 3, market.Bullish)
	require.True(t, ok)
	assert.Equal(t, 98.5, level)
	assert.Equal(t, 3, idx)

	level, idx, ok = LiquidityLevel(bars, 5, market.Bearish)
	require.True(t, ok)
	assert.Equal(t, 103.0, level)
	assert.Equal(t, 4, idx)

	_, _, ok = LiquidityLevel(nil, 5, market.Bullish)
	assert.False(t, ok)
}
