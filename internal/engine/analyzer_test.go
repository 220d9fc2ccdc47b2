package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"structure-engine/internal/market"
	"structure-engine/internal/structure"
)

var t0 = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

// zigzag builds a series swinging between the given turning points with
// straight legs of legBars bars.
func zigzag(turns []float64, legBars int) []market.Bar {
	var bars []market.Bar
	for i := 0; i+1 < len(turns); i++ {
		from, to := turns[i], turns[i+1]
		step := (to - from) / float64(legBars)
		for k := 0; k < legBars; k++ {
			open := from + step*float64(k)
			closeP := open + step
			hi, lo := max(open, closeP)+0.2, min(open, closeP)-0.2
			bars = append(bars, market.Bar{
				OpenTime: t0.Add(time.Duration(len(bars)) * time.Hour),
				Open:     open, High: hi, Low: lo, Close: closeP,
			})
		}
	}
	return bars
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PivotStrength = 2
	return cfg
}

func TestAnalyzeUptrendBreaks(t *testing.T) {
	bars := zigzag([]float64{100, 110, 105, 115, 108, 120, 112}, 4)
	a := NewAnalyzer(testConfig(), zerolog.Nop())
	snap := a.Analyze(market.Series{Symbol: "BTCUSDT", Timeframe: market.TF1h, Bars: bars})

	require.NotEmpty(t, snap.Structure)
	assert.True(t, structure.IsAlternating(snap.Structure))

	confirmed := snap.ConfirmedEvents()
	require.NotEmpty(t, confirmed)
	for _, ev := range confirmed {
		assert.Equal(t, market.Bullish, ev.Direction)
		assert.Less(t, ev.StartIndex, ev.EndIndex)
	}
	assert.Equal(t, market.Bullish, snap.State.Trend)
	assert.Equal(t, len(bars), snap.ClosedBars)
	assert.Equal(t, bars[len(bars)-1].Close, snap.LastPrice)
}

func TestAnalyzeIgnoresFormingBar(t *testing.T) {
	bars := zigzag([]float64{100, 110, 105, 115, 108}, 4)
	a := NewAnalyzer(testConfig(), zerolog.Nop())

	closed := a.Analyze(market.Series{Symbol: "X", Timeframe: market.TF1h, Bars: bars})

	// A wild forming bar must not move any closed-bar result.
	forming := append(append([]market.Bar(nil), bars...), market.Bar{
		OpenTime: bars[len(bars)-1].OpenTime.Add(time.Hour),
		Open:     108, High: 200, Low: 1, Close: 150,
	})
	live := a.Analyze(market.Series{Symbol: "X", Timeframe: market.TF1h, Bars: forming, Forming: true})

	assert.Equal(t, closed.Pivots, live.Pivots)
	assert.Equal(t, closed.Structure, live.Structure)
	assert.Equal(t, closed.ConfirmedEvents(), live.ConfirmedEvents())
	assert.Equal(t, closed.ClosedBars, live.ClosedBars)
	assert.Equal(t, 150.0, live.LastPrice)
}

func TestAnalyzeProvisionalBreakOnFormingBar(t *testing.T) {
	bars := zigzag([]float64{100, 110, 105, 115, 108}, 4)
	a := NewAnalyzer(testConfig(), zerolog.Nop())

	closed := a.Analyze(market.Series{Symbol: "X", Timeframe: market.TF1h, Bars: bars})
	require.NotEmpty(t, closed.Structure)
	for _, ev := range closed.Events {
		require.True(t, ev.Confirmed)
	}
	last := closed.Structure[len(closed.Structure)-1]
	require.Equal(t, structure.High, last.Kind)
	support := closed.Structure[len(closed.Structure)-2]

	// The forming bar already closes below the last structure low.
	forming := append(append([]market.Bar(nil), bars...), market.Bar{
		OpenTime: bars[len(bars)-1].OpenTime.Add(time.Hour),
		Open:     108, High: 108.2, Low: 100.3, Close: 100.5,
	})
	live := a.Analyze(market.Series{Symbol: "X", Timeframe: market.TF1h, Bars: forming, Forming: true})

	require.NotEmpty(t, live.Events)
	ev := live.Events[len(live.Events)-1]
	assert.False(t, ev.Confirmed)
	assert.Equal(t, market.Bearish, ev.Direction)
	assert.Equal(t, support.Price, ev.Level)
	assert.Equal(t, len(forming)-1, ev.EndIndex)
	assert.Equal(t, closed.ConfirmedEvents(), live.ConfirmedEvents())
	assert.Equal(t, closed.ClosedBars, live.ClosedBars)
}

func TestAnalyzeShortSeries(t *testing.T) {
	a := NewAnalyzer(testConfig(), zerolog.Nop())
	snap := a.Analyze(market.Series{Symbol: "X", Timeframe: market.TF5m})
	assert.Empty(t, snap.Pivots)
	assert.Empty(t, snap.Events)
	assert.Nil(t, snap.BullishOB)
	assert.Nil(t, snap.Sweep)
}

func TestAnalyzeAllKeepsOrder(t *testing.T) {
	a := NewAnalyzer(testConfig(), zerolog.Nop())
	up := market.Series{Symbol: "UP", Timeframe: market.TF1h, Bars: zigzag([]float64{100, 110, 105, 115, 108, 120, 112}, 4)}
	down := market.Series{Symbol: "DOWN", Timeframe: market.TF4h, Bars: zigzag([]float64{120, 110, 115, 105, 112, 100, 108}, 4)}

	snaps, err := a.AnalyzeAll(context.Background(), up, down)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "UP", snaps[0].Symbol)
	assert.Equal(t, "DOWN", snaps[1].Symbol)
	assert.Equal(t, market.Bearish, snaps[1].State.Trend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.AnalyzeAll(ctx, up)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.PivotStrength = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.FVGMinLevelRatio = 1.5
	assert.Error(t, bad.Validate())
}
