package structure

import (
	"encoding/json"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"structure-engine/internal/market"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// barsFromHighs builds bars whose low sits one unit under the high.
func barsFromHighs(highs ...float64) []market.Bar {
	bars := make([]market.Bar, len(highs))
	for i, h := range highs {
		bars[i] = market.Bar{
			OpenTime: t0.Add(time.Duration(i) * time.Hour),
			Open:     h - 0.5, High: h, Low: h - 1, Close: h - 0.5,
		}
	}
	return bars
}

func highsOnly(points []SwingPoint) []SwingPoint {
	return slices.DeleteFunc(slices.Clone(points), func(p SwingPoint) bool { return p.Kind != High })
}

func point(kind Kind, index int, price float64) StructurePoint {
	return StructurePoint{SwingPoint{Index: index, Price: price, Kind: kind, Time: t0.Add(time.Duration(index) * time.Hour), Confirmed: true}}
}

func TestDetectPivotsConfirmedHigh(t *testing.T) {
	bars := barsFromHighs(10, 9, 8, 12, 9, 8, 11, 9)

	highs := highsOnly(DetectPivots(bars, 2))
	require.Len(t, highs, 1)
	assert.Equal(t, 3, highs[0].Index)
	assert.Equal(t, 12.0, highs[0].Price)
	assert.True(t, highs[0].Confirmed)
}

func TestPivotsWithTailIncludesRightEdge(t *testing.T) {
	bars := barsFromHighs(10, 9, 8, 12, 9, 8, 11, 9)

	highs := highsOnly(slices.Collect(Pivots(bars, 2, WithTail())))
	require.Len(t, highs, 2)
	assert.Equal(t, 3, highs[0].Index)
	assert.True(t, highs[0].Confirmed)
	assert.Equal(t, 6, highs[1].Index)
	assert.Equal(t, 11.0, highs[1].Price)
	assert.False(t, highs[1].Confirmed)
}

func TestDetectPivotsInsufficientData(t *testing.T) {
	bars := barsFromHighs(1, 2, 3, 4)
	assert.Empty(t, DetectPivots(bars, 2))
	assert.NotNil(t, DetectPivots(bars, 2))
	assert.Empty(t, DetectPivots(nil, 3))
	assert.Empty(t, DetectPivots(bars, 0))
}

func TestDetectPivotsIndexBounds(t *testing.T) {
	bars := barsFromHighs(5, 7, 6, 9, 4, 8, 3, 10, 2, 6, 5, 7)
	for _, strength := range []int{1, 2, 3} {
		for _, p := range DetectPivots(bars, strength) {
			assert.GreaterOrEqual(t, p.Index, strength)
			assert.LessOrEqual(t, p.Index, len(bars)-1-strength)
		}
	}
}

func TestDetectPivotsTieGoesToHigh(t *testing.T) {
	// Flat bars satisfy both tests at every index.
	bars := barsFromHighs(5, 5, 5, 5, 5)
	pivots := DetectPivots(bars, 1)
	require.Len(t, pivots, 3)
	for _, p := range pivots {
		assert.Equal(t, High, p.Kind)
	}
}

func TestPivotsSequenceIsRestartable(t *testing.T) {
	bars := barsFromHighs(10, 9, 8, 12, 9, 8, 11, 9, 7, 13, 8)
	seq := Pivots(bars, 1)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)

	// Early termination stops the scan without panicking.
	count := 0
	for range seq {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestBuildStructureCompresses(t *testing.T) {
	pivots := []SwingPoint{
		{Index: 2, Kind: High, Price: 100},
		{Index: 4, Kind: High, Price: 105},
		{Index: 6, Kind: Low, Price: 90},
		{Index: 8, Kind: Low, Price: 95},
		{Index: 10, Kind: High, Price: 110},
	}
	points := BuildStructure(pivots)
	require.Len(t, points, 3)
	assert.Equal(t, 4, points[0].Index)
	assert.Equal(t, 105.0, points[0].Price)
	assert.Equal(t, 6, points[1].Index)
	assert.Equal(t, 10, points[2].Index)
	assert.True(t, IsAlternating(points))
}

func TestBuildStructureIdempotent(t *testing.T) {
	bars := barsFromHighs(10, 12, 9, 14, 8, 13, 7, 15, 11, 16, 6, 12)
	once := BuildStructure(DetectPivots(bars, 1))
	twice := BuildStructure(Swings(once))
	assert.Equal(t, once, twice)
	assert.True(t, IsAlternating(once))
	assert.Empty(t, BuildStructure(nil))
}

func TestClassifyEventsBullishBreak(t *testing.T) {
	points := []StructurePoint{
		point(Low, 5, 100),
		point(High, 6, 110),
		point(Low, 7, 105),
		point(High, 8, 115),
	}
	events := ConfirmedOnly(ClassifyEvents(points, nil))
	require.Len(t, events, 1)
	ev := events[0]
	assert.True(t, ev.Bullish())
	assert.Equal(t, BOS, ev.Kind)
	assert.Equal(t, 110.0, ev.Level)
	assert.Equal(t, 6, ev.StartIndex)
	assert.Equal(t, 8, ev.EndIndex)
	assert.True(t, ev.Confirmed)
}

func TestClassifyEventsBearishBreak(t *testing.T) {
	points := []StructurePoint{
		point(High, 1, 120),
		point(Low, 3, 100),
		point(High, 5, 110),
		point(Low, 7, 95),
	}
	events := ClassifyEvents(points, nil)
	require.Len(t, events, 1)
	assert.Equal(t, market.Bearish, events[0].Direction)
	assert.Equal(t, 100.0, events[0].Level)
	assert.Equal(t, 3, events[0].StartIndex)
	assert.Equal(t, 7, events[0].EndIndex)
}

func TestClassifyEventsIndexOrdering(t *testing.T) {
	bars := barsFromHighs(10, 12, 9, 14, 8, 13, 7, 15, 11, 16, 6, 12, 5, 17, 4)
	points := BuildStructure(DetectPivots(bars, 1))
	for _, ev := range ClassifyEvents(points, bars) {
		assert.Less(t, ev.StartIndex, ev.EndIndex)
	}
}

func TestClassifyEventsProvisionalBullish(t *testing.T) {
	points := []StructurePoint{
		point(High, 2, 110),
		point(Low, 4, 100),
	}
	bars := barsFromHighs(105, 108, 110, 104, 101, 106, 112)
	bars[6].Close = 111.5

	events := ClassifyEvents(points, bars)
	require.Len(t, events, 1)
	ev := events[0]
	assert.False(t, ev.Confirmed)
	assert.True(t, ev.Bullish())
	assert.Equal(t, 110.0, ev.Level)
	assert.Equal(t, 2, ev.StartIndex)
	assert.Equal(t, len(bars)-1, ev.EndIndex)
	assert.Empty(t, ConfirmedOnly(events))
}

func TestClassifyEventsNoProvisionalInsideRange(t *testing.T) {
	points := []StructurePoint{
		point(High, 2, 110),
		point(Low, 4, 100),
	}
	bars := barsFromHighs(105, 108, 110, 104, 101, 106, 108)
	assert.Empty(t, ClassifyEvents(points, bars))
}

func TestClassifierLabelsChangeOfCharacter(t *testing.T) {
	points := []StructurePoint{
		point(Low, 1, 100),
		point(High, 2, 110),
		point(Low, 3, 105),
		point(High, 4, 115), // bullish break of 110
		point(Low, 5, 102),  // bearish break of 105
		point(High, 6, 108),
		point(Low, 7, 98), // bearish break of 102
	}
	events := ClassifyEvents(points, nil)
	require.Len(t, events, 3)
	assert.Equal(t, BOS, events[0].Kind)
	assert.Equal(t, market.Bullish, events[0].Direction)
	assert.Equal(t, CHoCH, events[1].Kind)
	assert.Equal(t, market.Bearish, events[1].Direction)
	assert.Equal(t, BOS, events[2].Kind)

	withTrend := Classifier{InitialTrend: market.Bearish}.Classify(points, nil)
	assert.Equal(t, CHoCH, withTrend[0].Kind)
	assert.Equal(t, CHoCH, withTrend[1].Kind)
	assert.Equal(t, BOS, withTrend[2].Kind)
}

func TestSummarize(t *testing.T) {
	points := []StructurePoint{
		point(Low, 5, 100),
		point(High, 6, 110),
		point(Low, 7, 105),
		point(High, 8, 115),
	}
	st := Summarize(points, ClassifyEvents(points, nil))
	assert.Equal(t, market.Bullish, st.Trend)
	require.NotNil(t, st.LastHigh)
	require.NotNil(t, st.LastLow)
	assert.Equal(t, 8, st.LastHigh.Index)
	assert.Equal(t, 7, st.LastLow.Index)
	require.NotNil(t, st.LastEvent)
	assert.Equal(t, 110.0, st.LastEvent.Level)

	empty := Summarize(nil, nil)
	assert.Equal(t, market.DirectionNone, empty.Trend)
	assert.Nil(t, empty.LastEvent)
}

func TestLastSwingBefore(t *testing.T) {
	points := []StructurePoint{
		point(Low, 5, 100),
		point(High, 6, 110),
		point(Low, 7, 105),
		point(High, 8, 115),
	}
	sw, ok := LastSwingBefore(points, Low, 8)
	require.True(t, ok)
	assert.Equal(t, 7, sw.Index)

	_, ok = LastSwingBefore(points, Low, 5)
	assert.False(t, ok)
}

func TestNearestFractal(t *testing.T) {
	bars := barsFromHighs(10, 11, 14, 11, 10, 12, 16, 12, 11, 10, 9)

	level, ok := NearestFractalAbove(bars, 10.5, 2, 50)
	require.True(t, ok)
	assert.Equal(t, 14.0, level)

	level, ok = NearestFractalAbove(bars, 14, 2, 50)
	require.True(t, ok)
	assert.Equal(t, 16.0, level)

	_, ok = NearestFractalAbove(bars, 16, 2, 50)
	assert.False(t, ok)

	// Lows are highs minus one: down-fractal at index 4 (low 9).
	level, ok = NearestFractalBelow(bars, 12, 2, 50)
	require.True(t, ok)
	assert.Equal(t, 9.0, level)
}

func TestNearestFractalLookbackEdge(t *testing.T) {
	// Newest confirmable bar is index 5; the up-fractal sits at index 2.
	bars := barsFromHighs(10, 11, 14, 11, 10, 9, 8, 7)

	level, ok := NearestFractalAbove(bars, 12, 2, 3)
	require.True(t, ok)
	assert.Equal(t, 14.0, level)

	_, ok = NearestFractalAbove(bars, 12, 2, 2)
	assert.False(t, ok)
}

func BenchmarkPipeline(b *testing.B) {
	bars := make([]market.Bar, 2000)
	price := 100.0
	for i := range bars {
		price += float64((i*7)%11) - 5
		bars[i] = market.Bar{OpenTime: t0.Add(time.Duration(i) * time.Minute), Open: price, High: price + 2, Low: price - 2, Close: price + 1}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		points := BuildStructure(DetectPivots(bars, 5))
		_ = ClassifyEvents(points, bars)
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	points := []StructurePoint{
		point(Low, 1, 100),
		point(High, 2, 110),
		point(Low, 3, 105),
		point(High, 4, 115),
		point(Low, 5, 102),
	}
	events := ClassifyEvents(points, nil)
	data, err := json.Marshal(struct {
		Points []StructurePoint
		Events []BosEvent
	}{points, events})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"CHoCH"`)
	assert.Contains(t, string(data), `"direction":"bullish"`)

	var back struct {
		Points []StructurePoint
		Events []BosEvent
	}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, events, back.Events)
	assert.Equal(t, points, back.Points)
}
