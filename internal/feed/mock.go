package feed

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"structure-engine/internal/market"
)

// MockSource generates a reproducible random walk per symbol and timeframe,
// for development without network access.
type MockSource struct {
	Seed      int64
	BasePrice float64
	End       time.Time
}

// NewMockSource creates a mock anchored at end. A zero end follows the wall
// clock, so each call ends at the latest closed bar.
func NewMockSource(seed int64, end time.Time) *MockSource {
	return &MockSource{Seed: seed, BasePrice: 100, End: end}
}

// Bars returns limit closed bars ending at the mock's anchor.
func (m *MockSource) Bars(ctx context.Context, symbol string, tf market.Timeframe, limit int) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return market.Series{}, err
	}
	h := fnv.New64a()
	h.Write([]byte(symbol))
	h.Write([]byte(tf))
	rng := rand.New(rand.NewSource(m.Seed ^ int64(h.Sum64())))

	step := tf.Duration()
	if step == 0 {
		step = time.Minute
	}
	end := m.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	start := end.Truncate(step).Add(-time.Duration(limit) * step)

	bars := make([]market.Bar, limit)
	price := m.BasePrice
	vol := price * 0.004
	for i := range bars {
		open := price
		// A slow sine drift gives the walk recognisable swings.
		drift := math.Sin(float64(i)/12) * vol * 0.6
		closeP := math.Max(open+drift+rng.NormFloat64()*vol, vol)
		wickUp := math.Abs(rng.NormFloat64()) * vol * 0.5
		wickDown := math.Abs(rng.NormFloat64()) * vol * 0.5
		bars[i] = market.Bar{
			OpenTime: start.Add(time.Duration(i) * step),
			Open:     open,
			High:     math.Max(open, closeP) + wickUp,
			Low:      math.Max(math.Min(open, closeP)-wickDown, 0),
			Close:    closeP,
			Volume:   1000 + rng.Float64()*500,
		}
		price = closeP
	}
	return market.Series{Symbol: symbol, Timeframe: tf, Bars: bars}, nil
}
