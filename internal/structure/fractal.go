package structure

import "structure-engine/internal/market"

// NearestFractalAbove finds the lowest up-fractal high strictly above price.
// An up-fractal at i has a high strictly greater than the window bars on each
// side. The newest confirmable bar and the maxLookback bars before it are
// considered.
func NearestFractalAbove(bars []market.Bar, price float64, window, maxLookback int) (float64, bool) {
	best, found := 0.0, false
	scanFractals(bars, window, maxLookback, func(i int) {
		h := bars[i].High
		if h <= price || !isFractal(bars, i, window, func(b market.Bar) bool { return b.High >= h }) {
			return
		}
		if !found || h < best {
			best, found = h, true
		}
	})
	return best, found
}

// NearestFractalBelow finds the highest down-fractal low strictly below price.
func NearestFractalBelow(bars []market.Bar, price float64, window, maxLookback int) (float64, bool) {
	best, found := 0.0, false
	scanFractals(bars, window, maxLookback, func(i int) {
		l := bars[i].Low
		if l >= price || !isFractal(bars, i, window, func(b market.Bar) bool { return b.Low <= l }) {
			return
		}
		if !found || l > best {
			best, found = l, true
		}
	})
	return best, found
}

func scanFractals(bars []market.Bar, window, maxLookback int, visit func(int)) {
	if window < 1 || len(bars) < 2*window+1 {
		return
	}
	newest := len(bars) - 1 - window
	oldest := window
	if maxLookback > 0 {
		oldest = max(window, newest-maxLookback)
	}
	for i := newest; i >= oldest; i-- {
		visit(i)
	}
}

// isFractal rejects i when any neighbour satisfies reject.
func isFractal(bars []market.Bar, i, window int, reject func(market.Bar) bool) bool {
	for k := 1; k <= window; k++ {
		if reject(bars[i-k]) || reject(bars[i+k]) {
			return false
		}
	}
	return true
}
