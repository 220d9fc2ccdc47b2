package zones

import "structure-engine/internal/market"

// LiquidityLevel returns the resting-liquidity extreme of the last lookback
// closed bars: the lowest low for dir Bullish (stops of longs sit below it),
// the highest high for dir Bearish.
func LiquidityLevel(bars []market.Bar, lookback int, dir market.Direction) (float64, int, bool) {
	n := len(bars)
	if n == 0 || lookback < 1 {
		return 0, -1, false
	}
	oldest := max(0, n-lookback)
	idx := n - 1
	for j := n - 1; j >= oldest; j-- {
		switch dir {
		case market.Bullish:
			if bars[j].Low < bars[idx].Low {
				idx = j
			}
		case market.Bearish:
			if bars[j].High > bars[idx].High {
				idx = j
			}
		default:
			return 0, -1, false
		}
	}
	if dir == market.Bullish {
		return bars[idx].Low, idx, true
	}
	return bars[idx].High, idx, true
}
