// Package feed supplies bar series: Binance REST klines, the Binance kline
// websocket stream, CSV files and a deterministic mock.
package feed

import (
	"context"

	"structure-engine/internal/market"
)

// Source returns the most recent limit bars for a symbol and timeframe.
// The last bar may still be forming; Series.Forming says so.
type Source interface {
	Bars(ctx context.Context, symbol string, tf market.Timeframe, limit int) (market.Series, error)
}
