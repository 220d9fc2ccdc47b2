package market

import (
	"errors"
	"fmt"
	"time"
)

// Bar is one OHLCV candle. Prices are in the instrument's quote units.
type Bar struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume,omitempty"`
}

// Range returns High - Low.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// IsBullish reports whether the bar closed above its open.
func (b Bar) IsBullish() bool {
	return b.Close > b.Open
}

// IsBearish reports whether the bar closed below its open.
func (b Bar) IsBearish() bool {
	return b.Close < b.Open
}

// Validate checks the low <= open,close <= high relationship.
func (b Bar) Validate() error {
	if b.Low > b.High {
		return fmt.Errorf("bar %s: low %.8f above high %.8f", b.OpenTime.Format(time.RFC3339), b.Low, b.High)
	}
	if b.Open < b.Low || b.Open > b.High || b.Close < b.Low || b.Close > b.High {
		return fmt.Errorf("bar %s: open/close outside high-low range", b.OpenTime.Format(time.RFC3339))
	}
	return nil
}

// ErrUnorderedBars is returned when a series is not strictly ascending in time.
var ErrUnorderedBars = errors.New("bars are not in ascending time order")

// Series is an ordered run of bars for one symbol and timeframe.
// When Forming is true the last bar is still open and is excluded from
// every closed-bar computation.
type Series struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Bars      []Bar     `json:"bars"`
	Forming   bool      `json:"forming"`
}

// Closed returns the bars that have closed.
func (s Series) Closed() []Bar {
	if s.Forming && len(s.Bars) > 0 {
		return s.Bars[:len(s.Bars)-1]
	}
	return s.Bars
}

// Last returns the most recent bar, forming or not.
func (s Series) Last() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Validate checks every bar and the time ordering.
func (s Series) Validate() error {
	for i, b := range s.Bars {
		if err := b.Validate(); err != nil {
			return err
		}
		if i > 0 && !b.OpenTime.After(s.Bars[i-1].OpenTime) {
			return fmt.Errorf("%w: index %d", ErrUnorderedBars, i)
		}
	}
	return nil
}
