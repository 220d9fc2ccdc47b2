package market

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// gridEpsilon absorbs float noise when a value sits on a grid line
// (99.5 / 0.01 evaluates to 9949.999999999998).
const gridEpsilon = 1e-7

// ErrInvalidInstrument is returned for inconsistent instrument economics.
var ErrInvalidInstrument = errors.New("invalid instrument")

// Quotation selects how monetary risk per unit is measured.
type Quotation string

const (
	QuoteTicks Quotation = "ticks"
	QuotePips  Quotation = "pips"
)

// RoundMode selects the direction of tick-grid rounding.
type RoundMode int

const (
	RoundNearest RoundMode = iota
	RoundDown
	RoundUp
)

// Instrument carries the economics needed to turn a price distance into money.
type Instrument struct {
	Symbol       string    `json:"symbol" yaml:"symbol"`
	TickSize     float64   `json:"tick_size" yaml:"tick_size"`
	TickValue    float64   `json:"tick_value" yaml:"tick_value"`
	PipSize      float64   `json:"pip_size,omitempty" yaml:"pip_size"`
	PipValue     float64   `json:"pip_value,omitempty" yaml:"pip_value"`
	Quotation    Quotation `json:"quotation,omitempty" yaml:"quotation"`
	VolumeMin    float64   `json:"volume_min" yaml:"volume_min"`
	VolumeMax    float64   `json:"volume_max" yaml:"volume_max"`
	VolumeStep   float64   `json:"volume_step" yaml:"volume_step"`
	PriceDigits  int       `json:"price_digits,omitempty" yaml:"price_digits"`
	MinStopTicks float64   `json:"min_stop_ticks,omitempty" yaml:"min_stop_ticks"`
}

// Validate checks that the instrument can be used for sizing.
func (in Instrument) Validate() error {
	switch {
	case in.TickSize <= 0:
		return fmt.Errorf("%w: %s tick size must be positive", ErrInvalidInstrument, in.Symbol)
	case in.VolumeStep <= 0:
		return fmt.Errorf("%w: %s volume step must be positive", ErrInvalidInstrument, in.Symbol)
	case in.VolumeMin < 0 || in.VolumeMax <= 0:
		return fmt.Errorf("%w: %s volume bounds must be positive", ErrInvalidInstrument, in.Symbol)
	case in.VolumeMin > in.VolumeMax:
		return fmt.Errorf("%w: %s volume min %.8f above max %.8f", ErrInvalidInstrument, in.Symbol, in.VolumeMin, in.VolumeMax)
	case in.Quotation == QuotePips && in.PipValue <= 0:
		return fmt.Errorf("%w: %s pip-quoted instrument needs a pip value", ErrInvalidInstrument, in.Symbol)
	}
	return nil
}

// Pip returns the pip size, falling back to the tick size.
func (in Instrument) Pip() float64 {
	if in.PipSize > 0 {
		return in.PipSize
	}
	return in.TickSize
}

// MinStopDistance is the smallest stop distance the venue accepts, in price units.
func (in Instrument) MinStopDistance() float64 {
	if in.MinStopTicks <= 0 {
		return 0
	}
	return in.MinStopTicks * in.TickSize
}

// RoundPrice snaps a price to the tick grid.
func (in Instrument) RoundPrice(price float64, mode RoundMode) float64 {
	v := roundToGrid(price, in.TickSize, mode)
	digits := in.PriceDigits
	if digits <= 0 {
		digits = Decimals(in.TickSize)
	}
	return roundDigits(v, digits)
}

// NormalizeVolume floors a volume to the volume step.
func (in Instrument) NormalizeVolume(volume float64) float64 {
	return roundDigits(roundToGrid(volume, in.VolumeStep, RoundDown), in.VolumeDecimals())
}

// VolumeDecimals is the number of decimal places implied by the volume step.
func (in Instrument) VolumeDecimals() int {
	return Decimals(in.VolumeStep)
}

// Decimals counts the decimal places of a step such as 0.01 or 0.5.
func Decimals(step float64) int {
	if step <= 0 || step >= 1 {
		return 0
	}
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

func roundToGrid(v, step float64, mode RoundMode) float64 {
	if step <= 0 {
		return v
	}
	n := v / step
	if r := math.Round(n); math.Abs(n-r) < gridEpsilon {
		n = r
	}
	switch mode {
	case RoundDown:
		n = math.Floor(n)
	case RoundUp:
		n = math.Ceil(n)
	default:
		n = math.Round(n)
	}
	return n * step
}

func roundDigits(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

// Account is the trading account state used for sizing.
type Account struct {
	Equity   float64 `json:"equity"`
	Balance  float64 `json:"balance,omitempty"`
	Currency string  `json:"currency,omitempty"`
}
