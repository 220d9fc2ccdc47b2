package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"structure-engine/internal/market"
)

// minRiskPerUnit is the smallest monetary risk per unit treated as non-zero.
const minRiskPerUnit = 1e-9

var (
	// ErrInvalidStop is returned when the stop distance is zero, negative or not a number.
	ErrInvalidStop = errors.New("invalid stop")
	// ErrZeroRiskPerUnit is returned when one unit of volume risks (almost) nothing.
	ErrZeroRiskPerUnit = errors.New("zero risk per unit")
	// ErrVolumeOutOfBounds is returned when no tradeable volume fits the instrument limits.
	ErrVolumeOutOfBounds = errors.New("volume out of bounds")
	// ErrInvalidRisk is returned for a non-positive equity, risk percent or entry.
	ErrInvalidRisk = errors.New("invalid risk parameters")
	// ErrInvalidInstrument mirrors market.ErrInvalidInstrument for callers of this package.
	ErrInvalidInstrument = market.ErrInvalidInstrument
)

// Warning flags a non-fatal adjustment made while sizing.
type Warning string

const (
	WarnStopFloored       Warning = "stop_floored"
	WarnMinVolumeOverride Warning = "min_volume_override"
	WarnMaxVolumeClamp    Warning = "max_volume_clamp"
	WarnTargetDiscarded   Warning = "target_discarded"
)

// Request is one sizing question. Exactly one of RewardRatio or TargetPrice
// is normally set; TargetPrice wins when both are.
type Request struct {
	Entry       float64           `json:"entry"`
	StopRef     float64           `json:"stop"`
	Equity      float64           `json:"equity"`
	RiskPercent float64           `json:"risk_percent"`
	Instrument  market.Instrument `json:"instrument"`
	RewardRatio float64           `json:"reward_ratio,omitempty"`
	TargetPrice float64           `json:"target_price,omitempty"`
	// StrictMinVolume rejects a volume below the instrument minimum instead
	// of trading the minimum.
	StrictMinVolume bool `json:"strict_min_volume,omitempty"`
}

// Decision is the sized trade.
type Decision struct {
	Side                 market.Direction `json:"side"`
	Entry                float64          `json:"entry"`
	StopLoss             float64          `json:"stop_loss"`
	TakeProfit           float64          `json:"take_profit,omitempty"`
	HasTakeProfit        bool             `json:"has_take_profit"`
	Volume               float64          `json:"volume"`
	RawVolume            float64          `json:"raw_volume"`
	StopDistance         float64          `json:"stop_distance"`
	RiskAmount           float64          `json:"risk_amount"`
	RiskPerUnit          float64          `json:"risk_per_unit"`
	EffectiveRiskPercent float64          `json:"effective_risk_percent"`
	Warnings             []Warning        `json:"warnings,omitempty"`
}

// HasWarning reports whether w was raised.
func (d Decision) HasWarning(w Warning) bool {
	for _, x := range d.Warnings {
		if x == w {
			return true
		}
	}
	return false
}

// Size turns an entry, a stop reference and a risk budget into a volume, a
// rounded stop and an optional take-profit.
//
// The stop is snapped to the tick grid away from the entry and the target
// toward it, so rounding never widens the risk or pushes the target further.
func Size(req Request) (Decision, error) {
	in := req.Instrument
	if err := in.Validate(); err != nil {
		return Decision{}, err
	}
	if !(req.Equity > 0) || !(req.RiskPercent > 0) || !(req.Entry > 0) {
		return Decision{}, fmt.Errorf("%w: equity=%.2f risk=%.4f%% entry=%.8f", ErrInvalidRisk, req.Equity, req.RiskPercent, req.Entry)
	}
	if math.IsNaN(req.StopRef) || math.IsInf(req.StopRef, 0) || req.StopRef == req.Entry {
		return Decision{}, fmt.Errorf("%w: stop %.8f against entry %.8f", ErrInvalidStop, req.StopRef, req.Entry)
	}

	d := Decision{Side: market.Bullish, Entry: req.Entry}
	away := market.RoundDown
	if req.StopRef > req.Entry {
		d.Side = market.Bearish
		away = market.RoundUp
	}

	d.StopLoss = in.RoundPrice(req.StopRef, away)
	d.StopDistance = math.Abs(req.Entry - d.StopLoss)
	if !(d.StopDistance > 0) {
		return Decision{}, fmt.Errorf("%w: zero distance after rounding", ErrInvalidStop)
	}
	if floor := in.MinStopDistance(); d.StopDistance < floor {
		d.StopLoss = in.RoundPrice(offset(req.Entry, floor, d.Side.Opposite()), away)
		d.StopDistance = math.Abs(req.Entry - d.StopLoss)
		d.Warnings = append(d.Warnings, WarnStopFloored)
	}

	d.RiskAmount = req.Equity * req.RiskPercent / 100
	d.RiskPerUnit = riskPerUnit(in, d.StopDistance)
	if d.RiskPerUnit <= minRiskPerUnit {
		return Decision{}, fmt.Errorf("%w: %.12f per unit", ErrZeroRiskPerUnit, d.RiskPerUnit)
	}

	d.RawVolume = d.RiskAmount / d.RiskPerUnit
	d.Volume = in.NormalizeVolume(d.RawVolume)
	if d.Volume < in.VolumeMin {
		if req.StrictMinVolume {
			return Decision{}, fmt.Errorf("%w: %.8f below minimum %.8f", ErrVolumeOutOfBounds, d.Volume, in.VolumeMin)
		}
		d.Volume = in.VolumeMin
		d.Warnings = append(d.Warnings, WarnMinVolumeOverride)
	}
	if d.Volume > in.VolumeMax {
		d.Volume = in.NormalizeVolume(in.VolumeMax)
		d.Warnings = append(d.Warnings, WarnMaxVolumeClamp)
	}
	if d.Volume <= 0 || d.Volume < in.VolumeMin {
		return Decision{}, fmt.Errorf("%w: %.8f after clamping", ErrVolumeOutOfBounds, d.Volume)
	}
	d.EffectiveRiskPercent = d.Volume * d.RiskPerUnit / req.Equity * 100

	toward := market.RoundDown
	if d.Side == market.Bearish {
		toward = market.RoundUp
	}
	var target float64
	switch {
	case req.TargetPrice > 0:
		target = req.TargetPrice
	case req.RewardRatio > 0:
		target = offset(req.Entry, d.StopDistance*req.RewardRatio, d.Side)
	default:
		return d, nil
	}
	// The rounded target must still sit strictly on the profit side.
	if tp := in.RoundPrice(target, toward); favourable(d.Side, req.Entry, tp) {
		d.TakeProfit = tp
		d.HasTakeProfit = true
	} else {
		d.Warnings = append(d.Warnings, WarnTargetDiscarded)
	}
	return d, nil
}

func favourable(side market.Direction, entry, tp float64) bool {
	if side == market.Bearish {
		return tp < entry
	}
	return tp > entry
}

func riskPerUnit(in market.Instrument, distance float64) float64 {
	if in.Quotation == market.QuotePips {
		return distance / in.Pip() * in.PipValue
	}
	return distance / in.TickSize * in.TickValue
}

// offset moves price by distance in dir.
func offset(price, distance float64, dir market.Direction) float64 {
	if dir == market.Bearish {
		return price - distance
	}
	return price + distance
}

// Config holds account-level sizing defaults.
type Config struct {
	RiskPercent            float64 `json:"risk_percent" yaml:"risk_percent"`
	RewardRatio            float64 `json:"reward_ratio" yaml:"reward_ratio"`
	AllowMinVolumeOverride bool    `json:"allow_min_volume_override" yaml:"allow_min_volume_override"`
}

// Sizer applies Config defaults to requests and logs every adjustment.
type Sizer struct {
	config Config
	logger zerolog.Logger
}

// NewSizer creates a sizer.
func NewSizer(config Config, logger zerolog.Logger) *Sizer {
	return &Sizer{
		config: config,
		logger: logger.With().Str("component", "RiskSizer").Logger(),
	}
}

// Size fills missing risk percent and reward ratio from the config, then sizes.
func (s *Sizer) Size(req Request) (Decision, error) {
	if req.RiskPercent == 0 {
		req.RiskPercent = s.config.RiskPercent
	}
	if req.RewardRatio == 0 && req.TargetPrice == 0 {
		req.RewardRatio = s.config.RewardRatio
	}
	if !s.config.AllowMinVolumeOverride {
		req.StrictMinVolume = true
	}

	d, err := Size(req)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("symbol", req.Instrument.Symbol).
			Float64("entry", req.Entry).
			Float64("stop", req.StopRef).
			Msg("Sizing rejected")
		return d, err
	}
	for _, w := range d.Warnings {
		s.logger.Warn().
			Str("symbol", req.Instrument.Symbol).
			Str("warning", string(w)).
			Float64("volume", d.Volume).
			Float64("stop_loss", d.StopLoss).
			Float64("effective_risk_pct", d.EffectiveRiskPercent).
			Msg("Sizing adjusted")
	}
	s.logger.Debug().
		Str("symbol", req.Instrument.Symbol).
		Str("side", d.Side.String()).
		Str("volume", fmt.Sprintf("%.*f", req.Instrument.VolumeDecimals(), d.Volume)).
		Float64("risk_amount", d.RiskAmount).
		Msg("Position sized")
	return d, nil
}
