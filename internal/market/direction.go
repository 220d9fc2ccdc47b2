package market

import "fmt"

// Direction is a market bias.
type Direction int

const (
	DirectionNone Direction = iota
	Bullish
	Bearish
)

func (d Direction) String() string {
	switch d {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "none"
	}
}

// Opposite flips Bullish and Bearish. DirectionNone stays as is.
func (d Direction) Opposite() Direction {
	switch d {
	case Bullish:
		return Bearish
	case Bearish:
		return Bullish
	default:
		return DirectionNone
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDirection parses "bullish", "bearish", "long", "short" or "none"/"".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "bullish", "long", "buy":
		return Bullish, nil
	case "bearish", "short", "sell":
		return Bearish, nil
	case "", "none":
		return DirectionNone, nil
	}
	return DirectionNone, fmt.Errorf("unknown direction %q", s)
}
