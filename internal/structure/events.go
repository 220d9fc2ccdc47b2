package structure

import (
	"fmt"
	"time"

	"structure-engine/internal/market"
)

// EventKind separates continuation breaks from trend changes.
type EventKind int

const (
	BOS EventKind = iota + 1
	CHoCH
)

func (k EventKind) String() string {
	switch k {
	case BOS:
		return "BOS"
	case CHoCH:
		return "CHoCH"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "BOS":
		*k = BOS
	case "CHoCH":
		*k = CHoCH
	default:
		return fmt.Errorf("unknown event kind %q", text)
	}
	return nil
}

// BosEvent records price breaking a prior structure level.
// A confirmed event ends on a structure point. A provisional one ends on the
// last bar of the snapshot and is recomputed (or dropped) on the next one.
type BosEvent struct {
	Kind       EventKind        `json:"kind"`
	Direction  market.Direction `json:"direction"`
	Level      float64          `json:"level"`
	StartIndex int              `json:"start_index"`
	EndIndex   int              `json:"end_index"`
	StartTime  time.Time        `json:"start_time"`
	EndTime    time.Time        `json:"end_time"`
	Confirmed  bool             `json:"confirmed"`
}

// Bullish reports an upside break.
func (e BosEvent) Bullish() bool {
	return e.Direction == market.Bullish
}

// Classifier labels structure breaks. InitialTrend is the trend the caller
// already considers established; DirectionNone lets the first confirmed
// break set it.
type Classifier struct {
	InitialTrend market.Direction
}

// ClassifyEvents runs a Classifier with no prior trend.
func ClassifyEvents(points []StructurePoint, bars []market.Bar) []BosEvent {
	return Classifier{}.Classify(points, bars)
}

// Classify scans every window of three consecutive structure points.
// H,L,H with the last high above the first is a bullish break of the first
// high; L,H,L with the last low below the first is a bearish break. A break
// against the running trend is a CHoCH and flips the trend.
//
// When bars are given, a provisional break is appended if the last close
// already sits beyond the opposing structure level: the last point is a Low
// and the close is above the last High, or the mirror case.
func (c Classifier) Classify(points []StructurePoint, bars []market.Bar) []BosEvent {
	events := make([]BosEvent, 0)
	trend := c.InitialTrend

	for i := 2; i < len(points); i++ {
		first, mid, last := points[i-2], points[i-1], points[i]
		var dir market.Direction
		switch {
		case first.Kind == High && mid.Kind == Low && last.Kind == High && last.Price > first.Price:
			dir = market.Bullish
		case first.Kind == Low && mid.Kind == High && last.Kind == Low && last.Price < first.Price:
			dir = market.Bearish
		default:
			continue
		}
		events = append(events, BosEvent{
			Kind:       label(trend, dir),
			Direction:  dir,
			Level:      first.Price,
			StartIndex: first.Index,
			EndIndex:   last.Index,
			StartTime:  first.Time,
			EndTime:    last.Time,
			Confirmed:  true,
		})
		trend = dir
	}

	if ev, ok := provisional(points, bars, trend); ok {
		events = append(events, ev)
	}
	return events
}

func label(trend, dir market.Direction) EventKind {
	if trend != market.DirectionNone && trend != dir {
		return CHoCH
	}
	return BOS
}

func provisional(points []StructurePoint, bars []market.Bar, trend market.Direction) (BosEvent, bool) {
	if len(points) < 2 || len(bars) == 0 {
		return BosEvent{}, false
	}
	lastBar := bars[len(bars)-1]
	tail := points[len(points)-1]

	// Alternation puts the opposing level right before the tail point.
	level := points[len(points)-2]
	var dir market.Direction
	switch {
	case tail.Kind == Low && lastBar.Close > level.Price:
		dir = market.Bullish
	case tail.Kind == High && lastBar.Close < level.Price:
		dir = market.Bearish
	default:
		return BosEvent{}, false
	}
	return BosEvent{
		Kind:       label(trend, dir),
		Direction:  dir,
		Level:      level.Price,
		StartIndex: level.Index,
		EndIndex:   len(bars) - 1,
		StartTime:  level.Time,
		EndTime:    lastBar.OpenTime,
		Confirmed:  false,
	}, true
}

// ConfirmedOnly filters out provisional events.
func ConfirmedOnly(events []BosEvent) []BosEvent {
	out := make([]BosEvent, 0, len(events))
	for _, e := range events {
		if e.Confirmed {
			out = append(out, e)
		}
	}
	return out
}
