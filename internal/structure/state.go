package structure

import "structure-engine/internal/market"

// State summarises where the market structure stands after a snapshot.
type State struct {
	Trend     market.Direction `json:"trend"`
	LastHigh  *StructurePoint  `json:"last_high,omitempty"`
	LastLow   *StructurePoint  `json:"last_low,omitempty"`
	LastEvent *BosEvent        `json:"last_event,omitempty"`
}

// Summarize derives the trend from the last confirmed break and picks the
// most recent structure high and low.
func Summarize(points []StructurePoint, events []BosEvent) State {
	var st State
	for i := len(points) - 1; i >= 0 && (st.LastHigh == nil || st.LastLow == nil); i-- {
		p := points[i]
		switch {
		case p.Kind == High && st.LastHigh == nil:
			st.LastHigh = &p
		case p.Kind == Low && st.LastLow == nil:
			st.LastLow = &p
		}
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Confirmed {
			st.Trend = events[i].Direction
			break
		}
	}
	if len(events) > 0 {
		ev := events[len(events)-1]
		st.LastEvent = &ev
	}
	return st
}

// LastSwingBefore returns the latest structure point of the given kind whose
// index is below idx. The SMC entry uses it to place a stop behind the swing
// that preceded a break.
func LastSwingBefore(points []StructurePoint, kind Kind, idx int) (StructurePoint, bool) {
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].Kind == kind && points[i].Index < idx {
			return points[i], true
		}
	}
	return StructurePoint{}, false
}
