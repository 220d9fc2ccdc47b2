package structure

// StructurePoint is a swing point kept in the compressed structure.
type StructurePoint struct {
	SwingPoint
}

// BuildStructure compresses pivots into a strictly alternating sequence.
// A pivot of the other kind is appended. A pivot of the same kind replaces
// the last point only when it is more extreme (higher high, lower low),
// otherwise it is dropped. Running it on its own output is a no-op.
func BuildStructure(pivots []SwingPoint) []StructurePoint {
	points := make([]StructurePoint, 0, len(pivots))
	for _, p := range pivots {
		if len(points) == 0 {
			points = append(points, StructurePoint{p})
			continue
		}
		last := &points[len(points)-1]
		if p.Kind != last.Kind {
			points = append(points, StructurePoint{p})
			continue
		}
		if (p.Kind == High && p.Price > last.Price) || (p.Kind == Low && p.Price < last.Price) {
			last.SwingPoint = p
		}
	}
	return points
}

// Swings unwraps structure points back into swing points.
func Swings(points []StructurePoint) []SwingPoint {
	out := make([]SwingPoint, len(points))
	for i, p := range points {
		out[i] = p.SwingPoint
	}
	return out
}

// IsAlternating reports whether consecutive points never share a kind.
func IsAlternating(points []StructurePoint) bool {
	for i := 1; i < len(points); i++ {
		if points[i].Kind == points[i-1].Kind {
			return false
		}
	}
	return true
}
