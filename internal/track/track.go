package track

// Point is a single trajectory sample. Elevation is nil when the recording
// carried no <ele> for the point.
type Point struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Elevation *float64 `json:"elevation,omitempty"`
}

// Float64 is a convenience for building optional elevations.
func Float64(v float64) *float64 { return &v }

// FillElevation returns a copy of points with missing elevations filled:
// forward fill from the nearest earlier sample, then backward fill for any
// leading run with no earlier value. A segment with no elevation at all is
// returned unchanged; downstream treats nil as a zero delta.
func FillElevation(points []Point) []Point {
	out := make([]Point, len(points))
	copy(out, points)

	var last *float64
	for i := range out {
		if out[i].Elevation != nil {
			v := *out[i].Elevation
			last = &v
		} else if last != nil {
			v := *last
			out[i].Elevation = &v
		}
	}
	if last == nil {
		return out
	}

	// Backward pass covers only the leading nils left by the forward pass.
	var next *float64
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Elevation != nil {
			v := *out[i].Elevation
			next = &v
		} else if next != nil {
			v := *next
			out[i].Elevation = &v
		}
	}
	return out
}

// Elevations extracts the elevation series of a point slice.
func Elevations(points []Point) []*float64 {
	out := make([]*float64, len(points))
	for i, p := range points {
		out[i] = p.Elevation
	}
	return out
}
