package track

import (
	"math"

	"backend-trailplan/internal/shared/geo"
)

// Resample converts an irregular point sequence into points evenly spaced by
// arc length. Output points sit at offsets 0, spacingM, 2*spacingM, ... plus
// the exact total length, so the last output point coincides with the last
// input point. Lat/lon/elevation are linearly interpolated between the
// bracketing input points by fractional arc position.
func Resample(points []Point, spacingM float64) []Point {
	if len(points) < 2 || spacingM <= 0 {
		return clonePoints(points)
	}

	// Cumulative arc length in meters over the input.
	cum := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		d := geo.HaversineKm(points[i-1].Lat, points[i-1].Lon, points[i].Lat, points[i].Lon) * 1000
		cum[i] = cum[i-1] + d
	}
	total := cum[len(cum)-1]

	if !(total > 0) || math.IsInf(total, 0) || math.IsNaN(total) {
		// Zero-length or broken geometry: hand back the first two points
		// unchanged rather than looping forever on a zero step.
		if len(points) > 2 {
			points = points[:2]
		}
		return clonePoints(points)
	}

	out := make([]Point, 0, int(total/spacingM)+2)
	j := 0
	for k := 0; ; k++ {
		off := float64(k) * spacingM
		last := off >= total
		if last {
			off = total
		}
		for j < len(cum)-2 && cum[j+1] < off {
			j++
		}
		out = append(out, lerpPoint(points[j], points[j+1], cum[j], cum[j+1], off))
		if last {
			break
		}
	}
	return out
}

func lerpPoint(a, b Point, offA, offB, off float64) Point {
	span := offB - offA
	t := 0.0
	if span > 0 {
		t = (off - offA) / span
	}
	p := Point{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lon: a.Lon + t*(b.Lon-a.Lon),
	}
	switch {
	case a.Elevation != nil && b.Elevation != nil:
		p.Elevation = Float64(*a.Elevation + t*(*b.Elevation-*a.Elevation))
	case a.Elevation != nil:
		p.Elevation = Float64(*a.Elevation)
	case b.Elevation != nil:
		p.Elevation = Float64(*b.Elevation)
	}
	return p
}

func clonePoints(points []Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = p
		if p.Elevation != nil {
			out[i].Elevation = Float64(*p.Elevation)
		}
	}
	return out
}
