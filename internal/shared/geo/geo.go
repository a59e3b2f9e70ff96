package geo

import "math"

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometers between two
// coordinates given in degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Coordinate is a bare lat/lon pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// NearestIndex returns the index of the trajectory point closest to the given
// coordinate, scanning linearly with the haversine metric. Returns -1 for an
// empty trajectory.
func NearestIndex(points []Coordinate, lat, lon float64) int {
	best := -1
	bestDist := math.Inf(1)
	for i, p := range points {
		d := HaversineKm(lat, lon, p.Lat, p.Lon)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}
