// Package gpx turns GPX documents into track segments and named points for
// the planning pipeline.
package gpx

import (
	"errors"

	"github.com/tkrajina/gpxgo/gpx"

	"backend-trailplan/internal/track"
)

// NamedPoint is a named coordinate imported from the GPX document.
type NamedPoint struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
}

// File is the parsed input to a calculate run.
type File struct {
	Name        string
	Segments    [][]track.Point
	NamedPoints []NamedPoint
}

var ErrNoUsableSegments = errors.New("gpx: no usable track segments")

// Parse decodes GPX bytes into usable segments (length >= 2) plus named
// points. Named points come from dedicated waypoints, then route points, then
// named track points, in that precedence; the first non-empty category wins.
// Malformed XML or a document without a usable segment is an error and no
// partial result is returned.
func Parse(data []byte) (*File, error) {
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, err
	}

	f := &File{Name: doc.Name}
	for _, trk := range doc.Tracks {
		if f.Name == "" {
			f.Name = trk.Name
		}
		for _, seg := range trk.Segments {
			if len(seg.Points) < 2 {
				continue
			}
			points := make([]track.Point, len(seg.Points))
			for i, p := range seg.Points {
				points[i] = track.Point{Lat: p.Latitude, Lon: p.Longitude}
				if p.Elevation.NotNull() {
					points[i].Elevation = track.Float64(p.Elevation.Value())
				}
			}
			f.Segments = append(f.Segments, points)
		}
	}
	if len(f.Segments) == 0 {
		return nil, ErrNoUsableSegments
	}

	f.NamedPoints = namedPoints(doc)
	return f, nil
}

func namedPoints(doc *gpx.GPX) []NamedPoint {
	var out []NamedPoint
	for _, w := range doc.Waypoints {
		out = append(out, NamedPoint{Lat: w.Latitude, Lon: w.Longitude, Name: w.Name})
	}
	if len(out) > 0 {
		return out
	}

	for _, rte := range doc.Routes {
		for _, p := range rte.Points {
			out = append(out, NamedPoint{Lat: p.Latitude, Lon: p.Longitude, Name: p.Name})
		}
	}
	if len(out) > 0 {
		return out
	}

	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				if p.Name != "" {
					out = append(out, NamedPoint{Lat: p.Latitude, Lon: p.Longitude, Name: p.Name})
				}
			}
		}
	}
	return out
}
