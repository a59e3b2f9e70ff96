package plan

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"backend-trailplan/internal/pace"
	"backend-trailplan/internal/shared/geo"
	"backend-trailplan/internal/track"
)

// Options are the pipeline tuning parameters of a calculate run.
type Options struct {
	SpacingM      float64 `json:"spacing_m"`
	SmoothWinM    float64 `json:"smooth_win_m"`
	ElevDeadbandM float64 `json:"elev_deadband_m"`
}

func DefaultOptions() Options {
	return Options{SpacingM: 5, SmoothWinM: 35, ElevDeadbandM: 2}
}

// Clamped forces every option into its valid range.
func (o Options) Clamped() Options {
	o.SpacingM = clampFloat(o.SpacingM, 1, 100)
	o.SmoothWinM = clampFloat(o.SmoothWinM, 5, 500)
	o.ElevDeadbandM = clampFloat(o.ElevDeadbandM, 0, 20)
	return o
}

// SmoothWindowPoints converts the smoothing window from meters to a point
// count at the configured spacing.
func (o Options) SmoothWindowPoints() int {
	return track.ClampWindow(int(math.Round(o.SmoothWinM / o.SpacingM)))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LegKey identifies a leg by the ordered pair of its endpoint indices.
type LegKey struct {
	A int
	B int
}

func (k LegKey) String() string { return strconv.Itoa(k.A) + "|" + strconv.Itoa(k.B) }

// ParseLegKey reads the "a|b" form used by the persisted plan format.
func ParseLegKey(s string) (LegKey, error) {
	parts := strings.SplitN(s, "|", 2)
	if len(parts) != 2 {
		return LegKey{}, fmt.Errorf("plan: bad leg key %q", s)
	}
	a, err := strconv.Atoi(parts[0])
	if err != nil {
		return LegKey{}, fmt.Errorf("plan: bad leg key %q", s)
	}
	b, err := strconv.Atoi(parts[1])
	if err != nil {
		return LegKey{}, fmt.Errorf("plan: bad leg key %q", s)
	}
	return LegKey{A: a, B: b}, nil
}

// Override carries the user adjustments of one leg.
type Override struct {
	StopsMin     int    `json:"stops_min"`
	ConditionPct int    `json:"condition_pct"`
	Critical     bool   `json:"critical"`
	Label        string `json:"label,omitempty"`
}

// OverridePatch updates individual override fields; nil fields are untouched.
type OverridePatch struct {
	StopsMin     *int    `json:"stops_min,omitempty"`
	ConditionPct *int    `json:"condition_pct,omitempty"`
	Critical     *bool   `json:"critical,omitempty"`
	Label        *string `json:"label,omitempty"`
}

// MarkerView is one waypoint marker of the itinerary.
type MarkerView struct {
	Index         int     `json:"index"`
	Label         string  `json:"label"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	ElevationM    float64 `json:"elevation_m"`
	CumDistanceKm float64 `json:"cum_distance_km"`
	CumTimeH      float64 `json:"cum_time_h"`
	Locked        bool    `json:"locked"`
}

// LegView is the fully computed row of one leg, ready for table rendering or
// export with no further computation.
type LegView struct {
	Index         int     `json:"index"`
	From          int     `json:"from"`
	To            int     `json:"to"`
	FromLabel     string  `json:"from_label"`
	ToLabel       string  `json:"to_label"`
	Label         string  `json:"label"`
	DistanceKm    float64 `json:"distance_km"`
	AscentM       float64 `json:"ascent_m"`
	DescentM      float64 `json:"descent_m"`
	BaseTimeH     float64 `json:"base_time_h"`
	StopsMin      int     `json:"stops_min"`
	ConditionPct  int     `json:"condition_pct"`
	Critical      bool    `json:"critical"`
	TotalTimeH    float64 `json:"total_time_h"`
	CumDistanceKm float64 `json:"cum_distance_km"`
	CumAscentM    float64 `json:"cum_ascent_m"`
	CumDescentM   float64 `json:"cum_descent_m"`
	CumTimeH      float64 `json:"cum_time_h"`
	RemainingH    float64 `json:"remaining_h"`
}

// Itinerary is the complete view of a calculated plan.
type Itinerary struct {
	PlanID        string       `json:"plan_id"`
	Name          string       `json:"name"`
	Activity      string       `json:"activity"`
	Options       Options      `json:"options"`
	Model         pace.Model   `json:"model"`
	PointCount    int          `json:"point_count"`
	TotalDistKm   float64      `json:"total_distance_km"`
	TotalAscentM  float64      `json:"total_ascent_m"`
	TotalDescentM float64      `json:"total_descent_m"`
	TotalTimeH    float64      `json:"total_time_h"`
	Waypoints     []MarkerView `json:"waypoints"`
	Legs          []LegView    `json:"legs"`
}

// Arrays are the four raw cumulative arrays, aligned 1:1 with trajectory
// point indices.
type Arrays struct {
	DistanceKm []float64 `json:"distance_km"`
	AscentM    []float64 `json:"ascent_m"`
	DescentM   []float64 `json:"descent_m"`
	TimeH      []float64 `json:"time_h"`
}

// Signature identifies the track a plan document was computed from; a
// mismatch on reload warns but never blocks.
type Signature struct {
	PointCount      int            `json:"point_count"`
	FirstCoordinate geo.Coordinate `json:"first_coordinate"`
	LastCoordinate  geo.Coordinate `json:"last_coordinate"`
	SpacingM        float64        `json:"spacing_m"`
	SmoothWinM      float64        `json:"smooth_win_m"`
	ElevDeadbandM   float64        `json:"elev_deadband_m"`
}

// Document is the persisted plan format. Leg maps are keyed by "a|b"
// endpoint-index strings; the legs array mirrors the computed views for
// convenience and audit.
type Document struct {
	Version         int             `json:"version"`
	Signature       Signature       `json:"signature"`
	Activity        string          `json:"activity"`
	Options         Options         `json:"options"`
	Model           pace.Model      `json:"model"`
	WaypointIndices []int           `json:"waypoint_indices"`
	WaypointLabels  map[int]string  `json:"waypoint_labels"`
	LegLabels       map[string]string `json:"leg_labels"`
	LegStopsMin     map[string]int  `json:"leg_stops_min"`
	LegConditionPct map[string]int  `json:"leg_condition_pct"`
	LegCritical     map[string]bool `json:"leg_critical"`
	Legs            []LegView       `json:"legs"`
}

// DocumentVersion tags plan documents written by this service.
const DocumentVersion = 1
