package plan

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"sync"

	"backend-trailplan/internal/gpx"
	"backend-trailplan/internal/pace"
	"backend-trailplan/internal/shared/geo"
	"backend-trailplan/internal/track"
)

// Session owns the derived state of one calculate run: the resampled global
// trajectory, the four cumulative arrays, the waypoint markers and the leg
// overrides. A new run builds a fresh session; nothing carries over.
type Session struct {
	ID       string
	Name     string
	Activity string
	Options  Options
	Model    pace.Model

	trajectory []track.Point
	filtered   []*float64
	segStarts  []int

	distKm   []float64
	ascentM  []float64
	descentM []float64
	timeH    []float64

	markers   []int
	labels    map[int]string
	overrides map[LegKey]Override

	mu sync.Mutex
}

var ErrLockedMarker = errors.New("plan: start and finish markers are locked")

// Calculate runs the full pipeline over the parsed file and returns a fresh
// session. Each segment passes through gap fill, arc-length resampling,
// median smoothing and the deadband filter independently before being
// appended to the global trajectory; named points from the file become
// waypoint markers.
func Calculate(id string, f *gpx.File, opts Options, model pace.Model, activity string) (*Session, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}
	opts = opts.Clamped()

	s := &Session{
		ID:        id,
		Name:      f.Name,
		Activity:  activity,
		Options:   opts,
		Model:     model,
		labels:    map[int]string{},
		overrides: map[LegKey]Override{},
	}

	win := opts.SmoothWindowPoints()
	for _, seg := range f.Segments {
		resampled := track.Resample(track.FillElevation(seg), opts.SpacingM)
		if len(resampled) < 2 {
			continue
		}
		smoothed := track.MedianSmooth(track.Elevations(resampled), win)
		s.appendSegment(resampled, track.Deadband(smoothed, opts.ElevDeadbandM))
	}
	if len(s.trajectory) < 2 {
		return nil, gpx.ErrNoUsableSegments
	}

	s.markers = []int{0, len(s.trajectory) - 1}
	s.labels[0] = "Start"
	s.labels[len(s.trajectory)-1] = "Finish"

	for _, np := range f.NamedPoints {
		s.addMarker(np.Lat, np.Lon, np.Name)
	}
	return s, nil
}

// appendSegment extends the cumulative arrays by one resampled segment. The
// first point of a later segment gets a carry-forward duplicate of the
// previous totals, so array indices stay aligned 1:1 with trajectory indices
// and the seam between segments contributes no distance or time.
func (s *Session) appendSegment(points []track.Point, filtered []*float64) {
	s.segStarts = append(s.segStarts, len(s.trajectory))

	var d, a, de, ti float64
	if n := len(s.distKm); n > 0 {
		d, a, de, ti = s.distKm[n-1], s.ascentM[n-1], s.descentM[n-1], s.timeH[n-1]
	}
	s.pushRow(d, a, de, ti)

	for i := 1; i < len(points); i++ {
		stepKm := geo.HaversineKm(points[i-1].Lat, points[i-1].Lon, points[i].Lat, points[i].Lon)

		var dEle float64
		if filtered[i] != nil && filtered[i-1] != nil {
			dEle = *filtered[i] - *filtered[i-1]
		}
		ascent, descent := 0.0, 0.0
		if dEle > 0 {
			ascent = dEle
		} else {
			descent = -dEle
		}

		d += stepKm
		a += ascent
		de += descent
		ti += s.Model.StepTime(stepKm, ascent, descent)
		s.pushRow(d, a, de, ti)
	}

	s.trajectory = append(s.trajectory, points...)
	s.filtered = append(s.filtered, filtered...)
}

func (s *Session) pushRow(d, a, de, ti float64) {
	s.distKm = append(s.distKm, d)
	s.ascentM = append(s.ascentM, a)
	s.descentM = append(s.descentM, de)
	s.timeH = append(s.timeH, ti)
}

func (s *Session) clampIndex(i int) int {
	if i < 0 {
		return 0
	}
	if last := len(s.trajectory) - 1; i > last {
		return last
	}
	return i
}

func (s *Session) locked(i int) bool {
	return i == 0 || i == len(s.trajectory)-1
}

// Range returns the distance/ascent/descent/time deltas between two
// trajectory indices in O(1). Indices are clamped, never rejected; an
// out-of-range index is a caller bug and interactive editing should survive
// it.
func (s *Session) Range(a, b int) (distKm, ascentM, descentM, timeH float64) {
	a, b = s.clampIndex(a), s.clampIndex(b)
	if a > b {
		a, b = b, a
	}
	return s.distKm[b] - s.distKm[a],
		s.ascentM[b] - s.ascentM[a],
		s.descentM[b] - s.descentM[a],
		s.timeH[b] - s.timeH[a]
}

// PointCount returns the global trajectory length.
func (s *Session) PointCount() int { return len(s.trajectory) }

// SegmentStarts returns the trajectory indices where each source segment
// begins.
func (s *Session) SegmentStarts() []int {
	out := make([]int, len(s.segStarts))
	copy(out, s.segStarts)
	return out
}

// AddWaypoint inserts a marker at the trajectory point nearest to the given
// coordinate and returns its index.
func (s *Session) AddWaypoint(lat, lon float64, label string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addMarker(lat, lon, label)
}

func (s *Session) addMarker(lat, lon float64, label string) int {
	coords := make([]geo.Coordinate, len(s.trajectory))
	for i, p := range s.trajectory {
		coords[i] = geo.Coordinate{Lat: p.Lat, Lon: p.Lon}
	}
	idx := geo.NearestIndex(coords, lat, lon)
	if idx < 0 {
		return -1
	}
	s.insertMarker(idx, label)
	return idx
}

func (s *Session) insertMarker(idx int, label string) {
	pos := sort.SearchInts(s.markers, idx)
	if pos >= len(s.markers) || s.markers[pos] != idx {
		s.markers = append(s.markers, 0)
		copy(s.markers[pos+1:], s.markers[pos:])
		s.markers[pos] = idx
	}
	if label != "" && !s.locked(idx) {
		s.labels[idx] = label
	} else if _, ok := s.labels[idx]; !ok {
		s.labels[idx] = fmt.Sprintf("WP %d", idx)
	}
}

// RemoveWaypoint deletes a non-locked marker together with any leg overrides
// keyed by one of its boundaries. The overrides of the broken legs are
// discarded, not merged into the span that now bridges the gap. Removing an
// unknown index is a no-op.
func (s *Session) RemoveWaypoint(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locked(idx) {
		return ErrLockedMarker
	}
	pos := sort.SearchInts(s.markers, idx)
	if pos >= len(s.markers) || s.markers[pos] != idx {
		return nil
	}
	s.markers = append(s.markers[:pos], s.markers[pos+1:]...)
	delete(s.labels, idx)
	for key := range s.overrides {
		if key.A == idx || key.B == idx {
			delete(s.overrides, key)
		}
	}
	return nil
}

// SetLegOverride applies a partial override update to the leg keyed by the
// ordered endpoint pair and returns the resulting override. Negative stop
// minutes and condition percentages clamp to zero.
func (s *Session) SetLegOverride(key LegKey, patch OverridePatch) Override {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.A > key.B {
		key.A, key.B = key.B, key.A
	}
	ov := s.overrides[key]
	if patch.StopsMin != nil {
		ov.StopsMin = *patch.StopsMin
		if ov.StopsMin < 0 {
			ov.StopsMin = 0
		}
	}
	if patch.ConditionPct != nil {
		ov.ConditionPct = *patch.ConditionPct
		if ov.ConditionPct < 0 {
			ov.ConditionPct = 0
		}
	}
	if patch.Critical != nil {
		ov.Critical = *patch.Critical
	}
	if patch.Label != nil {
		ov.Label = *patch.Label
	}
	s.overrides[key] = ov
	return ov
}

// ComposeLegTime applies the per-leg override composition: the condition
// markup scales moving time first, stop minutes add on top.
func ComposeLegTime(baseH float64, ov Override) float64 {
	return baseH*(1+float64(ov.ConditionPct)/100) + float64(ov.StopsMin)/60
}

func (s *Session) labelFor(idx int) string {
	if l, ok := s.labels[idx]; ok {
		return l
	}
	return "#" + strconv.Itoa(idx)
}

// Itinerary builds the complete plan view: markers with their cumulative
// position and the fully composed leg rows.
func (s *Session) Itinerary() Itinerary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itineraryLocked()
}

func (s *Session) itineraryLocked() Itinerary {
	legs := s.legsLocked()

	it := Itinerary{
		PlanID:     s.ID,
		Name:       s.Name,
		Activity:   s.Activity,
		Options:    s.Options,
		Model:      s.Model,
		PointCount: len(s.trajectory),
		Waypoints:  make([]MarkerView, 0, len(s.markers)),
		Legs:       legs,
	}

	last := len(s.trajectory) - 1
	it.TotalDistKm = s.distKm[last]
	it.TotalAscentM = s.ascentM[last]
	it.TotalDescentM = s.descentM[last]
	for _, leg := range legs {
		it.TotalTimeH += leg.TotalTimeH
	}

	for _, idx := range s.markers {
		p := s.trajectory[idx]
		mv := MarkerView{
			Index:         idx,
			Label:         s.labelFor(idx),
			Lat:           p.Lat,
			Lon:           p.Lon,
			CumDistanceKm: s.distKm[idx],
			CumTimeH:      s.timeH[idx],
			Locked:        s.locked(idx),
		}
		if s.filtered[idx] != nil {
			mv.ElevationM = *s.filtered[idx]
		}
		it.Waypoints = append(it.Waypoints, mv)
	}
	return it
}

// legsLocked derives the leg rows from the current markers. Legs are a view
// over the cumulative arrays, never stored.
func (s *Session) legsLocked() []LegView {
	if len(s.markers) < 2 {
		return nil
	}
	legs := make([]LegView, 0, len(s.markers)-1)

	var cumD, cumA, cumDe, cumT float64
	for i := 0; i+1 < len(s.markers); i++ {
		a, b := s.markers[i], s.markers[i+1]
		d := s.distKm[b] - s.distKm[a]
		asc := s.ascentM[b] - s.ascentM[a]
		desc := s.descentM[b] - s.descentM[a]
		baseH := s.timeH[b] - s.timeH[a]

		ov := s.overrides[LegKey{A: a, B: b}]
		total := ComposeLegTime(baseH, ov)
		label := ov.Label
		if label == "" {
			label = s.labelFor(a) + " → " + s.labelFor(b)
		}

		cumD += d
		cumA += asc
		cumDe += desc
		cumT += total

		legs = append(legs, LegView{
			Index:         i,
			From:          a,
			To:            b,
			FromLabel:     s.labelFor(a),
			ToLabel:       s.labelFor(b),
			Label:         label,
			DistanceKm:    d,
			AscentM:       asc,
			DescentM:      desc,
			BaseTimeH:     baseH,
			StopsMin:      ov.StopsMin,
			ConditionPct:  ov.ConditionPct,
			Critical:      ov.Critical,
			TotalTimeH:    total,
			CumDistanceKm: cumD,
			CumAscentM:    cumA,
			CumDescentM:   cumDe,
			CumTimeH:      cumT,
		})
	}

	grand := cumT
	for i := range legs {
		legs[i].RemainingH = grand - legs[i].CumTimeH
	}
	return legs
}

// ArraysView hands the cumulative arrays to export consumers verbatim.
func (s *Session) ArraysView() Arrays {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Arrays{
		DistanceKm: append([]float64(nil), s.distKm...),
		AscentM:    append([]float64(nil), s.ascentM...),
		DescentM:   append([]float64(nil), s.descentM...),
		TimeH:      append([]float64(nil), s.timeH...),
	}
}

// TrackSignature describes the trajectory this session was computed from.
func (s *Session) TrackSignature() Signature {
	first := s.trajectory[0]
	last := s.trajectory[len(s.trajectory)-1]
	return Signature{
		PointCount:      len(s.trajectory),
		FirstCoordinate: geo.Coordinate{Lat: first.Lat, Lon: first.Lon},
		LastCoordinate:  geo.Coordinate{Lat: last.Lat, Lon: last.Lon},
		SpacingM:        s.Options.SpacingM,
		SmoothWinM:      s.Options.SmoothWinM,
		ElevDeadbandM:   s.Options.ElevDeadbandM,
	}
}

// BuildDocument snapshots the session into the persisted plan format.
func (s *Session) BuildDocument() Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := Document{
		Version:         DocumentVersion,
		Signature:       s.TrackSignature(),
		Activity:        s.Activity,
		Options:         s.Options,
		Model:           s.Model,
		WaypointIndices: append([]int(nil), s.markers...),
		WaypointLabels:  map[int]string{},
		LegLabels:       map[string]string{},
		LegStopsMin:     map[string]int{},
		LegConditionPct: map[string]int{},
		LegCritical:     map[string]bool{},
		Legs:            s.legsLocked(),
	}
	for idx, label := range s.labels {
		doc.WaypointLabels[idx] = label
	}
	for key, ov := range s.overrides {
		k := key.String()
		if ov.Label != "" {
			doc.LegLabels[k] = ov.Label
		}
		if ov.StopsMin != 0 {
			doc.LegStopsMin[k] = ov.StopsMin
		}
		if ov.ConditionPct != 0 {
			doc.LegConditionPct[k] = ov.ConditionPct
		}
		if ov.Critical {
			doc.LegCritical[k] = true
		}
	}
	return doc
}

// ApplyDocument loads a plan document into the session: waypoint markers,
// labels and leg overrides replace the current ones. A signature mismatch
// against the live trajectory produces warnings; the load always proceeds.
func (s *Session) ApplyDocument(doc Document) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	warnings := s.signatureWarnings(doc.Signature)

	last := len(s.trajectory) - 1
	s.markers = []int{0, last}
	s.labels = map[int]string{0: "Start", last: "Finish"}
	s.overrides = map[LegKey]Override{}

	for _, idx := range doc.WaypointIndices {
		idx = s.clampIndex(idx)
		s.insertMarker(idx, doc.WaypointLabels[idx])
	}
	for idx, label := range doc.WaypointLabels {
		idx = s.clampIndex(idx)
		if !s.locked(idx) && label != "" {
			s.labels[idx] = label
		}
	}

	apply := func(k string, f func(ov *Override)) {
		key, err := ParseLegKey(k)
		if err != nil {
			warnings = append(warnings, "dropped malformed leg key "+strconv.Quote(k))
			return
		}
		if key.A > key.B {
			key.A, key.B = key.B, key.A
		}
		ov := s.overrides[key]
		f(&ov)
		s.overrides[key] = ov
	}
	for k, v := range doc.LegLabels {
		v := v
		apply(k, func(ov *Override) { ov.Label = v })
	}
	for k, v := range doc.LegStopsMin {
		v := v
		apply(k, func(ov *Override) {
			if v < 0 {
				v = 0
			}
			ov.StopsMin = v
		})
	}
	for k, v := range doc.LegConditionPct {
		v := v
		apply(k, func(ov *Override) {
			if v < 0 {
				v = 0
			}
			ov.ConditionPct = v
		})
	}
	for k, v := range doc.LegCritical {
		v := v
		apply(k, func(ov *Override) { ov.Critical = v })
	}
	return warnings
}

func (s *Session) signatureWarnings(sig Signature) []string {
	var warnings []string
	live := s.TrackSignature()

	if sig.PointCount != live.PointCount {
		warnings = append(warnings, fmt.Sprintf("plan was saved for %d points, track has %d", sig.PointCount, live.PointCount))
	}
	const coordTol = 1e-5
	if math.Abs(sig.FirstCoordinate.Lat-live.FirstCoordinate.Lat) > coordTol ||
		math.Abs(sig.FirstCoordinate.Lon-live.FirstCoordinate.Lon) > coordTol {
		warnings = append(warnings, "plan start coordinate differs from the loaded track")
	}
	if math.Abs(sig.LastCoordinate.Lat-live.LastCoordinate.Lat) > coordTol ||
		math.Abs(sig.LastCoordinate.Lon-live.LastCoordinate.Lon) > coordTol {
		warnings = append(warnings, "plan finish coordinate differs from the loaded track")
	}
	if sig.SpacingM != live.SpacingM || sig.SmoothWinM != live.SmoothWinM || sig.ElevDeadbandM != live.ElevDeadbandM {
		warnings = append(warnings, "plan was saved with different pipeline settings")
	}
	return warnings
}

// WriteCSV streams the denormalized leg table.
func (s *Session) WriteCSV(w io.Writer) error {
	it := s.Itinerary()

	cw := csv.NewWriter(w)
	header := []string{
		"leg", "label", "from", "to",
		"distance_km", "ascent_m", "descent_m", "base_time_h",
		"stops_min", "condition_pct", "critical", "total_time_h",
		"cum_distance_km", "cum_time_h", "remaining_h",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, leg := range it.Legs {
		row := []string{
			strconv.Itoa(leg.Index),
			leg.Label,
			leg.FromLabel,
			leg.ToLabel,
			strconv.FormatFloat(leg.DistanceKm, 'f', 3, 64),
			strconv.FormatFloat(leg.AscentM, 'f', 0, 64),
			strconv.FormatFloat(leg.DescentM, 'f', 0, 64),
			strconv.FormatFloat(leg.BaseTimeH, 'f', 3, 64),
			strconv.Itoa(leg.StopsMin),
			strconv.Itoa(leg.ConditionPct),
			strconv.FormatBool(leg.Critical),
			strconv.FormatFloat(leg.TotalTimeH, 'f', 3, 64),
			strconv.FormatFloat(leg.CumDistanceKm, 'f', 3, 64),
			strconv.FormatFloat(leg.CumTimeH, 'f', 3, 64),
			strconv.FormatFloat(leg.RemainingH, 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
