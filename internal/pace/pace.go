package pace

import (
	"errors"
	"math"
)

// Model holds the pace parameters of the combined flat/vertical time model.
type Model struct {
	SpeedFlatKmh   float64 `json:"speed_flat_kmh"`
	SpeedVertMh    float64 `json:"speed_vert_mh"`
	DownhillFactor float64 `json:"downhill_factor"`
}

// Activity presets. These sit in the range of common planning heuristics and
// every request may override them.
var presets = map[string]Model{
	"hiking": {SpeedFlatKmh: 4.5, SpeedVertMh: 600, DownhillFactor: 0.85},
	"mtb":    {SpeedFlatKmh: 15, SpeedVertMh: 750, DownhillFactor: 0.5},
	"road":   {SpeedFlatKmh: 24, SpeedVertMh: 900, DownhillFactor: 0.3},
}

// DefaultActivity is used when a request names no activity.
const DefaultActivity = "hiking"

// ForActivity returns the preset model for an activity, falling back to the
// hiking preset for unknown names.
func ForActivity(activity string) Model {
	if m, ok := presets[activity]; ok {
		return m
	}
	return presets[DefaultActivity]
}

// Validate rejects non-positive paces before any computation starts.
func (m Model) Validate() error {
	if m.SpeedFlatKmh <= 0 {
		return errors.New("flat speed must be positive")
	}
	if m.SpeedVertMh <= 0 {
		return errors.New("vertical speed must be positive")
	}
	if m.DownhillFactor <= 0 {
		return errors.New("downhill factor must be positive")
	}
	return nil
}

// StepTime returns the duration in hours of one resampled step. Flat time and
// vertical time are combined by taking the dominant effort fully and half of
// the lesser one; net-descending steps are discounted by the downhill factor.
// The larger of ascent and descent alone drives the vertical time: a single
// micro-step should not be both climbing and descending, but filtering
// artifacts may leave both nonzero.
func (m Model) StepTime(distKm, ascentM, descentM float64) float64 {
	h := distKm / m.SpeedFlatKmh
	v := math.Max(ascentM, descentM) / m.SpeedVertMh

	t := math.Max(h, v) + 0.5*math.Min(h, v)
	if descentM > 0 && descentM >= ascentM {
		t *= m.DownhillFactor
	}
	return t
}
