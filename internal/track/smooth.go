package track

import (
	"math"
	"sort"
)

const (
	minSmoothWindow = 3
	maxSmoothWindow = 999
)

// ClampWindow forces a median window to an odd width within [3, 999].
func ClampWindow(win int) int {
	if win < minSmoothWindow {
		win = minSmoothWindow
	}
	if win > maxSmoothWindow {
		win = maxSmoothWindow
	}
	if win%2 == 0 {
		win++
	}
	return win
}

// MedianSmooth applies a sliding-window median to an elevation series to
// suppress spikes. The window is clamped to an odd width in [3, 999] and
// shrinks at the array edges. Nil samples are skipped when collecting the
// window; a position whose window holds no values stays nil.
func MedianSmooth(values []*float64, win int) []*float64 {
	win = ClampWindow(win)
	half := win / 2

	out := make([]*float64, len(values))
	buf := make([]float64, 0, win)
	for i := range values {
		start := i - half
		if start < 0 {
			start = 0
		}
		end := i + half
		if end > len(values)-1 {
			end = len(values) - 1
		}

		buf = buf[:0]
		for j := start; j <= end; j++ {
			if values[j] != nil {
				buf = append(buf, *values[j])
			}
		}
		if len(buf) == 0 {
			continue
		}
		sort.Float64s(buf)
		mid := len(buf) / 2
		if len(buf)%2 == 0 {
			out[i] = Float64((buf[mid-1] + buf[mid]) / 2)
		} else {
			out[i] = Float64(buf[mid])
		}
	}
	return out
}

// Deadband suppresses elevation oscillations smaller than band while keeping
// sustained trends. Deltas accumulate into an error term; once the error
// leaves the band, the output advances by the overshoot and exactly one band
// of error is retained so the filter does not chatter at the threshold.
// Leading nil samples are backfilled with the first resolved value; band 0
// degenerates to a pass-through of the null-filled input.
func Deadband(values []*float64, band float64) []*float64 {
	out := make([]*float64, len(values))

	var prevRaw, outVal float64
	cumErr := 0.0
	started := false
	for i, v := range values {
		if !started {
			if v == nil {
				continue
			}
			prevRaw = *v
			outVal = prevRaw
			for j := 0; j <= i; j++ {
				out[j] = Float64(outVal)
			}
			started = true
			continue
		}

		raw := prevRaw
		if v != nil {
			raw = *v
		}
		cumErr += raw - prevRaw
		prevRaw = raw

		if math.Abs(cumErr) > band {
			s := 1.0
			if cumErr < 0 {
				s = -1.0
			}
			outVal += cumErr - s*band
			cumErr = s * band
		}
		out[i] = Float64(outVal)
	}
	return out
}
