package view

import "math"

// TargetPixelsPerTick is the preferred on-screen spacing of ruler ticks.
const TargetPixelsPerTick = 100

// TickSpacing returns the largest 1/2/5 x 10^k step whose on-screen spacing
// does not exceed targetPx on a canvas widthPx wide showing duration.
func TickSpacing(duration, widthPx, targetPx float64) float64 {
	if duration <= 0 || widthPx <= 0 || targetPx <= 0 {
		return 0
	}
	raw := duration * targetPx / widthPx
	base := math.Pow(10, math.Floor(math.Log10(raw)))
	// Log10 may land a hair off an exact power of ten.
	if base*10 <= raw*(1+1e-9) {
		base *= 10
	} else if base > raw*(1+1e-9) {
		base /= 10
	}
	best := base
	for _, m := range []float64{2, 5, 10} {
		if m*base <= raw*(1+1e-9) {
			best = m * base
		}
	}
	return best
}

// Ticks lists tick times inside the window for a canvas widthPx wide,
// spaced at most targetPx apart.
func (s *State) Ticks(widthPx, targetPx float64) []float64 {
	step := TickSpacing(s.Duration, widthPx, targetPx)
	if step == 0 {
		return nil
	}
	var out []float64
	for k := math.Ceil(s.Start / step); k*step <= s.End(); k++ {
		out = append(out, k*step)
	}
	return out
}
