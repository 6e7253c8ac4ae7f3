// Package view tracks the visible time window of the timeline and the
// pan/zoom bounds it is allowed to move within.
package view

import "math"

const (
	// Padding is the fraction of the window that may show empty space past either end.
	Padding = 0.1
	// DefaultZoomFactor scales the duration per wheel notch.
	DefaultZoomFactor = 1.1
	// SpanHeadroom sets MaxDuration relative to the loaded time span.
	SpanHeadroom = 1.2
	// DefaultMinDuration bounds how far the view may zoom in.
	DefaultMinDuration = 1.0
)

// State is the visible window [Start, Start+Duration) plus its bounds.
type State struct {
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	MinTime     float64 `json:"minTime"`
	MaxTime     float64 `json:"maxTime"`
	MinDuration float64 `json:"minDuration"`
	MaxDuration float64 `json:"maxDuration"`

	ZoomFactor float64 `json:"-"`
}

// New returns a view with no data: a unit window at zero.
func New() State {
	return State{
		Duration:    DefaultMinDuration,
		MinDuration: DefaultMinDuration,
		MaxDuration: DefaultMinDuration,
		ZoomFactor:  DefaultZoomFactor,
	}
}

// End returns the time at the right edge of the window.
func (s *State) End() float64 { return s.Start + s.Duration }

// TimeAt returns the time under screen fraction frac in [0, 1].
func (s *State) TimeAt(frac float64) float64 { return s.Start + frac*s.Duration }

// ClampStart bounds x so the window shows at most Padding of empty space
// before MinTime or after MaxTime.
func (s *State) ClampStart(x float64) float64 {
	pad := s.Duration * Padding
	lower := s.MinTime - pad
	upper := math.Max(lower, s.MaxTime-s.Duration+pad)
	return math.Min(math.Max(x, lower), upper)
}

func (s *State) clampDuration(d float64) float64 {
	return math.Min(math.Max(d, s.MinDuration), s.MaxDuration)
}

// Zoom changes the duration by notches wheel steps (positive zooms out)
// keeping the time at screen fraction frac fixed, then clamps.
func (s *State) Zoom(frac float64, notches int) {
	if notches == 0 {
		return
	}
	frac = math.Min(math.Max(frac, 0), 1)
	anchor := s.TimeAt(frac)
	factor := s.ZoomFactor
	if factor <= 1 {
		factor = DefaultZoomFactor
	}
	s.Duration = s.clampDuration(s.Duration * math.Pow(factor, float64(notches)))
	s.Start = s.ClampStart(anchor - frac*s.Duration)
}

// Pan translates the window by a pointer drag of pixelDelta on a canvas widthPx wide.
func (s *State) Pan(pixelDelta, widthPx float64) {
	if widthPx <= 0 {
		return
	}
	s.Start = s.ClampStart(s.Start - pixelDelta/widthPx*s.Duration)
}

// Fit shows the full loaded span.
func (s *State) Fit() {
	s.Duration = s.clampDuration((s.MaxTime - s.MinTime) * (1 + Padding))
	s.Start = s.ClampStart(s.MinTime - s.Duration*Padding/2)
}

// SetMinTime records the earliest streamed timestamp.
func (s *State) SetMinTime(t float64) {
	s.MinTime = t
	if s.MaxTime < t {
		s.MaxTime = t
	}
	s.Start = s.ClampStart(s.Start)
}

// ExtendMaxTime widens the bounds when a streamed batch reaches past MaxTime.
// It reports whether the bound moved.
func (s *State) ExtendMaxTime(t float64) bool {
	if t <= s.MaxTime {
		return false
	}
	s.MaxTime = t
	s.MaxDuration = math.Max(s.MinDuration, (s.MaxTime-s.MinTime)*SpanHeadroom)
	s.Duration = s.clampDuration(s.Duration)
	return true
}
