package lod

// DefaultThreshold is the events-per-pixel budget a level may not exceed.
const DefaultThreshold = 1500

// Selection is the outcome of a level pick for one frame.
type Selection struct {
	Level          int
	EventsInView   int
	EventsPerPixel float64
}

// Select picks the finest level whose density over [t0, t1] stays within
// threshold events per pixel, falling back to the coarsest level. Density is
// estimated from level 0's chunk index only; no event data is scanned.
func (s *Store) Select(t0, t1 float64, widthPx int, threshold float64) Selection {
	if widthPx <= 0 || len(s.levels) == 0 {
		return Selection{}
	}
	start, end := s.Range(0, t0, t1)
	inView := max(0, end-start)
	epp := float64(inView) / float64(widthPx)
	return Selection{
		Level:          SelectForDensity(epp, threshold, s.Factors()),
		EventsInView:   inView,
		EventsPerPixel: epp,
	}
}

// SelectForDensity returns the index of the first factor for which
// eventsPerPixel/factor <= threshold, or the last index if none qualifies.
func SelectForDensity(eventsPerPixel, threshold float64, factors []uint32) int {
	if len(factors) == 0 {
		return 0
	}
	for i, f := range factors {
		if eventsPerPixel/float64(f) <= threshold {
			return i
		}
	}
	return len(factors) - 1
}
