package render

import (
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/daviddao/ramwiz_viewer/internal/lod"
	"github.com/daviddao/ramwiz_viewer/internal/style"
	"github.com/daviddao/ramwiz_viewer/internal/view"
)

const (
	// fpsWindow is the span over which frames are counted for FPS.
	fpsWindow = time.Second
	// frameSamples bounds the frame-interval history used for percentiles.
	frameSamples = 120
)

// Stats describes the most recent frame.
type Stats struct {
	FPS            float64       `json:"fps"`
	EventCount     int           `json:"eventCount"`
	TotalEvents    int           `json:"totalEvents"`
	Progress       float64       `json:"progress"`
	CurrentLOD     int           `json:"currentLod"`
	Factor         uint32        `json:"factor"`
	EventsPerPixel float64       `json:"eventsPerPixel"`
	InstancesDrawn int           `json:"instancesDrawn"`
	FrameTimeP95   time.Duration `json:"frameTimeP95"`
	LastError      string        `json:"lastError,omitempty"`
}

// FrameOptions tunes Frame.
type FrameOptions struct {
	Grid      bool
	Threshold float64
}

// Session owns the device and the instance buffers of one stream session.
type Session struct {
	dev      Device
	store    *lod.Store
	buffers  []InstanceBuffer
	uploaded []int

	windowStart time.Time
	frames      int
	fps         float64
	last        time.Time
	intervals   []float64

	stats  Stats
	closed bool
}

// NewSession acquires a device with open and allocates one instance buffer
// per level of store. Acquisition failures wrap ErrContext.
func NewSession(open func() (Device, error), store *lod.Store, st *style.Table) (*Session, error) {
	dev, err := open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContext, err)
	}
	if dev == nil {
		return nil, ErrContext
	}
	s := &Session{dev: dev, store: store, uploaded: make([]int, store.NumLevels())}
	for i := range store.NumLevels() {
		l := store.Level(i)
		buf, err := dev.NewInstanceBuffer(store.Schema(), l.Total())
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: level %d buffer: %v", ErrContext, i, err)
		}
		s.buffers = append(s.buffers, buf)
	}
	if st == nil {
		st = style.Default()
	}
	if err := dev.UploadStyle(st); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: style table: %v", ErrContext, err)
	}
	return s, nil
}

// Device returns the device the session draws on.
func (s *Session) Device() Device { return s.dev }

// Stats returns the statistics of the last frame.
func (s *Session) Stats() Stats { return s.stats }

// SetStyle re-uploads the style table; instance buffers are untouched.
func (s *Session) SetStyle(st *style.Table) error {
	if s.closed || st == nil {
		return nil
	}
	if err := s.dev.UploadStyle(st); err != nil {
		return fmt.Errorf("upload style: %w", err)
	}
	return nil
}

// Frame draws v with lanes placed at rows and returns the frame statistics.
// Device errors are recorded in Stats.LastError; the frame still completes.
func (s *Session) Frame(now time.Time, v view.State, rows []RowRect, opts FrameOptions) Stats {
	if s.closed {
		return Stats{}
	}
	s.tick(now)

	st := Stats{
		FPS:          s.fps,
		EventCount:   s.store.Ingested(),
		TotalEvents:  s.store.Total(),
		Progress:     s.store.Progress(),
		FrameTimeP95: s.frameTimeP95(),
	}

	s.dev.Clear()
	if opts.Grid && len(rows) > 0 {
		ys := make([]float64, len(rows))
		for i, r := range rows {
			ys[i] = r.Top
		}
		s.dev.DrawLines(ys)
	}
	if err := s.upload(); err != nil {
		st.LastError = err.Error()
	}

	width, _ := s.dev.Size()
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = lod.DefaultThreshold
	}
	sel := s.store.Select(v.Start, v.End(), width, threshold)
	st.CurrentLOD = sel.Level
	st.Factor = s.store.Level(sel.Level).Factor
	st.EventsPerPixel = sel.EventsPerPixel

	first, end := s.store.Range(sel.Level, v.Start, v.End())
	end = min(end, s.uploaded[sel.Level])
	if count := end - first; count > 0 {
		xf := Transform{Start: v.Start, Duration: v.Duration, Rows: rows}
		if err := s.dev.DrawInstanced(s.buffers[sel.Level], first, count, xf); err != nil {
			st.LastError = fmt.Sprintf("draw level %d: %v", sel.Level, err)
		} else {
			st.InstancesDrawn = count
		}
	}
	s.stats = st
	return st
}

// upload copies instances loaded since the previous frame into every level's buffer.
func (s *Session) upload() error {
	for i, buf := range s.buffers {
		l := s.store.Level(i)
		loaded := l.Loaded()
		if loaded <= s.uploaded[i] {
			continue
		}
		if err := buf.Upload(s.uploaded[i], l.Columns().Slice(s.uploaded[i], loaded)); err != nil {
			return fmt.Errorf("upload level %d: %w", i, err)
		}
		s.uploaded[i] = loaded
	}
	return nil
}

func (s *Session) tick(now time.Time) {
	if !s.last.IsZero() {
		s.intervals = append(s.intervals, now.Sub(s.last).Seconds())
		if len(s.intervals) > frameSamples {
			s.intervals = s.intervals[len(s.intervals)-frameSamples:]
		}
	}
	s.last = now

	if s.windowStart.IsZero() {
		s.windowStart = now
	}
	if elapsed := now.Sub(s.windowStart); elapsed >= fpsWindow {
		s.fps = float64(s.frames) / elapsed.Seconds()
		s.frames = 0
		s.windowStart = now
	}
	s.frames++
}

func (s *Session) frameTimeP95() time.Duration {
	if len(s.intervals) == 0 {
		return 0
	}
	sorted := slices.Clone(s.intervals)
	slices.Sort(sorted)
	q := stat.Quantile(0.95, stat.Empirical, sorted, nil)
	return time.Duration(q * float64(time.Second))
}

// Close releases the instance buffers and the device.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	for _, b := range s.buffers {
		b.Release()
	}
	s.buffers = nil
	s.dev.Release()
}
