// Package lod holds decimated copies of an event stream and answers the
// range and density queries the renderer needs every frame.
//
// A Store is owned by one goroutine. Readers on that goroutine always see a
// level either before or after an append: instance data is written first and
// the loaded count is advanced last. The loaded count itself is atomic so
// progress can be sampled from elsewhere.
package lod

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/daviddao/ramwiz_viewer/internal/decode"
)

var (
	// ErrFactors reports an invalid decimation factor list.
	ErrFactors = errors.New("decimation factors must start at 1 and strictly increase")
	// ErrOutOfOrder reports an ingest whose global offset does not follow the previous one.
	ErrOutOfOrder = errors.New("ingest offset out of order")
	// ErrOverflow reports an ingest running past the declared total.
	ErrOverflow = errors.New("ingest exceeds declared event count")
	// ErrCapacity reports a stream too long to pre-allocate.
	ErrCapacity = errors.New("event count exceeds store capacity")
)

// MaxEvents bounds the stream length a Store accepts.
const MaxEvents = 1 << 30

// DefaultFactors keeps every 1st, 2nd, 4th, ... 128th event.
var DefaultFactors = []uint32{1, 2, 4, 8, 16, 32, 64, 128}

// ChunkEntry marks the first event of an ingested batch within a level.
type ChunkEntry struct {
	Time   float32
	Offset int
}

// Level is one decimated copy of the stream.
type Level struct {
	Factor uint32

	start    []float32
	cmd      []uint8
	row      []uint32
	duration []float32
	color    []uint8

	chunks []ChunkEntry
	total  int
	loaded atomic.Int64
}

// Loaded returns the number of events written so far.
func (l *Level) Loaded() int { return int(l.loaded.Load()) }

// Total returns the number of events this level holds once fully loaded.
func (l *Level) Total() int { return l.total }

// Chunks returns the chunk index. The slice must not be modified.
func (l *Level) Chunks() []ChunkEntry { return l.chunks }

// Columns returns the loaded events as parallel arrays aliasing the level's buffers.
func (l *Level) Columns() decode.Columns {
	n := l.Loaded()
	c := decode.Columns{Start: l.start[:n:n], Cmd: l.cmd[:n:n]}
	if l.row != nil {
		c.Row = l.row[:n:n]
		c.Duration = l.duration[:n:n]
		c.Color = l.color[: 3*n : 3*n]
	}
	return c
}

// Store holds every decimation level of one stream session.
type Store struct {
	schema decode.Schema
	total  int
	levels []*Level

	next     int
	ingested int
}

// New allocates a store for total events, one level per factor.
func New(schema decode.Schema, total int, factors []uint32) (*Store, error) {
	if len(factors) == 0 || factors[0] != 1 {
		return nil, fmt.Errorf("lod: %w: %v", ErrFactors, factors)
	}
	for i := 1; i < len(factors); i++ {
		if factors[i] <= factors[i-1] {
			return nil, fmt.Errorf("lod: %w: %v", ErrFactors, factors)
		}
	}
	if total < 0 {
		total = 0
	}
	if total > MaxEvents {
		return nil, fmt.Errorf("lod: %w: %d > %d", ErrCapacity, total, MaxEvents)
	}

	s := &Store{schema: schema, total: total}
	for _, f := range factors {
		n := levelSize(total, f)
		l := &Level{
			Factor: f,
			start:  make([]float32, n),
			cmd:    make([]uint8, n),
			total:  n,
		}
		if schema == decode.Wide {
			l.row = make([]uint32, n)
			l.duration = make([]float32, n)
			l.color = make([]uint8, 3*n)
		}
		s.levels = append(s.levels, l)
	}
	return s, nil
}

func levelSize(total int, factor uint32) int {
	f := int(factor)
	return (total + f - 1) / f
}

// Schema returns the wire schema the store was allocated for.
func (s *Store) Schema() decode.Schema { return s.schema }

// Total returns the declared stream length.
func (s *Store) Total() int { return s.total }

// Ingested returns how many stream events have been ingested.
func (s *Store) Ingested() int { return s.ingested }

// NumLevels returns the number of decimation levels.
func (s *Store) NumLevels() int { return len(s.levels) }

// Level returns level i.
func (s *Store) Level(i int) *Level { return s.levels[i] }

// Factors returns the decimation factor of every level.
func (s *Store) Factors() []uint32 {
	out := make([]uint32, len(s.levels))
	for i, l := range s.levels {
		out[i] = l.Factor
	}
	return out
}

// Progress returns the fraction of declared events ingested, 1 for an empty stream.
func (s *Store) Progress() float64 {
	if s.total == 0 {
		return 1
	}
	return float64(s.levels[0].Loaded()) / float64(s.total)
}

// Decimate returns the first local index in a batch of n events starting at
// global index offset that level factor keeps, and the stride between kept
// events. first >= n means the batch contributes nothing.
func Decimate(offset, n int, factor uint32) (first, stride int) {
	f := int(factor)
	first = (f - offset%f) % f
	return first, f
}

// Ingest appends a decoded batch whose first event has global index offset.
// Offsets must be contiguous across calls; a stream restricted to a time range
// starts at its own first offset.
func (s *Store) Ingest(offset int, cols decode.Columns) error {
	n := cols.Len()
	if s.ingested > 0 && offset != s.next {
		return fmt.Errorf("lod: %w: got %d, want %d", ErrOutOfOrder, offset, s.next)
	}
	if s.ingested+n > s.total {
		return fmt.Errorf("lod: %w: %d + %d > %d", ErrOverflow, s.ingested, n, s.total)
	}
	if n == 0 {
		return nil
	}
	if s.schema == decode.Wide && cols.Row == nil {
		return fmt.Errorf("lod: wide store given compact columns")
	}

	for _, l := range s.levels {
		s.appendLevel(l, offset, cols)
	}
	s.ingested += n
	s.next = offset + n
	return nil
}

func (s *Store) appendLevel(l *Level, offset int, cols decode.Columns) {
	first, stride := Decimate(offset, cols.Len(), l.Factor)
	at := l.Loaded()
	w := at
	for i := first; i < cols.Len() && w < l.total; i += stride {
		l.start[w] = cols.Start[i]
		l.cmd[w] = cols.Cmd[i]
		if l.row != nil {
			l.row[w] = cols.Row[i]
			l.duration[w] = cols.Duration[i]
			copy(l.color[3*w:3*w+3], cols.Color[3*i:3*i+3])
		}
		w++
	}
	if w == at {
		return
	}
	if at > 0 {
		l.chunks = append(l.chunks, ChunkEntry{Time: l.start[at], Offset: at})
	}
	l.loaded.Store(int64(w))
}

// Range maps the time window [t0, t1] to an approximate [start, end) offset
// range in level i, at the granularity of ingested batches.
func (s *Store) Range(i int, t0, t1 float64) (start, end int) {
	l := s.levels[i]
	end = l.Loaded()
	for _, c := range l.chunks {
		if float64(c.Time) > t1 {
			end = c.Offset
			break
		}
		if float64(c.Time) <= t0 {
			start = c.Offset
		}
	}
	return start, end
}
