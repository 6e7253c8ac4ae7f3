package trace

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/daviddao/ramwiz_viewer/internal/decode"
	"github.com/daviddao/ramwiz_viewer/internal/style"
)

// ErrClosed reports use of a closed backend.
var ErrClosed = errors.New("trace closed")

// Options configures how a File encodes its entries.
type Options struct {
	Schema decode.Schema
	// Layout assigns wide-schema rows; the zero Layout uses the command id.
	Layout Layout
	// Style resolves wide-schema durations and colors; nil uses style.Default.
	Style *style.Table
}

// File is a Backend over a memory-mapped RAM2 file. Event start times are
// clocks relative to the first entry.
type File struct {
	path string
	size int64

	mu    sync.RWMutex
	data  []byte
	unmap func() error

	hdr     *Header
	names   []string
	dictErr error
	avail   uint64
	origin  int64

	schema decode.Schema
	layout Layout
	style  atomic.Pointer[style.Table]
}

var (
	_ Backend = (*File)(nil)
	_ Sized   = (*File)(nil)
)

// Open maps the trace at path and validates its header.
func Open(path string, opts Options) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat trace: %w", err)
	}
	data, unmap, err := mapFile(f, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("map trace %s: %w", path, err)
	}

	hdr, err := ParseHeader(data)
	if err != nil {
		_ = unmap()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	t := &File{
		path:   path,
		size:   fi.Size(),
		data:   data,
		unmap:  unmap,
		hdr:    hdr,
		schema: opts.Schema,
		layout: opts.Layout,
	}
	t.avail = availableEntries(hdr, len(data))
	if t.avail > 0 {
		t.origin = t.clk(0)
	}
	t.names, t.dictErr = ParseDictionary(data, hdr.DictOffset, hdr.NumCommands)
	st := opts.Style
	if st == nil {
		st = style.Default()
	}
	t.style.Store(st)
	return t, nil
}

// availableEntries counts the entries physically present, which is fewer
// than declared when the file was cut short.
func availableEntries(h *Header, size int) uint64 {
	end := uint64(size)
	if h.DictOffset >= HeaderSize && h.DictOffset < end {
		end = h.DictOffset
	}
	if end < HeaderSize {
		return 0
	}
	return min(h.NumEntries, (end-HeaderSize)/EntrySize)
}

func (t *File) clk(i uint64) int64 {
	return int64(binary.LittleEndian.Uint64(t.data[HeaderSize+i*EntrySize:]))
}

// Path returns the file the backend was opened from.
func (t *File) Path() string { return t.path }

// Schema returns the wire schema Entries encodes to.
func (t *File) Schema() decode.Schema { return t.schema }

// Origin returns the absolute clock that event time zero corresponds to.
func (t *File) Origin() int64 { return t.origin }

// Available returns the number of entries present in the file.
func (t *File) Available() uint64 { return t.avail }

// SetStyle replaces the table used to resolve wide-schema durations and
// colors for subsequent Entries calls.
func (t *File) SetStyle(st *style.Table) {
	if st != nil {
		t.style.Store(st)
	}
}

func (t *File) Header(ctx context.Context) (*Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.data == nil {
		return nil, nil
	}
	h := *t.hdr
	return &h, nil
}

func (t *File) Dictionary(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.dictErr != nil {
		return nil, fmt.Errorf("%s: %w", t.path, t.dictErr)
	}
	return append([]string(nil), t.names...), nil
}

// Entries encodes entries [start, start+count) in the backend's schema. A
// range reaching past the available entries is cut short.
func (t *File) Entries(ctx context.Context, start, count uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.data == nil {
		return nil, ErrClosed
	}
	if start > t.hdr.NumEntries {
		return nil, fmt.Errorf("entries at %d: %w: %d declared", start, ErrIndex, t.hdr.NumEntries)
	}
	end := min(start+count, t.avail)
	if start >= end {
		return []byte{}, nil
	}

	n := int(end - start)
	cols := decode.Columns{Start: make([]float32, n), Cmd: make([]uint8, n)}
	wide := t.schema == decode.Wide
	st := t.style.Load()
	if wide {
		cols.Row = make([]uint32, n)
		cols.Duration = make([]float32, n)
		cols.Color = make([]uint8, 3*n)
	}
	for i := range n {
		e, err := ParseEntry(t.data, t.hdr, start+uint64(i))
		if err != nil {
			return nil, err
		}
		cols.Start[i] = float32(e.Clk - t.origin)
		cols.Cmd[i] = e.CmdID
		if wide {
			cols.Row[i] = t.layout.Lane(e)
			cols.Duration[i] = st.Duration(e.CmdID)
			c := st.Color(e.CmdID)
			cols.Color[3*i], cols.Color[3*i+1], cols.Color[3*i+2] = c.R, c.G, c.B
		}
	}
	return decode.Encode(t.schema, cols)
}

// EntryIndexByTime binary searches the time-sorted entries.
func (t *File) EntryIndexByTime(ctx context.Context, at float64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.data == nil {
		return 0, ErrClosed
	}
	i := sort.Search(int(t.avail), func(i int) bool {
		return float64(t.clk(uint64(i))-t.origin) >= at
	})
	return uint64(i), nil
}

// Metadata reads the summary of the opened trace.
func (t *File) Metadata() Metadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := Metadata{
		Path:        t.path,
		FileSize:    t.size,
		TotalEvents: t.hdr.NumEntries,
		Commands:    append([]string(nil), t.names...),
		Truncated:   t.avail < t.hdr.NumEntries,
	}
	if t.data != nil && t.avail > 0 {
		m.TimeRange = [2]int64{t.clk(0), t.clk(t.avail - 1)}
	}
	return m
}

// Close unmaps the file. In-flight Entries calls finish first.
func (t *File) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data == nil && t.unmap == nil {
		return nil
	}
	t.data = nil
	unmap := t.unmap
	t.unmap = nil
	return unmap()
}
