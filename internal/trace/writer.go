package trace

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
)

// Writer streams a RAM2 file whose entry count is known up front.
type Writer struct {
	bw    *bufio.Writer
	names []string
	want  uint64
	n     uint64
	buf   []byte
}

// NewWriter writes the header for numEntries entries and the given command
// names. Entries must follow in time order, then Close.
func NewWriter(w io.Writer, numEntries uint64, names []string) (*Writer, error) {
	if len(names) == 0 || len(names) > 255 {
		return nil, fmt.Errorf("write trace: %d command names, want 1..255", len(names))
	}
	tw := &Writer{
		bw:    bufio.NewWriterSize(w, 1<<20),
		names: names,
		want:  numEntries,
		buf:   make([]byte, 0, EntrySize),
	}
	hdr := AppendHeader(nil, Header{
		NumCommands: uint8(len(names)),
		NumEntries:  numEntries,
		DictOffset:  HeaderSize + numEntries*EntrySize,
	})
	if _, err := tw.bw.Write(hdr); err != nil {
		return nil, fmt.Errorf("write trace header: %w", err)
	}
	return tw, nil
}

// Write appends one entry.
func (w *Writer) Write(e Entry) error {
	if w.n >= w.want {
		return fmt.Errorf("write entry: %w: header declares %d", ErrIndex, w.want)
	}
	if int(e.CmdID) >= len(w.names) {
		return fmt.Errorf("write entry %d: %w: %d", w.n, ErrCommandID, e.CmdID)
	}
	w.buf = AppendEntry(w.buf[:0], e)
	if _, err := w.bw.Write(w.buf); err != nil {
		return fmt.Errorf("write entry %d: %w", w.n, err)
	}
	w.n++
	return nil
}

// Close writes the dictionary and flushes. It fails if fewer entries were
// written than declared.
func (w *Writer) Close() error {
	if w.n != w.want {
		return fmt.Errorf("write trace: %d of %d entries written", w.n, w.want)
	}
	if _, err := w.bw.Write(AppendDictionary(nil, w.names)); err != nil {
		return fmt.Errorf("write dictionary: %w", err)
	}
	return w.bw.Flush()
}

// DefaultCommands are the command names Generate uses when none are given.
var DefaultCommands = []string{"ACT", "PRE", "RD", "WR", "RDA", "WRA", "REF", "PREA"}

// GenOptions shapes a synthetic trace.
type GenOptions struct {
	Events   uint64
	Commands []string
	Layout   Layout
	// MeanGap is the average number of clocks between consecutive commands.
	MeanGap int
	Seed    uint64
}

// Generate writes a synthetic trace of random commands spread over the layout.
func Generate(w io.Writer, opts GenOptions) error {
	names := opts.Commands
	if len(names) == 0 {
		names = DefaultCommands
	}
	if opts.MeanGap <= 0 {
		opts.MeanGap = 4
	}
	layout := opts.Layout
	if layout.Lanes() == 0 {
		layout = Layout{Channels: 1, Bankgroups: 1, Banks: 1}
	}

	tw, err := NewWriter(w, opts.Events, names)
	if err != nil {
		return err
	}
	r := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	var clk int64
	for range opts.Events {
		clk += 1 + int64(r.IntN(2*opts.MeanGap))
		e := Entry{
			Clk:       clk,
			Channel:   int16(r.IntN(layout.Channels)),
			Bankgroup: int32(r.IntN(layout.Bankgroups)),
			Bank:      int32(r.IntN(layout.Banks)),
			Row:       int32(r.IntN(1 << 16)),
			Column:    int32(r.IntN(1 << 10)),
			CmdID:     uint8(r.IntN(len(names))),
		}
		if err := tw.Write(e); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("generate trace: %w", err)
	}
	return nil
}
