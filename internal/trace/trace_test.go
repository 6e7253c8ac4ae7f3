package trace

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/daviddao/ramwiz_viewer/internal/decode"
	"github.com/daviddao/ramwiz_viewer/internal/style"
	"github.com/google/go-cmp/cmp"
)

var testNames = []string{"ACT", "RD", "WR"}

// writeTrace creates a trace of n entries at clocks 100, 110, 120, ... and
// returns its path.
func writeTrace(t *testing.T, n int) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, uint64(n), testNames)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for i := range n {
		e := Entry{
			Clk:       100 + int64(10*i),
			Channel:   int16(i % 2),
			Bankgroup: int32(i % 3 % 2),
			Bank:      int32(i % 4),
			Row:       int32(i),
			CmdID:     uint8(i % len(testNames)),
		}
		if err := w.Write(e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	path := filepath.Join(t.TempDir(), "test.ram2")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openTrace(t *testing.T, path string, opts Options) *File {
	t.Helper()
	f, err := Open(path, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestParseHeaderErrors(t *testing.T) {
	good := AppendHeader(nil, Header{NumCommands: 3, NumEntries: 7, DictOffset: 248})
	badMagic := append([]byte{}, good...)
	badMagic[0] = 'X'
	badVersion := append([]byte{}, good...)
	badVersion[5] = 2

	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"short", good[:10], ErrFileTooShort},
		{"magic", badMagic, ErrInvalidMagic},
		{"version", badVersion, ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseHeader(tt.in); !errors.Is(err, tt.want) {
				t.Errorf("ParseHeader err = %v, want %v", err, tt.want)
			}
		})
	}

	h, err := ParseHeader(good)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	want := &Header{Version: Version, NumCommands: 3, NumEntries: 7, DictOffset: 248}
	if diff := cmp.Diff(want, h); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestParseEntryValidatesCommand(t *testing.T) {
	h := &Header{NumCommands: 2, NumEntries: 2}
	data := AppendHeader(nil, *h)
	data = AppendEntry(data, Entry{Clk: 5, CmdID: 1})
	data = AppendEntry(data, Entry{Clk: 6, CmdID: 2})

	e, err := ParseEntry(data, h, 0)
	if err != nil || e.Clk != 5 || e.CmdID != 1 {
		t.Errorf("ParseEntry(0) = %+v, %v", e, err)
	}
	if _, err := ParseEntry(data, h, 1); !errors.Is(err, ErrCommandID) {
		t.Errorf("ParseEntry(1) err = %v, want ErrCommandID", err)
	}
	if _, err := ParseEntry(data, h, 2); !errors.Is(err, ErrIndex) {
		t.Errorf("ParseEntry(2) err = %v, want ErrIndex", err)
	}
}

func TestParseDictionary(t *testing.T) {
	dict := AppendDictionary([]byte{0xff}, testNames)
	names, err := ParseDictionary(dict, 1, 3)
	if err != nil {
		t.Fatalf("ParseDictionary: %v", err)
	}
	if diff := cmp.Diff(testNames, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name   string
		data   []byte
		offset uint64
		n      uint8
	}{
		{"offset beyond", dict, 100, 1},
		{"too few names", dict, 1, 4},
		{"name past end", []byte{5, 'a', 'b'}, 0, 1},
		{"not utf-8", []byte{2, 0xc3, 0x28}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDictionary(tt.data, tt.offset, tt.n); !errors.Is(err, ErrDictionary) {
				t.Errorf("err = %v, want ErrDictionary", err)
			}
		})
	}
}

func TestFileCompactEntries(t *testing.T) {
	ctx := context.Background()
	f := openTrace(t, writeTrace(t, 10), Options{Schema: decode.Compact})

	h, err := f.Header(ctx)
	if err != nil || h.NumEntries != 10 || h.NumCommands != 3 {
		t.Fatalf("Header = %+v, %v", h, err)
	}
	names, err := f.Dictionary(ctx)
	if err != nil {
		t.Fatalf("Dictionary: %v", err)
	}
	if diff := cmp.Diff(testNames, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	buf, err := f.Entries(ctx, 2, 4)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(buf) != 4*decode.Compact.RecordWidth() {
		t.Fatalf("Entries returned %d bytes", len(buf))
	}
	cols, err := decode.Decode(decode.Compact, buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff([]float32{20, 30, 40, 50}, cols.Start); diff != "" {
		t.Errorf("start mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]uint8{2, 0, 1, 2}, cols.Cmd); diff != "" {
		t.Errorf("cmd mismatch (-want +got):\n%s", diff)
	}
	if f.Origin() != 100 {
		t.Errorf("Origin = %d, want 100", f.Origin())
	}
}

func TestFileWideEntries(t *testing.T) {
	ctx := context.Background()
	st, err := style.Build(map[uint8]string{1: "#102030"}, map[uint8]float64{1: 4})
	if err != nil {
		t.Fatal(err)
	}
	layout := Layout{Channels: 2, Bankgroups: 2, Banks: 4}
	f := openTrace(t, writeTrace(t, 6), Options{Schema: decode.Wide, Layout: layout, Style: st})

	buf, err := f.Entries(ctx, 0, 6)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	cols, err := decode.Decode(decode.Wide, buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// Entry 1: channel 1, bankgroup 1, bank 1, cmd RD.
	if want := uint32((1*2+1)*4 + 1); cols.Row[1] != want {
		t.Errorf("Row[1] = %d, want %d", cols.Row[1], want)
	}
	if cols.Duration[1] != 4 || cols.Duration[0] != 1 {
		t.Errorf("Duration = %v", cols.Duration)
	}
	if got := cols.Color[3:6]; !bytes.Equal(got, []byte{0x10, 0x20, 0x30}) {
		t.Errorf("Color[1] = %v", got)
	}
}

func TestFileTruncated(t *testing.T) {
	ctx := context.Background()
	path := writeTrace(t, 10)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Keep the header and six and a half entries; the dictionary is lost.
	cut := HeaderSize + 6*EntrySize + EntrySize/2
	if err := os.WriteFile(path, data[:cut], 0o644); err != nil {
		t.Fatal(err)
	}

	f := openTrace(t, path, Options{})
	if f.Available() != 6 {
		t.Fatalf("Available = %d, want 6", f.Available())
	}
	buf, err := f.Entries(ctx, 4, 4)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if n := len(buf) / decode.Compact.RecordWidth(); n != 2 {
		t.Errorf("short read returned %d records, want 2", n)
	}
	buf, err = f.Entries(ctx, 8, 2)
	if err != nil || len(buf) != 0 {
		t.Errorf("read past available = %d bytes, %v; want empty", len(buf), err)
	}
	if _, err := f.Dictionary(ctx); !errors.Is(err, ErrDictionary) {
		t.Errorf("Dictionary err = %v, want ErrDictionary", err)
	}
	if !f.Metadata().Truncated {
		t.Error("Metadata should report truncation")
	}
}

func TestFileEntriesRejectsBadCommand(t *testing.T) {
	data := AppendHeader(nil, Header{NumCommands: 1, NumEntries: 2, DictOffset: HeaderSize + 2*EntrySize})
	data = AppendEntry(data, Entry{Clk: 1, CmdID: 0})
	data = AppendEntry(data, Entry{Clk: 2, CmdID: 9})
	data = AppendDictionary(data, []string{"ACT"})
	path := filepath.Join(t.TempDir(), "bad.ram2")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	f := openTrace(t, path, Options{})
	if _, err := f.Entries(context.Background(), 0, 2); !errors.Is(err, ErrCommandID) {
		t.Errorf("Entries err = %v, want ErrCommandID", err)
	}
}

func TestOpenRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.ram2")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(empty, Options{}); !errors.Is(err, ErrFileTooShort) {
		t.Errorf("Open(empty) err = %v, want ErrFileTooShort", err)
	}
	if _, err := Open(filepath.Join(dir, "missing.ram2"), Options{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) err = %v, want ErrNotExist", err)
	}
}

func TestEntryIndexByTime(t *testing.T) {
	ctx := context.Background()
	f := openTrace(t, writeTrace(t, 10), Options{})
	tests := []struct {
		at   float64
		want uint64
	}{
		{-5, 0},
		{0, 0},
		{1, 1},
		{10, 1},
		{45, 5},
		{90, 9},
		{1000, 10},
	}
	for _, tt := range tests {
		got, err := f.EntryIndexByTime(ctx, tt.at)
		if err != nil || got != tt.want {
			t.Errorf("EntryIndexByTime(%v) = %d, %v; want %d", tt.at, got, err, tt.want)
		}
	}
}

func TestFileClose(t *testing.T) {
	ctx := context.Background()
	f, err := Open(writeTrace(t, 3), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := f.Entries(ctx, 0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Entries after Close err = %v, want ErrClosed", err)
	}
	if h, err := f.Header(ctx); h != nil || err != nil {
		t.Errorf("Header after Close = %v, %v; want nil", h, err)
	}
}

func TestMetadata(t *testing.T) {
	f := openTrace(t, writeTrace(t, 5), Options{})
	m := f.Metadata()
	if m.TotalEvents != 5 || m.TimeRange != [2]int64{100, 140} || m.Truncated {
		t.Errorf("Metadata = %+v", m)
	}
	if want := int64(HeaderSize + 5*EntrySize + 10); m.FileSize != want {
		t.Errorf("FileSize = %d, want %d", m.FileSize, want)
	}
}

func TestGenerate(t *testing.T) {
	var buf bytes.Buffer
	opts := GenOptions{Events: 1000, Layout: Layout{Channels: 2, Bankgroups: 4, Banks: 4}, Seed: 7}
	if err := Generate(&buf, opts); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	data := buf.Bytes()
	h, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.NumEntries != 1000 || int(h.NumCommands) != len(DefaultCommands) {
		t.Fatalf("header = %+v", h)
	}
	var last int64
	for i := range h.NumEntries {
		e, err := ParseEntry(data, h, i)
		if err != nil {
			t.Fatalf("ParseEntry(%d): %v", i, err)
		}
		if e.Clk <= last {
			t.Fatalf("entry %d clock %d not after %d", i, e.Clk, last)
		}
		if lane := opts.Layout.Lane(e); lane >= uint32(opts.Layout.Lanes()) {
			t.Fatalf("entry %d lane %d outside layout", i, lane)
		}
		last = e.Clk
	}
	names, err := ParseDictionary(data, h.DictOffset, h.NumCommands)
	if err != nil {
		t.Fatalf("ParseDictionary: %v", err)
	}
	if diff := cmp.Diff(DefaultCommands, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	var again bytes.Buffer
	if err := Generate(&again, opts); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, again.Bytes()) {
		t.Error("Generate is not deterministic for a fixed seed")
	}
}

func TestWriterCountMismatch(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 2, testNames)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(Entry{CmdID: 7}); !errors.Is(err, ErrCommandID) {
		t.Errorf("Write err = %v, want ErrCommandID", err)
	}
	if err := w.Write(Entry{}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err == nil {
		t.Error("Close should fail with fewer entries than declared")
	}
}

func TestLayoutLane(t *testing.T) {
	l := Layout{Channels: 2, Bankgroups: 4, Banks: 4}
	tests := []struct {
		e    Entry
		want uint32
	}{
		{Entry{}, 0},
		{Entry{Bank: 3}, 3},
		{Entry{Bankgroup: 1}, 4},
		{Entry{Channel: 1, Bankgroup: 3, Bank: 3}, 31},
		{Entry{Channel: 9, Bank: -1}, 16},
	}
	for _, tt := range tests {
		if got := l.Lane(tt.e); got != tt.want {
			t.Errorf("Lane(%+v) = %d, want %d", tt.e, got, tt.want)
		}
	}
	if got := (Layout{}).Lane(Entry{CmdID: 5}); got != 5 {
		t.Errorf("zero layout Lane = %d, want command id 5", got)
	}
}
