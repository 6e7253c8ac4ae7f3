// Package decode interprets columnar event buffers served by a trace backend.
//
// A buffer holding N records is laid out column by column, little-endian:
//
//	Compact (5 bytes/record):  [N x f32 start][N x u8 cmd]
//	Wide    (16 bytes/record): [N x f32 start][N x u32 row][N x f32 duration][N x u8 cmd][N x 3 u8 rgb]
//
// Numeric columns alias the input buffer when the host is little-endian and
// the column is 4-byte aligned; otherwise they are copied out.
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unsafe"
)

// ErrRecordWidth reports a buffer whose length is not a whole number of records.
var ErrRecordWidth = errors.New("buffer length is not a multiple of the record width")

// ErrUnknownSchema reports a schema value outside the known set.
var ErrUnknownSchema = errors.New("unknown wire schema")

// Schema selects the wire layout of an event buffer.
type Schema uint8

const (
	// Compact carries start time and command id only.
	Compact Schema = iota
	// Wide additionally carries row, duration and color, pre-resolved by the backend.
	Wide
)

// RecordWidth returns the number of bytes one record occupies.
func (s Schema) RecordWidth() int {
	switch s {
	case Compact:
		return 5
	case Wide:
		return 16
	}
	return 0
}

func (s Schema) String() string {
	switch s {
	case Compact:
		return "compact"
	case Wide:
		return "wide"
	}
	return "?"
}

// ParseSchema maps a schema name to a Schema.
func ParseSchema(name string) (Schema, error) {
	switch name {
	case "compact", "":
		return Compact, nil
	case "wide":
		return Wide, nil
	}
	return 0, fmt.Errorf("%w: %q (valid: compact, wide)", ErrUnknownSchema, name)
}

// Columns holds the decoded parallel arrays of one buffer. Row, Duration and
// Color are nil for the compact schema. Color holds 3 bytes per event.
type Columns struct {
	Start    []float32
	Cmd      []uint8
	Row      []uint32
	Duration []float32
	Color    []uint8
}

// Len returns the number of events.
func (c Columns) Len() int { return len(c.Start) }

// Slice returns the events in [i, j) without copying.
func (c Columns) Slice(i, j int) Columns {
	out := Columns{Start: c.Start[i:j], Cmd: c.Cmd[i:j]}
	if c.Row != nil {
		out.Row = c.Row[i:j]
		out.Duration = c.Duration[i:j]
		out.Color = c.Color[3*i : 3*j]
	}
	return out
}

// MaxStart returns the largest start time, relying on time-sorted input.
func (c Columns) MaxStart() (float32, bool) {
	if len(c.Start) == 0 {
		return 0, false
	}
	return c.Start[len(c.Start)-1], true
}

var littleEndianHost = binary.NativeEndian.Uint16([]byte{1, 0}) == 1

// Decode splits buf into parallel columns according to schema.
// The result may alias buf; callers must not modify buf afterwards.
func Decode(schema Schema, buf []byte) (Columns, error) {
	width := schema.RecordWidth()
	if width == 0 {
		return Columns{}, fmt.Errorf("decode: %w: %d", ErrUnknownSchema, schema)
	}
	if len(buf)%width != 0 {
		return Columns{}, fmt.Errorf("decode %s: %w: %d bytes, width %d", schema, ErrRecordWidth, len(buf), width)
	}
	n := len(buf) / width
	if n == 0 {
		return Columns{Start: []float32{}, Cmd: []uint8{}}, nil
	}

	switch schema {
	case Compact:
		return Columns{
			Start: float32s(buf[:4*n], n),
			Cmd:   buf[4*n : 5*n : 5*n],
		}, nil
	default:
		return Columns{
			Start:    float32s(buf[:4*n], n),
			Row:      uint32s(buf[4*n:8*n], n),
			Duration: float32s(buf[8*n:12*n], n),
			Cmd:      buf[12*n : 13*n : 13*n],
			Color:    buf[13*n : 16*n : 16*n],
		}, nil
	}
}

func aligned4(b []byte) bool {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))%4 == 0
}

func float32s(b []byte, n int) []float32 {
	if littleEndianHost && aligned4(b) {
		return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(b))), n)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func uint32s(b []byte, n int) []uint32 {
	if littleEndianHost && aligned4(b) {
		return unsafe.Slice((*uint32)(unsafe.Pointer(unsafe.SliceData(b))), n)
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[4*i:])
	}
	return out
}
