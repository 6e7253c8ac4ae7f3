package decode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode lays cols out in the columnar wire format of schema.
// For the wide schema missing optional columns are written as zeros.
func Encode(schema Schema, cols Columns) ([]byte, error) {
	width := schema.RecordWidth()
	if width == 0 {
		return nil, fmt.Errorf("encode: %w: %d", ErrUnknownSchema, schema)
	}
	n := cols.Len()
	if len(cols.Cmd) != n {
		return nil, fmt.Errorf("encode: cmd column has %d values, want %d", len(cols.Cmd), n)
	}
	buf := make([]byte, n*width)
	for i, v := range cols.Start {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	if schema == Compact {
		copy(buf[4*n:], cols.Cmd)
		return buf, nil
	}
	for i := 0; i < n && i < len(cols.Row); i++ {
		binary.LittleEndian.PutUint32(buf[4*n+4*i:], cols.Row[i])
	}
	for i := 0; i < n && i < len(cols.Duration); i++ {
		binary.LittleEndian.PutUint32(buf[8*n+4*i:], math.Float32bits(cols.Duration[i]))
	}
	copy(buf[12*n:13*n], cols.Cmd)
	copy(buf[13*n:16*n], cols.Color)
	return buf, nil
}
