// Package trace reads RAM2 memory-command trace files and serves their
// entries to the stream loader as columnar event buffers.
//
// A RAM2 file is a 24-byte header, a packed array of 32-byte entries and a
// dictionary of command names, all little-endian:
//
//	header:     "RAM2\0" | version u8 | num_commands u8 | reserved u8 | num_entries u64 | dict_offset u64
//	entry:      clk i64 | channel i16 | rank i16 | bankgroup i32 | bank i32 | row i32 | column i32 | cmd_id u8 | 3 pad
//	dictionary: num_commands x (len u8 | utf-8 name)
package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

const (
	// HeaderSize is the encoded size of Header.
	HeaderSize = 24
	// EntrySize is the encoded size of Entry.
	EntrySize = 32
	// Version is the only supported format version.
	Version = 1
)

// Magic opens every RAM2 file.
var Magic = [5]byte{'R', 'A', 'M', '2', 0}

var (
	ErrFileTooShort       = errors.New("file too short")
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrDictionary         = errors.New("invalid dictionary")
	ErrIndex              = errors.New("entry index out of range")
	ErrCommandID          = errors.New("invalid command id")
)

// Header is the fixed preamble of a RAM2 file.
type Header struct {
	Version     uint8  `json:"version"`
	NumCommands uint8  `json:"numCommands"`
	NumEntries  uint64 `json:"numEntries"`
	DictOffset  uint64 `json:"dictOffset"`
}

// ParseHeader validates and decodes the header at the start of b.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("parse header: %w: %d bytes", ErrFileTooShort, len(b))
	}
	if [5]byte(b[:5]) != Magic {
		return nil, fmt.Errorf("parse header: %w", ErrInvalidMagic)
	}
	if b[5] != Version {
		return nil, fmt.Errorf("parse header: %w: %d", ErrUnsupportedVersion, b[5])
	}
	return &Header{
		Version:     b[5],
		NumCommands: b[6],
		NumEntries:  binary.LittleEndian.Uint64(b[8:]),
		DictOffset:  binary.LittleEndian.Uint64(b[16:]),
	}, nil
}

// AppendHeader appends the encoding of h to b.
func AppendHeader(b []byte, h Header) []byte {
	b = append(b, Magic[:]...)
	b = append(b, Version, h.NumCommands, 0)
	b = binary.LittleEndian.AppendUint64(b, h.NumEntries)
	return binary.LittleEndian.AppendUint64(b, h.DictOffset)
}

// Entry is one issued memory command.
type Entry struct {
	Clk       int64 `json:"clk"`
	Channel   int16 `json:"channel"`
	Rank      int16 `json:"rank"`
	Bankgroup int32 `json:"bankgroup"`
	Bank      int32 `json:"bank"`
	Row       int32 `json:"row"`
	Column    int32 `json:"column"`
	CmdID     uint8 `json:"cmdId"`
}

// decodeEntry reads the entry at the start of b, which must hold EntrySize bytes.
func decodeEntry(b []byte) Entry {
	return Entry{
		Clk:       int64(binary.LittleEndian.Uint64(b[0:])),
		Channel:   int16(binary.LittleEndian.Uint16(b[8:])),
		Rank:      int16(binary.LittleEndian.Uint16(b[10:])),
		Bankgroup: int32(binary.LittleEndian.Uint32(b[12:])),
		Bank:      int32(binary.LittleEndian.Uint32(b[16:])),
		Row:       int32(binary.LittleEndian.Uint32(b[20:])),
		Column:    int32(binary.LittleEndian.Uint32(b[24:])),
		CmdID:     b[28],
	}
}

// AppendEntry appends the encoding of e to b.
func AppendEntry(b []byte, e Entry) []byte {
	b = binary.LittleEndian.AppendUint64(b, uint64(e.Clk))
	b = binary.LittleEndian.AppendUint16(b, uint16(e.Channel))
	b = binary.LittleEndian.AppendUint16(b, uint16(e.Rank))
	b = binary.LittleEndian.AppendUint32(b, uint32(e.Bankgroup))
	b = binary.LittleEndian.AppendUint32(b, uint32(e.Bank))
	b = binary.LittleEndian.AppendUint32(b, uint32(e.Row))
	b = binary.LittleEndian.AppendUint32(b, uint32(e.Column))
	return append(b, e.CmdID, 0, 0, 0)
}

// ParseEntry decodes entry index of the file data, checking its command id
// against the header.
func ParseEntry(data []byte, h *Header, index uint64) (Entry, error) {
	if index >= h.NumEntries {
		return Entry{}, fmt.Errorf("parse entry %d: %w", index, ErrIndex)
	}
	off := HeaderSize + index*EntrySize
	if off+EntrySize > uint64(len(data)) {
		return Entry{}, fmt.Errorf("parse entry %d: %w", index, ErrIndex)
	}
	e := decodeEntry(data[off:])
	if e.CmdID >= h.NumCommands {
		return Entry{}, fmt.Errorf("parse entry %d: %w: %d >= %d", index, ErrCommandID, e.CmdID, h.NumCommands)
	}
	return e, nil
}

// ParseDictionary decodes n length-prefixed command names starting at offset.
func ParseDictionary(data []byte, offset uint64, n uint8) ([]string, error) {
	if offset >= uint64(len(data)) {
		return nil, fmt.Errorf("parse dictionary: %w: offset %d beyond %d bytes", ErrDictionary, offset, len(data))
	}
	names := make([]string, 0, n)
	pos := int(offset)
	for id := 0; id < int(n); id++ {
		if pos >= len(data) {
			return nil, fmt.Errorf("parse dictionary: %w: command %d past end", ErrDictionary, id)
		}
		l := int(data[pos])
		pos++
		if pos+l > len(data) {
			return nil, fmt.Errorf("parse dictionary: %w: command %d name past end", ErrDictionary, id)
		}
		name := data[pos : pos+l]
		if !utf8.Valid(name) {
			return nil, fmt.Errorf("parse dictionary: %w: command %d name is not utf-8", ErrDictionary, id)
		}
		names = append(names, string(name))
		pos += l
	}
	return names, nil
}

// AppendDictionary appends the encoding of names to b. Names longer than
// 255 bytes are cut.
func AppendDictionary(b []byte, names []string) []byte {
	for _, n := range names {
		if len(n) > 255 {
			n = n[:255]
		}
		b = append(b, byte(len(n)))
		b = append(b, n...)
	}
	return b
}
