// Package style resolves command ids to the color and clock period the
// renderer draws them with.
package style

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Size is the number of addressable command ids.
const Size = 256

// Defaults for commands absent from configuration.
var (
	DefaultColor       = RGB{0x80, 0x80, 0x80}
	DefaultClockPeriod = 1.0
)

// RGB is an 8-bit per channel color.
type RGB struct{ R, G, B uint8 }

// Hex formats the color as #rrggbb.
func (c RGB) Hex() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// ParseHex parses #rgb or #rrggbb (leading # optional).
func ParseHex(s string) (RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if (len(h) != 3 && len(h) != 6) || strings.Trim(h, hexDigits) != "" {
		return RGB{}, fmt.Errorf("parse color %q: want #rrggbb", s)
	}
	c, err := colorful.Hex("#" + h)
	if err != nil {
		return RGB{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return RGB{r, g, b}, nil
}

const hexDigits = "0123456789abcdefABCDEF"

// Entry is the style of one command id.
type Entry struct {
	Color       RGB
	ClockPeriod float64
}

// Table maps every command id to its style.
type Table [Size]Entry

// Default returns a table with every entry set to the defaults.
func Default() *Table {
	var t Table
	for i := range t {
		t[i] = Entry{Color: DefaultColor, ClockPeriod: DefaultClockPeriod}
	}
	return &t
}

// Build resolves colors (hex strings) and clock periods keyed by command id.
// Unparseable colors and non-positive periods fall back to the defaults and
// are reported together in the returned error; the table is always usable.
func Build(colors map[uint8]string, clockPeriods map[uint8]float64) (*Table, error) {
	t := Default()
	var bad []string
	for id, hex := range colors {
		c, err := ParseHex(hex)
		if err != nil {
			bad = append(bad, fmt.Sprintf("command %d: %v", id, err))
			continue
		}
		t[id].Color = c
	}
	for id, p := range clockPeriods {
		if p <= 0 {
			bad = append(bad, fmt.Sprintf("command %d: clock period %v must be positive", id, p))
			continue
		}
		t[id].ClockPeriod = p
	}
	if len(bad) > 0 {
		return t, fmt.Errorf("style: %s", strings.Join(bad, "; "))
	}
	return t, nil
}

// Color returns the color of command id.
func (t *Table) Color(id uint8) RGB { return t[id].Color }

// Duration returns the clock period of command id as a float32 event width.
func (t *Table) Duration(id uint8) float32 { return float32(t[id].ClockPeriod) }
