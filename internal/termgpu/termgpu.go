// Package termgpu is a render.Device that rasterizes instances into a grid
// of terminal cells, one cell per pixel.
package termgpu

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/daviddao/ramwiz_viewer/internal/decode"
	"github.com/daviddao/ramwiz_viewer/internal/render"
	"github.com/daviddao/ramwiz_viewer/internal/style"
)

// ErrForeignBuffer reports a draw with a buffer another device created.
var ErrForeignBuffer = errors.New("instance buffer belongs to another device")

const (
	blockGlyph = "█"
	lineGlyph  = "─"
)

var lineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#313244"))

type cellKind uint8

const (
	cellEmpty cellKind = iota
	cellLine
	cellEvent
)

type cell struct {
	kind  cellKind
	color style.RGB
}

// Device draws into an in-memory cell canvas; Render turns it into styled text.
type Device struct {
	width, height int
	cells         []cell
	style         style.Table
	released      bool
}

var _ render.Device = (*Device)(nil)

// New returns a canvas width by height cells.
func New(width, height int) (*Device, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("termgpu: canvas %dx%d has no area", width, height)
	}
	d := &Device{style: *style.Default()}
	d.Resize(width, height)
	return d, nil
}

// Resize changes the canvas size and clears it.
func (d *Device) Resize(width, height int) {
	d.width, d.height = max(width, 1), max(height, 1)
	d.cells = make([]cell, d.width*d.height)
}

func (d *Device) Size() (int, int) { return d.width, d.height }

func (d *Device) NewInstanceBuffer(schema decode.Schema, capacity int) (render.InstanceBuffer, error) {
	if d.released {
		return nil, errors.New("termgpu: device released")
	}
	b := &buffer{dev: d, capacity: capacity, start: make([]float32, capacity), cmd: make([]uint8, capacity)}
	if schema == decode.Wide {
		b.row = make([]uint32, capacity)
		b.duration = make([]float32, capacity)
		b.color = make([]uint8, 3*capacity)
	}
	return b, nil
}

func (d *Device) UploadStyle(t *style.Table) error {
	if t == nil {
		return errors.New("termgpu: nil style table")
	}
	d.style = *t
	return nil
}

func (d *Device) Clear() { clear(d.cells) }

func (d *Device) DrawLines(ys []float64) {
	for _, y := range ys {
		row := int(math.Floor(y))
		if row < 0 || row >= d.height {
			continue
		}
		for x := range d.width {
			c := &d.cells[row*d.width+x]
			if c.kind == cellEmpty {
				c.kind = cellLine
			}
		}
	}
}

// DrawInstanced fills the cells covered by instances [first, first+count).
// Compact instances sit on the lane of their command id and take width and
// color from the style table; wide instances carry their own.
func (d *Device) DrawInstanced(rb render.InstanceBuffer, first, count int, xf render.Transform) error {
	b, ok := rb.(*buffer)
	if !ok || b.dev != d {
		return ErrForeignBuffer
	}
	if first < 0 || count < 0 || first+count > b.n {
		return fmt.Errorf("termgpu: draw [%d, %d) past %d uploaded instances", first, first+count, b.n)
	}
	wide := b.row != nil
	for i := first; i < first+count; i++ {
		lane := int(b.cmd[i])
		dur := d.style[b.cmd[i]].ClockPeriod
		color := d.style[b.cmd[i]].Color
		if wide {
			lane = int(b.row[i])
			dur = float64(b.duration[i])
			color = style.RGB{R: b.color[3*i], G: b.color[3*i+1], B: b.color[3*i+2]}
		}
		if lane >= len(xf.Rows) {
			continue
		}
		t := float64(b.start[i])
		x0 := int(math.Floor(xf.X(t, d.width)))
		x1 := max(x0+1, int(math.Ceil(xf.X(t+dur, d.width))))
		r := xf.Rows[lane]
		y0 := int(math.Floor(r.Top))
		y1 := max(y0+1, int(math.Ceil(r.Top+r.Height)))
		d.fill(x0, x1, y0, y1, color)
	}
	return nil
}

func (d *Device) fill(x0, x1, y0, y1 int, color style.RGB) {
	x0, x1 = max(x0, 0), min(x1, d.width)
	y0, y1 = max(y0, 0), min(y1, d.height)
	for y := y0; y < y1; y++ {
		row := d.cells[y*d.width : (y+1)*d.width]
		for x := x0; x < x1; x++ {
			row[x] = cell{kind: cellEvent, color: color}
		}
	}
}

func (d *Device) Release() {
	d.released = true
	d.cells = nil
}

// Render returns the canvas as height lines of styled text. Runs of equal
// cells share one escape sequence.
func (d *Device) Render() string {
	if d.released {
		return ""
	}
	var b strings.Builder
	for y := range d.height {
		if y > 0 {
			b.WriteByte('\n')
		}
		row := d.cells[y*d.width : (y+1)*d.width]
		for x := 0; x < len(row); {
			end := x + 1
			for end < len(row) && row[end] == row[x] {
				end++
			}
			b.WriteString(renderRun(row[x], end-x))
			x = end
		}
	}
	return b.String()
}

func renderRun(c cell, n int) string {
	switch c.kind {
	case cellEvent:
		return lipgloss.NewStyle().Foreground(lipgloss.Color(c.color.Hex())).Render(strings.Repeat(blockGlyph, n))
	case cellLine:
		return lineStyle.Render(strings.Repeat(lineGlyph, n))
	}
	return strings.Repeat(" ", n)
}

// buffer holds one level's instances in device memory.
type buffer struct {
	dev      *Device
	capacity int
	n        int

	start    []float32
	cmd      []uint8
	row      []uint32
	duration []float32
	color    []uint8
}

func (b *buffer) Upload(offset int, cols decode.Columns) error {
	n := cols.Len()
	if offset < 0 || offset+n > b.capacity {
		return fmt.Errorf("termgpu: upload [%d, %d) exceeds capacity %d", offset, offset+n, b.capacity)
	}
	if b.row != nil && cols.Row == nil && n > 0 {
		return errors.New("termgpu: wide buffer given compact columns")
	}
	copy(b.start[offset:], cols.Start)
	copy(b.cmd[offset:], cols.Cmd)
	if b.row != nil {
		copy(b.row[offset:], cols.Row)
		copy(b.duration[offset:], cols.Duration)
		copy(b.color[3*offset:], cols.Color)
	}
	b.n = max(b.n, offset+n)
	return nil
}

func (b *buffer) Release() {
	b.start, b.cmd, b.row, b.duration, b.color = nil, nil, nil, nil, nil
	b.capacity, b.n = 0, 0
}
