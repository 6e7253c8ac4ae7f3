// Package render draws the visible slice of an LOD store once per frame
// through a Device with instanced-draw semantics.
package render

import (
	"errors"

	"github.com/daviddao/ramwiz_viewer/internal/decode"
	"github.com/daviddao/ramwiz_viewer/internal/style"
)

// ErrContext reports that no drawing device could be acquired.
var ErrContext = errors.New("render context unavailable")

// RowRect is the vertical extent of one lane, in device pixels.
type RowRect struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// Transform maps instance space onto the device for one draw.
type Transform struct {
	// Start and Duration are the time window spanning the device width.
	Start    float64
	Duration float64
	// Rows places lane i at Rows[i]. Instances on lanes without a row are not drawn.
	Rows []RowRect
}

// X returns the device x coordinate of time t on a device width pixels wide.
func (xf Transform) X(t float64, width int) float64 {
	if xf.Duration <= 0 {
		return 0
	}
	return (t - xf.Start) / xf.Duration * float64(width)
}

// InstanceBuffer is device memory holding one LOD level's instances.
type InstanceBuffer interface {
	// Upload writes cols at instance index offset.
	Upload(offset int, cols decode.Columns) error
	Release()
}

// Device is the drawing surface. A Device is used from one goroutine.
type Device interface {
	// Size returns the drawable area in pixels.
	Size() (width, height int)
	NewInstanceBuffer(schema decode.Schema, capacity int) (InstanceBuffer, error)
	// UploadStyle replaces the 256-entry command style table.
	UploadStyle(t *style.Table) error
	Clear()
	// DrawLines draws a horizontal grid line at each y.
	DrawLines(ys []float64)
	DrawInstanced(buf InstanceBuffer, first, count int, xf Transform) error
	Release()
}

// LayoutRows splits height pixels starting at top into lanes equal rows.
func LayoutRows(lanes int, top, height float64) []RowRect {
	if lanes <= 0 || height <= 0 {
		return nil
	}
	h := height / float64(lanes)
	rows := make([]RowRect, lanes)
	for i := range rows {
		rows[i] = RowRect{Top: top + float64(i)*h, Height: h}
	}
	return rows
}
