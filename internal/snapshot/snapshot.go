// Package snapshot publishes immutable copies of the viewer state.
//
// A Frame captures the stream, view and render statistics at the end of one
// UI frame. Frames are built on the UI goroutine and swapped atomically into
// a Publisher, which other goroutines read without locking.
package snapshot

import (
	"sync/atomic"
	"time"

	"github.com/daviddao/ramwiz_viewer/internal/loader"
	"github.com/daviddao/ramwiz_viewer/internal/render"
	"github.com/daviddao/ramwiz_viewer/internal/view"
)

// Stream is the JSON form of a loader.State.
type Stream struct {
	Done      bool    `json:"done"`
	Cancelled bool    `json:"cancelled"`
	Truncated bool    `json:"truncated"`
	Error     string  `json:"error,omitempty"`
	Loaded    int     `json:"loaded"`
	Total     int     `json:"total"`
	Progress  float64 `json:"progress"`
}

// Frame is an immutable, self-contained view of one rendered frame.
type Frame struct {
	SessionID string       `json:"sessionId,omitempty"`
	Trace     string       `json:"trace,omitempty"`
	// Origin is the absolute clock of view time zero.
	Origin    int64        `json:"origin"`
	Commands  []string     `json:"commands,omitempty"`
	Stream    Stream       `json:"stream"`
	View      view.State   `json:"view"`
	Stats     render.Stats `json:"stats"`

	// Timestamp of snapshot creation.
	BuiltAt time.Time `json:"builtAt"`
}

// Build copies the state of s and the frame results into a Frame. s may be
// nil before a trace is open.
func Build(s *loader.Session, tracePath string, commands []string, v view.State, st render.Stats) *Frame {
	f := &Frame{
		Trace:    tracePath,
		Commands: append([]string(nil), commands...),
		View:     v,
		Stats:    st,
		BuiltAt:  time.Now(),
	}
	if s != nil {
		f.SessionID = s.ID.String()
		f.Stream = streamOf(s.State())
	}
	return f
}

func streamOf(ls loader.State) Stream {
	out := Stream{
		Done:      ls.Done,
		Cancelled: ls.Cancelled,
		Truncated: ls.Truncated,
		Loaded:    ls.Loaded,
		Total:     ls.Total,
		Progress:  ls.Progress,
	}
	if ls.Err != nil {
		out.Error = ls.Err.Error()
	}
	return out
}

// Publisher holds the latest Frame.
type Publisher struct {
	cur atomic.Pointer[Frame]
}

// Publish replaces the current frame. f must not be modified afterwards.
func (p *Publisher) Publish(f *Frame) { p.cur.Store(f) }

// Load returns the latest frame, or nil before the first Publish.
func (p *Publisher) Load() *Frame { return p.cur.Load() }
