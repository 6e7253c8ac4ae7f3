package trace

import "context"

// Backend serves the event stream of one opened trace as columnar buffers.
type Backend interface {
	// Header returns the open trace's header, or nil when none is open.
	Header(ctx context.Context) (*Header, error)
	// Entries returns count records starting at start, encoded in the
	// backend's wire schema. Fewer records are returned only when the trace
	// ends early.
	Entries(ctx context.Context, start, count uint64) ([]byte, error)
	// EntryIndexByTime returns the index of the first entry at or after t.
	EntryIndexByTime(ctx context.Context, t float64) (uint64, error)
	// Dictionary returns the command names indexed by command id.
	Dictionary(ctx context.Context) ([]string, error)
	Close() error
}

// Sized is implemented by backends that know how many entries are
// physically present, which may be fewer than the header declares.
type Sized interface {
	Available() uint64
}

// Metadata summarises an opened trace.
type Metadata struct {
	Path        string   `json:"path"`
	FileSize    int64    `json:"fileSize"`
	TotalEvents uint64   `json:"totalEvents"`
	TimeRange   [2]int64 `json:"timeRange"`
	Commands    []string `json:"commands"`
	Truncated   bool     `json:"truncated"`
}
