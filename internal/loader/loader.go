// Package loader streams a trace from a backend into an LOD store in
// bounded batches.
//
// A Session is a small state machine: Next names the batch to read, Fetch
// performs the backend read and decode and may run on any goroutine, Apply
// ingests the result and must run on the goroutine that owns the store and
// the view. Run drives the three in a loop for headless use; the viewer
// drives them from its message loop instead.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/daviddao/ramwiz_viewer/internal/decode"
	"github.com/daviddao/ramwiz_viewer/internal/lod"
	"github.com/daviddao/ramwiz_viewer/internal/trace"
	"github.com/daviddao/ramwiz_viewer/internal/view"
)

// DefaultBatchSize is the number of entries requested per batch.
const DefaultBatchSize = 50_000

var (
	// ErrNoTrace reports a backend with no trace open.
	ErrNoTrace = errors.New("no trace open")
	// ErrStale reports a batch from a cancelled or superseded session.
	ErrStale = errors.New("stale batch")
)

var generation atomic.Uint64

// Options tunes a stream session.
type Options struct {
	Schema    decode.Schema
	BatchSize int
	Factors   []uint32
	// From and To bound the streamed entry range; To 0 means all entries.
	From, To uint64
}

// Request names one batch to fetch.
type Request struct {
	Gen    uint64
	Offset uint64
	Count  uint64
}

// Batch is the immutable result of a Fetch.
type Batch struct {
	Gen    uint64
	Offset uint64
	Count  uint64
	Cols   decode.Columns
	Err    error
	Took   time.Duration
}

// State is the externally visible progress of a session.
type State struct {
	Done      bool
	Cancelled bool
	Truncated bool
	Err       error
	Loaded    int
	Total     int
	Progress  float64
}

// Session streams one trace. It owns the backend and closes it on Close.
type Session struct {
	ID uuid.UUID

	backend trace.Backend
	schema  decode.Schema
	store   *lod.Store
	view    *view.State
	log     pslog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	gen    uint64

	batch     uint64
	from, end uint64
	next      uint64
	short     bool
	declared  uint64
	started   bool
	state     State
}

// Open starts a session over backend, streaming into a fresh store and
// widening v as data arrives. The logger is taken from ctx.
func Open(ctx context.Context, backend trace.Backend, v *view.State, opts Options) (*Session, error) {
	hdr, err := backend.Header(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if hdr == nil {
		return nil, fmt.Errorf("open stream: %w", ErrNoTrace)
	}

	end := hdr.NumEntries
	if opts.To > 0 && opts.To < end {
		end = opts.To
	}
	// A header may declare more entries than the file holds.
	short := false
	if sz, ok := backend.(trace.Sized); ok && sz.Available() < end {
		end = sz.Available()
		short = true
	}
	from := min(opts.From, end)
	if end-from > lod.MaxEvents {
		return nil, fmt.Errorf("open stream: %w: %d entries", lod.ErrCapacity, end-from)
	}
	batch := uint64(opts.BatchSize)
	if batch == 0 {
		batch = DefaultBatchSize
	}
	factors := opts.Factors
	if len(factors) == 0 {
		factors = lod.DefaultFactors
	}

	store, err := lod.New(opts.Schema, int(end-from), factors)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	id := uuid.New()
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ID:       id,
		backend:  backend,
		schema:   opts.Schema,
		store:    store,
		view:     v,
		log:      pslog.Ctx(ctx).With("session", id.String()),
		ctx:      sctx,
		cancel:   cancel,
		gen:      generation.Add(1),
		batch:    batch,
		from:     from,
		end:      end,
		next:     from,
		short:    short,
		declared: hdr.NumEntries,
	}
	s.state.Total = store.Total()
	s.state.Done = from == end
	s.state.Truncated = s.state.Done && short
	s.state.Progress = store.Progress()
	s.log.Info("stream opened", "entries", end-from, "from", from, "declared", hdr.NumEntries, "schema", opts.Schema.String(), "batch", batch)
	return s, nil
}

// Store returns the store the session writes into.
func (s *Session) Store() *lod.Store { return s.store }

// Backend returns the backend the session reads from.
func (s *Session) Backend() trace.Backend { return s.backend }

// State returns the current progress.
func (s *Session) State() State { return s.state }

// Next returns the next batch to fetch, or false once the stream has ended.
// It does not advance: calling it again before Apply yields the same request.
func (s *Session) Next() (Request, bool) {
	if s.state.Done || s.ctx.Err() != nil {
		return Request{}, false
	}
	return Request{Gen: s.gen, Offset: s.next, Count: min(s.batch, s.end-s.next)}, true
}

// Fetch reads and decodes req. It touches no session state and is safe to
// call from any goroutine. The read is abandoned if either ctx or the
// session is cancelled.
func (s *Session) Fetch(ctx context.Context, req Request) Batch {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	began := time.Now()
	b := Batch{Gen: req.Gen, Offset: req.Offset, Count: req.Count}
	if err := s.ctx.Err(); err != nil {
		b.Err = fmt.Errorf("fetch entries %d+%d: %w", req.Offset, req.Count, err)
		return b
	}
	buf, err := s.backend.Entries(ctx, req.Offset, req.Count)
	if err != nil {
		b.Err = fmt.Errorf("fetch entries %d+%d: %w", req.Offset, req.Count, err)
		return b
	}
	cols, err := decode.Decode(s.schema, buf)
	if err != nil {
		b.Err = fmt.Errorf("decode entries %d+%d: %w", req.Offset, req.Count, err)
		return b
	}
	b.Cols = cols
	b.Took = time.Since(began)
	return b
}

// Apply ingests a fetched batch. Batches of another generation, or arriving
// after cancellation, are dropped with ErrStale and write nothing. A fetch or
// ingest error ends the stream; loaded data stays usable.
func (s *Session) Apply(b Batch) error {
	if b.Gen != s.gen || s.ctx.Err() != nil || s.state.Done {
		return ErrStale
	}
	if b.Offset != s.next {
		return ErrStale
	}
	if b.Err != nil {
		return s.fail(b.Err)
	}

	n := b.Cols.Len()
	if n == 0 {
		s.truncate(b)
		return nil
	}
	if err := s.store.Ingest(int(b.Offset), b.Cols); err != nil {
		return s.fail(err)
	}
	s.extendView(b.Cols)

	s.next += uint64(n)
	s.state.Loaded = s.store.Ingested()
	s.state.Progress = s.store.Progress()
	s.log.Debug("batch ingested", "offset", b.Offset, "events", n, "took", b.Took, "progress", s.state.Progress)

	switch {
	case uint64(n) < b.Count:
		s.truncate(b)
	case s.next >= s.end && s.short:
		s.truncate(b)
	case s.next >= s.end:
		s.state.Done = true
		s.log.Info("stream complete", "events", s.state.Loaded)
	}
	return nil
}

func (s *Session) extendView(cols decode.Columns) {
	if s.view == nil {
		return
	}
	last, _ := cols.MaxStart()
	if !s.started {
		s.started = true
		s.view.SetMinTime(float64(cols.Start[0]))
		s.view.ExtendMaxTime(float64(last))
		s.view.Fit()
		return
	}
	s.view.ExtendMaxTime(float64(last))
}

func (s *Session) truncate(b Batch) {
	s.state.Done = true
	s.state.Truncated = true
	s.log.Warn("stream truncated", "offset", b.Offset, "requested", b.Count, "received", b.Cols.Len(), "loaded", s.store.Ingested(), "declared", s.declared)
}

func (s *Session) fail(err error) error {
	s.state.Done = true
	s.state.Err = err
	s.log.With("err", err).Error("stream aborted", "loaded", s.store.Ingested())
	return err
}

// Cancel stops the stream. Batches in flight are discarded on Apply.
func (s *Session) Cancel() {
	if s.ctx.Err() != nil {
		return
	}
	s.cancel()
	if !s.state.Done {
		s.state.Done = true
		s.state.Cancelled = true
		s.log.Info("stream cancelled", "loaded", s.store.Ingested())
	}
}

// Close cancels the stream and closes the backend.
func (s *Session) Close() error {
	s.Cancel()
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("close stream %s: %w", s.ID, err)
	}
	s.log.Info("stream closed")
	return nil
}

// Run streams the whole range, yielding to sched between batches. It
// returns the stream error, if any, or ctx's error when cancelled.
func (s *Session) Run(ctx context.Context, sched Scheduler) error {
	for {
		req, ok := s.Next()
		if !ok {
			return s.state.Err
		}
		b := s.Fetch(ctx, req)
		if err := ctx.Err(); err != nil {
			s.Cancel()
			return err
		}
		if err := s.Apply(b); err != nil {
			if errors.Is(err, ErrStale) {
				return ctx.Err()
			}
			return err
		}
		if err := sched.Yield(ctx); err != nil {
			s.Cancel()
			return err
		}
	}
}
