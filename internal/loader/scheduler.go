package loader

import (
	"context"
	"time"
)

// Scheduler decides when the next batch may start.
type Scheduler interface {
	Yield(ctx context.Context) error
}

// Immediate yields without waiting; it only observes cancellation.
type Immediate struct{}

func (Immediate) Yield(ctx context.Context) error { return ctx.Err() }

// Ticker yields until the next tick, pacing batches at a fixed rate.
type Ticker struct {
	t *time.Ticker
}

// NewTicker returns a scheduler that allows one batch per interval.
func NewTicker(interval time.Duration) *Ticker {
	return &Ticker{t: time.NewTicker(interval)}
}

func (t *Ticker) Yield(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.t.C:
		return nil
	}
}

// Stop releases the ticker.
func (t *Ticker) Stop() { t.t.Stop() }
