package reconstruction

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"dicomrecon/pkg/progress"
)

// run carries the state of one computation: its context, the handle that
// owns it and the progress phase currently executing
type run struct {
	ctx         context.Context
	cancel      context.CancelCauseFunc
	handle      *progress.Handle
	fingerprint string
	engine      *Engine

	workers  int
	bandRows int

	// progress range of the current phase
	lo, hi float64
}

// phase sets the progress range covered by the next rows call
func (r *run) phase(lo, hi float64) {
	r.lo, r.hi = lo, hi
}

// rows splits n output rows into bands processed in parallel. Each
// finished band is a checkpoint: progress is reported and cancellation
// observed. Bands never run after a checkpoint has failed.
func (r *run) rows(n int, fn func(y0, y1 int)) error {
	if n <= 0 {
		return r.checkpoint(r.hi)
	}
	bands := (n + r.bandRows - 1) / r.bandRows

	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(r.workers)

	var done atomic.Int64
	for b := 0; b < bands; b++ {
		y0 := b * r.bandRows
		y1 := min(n, y0+r.bandRows)
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return r.cancelled(r.handle.Percent())
			}
			fn(y0, y1)
			finished := done.Add(1)
			return r.checkpoint(r.lo + (r.hi-r.lo)*float64(finished)/float64(bands))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// a cancellation can land after the last band was scheduled
	if r.ctx.Err() != nil {
		return r.cancelled(r.handle.Percent())
	}
	return nil
}

// checkpoint reports progress and returns a CancelledError once the
// owning handle or the context has been cancelled
func (r *run) checkpoint(percent float64) error {
	r.engine.broadcast(r.fingerprint, percent)
	if r.engine.onCheckpoint != nil {
		r.engine.onCheckpoint(r.handle, percent)
	}
	if r.handle.IsCancelled() {
		r.cancel(ErrCancelled)
	}
	if r.ctx.Err() != nil {
		return r.cancelled(percent)
	}
	return nil
}

func (r *run) cancelled(percent float64) error {
	return &CancelledError{RequestID: r.handle.ID(), Percent: percent, Cause: context.Cause(r.ctx)}
}
