package cache

import (
	"context"
)

// Outcome describes how Do produced its value
type Outcome struct {
	// Cached is set when the value came straight from the cache
	Cached bool

	// Shared is set when the value was computed for another caller
	Shared bool

	// Stored is set when the computed value was committed to the cache
	Stored bool

	// StoreErr holds a non-fatal failure to store the value, such as
	// ErrCapacityExceeded
	StoreErr error
}

type flightResult[V Sizer] struct {
	value    V
	stored   bool
	storeErr error
	// aborted is set when the computing caller's context ended
	aborted bool
}

// Do returns the cached value for key or computes it with fn. Concurrent
// calls for the same key share a single computation. A caller whose ctx
// ends stops waiting without disturbing the computation. When the
// computing caller is cancelled, waiters that are still live start over.
// Only successful results are stored, and only if series was not
// invalidated while fn ran.
func (c *LRU[V]) Do(ctx context.Context, key, series string, fn func(context.Context) (V, error)) (V, Outcome, error) {
	var zero V
	for {
		if v, ok := c.Get(key); ok {
			return v, Outcome{Cached: true}, nil
		}

		leader := false
		ch := c.group.DoChan(key, func() (interface{}, error) {
			leader = true
			return c.compute(ctx, key, series, fn)
		})

		select {
		case <-ctx.Done():
			return zero, Outcome{}, ctx.Err()
		case res := <-ch:
			fr, _ := res.Val.(flightResult[V])
			if res.Err != nil {
				if !leader && fr.aborted && ctx.Err() == nil {
					continue
				}
				return zero, Outcome{}, res.Err
			}
			return fr.value, Outcome{
				Shared:   !leader,
				Stored:   fr.stored,
				StoreErr: fr.storeErr,
			}, nil
		}
	}
}

func (c *LRU[V]) compute(ctx context.Context, key, series string, fn func(context.Context) (V, error)) (interface{}, error) {
	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		c.mu.Unlock()
		return flightResult[V]{value: e.value, stored: true}, nil
	}
	gen := c.generations[series]
	c.inflight[key] = series
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}()

	v, err := fn(ctx)
	if err != nil {
		return flightResult[V]{aborted: ctx.Err() != nil}, err
	}
	stored, storeErr := c.putIfCurrent(key, series, v, gen)
	return flightResult[V]{value: v, stored: stored, storeErr: storeErr}, nil
}
