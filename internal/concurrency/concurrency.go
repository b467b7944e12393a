// Package concurrency houses shared helpers for bounded fan-out.
package concurrency

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// NewPool returns a bounded pool whose tasks stop scheduling once ctx is
// cancelled. The first task error cancels the rest, and Wait returns only
// that first error.
func NewPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	return pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(maxGoroutines)
}
