package boundary

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// BatchProcessor applies a function to every item with bounded concurrency,
// keeping results in input order.
type BatchProcessor[T, R any] struct {
	// Concurrency caps simultaneous calls; values below 1 mean 1.
	Concurrency int
	// ProgressEvery triggers OnProgress after that many completed items.
	// Zero disables progress reporting.
	ProgressEvery int
	OnProgress    func(done, total int)
}

// Run calls fn for each item. Results are positioned by input index, so the
// output order never depends on completion order. Run stops early only when
// ctx is cancelled.
func (p BatchProcessor[T, R]) Run(ctx context.Context, items []T, fn func(ctx context.Context, item T) R) ([]R, error) {
	results := make([]R, len(items))
	total := len(items)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Concurrency))

	for i := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = fn(gctx, items[i])

			n := int(done.Add(1))
			if p.OnProgress != nil && p.ProgressEvery > 0 && (n%p.ProgressEvery == 0 || n == total) {
				p.OnProgress(n, total)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
