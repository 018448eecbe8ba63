package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ForEachPage runs fn for pages 1..pages with at most limit in flight,
// joining every sub-fetch before returning. Processors use this for
// per-item pagination so the item is only marked terminal after all of
// its pages have landed. The first error cancels the remaining pages.
func ForEachPage(ctx context.Context, limit, pages int, fn func(ctx context.Context, page int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for page := 1; page <= pages; page++ {
		page := page
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, page)
		})
	}

	return g.Wait()
}
