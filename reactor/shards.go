package reactor

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// RunShards runs each loop on its own locked OS thread. It returns once
// every loop has finished, or with the first error, in which case the
// remaining loops are canceled.
func RunShards(ctx context.Context, loops ...*Loop) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			return l.Run(gctx)
		})
	}
	return g.Wait()
}
