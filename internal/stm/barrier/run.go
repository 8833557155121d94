package barrier

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// RunParties runs every party on its own goroutine and waits for all of them.
//
// The first party to fail aborts b, so parties waiting in JoinCommit are released,
// and cancels the context passed to the others. RunParties returns the error of
// that first party (not the ErrAborted it causes in the others), or nil when every
// party succeeded.
func RunParties(ctx context.Context, b Barrier, parties ...func(ctx context.Context) error) error {
	var (
		once  sync.Once
		first error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, party := range parties {
		g.Go(func() error {
			err := party(gctx)
			if err != nil {
				once.Do(func() { first = err })
				b.Abort()
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return first
	}
	return nil
}
