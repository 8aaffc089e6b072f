package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aimoverse/aimo-gateway/pkg/observability"
)

// SafeGo runs fn in a goroutine bounded by timeout. The task keeps the values
// of parentCtx (logger, request id) but not its cancellation, so work started
// by a handler survives the response being written. Errors and panics are
// logged, never propagated.
//
//	async.SafeGo(r.Context(), 5*time.Second, "touch wallet", func(ctx context.Context) error {
//		return store.TouchWallet(ctx, addr)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	Go(parentCtx, timeout, taskName, fn)
}

// Go is SafeGo returning a channel closed when the task finishes. Used where
// the caller needs to wait, such as tests and shutdown.
func Go(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
		defer cancel()

		logger := observability.GetLogger(ctx).WithField("task", taskName)
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warn("background task failed")
		}
	}()
	return done
}

// Batch applies fn to every item with at most workers running at once and
// returns every error, in no particular order. Each call gets its own timeout.
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			record(err)
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					record(fmt.Errorf("panic: %v", r))
				}
			}()

			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			if err := fn(taskCtx, item); err != nil {
				record(err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
