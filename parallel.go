package profilefs

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// maxLoadWorkers bounds the worker count accepted from settings
const maxLoadWorkers = 1024

// validateWorkers checks if the worker count is valid
func validateWorkers(n int) error {
	if n < 0 {
		return errors.New("load workers cannot be negative")
	}
	if n > maxLoadWorkers {
		return fmt.Errorf("load workers must not exceed %d", maxLoadWorkers)
	}
	return nil
}

// parallelMap runs fn for every item with at most workers goroutines and
// returns the results in input order. Panics in fn are converted to errors.
// If workers is 0, runtime.NumCPU() is used.
func parallelMap[In, Out any](ctx context.Context, workers int, items []In, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	out := make([]Out, len(items))
	if len(items) == 0 {
		return out, nil
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(items) {
		workers = len(items)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in load worker: %v", r)
				}
			}()
			res, err := fn(gctx, item)
			if err != nil {
				return err
			}
			out[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
