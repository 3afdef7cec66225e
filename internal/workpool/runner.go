// Package workpool runs a batch of independent jobs with bounded concurrency.
package workpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one item. Exactly one of Value or Err is meaningful.
type Result[R any] struct {
	Value R
	Err   error
}

// Run applies fn to every item with at most limit calls in flight and waits
// for all of them. Results are in input order. A failing or panicking item
// only fills its own slot; the rest of the batch keeps going.
func Run[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) []Result[R] {
	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}
	if limit < 1 {
		limit = 1
	}

	var eg errgroup.Group
	eg.SetLimit(limit)
	for i, item := range items {
		eg.Go(func() error {
			results[i] = call(ctx, item, fn)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

func call[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (res Result[R]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[R]{Err: fmt.Errorf("workpool: panic: %v", r)}
		}
	}()
	v, err := fn(ctx, item)
	return Result[R]{Value: v, Err: err}
}
