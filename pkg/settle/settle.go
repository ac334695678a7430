// Package settle provides a "wait for all, collect fulfilled" join over concurrent calls.
//
// Unlike errgroup's first-error semantics, every call runs to completion and its outcome
// is reported individually, so one failure never cancels or hides its siblings.
package settle

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the tagged outcome of a single call.
type Result[T any] struct {
	// Index is the position of the call in the submitted batch.
	Index int
	Value T
	Err   error
}

// Fulfilled reports whether the call succeeded.
func (r Result[T]) Fulfilled() bool {
	return r.Err == nil
}

// All runs fn for every index in [0, n) concurrently and waits until each call has
// settled. Results are returned in index order. A limit <= 0 leaves concurrency
// bounded only by n.
func All[T any](ctx context.Context, n int, limit int, fn func(ctx context.Context, i int) (T, error)) []Result[T] {
	results := make([]Result[T], n)
	if n == 0 {
		return results
	}

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			v, err := fn(ctx, i)
			results[i] = Result[T]{Index: i, Value: v, Err: err}
			// Never propagate: a failed item must not short-circuit the join.
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Fulfilled returns the values of all successful results, preserving order.
func Fulfilled[T any](results []Result[T]) []T {
	out := make([]T, 0, len(results))
	for _, r := range results {
		if r.Fulfilled() {
			out = append(out, r.Value)
		}
	}
	return out
}

// CountFulfilled returns the number of successful results.
func CountFulfilled[T any](results []Result[T]) int {
	n := 0
	for _, r := range results {
		if r.Fulfilled() {
			n++
		}
	}
	return n
}
