package pagination

import (
	"context"
	"errors"
	"fmt"
)

// ErrCursorRegression is returned when a source yields a page that would move the
// cursor backwards or repeat an identifier.
var ErrCursorRegression = errors.New("page keys are not strictly increasing")

// PageSource is the storage side of pagination. FetchPage returns at most pageSize
// records ordered ascending by key, all strictly after cursor.
type PageSource[T any] interface {
	FetchPage(ctx context.Context, pageSize int, cursor Cursor) ([]T, error)
}

// PageSourceFunc adapts a function to PageSource.
type PageSourceFunc[T any] func(ctx context.Context, pageSize int, cursor Cursor) ([]T, error)

// FetchPage calls f.
func (f PageSourceFunc[T]) FetchPage(ctx context.Context, pageSize int, cursor Cursor) ([]T, error) {
	return f(ctx, pageSize, cursor)
}

// Paginator walks a PageSource with an exclusive, monotonically advancing cursor.
type Paginator[T any] struct {
	source   PageSource[T]
	pageSize int
	key      func(T) int64
	cursor   Cursor
	pages    int
}

// New creates a paginator starting at the beginning of the source.
func New[T any](source PageSource[T], pageSize int, key func(T) int64) (*Paginator[T], error) {
	if source == nil {
		return nil, fmt.Errorf("page source is required")
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be > 0 (got %d)", pageSize)
	}
	if key == nil {
		return nil, fmt.Errorf("key func is required")
	}

	return &Paginator[T]{
		source:   source,
		pageSize: pageSize,
		key:      key,
		cursor:   Start(),
	}, nil
}

// Next fetches the page after the cursor and advances the cursor to its last key.
// An empty page means the source is exhausted; the cursor is left unchanged.
func (p *Paginator[T]) Next(ctx context.Context) ([]T, error) {
	page, err := p.source.FetchPage(ctx, p.pageSize, p.cursor)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d (%s): %w", p.pages+1, p.cursor, err)
	}
	if len(page) == 0 {
		return nil, nil
	}
	if len(page) > p.pageSize {
		return nil, fmt.Errorf("source returned %d records for page size %d", len(page), p.pageSize)
	}

	prev, hasPrev := p.cursor.ID()
	for i, rec := range page {
		k := p.key(rec)
		if hasPrev && k <= prev {
			return nil, fmt.Errorf("%w: record %d has key %d, previous %d", ErrCursorRegression, i, k, prev)
		}
		prev, hasPrev = k, true
	}

	p.cursor = After(prev)
	p.pages++

	return page, nil
}

// Cursor returns the current cursor.
func (p *Paginator[T]) Cursor() Cursor {
	return p.cursor
}

// Pages returns the number of non-empty pages consumed so far.
func (p *Paginator[T]) Pages() int {
	return p.pages
}
