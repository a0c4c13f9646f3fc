package storage

import (
	"context"
	"fmt"
)

// DefaultPageSize bounds every chunked ledger read.
const DefaultPageSize = 1000

// CountFunc returns the total number of rows matching a filter.
type CountFunc func(ctx context.Context) (int, error)

// PageFunc returns one bounded page of rows at the given offset.
type PageFunc[T any] func(ctx context.Context, limit, offset int) ([]T, error)

// ChunkedReader pages through a large result set without ever issuing
// an unbounded query: it counts matching rows once, then reads fixed
// size pages until the count observed at the start is exhausted. Rows
// inserted by concurrent writers during the read may be missed by this
// pass; the next recalculation over the same range picks them up.
type ChunkedReader[T any] struct {
	pageSize int
	count    CountFunc
	page     PageFunc[T]
}

// NewChunkedReader creates a reader with the given page size. A
// non-positive page size falls back to DefaultPageSize.
func NewChunkedReader[T any](pageSize int, count CountFunc, page PageFunc[T]) *ChunkedReader[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &ChunkedReader[T]{pageSize: pageSize, count: count, page: page}
}

// ReadAll returns every matching row. A storage error on any page
// aborts the read and is surfaced to the caller.
func (r *ChunkedReader[T]) ReadAll(ctx context.Context) ([]T, error) {
	var out []T
	err := r.ReadPages(ctx, func(rows []T, done, total int) error {
		if out == nil {
			out = make([]T, 0, total)
		}
		out = append(out, rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadPages invokes fn once per page with the rows read so far and the
// total observed at the start. An error from fn or from a page read
// aborts the walk.
func (r *ChunkedReader[T]) ReadPages(ctx context.Context, fn func(rows []T, done, total int) error) error {
	total, err := r.count(ctx)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}

	done := 0
	for offset := 0; offset < total; offset += r.pageSize {
		rows, err := r.page(ctx, r.pageSize, offset)
		if err != nil {
			return fmt.Errorf("read page at offset %d: %w", offset, err)
		}
		if len(rows) == 0 {
			// Concurrent deletes shrank the set below the initial count.
			return nil
		}
		done += len(rows)
		if err := fn(rows, done, total); err != nil {
			return err
		}
	}
	return nil
}
