package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sliceReader(data []int, pageSize int) *ChunkedReader[int] {
	return NewChunkedReader(pageSize,
		func(ctx context.Context) (int, error) { return len(data), nil },
		func(ctx context.Context, limit, offset int) ([]int, error) {
			if offset >= len(data) {
				return nil, nil
			}
			end := offset + limit
			if end > len(data) {
				end = len(data)
			}
			return data[offset:end], nil
		},
	)
}

func TestChunkedReaderReadAll(t *testing.T) {
	data := []int{1, 2, 3, 4, 5}
	reader := sliceReader(data, 2)

	out, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestChunkedReaderPageCallbacks(t *testing.T) {
	data := []int{1, 2, 3, 4, 5}
	reader := sliceReader(data, 2)

	var pages int
	var lastDone, lastTotal int
	err := reader.ReadPages(context.Background(), func(rows []int, done, total int) error {
		pages++
		lastDone, lastTotal = done, total
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 3, pages)
	assert.Equal(t, 5, lastDone)
	assert.Equal(t, 5, lastTotal)
}

func TestChunkedReaderEmpty(t *testing.T) {
	reader := sliceReader(nil, 10)

	out, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestChunkedReaderStopsOnEmptyPage(t *testing.T) {
	// Count says 10 rows but pages dry up after 4, as happens when a
	// concurrent writer deletes rows mid-read.
	data := []int{1, 2, 3, 4}
	reader := NewChunkedReader(2,
		func(ctx context.Context) (int, error) { return 10, nil },
		func(ctx context.Context, limit, offset int) ([]int, error) {
			if offset >= len(data) {
				return nil, nil
			}
			end := offset + limit
			if end > len(data) {
				end = len(data)
			}
			return data[offset:end], nil
		},
	)

	out, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestChunkedReaderCountError(t *testing.T) {
	boom := errors.New("boom")
	reader := NewChunkedReader(2,
		func(ctx context.Context) (int, error) { return 0, boom },
		func(ctx context.Context, limit, offset int) ([]int, error) { return nil, nil },
	)

	_, err := reader.ReadAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestChunkedReaderPageError(t *testing.T) {
	boom := errors.New("boom")
	reader := NewChunkedReader(2,
		func(ctx context.Context) (int, error) { return 4, nil },
		func(ctx context.Context, limit, offset int) ([]int, error) {
			if offset == 2 {
				return nil, boom
			}
			return []int{1, 2}, nil
		},
	)

	_, err := reader.ReadAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "offset 2")
}

func TestChunkedReaderDefaultPageSize(t *testing.T) {
	reader := NewChunkedReader[int](0, nil, nil)
	assert.Equal(t, DefaultPageSize, reader.pageSize)
}
