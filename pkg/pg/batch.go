package pg

import (
	"context"
)

// MaxBatchWrites bounds the number of writes committed in one transaction.
const MaxBatchWrites = 500

// Transactor runs fn inside one transaction carried by ctx.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// BatchFailure describes a chunk whose transaction was rolled back.
type BatchFailure struct {
	Offset int
	Size   int
	Err    error
}

// Chunk splits items into consecutive slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || size > MaxBatchWrites {
		size = MaxBatchWrites
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// InBatches commits items in sequential transactions of at most size writes.
// A failed chunk is rolled back on its own and reported; later chunks still run.
// Context cancellation stops before the next chunk starts.
func InBatches[T any](ctx context.Context, db Transactor, items []T, size int, fn func(ctx context.Context, chunk []T) error) []BatchFailure {
	var failures []BatchFailure
	offset := 0
	for _, chunk := range Chunk(items, size) {
		if err := ctx.Err(); err != nil {
			failures = append(failures, BatchFailure{Offset: offset, Size: len(items) - offset, Err: err})
			return failures
		}
		err := db.WithinTransaction(ctx, func(ctx context.Context) error {
			return fn(ctx, chunk)
		})
		if err != nil {
			failures = append(failures, BatchFailure{Offset: offset, Size: len(chunk), Err: err})
		}
		offset += len(chunk)
	}
	return failures
}
