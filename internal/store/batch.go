package store

import (
	"context"
	"fmt"
)

// BatchLimit is the hard cap on operations committed atomically in one
// flush. It mirrors the bounded atomic-write limits of hosted document
// stores so batch sizing survives a storage backend swap.
const BatchLimit = 500

type batchOp struct {
	query string
	args  []interface{}
}

// WriteBatch queues write operations and commits them in bounded-size
// transactions. Adding past the limit flushes automatically, so callers
// can enqueue an unbounded stream of writes and still get incremental
// commits.
type WriteBatch struct {
	db        *Store
	limit     int
	ops       []batchOp
	committed int
}

// NewWriteBatch creates a WriteBatch with the default operation limit.
func (s *Store) NewWriteBatch() *WriteBatch {
	return &WriteBatch{db: s, limit: BatchLimit}
}

// Add enqueues a statement. When the queue reaches the batch limit it is
// flushed before the new statement is added.
func (b *WriteBatch) Add(ctx context.Context, query string, args ...interface{}) error {
	if len(b.ops) >= b.limit {
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}
	b.ops = append(b.ops, batchOp{query: query, args: args})
	return nil
}

// Flush commits all queued operations in a single transaction. A failed
// flush leaves previously committed batches in place; the queued
// operations are retained so the next periodic run can retry via
// idempotent re-sync.
func (b *WriteBatch) Flush(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}

	tx, err := b.db.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, op := range b.ops {
		if _, err := tx.ExecContext(ctx, op.query, op.args...); err != nil {
			return fmt.Errorf("batch exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	b.committed += len(b.ops)
	b.ops = b.ops[:0]
	return nil
}

// Committed reports how many operations have been committed so far.
func (b *WriteBatch) Committed() int {
	return b.committed
}

// Pending reports how many operations are queued but not yet committed.
func (b *WriteBatch) Pending() int {
	return len(b.ops)
}
