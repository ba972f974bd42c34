// Package load applies validated records to the warehouse. Each load runs
// inside a single transaction: either the whole batch lands or none of it
// does, regardless of how many chunks it was split into.
package load

import (
	"context"
	"fmt"

	"github.com/jonathan/marketsync/internal/db"
	"github.com/jonathan/marketsync/internal/oblog"
)

// Store is the database surface the loader needs: transactions for the load
// itself and plain queries for post-commit verification.
type Store interface {
	db.Beginner
	db.Querier
}

// Result reports what one load did, for the run record and for monitoring.
type Result struct {
	Loaded       int
	Inserted     int
	Updated      int
	Skipped      int
	VerifiedRate float64
}

// Loader executes the three batch-load strategies.
type Loader struct {
	store     Store
	log       *oblog.Logger
	chunkSize int

	// verifySample bounds how many natural keys post-load verification
	// re-queries. It caps statement size, nothing else.
	verifySample int
}

// NewLoader constructs a Loader. chunkSize bounds statement size and must be
// positive; it has no correctness significance.
func NewLoader(store Store, chunkSize int, log *oblog.Logger) (*Loader, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	return &Loader{
		store:        store,
		log:          log,
		chunkSize:    chunkSize,
		verifySample: 500,
	}, nil
}

// withTx runs fn inside one transaction. fn reports chunks applied so far;
// that count annotates the error when the transaction aborts.
func (l *Loader) withTx(ctx context.Context, strategy string, fn func(tx db.Tx, chunksDone *int) error) error {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return &TxError{Strategy: strategy, Cause: err}
	}
	// No-op after a successful commit.
	defer tx.Rollback(ctx)

	var chunksDone int
	if err := fn(tx, &chunksDone); err != nil {
		return &TxError{Strategy: strategy, ChunksDone: chunksDone, Cause: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &TxError{Strategy: strategy, ChunksDone: chunksDone, Cause: err}
	}
	return nil
}

// chunks splits items into consecutive slices of at most size elements.
func chunks[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
