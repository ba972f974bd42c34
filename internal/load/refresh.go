package load

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/marketsync/internal/db"
	"github.com/jonathan/marketsync/internal/types"
)

// RefreshStocks replaces the stocks table with a new snapshot. Clear and
// reload happen in one transaction, so a failed refresh leaves the previous
// snapshot fully intact; the table is never observed empty or partial.
//
// minRatio > 0 arms the shrink guard: the refresh aborts when the new
// snapshot holds fewer than minRatio * oldCount rows, since a sharp drop
// usually means a truncated upstream report.
func (l *Loader) RefreshStocks(ctx context.Context, records []types.Stock, minRatio float64) (*Result, error) {
	result := &Result{}

	err := l.withTx(ctx, "full-refresh", func(tx db.Tx, chunksDone *int) error {
		var oldCount int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM stocks`).Scan(&oldCount); err != nil {
			return fmt.Errorf("failed to count existing stocks: %w", err)
		}

		if minRatio > 0 && oldCount > 0 && float64(len(records)) < minRatio*float64(oldCount) {
			return &RefreshGuardError{OldCount: oldCount, NewCount: len(records), MinRatio: minRatio}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM stocks`); err != nil {
			return fmt.Errorf("failed to clear stocks: %w", err)
		}
		l.log.Info("stocks cleared for refresh", "old_rows", oldCount, "new_rows", len(records))

		columns := []string{"sku", "warehouse", "present", "reserved", "available"}
		for _, chunk := range chunks(records, l.chunkSize) {
			copyRows := make([][]any, len(chunk))
			for i, s := range chunk {
				copyRows[i] = []any{s.SKU, s.Warehouse, s.Present, s.Reserved, s.Available}
			}
			n, err := tx.CopyFrom(ctx, pgx.Identifier{"stocks"}, columns, pgx.CopyFromRows(copyRows))
			if err != nil {
				return fmt.Errorf("stock snapshot chunk failed: %w", err)
			}
			if int(n) != len(chunk) {
				return fmt.Errorf("stock snapshot chunk short write: copied %d of %d rows", n, len(chunk))
			}
			result.Inserted += int(n)
			*chunksDone++
		}
		return nil
	})
	if err != nil {
		result.Inserted = 0
		return nil, err
	}
	result.Loaded = result.Inserted

	keys := make([]string, len(records))
	for i, s := range records {
		keys[i] = s.SKU
	}
	result.VerifiedRate = l.verifyKeys(ctx, "stocks", "sku", keys)

	l.log.Info("stock refresh complete", "rows", result.Loaded, "verified", fmt.Sprintf("%.3f", result.VerifiedRate))
	return result, nil
}
