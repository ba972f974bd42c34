package load

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/marketsync/internal/db"
	"github.com/jonathan/marketsync/internal/types"
)

// InsertSales appends new posting lines, skipping composite keys already in
// the warehouse. Records racing past the existence lookup are absorbed by the
// final do-nothing-on-conflict insert, so a sale is never double-counted.
func (l *Loader) InsertSales(ctx context.Context, records []types.Sale) (*Result, error) {
	result := &Result{}
	if len(records) == 0 {
		result.VerifiedRate = 1
		return result, nil
	}

	err := l.withTx(ctx, "incremental-dedup", func(tx db.Tx, chunksDone *int) error {
		existing := make(map[string]bool, len(records))
		for _, chunk := range chunks(records, l.chunkSize) {
			if err := lookupExistingSales(ctx, tx, chunk, existing); err != nil {
				return err
			}
		}

		fresh := make([]types.Sale, 0, len(records))
		for _, r := range records {
			if existing[r.NaturalKey()] {
				result.Skipped++
				continue
			}
			fresh = append(fresh, r)
		}

		for _, chunk := range chunks(fresh, l.chunkSize) {
			inserted, err := insertSaleChunk(ctx, tx, chunk)
			if err != nil {
				return err
			}
			result.Inserted += inserted
			// Conflicts that slipped past the lookup count as skips.
			result.Skipped += len(chunk) - inserted
			*chunksDone++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Loaded = result.Inserted

	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.PostingNumber
	}
	result.VerifiedRate = l.verifyKeys(ctx, "sales", "posting_number", keys)

	l.log.Info("sales insert complete",
		"inserted", result.Inserted, "skipped", result.Skipped, "verified", fmt.Sprintf("%.3f", result.VerifiedRate))
	return result, nil
}

// lookupExistingSales marks the composite keys of chunk that are already
// stored, accumulating into existing.
func lookupExistingSales(ctx context.Context, tx db.Tx, chunk []types.Sale, existing map[string]bool) error {
	var sb strings.Builder
	args := make([]any, 0, len(chunk)*2)
	for i, r := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", i*2+1, i*2+2)
		args = append(args, r.PostingNumber, r.OfferID)
	}

	sql := fmt.Sprintf(
		`SELECT posting_number, offer_id FROM sales WHERE (posting_number, offer_id) IN (%s)`,
		sb.String())

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("sales existence lookup failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var posting, offer string
		if err := rows.Scan(&posting, &offer); err != nil {
			return fmt.Errorf("failed to scan existing sale key: %w", err)
		}
		existing[posting+"\x1f"+offer] = true
	}
	return rows.Err()
}

func insertSaleChunk(ctx context.Context, tx db.Tx, chunk []types.Sale) (int, error) {
	var sb strings.Builder
	args := make([]any, 0, len(chunk)*6)
	for i, r := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 6
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6)
		args = append(args, r.PostingNumber, r.OfferID, r.Status, r.Quantity, r.Price, r.CreatedAt)
	}

	sql := fmt.Sprintf(`INSERT INTO sales (posting_number, offer_id, status, quantity, price, created_at)
		VALUES %s
		ON CONFLICT (posting_number, offer_id) DO NOTHING`, sb.String())

	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("sales insert chunk failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
