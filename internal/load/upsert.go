package load

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/marketsync/internal/db"
	"github.com/jonathan/marketsync/internal/types"
)

// UpsertProducts merges catalog records by offer id. Non-empty incoming
// attributes overwrite stored values; empty ones preserve what is already
// there. Insert and update counts are reported separately.
func (l *Loader) UpsertProducts(ctx context.Context, records []types.Product) (*Result, error) {
	result := &Result{}
	if len(records) == 0 {
		result.VerifiedRate = 1
		return result, nil
	}

	err := l.withTx(ctx, "upsert", func(tx db.Tx, chunksDone *int) error {
		for _, chunk := range chunks(records, l.chunkSize) {
			inserted, updated, err := upsertProductChunk(ctx, tx, chunk)
			if err != nil {
				return err
			}
			result.Inserted += inserted
			result.Updated += updated
			*chunksDone++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Loaded = result.Inserted + result.Updated

	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.OfferID
	}
	result.VerifiedRate = l.verifyKeys(ctx, "products", "offer_id", keys)

	l.log.Info("catalog upsert complete",
		"inserted", result.Inserted, "updated", result.Updated, "verified", fmt.Sprintf("%.3f", result.VerifiedRate))
	return result, nil
}

// upsertProductChunk applies one multi-row upsert. The (xmax = 0) trick
// distinguishes fresh inserts from conflict updates in a single statement.
func upsertProductChunk(ctx context.Context, tx db.Tx, chunk []types.Product) (inserted, updated int, err error) {
	var sb strings.Builder
	args := make([]any, 0, len(chunk)*5)
	for i, p := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, p.OfferID, p.Name, p.Barcode, p.Category, p.Price)
	}

	sql := fmt.Sprintf(`INSERT INTO products (offer_id, name, barcode, category, price)
		VALUES %s
		ON CONFLICT (offer_id) DO UPDATE SET
		  name     = COALESCE(NULLIF(EXCLUDED.name, ''), products.name),
		  barcode  = COALESCE(NULLIF(EXCLUDED.barcode, ''), products.barcode),
		  category = COALESCE(NULLIF(EXCLUDED.category, ''), products.category),
		  price    = COALESCE(NULLIF(EXCLUDED.price, ''), products.price),
		  updated_at = NOW()
		RETURNING (xmax = 0)`, sb.String())

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return 0, 0, fmt.Errorf("product upsert chunk failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fresh bool
		if err := rows.Scan(&fresh); err != nil {
			return 0, 0, fmt.Errorf("failed to scan upsert result: %w", err)
		}
		if fresh {
			inserted++
		} else {
			updated++
		}
	}
	return inserted, updated, rows.Err()
}
