package load

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jonathan/marketsync/internal/db"
	"github.com/jonathan/marketsync/internal/types"
)

// fakeStore is an in-memory warehouse that interprets the loader's SQL by
// prefix. Transactions stage changes and publish them on commit, which is
// enough to observe rollback behavior.
type fakeStore struct {
	products map[string]types.Product
	stocks   []types.Stock
	sales    map[string]types.Sale

	// failCopyChunk makes the Nth CopyFrom call fail (1-based, 0 = never).
	failCopyChunk int
	// hideFromLookup omits these sale keys from existence lookups while the
	// insert still conflicts, simulating a racing writer.
	hideFromLookup map[string]bool

	begun     int
	committed int
	rolledIn  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products:       map[string]types.Product{},
		sales:          map[string]types.Sale{},
		hideFromLookup: map[string]bool{},
	}
}

func (s *fakeStore) Begin(ctx context.Context) (db.Tx, error) {
	s.begun++
	tx := &fakeTx{store: s, products: map[string]types.Product{}, sales: map[string]types.Sale{}}
	for k, v := range s.products {
		tx.products[k] = v
	}
	for k, v := range s.sales {
		tx.sales[k] = v
	}
	tx.stocks = append(tx.stocks, s.stocks...)
	return tx, nil
}

// Post-commit verification runs against committed state.
func (s *fakeStore) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, fmt.Errorf("unexpected Exec outside transaction: %s", sql)
}

func (s *fakeStore) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("unexpected Query outside transaction: %s", sql)
}

func (s *fakeStore) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, "COUNT(DISTINCT") {
		keys := args[0].([]string)
		n := 0
		for _, k := range keys {
			if s.hasKey(sql, k) {
				n++
			}
		}
		return fakeRow{vals: []any{n}}
	}
	return fakeRow{err: fmt.Errorf("unexpected QueryRow outside transaction: %s", sql)}
}

func (s *fakeStore) hasKey(sql, key string) bool {
	switch {
	case strings.Contains(sql, "FROM products"):
		_, ok := s.products[key]
		return ok
	case strings.Contains(sql, "FROM stocks"):
		for _, st := range s.stocks {
			if st.SKU == key {
				return true
			}
		}
		return false
	case strings.Contains(sql, "FROM sales"):
		for k := range s.sales {
			if strings.HasPrefix(k, key+"\x1f") {
				return true
			}
		}
		return false
	}
	return false
}

func (s *fakeStore) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	return 0, fmt.Errorf("unexpected CopyFrom outside transaction")
}

type fakeTx struct {
	store *fakeStore

	products map[string]types.Product
	stocks   []types.Stock
	sales    map[string]types.Sale

	copyCalls int
	done      bool
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.done = true
	t.store.committed++
	t.store.products = t.products
	t.store.stocks = t.stocks
	t.store.sales = t.sales
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.done {
		t.store.rolledIn++
		t.done = true
	}
	return nil
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.HasPrefix(sql, "DELETE FROM stocks"):
		n := len(t.stocks)
		t.stocks = nil
		return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", n)), nil

	case strings.Contains(sql, "INSERT INTO sales"):
		inserted := 0
		for i := 0; i+5 < len(args); i += 6 {
			sale := types.Sale{
				PostingNumber: args[i].(string),
				OfferID:       args[i+1].(string),
				Status:        args[i+2].(string),
				Quantity:      args[i+3].(int),
				Price:         args[i+4].(string),
			}
			if _, exists := t.sales[sale.NaturalKey()]; exists {
				continue
			}
			t.sales[sale.NaturalKey()] = sale
			inserted++
		}
		return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", inserted)), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("fakeTx: unhandled Exec: %s", sql)
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO products"):
		var data [][]any
		for i := 0; i+4 < len(args); i += 5 {
			incoming := types.Product{
				OfferID:  args[i].(string),
				Name:     args[i+1].(string),
				Barcode:  args[i+2].(string),
				Category: args[i+3].(string),
				Price:    args[i+4].(string),
			}
			current, exists := t.products[incoming.OfferID]
			if exists {
				t.products[incoming.OfferID] = mergeNonEmpty(current, incoming)
			} else {
				t.products[incoming.OfferID] = incoming
			}
			data = append(data, []any{!exists})
		}
		return &fakeRows{data: data}, nil

	case strings.Contains(sql, "FROM sales"):
		var data [][]any
		for i := 0; i+1 < len(args); i += 2 {
			key := args[i].(string) + "\x1f" + args[i+1].(string)
			if t.store.hideFromLookup[key] {
				continue
			}
			if _, ok := t.sales[key]; ok {
				data = append(data, []any{args[i], args[i+1]})
			}
		}
		return &fakeRows{data: data}, nil
	}
	return nil, fmt.Errorf("fakeTx: unhandled Query: %s", sql)
}

func mergeNonEmpty(current, incoming types.Product) types.Product {
	out := current
	if incoming.Name != "" {
		out.Name = incoming.Name
	}
	if incoming.Barcode != "" {
		out.Barcode = incoming.Barcode
	}
	if incoming.Category != "" {
		out.Category = incoming.Category
	}
	if incoming.Price != "" {
		out.Price = incoming.Price
	}
	return out
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if strings.Contains(sql, "COUNT(*) FROM stocks") {
		return fakeRow{vals: []any{len(t.stocks)}}
	}
	return fakeRow{err: fmt.Errorf("fakeTx: unhandled QueryRow: %s", sql)}
}

func (t *fakeTx) CopyFrom(ctx context.Context, table pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	t.copyCalls++
	if t.store.failCopyChunk > 0 && t.copyCalls == t.store.failCopyChunk {
		return 0, fmt.Errorf("simulated copy failure on chunk %d", t.copyCalls)
	}

	var n int64
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return n, err
		}
		t.stocks = append(t.stocks, types.Stock{
			SKU:       vals[0].(string),
			Warehouse: vals[1].(string),
			Present:   vals[2].(int),
			Reserved:  vals[3].(int),
			Available: vals[4].(int),
		})
		n++
	}
	return n, nil
}

// fakeRow implements pgx.Row.
type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assignAll(dest, r.vals)
}

// fakeRows implements pgx.Rows over canned values.
type fakeRows struct {
	data [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(dest ...any) error {
	return assignAll(dest, r.data[r.pos-1])
}
func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

func assignAll(dest, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan arity mismatch: %d dest, %d values", len(dest), len(vals))
	}
	for i, v := range vals {
		switch d := dest[i].(type) {
		case *bool:
			d2 := v.(bool)
			*d = d2
		case *int:
			*d = v.(int)
		case *string:
			*d = v.(string)
		default:
			return fmt.Errorf("unsupported scan destination %T", dest[i])
		}
	}
	return nil
}
