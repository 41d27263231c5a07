package stats

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// SQLProvider reads snapshots from a key/value table maintained by the
// banking side:
//
//	customer_stats(customer_id TEXT, stat_key TEXT, stat_value TEXT)
//
// Numeric values are stored as decimal text, booleans as "true"/"false".
// A customer with no rows is reported as ErrCustomerNotFound.
type SQLProvider struct {
	db *sql.DB
}

func NewSQLProvider(db *sql.DB) *SQLProvider {
	return &SQLProvider{db: db}
}

const statsSchema = `
CREATE TABLE IF NOT EXISTS customer_stats (
	customer_id TEXT NOT NULL,
	stat_key TEXT NOT NULL,
	stat_value TEXT NOT NULL,
	PRIMARY KEY (customer_id, stat_key)
);
`

// Init creates the backing table if it does not exist.
func (p *SQLProvider) Init(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, statsSchema)
	return err
}

// Put upserts a single stat. Used by loaders and tests; the engine only reads.
func (p *SQLProvider) Put(ctx context.Context, customerID string, k Key, v Value) error {
	var text string
	switch v.Kind() {
	case KindBool:
		text = strconv.FormatBool(v.b)
	case KindNumber:
		text = strconv.FormatFloat(v.num, 'f', -1, 64)
	default:
		return fmt.Errorf("%w: %q has no kind", ErrStatKind, k)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO customer_stats (customer_id, stat_key, stat_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, stat_key) DO UPDATE SET stat_value = EXCLUDED.stat_value
	`, customerID, string(k), text)
	if err != nil {
		return fmt.Errorf("put stat: %w", err)
	}
	return nil
}

// Import copies every snapshot of src into the table and returns the number
// of customers written.
func (p *SQLProvider) Import(ctx context.Context, src *MemoryProvider) (int, error) {
	ids := src.Customers()
	for _, id := range ids {
		snap, err := src.GetStats(ctx, id)
		if err != nil {
			return 0, err
		}
		for _, k := range snap.Keys() {
			v, err := snap.Get(k)
			if err != nil {
				return 0, err
			}
			if err := p.Put(ctx, id, k, v); err != nil {
				return 0, fmt.Errorf("customer %q: %w", id, err)
			}
		}
	}
	return len(ids), nil
}

func (p *SQLProvider) GetStats(ctx context.Context, customerID string) (Snapshot, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT stat_key, stat_value FROM customer_stats WHERE customer_id = $1", customerID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	values := make(map[Key]any)
	for rows.Next() {
		var key, text string
		if err := rows.Scan(&key, &text); err != nil {
			return Snapshot{}, fmt.Errorf("scan stat: %w", err)
		}
		def, ok := Lookup(Key(key))
		if !ok {
			return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownStat, key)
		}
		v, err := parseStored(def, text)
		if err != nil {
			return Snapshot{}, err
		}
		values[def.Key] = v
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}
	if len(values) == 0 {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	return NewSnapshot(values)
}

func parseStored(def Definition, text string) (Value, error) {
	switch def.Kind {
	case KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("stat %q: %w", def.Key, err)
		}
		return Bool(b), nil
	default:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("stat %q: %w", def.Key, err)
		}
		return Number(f), nil
	}
}
