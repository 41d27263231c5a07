package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/ledger"
	"github.com/Mindburn-Labs/progression/pkg/state"
	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (lite mode)
)

// timeLayout is fixed width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQL implements ledger.Store and the orchestrator's state store using
// database/sql. It supports both Postgres and SQLite.
type SQL struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db, logger: slog.Default().With("component", "store")}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		dedupe_key TEXT NOT NULL,
		ref_kind TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		reset_window TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		digest TEXT NOT NULL,
		UNIQUE (customer_id, dedupe_key)
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_history
		ON ledger_entries (customer_id, created_at, id)`,
	`CREATE TABLE IF NOT EXISTS progression_changes (
		customer_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		ref_id TEXT NOT NULL,
		reset_window TEXT NOT NULL DEFAULT '',
		changed_at TEXT NOT NULL,
		PRIMARY KEY (customer_id, kind, ref_id, reset_window)
	)`,
}

// Init creates the tables if they do not exist.
func (s *SQL) Init(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	s.logger.DebugContext(ctx, "schema ready", "statements", len(migrations))
	return nil
}

// OpenSQLite opens (creating if needed) a SQLite database at path and
// migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions serial.
	db.SetMaxOpenConns(1)

	s := NewSQL(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init sqlite store: %w", err)
	}
	s.logger.InfoContext(ctx, "lite mode: using sqlite", "path", path)
	return s, nil
}

// OpenPostgres connects to dsn and migrates the database.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	s := NewSQL(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init postgres store: %w", err)
	}
	return s, nil
}

// DB exposes the handle so collaborators (the SQL stats provider) can share it.
func (s *SQL) DB() *sql.DB { return s.db }

func (s *SQL) Close() error { return s.db.Close() }

const insertEntry = `
	INSERT INTO ledger_entries (id, customer_id, dedupe_key, ref_kind, ref_id, reset_window, amount, created_at, digest)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (customer_id, dedupe_key) DO NOTHING
`

const insertChange = `
	INSERT INTO progression_changes (customer_id, kind, ref_id, reset_window, changed_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (customer_id, kind, ref_id, reset_window) DO NOTHING
`

// Insert writes the entry and the optional change in one transaction.
func (s *SQL) Insert(ctx context.Context, e ledger.Entry, change *state.Change) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, insertEntry,
		e.ID, e.CustomerID, e.DedupeKey(), string(e.Reference.Kind), e.Reference.ID, e.Window,
		e.Amount.String(), formatTime(e.CreatedAt), e.Digest,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return ledger.ErrConstraintViolation
	}

	if change != nil {
		if _, err = tx.ExecContext(ctx, insertChange,
			e.CustomerID, string(change.Kind), change.RefID, change.Window, formatTime(change.At),
		); err != nil {
			return fmt.Errorf("failed to insert change: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const entryColumns = `id, customer_id, ref_kind, ref_id, reset_window, amount, created_at, digest`

func (s *SQL) FindByDedupeKey(ctx context.Context, customerID, dedupeKey string) (ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE customer_id = $1 AND dedupe_key = $2`,
		customerID, dedupeKey)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return e, err
}

func (s *SQL) Amounts(ctx context.Context, customerID string) ([]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT amount FROM ledger_entries WHERE customer_id = $1`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query amounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]decimal.Decimal, 0)
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(text)
		if err != nil {
			return nil, fmt.Errorf("stored amount %q: %w", text, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQL) Page(ctx context.Context, customerID string, after *ledger.Position, limit int) ([]ledger.Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+entryColumns+` FROM ledger_entries
			WHERE customer_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, customerID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+entryColumns+` FROM ledger_entries
			WHERE customer_id = $1 AND (created_at < $2 OR (created_at = $2 AND id < $3))
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, customerID, formatTime(after.CreatedAt), after.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]ledger.Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadState replays the customer's recorded changes in time order.
func (s *SQL) LoadState(ctx context.Context, customerID string) (*state.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, ref_id, reset_window, changed_at FROM progression_changes
		WHERE customer_id = $1
		ORDER BY changed_at, reset_window`, customerID)
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	st := state.New(customerID)
	for rows.Next() {
		var kind, refID, window, at string
		if err := rows.Scan(&kind, &refID, &window, &at); err != nil {
			return nil, err
		}
		t, err := parseTime(at)
		if err != nil {
			return nil, err
		}
		if err := st.Apply(state.Change{Kind: state.ChangeKind(kind), RefID: refID, Window: window, At: t}); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return st, nil
}

// SaveChange records a change that has no ledger entry, such as a mission start.
func (s *SQL) SaveChange(ctx context.Context, ch state.Change) error {
	if _, err := s.db.ExecContext(ctx, insertChange,
		ch.CustomerID, string(ch.Kind), ch.RefID, ch.Window, formatTime(ch.At),
	); err != nil {
		return fmt.Errorf("failed to insert change: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (ledger.Entry, error) {
	var (
		e                   ledger.Entry
		kind, amount, ctime string
	)
	if err := row.Scan(&e.ID, &e.CustomerID, &kind, &e.Reference.ID, &e.Window, &amount, &ctime, &e.Digest); err != nil {
		return ledger.Entry{}, err
	}
	e.Reference.Kind = ledger.RefKind(kind)
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("stored amount %q: %w", amount, err)
	}
	e.Amount = d
	if e.CreatedAt, err = parseTime(ctime); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}
