package stats_test

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Mindburn-Labs/progression/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProvider(t *testing.T) {
	p := stats.NewMemoryProvider()
	p.Set("cust-1", stats.MustSnapshot(map[stats.Key]any{stats.Flights: 4}))

	snap, err := p.GetStats(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.True(t, snap.Has(stats.Flights))

	_, err = p.GetStats(context.Background(), "nobody")
	assert.ErrorIs(t, err, stats.ErrCustomerNotFound)
}

func TestMemoryProvider_CancelledContext(t *testing.T) {
	p := stats.NewMemoryProvider()
	p.Set("cust-1", stats.MustSnapshot(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.GetStats(ctx, "cust-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseFixture(t *testing.T) {
	p, err := stats.Parse([]byte(`
customers:
  cust-1:
    days_since_signup: 12
    flights: 3
    profile_completed: true
`))
	require.NoError(t, err)

	snap, err := p.GetStats(context.Background(), "cust-1")
	require.NoError(t, err)
	days, _ := snap.Number(stats.DaysSinceSignup)
	assert.Equal(t, 12.0, days)
}

func TestParseFixture_UnknownKey(t *testing.T) {
	_, err := stats.Parse([]byte(`
customers:
  cust-1:
    flightz: 3
`))
	assert.ErrorIs(t, err, stats.ErrUnknownStat)
}

func TestMemoryProvider_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.yaml")
	require.NoError(t, os.WriteFile(path, []byte("customers:\n  c1:\n    flights: 1\n"), 0o600))

	p, err := stats.LoadFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("customers:\n  c1:\n    flights: 5\n"), 0o600))
	require.NoError(t, p.Reload(context.Background(), path))

	snap, err := p.GetStats(context.Background(), "c1")
	require.NoError(t, err)
	v, _ := snap.Number(stats.Flights)
	assert.Equal(t, 5.0, v)

	require.NoError(t, os.WriteFile(path, []byte("customers:\n  c1:\n    bogus: 5\n"), 0o600))
	assert.Error(t, p.Reload(context.Background(), path))
	snap, err = p.GetStats(context.Background(), "c1")
	require.NoError(t, err)
	v, _ = snap.Number(stats.Flights)
	assert.Equal(t, 5.0, v, "failed reload keeps previous snapshots")
}

func TestRateLimited_RespectsDeadline(t *testing.T) {
	inner := stats.NewMemoryProvider()
	inner.Set("c1", stats.MustSnapshot(nil))

	// One token per minute, burst 1: the second call cannot be served in time.
	p := stats.RateLimited(inner, 1.0/60, 1)

	_, err := p.GetStats(context.Background(), "c1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.GetStats(ctx, "c1")
	assert.Error(t, err)
}

func TestSQLProvider_GetStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"stat_key", "stat_value"}).
		AddRow("flights", "6").
		AddRow("kyc_verified", "true")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT stat_key, stat_value FROM customer_stats WHERE customer_id = $1")).
		WithArgs("cust-1").
		WillReturnRows(rows)

	snap, err := stats.NewSQLProvider(db).GetStats(context.Background(), "cust-1")
	require.NoError(t, err)
	flights, _ := snap.Number(stats.Flights)
	kyc, _ := snap.Bool(stats.KYCVerified)
	assert.Equal(t, 6.0, flights)
	assert.True(t, kyc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLProvider_NoRowsIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT stat_key")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"stat_key", "stat_value"}))

	_, err = stats.NewSQLProvider(db).GetStats(context.Background(), "ghost")
	assert.ErrorIs(t, err, stats.ErrCustomerNotFound)
}

func TestSQLProvider_BadStoredValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT stat_key")).
		WithArgs("cust-1").
		WillReturnRows(sqlmock.NewRows([]string{"stat_key", "stat_value"}).AddRow("flights", "six"))

	_, err = stats.NewSQLProvider(db).GetStats(context.Background(), "cust-1")
	assert.Error(t, err)
}

func TestSQLProvider_Put(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO customer_stats")).
		WithArgs("cust-1", "balance", "50000000").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = stats.NewSQLProvider(db).Put(context.Background(), "cust-1", stats.Balance, stats.Number(50_000_000))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLProvider_Import(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	src := stats.NewMemoryProvider()
	src.Set("cust-2", stats.MustSnapshot(map[stats.Key]any{stats.Flights: 3}))
	src.Set("cust-1", stats.MustSnapshot(map[stats.Key]any{stats.Balance: 10, stats.KYCVerified: true}))
	assert.Equal(t, []string{"cust-1", "cust-2"}, src.Customers())

	insert := regexp.QuoteMeta("INSERT INTO customer_stats")
	mock.ExpectExec(insert).WithArgs("cust-1", "balance", "10").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insert).WithArgs("cust-1", "kyc_verified", "true").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(insert).WithArgs("cust-2", "flights", "3").WillReturnResult(sqlmock.NewResult(1, 1))

	n, err := stats.NewSQLProvider(db).Import(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
