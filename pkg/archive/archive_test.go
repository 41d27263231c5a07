package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/ledger"
	"github.com/Mindburn-Labs/progression/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func ticker() func() time.Time {
	t := t0
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// ledgerSource exposes a bare ledger as a HistorySource.
type ledgerSource struct{ l *ledger.Ledger }

func (s ledgerSource) GetLedgerHistory(ctx context.Context, customerID, cursor string, limit int) (ledger.Page, error) {
	return s.l.History(ctx, customerID, cursor, limit)
}

func seed(t *testing.T, n int) *ledger.Ledger {
	t.Helper()
	l := ledger.New(store.NewMemory(), ledger.WithClock(ticker()))
	for i := range n {
		_, err := l.Append(context.Background(), "c1", ledger.MissionRef(fmt.Sprintf("M%d", i)), "", decimal.NewFromInt(int64(10*(i+1))), nil)
		require.NoError(t, err)
	}
	return l
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	data := []byte("{\"id\":\"e1\"}\n")
	digest, err := s.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, Digest(data), digest)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, digest)

	again, err := s.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, digest, again)

	ok, err := s.Exists(ctx, digest)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	missing := Digest([]byte("other"))
	ok, err = s.Exists(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Get(ctx, missing)
	assert.ErrorIs(t, err, ErrBlobNotFound)

	_, err = s.Get(ctx, "md5:abc")
	assert.Error(t, err)
	_, err = s.Get(ctx, "sha256:../../etc/passwd")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, "", dir)
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok, "got %T", s)
	assert.Equal(t, filepath.Join(dir, "archive"), fs.baseDir)

	s, err = Open(ctx, "file://"+filepath.Join(dir, "x"), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "x"), s.(*FileStore).baseDir)

	s, err = Open(ctx, filepath.Join(dir, "bare"), dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bare"), s.(*FileStore).baseDir)

	_, err = Open(ctx, "s3:///ledger", dir)
	assert.ErrorContains(t, err, "bucket is required")

	_, err = Open(ctx, "ftp://host/path", dir)
	assert.ErrorContains(t, err, "unsupported scheme")
}

func TestKeyPrefix(t *testing.T) {
	assert.Equal(t, "", keyPrefix(""))
	assert.Equal(t, "", keyPrefix("/"))
	assert.Equal(t, "ledger/", keyPrefix("/ledger"))
	assert.Equal(t, "a/b/", keyPrefix("/a/b/"))
}

func TestExport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	l := seed(t, 7)
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	x := NewExporter(fs, WithPageSize(3), WithExportClock(func() time.Time { return t0.Add(time.Hour) }))

	m, err := x.Export(ctx, ledgerSource{l}, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", m.CustomerID)
	assert.Equal(t, 7, m.Entries)
	assert.Equal(t, "280", m.Balance.String())
	assert.Equal(t, t0.Add(time.Hour), m.ExportedAt)

	entries, err := x.Read(ctx, m.Digest)
	require.NoError(t, err)
	require.Len(t, entries, 7)
	assert.Equal(t, "M0", entries[0].Reference.ID, "oldest first")
	assert.Equal(t, "M6", entries[6].Reference.ID)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].CreatedAt.Before(entries[i].CreatedAt))
	}

	// Same ledger, same bytes.
	again, err := x.Export(ctx, ledgerSource{l}, "c1")
	require.NoError(t, err)
	assert.Equal(t, m.Digest, again.Digest)
}

func TestExport_EmptyLedger(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	x := NewExporter(fs)

	m, err := x.Export(ctx, ledgerSource{seed(t, 0)}, "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, m.Entries)
	assert.True(t, m.Balance.IsZero())

	entries, err := x.Read(ctx, m.Digest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// tamperedSource inflates the first entry's amount without fixing its digest.
type tamperedSource struct{ ledgerSource }

func (s tamperedSource) GetLedgerHistory(ctx context.Context, customerID, cursor string, limit int) (ledger.Page, error) {
	page, err := s.ledgerSource.GetLedgerHistory(ctx, customerID, cursor, limit)
	if err == nil && len(page.Entries) > 0 {
		page.Entries[0].Amount = decimal.NewFromInt(1_000_000)
	}
	return page, err
}

func TestExport_RejectsTamperedEntry(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = NewExporter(fs).Export(context.Background(), tamperedSource{ledgerSource{seed(t, 2)}}, "c1")
	assert.ErrorIs(t, err, ledger.ErrDigestMismatch)
}

func TestRead_DetectsCorruptBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	x := NewExporter(fs)

	m, err := x.Export(ctx, ledgerSource{seed(t, 2)}, "c1")
	require.NoError(t, err)

	raw, err := rawHex(m.Digest)
	require.NoError(t, err)
	path := filepath.Join(dir, objectKey("", raw))
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	_, err = x.Read(ctx, m.Digest)
	assert.ErrorIs(t, err, ErrCorruptBlob)
}
