package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/ledger"
	"github.com/shopspring/decimal"
)

// ErrCorruptBlob means a stored export no longer matches its digest.
var ErrCorruptBlob = errors.New("archive: blob does not match digest")

// HistorySource pages through a customer's ledger, newest first.
// progression.Service satisfies it.
type HistorySource interface {
	GetLedgerHistory(ctx context.Context, customerID, cursor string, limit int) (ledger.Page, error)
}

// Manifest describes one stored export.
type Manifest struct {
	CustomerID string          `json:"customer_id"`
	Digest     string          `json:"digest"`
	Entries    int             `json:"entries"`
	Balance    decimal.Decimal `json:"balance"`
	ExportedAt time.Time       `json:"exported_at"`
}

// Exporter writes ledger exports into a Store.
type Exporter struct {
	store    Store
	pageSize int
	clock    func() time.Time
	logger   *slog.Logger
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

func WithPageSize(n int) ExporterOption { return func(x *Exporter) { x.pageSize = n } }

func WithExportClock(clock func() time.Time) ExporterOption {
	return func(x *Exporter) { x.clock = clock }
}

// NewExporter returns an exporter that pages at ledger.MaxPageSize.
func NewExporter(store Store, opts ...ExporterOption) *Exporter {
	x := &Exporter{
		store:    store,
		pageSize: ledger.MaxPageSize,
		clock:    time.Now,
		logger:   slog.Default().With("component", "archive"),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Export stores the customer's full ledger as JSONL, oldest entry first.
// Every entry digest is verified before anything is written; a tampered row
// aborts the export with ledger.ErrDigestMismatch.
func (x *Exporter) Export(ctx context.Context, src HistorySource, customerID string) (Manifest, error) {
	var (
		entries []ledger.Entry
		cursor  string
	)
	for {
		page, err := src.GetLedgerHistory(ctx, customerID, cursor, x.pageSize)
		if err != nil {
			return Manifest{}, fmt.Errorf("export %s: %w", customerID, err)
		}
		for _, e := range page.Entries {
			if err := ledger.Verify(e); err != nil {
				return Manifest{}, fmt.Errorf("export %s: %w", customerID, err)
			}
		}
		entries = append(entries, page.Entries...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	slices.Reverse(entries)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	amounts := make([]decimal.Decimal, 0, len(entries))
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return Manifest{}, fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
		amounts = append(amounts, e.Amount)
	}

	digest, err := x.store.Put(ctx, buf.Bytes())
	if err != nil {
		return Manifest{}, fmt.Errorf("store export of %s: %w", customerID, err)
	}
	m := Manifest{
		CustomerID: customerID,
		Digest:     digest,
		Entries:    len(entries),
		Balance:    decimal.Sum(decimal.Zero, amounts...),
		ExportedAt: x.clock().UTC(),
	}
	x.logger.InfoContext(ctx, "ledger exported",
		"customer_id", customerID,
		"digest", digest,
		"entries", m.Entries,
		"balance", m.Balance.String(),
	)
	return m, nil
}

// Read loads an export and re-verifies the blob and every entry in it.
func (x *Exporter) Read(ctx context.Context, digest string) ([]ledger.Entry, error) {
	data, err := x.store.Get(ctx, digest)
	if err != nil {
		return nil, err
	}
	if got := Digest(data); got != digest {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrCorruptBlob, digest, got)
	}

	entries := []ledger.Entry{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; sc.Scan(); line++ {
		var e ledger.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := ledger.Verify(e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
