package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/state"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Position is a keyset position in a customer's history. Entries are ordered
// by (CreatedAt, ID) descending.
type Position struct {
	CreatedAt time.Time
	ID        string
}

// Store persists entries. Implementations must enforce uniqueness of
// (CustomerID, DedupeKey) atomically and report a clash as ErrConstraintViolation.
type Store interface {
	// Insert persists e. When change is non-nil it is committed in the same
	// transaction; if either write fails neither is visible.
	Insert(ctx context.Context, e Entry, change *state.Change) error
	// FindByDedupeKey returns ErrNotFound when no entry matches.
	FindByDedupeKey(ctx context.Context, customerID, dedupeKey string) (Entry, error)
	// Amounts returns the amount of every entry of the customer.
	Amounts(ctx context.Context, customerID string) ([]decimal.Decimal, error)
	// Page returns at most limit entries strictly after pos (nil = newest first).
	Page(ctx context.Context, customerID string, after *Position, limit int) ([]Entry, error)
}

// Page is one slice of a customer's history, most recent first.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Ledger is the reward log façade over a Store.
type Ledger struct {
	store Store
	clock func() time.Time
	newID func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used to stamp entries.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithIDGenerator overrides entry id generation.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// New creates a ledger backed by store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		clock: time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records a reward. window is the reset window of a repeatable
// mission, empty otherwise. If the customer was already rewarded for
// (ref, window) nothing is written and *AlreadyRewardedError is returned.
func (l *Ledger) Append(ctx context.Context, customerID string, ref Reference, window string, amount decimal.Decimal, change *state.Change) (Entry, error) {
	if customerID == "" {
		return Entry{}, fmt.Errorf("%w: empty customer id", ErrInvalidEntry)
	}
	if ref.ID == "" || (ref.Kind != RefMission && ref.Kind != RefAchievement) {
		return Entry{}, fmt.Errorf("%w: reference %q", ErrInvalidEntry, ref.String())
	}
	if amount.IsZero() {
		return Entry{}, fmt.Errorf("%w: zero amount for %s", ErrInvalidEntry, ref)
	}

	e := Entry{
		ID:         l.newID(),
		CustomerID: customerID,
		Reference:  ref,
		Window:     window,
		Amount:     amount,
		CreatedAt:  l.clock().UTC(),
	}
	digest, err := ComputeDigest(e)
	if err != nil {
		return Entry{}, err
	}
	e.Digest = digest

	if err := l.store.Insert(ctx, e, change); err != nil {
		if !errors.Is(err, ErrConstraintViolation) {
			return Entry{}, fmt.Errorf("append %s for %s: %w", e.DedupeKey(), customerID, err)
		}
		existing, ferr := l.store.FindByDedupeKey(ctx, customerID, e.DedupeKey())
		if ferr != nil {
			return Entry{}, fmt.Errorf("load existing %s for %s: %w", e.DedupeKey(), customerID, ferr)
		}
		return Entry{}, &AlreadyRewardedError{Existing: existing}
	}
	return e, nil
}

// Lookup returns the entry rewarding (ref, window), or ErrNotFound.
func (l *Ledger) Lookup(ctx context.Context, customerID string, ref Reference, window string) (Entry, error) {
	return l.store.FindByDedupeKey(ctx, customerID, DedupeKey(ref, window))
}

// Balance sums every entry of the customer. An unknown customer has balance zero.
func (l *Ledger) Balance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	amounts, err := l.store.Amounts(ctx, customerID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance for %s: %w", customerID, err)
	}
	return decimal.Sum(decimal.Zero, amounts...), nil
}

// History returns a page of entries, most recent first. An empty cursor starts
// at the newest entry; limit <= 0 means DefaultPageSize and is capped at
// MaxPageSize.
func (l *Ledger) History(ctx context.Context, customerID, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	entries, err := l.store.Page(ctx, customerID, after, limit+1)
	if err != nil {
		return Page{}, fmt.Errorf("history for %s: %w", customerID, err)
	}
	page := Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		last := page.Entries[limit-1]
		page.NextCursor = EncodeCursor(Position{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	if page.Entries == nil {
		page.Entries = []Entry{}
	}
	return page, nil
}

type cursorWire struct {
	T int64  `json:"t"`
	I string `json:"i"`
}

// EncodeCursor returns the opaque form of pos.
func EncodeCursor(pos Position) string {
	raw, _ := json.Marshal(cursorWire{T: pos.CreatedAt.UnixNano(), I: pos.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a cursor from EncodeCursor. The empty cursor is nil.
func DecodeCursor(cursor string) (*Position, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var w cursorWire
	if err := json.Unmarshal(raw, &w); err != nil || w.I == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return &Position{CreatedAt: time.Unix(0, w.T).UTC(), ID: w.I}, nil
}

// Follows reports whether e comes strictly after pos in newest-first order.
func (pos Position) Follows(e Entry) bool {
	if !e.CreatedAt.Equal(pos.CreatedAt) {
		return e.CreatedAt.Before(pos.CreatedAt)
	}
	return e.ID < pos.ID
}
