// Package ledger is the append-only SVT reward log.
//
//   - Entries are never updated or deleted
//   - A balance is always the sum of a customer's entries; nothing is cached
//   - At most one entry exists per (customer, reference, reset window)
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"
)

var (
	// ErrConstraintViolation is returned by a Store when an entry with the same
	// customer and dedupe key already exists. Ledger converts it to
	// *AlreadyRewardedError; it is never returned to Ledger callers.
	ErrConstraintViolation = errors.New("ledger: uniqueness constraint violated")
	ErrAlreadyRewarded     = errors.New("ledger: already rewarded")
	ErrNotFound            = errors.New("ledger: entry not found")
	ErrInvalidEntry        = errors.New("ledger: invalid entry")
	ErrInvalidCursor       = errors.New("ledger: invalid cursor")
	ErrDigestMismatch      = errors.New("ledger: digest mismatch")
)

// AlreadyRewardedError carries the entry that already rewards the reference.
type AlreadyRewardedError struct {
	Existing Entry
}

func (e *AlreadyRewardedError) Error() string {
	return fmt.Sprintf("ledger: %s already rewarded to %s by entry %s",
		e.Existing.DedupeKey(), e.Existing.CustomerID, e.Existing.ID)
}

func (e *AlreadyRewardedError) Is(target error) bool { return target == ErrAlreadyRewarded }

// RefKind tags what an entry rewards.
type RefKind string

const (
	RefMission     RefKind = "mission"
	RefAchievement RefKind = "achievement"
)

// Reference identifies the mission or achievement an entry rewards.
type Reference struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id"`
}

func MissionRef(id string) Reference     { return Reference{Kind: RefMission, ID: id} }
func AchievementRef(id string) Reference { return Reference{Kind: RefAchievement, ID: id} }

func (r Reference) String() string { return string(r.Kind) + ":" + r.ID }

// ParseReference parses the "kind:id" form produced by String.
func ParseReference(s string) (Reference, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Reference{}, fmt.Errorf("%w: reference %q", ErrInvalidEntry, s)
	}
	switch RefKind(kind) {
	case RefMission, RefAchievement:
		return Reference{Kind: RefKind(kind), ID: id}, nil
	}
	return Reference{}, fmt.Errorf("%w: reference kind %q", ErrInvalidEntry, kind)
}

// DedupeKey is the per-customer uniqueness key of a reward:
// "kind:id" for one-shot rewards and "kind:id@window" for repeatable ones.
func DedupeKey(ref Reference, window string) string {
	if window == "" {
		return ref.String()
	}
	return ref.String() + "@" + window
}

// Entry is an immutable reward transaction.
type Entry struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	Reference  Reference       `json:"reference"`
	Window     string          `json:"window,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
	Digest     string          `json:"digest"`
}

// DedupeKey returns the entry's uniqueness key.
func (e Entry) DedupeKey() string { return DedupeKey(e.Reference, e.Window) }

// ComputeDigest returns the SHA-256 of the entry's RFC 8785 canonical JSON,
// excluding the digest itself.
func ComputeDigest(e Entry) (string, error) {
	raw, err := json.Marshal(struct {
		ID         string `json:"id"`
		CustomerID string `json:"customer_id"`
		Reference  string `json:"reference"`
		Window     string `json:"window"`
		Amount     string `json:"amount"`
		CreatedAt  string `json:"created_at"`
	}{
		ID:         e.ID,
		CustomerID: e.CustomerID,
		Reference:  e.Reference.String(),
		Window:     e.Window,
		Amount:     e.Amount.String(),
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Verify recomputes the digest of e.
func Verify(e Entry) error {
	want, err := ComputeDigest(e)
	if err != nil {
		return err
	}
	if e.Digest != want {
		return fmt.Errorf("%w: entry %s", ErrDigestMismatch, e.ID)
	}
	return nil
}
