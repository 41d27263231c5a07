// Package store persists ledger entries and customer progression state.
//
// Memory is the in-process implementation used by tests and single-shot
// tooling. SQL works against SQLite (lite mode) and Postgres.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/progression/pkg/ledger"
	"github.com/Mindburn-Labs/progression/pkg/state"
	"github.com/shopspring/decimal"
)

// Memory implements ledger.Store and the orchestrator's state store in memory.
// Thread-safe via RWMutex.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]ledger.Entry
	keys    map[string]map[string]int
	changes map[string][]state.Change
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string][]ledger.Entry),
		keys:    make(map[string]map[string]int),
		changes: make(map[string][]state.Change),
	}
}

func (m *Memory) Insert(ctx context.Context, e ledger.Entry, change *state.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.keys[e.CustomerID]
	if !ok {
		keys = make(map[string]int)
		m.keys[e.CustomerID] = keys
	}
	if _, dup := keys[e.DedupeKey()]; dup {
		return ledger.ErrConstraintViolation
	}
	keys[e.DedupeKey()] = len(m.entries[e.CustomerID])
	m.entries[e.CustomerID] = append(m.entries[e.CustomerID], e)
	if change != nil {
		ch := *change
		ch.CustomerID = e.CustomerID
		m.changes[e.CustomerID] = append(m.changes[e.CustomerID], ch)
	}
	return nil
}

func (m *Memory) FindByDedupeKey(ctx context.Context, customerID, dedupeKey string) (ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.keys[customerID][dedupeKey]
	if !ok {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return m.entries[customerID][idx], nil
}

func (m *Memory) Amounts(ctx context.Context, customerID string) ([]decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]decimal.Decimal, 0, len(m.entries[customerID]))
	for _, e := range m.entries[customerID] {
		out = append(out, e.Amount)
	}
	return out, nil
}

func (m *Memory) Page(ctx context.Context, customerID string, after *ledger.Position, limit int) ([]ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	all := append([]ledger.Entry(nil), m.entries[customerID]...)
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	out := make([]ledger.Entry, 0, limit)
	for _, e := range all {
		if len(out) == limit {
			break
		}
		if after == nil || after.Follows(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// LoadState replays the customer's recorded changes. Unknown customers get
// an empty state.
func (m *Memory) LoadState(ctx context.Context, customerID string) (*state.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := state.New(customerID)
	for _, ch := range m.changes[customerID] {
		if err := st.Apply(ch); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// SaveChange records a change that has no ledger entry, such as a mission start.
func (m *Memory) SaveChange(ctx context.Context, ch state.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes[ch.CustomerID] = append(m.changes[ch.CustomerID], ch)
	return nil
}
