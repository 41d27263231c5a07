// Package progression orchestrates missions, achievements and rewards for a
// customer. It is the only package that talks to every collaborator: the
// catalog, the stats provider, the reward ledger and the state store.
//
// Reward-granting operations run under a per-customer lock. The ledger's
// uniqueness guarantee makes them safe even if two processes race anyway.
package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/availability"
	"github.com/Mindburn-Labs/progression/pkg/catalog"
	"github.com/Mindburn-Labs/progression/pkg/ledger"
	"github.com/Mindburn-Labs/progression/pkg/lock"
	"github.com/Mindburn-Labs/progression/pkg/state"
	"github.com/Mindburn-Labs/progression/pkg/stats"
	"github.com/Mindburn-Labs/progression/pkg/tiers"
	"github.com/shopspring/decimal"
)

// DefaultStatsTimeout bounds every stats call on top of the caller's context.
const DefaultStatsTimeout = 2 * time.Second

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// StateStore persists customer progression state.
type StateStore interface {
	LoadState(ctx context.Context, customerID string) (*state.Customer, error)
	SaveChange(ctx context.Context, ch state.Change) error
}

// Service is the set of operations exposed to callers. *Engine implements it;
// observability wraps it.
type Service interface {
	GetAvailableMissions(ctx context.Context, customerID string) ([]availability.MissionView, error)
	StartMission(ctx context.Context, customerID, missionID string) (availability.MissionView, error)
	CompleteMission(ctx context.Context, customerID, missionID string) (*RewardReceipt, error)
	GetMissionStatus(ctx context.Context, customerID, missionID string) (availability.MissionView, error)
	EvaluateAchievements(ctx context.Context, customerID string) ([]AchievementReceipt, error)
	GetAchievements(ctx context.Context, customerID string) ([]AchievementStatus, error)
	GetBalance(ctx context.Context, customerID string) (decimal.Decimal, error)
	GetLedgerHistory(ctx context.Context, customerID, cursor string, limit int) (ledger.Page, error)
	GetTier(ctx context.Context, customerID string) (tiers.Tier, error)
}

// Engine implements Service.
type Engine struct {
	catalog      *catalog.Catalog
	stats        stats.Provider
	ledger       *ledger.Ledger
	states       StateStore
	clock        Clock
	locker       lock.Locker
	statsTimeout time.Duration
	policy       tiers.Policy
}

var _ Service = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c Clock) Option { return func(e *Engine) { e.clock = c } }

func WithLocker(l lock.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithStatsTimeout bounds each stats call. Zero or negative disables the bound.
func WithStatsTimeout(d time.Duration) Option { return func(e *Engine) { e.statsTimeout = d } }

func WithTierPolicy(p tiers.Policy) Option { return func(e *Engine) { e.policy = p } }

// New wires an engine. The catalog is immutable and may be shared.
func New(cat *catalog.Catalog, provider stats.Provider, l *ledger.Ledger, states StateStore, opts ...Option) *Engine {
	e := &Engine{
		catalog:      cat,
		stats:        provider,
		ledger:       l,
		states:       states,
		clock:        ClockFunc(time.Now),
		locker:       lock.NewLocal(),
		statsTimeout: DefaultStatsTimeout,
		policy:       tiers.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the catalog the engine serves.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

func (e *Engine) now() time.Time { return e.clock.Now().UTC() }

// fetchStats calls the provider under the stats timeout and maps its errors.
func (e *Engine) fetchStats(ctx context.Context, customerID string) (stats.Snapshot, error) {
	if customerID == "" {
		return stats.Snapshot{}, fmt.Errorf("%w: empty customer id", ErrCustomerNotFound)
	}
	if e.statsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.statsTimeout)
		defer cancel()
	}
	snap, err := e.stats.GetStats(ctx, customerID)
	switch {
	case err == nil:
		return snap, nil
	case errors.Is(err, stats.ErrCustomerNotFound):
		return stats.Snapshot{}, fmt.Errorf("%w: %w", ErrCustomerNotFound, err)
	default:
		return stats.Snapshot{}, fmt.Errorf("%w: %w", ErrStatsUnavailable, err)
	}
}

// snapshotAndTier fetches stats and classifies the customer.
func (e *Engine) snapshotAndTier(ctx context.Context, customerID string) (stats.Snapshot, tiers.Tier, error) {
	snap, err := e.fetchStats(ctx, customerID)
	if err != nil {
		return stats.Snapshot{}, "", err
	}
	tier, err := e.policy.Classify(snap)
	if err != nil {
		return stats.Snapshot{}, "", incomplete(err)
	}
	return snap, tier, nil
}

func (e *Engine) loadState(ctx context.Context, customerID string) (*state.Customer, error) {
	st, err := e.states.LoadState(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", customerID, err)
	}
	return st, nil
}

func (e *Engine) lockCustomer(ctx context.Context, customerID string) (func(), error) {
	unlock, err := e.locker.Lock(ctx, "customer:"+customerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	return unlock, nil
}

func (e *Engine) mission(id string) (catalog.Mission, error) {
	m, ok := e.catalog.Get(id)
	if !ok {
		return catalog.Mission{}, fmt.Errorf("%w: %s", ErrMissionNotFound, id)
	}
	return m, nil
}

// incomplete maps a missing stat to ErrIncompleteStats and passes other errors through.
func incomplete(err error) error {
	if errors.Is(err, stats.ErrMissingStat) {
		return fmt.Errorf("%w: %w", ErrIncompleteStats, err)
	}
	return err
}

// GetTier classifies the customer from fresh stats.
func (e *Engine) GetTier(ctx context.Context, customerID string) (tiers.Tier, error) {
	_, tier, err := e.snapshotAndTier(ctx, customerID)
	return tier, err
}

// GetBalance sums the customer's ledger.
func (e *Engine) GetBalance(ctx context.Context, customerID string) (decimal.Decimal, error) {
	return e.ledger.Balance(ctx, customerID)
}

// GetLedgerHistory returns a page of the customer's ledger, most recent first.
func (e *Engine) GetLedgerHistory(ctx context.Context, customerID, cursor string, limit int) (ledger.Page, error) {
	return e.ledger.History(ctx, customerID, cursor, limit)
}
