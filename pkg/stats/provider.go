package stats

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"golang.org/x/time/rate"
)

// ErrCustomerNotFound is returned by providers for unknown customers.
var ErrCustomerNotFound = errors.New("stats: customer not found")

// Provider supplies fresh statistics for a customer.
// Implementations must honour ctx cancellation and deadlines.
type Provider interface {
	GetStats(ctx context.Context, customerID string) (Snapshot, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, customerID string) (Snapshot, error)

func (f ProviderFunc) GetStats(ctx context.Context, customerID string) (Snapshot, error) {
	return f(ctx, customerID)
}

// MemoryProvider implements Provider in memory.
// Thread-safe via RWMutex.
type MemoryProvider struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{snapshots: make(map[string]Snapshot)}
}

// Set replaces the snapshot served for customerID.
func (p *MemoryProvider) Set(customerID string, s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots[customerID] = s
}

// Customers returns the ids that have a snapshot, sorted.
func (p *MemoryProvider) Customers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.snapshots))
}

func (p *MemoryProvider) GetStats(ctx context.Context, customerID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.snapshots[customerID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	return s, nil
}

// RateLimitedProvider throttles calls to an upstream provider.
type RateLimitedProvider struct {
	next    Provider
	limiter *rate.Limiter
}

// RateLimited wraps next so that at most rps calls per second (with the given
// burst) reach it. Waiting respects the caller's context deadline.
func RateLimited(next Provider, rps float64, burst int) *RateLimitedProvider {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedProvider{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (p *RateLimitedProvider) GetStats(ctx context.Context, customerID string) (Snapshot, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("stats rate limit: %w", err)
	}
	return p.next.GetStats(ctx, customerID)
}
