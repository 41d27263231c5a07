// Package tiers classifies customers into program tiers.
// Tiers gate which missions a customer is offered.
package tiers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/progression/pkg/stats"
)

// Tier identifies a customer segment.
type Tier string

const (
	New     Tier = "new"
	Regular Tier = "regular"
	VIP     Tier = "vip"
)

// ErrUnknownTier is returned by Parse for names outside the tier set.
var ErrUnknownTier = errors.New("tiers: unknown tier")

// All lists every tier from newest to most established.
var All = []Tier{New, Regular, VIP}

// Parse resolves a tier name, case-insensitively.
func Parse(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case New:
		return New, nil
	case Regular:
		return Regular, nil
	case VIP:
		return VIP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

func (t Tier) String() string { return string(t) }

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := descriptors[t]
	return ok
}

// Descriptor describes a tier for display.
type Descriptor struct {
	Tier        Tier
	Name        string
	Description string
}

var descriptors = map[Tier]Descriptor{
	New: {
		Tier:        New,
		Name:        "New",
		Description: "Customers in their first month",
	},
	Regular: {
		Tier:        Regular,
		Name:        "Regular",
		Description: "Established customers with moderate activity",
	},
	VIP: {
		Tier:        VIP,
		Name:        "VIP",
		Description: "Long-tenured, highly active or high-spending customers",
	},
}

// Describe returns the descriptor for t, or nil if t is unknown.
func Describe(t Tier) *Descriptor {
	d, ok := descriptors[t]
	if !ok {
		return nil
	}
	return &d
}

// Policy holds the classification thresholds.
type Policy struct {
	NewMaxDays          float64 // days_since_signup below this is New
	VIPMinDays          float64 // days_since_signup above this is VIP
	VIPMinTransactions  float64 // transaction_count above this is VIP
	VIPMinTotalSpending float64 // total_spending above this is VIP
}

// DefaultPolicy is the production classification policy.
var DefaultPolicy = Policy{
	NewMaxDays:          30,
	VIPMinDays:          365,
	VIPMinTransactions:  50,
	VIPMinTotalSpending: 500_000_000,
}

// Classify derives the tier from a snapshot. The result depends only on the
// snapshot; callers recompute it on every request.
func (p Policy) Classify(snap stats.Snapshot) (Tier, error) {
	days, err := snap.Number(stats.DaysSinceSignup)
	if err != nil {
		return "", err
	}
	if days < p.NewMaxDays {
		return New, nil
	}
	if days > p.VIPMinDays {
		return VIP, nil
	}

	txns, err := snap.Number(stats.TransactionCount)
	if err != nil {
		return "", err
	}
	if txns > p.VIPMinTransactions {
		return VIP, nil
	}

	spend, err := snap.Number(stats.TotalSpending)
	if err != nil {
		return "", err
	}
	if spend > p.VIPMinTotalSpending {
		return VIP, nil
	}
	return Regular, nil
}

// Classify uses DefaultPolicy.
func Classify(snap stats.Snapshot) (Tier, error) {
	return DefaultPolicy.Classify(snap)
}
