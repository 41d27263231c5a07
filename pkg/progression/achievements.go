package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/catalog"
	"github.com/Mindburn-Labs/progression/pkg/evaluator"
	"github.com/Mindburn-Labs/progression/pkg/ledger"
	"github.com/Mindburn-Labs/progression/pkg/state"
	"github.com/Mindburn-Labs/progression/pkg/stats"
	"github.com/shopspring/decimal"
)

// AchievementReceipt describes an achievement unlocked by one evaluation.
type AchievementReceipt struct {
	CustomerID    string          `json:"customer_id"`
	AchievementID string          `json:"achievement_id"`
	Name          string          `json:"name"`
	Rank          catalog.Rank    `json:"rank"`
	EntryID       string          `json:"entry_id"`
	Amount        decimal.Decimal `json:"amount"`
	UnlockedAt    time.Time       `json:"unlocked_at"`
}

// AchievementStatus is one catalog achievement as seen by a customer.
type AchievementStatus struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Rank        catalog.Rank    `json:"rank"`
	Reward      decimal.Decimal `json:"reward"`
	Unlocked    bool            `json:"unlocked"`
	UnlockedAt  *time.Time      `json:"unlocked_at,omitempty"`
}

// EvaluateAchievements checks every locked achievement against fresh stats
// and unlocks those whose predicate holds. Only achievements unlocked by this
// call are returned; evaluating again with the same stats returns nothing.
//
// Every predicate is evaluated before anything is written. A predicate that
// reads a stat the provider did not supply stays locked and is evaluated
// again on the next call; any other evaluation error fails the call with no
// rewards appended.
func (e *Engine) EvaluateAchievements(ctx context.Context, customerID string) ([]AchievementReceipt, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: empty customer id", ErrCustomerNotFound)
	}
	unlock, err := e.lockCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	snap, err := e.fetchStats(ctx, customerID)
	if err != nil {
		return nil, err
	}
	st, err := e.loadState(ctx, customerID)
	if err != nil {
		return nil, err
	}

	earned, err := earnedAchievements(e.catalog.Achievements(), st, snap)
	if err != nil {
		return nil, err
	}

	now := e.now()
	unlocked := []AchievementReceipt{}
	for _, a := range earned {
		ch := &state.Change{Kind: state.AchievementUnlocked, CustomerID: customerID, RefID: a.ID, At: now}
		entry, err := e.ledger.Append(ctx, customerID, ledger.AchievementRef(a.ID), "", a.Reward, ch)
		if errors.Is(err, ledger.ErrAlreadyRewarded) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("unlock %s: %w", a.ID, err)
		}
		unlocked = append(unlocked, AchievementReceipt{
			CustomerID:    customerID,
			AchievementID: a.ID,
			Name:          a.Name,
			Rank:          a.Rank,
			EntryID:       entry.ID,
			Amount:        entry.Amount,
			UnlockedAt:    entry.CreatedAt,
		})
	}
	return unlocked, nil
}

// earnedAchievements returns the locked achievements whose predicate holds.
// Predicates over missing stats are skipped.
func earnedAchievements(all []catalog.Achievement, st *state.Customer, snap stats.Snapshot) ([]catalog.Achievement, error) {
	var out []catalog.Achievement
	for _, a := range all {
		if st.HasAchievement(a.ID) {
			continue
		}
		ok, err := evaluator.Achievement(a, snap)
		switch {
		case errors.Is(err, stats.ErrMissingStat):
			continue
		case err != nil:
			return nil, err
		case ok:
			out = append(out, a)
		}
	}
	return out, nil
}

// GetAchievements lists every catalog achievement with the customer's unlock
// state, ordered by rank then id. It does not consult stats.
func (e *Engine) GetAchievements(ctx context.Context, customerID string) ([]AchievementStatus, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: empty customer id", ErrCustomerNotFound)
	}
	st, err := e.loadState(ctx, customerID)
	if err != nil {
		return nil, err
	}
	all := e.catalog.Achievements()
	out := make([]AchievementStatus, 0, len(all))
	for _, a := range all {
		s := AchievementStatus{
			ID:          a.ID,
			Name:        a.Name,
			Description: a.Description,
			Rank:        a.Rank,
			Reward:      a.Reward,
		}
		if at, ok := st.Achievements[a.ID]; ok {
			s.Unlocked = true
			s.UnlockedAt = &at
		}
		out = append(out, s)
	}
	return out, nil
}

// GetAchievement returns one achievement's status.
func (e *Engine) GetAchievement(ctx context.Context, customerID, achievementID string) (AchievementStatus, error) {
	if _, ok := e.catalog.Achievement(achievementID); !ok {
		return AchievementStatus{}, fmt.Errorf("%w: %s", ErrAchievementNotFound, achievementID)
	}
	all, err := e.GetAchievements(ctx, customerID)
	if err != nil {
		return AchievementStatus{}, err
	}
	for _, s := range all {
		if s.ID == achievementID {
			return s, nil
		}
	}
	return AchievementStatus{}, fmt.Errorf("%w: %s", ErrAchievementNotFound, achievementID)
}
