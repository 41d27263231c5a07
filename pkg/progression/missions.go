package progression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/availability"
	"github.com/Mindburn-Labs/progression/pkg/catalog"
	"github.com/Mindburn-Labs/progression/pkg/evaluator"
	"github.com/Mindburn-Labs/progression/pkg/ledger"
	"github.com/Mindburn-Labs/progression/pkg/state"
	"github.com/shopspring/decimal"
)

// RewardReceipt is the outcome of a successful (or repeated) completion.
type RewardReceipt struct {
	CustomerID   string          `json:"customer_id"`
	MissionID    string          `json:"mission_id"`
	Window       string          `json:"window,omitempty"`
	EntryID      string          `json:"entry_id"`
	Amount       decimal.Decimal `json:"amount"`
	Balance      decimal.Decimal `json:"balance"`
	CompletedAt  time.Time       `json:"completed_at"`
	Deduplicated bool            `json:"deduplicated"`
}

// GetAvailableMissions lists the missions the customer can see right now,
// with progress. It has no side effects.
func (e *Engine) GetAvailableMissions(ctx context.Context, customerID string) ([]availability.MissionView, error) {
	snap, tier, err := e.snapshotAndTier(ctx, customerID)
	if err != nil {
		return nil, err
	}
	st, err := e.loadState(ctx, customerID)
	if err != nil {
		return nil, err
	}
	views, err := availability.Resolve(e.catalog, tier, st, snap, e.now())
	if err != nil {
		return nil, incomplete(err)
	}
	if views == nil {
		views = []availability.MissionView{}
	}
	return views, nil
}

// GetMissionStatus places a single mission in the customer's lifecycle,
// whether or not it is currently visible.
func (e *Engine) GetMissionStatus(ctx context.Context, customerID, missionID string) (availability.MissionView, error) {
	m, err := e.mission(missionID)
	if err != nil {
		return availability.MissionView{}, err
	}
	snap, tier, err := e.snapshotAndTier(ctx, customerID)
	if err != nil {
		return availability.MissionView{}, err
	}
	st, err := e.loadState(ctx, customerID)
	if err != nil {
		return availability.MissionView{}, err
	}
	v, err := availability.View(m, tier, st, snap, e.now())
	if err != nil {
		return availability.MissionView{}, incomplete(err)
	}
	return v, nil
}

// StartMission records that the customer began a mission in the current
// reset window. Starting an already started mission is a no-op.
func (e *Engine) StartMission(ctx context.Context, customerID, missionID string) (availability.MissionView, error) {
	m, err := e.mission(missionID)
	if err != nil {
		return availability.MissionView{}, err
	}
	snap, tier, err := e.snapshotAndTier(ctx, customerID)
	if err != nil {
		return availability.MissionView{}, err
	}
	st, err := e.loadState(ctx, customerID)
	if err != nil {
		return availability.MissionView{}, err
	}

	now := e.now()
	if err := availability.Check(m, tier, st, now); err != nil {
		return availability.MissionView{}, err
	}
	window := availability.Window(m, now)
	if !st.StartedIn(m.ID, window) {
		ch := state.Change{Kind: state.MissionStarted, CustomerID: customerID, RefID: m.ID, Window: window, At: now}
		if err := e.states.SaveChange(ctx, ch); err != nil {
			return availability.MissionView{}, fmt.Errorf("record start of %s: %w", m.ID, err)
		}
		if err := st.Apply(ch); err != nil {
			return availability.MissionView{}, err
		}
	}

	v, err := availability.View(m, tier, st, snap, now)
	if err != nil {
		return availability.MissionView{}, incomplete(err)
	}
	return v, nil
}

// CompleteMission re-checks availability and requirements against fresh
// stats, then rewards the customer and marks the mission complete in one
// atomic step. Repeating a completion that was already rewarded returns the
// original reward with Deduplicated set. A prior StartMission is not required.
func (e *Engine) CompleteMission(ctx context.Context, customerID, missionID string) (*RewardReceipt, error) {
	m, err := e.mission(missionID)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, fmt.Errorf("%w: empty customer id", ErrCustomerNotFound)
	}
	unlock, err := e.lockCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := e.now()
	window := availability.Window(m, now)
	st, err := e.loadState(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if st.CompletedIn(m.ID, window) {
		return e.dedupedReceipt(ctx, customerID, m, window, st.Completed[m.ID].At)
	}

	snap, tier, err := e.snapshotAndTier(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if err := availability.Check(m, tier, st, now); err != nil {
		return nil, err
	}
	progress, err := evaluator.Mission(m, snap)
	if err != nil {
		return nil, incomplete(err)
	}
	if !progress.Satisfied {
		return nil, &RequirementsNotMetError{MissionID: m.ID, Progress: progress}
	}

	ch := &state.Change{Kind: state.MissionCompleted, CustomerID: customerID, RefID: m.ID, Window: window, At: now}
	entry, err := e.ledger.Append(ctx, customerID, ledger.MissionRef(m.ID), window, m.Reward, ch)
	var already *ledger.AlreadyRewardedError
	switch {
	case errors.As(err, &already):
		return e.receipt(ctx, m, already.Existing, true)
	case err != nil:
		return nil, err
	}
	return e.receipt(ctx, m, entry, false)
}

func (e *Engine) dedupedReceipt(ctx context.Context, customerID string, m catalog.Mission, window string, at time.Time) (*RewardReceipt, error) {
	entry, err := e.ledger.Lookup(ctx, customerID, ledger.MissionRef(m.ID), window)
	if err != nil {
		return nil, fmt.Errorf("load reward of %s: %w", m.ID, err)
	}
	r, err := e.receipt(ctx, m, entry, true)
	if err != nil {
		return nil, err
	}
	r.CompletedAt = at
	return r, nil
}

func (e *Engine) receipt(ctx context.Context, m catalog.Mission, entry ledger.Entry, deduped bool) (*RewardReceipt, error) {
	bal, err := e.ledger.Balance(ctx, entry.CustomerID)
	if err != nil {
		return nil, err
	}
	return &RewardReceipt{
		CustomerID:   entry.CustomerID,
		MissionID:    m.ID,
		Window:       entry.Window,
		EntryID:      entry.ID,
		Amount:       entry.Amount,
		Balance:      bal,
		CompletedAt:  entry.CreatedAt,
		Deduplicated: deduped,
	}, nil
}
