// Package availability resolves which missions a customer can see and start.
//
// A mission is available when the customer's tier is eligible, every
// prerequisite has been completed, and it has not been completed already
// (for repeatable missions: not in the current reset window).
package availability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/catalog"
	"github.com/Mindburn-Labs/progression/pkg/evaluator"
	"github.com/Mindburn-Labs/progression/pkg/state"
	"github.com/Mindburn-Labs/progression/pkg/stats"
	"github.com/Mindburn-Labs/progression/pkg/tiers"
	"github.com/shopspring/decimal"
)

var (
	ErrNotEligible         = errors.New("availability: mission not offered to tier")
	ErrPrerequisitesNotMet = errors.New("availability: prerequisites not met")
	ErrAlreadyCompleted    = errors.New("availability: mission already completed")
)

// NotEligibleError is returned when the customer's tier is not eligible.
type NotEligibleError struct {
	MissionID string
	Tier      tiers.Tier
}

func (e *NotEligibleError) Error() string {
	return fmt.Sprintf("mission %s is not offered to tier %s", e.MissionID, e.Tier)
}

func (e *NotEligibleError) Is(target error) bool { return target == ErrNotEligible }

// PrerequisitesNotMetError lists the prerequisites still to complete.
type PrerequisitesNotMetError struct {
	MissionID string
	Missing   []string
}

func (e *PrerequisitesNotMetError) Error() string {
	return fmt.Sprintf("mission %s requires %s", e.MissionID, strings.Join(e.Missing, ", "))
}

func (e *PrerequisitesNotMetError) Is(target error) bool { return target == ErrPrerequisitesNotMet }

// AlreadyCompletedError reports the completion that makes a mission unavailable.
type AlreadyCompletedError struct {
	MissionID string
	Window    string
	At        time.Time
}

func (e *AlreadyCompletedError) Error() string {
	if e.Window != "" {
		return fmt.Sprintf("mission %s already completed in window %s", e.MissionID, e.Window)
	}
	return fmt.Sprintf("mission %s already completed", e.MissionID)
}

func (e *AlreadyCompletedError) Is(target error) bool { return target == ErrAlreadyCompleted }

// MissionView is a mission as presented to one customer.
type MissionView struct {
	ID          string                    `json:"id"`
	Title       string                    `json:"title"`
	Description string                    `json:"description,omitempty"`
	Category    catalog.Category          `json:"category"`
	Reward      decimal.Decimal           `json:"reward"`
	Repeatable  bool                      `json:"repeatable"`
	ResetPeriod catalog.ResetPeriod       `json:"reset_period,omitempty"`
	Window      string                    `json:"window,omitempty"`
	ResetsAt    *time.Time                `json:"resets_at,omitempty"`
	Status      state.MissionStatus       `json:"status"`
	Progress    evaluator.MissionProgress `json:"progress"`
}

// Window returns the reset window key of m at now.
func Window(m catalog.Mission, now time.Time) string {
	return m.ResetPeriod.WindowKey(now)
}

// Check reports why m cannot be started or completed right now, or nil if it can.
func Check(m catalog.Mission, tier tiers.Tier, st *state.Customer, now time.Time) error {
	if !m.EligibleFor(tier) {
		return &NotEligibleError{MissionID: m.ID, Tier: tier}
	}
	if err := checkCompleted(m, st, now); err != nil {
		return err
	}
	if missing := missingPrerequisites(m, st); len(missing) > 0 {
		return &PrerequisitesNotMetError{MissionID: m.ID, Missing: missing}
	}
	return nil
}

func checkCompleted(m catalog.Mission, st *state.Customer, now time.Time) error {
	done, ok := st.Completed[m.ID]
	if !ok {
		return nil
	}
	window := Window(m, now)
	if !m.Repeatable || done.Window == window {
		return &AlreadyCompletedError{MissionID: m.ID, Window: window, At: done.At}
	}
	return nil
}

func missingPrerequisites(m catalog.Mission, st *state.Customer) []string {
	var missing []string
	for _, p := range m.Prerequisites {
		if !st.HasCompleted(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Status places m in the per-customer mission lifecycle.
func Status(m catalog.Mission, tier tiers.Tier, st *state.Customer, now time.Time) state.MissionStatus {
	err := Check(m, tier, st, now)
	switch {
	case errors.Is(err, ErrAlreadyCompleted):
		return state.StatusCompleted
	case err != nil:
		return state.StatusNotVisible
	}

	window := Window(m, now)
	started, ok := st.Started[m.ID]
	switch {
	case !ok:
		return state.StatusAvailable
	case started.Window == window:
		return state.StatusInProgress
	case st.CompletedIn(m.ID, started.Window):
		// Started and finished in an earlier window; a fresh window is open.
		return state.StatusAvailable
	default:
		return state.StatusExpired
	}
}

// Resolve returns the missions visible to a customer of the given tier,
// ordered by category priority, then descending reward, then id. A mission
// whose requirements read a stat missing from snap is still listed, with the
// missing keys in its progress.
func Resolve(cat *catalog.Catalog, tier tiers.Tier, st *state.Customer, snap stats.Snapshot, now time.Time) ([]MissionView, error) {
	var out []MissionView
	for _, m := range cat.Missions() {
		if Check(m, tier, st, now) != nil {
			continue
		}
		v, err := View(m, tier, st, snap, now)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	Sort(out)
	return out, nil
}

// View builds the view of a single mission, with progress against snap.
// Missing stats are reported in Progress.Missing rather than as an error.
func View(m catalog.Mission, tier tiers.Tier, st *state.Customer, snap stats.Snapshot, now time.Time) (MissionView, error) {
	progress, err := evaluator.Preview(m, snap)
	if err != nil {
		return MissionView{}, err
	}
	v := MissionView{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Category:    m.Category,
		Reward:      m.Reward,
		Repeatable:  m.Repeatable,
		ResetPeriod: m.ResetPeriod,
		Window:      Window(m, now),
		Status:      Status(m, tier, st, now),
		Progress:    progress,
	}
	if m.Repeatable {
		next := m.ResetPeriod.NextReset(now)
		v.ResetsAt = &next
	}
	return v, nil
}

// Sort orders views by category priority, then descending reward, then id.
func Sort(views []MissionView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if pa, pb := a.Category.Priority(), b.Category.Priority(); pa != pb {
			return pa < pb
		}
		if c := a.Reward.Cmp(b.Reward); c != 0 {
			return c > 0
		}
		return a.ID < b.ID
	})
}
