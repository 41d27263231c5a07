package availability_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Mindburn-Labs/progression/pkg/availability"
	"github.com/Mindburn-Labs/progression/pkg/catalog"
	"github.com/Mindburn-Labs/progression/pkg/state"
	"github.com/Mindburn-Labs/progression/pkg/stats"
	"github.com/Mindburn-Labs/progression/pkg/tiers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `
version: "1.0.0"
missions:
  - {id: A, title: A, category: daily, eligible_tiers: [new, regular, vip], reward: 1}
  - {id: B, title: B, category: daily, eligible_tiers: [new, regular, vip], reward: 2}
  - {id: AB, title: AB, category: travel, eligible_tiers: [new, regular, vip], prerequisites: [A, B], reward: 10}
  - {id: vip_only, title: V, category: financial, eligible_tiers: [vip], reward: 1000}
  - {id: onboard, title: O, category: onboarding, eligible_tiers: [new, regular, vip], reward: 5}
  - {id: fin_big, title: F, category: financial, eligible_tiers: [new, regular, vip], reward: 300}
  - {id: fin_small, title: F, category: financial, eligible_tiers: [new, regular, vip], reward: 30}
  - {id: social, title: S, category: social, eligible_tiers: [new, regular, vip], reward: 50}
  - id: login
    title: Daily login
    category: daily
    eligible_tiers: [new, regular, vip]
    repeatable: true
    reset_period: daily
    requirements:
      login_streak_days: 1
    reward: 5
`

var now = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func loadCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	return c
}

func ids(views []availability.MissionView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.ID)
	}
	return out
}

func complete(t *testing.T, st *state.Customer, id, window string, at time.Time) {
	t.Helper()
	require.NoError(t, st.Apply(state.Change{Kind: state.MissionCompleted, RefID: id, Window: window, At: at}))
}

var snap = stats.MustSnapshot(map[stats.Key]any{stats.LoginStreakDays: 0})

func TestResolve_OrderingAndTierGate(t *testing.T) {
	c := loadCatalog(t)

	views, err := availability.Resolve(c, tiers.Regular, state.New("c1"), snap, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"onboard", "fin_big", "fin_small", "social", "login", "B", "A"}, ids(views))

	views, err = availability.Resolve(c, tiers.VIP, state.New("c1"), snap, now)
	require.NoError(t, err)
	assert.Equal(t, "vip_only", ids(views)[1], "vip sees the vip-only financial mission first in its category")
}

func TestResolve_PrerequisiteGating(t *testing.T) {
	c := loadCatalog(t)
	st := state.New("c1")

	complete(t, st, "A", "", now)
	views, err := availability.Resolve(c, tiers.New, st, snap, now)
	require.NoError(t, err)
	assert.NotContains(t, ids(views), "AB")
	assert.NotContains(t, ids(views), "A", "completed one-shot missions disappear")

	complete(t, st, "B", "", now)
	views, err = availability.Resolve(c, tiers.New, st, snap, now)
	require.NoError(t, err)
	assert.Contains(t, ids(views), "AB")
}

func TestResolve_RepeatableWindow(t *testing.T) {
	c := loadCatalog(t)
	st := state.New("c1")
	complete(t, st, "login", "2026-10-17", now)

	views, err := availability.Resolve(c, tiers.New, st, snap, now)
	require.NoError(t, err)
	assert.NotContains(t, ids(views), "login")

	tomorrow := now.Add(24 * time.Hour)
	views, err = availability.Resolve(c, tiers.New, st, snap, tomorrow)
	require.NoError(t, err)
	require.Contains(t, ids(views), "login")
	for _, v := range views {
		if v.ID == "login" {
			assert.Equal(t, "2026-10-18", v.Window)
			require.NotNil(t, v.ResetsAt)
			assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), *v.ResetsAt)
			assert.Equal(t, 0.0, v.Progress.Percent)
		}
	}
}

func TestResolve_MissingStatKeepsOtherMissions(t *testing.T) {
	views, err := availability.Resolve(loadCatalog(t), tiers.New, state.New("c1"), stats.MustSnapshot(nil), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"onboard", "fin_big", "fin_small", "social", "login", "B", "A"}, ids(views))

	for _, v := range views {
		if v.ID != "login" {
			assert.Empty(t, v.Progress.Missing, v.ID)
			assert.True(t, v.Progress.Satisfied, v.ID)
			continue
		}
		assert.Equal(t, []stats.Key{stats.LoginStreakDays}, v.Progress.Missing)
		assert.False(t, v.Progress.Satisfied)
		assert.Equal(t, 0.0, v.Progress.Percent)
		require.Len(t, v.Progress.Requirements, 1)
		assert.Equal(t, 1.0, v.Progress.Requirements[0].Threshold)
		assert.Nil(t, v.Progress.Requirements[0].Current)
	}
}

func TestCheck(t *testing.T) {
	c := loadCatalog(t)
	st := state.New("c1")

	vip, _ := c.Get("vip_only")
	err := availability.Check(vip, tiers.New, st, now)
	var ne *availability.NotEligibleError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, tiers.New, ne.Tier)

	ab, _ := c.Get("AB")
	complete(t, st, "B", "", now)
	err = availability.Check(ab, tiers.New, st, now)
	var pe *availability.PrerequisitesNotMetError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, []string{"A"}, pe.Missing)
	assert.ErrorIs(t, err, availability.ErrPrerequisitesNotMet)

	b, _ := c.Get("B")
	assert.ErrorIs(t, availability.Check(b, tiers.New, st, now), availability.ErrAlreadyCompleted)
}

func TestStatus_Lifecycle(t *testing.T) {
	c := loadCatalog(t)
	login, _ := c.Get("login")
	ab, _ := c.Get("AB")
	st := state.New("c1")

	assert.Equal(t, state.StatusNotVisible, availability.Status(ab, tiers.New, st, now))
	assert.Equal(t, state.StatusAvailable, availability.Status(login, tiers.New, st, now))

	require.NoError(t, st.Apply(state.Change{Kind: state.MissionStarted, RefID: "login", Window: "2026-10-17", At: now}))
	assert.Equal(t, state.StatusInProgress, availability.Status(login, tiers.New, st, now))

	// Started yesterday, never finished: expired, and startable again.
	tomorrow := now.Add(24 * time.Hour)
	assert.Equal(t, state.StatusExpired, availability.Status(login, tiers.New, st, tomorrow))
	assert.NoError(t, availability.Check(login, tiers.New, st, tomorrow))

	complete(t, st, "login", "2026-10-17", now)
	assert.Equal(t, state.StatusCompleted, availability.Status(login, tiers.New, st, now))
	assert.Equal(t, state.StatusAvailable, availability.Status(login, tiers.New, st, tomorrow))
}
