package stats_test

import (
	"errors"
	"testing"

	"github.com/Mindburn-Labs/progression/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshot_ValidValues(t *testing.T) {
	snap, err := stats.NewSnapshot(map[stats.Key]any{
		stats.Flights:          3,
		stats.AvgBalance:       int64(500_000_000),
		stats.ProfileCompleted: true,
		stats.TotalSpending:    1.5e6,
	})
	require.NoError(t, err)

	flights, err := snap.Number(stats.Flights)
	require.NoError(t, err)
	assert.Equal(t, 3.0, flights)

	done, err := snap.Bool(stats.ProfileCompleted)
	require.NoError(t, err)
	assert.True(t, done)

	assert.Equal(t, 4, snap.Len())
	assert.Equal(t, []stats.Key{stats.AvgBalance, stats.Flights, stats.ProfileCompleted, stats.TotalSpending}, snap.Keys())
}

func TestNewSnapshot_RejectsUnknownKey(t *testing.T) {
	_, err := stats.NewSnapshot(map[stats.Key]any{"flights_typo": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, stats.ErrUnknownStat)
}

func TestNewSnapshot_RejectsKindMismatch(t *testing.T) {
	_, err := stats.NewSnapshot(map[stats.Key]any{stats.KYCVerified: 1})
	assert.ErrorIs(t, err, stats.ErrStatKind)

	_, err = stats.NewSnapshot(map[stats.Key]any{stats.Flights: "3"})
	assert.ErrorIs(t, err, stats.ErrStatKind)
}

func TestSnapshot_MissingKeyIsTypedError(t *testing.T) {
	snap := stats.MustSnapshot(map[stats.Key]any{stats.Flights: 1})

	_, err := snap.Number(stats.Balance)
	require.Error(t, err)

	var missing *stats.MissingStatError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, stats.Balance, missing.Key)
	assert.ErrorIs(t, err, stats.ErrMissingStat)
}

func TestSnapshot_WrongAccessorKind(t *testing.T) {
	snap := stats.MustSnapshot(map[stats.Key]any{stats.Flights: 1, stats.KYCVerified: false})

	_, err := snap.Bool(stats.Flights)
	assert.ErrorIs(t, err, stats.ErrStatKind)
	_, err = snap.Number(stats.KYCVerified)
	assert.ErrorIs(t, err, stats.ErrStatKind)
}

func TestSnapshot_ActivationIsACopy(t *testing.T) {
	snap := stats.MustSnapshot(map[stats.Key]any{stats.Flights: 2})
	act := snap.Activation()
	act["flights"] = 99.0

	v, err := snap.Number(stats.Flights)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestSnapshot_WithLeavesReceiverUnchanged(t *testing.T) {
	base := stats.MustSnapshot(map[stats.Key]any{stats.Flights: 2})
	next, err := base.With(stats.Flights, 7)
	require.NoError(t, err)

	before, _ := base.Number(stats.Flights)
	after, _ := next.Number(stats.Flights)
	assert.Equal(t, 2.0, before)
	assert.Equal(t, 7.0, after)
}

func TestKeys_Documented(t *testing.T) {
	defs := stats.Keys()
	require.NotEmpty(t, defs)
	for i, d := range defs {
		assert.NotEmpty(t, d.Description, d.Key)
		if i > 0 {
			assert.Less(t, string(defs[i-1].Key), string(d.Key))
		}
	}

	def, ok := stats.Lookup(stats.DaysSinceSignup)
	require.True(t, ok)
	assert.Equal(t, stats.KindNumber, def.Kind)
}
