package units

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnitsForZeroDuration(t *testing.T) {
	got, err := UnitsFor(0, DefaultRules())
	require.NoError(t, err)
	require.Equal(t, 0, got)
}

func TestUnitsForNegativeDuration(t *testing.T) {
	_, err := UnitsFor(-1, DefaultRules())
	require.ErrorIs(t, err, ErrNegativeDuration)
}

func TestUnitsForDefaultRules(t *testing.T) {
	cases := []struct {
		minutes float64
		want    int
	}{
		{4, 0},
		{7, 0},
		{8, 1},
		{14, 1},
		{15, 1},
		{22, 1},
		{23, 2},
		{30, 2},
		{45, 3},
		{47, 3},
		{53, 4},
		{60, 4},
	}
	for _, tc := range cases {
		got, err := UnitsFor(tc.minutes, DefaultRules())
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "minutes=%v", tc.minutes)
	}
}

func TestUnitsForMonotonic(t *testing.T) {
	rules := DefaultRules()
	prev := 0
	for m := 0.0; m <= 480; m += 0.5 {
		got, err := UnitsFor(m, rules)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got, 0)
		require.GreaterOrEqual(t, got, prev, "minutes=%v", m)
		prev = got
	}
}

func TestUnitsForCustomIncrement(t *testing.T) {
	rules := Rules{IncrementMinutes: 30, MinimumBillableMinutes: 10, RoundingThresholdMinutes: 16}
	cases := []struct {
		minutes float64
		want    int
	}{
		{9, 0},
		{10, 0},
		{16, 1},
		{30, 1},
		{44, 1},
		{46, 2},
	}
	for _, tc := range cases {
		got, err := UnitsFor(tc.minutes, rules)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "minutes=%v", tc.minutes)
	}
}

func TestRulesValidate(t *testing.T) {
	require.NoError(t, DefaultRules().Validate())

	bad := []Rules{
		{IncrementMinutes: 15, MinimumBillableMinutes: 0, RoundingThresholdMinutes: 8},
		{IncrementMinutes: 15, MinimumBillableMinutes: 9, RoundingThresholdMinutes: 8},
		{IncrementMinutes: 8, MinimumBillableMinutes: 5, RoundingThresholdMinutes: 8},
		{IncrementMinutes: 15, MinimumBillableMinutes: -1, RoundingThresholdMinutes: 8},
	}
	for _, r := range bad {
		require.Error(t, r.Validate(), "%+v", r)
	}

	_, err := UnitsFor(30, Rules{IncrementMinutes: 0})
	require.Error(t, err)
}

func TestExceedsDailyCap(t *testing.T) {
	cap8 := 8
	require.False(t, ExceedsDailyCap(4, 4, &cap8))
	require.True(t, ExceedsDailyCap(5, 4, &cap8))
	require.False(t, ExceedsDailyCap(100, 100, nil))
}
