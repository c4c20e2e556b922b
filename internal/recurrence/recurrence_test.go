package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"castbox/internal/domain"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestDailyAcrossLeapDayDoesNotDrift(t *testing.T) {
	start := mustParse(t, "2024-01-31T10:00:00Z")
	cur := start
	steps := map[int]string{
		1:  "2024-02-01T10:00:00Z",
		29: "2024-02-29T10:00:00Z",
		30: "2024-03-01T10:00:00Z",
		35: "2024-03-06T10:00:00Z",
	}
	for i := 1; i <= 35; i++ {
		next, ok, err := Next(cur, domain.RepeatDaily, 0)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 24*time.Hour, next.Sub(cur), "step %d", i)
		if want, ok := steps[i]; ok {
			assert.True(t, next.Equal(mustParse(t, want)), "step %d: got %s want %s", i, next, want)
		}
		cur = next
	}
}

func TestMonthlyClampsToLastDay(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"2024-01-31T10:00:00Z", "2024-02-29T10:00:00Z"},
		{"2023-01-31T10:00:00Z", "2023-02-28T10:00:00Z"},
		{"2024-03-31T08:30:00Z", "2024-04-30T08:30:00Z"},
		{"2024-02-29T10:00:00Z", "2024-03-29T10:00:00Z"},
		{"2024-12-15T23:59:00Z", "2025-01-15T23:59:00Z"},
	}
	for _, tc := range cases {
		next, ok, err := Next(mustParse(t, tc.in), domain.RepeatMonthly, 0)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, next.Equal(mustParse(t, tc.want)), "%s: got %s want %s", tc.in, next, tc.want)
	}
}

func TestWeeklyAndCustom(t *testing.T) {
	t0 := mustParse(t, "2024-02-26T09:00:00Z")

	next, ok, err := Next(t0, domain.RepeatWeekly, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.Equal(mustParse(t, "2024-03-04T09:00:00Z")))

	next, ok, err = Next(t0, domain.RepeatCustom, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, next.Equal(mustParse(t, "2024-02-29T09:00:00Z")))
}

func TestNoneEndsChain(t *testing.T) {
	_, ok, err := Next(time.Now(), domain.RepeatNone, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCustomRequiresPositiveDays(t *testing.T) {
	_, ok, err := Next(time.Now(), domain.RepeatCustom, 0)
	require.Error(t, err)
	assert.False(t, ok)

	_, _, err = Next(time.Now(), domain.Repeat("hourly"), 0)
	require.Error(t, err)

	assert.Error(t, Validate(domain.RepeatCustom, -1))
	assert.NoError(t, Validate(domain.RepeatCustom, 3))
	assert.NoError(t, Validate(domain.RepeatMonthly, 0))
}

func TestDailyKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// 2024-03-31 is the spring-forward day in Berlin.
	t0 := time.Date(2024, 3, 30, 9, 0, 0, 0, loc)
	next, ok, err := Next(t0, domain.RepeatDaily, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 23*time.Hour, next.Sub(t0))
}
