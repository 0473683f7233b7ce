package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sddhantjaiii/callorch/internal/database"
)

func TestWithinWindowInsideRange(t *testing.T) {
	camp := &database.Campaign{ID: 1, Timezone: "UTC", FirstCallTime: "09:00", LastCallTime: "17:00"}
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	ok, err := withinWindow(camp, now)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWithinWindowOutsideRange(t *testing.T) {
	camp := &database.Campaign{ID: 1, Timezone: "UTC", FirstCallTime: "09:00", LastCallTime: "17:00"}
	now := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)

	ok, err := withinWindow(camp, now)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWithinWindowInclusiveBoundaries(t *testing.T) {
	camp := &database.Campaign{ID: 1, Timezone: "UTC", FirstCallTime: "09:00", LastCallTime: "17:00"}

	start := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	ok, err := withinWindow(camp, start)
	require.NoError(t, err)
	require.True(t, ok)

	end := time.Date(2026, 7, 31, 17, 0, 0, 0, time.UTC)
	ok, err = withinWindow(camp, end)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWithinWindowInvalidTimezone(t *testing.T) {
	camp := &database.Campaign{ID: 1, Timezone: "Not/A_Zone", FirstCallTime: "09:00", LastCallTime: "17:00"}
	_, err := withinWindow(camp, time.Now())
	require.Error(t, err)
}

func TestInvalidateForcesReload(t *testing.T) {
	c := New(nil, time.Hour)
	c.lastRefresh = time.Now()
	c.Invalidate()
	require.True(t, c.lastRefresh.IsZero())
}
