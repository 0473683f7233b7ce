package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimatedWaitMinutes(t *testing.T) {
	cases := []struct {
		position, cap, avgMinutes, want int
	}{
		{position: 1, cap: 3, avgMinutes: 5, want: 5},
		{position: 3, cap: 3, avgMinutes: 5, want: 5},
		{position: 4, cap: 3, avgMinutes: 5, want: 10},
		{position: 10, cap: 3, avgMinutes: 5, want: 20},
	}
	for _, c := range cases {
		got := EstimatedWaitMinutes(c.position, c.cap, c.avgMinutes)
		require.Equal(t, c.want, got)
	}
}

func TestEstimatedWaitMinutesAppliesFallbacks(t *testing.T) {
	// A zero or negative cap/avg shouldn't divide by zero or go negative.
	require.Equal(t, 3, EstimatedWaitMinutes(1, 0, 0))
	require.Equal(t, 6, EstimatedWaitMinutes(2, 0, 0))
}
