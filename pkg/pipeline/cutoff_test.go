package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecentCutoffPinsOverflowDayToMonthEnd(t *testing.T) {
	// May 31 minus 3 months must land on Feb 28 (2026 is not a leap year),
	// not overflow into March.
	now := time.Date(2026, time.May, 31, 10, 0, 0, 0, time.UTC)
	cutoff := RecentCutoff(now, 3)
	require.Equal(t, time.Date(2026, time.February, 28, 10, 0, 0, 0, time.UTC), cutoff)
}

func TestRecentCutoffOrdinaryCase(t *testing.T) {
	now := time.Date(2026, time.July, 29, 0, 0, 0, 0, time.UTC)
	cutoff := RecentCutoff(now, 3)
	require.Equal(t, time.Date(2026, time.April, 29, 0, 0, 0, 0, time.UTC), cutoff)
}

func TestRecentCutoffCrossesYearBoundary(t *testing.T) {
	now := time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC)
	cutoff := RecentCutoff(now, 3)
	require.Equal(t, time.Date(2025, time.October, 15, 0, 0, 0, 0, time.UTC), cutoff)
}
