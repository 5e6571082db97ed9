package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldleaf/retail-engine/engine"
)

func TestWeekWindows_ThirtyOneDayMonth(t *testing.T) {
	// Weeks start on the 1st, 8th, 15th, 22nd and 29th; the last window
	// is truncated at month end.
	windows := engine.MonthKey("2025-08").WeekWindows()
	require.Len(t, windows, 5)

	assert.Equal(t, engine.DayKey("2025-08-01"), windows[0].Start)
	assert.Equal(t, engine.DayKey("2025-08-07"), windows[0].End)
	assert.Equal(t, engine.DayKey("2025-08-22"), windows[3].Start)
	assert.Equal(t, engine.DayKey("2025-08-28"), windows[3].End)
	assert.Equal(t, engine.DayKey("2025-08-29"), windows[4].Start)
	assert.Equal(t, engine.DayKey("2025-08-31"), windows[4].End)
}

func TestWeekWindows_FebruaryNonLeap(t *testing.T) {
	// A 28-day February has no 29th, so only four windows exist.
	windows := engine.MonthKey("2025-02").WeekWindows()
	require.Len(t, windows, 4)
	assert.Equal(t, engine.DayKey("2025-02-22"), windows[3].Start)
	assert.Equal(t, engine.DayKey("2025-02-28"), windows[3].End)
}

func TestWeekWindows_FebruaryLeap(t *testing.T) {
	windows := engine.MonthKey("2024-02").WeekWindows()
	require.Len(t, windows, 5)
	assert.Equal(t, engine.DayKey("2024-02-29"), windows[4].Start)
	assert.Equal(t, engine.DayKey("2024-02-29"), windows[4].End)
}

func TestMonthKey_PrevAcrossYearBoundary(t *testing.T) {
	assert.Equal(t, engine.MonthKey("2024-12"), engine.MonthKey("2025-01").Prev())
}

func TestMonthKey_Days(t *testing.T) {
	first, last := engine.MonthKey("2025-02").Days()
	assert.Equal(t, engine.DayKey("2025-02-01"), first)
	assert.Equal(t, engine.DayKey("2025-02-28"), last)
}

func TestParseDay_RejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "2025-8-1", "20250801", "2025-13-01", "yesterday"} {
		_, err := engine.ParseDay(bad)
		assert.Error(t, err, "expected %q to be rejected", bad)
	}

	day, err := engine.ParseDay("2025-08-14")
	require.NoError(t, err)
	assert.Equal(t, engine.MonthKey("2025-08"), day.Month())
}

func TestDaysBetween_Inclusive(t *testing.T) {
	days := engine.DaysBetween("2025-08-30", "2025-09-02")
	require.Len(t, days, 4)
	assert.Equal(t, engine.DayKey("2025-08-30"), days[0])
	assert.Equal(t, engine.DayKey("2025-09-02"), days[3])
}
