package engine_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldleaf/retail-engine/engine"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// seedStaffSales writes one staff bucket total directly for a day.
func seedStaffSales(t *testing.T, store engine.Store, day engine.DayKey, staffID engine.StaffID, name, total string) {
	t.Helper()
	err := store.UpdateDaySummaries(context.Background(), day, func(ds *engine.DailySummary, ss *engine.StaffDailySummary) error {
		ds.TotalValue = engine.Round2(ds.TotalValue.Add(dec(total)))
		ds.TotalCount++
		b := ss.Staff[staffID]
		b.Name = name
		b.TotalValue = engine.Round2(b.TotalValue.Add(dec(total)))
		b.Count++
		ss.Staff[staffID] = b
		return nil
	})
	require.NoError(t, err)
}

func targetSheet(month engine.MonthKey, staff map[engine.StaffID]engine.StaffTarget) engine.WeeklyTargetSheet {
	windows := month.WeekWindows()
	sheet := engine.WeeklyTargetSheet{Month: month}
	for _, w := range windows {
		sheet.Weeks = append(sheet.Weeks, engine.WeekTarget{
			Window: w,
			Staff:  staff,
		})
	}
	return sheet
}

func weekStaff(t *testing.T, report *engine.IncentiveReport, week int, staffID engine.StaffID) engine.StaffIncentive {
	t.Helper()
	require.Greater(t, len(report.Weeks), week)
	for _, si := range report.Weeks[week].Staff {
		if si.StaffID == staffID {
			return si
		}
	}
	t.Fatalf("staff %s not found in week %d", staffID, week)
	return engine.StaffIncentive{}
}

// =============================================================================
// ELIGIBILITY BOUNDARY
// =============================================================================

func TestEvaluateMonth_ExactlyOnTargetIsNotEligible(t *testing.T) {
	// GIVEN: Target 500.00 for week 1, achievement exactly 500.00
	// WHEN: The month is evaluated
	// THEN: Not eligible, reason "target not met" (strict >)

	store := newTestStore(t)
	ctx := context.Background()

	seedStaffSales(t, store, "2025-08-03", "s1", "Asha", "500.00")
	require.NoError(t, store.SaveWeeklyTargets(ctx, targetSheet("2025-08", map[engine.StaffID]engine.StaffTarget{
		"s1": {Target: dec("500.00"), IncentivePct: dec("10")},
	})))

	report, err := engine.NewIncentiveEvaluator(store, nil).EvaluateMonth(ctx, "2025-08")
	require.NoError(t, err)

	si := weekStaff(t, report, 0, "s1")
	assert.False(t, si.Eligible)
	assert.Equal(t, engine.ReasonTargetNotMet, si.Reason)
	assert.True(t, si.Incentive.IsZero())
	assert.True(t, si.Achieved.Equal(dec("500.00")))
}

func TestEvaluateMonth_OneCentOverTargetIsEligible(t *testing.T) {
	// GIVEN: Target 500.00, achievement 500.01
	// WHEN: Evaluated at 10%
	// THEN: Eligible with incentive 50.00 (Round2 of 50.001)

	store := newTestStore(t)
	ctx := context.Background()

	seedStaffSales(t, store, "2025-08-03", "s1", "Asha", "500.01")
	require.NoError(t, store.SaveWeeklyTargets(ctx, targetSheet("2025-08", map[engine.StaffID]engine.StaffTarget{
		"s1": {Target: dec("500.00"), IncentivePct: dec("10")},
	})))

	report, err := engine.NewIncentiveEvaluator(store, nil).EvaluateMonth(ctx, "2025-08")
	require.NoError(t, err)

	si := weekStaff(t, report, 0, "s1")
	assert.True(t, si.Eligible)
	assert.True(t, si.Incentive.Equal(dec("50.00")), "got %s", si.Incentive)
}

func TestEvaluateMonth_MissingTargetOrRateReasons(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedStaffSales(t, store, "2025-08-02", "s1", "Asha", "900.00")
	seedStaffSales(t, store, "2025-08-02", "s2", "Bilal", "900.00")
	require.NoError(t, store.SaveWeeklyTargets(ctx, targetSheet("2025-08", map[engine.StaffID]engine.StaffTarget{
		"s2": {Target: dec("500.00")}, // no rate
	})))

	report, err := engine.NewIncentiveEvaluator(store, nil).EvaluateMonth(ctx, "2025-08")
	require.NoError(t, err)

	// s1 sold but was never configured.
	s1 := weekStaff(t, report, 0, "s1")
	assert.False(t, s1.Eligible)
	assert.Equal(t, engine.ReasonNoTarget, s1.Reason)

	// s2 beat the target but has no rate.
	s2 := weekStaff(t, report, 0, "s2")
	assert.False(t, s2.Eligible)
	assert.Equal(t, engine.ReasonNoRate, s2.Reason)
}

func TestEvaluateMonth_NoTargetSheet(t *testing.T) {
	store := newTestStore(t)

	_, err := engine.NewIncentiveEvaluator(store, nil).EvaluateMonth(context.Background(), "2025-08")
	assert.True(t, engine.IsNotFound(err))
}

// =============================================================================
// WINDOW ARITHMETIC
// =============================================================================

func TestEvaluateMonth_AchievementStaysInsideItsWindow(t *testing.T) {
	// GIVEN: Sales on the 7th (week 1) and the 8th (week 2)
	// WHEN: Evaluated
	// THEN: Each week sees only its own days

	store := newTestStore(t)
	ctx := context.Background()

	seedStaffSales(t, store, "2025-08-07", "s1", "Asha", "300.00")
	seedStaffSales(t, store, "2025-08-08", "s1", "Asha", "400.00")
	require.NoError(t, store.SaveWeeklyTargets(ctx, targetSheet("2025-08", map[engine.StaffID]engine.StaffTarget{
		"s1": {Target: dec("100.00"), IncentivePct: dec("5")},
	})))

	report, err := engine.NewIncentiveEvaluator(store, nil).EvaluateMonth(ctx, "2025-08")
	require.NoError(t, err)

	assert.True(t, weekStaff(t, report, 0, "s1").Achieved.Equal(dec("300.00")))
	assert.True(t, weekStaff(t, report, 1, "s1").Achieved.Equal(dec("400.00")))
	assert.True(t, report.Weeks[0].OverallAchieved.Equal(dec("300.00")))
}

func TestWeeklyAchievement_SumsRange(t *testing.T) {
	store := newTestStore(t)
	seedStaffSales(t, store, "2025-08-01", "s1", "Asha", "100.50")
	seedStaffSales(t, store, "2025-08-03", "s1", "Asha", "200.25")
	seedStaffSales(t, store, "2025-08-03", "s2", "Bilal", "999.99")

	total, err := engine.NewIncentiveEvaluator(store, nil).WeeklyAchievement(
		context.Background(), "s1", "2025-08-01", "2025-08-07")
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("300.75")), "got %s", total)
}

func TestWeeklyAchievement_EmptyRangeIsZero(t *testing.T) {
	store := newTestStore(t)
	total, err := engine.NewIncentiveEvaluator(store, nil).WeeklyAchievement(
		context.Background(), "s1", "2025-08-01", "2025-08-07")
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.Zero))
}
