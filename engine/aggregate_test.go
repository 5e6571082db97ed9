package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldleaf/retail-engine/engine"
)

// =============================================================================
// MERGED-REPLACE APPLICATION
// =============================================================================

func TestApplyMergedReplace_AccumulatesIntoHourAndStaffBuckets(t *testing.T) {
	// GIVEN: An empty day pair
	// WHEN: Three sales of 45.00, 30.00 and 45.00 land in hour 14
	// THEN: Day total is 120.00, count 3, one hour bucket, per-staff split

	day := engine.DayKey("2025-08-14")
	ds := engine.NewDailySummary(day)
	ss := engine.NewStaffDailySummary(day)

	engine.ApplyMergedReplace(ds, ss, appleTx("180", "s1", day, 14), +1) // 45.00
	engine.ApplyMergedReplace(ds, ss, appleTx("120", "s1", day, 14), +1) // 30.00
	engine.ApplyMergedReplace(ds, ss, appleTx("180", "s2", day, 14), +1) // 45.00

	assert.True(t, ds.TotalValue.Equal(dec("120.00")), "day total should be 120.00, got %s", ds.TotalValue)
	assert.Equal(t, 3, ds.TotalCount)

	require.Len(t, ds.Hourly, 1)
	bucket := ds.Hourly[14]
	assert.True(t, bucket.TotalValue.Equal(dec("120.00")))
	assert.Equal(t, 3, bucket.Count)

	require.Len(t, ss.Staff, 2)
	assert.True(t, ss.Staff["s1"].TotalValue.Equal(dec("75.00")))
	assert.Equal(t, 2, ss.Staff["s1"].Count)
	assert.True(t, ss.Staff["s2"].TotalValue.Equal(dec("45.00")))
	assert.Equal(t, "Asha", ss.Staff["s1"].Name)
}

func TestApplyMergedReplace_RoundsAfterEveryAddition(t *testing.T) {
	// GIVEN: Line values with sub-cent thirds (333g at 10.00/kg = 3.33)
	// WHEN: Applied repeatedly
	// THEN: Totals stay at exactly two decimal places

	day := engine.DayKey("2025-08-14")
	ds := engine.NewDailySummary(day)
	ss := engine.NewStaffDailySummary(day)

	for i := 0; i < 3; i++ {
		tx := saleTx("MANGO", "Mangoes", "333", "10.00", "s1", "Asha", day, 9)
		engine.ApplyMergedReplace(ds, ss, tx, +1)
	}

	assert.True(t, ds.TotalValue.Equal(dec("9.99")), "got %s", ds.TotalValue)
	assert.True(t, ds.TotalValue.Exponent() >= -2, "total must not carry sub-cent precision")
}

func TestApplyMergedReplace_NegativeSignReversesExactly(t *testing.T) {
	// GIVEN: Two sales totalling 120.50
	// WHEN: One of 75.25 is reversed
	// THEN: The remaining total is exactly 45.25 and buckets shrink

	day := engine.DayKey("2025-08-14")
	ds := engine.NewDailySummary(day)
	ss := engine.NewStaffDailySummary(day)

	keep := appleTx("181", "s1", day, 10)   // 45.25
	remove := appleTx("301", "s2", day, 11) // 75.25
	engine.ApplyMergedReplace(ds, ss, keep, +1)
	engine.ApplyMergedReplace(ds, ss, remove, +1)
	require.True(t, ds.TotalValue.Equal(dec("120.50")), "precondition, got %s", ds.TotalValue)

	engine.ApplyMergedReplace(ds, ss, remove, -1)

	assert.True(t, ds.TotalValue.Equal(dec("45.25")))
	assert.Equal(t, 1, ds.TotalCount)
	_, hourGone := ds.Hourly[11]
	assert.False(t, hourGone, "emptied hour bucket should be removed")
	_, staffGone := ss.Staff["s2"]
	assert.False(t, staffGone, "emptied staff bucket should be removed")
}

func TestApplyMergedReplace_FullReversalLeavesEmptySummaries(t *testing.T) {
	// GIVEN: A single sale applied to fresh summaries
	// WHEN: The same sale is reversed
	// THEN: Both summaries report empty (stores prune them on write)

	day := engine.DayKey("2025-08-14")
	ds := engine.NewDailySummary(day)
	ss := engine.NewStaffDailySummary(day)

	tx := appleTx("200", "s1", day, 15)
	engine.ApplyMergedReplace(ds, ss, tx, +1)
	engine.ApplyMergedReplace(ds, ss, tx, -1)

	assert.True(t, ds.IsEmpty())
	assert.True(t, ss.IsEmpty())
}

// =============================================================================
// PRODUCT DELTAS
// =============================================================================

func TestMergeProductDeltas_OneDeltaPerKey(t *testing.T) {
	// GIVEN: A page with repeated products
	// WHEN: Deltas are merged
	// THEN: One combined delta per (date, product)

	day := engine.DayKey("2025-08-14")
	deltas := []engine.ProductDelta{
		engine.ProductIncrementFor(appleTx("180", "s1", day, 9), +1),
		engine.ProductIncrementFor(appleTx("120", "s2", day, 10), +1),
		engine.ProductIncrementFor(saleTx("MANGO", "Mangoes", "500", "150.00", "s1", "Asha", day, 9), +1),
	}

	merged := engine.MergeProductDeltas(deltas)
	require.Len(t, merged, 2)

	byCode := map[engine.ProductCode]engine.ProductDelta{}
	for _, d := range merged {
		byCode[d.ProductCode] = d
	}
	assert.True(t, byCode["APPLE"].WeightGrams.Equal(dec("300")))
	assert.True(t, byCode["APPLE"].Value.Equal(dec("75.00")))
	assert.Equal(t, 2, byCode["APPLE"].Count)
	assert.Equal(t, 1, byCode["MANGO"].Count)
}

func TestLineValueFor_RoundsToCents(t *testing.T) {
	// 333g at 9.99/kg = 3.32667 -> 3.33
	v := engine.LineValueFor(dec("333"), dec("9.99"))
	assert.True(t, v.Equal(dec("3.33")), "got %s", v)
}
