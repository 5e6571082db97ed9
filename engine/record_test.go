package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldleaf/retail-engine/engine"
)

func newRecorder(t *testing.T) (*engine.SalesRecorder, *storeWithDir) {
	t.Helper()
	m := newTestStore(t)
	return engine.NewSalesRecorder(m, m, nil), &storeWithDir{m}
}

// storeWithDir just narrows the helper surface used in assertions.
type storeWithDir struct {
	engine.Store
}

func at(day engine.DayKey, hour int) time.Time {
	return day.Time().Add(time.Duration(hour) * time.Hour)
}

// =============================================================================
// RECORDING SALES
// =============================================================================

func TestRecordSale_WritesLogAndAllThreeAggregates(t *testing.T) {
	// GIVEN: A priced product and known staff
	// WHEN: Three sales land in hour 14 of the same day
	// THEN: Log has three SOLD rows and every family totals 120.00

	rec, store := newRecorder(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")

	for _, grams := range []string{"180", "120", "180"} { // 45 + 30 + 45
		tx, err := rec.RecordSale(ctx, engine.SaleInput{
			ProductCode: "APPLE",
			WeightGrams: dec(grams),
			StaffID:     "s1",
			OccurredAt:  at(day, 14),
		})
		require.NoError(t, err)
		assert.Equal(t, engine.StatusSold, tx.Status)
		assert.Equal(t, day, tx.SaleDate)
		assert.Equal(t, "Apples", tx.ProductName)
	}

	ds, err := store.GetDailySummary(ctx, day)
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.True(t, ds.TotalValue.Equal(dec("120.00")), "got %s", ds.TotalValue)
	assert.Equal(t, 3, ds.TotalCount)
	assert.True(t, ds.Hourly[14].TotalValue.Equal(dec("120.00")))

	ss, err := store.GetStaffDailySummary(ctx, day)
	require.NoError(t, err)
	require.NotNil(t, ss)
	assert.True(t, ss.Staff["s1"].TotalValue.Equal(dec("120.00")))
	assert.Equal(t, "Asha", ss.Staff["s1"].Name)

	ps, err := store.GetProductDailySummary(ctx, day, "APPLE")
	require.NoError(t, err)
	require.NotNil(t, ps)
	assert.True(t, ps.TotalValue.Equal(dec("120.00")))
	assert.True(t, ps.TotalWeightGrams.Equal(dec("480")))
}

func TestRecordSale_ValidationRejectsBeforeAnyWrite(t *testing.T) {
	rec, store := newRecorder(t)
	ctx := context.Background()

	_, err := rec.RecordSale(ctx, engine.SaleInput{
		ProductCode: "APPLE", WeightGrams: dec("-5"), StaffID: "s1",
	})
	var vErr *engine.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "weightGrams", vErr.Field)

	_, err = rec.RecordSale(ctx, engine.SaleInput{
		ProductCode: "NOPE", WeightGrams: dec("100"), StaffID: "s1",
	})
	assert.True(t, engine.IsNotFound(err))

	ds, err := store.GetDailySummary(ctx, engine.DayOf(time.Now().UTC()))
	require.NoError(t, err)
	assert.Nil(t, ds, "failed sales must not touch aggregates")
}

func TestRecordSale_UnknownStaffGetsPlaceholderName(t *testing.T) {
	rec, _ := newRecorder(t)

	tx, err := rec.RecordSale(context.Background(), engine.SaleInput{
		ProductCode: "APPLE",
		WeightGrams: dec("100"),
		StaffID:     "ghost",
		OccurredAt:  at("2025-08-14", 9),
	})
	require.NoError(t, err)
	assert.Equal(t, engine.UnknownStaffName, tx.StaffName)
}

// =============================================================================
// RETURNS
// =============================================================================

func TestMarkReturned_ReversesAggregatesOnce(t *testing.T) {
	// GIVEN: Two recorded sales
	// WHEN: One is marked returned
	// THEN: Its contribution is reversed; a second return attempt fails

	rec, store := newRecorder(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")

	tx1, err := rec.RecordSale(ctx, engine.SaleInput{
		ProductCode: "APPLE", WeightGrams: dec("181"), StaffID: "s1", OccurredAt: at(day, 10),
	})
	require.NoError(t, err)
	_, err = rec.RecordSale(ctx, engine.SaleInput{
		ProductCode: "APPLE", WeightGrams: dec("301"), StaffID: "s2", OccurredAt: at(day, 11),
	})
	require.NoError(t, err)
	require.True(t, dailyTotal(t, store, day).Equal(dec("120.50")))

	require.NoError(t, rec.MarkReturned(ctx, tx1.ID))

	assert.True(t, dailyTotal(t, store, day).Equal(dec("75.25")))

	got, err := store.GetTransaction(ctx, tx1.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, engine.StatusReturnedPreBilling, got.Status)

	// One-way, at most once.
	err = rec.MarkReturned(ctx, tx1.ID)
	var vErr *engine.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.True(t, dailyTotal(t, store, day).Equal(dec("75.25")), "total must not move on the failed retry")
}

func TestMarkReturned_MissingTransaction(t *testing.T) {
	rec, _ := newRecorder(t)
	err := rec.MarkReturned(context.Background(), "no-such-tx")
	assert.True(t, engine.IsNotFound(err))
}

func TestReturnedSale_InvisibleToReconciliation(t *testing.T) {
	// GIVEN: A returned sale
	// WHEN: The day is reconciled from scratch
	// THEN: The rebuilt aggregates match the post-return state

	rec, store := newRecorder(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")

	tx1, err := rec.RecordSale(ctx, engine.SaleInput{
		ProductCode: "APPLE", WeightGrams: dec("200"), StaffID: "s1", OccurredAt: at(day, 10),
	})
	require.NoError(t, err)
	_, err = rec.RecordSale(ctx, engine.SaleInput{
		ProductCode: "APPLE", WeightGrams: dec("100"), StaffID: "s1", OccurredAt: at(day, 12),
	})
	require.NoError(t, err)
	require.NoError(t, rec.MarkReturned(ctx, tx1.ID))
	afterReturn := dailyTotal(t, store, day)

	_, err = engine.NewReconciler(store.Store, nil).ReconcileDay(ctx, day, 10)
	require.NoError(t, err)

	assert.True(t, dailyTotal(t, store, day).Equal(afterReturn))
}
