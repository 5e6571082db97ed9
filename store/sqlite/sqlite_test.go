package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldleaf/retail-engine/engine"
	"github.com/goldleaf/retail-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleTx(id string, day engine.DayKey) engine.Transaction {
	weight := dec("181")
	rate := dec("250.00")
	return engine.Transaction{
		ID:               engine.TransactionID(id),
		ProductCode:      "APPLE",
		ProductName:      "Apples",
		WeightGrams:      weight,
		SellingRatePerKg: rate,
		LineValue:        engine.LineValueFor(weight, rate),
		StaffID:          "s1",
		StaffName:        "Asha",
		Status:           engine.StatusSold,
		OccurredAt:       day.Time().Add(10 * time.Hour),
		SaleDate:         day,
		CreatedAt:        day.Time(),
	}
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func TestSQLite_TransactionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")

	want := sampleTx("tx-1", day)
	require.NoError(t, store.PutTransaction(ctx, want))

	got, err := store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.True(t, got.WeightGrams.Equal(dec("181")))
	assert.True(t, got.LineValue.Equal(dec("45.25")))
	assert.Equal(t, engine.StatusSold, got.Status)
	assert.Equal(t, day, got.SaleDate)

	missing, err := store.GetTransaction(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_UpdateStatusAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")

	require.NoError(t, store.PutTransaction(ctx, sampleTx("tx-1", day)))
	require.NoError(t, store.UpdateTransactionStatus(ctx, "tx-1", engine.StatusReturnedPreBilling))

	got, err := store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusReturnedPreBilling, got.Status)

	err = store.UpdateTransactionStatus(ctx, "ghost", engine.StatusSold)
	assert.True(t, engine.IsNotFound(err))

	require.NoError(t, store.DeleteTransaction(ctx, "tx-1"))
	got, err = store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_PagingByDayWithCursor(t *testing.T) {
	// GIVEN: Five transactions on one day and one on another
	// WHEN: Paged two at a time
	// THEN: Ascending id order, day-scoped, no repeats

	store := newTestStore(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.PutTransaction(ctx, sampleTx(fmt.Sprintf("tx-%d", i), day)))
	}
	require.NoError(t, store.PutTransaction(ctx, sampleTx("tx-other", "2025-08-15")))

	var seen []engine.TransactionID
	cursor := engine.TransactionID("")
	for {
		page, err := store.GetTransactionsByDate(ctx, day, cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, tx := range page {
			seen = append(seen, tx.ID)
			cursor = tx.ID
		}
		if len(page) < 2 {
			break
		}
	}

	require.Len(t, seen, 5)
	assert.NotContains(t, seen, engine.TransactionID("tx-other"))
	for i := 1; i < len(seen); i++ {
		assert.Less(t, string(seen[i-1]), string(seen[i]))
	}
}

func TestSQLite_DeletedCursorRestartsFromBeginning(t *testing.T) {
	// GIVEN: A page cursor whose transaction was deleted mid-run
	// WHEN: The next page is requested
	// THEN: The scan restarts from the beginning of the day

	store := newTestStore(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.PutTransaction(ctx, sampleTx(fmt.Sprintf("tx-%d", i), day)))
	}

	page, err := store.GetTransactionsByDate(ctx, day, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	require.NoError(t, store.DeleteTransaction(ctx, "tx-2"))

	next, err := store.GetTransactionsByDate(ctx, day, "tx-2", 10)
	require.NoError(t, err)
	require.Len(t, next, 2, "restart should re-read from the start")
	assert.Equal(t, engine.TransactionID("tx-1"), next[0].ID)
}

func TestSQLite_MissingIndexFailsFast(t *testing.T) {
	// GIVEN: A store whose schema was never migrated
	// WHEN: A range query runs
	// THEN: IndexRequiredError, not a slow scan or SQL error

	store, err := sqlite.NewWithoutMigrate(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.GetTransactionsByDate(context.Background(), "2025-08-14", "", 10)
	var idxErr *engine.IndexRequiredError
	require.ErrorAs(t, err, &idxErr)
	assert.True(t, errors.Is(err, engine.ErrIndexRequired))
}

// =============================================================================
// DAY SUMMARIES
// =============================================================================

func TestSQLite_UpdateDaySummariesPersistsAndPrunes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")
	tx := sampleTx("tx-1", day)

	require.NoError(t, store.UpdateDaySummaries(ctx, day, func(ds *engine.DailySummary, ss *engine.StaffDailySummary) error {
		engine.ApplyMergedReplace(ds, ss, tx, +1)
		return nil
	}))

	ds, err := store.GetDailySummary(ctx, day)
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.True(t, ds.TotalValue.Equal(dec("45.25")))
	assert.Equal(t, 1, ds.Hourly[10].Count)

	ss, err := store.GetStaffDailySummary(ctx, day)
	require.NoError(t, err)
	require.NotNil(t, ss)
	assert.True(t, ss.Staff["s1"].TotalValue.Equal(dec("45.25")))

	// Reversing the only contribution prunes both records.
	require.NoError(t, store.UpdateDaySummaries(ctx, day, func(ds *engine.DailySummary, ss *engine.StaffDailySummary) error {
		engine.ApplyMergedReplace(ds, ss, tx, -1)
		return nil
	}))

	ds, err = store.GetDailySummary(ctx, day)
	require.NoError(t, err)
	assert.Nil(t, ds)
	ss, err = store.GetStaffDailySummary(ctx, day)
	require.NoError(t, err)
	assert.Nil(t, ss)
}

func TestSQLite_ProductIncrementsAccumulateAndPrune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")

	delta := engine.ProductDelta{
		Date: day, ProductCode: "APPLE", ProductName: "Apples",
		WeightGrams: dec("181"), Value: dec("45.25"), Count: 1,
	}
	require.NoError(t, store.IncrementProductDaily(ctx, delta))
	require.NoError(t, store.IncrementProductDaily(ctx, delta))

	ps, err := store.GetProductDailySummary(ctx, day, "APPLE")
	require.NoError(t, err)
	require.NotNil(t, ps)
	assert.True(t, ps.TotalWeightGrams.Equal(dec("362")))
	assert.True(t, ps.TotalValue.Equal(dec("90.50")))
	assert.Equal(t, 2, ps.TotalCount)

	neg := delta
	neg.WeightGrams = delta.WeightGrams.Neg()
	neg.Value = delta.Value.Neg()
	neg.Count = -1
	require.NoError(t, store.IncrementProductDaily(ctx, neg))
	require.NoError(t, store.IncrementProductDaily(ctx, neg))

	ps, err = store.GetProductDailySummary(ctx, day, "APPLE")
	require.NoError(t, err)
	assert.Nil(t, ps, "zeroed row should be pruned")
}

func TestSQLite_DeleteDayAggregatesClearsAllFamilies(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")
	tx := sampleTx("tx-1", day)

	require.NoError(t, store.UpdateDaySummaries(ctx, day, func(ds *engine.DailySummary, ss *engine.StaffDailySummary) error {
		engine.ApplyMergedReplace(ds, ss, tx, +1)
		return nil
	}))
	require.NoError(t, store.IncrementProductDaily(ctx, engine.ProductIncrementFor(tx, +1)))

	require.NoError(t, store.DeleteDayAggregates(ctx, day))

	ds, _ := store.GetDailySummary(ctx, day)
	ss, _ := store.GetStaffDailySummary(ctx, day)
	ps, _ := store.GetProductDailySummary(ctx, day, "APPLE")
	assert.Nil(t, ds)
	assert.Nil(t, ss)
	assert.Nil(t, ps)
}

func TestSQLite_ProductRangeScan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, day := range []engine.DayKey{"2025-07-31", "2025-08-01", "2025-08-31", "2025-09-01"} {
		require.NoError(t, store.IncrementProductDaily(ctx, engine.ProductDelta{
			Date: day, ProductCode: "APPLE", ProductName: "Apples",
			WeightGrams: dec("1000"), Value: dec("250.00"), Count: 1,
		}))
	}

	rows, err := store.ListProductDailyRange(ctx, "APPLE", "2025-08-01", "2025-08-31")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, engine.DayKey("2025-08-01"), rows[0].Date)
	assert.Equal(t, engine.DayKey("2025-08-31"), rows[1].Date)

	codes, err := store.ListProductCodesSoldInRange(ctx, "2025-08-01", "2025-08-31")
	require.NoError(t, err)
	assert.Equal(t, []engine.ProductCode{"APPLE"}, codes)
}

// =============================================================================
// LEDGERS, TARGETS, RUNS
// =============================================================================

func TestSQLite_LedgerRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ledger := engine.StockLedger{
		ProductCode:    "APPLE",
		Month:          "2025-08",
		OpeningStockKg: dec("10"),
		Restocks: map[string]engine.RestockEntry{
			"k1": {Date: "2025-08-05", QuantityKg: dec("50"), Notes: "weekly"},
		},
		TotalRestockedKg: dec("50"),
		TotalSoldKg:      dec("17.5"),
	}
	ledger.Recompute()
	require.NoError(t, store.PutLedger(ctx, ledger))

	got, err := store.GetLedger(ctx, "APPLE", "2025-08")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.ClosingStockKg.Equal(dec("42.5")))
	require.Len(t, got.Restocks, 1)
	assert.True(t, got.Restocks["k1"].QuantityKg.Equal(dec("50")))

	missing, err := store.GetLedger(ctx, "APPLE", "2025-09")
	require.NoError(t, err)
	assert.Nil(t, missing)

	ledgers, err := store.ListLedgers(ctx, "2025-08", "", 10)
	require.NoError(t, err)
	assert.Len(t, ledgers, 1)
}

func TestSQLite_WeeklyTargetsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	windows := engine.MonthKey("2025-08").WeekWindows()
	sheet := engine.WeeklyTargetSheet{
		Month: "2025-08",
		Weeks: []engine.WeekTarget{{
			Window:  windows[0],
			Overall: dec("5000"),
			Staff: map[engine.StaffID]engine.StaffTarget{
				"s1": {Target: dec("500.00"), IncentivePct: dec("10")},
			},
		}},
	}
	require.NoError(t, store.SaveWeeklyTargets(ctx, sheet))

	got, err := store.GetWeeklyTargets(ctx, "2025-08")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Weeks, 1)
	assert.True(t, got.Weeks[0].Staff["s1"].Target.Equal(dec("500.00")))

	missing, err := store.GetWeeklyTargets(ctx, "2025-09")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_ReconciliationRunUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := engine.ReconciliationRun{
		ID: "run-1", Day: "2025-08-14", Status: engine.RunCompleted,
		Pages: 2, Processed: 10, StartedAt: time.Now().UTC(), CompletedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveReconciliationRun(ctx, run))
	run.Processed = 12
	require.NoError(t, store.SaveReconciliationRun(ctx, run))

	runs, err := store.ListReconciliationRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 12, runs[0].Processed)
}

// =============================================================================
// DIRECTORY AND TRANSACTIONS
// =============================================================================

func TestSQLite_Directory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProduct(ctx, engine.ProductMetadata{
		Code: "APPLE", Name: "Apples", SellingRatePerKg: dec("250.00"),
	}))
	require.NoError(t, store.SaveStaff(ctx, "s1", "Asha"))

	meta, err := store.GetProductMetadata(ctx, "APPLE")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.True(t, meta.SellingRatePerKg.Equal(dec("250.00")))

	missing, err := store.GetProductMetadata(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)

	name, err := store.GetStaffName(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Asha", name)

	name, err = store.GetStaffName(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, engine.UnknownStaffName, name)
}

func TestSQLite_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: A transactional write that fails midway
	// WHEN: The callback returns an error
	// THEN: Nothing it wrote is visible

	store := newTestStore(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(s engine.Store) error {
		if err := s.PutTransaction(ctx, sampleTx("tx-1", day)); err != nil {
			return err
		}
		if err := s.IncrementProductDaily(ctx, engine.ProductIncrementFor(sampleTx("tx-1", day), +1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	tx, err := store.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Nil(t, tx)

	ps, err := store.GetProductDailySummary(ctx, day, "APPLE")
	require.NoError(t, err)
	assert.Nil(t, ps)
}

func TestSQLite_WithTxCommitsAtomically(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := engine.DayKey("2025-08-14")
	tx := sampleTx("tx-1", day)

	err := store.WithTx(ctx, func(s engine.Store) error {
		if err := s.PutTransaction(ctx, tx); err != nil {
			return err
		}
		if err := s.UpdateDaySummaries(ctx, day, func(ds *engine.DailySummary, ss *engine.StaffDailySummary) error {
			engine.ApplyMergedReplace(ds, ss, tx, +1)
			return nil
		}); err != nil {
			return err
		}
		return s.IncrementProductDaily(ctx, engine.ProductIncrementFor(tx, +1))
	})
	require.NoError(t, err)

	ds, err := store.GetDailySummary(ctx, day)
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.True(t, ds.TotalValue.Equal(dec("45.25")))
}
