package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/goldleaf/retail-engine/engine"
	enginestore "github.com/goldleaf/retail-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *enginestore.Memory {
	t.Helper()
	m := enginestore.NewMemory()
	m.SeedProduct(engine.ProductMetadata{
		Code:             "APPLE",
		Name:             "Apples",
		SellingRatePerKg: dec("250.00"),
	})
	m.SeedProduct(engine.ProductMetadata{
		Code:             "MANGO",
		Name:             "Mangoes",
		SellingRatePerKg: dec("150.00"),
	})
	m.SeedStaff("s1", "Asha")
	m.SeedStaff("s2", "Bilal")
	return m
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("bad decimal literal %q: %v", s, err))
	}
	return d
}

var txSeq int

// saleTx builds a SOLD transaction with the line value derived from
// weight and rate, occurring at the given hour of the given day.
func saleTx(code engine.ProductCode, name, grams, ratePerKg string, staffID engine.StaffID, staffName string, day engine.DayKey, hour int) engine.Transaction {
	txSeq++
	occurred := day.Time().Add(time.Duration(hour) * time.Hour)
	weight := dec(grams)
	rate := dec(ratePerKg)
	return engine.Transaction{
		ID:               engine.TransactionID(fmt.Sprintf("tx-%04d", txSeq)),
		ProductCode:      code,
		ProductName:      name,
		WeightGrams:      weight,
		SellingRatePerKg: rate,
		LineValue:        engine.LineValueFor(weight, rate),
		StaffID:          staffID,
		StaffName:        staffName,
		Status:           engine.StatusSold,
		OccurredAt:       occurred,
		SaleDate:         day,
		CreatedAt:        occurred,
	}
}

func appleTx(grams string, staffID engine.StaffID, day engine.DayKey, hour int) engine.Transaction {
	name := "Asha"
	if staffID == "s2" {
		name = "Bilal"
	}
	return saleTx("APPLE", "Apples", grams, "250.00", staffID, name, day, hour)
}

func putAll(t *testing.T, store engine.Store, txs ...engine.Transaction) {
	t.Helper()
	ctx := context.Background()
	for _, tx := range txs {
		require.NoError(t, store.PutTransaction(ctx, tx))
	}
}

func dailyTotal(t *testing.T, store engine.Store, day engine.DayKey) decimal.Decimal {
	t.Helper()
	ds, err := store.GetDailySummary(context.Background(), day)
	require.NoError(t, err)
	if ds == nil {
		return decimal.Zero
	}
	return ds.TotalValue
}
