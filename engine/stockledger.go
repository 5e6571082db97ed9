/*
stockledger.go - The Monthly Stock Ledger

PURPOSE:
  Maintains one inventory accounting record per (product, month): opening
  stock carried forward from the prior month's closing stock, restock
  events, total sold (synced from the per-product daily aggregates), and a
  derived closing stock.

CARRY-FORWARD:
  Strictly backward-only and resolved lazily at first access: initializing
  April looks at March's ledger and nothing further back. A missing prior
  month defaults opening stock to 0 - a documented policy, logged when it
  happens, not silently masked.

SALES SYNC:
  TotalSoldKg is recomputed by summing the product's daily aggregates over
  the month's date range, replacing (never accumulating) the stored
  figure. Safe to run any number of times.

CONCURRENCY:
  Every mutation is one atomic read-modify-write keyed by the specific
  (product, month) document, so different products never contend and the
  same key serializes through the store's transaction.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockKeeper owns all monthly stock ledger mutations.
type StockKeeper struct {
	Store Store
	Log   *zap.Logger
}

func NewStockKeeper(store Store, log *zap.Logger) *StockKeeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &StockKeeper{Store: store, Log: log}
}

// GetLedger returns the ledger for (product, month), materializing it with
// carried-forward opening stock on first access.
func (k *StockKeeper) GetLedger(ctx context.Context, code ProductCode, month MonthKey) (*StockLedger, error) {
	var ledger *StockLedger
	err := k.Store.WithTx(ctx, func(s Store) error {
		var err error
		ledger, err = k.ensure(ctx, s, code, month)
		return err
	})
	return ledger, err
}

// ensure loads the ledger or creates it from the prior month's closing
// stock. Must run inside the caller's store transaction.
func (k *StockKeeper) ensure(ctx context.Context, s Store, code ProductCode, month MonthKey) (*StockLedger, error) {
	if code == "" {
		return nil, &ValidationError{Field: "productCode", Message: "required"}
	}

	ledger, err := s.GetLedger(ctx, code, month)
	if err != nil {
		return nil, err
	}
	if ledger != nil {
		return ledger, nil
	}

	opening := decimal.Zero
	prev, err := s.GetLedger(ctx, code, month.Prev())
	if err != nil {
		return nil, err
	}
	if prev != nil {
		opening = prev.ClosingStockKg
	} else {
		// Policy: a missing prior month defaults opening stock to 0. This
		// can mask a month that was never created, so it is logged rather
		// than silent.
		k.Log.Info("no prior ledger, opening stock defaults to zero",
			zap.String("product", string(code)),
			zap.String("month", month.String()))
	}

	ledger = &StockLedger{
		ProductCode:      code,
		Month:            month,
		OpeningStockKg:   opening,
		Restocks:         make(map[string]RestockEntry),
		TotalRestockedKg: decimal.Zero,
		TotalSoldKg:      decimal.Zero,
		UpdatedAt:        time.Now().UTC(),
	}
	ledger.Recompute()

	if err := s.PutLedger(ctx, *ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

// AddRestock records a restock event. The entry key is derived from the
// current timestamp plus a random suffix, so entries are never
// overwritten.
func (k *StockKeeper) AddRestock(ctx context.Context, code ProductCode, month MonthKey, date DayKey, quantityKg decimal.Decimal, notes string) (*StockLedger, error) {
	if !quantityKg.IsPositive() {
		return nil, &ValidationError{Field: "quantityKg", Message: "must be positive"}
	}
	if !month.ContainsDay(date) {
		return nil, &ValidationError{Field: "date", Message: fmt.Sprintf("not within month %s", month)}
	}

	var ledger *StockLedger
	err := k.Store.WithTx(ctx, func(s Store) error {
		l, err := k.ensure(ctx, s, code, month)
		if err != nil {
			return err
		}

		entryKey := fmt.Sprintf("%d-%s", time.Now().UTC().UnixNano(), uuid.NewString()[:8])
		l.Restocks[entryKey] = RestockEntry{Date: date, QuantityKg: Round3(quantityKg), Notes: notes}
		l.TotalRestockedKg = Round3(l.TotalRestockedKg.Add(quantityKg))
		l.Recompute()
		l.UpdatedAt = time.Now().UTC()

		if err := s.PutLedger(ctx, *l); err != nil {
			return err
		}
		ledger = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	k.Log.Info("restock recorded",
		zap.String("product", string(code)),
		zap.String("month", month.String()),
		zap.String("quantityKg", quantityKg.String()))
	return ledger, nil
}

// SyncSales recomputes the month's sold total from the per-product daily
// aggregates. Idempotent: the figure is replaced, not accumulated.
func (k *StockKeeper) SyncSales(ctx context.Context, code ProductCode, month MonthKey) (*StockLedger, error) {
	first, last := month.Days()

	var ledger *StockLedger
	err := k.Store.WithTx(ctx, func(s Store) error {
		l, err := k.ensure(ctx, s, code, month)
		if err != nil {
			return err
		}

		rows, err := s.ListProductDailyRange(ctx, code, first, last)
		if err != nil {
			return err // IndexRequiredError surfaces verbatim
		}

		soldGrams := decimal.Zero
		for _, row := range rows {
			soldGrams = soldGrams.Add(row.TotalWeightGrams)
		}
		l.TotalSoldKg = Round3(soldGrams.Div(decimal.NewFromInt(1000)))
		l.Recompute()
		l.UpdatedAt = time.Now().UTC()

		if err := s.PutLedger(ctx, *l); err != nil {
			return err
		}
		ledger = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// SyncMonth runs the sales sync for every product sold in the month.
// Failures on individual products are reported, not fatal.
func (k *StockKeeper) SyncMonth(ctx context.Context, month MonthKey) (BatchResult, error) {
	var result BatchResult

	first, last := month.Days()
	codes, err := k.Store.ListProductCodesSoldInRange(ctx, first, last)
	if err != nil {
		return result, err
	}

	for _, code := range codes {
		if _, err := k.SyncSales(ctx, code, month); err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", code, err))
			k.Log.Warn("sales sync failed for product",
				zap.String("product", string(code)), zap.Error(err))
			continue
		}
		result.Processed++
	}
	return result, nil
}

// CorrectOpeningStock applies a manager override of the opening stock and
// recomputes closing stock. The next month's opening stock is not touched
// until that month is itself re-initialized or re-synced.
func (k *StockKeeper) CorrectOpeningStock(ctx context.Context, code ProductCode, month MonthKey, openingKg decimal.Decimal) (*StockLedger, error) {
	if openingKg.IsNegative() {
		return nil, &ValidationError{Field: "openingStockKg", Message: "must not be negative"}
	}

	var ledger *StockLedger
	err := k.Store.WithTx(ctx, func(s Store) error {
		l, err := k.ensure(ctx, s, code, month)
		if err != nil {
			return err
		}
		l.OpeningStockKg = Round3(openingKg)
		l.Recompute()
		l.UpdatedAt = time.Now().UTC()

		if err := s.PutLedger(ctx, *l); err != nil {
			return err
		}
		ledger = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	k.Log.Info("opening stock corrected",
		zap.String("product", string(code)),
		zap.String("month", month.String()),
		zap.String("openingKg", openingKg.String()))
	return ledger, nil
}

// ListLedgers pages through a month's ledgers.
func (k *StockKeeper) ListLedgers(ctx context.Context, month MonthKey, afterCode ProductCode, limit int) ([]StockLedger, error) {
	if limit <= 0 {
		limit = 50
	}
	return k.Store.ListLedgers(ctx, month, afterCode, limit)
}
