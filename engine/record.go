/*
record.go - Sale recording and the status transition point

PURPOSE:
  The forward write path. RecordSale validates input, denormalizes product
  and staff attributes onto the transaction, derives the sale date once,
  and applies the +1 delta to all three aggregate families atomically with
  the event write.

  MarkReturned is the single point where a transaction's status changes.
  Flipping SOLD to RETURNED_PRE_BILLING reverses the aggregate
  contribution in the same atomic operation, which is what lets the
  Deletion Compensator treat every non-SOLD transaction as contribution-
  free.
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SaleInput is the point-of-sale payload for one line.
type SaleInput struct {
	ProductCode ProductCode
	WeightGrams decimal.Decimal
	StaffID     StaffID
	OccurredAt  time.Time
}

// SalesRecorder creates transactions and keeps the aggregates in step.
type SalesRecorder struct {
	Store     Store
	Directory Directory
	Log       *zap.Logger
}

func NewSalesRecorder(store Store, dir Directory, log *zap.Logger) *SalesRecorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &SalesRecorder{Store: store, Directory: dir, Log: log}
}

// RecordSale validates, persists and aggregates one sale. Validation
// errors reject before any write.
func (r *SalesRecorder) RecordSale(ctx context.Context, in SaleInput) (*Transaction, error) {
	if !in.WeightGrams.IsPositive() {
		return nil, &ValidationError{Field: "weightGrams", Message: "must be positive"}
	}
	if in.ProductCode == "" {
		return nil, &ValidationError{Field: "productCode", Message: "required"}
	}
	if in.StaffID == "" {
		return nil, &ValidationError{Field: "staffId", Message: "required"}
	}
	if in.OccurredAt.IsZero() {
		in.OccurredAt = time.Now().UTC()
	}

	meta, err := r.Directory.GetProductMetadata(ctx, in.ProductCode)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, &NotFoundError{Kind: "product", Key: string(in.ProductCode)}
	}
	staffName, err := r.Directory.GetStaffName(ctx, in.StaffID)
	if err != nil {
		return nil, err
	}

	tx := Transaction{
		ID:               TransactionID(uuid.NewString()),
		ProductCode:      in.ProductCode,
		ProductName:      meta.Name,
		WeightGrams:      in.WeightGrams,
		SellingRatePerKg: meta.SellingRatePerKg,
		LineValue:        LineValueFor(in.WeightGrams, meta.SellingRatePerKg),
		StaffID:          in.StaffID,
		StaffName:        staffName,
		Status:           StatusSold,
		OccurredAt:       in.OccurredAt,
		SaleDate:         DayOf(in.OccurredAt),
		CreatedAt:        time.Now().UTC(),
	}

	err = r.Store.WithTx(ctx, func(s Store) error {
		if err := s.PutTransaction(ctx, tx); err != nil {
			return err
		}
		err := s.UpdateDaySummaries(ctx, tx.SaleDate, func(ds *DailySummary, ss *StaffDailySummary) error {
			ApplyMergedReplace(ds, ss, tx, +1)
			return nil
		})
		if err != nil {
			return err
		}
		return s.IncrementProductDaily(ctx, ProductIncrementFor(tx, +1))
	})
	if err != nil {
		return nil, err
	}

	r.Log.Info("sale recorded",
		zap.String("transaction", string(tx.ID)),
		zap.String("product", string(tx.ProductCode)),
		zap.String("staff", string(tx.StaffID)),
		zap.String("value", tx.LineValue.String()))
	return &tx, nil
}

// MarkReturned flips a SOLD transaction to RETURNED_PRE_BILLING, reversing
// its aggregate contribution in the same atomic operation. The transition
// is one-way and happens at most once.
func (r *SalesRecorder) MarkReturned(ctx context.Context, id TransactionID) error {
	return r.Store.WithTx(ctx, func(s Store) error {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return &NotFoundError{Kind: "transaction", Key: string(id)}
		}
		if tx.Status != StatusSold {
			return &ValidationError{Field: "status", Message: "transaction is not SOLD"}
		}
		if missing := missingFields(*tx); len(missing) > 0 {
			return &IncompleteRecordError{TransactionID: id, Missing: missing}
		}

		err = s.UpdateDaySummaries(ctx, tx.SaleDate, func(ds *DailySummary, ss *StaffDailySummary) error {
			ApplyMergedReplace(ds, ss, *tx, -1)
			return nil
		})
		if err != nil {
			return err
		}
		if err := s.IncrementProductDaily(ctx, ProductIncrementFor(*tx, -1)); err != nil {
			return err
		}
		return s.UpdateTransactionStatus(ctx, id, StatusReturnedPreBilling)
	})
}
