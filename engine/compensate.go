/*
compensate.go - The Deletion Compensator

PURPOSE:
  Reverses one transaction's contribution to all three aggregate families
  and then deletes the transaction record, all inside one atomic store
  operation. Uses the same Aggregate Writer as the forward path, with the
  sign negated.

STATUS COUPLING:
  Only SOLD transactions are reversed. A non-SOLD transaction is deleted
  directly: its status guarantees zero net contribution in the SOLD
  aggregates (returns either never contributed, or were reversed when the
  status flipped - see SalesRecorder.MarkReturned). This invariant is
  enforced at the single point where status changes.

FAILURE MODEL:
  A missing transaction fails with NotFoundError. A SOLD transaction with
  required fields absent fails with IncompleteRecordError and aborts the
  whole delete: silently under-reversing would leave the aggregates
  inconsistent forever.
*/
package engine

import (
	"context"

	"go.uber.org/zap"
)

// Compensator reverses and deletes transactions.
type Compensator struct {
	Store Store
	Log   *zap.Logger
}

func NewCompensator(store Store, log *zap.Logger) *Compensator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Compensator{Store: store, Log: log}
}

// DeleteTransaction removes one transaction, reversing its aggregate
// contribution first when its status is SOLD.
func (c *Compensator) DeleteTransaction(ctx context.Context, id TransactionID) error {
	return c.Store.WithTx(ctx, func(s Store) error {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return &NotFoundError{Kind: "transaction", Key: string(id)}
		}

		if !tx.Status.CountsTowardAggregates() {
			// Never counted; delete directly.
			return s.DeleteTransaction(ctx, id)
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

		if err := s.DeleteTransaction(ctx, id); err != nil {
			return err
		}

		c.Log.Info("transaction deleted with aggregate reversal",
			zap.String("transaction", string(id)),
			zap.String("day", tx.SaleDate.String()),
			zap.String("product", string(tx.ProductCode)))
		return nil
	})
}
