/*
reconciler.go - The Batch Reconciler

PURPOSE:
  Drives paginated consumption of one calendar day's SOLD transactions and
  folds them into the three aggregate families. Re-running the full
  reconciliation for a day is idempotent: the first page of a fresh run
  deletes the day's existing aggregates before recomputation.

FIRST-PAGE CONTRACT:
  The FirstPage flag is caller-supplied, not derived. The caller must set
  it on page 1 of a fresh run and ONLY there: setting it on a later page
  silently destroys the progress of the pages already applied. ReconcileDay
  drives the flag correctly; callers paging manually carry the burden.

CURSOR SEMANTICS:
  Pages are fetched in ascending id order strictly after the supplied
  cursor. A cursor whose id was deleted concurrently restarts from the
  beginning of the ordering (the store handles this), which is safe because
  re-applying a rebuilt day is idempotent only across whole runs - hence
  the restart rather than a guess.

FAILURE MODEL:
  A malformed transaction inside a page is skipped and logged; the rest of
  the page still aggregates. IndexRequiredError from the store is surfaced
  verbatim. There is no cross-page atomicity: an interrupted run resumes
  with the returned cursor and FirstPage=false.
*/
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPageSize bounds a reconciliation page when the caller passes 0.
const DefaultPageSize = 200

// Reconciler rebuilds a day's aggregates from its transaction log.
type Reconciler struct {
	Store Store
	Log   *zap.Logger
}

func NewReconciler(store Store, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{Store: store, Log: log}
}

// PageInput identifies one page of a reconciliation run.
type PageInput struct {
	Day       DayKey
	PageSize  int
	AfterID   TransactionID // resume cursor; empty starts from the beginning
	FirstPage bool          // true on page 1 of a fresh run ONLY
}

// PageResult reports one page's outcome.
type PageResult struct {
	Processed  int
	Skipped    int
	Touched    int // aggregate records written
	NextCursor TransactionID
	Done       bool // fewer transactions than PageSize were available
	Errors     []string
}

// ReconcilePage processes the next page of the day's transactions.
func (r *Reconciler) ReconcilePage(ctx context.Context, in PageInput) (PageResult, error) {
	var res PageResult

	if in.Day == "" {
		return res, &ValidationError{Field: "day", Message: "required"}
	}
	pageSize := in.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	// The delete-then-rebuild step must complete before any increment for
	// the day is applied, otherwise a partial rebuild can double-count.
	if in.FirstPage {
		if err := r.Store.DeleteDayAggregates(ctx, in.Day); err != nil {
			return res, err
		}
		r.Log.Info("cleared day aggregates for rebuild", zap.String("day", in.Day.String()))
	}

	page, err := r.Store.GetTransactionsByDate(ctx, in.Day, in.AfterID, pageSize)
	if err != nil {
		return res, err // IndexRequiredError surfaces verbatim
	}
	res.Done = len(page) < pageSize
	res.NextCursor = in.AfterID

	var (
		applicable []Transaction
		deltas     []ProductDelta
	)
	for _, tx := range page {
		res.NextCursor = tx.ID

		if tx.SaleDate != in.Day {
			// The page query is keyed by sale date, so a mismatch
			// means a corrupt record, not a fatal batch error.
			res.Skipped++
			r.Log.Warn("transaction sale date does not match requested day",
				zap.String("transaction", string(tx.ID)),
				zap.String("saleDate", tx.SaleDate.String()),
				zap.String("requested", in.Day.String()))
			continue
		}
		if !tx.Status.CountsTowardAggregates() {
			res.Skipped++
			continue
		}
		if missing := missingFields(tx); len(missing) > 0 {
			res.Skipped++
			err := &IncompleteRecordError{TransactionID: tx.ID, Missing: missing}
			res.Errors = append(res.Errors, err.Error())
			r.Log.Warn("skipping incomplete transaction", zap.String("transaction", string(tx.ID)), zap.Error(err))
			continue
		}

		applicable = append(applicable, tx)
		deltas = append(deltas, ProductIncrementFor(tx, +1))
	}

	if len(applicable) > 0 {
		// One atomic read-modify-write covers the whole page for the
		// shared daily and staff documents.
		err := r.Store.UpdateDaySummaries(ctx, in.Day, func(ds *DailySummary, ss *StaffDailySummary) error {
			for _, tx := range applicable {
				ApplyMergedReplace(ds, ss, tx, +1)
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		res.Touched += 2

		for _, delta := range MergeProductDeltas(deltas) {
			if err := r.Store.IncrementProductDaily(ctx, delta); err != nil {
				return res, err
			}
			res.Touched++
		}
	}

	res.Processed = len(applicable)
	return res, nil
}

// ReconcileDay drives a complete fresh run for one day, page by page, and
// records the run for operators. The first-page flag is set on page 1
// only.
func (r *Reconciler) ReconcileDay(ctx context.Context, day DayKey, pageSize int) (BatchResult, error) {
	run := ReconciliationRun{
		ID:        uuid.NewString(),
		Day:       day,
		StartedAt: time.Now().UTC(),
		Status:    RunCompleted,
	}
	var result BatchResult

	cursor := TransactionID("")
	first := true
	for {
		page, err := r.ReconcilePage(ctx, PageInput{
			Day:       day,
			PageSize:  pageSize,
			AfterID:   cursor,
			FirstPage: first,
		})
		result.Processed += page.Processed
		result.Skipped += page.Skipped
		result.Errors = append(result.Errors, page.Errors...)
		run.Pages++

		if err != nil {
			run.Status = RunFailed
			run.Error = err.Error()
			run.Processed, run.Skipped = result.Processed, result.Skipped
			run.CompletedAt = time.Now().UTC()
			if saveErr := r.Store.SaveReconciliationRun(ctx, run); saveErr != nil {
				r.Log.Warn("failed to record reconciliation run", zap.Error(saveErr))
			}
			return result, err
		}

		first = false
		cursor = page.NextCursor
		if page.Done {
			break
		}
	}

	run.Processed, run.Skipped = result.Processed, result.Skipped
	run.CompletedAt = time.Now().UTC()
	if err := r.Store.SaveReconciliationRun(ctx, run); err != nil {
		r.Log.Warn("failed to record reconciliation run", zap.Error(err))
	}

	r.Log.Info("reconciliation run complete",
		zap.String("day", day.String()),
		zap.Int("pages", run.Pages),
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped))
	return result, nil
}
