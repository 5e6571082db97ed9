/*
store.go - Persistence interfaces for events, aggregates, ledgers, targets

PURPOSE:
  Defines the interface between the domain logic and the database.
  The store offers per-record atomic operations but no cross-record global
  transaction; the engine composes consistency out of the two update
  primitives below.

UPDATE PRIMITIVES (the increment-vs-replace duality):
  UpdateDaySummaries:    atomic read-modify-write over the shared
                         (DailySummary, StaffDailySummary) pair for one
                         day. Writers that lose the optimistic race are
                         retried by the store; exhausted retries surface
                         ConflictError.
  IncrementProductDaily: commutative blind increment against one
                         (date, product) key. Safe for any number of
                         concurrent writers without a prior read.

CURSOR CONTRACT:
  GetTransactionsByDate returns pages in ascending id order strictly after
  the supplied cursor. If the cursor id no longer exists (deleted
  concurrently), the store restarts from the beginning of the ordering for
  safety.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store (sqlx, WAL)
  - engine/store: in-memory store for tests and development
*/
package engine

import "context"

// =============================================================================
// EVENT STORE - The immutable transaction log
// =============================================================================

type EventStore interface {
	// PutTransaction persists a new transaction.
	PutTransaction(ctx context.Context, tx Transaction) error

	// GetTransaction returns the transaction, or (nil, nil) if absent.
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// UpdateTransactionStatus flips the status field. The caller is
	// responsible for adjusting aggregate contributions first.
	UpdateTransactionStatus(ctx context.Context, id TransactionID, status TransactionStatus) error

	// DeleteTransaction removes the record. Only the Deletion Compensator
	// may call this, inside WithTx, after reversing contributions.
	DeleteTransaction(ctx context.Context, id TransactionID) error

	// GetTransactionsByDate returns up to pageSize transactions for the
	// day, in ascending id order strictly after afterID. An empty afterID
	// (or a cursor that no longer exists) starts from the beginning.
	// Surfaces IndexRequiredError when the (sale_date, id) ordering index
	// is missing.
	GetTransactionsByDate(ctx context.Context, day DayKey, afterID TransactionID, pageSize int) ([]Transaction, error)
}

// =============================================================================
// AGGREGATE STORE - The three aggregate families
// =============================================================================

type AggregateStore interface {
	// GetDailySummary returns the summary, or (nil, nil) if absent.
	// Readers that want zero-valued defaults use NewDailySummary.
	GetDailySummary(ctx context.Context, day DayKey) (*DailySummary, error)

	GetStaffDailySummary(ctx context.Context, day DayKey) (*StaffDailySummary, error)

	GetProductDailySummary(ctx context.Context, day DayKey, code ProductCode) (*ProductDailySummary, error)

	// ListProductDailyByDay returns all per-product records for one day.
	ListProductDailyByDay(ctx context.Context, day DayKey) ([]ProductDailySummary, error)

	// UpdateDaySummaries runs fn inside one atomic read-modify-write over
	// the day's DailySummary and StaffDailySummary pair. Both records are
	// lazily materialized as zero-valued if absent, and pruned again if fn
	// leaves them empty. Returns ConflictError when optimistic retries are
	// exhausted.
	UpdateDaySummaries(ctx context.Context, day DayKey, fn func(*DailySummary, *StaffDailySummary) error) error

	// IncrementProductDaily applies a commutative delta to one
	// (date, product) record, materializing or pruning it as needed.
	IncrementProductDaily(ctx context.Context, delta ProductDelta) error

	// DeleteDayAggregates clears all three families for the day. Used by
	// the reconciler's first-page rebuild step.
	DeleteDayAggregates(ctx context.Context, day DayKey) error

	// ListProductDailyRange returns one product's records across a date
	// range in ascending date order. Surfaces IndexRequiredError when the
	// (product_code, date) index is missing.
	ListProductDailyRange(ctx context.Context, code ProductCode, from, to DayKey) ([]ProductDailySummary, error)

	// ListProductCodesSoldInRange returns the distinct product codes with
	// any ProductDailySummary in [from, to].
	ListProductCodesSoldInRange(ctx context.Context, from, to DayKey) ([]ProductCode, error)
}

// =============================================================================
// LEDGER STORE - Monthly stock ledgers
// =============================================================================

type LedgerStore interface {
	// GetLedger returns the ledger, or (nil, nil) if absent.
	GetLedger(ctx context.Context, code ProductCode, month MonthKey) (*StockLedger, error)

	// PutLedger upserts the full ledger document.
	PutLedger(ctx context.Context, l StockLedger) error

	// ListLedgers pages through a month's ledgers in ascending product
	// code order strictly after afterCode.
	ListLedgers(ctx context.Context, month MonthKey, afterCode ProductCode, limit int) ([]StockLedger, error)
}

// =============================================================================
// TARGET STORE - Weekly incentive configuration
// =============================================================================

type TargetStore interface {
	// GetWeeklyTargets returns the sheet, or (nil, nil) if not configured.
	GetWeeklyTargets(ctx context.Context, month MonthKey) (*WeeklyTargetSheet, error)

	SaveWeeklyTargets(ctx context.Context, sheet WeeklyTargetSheet) error
}

// =============================================================================
// RUN STORE - Reconciliation run records
// =============================================================================

type RunStore interface {
	SaveReconciliationRun(ctx context.Context, run ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]ReconciliationRun, error)
}

// =============================================================================
// COMPOSITE STORE
// =============================================================================

// Store is the full persistence surface the engine components run on.
type Store interface {
	EventStore
	AggregateStore
	LedgerStore
	TargetStore
	RunStore

	// WithTx executes fn atomically. If fn returns an error the whole
	// operation is rolled back. Used where one logical operation spans the
	// event log and the aggregate families (sale recording, deletion
	// compensation, ledger mutations).
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// DIRECTORY - External product/staff metadata (read-only collaborator)
// =============================================================================

type Directory interface {
	// GetProductMetadata returns the product record, or (nil, nil) if the
	// code is unknown.
	GetProductMetadata(ctx context.Context, code ProductCode) (*ProductMetadata, error)

	// GetStaffName resolves a staff id, returning UnknownStaffName when
	// the id cannot be resolved. Never fails on a missing record.
	GetStaffName(ctx context.Context, id StaffID) (string, error)
}
