/*
Package engine provides the core sales aggregation and stock-ledger engine.

PURPOSE:
  This package contains the domain types and algorithms that turn a stream
  of individual sale/return events into consistent denormalized views
  (per-day, per-staff, per-product, per-hour totals) and maintain a running
  per-product, per-month inventory ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable sale/return event (the source of truth)
  - DailySummary / StaffDailySummary / ProductDailySummary: The three
    aggregate families derived from transactions
  - StockLedger: Per (product, month) inventory accounting
  - WeeklyTargetSheet: Per-staff weekly sales targets and incentive rates

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for all money and weight figures
  2. Idempotency: Aggregates can always be rebuilt from transactions
  3. Type Safety: Strong typing for IDs prevents mixing product/staff keys
  4. Explicit contribution: a transaction's status determines whether it
     counts toward aggregates, enforced at the single point status changes

SEE ALSO:
  - aggregate.go: Delta application to the aggregate families
  - reconciler.go: Paginated, idempotent day reconciliation
  - stockledger.go: Monthly inventory ledger with carry-forward
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type ProductCode string
type StaffID string

// =============================================================================
// TRANSACTION - One sale/return event (immutable except status)
// =============================================================================

type TransactionStatus string

const (
	// StatusSold is a finalized sale. Contributes to all three aggregate
	// families.
	StatusSold TransactionStatus = "SOLD"

	// StatusReturnedPreBilling is an item returned before billing. Carries
	// zero net aggregate contribution: either it never contributed, or its
	// contribution was reversed when the status flipped (see SalesRecorder.MarkReturned).
	StatusReturnedPreBilling TransactionStatus = "RETURNED_PRE_BILLING"
)

// CountsTowardAggregates reports whether a transaction in this status has a
// live contribution in the SOLD aggregates. The Deletion Compensator relies
// on this being false implying zero net contribution.
func (s TransactionStatus) CountsTowardAggregates() bool {
	return s == StatusSold
}

type Transaction struct {
	ID               TransactionID
	ProductCode      ProductCode
	ProductName      string // denormalized at time of sale
	WeightGrams      decimal.Decimal
	SellingRatePerKg decimal.Decimal // denormalized at time of sale
	LineValue        decimal.Decimal // round2(WeightGrams/1000 * SellingRatePerKg)
	StaffID          StaffID
	StaffName        string // denormalized at time of sale
	Status           TransactionStatus
	OccurredAt       time.Time
	SaleDate         DayKey // derived once at creation, never recomputed
	CreatedAt        time.Time
}

// LineValueFor computes the invariant line value for a sale.
func LineValueFor(weightGrams, sellingRatePerKg decimal.Decimal) decimal.Decimal {
	return Round2(weightGrams.Div(decimal.NewFromInt(1000)).Mul(sellingRatePerKg))
}

// =============================================================================
// AGGREGATE FAMILIES - Denormalized per-day views
// =============================================================================

// HourBucket is one hour's slice of a day's sales.
type HourBucket struct {
	TotalValue decimal.Decimal `json:"totalSales"`
	Count      int             `json:"count"`
}

// DailySummary is the per-day total with an hourly breakdown.
// Invariant: TotalValue == sum of Hourly[*].TotalValue.
type DailySummary struct {
	Date       DayKey             `json:"date"`
	TotalValue decimal.Decimal    `json:"totalValue"`
	TotalCount int                `json:"totalCount"`
	Hourly     map[int]HourBucket `json:"hourlyBreakdown"`

	// Revision guards the read-modify-write cycle. Stores bump it on every
	// committed write and reject stale writers.
	Revision int64 `json:"-"`
}

// NewDailySummary returns a zero-valued summary for lazy materialization.
func NewDailySummary(date DayKey) *DailySummary {
	return &DailySummary{
		Date:       date,
		TotalValue: decimal.Zero,
		Hourly:     make(map[int]HourBucket),
	}
}

// IsEmpty reports whether the summary carries no contributions at all.
// Empty summaries are pruned on write so that full reversal restores the
// exact pre-creation state (record absent).
func (d *DailySummary) IsEmpty() bool {
	return d.TotalCount == 0 && d.TotalValue.IsZero() && len(d.Hourly) == 0
}

// StaffBucket is one staff member's slice of a day's sales.
type StaffBucket struct {
	Name       string          `json:"name"`
	TotalValue decimal.Decimal `json:"totalSalesValue"`
	Count      int             `json:"totalCount"`
}

// StaffDailySummary partitions a day's sales by staff member.
type StaffDailySummary struct {
	Date  DayKey                  `json:"date"`
	Staff map[StaffID]StaffBucket `json:"staffStats"`

	Revision int64 `json:"-"`
}

func NewStaffDailySummary(date DayKey) *StaffDailySummary {
	return &StaffDailySummary{
		Date:  date,
		Staff: make(map[StaffID]StaffBucket),
	}
}

func (s *StaffDailySummary) IsEmpty() bool {
	return len(s.Staff) == 0
}

// TotalValue sums all staff contributions (used by the additivity checks).
func (s *StaffDailySummary) TotalValue() decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.Staff {
		total = total.Add(b.TotalValue)
	}
	return total
}

// ProductDailySummary is one product's slice of a day's sales. One
// independent record per (date, product) so blind increments are safe
// without read-modify-write races across unrelated products.
type ProductDailySummary struct {
	Date             DayKey          `json:"date"`
	ProductCode      ProductCode     `json:"productCode"`
	ProductName      string          `json:"productName"`
	TotalWeightGrams decimal.Decimal `json:"totalWeightGrams"`
	TotalValue       decimal.Decimal `json:"totalSalesValue"`
	TotalCount       int             `json:"totalCount"`
}

func (p *ProductDailySummary) IsEmpty() bool {
	return p.TotalCount == 0 && p.TotalValue.IsZero() && p.TotalWeightGrams.IsZero()
}

// ProductDelta is a commutative increment against one ProductDailySummary
// key. Deltas for the same key may be applied in any order by any number
// of concurrent writers.
type ProductDelta struct {
	Date        DayKey
	ProductCode ProductCode
	ProductName string
	WeightGrams decimal.Decimal
	Value       decimal.Decimal
	Count       int
}

// =============================================================================
// MONTHLY STOCK LEDGER
// =============================================================================

// RestockEntry is one restock event inside a month. Entries are keyed by a
// unique timestamp-derived key and never overwritten.
type RestockEntry struct {
	Date       DayKey          `json:"date"`
	QuantityKg decimal.Decimal `json:"quantityKg"`
	Notes      string          `json:"notes,omitempty"`
}

// StockLedger tracks one product's inventory over one month.
// ClosingStockKg is always recomputed from the three inputs, never stored
// independently of them.
type StockLedger struct {
	ProductCode      ProductCode             `json:"productCode"`
	Month            MonthKey                `json:"month"`
	OpeningStockKg   decimal.Decimal         `json:"openingStockKg"`
	Restocks         map[string]RestockEntry `json:"restockEntries"`
	TotalRestockedKg decimal.Decimal         `json:"totalRestockedThisMonthKg"`
	TotalSoldKg      decimal.Decimal         `json:"totalSoldThisMonthKg"`
	ClosingStockKg   decimal.Decimal         `json:"closingStockKg"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}

// Recompute re-derives closing stock. Call after every mutation.
func (l *StockLedger) Recompute() {
	l.ClosingStockKg = l.OpeningStockKg.Add(l.TotalRestockedKg).Sub(l.TotalSoldKg)
}

// Key returns the composite storage key, productCode_YYYY-MM.
func (l *StockLedger) Key() string {
	return LedgerKey(l.ProductCode, l.Month)
}

// =============================================================================
// WEEKLY TARGETS - Read-mostly incentive configuration
// =============================================================================

// StaffTarget is one staff member's target for one week window.
type StaffTarget struct {
	Target       decimal.Decimal `json:"target"`
	IncentivePct decimal.Decimal `json:"incentivePercentage"`
}

// WeekTarget holds targets for one 7-day window of a month.
type WeekTarget struct {
	Window WeekWindow              `json:"window"`
	Overall decimal.Decimal        `json:"overallTarget"`
	Staff  map[StaffID]StaffTarget `json:"staff"`
}

// WeeklyTargetSheet is the full target configuration for one month.
type WeeklyTargetSheet struct {
	Month MonthKey     `json:"month"`
	Weeks []WeekTarget `json:"weeks"`
}

// =============================================================================
// EXTERNAL DIRECTORY METADATA
// =============================================================================

// ProductMetadata is record-of-reference product data used to denormalize
// attributes onto transactions at sale time.
type ProductMetadata struct {
	Code             ProductCode
	Name             string
	SellingRatePerKg decimal.Decimal
	PurchasePriceKg  decimal.Decimal
}

// UnknownStaffName is the placeholder returned when a staff id cannot be
// resolved; aggregates still attribute the sale to the raw id.
const UnknownStaffName = "Unknown Staff"

// =============================================================================
// BATCH RESULTS - Partial-progress reporting for operators
// =============================================================================

// BatchResult summarizes a batch or sync operation. Batch operations report
// partial progress rather than failing all-or-nothing.
type BatchResult struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// ReconciliationRun records one end-to-end pass of the reconciler over a
// calendar day, for operator visibility.
type ReconciliationRun struct {
	ID          string
	Day         DayKey
	Pages       int
	Processed   int
	Skipped     int
	Status      RunStatus
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// =============================================================================
// ROUNDING
// =============================================================================

// Round2 rounds a monetary amount to 2 decimal places. Applied after every
// addition so many small increments cannot drift.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Round3 rounds a kg quantity to 3 decimal places (gram precision).
func Round3(d decimal.Decimal) decimal.Decimal {
	return d.Round(3)
}
