/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Write-side request bodies carry go-playground/validator struct tags and
  are checked in the handlers before any domain call. Domain-level rules
  (positive weight, date inside month) stay in the engine; the tags only
  reject malformed payloads early.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/goldleaf/retail-engine/engine"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// RecordSaleRequest is the point-of-sale payload for one line item.
// OccurredAt is RFC3339; empty means "now".
type RecordSaleRequest struct {
	ProductCode string          `json:"productCode" validate:"required"`
	WeightGrams decimal.Decimal `json:"weightGrams" validate:"required"`
	StaffID     string          `json:"staffId" validate:"required"`
	OccurredAt  string          `json:"occurredAt,omitempty"`
}

// TransactionDTO mirrors engine.Transaction for API responses.
type TransactionDTO struct {
	ID               string          `json:"id"`
	ProductCode      string          `json:"productCode"`
	ProductName      string          `json:"productName"`
	WeightGrams      decimal.Decimal `json:"weightGrams"`
	SellingRatePerKg decimal.Decimal `json:"sellingRatePerKg"`
	LineValue        decimal.Decimal `json:"lineValue"`
	StaffID          string          `json:"staffId"`
	StaffName        string          `json:"staffName"`
	Status           string          `json:"status"`
	OccurredAt       string          `json:"occurredAt"`
	SaleDate         string          `json:"saleDate"`
}

func toTransactionDTO(tx engine.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:               string(tx.ID),
		ProductCode:      string(tx.ProductCode),
		ProductName:      tx.ProductName,
		WeightGrams:      tx.WeightGrams,
		SellingRatePerKg: tx.SellingRatePerKg,
		LineValue:        tx.LineValue,
		StaffID:          string(tx.StaffID),
		StaffName:        tx.StaffName,
		Status:           string(tx.Status),
		OccurredAt:       tx.OccurredAt.Format("2006-01-02T15:04:05Z07:00"),
		SaleDate:         string(tx.SaleDate),
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// ReconcileRequest triggers a full reconciliation of one business day.
type ReconcileRequest struct {
	Date     string `json:"date" validate:"required"`
	PageSize int    `json:"pageSize,omitempty" validate:"omitempty,gt=0"`
}

// BatchResultDTO reports partial progress of a batch operation.
type BatchResultDTO struct {
	Processed int      `json:"processed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

func toBatchResultDTO(res engine.BatchResult) BatchResultDTO {
	return BatchResultDTO{Processed: res.Processed, Skipped: res.Skipped, Errors: res.Errors}
}

// ReconciliationRunDTO is one run record for the operations view.
type ReconciliationRunDTO struct {
	ID          string `json:"id"`
	Day         string `json:"day"`
	Pages       int    `json:"pages"`
	Processed   int    `json:"processed"`
	Skipped     int    `json:"skipped"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"startedAt"`
	CompletedAt string `json:"completedAt,omitempty"`
}

// =============================================================================
// STOCK LEDGERS
// =============================================================================

// RestockRequest records one restock delivery against a month's ledger.
type RestockRequest struct {
	Date       string          `json:"date" validate:"required"`
	QuantityKg decimal.Decimal `json:"quantityKg" validate:"required"`
	Notes      string          `json:"notes,omitempty"`
}

// OpeningStockRequest corrects a ledger's opening stock.
type OpeningStockRequest struct {
	OpeningStockKg decimal.Decimal `json:"openingStockKg"`
}

// =============================================================================
// WEEKLY TARGETS
// =============================================================================

// StaffTargetInput is one staff member's target for one week.
type StaffTargetInput struct {
	Target       decimal.Decimal `json:"target"`
	IncentivePct decimal.Decimal `json:"incentivePercentage"`
}

// WeekTargetInput configures one week window. Windows themselves are
// derived from the month (weeks start on the 1st, 8th, 15th, 22nd, 29th);
// clients only supply the amounts, in window order.
type WeekTargetInput struct {
	Overall decimal.Decimal             `json:"overallTarget"`
	Staff   map[string]StaffTargetInput `json:"staff"`
}

// PutTargetsRequest replaces the full target sheet for a month.
type PutTargetsRequest struct {
	Weeks []WeekTargetInput `json:"weeks" validate:"required,min=1"`
}

// =============================================================================
// MISC
// =============================================================================

// AchievementDTO is one staff member's summed sales over a date range.
type AchievementDTO struct {
	StaffID  string          `json:"staffId"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Achieved decimal.Decimal `json:"achieved"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
