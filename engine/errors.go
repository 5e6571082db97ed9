/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is/errors.As; the API layer maps these to
  HTTP statuses.

ERROR CATEGORIES:
  1. Not-found errors     - Referenced transaction/product/ledger absent
  2. Validation errors    - Malformed input, rejected before any write
  3. Store-level errors   - Missing index, lost optimistic race
  4. Incomplete records   - Required field missing on a record the engine
                            must aggregate or reverse

PROPAGATION POLICY:
  Validation errors reject immediately. A malformed transaction inside a
  reconciliation page is skipped-and-logged, not fatal - except in the
  Deletion Compensator, where incomplete data aborts that single delete
  rather than silently under-reversing. Index errors surface verbatim:
  they indicate a deployment problem, not a transient condition.
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced transaction, product,
	// ledger or target sheet does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrIncompleteRecord is returned when a record the engine must
	// aggregate or reverse is missing required fields.
	ErrIncompleteRecord = errors.New("incomplete record")

	// ErrIndexRequired is returned when an underlying range query needs a
	// secondary index the store has not built.
	ErrIndexRequired = errors.New("secondary index required")

	// ErrValidation is returned for malformed input quantities.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when an optimistic read-modify-write lost a
	// race after exhausting retries.
	ErrConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which record kind and key was missing.
type NotFoundError struct {
	Kind string // "transaction", "product", "ledger", "weekly targets"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IncompleteRecordError lists the missing fields on a record.
type IncompleteRecordError struct {
	TransactionID TransactionID
	Missing       []string
}

func (e *IncompleteRecordError) Error() string {
	return fmt.Sprintf("transaction %s missing required fields: %s",
		e.TransactionID, strings.Join(e.Missing, ", "))
}

func (e *IncompleteRecordError) Unwrap() error { return ErrIncompleteRecord }

// IndexRequiredError names the index a range query depends on. This is an
// operational dependency of the store layout, surfaced to the caller
// verbatim and never retried.
type IndexRequiredError struct {
	Index  string
	Detail string
}

func (e *IndexRequiredError) Error() string {
	return fmt.Sprintf("query requires index %s: %s", e.Index, e.Detail)
}

func (e *IndexRequiredError) Unwrap() error { return ErrIndexRequired }

// ValidationError reports a single malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError reports an exhausted optimistic write cycle.
type ConflictError struct {
	Key      string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lost optimistic write race on %s after %d attempts", e.Key, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on caller retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrIncompleteRecord)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
