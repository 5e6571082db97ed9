/*
handlers.go - HTTP API handlers for the retail aggregation engine

PURPOSE:
  Exposes the aggregation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Summaries (read side, cached):
    GET    /api/summaries/daily/{date}     Whole-day totals + hourly buckets
    GET    /api/summaries/staff/{date}     Per-staff breakdown
    GET    /api/summaries/products/{date}  Per-product rows

  Transactions:
    POST   /api/transactions               Record a sale
    GET    /api/transactions/{id}          Fetch one transaction
    POST   /api/transactions/{id}/return   Mark returned (pre-billing)
    DELETE /api/transactions/{id}          Compensated delete

  Reconciliation:
    POST   /api/reconciliation/run         Rebuild one day's aggregates
    GET    /api/reconciliation/runs        Recent run records

  Stock ledgers:
    GET    /api/ledgers/{month}                        List (paged)
    POST   /api/ledgers/{month}/sync                   Sync all sold products
    GET    /api/ledgers/{month}/{code}                 Fetch (lazy create)
    POST   /api/ledgers/{month}/{code}/restocks        Record a restock
    POST   /api/ledgers/{month}/{code}/sync            Sync sold totals
    PUT    /api/ledgers/{month}/{code}/opening-stock   Correct opening stock

  Targets & incentives:
    PUT    /api/targets/{month}            Replace the month's target sheet
    GET    /api/targets/{month}            Fetch the month's target sheet
    GET    /api/incentives/{month}         Evaluate incentives
    GET    /api/staff/{id}/achievement     Summed sales over ?from=&to=

ERROR HANDLING:
  Engine errors map to HTTP status via the error taxonomy:
  - 400: validation
  - 404: not found
  - 409: conflict (optimistic retries exhausted, reconciliation in flight)
  - 422: incomplete historical record
  - 500: index missing, storage failures

CACHING:
  Summary reads go through a read-through cache keyed by endpoint and
  day. Every write touching a day invalidates that day's keys. Cache
  failure is never an error, only a slower read.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/goldleaf/retail-engine/cache"
	"github.com/goldleaf/retail-engine/engine"
)

// How long a reconciliation run may hold the day lock.
const reconcileLockTTL = 5 * time.Minute

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     engine.Store
	Directory engine.Directory

	Recorder    *engine.SalesRecorder
	Compensator *engine.Compensator
	Reconciler  *engine.Reconciler
	StockKeeper *engine.StockKeeper
	Incentives  *engine.IncentiveEvaluator

	Cache    cache.SummaryCache
	CacheTTL time.Duration

	// Locker serializes reconciliation per day across instances.
	// Nil when Redis is not configured (single-instance deployments).
	Locker *redislock.Client

	Log      *zap.Logger
	validate *validator.Validate
}

// NewHandler wires the domain services over one store.
func NewHandler(store engine.Store, dir engine.Directory, c cache.SummaryCache, locker *redislock.Client, cacheTTL time.Duration, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &Handler{
		Store:       store,
		Directory:   dir,
		Recorder:    engine.NewSalesRecorder(store, dir, log),
		Compensator: engine.NewCompensator(store, log),
		Reconciler:  engine.NewReconciler(store, log),
		StockKeeper: engine.NewStockKeeper(store, log),
		Incentives:  engine.NewIncentiveEvaluator(store, log),
		Cache:       c,
		CacheTTL:    cacheTTL,
		Locker:      locker,
		Log:         log,
		validate:    validator.New(),
	}
}

// =============================================================================
// SUMMARY HANDLERS (read side)
// =============================================================================

// GetDailySummary returns the whole-day totals with hourly buckets.
func (h *Handler) GetDailySummary(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r, "date")
	if !ok {
		return
	}

	h.cachedRead(w, r, "summary:daily:"+day.String(), func() (any, error) {
		summary, err := h.Store.GetDailySummary(r.Context(), day)
		if err != nil {
			return nil, err
		}
		if summary == nil {
			return engine.NewDailySummary(day), nil
		}
		return summary, nil
	})
}

// GetStaffDailySummary returns the per-staff breakdown for a day.
func (h *Handler) GetStaffDailySummary(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r, "date")
	if !ok {
		return
	}

	h.cachedRead(w, r, "summary:staff:"+day.String(), func() (any, error) {
		summary, err := h.Store.GetStaffDailySummary(r.Context(), day)
		if err != nil {
			return nil, err
		}
		if summary == nil {
			return engine.NewStaffDailySummary(day), nil
		}
		return summary, nil
	})
}

// ListProductDailySummaries returns the per-product rows for a day.
func (h *Handler) ListProductDailySummaries(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r, "date")
	if !ok {
		return
	}

	h.cachedRead(w, r, "summary:products:"+day.String(), func() (any, error) {
		return h.Store.ListProductDailyByDay(r.Context(), day)
	})
}

// cachedRead serves a payload from the cache, falling through to load and
// repopulate on a miss.
func (h *Handler) cachedRead(w http.ResponseWriter, r *http.Request, key string, load func() (any, error)) {
	if payload, err := h.Cache.Get(r.Context(), key); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
		return
	}

	data, err := load()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode response", err)
		return
	}
	h.Cache.Set(r.Context(), key, payload, h.CacheTTL)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// RecordSale records one sale and updates all three aggregate families.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req RecordSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	occurredAt := time.Now().UTC()
	if req.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, req.OccurredAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid occurredAt, expected RFC3339", err)
			return
		}
		occurredAt = t
	}

	tx, err := h.Recorder.RecordSale(r.Context(), engine.SaleInput{
		ProductCode: engine.ProductCode(req.ProductCode),
		WeightGrams: req.WeightGrams,
		StaffID:     engine.StaffID(req.StaffID),
		OccurredAt:  occurredAt,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.Cache.InvalidateDay(r.Context(), tx.SaleDate.String())
	writeJSON(w, http.StatusCreated, toTransactionDTO(*tx))
}

// GetTransaction returns one transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := engine.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// MarkReturned flips a sale to returned-before-billing and reverses its
// aggregate contributions.
func (h *Handler) MarkReturned(w http.ResponseWriter, r *http.Request) {
	id := engine.TransactionID(chi.URLParam(r, "id"))

	// Day needed for cache invalidation after the reversal commits.
	tx, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	if err := h.Recorder.MarkReturned(r.Context(), id); err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.Cache.InvalidateDay(r.Context(), tx.SaleDate.String())
	w.WriteHeader(http.StatusNoContent)
}

// DeleteTransaction removes a transaction and compensates the aggregates
// in the same atomic commit.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := engine.TransactionID(chi.URLParam(r, "id"))

	tx, err := h.Store.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "Transaction not found", nil)
		return
	}

	if err := h.Compensator.DeleteTransaction(r.Context(), id); err != nil {
		h.writeEngineError(w, err)
		return
	}

	h.Cache.InvalidateDay(r.Context(), tx.SaleDate.String())
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// RunReconciliation rebuilds one day's aggregates from the transaction
// log. At most one run per day is in flight when a lock service is
// configured; concurrent attempts get 409.
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	day, err := engine.ParseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
		return
	}

	if h.Locker != nil {
		lock, err := h.Locker.Obtain(r.Context(), "reconcile:"+day.String(), reconcileLockTTL, nil)
		if err == redislock.ErrNotObtained {
			writeError(w, http.StatusConflict, "Reconciliation already running for this day", nil)
			return
		}
		if err != nil {
			// The run itself is idempotent, so a broken lock service
			// degrades to unserialized runs instead of blocking ops.
			h.Log.Warn("day lock unavailable", zap.String("day", day.String()), zap.Error(err))
		} else {
			defer lock.Release(r.Context())
		}
	}

	result, err := h.Reconciler.ReconcileDay(r.Context(), day, req.PageSize)
	h.Cache.InvalidateDay(r.Context(), day.String())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

// ListReconciliationRuns returns recent run records, newest first.
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListReconciliationRuns(r.Context(), 50)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	dtos := make([]ReconciliationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = ReconciliationRunDTO{
			ID:        run.ID,
			Day:       run.Day.String(),
			Pages:     run.Pages,
			Processed: run.Processed,
			Skipped:   run.Skipped,
			Status:    string(run.Status),
			Error:     run.Error,
			StartedAt: run.StartedAt.Format(time.RFC3339),
		}
		if !run.CompletedAt.IsZero() {
			dtos[i].CompletedAt = run.CompletedAt.Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// STOCK LEDGER HANDLERS
// =============================================================================

// GetLedger returns one product's ledger for a month, materializing it
// with carried-forward opening stock on first access.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	month, code, ok := h.ledgerParams(w, r)
	if !ok {
		return
	}

	ledger, err := h.StockKeeper.GetLedger(r.Context(), code, month)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

// ListLedgers pages a month's ledgers ordered by product code.
func (h *Handler) ListLedgers(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}

	after := engine.ProductCode(r.URL.Query().Get("after"))
	ledgers, err := h.StockKeeper.ListLedgers(r.Context(), month, after, 0)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgers)
}

// AddRestock records one restock delivery.
func (h *Handler) AddRestock(w http.ResponseWriter, r *http.Request) {
	month, code, ok := h.ledgerParams(w, r)
	if !ok {
		return
	}

	var req RestockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	date, err := engine.ParseDay(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
		return
	}

	ledger, err := h.StockKeeper.AddRestock(r.Context(), code, month, date, req.QuantityKg, req.Notes)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ledger)
}

// SyncLedgerSales resyncs one product's sold total from the aggregates.
func (h *Handler) SyncLedgerSales(w http.ResponseWriter, r *http.Request) {
	month, code, ok := h.ledgerParams(w, r)
	if !ok {
		return
	}

	ledger, err := h.StockKeeper.SyncSales(r.Context(), code, month)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

// SyncMonthLedgers resyncs every product sold in the month.
func (h *Handler) SyncMonthLedgers(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}

	result, err := h.StockKeeper.SyncMonth(r.Context(), month)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResultDTO(result))
}

// CorrectOpeningStock overrides a ledger's opening stock.
func (h *Handler) CorrectOpeningStock(w http.ResponseWriter, r *http.Request) {
	month, code, ok := h.ledgerParams(w, r)
	if !ok {
		return
	}

	var req OpeningStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ledger, err := h.StockKeeper.CorrectOpeningStock(r.Context(), code, month, req.OpeningStockKg)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

// =============================================================================
// TARGET AND INCENTIVE HANDLERS
// =============================================================================

// PutTargets replaces the month's weekly target sheet. Week windows are
// derived server-side; the request supplies amounts in window order.
func (h *Handler) PutTargets(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}

	var req PutTargetsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}

	windows := month.WeekWindows()
	if len(req.Weeks) > len(windows) {
		writeError(w, http.StatusBadRequest, "Too many weeks for this month", nil)
		return
	}

	sheet := engine.WeeklyTargetSheet{Month: month}
	for i, in := range req.Weeks {
		week := engine.WeekTarget{
			Window:  windows[i],
			Overall: in.Overall,
			Staff:   make(map[engine.StaffID]engine.StaffTarget, len(in.Staff)),
		}
		for staffID, t := range in.Staff {
			week.Staff[engine.StaffID(staffID)] = engine.StaffTarget{
				Target:       t.Target,
				IncentivePct: t.IncentivePct,
			}
		}
		sheet.Weeks = append(sheet.Weeks, week)
	}

	if err := h.Store.SaveWeeklyTargets(r.Context(), sheet); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

// GetTargets returns the month's target sheet.
func (h *Handler) GetTargets(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}

	sheet, err := h.Store.GetWeeklyTargets(r.Context(), month)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if sheet == nil {
		writeError(w, http.StatusNotFound, "No targets configured for this month", nil)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}

// EvaluateIncentives computes the month's per-week, per-staff incentive
// report from the staff aggregates.
func (h *Handler) EvaluateIncentives(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return
	}

	report, err := h.Incentives.EvaluateMonth(r.Context(), month)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetAchievement returns one staff member's summed sales over a range.
func (h *Handler) GetAchievement(w http.ResponseWriter, r *http.Request) {
	staffID := engine.StaffID(chi.URLParam(r, "id"))

	from, err := engine.ParseDay(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date, expected YYYY-MM-DD", err)
		return
	}
	to, err := engine.ParseDay(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date, expected YYYY-MM-DD", err)
		return
	}

	achieved, err := h.Incentives.WeeklyAchievement(r.Context(), staffID, from, to)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AchievementDTO{
		StaffID:  string(staffID),
		From:     from.String(),
		To:       to.String(),
		Achieved: achieved,
	})
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) dayParam(w http.ResponseWriter, r *http.Request, name string) (engine.DayKey, bool) {
	day, err := engine.ParseDay(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date, expected YYYY-MM-DD", err)
		return "", false
	}
	return day, true
}

func (h *Handler) monthParam(w http.ResponseWriter, r *http.Request) (engine.MonthKey, bool) {
	month, err := engine.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month, expected YYYY-MM", err)
		return "", false
	}
	return month, true
}

func (h *Handler) ledgerParams(w http.ResponseWriter, r *http.Request) (engine.MonthKey, engine.ProductCode, bool) {
	month, ok := h.monthParam(w, r)
	if !ok {
		return "", "", false
	}
	code := engine.ProductCode(chi.URLParam(r, "code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "Product code is required", nil)
		return "", "", false
	}
	return month, code, true
}

// writeEngineError maps the engine error taxonomy to HTTP status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	var incomplete *engine.IncompleteRecordError
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.As(err, &incomplete):
		writeError(w, http.StatusUnprocessableEntity, "Historical record is incomplete", err)
	case errors.Is(err, engine.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, engine.ErrConflict):
		writeError(w, http.StatusConflict, "Concurrent update conflict, retry the request", err)
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
