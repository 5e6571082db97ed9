// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/goldleaf/retail-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// casAttempts bounds the optimistic retry loop on the shared day pair.
const casAttempts = 5

type Memory struct {
	mu           sync.RWMutex
	transactions map[engine.TransactionID]engine.Transaction
	daily        map[engine.DayKey]*engine.DailySummary
	staffDaily   map[engine.DayKey]*engine.StaffDailySummary
	productDaily map[string]engine.ProductDailySummary
	ledgers      map[string]engine.StockLedger
	targets      map[engine.MonthKey]engine.WeeklyTargetSheet
	runs         []engine.ReconciliationRun

	// Directory data, seeded by tests / dev fixtures.
	products map[engine.ProductCode]engine.ProductMetadata
	staff    map[engine.StaffID]string
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[engine.TransactionID]engine.Transaction),
		daily:        make(map[engine.DayKey]*engine.DailySummary),
		staffDaily:   make(map[engine.DayKey]*engine.StaffDailySummary),
		productDaily: make(map[string]engine.ProductDailySummary),
		ledgers:      make(map[string]engine.StockLedger),
		targets:      make(map[engine.MonthKey]engine.WeeklyTargetSheet),
		products:     make(map[engine.ProductCode]engine.ProductMetadata),
		staff:        make(map[engine.StaffID]string),
	}
}

// SeedProduct registers directory metadata for tests and dev fixtures.
func (m *Memory) SeedProduct(meta engine.ProductMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[meta.Code] = meta
}

// SeedStaff registers a staff directory entry.
func (m *Memory) SeedStaff(id engine.StaffID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staff[id] = name
}

// =============================================================================
// EVENT STORE
// =============================================================================

func (m *Memory) PutTransaction(_ context.Context, tx engine.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id), nil
}

func (m *Memory) getTransactionLocked(id engine.TransactionID) *engine.Transaction {
	tx, ok := m.transactions[id]
	if !ok {
		return nil
	}
	return &tx
}

func (m *Memory) UpdateTransactionStatus(_ context.Context, id engine.TransactionID, status engine.TransactionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStatusLocked(id, status)
}

func (m *Memory) updateStatusLocked(id engine.TransactionID, status engine.TransactionStatus) error {
	tx, ok := m.transactions[id]
	if !ok {
		return &engine.NotFoundError{Kind: "transaction", Key: string(id)}
	}
	tx.Status = status
	m.transactions[id] = tx
	return nil
}

func (m *Memory) DeleteTransaction(_ context.Context, id engine.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transactions, id)
	return nil
}

func (m *Memory) GetTransactionsByDate(_ context.Context, day engine.DayKey, afterID engine.TransactionID, pageSize int) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactionsByDateLocked(day, afterID, pageSize), nil
}

func (m *Memory) transactionsByDateLocked(day engine.DayKey, afterID engine.TransactionID, pageSize int) []engine.Transaction {
	var ids []string
	for id, tx := range m.transactions {
		if tx.SaleDate == day {
			ids = append(ids, string(id))
		}
	}
	sort.Strings(ids)

	// A cursor whose id was deleted concurrently restarts from the
	// beginning of the ordering for safety.
	if afterID != "" {
		if _, exists := m.transactions[afterID]; !exists {
			afterID = ""
		}
	}

	var page []engine.Transaction
	for _, id := range ids {
		if afterID != "" && id <= string(afterID) {
			continue
		}
		page = append(page, m.transactions[engine.TransactionID(id)])
		if len(page) == pageSize {
			break
		}
	}
	return page
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

func (m *Memory) GetDailySummary(_ context.Context, day engine.DayKey) (*engine.DailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyDaily(m.daily[day]), nil
}

func (m *Memory) GetStaffDailySummary(_ context.Context, day engine.DayKey) (*engine.StaffDailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyStaffDaily(m.staffDaily[day]), nil
}

func (m *Memory) GetProductDailySummary(_ context.Context, day engine.DayKey, code engine.ProductCode) (*engine.ProductDailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.productDaily[engine.ProductDayKey(day, code)]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (m *Memory) ListProductDailyByDay(_ context.Context, day engine.DayKey) ([]engine.ProductDailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []engine.ProductDailySummary
	for _, row := range m.productDaily {
		if row.Date == day {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductCode < rows[j].ProductCode })
	return rows, nil
}

// UpdateDaySummaries runs fn on copies of the day pair and commits with a
// revision compare-and-swap, retrying a bounded number of times.
func (m *Memory) UpdateDaySummaries(_ context.Context, day engine.DayKey, fn func(*engine.DailySummary, *engine.StaffDailySummary) error) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		m.mu.RLock()
		ds := copyOrNewDaily(m.daily[day], day)
		ss := copyOrNewStaffDaily(m.staffDaily[day], day)
		m.mu.RUnlock()

		if err := fn(ds, ss); err != nil {
			return err
		}

		m.mu.Lock()
		if m.dailyRevision(day) != ds.Revision || m.staffRevision(day) != ss.Revision {
			m.mu.Unlock()
			continue // lost the race, re-read and retry
		}
		m.commitDayPairLocked(day, ds, ss)
		m.mu.Unlock()
		return nil
	}
	return &engine.ConflictError{Key: string(day), Attempts: casAttempts}
}

// updateDaySummariesLocked is the transactional-view variant: the caller
// already holds the write lock, so no CAS cycle is needed.
func (m *Memory) updateDaySummariesLocked(day engine.DayKey, fn func(*engine.DailySummary, *engine.StaffDailySummary) error) error {
	ds := copyOrNewDaily(m.daily[day], day)
	ss := copyOrNewStaffDaily(m.staffDaily[day], day)
	if err := fn(ds, ss); err != nil {
		return err
	}
	m.commitDayPairLocked(day, ds, ss)
	return nil
}

func (m *Memory) dailyRevision(day engine.DayKey) int64 {
	if d := m.daily[day]; d != nil {
		return d.Revision
	}
	return 0
}

func (m *Memory) staffRevision(day engine.DayKey) int64 {
	if s := m.staffDaily[day]; s != nil {
		return s.Revision
	}
	return 0
}

// commitDayPairLocked persists both records, pruning records that dropped
// back to empty so full reversal restores absence.
func (m *Memory) commitDayPairLocked(day engine.DayKey, ds *engine.DailySummary, ss *engine.StaffDailySummary) {
	if ds.IsEmpty() {
		delete(m.daily, day)
	} else {
		ds.Revision++
		m.daily[day] = ds
	}
	if ss.IsEmpty() {
		delete(m.staffDaily, day)
	} else {
		ss.Revision++
		m.staffDaily[day] = ss
	}
}

func (m *Memory) IncrementProductDaily(_ context.Context, delta engine.ProductDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incrementProductLocked(delta)
	return nil
}

func (m *Memory) incrementProductLocked(delta engine.ProductDelta) {
	key := engine.ProductDayKey(delta.Date, delta.ProductCode)
	row, ok := m.productDaily[key]
	if !ok {
		row = engine.ProductDailySummary{
			Date:        delta.Date,
			ProductCode: delta.ProductCode,
			ProductName: delta.ProductName,
		}
	}
	row.TotalWeightGrams = row.TotalWeightGrams.Add(delta.WeightGrams)
	row.TotalValue = engine.Round2(row.TotalValue.Add(delta.Value))
	row.TotalCount += delta.Count

	if row.IsEmpty() {
		delete(m.productDaily, key)
		return
	}
	m.productDaily[key] = row
}

func (m *Memory) DeleteDayAggregates(_ context.Context, day engine.DayKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteDayAggregatesLocked(day)
	return nil
}

func (m *Memory) deleteDayAggregatesLocked(day engine.DayKey) {
	delete(m.daily, day)
	delete(m.staffDaily, day)
	for key, row := range m.productDaily {
		if row.Date == day {
			delete(m.productDaily, key)
		}
	}
}

func (m *Memory) ListProductDailyRange(_ context.Context, code engine.ProductCode, from, to engine.DayKey) ([]engine.ProductDailySummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.productRangeLocked(code, from, to), nil
}

func (m *Memory) productRangeLocked(code engine.ProductCode, from, to engine.DayKey) []engine.ProductDailySummary {
	var rows []engine.ProductDailySummary
	for _, row := range m.productDaily {
		if row.ProductCode == code && !row.Date.Before(from) && !row.Date.After(to) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows
}

func (m *Memory) ListProductCodesSoldInRange(_ context.Context, from, to engine.DayKey) ([]engine.ProductCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[engine.ProductCode]bool)
	for _, row := range m.productDaily {
		if !row.Date.Before(from) && !row.Date.After(to) {
			seen[row.ProductCode] = true
		}
	}
	codes := make([]engine.ProductCode, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes, nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) GetLedger(_ context.Context, code engine.ProductCode, month engine.MonthKey) (*engine.StockLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLedgerLocked(code, month), nil
}

func (m *Memory) getLedgerLocked(code engine.ProductCode, month engine.MonthKey) *engine.StockLedger {
	l, ok := m.ledgers[engine.LedgerKey(code, month)]
	if !ok {
		return nil
	}
	return copyLedger(&l)
}

func (m *Memory) PutLedger(_ context.Context, l engine.StockLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLedgerLocked(l)
	return nil
}

func (m *Memory) putLedgerLocked(l engine.StockLedger) {
	m.ledgers[l.Key()] = *copyLedger(&l)
}

func (m *Memory) ListLedgers(_ context.Context, month engine.MonthKey, afterCode engine.ProductCode, limit int) ([]engine.StockLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []engine.StockLedger
	for _, l := range m.ledgers {
		if l.Month == month && l.ProductCode > afterCode {
			rows = append(rows, *copyLedger(&l))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductCode < rows[j].ProductCode })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// =============================================================================
// TARGET STORE / RUN STORE
// =============================================================================

func (m *Memory) GetWeeklyTargets(_ context.Context, month engine.MonthKey) (*engine.WeeklyTargetSheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sheet, ok := m.targets[month]
	if !ok {
		return nil, nil
	}
	return &sheet, nil
}

func (m *Memory) SaveWeeklyTargets(_ context.Context, sheet engine.WeeklyTargetSheet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[sheet.Month] = sheet
	return nil
}

func (m *Memory) SaveReconciliationRun(_ context.Context, run engine.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListReconciliationRuns(_ context.Context, limit int) ([]engine.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := append([]engine.ReconciliationRun{}, m.runs...)
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) GetProductMetadata(_ context.Context, code engine.ProductCode) (*engine.ProductMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.products[code]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

func (m *Memory) GetStaffName(_ context.Context, id engine.StaffID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.staff[id]
	if !ok {
		return engine.UnknownStaffName, nil
	}
	return name, nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn atomically. For the memory store this is simulated
// with a snapshot + rollback on error, holding the write lock throughout.
func (m *Memory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()
	view := &memoryView{parent: m}

	if err := fn(view); err != nil {
		m.restoreLocked(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	transactions map[engine.TransactionID]engine.Transaction
	daily        map[engine.DayKey]*engine.DailySummary
	staffDaily   map[engine.DayKey]*engine.StaffDailySummary
	productDaily map[string]engine.ProductDailySummary
	ledgers      map[string]engine.StockLedger
	targets      map[engine.MonthKey]engine.WeeklyTargetSheet
	runs         []engine.ReconciliationRun
}

func (m *Memory) snapshotLocked() memorySnapshot {
	s := memorySnapshot{
		transactions: make(map[engine.TransactionID]engine.Transaction, len(m.transactions)),
		daily:        make(map[engine.DayKey]*engine.DailySummary, len(m.daily)),
		staffDaily:   make(map[engine.DayKey]*engine.StaffDailySummary, len(m.staffDaily)),
		productDaily: make(map[string]engine.ProductDailySummary, len(m.productDaily)),
		ledgers:      make(map[string]engine.StockLedger, len(m.ledgers)),
		targets:      make(map[engine.MonthKey]engine.WeeklyTargetSheet, len(m.targets)),
		runs:         append([]engine.ReconciliationRun{}, m.runs...),
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	for k, v := range m.daily {
		s.daily[k] = copyDaily(v)
	}
	for k, v := range m.staffDaily {
		s.staffDaily[k] = copyStaffDaily(v)
	}
	for k, v := range m.productDaily {
		s.productDaily[k] = v
	}
	for k, v := range m.ledgers {
		s.ledgers[k] = *copyLedger(&v)
	}
	for k, v := range m.targets {
		s.targets[k] = v
	}
	return s
}

func (m *Memory) restoreLocked(s memorySnapshot) {
	m.transactions = s.transactions
	m.daily = s.daily
	m.staffDaily = s.staffDaily
	m.productDaily = s.productDaily
	m.ledgers = s.ledgers
	m.targets = s.targets
	m.runs = s.runs
}

// memoryView provides Store access inside WithTx without re-locking.
type memoryView struct {
	parent *Memory
}

func (v *memoryView) PutTransaction(_ context.Context, tx engine.Transaction) error {
	v.parent.transactions[tx.ID] = tx
	return nil
}

func (v *memoryView) GetTransaction(_ context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	return v.parent.getTransactionLocked(id), nil
}

func (v *memoryView) UpdateTransactionStatus(_ context.Context, id engine.TransactionID, status engine.TransactionStatus) error {
	return v.parent.updateStatusLocked(id, status)
}

func (v *memoryView) DeleteTransaction(_ context.Context, id engine.TransactionID) error {
	delete(v.parent.transactions, id)
	return nil
}

func (v *memoryView) GetTransactionsByDate(_ context.Context, day engine.DayKey, afterID engine.TransactionID, pageSize int) ([]engine.Transaction, error) {
	return v.parent.transactionsByDateLocked(day, afterID, pageSize), nil
}

func (v *memoryView) GetDailySummary(_ context.Context, day engine.DayKey) (*engine.DailySummary, error) {
	return copyDaily(v.parent.daily[day]), nil
}

func (v *memoryView) GetStaffDailySummary(_ context.Context, day engine.DayKey) (*engine.StaffDailySummary, error) {
	return copyStaffDaily(v.parent.staffDaily[day]), nil
}

func (v *memoryView) GetProductDailySummary(_ context.Context, day engine.DayKey, code engine.ProductCode) (*engine.ProductDailySummary, error) {
	row, ok := v.parent.productDaily[engine.ProductDayKey(day, code)]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (v *memoryView) ListProductDailyByDay(ctx context.Context, day engine.DayKey) ([]engine.ProductDailySummary, error) {
	var rows []engine.ProductDailySummary
	for _, row := range v.parent.productDaily {
		if row.Date == day {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductCode < rows[j].ProductCode })
	return rows, nil
}

func (v *memoryView) UpdateDaySummaries(_ context.Context, day engine.DayKey, fn func(*engine.DailySummary, *engine.StaffDailySummary) error) error {
	return v.parent.updateDaySummariesLocked(day, fn)
}

func (v *memoryView) IncrementProductDaily(_ context.Context, delta engine.ProductDelta) error {
	v.parent.incrementProductLocked(delta)
	return nil
}

func (v *memoryView) DeleteDayAggregates(_ context.Context, day engine.DayKey) error {
	v.parent.deleteDayAggregatesLocked(day)
	return nil
}

func (v *memoryView) ListProductDailyRange(_ context.Context, code engine.ProductCode, from, to engine.DayKey) ([]engine.ProductDailySummary, error) {
	return v.parent.productRangeLocked(code, from, to), nil
}

func (v *memoryView) ListProductCodesSoldInRange(_ context.Context, from, to engine.DayKey) ([]engine.ProductCode, error) {
	seen := make(map[engine.ProductCode]bool)
	for _, row := range v.parent.productDaily {
		if !row.Date.Before(from) && !row.Date.After(to) {
			seen[row.ProductCode] = true
		}
	}
	codes := make([]engine.ProductCode, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes, nil
}

func (v *memoryView) GetLedger(_ context.Context, code engine.ProductCode, month engine.MonthKey) (*engine.StockLedger, error) {
	return v.parent.getLedgerLocked(code, month), nil
}

func (v *memoryView) PutLedger(_ context.Context, l engine.StockLedger) error {
	v.parent.putLedgerLocked(l)
	return nil
}

func (v *memoryView) ListLedgers(_ context.Context, month engine.MonthKey, afterCode engine.ProductCode, limit int) ([]engine.StockLedger, error) {
	var rows []engine.StockLedger
	for _, l := range v.parent.ledgers {
		if l.Month == month && l.ProductCode > afterCode {
			rows = append(rows, *copyLedger(&l))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ProductCode < rows[j].ProductCode })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (v *memoryView) GetWeeklyTargets(_ context.Context, month engine.MonthKey) (*engine.WeeklyTargetSheet, error) {
	sheet, ok := v.parent.targets[month]
	if !ok {
		return nil, nil
	}
	return &sheet, nil
}

func (v *memoryView) SaveWeeklyTargets(_ context.Context, sheet engine.WeeklyTargetSheet) error {
	v.parent.targets[sheet.Month] = sheet
	return nil
}

func (v *memoryView) SaveReconciliationRun(_ context.Context, run engine.ReconciliationRun) error {
	v.parent.runs = append(v.parent.runs, run)
	return nil
}

func (v *memoryView) ListReconciliationRuns(_ context.Context, limit int) ([]engine.ReconciliationRun, error) {
	runs := append([]engine.ReconciliationRun{}, v.parent.runs...)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// WithTx on a view runs fn against the same view: the outer transaction
// already provides atomicity.
func (v *memoryView) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	return fn(v)
}

// =============================================================================
// DEEP COPIES
// =============================================================================

func copyDaily(d *engine.DailySummary) *engine.DailySummary {
	if d == nil {
		return nil
	}
	out := *d
	out.Hourly = make(map[int]engine.HourBucket, len(d.Hourly))
	for k, v := range d.Hourly {
		out.Hourly[k] = v
	}
	return &out
}

func copyOrNewDaily(d *engine.DailySummary, day engine.DayKey) *engine.DailySummary {
	if d == nil {
		return engine.NewDailySummary(day)
	}
	return copyDaily(d)
}

func copyStaffDaily(s *engine.StaffDailySummary) *engine.StaffDailySummary {
	if s == nil {
		return nil
	}
	out := *s
	out.Staff = make(map[engine.StaffID]engine.StaffBucket, len(s.Staff))
	for k, v := range s.Staff {
		out.Staff[k] = v
	}
	return &out
}

func copyOrNewStaffDaily(s *engine.StaffDailySummary, day engine.DayKey) *engine.StaffDailySummary {
	if s == nil {
		return engine.NewStaffDailySummary(day)
	}
	return copyStaffDaily(s)
}

func copyLedger(l *engine.StockLedger) *engine.StockLedger {
	out := *l
	out.Restocks = make(map[string]engine.RestockEntry, len(l.Restocks))
	for k, v := range l.Restocks {
		out.Restocks[k] = v
	}
	return &out
}
