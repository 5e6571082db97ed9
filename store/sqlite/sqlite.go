/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements the full engine.Store surface (event log, aggregate families,
  stock ledgers, targets, run records) plus the engine.Directory
  collaborator. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

REPRESENTATION:
  Money is stored as integer cents and weight as integer milligrams on the
  transaction log and the per-product aggregate rows. Integer columns are
  what make the per-product family a true commutative increment: the
  ON CONFLICT ... DO UPDATE SET x = x + excluded.x form needs no prior
  read and never loses a concurrent contribution. The shared daily/staff
  documents and the ledgers are stored as JSON payloads (they are
  replace-after-read by nature) with decimals serialized as strings.

KEY LAYOUT:
  daily_summaries:          keyed by date
  staff_daily_summaries:    keyed by date
  product_daily_summaries:  keyed by (date, product_code)
  stock_ledgers:            keyed by (product_code, month)
  Point lookups never need a secondary index. Range scans over
  transactions by day and over a product's daily rows depend on two
  indexes; their absence surfaces as IndexRequiredError rather than a
  silent full scan, because a missing index is a deployment problem.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/retail.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). Deployments that manage schema
  externally use NewWithoutMigrate, which keeps the index checks live.

SEE ALSO:
  - engine/store.go: Interface definitions and primitive contracts
  - engine/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/goldleaf/retail-engine/engine"
)

// Names of the indexes the range queries depend on.
const (
	idxTransactionsByDay = "idx_transactions_sale_date_id"
	idxProductByCodeDate = "idx_product_daily_code_date"
)

// Store implements engine.Store and engine.Directory using SQLite.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex

	idxMu   sync.Mutex
	idxSeen map[string]bool
}

// New opens (and migrates) a SQLite store. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	return open(dbPath, true)
}

// NewWithoutMigrate opens a store whose schema is managed externally.
// Range queries verify their index exists and fail with
// IndexRequiredError when it does not.
func NewWithoutMigrate(dbPath string) (*Store, error) {
	return open(dbPath, false)
}

func open(dbPath string, migrate bool) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One pooled connection: writes are serialized by the mutex anyway,
	// and ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, idxSeen: make(map[string]bool)}
	if migrate {
		if err := store.migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Transaction log (one row per sale event)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		product_code TEXT NOT NULL,
		product_name TEXT NOT NULL,
		weight_mg INTEGER NOT NULL,
		rate_per_kg_cents INTEGER NOT NULL,
		line_value_cents INTEGER NOT NULL,
		staff_id TEXT NOT NULL,
		staff_name TEXT NOT NULL,
		status TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		sale_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: the reconciler's paging (ascending id strictly after a
	-- cursor, within one sale date) runs on this index.
	CREATE INDEX IF NOT EXISTS idx_transactions_sale_date_id
		ON transactions(sale_date, id);

	-- Shared daily documents (replace-after-read, revision-guarded)
	CREATE TABLE IF NOT EXISTS daily_summaries (
		date TEXT PRIMARY KEY,
		payload_json TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS staff_daily_summaries (
		date TEXT PRIMARY KEY,
		payload_json TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 1
	);

	-- Per-product daily rows (blind integer increments)
	CREATE TABLE IF NOT EXISTS product_daily_summaries (
		date TEXT NOT NULL,
		product_code TEXT NOT NULL,
		product_name TEXT NOT NULL,
		total_weight_mg INTEGER NOT NULL DEFAULT 0,
		total_value_cents INTEGER NOT NULL DEFAULT 0,
		tx_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, product_code)
	);

	-- For the ledger sales sync (one product across a month's dates)
	CREATE INDEX IF NOT EXISTS idx_product_daily_code_date
		ON product_daily_summaries(product_code, date);

	-- Monthly stock ledgers
	CREATE TABLE IF NOT EXISTS stock_ledgers (
		product_code TEXT NOT NULL,
		month TEXT NOT NULL,
		opening_kg TEXT NOT NULL,
		restocks_json TEXT NOT NULL,
		total_restocked_kg TEXT NOT NULL,
		total_sold_kg TEXT NOT NULL,
		closing_kg TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (product_code, month)
	);

	CREATE INDEX IF NOT EXISTS idx_stock_ledgers_month
		ON stock_ledgers(month, product_code);

	-- Weekly incentive targets (read-mostly configuration)
	CREATE TABLE IF NOT EXISTS weekly_targets (
		month TEXT PRIMARY KEY,
		payload_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Reconciliation runs (operator visibility)
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		day TEXT NOT NULL,
		pages INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_day
		ON reconciliation_runs(day);

	-- Directory (product/staff metadata)
	CREATE TABLE IF NOT EXISTS products (
		code TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		selling_rate_per_kg TEXT NOT NULL,
		purchase_price_per_kg TEXT
	);

	CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// requireIndex fails with IndexRequiredError when a range query's index is
// missing. Presence is cached after the first successful check.
func (s *Store) requireIndex(ctx context.Context, name, detail string) error {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if s.idxSeen[name] {
		return nil
	}

	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", name, err)
	}
	if count == 0 {
		return &engine.IndexRequiredError{Index: name, Detail: detail}
	}
	s.idxSeen[name] = true
	return nil
}

// =============================================================================
// UNIT CONVERSIONS - integers at rest, decimals in the domain
// =============================================================================

func centsOf(d decimal.Decimal) int64 {
	return d.Round(2).Mul(decimal.NewFromInt(100)).IntPart()
}

func decimalFromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func mgOf(grams decimal.Decimal) int64 {
	return grams.Mul(decimal.NewFromInt(1000)).Round(0).IntPart()
}

func gramsFromMg(mg int64) decimal.Decimal {
	return decimal.New(mg, -3)
}

// =============================================================================
// EVENT STORE
// =============================================================================

type txRow struct {
	ID             string `db:"id"`
	ProductCode    string `db:"product_code"`
	ProductName    string `db:"product_name"`
	WeightMg       int64  `db:"weight_mg"`
	RatePerKgCents int64  `db:"rate_per_kg_cents"`
	LineValueCents int64  `db:"line_value_cents"`
	StaffID        string `db:"staff_id"`
	StaffName      string `db:"staff_name"`
	Status         string `db:"status"`
	OccurredAt     string `db:"occurred_at"`
	SaleDate       string `db:"sale_date"`
	CreatedAt      string `db:"created_at"`
}

func (r txRow) toTransaction() engine.Transaction {
	occurred, _ := time.Parse(time.RFC3339, r.OccurredAt)
	created, _ := time.Parse(time.RFC3339, r.CreatedAt)
	return engine.Transaction{
		ID:               engine.TransactionID(r.ID),
		ProductCode:      engine.ProductCode(r.ProductCode),
		ProductName:      r.ProductName,
		WeightGrams:      gramsFromMg(r.WeightMg),
		SellingRatePerKg: decimalFromCents(r.RatePerKgCents),
		LineValue:        decimalFromCents(r.LineValueCents),
		StaffID:          engine.StaffID(r.StaffID),
		StaffName:        r.StaffName,
		Status:           engine.TransactionStatus(r.Status),
		OccurredAt:       occurred,
		SaleDate:         engine.DayKey(r.SaleDate),
		CreatedAt:        created,
	}
}

func (s *Store) PutTransaction(ctx context.Context, tx engine.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putTransaction(ctx, s.db, tx)
}

func putTransaction(ctx context.Context, ext sqlx.ExtContext, tx engine.Transaction) error {
	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := ext.ExecContext(ctx, `
		INSERT INTO transactions
		(id, product_code, product_name, weight_mg, rate_per_kg_cents, line_value_cents,
		 staff_id, staff_name, status, occurred_at, sale_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.ProductCode, tx.ProductName,
		mgOf(tx.WeightGrams), centsOf(tx.SellingRatePerKg), centsOf(tx.LineValue),
		tx.StaffID, tx.StaffName, tx.Status,
		tx.OccurredAt.UTC().Format(time.RFC3339),
		tx.SaleDate,
		createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, ext sqlx.ExtContext, id engine.TransactionID) (*engine.Transaction, error) {
	var row txRow
	err := sqlx.GetContext(ctx, ext, &row, `SELECT * FROM transactions WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	tx := row.toTransaction()
	return &tx, nil
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id engine.TransactionID, status engine.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateTransactionStatus(ctx, s.db, id, status)
}

func updateTransactionStatus(ctx context.Context, ext sqlx.ExtContext, id engine.TransactionID, status engine.TransactionStatus) error {
	res, err := ext.ExecContext(ctx, `UPDATE transactions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &engine.NotFoundError{Kind: "transaction", Key: string(id)}
	}
	return nil
}

func (s *Store) DeleteTransaction(ctx context.Context, id engine.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteTransaction(ctx, s.db, id)
}

func deleteTransaction(ctx context.Context, ext sqlx.ExtContext, id engine.TransactionID) error {
	_, err := ext.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransactionsByDate(ctx context.Context, day engine.DayKey, afterID engine.TransactionID, pageSize int) ([]engine.Transaction, error) {
	if err := s.requireIndex(ctx, idxTransactionsByDay, "date-ordered transaction paging"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionsByDate(ctx, s.db, day, afterID, pageSize)
}

func transactionsByDate(ctx context.Context, ext sqlx.ExtContext, day engine.DayKey, afterID engine.TransactionID, pageSize int) ([]engine.Transaction, error) {
	// A cursor whose row was deleted concurrently restarts from the
	// beginning of the ordering. Re-reading is safe, missing rows is not.
	if afterID != "" {
		var count int
		err := sqlx.GetContext(ctx, ext, &count,
			`SELECT COUNT(*) FROM transactions WHERE id = ?`, afterID)
		if err != nil {
			return nil, fmt.Errorf("failed to check page cursor: %w", err)
		}
		if count == 0 {
			afterID = ""
		}
	}

	var rows []txRow
	err := sqlx.SelectContext(ctx, ext, &rows, `
		SELECT * FROM transactions
		WHERE sale_date = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?`, day, afterID, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to page transactions: %w", err)
	}

	txs := make([]engine.Transaction, len(rows))
	for i, r := range rows {
		txs[i] = r.toTransaction()
	}
	return txs, nil
}

// =============================================================================
// AGGREGATE STORE - shared day documents
// =============================================================================

func (s *Store) GetDailySummary(ctx context.Context, day engine.DayKey) (*engine.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDailySummary(ctx, s.db, day)
}

func getDailySummary(ctx context.Context, ext sqlx.ExtContext, day engine.DayKey) (*engine.DailySummary, error) {
	var row struct {
		Payload  string `db:"payload_json"`
		Revision int64  `db:"revision"`
	}
	err := sqlx.GetContext(ctx, ext, &row,
		`SELECT payload_json, revision FROM daily_summaries WHERE date = ?`, day)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily summary: %w", err)
	}

	summary := engine.NewDailySummary(day)
	if err := json.Unmarshal([]byte(row.Payload), summary); err != nil {
		return nil, fmt.Errorf("failed to decode daily summary: %w", err)
	}
	summary.Revision = row.Revision
	return summary, nil
}

func (s *Store) GetStaffDailySummary(ctx context.Context, day engine.DayKey) (*engine.StaffDailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getStaffDailySummary(ctx, s.db, day)
}

func getStaffDailySummary(ctx context.Context, ext sqlx.ExtContext, day engine.DayKey) (*engine.StaffDailySummary, error) {
	var row struct {
		Payload  string `db:"payload_json"`
		Revision int64  `db:"revision"`
	}
	err := sqlx.GetContext(ctx, ext, &row,
		`SELECT payload_json, revision FROM staff_daily_summaries WHERE date = ?`, day)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staff daily summary: %w", err)
	}

	summary := engine.NewStaffDailySummary(day)
	if err := json.Unmarshal([]byte(row.Payload), summary); err != nil {
		return nil, fmt.Errorf("failed to decode staff daily summary: %w", err)
	}
	summary.Revision = row.Revision
	return summary, nil
}

// UpdateDaySummaries runs fn inside one database transaction covering the
// read and the conditional write of both day documents. The revision
// predicate on the UPDATE detects a lost race when the store is reached
// through a connection pool without the coarse mutex.
func (s *Store) UpdateDaySummaries(ctx context.Context, day engine.DayKey, fn func(*engine.DailySummary, *engine.StaffDailySummary) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := updateDaySummaries(ctx, sqlTx, day, fn); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func updateDaySummaries(ctx context.Context, ext sqlx.ExtContext, day engine.DayKey, fn func(*engine.DailySummary, *engine.StaffDailySummary) error) error {
	ds, err := getDailySummary(ctx, ext, day)
	if err != nil {
		return err
	}
	if ds == nil {
		ds = engine.NewDailySummary(day)
	}
	ss, err := getStaffDailySummary(ctx, ext, day)
	if err != nil {
		return err
	}
	if ss == nil {
		ss = engine.NewStaffDailySummary(day)
	}

	if err := fn(ds, ss); err != nil {
		return err
	}

	if err := writeDaySummary(ctx, ext, "daily_summaries", day, ds.IsEmpty(), ds, ds.Revision); err != nil {
		return err
	}
	return writeDaySummary(ctx, ext, "staff_daily_summaries", day, ss.IsEmpty(), ss, ss.Revision)
}

func writeDaySummary(ctx context.Context, ext sqlx.ExtContext, table string, day engine.DayKey, empty bool, payload any, revision int64) error {
	// Records that dropped back to empty are pruned so a full reversal
	// restores the exact pre-creation state.
	if empty {
		_, err := ext.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE date = ?`, table), day)
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	if revision == 0 {
		_, err = ext.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (date, payload_json, revision) VALUES (?, ?, 1)
			ON CONFLICT(date) DO UPDATE SET
				payload_json = excluded.payload_json,
				revision = %s.revision + 1`, table, table),
			day, string(body))
		return err
	}

	res, err := ext.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET payload_json = ?, revision = revision + 1
		WHERE date = ? AND revision = ?`, table),
		string(body), day, revision)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &engine.ConflictError{Key: string(day), Attempts: 1}
	}
	return nil
}

// =============================================================================
// AGGREGATE STORE - per-product rows
// =============================================================================

type productRow struct {
	Date        string `db:"date"`
	ProductCode string `db:"product_code"`
	ProductName string `db:"product_name"`
	WeightMg    int64  `db:"total_weight_mg"`
	ValueCents  int64  `db:"total_value_cents"`
	Count       int    `db:"tx_count"`
}

func (r productRow) toSummary() engine.ProductDailySummary {
	return engine.ProductDailySummary{
		Date:             engine.DayKey(r.Date),
		ProductCode:      engine.ProductCode(r.ProductCode),
		ProductName:      r.ProductName,
		TotalWeightGrams: gramsFromMg(r.WeightMg),
		TotalValue:       decimalFromCents(r.ValueCents),
		TotalCount:       r.Count,
	}
}

func toSummaries(rows []productRow) []engine.ProductDailySummary {
	out := make([]engine.ProductDailySummary, len(rows))
	for i, r := range rows {
		out[i] = r.toSummary()
	}
	return out
}

func (s *Store) GetProductDailySummary(ctx context.Context, day engine.DayKey, code engine.ProductCode) (*engine.ProductDailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProductDailySummary(ctx, s.db, day, code)
}

func getProductDailySummary(ctx context.Context, ext sqlx.ExtContext, day engine.DayKey, code engine.ProductCode) (*engine.ProductDailySummary, error) {
	var row productRow
	err := sqlx.GetContext(ctx, ext, &row,
		`SELECT * FROM product_daily_summaries WHERE date = ? AND product_code = ?`, day, code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product daily summary: %w", err)
	}
	summary := row.toSummary()
	return &summary, nil
}

func (s *Store) ListProductDailyByDay(ctx context.Context, day engine.DayKey) ([]engine.ProductDailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listProductDailyByDay(ctx, s.db, day)
}

func listProductDailyByDay(ctx context.Context, ext sqlx.ExtContext, day engine.DayKey) ([]engine.ProductDailySummary, error) {
	var rows []productRow
	err := sqlx.SelectContext(ctx, ext, &rows,
		`SELECT * FROM product_daily_summaries WHERE date = ? ORDER BY product_code ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to list product daily summaries: %w", err)
	}
	return toSummaries(rows), nil
}

func (s *Store) IncrementProductDaily(ctx context.Context, delta engine.ProductDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return incrementProductDaily(ctx, s.db, delta)
}

func incrementProductDaily(ctx context.Context, ext sqlx.ExtContext, delta engine.ProductDelta) error {
	// Pure commutative increment: no prior read, safe under any
	// interleaving of writers touching the same key.
	_, err := ext.ExecContext(ctx, `
		INSERT INTO product_daily_summaries
		(date, product_code, product_name, total_weight_mg, total_value_cents, tx_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, product_code) DO UPDATE SET
			total_weight_mg = total_weight_mg + excluded.total_weight_mg,
			total_value_cents = total_value_cents + excluded.total_value_cents,
			tx_count = tx_count + excluded.tx_count,
			product_name = CASE WHEN excluded.product_name != ''
				THEN excluded.product_name ELSE product_name END`,
		delta.Date, delta.ProductCode, delta.ProductName,
		mgOf(delta.WeightGrams), centsOf(delta.Value), delta.Count)
	if err != nil {
		return fmt.Errorf("failed to increment product daily summary: %w", err)
	}

	// Prune rows that dropped back to zero (full reversal).
	_, err = ext.ExecContext(ctx, `
		DELETE FROM product_daily_summaries
		WHERE date = ? AND product_code = ?
		  AND total_weight_mg = 0 AND total_value_cents = 0 AND tx_count = 0`,
		delta.Date, delta.ProductCode)
	return err
}

func (s *Store) DeleteDayAggregates(ctx context.Context, day engine.DayKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteDayAggregates(ctx, s.db, day)
}

func deleteDayAggregates(ctx context.Context, ext sqlx.ExtContext, day engine.DayKey) error {
	for _, query := range []string{
		`DELETE FROM daily_summaries WHERE date = ?`,
		`DELETE FROM staff_daily_summaries WHERE date = ?`,
		`DELETE FROM product_daily_summaries WHERE date = ?`,
	} {
		if _, err := ext.ExecContext(ctx, query, day); err != nil {
			return fmt.Errorf("failed to clear day aggregates: %w", err)
		}
	}
	return nil
}

func (s *Store) ListProductDailyRange(ctx context.Context, code engine.ProductCode, from, to engine.DayKey) ([]engine.ProductDailySummary, error) {
	if err := s.requireIndex(ctx, idxProductByCodeDate, "per-product date-range scan"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return productDailyRange(ctx, s.db, code, from, to)
}

func productDailyRange(ctx context.Context, ext sqlx.ExtContext, code engine.ProductCode, from, to engine.DayKey) ([]engine.ProductDailySummary, error) {
	var rows []productRow
	err := sqlx.SelectContext(ctx, ext, &rows, `
		SELECT * FROM product_daily_summaries
		WHERE product_code = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, code, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to scan product daily range: %w", err)
	}
	return toSummaries(rows), nil
}

func (s *Store) ListProductCodesSoldInRange(ctx context.Context, from, to engine.DayKey) ([]engine.ProductCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return productCodesSoldInRange(ctx, s.db, from, to)
}

func productCodesSoldInRange(ctx context.Context, ext sqlx.ExtContext, from, to engine.DayKey) ([]engine.ProductCode, error) {
	var codes []string
	err := sqlx.SelectContext(ctx, ext, &codes, `
		SELECT DISTINCT product_code FROM product_daily_summaries
		WHERE date >= ? AND date <= ?
		ORDER BY product_code ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list sold product codes: %w", err)
	}

	out := make([]engine.ProductCode, len(codes))
	for i, c := range codes {
		out[i] = engine.ProductCode(c)
	}
	return out, nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

type ledgerRow struct {
	ProductCode    string `db:"product_code"`
	Month          string `db:"month"`
	OpeningKg      string `db:"opening_kg"`
	RestocksJSON   string `db:"restocks_json"`
	TotalRestocked string `db:"total_restocked_kg"`
	TotalSold      string `db:"total_sold_kg"`
	ClosingKg      string `db:"closing_kg"`
	UpdatedAt      string `db:"updated_at"`
}

func (r ledgerRow) toLedger() (engine.StockLedger, error) {
	restocks := make(map[string]engine.RestockEntry)
	if r.RestocksJSON != "" {
		if err := json.Unmarshal([]byte(r.RestocksJSON), &restocks); err != nil {
			return engine.StockLedger{}, fmt.Errorf("failed to decode restocks: %w", err)
		}
	}
	updatedAt, _ := time.Parse(time.RFC3339, r.UpdatedAt)
	return engine.StockLedger{
		ProductCode:      engine.ProductCode(r.ProductCode),
		Month:            engine.MonthKey(r.Month),
		OpeningStockKg:   parseDecimal(r.OpeningKg),
		Restocks:         restocks,
		TotalRestockedKg: parseDecimal(r.TotalRestocked),
		TotalSoldKg:      parseDecimal(r.TotalSold),
		ClosingStockKg:   parseDecimal(r.ClosingKg),
		UpdatedAt:        updatedAt,
	}, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (s *Store) GetLedger(ctx context.Context, code engine.ProductCode, month engine.MonthKey) (*engine.StockLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLedger(ctx, s.db, code, month)
}

func getLedger(ctx context.Context, ext sqlx.ExtContext, code engine.ProductCode, month engine.MonthKey) (*engine.StockLedger, error) {
	var row ledgerRow
	err := sqlx.GetContext(ctx, ext, &row,
		`SELECT * FROM stock_ledgers WHERE product_code = ? AND month = ?`, code, month)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stock ledger: %w", err)
	}
	ledger, err := row.toLedger()
	if err != nil {
		return nil, err
	}
	return &ledger, nil
}

func (s *Store) PutLedger(ctx context.Context, l engine.StockLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putLedger(ctx, s.db, l)
}

func putLedger(ctx context.Context, ext sqlx.ExtContext, l engine.StockLedger) error {
	restocks, err := json.Marshal(l.Restocks)
	if err != nil {
		return fmt.Errorf("failed to encode restocks: %w", err)
	}
	updatedAt := l.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = ext.ExecContext(ctx, `
		INSERT INTO stock_ledgers
		(product_code, month, opening_kg, restocks_json, total_restocked_kg,
		 total_sold_kg, closing_kg, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_code, month) DO UPDATE SET
			opening_kg = excluded.opening_kg,
			restocks_json = excluded.restocks_json,
			total_restocked_kg = excluded.total_restocked_kg,
			total_sold_kg = excluded.total_sold_kg,
			closing_kg = excluded.closing_kg,
			updated_at = excluded.updated_at`,
		l.ProductCode, l.Month,
		l.OpeningStockKg.String(), string(restocks),
		l.TotalRestockedKg.String(), l.TotalSoldKg.String(), l.ClosingStockKg.String(),
		updatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert stock ledger: %w", err)
	}
	return nil
}

func (s *Store) ListLedgers(ctx context.Context, month engine.MonthKey, afterCode engine.ProductCode, limit int) ([]engine.StockLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLedgers(ctx, s.db, month, afterCode, limit)
}

func listLedgers(ctx context.Context, ext sqlx.ExtContext, month engine.MonthKey, afterCode engine.ProductCode, limit int) ([]engine.StockLedger, error) {
	var rows []ledgerRow
	err := sqlx.SelectContext(ctx, ext, &rows, `
		SELECT * FROM stock_ledgers
		WHERE month = ? AND product_code > ?
		ORDER BY product_code ASC
		LIMIT ?`, month, afterCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock ledgers: %w", err)
	}

	ledgers := make([]engine.StockLedger, 0, len(rows))
	for _, r := range rows {
		l, err := r.toLedger()
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, nil
}

// =============================================================================
// TARGET STORE
// =============================================================================

func (s *Store) GetWeeklyTargets(ctx context.Context, month engine.MonthKey) (*engine.WeeklyTargetSheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getWeeklyTargets(ctx, s.db, month)
}

func getWeeklyTargets(ctx context.Context, ext sqlx.ExtContext, month engine.MonthKey) (*engine.WeeklyTargetSheet, error) {
	var payload string
	err := sqlx.GetContext(ctx, ext, &payload,
		`SELECT payload_json FROM weekly_targets WHERE month = ?`, month)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get weekly targets: %w", err)
	}

	var sheet engine.WeeklyTargetSheet
	if err := json.Unmarshal([]byte(payload), &sheet); err != nil {
		return nil, fmt.Errorf("failed to decode weekly targets: %w", err)
	}
	return &sheet, nil
}

func (s *Store) SaveWeeklyTargets(ctx context.Context, sheet engine.WeeklyTargetSheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveWeeklyTargets(ctx, s.db, sheet)
}

func saveWeeklyTargets(ctx context.Context, ext sqlx.ExtContext, sheet engine.WeeklyTargetSheet) error {
	payload, err := json.Marshal(sheet)
	if err != nil {
		return fmt.Errorf("failed to encode weekly targets: %w", err)
	}
	_, err = ext.ExecContext(ctx, `
		INSERT INTO weekly_targets (month, payload_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(month) DO UPDATE SET
			payload_json = excluded.payload_json,
			updated_at = excluded.updated_at`,
		sheet.Month, string(payload), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save weekly targets: %w", err)
	}
	return nil
}

// =============================================================================
// RUN STORE
// =============================================================================

type runRow struct {
	ID          string         `db:"id"`
	Day         string         `db:"day"`
	Pages       int            `db:"pages"`
	Processed   int            `db:"processed"`
	Skipped     int            `db:"skipped"`
	Status      string         `db:"status"`
	Error       sql.NullString `db:"error"`
	StartedAt   string         `db:"started_at"`
	CompletedAt sql.NullString `db:"completed_at"`
}

func (s *Store) SaveReconciliationRun(ctx context.Context, run engine.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveReconciliationRun(ctx, s.db, run)
}

func saveReconciliationRun(ctx context.Context, ext sqlx.ExtContext, run engine.ReconciliationRun) error {
	_, err := ext.ExecContext(ctx, `
		INSERT INTO reconciliation_runs
		(id, day, pages, processed, skipped, status, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pages = excluded.pages,
			processed = excluded.processed,
			skipped = excluded.skipped,
			status = excluded.status,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		run.ID, run.Day, run.Pages, run.Processed, run.Skipped,
		run.Status, run.Error,
		run.StartedAt.Format(time.RFC3339),
		run.CompletedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

func (s *Store) ListReconciliationRuns(ctx context.Context, limit int) ([]engine.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listReconciliationRuns(ctx, s.db, limit)
}

func listReconciliationRuns(ctx context.Context, ext sqlx.ExtContext, limit int) ([]engine.ReconciliationRun, error) {
	var rows []runRow
	err := sqlx.SelectContext(ctx, ext, &rows, `
		SELECT * FROM reconciliation_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation runs: %w", err)
	}

	runs := make([]engine.ReconciliationRun, len(rows))
	for i, r := range rows {
		started, _ := time.Parse(time.RFC3339, r.StartedAt)
		completed, _ := time.Parse(time.RFC3339, r.CompletedAt.String)
		runs[i] = engine.ReconciliationRun{
			ID:          r.ID,
			Day:         engine.DayKey(r.Day),
			Pages:       r.Pages,
			Processed:   r.Processed,
			Skipped:     r.Skipped,
			Status:      engine.RunStatus(r.Status),
			Error:       r.Error.String,
			StartedAt:   started,
			CompletedAt: completed,
		}
	}
	return runs, nil
}

// =============================================================================
// DIRECTORY
// =============================================================================

// SaveProduct upserts product metadata (dev fixtures and admin imports).
func (s *Store) SaveProduct(ctx context.Context, meta engine.ProductMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (code, name, selling_rate_per_kg, purchase_price_per_kg)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			selling_rate_per_kg = excluded.selling_rate_per_kg,
			purchase_price_per_kg = excluded.purchase_price_per_kg`,
		meta.Code, meta.Name, meta.SellingRatePerKg.String(), meta.PurchasePriceKg.String())
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// SaveStaff upserts a staff directory entry.
func (s *Store) SaveStaff(ctx context.Context, id engine.StaffID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name`, id, name)
	if err != nil {
		return fmt.Errorf("failed to save staff: %w", err)
	}
	return nil
}

func (s *Store) GetProductMetadata(ctx context.Context, code engine.ProductCode) (*engine.ProductMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row struct {
		Code          string         `db:"code"`
		Name          string         `db:"name"`
		SellingRate   string         `db:"selling_rate_per_kg"`
		PurchasePrice sql.NullString `db:"purchase_price_per_kg"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM products WHERE code = ?`, code)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &engine.ProductMetadata{
		Code:             engine.ProductCode(row.Code),
		Name:             row.Name,
		SellingRatePerKg: parseDecimal(row.SellingRate),
		PurchasePriceKg:  parseDecimal(row.PurchasePrice.String),
	}, nil
}

func (s *Store) GetStaffName(ctx context.Context, id engine.StaffID) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	err := s.db.GetContext(ctx, &name, `SELECT name FROM staff WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return engine.UnknownStaffName, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get staff name: %w", err)
	}
	return name, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a single database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &txStore{tx: sqlTx}
	if err := fn(view); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes Store calls through one open database transaction.
type txStore struct {
	tx *sqlx.Tx
}

func (ts *txStore) PutTransaction(ctx context.Context, tx engine.Transaction) error {
	return putTransaction(ctx, ts.tx, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) UpdateTransactionStatus(ctx context.Context, id engine.TransactionID, status engine.TransactionStatus) error {
	return updateTransactionStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) DeleteTransaction(ctx context.Context, id engine.TransactionID) error {
	return deleteTransaction(ctx, ts.tx, id)
}

func (ts *txStore) GetTransactionsByDate(ctx context.Context, day engine.DayKey, afterID engine.TransactionID, pageSize int) ([]engine.Transaction, error) {
	return transactionsByDate(ctx, ts.tx, day, afterID, pageSize)
}

func (ts *txStore) GetDailySummary(ctx context.Context, day engine.DayKey) (*engine.DailySummary, error) {
	return getDailySummary(ctx, ts.tx, day)
}

func (ts *txStore) GetStaffDailySummary(ctx context.Context, day engine.DayKey) (*engine.StaffDailySummary, error) {
	return getStaffDailySummary(ctx, ts.tx, day)
}

func (ts *txStore) GetProductDailySummary(ctx context.Context, day engine.DayKey, code engine.ProductCode) (*engine.ProductDailySummary, error) {
	return getProductDailySummary(ctx, ts.tx, day, code)
}

func (ts *txStore) ListProductDailyByDay(ctx context.Context, day engine.DayKey) ([]engine.ProductDailySummary, error) {
	return listProductDailyByDay(ctx, ts.tx, day)
}

func (ts *txStore) UpdateDaySummaries(ctx context.Context, day engine.DayKey, fn func(*engine.DailySummary, *engine.StaffDailySummary) error) error {
	return updateDaySummaries(ctx, ts.tx, day, fn)
}

func (ts *txStore) IncrementProductDaily(ctx context.Context, delta engine.ProductDelta) error {
	return incrementProductDaily(ctx, ts.tx, delta)
}

func (ts *txStore) DeleteDayAggregates(ctx context.Context, day engine.DayKey) error {
	return deleteDayAggregates(ctx, ts.tx, day)
}

func (ts *txStore) ListProductDailyRange(ctx context.Context, code engine.ProductCode, from, to engine.DayKey) ([]engine.ProductDailySummary, error) {
	return productDailyRange(ctx, ts.tx, code, from, to)
}

func (ts *txStore) ListProductCodesSoldInRange(ctx context.Context, from, to engine.DayKey) ([]engine.ProductCode, error) {
	return productCodesSoldInRange(ctx, ts.tx, from, to)
}

func (ts *txStore) GetLedger(ctx context.Context, code engine.ProductCode, month engine.MonthKey) (*engine.StockLedger, error) {
	return getLedger(ctx, ts.tx, code, month)
}

func (ts *txStore) PutLedger(ctx context.Context, l engine.StockLedger) error {
	return putLedger(ctx, ts.tx, l)
}

func (ts *txStore) ListLedgers(ctx context.Context, month engine.MonthKey, afterCode engine.ProductCode, limit int) ([]engine.StockLedger, error) {
	return listLedgers(ctx, ts.tx, month, afterCode, limit)
}

func (ts *txStore) GetWeeklyTargets(ctx context.Context, month engine.MonthKey) (*engine.WeeklyTargetSheet, error) {
	return getWeeklyTargets(ctx, ts.tx, month)
}

func (ts *txStore) SaveWeeklyTargets(ctx context.Context, sheet engine.WeeklyTargetSheet) error {
	return saveWeeklyTargets(ctx, ts.tx, sheet)
}

func (ts *txStore) SaveReconciliationRun(ctx context.Context, run engine.ReconciliationRun) error {
	return saveReconciliationRun(ctx, ts.tx, run)
}

func (ts *txStore) ListReconciliationRuns(ctx context.Context, limit int) ([]engine.ReconciliationRun, error) {
	return listReconciliationRuns(ctx, ts.tx, limit)
}

// WithTx on a transactional view reuses the open transaction.
func (ts *txStore) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	return fn(ts)
}
