/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists counterparties, advances, transactions, batches and prices in
  SQLite. The same SQL runs on the connection pool and on an open sql.Tx, so
  WithTx views see their own uncommitted writes.

KEY TABLES:
  counterparties: contact data plus derived running totals
  advances:       advances with settlement history as JSON
  transactions:   immutable buy/sell ledger (receipt_number UNIQUE)
  batches:        physical stock with movement history as JSON
  prices:         append-only series, seq AUTOINCREMENT breaks timestamp ties

STORAGE FORMAT:
  - decimals are TEXT (decimal.Decimal is a sql.Scanner and driver.Valuer),
    so values round-trip exactly
  - times are fixed-width UTC text, so string order is time order
  - advances.outstanding and batches.in_stock mirror the decimal columns
    for the filters that cannot compare TEXT numerically

CONCURRENCY:
  The pool is limited to one connection, so statements and transactions are
  serialized by database/sql. Read-modify-write cycles that span calls are
  guarded by the version columns: UPDATE ... WHERE version = ?.

MIGRATION:
  Schema lives in migrations/*.sql, embedded and applied with golang-migrate
  on New(). `gold-ledger migrate` runs them explicitly.

USAGE:
  store, err := sqlite.New("./data/gold.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store, ledger.Options{MergeBatches: true}, log)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/mongo: MongoDB implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/goldtrader/gold-ledger/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	conn
	db *sql.DB
}

// New creates a new SQLite store with the given database path and applies
// pending migrations. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{conn: conn{q: db}, db: db}
	if _, err := store.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies pending up migrations and returns the resulting schema
// version.
func (s *Store) Migrate() (uint, error) {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return 0, fmt.Errorf("open migrations: %w", err)
	}
	defer src.Close()

	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return 0, fmt.Errorf("start sqlite3 migrate driver: %w", err)
	}
	// m.Close() would close s.db as well; only the source is released.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return 0, fmt.Errorf("migration failed to start: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("could not run up migrations: %w", err)
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, err
	}
	return version, nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tables := []string{"transactions", "advances", "batches", "prices", "counterparties"}
	for _, table := range tables {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements ledger.Store over a querier.
type conn struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// COUNTERPARTIES
// =============================================================================

const counterpartyColumns = `id, name, phone, email, location, notes, bank_details_json, mobile_money_json,
	type, trust_level, is_active, total_transactions, total_weight_grams, total_amount_traded,
	outstanding_balance, last_transaction_date, created_at, updated_at, version`

func (c *conn) InsertCounterparty(ctx context.Context, cp ledger.Counterparty) error {
	bank, momo, err := contactJSON(cp)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `INSERT INTO counterparties (`+counterpartyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.Name, cp.Phone, cp.Email, cp.Location, cp.Notes, bank, momo,
		cp.Type, cp.TrustLevel, cp.IsActive, cp.TotalTransactions, cp.TotalWeightGrams,
		cp.TotalAmountTraded, cp.OutstandingBalance, nullTime(cp.LastTransactionDate),
		formatTime(cp.CreatedAt), formatTime(cp.UpdatedAt), cp.Version,
	)
	return insertError("counterparty", err)
}

func (c *conn) GetCounterparty(ctx context.Context, id ledger.CounterpartyID) (*ledger.Counterparty, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+counterpartyColumns+` FROM counterparties WHERE id = ?`, id)
	cp, err := scanCounterparty(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (c *conn) UpdateCounterparty(ctx context.Context, cp ledger.Counterparty) error {
	bank, momo, err := contactJSON(cp)
	if err != nil {
		return err
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE counterparties SET
			name = ?, phone = ?, email = ?, location = ?, notes = ?,
			bank_details_json = ?, mobile_money_json = ?, type = ?, trust_level = ?, is_active = ?,
			total_transactions = ?, total_weight_grams = ?, total_amount_traded = ?,
			outstanding_balance = ?, last_transaction_date = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		cp.Name, cp.Phone, cp.Email, cp.Location, cp.Notes,
		bank, momo, cp.Type, cp.TrustLevel, cp.IsActive,
		cp.TotalTransactions, cp.TotalWeightGrams, cp.TotalAmountTraded,
		cp.OutstandingBalance, nullTime(cp.LastTransactionDate), formatTime(cp.UpdatedAt),
		cp.ID, cp.Version,
	)
	return casResult("counterparty", res, err)
}

func (c *conn) ListCounterparties(ctx context.Context, f ledger.CounterpartyFilter) ([]ledger.Counterparty, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.ActiveOnly {
		where = append(where, "is_active = 1")
	}
	if f.NameLike != "" {
		where = append(where, "LOWER(name) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.NameLike)+"%")
	}
	query := `SELECT ` + counterpartyColumns + ` FROM counterparties` + whereClause(where) + ` ORDER BY name ASC, id ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query counterparties: %w", err)
	}
	defer rows.Close()

	out := []ledger.Counterparty{}
	for rows.Next() {
		cp, err := scanCounterparty(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func scanCounterparty(row scanner) (ledger.Counterparty, error) {
	var (
		cp                        ledger.Counterparty
		phone, email, location    sql.NullString
		notes, bankJSON, momoJSON sql.NullString
		lastTx                    sql.NullString
		createdAt, updatedAt      string
	)
	err := row.Scan(
		&cp.ID, &cp.Name, &phone, &email, &location, &notes, &bankJSON, &momoJSON,
		&cp.Type, &cp.TrustLevel, &cp.IsActive, &cp.TotalTransactions, &cp.TotalWeightGrams,
		&cp.TotalAmountTraded, &cp.OutstandingBalance, &lastTx, &createdAt, &updatedAt, &cp.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return cp, err
		}
		return cp, fmt.Errorf("failed to scan counterparty: %w", err)
	}
	cp.Phone, cp.Email, cp.Location, cp.Notes = phone.String, email.String, location.String, notes.String
	if bankJSON.Valid && bankJSON.String != "" {
		cp.BankDetails = &ledger.BankDetails{}
		if err := json.Unmarshal([]byte(bankJSON.String), cp.BankDetails); err != nil {
			return cp, fmt.Errorf("decode bank details: %w", err)
		}
	}
	if momoJSON.Valid && momoJSON.String != "" {
		cp.MobileMoney = &ledger.MobileMoney{}
		if err := json.Unmarshal([]byte(momoJSON.String), cp.MobileMoney); err != nil {
			return cp, fmt.Errorf("decode mobile money: %w", err)
		}
	}
	if cp.LastTransactionDate, err = parseNullTime(lastTx); err != nil {
		return cp, err
	}
	if cp.CreatedAt, err = parseTime(createdAt); err != nil {
		return cp, err
	}
	if cp.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return cp, err
	}
	return cp, nil
}

func contactJSON(cp ledger.Counterparty) (bank, momo sql.NullString, err error) {
	if cp.BankDetails != nil {
		b, err := json.Marshal(cp.BankDetails)
		if err != nil {
			return bank, momo, err
		}
		bank = nullString(string(b))
	}
	if cp.MobileMoney != nil {
		m, err := json.Marshal(cp.MobileMoney)
		if err != nil {
			return bank, momo, err
		}
		momo = nullString(string(m))
	}
	return bank, momo, nil
}

// =============================================================================
// ADVANCES
// =============================================================================

const advanceColumns = `id, counterparty_id, counterparty_name, amount, currency, purpose, payment_method,
	remaining_balance, status, settlements_json, given_date, expected_settlement_date, settled_date,
	created_by, version`

func (c *conn) InsertAdvance(ctx context.Context, a ledger.Advance) error {
	settlements, err := json.Marshal(orEmpty(a.SettlementHistory))
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `INSERT INTO advances (`+advanceColumns+`, outstanding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CounterpartyID, a.CounterpartyName, a.Amount, a.Currency, nullString(a.Purpose),
		a.PaymentMethod, a.RemainingBalance, a.Status, string(settlements), formatTime(a.GivenDate),
		nullTime(a.ExpectedSettlementDate), nullTime(a.SettledDate), nullString(a.CreatedBy), a.Version,
		a.RemainingBalance.IsPositive(),
	)
	return insertError("advance", err)
}

func (c *conn) GetAdvance(ctx context.Context, id ledger.AdvanceID) (*ledger.Advance, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+advanceColumns+` FROM advances WHERE id = ?`, id)
	a, err := scanAdvance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *conn) UpdateAdvance(ctx context.Context, a ledger.Advance) error {
	settlements, err := json.Marshal(orEmpty(a.SettlementHistory))
	if err != nil {
		return err
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE advances SET
			remaining_balance = ?, outstanding = ?, status = ?, settlements_json = ?,
			expected_settlement_date = ?, settled_date = ?, purpose = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		a.RemainingBalance, a.RemainingBalance.IsPositive(), a.Status, string(settlements),
		nullTime(a.ExpectedSettlementDate), nullTime(a.SettledDate), nullString(a.Purpose),
		a.ID, a.Version,
	)
	return casResult("advance", res, err)
}

func (c *conn) ListAdvances(ctx context.Context, f ledger.AdvanceFilter) ([]ledger.Advance, error) {
	var (
		where []string
		args  []any
	)
	if f.CounterpartyID != "" {
		where = append(where, "counterparty_id = ?")
		args = append(args, f.CounterpartyID)
	}
	if f.OutstandingOnly {
		where = append(where, "outstanding = 1")
	}
	query := `SELECT ` + advanceColumns + ` FROM advances` + whereClause(where) + ` ORDER BY given_date ASC, id ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query advances: %w", err)
	}
	defer rows.Close()

	out := []ledger.Advance{}
	for rows.Next() {
		a, err := scanAdvance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAdvance(row scanner) (ledger.Advance, error) {
	var (
		a                      ledger.Advance
		purpose, createdBy     sql.NullString
		settlements, givenDate string
		expected, settled      sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.CounterpartyID, &a.CounterpartyName, &a.Amount, &a.Currency, &purpose, &a.PaymentMethod,
		&a.RemainingBalance, &a.Status, &settlements, &givenDate, &expected, &settled, &createdBy, &a.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan advance: %w", err)
	}
	a.Purpose = purpose.String
	a.CreatedBy = createdBy.String
	if a.GivenDate, err = parseTime(givenDate); err != nil {
		return a, err
	}
	if a.ExpectedSettlementDate, err = parseNullTime(expected); err != nil {
		return a, err
	}
	if a.SettledDate, err = parseNullTime(settled); err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(settlements), &a.SettlementHistory); err != nil {
		return a, fmt.Errorf("decode settlement history: %w", err)
	}
	return a, nil
}

// =============================================================================
// TRANSACTIONS (append-only)
// =============================================================================

const transactionColumns = `id, type, counterparty_id, counterparty_name, gold_type, purity, purity_percentage,
	specific_gravity, weight_grams, spot_price_per_oz, spot_price_per_gram, discount_percentage,
	buying_price_per_gram, total_amount, currency, payment_method, payment_status, amount_paid,
	advance_deducted, advance_id, location, receipt_number, batch_id, draws_json, notes, created_by, created_at`

// InsertTransaction adds a ledger entry. There is no UPDATE or DELETE on
// the transactions table.
func (c *conn) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	draws, err := json.Marshal(orEmpty(tx.Draws))
	if err != nil {
		return err
	}
	var gravity decimal.NullDecimal
	if tx.SpecificGravity != nil {
		gravity = decimal.NewNullDecimal(*tx.SpecificGravity)
	}
	_, err = c.q.ExecContext(ctx, `INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.Type, tx.CounterpartyID, tx.CounterpartyName, tx.GoldType, tx.Purity, tx.PurityPercentage,
		gravity, tx.WeightGrams, tx.SpotPricePerOz, tx.SpotPricePerGram, tx.DiscountPercentage,
		tx.BuyingPricePerGram, tx.TotalAmount, tx.Currency, tx.PaymentMethod, tx.PaymentStatus, tx.AmountPaid,
		tx.AdvanceDeducted, nullString(string(tx.AdvanceID)), tx.Location, tx.ReceiptNumber,
		nullString(string(tx.BatchID)), string(draws), nullString(tx.Notes), nullString(tx.CreatedBy),
		formatTime(tx.CreatedAt),
	)
	return insertError("transaction", err)
}

func (c *conn) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return c.getTransaction(ctx, "id", string(id))
}

func (c *conn) GetTransactionByReceipt(ctx context.Context, receipt string) (*ledger.Transaction, error) {
	return c.getTransaction(ctx, "receipt_number", receipt)
}

func (c *conn) getTransaction(ctx context.Context, column, value string) (*ledger.Transaction, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE `+column+` = ?`, value)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *conn) ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if f.CounterpartyID != "" {
		where = append(where, "counterparty_id = ?")
		args = append(args, f.CounterpartyID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions` + whereClause(where) +
		` ORDER BY created_at DESC, receipt_number DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	out := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		tx                            ledger.Transaction
		gravity                       decimal.NullDecimal
		advanceID, batchID, notes, by sql.NullString
		draws, createdAt              string
	)
	err := row.Scan(
		&tx.ID, &tx.Type, &tx.CounterpartyID, &tx.CounterpartyName, &tx.GoldType, &tx.Purity, &tx.PurityPercentage,
		&gravity, &tx.WeightGrams, &tx.SpotPricePerOz, &tx.SpotPricePerGram, &tx.DiscountPercentage,
		&tx.BuyingPricePerGram, &tx.TotalAmount, &tx.Currency, &tx.PaymentMethod, &tx.PaymentStatus, &tx.AmountPaid,
		&tx.AdvanceDeducted, &advanceID, &tx.Location, &tx.ReceiptNumber, &batchID, &draws, &notes, &by, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if gravity.Valid {
		g := gravity.Decimal
		tx.SpecificGravity = &g
	}
	tx.AdvanceID = ledger.AdvanceID(advanceID.String)
	tx.BatchID = ledger.BatchID(batchID.String)
	tx.Notes = notes.String
	tx.CreatedBy = by.String
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return tx, err
	}
	if err := json.Unmarshal([]byte(draws), &tx.Draws); err != nil {
		return tx, fmt.Errorf("decode batch draws: %w", err)
	}
	if len(tx.Draws) == 0 {
		tx.Draws = nil
	}
	return tx, nil
}

// =============================================================================
// BATCHES
// =============================================================================

const batchColumns = `id, gold_type, purity, purity_percentage, weight_grams, location, avg_cost_per_gram,
	total_cost, source_transaction_id, supplier_id, movements_json, created_at, updated_at, version`

func (c *conn) InsertBatch(ctx context.Context, b ledger.Batch) error {
	movements, err := json.Marshal(orEmpty(b.MovementHistory))
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `INSERT INTO batches (`+batchColumns+`, in_stock)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.GoldType, b.Purity, b.PurityPercentage, b.WeightGrams, b.Location, b.AvgCostPerGram,
		b.TotalCost, nullString(string(b.SourceTransactionID)), nullString(string(b.SupplierID)),
		string(movements), formatTime(b.CreatedAt), formatTime(b.UpdatedAt), b.Version,
		b.WeightGrams.IsPositive(),
	)
	return insertError("batch", err)
}

func (c *conn) GetBatch(ctx context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *conn) UpdateBatch(ctx context.Context, b ledger.Batch) error {
	movements, err := json.Marshal(orEmpty(b.MovementHistory))
	if err != nil {
		return err
	}
	res, err := c.q.ExecContext(ctx, `
		UPDATE batches SET
			weight_grams = ?, in_stock = ?, location = ?, avg_cost_per_gram = ?, total_cost = ?,
			movements_json = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		b.WeightGrams, b.WeightGrams.IsPositive(), b.Location, b.AvgCostPerGram, b.TotalCost,
		string(movements), formatTime(b.UpdatedAt),
		b.ID, b.Version,
	)
	return casResult("batch", res, err)
}

func (c *conn) ListBatches(ctx context.Context, f ledger.BatchFilter) ([]ledger.Batch, error) {
	var (
		where []string
		args  []any
	)
	if f.Location != "" {
		where = append(where, "location = ?")
		args = append(args, f.Location)
	}
	if f.GoldType != "" {
		where = append(where, "gold_type = ?")
		args = append(args, f.GoldType)
	}
	if f.InStockOnly {
		where = append(where, "in_stock = 1")
	}
	query := `SELECT ` + batchColumns + ` FROM batches` + whereClause(where) + ` ORDER BY created_at ASC, id ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer rows.Close()

	out := []ledger.Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(row scanner) (ledger.Batch, error) {
	var (
		b                    ledger.Batch
		source, supplier     sql.NullString
		movements            string
		createdAt, updatedAt string
	)
	err := row.Scan(
		&b.ID, &b.GoldType, &b.Purity, &b.PurityPercentage, &b.WeightGrams, &b.Location, &b.AvgCostPerGram,
		&b.TotalCost, &source, &supplier, &movements, &createdAt, &updatedAt, &b.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return b, err
		}
		return b, fmt.Errorf("failed to scan batch: %w", err)
	}
	b.SourceTransactionID = ledger.TransactionID(source.String)
	b.SupplierID = ledger.CounterpartyID(supplier.String)
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return b, err
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return b, err
	}
	if err := json.Unmarshal([]byte(movements), &b.MovementHistory); err != nil {
		return b, fmt.Errorf("decode movement history: %w", err)
	}
	if len(b.MovementHistory) == 0 {
		b.MovementHistory = nil
	}
	return b, nil
}

// =============================================================================
// PRICES (append-only)
// =============================================================================

const priceColumns = `seq, id, commodity, price_per_oz, price_per_gram, currency, source, timestamp`

func (c *conn) InsertPrice(ctx context.Context, p ledger.PriceObservation) (ledger.PriceObservation, error) {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO prices (id, commodity, price_per_oz, price_per_gram, currency, source, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Commodity, p.PricePerOz, p.PricePerGram, p.Currency, p.Source, formatTime(p.Timestamp),
	)
	if err != nil {
		return p, insertError("price", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return p, fmt.Errorf("read price sequence: %w", err)
	}
	p.Sequence = seq
	return p, nil
}

func (c *conn) LatestPrice(ctx context.Context, commodity ledger.Commodity, at *time.Time) (*ledger.PriceObservation, error) {
	query := `SELECT ` + priceColumns + ` FROM prices WHERE commodity = ?`
	args := []any{commodity}
	if at != nil {
		query += ` AND timestamp <= ?`
		args = append(args, formatTime(*at))
	}
	query += ` ORDER BY timestamp DESC, seq DESC LIMIT 1`

	p, err := scanPrice(c.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *conn) ListPrices(ctx context.Context, commodity ledger.Commodity, from, to time.Time) ([]ledger.PriceObservation, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+priceColumns+` FROM prices
		WHERE commodity = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, seq ASC`,
		commodity, formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	out := []ledger.PriceObservation{}
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPrice(row scanner) (ledger.PriceObservation, error) {
	var (
		p  ledger.PriceObservation
		ts string
	)
	err := row.Scan(&p.Sequence, &p.ID, &p.Commodity, &p.PricePerOz, &p.PricePerGram, &p.Currency, &p.Source, &ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan price: %w", err)
	}
	if p.Timestamp, err = parseTime(ts); err != nil {
		return p, err
	}
	return p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

// insertError maps SQLite constraint failures to ledger.ErrDuplicateKey.
func insertError(entity string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return fmt.Errorf("insert %s: %w", entity, ledger.ErrDuplicateKey)
	}
	return fmt.Errorf("failed to insert %s: %w", entity, err)
}

// casResult turns "no row matched id and version" into a conflict.
func casResult(entity string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", entity, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", entity, ledger.ErrConcurrencyConflict)
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// orEmpty makes nil slices encode as [] instead of null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
