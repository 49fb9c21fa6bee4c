/*
Package sqlstore provides the database/sql implementation of inventory.TxStore.

PURPOSE:
  One implementation serves SQLite (single node, tests) and PostgreSQL
  (multi-instance). Queries are written with '?' placeholders and rebound to
  '$n' for PostgreSQL; the schema sticks to TEXT and INTEGER columns so the
  same DDL runs on both.

KEY TABLES:
  units:             one row per IMEI, guarded by (status, version)
  variants:          catalog plus the derived stock_count
  sales_orders:      orders with their line snapshot as JSON
  purchase_orders:   intake documents
  return_records:    one row per returned unit
  customers, users:  searchable parties
  aggregate_applied: (entity_id, event_id) dedup records
  outbox_events:     committed ledger events awaiting delivery

TIMESTAMPS:
  Stored as fixed-width UTC text (inventory.TimeLayout) so that text order is
  time order on both engines.

CONCURRENCY:
  SQLite runs on one connection, which serializes transactions. PostgreSQL
  transactions run at SERIALIZABLE; serialization failures surface as
  inventory.ErrConcurrentModification and are retried by the ledger.

MIGRATION:
  Schema is auto-migrated on Open. For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - inventory/store.go: interface definitions
  - inventory/store/memory.go: in-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/unit-ledger/inventory"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "postgres"
)

// sqliteDriver is mattn/go-sqlite3 with lower() replaced by strings.ToLower.
// The built-in only folds ASCII, which misses names like "NGUYỄN".
const sqliteDriver = "sqlite3_unicode"

func init() {
	sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) error {
			return c.RegisterFunc("lower", strings.ToLower, true)
		},
	})
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn runs the store's queries against either the pool or a transaction.
type conn struct {
	q       queryer
	dialect Dialect
}

// Store implements inventory.TxStore.
type Store struct {
	*conn
	db *sql.DB
}

// Open connects with driver ("sqlite3" or "postgres") and migrates the schema.
// Use ":memory:" as the SQLite DSN for an in-memory database.
func Open(driver, dsn string) (*Store, error) {
	switch Dialect(driver) {
	case SQLite:
		return OpenSQLite(dsn)
	case Postgres:
		return OpenPostgres(dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// OpenSQLite opens a SQLite database with foreign keys and WAL enabled.
func OpenSQLite(path string) (*Store, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open(sqliteDriver, path+sep+"_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return open(db, SQLite)
}

// OpenPostgres opens a PostgreSQL database through lib/pq.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return open(db, Postgres)
}

func open(db *sql.DB, dialect Dialect) (*Store, error) {
	s := New(db, dialect)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// New wraps an existing pool without migrating it.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{conn: &conn{q: db, dialect: dialect}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS variants (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	storage TEXT NOT NULL DEFAULT '',
	color TEXT NOT NULL DEFAULT '',
	retail_price TEXT NOT NULL,
	cost_price TEXT NOT NULL,
	stock_count INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS units (
	imei TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	variant_id TEXT NOT NULL REFERENCES variants(id),
	status TEXT NOT NULL,
	cost_price TEXT NOT NULL,
	retail_price_at_claim TEXT NOT NULL,
	intake_id TEXT NOT NULL,
	link_kind TEXT NOT NULL,
	link_id TEXT NOT NULL,
	hold_expires_at TEXT,
	version INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	status_changed_at TEXT NOT NULL,
	updated_by TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_units_link ON units(link_kind, link_id);
CREATE INDEX IF NOT EXISTS idx_units_status_variant ON units(status, variant_id);
CREATE INDEX IF NOT EXISTS idx_units_hold ON units(status, hold_expires_at);

CREATE TABLE IF NOT EXISTS sales_orders (
	id TEXT PRIMARY KEY,
	order_number TEXT NOT NULL UNIQUE,
	idempotency_key TEXT UNIQUE,
	customer_id TEXT NOT NULL,
	customer_name TEXT NOT NULL,
	customer_phone TEXT NOT NULL,
	lines_json TEXT NOT NULL,
	subtotal TEXT NOT NULL,
	tax_rate TEXT NOT NULL,
	tax_amount TEXT NOT NULL,
	discount_amount TEXT NOT NULL,
	shipping_amount TEXT NOT NULL,
	total_amount TEXT NOT NULL,
	payment_method TEXT NOT NULL,
	amount_received TEXT NOT NULL,
	change_given TEXT NOT NULL,
	status TEXT NOT NULL,
	hold_expires_at TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TEXT NOT NULL,
	completed_at TEXT
);

CREATE TABLE IF NOT EXISTS purchase_orders (
	id TEXT PRIMARY KEY,
	number TEXT NOT NULL UNIQUE,
	supplier_id TEXT NOT NULL,
	supplier_name TEXT NOT NULL,
	items_json TEXT NOT NULL,
	reimported_json TEXT NOT NULL,
	total_items_received INTEGER NOT NULL,
	total_amount TEXT NOT NULL,
	status TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS return_records (
	id TEXT PRIMARY KEY,
	return_number TEXT NOT NULL UNIQUE,
	imei TEXT NOT NULL,
	sales_order_id TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	refund_amount TEXT NOT NULL,
	created_by TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_returns_order ON return_records(sales_order_id);

CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	total_spent TEXT NOT NULL DEFAULT '0',
	total_orders INTEGER NOT NULL DEFAULT 0,
	last_purchase_date TEXT,
	tier TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL DEFAULT '',
	is_active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregate_applied (
	entity_id TEXT NOT NULL,
	event_id TEXT NOT NULL,
	PRIMARY KEY (entity_id, event_id)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	delivered_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_events(delivered_at, occurred_at);
`

// =============================================================================
// TRANSACTIONAL STORE (inventory.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	var opts *sql.TxOptions
	if s.dialect == Postgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	sqlTx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}
	return nil
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

// rebind rewrites '?' placeholders to '$n' for PostgreSQL.
func (c *conn) rebind(query string) string {
	if c.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.q.ExecContext(ctx, c.rebind(query), args...)
	return res, classify(err)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.q.QueryContext(ctx, c.rebind(query), args...)
	return rows, classify(err)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.rebind(query), args...)
}

// classify maps driver errors for contention onto the retryable sentinel.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %v", inventory.ErrConcurrentModification, err)
		}
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", inventory.ErrConcurrentModification, err)
		}
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ inventory.TxStore = (*Store)(nil)
	_ inventory.Store   = (*conn)(nil)
)
