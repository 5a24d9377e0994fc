/*
Package sqlite provides a SQLite-backed implementation of core.TxStore.

PURPOSE:
  Persists the whole order commitment model: orders, lines, ship groups,
  allocations, reservations, the ATP ledger, inventory items, priority ranks,
  adjustments and billings, plus reference data (addresses, facilities, pick
  locks, replay runs).

APPEND-ONLY ENFORCEMENT:
  ledger_entries is never updated or deleted outside Reset. Adjustments that
  an adjustment_billings row references cannot be deleted.

ENCODING:
  Quantities and money are TEXT through shopspring/decimal's sql.Scanner and
  driver.Valuer, so no value ever passes through float64. Times are TEXT in a
  fixed-width UTC layout that sorts lexicographically.

CONCURRENCY:
  The pool is capped at one connection. A transaction owns that connection
  until it commits or rolls back, so transactions are serialized and a
  non-transactional call made while one is open waits for it. Code inside
  WithTx must use only the Store it is handed.

USAGE:
  store, err := sqlite.New("./data/fulfillment.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - core/store.go: Interface definitions
  - core/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/fulfillment-engine/core"
)

// timeLayout is RFC 3339 with fixed nanoseconds; UTC values sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements core.Store over a connection or a transaction.
type queries struct {
	db dbtx
}

// Store implements core.TxStore using SQLite.
type Store struct {
	*queries
	sqlDB *sql.DB
}

var (
	_ core.TxStore = (*Store)(nil)
	_ core.Store   = (*queries)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{db: db}, sqlDB: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// WithTx runs fn in one SQLite transaction.
func (s *Store) WithTx(ctx context.Context, fn func(core.Store) error) error {
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

var tables = []string{
	"adjustment_billings", "adjustments", "ledger_entries", "reservations",
	"allocations", "priority_ranks", "pick_locks", "ship_groups", "order_lines",
	"orders", "inventory_items", "facilities", "postal_addresses", "replay_runs",
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()
	for _, table := range tables {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		product_store_id TEXT NOT NULL DEFAULT '',
		bill_to_party_id TEXT NOT NULL DEFAULT '',
		origin_facility_id TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT '',
		grand_total TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS order_lines (
		order_id TEXT NOT NULL,
		seq_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		cancel_quantity TEXT NOT NULL DEFAULT '0',
		unit_price TEXT NOT NULL,
		status TEXT NOT NULL,
		PRIMARY KEY (order_id, seq_id)
	);

	CREATE TABLE IF NOT EXISTS ship_groups (
		order_id TEXT NOT NULL,
		seq_id TEXT NOT NULL,
		contact_mech_id TEXT NOT NULL DEFAULT '',
		carrier_party_id TEXT NOT NULL DEFAULT '',
		shipment_method_type_id TEXT NOT NULL DEFAULT '',
		may_split INTEGER NOT NULL DEFAULT 0,
		is_gift INTEGER NOT NULL DEFAULT 0,
		ship_by_date TEXT,
		third_party_json TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (order_id, seq_id)
	);

	CREATE TABLE IF NOT EXISTS allocations (
		order_id TEXT NOT NULL,
		order_item_seq_id TEXT NOT NULL,
		ship_group_seq_id TEXT NOT NULL,
		quantity TEXT NOT NULL,
		shipped_quantity TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (order_id, order_item_seq_id, ship_group_seq_id)
	);

	CREATE TABLE IF NOT EXISTS reservations (
		order_id TEXT NOT NULL,
		order_item_seq_id TEXT NOT NULL,
		ship_group_seq_id TEXT NOT NULL,
		inventory_item_id TEXT NOT NULL,
		reserve_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		quantity_unavailable TEXT NOT NULL DEFAULT '0',
		reserved_at TEXT NOT NULL,
		sequence_id INTEGER NOT NULL,
		priority TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (order_id, order_item_seq_id, ship_group_seq_id, inventory_item_id)
	);

	-- Replay and rebalance walk reservations in this order (hot path)
	CREATE INDEX IF NOT EXISTS idx_reservations_item_order
		ON reservations(inventory_item_id, reserved_at, sequence_id);

	-- Append-only ATP ledger
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		inventory_item_id TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		order_item_seq_id TEXT NOT NULL DEFAULT '',
		ship_group_seq_id TEXT NOT NULL DEFAULT '',
		atp_diff TEXT NOT NULL,
		qoh_diff TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_item
		ON ledger_entries(inventory_item_id);

	CREATE TABLE IF NOT EXISTS inventory_items (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL DEFAULT '',
		facility_id TEXT NOT NULL DEFAULT '',
		quantity_on_hand TEXT NOT NULL,
		available_to_promise TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS priority_ranks (
		order_id TEXT NOT NULL,
		ship_group_seq_id TEXT NOT NULL,
		priority_value INTEGER NOT NULL,
		PRIMARY KEY (order_id, ship_group_seq_id)
	);

	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		order_id TEXT NOT NULL,
		order_item_seq_id TEXT NOT NULL DEFAULT '',
		ship_group_seq_id TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		source_percentage TEXT,
		tax_authority_geo_id TEXT NOT NULL DEFAULT '',
		tax_auth_party_id TEXT NOT NULL DEFAULT '',
		primary_geo_id TEXT NOT NULL DEFAULT '',
		tax_authority_rate_seq_id TEXT NOT NULL DEFAULT '',
		comments TEXT NOT NULL DEFAULT '',
		applies_to_quantity TEXT,
		never_prorate INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_order
		ON adjustments(order_id, created_at);

	CREATE TABLE IF NOT EXISTS adjustment_billings (
		adjustment_id TEXT NOT NULL REFERENCES adjustments(id),
		invoice_id TEXT NOT NULL,
		invoice_item_seq_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (adjustment_id, invoice_id, invoice_item_seq_id)
	);

	CREATE TABLE IF NOT EXISTS postal_addresses (
		contact_mech_id TEXT PRIMARY KEY,
		address1 TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		postal_code TEXT NOT NULL DEFAULT '',
		state_geo_id TEXT NOT NULL DEFAULT '',
		country_geo_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS facilities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		address_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS pick_locks (
		order_id TEXT NOT NULL,
		order_item_seq_id TEXT NOT NULL,
		ship_group_seq_id TEXT NOT NULL,
		PRIMARY KEY (order_id, order_item_seq_id, ship_group_seq_id)
	);

	CREATE TABLE IF NOT EXISTS replay_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		cancelled INTEGER NOT NULL DEFAULT 0,
		reserved INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.sqlDB.Exec(schema)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
