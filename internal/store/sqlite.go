package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autotrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Ledger = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id   TEXT    NOT NULL,
	broker_id        TEXT    NOT NULL DEFAULT '',
	symbol           TEXT    NOT NULL,
	side             TEXT    NOT NULL,
	order_type       TEXT    NOT NULL,
	qty              INTEGER NOT NULL,
	price            REAL    NOT NULL,
	filled_avg_price REAL    NOT NULL DEFAULT 0,
	status           TEXT    NOT NULL,
	intent           TEXT    NOT NULL,
	reason           TEXT    NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);

CREATE TABLE IF NOT EXISTS account_snapshots (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	buying_power    REAL    NOT NULL,
	cash            REAL    NOT NULL,
	portfolio_value REAL    NOT NULL,
	equity          REAL    NOT NULL,
	last_equity     REAL    NOT NULL,
	day_trade_count INTEGER NOT NULL,
	trading_blocked INTEGER NOT NULL,
	taken_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON account_snapshots(taken_at);

CREATE TABLE IF NOT EXISTS alerts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT    NOT NULL,
	payload    TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
`

// SQLiteStore implements Ledger backed by a SQLite database. Timestamps are
// stored as Unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// ledger schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY between
	// concurrent appends from the worker pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendTrade inserts an order record.
func (s *SQLiteStore) AppendTrade(ctx context.Context, o domain.Order) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (correlation_id, broker_id, symbol, side, order_type, qty, price,
			filled_avg_price, status, intent, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.CorrelationID, o.BrokerID, o.Symbol, string(o.Side), string(o.Type), o.Qty, o.Price,
		o.FilledAvgPrice, string(o.Status), string(o.Intent), o.Reason, created.UnixMilli())
	if err != nil {
		return fmt.Errorf("appending trade %s: %w", o.CorrelationID, err)
	}
	return nil
}

// AppendAccountSnapshot inserts an account snapshot.
func (s *SQLiteStore) AppendAccountSnapshot(ctx context.Context, a domain.AccountState) error {
	taken := a.Timestamp
	if taken.IsZero() {
		taken = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_snapshots (buying_power, cash, portfolio_value, equity, last_equity,
			day_trade_count, trading_blocked, taken_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.BuyingPower, a.Cash, a.PortfolioValue, a.Equity, a.LastEquity,
		a.DayTradeCount, a.TradingBlocked, taken.UnixMilli())
	if err != nil {
		return fmt.Errorf("appending account snapshot: %w", err)
	}
	return nil
}

// AppendAlert inserts an alert with its payload encoded as JSON.
func (s *SQLiteStore) AppendAlert(ctx context.Context, a domain.Alert) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("encoding alert payload: %w", err)
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (kind, payload, created_at) VALUES (?, ?, ?)`,
		a.Kind, string(payload), created.UnixMilli()); err != nil {
		return fmt.Errorf("appending alert %s: %w", a.Kind, err)
	}
	return nil
}

// RecentTrades returns order records created at or after since.
func (s *SQLiteStore) RecentTrades(ctx context.Context, since time.Time) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT correlation_id, broker_id, symbol, side, order_type, qty, price,
			filled_avg_price, status, intent, reason, created_at
		FROM trades WHERE created_at >= ? ORDER BY created_at, id`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var (
			o                         domain.Order
			side, typ, status, intent string
			createdMs                 int64
		)
		if err := rows.Scan(&o.CorrelationID, &o.BrokerID, &o.Symbol, &side, &typ, &o.Qty, &o.Price,
			&o.FilledAvgPrice, &status, &intent, &o.Reason, &createdMs); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		o.Side = domain.OrderSide(side)
		o.Type = domain.OrderType(typ)
		o.Status = domain.OrderStatus(status)
		o.Intent = domain.OrderIntent(intent)
		o.CreatedAt = time.UnixMilli(createdMs).UTC()
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// RecentSnapshots returns account snapshots taken at or after since.
func (s *SQLiteStore) RecentSnapshots(ctx context.Context, since time.Time) ([]domain.AccountState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT buying_power, cash, portfolio_value, equity, last_equity,
			day_trade_count, trading_blocked, taken_at
		FROM account_snapshots WHERE taken_at >= ? ORDER BY taken_at, id`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.AccountState
	for rows.Next() {
		var (
			a       domain.AccountState
			takenMs int64
		)
		if err := rows.Scan(&a.BuyingPower, &a.Cash, &a.PortfolioValue, &a.Equity, &a.LastEquity,
			&a.DayTradeCount, &a.TradingBlocked, &takenMs); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		a.Timestamp = time.UnixMilli(takenMs).UTC()
		snaps = append(snaps, a)
	}
	return snaps, rows.Err()
}

// Alerts returns the most recent alerts, newest first, up to limit.
func (s *SQLiteStore) Alerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, payload, created_at FROM alerts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var (
			a         domain.Alert
			payload   string
			createdMs int64
		)
		if err := rows.Scan(&a.Kind, &payload, &createdMs); err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
			return nil, fmt.Errorf("decoding alert payload: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdMs).UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
