// Package storage provides the durable state of the exchange on SQLite:
// users, instruments, balances, orders and trades. Every engine entry
// point runs inside a single transaction obtained from WithTx; the
// stores themselves never commit.
package storage

import (
	"context"
	"fmt"
	"time"

	"cosmossdk.io/log"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/openalpha/spot-dex/types"
)

// Querier is the common query surface of *sqlx.DB and *sqlx.Tx. Store
// methods take it explicitly so the caller decides the transaction
// scope.
type Querier = sqlx.ExtContext

// Store owns the database handle and the schema.
type Store struct {
	db     *sqlx.DB
	logger log.Logger
}

// Open opens (creating if necessary) the exchange database at path.
// Pass ":memory:" for an ephemeral database in tests.
func Open(path string, logger log.Logger) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite supports a single writer; funnel everything through one
	// connection so BEGIN never races a sibling in the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, logger: logger.With("module", "storage")}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB returns the handle for read-only queries outside a transaction.
func (s *Store) DB() *sqlx.DB { return s.db }

// WithTx runs fn inside one transaction. Any error from fn rolls the
// transaction back and is returned as-is; commit failures surface as
// ErrStorage.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return types.ErrStorage.Wrapf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "err", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return types.ErrStorage.Wrapf("commit: %v", err)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL,
		role         TEXT NOT NULL,
		api_key_hash BLOB NOT NULL,
		created_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS instruments (
		ticker TEXT PRIMARY KEY,
		name   TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balances (
		user_id  TEXT NOT NULL,
		ticker   TEXT NOT NULL,
		total    INTEGER NOT NULL DEFAULT 0,
		reserved INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, ticker),
		CHECK (reserved >= 0 AND reserved <= total)
	);

	CREATE TABLE IF NOT EXISTS orders (
		id        TEXT PRIMARY KEY,
		user_id   TEXT NOT NULL,
		ticker    TEXT NOT NULL,
		direction TEXT NOT NULL,
		kind      TEXT NOT NULL,
		qty       INTEGER NOT NULL,
		price     INTEGER,
		filled    INTEGER NOT NULL DEFAULT 0,
		status    TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		CHECK (qty > 0 AND filled >= 0 AND filled <= qty)
	);

	CREATE INDEX IF NOT EXISTS idx_orders_book
		ON orders (ticker, direction, status, price, timestamp);
	CREATE INDEX IF NOT EXISTS idx_orders_user
		ON orders (user_id);

	CREATE TABLE IF NOT EXISTS trades (
		id             TEXT PRIMARY KEY,
		ticker         TEXT NOT NULL,
		maker_order_id TEXT NOT NULL,
		taker_order_id TEXT NOT NULL,
		buyer_id       TEXT NOT NULL,
		seller_id      TEXT NOT NULL,
		qty            INTEGER NOT NULL,
		price          INTEGER NOT NULL,
		timestamp      INTEGER NOT NULL,
		CHECK (qty > 0 AND price > 0)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_ticker_time
		ON trades (ticker, timestamp DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// The quote currency exists as an instrument row so balances can
	// reference it, but it is never tradable.
	_, err := s.db.Exec(
		`INSERT INTO instruments (ticker, name) VALUES (?, ?)
		 ON CONFLICT (ticker) DO NOTHING`,
		types.QuoteTicker, "Russian Ruble")
	return err
}
