package storage

// sqlite.go — repositorios sobre SQLite (pure Go, sin CGo).
//
// Estrategia:
//   - `orders` + `fills`: la fuente local de verdad del ledger. Los fills
//     son append-only; la cantidad ejecutada se recalcula siempre como
//     suma de fills, nunca se acumula incrementalmente.
//   - `positions`: derivadas, una fila por símbolo (UPSERT).
//   - `stock_locks`: una fila por símbolo (keyed uniquely by symbol).
//     La adquisición es una transacción IMMEDIATE — la condición
//     "no hay ACTIVE vigente" y el insert son un solo paso atómico.
//   - `workers`: registros de liveness.
//
// SQLite es single-writer: MaxOpenConns(1) serializa todos los writes,
// lo que hace triviales las condiciones atómicas de arriba.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id              TEXT PRIMARY KEY,
    broker_order_id TEXT NOT NULL DEFAULT '',
    idempotency_key TEXT NOT NULL UNIQUE,
    symbol          TEXT NOT NULL,
    side            TEXT NOT NULL,
    type            TEXT NOT NULL,
    quantity        REAL NOT NULL,
    price           REAL NOT NULL DEFAULT 0,
    status          TEXT NOT NULL,
    filled_quantity REAL NOT NULL DEFAULT 0,
    avg_fill_price  REAL NOT NULL DEFAULT 0,
    reason          TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL
);

-- Append-only: nunca UPDATE ni DELETE sobre fills
CREATE TABLE IF NOT EXISTS fills (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id       TEXT NOT NULL,
    broker_fill_id TEXT NOT NULL DEFAULT '',
    quantity       REAL NOT NULL,
    price          REAL NOT NULL,
    ts             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
    symbol     TEXT PRIMARY KEY,
    quantity   REAL NOT NULL DEFAULT 0,
    avg_price  REAL NOT NULL DEFAULT 0,
    origin     TEXT NOT NULL DEFAULT 'trade',
    updated_at TEXT NOT NULL
);

-- Una fila por símbolo: a lo sumo un lock ACTIVE por construcción
CREATE TABLE IF NOT EXISTS stock_locks (
    symbol       TEXT PRIMARY KEY,
    worker_id    TEXT NOT NULL,
    acquired_at  TEXT NOT NULL,
    expires_at   TEXT NOT NULL,
    heartbeat_at TEXT NOT NULL,
    status       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS workers (
    id                TEXT PRIMARY KEY,
    status            TEXT NOT NULL,
    held_symbol       TEXT NOT NULL DEFAULT '',
    started_at        TEXT NOT NULL,
    last_heartbeat_at TEXT NOT NULL,
    heartbeat_ms      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_status  ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_broker  ON orders(broker_order_id);
CREATE INDEX IF NOT EXISTS idx_fills_order    ON fills(order_id);
CREATE INDEX IF NOT EXISTS idx_fills_ts       ON fills(ts);
`

// Store implementa los cuatro repositorios (orders, positions, locks,
// workers) sobre una única base SQLite.
type Store struct {
	db *sql.DB
}

// NewStore abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewStore: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close cierra la conexión a la base de datos.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- helpers de tiempo ---

// fmtTime serializa un instante en UTC RFC3339Nano — el único formato que
// entra y sale de la DB.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// inTx ejecuta fn dentro de una transacción con rollback en error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
