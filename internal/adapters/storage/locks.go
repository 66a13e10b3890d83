package storage

// locks.go — backing store de los stock locks.
//
// La tabla tiene UNA fila por símbolo (PK), así que "a lo sumo un lock
// ACTIVE por símbolo" se cumple por construcción. La adquisición entera
// (barrer vencidos + comprobar dueño + insertar/renovar) corre dentro de
// una transacción sobre la única conexión de escritura: dos workers nunca
// pueden observar a la vez "no hay lock ACTIVE".

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// TryAcquire intenta tomar (o renovar) el lock del símbolo.
func (s *Store) TryAcquire(ctx context.Context, symbol, workerID string, ttl time.Duration, now time.Time) (domain.StockLock, error) {
	var out domain.StockLock

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Barrido oportunista: un ACTIVE vencido pasa a EXPIRED antes
		// de decidir nada.
		if _, err := tx.ExecContext(ctx, `
			UPDATE stock_locks SET status = ?
			WHERE symbol = ? AND status = ? AND expires_at <= ?`,
			string(domain.LockStatusExpired), symbol,
			string(domain.LockStatusActive), fmtTime(now),
		); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}

		cur, err := scanLockRow(tx.QueryRowContext(ctx, `
			SELECT symbol, worker_id, acquired_at, expires_at, heartbeat_at, status
			FROM stock_locks WHERE symbol = ?`, symbol))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// sin fila previa: insert limpio más abajo
		case err != nil:
			return fmt.Errorf("select: %w", err)
		case cur.Status == domain.LockStatusActive && cur.WorkerID != workerID:
			return fmt.Errorf("%s held by %s: %w", symbol, cur.WorkerID, domain.ErrLockAcquisition)
		case cur.Status == domain.LockStatusActive && cur.WorkerID == workerID:
			// renovación del propio dueño
			out = cur
			out.ExpiresAt = now.Add(ttl)
			out.HeartbeatAt = now
			_, err := tx.ExecContext(ctx, `
				UPDATE stock_locks SET expires_at = ?, heartbeat_at = ? WHERE symbol = ?`,
				fmtTime(out.ExpiresAt), fmtTime(now), symbol)
			if err != nil {
				return fmt.Errorf("renew: %w", err)
			}
			return nil
		}

		// Fila inexistente o EXPIRED: el símbolo queda libre para el caller.
		out = domain.StockLock{
			Symbol:      symbol,
			WorkerID:    workerID,
			AcquiredAt:  now,
			ExpiresAt:   now.Add(ttl),
			HeartbeatAt: now,
			Status:      domain.LockStatusActive,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_locks (symbol, worker_id, acquired_at, expires_at, heartbeat_at, status)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET
				worker_id    = excluded.worker_id,
				acquired_at  = excluded.acquired_at,
				expires_at   = excluded.expires_at,
				heartbeat_at = excluded.heartbeat_at,
				status       = excluded.status`,
			symbol, workerID, fmtTime(now), fmtTime(out.ExpiresAt),
			fmtTime(now), string(domain.LockStatusActive),
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.StockLock{}, fmt.Errorf("storage.TryAcquire: %w", err)
	}
	return out, nil
}

// GetActiveLock devuelve el lock ACTIVE del símbolo, si existe.
func (s *Store) GetActiveLock(ctx context.Context, symbol string) (domain.StockLock, error) {
	l, err := scanLockRow(s.db.QueryRowContext(ctx, `
		SELECT symbol, worker_id, acquired_at, expires_at, heartbeat_at, status
		FROM stock_locks WHERE symbol = ? AND status = ?`,
		symbol, string(domain.LockStatusActive)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockLock{}, fmt.Errorf("storage.GetActiveLock: %s: %w", symbol, domain.ErrLockNotFound)
	}
	if err != nil {
		return domain.StockLock{}, fmt.Errorf("storage.GetActiveLock: %w", err)
	}
	return l, nil
}

// ExtendLease extiende expires_at solo si el caller posee un ACTIVE vigente.
func (s *Store) ExtendLease(ctx context.Context, symbol, workerID string, ttl time.Duration, now time.Time) error {
	return s.ownedUpdate(ctx, symbol, workerID, now, `
		UPDATE stock_locks SET expires_at = ?
		WHERE symbol = ? AND worker_id = ? AND status = ? AND expires_at > ?`,
		fmtTime(now.Add(ttl)), symbol, workerID,
		string(domain.LockStatusActive), fmtTime(now))
}

// TouchHeartbeat actualiza solo heartbeat_at — señal de vida, no renueva
// el lease.
func (s *Store) TouchHeartbeat(ctx context.Context, symbol, workerID string, now time.Time) error {
	return s.ownedUpdate(ctx, symbol, workerID, now, `
		UPDATE stock_locks SET heartbeat_at = ?
		WHERE symbol = ? AND worker_id = ? AND status = ? AND expires_at > ?`,
		fmtTime(now), symbol, workerID,
		string(domain.LockStatusActive), fmtTime(now))
}

// ownedUpdate ejecuta un UPDATE condicionado a propiedad vigente y, si no
// tocó ninguna fila, distingue "no existe" de "vencido".
func (s *Store) ownedUpdate(ctx context.Context, symbol, workerID string, now time.Time, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("storage.ownedUpdate: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Nada actualizado: ¿no existe, venció, o es de otro worker?
	cur, err := scanLockRow(s.db.QueryRowContext(ctx, `
		SELECT symbol, worker_id, acquired_at, expires_at, heartbeat_at, status
		FROM stock_locks WHERE symbol = ?`, symbol))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("storage.ownedUpdate: %s: %w", symbol, domain.ErrLockNotFound)
	case err != nil:
		return fmt.Errorf("storage.ownedUpdate: %w", err)
	case cur.Status != domain.LockStatusActive || cur.WorkerID != workerID:
		return fmt.Errorf("storage.ownedUpdate: %s: %w", symbol, domain.ErrLockNotFound)
	default:
		return fmt.Errorf("storage.ownedUpdate: %s expired at %s: %w",
			symbol, cur.ExpiresAt.Format(time.RFC3339), domain.ErrLockExpired)
	}
}

// Release marca EXPIRED el lock del caller — liberación voluntaria.
func (s *Store) Release(ctx context.Context, symbol, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_locks SET status = ?
		WHERE symbol = ? AND worker_id = ? AND status = ?`,
		string(domain.LockStatusExpired), symbol, workerID,
		string(domain.LockStatusActive))
	if err != nil {
		return fmt.Errorf("storage.Release: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.Release: %s: %w", symbol, domain.ErrLockNotFound)
	}
	return nil
}

// SweepExpired barre a EXPIRED todos los ACTIVE vencidos.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_locks SET status = ?
		WHERE status = ? AND expires_at <= ?`,
		string(domain.LockStatusExpired),
		string(domain.LockStatusActive), fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("storage.SweepExpired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PruneExpired borra filas EXPIRED antiguas. Retención de auditoría:
// las filas ACTIVE nunca se tocan.
func (s *Store) PruneExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM stock_locks WHERE status = ? AND expires_at <= ?`,
		string(domain.LockStatusExpired), fmtTime(before))
	if err != nil {
		return 0, fmt.Errorf("storage.PruneExpired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanLockRow(row *sql.Row) (domain.StockLock, error) {
	var l domain.StockLock
	var acquiredAt, expiresAt, heartbeatAt, status string
	if err := row.Scan(&l.Symbol, &l.WorkerID, &acquiredAt, &expiresAt, &heartbeatAt, &status); err != nil {
		return domain.StockLock{}, err
	}
	l.AcquiredAt = parseTime(acquiredAt)
	l.ExpiresAt = parseTime(expiresAt)
	l.HeartbeatAt = parseTime(heartbeatAt)
	l.Status = domain.LockStatus(status)
	return l, nil
}
