package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// UpsertWorker escribe el registro completo de un worker.
func (s *Store) UpsertWorker(ctx context.Context, w domain.WorkerProcess) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (id, status, held_symbol, started_at, last_heartbeat_at, heartbeat_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status            = excluded.status,
			held_symbol       = excluded.held_symbol,
			last_heartbeat_at = excluded.last_heartbeat_at,
			heartbeat_ms      = excluded.heartbeat_ms`,
		w.ID, string(w.Status), w.HeldSymbol,
		fmtTime(w.StartedAt), fmtTime(w.LastHeartbeatAt),
		w.HeartbeatInterval.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertWorker: %s: %w", w.ID, err)
	}
	return nil
}

// GetWorker devuelve el registro de un worker.
func (s *Store) GetWorker(ctx context.Context, id string) (domain.WorkerProcess, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx, `
		SELECT id, status, held_symbol, started_at, last_heartbeat_at, heartbeat_ms
		FROM workers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WorkerProcess{}, fmt.Errorf("storage.GetWorker: %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return domain.WorkerProcess{}, fmt.Errorf("storage.GetWorker: %w", err)
	}
	return w, nil
}

// ListWorkers devuelve todos los workers registrados.
func (s *Store) ListWorkers(ctx context.Context) ([]domain.WorkerProcess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, held_symbol, started_at, last_heartbeat_at, heartbeat_ms
		FROM workers ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListWorkers: query: %w", err)
	}
	defer rows.Close()

	var workers []domain.WorkerProcess
	for rows.Next() {
		var w domain.WorkerProcess
		var status, startedAt, heartbeatAt string
		var hbMs int64
		if err := rows.Scan(&w.ID, &status, &w.HeldSymbol, &startedAt, &heartbeatAt, &hbMs); err != nil {
			return nil, fmt.Errorf("storage.ListWorkers: scan: %w", err)
		}
		w.Status = domain.WorkerStatus(status)
		w.StartedAt = parseTime(startedAt)
		w.LastHeartbeatAt = parseTime(heartbeatAt)
		w.HeartbeatInterval = time.Duration(hbMs) * time.Millisecond
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// TouchWorkerHeartbeat actualiza solo el timestamp de latido.
func (s *Store) TouchWorkerHeartbeat(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workers SET last_heartbeat_at = ? WHERE id = ?`,
		fmtTime(now), id)
	if err != nil {
		return fmt.Errorf("storage.TouchWorkerHeartbeat: %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.TouchWorkerHeartbeat: %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// PruneExited borra registros EXITING sin latido desde antes de before.
func (s *Store) PruneExited(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workers WHERE status = ? AND last_heartbeat_at <= ?`,
		string(domain.WorkerStatusExiting), fmtTime(before))
	if err != nil {
		return 0, fmt.Errorf("storage.PruneExited: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanWorker(row *sql.Row) (domain.WorkerProcess, error) {
	var w domain.WorkerProcess
	var status, startedAt, heartbeatAt string
	var hbMs int64
	if err := row.Scan(&w.ID, &status, &w.HeldSymbol, &startedAt, &heartbeatAt, &hbMs); err != nil {
		return domain.WorkerProcess{}, err
	}
	w.Status = domain.WorkerStatus(status)
	w.StartedAt = parseTime(startedAt)
	w.LastHeartbeatAt = parseTime(heartbeatAt)
	w.HeartbeatInterval = time.Duration(hbMs) * time.Millisecond
	return w, nil
}
