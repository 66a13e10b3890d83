package lock

// manager.go — exclusión mutua distribuida por símbolo, basada en leases
// con TTL. La expiración del TTL es el ÚNICO camino involuntario de
// pérdida de propiedad: un worker que crashea sin liberar deja el
// símbolo bloqueado solo hasta que venza el lease.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/alejandrodnm/stockbot/internal/ports"
)

// Manager coordina los stock locks sobre el backing store transaccional.
type Manager struct {
	repo      ports.LockRepository
	ttl       time.Duration
	retention time.Duration    // 0 → sin prune de filas EXPIRED
	now       func() time.Time // inyectable en tests
}

// NewManager crea el manager con el TTL de lease dado.
func NewManager(repo ports.LockRepository, ttl time.Duration) *Manager {
	return &Manager{repo: repo, ttl: ttl, now: time.Now}
}

// SetRetention activa el borrado de filas EXPIRED más viejas que d
// durante el sweep periódico. Apagado por defecto.
func (m *Manager) SetRetention(d time.Duration) {
	m.retention = d
}

// Acquire toma el lock del símbolo para el worker. El barrido de
// vencidos ocurre dentro de la misma operación condicional atómica del
// store, así que dos workers nunca observan a la vez "no hay lock".
// Si el mismo worker ya lo posee, la llamada cuenta como renovación.
func (m *Manager) Acquire(ctx context.Context, symbol, workerID string) (domain.StockLock, error) {
	l, err := m.repo.TryAcquire(ctx, symbol, workerID, m.ttl, m.now().UTC())
	if err != nil {
		return domain.StockLock{}, fmt.Errorf("lock.Acquire: %w", err)
	}
	slog.Debug("lock: acquired", "symbol", symbol, "worker", workerID,
		"expires_at", l.ExpiresAt)
	return l, nil
}

// Renew extiende el lease solo si el caller sigue poseyendo un lock
// ACTIVE no vencido. Distingue "not found" de "expired".
func (m *Manager) Renew(ctx context.Context, symbol, workerID string) error {
	if err := m.repo.ExtendLease(ctx, symbol, workerID, m.ttl, m.now().UTC()); err != nil {
		return fmt.Errorf("lock.Renew: %w", err)
	}
	return nil
}

// Heartbeat actualiza solo el timestamp de latido — señal de vida,
// distinta de la renovación del lease.
func (m *Manager) Heartbeat(ctx context.Context, symbol, workerID string) error {
	if err := m.repo.TouchHeartbeat(ctx, symbol, workerID, m.now().UTC()); err != nil {
		return fmt.Errorf("lock.Heartbeat: %w", err)
	}
	return nil
}

// Release libera el lock voluntariamente.
func (m *Manager) Release(ctx context.Context, symbol, workerID string) error {
	if err := m.repo.Release(ctx, symbol, workerID); err != nil {
		return fmt.Errorf("lock.Release: %w", err)
	}
	slog.Debug("lock: released", "symbol", symbol, "worker", workerID)
	return nil
}

// Owns re-valida la propiedad vigente — obligatorio antes de completar
// una compra que pudo haber quedado en vuelo con el lease vencido.
func (m *Manager) Owns(ctx context.Context, symbol, workerID string) bool {
	l, err := m.repo.GetActiveLock(ctx, symbol)
	if err != nil {
		return false
	}
	return l.OwnedBy(workerID, m.now().UTC())
}

// CleanupExpired barre todos los ACTIVE vencidos a EXPIRED.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	n, err := m.repo.SweepExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("lock.CleanupExpired: %w", err)
	}
	if n > 0 {
		slog.Info("lock: swept expired leases", "count", n)
	}
	return n, nil
}

// RunSweeper ejecuta CleanupExpired en bucle hasta que el contexto se
// cancele. Pensado para correr en su propia goroutine.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("lock: sweep failed", "err", err)
			}
			if m.retention > 0 {
				before := m.now().UTC().Add(-m.retention)
				if n, err := m.repo.PruneExpired(ctx, before); err != nil && ctx.Err() == nil {
					slog.Warn("lock: prune failed", "err", err)
				} else if n > 0 {
					slog.Info("lock: pruned expired rows", "count", n)
				}
			}
		}
	}
}
