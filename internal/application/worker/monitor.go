package worker

// monitor.go — barrido de workers muertos.
//
// Un worker que deja de latir durante 3× su intervalo se da por muerto:
// su registro pasa a EXITING y su lock (si mantenía) se libera para que
// el símbolo vuelva a estar disponible. La posición NO se toca — la
// reconciliación contra el broker es quien decide sobre ella.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/stockbot/internal/application/lock"
	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/alejandrodnm/stockbot/internal/ports"
)

// Monitor barre periódicamente los workers sin latido.
type Monitor struct {
	workers   ports.WorkerRepository
	locks     *lock.Manager
	retention time.Duration // 0 → sin prune de registros EXITING
	now       func() time.Time
}

// NewMonitor crea el monitor.
func NewMonitor(workers ports.WorkerRepository, locks *lock.Manager) *Monitor {
	return &Monitor{workers: workers, locks: locks, now: time.Now}
}

// SetRetention activa el borrado de registros EXITING más viejos que d
// durante el barrido periódico. Apagado por defecto.
func (m *Monitor) SetRetention(d time.Duration) {
	m.retention = d
}

// RunOnce ejecuta un barrido y devuelve cuántos workers dio por muertos.
func (m *Monitor) RunOnce(ctx context.Context) (int, error) {
	all, err := m.workers.ListWorkers(ctx)
	if err != nil {
		return 0, fmt.Errorf("monitor.RunOnce: %w", err)
	}

	now := m.now().UTC()
	swept := 0
	for _, w := range all {
		if !w.IsDead(now) {
			continue
		}
		slog.Warn("monitor: worker declared dead",
			"worker", w.ID, "last_heartbeat", w.LastHeartbeatAt, "held", w.HeldSymbol)

		w.Status = domain.WorkerStatusExiting
		if err := m.workers.UpsertWorker(ctx, w); err != nil {
			return swept, fmt.Errorf("monitor.RunOnce: mark %s: %w", w.ID, err)
		}
		if w.HeldSymbol != "" {
			if err := m.locks.Release(ctx, w.HeldSymbol, w.ID); err != nil &&
				!errors.Is(err, domain.ErrLockNotFound) {
				slog.Error("monitor: failed to release dead worker lock",
					"worker", w.ID, "symbol", w.HeldSymbol, "err", err)
			}
		}
		swept++
	}
	return swept, nil
}

// Run ejecuta RunOnce en bucle hasta que el contexto se cancele.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("monitor: sweep failed", "err", err)
			}
			if m.retention > 0 {
				before := m.now().UTC().Add(-m.retention)
				if n, err := m.workers.PruneExited(ctx, before); err != nil && ctx.Err() == nil {
					slog.Warn("monitor: prune failed", "err", err)
				} else if n > 0 {
					slog.Info("monitor: pruned exited workers", "count", n)
				}
			}
		}
	}
}
