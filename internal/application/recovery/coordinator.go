package recovery

// coordinator.go — reconciliación de arranque contra el broker.
//
// El broker es la fuente de verdad. Tras un crash el libro local puede
// divergir de tres maneras y cada una tiene su resolución:
//   - huérfana: el broker la reporta y localmente no existe → se adopta
//     con origin open_reconciled
//   - perdida: existe localmente y el broker ya no la reporta → se marca
//     stale (nunca se borra)
//   - cantidad distinta: se sobrescribe lo local con lo del broker
//
// Un pase FAILED bloquea el trading; el arranque decide si aborta o
// continúa degradado.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/alejandrodnm/stockbot/internal/ports"
)

// OrderSyncer es la porción del ledger de órdenes que el recovery usa
// para forzar los status locales a la vista del broker.
type OrderSyncer interface {
	SyncStatus(ctx context.Context) (int, error)
	OpenOrders(ctx context.Context) ([]domain.Order, error)
}

// Coordinator ejecuta el pase de recovery de arranque.
type Coordinator struct {
	broker    ports.Broker
	positions ports.PositionRepository
	orders    OrderSyncer
	snapshots ports.SnapshotStore
	controls  func() domain.RiskControls // estado de riesgo vigente para el snapshot
}

// NewCoordinator crea el coordinator. controls puede ser nil si aún no
// hay RiskManager (el snapshot sale con controles en cero).
func NewCoordinator(
	broker ports.Broker,
	positions ports.PositionRepository,
	orders OrderSyncer,
	snapshots ports.SnapshotStore,
	controls func() domain.RiskControls,
) *Coordinator {
	return &Coordinator{
		broker:    broker,
		positions: positions,
		orders:    orders,
		snapshots: snapshots,
		controls:  controls,
	}
}

// Run ejecuta un pase completo de reconciliación y persiste el snapshot
// resultante. Devuelve el informe siempre; err != nil implica
// Outcome == FAILED (envuelve domain.ErrRecoveryFailure).
func (c *Coordinator) Run(ctx context.Context) (domain.RecoveryReport, error) {
	report := domain.RecoveryReport{
		Outcome:   domain.RecoveryClean,
		StartedAt: time.Now().UTC(),
	}

	holdings, err := c.broker.InquireBalance(ctx)
	if err != nil {
		return c.fail(report, fmt.Errorf("inquire balance: %w", err))
	}

	if _, err := c.orders.SyncStatus(ctx); err != nil {
		return c.fail(report, fmt.Errorf("sync orders: %w", err))
	}

	local, err := c.positions.GetOpenPositions(ctx)
	if err != nil {
		return c.fail(report, fmt.Errorf("load positions: %w", err))
	}

	if err := c.reconcilePositions(ctx, &report, local, holdings.Holdings); err != nil {
		return c.fail(report, err)
	}

	if report.HasDiscrepancies() {
		report.Outcome = domain.RecoveryReconciled
	}

	if err := c.persistSnapshot(ctx); err != nil {
		return c.fail(report, fmt.Errorf("persist snapshot: %w", err))
	}

	report.FinishedAt = time.Now().UTC()
	slog.Info("recovery: pass finished",
		"outcome", report.Outcome,
		"orphans", len(report.OrphanSymbols),
		"missing", len(report.MissingSymbols),
		"mismatches", len(report.QuantityMismatches))
	return report, nil
}

func (c *Coordinator) reconcilePositions(ctx context.Context, report *domain.RecoveryReport, local []domain.Position, remote []domain.BrokerHolding) error {
	now := time.Now().UTC()

	localBySymbol := make(map[string]domain.Position, len(local))
	for _, p := range local {
		localBySymbol[p.Symbol] = p
	}
	remoteBySymbol := make(map[string]domain.BrokerHolding, len(remote))
	for _, h := range remote {
		remoteBySymbol[h.Symbol] = h
	}

	for _, h := range remote {
		cur, ok := localBySymbol[h.Symbol]
		switch {
		case !ok:
			// Huérfana: el broker la tiene, nosotros no. Se adopta.
			report.OrphanSymbols = append(report.OrphanSymbols, h.Symbol)
			if err := c.positions.UpsertPosition(ctx, domain.Position{
				Symbol:    h.Symbol,
				Quantity:  h.Quantity,
				AvgPrice:  h.AvgPrice,
				Origin:    domain.OriginReconciled,
				UpdatedAt: now,
			}); err != nil {
				return fmt.Errorf("adopt orphan %s: %w", h.Symbol, err)
			}
			slog.Warn("recovery: adopted orphan position",
				"symbol", h.Symbol, "qty", h.Quantity, "avg_price", h.AvgPrice)

		case cur.Quantity != h.Quantity:
			// La palabra del broker sobrescribe la local.
			report.QuantityMismatches = append(report.QuantityMismatches, domain.QuantityMismatch{
				Symbol: h.Symbol, Local: cur.Quantity, Broker: h.Quantity,
			})
			cur.Quantity = h.Quantity
			if h.AvgPrice > 0 {
				cur.AvgPrice = h.AvgPrice
			}
			cur.UpdatedAt = now
			if err := c.positions.UpsertPosition(ctx, cur); err != nil {
				return fmt.Errorf("overwrite %s: %w", h.Symbol, err)
			}
			slog.Warn("recovery: quantity mismatch, broker wins",
				"symbol", h.Symbol, "local", report.QuantityMismatches[len(report.QuantityMismatches)-1].Local,
				"broker", h.Quantity)
		}
	}

	for _, p := range local {
		if _, ok := remoteBySymbol[p.Symbol]; ok {
			continue
		}
		// El broker ya no la reporta: stale, se conserva para auditoría.
		report.MissingSymbols = append(report.MissingSymbols, p.Symbol)
		if err := c.positions.MarkStale(ctx, p.Symbol); err != nil {
			return fmt.Errorf("mark stale %s: %w", p.Symbol, err)
		}
		slog.Warn("recovery: position missing at broker, marked stale", "symbol", p.Symbol)
	}
	return nil
}

// persistSnapshot escribe el estado ya reconciliado como snapshot atómico.
func (c *Coordinator) persistSnapshot(ctx context.Context) error {
	snap := domain.NewTradingStateSnapshot()

	open, err := c.positions.GetOpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range open {
		snap.Positions[p.Symbol] = p
	}

	pending, err := c.orders.OpenOrders(ctx)
	if err != nil {
		return err
	}
	for _, o := range pending {
		snap.PendingOrders[o.ID] = o
	}

	if c.controls != nil {
		snap.RiskControls = c.controls()
	}
	snap.LastUpdated = time.Now().UTC()
	return c.snapshots.Save(ctx, snap)
}

func (c *Coordinator) fail(report domain.RecoveryReport, cause error) (domain.RecoveryReport, error) {
	report.Outcome = domain.RecoveryFailed
	report.Errors = append(report.Errors, cause.Error())
	report.FinishedAt = time.Now().UTC()
	slog.Error("recovery: pass failed", "err", cause)
	return report, fmt.Errorf("recovery.Run: %v: %w", cause, domain.ErrRecoveryFailure)
}
