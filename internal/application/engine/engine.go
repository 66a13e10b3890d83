package engine

// engine.go — el runtime que une ledger, riesgo, locks y ciclo de vida.
//
// Regla de concurrencia: el mutex del engine cubre SOLO el estado en
// memoria (cache de quotes, PnL realizado). Ninguna llamada al broker
// ocurre con el mutex tomado — las órdenes viajan por el ledger fuera
// de cualquier sección crítica.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/stockbot/internal/adapters/metrics"
	"github.com/alejandrodnm/stockbot/internal/application/ledger"
	"github.com/alejandrodnm/stockbot/internal/application/lifecycle"
	"github.com/alejandrodnm/stockbot/internal/application/lock"
	"github.com/alejandrodnm/stockbot/internal/application/recovery"
	"github.com/alejandrodnm/stockbot/internal/application/risk"
	"github.com/alejandrodnm/stockbot/internal/application/worker"
	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/alejandrodnm/stockbot/internal/ports"
)

// Config controla los ciclos del engine.
type Config struct {
	StopLossPct          float64
	TakeProfitPct        float64
	ReconcileInterval    time.Duration
	PriceMonitorInterval time.Duration
	LockSweepInterval    time.Duration
	DeadMonitorInterval  time.Duration
	SnapshotInterval     time.Duration
	StopTimeout          time.Duration
}

// Deps son los colaboradores del engine.
type Deps struct {
	Orders       *ledger.OrderLedger
	Positions    *ledger.PositionLedger
	PositionRepo ports.PositionRepository
	Risk         *risk.Manager
	Locks        *lock.Manager
	Monitor      *worker.Monitor
	Lifecycle    *lifecycle.Controller
	Broker       ports.Broker
	Stream       ports.RealtimeStream
	Snapshots    ports.SnapshotStore
	Notifier     ports.Notifier
	Metrics      *metrics.Metrics // nil → sin métricas
}

// Status es la foto que expone el engine al exterior.
type Status struct {
	System        domain.SystemState
	Positions     []domain.Position
	PendingOrders []domain.Order
	Risk          domain.RiskControls
}

// Engine es el coordinador del runtime de trading.
type Engine struct {
	cfg        Config
	deps       Deps
	reconciler *recovery.Reconciler

	mu       sync.Mutex
	quotes   map[string]float64
	realized float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New crea el engine y cablea el reconciler continuo con su callback.
func New(cfg Config, deps Deps) *Engine {
	e := &Engine{
		cfg:    cfg,
		deps:   deps,
		quotes: make(map[string]float64),
	}
	e.reconciler = recovery.NewReconciler(deps.Broker, deps.PositionRepo, e.onDiscrepancies)
	deps.Risk.SetPositionsView(e.openPositionsView)
	deps.Lifecycle.SetMarks(e)
	return e
}

// LastPrice implementa ports.QuoteSource sobre la cache de quotes.
func (e *Engine) LastPrice(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.quotes[symbol]
	return p, ok
}

// Start restaura el snapshot previo, abre mercado y lanza los bucles de
// fondo. Bloquea solo durante la secuencia de apertura.
func (e *Engine) Start(ctx context.Context) error {
	if snap, found, err := e.deps.Snapshots.Load(ctx); err != nil {
		return fmt.Errorf("engine.Start: load snapshot: %w", err)
	} else if found {
		// El kill switch del día sobrevive al restart; el rollover del
		// open-market lo limpia si cambió el día UTC.
		e.deps.Risk.Restore(snap.RiskControls)
		e.mu.Lock()
		e.realized = snap.RiskControls.RealizedPnL
		e.mu.Unlock()
		slog.Info("engine: snapshot restored",
			"positions", len(snap.Positions),
			"pending_orders", len(snap.PendingOrders),
			"kill_switch", snap.RiskControls.KillSwitchActive)
	}

	// Callbacks antes de Connect: el stream lo exige.
	e.deps.Stream.OnQuote(e.onQuote)
	e.deps.Stream.OnFill(e.onFill)

	if err := e.deps.Lifecycle.OpenMarket(ctx); err != nil {
		return fmt.Errorf("engine.Start: %w", err)
	}
	if err := e.deps.Lifecycle.StartTrading(); err != nil {
		return fmt.Errorf("engine.Start: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.spawn(func() { e.reconciler.Run(loopCtx, e.cfg.ReconcileInterval) })
	e.spawn(func() { e.priceMonitorLoop(loopCtx) })
	e.spawn(func() { e.deps.Locks.RunSweeper(loopCtx, e.cfg.LockSweepInterval) })
	e.spawn(func() { e.deps.Monitor.Run(loopCtx, e.cfg.DeadMonitorInterval) })
	e.spawn(func() { e.snapshotLoop(loopCtx) })
	e.spawn(func() { e.orderSyncLoop(loopCtx) })

	slog.Info("engine: started")
	return nil
}

// Stop cancela los bucles, espera su salida (con tope StopTimeout),
// persiste el snapshot final y cierra mercado.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.StopTimeout):
		slog.Warn("engine: loops did not stop within timeout", "timeout", e.cfg.StopTimeout)
	}

	if err := e.persistSnapshot(ctx); err != nil {
		slog.Error("engine: final snapshot failed", "err", err)
	}

	realized, unrealized := e.pnl(ctx)
	if err := e.deps.Lifecycle.CloseMarket(ctx, realized, unrealized); err != nil {
		return fmt.Errorf("engine.Stop: %w", err)
	}
	slog.Info("engine: stopped", "realized_pnl", realized, "unrealized_pnl", unrealized)
	return nil
}

// Buy crea y envía una compra. Implementa worker.Trader.
// price == 0 → orden a mercado.
func (e *Engine) Buy(ctx context.Context, symbol string, qty, price float64) (domain.Order, error) {
	return e.trade(ctx, symbol, domain.SideBuy, qty, price)
}

// Sell crea y envía una venta. price == 0 → orden a mercado.
func (e *Engine) Sell(ctx context.Context, symbol string, qty, price float64) (domain.Order, error) {
	return e.trade(ctx, symbol, domain.SideSell, qty, price)
}

func (e *Engine) trade(ctx context.Context, symbol string, side domain.OrderSide, qty, price float64) (domain.Order, error) {
	if !e.deps.Lifecycle.AllowsTrading() {
		state := e.deps.Lifecycle.State()
		reason := string(state.Status)
		if state.StoppedReason != "" {
			reason = state.StoppedReason
		}
		return domain.Order{}, fmt.Errorf("trading disabled: %s: %w", reason, domain.ErrTradingDisabled)
	}

	orderType := domain.TypeLimit
	if price == 0 {
		orderType = domain.TypeMarket
	}
	res, err := e.deps.Orders.Create(ctx, domain.OrderRequest{
		IdempotencyKey: uuid.New().String(),
		Symbol:         symbol,
		Side:           side,
		Type:           orderType,
		Quantity:       qty,
		Price:          price,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine.trade: %w", err)
	}
	if res.Order.Status == domain.OrderStatusRejected {
		e.countOrder(res.Order)
		e.notify(ctx, domain.NewEvent(domain.EventOrderRejected, domain.SeverityWarning,
			fmt.Sprintf("%s %s rejected: %s", side, symbol, res.Order.Reason), nil))
		return res.Order, fmt.Errorf("engine.trade: %s: %w", res.Order.Reason, domain.ErrRiskViolation)
	}

	sent, err := e.deps.Orders.Send(ctx, res.Order.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine.trade: %w", err)
	}
	e.countOrder(sent)
	return sent, nil
}

// Status devuelve la foto del sistema: estado global, posiciones, órdenes
// pendientes y controles de riesgo.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	open, err := e.deps.PositionRepo.GetOpenPositions(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("engine.Status: %w", err)
	}
	pending, err := e.deps.Orders.OpenOrders(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("engine.Status: %w", err)
	}
	return Status{
		System:        e.deps.Lifecycle.State(),
		Positions:     open,
		PendingOrders: pending,
		Risk:          e.deps.Risk.Controls(),
	}, nil
}

// onQuote actualiza la cache de últimos precios.
func (e *Engine) onQuote(q domain.Quote) {
	e.mu.Lock()
	e.quotes[q.Symbol] = q.Price
	e.mu.Unlock()
}

// onFill procesa una ejecución del stream: avanza la orden, recalcula la
// posición, acumula PnL realizado y evalúa el kill switch.
func (e *Engine) onFill(ev domain.FillEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// La base de coste PREVIA al fill es la que realiza PnL en ventas.
	var prevAvg float64
	if prev, err := e.deps.PositionRepo.GetPosition(ctx, ev.Symbol); err == nil {
		prevAvg = prev.AvgPrice
	}

	order, err := e.deps.Orders.ProcessFill(ctx, ev)
	if err != nil {
		slog.Error("engine: fill processing failed", "broker_order", ev.BrokerOrderID, "err", err)
		return
	}
	if e.deps.Metrics != nil {
		e.deps.Metrics.Fills.Inc()
	}

	if _, err := e.deps.Positions.Recompute(ctx, ev.Symbol); err != nil {
		slog.Error("engine: position recompute failed", "symbol", ev.Symbol, "err", err)
		return
	}

	if order.Side == domain.SideSell && prevAvg > 0 {
		e.mu.Lock()
		e.realized += ledger.RealizedPnL(ev.Price, prevAvg, ev.Quantity)
		e.mu.Unlock()
	}

	if order.Status == domain.OrderStatusFilled {
		e.countOrder(order)
		e.notify(ctx, domain.NewEvent(domain.EventOrderFilled, domain.SeverityInfo,
			fmt.Sprintf("%s %s filled: %.0f @ %.2f", order.Side, order.Symbol,
				order.FilledQuantity, order.AvgFillPrice), nil))
	}

	e.evaluateRisk(ctx)
}

// priceMonitorLoop vigila stop-loss y take-profit sobre las posiciones
// abiertas y refresca el PnL del día.
func (e *Engine) priceMonitorLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PriceMonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.priceMonitorCycle(ctx)
		}
	}
}

func (e *Engine) priceMonitorCycle(ctx context.Context) {
	open, err := e.deps.PositionRepo.GetOpenPositions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("engine: price monitor load failed", "err", err)
		}
		return
	}

	for _, pos := range open {
		mark, ok := e.LastPrice(pos.Symbol)
		if !ok || pos.AvgPrice <= 0 {
			continue
		}
		pct := pos.UnrealizedPnL(mark) / (pos.AvgPrice * absf(pos.Quantity))

		switch {
		case e.cfg.StopLossPct > 0 && pct <= -e.cfg.StopLossPct:
			slog.Warn("engine: stop loss hit", "symbol", pos.Symbol, "pct", pct)
			e.notify(ctx, domain.NewEvent(domain.EventStopLoss, domain.SeverityWarning,
				fmt.Sprintf("stop loss on %s at %.2f (%.1f%%)", pos.Symbol, mark, pct*100),
				map[string]any{"qty": pos.Quantity}))
			if _, err := e.Sell(ctx, pos.Symbol, absf(pos.Quantity), 0); err != nil {
				slog.Error("engine: stop loss sell failed", "symbol", pos.Symbol, "err", err)
			}
		case e.cfg.TakeProfitPct > 0 && pct >= e.cfg.TakeProfitPct:
			slog.Info("engine: take profit hit", "symbol", pos.Symbol, "pct", pct)
			e.notify(ctx, domain.NewEvent(domain.EventTakeProfit, domain.SeverityInfo,
				fmt.Sprintf("take profit on %s at %.2f (%.1f%%)", pos.Symbol, mark, pct*100),
				map[string]any{"qty": pos.Quantity}))
			if _, err := e.Sell(ctx, pos.Symbol, absf(pos.Quantity), 0); err != nil {
				slog.Error("engine: take profit sell failed", "symbol", pos.Symbol, "err", err)
			}
		}
	}

	e.evaluateRisk(ctx)
}

// evaluateRisk recalcula el PnL del día y publica el evento de kill
// switch solo en la transición.
func (e *Engine) evaluateRisk(ctx context.Context) {
	realized, unrealized := e.pnl(ctx)

	if triggered := e.deps.Risk.UpdatePnL(realized, unrealized); triggered {
		controls := e.deps.Risk.Controls()
		e.notify(ctx, domain.NewEvent(domain.EventKillSwitchTriggered, domain.SeverityCritical,
			"daily loss limit breached, buys disabled for the rest of the day",
			map[string]any{"reason": controls.KillSwitchReason}))
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.DailyPnL.Set(realized + unrealized)
		if e.deps.Risk.KillSwitchActive() {
			e.deps.Metrics.KillSwitch.Set(1)
		} else {
			e.deps.Metrics.KillSwitch.Set(0)
		}
	}
}

// pnl devuelve (realizado, no realizado) del día.
func (e *Engine) pnl(ctx context.Context) (float64, float64) {
	e.mu.Lock()
	realized := e.realized
	e.mu.Unlock()

	var unrealized float64
	open, err := e.deps.PositionRepo.GetOpenPositions(ctx)
	if err != nil {
		return realized, 0
	}
	for _, p := range open {
		if mark, ok := e.LastPrice(p.Symbol); ok {
			unrealized += p.UnrealizedPnL(mark)
		}
	}
	return realized, unrealized
}

// orderSyncLoop fuerza el status de las órdenes abiertas a la vista del
// broker — cubre fills o cancelaciones que el stream no entregó.
func (e *Engine) orderSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := e.deps.Orders.SyncStatus(ctx)
			if err != nil && ctx.Err() == nil {
				slog.Error("engine: order sync failed", "err", err)
				continue
			}
			if changed > 0 {
				slog.Warn("engine: order statuses forced from broker", "count", changed)
			}
		}
	}
}

// snapshotLoop persiste el estado periódicamente.
func (e *Engine) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := e.persistSnapshot(saveCtx); err != nil {
				slog.Error("engine: periodic snapshot failed", "err", err)
			}
			cancel()
		}
	}
}

// persistSnapshot escribe el estado vigente de forma atómica.
func (e *Engine) persistSnapshot(ctx context.Context) error {
	snap := domain.NewTradingStateSnapshot()

	open, err := e.deps.PositionRepo.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine.persistSnapshot: %w", err)
	}
	for _, p := range open {
		snap.Positions[p.Symbol] = p
	}

	pending, err := e.deps.Orders.OpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("engine.persistSnapshot: %w", err)
	}
	for _, o := range pending {
		snap.PendingOrders[o.ID] = o
	}

	controls := e.deps.Risk.Controls()
	e.mu.Lock()
	controls.RealizedPnL = e.realized
	e.mu.Unlock()
	snap.RiskControls = controls
	snap.LastUpdated = time.Now().UTC()

	if err := e.deps.Snapshots.Save(ctx, snap); err != nil {
		return fmt.Errorf("engine.persistSnapshot: %w", err)
	}
	return nil
}

// onDiscrepancies publica las divergencias del reconciler continuo.
func (e *Engine) onDiscrepancies(found []recovery.Discrepancy) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, d := range found {
		if e.deps.Metrics != nil {
			e.deps.Metrics.Discrepancies.WithLabelValues(d.Kind).Inc()
		}
		e.notify(ctx, domain.NewEvent(domain.EventDiscrepancy, domain.SeverityWarning,
			fmt.Sprintf("reconciliation drift (%s) on %s", d.Kind, d.Symbol),
			map[string]any{"local": d.Local, "broker": d.Broker, "detail": d.Detail}))
	}
}

func (e *Engine) openPositionsView() []domain.Position {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	open, err := e.deps.PositionRepo.GetOpenPositions(ctx)
	if err != nil {
		slog.Error("engine: positions view failed", "err", err)
		return nil
	}
	return open
}

func (e *Engine) countOrder(o domain.Order) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.Orders.WithLabelValues(string(o.Side), string(o.Status)).Inc()
	}
}

func (e *Engine) notify(ctx context.Context, ev domain.Event) {
	if e.deps.Notifier == nil {
		return
	}
	if err := e.deps.Notifier.Notify(ctx, ev); err != nil {
		slog.Warn("engine: notify failed", "type", ev.Type, "err", err)
	}
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
