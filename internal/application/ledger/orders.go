package ledger

// orders.go — máquina de estados de órdenes con dedup por idempotency key.
//
// Garantías:
//   - Para una idempotency key dada, a lo sumo UNA orden llega al broker,
//     incluso bajo Creates concurrentes (el check+insert es atómico en el
//     repositorio).
//   - El status solo avanza por la tabla de transiciones; un intento
//     ilegal devuelve InvalidTransitionError sin tocar el estado guardado.
//   - La cantidad ejecutada se recalcula siempre como suma de fills.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/stockbot/internal/application/ratelimit"
	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/alejandrodnm/stockbot/internal/ports"
	"github.com/google/uuid"
)

// RiskValidator valida (y puede reducir) una compra antes de aceptarla.
// Definida aquí para no acoplar el ledger al RiskManager concreto.
type RiskValidator interface {
	ValidateOrder(symbol string, qty, price float64, side domain.OrderSide) (approved bool, adjustedQty float64, reason string)
}

// CreateResult es la salida de Create.
type CreateResult struct {
	Order domain.Order
	// Duplicate indica que la key ya existía: la orden devuelta es la
	// original, sin cambios, y nada viajó al broker.
	Duplicate bool
}

// OrderLedger es el dueño exclusivo de los registros Order/Fill.
type OrderLedger struct {
	repo    ports.OrderRepository
	broker  ports.Broker
	risk    RiskValidator
	limiter *ratelimit.Limiter
}

// NewOrderLedger crea el ledger.
func NewOrderLedger(repo ports.OrderRepository, broker ports.Broker, risk RiskValidator, limiter *ratelimit.Limiter) *OrderLedger {
	return &OrderLedger{repo: repo, broker: broker, risk: risk, limiter: limiter}
}

// Create registra una orden NEW. Si ya existe una orden con la misma
// idempotency key devuelve la existente sin cambios (at-most-once).
// La validación de riesgo corre tras el insert; si rechaza, la orden
// queda REJECTED sin haberse transmitido nunca al broker.
func (l *OrderLedger) Create(ctx context.Context, req domain.OrderRequest) (CreateResult, error) {
	if err := validateRequest(req); err != nil {
		return CreateResult{}, fmt.Errorf("ledger.Create: %w", err)
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:             uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Status:         domain.OrderStatusNew,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, inserted, err := l.repo.InsertOrderIfAbsent(ctx, order)
	if err != nil {
		return CreateResult{}, fmt.Errorf("ledger.Create: %w", err)
	}
	if !inserted {
		// IdempotencyConflict: no es un error — señal + orden original.
		slog.Warn("ledger: idempotency conflict, returning existing order",
			"key", req.IdempotencyKey, "order_id", stored.ID)
		return CreateResult{Order: stored, Duplicate: true}, nil
	}

	approved, adjustedQty, reason := l.risk.ValidateOrder(req.Symbol, req.Quantity, req.Price, req.Side)
	if !approved {
		stored.Status = domain.OrderStatusRejected
		stored.Reason = reason
		stored.UpdatedAt = time.Now().UTC()
		if err := l.repo.UpdateOrder(ctx, stored); err != nil {
			return CreateResult{}, fmt.Errorf("ledger.Create: reject: %w", err)
		}
		slog.Info("ledger: order rejected by risk", "symbol", req.Symbol, "reason", reason)
		return CreateResult{Order: stored}, nil
	}
	if adjustedQty > 0 && adjustedQty < stored.Quantity {
		slog.Info("ledger: risk shrank order quantity",
			"symbol", req.Symbol, "requested", stored.Quantity, "adjusted", adjustedQty)
		stored.Quantity = adjustedQty
		stored.UpdatedAt = time.Now().UTC()
		if err := l.repo.UpdateOrder(ctx, stored); err != nil {
			return CreateResult{}, fmt.Errorf("ledger.Create: shrink: %w", err)
		}
	}

	return CreateResult{Order: stored}, nil
}

// Send transmite una orden NEW al broker y la pasa a SENT con el id
// asignado. La llamada de red ocurre fuera de cualquier lock.
func (l *OrderLedger) Send(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := l.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("ledger.Send: %w", err)
	}
	if order.Status != domain.OrderStatusNew {
		return domain.Order{}, fmt.Errorf("ledger.Send: %w", &domain.InvalidTransitionError{
			Entity: "order", ID: orderID, From: string(order.Status), To: string(domain.OrderStatusSent),
		})
	}

	if err := l.limiter.Acquire(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("ledger.Send: %w", err)
	}
	brokerID, err := l.broker.PlaceOrder(ctx, domain.OrderRequest{
		IdempotencyKey: order.IdempotencyKey,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Type:           order.Type,
		Quantity:       order.Quantity,
		Price:          order.Price,
	})
	if err != nil {
		order.Status = domain.OrderStatusError
		order.Reason = err.Error()
		order.UpdatedAt = time.Now().UTC()
		if uerr := l.repo.UpdateOrder(ctx, order); uerr != nil {
			slog.Error("ledger: failed to record order error", "order_id", orderID, "err", uerr)
		}
		return domain.Order{}, fmt.Errorf("ledger.Send: place: %w", err)
	}

	order.BrokerOrderID = brokerID
	order.Status = domain.OrderStatusSent
	order.UpdatedAt = time.Now().UTC()
	if err := l.repo.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("ledger.Send: update: %w", err)
	}
	slog.Info("ledger: order sent", "order_id", orderID, "broker_id", brokerID,
		"symbol", order.Symbol, "side", order.Side, "qty", order.Quantity)
	return order, nil
}

// Cancel pide la cancelación de una orden SENT o PARTIAL.
func (l *OrderLedger) Cancel(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := l.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("ledger.Cancel: %w", err)
	}
	if !order.Status.IsOpen() {
		return domain.Order{}, fmt.Errorf("ledger.Cancel: %w", &domain.InvalidTransitionError{
			Entity: "order", ID: orderID, From: string(order.Status), To: string(domain.OrderStatusCanceled),
		})
	}

	if err := l.limiter.Acquire(ctx); err != nil {
		return domain.Order{}, fmt.Errorf("ledger.Cancel: %w", err)
	}
	if err := l.broker.CancelOrder(ctx, order.BrokerOrderID); err != nil {
		return domain.Order{}, fmt.Errorf("ledger.Cancel: broker: %w", err)
	}

	order.Status = domain.OrderStatusCanceled
	order.UpdatedAt = time.Now().UTC()
	if err := l.repo.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("ledger.Cancel: update: %w", err)
	}
	return order, nil
}

// ProcessFill registra un fill del stream y avanza la orden a PARTIAL o
// FILLED. Los fills son append-only; la cantidad acumulada se recalcula
// como suma sobre todos los fills de la orden.
func (l *OrderLedger) ProcessFill(ctx context.Context, ev domain.FillEvent) (domain.Order, error) {
	order, err := l.repo.GetOrderByBrokerID(ctx, ev.BrokerOrderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("ledger.ProcessFill: %w", err)
	}

	// Dedup por broker fill id: el stream puede repetir eventos.
	existing, err := l.repo.GetFillsByOrder(ctx, order.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("ledger.ProcessFill: %w", err)
	}
	for _, f := range existing {
		if f.BrokerFillID != "" && f.BrokerFillID == ev.BrokerFillID {
			slog.Debug("ledger: duplicate fill ignored", "fill_id", ev.BrokerFillID)
			return order, nil
		}
	}

	if _, err := l.repo.AppendFill(ctx, domain.Fill{
		OrderID:      order.ID,
		BrokerFillID: ev.BrokerFillID,
		Quantity:     ev.Quantity,
		Price:        ev.Price,
		Timestamp:    ev.Timestamp,
	}); err != nil {
		return domain.Order{}, fmt.Errorf("ledger.ProcessFill: append: %w", err)
	}

	fills, err := l.repo.GetFillsByOrder(ctx, order.ID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("ledger.ProcessFill: reload fills: %w", err)
	}
	var filled, notional float64
	for _, f := range fills {
		filled += f.Quantity
		notional += f.Quantity * f.Price
	}

	next := domain.OrderStatusPartial
	if filled >= order.Quantity {
		next = domain.OrderStatusFilled
	}
	if order.Status != next && !order.Status.CanTransition(next) {
		return domain.Order{}, fmt.Errorf("ledger.ProcessFill: %w", &domain.InvalidTransitionError{
			Entity: "order", ID: order.ID, From: string(order.Status), To: string(next),
		})
	}

	order.FilledQuantity = filled
	if filled > 0 {
		order.AvgFillPrice = notional / filled
	}
	order.Status = next
	order.UpdatedAt = time.Now().UTC()
	if err := l.repo.UpdateOrder(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("ledger.ProcessFill: update: %w", err)
	}
	return order, nil
}

// SyncStatus fuerza el status local de toda orden abierta a lo que
// reporte el broker — la contraparte continua del recovery de arranque.
// Devuelve cuántas órdenes cambiaron.
func (l *OrderLedger) SyncStatus(ctx context.Context) (int, error) {
	open, err := l.repo.GetOrdersByStatus(ctx, domain.OrderStatusSent, domain.OrderStatusPartial)
	if err != nil {
		return 0, fmt.Errorf("ledger.SyncStatus: %w", err)
	}
	if len(open) == 0 {
		return 0, nil
	}

	if err := l.limiter.Acquire(ctx); err != nil {
		return 0, fmt.Errorf("ledger.SyncStatus: %w", err)
	}
	remote, err := l.broker.GetOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger.SyncStatus: broker: %w", err)
	}
	byBrokerID := make(map[string]domain.BrokerOrder, len(remote))
	for _, r := range remote {
		byBrokerID[r.BrokerOrderID] = r
	}

	changed := 0
	for _, order := range open {
		r, ok := byBrokerID[order.BrokerOrderID]
		if !ok || r.Status == order.Status {
			continue
		}
		// El broker manda: forzamos el status aunque la tabla local no
		// contemple el salto. Se deja rastro en el log.
		slog.Warn("ledger: broker status differs, overriding local",
			"order_id", order.ID, "local", order.Status, "broker", r.Status)
		order.Status = r.Status
		order.FilledQuantity = r.FilledQuantity
		if r.AvgFillPrice > 0 {
			order.AvgFillPrice = r.AvgFillPrice
		}
		order.UpdatedAt = time.Now().UTC()
		if err := l.repo.UpdateOrder(ctx, order); err != nil {
			return changed, fmt.Errorf("ledger.SyncStatus: update %s: %w", order.ID, err)
		}
		changed++
	}
	return changed, nil
}

// GetOrder expone la orden por ID local.
func (l *OrderLedger) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return l.repo.GetOrder(ctx, orderID)
}

// OpenOrders devuelve las órdenes vivas en el broker.
func (l *OrderLedger) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	return l.repo.GetOrdersByStatus(ctx, domain.OrderStatusSent, domain.OrderStatusPartial)
}

func validateRequest(req domain.OrderRequest) error {
	switch {
	case req.IdempotencyKey == "":
		return fmt.Errorf("missing idempotency key")
	case req.Symbol == "":
		return fmt.Errorf("missing symbol")
	case req.Quantity <= 0:
		return fmt.Errorf("quantity must be positive, got %v", req.Quantity)
	case req.Type == domain.TypeLimit && req.Price <= 0:
		return fmt.Errorf("limit order requires a price")
	case req.Side != domain.SideBuy && req.Side != domain.SideSell:
		return fmt.Errorf("unknown side %q", req.Side)
	}
	return nil
}
