package broker

// paper.go — broker en memoria para modo paper y tests.
// Llena cada orden al instante al precio marcado con SetPrice.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/google/uuid"
)

// Paper implementa ports.Broker sin tocar la red.
type Paper struct {
	mu       sync.Mutex
	prices   map[string]float64
	orders   map[string]domain.BrokerOrder // por broker order id
	byKey    map[string]string             // idempotency key → broker order id
	holdings map[string]float64
	avgCost  map[string]float64
	cash     float64
	onFill   func(domain.FillEvent)
}

// NewPaper crea un broker simulado con el efectivo inicial dado.
func NewPaper(cash float64) *Paper {
	return &Paper{
		prices:   make(map[string]float64),
		orders:   make(map[string]domain.BrokerOrder),
		byKey:    make(map[string]string),
		holdings: make(map[string]float64),
		avgCost:  make(map[string]float64),
		cash:     cash,
	}
}

// SetPrice fija el precio de mercado de un símbolo.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	p.prices[symbol] = price
	p.mu.Unlock()
}

// Prices devuelve una copia de los precios vigentes.
func (p *Paper) Prices() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.prices))
	for s, v := range p.prices {
		out[s] = v
	}
	return out
}

// SetHolding siembra una posición en el broker (para tests de recovery).
func (p *Paper) SetHolding(symbol string, qty, avgPrice float64) {
	p.mu.Lock()
	p.holdings[symbol] = qty
	p.avgCost[symbol] = avgPrice
	p.mu.Unlock()
}

// OnFill registra el callback de fills simulados.
func (p *Paper) OnFill(fn func(domain.FillEvent)) {
	p.mu.Lock()
	p.onFill = fn
	p.mu.Unlock()
}

// Authenticate siempre acepta.
func (p *Paper) Authenticate(context.Context) error { return nil }

// PlaceOrder llena la orden al instante al último precio conocido.
// Respeta la idempotency key igual que el broker real.
func (p *Paper) PlaceOrder(_ context.Context, req domain.OrderRequest) (string, error) {
	p.mu.Lock()

	if id, seen := p.byKey[req.IdempotencyKey]; seen {
		p.mu.Unlock()
		return id, nil
	}

	price, ok := p.prices[req.Symbol]
	if !ok {
		price = req.Price
	}
	if price <= 0 {
		p.mu.Unlock()
		return "", fmt.Errorf("broker.Paper.PlaceOrder: no price for %s", req.Symbol)
	}

	id := "paper-" + uuid.New().String()
	p.byKey[req.IdempotencyKey] = id
	p.orders[id] = domain.BrokerOrder{
		BrokerOrderID:  id,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Status:         domain.OrderStatusFilled,
		Quantity:       req.Quantity,
		FilledQuantity: req.Quantity,
		AvgFillPrice:   price,
		UpdatedAt:      time.Now().UTC(),
	}

	qty := req.Quantity
	if req.Side == domain.SideSell {
		qty = -qty
	}
	prev := p.holdings[req.Symbol]
	next := prev + qty
	if qty > 0 {
		// coste medio ponderado en compras
		p.avgCost[req.Symbol] = (p.avgCost[req.Symbol]*prev + price*qty) / next
	}
	p.holdings[req.Symbol] = next
	if next == 0 {
		delete(p.holdings, req.Symbol)
		delete(p.avgCost, req.Symbol)
	}
	p.cash -= price * qty
	fillFn := p.onFill
	p.mu.Unlock()

	if fillFn != nil {
		fillFn(domain.FillEvent{
			BrokerOrderID: id,
			BrokerFillID:  "pf-" + uuid.New().String(),
			Symbol:        req.Symbol,
			Quantity:      req.Quantity,
			Price:         price,
			Timestamp:     time.Now().UTC(),
		})
	}
	return id, nil
}

// CancelOrder siempre acepta (en paper nada queda abierto).
func (p *Paper) CancelOrder(_ context.Context, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("broker.Paper.CancelOrder: %s: %w", brokerOrderID, domain.ErrOrderNotFound)
	}
	if o.Status.IsOpen() {
		o.Status = domain.OrderStatusCanceled
		p.orders[brokerOrderID] = o
	}
	return nil
}

// GetOrders devuelve todas las órdenes simuladas.
func (p *Paper) GetOrders(context.Context) ([]domain.BrokerOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.BrokerOrder, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, o)
	}
	return out, nil
}

// InquireBalance devuelve la cartera simulada.
func (p *Paper) InquireBalance(context.Context) (domain.BrokerHoldings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := domain.BrokerHoldings{
		AccountID:  "paper",
		CashEquity: p.cash,
		TotalValue: p.cash,
		AsOf:       time.Now().UTC(),
	}
	for sym, qty := range p.holdings {
		price := p.prices[sym]
		out.TotalValue += price * qty
		out.Holdings = append(out.Holdings, domain.BrokerHolding{
			Symbol:   sym,
			Quantity: qty,
			AvgPrice: p.avgCost[sym],
		})
	}
	return out, nil
}
