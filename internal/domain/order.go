package domain

import "time"

// OrderSide es el lado de una orden.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType es el tipo de ejecución de una orden.
type OrderType string

const (
	TypeMarket OrderType = "MARKET"
	TypeLimit  OrderType = "LIMIT"
)

// OrderStatus represents the lifecycle of an order against the brokerage.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "NEW"
	OrderStatusSent     OrderStatus = "SENT"
	OrderStatusPartial  OrderStatus = "PARTIAL"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusCanceled OrderStatus = "CANCELED"
	OrderStatusRejected OrderStatus = "REJECTED"
	OrderStatusError    OrderStatus = "ERROR"
)

// orderTransitions es la tabla cerrada de transiciones legales.
// Estados terminales (FILLED, CANCELED, REJECTED, ERROR) no tienen salidas.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusNew:     {OrderStatusSent, OrderStatusRejected, OrderStatusError},
	OrderStatusSent:    {OrderStatusPartial, OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusError},
	OrderStatusPartial: {OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusError},
}

// CanTransition informa si el paso from→to es legal según la tabla.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal informa si el estado no admite más transiciones.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// IsOpen informa si la orden sigue viva en el broker.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusSent || s == OrderStatusPartial
}

// Order is a tracked order. BrokerOrderID stays empty until the order
// has actually been transmitted (status SENT or later).
type Order struct {
	ID             string // UUID (local tracking)
	BrokerOrderID  string
	IdempotencyKey string // unique — at-most-once creation
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Quantity       float64
	Price          float64 // required iff Type == LIMIT
	Status         OrderStatus
	FilledQuantity float64 // always recomputed as a sum over fills
	AvgFillPrice   float64
	Reason         string // populated on REJECTED / ERROR
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Fill es un evento de ejecución append-only. Nunca se muta ni se borra.
type Fill struct {
	ID           int64
	OrderID      string // local tracking ID
	BrokerFillID string
	Quantity     float64
	Price        float64
	Timestamp    time.Time
}

// SymbolFill es un fill anotado con el lado de su orden — la entrada
// del recompute de posiciones.
type SymbolFill struct {
	Fill
	Side OrderSide
}

// OrderRequest es la petición de creación de una orden.
type OrderRequest struct {
	IdempotencyKey string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Quantity       float64
	Price          float64
}
