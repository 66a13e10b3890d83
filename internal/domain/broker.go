package domain

import "time"

// Tipos de valor que cruzan la frontera con el broker. El adapter los
// mapea desde el wire format; el core nunca ve JSON del broker.

// BrokerOrder es el estado de una orden según el broker.
type BrokerOrder struct {
	BrokerOrderID  string
	Symbol         string
	Side           OrderSide
	Status         OrderStatus // ya mapeado a nuestra taxonomía
	Quantity       float64
	FilledQuantity float64
	AvgFillPrice   float64
	UpdatedAt      time.Time
}

// BrokerHolding es una posición según el broker.
type BrokerHolding struct {
	Symbol   string
	Quantity float64
	AvgPrice float64
}

// BrokerHoldings es la cartera completa reportada por el broker.
type BrokerHoldings struct {
	AccountID  string
	CashEquity float64 // efectivo disponible
	TotalValue float64 // efectivo + valor de mercado de posiciones
	Holdings   []BrokerHolding
	AsOf       time.Time
}

// Quote es un tick de precio del stream realtime.
type Quote struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// FillEvent es una ejecución notificada por el stream realtime.
type FillEvent struct {
	BrokerOrderID string
	BrokerFillID  string
	Symbol        string
	Quantity      float64
	Price         float64
	Timestamp     time.Time
}
