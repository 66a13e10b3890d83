package domain

import "time"

// PositionOrigin registra cómo llegó una posición al libro local.
type PositionOrigin string

const (
	// OriginTrade: la posición nació de fills propios.
	OriginTrade PositionOrigin = "trade"
	// OriginReconciled: insertada durante recovery porque el broker la
	// reportaba y localmente no existía (huérfana adoptada).
	OriginReconciled PositionOrigin = "open_reconciled"
	// OriginStale: existía localmente pero el broker ya no la reporta.
	// Se conserva para auditoría, nunca se borra.
	OriginStale PositionOrigin = "stale"
)

// Position es la posición derivada del histórico de fills de un símbolo.
// Cantidad con signo: positiva long, negativa short. Se recalcula siempre
// desde cero — nunca se muta incrementalmente — para que sea reconstruible
// y auditable desde la fuente de verdad.
type Position struct {
	Symbol    string
	Quantity  float64
	AvgPrice  float64 // volume-weighted
	Origin    PositionOrigin
	UpdatedAt time.Time
}

// IsFlat informa si la posición está cerrada.
func (p Position) IsFlat() bool {
	return p.Quantity == 0
}

// UnrealizedPnL valora la posición al precio de mercado dado.
// Correcta en signo tanto para long como para short.
func (p Position) UnrealizedPnL(markPrice float64) float64 {
	return (markPrice - p.AvgPrice) * p.Quantity
}

// MarketValue es el valor absoluto de la posición al precio dado.
func (p Position) MarketValue(markPrice float64) float64 {
	v := markPrice * p.Quantity
	if v < 0 {
		return -v
	}
	return v
}
