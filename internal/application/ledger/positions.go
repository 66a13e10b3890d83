package ledger

// positions.go — posiciones derivadas del histórico de fills.
//
// Recompute es una reconstrucción completa y determinista: recorrer los
// fills cronológicamente desde cero en cada llamada garantiza que la
// posición siempre se puede reconstruir y auditar contra la fuente de
// verdad, a cambio de un coste lineal que a esta escala es irrelevante.

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/alejandrodnm/stockbot/internal/ports"
)

// PositionLedger deriva posiciones de los fills. Es el único escritor
// del PositionRepository.
type PositionLedger struct {
	orders    ports.OrderRepository
	positions ports.PositionRepository
}

// NewPositionLedger crea el ledger de posiciones.
func NewPositionLedger(orders ports.OrderRepository, positions ports.PositionRepository) *PositionLedger {
	return &PositionLedger{orders: orders, positions: positions}
}

// Recompute reconstruye la posición de un símbolo desde todos sus fills
// y la persiste. Idempotente: dos recomputes sobre el mismo histórico
// producen posiciones idénticas.
func (pl *PositionLedger) Recompute(ctx context.Context, symbol string) (domain.Position, error) {
	fills, err := pl.orders.GetFillsBySymbol(ctx, symbol)
	if err != nil {
		return domain.Position{}, fmt.Errorf("ledger.Recompute: %s: %w", symbol, err)
	}

	pos := replayFills(symbol, fills)
	pos.UpdatedAt = time.Now().UTC()
	if err := pl.positions.UpsertPosition(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("ledger.Recompute: %s: %w", symbol, err)
	}
	return pos, nil
}

// RealizedPnL calcula el PnL realizado de una venta usando el precio
// medio PREVIO a la venta como base de coste.
func RealizedPnL(exitPrice, entryAvgPrice, soldQuantity float64) float64 {
	return (exitPrice - entryAvgPrice) * soldQuantity
}

// replayFills acumula cantidad con signo y coste medio ponderado por
// volumen. BUY suma cantidad y base de coste; SELL reduce ambas. Si un
// fill cruza por cero, el resto abre posición nueva al precio del fill.
func replayFills(symbol string, fills []domain.SymbolFill) domain.Position {
	var qty, avg float64

	for _, f := range fills {
		q := f.Quantity
		if f.Side == domain.SideSell {
			q = -q
		}

		switch {
		case qty == 0:
			qty = q
			avg = f.Price

		case sameSign(qty, q):
			// Ampliando la posición: media ponderada por volumen
			total := abs(qty) + abs(q)
			avg = (avg*abs(qty) + f.Price*abs(q)) / total
			qty += q

		case abs(q) <= abs(qty):
			// Reduciendo: la base de coste media no cambia
			qty += q
			if qty == 0 {
				avg = 0
			}

		default:
			// Cruce por cero: el remanente abre al precio del fill
			qty += q
			avg = f.Price
		}
	}

	return domain.Position{
		Symbol:   symbol,
		Quantity: qty,
		AvgPrice: avg,
		Origin:   domain.OriginTrade,
	}
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
