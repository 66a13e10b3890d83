package strategy

// momentum.go — estrategia de momentum sobre una ventana de precios.
//
// Compra cuando el precio supera el mínimo de la ventana en buyPct, con
// confianza proporcional al exceso. Vende cuando el PnL de la posición
// cruza sellPct en cualquier dirección. Es deliberadamente simple: el
// core no depende de la calidad de la señal, solo de su contrato.

import (
	"context"
	"sync"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

const defaultLookback = 20

// Momentum implementa ports.Strategy con una ventana en memoria por símbolo.
type Momentum struct {
	lookback int
	buyPct   float64 // subida mínima sobre el mínimo de la ventana
	sellPct  float64 // PnL absoluto que dispara la salida

	mu      sync.Mutex
	history map[string][]float64
}

// NewMomentum crea la estrategia. lookback <= 0 usa el valor por defecto.
func NewMomentum(lookback int, buyPct, sellPct float64) *Momentum {
	if lookback <= 0 {
		lookback = defaultLookback
	}
	return &Momentum{
		lookback: lookback,
		buyPct:   buyPct,
		sellPct:  sellPct,
		history:  make(map[string][]float64),
	}
}

// EvaluateBuy registra el precio y señala BUY si supera el mínimo de la
// ventana en buyPct o más.
func (m *Momentum) EvaluateBuy(_ context.Context, symbol string, markPrice float64) (domain.Signal, error) {
	m.mu.Lock()
	window := append(m.history[symbol], markPrice)
	if len(window) > m.lookback {
		window = window[len(window)-m.lookback:]
	}
	m.history[symbol] = window
	m.mu.Unlock()

	hold := domain.Signal{Symbol: symbol, Action: domain.ActionHold}
	if len(window) < m.lookback || markPrice <= 0 {
		return hold, nil // ventana aún fría
	}

	low := window[0]
	for _, p := range window {
		if p < low {
			low = p
		}
	}
	rise := (markPrice - low) / low
	if rise < m.buyPct {
		return hold, nil
	}

	// Confianza: saturada al doble del umbral.
	confidence := rise / (2 * m.buyPct)
	if confidence > 1 {
		confidence = 1
	}
	return domain.Signal{
		Symbol:     symbol,
		Action:     domain.ActionBuy,
		Confidence: confidence,
		Quantity:   1, // el sizing real lo decide el RiskManager
		Price:      0, // market
		Reason:     "momentum breakout over window low",
	}, nil
}

// EvaluateSell señala SELL cuando el PnL porcentual de la posición cruza
// sellPct, en ganancia o en pérdida.
func (m *Momentum) EvaluateSell(_ context.Context, pos domain.Position, markPrice float64) (domain.Signal, error) {
	hold := domain.Signal{Symbol: pos.Symbol, Action: domain.ActionHold}
	if pos.AvgPrice <= 0 || pos.Quantity == 0 {
		return hold, nil
	}

	pct := pos.UnrealizedPnL(markPrice) / (pos.AvgPrice * absf(pos.Quantity))
	if pct >= m.sellPct || pct <= -m.sellPct {
		return domain.Signal{
			Symbol:     pos.Symbol,
			Action:     domain.ActionSell,
			Confidence: 1,
			Quantity:   absf(pos.Quantity),
			Reason:     "momentum exit threshold",
		}, nil
	}
	return hold, nil
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
