package ports

import (
	"context"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// Scanner propone símbolos candidatos para evaluar en cada ciclo.
type Scanner interface {
	Candidates(ctx context.Context) ([]string, error)
}

// Strategy es la lógica de señales enchufable. El core no define la
// estrategia: solo consume su recomendación y su confianza.
type Strategy interface {
	// EvaluateBuy evalúa un candidato al precio de mercado actual.
	EvaluateBuy(ctx context.Context, symbol string, markPrice float64) (domain.Signal, error)

	// EvaluateSell evalúa la posición mantenida contra su mark actual.
	EvaluateSell(ctx context.Context, pos domain.Position, markPrice float64) (domain.Signal, error)
}

// QuoteSource expone el último precio conocido de un símbolo.
type QuoteSource interface {
	LastPrice(symbol string) (float64, bool)
}
