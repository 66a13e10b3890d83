package domain

// SignalAction es la recomendación de la estrategia.
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// Signal es la salida de la estrategia para un símbolo: acción recomendada
// con un grado de confianza en [0,1]. El worker solo actúa por encima de
// su umbral configurado.
type Signal struct {
	Symbol     string
	Action     SignalAction
	Confidence float64
	Quantity   float64 // sugerida; RiskManager puede reducirla
	Price      float64 // límite sugerido; 0 → market
	Reason     string
}
