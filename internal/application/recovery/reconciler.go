package recovery

// reconciler.go — reconciliación continua en caliente.
//
// A diferencia del pase de arranque, el reconciler periódico NO muta el
// libro local: solo detecta divergencias y las publica por callback. La
// decisión de intervenir (o parar el sistema) es del operador o del
// engine, no de un bucle en segundo plano.

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/alejandrodnm/stockbot/internal/ports"
)

// Discrepancy es una divergencia detectada en caliente.
type Discrepancy struct {
	Kind   string // "orphan" | "missing" | "quantity" | "broker_error"
	Symbol string
	Local  float64
	Broker float64
	Detail string
}

// Reconciler compara el libro local contra el broker a intervalos.
type Reconciler struct {
	broker    ports.Broker
	positions ports.PositionRepository
	onFound   func([]Discrepancy)
}

// NewReconciler crea el reconciler. onFound recibe las divergencias de
// cada pase que las tenga; nunca se invoca con slice vacío.
func NewReconciler(broker ports.Broker, positions ports.PositionRepository, onFound func([]Discrepancy)) *Reconciler {
	return &Reconciler{broker: broker, positions: positions, onFound: onFound}
}

// RunOnce ejecuta un pase de comparación. El fallo del broker no es
// fatal: cuenta como UNA divergencia (broker_error) y el bucle sigue.
func (r *Reconciler) RunOnce(ctx context.Context) []Discrepancy {
	holdings, err := r.broker.InquireBalance(ctx)
	if err != nil {
		found := []Discrepancy{{Kind: "broker_error", Detail: err.Error()}}
		r.publish(found)
		return found
	}

	local, err := r.positions.GetOpenPositions(ctx)
	if err != nil {
		found := []Discrepancy{{Kind: "broker_error", Detail: err.Error()}}
		r.publish(found)
		return found
	}

	var found []Discrepancy
	localBySymbol := make(map[string]domain.Position, len(local))
	for _, p := range local {
		localBySymbol[p.Symbol] = p
	}
	remoteBySymbol := make(map[string]domain.BrokerHolding, len(holdings.Holdings))
	for _, h := range holdings.Holdings {
		remoteBySymbol[h.Symbol] = h
	}

	for _, h := range holdings.Holdings {
		cur, ok := localBySymbol[h.Symbol]
		switch {
		case !ok:
			found = append(found, Discrepancy{Kind: "orphan", Symbol: h.Symbol, Broker: h.Quantity})
		case cur.Quantity != h.Quantity:
			found = append(found, Discrepancy{
				Kind: "quantity", Symbol: h.Symbol, Local: cur.Quantity, Broker: h.Quantity,
			})
		}
	}
	for _, p := range local {
		if _, ok := remoteBySymbol[p.Symbol]; !ok {
			found = append(found, Discrepancy{Kind: "missing", Symbol: p.Symbol, Local: p.Quantity})
		}
	}

	r.publish(found)
	return found
}

// Run ejecuta RunOnce en bucle hasta que el contexto se cancele.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

func (r *Reconciler) publish(found []Discrepancy) {
	if len(found) == 0 {
		return
	}
	for _, d := range found {
		slog.Warn("reconciler: discrepancy",
			"kind", d.Kind, "symbol", d.Symbol,
			"local", d.Local, "broker", d.Broker, "detail", d.Detail)
	}
	if r.onFound != nil {
		r.onFound(found)
	}
}
