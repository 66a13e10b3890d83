package worker

// worker.go — ciclo de vida de un worker de trading.
//
// IDLE → SCANNING → HOLDING → SCANNING en bucle. Un worker mantiene A LO
// SUMO una posición, siempre bajo el stock lock de su símbolo: adquirir
// el lock precede a la compra y liberarlo sigue a la venta. EXITING es
// terminal; si el worker muere con posición, la liquida a mercado antes
// de salir.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/stockbot/internal/application/lock"
	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/alejandrodnm/stockbot/internal/ports"
)

// Trader es la porción del engine que el worker usa para operar. Las
// órdenes pasan por todo el pipeline (idempotencia, riesgo, broker).
type Trader interface {
	Buy(ctx context.Context, symbol string, qty, price float64) (domain.Order, error)
	Sell(ctx context.Context, symbol string, qty, price float64) (domain.Order, error)
}

// Config parametriza un worker.
type Config struct {
	ID                  string
	ConfidenceThreshold float64 // señales por debajo se ignoran
	ScanInterval        time.Duration
	HeartbeatInterval   time.Duration
}

// Worker es un proceso de trading autónomo sobre el pipeline compartido.
type Worker struct {
	cfg      Config
	workers  ports.WorkerRepository
	locks    *lock.Manager
	scanner  ports.Scanner
	strategy ports.Strategy
	quotes   ports.QuoteSource
	positions ports.PositionRepository
	trader   Trader

	mu     sync.Mutex
	status domain.WorkerStatus
	held   string
}

// New crea el worker sin registrarlo aún.
func New(cfg Config, workers ports.WorkerRepository, locks *lock.Manager,
	scanner ports.Scanner, strategy ports.Strategy, quotes ports.QuoteSource,
	positions ports.PositionRepository, trader Trader) *Worker {
	return &Worker{
		cfg:       cfg,
		workers:   workers,
		locks:     locks,
		scanner:   scanner,
		strategy:  strategy,
		quotes:    quotes,
		positions: positions,
		trader:    trader,
		status:    domain.WorkerStatusIdle,
	}
}

// Status devuelve el estado actual y el símbolo mantenido, si lo hay.
func (w *Worker) Status() (domain.WorkerStatus, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status, w.held
}

// Register inscribe el worker (IDLE) y lo pasa a SCANNING.
func (w *Worker) Register(ctx context.Context) error {
	now := time.Now().UTC()
	if err := w.workers.UpsertWorker(ctx, domain.WorkerProcess{
		ID:                w.cfg.ID,
		Status:            domain.WorkerStatusIdle,
		StartedAt:         now,
		LastHeartbeatAt:   now,
		HeartbeatInterval: w.cfg.HeartbeatInterval,
	}); err != nil {
		return fmt.Errorf("worker.Register: %w", err)
	}
	return w.transition(ctx, domain.WorkerStatusScanning, "")
}

// Run ejecuta el bucle del worker hasta que el contexto se cancele, y
// entonces sale limpiamente (EXITING, liquidación forzosa si mantiene).
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Register(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.heartbeatLoop(ctx)
	}()

	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			// Contexto nuevo: el del bucle ya está cancelado y la salida
			// aún tiene que hablar con el broker.
			stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return w.Shutdown(stopCtx)
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				slog.Error("worker: cycle failed", "worker", w.cfg.ID, "err", err)
			}
		}
	}
}

// RunOnce ejecuta un ciclo: escanear candidatos si no mantiene posición,
// evaluar la salida si la mantiene.
func (w *Worker) RunOnce(ctx context.Context) error {
	status, held := w.Status()
	switch status {
	case domain.WorkerStatusScanning:
		return w.scanCycle(ctx)
	case domain.WorkerStatusHolding:
		return w.holdingCycle(ctx, held)
	default:
		return nil
	}
}

func (w *Worker) scanCycle(ctx context.Context) error {
	candidates, err := w.scanner.Candidates(ctx)
	if err != nil {
		return fmt.Errorf("worker.scan: candidates: %w", err)
	}

	for _, symbol := range candidates {
		price, ok := w.quotes.LastPrice(symbol)
		if !ok {
			continue // sin precio aún: el stream no ha hablado de este símbolo
		}

		sig, err := w.strategy.EvaluateBuy(ctx, symbol, price)
		if err != nil {
			slog.Warn("worker: buy evaluation failed", "worker", w.cfg.ID, "symbol", symbol, "err", err)
			continue
		}
		if sig.Action != domain.ActionBuy || sig.Confidence < w.cfg.ConfidenceThreshold {
			continue
		}

		if err := w.tryEnter(ctx, sig); err != nil {
			if errors.Is(err, domain.ErrLockAcquisition) {
				// Otro worker ya trabaja este símbolo: siguiente candidato.
				continue
			}
			return err
		}
		return nil // una posición por worker: el ciclo termina al entrar
	}
	return nil
}

// tryEnter toma el lock, compra y pasa a HOLDING. Si la compra falla el
// lock se devuelve.
func (w *Worker) tryEnter(ctx context.Context, sig domain.Signal) error {
	if _, err := w.locks.Acquire(ctx, sig.Symbol, w.cfg.ID); err != nil {
		return fmt.Errorf("worker.enter: %w", err)
	}

	order, err := w.trader.Buy(ctx, sig.Symbol, sig.Quantity, sig.Price)
	if err != nil {
		if rerr := w.locks.Release(ctx, sig.Symbol, w.cfg.ID); rerr != nil {
			slog.Error("worker: failed to release lock after buy error",
				"worker", w.cfg.ID, "symbol", sig.Symbol, "err", rerr)
		}
		return fmt.Errorf("worker.enter: buy %s: %w", sig.Symbol, err)
	}

	// La compra pudo tardar: sin propiedad vigente no se puede mantener.
	if !w.locks.Owns(ctx, sig.Symbol, w.cfg.ID) {
		slog.Error("worker: lease lost during entry, not holding",
			"worker", w.cfg.ID, "symbol", sig.Symbol)
		return nil
	}

	slog.Info("worker: entered position", "worker", w.cfg.ID,
		"symbol", sig.Symbol, "order_id", order.ID, "confidence", sig.Confidence)
	return w.transition(ctx, domain.WorkerStatusHolding, sig.Symbol)
}

func (w *Worker) holdingCycle(ctx context.Context, symbol string) error {
	pos, err := w.positions.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("worker.holding: position %s: %w", symbol, err)
	}
	if pos.IsFlat() {
		// La posición se cerró por otra vía (stop-loss del engine, p.ej.)
		return w.exitPosition(ctx, symbol, false, 0)
	}

	price, ok := w.quotes.LastPrice(symbol)
	if !ok {
		return nil
	}

	sig, err := w.strategy.EvaluateSell(ctx, pos, price)
	if err != nil {
		return fmt.Errorf("worker.holding: evaluate %s: %w", symbol, err)
	}
	if sig.Action != domain.ActionSell || sig.Confidence < w.cfg.ConfidenceThreshold {
		return nil
	}
	return w.exitPosition(ctx, symbol, true, pos.Quantity)
}

// exitPosition vende (si hay algo que vender), libera el lock y vuelve a
// SCANNING.
func (w *Worker) exitPosition(ctx context.Context, symbol string, sell bool, qty float64) error {
	if sell && qty != 0 {
		if _, err := w.trader.Sell(ctx, symbol, qty, 0); err != nil {
			return fmt.Errorf("worker.exit: sell %s: %w", symbol, err)
		}
		slog.Info("worker: exited position", "worker", w.cfg.ID, "symbol", symbol, "qty", qty)
	}
	if err := w.locks.Release(ctx, symbol, w.cfg.ID); err != nil &&
		!errors.Is(err, domain.ErrLockNotFound) {
		slog.Error("worker: release after exit failed", "worker", w.cfg.ID, "symbol", symbol, "err", err)
	}
	return w.transition(ctx, domain.WorkerStatusScanning, "")
}

// Shutdown pasa el worker a EXITING. Si mantiene posición, la liquida a
// mercado y libera el lock antes de salir.
func (w *Worker) Shutdown(ctx context.Context) error {
	status, held := w.Status()
	if status == domain.WorkerStatusExiting {
		return nil
	}

	if status == domain.WorkerStatusHolding && held != "" {
		pos, err := w.positions.GetPosition(ctx, held)
		if err == nil && !pos.IsFlat() {
			slog.Warn("worker: force-liquidating on shutdown",
				"worker", w.cfg.ID, "symbol", held, "qty", pos.Quantity)
			if _, err := w.trader.Sell(ctx, held, pos.Quantity, 0); err != nil {
				slog.Error("worker: forced liquidation failed",
					"worker", w.cfg.ID, "symbol", held, "err", err)
			}
		}
		if err := w.locks.Release(ctx, held, w.cfg.ID); err != nil &&
			!errors.Is(err, domain.ErrLockNotFound) {
			slog.Error("worker: release on shutdown failed",
				"worker", w.cfg.ID, "symbol", held, "err", err)
		}
	}
	return w.transition(ctx, domain.WorkerStatusExiting, "")
}

// heartbeatLoop late contra el registro del worker y, mientras mantiene,
// renueva el lease y el heartbeat del lock.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if err := w.workers.TouchWorkerHeartbeat(ctx, w.cfg.ID, now); err != nil && ctx.Err() == nil {
				slog.Warn("worker: heartbeat failed", "worker", w.cfg.ID, "err", err)
			}

			_, held := w.Status()
			if held == "" {
				continue
			}
			if err := w.locks.Renew(ctx, held, w.cfg.ID); err != nil && ctx.Err() == nil {
				slog.Error("worker: lease renewal failed", "worker", w.cfg.ID,
					"symbol", held, "err", err)
				continue
			}
			if err := w.locks.Heartbeat(ctx, held, w.cfg.ID); err != nil && ctx.Err() == nil {
				slog.Warn("worker: lock heartbeat failed", "worker", w.cfg.ID,
					"symbol", held, "err", err)
			}
		}
	}
}

// transition valida el paso contra la tabla y lo persiste.
func (w *Worker) transition(ctx context.Context, to domain.WorkerStatus, held string) error {
	w.mu.Lock()
	from := w.status
	if from != to && !from.CanTransition(to) {
		w.mu.Unlock()
		return &domain.InvalidTransitionError{
			Entity: "worker", ID: w.cfg.ID, From: string(from), To: string(to),
		}
	}
	w.status = to
	w.held = held
	w.mu.Unlock()

	now := time.Now().UTC()
	if err := w.workers.UpsertWorker(ctx, domain.WorkerProcess{
		ID:                w.cfg.ID,
		Status:            to,
		HeldSymbol:        held,
		LastHeartbeatAt:   now,
		HeartbeatInterval: w.cfg.HeartbeatInterval,
	}); err != nil {
		return fmt.Errorf("worker.transition: %w", err)
	}
	slog.Debug("worker: transition", "worker", w.cfg.ID, "from", from, "to", to, "held", held)
	return nil
}
