package lifecycle

// lifecycle.go — ciclo diario del sistema.
//
// OFFLINE → INITIALIZING → READY → TRADING → CLOSING → CLOSED →
// INITIALIZING (día siguiente). STOPPED es el terminal de emergencia:
// alcanzable desde cualquier estado, sin reintento automático — volver a
// operar exige intervención del operador.
//
// El open-market es una secuencia estricta: autenticar, recovery,
// baseline de riesgo con el valor de cartera del broker, conectar el
// stream. Cualquier fallo corta la secuencia y deja el sistema STOPPED,
// salvo recovery degradado con permiso explícito del operador.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/alejandrodnm/stockbot/internal/ports"
)

// RecoveryRunner es el pase de reconciliación de arranque.
type RecoveryRunner interface {
	Run(ctx context.Context) (domain.RecoveryReport, error)
}

// RiskBaseliner captura el baseline de equity del día.
type RiskBaseliner interface {
	Initialize(equity float64, now time.Time)
	Rollover(equity float64, now time.Time) bool
	KillSwitchActive() bool
}

// SettlementPrinter imprime el resumen de cierre diario.
type SettlementPrinter interface {
	PrintSettlement(positions []domain.Position, marks map[string]float64, realized, unrealized float64)
}

// Config parametriza el controller.
type Config struct {
	// AllowDegraded permite abrir mercado con recovery FAILED. Solo el
	// operador puede activarlo (flag de arranque), nunca el código.
	AllowDegraded bool
}

// Controller gobierna las transiciones del estado global del sistema.
type Controller struct {
	cfg       Config
	broker    ports.Broker
	recovery  RecoveryRunner
	risk      RiskBaseliner
	stream    ports.RealtimeStream
	positions ports.PositionRepository
	notifier  ports.Notifier
	settle    SettlementPrinter
	marks     ports.QuoteSource

	mu    sync.Mutex
	state domain.SystemState
}

// NewController crea el controller en OFFLINE. settle y marks pueden ser
// nil (sin tabla de settlement).
func NewController(cfg Config, broker ports.Broker, recovery RecoveryRunner,
	risk RiskBaseliner, stream ports.RealtimeStream,
	positions ports.PositionRepository, notifier ports.Notifier,
	settle SettlementPrinter, marks ports.QuoteSource) *Controller {
	return &Controller{
		cfg:       cfg,
		broker:    broker,
		recovery:  recovery,
		risk:      risk,
		stream:    stream,
		positions: positions,
		notifier:  notifier,
		settle:    settle,
		marks:     marks,
		state:     domain.SystemState{Status: domain.SystemOffline},
	}
}

// SetMarks inyecta la fuente de últimos precios para el settlement — el
// engine la provee tras construirse, igual que la vista de posiciones
// del RiskManager.
func (c *Controller) SetMarks(q ports.QuoteSource) {
	c.mu.Lock()
	c.marks = q
	c.mu.Unlock()
}

// State devuelve una copia del estado global actual.
func (c *Controller) State() domain.SystemState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AllowsTrading informa si buy/sell están permitidos ahora mismo.
func (c *Controller) AllowsTrading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status.AllowsTrading()
}

// OpenMarket ejecuta la secuencia de apertura completa. Un fallo en
// cualquier paso deja el sistema STOPPED con la razón registrada.
func (c *Controller) OpenMarket(ctx context.Context) error {
	if err := c.transition(domain.SystemInitializing, ""); err != nil {
		return fmt.Errorf("lifecycle.OpenMarket: %w", err)
	}

	if err := c.broker.Authenticate(ctx); err != nil {
		return c.abort(ctx, fmt.Errorf("authenticate: %w", err))
	}

	report, err := c.recovery.Run(ctx)
	now := time.Now().UTC()
	c.mu.Lock()
	c.state.LastRecoveryAt = &now
	c.state.RecoveryOutcome = report.Outcome
	c.mu.Unlock()
	if err != nil {
		if !c.cfg.AllowDegraded {
			return c.abort(ctx, fmt.Errorf("recovery: %w", err))
		}
		// El operador lo pidió por flag: seguimos, pero queda constancia.
		slog.Warn("lifecycle: recovery failed, continuing degraded by operator override",
			"errors", report.Errors)
		c.notify(ctx, domain.NewEvent(domain.EventRecoveryFailed, domain.SeverityCritical,
			"recovery failed, trading degraded", map[string]any{"errors": report.Errors}))
	} else if report.Outcome == domain.RecoveryReconciled {
		c.notify(ctx, domain.NewEvent(domain.EventRecoveryReconciled, domain.SeverityWarning,
			"local state reconciled against broker", map[string]any{
				"orphans":    report.OrphanSymbols,
				"missing":    report.MissingSymbols,
				"mismatches": len(report.QuantityMismatches),
			}))
	}

	holdings, err := c.broker.InquireBalance(ctx)
	if err != nil {
		return c.abort(ctx, fmt.Errorf("inquire balance: %w", err))
	}
	wasLatched := c.risk.KillSwitchActive()
	if c.risk.Rollover(holdings.TotalValue, time.Now()) && wasLatched {
		c.notify(ctx, domain.NewEvent(domain.EventKillSwitchCleared, domain.SeverityInfo,
			"kill switch cleared on UTC day rollover", nil))
	}
	c.risk.Initialize(holdings.TotalValue, time.Now())

	if err := c.stream.Connect(ctx); err != nil {
		return c.abort(ctx, fmt.Errorf("connect stream: %w", err))
	}

	if err := c.transition(domain.SystemReady, ""); err != nil {
		return fmt.Errorf("lifecycle.OpenMarket: %w", err)
	}
	openedAt := time.Now().UTC()
	c.mu.Lock()
	c.state.MarketOpenedAt = &openedAt
	c.mu.Unlock()

	c.notify(ctx, domain.NewEvent(domain.EventEngineStarted, domain.SeverityInfo,
		"market open, system ready", map[string]any{"equity": holdings.TotalValue}))
	return nil
}

// StartTrading pasa READY→TRADING.
func (c *Controller) StartTrading() error {
	if err := c.transition(domain.SystemTrading, ""); err != nil {
		return fmt.Errorf("lifecycle.StartTrading: %w", err)
	}
	return nil
}

// CloseMarket ejecuta la secuencia de cierre: las órdenes abiertas se
// QUEDAN en el broker (no se cancelan al cerrar), se imprime el
// settlement del día y se desconecta el stream.
func (c *Controller) CloseMarket(ctx context.Context, realized, unrealized float64) error {
	if err := c.transition(domain.SystemClosing, ""); err != nil {
		return fmt.Errorf("lifecycle.CloseMarket: %w", err)
	}

	if c.settle != nil {
		open, err := c.positions.GetOpenPositions(ctx)
		if err != nil {
			slog.Error("lifecycle: settlement positions unavailable", "err", err)
		} else {
			c.mu.Lock()
			quotes := c.marks
			c.mu.Unlock()

			marks := make(map[string]float64, len(open))
			if quotes != nil {
				for _, p := range open {
					if price, ok := quotes.LastPrice(p.Symbol); ok {
						marks[p.Symbol] = price
					}
				}
			}
			c.settle.PrintSettlement(open, marks, realized, unrealized)
		}
	}

	if err := c.stream.Disconnect(); err != nil {
		slog.Warn("lifecycle: stream disconnect failed", "err", err)
	}

	if err := c.transition(domain.SystemClosed, ""); err != nil {
		return fmt.Errorf("lifecycle.CloseMarket: %w", err)
	}
	closedAt := time.Now().UTC()
	c.mu.Lock()
	c.state.MarketClosedAt = &closedAt
	c.mu.Unlock()

	c.notify(ctx, domain.NewEvent(domain.EventEngineStopped, domain.SeverityInfo,
		"market closed", map[string]any{"realized_pnl": realized, "unrealized_pnl": unrealized}))
	return nil
}

// Stop lleva el sistema a STOPPED (terminal). No hay reintento: volver a
// operar requiere reinicio por el operador.
func (c *Controller) Stop(ctx context.Context, reason string) error {
	if err := c.transition(domain.SystemStopped, reason); err != nil {
		return fmt.Errorf("lifecycle.Stop: %w", err)
	}
	if err := c.stream.Disconnect(); err != nil {
		slog.Debug("lifecycle: disconnect on stop", "err", err)
	}
	slog.Error("lifecycle: system stopped", "reason", reason)
	return nil
}

// abort registra el fallo de apertura, deja el sistema STOPPED y
// devuelve la causa.
func (c *Controller) abort(ctx context.Context, cause error) error {
	if err := c.Stop(ctx, cause.Error()); err != nil {
		slog.Error("lifecycle: stop after failed open", "err", err)
	}
	c.notify(ctx, domain.NewEvent(domain.EventEngineStopped, domain.SeverityCritical,
		"market open aborted", map[string]any{"cause": cause.Error()}))
	return fmt.Errorf("lifecycle.OpenMarket: %w", cause)
}

func (c *Controller) transition(to domain.SystemStatus, stoppedReason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from := c.state.Status
	if !from.CanTransition(to) {
		return &domain.InvalidTransitionError{
			Entity: "system", ID: "system", From: string(from), To: string(to),
		}
	}
	c.state.Status = to
	c.state.StoppedReason = stoppedReason
	c.state.UpdatedAt = time.Now().UTC()
	slog.Info("lifecycle: transition", "from", from, "to", to)
	return nil
}

func (c *Controller) notify(ctx context.Context, ev domain.Event) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, ev); err != nil {
		slog.Warn("lifecycle: notify failed", "type", ev.Type, "err", err)
	}
}
