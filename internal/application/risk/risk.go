package risk

// risk.go — límites de tamaño y kill switch diario.
//
// El kill switch es un LATCH, no una comprobación de umbral: una vez que
// el PnL del día cruza −limit sobre el baseline, queda ACTIVE el resto
// del día aunque el precio se recupere. Solo el rollover de día UTC
// (con nuevo baseline) lo limpia.

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// Config son los límites del RiskManager.
type Config struct {
	MaxPositionValue  float64 // exposición máxima por símbolo
	MaxTotalPositions int     // nº máximo de posiciones abiertas
	DailyLossLimitPct float64 // 0.05 → kill switch a −5% del baseline
}

// PositionsView expone las posiciones abiertas actuales sin acoplar el
// RiskManager al engine.
type PositionsView func() []domain.Position

// Manager implementa los límites de §riesgo. Seguro para uso concurrente.
type Manager struct {
	cfg       Config
	positions PositionsView

	mu             sync.Mutex
	baselineEquity float64
	baselineDay    string // YYYY-MM-DD UTC
	killSwitch     bool
	killReason     string
	realizedPnL    float64
	unrealizedPnL  float64
	updatedAt      time.Time
}

// New crea el Manager. positions puede ser nil (no hay límite de conteo
// hasta que el engine lo inyecte con SetPositionsView).
func New(cfg Config, positions PositionsView) *Manager {
	return &Manager{cfg: cfg, positions: positions}
}

// SetPositionsView inyecta la vista de posiciones (el engine la provee
// tras construirse — rompe la dependencia circular del arranque).
func (m *Manager) SetPositionsView(v PositionsView) {
	m.mu.Lock()
	m.positions = v
	m.mu.Unlock()
}

// Initialize captura el baseline equity del día. Se llama una vez por
// día de trading, en el open-market, con el valor reportado por el broker.
func (m *Manager) Initialize(equity float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := now.UTC().Format("2006-01-02")
	if m.baselineDay == day && m.baselineEquity > 0 {
		return // mismo día: el baseline no se recaptura
	}
	m.baselineEquity = equity
	m.baselineDay = day
	m.killSwitch = false
	m.killReason = ""
	m.realizedPnL = 0
	m.unrealizedPnL = 0
	m.updatedAt = now.UTC()
	slog.Info("risk: baseline captured", "equity", equity, "day", day)
}

// ValidateOrder aprueba, reduce o rechaza una orden. Las ventas siempre
// pasan (reducen riesgo); las compras respetan kill switch, conteo de
// posiciones y exposición máxima por símbolo.
func (m *Manager) ValidateOrder(symbol string, qty, price float64, side domain.OrderSide) (bool, float64, string) {
	if side == domain.SideSell {
		return true, 0, ""
	}

	m.mu.Lock()
	killed, reason := m.killSwitch, m.killReason
	positions := m.positions
	m.mu.Unlock()

	if killed {
		return false, 0, fmt.Sprintf("kill switch active: %s", reason)
	}

	var open []domain.Position
	if positions != nil {
		open = positions()
	}

	var held *domain.Position
	for i := range open {
		if open[i].Symbol == symbol {
			held = &open[i]
			break
		}
	}
	if held == nil && len(open) >= m.cfg.MaxTotalPositions {
		return false, 0, fmt.Sprintf("max total positions reached (%d)", m.cfg.MaxTotalPositions)
	}

	// Exposición por símbolo: lo ya invertido más la compra nueva
	if price > 0 && m.cfg.MaxPositionValue > 0 {
		current := 0.0
		if held != nil {
			current = held.MarketValue(price)
		}
		room := m.cfg.MaxPositionValue - current
		if room <= 0 {
			return false, 0, fmt.Sprintf("position value cap reached for %s", symbol)
		}
		if qty*price > room {
			adjusted := room / price
			return true, adjusted, fmt.Sprintf("quantity shrunk to respect %.0f cap", m.cfg.MaxPositionValue)
		}
	}

	return true, 0, ""
}

// UpdatePnL actualiza el PnL del día y evalúa el latch. Devuelve true
// solo en la transición inactivo→ACTIVE (para emitir el evento una vez).
func (m *Manager) UpdatePnL(realized, unrealized float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.realizedPnL = realized
	m.unrealizedPnL = unrealized
	m.updatedAt = time.Now().UTC()

	if m.killSwitch || m.baselineEquity <= 0 {
		return false
	}

	daily := realized + unrealized
	if daily/m.baselineEquity <= -m.cfg.DailyLossLimitPct {
		m.killSwitch = true
		m.killReason = fmt.Sprintf("daily loss %.2f breached %.1f%% of baseline %.2f",
			daily, m.cfg.DailyLossLimitPct*100, m.baselineEquity)
		slog.Error("risk: kill switch latched", "daily_pnl", daily, "baseline", m.baselineEquity)
		return true
	}
	return false
}

// Rollover limpia el latch y recaptura baseline si cambió el día UTC.
// Devuelve true si hubo rollover (el kill switch se limpió).
func (m *Manager) Rollover(equity float64, now time.Time) bool {
	m.mu.Lock()
	day := now.UTC().Format("2006-01-02")
	rolled := m.baselineDay != "" && m.baselineDay != day
	m.mu.Unlock()

	if rolled {
		slog.Info("risk: UTC day rollover, clearing kill switch", "new_day", day)
		m.mu.Lock()
		m.baselineDay = "" // fuerza recaptura
		m.mu.Unlock()
		m.Initialize(equity, now)
	}
	return rolled
}

// KillSwitchActive informa si el latch está puesto.
func (m *Manager) KillSwitchActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killSwitch
}

// Controls exporta el estado de riesgo para el snapshot.
func (m *Manager) Controls() domain.RiskControls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.RiskControls{
		KillSwitchActive: m.killSwitch,
		KillSwitchReason: m.killReason,
		BaselineEquity:   m.baselineEquity,
		BaselineDay:      m.baselineDay,
		RealizedPnL:      m.realizedPnL,
		UnrealizedPnL:    m.unrealizedPnL,
		UpdatedAt:        m.updatedAt,
	}
}

// Restore recarga el estado de riesgo desde un snapshot previo — tras un
// crash, el kill switch del día sigue puesto.
func (m *Manager) Restore(rc domain.RiskControls) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitch = rc.KillSwitchActive
	m.killReason = rc.KillSwitchReason
	m.baselineEquity = rc.BaselineEquity
	m.baselineDay = rc.BaselineDay
	m.realizedPnL = rc.RealizedPnL
	m.unrealizedPnL = rc.UnrealizedPnL
	m.updatedAt = rc.UpdatedAt
}
