package domain

import "time"

// SnapshotVersion es la versión actual del formato de snapshot en disco.
const SnapshotVersion = 1

// RiskControls son los campos de control de riesgo que viajan en el snapshot.
type RiskControls struct {
	KillSwitchActive bool      `json:"kill_switch_active"`
	KillSwitchReason string    `json:"kill_switch_reason,omitempty"`
	BaselineEquity   float64   `json:"baseline_equity"`
	BaselineDay      string    `json:"baseline_day"` // YYYY-MM-DD UTC
	RealizedPnL      float64   `json:"realized_pnl"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TradingStateSnapshot is the unit of atomic persistence: the full
// in-memory positions map, the pending orders map and the risk controls.
// A crash at any point must leave either the previous or this snapshot
// on disk, never a partial one.
type TradingStateSnapshot struct {
	Version       int                 `json:"version"`
	Positions     map[string]Position `json:"positions"`
	PendingOrders map[string]Order    `json:"pending_orders"`
	RiskControls  RiskControls        `json:"risk_controls"`
	LastUpdated   time.Time           `json:"last_updated"`
}

// NewTradingStateSnapshot crea un snapshot vacío con la versión actual.
func NewTradingStateSnapshot() TradingStateSnapshot {
	return TradingStateSnapshot{
		Version:       SnapshotVersion,
		Positions:     make(map[string]Position),
		PendingOrders: make(map[string]Order),
	}
}
