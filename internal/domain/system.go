package domain

import "time"

// SystemStatus es el estado global del sistema de trading.
type SystemStatus string

const (
	SystemOffline      SystemStatus = "OFFLINE"
	SystemInitializing SystemStatus = "INITIALIZING"
	SystemReady        SystemStatus = "READY"
	SystemTrading      SystemStatus = "TRADING"
	SystemClosing      SystemStatus = "CLOSING"
	SystemClosed       SystemStatus = "CLOSED"
	SystemStopped      SystemStatus = "STOPPED" // terminal de emergencia
)

// systemTransitions: ciclo diario OFFLINE→INITIALIZING→READY→TRADING→
// CLOSING→CLOSED→INITIALIZING. STOPPED es alcanzable desde cualquier
// estado (se comprueba aparte en CanTransition) y no tiene salidas.
var systemTransitions = map[SystemStatus][]SystemStatus{
	SystemOffline:      {SystemInitializing},
	SystemInitializing: {SystemReady},
	SystemReady:        {SystemTrading, SystemClosing},
	SystemTrading:      {SystemClosing},
	SystemClosing:      {SystemClosed},
	SystemClosed:       {SystemInitializing},
}

// CanTransition informa si el paso from→to es legal.
// STOPPED es alcanzable incondicionalmente desde cualquier estado no-STOPPED.
func (s SystemStatus) CanTransition(to SystemStatus) bool {
	if to == SystemStopped {
		return s != SystemStopped
	}
	for _, next := range systemTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowsTrading informa si las operaciones buy/sell están permitidas.
func (s SystemStatus) AllowsTrading() bool {
	return s == SystemReady || s == SystemTrading
}

// SystemState es el registro persistente del estado global.
type SystemState struct {
	Status           SystemStatus
	MarketOpenedAt   *time.Time
	MarketClosedAt   *time.Time
	LastRecoveryAt   *time.Time
	RecoveryOutcome  RecoveryOutcome
	StoppedReason    string
	UpdatedAt        time.Time
}
