package domain

import "time"

// WorkerStatus es el estado del ciclo de vida de un worker.
type WorkerStatus string

const (
	WorkerStatusIdle     WorkerStatus = "IDLE"
	WorkerStatusScanning WorkerStatus = "SCANNING"
	WorkerStatusHolding  WorkerStatus = "HOLDING"
	WorkerStatusExiting  WorkerStatus = "EXITING" // terminal
)

// workerTransitions: IDLE→SCANNING→HOLDING→SCANNING en bucle;
// cualquier estado puede pasar a EXITING, que es terminal.
var workerTransitions = map[WorkerStatus][]WorkerStatus{
	WorkerStatusIdle:     {WorkerStatusScanning, WorkerStatusExiting},
	WorkerStatusScanning: {WorkerStatusHolding, WorkerStatusExiting},
	WorkerStatusHolding:  {WorkerStatusScanning, WorkerStatusExiting},
}

// CanTransition informa si el paso from→to es legal.
func (s WorkerStatus) CanTransition(to WorkerStatus) bool {
	for _, next := range workerTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// WorkerProcess es el registro de liveness y estado de un worker.
// HeldSymbol solo está poblado cuando Status == HOLDING.
type WorkerProcess struct {
	ID                string
	Status            WorkerStatus
	HeldSymbol        string
	StartedAt         time.Time
	LastHeartbeatAt   time.Time
	HeartbeatInterval time.Duration
}

// deadHeartbeatMult: un worker sin latido durante 3× su intervalo se
// considera muerto y el monitor lo barre a EXITING.
const deadHeartbeatMult = 3

// IsDead informa si el worker superó el umbral de latidos perdidos.
func (w WorkerProcess) IsDead(now time.Time) bool {
	if w.Status == WorkerStatusExiting {
		return false
	}
	return now.Sub(w.LastHeartbeatAt) > time.Duration(deadHeartbeatMult)*w.HeartbeatInterval
}
