package domain

import "time"

// EventType identifica los eventos tipados que el core emite hacia el
// notifier externo. Fallos de entrega nunca se propagan al trading.
type EventType string

const (
	EventEngineStarted       EventType = "engine.started"
	EventEngineStopped       EventType = "engine.stopped"
	EventOrderFilled         EventType = "order.filled"
	EventOrderRejected       EventType = "order.rejected"
	EventStopLoss            EventType = "position.stop_loss"
	EventTakeProfit          EventType = "position.take_profit"
	EventDiscrepancy         EventType = "reconciliation.discrepancy"
	EventRecoveryReconciled  EventType = "recovery.reconciled"
	EventRecoveryFailed      EventType = "recovery.failed"
	EventKillSwitchTriggered EventType = "risk.killswitch.triggered"
	EventKillSwitchCleared   EventType = "risk.killswitch.cleared"
)

// Severity es el nivel de severidad de un evento.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event es un evento de notificación con detalle estructurado.
type Event struct {
	Type     EventType
	Severity Severity
	Message  string
	Detail   map[string]any
	At       time.Time
}

// NewEvent construye un evento con timestamp actual.
func NewEvent(t EventType, sev Severity, msg string, detail map[string]any) Event {
	return Event{Type: t, Severity: sev, Message: msg, Detail: detail, At: time.Now().UTC()}
}
