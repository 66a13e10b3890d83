package domain

import "time"

// RecoveryOutcome clasifica el resultado de una reconciliación.
type RecoveryOutcome string

const (
	RecoveryClean      RecoveryOutcome = "CLEAN"      // sin cambios
	RecoveryReconciled RecoveryOutcome = "RECONCILED" // cambios aplicados, sin error residual
	RecoveryFailed     RecoveryOutcome = "FAILED"     // query al broker falló o hubo excepción
)

// QuantityMismatch es una discrepancia de cantidad para un símbolo.
type QuantityMismatch struct {
	Symbol string
	Local  float64
	Broker float64
}

// RecoveryReport is the result of one reconciliation pass against the
// broker. The broker is the source of truth: orphans are positions the
// broker reports that we don't have locally; missing is the reverse.
type RecoveryReport struct {
	Outcome            RecoveryOutcome
	OrphanSymbols      []string
	MissingSymbols     []string
	QuantityMismatches []QuantityMismatch
	Errors             []string
	StartedAt          time.Time
	FinishedAt         time.Time
}

// HasDiscrepancies informa si el pase detectó alguna divergencia.
func (r RecoveryReport) HasDiscrepancies() bool {
	return len(r.OrphanSymbols) > 0 || len(r.MissingSymbols) > 0 ||
		len(r.QuantityMismatches) > 0 || len(r.Errors) > 0
}
