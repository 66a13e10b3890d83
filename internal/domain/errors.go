package domain

import (
	"errors"
	"fmt"
)

// Taxonomía de errores del core. Los errores de I/O del broker se
// convierten a estos tipos en el adapter, antes de llegar a la lógica
// de máquinas de estado.

var (
	// ErrAuthentication: fatal — aborta el open-market a STOPPED.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRateLimit: retryable con backoff acotado.
	ErrRateLimit = errors.New("broker rate limit")

	// ErrConnection: retryable; si persiste durante recovery → FAILED.
	ErrConnection = errors.New("broker connection error")

	// ErrRiskViolation: la orden se rechaza y nunca llega al broker.
	ErrRiskViolation = errors.New("risk violation")

	// ErrLockAcquisition: el símbolo ya está tomado por otro worker.
	ErrLockAcquisition = errors.New("lock held by another worker")

	// ErrLockExpired: el lease del caller venció.
	ErrLockExpired = errors.New("lock expired")

	// ErrLockNotFound: no existe lock ACTIVE para el símbolo.
	ErrLockNotFound = errors.New("lock not found")

	// ErrRecoveryFailure: recovery FAILED — bloquea trading salvo override.
	ErrRecoveryFailure = errors.New("recovery failed")

	// ErrTradingDisabled: el estado del sistema, el kill switch o un
	// recovery degradado impiden operar.
	ErrTradingDisabled = errors.New("trading disabled")

	// ErrOrderNotFound: no existe orden con ese ID local o de broker.
	ErrOrderNotFound = errors.New("order not found")
)

// InvalidTransitionError is a programming/ordering bug: an illegal state
// machine step. Never coerced silently — the stored status stays unchanged
// and the caller gets this error back.
type InvalidTransitionError struct {
	Entity string // "order" | "worker" | "system"
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s→%s (id=%s)", e.Entity, e.From, e.To, e.ID)
}

// IsRetryable informa si un error del broker admite reintento con backoff.
// Autenticación y validación nunca se reintentan.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrConnection)
}
