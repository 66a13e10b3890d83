package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
)

// Repositorios estrechos por entidad: el backing store (SQLite hoy) es
// intercambiable sin tocar la lógica de máquinas de estado.

// OrderRepository persiste órdenes y sus fills. Los fills son append-only.
type OrderRepository interface {
	// InsertOrderIfAbsent inserta la orden solo si no existe otra con la
	// misma idempotency key. Devuelve la orden vigente para esa key y si
	// la inserción ocurrió. Debe ser atómico contra creates concurrentes.
	InsertOrderIfAbsent(ctx context.Context, order domain.Order) (domain.Order, bool, error)

	GetOrder(ctx context.Context, id string) (domain.Order, error)
	GetOrderByBrokerID(ctx context.Context, brokerOrderID string) (domain.Order, error)
	GetOrdersByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]domain.Order, error)

	// UpdateOrder sobrescribe los campos mutables (status, broker id,
	// filled, avg price, reason, updated_at).
	UpdateOrder(ctx context.Context, order domain.Order) error

	// AppendFill añade un fill y devuelve su id asignado.
	AppendFill(ctx context.Context, fill domain.Fill) (int64, error)
	GetFillsByOrder(ctx context.Context, orderID string) ([]domain.Fill, error)

	// GetFillsBySymbol devuelve todos los fills de un símbolo en orden
	// cronológico, anotados con el lado de su orden.
	GetFillsBySymbol(ctx context.Context, symbol string) ([]domain.SymbolFill, error)
}

// PositionRepository persiste las posiciones derivadas.
type PositionRepository interface {
	UpsertPosition(ctx context.Context, p domain.Position) error
	GetPosition(ctx context.Context, symbol string) (domain.Position, error)
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)

	// MarkStale marca la posición como stale (no se borra — auditoría).
	MarkStale(ctx context.Context, symbol string) error
}

// LockRepository es el backing store transaccional de los stock locks.
type LockRepository interface {
	// TryAcquire es la operación condicional atómica: inserta (o reactiva)
	// un lock ACTIVE para el símbolo solo si no hay otro ACTIVE vigente.
	// Si el ACTIVE vigente pertenece a otro worker devuelve
	// domain.ErrLockAcquisition. Renovación si pertenece al mismo worker.
	TryAcquire(ctx context.Context, symbol, workerID string, ttl time.Duration, now time.Time) (domain.StockLock, error)

	GetActiveLock(ctx context.Context, symbol string) (domain.StockLock, error)

	// ExtendLease extiende expires_at solo si el caller posee un lock
	// ACTIVE no vencido. Distingue ErrLockNotFound de ErrLockExpired.
	ExtendLease(ctx context.Context, symbol, workerID string, ttl time.Duration, now time.Time) error

	// TouchHeartbeat actualiza solo heartbeat_at, sin extender el TTL.
	TouchHeartbeat(ctx context.Context, symbol, workerID string, now time.Time) error

	// Release marca EXPIRED el lock del caller (liberación voluntaria).
	Release(ctx context.Context, symbol, workerID string) error

	// SweepExpired barre a EXPIRED todos los ACTIVE vencidos. Devuelve
	// cuántos barrió.
	SweepExpired(ctx context.Context, now time.Time) (int, error)

	// PruneExpired borra filas EXPIRED cuyo lease venció antes de before.
	// Solo retención: nunca toca filas ACTIVE.
	PruneExpired(ctx context.Context, before time.Time) (int, error)
}

// WorkerRepository persiste los registros de liveness de los workers.
type WorkerRepository interface {
	UpsertWorker(ctx context.Context, w domain.WorkerProcess) error
	GetWorker(ctx context.Context, id string) (domain.WorkerProcess, error)
	ListWorkers(ctx context.Context) ([]domain.WorkerProcess, error)
	TouchWorkerHeartbeat(ctx context.Context, id string, now time.Time) error

	// PruneExited borra registros EXITING sin latido desde antes de before.
	PruneExited(ctx context.Context, before time.Time) (int, error)
}
