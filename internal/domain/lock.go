package domain

import "time"

// LockStatus es el estado de un stock lock.
type LockStatus string

const (
	LockStatusActive  LockStatus = "ACTIVE"
	LockStatusExpired LockStatus = "EXPIRED"
)

// StockLock is a TTL lease granting one worker exclusive buy rights on a
// symbol. At most one ACTIVE row may exist per symbol at any time; expiry
// is the only involuntary path to losing ownership.
type StockLock struct {
	Symbol      string
	WorkerID    string
	AcquiredAt  time.Time
	ExpiresAt   time.Time
	HeartbeatAt time.Time
	Status      LockStatus
}

// IsExpired informa si el lease ya venció en el instante dado.
func (l StockLock) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// OwnedBy informa si el lock está ACTIVE, vigente y en manos del worker.
func (l StockLock) OwnedBy(workerID string, now time.Time) bool {
	return l.Status == LockStatusActive && l.WorkerID == workerID && !l.IsExpired(now)
}
