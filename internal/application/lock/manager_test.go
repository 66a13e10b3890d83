package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/stockbot/internal/adapters/storage"
	"github.com/alejandrodnm/stockbot/internal/application/lock"
	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, ttl time.Duration) *lock.Manager {
	t.Helper()
	s, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return lock.NewManager(s, ttl)
}

func TestManager_Acquire_MutualExclusion(t *testing.T) {
	m := newManager(t, time.Minute)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "AAPL", "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.LockStatusActive, l.Status)

	// Otro worker sobre el mismo símbolo: rechazado
	_, err = m.Acquire(ctx, "AAPL", "w2")
	assert.ErrorIs(t, err, domain.ErrLockAcquisition)

	// Otro símbolo: independiente
	_, err = m.Acquire(ctx, "TSLA", "w2")
	assert.NoError(t, err)
}

func TestManager_Acquire_SameOwnerRenews(t *testing.T) {
	m := newManager(t, time.Minute)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "AAPL", "w1")
	require.NoError(t, err)

	second, err := m.Acquire(ctx, "AAPL", "w1")
	require.NoError(t, err)
	assert.False(t, second.ExpiresAt.Before(first.ExpiresAt),
		"re-adquirir por el dueño extiende el lease")
}

func TestManager_Acquire_ExpiredLeaseIsFree(t *testing.T) {
	m := newManager(t, 20*time.Millisecond)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "AAPL", "w1")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	// El lease venció: otro worker puede tomarlo sin barrido previo
	l, err := m.Acquire(ctx, "AAPL", "w2")
	require.NoError(t, err)
	assert.Equal(t, "w2", l.WorkerID)
}

func TestManager_Renew_Errors(t *testing.T) {
	m := newManager(t, 20*time.Millisecond)
	ctx := context.Background()

	assert.ErrorIs(t, m.Renew(ctx, "GHOST", "w1"), domain.ErrLockNotFound)

	_, err := m.Acquire(ctx, "AAPL", "w1")
	require.NoError(t, err)
	time.Sleep(40 * time.Millisecond)
	assert.ErrorIs(t, m.Renew(ctx, "AAPL", "w1"), domain.ErrLockExpired)
}

func TestManager_Heartbeat_DoesNotExtendLease(t *testing.T) {
	m := newManager(t, 30*time.Millisecond)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "AAPL", "w1")
	require.NoError(t, err)
	require.NoError(t, m.Heartbeat(ctx, "AAPL", "w1"))

	time.Sleep(60 * time.Millisecond)

	// El heartbeat no renovó el TTL: el lease está vencido igualmente
	assert.False(t, m.Owns(ctx, "AAPL", "w1"))
}

func TestManager_Owns(t *testing.T) {
	m := newManager(t, time.Minute)
	ctx := context.Background()

	assert.False(t, m.Owns(ctx, "AAPL", "w1"))

	_, err := m.Acquire(ctx, "AAPL", "w1")
	require.NoError(t, err)
	assert.True(t, m.Owns(ctx, "AAPL", "w1"))
	assert.False(t, m.Owns(ctx, "AAPL", "w2"))
}

func TestManager_ReleaseThenReacquire(t *testing.T) {
	m := newManager(t, time.Minute)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "AAPL", "w1")
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, "AAPL", "w1"))

	l, err := m.Acquire(ctx, "AAPL", "w2")
	require.NoError(t, err)
	assert.Equal(t, "w2", l.WorkerID)
}

func TestManager_CleanupExpired(t *testing.T) {
	m := newManager(t, 20*time.Millisecond)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "AAPL", "w1")
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "TSLA", "w2")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	n, err := m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "el barrido es idempotente")
}
