package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lockTTL = 5 * time.Minute

func TestStore_TryAcquire_MutualExclusion(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	l, err := s.TryAcquire(ctx, "AAPL", "w1", lockTTL, now)
	require.NoError(t, err)
	assert.Equal(t, domain.LockStatusActive, l.Status)
	assert.Equal(t, "w1", l.WorkerID)

	// Otro worker, lock vigente → LockAcquisitionError
	_, err = s.TryAcquire(ctx, "AAPL", "w2", lockTTL, now.Add(time.Second))
	assert.ErrorIs(t, err, domain.ErrLockAcquisition)

	// Otro símbolo no interfiere
	_, err = s.TryAcquire(ctx, "MSFT", "w2", lockTTL, now)
	assert.NoError(t, err)
}

func TestStore_TryAcquire_SameWorkerRenews(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := s.TryAcquire(ctx, "AAPL", "w1", lockTTL, now)
	require.NoError(t, err)

	renewed, err := s.TryAcquire(ctx, "AAPL", "w1", lockTTL, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, renewed.ExpiresAt.After(first.ExpiresAt), "renovación extiende el lease")
	// acquired_at no cambia en una renovación
	assert.WithinDuration(t, first.AcquiredAt, renewed.AcquiredAt, time.Millisecond)
}

func TestStore_TryAcquire_ExpiredIsReacquirable(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.TryAcquire(ctx, "AAPL", "w1", lockTTL, now)
	require.NoError(t, err)

	// Pasado el TTL, otro worker puede tomarlo sin barrido previo explícito
	after := now.Add(lockTTL + time.Second)
	l, err := s.TryAcquire(ctx, "AAPL", "w2", lockTTL, after)
	require.NoError(t, err)
	assert.Equal(t, "w2", l.WorkerID)
}

func TestStore_ExtendLease_Errors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Sin lock → not found
	err := s.ExtendLease(ctx, "AAPL", "w1", lockTTL, now)
	assert.ErrorIs(t, err, domain.ErrLockNotFound)

	_, err = s.TryAcquire(ctx, "AAPL", "w1", lockTTL, now)
	require.NoError(t, err)

	// Dueño vigente → OK
	require.NoError(t, s.ExtendLease(ctx, "AAPL", "w1", lockTTL, now.Add(time.Minute)))

	// Otro worker → not found (no es suyo)
	err = s.ExtendLease(ctx, "AAPL", "w2", lockTTL, now)
	assert.ErrorIs(t, err, domain.ErrLockNotFound)

	// Vencido → expired, distinguible de not found
	err = s.ExtendLease(ctx, "AAPL", "w1", lockTTL, now.Add(lockTTL+2*time.Minute))
	assert.ErrorIs(t, err, domain.ErrLockExpired)
}

func TestStore_TouchHeartbeat_DoesNotExtendLease(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	l, err := s.TryAcquire(ctx, "AAPL", "w1", lockTTL, now)
	require.NoError(t, err)

	hbAt := now.Add(time.Minute)
	require.NoError(t, s.TouchHeartbeat(ctx, "AAPL", "w1", hbAt))

	got, err := s.GetActiveLock(ctx, "AAPL")
	require.NoError(t, err)
	assert.WithinDuration(t, hbAt, got.HeartbeatAt, time.Millisecond)
	assert.WithinDuration(t, l.ExpiresAt, got.ExpiresAt, time.Millisecond, "el TTL no se toca")
}

func TestStore_SweepExpired(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.TryAcquire(ctx, "AAPL", "w1", lockTTL, now)
	require.NoError(t, err)
	_, err = s.TryAcquire(ctx, "MSFT", "w2", time.Minute, now)
	require.NoError(t, err)

	n, err := s.SweepExpired(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "solo el lease corto venció")

	_, err = s.GetActiveLock(ctx, "MSFT")
	assert.ErrorIs(t, err, domain.ErrLockNotFound)

	_, err = s.GetActiveLock(ctx, "AAPL")
	assert.NoError(t, err)
}

func TestStore_PruneExpired_KeepsActive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.TryAcquire(ctx, "AAPL", "w1", lockTTL, now)
	require.NoError(t, err)
	_, err = s.TryAcquire(ctx, "MSFT", "w2", lockTTL, now)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "MSFT", "w2"))

	n, err := s.PruneExpired(ctx, now.Add(lockTTL+time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "solo la fila EXPIRED se borra")

	_, err = s.GetActiveLock(ctx, "AAPL")
	assert.NoError(t, err, "el ACTIVE vigente no se toca")
}

func TestStore_Release(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.TryAcquire(ctx, "AAPL", "w1", lockTTL, now)
	require.NoError(t, err)

	// Otro worker no puede liberar lo que no posee
	err = s.Release(ctx, "AAPL", "w2")
	assert.ErrorIs(t, err, domain.ErrLockNotFound)

	require.NoError(t, s.Release(ctx, "AAPL", "w1"))

	// Tras liberar, cualquiera puede adquirir
	_, err = s.TryAcquire(ctx, "AAPL", "w2", lockTTL, now.Add(time.Second))
	assert.NoError(t, err)
}
