package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/stockbot/internal/application/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AcquireBlocksBeyondWindow(t *testing.T) {
	l := ratelimit.New(5)
	ctx := context.Background()

	start := time.Now()
	// El burst inicial (5) pasa sin esperar; la sexta llamada espera ~200ms
	for i := 0; i < 6; i++ {
		require.NoError(t, l.Acquire(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestLimiter_Available(t *testing.T) {
	l := ratelimit.New(10)
	assert.Equal(t, 10, l.Available())

	require.NoError(t, l.Acquire(context.Background()))
	assert.Less(t, l.Available(), 10)
}

func TestLimiter_AcquireHonorsCancel(t *testing.T) {
	l := ratelimit.New(1)
	require.NoError(t, l.Acquire(context.Background())) // agota el burst

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.Error(t, err)
}

func TestLimiter_ConcurrentCallers(t *testing.T) {
	l := ratelimit.New(100)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Acquire(context.Background())
		}()
	}
	wg.Wait()
}
