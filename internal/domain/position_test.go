package domain_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPosition_UnrealizedPnL(t *testing.T) {
	long := domain.Position{Symbol: "AAPL", Quantity: 10, AvgPrice: 100}
	assert.InDelta(t, 50.0, long.UnrealizedPnL(105), 0.001)
	assert.InDelta(t, -50.0, long.UnrealizedPnL(95), 0.001)

	// Short: precio baja → ganancia
	short := domain.Position{Symbol: "TSLA", Quantity: -10, AvgPrice: 100}
	assert.InDelta(t, 50.0, short.UnrealizedPnL(95), 0.001)
	assert.InDelta(t, -50.0, short.UnrealizedPnL(105), 0.001)
}

func TestPosition_MarketValue(t *testing.T) {
	long := domain.Position{Quantity: 10, AvgPrice: 100}
	assert.InDelta(t, 1050.0, long.MarketValue(105), 0.001)

	short := domain.Position{Quantity: -10, AvgPrice: 100}
	assert.InDelta(t, 1050.0, short.MarketValue(105), 0.001)
}

func TestWorkerProcess_IsDead(t *testing.T) {
	now := time.Now()
	w := domain.WorkerProcess{
		Status:            domain.WorkerStatusScanning,
		HeartbeatInterval: 10 * time.Second,
		LastHeartbeatAt:   now.Add(-25 * time.Second),
	}
	assert.False(t, w.IsDead(now), "2.5× intervalo: aún vivo")

	w.LastHeartbeatAt = now.Add(-31 * time.Second)
	assert.True(t, w.IsDead(now), ">3× intervalo: muerto")

	// EXITING nunca se reporta como muerto — ya está fuera
	w.Status = domain.WorkerStatusExiting
	assert.False(t, w.IsDead(now))
}

func TestStockLock_Ownership(t *testing.T) {
	now := time.Now()
	l := domain.StockLock{
		Symbol:    "AAPL",
		WorkerID:  "w1",
		ExpiresAt: now.Add(time.Minute),
		Status:    domain.LockStatusActive,
	}
	assert.True(t, l.OwnedBy("w1", now))
	assert.False(t, l.OwnedBy("w2", now))
	assert.False(t, l.OwnedBy("w1", now.Add(2*time.Minute)), "vencido")

	l.Status = domain.LockStatusExpired
	assert.False(t, l.OwnedBy("w1", now))
}
