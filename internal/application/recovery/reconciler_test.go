package recovery_test

import (
	"context"
	"testing"

	"github.com/alejandrodnm/stockbot/internal/adapters/storage"
	"github.com/alejandrodnm/stockbot/internal/application/recovery"
	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_ReportsWithoutMutating(t *testing.T) {
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	seedPosition(t, store, "AAPL", 10, 100)

	broker := &holdingsBroker{holdings: domain.BrokerHoldings{
		Holdings: []domain.BrokerHolding{
			{Symbol: "AAPL", Quantity: 15}, // mismatch
			{Symbol: "MSFT", Quantity: 3},  // huérfana
		},
	}}

	var published []recovery.Discrepancy
	r := recovery.NewReconciler(broker, store, func(ds []recovery.Discrepancy) {
		published = append(published, ds...)
	})

	found := r.RunOnce(context.Background())
	assert.Len(t, found, 2)
	assert.Equal(t, found, published)

	// El libro local quedó intacto: solo se informa, no se corrige
	pos, err := store.GetPosition(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, pos.Quantity, 0.001)

	_, err = store.GetPosition(context.Background(), "MSFT")
	assert.True(t, storage.IsNotFound(err))
}

func TestReconciler_MissingLocally(t *testing.T) {
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	seedPosition(t, store, "TSLA", 5, 200)

	broker := &holdingsBroker{holdings: domain.BrokerHoldings{}}
	r := recovery.NewReconciler(broker, store, nil)

	found := r.RunOnce(context.Background())
	require.Len(t, found, 1)
	assert.Equal(t, "missing", found[0].Kind)
	assert.Equal(t, "TSLA", found[0].Symbol)
}

func TestReconciler_BrokerErrorIsOneDiscrepancy(t *testing.T) {
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := &holdingsBroker{err: domain.ErrConnection}
	calls := 0
	r := recovery.NewReconciler(broker, store, func([]recovery.Discrepancy) { calls++ })

	found := r.RunOnce(context.Background())
	require.Len(t, found, 1)
	assert.Equal(t, "broker_error", found[0].Kind)
	assert.Equal(t, 1, calls)
}

func TestReconciler_NoDiscrepanciesNoCallback(t *testing.T) {
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	seedPosition(t, store, "AAPL", 10, 100)

	broker := &holdingsBroker{holdings: domain.BrokerHoldings{
		Holdings: []domain.BrokerHolding{{Symbol: "AAPL", Quantity: 10}},
	}}
	r := recovery.NewReconciler(broker, store, func([]recovery.Discrepancy) {
		t.Fatal("callback con pase limpio")
	})

	assert.Empty(t, r.RunOnce(context.Background()))
}
