package recovery_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/stockbot/internal/adapters/snapshot"
	"github.com/alejandrodnm/stockbot/internal/adapters/storage"
	"github.com/alejandrodnm/stockbot/internal/application/recovery"
	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// holdingsBroker responde InquireBalance con la cartera configurada.
type holdingsBroker struct {
	holdings domain.BrokerHoldings
	err      error
}

func (b *holdingsBroker) Authenticate(context.Context) error { return nil }
func (b *holdingsBroker) PlaceOrder(context.Context, domain.OrderRequest) (string, error) {
	return "", errors.New("not implemented")
}
func (b *holdingsBroker) CancelOrder(context.Context, string) error { return nil }
func (b *holdingsBroker) GetOrders(context.Context) ([]domain.BrokerOrder, error) {
	return nil, nil
}
func (b *holdingsBroker) InquireBalance(context.Context) (domain.BrokerHoldings, error) {
	if b.err != nil {
		return domain.BrokerHoldings{}, b.err
	}
	return b.holdings, nil
}

// noopSyncer: el pase de órdenes no aporta nada en estos tests.
type noopSyncer struct{}

func (noopSyncer) SyncStatus(context.Context) (int, error)          { return 0, nil }
func (noopSyncer) OpenOrders(context.Context) ([]domain.Order, error) { return nil, nil }

func newCoordinator(t *testing.T, broker *holdingsBroker) (*recovery.Coordinator, *storage.Store, *snapshot.FileStore) {
	t.Helper()
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	snaps := snapshot.NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	return recovery.NewCoordinator(broker, store, noopSyncer{}, snaps, nil), store, snaps
}

func seedPosition(t *testing.T, s *storage.Store, symbol string, qty, avg float64) {
	t.Helper()
	require.NoError(t, s.UpsertPosition(context.Background(), domain.Position{
		Symbol: symbol, Quantity: qty, AvgPrice: avg,
		Origin: domain.OriginTrade, UpdatedAt: time.Now().UTC(),
	}))
}

func TestCoordinator_Clean(t *testing.T) {
	broker := &holdingsBroker{holdings: domain.BrokerHoldings{
		Holdings: []domain.BrokerHolding{{Symbol: "AAPL", Quantity: 10, AvgPrice: 100}},
	}}
	c, store, _ := newCoordinator(t, broker)
	seedPosition(t, store, "AAPL", 10, 100)

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RecoveryClean, report.Outcome)
	assert.False(t, report.HasDiscrepancies())
}

func TestCoordinator_AdoptsOrphan(t *testing.T) {
	// Broker {AAPL: 10}, local {} → huérfana adoptada con qty 10
	broker := &holdingsBroker{holdings: domain.BrokerHoldings{
		Holdings: []domain.BrokerHolding{{Symbol: "AAPL", Quantity: 10, AvgPrice: 101.5}},
	}}
	c, store, _ := newCoordinator(t, broker)

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RecoveryReconciled, report.Outcome)
	assert.Equal(t, []string{"AAPL"}, report.OrphanSymbols)

	pos, err := store.GetPosition(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, pos.Quantity, 0.001)
	assert.Equal(t, domain.OriginReconciled, pos.Origin)
}

func TestCoordinator_OverwritesQuantityMismatch(t *testing.T) {
	// Broker {AAPL: 15}, local {AAPL: 10} → (10, 15) y lo local pasa a 15
	broker := &holdingsBroker{holdings: domain.BrokerHoldings{
		Holdings: []domain.BrokerHolding{{Symbol: "AAPL", Quantity: 15, AvgPrice: 100}},
	}}
	c, store, _ := newCoordinator(t, broker)
	seedPosition(t, store, "AAPL", 10, 100)

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.QuantityMismatches, 1)
	assert.InDelta(t, 10.0, report.QuantityMismatches[0].Local, 0.001)
	assert.InDelta(t, 15.0, report.QuantityMismatches[0].Broker, 0.001)

	pos, err := store.GetPosition(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.InDelta(t, 15.0, pos.Quantity, 0.001)
}

func TestCoordinator_MarksMissingStale(t *testing.T) {
	broker := &holdingsBroker{holdings: domain.BrokerHoldings{}}
	c, store, _ := newCoordinator(t, broker)
	seedPosition(t, store, "TSLA", 5, 200)

	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"TSLA"}, report.MissingSymbols)

	// Stale: conservada para auditoría pero fuera de las abiertas
	pos, err := store.GetPosition(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Equal(t, domain.OriginStale, pos.Origin)

	open, err := store.GetOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestCoordinator_BrokerFailureIsFatal(t *testing.T) {
	broker := &holdingsBroker{err: domain.ErrConnection}
	c, _, _ := newCoordinator(t, broker)

	report, err := c.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrRecoveryFailure)
	assert.Equal(t, domain.RecoveryFailed, report.Outcome)
	assert.NotEmpty(t, report.Errors)
}

func TestCoordinator_PersistsSnapshot(t *testing.T) {
	broker := &holdingsBroker{holdings: domain.BrokerHoldings{
		Holdings: []domain.BrokerHolding{{Symbol: "AAPL", Quantity: 10, AvgPrice: 100}},
	}}
	c, _, snaps := newCoordinator(t, broker)

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	snap, found, err := snaps.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found, "el pase deja un snapshot en disco")
	assert.Contains(t, snap.Positions, "AAPL")
}
