package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/stockbot/internal/adapters/snapshot"
	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSnapshot() domain.TradingStateSnapshot {
	snap := domain.NewTradingStateSnapshot()
	snap.Positions["AAPL"] = domain.Position{
		Symbol: "AAPL", Quantity: 10, AvgPrice: 150,
		Origin: domain.OriginTrade, UpdatedAt: time.Now().UTC(),
	}
	snap.RiskControls = domain.RiskControls{
		BaselineEquity: 1_000_000,
		BaselineDay:    "2026-08-28",
		RealizedPnL:    -120.5,
	}
	snap.LastUpdated = time.Now().UTC()
	return snap
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := snapshot.NewFileStore(path)
	ctx := context.Background()

	// Primer arranque: no existe
	_, found, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	want := makeSnapshot()
	require.NoError(t, store.Save(ctx, want))

	got, found, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.SnapshotVersion, got.Version)
	assert.InDelta(t, 10.0, got.Positions["AAPL"].Quantity, 0.001)
	assert.InDelta(t, 1_000_000.0, got.RiskControls.BaselineEquity, 0.001)
}

func TestFileStore_SaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := snapshot.NewFileStore(path)
	ctx := context.Background()

	first := makeSnapshot()
	require.NoError(t, store.Save(ctx, first))

	second := makeSnapshot()
	second.Positions["MSFT"] = domain.Position{Symbol: "MSFT", Quantity: 5, AvgPrice: 400}
	require.NoError(t, store.Save(ctx, second))

	got, found, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, got.Positions, 2)

	// No quedan temporales colgando
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// Simula el crash de §StatePersistence: un temporal truncado abandonado
// antes del rename no toca el snapshot bueno.
func TestFileStore_PartialTempDoesNotCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	store := snapshot.NewFileStore(path)
	ctx := context.Background()

	good := makeSnapshot()
	require.NoError(t, store.Save(ctx, good))

	// "Crash": alguien dejó un temporal a medio escribir
	tmp := filepath.Join(dir, "state.json.tmp-crashed")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"version":1,"posi`), 0o644))

	got, found, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 10.0, got.Positions["AAPL"].Quantity, 0.001,
		"el snapshot original queda intacto")
}

func TestFileStore_UnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99}`), 0o644))

	_, _, err := snapshot.NewFileStore(path).Load(context.Background())
	assert.Error(t, err)
}
