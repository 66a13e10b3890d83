package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/stockbot/internal/adapters/storage"
	"github.com/alejandrodnm/stockbot/internal/application/lock"
	"github.com/alejandrodnm/stockbot/internal/application/worker"
	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticScanner struct{ symbols []string }

func (s staticScanner) Candidates(context.Context) ([]string, error) { return s.symbols, nil }

// scriptedStrategy devuelve señales fijas por símbolo.
type scriptedStrategy struct {
	buys  map[string]domain.Signal
	sells map[string]domain.Signal
}

func (s scriptedStrategy) EvaluateBuy(_ context.Context, symbol string, _ float64) (domain.Signal, error) {
	if sig, ok := s.buys[symbol]; ok {
		return sig, nil
	}
	return domain.Signal{Symbol: symbol, Action: domain.ActionHold}, nil
}

func (s scriptedStrategy) EvaluateSell(_ context.Context, pos domain.Position, _ float64) (domain.Signal, error) {
	if sig, ok := s.sells[pos.Symbol]; ok {
		return sig, nil
	}
	return domain.Signal{Symbol: pos.Symbol, Action: domain.ActionHold}, nil
}

type mapQuotes map[string]float64

func (m mapQuotes) LastPrice(symbol string) (float64, bool) {
	p, ok := m[symbol]
	return p, ok
}

// recordingTrader apunta cada operación y mantiene posiciones en el store
// para que el worker las vea.
type recordingTrader struct {
	mu     sync.Mutex
	store  *storage.Store
	buys   []string
	sells  []string
	buyErr error
}

func (tr *recordingTrader) Buy(ctx context.Context, symbol string, qty, price float64) (domain.Order, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.buyErr != nil {
		return domain.Order{}, tr.buyErr
	}
	tr.buys = append(tr.buys, symbol)
	err := tr.store.UpsertPosition(ctx, domain.Position{
		Symbol: symbol, Quantity: qty, AvgPrice: price,
		Origin: domain.OriginTrade, UpdatedAt: time.Now().UTC(),
	})
	return domain.Order{ID: "o-" + symbol, Symbol: symbol}, err
}

func (tr *recordingTrader) Sell(ctx context.Context, symbol string, qty, price float64) (domain.Order, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.sells = append(tr.sells, symbol)
	err := tr.store.UpsertPosition(ctx, domain.Position{
		Symbol: symbol, Quantity: 0, AvgPrice: 0,
		Origin: domain.OriginTrade, UpdatedAt: time.Now().UTC(),
	})
	return domain.Order{ID: "s-" + symbol, Symbol: symbol}, err
}

type fixture struct {
	store  *storage.Store
	locks  *lock.Manager
	trader *recordingTrader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &fixture{
		store:  s,
		locks:  lock.NewManager(s, time.Minute),
		trader: &recordingTrader{store: s},
	}
}

func (f *fixture) worker(id string, scanner staticScanner, strat scriptedStrategy, quotes mapQuotes) *worker.Worker {
	return worker.New(worker.Config{
		ID:                  id,
		ConfidenceThreshold: 0.7,
		ScanInterval:        10 * time.Millisecond,
		HeartbeatInterval:   10 * time.Millisecond,
	}, f.store, f.locks, scanner, strat, quotes, f.store, f.trader)
}

func buySignal(symbol string, confidence float64) domain.Signal {
	return domain.Signal{
		Symbol: symbol, Action: domain.ActionBuy,
		Confidence: confidence, Quantity: 10, Price: 100,
	}
}

func TestWorker_BuysAndHolds(t *testing.T) {
	f := newFixture(t)
	w := f.worker("w1",
		staticScanner{symbols: []string{"AAPL"}},
		scriptedStrategy{buys: map[string]domain.Signal{"AAPL": buySignal("AAPL", 0.9)}},
		mapQuotes{"AAPL": 100})
	ctx := context.Background()

	require.NoError(t, w.Register(ctx))
	require.NoError(t, w.RunOnce(ctx))

	status, held := w.Status()
	assert.Equal(t, domain.WorkerStatusHolding, status)
	assert.Equal(t, "AAPL", held)
	assert.Equal(t, []string{"AAPL"}, f.trader.buys)
	assert.True(t, f.locks.Owns(ctx, "AAPL", "w1"), "la compra ocurre bajo el lock")
}

func TestWorker_BelowConfidenceIgnored(t *testing.T) {
	f := newFixture(t)
	w := f.worker("w1",
		staticScanner{symbols: []string{"AAPL"}},
		scriptedStrategy{buys: map[string]domain.Signal{"AAPL": buySignal("AAPL", 0.5)}},
		mapQuotes{"AAPL": 100})
	ctx := context.Background()

	require.NoError(t, w.Register(ctx))
	require.NoError(t, w.RunOnce(ctx))

	status, _ := w.Status()
	assert.Equal(t, domain.WorkerStatusScanning, status)
	assert.Empty(t, f.trader.buys)
}

func TestWorker_SkipsLockedSymbol(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Otro worker ya posee AAPL
	_, err := f.locks.Acquire(ctx, "AAPL", "other")
	require.NoError(t, err)

	w := f.worker("w1",
		staticScanner{symbols: []string{"AAPL", "TSLA"}},
		scriptedStrategy{buys: map[string]domain.Signal{
			"AAPL": buySignal("AAPL", 0.9),
			"TSLA": buySignal("TSLA", 0.8),
		}},
		mapQuotes{"AAPL": 100, "TSLA": 200})

	require.NoError(t, w.Register(ctx))
	require.NoError(t, w.RunOnce(ctx))

	// AAPL estaba tomado: el worker pasó al siguiente candidato
	_, held := w.Status()
	assert.Equal(t, "TSLA", held)
	assert.Equal(t, []string{"TSLA"}, f.trader.buys)
}

func TestWorker_BuyErrorReleasesLock(t *testing.T) {
	f := newFixture(t)
	f.trader.buyErr = errors.New("broker down")
	w := f.worker("w1",
		staticScanner{symbols: []string{"AAPL"}},
		scriptedStrategy{buys: map[string]domain.Signal{"AAPL": buySignal("AAPL", 0.9)}},
		mapQuotes{"AAPL": 100})
	ctx := context.Background()

	require.NoError(t, w.Register(ctx))
	require.Error(t, w.RunOnce(ctx))

	// El lock no queda colgando: otro worker puede tomar el símbolo
	_, err := f.locks.Acquire(ctx, "AAPL", "w2")
	assert.NoError(t, err)
}

func TestWorker_SellsAndReturnsToScanning(t *testing.T) {
	f := newFixture(t)
	w := f.worker("w1",
		staticScanner{symbols: []string{"AAPL"}},
		scriptedStrategy{
			buys: map[string]domain.Signal{"AAPL": buySignal("AAPL", 0.9)},
			sells: map[string]domain.Signal{"AAPL": {
				Symbol: "AAPL", Action: domain.ActionSell, Confidence: 0.9,
			}},
		},
		mapQuotes{"AAPL": 120})
	ctx := context.Background()

	require.NoError(t, w.Register(ctx))
	require.NoError(t, w.RunOnce(ctx)) // compra
	require.NoError(t, w.RunOnce(ctx)) // vende

	status, held := w.Status()
	assert.Equal(t, domain.WorkerStatusScanning, status)
	assert.Empty(t, held)
	assert.Equal(t, []string{"AAPL"}, f.trader.sells)

	// El lock quedó libre tras la salida
	_, err := f.locks.Acquire(ctx, "AAPL", "w2")
	assert.NoError(t, err)
}

func TestWorker_ShutdownForceLiquidates(t *testing.T) {
	f := newFixture(t)
	w := f.worker("w1",
		staticScanner{symbols: []string{"AAPL"}},
		scriptedStrategy{buys: map[string]domain.Signal{"AAPL": buySignal("AAPL", 0.9)}},
		mapQuotes{"AAPL": 100})
	ctx := context.Background()

	require.NoError(t, w.Register(ctx))
	require.NoError(t, w.RunOnce(ctx))
	require.NoError(t, w.Shutdown(ctx))

	status, _ := w.Status()
	assert.Equal(t, domain.WorkerStatusExiting, status)
	assert.Equal(t, []string{"AAPL"}, f.trader.sells, "EXITING con posición liquida a mercado")

	stored, err := f.store.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusExiting, stored.Status)
}

func TestWorker_ShutdownIdempotent(t *testing.T) {
	f := newFixture(t)
	w := f.worker("w1", staticScanner{}, scriptedStrategy{}, mapQuotes{})
	ctx := context.Background()

	require.NoError(t, w.Register(ctx))
	require.NoError(t, w.Shutdown(ctx))
	require.NoError(t, w.Shutdown(ctx), "EXITING es terminal y re-entrante")
}

func TestMonitor_SweepsDeadWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := worker.NewMonitor(f.store, f.locks)

	// Worker muerto: último latido hace mucho más de 3× su intervalo
	require.NoError(t, f.store.UpsertWorker(ctx, domain.WorkerProcess{
		ID: "dead", Status: domain.WorkerStatusHolding, HeldSymbol: "AAPL",
		StartedAt:         time.Now().UTC().Add(-time.Hour),
		LastHeartbeatAt:   time.Now().UTC().Add(-time.Hour),
		HeartbeatInterval: time.Second,
	}))
	_, err := f.locks.Acquire(ctx, "AAPL", "dead")
	require.NoError(t, err)

	// Worker vivo: no se toca
	require.NoError(t, f.store.UpsertWorker(ctx, domain.WorkerProcess{
		ID: "alive", Status: domain.WorkerStatusScanning,
		StartedAt:         time.Now().UTC(),
		LastHeartbeatAt:   time.Now().UTC(),
		HeartbeatInterval: time.Second,
	}))

	swept, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	dead, err := f.store.GetWorker(ctx, "dead")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusExiting, dead.Status)

	// El símbolo del muerto vuelve a estar disponible
	_, err = f.locks.Acquire(ctx, "AAPL", "w2")
	assert.NoError(t, err)

	alive, err := f.store.GetWorker(ctx, "alive")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusScanning, alive.Status)
}

func TestMonitor_ExitingNeverDead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := worker.NewMonitor(f.store, f.locks)

	require.NoError(t, f.store.UpsertWorker(ctx, domain.WorkerProcess{
		ID: "gone", Status: domain.WorkerStatusExiting,
		StartedAt:         time.Now().UTC().Add(-time.Hour),
		LastHeartbeatAt:   time.Now().UTC().Add(-time.Hour),
		HeartbeatInterval: time.Second,
	}))

	swept, err := m.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}
