package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/stockbot/internal/adapters/storage"
	"github.com/alejandrodnm/stockbot/internal/application/lifecycle"
	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	authErr  error
	balErr   error
	holdings domain.BrokerHoldings
}

func (b *fakeBroker) Authenticate(context.Context) error { return b.authErr }
func (b *fakeBroker) PlaceOrder(context.Context, domain.OrderRequest) (string, error) {
	return "", errors.New("not implemented")
}
func (b *fakeBroker) CancelOrder(context.Context, string) error { return nil }
func (b *fakeBroker) GetOrders(context.Context) ([]domain.BrokerOrder, error) {
	return nil, nil
}
func (b *fakeBroker) InquireBalance(context.Context) (domain.BrokerHoldings, error) {
	if b.balErr != nil {
		return domain.BrokerHoldings{}, b.balErr
	}
	return b.holdings, nil
}

type fakeRecovery struct {
	report domain.RecoveryReport
	err    error
}

func (r fakeRecovery) Run(context.Context) (domain.RecoveryReport, error) {
	return r.report, r.err
}

type fakeRisk struct {
	mu       sync.Mutex
	baseline float64
	latched  bool
	rolls    bool
}

func (r *fakeRisk) Initialize(equity float64, _ time.Time) {
	r.mu.Lock()
	r.baseline = equity
	r.mu.Unlock()
}

func (r *fakeRisk) Rollover(float64, time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rolls {
		r.latched = false
		return true
	}
	return false
}

func (r *fakeRisk) KillSwitchActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latched
}

type fakeStream struct {
	connectErr  error
	connects    int
	disconnects int
}

func (s *fakeStream) Connect(context.Context) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connects++
	return nil
}
func (s *fakeStream) Disconnect() error {
	s.disconnects++
	return nil
}
func (s *fakeStream) OnQuote(func(domain.Quote))    {}
func (s *fakeStream) OnFill(func(domain.FillEvent)) {}

type eventSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *eventSink) Notify(_ context.Context, ev domain.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *eventSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

type settleRecorder struct{ calls int }

func (s *settleRecorder) PrintSettlement([]domain.Position, map[string]float64, float64, float64) {
	s.calls++
}

type bundle struct {
	broker   *fakeBroker
	recovery fakeRecovery
	risk     *fakeRisk
	stream   *fakeStream
	sink     *eventSink
	settle   *settleRecorder
	ctrl     *lifecycle.Controller
}

func newBundle(t *testing.T, cfg lifecycle.Config, broker *fakeBroker, rec fakeRecovery) *bundle {
	t.Helper()
	store, err := storage.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := &bundle{
		broker:   broker,
		recovery: rec,
		risk:     &fakeRisk{},
		stream:   &fakeStream{},
		sink:     &eventSink{},
		settle:   &settleRecorder{},
	}
	b.ctrl = lifecycle.NewController(cfg, broker, rec, b.risk, b.stream, store, b.sink, b.settle, nil)
	return b
}

func healthyBroker() *fakeBroker {
	return &fakeBroker{holdings: domain.BrokerHoldings{TotalValue: 1_000_000}}
}

func TestController_OpenMarket(t *testing.T) {
	b := newBundle(t, lifecycle.Config{}, healthyBroker(),
		fakeRecovery{report: domain.RecoveryReport{Outcome: domain.RecoveryClean}})

	require.NoError(t, b.ctrl.OpenMarket(context.Background()))

	state := b.ctrl.State()
	assert.Equal(t, domain.SystemReady, state.Status)
	assert.NotNil(t, state.MarketOpenedAt)
	assert.Equal(t, domain.RecoveryClean, state.RecoveryOutcome)
	assert.InDelta(t, 1_000_000.0, b.risk.baseline, 0.001,
		"el baseline sale del valor de cartera del broker")
	assert.Equal(t, 1, b.stream.connects)
	assert.Contains(t, b.sink.types(), domain.EventEngineStarted)
	assert.True(t, b.ctrl.AllowsTrading())
}

func TestController_OpenMarket_AuthFailureStops(t *testing.T) {
	b := newBundle(t, lifecycle.Config{},
		&fakeBroker{authErr: domain.ErrAuthentication},
		fakeRecovery{})

	err := b.ctrl.OpenMarket(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthentication)

	state := b.ctrl.State()
	assert.Equal(t, domain.SystemStopped, state.Status)
	assert.NotEmpty(t, state.StoppedReason)
	assert.False(t, b.ctrl.AllowsTrading())
	assert.Zero(t, b.stream.connects, "la secuencia se corta antes del stream")
}

func TestController_OpenMarket_RecoveryFailureStops(t *testing.T) {
	b := newBundle(t, lifecycle.Config{}, healthyBroker(), fakeRecovery{
		report: domain.RecoveryReport{Outcome: domain.RecoveryFailed},
		err:    domain.ErrRecoveryFailure,
	})

	err := b.ctrl.OpenMarket(context.Background())
	assert.ErrorIs(t, err, domain.ErrRecoveryFailure)
	assert.Equal(t, domain.SystemStopped, b.ctrl.State().Status)
}

func TestController_OpenMarket_DegradedOverride(t *testing.T) {
	b := newBundle(t, lifecycle.Config{AllowDegraded: true}, healthyBroker(), fakeRecovery{
		report: domain.RecoveryReport{Outcome: domain.RecoveryFailed, Errors: []string{"broker timeout"}},
		err:    domain.ErrRecoveryFailure,
	})

	require.NoError(t, b.ctrl.OpenMarket(context.Background()))
	assert.Equal(t, domain.SystemReady, b.ctrl.State().Status)
	assert.Contains(t, b.sink.types(), domain.EventRecoveryFailed,
		"el modo degradado deja constancia crítica")
}

func TestController_OpenMarket_RolloverClearsKillSwitch(t *testing.T) {
	b := newBundle(t, lifecycle.Config{}, healthyBroker(),
		fakeRecovery{report: domain.RecoveryReport{Outcome: domain.RecoveryClean}})
	b.risk.latched = true
	b.risk.rolls = true

	require.NoError(t, b.ctrl.OpenMarket(context.Background()))
	assert.Contains(t, b.sink.types(), domain.EventKillSwitchCleared,
		"el rollover de día que limpia el latch se anuncia")
}

func TestController_StartTrading(t *testing.T) {
	b := newBundle(t, lifecycle.Config{}, healthyBroker(),
		fakeRecovery{report: domain.RecoveryReport{Outcome: domain.RecoveryClean}})

	// Ilegal desde OFFLINE
	var invalid *domain.InvalidTransitionError
	assert.ErrorAs(t, b.ctrl.StartTrading(), &invalid)

	require.NoError(t, b.ctrl.OpenMarket(context.Background()))
	require.NoError(t, b.ctrl.StartTrading())
	assert.Equal(t, domain.SystemTrading, b.ctrl.State().Status)
	assert.True(t, b.ctrl.AllowsTrading())
}

func TestController_CloseMarket(t *testing.T) {
	b := newBundle(t, lifecycle.Config{}, healthyBroker(),
		fakeRecovery{report: domain.RecoveryReport{Outcome: domain.RecoveryClean}})
	ctx := context.Background()

	require.NoError(t, b.ctrl.OpenMarket(ctx))
	require.NoError(t, b.ctrl.StartTrading())
	require.NoError(t, b.ctrl.CloseMarket(ctx, 150, -20))

	state := b.ctrl.State()
	assert.Equal(t, domain.SystemClosed, state.Status)
	assert.NotNil(t, state.MarketClosedAt)
	assert.Equal(t, 1, b.settle.calls, "el cierre imprime el settlement")
	assert.Equal(t, 1, b.stream.disconnects)
	assert.False(t, b.ctrl.AllowsTrading())
}

func TestController_DailyCycleRestarts(t *testing.T) {
	b := newBundle(t, lifecycle.Config{}, healthyBroker(),
		fakeRecovery{report: domain.RecoveryReport{Outcome: domain.RecoveryClean}})
	ctx := context.Background()

	require.NoError(t, b.ctrl.OpenMarket(ctx))
	require.NoError(t, b.ctrl.CloseMarket(ctx, 0, 0))

	// CLOSED→INITIALIZING: el día siguiente arranca sin reinicio de proceso
	require.NoError(t, b.ctrl.OpenMarket(ctx))
	assert.Equal(t, domain.SystemReady, b.ctrl.State().Status)
}

func TestController_StopIsTerminal(t *testing.T) {
	b := newBundle(t, lifecycle.Config{}, healthyBroker(),
		fakeRecovery{report: domain.RecoveryReport{Outcome: domain.RecoveryClean}})
	ctx := context.Background()

	require.NoError(t, b.ctrl.OpenMarket(ctx))
	require.NoError(t, b.ctrl.Stop(ctx, "daily loss limit"))

	state := b.ctrl.State()
	assert.Equal(t, domain.SystemStopped, state.Status)
	assert.Equal(t, "daily loss limit", state.StoppedReason)

	// Sin reintento automático ni manual: STOPPED no tiene salidas
	var invalid *domain.InvalidTransitionError
	assert.ErrorAs(t, b.ctrl.OpenMarket(ctx), &invalid)
	assert.ErrorAs(t, b.ctrl.Stop(ctx, "again"), &invalid)
}
