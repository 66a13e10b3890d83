package metrics

// Métricas Prometheus del trader, servidas en /metrics.
//   • trader_orders_total{side,status}      – órdenes por resultado
//   • trader_fills_total                    – fills procesados
//   • trader_equity                         – equity actual (gauge)
//   • trader_daily_pnl                      – PnL del día (gauge)
//   • trader_kill_switch                    – 1 si el kill switch está ACTIVE
//   • trader_lock_acquisitions_total{result} – intentos de stock lock
//   • trader_reconcile_discrepancies_total{kind} – drift detectado

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics agrupa los collectors del trader. Se registran en el
// constructor; una instancia por proceso.
type Metrics struct {
	Orders        *prometheus.CounterVec
	Fills         prometheus.Counter
	Equity        prometheus.Gauge
	DailyPnL      prometheus.Gauge
	KillSwitch    prometheus.Gauge
	Locks         *prometheus.CounterVec
	Discrepancies *prometheus.CounterVec

	registry *prometheus.Registry
}

// New crea y registra los collectors en un registry propio.
func New() *Metrics {
	m := &Metrics{
		Orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_orders_total", Help: "Orders by side and final status"},
			[]string{"side", "status"},
		),
		Fills: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "trader_fills_total", Help: "Fill events processed"},
		),
		Equity: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "trader_equity", Help: "Current equity"},
		),
		DailyPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "trader_daily_pnl", Help: "Realized plus unrealized PnL for the day"},
		),
		KillSwitch: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "trader_kill_switch", Help: "1 while the daily-loss kill switch is latched"},
		),
		Locks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_lock_acquisitions_total", Help: "Stock lock acquisition attempts"},
			[]string{"result"}, // acquired | renewed | contended
		),
		Discrepancies: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_reconcile_discrepancies_total", Help: "Reconciliation discrepancies by kind"},
			[]string{"kind"}, // orphan | missing | mismatch | error
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.Orders, m.Fills, m.Equity, m.DailyPnL,
		m.KillSwitch, m.Locks, m.Discrepancies,
	)
	return m
}

// Handler devuelve el http.Handler de /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve arranca el endpoint de métricas en la dirección dada.
// Bloquea; pensado para correr en su propia goroutine.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
