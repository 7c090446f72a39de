package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradepit/internal/game"
)

const namespace = "tradepit"

var phases = []game.Phase{game.PhaseIdle, game.PhaseCountdown, game.PhaseRunning, game.PhaseEnded}

// Metrics is a private registry. It implements game.Recorder and carries the
// connection gauges the websocket hub updates.
type Metrics struct {
	registry *prometheus.Registry

	ticks          *prometheus.CounterVec
	tickDuration   prometheus.Histogram
	trades         *prometheus.CounterVec
	tradedQty      *prometheus.CounterVec
	liquidations   prometheus.Counter
	phase          *prometheus.GaugeVec
	sessions       prometheus.Gauge
	publishDropped prometheus.Counter
	clientsDropped prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler ticks processed, by phase at tick start.",
		}, []string{"phase"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent inside one scheduler tick.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Trades executed, forced liquidations included.",
		}, []string{"side"}),
		tradedQty: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_quantity_total",
			Help:      "Units traded by participants.",
		}, []string{"side"}),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Positions force-closed by the risk monitor.",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "1 for the current market phase, 0 otherwise.",
		}, []string{"phase"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_connected",
			Help:      "Open websocket sessions.",
		}),
		publishDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_dropped_total",
			Help:      "Events dropped because the broadcast queue was full.",
		}),
		clientsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_clients_dropped_total",
			Help:      "Sessions disconnected because their send buffer was full.",
		}),
	}
	registry.MustRegister(
		m.ticks,
		m.tickDuration,
		m.trades,
		m.tradedQty,
		m.liquidations,
		m.phase,
		m.sessions,
		m.publishDropped,
		m.clientsDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.PhaseChanged(game.PhaseIdle)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) TickProcessed(phase game.Phase, took time.Duration) {
	m.ticks.WithLabelValues(string(phase)).Inc()
	m.tickDuration.Observe(took.Seconds())
}

func (m *Metrics) TradeExecuted(side game.Side, qty int64) {
	m.trades.WithLabelValues(string(side)).Inc()
	m.tradedQty.WithLabelValues(string(side)).Add(float64(qty))
}

func (m *Metrics) Liquidated() { m.liquidations.Inc() }

func (m *Metrics) PhaseChanged(phase game.Phase) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.phase.WithLabelValues(string(p)).Set(v)
	}
}

func (m *Metrics) SessionOpened()     { m.sessions.Inc() }
func (m *Metrics) SessionClosed()     { m.sessions.Dec() }
func (m *Metrics) PublishDropped()    { m.publishDropped.Inc() }
func (m *Metrics) SlowClientDropped() { m.clientsDropped.Inc() }
