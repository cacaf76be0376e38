package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsCreated *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	pending        prometheus.Gauge
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
}

// New creates a recorder registered on reg (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		signalsCreated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbridge_signals_created_total",
				Help: "Total number of signals created",
			},
			[]string{"symbol", "decision"},
		),
		settlements: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbridge_settlements_total",
				Help: "Settlement attempts by result",
			},
			[]string{"result"},
		),
		pending: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalbridge_pending_signals",
				Help: "Signals currently tracked by the pending store",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalbridge_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"kind"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalbridge_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalbridge_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordSignalCreated counts a persisted signal.
func (r *Recorder) RecordSignalCreated(symbol, decision string) {
	if decision == "" {
		decision = "none"
	}
	r.signalsCreated.WithLabelValues(symbol, decision).Inc()
}

// RecordSettlement counts a settlement attempt outcome (settled, retry, failed).
func (r *Recorder) RecordSettlement(result string) {
	r.settlements.WithLabelValues(result).Inc()
}

// RecordPending sets the number of tracked pending entries.
func (r *Recorder) RecordPending(n int) {
	r.pending.Set(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
