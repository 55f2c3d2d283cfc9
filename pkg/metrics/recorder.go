package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder handles metrics recording and exposure
type Recorder struct {
	registry *prometheus.Registry

	// API metrics
	apiRequestCounter   *prometheus.CounterVec
	apiLatencyHistogram *prometheus.HistogramVec

	// Book metrics
	tradesAccepted    *prometheus.CounterVec
	tradesRejected    *prometheus.CounterVec
	flattenCounter    prometheus.Counter
	bookSizeGauge     prometheus.Gauge
	curveEvalLatency  prometheus.Histogram
	commandsProcessed *prometheus.CounterVec

	// Distribution metrics
	snapshotsPublished *prometheus.CounterVec
	wsClientsGauge     prometheus.Gauge

	// System metrics
	goroutineCountGauge prometheus.Gauge
}

// NewRecorder creates a recorder backed by its own registry, so several
// recorders can coexist in one process (tests, multiple binaries).
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,

		apiRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desk_api_requests_total",
				Help: "The total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		apiLatencyHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "desk_api_latency_seconds",
				Help:    "API request latency distribution",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"method", "path"},
		),

		tradesAccepted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desk_trades_accepted_total",
				Help: "Trades booked, by option kind and side",
			},
			[]string{"kind", "side"},
		),
		tradesRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desk_trades_rejected_total",
				Help: "Trades rejected before booking, by reason",
			},
			[]string{"reason"},
		),
		flattenCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "desk_flatten_total",
				Help: "The total number of book flattens",
			},
		),
		bookSizeGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "desk_book_positions",
				Help: "Number of positions currently in the book",
			},
		),
		curveEvalLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "desk_curve_evaluation_seconds",
				Help:    "Time taken to evaluate the book across the spot grid",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
			},
		),
		commandsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desk_commands_processed_total",
				Help: "Desk commands consumed from the message bus",
			},
			[]string{"type", "outcome"},
		),

		snapshotsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "desk_snapshots_published_total",
				Help: "Snapshots handed to each publisher, by outcome",
			},
			[]string{"sink", "outcome"},
		),
		wsClientsGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "desk_websocket_clients",
				Help: "Connected websocket clients",
			},
		),

		goroutineCountGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "desk_goroutine_count",
				Help: "Number of goroutines",
			},
		),
	}
}

// Registry exposes the underlying registry for gathering in tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordAPIRequest records metrics for an API request
func (r *Recorder) RecordAPIRequest(method, path string, status int, latency time.Duration) {
	r.apiRequestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.apiLatencyHistogram.WithLabelValues(method, path).Observe(latency.Seconds())
}

// RecordTradeAccepted records a booked trade and the resulting book size
func (r *Recorder) RecordTradeAccepted(kind, side string, bookSize int) {
	r.tradesAccepted.WithLabelValues(kind, side).Inc()
	r.bookSizeGauge.Set(float64(bookSize))
}

// RecordTradeRejected records a trade that never reached the book
func (r *Recorder) RecordTradeRejected(reason string) {
	r.tradesRejected.WithLabelValues(reason).Inc()
}

// RecordFlatten records a flatten of the book
func (r *Recorder) RecordFlatten() {
	r.flattenCounter.Inc()
	r.bookSizeGauge.Set(0)
}

// RecordCurveEvaluation records the time spent evaluating the curves
func (r *Recorder) RecordCurveEvaluation(latency time.Duration) {
	r.curveEvalLatency.Observe(latency.Seconds())
}

// RecordCommand records a consumed bus command
func (r *Recorder) RecordCommand(commandType, outcome string) {
	r.commandsProcessed.WithLabelValues(commandType, outcome).Inc()
}

// RecordSnapshotPublished records a snapshot delivery attempt
func (r *Recorder) RecordSnapshotPublished(sink string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.snapshotsPublished.WithLabelValues(sink, outcome).Inc()
}

// RecordWebsocketClients records the number of connected websocket clients
func (r *Recorder) RecordWebsocketClients(n int) {
	r.wsClientsGauge.Set(float64(n))
}

// RecordGoroutineCount records the current number of goroutines
func (r *Recorder) RecordGoroutineCount() {
	r.goroutineCountGauge.Set(float64(runtime.NumGoroutine()))
}
