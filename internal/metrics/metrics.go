package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sync engine collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	polls           *prometheus.CounterVec
	restarts        prometheus.Counter
	pagesFolded     prometheus.Counter
	tokensLoaded    prometheus.Gauge
	staleDropped    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestErrors   *prometheus.CounterVec
	jobFailures     *prometheus.CounterVec
	events          *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		polls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "walletscan_polls_total",
			Help: "Status polls applied, by result",
		}, []string{"result"}),
		restarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletscan_restarts_total",
			Help: "Restarts issued for stalled jobs",
		}),
		pagesFolded: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletscan_pages_folded_total",
			Help: "Result pages folded into the accumulated set",
		}),
		tokensLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletscan_tokens_loaded",
			Help: "Distinct tokens accumulated for the tracked wallet",
		}),
		staleDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "walletscan_stale_responses_total",
			Help: "Responses dropped because a newer request or key superseded them",
		}, []string{"source"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "walletscan_request_duration_seconds",
			Help:    "Remote API latency by operation",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		requestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "walletscan_request_errors_total",
			Help: "Remote API errors by operation and kind",
		}, []string{"operation", "kind"}),
		jobFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "walletscan_job_request_failures_total",
			Help: "Failed job requests applied by the sync loop, by lifecycle kind and error kind",
		}, []string{"kind", "error"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "walletscan_lifecycle_events_total",
			Help: "Lifecycle events emitted, by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRestarts() {
	if m == nil {
		return
	}
	m.restarts.Inc()
}

func (m *Metrics) ObserveFold(tokensLoaded int) {
	if m == nil {
		return
	}
	m.pagesFolded.Inc()
	m.tokensLoaded.Set(float64(tokensLoaded))
}

func (m *Metrics) IncStale(source string) {
	if m == nil {
		return
	}
	m.staleDropped.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveRequest(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) IncRequestError(operation, kind string) {
	if m == nil {
		return
	}
	m.requestErrors.WithLabelValues(operation, kind).Inc()
}

// IncJobFailure counts a poll, start, restart or page fetch that failed once the
// sync loop applied it. Wire-level errors are counted by IncRequestError.
func (m *Metrics) IncJobFailure(kind, errKind string) {
	if m == nil {
		return
	}
	m.jobFailures.WithLabelValues(kind, errKind).Inc()
}

func (m *Metrics) IncEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
