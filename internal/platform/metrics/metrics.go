package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the CDN simulator.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	manifestsServedTotal *prometheus.CounterVec
	segmentsServedTotal  *prometheus.CounterVec
	segmentBytesTotal    prometheus.Counter
	analyticsEventsTotal prometheus.Counter
	authFailuresTotal    prometheus.Counter
	activeSessions       prometheus.Gauge
	qoeScore             prometheus.Histogram
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdnsim_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdnsim_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		manifestsServedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdnsim_manifests_served_total",
			Help: "Playlists served, by kind (master, variant)",
		}, []string{"kind"}),
		segmentsServedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdnsim_segments_delivered_total",
			Help: "Synthetic segments delivered, by response type (full, partial)",
		}, []string{"response"}),
		segmentBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdnsim_segment_bytes_total",
			Help: "Segment payload bytes written",
		}),
		analyticsEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdnsim_analytics_events_total",
			Help: "Client analytics events accepted",
		}),
		authFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdnsim_auth_failures_total",
			Help: "Rejected token validations",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cdnsim_sessions",
			Help: "Number of playback sessions known to the store",
		}),
		qoeScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cdnsim_qoe_score",
			Help:    "QoE scores computed on analytics ingest",
			Buckets: []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5},
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.manifestsServedTotal,
		m.segmentsServedTotal,
		m.segmentBytesTotal,
		m.analyticsEventsTotal,
		m.authFailuresTotal,
		m.activeSessions,
		m.qoeScore,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// IncManifest counts a served playlist of the given kind.
func (m *Metrics) IncManifest(kind string) {
	m.manifestsServedTotal.WithLabelValues(kind).Inc()
}

// ObserveSegment counts one segment delivery and its payload size.
func (m *Metrics) ObserveSegment(partial bool, bytes int) {
	label := "full"
	if partial {
		label = "partial"
	}
	m.segmentsServedTotal.WithLabelValues(label).Inc()
	m.segmentBytesTotal.Add(float64(bytes))
}

// AddAnalyticsEvents adds n accepted events.
func (m *Metrics) AddAnalyticsEvents(n int) {
	m.analyticsEventsTotal.Add(float64(n))
}

// IncAuthFailures increments the rejected token counter.
func (m *Metrics) IncAuthFailures() {
	m.authFailuresTotal.Inc()
}

// ObserveQoE records a computed QoE score.
func (m *Metrics) ObserveQoE(score float64) {
	m.qoeScore.Observe(score)
}

// SetActiveSessions sets the sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
