package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Namespace = "themelio"

	// Common label names
	GroupLabel     = "group"
	PluralLabel    = "plural"
	OperationLabel = "operation"
	ResultLabel    = "result"
	TypeLabel      = "type"
	MethodLabel    = "method"
	RouteLabel     = "route"
	StatusLabel    = "status"
)

// Metrics owns a registry so tests and binaries do not share global state
type Metrics struct {
	registry *prometheus.Registry

	watchEvents       *prometheus.CounterVec
	activeWatches     prometheus.Gauge
	admissionReviews  *prometheus.CounterVec
	conversions       *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	resourceOperation *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		watchEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "watch_events_total",
				Help:      "Total number of watch events delivered, by event type",
			},
			[]string{GroupLabel, PluralLabel, TypeLabel},
		),
		activeWatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_watches",
				Help:      "Number of open watch streams and monitors",
			},
		),
		admissionReviews: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "admission_reviews_total",
				Help:      "Total number of admission reviews, by operation and decision",
			},
			[]string{OperationLabel, ResultLabel},
		),
		conversions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "conversions_total",
				Help:      "Total number of resource conversions, by result",
			},
			[]string{GroupLabel, PluralLabel, ResultLabel},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{MethodLabel, RouteLabel, StatusLabel},
		),
		resourceOperation: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "resource_operations_total",
				Help:      "Total number of resource operations, by operation and result",
			},
			[]string{GroupLabel, PluralLabel, OperationLabel, ResultLabel},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.watchEvents,
		m.activeWatches,
		m.admissionReviews,
		m.conversions,
		m.requestDuration,
		m.resourceOperation,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordWatchEvent(group, plural, eventType string) {
	m.watchEvents.WithLabelValues(group, plural, eventType).Inc()
}

func (m *Metrics) WatchOpened() {
	m.activeWatches.Inc()
}

func (m *Metrics) WatchClosed() {
	m.activeWatches.Dec()
}

func (m *Metrics) RecordAdmission(operation string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.admissionReviews.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) RecordConversion(group, plural string, err error) {
	m.conversions.WithLabelValues(group, plural, resultOf(err)).Inc()
}

func (m *Metrics) RecordResourceOperation(group, plural, operation string, err error) {
	m.resourceOperation.WithLabelValues(group, plural, operation, resultOf(err)).Inc()
}

func (m *Metrics) ObserveRequest(method, route, status string, duration time.Duration) {
	m.requestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
