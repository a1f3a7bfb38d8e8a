// Package metrics exposes Prometheus collectors for ledger operations,
// published events and the HTTP surface.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	xerrors "RiftBeacon/internal/errors"
	"RiftBeacon/internal/events"
)

const namespace = "riftbeacon"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	events          *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpLatency     *prometheus.HistogramVec
	indexerFailures prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome code.",
		}, []string{"op", "code"}),
		operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Time spent executing ledger operations.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Committed protocol events by kind.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"handler", "method", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"handler", "method"}),
		indexerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "failures_total",
			Help:      "Events the indexer failed to persist.",
		}),
	}
	m.registry.MustRegister(
		m.operations,
		m.operationTime,
		m.events,
		m.httpRequests,
		m.httpLatency,
		m.indexerFailures,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveOperation implements ledger.Observer.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	code := "OK"
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	m.operations.WithLabelValues(op, code).Inc()
	m.operationTime.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveEvent counts a published event.
func (m *Metrics) ObserveEvent(kind string) {
	m.events.WithLabelValues(kind).Inc()
}

// ObserveIndexerFailure matches events.WithFailureHook.
func (m *Metrics) ObserveIndexerFailure(events.Event, error) {
	m.indexerFailures.Inc()
}

// EventCounter returns a publisher that only counts events, for use with
// ledger.WithPublisher.
func (m *Metrics) EventCounter() events.Publisher {
	return eventCounter{m: m}
}

type eventCounter struct{ m *Metrics }

func (c eventCounter) Publish(_ context.Context, evt events.Event) error {
	c.m.ObserveEvent(string(evt.Kind))
	return nil
}

func (eventCounter) Close() error { return nil }

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
