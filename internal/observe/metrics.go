// Package observe provides application-wide observability primitives for
// MotiveProxy: OpenTelemetry metrics, request tracing, structured logging,
// and the HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so metrics can be scraped
// from the standard /metrics endpoint. Tests should use [NewMetrics] with a
// custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all proxy metrics.
const meterName = "github.com/motiveproxy/motiveproxy"

// Metrics holds all OpenTelemetry metric instruments for the proxy. All
// fields are safe for concurrent use; the OTel types handle their own
// synchronisation.
type Metrics struct {
	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram

	// ExchangeDuration tracks how long a request was suspended inside the
	// rendezvous. Use with attribute.String("phase", "handshake"|"turn").
	ExchangeDuration metric.Float64Histogram

	// Requests counts completed HTTP requests. Use with attributes:
	//   attribute.String("path", ...), attribute.Int("status", ...)
	Requests metric.Int64Counter

	// Errors counts taxonomy errors returned to clients. Use with
	// attribute.String("kind", ...).
	Errors metric.Int64Counter

	// SessionsCreated counts sessions created by the manager.
	SessionsCreated metric.Int64Counter

	// SessionsClosed counts sessions closed, by reason. Use with
	// attribute.String("reason", ...).
	SessionsClosed metric.Int64Counter

	// ActiveSessions tracks the number of live sessions in the directory.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Turns
// routinely wait tens of seconds for a human peer, so the upper buckets
// stretch well past typical HTTP latencies.
var latencyBuckets = []float64{
	0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.HTTPRequestDuration, err = m.Float64Histogram("motiveproxy.http.duration",
		metric.WithDescription("Latency of HTTP request handling."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExchangeDuration, err = m.Float64Histogram("motiveproxy.exchange.duration",
		metric.WithDescription("Time a request spent suspended in the rendezvous."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Requests, err = m.Int64Counter("motiveproxy.http.requests",
		metric.WithDescription("Completed HTTP requests."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("motiveproxy.errors",
		metric.WithDescription("Taxonomy errors returned to clients."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCreated, err = m.Int64Counter("motiveproxy.sessions.created",
		metric.WithDescription("Sessions created by the manager."),
	); err != nil {
		return nil, err
	}
	if met.SessionsClosed, err = m.Int64Counter("motiveproxy.sessions.closed",
		metric.WithDescription("Sessions closed, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("motiveproxy.sessions.active",
		metric.WithDescription("Live sessions in the directory."),
	); err != nil {
		return nil, err
	}
	return met, nil
}
