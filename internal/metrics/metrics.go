package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	RecordWrites        *prometheus.CounterVec
	ProjectionWrites    *prometheus.CounterVec
	PartialSyncFailures prometheus.Counter
	RoleResolutions     *prometheus.CounterVec
	RoleChanges         prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
	EndpointLatency     *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RecordWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flatkeeper_record_writes_total",
			Help: "Private record mutations, labeled by collection and operation",
		}, []string{"collection", "op"}),
		ProjectionWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flatkeeper_projection_writes_total",
			Help: "Public tenant projection writes, labeled by operation and outcome",
		}, []string{"op", "outcome"}),
		PartialSyncFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "flatkeeper_partial_sync_failures_total",
			Help: "Tenant writes whose private record committed but projection write failed",
		}),
		RoleResolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flatkeeper_role_resolutions_total",
			Help: "Role lookups, labeled by whether a default profile was created",
		}, []string{"result"}),
		RoleChanges: f.NewCounter(prometheus.CounterOpts{
			Name: "flatkeeper_role_changes_total",
			Help: "Roles assigned by a Super Admin",
		}),
		ActiveSubscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "flatkeeper_active_subscriptions",
			Help: "Live snapshot subscriptions opened through repositories and views",
		}),
		EndpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flatkeeper_endpoint_latency_seconds",
			Help:    "Latency of HTTP endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func (m *Metrics) IncRecordWrite(collection, op string) {
	if m == nil {
		return
	}
	m.RecordWrites.WithLabelValues(collection, op).Inc()
}

// IncProjectionWrite counts a projection write; outcome is "ok", "failed"
// or "skipped".
func (m *Metrics) IncProjectionWrite(op, outcome string) {
	if m == nil {
		return
	}
	m.ProjectionWrites.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) IncPartialSyncFailure() {
	if m == nil {
		return
	}
	m.PartialSyncFailures.Inc()
}

func (m *Metrics) IncRoleResolution(result string) {
	if m == nil {
		return
	}
	m.RoleResolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRoleChange() {
	if m == nil {
		return
	}
	m.RoleChanges.Inc()
}

// TrackSubscription bumps the live subscription gauge and returns the
// matching release func.
func (m *Metrics) TrackSubscription() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveSubscriptions.Inc()
	return m.ActiveSubscriptions.Dec
}

func (m *Metrics) ObserveEndpointLatency(route, method string, seconds float64) {
	if m == nil {
		return
	}
	m.EndpointLatency.WithLabelValues(route, method).Observe(seconds)
}
