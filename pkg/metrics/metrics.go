// Package metrics exposes Prometheus metrics for router provisioning.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all router daemon metrics.
type Registry struct {
	reg *prometheus.Registry

	// Orchestrator metrics
	Operations   *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	StepResults  *prometheus.CounterVec
	Compensation *prometheus.CounterVec
	LockWaits    prometheus.Histogram

	// API metrics
	APIRequests *prometheus.CounterVec
	AuthFailure prometheus.Counter
}

// New creates a registry with process and Go collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	r := &Registry{reg: reg}

	r.Operations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ovs_router_operations_total",
		Help: "Router create/delete operations by result",
	}, []string{"operation", "result"})

	r.StepDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ovs_router_step_duration_seconds",
		Help:    "Duration of each provisioning step",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})

	r.StepResults = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ovs_router_step_results_total",
		Help: "Provisioning step outcomes (changed, unchanged, failed)",
	}, []string{"step", "result"})

	r.Compensation = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ovs_router_compensations_total",
		Help: "Resources torn down after a failed create",
	}, []string{"step", "result"})

	r.LockWaits = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "ovs_router_lock_wait_seconds",
		Help:    "Time spent waiting for the per-router lock",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	r.APIRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "ovs_router_api_requests_total",
		Help: "HTTP API requests by route and status code",
	}, []string{"route", "code"})

	r.AuthFailure = factory.NewCounter(prometheus.CounterOpts{
		Name: "ovs_router_api_auth_failures_total",
		Help: "Rejected API requests with missing or invalid credentials",
	})

	return r
}

// Gatherer returns the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
