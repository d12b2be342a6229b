// Package metrics exposes Prometheus counters and gauges for task and
// provider outcomes, served over /metrics via promhttp. This is a
// different corner of prometheus/client_golang than the query-side
// client the example corpus uses elsewhere (api/prometheus/v1): here
// Mason is the instrumented process, not a Prometheus API consumer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters/gauges the engine and registry update.
type Registry struct {
	TasksTotal            *prometheus.CounterVec
	ProviderAttemptsTotal *prometheus.CounterVec
	ProviderFailuresTotal *prometheus.CounterVec
	TasksExhaustedTotal   prometheus.Counter
	ProvidersOnCooldown   prometheus.Gauge
}

// New registers and returns the Mason metric set against reg. Pass
// prometheus.NewRegistry() for test isolation, or nil to use the global
// default registerer.
func New(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Registry{
		TasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mason_tasks_total",
			Help: "Total TaskPackets dispatched, labeled by terminal outcome.",
		}, []string{"outcome"}),
		ProviderAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mason_provider_attempts_total",
			Help: "Total provider invocations attempted, labeled by provider.",
		}, []string{"provider"}),
		ProviderFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mason_provider_failures_total",
			Help: "Total provider invocation failures, labeled by provider and kind.",
		}, []string{"provider", "kind"}),
		TasksExhaustedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mason_tasks_exhausted_total",
			Help: "Total tasks that exhausted all attempts without succeeding.",
		}),
		ProvidersOnCooldown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mason_providers_on_cooldown",
			Help: "Number of providers currently rate-limited/cooling down.",
		}),
	}
}

// RecordOutcome increments TasksTotal for a task's terminal outcome
// ("success" or "exhausted").
func (r *Registry) RecordOutcome(outcome string) {
	r.TasksTotal.WithLabelValues(outcome).Inc()
}

// RecordAttempt increments ProviderAttemptsTotal for one provider
// invocation.
func (r *Registry) RecordAttempt(provider string) {
	r.ProviderAttemptsTotal.WithLabelValues(provider).Inc()
}

// RecordFailure increments ProviderFailuresTotal for one provider,
// labeled by failure kind ("rate_limit" or "task_failure").
func (r *Registry) RecordFailure(provider, kind string) {
	r.ProviderFailuresTotal.WithLabelValues(provider, kind).Inc()
}

// RecordExhausted increments TasksExhaustedTotal.
func (r *Registry) RecordExhausted() {
	r.TasksExhaustedTotal.Inc()
}

// SetProvidersOnCooldown sets the current count of rate-limited
// providers.
func (r *Registry) SetProvidersOnCooldown(n int) {
	r.ProvidersOnCooldown.Set(float64(n))
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
