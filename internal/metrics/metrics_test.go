package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersAllSeriesAgainstProvidedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TasksTotal.WithLabelValues("success").Inc()
	m.ProviderAttemptsTotal.WithLabelValues("claude_cli").Inc()
	m.ProviderFailuresTotal.WithLabelValues("claude_cli", "rate_limit").Inc()
	m.TasksExhaustedTotal.Inc()
	m.ProvidersOnCooldown.Set(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		names[f.GetName()] = f
	}

	assert.Contains(t, names, "mason_tasks_total")
	assert.Contains(t, names, "mason_provider_attempts_total")
	assert.Contains(t, names, "mason_provider_failures_total")
	assert.Contains(t, names, "mason_tasks_exhausted_total")
	assert.Contains(t, names, "mason_providers_on_cooldown")
	assert.Equal(t, float64(2), names["mason_providers_on_cooldown"].GetMetric()[0].GetGauge().GetValue())
}

func TestHandler_ReturnsNonNilHandler(t *testing.T) {
	assert.NotNil(t, Handler())
}

func TestRecorderMethods_UpdateUnderlyingSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordOutcome("success")
	m.RecordAttempt("claude_cli")
	m.RecordFailure("claude_cli", "rate_limit")
	m.RecordExhausted()
	m.SetProvidersOnCooldown(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		names[f.GetName()] = f
	}

	require.Contains(t, names, "mason_tasks_total")
	assert.Equal(t, float64(1), names["mason_tasks_total"].GetMetric()[0].GetCounter().GetValue())
	require.Contains(t, names, "mason_provider_attempts_total")
	assert.Equal(t, float64(1), names["mason_provider_attempts_total"].GetMetric()[0].GetCounter().GetValue())
	require.Contains(t, names, "mason_provider_failures_total")
	assert.Equal(t, float64(1), names["mason_provider_failures_total"].GetMetric()[0].GetCounter().GetValue())
	require.Contains(t, names, "mason_tasks_exhausted_total")
	assert.Equal(t, float64(1), names["mason_tasks_exhausted_total"].GetMetric()[0].GetCounter().GetValue())
	require.Contains(t, names, "mason_providers_on_cooldown")
	assert.Equal(t, float64(3), names["mason_providers_on_cooldown"].GetMetric()[0].GetGauge().GetValue())
}
