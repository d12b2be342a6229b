package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CraigThomasParsons/mason/domain"
)

func defs() []domain.ProviderDefinition {
	return []domain.ProviderDefinition{
		{Name: "claude_cli", Priority: 1, Type: domain.ProviderTypeCLI, Enabled: true, ConfidenceWeight: 1.0},
		{Name: "goose", Priority: 2, Type: domain.ProviderTypeCLI, Enabled: true, ConfidenceWeight: 0.8},
		{Name: "ollama", Priority: 3, Type: domain.ProviderTypeLocal, Enabled: true, ConfidenceWeight: 0.6},
		{Name: "disabled_one", Priority: 0, Type: domain.ProviderTypeAPI, Enabled: false, ConfidenceWeight: 1.0},
	}
}

func TestEnabledProviders_SortedByPriorityExcludesDisabled(t *testing.T) {
	r := New(defs(), time.Minute)
	got := r.EnabledProviders()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"claude_cli", "goose", "ollama"}, names(got))
}

func TestAvailableProviders_ExcludesRateLimited(t *testing.T) {
	r := New(defs(), time.Minute)
	r.MarkRateLimited("claude_cli", time.Minute)

	got := r.AvailableProviders()

	assert.Equal(t, []string{"goose", "ollama"}, names(got))
}

func TestMarkSuccess_ClearsCooldownAndResetsFailures(t *testing.T) {
	r := New(defs(), time.Minute)
	r.MarkRateLimited("claude_cli", time.Minute)
	r.MarkFailure("claude_cli", false)

	r.MarkSuccess("claude_cli")

	state, ok := r.State("claude_cli")
	require.True(t, ok)
	assert.Nil(t, state.RateLimitedUntil)
	assert.Equal(t, 0, state.ConsecutiveFailures)
	assert.NotNil(t, state.LastSuccess)
}

func TestMarkFailure_RateLimitAppliesCooldown(t *testing.T) {
	r := New(defs(), time.Minute)

	r.MarkFailure("claude_cli", true)

	state, ok := r.State("claude_cli")
	require.True(t, ok)
	assert.Equal(t, 1, state.ConsecutiveFailures)
	require.NotNil(t, state.RateLimitedUntil)
	assert.True(t, state.RateLimitedUntil.After(time.Now()))
}

func TestLocalProviders_FiltersToLocalType(t *testing.T) {
	r := New(defs(), time.Minute)
	got := r.LocalProviders()
	require.Len(t, got, 1)
	assert.Equal(t, "ollama", got[0].Name)
}

func TestResetCooldowns_ClearsAllState(t *testing.T) {
	r := New(defs(), time.Minute)
	r.MarkRateLimited("claude_cli", time.Minute)
	r.MarkFailure("goose", true)

	r.ResetCooldowns()

	for _, name := range []string{"claude_cli", "goose"} {
		state, ok := r.State(name)
		require.True(t, ok)
		assert.Nil(t, state.RateLimitedUntil)
		assert.Equal(t, 0, state.ConsecutiveFailures)
	}
}

func TestUnknownProviderName_IsNoOp(t *testing.T) {
	r := New(defs(), time.Minute)

	assert.NotPanics(t, func() {
		r.MarkRateLimited("nope", time.Minute)
		r.MarkSuccess("nope")
		r.MarkFailure("nope", true)
	})
	_, ok := r.State("nope")
	assert.False(t, ok)
}

func TestProviderStateMonotonicity_LastCallDeterminesRecency(t *testing.T) {
	r := New(defs(), time.Minute)

	r.MarkSuccess("claude_cli")
	time.Sleep(time.Millisecond)
	r.MarkFailure("claude_cli", false)

	state, _ := r.State("claude_cli")
	require.NotNil(t, state.LastSuccess)
	require.NotNil(t, state.LastFailure)
	assert.True(t, state.LastFailure.After(*state.LastSuccess))
}

func names(defs []domain.ProviderDefinition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}
