package domain

import "time"

// ProviderType distinguishes how an adapter reaches its backend.
type ProviderType string

const (
	ProviderTypeAPI   ProviderType = "api"
	ProviderTypeCLI   ProviderType = "cli"
	ProviderTypeLocal ProviderType = "local"
)

// ProviderDefinition is the static, config-loaded description of one
// provider. It is loaded once from the providers document and never
// mutated.
type ProviderDefinition struct {
	Name              string
	Priority          int
	Type              ProviderType
	Adapter           string
	RateLimitStrategy string
	ConfidenceWeight  float64
	Enabled           bool
	Config            map[string]any
}

// ProviderState is the mutable runtime state tracked for one provider
// definition. Only the registry's report-result path mutates it.
type ProviderState struct {
	Available           bool
	RateLimitedUntil    *time.Time
	ConsecutiveFailures int
	LastSuccess         *time.Time
	LastFailure         *time.Time
}

// IsRateLimited reports whether the state's cooldown is still in effect
// relative to now.
func (s ProviderState) IsRateLimited(now time.Time) bool {
	return s.RateLimitedUntil != nil && s.RateLimitedUntil.After(now)
}
