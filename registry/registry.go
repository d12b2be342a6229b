// Package registry holds provider definitions and their mutable runtime
// state: availability, rate-limit cooldowns, and failure counters.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/CraigThomasParsons/mason/domain"
)

// DefaultCooldown is the registry's default cooldown when New is given a
// non-positive one. The registry default is what MarkRateLimited (with a
// zero cooldown) and MarkFailure(isRateLimit=true) apply.
const DefaultCooldown = 5 * time.Minute

// Registry tracks provider definitions loaded once at construction and
// their per-provider runtime state. All lookups by unknown name are
// no-ops, matching the upstream QAQueue-authoritative design: Mason never
// treats a bad provider name as a fatal error.
//
// Registry is safe for concurrent use: the execution loop is
// single-threaded, but masond's cooldown-gauge ticker and its
// `/admin/reset-cooldowns` handler read and reset state concurrently
// with it.
type Registry struct {
	mu              sync.RWMutex
	defaultCooldown time.Duration
	definitions     map[string]domain.ProviderDefinition
	states          map[string]*domain.ProviderState
	order           []string // definition names in load order, for stable sort fallback
}

// New builds a Registry from the providers document's definitions. Each
// definition starts with an available, cooldown-free, zero-failure
// state.
func New(defs []domain.ProviderDefinition, defaultCooldown time.Duration) *Registry {
	if defaultCooldown <= 0 {
		defaultCooldown = DefaultCooldown
	}
	r := &Registry{
		defaultCooldown: defaultCooldown,
		definitions:     make(map[string]domain.ProviderDefinition, len(defs)),
		states:          make(map[string]*domain.ProviderState, len(defs)),
	}
	for _, d := range defs {
		r.definitions[d.Name] = d
		r.states[d.Name] = &domain.ProviderState{Available: true}
		r.order = append(r.order, d.Name)
	}
	return r
}

// Definition returns the named provider's static definition, if any.
func (r *Registry) Definition(name string) (domain.ProviderDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.definitions[name]
	return d, ok
}

// State returns a copy of the named provider's runtime state, if any.
func (r *Registry) State(name string) (domain.ProviderState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[name]
	if !ok {
		return domain.ProviderState{}, false
	}
	return *s, true
}

// EnabledProviders returns enabled definitions sorted by ascending
// priority, ties broken by load order.
func (r *Registry) EnabledProviders() []domain.ProviderDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ProviderDefinition, 0, len(r.order))
	for _, name := range r.order {
		if d := r.definitions[name]; d.Enabled {
			out = append(out, d)
		}
	}
	sortByPriority(out)
	return out
}

// AvailableProviders returns enabled providers whose state is available
// and not on an active rate-limit cooldown, sorted by ascending
// priority.
func (r *Registry) AvailableProviders() []domain.ProviderDefinition {
	return r.availableProvidersAt(time.Now())
}

func (r *Registry) availableProvidersAt(now time.Time) []domain.ProviderDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ProviderDefinition, 0, len(r.order))
	for _, name := range r.order {
		d := r.definitions[name]
		if !d.Enabled {
			continue
		}
		s := r.states[name]
		if s == nil || !s.Available || s.IsRateLimited(now) {
			continue
		}
		out = append(out, d)
	}
	sortByPriority(out)
	return out
}

// LocalProviders returns AvailableProviders filtered to Type == local.
func (r *Registry) LocalProviders() []domain.ProviderDefinition {
	available := r.AvailableProviders()
	out := make([]domain.ProviderDefinition, 0, len(available))
	for _, d := range available {
		if d.Type == domain.ProviderTypeLocal {
			out = append(out, d)
		}
	}
	return out
}

// MarkRateLimited sets the provider's cooldown to now+cooldown (or the
// registry default when cooldown is zero) and increments its
// consecutive-failure count. Unknown names are no-ops.
func (r *Registry) MarkRateLimited(name string, cooldown time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[name]
	if !ok {
		return
	}
	if cooldown <= 0 {
		cooldown = r.defaultCooldown
	}
	until := time.Now().Add(cooldown)
	s.RateLimitedUntil = &until
	s.ConsecutiveFailures++
}

// MarkSuccess records a successful run: clears the cooldown and resets
// the consecutive-failure count. Unknown names are no-ops.
func (r *Registry) MarkSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[name]
	if !ok {
		return
	}
	now := time.Now()
	s.LastSuccess = &now
	s.ConsecutiveFailures = 0
	s.RateLimitedUntil = nil
}

// MarkFailure records a failed run, incrementing the consecutive-failure
// count. If isRateLimit is true it additionally applies the default
// cooldown. Unknown names are no-ops.
func (r *Registry) MarkFailure(name string, isRateLimit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[name]
	if !ok {
		return
	}
	now := time.Now()
	s.LastFailure = &now
	s.ConsecutiveFailures++
	if isRateLimit {
		until := now.Add(r.defaultCooldown)
		s.RateLimitedUntil = &until
	}
}

// ResetCooldowns clears the cooldown and failure counter on every
// tracked provider. This is an operational override, not part of the
// normal selection flow.
func (r *Registry) ResetCooldowns() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		s.RateLimitedUntil = nil
		s.ConsecutiveFailures = 0
	}
}

func sortByPriority(defs []domain.ProviderDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].Priority < defs[j].Priority
	})
}
