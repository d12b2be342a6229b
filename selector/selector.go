// Package selector scores and ranks eligible providers for one
// dispatch attempt, combining registry availability, historical success
// statistics, system load, and per-attempt exclusion of previously
// tried providers.
package selector

import (
	"context"

	"github.com/CraigThomasParsons/mason/domain"
	"github.com/CraigThomasParsons/mason/internal/logging"
)

// ProviderRegistry is the subset of registry.Registry the selector
// depends on. Modeled as an injected interface so the selector never
// owns the registry's lifetime.
type ProviderRegistry interface {
	AvailableProviders() []domain.ProviderDefinition
	LocalProviders() []domain.ProviderDefinition
	MarkSuccess(name string)
	MarkFailure(name string, isRateLimit bool)
}

// LoadAndStatsSource is the subset of the QAQueue client the selector
// depends on: current system load and per-provider historical stats.
// Modeled as an injected interface for the same reason as ProviderRegistry.
type LoadAndStatsSource interface {
	IsHighLoad(ctx context.Context, threshold int) (bool, error)
	ProviderStats(ctx context.Context) (map[string]domain.ProviderStats, error)
}

// neutralSuccessRate is used for providers with no recorded runs yet.
const neutralSuccessRate = 0.5

// Selector implements the scoring/ranking algorithm. It is stateless
// apart from a short-lived statistics cache that is refreshed
// best-effort on every Select call; on refresh failure the previous
// cache (possibly empty) is retained.
type Selector struct {
	registry          ProviderRegistry
	qa                LoadAndStatsSource
	highLoadThreshold int
	logger            logging.Logger

	cachedStats map[string]domain.ProviderStats
}

// New builds a Selector. logger may be nil (a no-op logger is used).
func New(registry ProviderRegistry, qa LoadAndStatsSource, highLoadThreshold int, logger logging.Logger) *Selector {
	if logger == nil {
		logger = logging.NoOp()
	}
	return &Selector{
		registry:          registry,
		qa:                qa,
		highLoadThreshold: highLoadThreshold,
		logger:            logger,
	}
}

// Select returns the best provider for ctx's current attempt, or
// (domain.ProviderDefinition{}, false) if none is eligible.
func (s *Selector) Select(ctx context.Context, sel domain.SelectionContext) (domain.ProviderDefinition, bool) {
	available := s.registry.AvailableProviders()

	candidates := excludeTried(available, sel.ProvidersTried)
	if len(candidates) == 0 {
		// Every provider has already been tried for this task; allow
		// reuse of the best scorer rather than giving up.
		candidates = available
	}
	if len(candidates) == 0 {
		s.logger.Error("no_provider_available", map[string]interface{}{"task_id": sel.TaskID})
		return domain.ProviderDefinition{}, false
	}

	if s.qa != nil {
		if highLoad, err := s.qa.IsHighLoad(ctx, s.highLoadThreshold); err == nil && highLoad {
			if local := s.registry.LocalProviders(); len(local) > 0 {
				if restricted := intersect(candidates, local); len(restricted) > 0 {
					s.logger.Info("high_load_local_preferred", map[string]interface{}{"task_id": sel.TaskID})
					candidates = restricted
				}
			}
		}
	}

	s.refreshStats(ctx)

	best, bestScore := candidates[0], s.score(candidates[0])
	for _, p := range candidates[1:] {
		if sc := s.score(p); sc > bestScore {
			best, bestScore = p, sc
		}
	}

	s.logger.Info("provider_selected", map[string]interface{}{
		"task_id":    sel.TaskID,
		"provider":   best.Name,
		"score":      bestScore,
		"candidates": len(candidates),
	})
	return best, true
}

// ReportResult forwards the outcome of one provider invocation to the
// registry.
func (s *Selector) ReportResult(name string, success bool, isRateLimit bool) {
	if success {
		s.registry.MarkSuccess(name)
		return
	}
	s.registry.MarkFailure(name, isRateLimit)
}

func (s *Selector) score(p domain.ProviderDefinition) float64 {
	successRate := neutralSuccessRate
	if stats, ok := s.cachedStats[p.Name]; ok && stats.TotalRuns > 0 {
		successRate = stats.SuccessRate
	}
	return (1.0 / float64(p.Priority)) * successRate * p.ConfidenceWeight
}

func (s *Selector) refreshStats(ctx context.Context) {
	if s.qa == nil {
		return
	}
	stats, err := s.qa.ProviderStats(ctx)
	if err != nil {
		s.logger.Warn("stats_refresh_failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s.cachedStats = stats
}

func excludeTried(providers []domain.ProviderDefinition, tried []string) []domain.ProviderDefinition {
	if len(tried) == 0 {
		return providers
	}
	triedSet := make(map[string]struct{}, len(tried))
	for _, t := range tried {
		triedSet[t] = struct{}{}
	}
	out := make([]domain.ProviderDefinition, 0, len(providers))
	for _, p := range providers {
		if _, excluded := triedSet[p.Name]; !excluded {
			out = append(out, p)
		}
	}
	return out
}

func intersect(a, b []domain.ProviderDefinition) []domain.ProviderDefinition {
	bSet := make(map[string]struct{}, len(b))
	for _, p := range b {
		bSet[p.Name] = struct{}{}
	}
	out := make([]domain.ProviderDefinition, 0, len(a))
	for _, p := range a {
		if _, ok := bSet[p.Name]; ok {
			out = append(out, p)
		}
	}
	return out
}
