// Package engine drives a single task through provider-selection attempts
// with failover, reporting every run to QAQueue and updating provider
// state via the selector.
package engine

import (
	"context"

	"github.com/CraigThomasParsons/mason/domain"
	"github.com/CraigThomasParsons/mason/internal/logging"
)

// Selector is the subset of selector.Selector the engine depends on.
type Selector interface {
	Select(ctx context.Context, sel domain.SelectionContext) (domain.ProviderDefinition, bool)
	ReportResult(name string, success bool, isRateLimit bool)
}

// Adapter is the provider contract: one implementation per backend type
// (cli, local, api). Generate never panics out of internal errors; it
// reports them through ArtifactBundle instead.
type Adapter interface {
	Generate(ctx context.Context, packet domain.TaskPacket) domain.ArtifactBundle
	IsAvailable(ctx context.Context) bool
	DetectRateLimit(err error) bool
}

// RunReporter is the subset of qaqueue.Client the engine depends on to
// bracket one provider invocation.
type RunReporter interface {
	StartRun(ctx context.Context, taskID, providerName string, confidenceWeight float64) (runID string, err error)
	CompleteRun(ctx context.Context, taskID, runID string, bundle domain.ArtifactBundle) error
}

// Tracer wraps one traced span. Implementations must be nil-safe; a nil
// Tracer means tracing is disabled.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, func())
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	return ctx, func() {}
}

// Metrics is the subset of internal/metrics.Registry the engine reports
// attempt and outcome counters to. Implementations must be nil-safe; a
// nil Metrics means counters are disabled.
type Metrics interface {
	RecordOutcome(outcome string)
	RecordAttempt(provider string)
	RecordFailure(provider, kind string)
	RecordExhausted()
}

type noopMetrics struct{}

func (noopMetrics) RecordOutcome(string)         {}
func (noopMetrics) RecordAttempt(string)         {}
func (noopMetrics) RecordFailure(string, string) {}
func (noopMetrics) RecordExhausted()             {}

// Engine drives one SelectionContext through attempts with provider
// failover until success, exhaustion, or inability to obtain a provider.
type Engine struct {
	selector Selector
	adapters map[string]Adapter
	qa       RunReporter
	tracer   Tracer
	metrics  Metrics
	logger   logging.Logger
}

// New builds an Engine. adapters maps provider name to its initialized
// Adapter; tracer, metrics, and logger may be nil (no-op defaults are
// used).
func New(sel Selector, adapters map[string]Adapter, qa RunReporter, tracer Tracer, metrics Metrics, logger logging.Logger) *Engine {
	if tracer == nil {
		tracer = noopTracer{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = logging.NoOp()
	}
	return &Engine{selector: sel, adapters: adapters, qa: qa, tracer: tracer, metrics: metrics, logger: logger}
}

// Execute drives ctx to completion, mutating it in place as attempts and
// providers_tried accumulate. packet is nil for retry-queue tasks whose
// original TaskPacket could not be recovered; such tasks are logged as
// no_task_packet_for_retry once a provider is selected, and not run.
func (e *Engine) Execute(ctx context.Context, sel *domain.SelectionContext, packet *domain.TaskPacket) {
	for sel.Attempt < sel.MaxAttempts {
		provider, ok := e.selector.Select(ctx, *sel)
		if !ok {
			e.logger.Error("no_provider_available", map[string]interface{}{"task_id": sel.TaskID})
			break
		}

		adapter, ok := e.adapters[provider.Name]
		if !ok {
			e.logger.Error("provider_not_initialized", map[string]interface{}{"provider": provider.Name})
			sel.MarkTried(provider.Name)
			continue
		}

		if packet == nil {
			e.logger.Warn("no_task_packet_for_retry", map[string]interface{}{"task_id": sel.TaskID})
			break
		}

		runID, err := e.qa.StartRun(ctx, sel.TaskID, provider.Name, provider.ConfidenceWeight)
		if err != nil {
			e.logger.Error("start_run_failed", map[string]interface{}{"error": err.Error()})
			break
		}

		e.logger.Info("executing_task", map[string]interface{}{
			"task_id":  sel.TaskID,
			"provider": provider.Name,
			"attempt":  sel.Attempt,
		})

		spanCtx, end := e.tracer.StartSpan(ctx, "mason.engine.attempt")
		bundle := adapter.Generate(spanCtx, *packet)
		end()
		e.metrics.RecordAttempt(provider.Name)

		if err := e.qa.CompleteRun(ctx, sel.TaskID, runID, bundle); err != nil {
			e.logger.Error("complete_run_failed", map[string]interface{}{"error": err.Error()})
		}

		switch bundle.ExecutionStatus {
		case domain.StatusSuccess:
			e.selector.ReportResult(provider.Name, true, false)
			e.metrics.RecordOutcome("success")
			e.logger.Info("task_succeeded", map[string]interface{}{
				"task_id":  sel.TaskID,
				"provider": provider.Name,
			})
			return

		case domain.StatusProviderFailure:
			e.selector.ReportResult(provider.Name, false, bundle.IsRateLimit)
			sel.MarkTried(provider.Name)
			kind := "provider_failure"
			if bundle.IsRateLimit {
				kind = "rate_limit"
			}
			e.metrics.RecordFailure(provider.Name, kind)
			e.logger.Warn("provider_failure_failover", map[string]interface{}{
				"task_id":       sel.TaskID,
				"provider":      provider.Name,
				"is_rate_limit": bundle.IsRateLimit,
			})
			// No attempt consumed; try the next provider.

		default:
			e.selector.ReportResult(provider.Name, false, false)
			sel.MarkTried(provider.Name)
			sel.Attempt++
			e.metrics.RecordFailure(provider.Name, "task_failure")
			e.logger.Warn("task_failed", map[string]interface{}{
				"task_id":  sel.TaskID,
				"provider": provider.Name,
				"attempt":  sel.Attempt,
			})
		}
	}

	e.metrics.RecordOutcome("exhausted")
	e.metrics.RecordExhausted()
	e.logger.Error("task_exhausted", map[string]interface{}{
		"task_id":         sel.TaskID,
		"attempts":        sel.Attempt,
		"providers_tried": sel.ProvidersTried,
	})
}
