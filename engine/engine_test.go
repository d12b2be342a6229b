package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CraigThomasParsons/mason/domain"
)

type fakeSelector struct {
	queue   []string // provider names to return in order, "" means none available
	reports []report
}

type report struct {
	name        string
	success     bool
	isRateLimit bool
}

func (f *fakeSelector) Select(ctx context.Context, sel domain.SelectionContext) (domain.ProviderDefinition, bool) {
	if len(f.queue) == 0 {
		return domain.ProviderDefinition{}, false
	}
	name := f.queue[0]
	f.queue = f.queue[1:]
	if name == "" {
		return domain.ProviderDefinition{}, false
	}
	return domain.ProviderDefinition{Name: name, ConfidenceWeight: 1.0}, true
}

func (f *fakeSelector) ReportResult(name string, success bool, isRateLimit bool) {
	f.reports = append(f.reports, report{name, success, isRateLimit})
}

type fakeAdapter struct {
	results []domain.ArtifactBundle
	calls   int
}

func (f *fakeAdapter) Generate(ctx context.Context, packet domain.TaskPacket) domain.ArtifactBundle {
	b := f.results[f.calls]
	f.calls++
	return b
}
func (f *fakeAdapter) IsAvailable(ctx context.Context) bool  { return true }
func (f *fakeAdapter) DetectRateLimit(err error) bool { return false }

type fakeQA struct {
	startErr    error
	completeErr error
	starts      []string
	completes   []domain.ArtifactBundle
}

func (f *fakeQA) StartRun(ctx context.Context, taskID, providerName string, confidenceWeight float64) (string, error) {
	f.starts = append(f.starts, providerName)
	if f.startErr != nil {
		return "", f.startErr
	}
	return "run-1", nil
}

func (f *fakeQA) CompleteRun(ctx context.Context, taskID, runID string, bundle domain.ArtifactBundle) error {
	f.completes = append(f.completes, bundle)
	return f.completeErr
}

func basePacket() domain.TaskPacket {
	return domain.TaskPacket{Identity: domain.TaskIdentity{TaskID: "t1"}}
}

func TestExecute_SuccessOnFirstAttemptStops(t *testing.T) {
	sel := &fakeSelector{queue: []string{"A"}}
	adapter := &fakeAdapter{results: []domain.ArtifactBundle{
		{ExecutionStatus: domain.StatusSuccess},
	}}
	qa := &fakeQA{}
	e := New(sel, map[string]Adapter{"A": adapter}, qa, nil, nil, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 3}
	packet := basePacket()

	e.Execute(context.Background(), &ctx, &packet)

	assert.Equal(t, 0, ctx.Attempt, "success should not consume an attempt")
	assert.Len(t, sel.reports, 1)
	assert.True(t, sel.reports[0].success)
	assert.Equal(t, 1, adapter.calls)
}

func TestExecute_ProviderFailureDoesNotConsumeAttemptAndFailsOver(t *testing.T) {
	sel := &fakeSelector{queue: []string{"A", "B"}}
	adapterA := &fakeAdapter{results: []domain.ArtifactBundle{
		{ExecutionStatus: domain.StatusProviderFailure, IsRateLimit: true},
	}}
	adapterB := &fakeAdapter{results: []domain.ArtifactBundle{
		{ExecutionStatus: domain.StatusSuccess},
	}}
	qa := &fakeQA{}
	e := New(sel, map[string]Adapter{"A": adapterA, "B": adapterB}, qa, nil, nil, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 3}
	packet := basePacket()

	e.Execute(context.Background(), &ctx, &packet)

	assert.Equal(t, 0, ctx.Attempt)
	assert.Equal(t, []string{"A"}, ctx.ProvidersTried)
	require.Len(t, sel.reports, 2)
	assert.False(t, sel.reports[0].success)
	assert.True(t, sel.reports[0].isRateLimit)
	assert.True(t, sel.reports[1].success)
}

func TestExecute_FailureConsumesAttemptAndFailsOver(t *testing.T) {
	sel := &fakeSelector{queue: []string{"A", "B"}}
	adapterA := &fakeAdapter{results: []domain.ArtifactBundle{
		{ExecutionStatus: domain.StatusFailure},
	}}
	adapterB := &fakeAdapter{results: []domain.ArtifactBundle{
		{ExecutionStatus: domain.StatusSuccess},
	}}
	qa := &fakeQA{}
	e := New(sel, map[string]Adapter{"A": adapterA, "B": adapterB}, qa, nil, nil, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 3}
	packet := basePacket()

	e.Execute(context.Background(), &ctx, &packet)

	assert.Equal(t, 1, ctx.Attempt)
	assert.Equal(t, []string{"A"}, ctx.ProvidersTried)
}

func TestExecute_ExhaustsAfterMaxAttempts(t *testing.T) {
	sel := &fakeSelector{queue: []string{"A", "A", "A"}}
	adapter := &fakeAdapter{results: []domain.ArtifactBundle{
		{ExecutionStatus: domain.StatusFailure},
		{ExecutionStatus: domain.StatusFailure},
		{ExecutionStatus: domain.StatusFailure},
	}}
	qa := &fakeQA{}
	e := New(sel, map[string]Adapter{"A": adapter}, qa, nil, nil, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 3}
	packet := basePacket()

	e.Execute(context.Background(), &ctx, &packet)

	assert.Equal(t, 3, ctx.Attempt)
	assert.Equal(t, []string{"A", "A", "A"}, ctx.ProvidersTried)
}

func TestExecute_NoProviderAvailableBreaksImmediately(t *testing.T) {
	sel := &fakeSelector{queue: []string{""}}
	qa := &fakeQA{}
	e := New(sel, map[string]Adapter{}, qa, nil, nil, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 3}
	packet := basePacket()

	e.Execute(context.Background(), &ctx, &packet)

	assert.Equal(t, 0, ctx.Attempt)
	assert.Empty(t, ctx.ProvidersTried)
	assert.Empty(t, qa.starts)
}

func TestExecute_UninitializedAdapterSkipsWithoutConsumingAttempt(t *testing.T) {
	sel := &fakeSelector{queue: []string{"missing", "A"}}
	adapter := &fakeAdapter{results: []domain.ArtifactBundle{
		{ExecutionStatus: domain.StatusSuccess},
	}}
	qa := &fakeQA{}
	e := New(sel, map[string]Adapter{"A": adapter}, qa, nil, nil, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 3}
	packet := basePacket()

	e.Execute(context.Background(), &ctx, &packet)

	assert.Equal(t, 0, ctx.Attempt)
	assert.Equal(t, []string{"missing"}, ctx.ProvidersTried)
	assert.Equal(t, 1, adapter.calls)
}

func TestExecute_StartRunFailureBreaksWithoutReporting(t *testing.T) {
	sel := &fakeSelector{queue: []string{"A"}}
	adapter := &fakeAdapter{}
	qa := &fakeQA{startErr: errors.New("qaqueue unreachable")}
	e := New(sel, map[string]Adapter{"A": adapter}, qa, nil, nil, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 3}
	packet := basePacket()

	e.Execute(context.Background(), &ctx, &packet)

	assert.Equal(t, 0, ctx.Attempt)
	assert.Equal(t, 0, adapter.calls)
	assert.Empty(t, sel.reports)
}

func TestExecute_CompleteRunFailureDoesNotAlterControlFlow(t *testing.T) {
	sel := &fakeSelector{queue: []string{"A"}}
	adapter := &fakeAdapter{results: []domain.ArtifactBundle{
		{ExecutionStatus: domain.StatusSuccess},
	}}
	qa := &fakeQA{completeErr: errors.New("qaqueue unreachable")}
	e := New(sel, map[string]Adapter{"A": adapter}, qa, nil, nil, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 3}
	packet := basePacket()

	e.Execute(context.Background(), &ctx, &packet)

	require.Len(t, sel.reports, 1)
	assert.True(t, sel.reports[0].success)
}

func TestExecute_NoPacketLogsAndBreaks(t *testing.T) {
	sel := &fakeSelector{queue: []string{"A"}}
	qa := &fakeQA{}
	e := New(sel, map[string]Adapter{"A": &fakeAdapter{}}, qa, nil, nil, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 3, IsRetry: true}

	e.Execute(context.Background(), &ctx, nil)

	assert.Equal(t, 0, ctx.Attempt)
	assert.Empty(t, qa.starts)
}

type fakeMetrics struct {
	attempts  []string
	failures  []string
	outcomes  []string
	exhausted int
}

func (f *fakeMetrics) RecordOutcome(outcome string)       { f.outcomes = append(f.outcomes, outcome) }
func (f *fakeMetrics) RecordAttempt(provider string)      { f.attempts = append(f.attempts, provider) }
func (f *fakeMetrics) RecordFailure(provider, kind string) {
	f.failures = append(f.failures, provider+":"+kind)
}
func (f *fakeMetrics) RecordExhausted() { f.exhausted++ }

func TestExecute_RecordsMetricsOnSuccess(t *testing.T) {
	sel := &fakeSelector{queue: []string{"A"}}
	adapter := &fakeAdapter{results: []domain.ArtifactBundle{
		{ExecutionStatus: domain.StatusSuccess},
	}}
	qa := &fakeQA{}
	m := &fakeMetrics{}
	e := New(sel, map[string]Adapter{"A": adapter}, qa, nil, m, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 3}
	packet := basePacket()

	e.Execute(context.Background(), &ctx, &packet)

	assert.Equal(t, []string{"A"}, m.attempts)
	assert.Equal(t, []string{"success"}, m.outcomes)
	assert.Empty(t, m.failures)
	assert.Zero(t, m.exhausted)
}

func TestExecute_RecordsMetricsOnExhaustion(t *testing.T) {
	sel := &fakeSelector{queue: []string{"A", "A"}}
	adapter := &fakeAdapter{results: []domain.ArtifactBundle{
		{ExecutionStatus: domain.StatusFailure},
		{ExecutionStatus: domain.StatusProviderFailure, IsRateLimit: true},
	}}
	qa := &fakeQA{}
	m := &fakeMetrics{}
	e := New(sel, map[string]Adapter{"A": adapter}, qa, nil, m, nil)
	ctx := domain.SelectionContext{TaskID: "t1", MaxAttempts: 2}
	packet := basePacket()

	e.Execute(context.Background(), &ctx, &packet)

	assert.Equal(t, []string{"A", "A"}, m.attempts)
	assert.Equal(t, []string{"A:task_failure", "A:rate_limit"}, m.failures)
	assert.Equal(t, []string{"exhausted"}, m.outcomes)
	assert.Equal(t, 1, m.exhausted)
}
