// Package pollloop is Mason's top-level driver: it cycles between the
// QAQueue retry queue and DevBacklog's ready stories, compiling and
// dispatching each through the execution engine, and installs
// SIGTERM/SIGINT handlers for graceful shutdown.
package pollloop

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/CraigThomasParsons/mason/compiler"
	"github.com/CraigThomasParsons/mason/domain"
	"github.com/CraigThomasParsons/mason/engine"
	"github.com/CraigThomasParsons/mason/internal/logging"
)

// BacklogSource is the subset of backlogclient.Client the poll loop
// depends on.
type BacklogSource interface {
	ReadyStories(ctx context.Context) ([]domain.Story, error)
	MarkInProgress(ctx context.Context, storyID int64) bool
}

// QueueSource is the subset of qaqueue.Client the poll loop depends on.
type QueueSource interface {
	RetryQueue(ctx context.Context) ([]domain.RetryTask, error)
	GetTask(ctx context.Context, taskID string) (domain.TaskPacket, error)
	SubmitTask(ctx context.Context, packet domain.TaskPacket) error
}

// Compiler is the subset of compiler.TaskCompiler the poll loop depends on.
type Compiler interface {
	Compile(story domain.Story) []domain.TaskPacket
}

var _ Compiler = (*compiler.TaskCompiler)(nil)

// Executor is the subset of engine.Engine the poll loop depends on.
type Executor interface {
	Execute(ctx context.Context, sel *domain.SelectionContext, packet *domain.TaskPacket)
}

var _ Executor = (*engine.Engine)(nil)

// Loop drives the poll cycle until Stop is called or a termination
// signal arrives.
type Loop struct {
	backlog      BacklogSource
	qa           QueueSource
	compiler     Compiler
	executor     Executor
	pollInterval time.Duration
	logger       logging.Logger

	running atomic.Bool
}

// New builds a Loop. logger may be nil (a no-op logger is used).
func New(backlog BacklogSource, qa QueueSource, comp Compiler, executor Executor, pollInterval time.Duration, logger logging.Logger) *Loop {
	if logger == nil {
		logger = logging.NoOp()
	}
	l := &Loop{backlog: backlog, qa: qa, compiler: comp, executor: executor, pollInterval: pollInterval, logger: logger}
	l.running.Store(false)
	return l
}

// Run blocks, cycling until Stop is called or SIGTERM/SIGINT arrives.
func (l *Loop) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		sig := <-sigCh
		l.logger.Info("shutdown_requested", map[string]interface{}{"signal": sig.String()})
		l.Stop()
	}()

	l.running.Store(true)
	l.logger.Info("mason_daemon_started", nil)

	for l.running.Load() {
		l.runCycleRecovered(ctx)
		l.sleepPollInterval()
	}

	l.logger.Info("mason_daemon_stopped", nil)
}

// Stop requests the loop to exit after its current cycle/sleep tick.
func (l *Loop) Stop() {
	l.running.Store(false)
}

func (l *Loop) runCycleRecovered(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("cycle_error", map[string]interface{}{"error": r})
		}
	}()
	l.processRetryQueue(ctx)
	l.processNewStories(ctx)
}

func (l *Loop) processRetryQueue(ctx context.Context) {
	tasks, err := l.qa.RetryQueue(ctx)
	if err != nil {
		l.logger.Warn("retry_queue_fetch_failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, task := range tasks {
		if !l.running.Load() {
			return
		}

		sel := domain.SelectionContext{
			TaskID:            task.TaskID,
			Attempt:           task.Attempt,
			MaxAttempts:       task.MaxAttempts,
			ProvidersTried:    task.ProvidersTried,
			LastFailureReason: task.LastFailureReason,
			IsRetry:           true,
		}

		packet, err := l.qa.GetTask(ctx, task.TaskID)
		if err != nil {
			l.logger.Warn("retry_packet_fetch_failed", map[string]interface{}{"task_id": task.TaskID, "error": err.Error()})
			l.executor.Execute(ctx, &sel, nil)
			continue
		}
		l.executor.Execute(ctx, &sel, &packet)
	}
}

func (l *Loop) processNewStories(ctx context.Context) {
	stories, err := l.backlog.ReadyStories(ctx)
	if err != nil {
		l.logger.Warn("story_fetch_failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, story := range stories {
		if !l.running.Load() {
			return
		}

		l.logger.Info("processing_story", map[string]interface{}{"story_id": story.ID, "title": story.Title})
		l.backlog.MarkInProgress(ctx, story.ID)

		packets := l.compiler.Compile(story)
		l.logger.Info("story_decomposed", map[string]interface{}{"story_id": story.ID, "task_count": len(packets)})

		for i := range packets {
			if !l.running.Load() {
				return
			}

			packet := packets[i]
			if err := l.qa.SubmitTask(ctx, packet); err != nil {
				l.logger.Error("task_submit_failed", map[string]interface{}{"task_id": packet.Identity.TaskID, "error": err.Error()})
				continue
			}

			sel := domain.SelectionContext{
				TaskID:      packet.Identity.TaskID,
				Attempt:     0,
				MaxAttempts: packet.Execution.MaxAttempts,
			}
			l.executor.Execute(ctx, &sel, &packet)
		}
	}
}

func (l *Loop) sleepPollInterval() {
	deadline := time.Now().Add(l.pollInterval)
	for time.Now().Before(deadline) {
		if !l.running.Load() {
			return
		}
		time.Sleep(time.Second)
	}
}
