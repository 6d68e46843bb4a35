// Package agent implements the generic agent runtime (spec.md §4.2, C8):
// claim → execute (custom function or ReAct) → terminal transition →
// emit children → fan-in → heartbeat → graceful shutdown, generalized
// from tarsy's pollAndProcess worker loop to any label set.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/codeready-toolchain/scout/pkg/fanin"
	"github.com/codeready-toolchain/scout/pkg/heartbeat"
	"github.com/codeready-toolchain/scout/pkg/progress"
	"github.com/codeready-toolchain/scout/pkg/queue"
	"github.com/codeready-toolchain/scout/pkg/react"
	"github.com/codeready-toolchain/scout/pkg/task"
)

// ErrNotConfigured is returned when a task needs execution but the agent
// has neither an ExecuteFn nor AIEnabled+a ReAct executor (spec.md §4.2
// step 3 "otherwise fail the task with a configuration error").
var ErrNotConfigured = errors.New("agent: no execute_fn and ai disabled")

// EmptyPollDelay is how long Run sleeps after an empty pop before
// retrying, per spec.md §4.2 step 1.
const EmptyPollDelay = 5 * time.Second

// ExecuteFn is a custom, non-LLM task executor. Agents that set one skip
// the ReAct loop entirely.
type ExecuteFn func(ctx context.Context, t *task.Task) (*task.Result, error)

// Agent is a generic worker: one label set, one execution strategy, one
// task in flight at a time (spec.md §4.2 "Concurrency model").
type Agent struct {
	Name          string
	Labels        []string
	AIEnabled     bool
	FanInEnabled  bool
	ExecuteFn     ExecuteFn
	React         *react.Executor // used when ExecuteFn is nil and AIEnabled

	Queue     *queue.Queue
	FanIn     *fanin.Coordinator
	Progress  *progress.Store
	Heartbeat *heartbeat.Store
	Log       *slog.Logger
	Tracer    trace.Tracer // defaults to a no-op tracer when unset

	// countersMu guards the counters below: the heartbeat ticker reads
	// them from its own goroutine while Run's loop writes them.
	countersMu     sync.Mutex
	tasksCompleted int
	tasksFailed    int

	// startedAt is stamped once by startHeartbeatLoop and read by every
	// subsequent beat() so refreshed heartbeats keep reporting the
	// agent's original start time rather than the zero time.
	startedAt time.Time
}

func (a *Agent) incrCompleted() {
	a.countersMu.Lock()
	a.tasksCompleted++
	a.countersMu.Unlock()
}

func (a *Agent) incrFailed() {
	a.countersMu.Lock()
	a.tasksFailed++
	a.countersMu.Unlock()
}

func (a *Agent) counters() (completed, failed int) {
	a.countersMu.Lock()
	defer a.countersMu.Unlock()
	return a.tasksCompleted, a.tasksFailed
}

// New builds an Agent. Log defaults to slog.Default() if nil.
func New(name string, labels []string, q *queue.Queue, hb *heartbeat.Store, prog *progress.Store, fi *fanin.Coordinator) *Agent {
	return &Agent{
		Name:      name,
		Labels:    labels,
		Queue:     q,
		Heartbeat: hb,
		Progress:  prog,
		FanIn:     fi,
		Log:       slog.Default(),
		Tracer:    nooptrace.NewTracerProvider().Tracer("agent"),
	}
}

// Run loops until ctx is cancelled (the caller wires SIGTERM/SIGINT into
// ctx's cancellation). Each iteration pops at most one task and fully
// accounts for it — mark_done/mark_failed/requeue_delayed, child pushes,
// fan-in, heartbeat — before popping another (spec.md §4.2).
func (a *Agent) Run(ctx context.Context) error {
	stop := a.startHeartbeatLoop(ctx)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		t, err := a.Queue.Pop(ctx, a.Labels, a.Name)
		if errors.Is(err, queue.ErrEmpty) {
			if !sleepOrDone(ctx, EmptyPollDelay) {
				return nil
			}
			continue
		}
		if err != nil {
			a.Log.Error("pop failed", "agent", a.Name, "error", err)
			if !sleepOrDone(ctx, EmptyPollDelay) {
				return nil
			}
			continue
		}

		a.beat(ctx, heartbeat.StatusBusy, t)
		a.process(ctx, t)
		a.beat(ctx, heartbeat.StatusIdle, nil)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// process executes one claimed task to completion and drives the
// dispatch/fan-in steps of spec.md §4.2.
func (a *Agent) process(ctx context.Context, t *task.Task) {
	tracer := a.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("agent")
	}
	ctx, span := tracer.Start(ctx, "agent.process_task", trace.WithAttributes(
		attribute.String("scout.agent_name", a.Name),
		attribute.String("scout.task_id", t.ID),
		attribute.String("scout.task_label", t.Label),
	))
	defer span.End()

	result, retryLater, execErr := a.execute(ctx, t)

	switch {
	case execErr != nil:
		span.RecordError(execErr)
		span.SetStatus(codes.Error, execErr.Error())
		a.incrFailed()
		status, err := a.Queue.MarkFailed(ctx, t, execErr.Error())
		if err != nil {
			a.Log.Error("mark_failed failed", "agent", a.Name, "task", t.ID, "error", err)
			return
		}
		t.Status = status
		t.RetryCount++

	case retryLater != nil:
		span.SetAttributes(attribute.Bool("scout.retry_later", true))
		if err := a.Queue.RequeueDelayed(ctx, t, retryLater.Delay); err != nil {
			a.Log.Error("requeue_delayed failed", "agent", a.Name, "task", t.ID, "error", err)
		}
		return // deferred is never terminal; no fan-in step

	default:
		span.SetStatus(codes.Ok, "")
		a.incrCompleted()
		resultJSON := result.Data
		if resultJSON == nil {
			resultJSON = json.RawMessage("null")
		}
		if err := a.Queue.MarkDone(ctx, t, resultJSON); err != nil {
			a.Log.Error("mark_done failed", "agent", a.Name, "task", t.ID, "error", err)
			return
		}
		t.Status = task.StatusCompleted
		a.pushChildren(ctx, t, result.NewTasks)
	}

	if a.FanInEnabled && t.Terminal() {
		if err := a.FanIn.Terminal(ctx, t); err != nil {
			a.Log.Error("fan-in step failed", "agent", a.Name, "task", t.ID, "error", err)
		}
	}
}

// execute runs the task's custom function or the ReAct loop.
func (a *Agent) execute(ctx context.Context, t *task.Task) (*task.Result, *task.RetryLater, error) {
	defer func() {
		if r := recover(); r != nil {
			a.Log.Error("task execution panicked", "agent", a.Name, "task", t.ID, "panic", r)
		}
	}()

	if a.ExecuteFn != nil {
		res, err := a.ExecuteFn(ctx, t)
		return unwrapOutcome(res, err)
	}
	if a.AIEnabled && a.React != nil {
		res, err := a.React.Run(ctx, t)
		return unwrapOutcome(res, err)
	}
	return nil, nil, ErrNotConfigured
}

func unwrapOutcome(res *task.Result, err error) (*task.Result, *task.RetryLater, error) {
	var retry *task.RetryLater
	if errors.As(err, &retry) {
		return nil, retry, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return res, nil, nil
}

// pushChildren pushes result's new tasks and, if t carries an entity,
// replaces the entity's task_ids set with their ids via
// progress.ReplaceTaskIDs (not atomic; see there).
func (a *Agent) pushChildren(ctx context.Context, t *task.Task, children []*task.Task) {
	if len(children) == 0 {
		return
	}
	ids := make([]string, 0, len(children))
	for _, child := range children {
		child.ParentJobID = t.ID
		child.FromAgent = a.Name
		if err := a.Queue.Push(ctx, child); err != nil {
			a.Log.Error("push child task failed", "agent", a.Name, "parent", t.ID, "error", err)
			continue
		}
		ids = append(ids, child.ID)
	}

	entityType, entityID, ok := task.ExtractEntity(t.Payload)
	if !ok {
		return
	}
	if err := a.Progress.ReplaceTaskIDs(ctx, entityType, entityID, ids); err != nil {
		a.Log.Error("record child task ids failed", "agent", a.Name, "task", t.ID, "error", err)
	}
}

func (a *Agent) beat(ctx context.Context, status string, current *task.Task) {
	if a.Heartbeat == nil {
		return
	}
	completed, failed := a.counters()
	rec := heartbeat.Record{
		Name:           a.Name,
		Labels:         a.Labels,
		Status:         status,
		StartedAt:      a.startedAt,
		TasksCompleted: completed,
		TasksFailed:    failed,
	}
	if current != nil {
		rec.CurrentTaskID = current.ID
		rec.CurrentTaskLabel = current.Label
	}
	if err := a.Heartbeat.Beat(ctx, rec); err != nil {
		a.Log.Warn("heartbeat write failed", "agent", a.Name, "error", err)
	}
}

// startHeartbeatLoop writes a heartbeat every RefreshInterval until ctx is
// done, then deletes the record — spec.md §4.2 "the heartbeat loop is
// cancelled last". Returns a stop function the caller must call after Run
// returns, to guarantee the delete happens after the last in-flight task
// is accounted for.
func (a *Agent) startHeartbeatLoop(ctx context.Context) func() {
	if a.Heartbeat == nil {
		return func() {}
	}
	a.startedAt = time.Now().UTC()
	a.Heartbeat.Beat(ctx, heartbeat.Record{
		Name: a.Name, Labels: a.Labels, Status: heartbeat.StatusIdle, StartedAt: a.startedAt,
	})

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(heartbeat.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				a.beat(loopCtx, heartbeat.StatusIdle, nil)
			}
		}
	}()

	return func() {
		cancel()
		<-done
		_ = a.Heartbeat.Delete(context.Background(), a.Name)
	}
}
