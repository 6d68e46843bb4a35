// Package fanin implements the fan-in / pipeline coordinator (spec.md
// §4.3, C5): per-entity pending counters and a staged on_complete
// continuation, released exactly once at the zero-crossing.
package fanin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/scout/pkg/kv"
	"github.com/codeready-toolchain/scout/pkg/progress"
	"github.com/codeready-toolchain/scout/pkg/queue"
	"github.com/codeready-toolchain/scout/pkg/task"
)

// stageTTL bounds how long a staged continuation can outlive its children
// before being considered abandoned (e.g. process crash before any child
// terminates). spec.md does not give one explicitly; 24h matches the
// entity progress record's own TTL since both describe the same pipeline
// run.
const stageTTL = 24 * time.Hour

// OnComplete is the staged continuation specification (spec.md §3.3).
type OnComplete struct {
	Label     string          `json:"label"`
	Payload   json.RawMessage `json:"payload"`
	NextPhase string          `json:"next_phase"`
}

// Coordinator wires the queue and progress store together to implement
// the fan-in protocol.
type Coordinator struct {
	kv       kv.Store
	queue    *queue.Queue
	progress *progress.Store
}

// New builds a Coordinator.
func New(store kv.Store, q *queue.Queue, p *progress.Store) *Coordinator {
	return &Coordinator{kv: store, queue: q, progress: p}
}

func pendingKey(entityType, entityID string) string {
	return fmt.Sprintf("fanin:pending:%s:%s", entityType, entityID)
}

func onCompleteKey(entityType, entityID string) string {
	return fmt.Sprintf("fanin:oncomplete:%s:%s", entityType, entityID)
}

// Stage records a continuation and pending counter before a producer
// pushes N child tasks (spec.md §4.3 steps 1-3). The caller pushes the
// children itself, after Stage returns, so the pending counter is never
// observed at zero before any child exists.
func (c *Coordinator) Stage(ctx context.Context, entityType, entityID string, childCount int, oc OnComplete) error {
	payload, err := json.Marshal(oc)
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, onCompleteKey(entityType, entityID), string(payload), stageTTL); err != nil {
		return err
	}
	if err := c.kv.Set(ctx, pendingKey(entityType, entityID), fmt.Sprintf("%d", childCount), stageTTL); err != nil {
		return err
	}
	return c.progress.StartFanIn(ctx, entityType, entityID, childCount)
}

// Terminal runs the fan-in step for a task that just reached a terminal
// status in a fan-in-enabled agent (spec.md §4.2 step 5, §4.3). It is a
// no-op when the task's payload carries no entity. It must be called
// exactly once per terminal transition — never on a retrying task's
// per-attempt completion (spec.md §4.3 "Retries" edge case) — callers
// rely on task.Terminal() to gate that.
func (c *Coordinator) Terminal(ctx context.Context, t *task.Task) error {
	entityType, entityID, ok := task.ExtractEntity(t.Payload)
	if !ok {
		return nil
	}

	remaining, err := c.kv.Incr(ctx, pendingKey(entityType, entityID), -1)
	if err != nil {
		return err
	}
	if err := c.progress.IncrDone(ctx, entityType, entityID); err != nil {
		return err
	}

	if remaining > 0 {
		return nil
	}

	// Only the call that observes remaining <= 0 gets here; GetDel is
	// atomic so even a stray extra decrement (a bug elsewhere) cannot
	// double-fire the continuation — the second GetDel simply finds
	// nothing (spec.md §4.3 "Concurrent terminations").
	raw, found, err := c.kv.GetDel(ctx, onCompleteKey(entityType, entityID))
	if err != nil {
		return err
	}
	if found {
		var oc OnComplete
		if err := json.Unmarshal([]byte(raw), &oc); err != nil {
			return err
		}
		child := task.New(oc.Label, t.Priority, oc.Payload)
		child.ParentJobID = t.ParentJobID
		child.FromAgent = t.AssignedTo
		if err := c.queue.Push(ctx, child); err != nil {
			return err
		}
		if err := c.progress.SetEntityPhase(ctx, entityType, entityID, oc.NextPhase); err != nil {
			return err
		}
	}

	return c.cleanup(ctx, entityType, entityID)
}

// cleanup deletes per-task progress for every id the entity was fanning
// in, then the task_ids set itself (spec.md §4.3 step 2 of the
// zero-crossing branch).
func (c *Coordinator) cleanup(ctx context.Context, entityType, entityID string) error {
	ids, err := c.progress.TaskIDs(ctx, entityType, entityID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := c.progress.DeleteTaskProgress(ctx, id); err != nil {
			return err
		}
	}
	return c.progress.DeleteEntityTaskSet(ctx, entityType, entityID)
}
