package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/codeready-toolchain/scout/pkg/kv"
	"github.com/codeready-toolchain/scout/pkg/task"
)

// DefaultLeaseTimeout is how long a claimed task may run before the
// sweeper reclaims it as if its worker had died.
const DefaultLeaseTimeout = 10 * time.Minute

// Queue is the durable priority task queue. It owns three KV indices per
// label-independent namespace: one pending sorted set per label, one
// global deferred sorted set (requeue_delayed), and one global claimed
// sorted set (lease tracking), plus one hash per task holding its full
// record.
type Queue struct {
	store        kv.Store
	leaseTimeout time.Duration
}

// New builds a Queue over store. If store is a *kv.MemoryStore, the
// package's native script implementations are registered on it so Eval
// calls behave identically to the Redis Lua scripts.
func New(store kv.Store, leaseTimeout time.Duration) *Queue {
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	if ms, ok := store.(*kv.MemoryStore); ok {
		registerScripts(ms)
	}
	return &Queue{store: store, leaseTimeout: leaseTimeout}
}

// Push enqueues t. It is idempotent on t.ID: pushing the same id twice is
// a no-op on the second call.
func (q *Queue) Push(ctx context.Context, t *task.Task) error {
	fields := toFields(t)
	args := append([]interface{}{fields["queue_score"]}, fieldsToArgs(fields)...)
	_, err := q.store.Eval(ctx, scriptPush, []string{taskKey(t.ID), pendingKey(t.Label)}, args...)
	return err
}

// Pop atomically claims the highest-priority, oldest task across labels,
// marking it claimed and recording a lease deadline. It returns ErrEmpty
// if nothing is available.
func (q *Queue) Pop(ctx context.Context, labels []string, agentName string) (*task.Task, error) {
	keys := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		keys = append(keys, pendingKey(l))
	}
	keys = append(keys, claimedKey)

	now := time.Now().UTC()
	leaseScore := strconv.FormatInt(now.Add(q.leaseTimeout).UnixMilli(), 10)

	res, err := q.store.Eval(ctx, scriptPop, keys, agentName, now.Format(timeLayout), leaseScore)
	if err != nil {
		return nil, err
	}
	fields, err := decodePopResult(res)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, ErrEmpty
	}
	return fromFields(fields)
}

// decodePopResult normalizes the two shapes Eval can hand back: a
// map[string]string from MemoryStore, or a flat []interface{} (the Lua
// HGETALL array) from Redis.
func decodePopResult(res interface{}) (map[string]string, error) {
	switch v := res.(type) {
	case nil:
		return nil, nil
	case bool:
		if !v {
			return nil, nil
		}
		return nil, ErrTaskNotFound
	case map[string]string:
		return v, nil
	case []interface{}:
		if len(v)%2 != 0 {
			return nil, ErrTaskNotFound
		}
		out := make(map[string]string, len(v)/2)
		for i := 0; i < len(v); i += 2 {
			out[toStr(v[i])] = toStr(v[i+1])
		}
		return out, nil
	default:
		return nil, ErrTaskNotFound
	}
}

func toStr(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

// MarkDone transitions t to completed with the given result payload.
func (q *Queue) MarkDone(ctx context.Context, t *task.Task, result json.RawMessage) error {
	completedAt := time.Now().UTC().Format(timeLayout)
	_, err := q.store.Eval(ctx, scriptMarkDone,
		[]string{taskKey(t.ID), claimedKey},
		string(result), completedAt, t.ID)
	return err
}

// MarkFailed records a failure. If the task's retry_count (after this
// failure) has reached max_retries, it transitions to the terminal
// failed state; otherwise it returns to pending with retry_count
// incremented and max_retries unchanged, to be popped again.
func (q *Queue) MarkFailed(ctx context.Context, t *task.Task, errMsg string) (task.Status, error) {
	completedAt := time.Now().UTC().Format(timeLayout)
	reenqueueScore := strconv.FormatFloat(score(t.Priority, t.CreatedAt.UnixMilli()), 'f', -1, 64)
	res, err := q.store.Eval(ctx, scriptMarkFailed,
		[]string{taskKey(t.ID), claimedKey, pendingKey(t.Label)},
		errMsg, completedAt, t.ID, reenqueueScore)
	if err != nil {
		return "", err
	}
	status, _ := res.(string)
	return task.Status(status), nil
}

// RequeueDelayed defers t for delay without incrementing retry_count,
// per the RetryLater contract (spec.md §4.2): a tool asked for more time,
// not a failure.
func (q *Queue) RequeueDelayed(ctx context.Context, t *task.Task, delay time.Duration) error {
	visibleAt := time.Now().UTC().Add(delay).UnixMilli()
	queueScore := strconv.FormatFloat(score(t.Priority, t.CreatedAt.UnixMilli()), 'f', -1, 64)
	_, err := q.store.Eval(ctx, scriptRequeueDelayed,
		[]string{taskKey(t.ID), claimedKey, deferredKey},
		t.ID, strconv.FormatInt(visibleAt, 10), queueScore)
	return err
}

// Get reads a task's current record without mutating it.
func (q *Queue) Get(ctx context.Context, id string) (*task.Task, error) {
	fields, err := q.store.HGetAll(ctx, taskKey(id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrTaskNotFound
	}
	return fromFields(fields)
}
