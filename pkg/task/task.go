// Package task defines the Task value type shared by the queue, the agent
// runtime, and the ReAct executor.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Task.
type Status string

// Lifecycle states and their transitions:
// pending -> claimed -> (completed | failed | deferred); deferred
// returns to pending when its visibility timer elapses.
const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDeferred  Status = "deferred"
)

// DefaultMaxRetries is used when a producer does not set MaxRetries.
const DefaultMaxRetries = 3

// Task is a unit of work routed by Label to whichever agent subscribes to
// it. Payload is treated as opaque by the queue and the runtime; only tool
// handlers and execute_fn implementations interpret it.
type Task struct {
	ID          string          `json:"id"`
	Label       string          `json:"label"`
	Priority    int             `json:"priority"`
	Status      Status          `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	ParentJobID string          `json:"parent_job_id,omitempty"`
	FromAgent   string          `json:"from_agent,omitempty"`
	AssignedTo  string          `json:"assigned_to,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// New constructs a Task ready to be pushed. The caller supplies the id-free
// fields; New assigns an id and defaults MaxRetries/CreatedAt/Status.
func New(label string, priority int, payload json.RawMessage) *Task {
	return &Task{
		ID:         uuid.NewString(),
		Label:      label,
		Priority:   priority,
		Status:     StatusPending,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: DefaultMaxRetries,
	}
}

// Terminal reports whether t is in a state from which no further
// transitions occur (spec invariant: terminal monotonicity).
func (t *Task) Terminal() bool {
	switch t.Status {
	case StatusCompleted:
		return true
	case StatusFailed:
		return t.RetryCount >= t.MaxRetries
	default:
		return false
	}
}

// Entity extracts (entity_type, entity_id) from the task payload using the
// fixed precedence rule: topic_id wins over user_id. Returns ok=false if
// neither key is present or the payload is not a JSON object.
func (t *Task) Entity() (entityType, entityID string, ok bool) {
	return ExtractEntity(t.Payload)
}

// entityPayload is the subset of payload fields the entity-extraction rule
// inspects. Unknown fields are ignored (payload stays opaque otherwise).
type entityPayload struct {
	TopicID string `json:"topic_id"`
	UserID  string `json:"user_id"`
}

// ExtractEntity implements the load-bearing `_extract_entity` rule from
// spec.md §9: topic_id wins over user_id when both are present. This must
// never be generalized into a single "entity" field — the precedence is
// the whole point.
func ExtractEntity(payload json.RawMessage) (entityType, entityID string, ok bool) {
	if len(payload) == 0 {
		return "", "", false
	}
	var p entityPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", "", false
	}
	if p.TopicID != "" {
		return "topic", p.TopicID, true
	}
	if p.UserID != "" {
		return "user", p.UserID, true
	}
	return "", "", false
}

// Result is returned by a custom execute_fn or the ReAct executor on
// success.
type Result struct {
	Data     json.RawMessage `json:"data"`
	NewTasks []*Task         `json:"new_tasks,omitempty"`
}

// RetryLater signals the runtime to requeue the current task as deferred
// for Delay without consuming retry budget (spec §3.7, §7: "cooperative,
// not a failure").
type RetryLater struct {
	Delay  time.Duration
	Reason string
}

func (r *RetryLater) Error() string {
	return "retry later: " + r.Reason
}
