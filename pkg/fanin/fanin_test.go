package fanin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/scout/pkg/kv"
	"github.com/codeready-toolchain/scout/pkg/progress"
	"github.com/codeready-toolchain/scout/pkg/queue"
	"github.com/codeready-toolchain/scout/pkg/task"
)

func newTestCoordinator() (*Coordinator, *queue.Queue, *progress.Store) {
	store := kv.NewMemoryStore()
	q := queue.New(store, 0)
	p := progress.New(store)
	return New(store, q, p), q, p
}

func childTask(topicID string) *task.Task {
	payload, _ := json.Marshal(map[string]string{"topic_id": topicID})
	return task.New("crawler:x", 1, payload)
}

func TestFanInReleasesContinuationAtZeroCrossing(t *testing.T) {
	ctx := context.Background()
	c, q, p := newTestCoordinator()

	continuationPayload, _ := json.Marshal(map[string]string{"topic_id": "t-1"})
	require.NoError(t, c.Stage(ctx, "topic", "t-1", 2, OnComplete{
		Label:     "analyst:summarize",
		Payload:   continuationPayload,
		NextPhase: progress.PhaseSummarizing,
	}))

	require.NoError(t, p.ReplaceTaskIDs(ctx, "topic", "t-1", []string{"child-a", "child-b"}))
	require.NoError(t, p.SetTaskProgress(ctx, "child-a", map[string]string{"action": "fetch"}))
	require.NoError(t, p.SetTaskProgress(ctx, "child-b", map[string]string{"action": "fetch"}))

	first := childTask("t-1")
	require.NoError(t, c.Terminal(ctx, first))

	// No continuation yet: one child still pending.
	_, err := q.Pop(ctx, []string{"analyst:summarize"}, "agent-1")
	assert.ErrorIs(t, err, queue.ErrEmpty)

	second := childTask("t-1")
	require.NoError(t, c.Terminal(ctx, second))

	continuation, err := q.Pop(ctx, []string{"analyst:summarize"}, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "analyst:summarize", continuation.Label)

	e, err := p.GetEntity(ctx, "topic", "t-1")
	require.NoError(t, err)
	assert.Equal(t, progress.PhaseSummarizing, e.Phase)
	assert.Equal(t, 2, e.Done)

	f, err := p.GetTaskProgress(ctx, "child-a")
	require.NoError(t, err)
	assert.Empty(t, f, "per-task progress must be cleaned up after the continuation fires")

	ids, err := p.TaskIDs(ctx, "topic", "t-1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFanInNoEntityIsNoop(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCoordinator()

	t1 := task.New("crawler:x", 1, json.RawMessage(`{}`))
	assert.NoError(t, c.Terminal(ctx, t1))
}

func TestFanInMissingOnCompleteStillCleansUp(t *testing.T) {
	ctx := context.Background()
	c, _, p := newTestCoordinator()

	require.NoError(t, p.StartFanIn(ctx, "topic", "t-2", 1))
	require.NoError(t, p.ReplaceTaskIDs(ctx, "topic", "t-2", []string{"child-a"}))
	require.NoError(t, c.kv.Set(ctx, pendingKey("topic", "t-2"), "1", stageTTL))

	require.NoError(t, c.Terminal(ctx, childTask("t-2")))

	ids, err := p.TaskIDs(ctx, "topic", "t-2")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFanInTopicIDWinsOverUserID(t *testing.T) {
	ctx := context.Background()
	c, q, _ := newTestCoordinator()

	continuationPayload, _ := json.Marshal(map[string]string{"topic_id": "t-1"})
	require.NoError(t, c.Stage(ctx, "topic", "t-1", 1, OnComplete{
		Label:   "analyst:summarize",
		Payload: continuationPayload,
	}))

	payload, _ := json.Marshal(map[string]string{"topic_id": "t-1", "user_id": "u-9"})
	tk := task.New("crawler:x", 1, payload)

	require.NoError(t, c.Terminal(ctx, tk))

	_, err := q.Pop(ctx, []string{"analyst:summarize"}, "agent-1")
	assert.NoError(t, err, "fan-in must resolve against the topic entity, not the user entity")
}
