package platform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/scout/pkg/fanin"
	"github.com/codeready-toolchain/scout/pkg/kv"
	"github.com/codeready-toolchain/scout/pkg/progress"
	"github.com/codeready-toolchain/scout/pkg/queue"
	"github.com/codeready-toolchain/scout/pkg/task"
)

func newAnalystHarness() (*Analyst, *queue.Queue, *progress.Store) {
	store := kv.NewMemoryStore()
	q := queue.New(store, 0)
	prog := progress.New(store)
	fi := fanin.New(store, q, prog)
	return &Analyst{FanIn: fi, Progress: prog, CrawlerLabel: "crawler:x"}, q, prog
}

func TestAnalystAnalyzeStagesFanInAndPushesChildren(t *testing.T) {
	a, q, prog := newAnalystHarness()
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]string{"topic_id": "t-1"})
	in := task.New("analyst:analyze", 1, payload)

	result, err := a.Analyze(ctx, in)
	require.NoError(t, err)
	require.Len(t, result.NewTasks, 1)
	assert.Equal(t, "crawler:x", result.NewTasks[0].Label)

	var childPayload map[string]string
	require.NoError(t, json.Unmarshal(result.NewTasks[0].Payload, &childPayload))
	assert.Equal(t, "t-1", childPayload["topic_id"])
	assert.NotEmpty(t, childPayload["platform_content_id"])

	e, err := prog.GetEntity(ctx, "topic", "t-1")
	require.NoError(t, err)
	assert.Equal(t, progress.PhaseCrawling, e.Phase)
	assert.Equal(t, 1, e.Total)

	// Pushing the child and completing it must release the staged
	// analyst:summarize continuation exactly once (spec.md §8 S1).
	child := result.NewTasks[0]
	require.NoError(t, q.Push(ctx, child))
	claimed, err := q.Pop(ctx, []string{"crawler:x"}, "crawler-1")
	require.NoError(t, err)
	require.NoError(t, q.MarkDone(ctx, claimed, json.RawMessage(`{}`)))
	require.NoError(t, a.FanIn.Terminal(ctx, claimed))

	continuation, err := q.Pop(ctx, []string{"analyst:summarize"}, "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, "analyst:summarize", continuation.Label)

	e, err = prog.GetEntity(ctx, "topic", "t-1")
	require.NoError(t, err)
	assert.Equal(t, progress.PhaseSummarizing, e.Phase)
}

func TestAnalystSummarizeFinalizesDonePhase(t *testing.T) {
	a, _, prog := newAnalystHarness()
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]string{"topic_id": "t-2"})
	in := task.New("analyst:summarize", 1, payload)

	_, err := a.Summarize(ctx, in)
	require.NoError(t, err)

	e, err := prog.GetEntity(ctx, "topic", "t-2")
	require.NoError(t, err)
	assert.Equal(t, progress.PhaseDone, e.Phase)
}

func TestAnalystAnalyzeRejectsTaskWithoutEntity(t *testing.T) {
	a, _, _ := newAnalystHarness()
	_, err := a.Analyze(context.Background(), task.New("analyst:analyze", 1, json.RawMessage(`{}`)))
	assert.Error(t, err)
}
