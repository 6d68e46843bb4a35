package react

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/scout/pkg/llm"
	"github.com/codeready-toolchain/scout/pkg/task"
	"github.com/codeready-toolchain/scout/pkg/tool"
)

func echoTool(t *testing.T) *tool.Tool {
	schema := json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
	tl, err := tool.New("echo", "echoes input", schema, func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{"echoed": args["text"]}, nil
	})
	require.NoError(t, err)
	return tl
}

func TestRunReturnsFinalResultWithoutToolCalls(t *testing.T) {
	client := &llm.MockClient{Responses: []llm.Response{
		{Content: `{"data": {"summary": "done"}}`},
	}}
	ex := NewExecutor(client, "test-model", "be helpful", nil, 0)

	tk := task.New("analyst:summarize", 1, json.RawMessage(`{}`))
	res, err := ex.Run(context.Background(), tk)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary":"done"}`, string(res.Data))
	assert.Empty(t, res.NewTasks)
}

func TestRunExecutesToolCallThenFinalizes(t *testing.T) {
	tl := echoTool(t)
	client := &llm.MockClient{Responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "echo", Arguments: `{"text":"hi"}`}}},
		{Content: `{"data": "ok"}`},
	}}
	ex := NewExecutor(client, "test-model", "be helpful", []*tool.Tool{tl}, 0)

	tk := task.New("crawler:x", 1, json.RawMessage(`{}`))
	res, err := ex.Run(context.Background(), tk)
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(res.Data))

	require.Len(t, client.Requests, 2)
	require.Len(t, client.Requests[1].Messages, 4, "system, user, assistant-tool-call, tool-observation")
	assert.Equal(t, llm.RoleTool, client.Requests[1].Messages[3].Role)
	assert.JSONEq(t, `{"echoed":"hi"}`, client.Requests[1].Messages[3].Content)
}

func TestRunBuildsNewTasksFromFinalEnvelope(t *testing.T) {
	client := &llm.MockClient{Responses: []llm.Response{
		{Content: `{"data": null, "new_tasks": [{"label": "analyst:summarize", "priority": 2, "payload": {"topic_id": "t-1"}}]}`},
	}}
	ex := NewExecutor(client, "test-model", "be helpful", nil, 0)

	tk := task.New("crawler:x", 1, json.RawMessage(`{}`))
	res, err := ex.Run(context.Background(), tk)
	require.NoError(t, err)
	require.Len(t, res.NewTasks, 1)
	assert.Equal(t, "analyst:summarize", res.NewTasks[0].Label)
	assert.Equal(t, 2, res.NewTasks[0].Priority)
}

func TestRunFailsUnknownTool(t *testing.T) {
	client := &llm.MockClient{Responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "nope", Arguments: `{}`}}},
		{Content: `{"data": "ok"}`},
	}}
	ex := NewExecutor(client, "test-model", "be helpful", nil, 0)

	tk := task.New("crawler:x", 1, json.RawMessage(`{}`))
	_, err := ex.Run(context.Background(), tk)
	require.NoError(t, err)

	assert.Contains(t, client.Requests[1].Messages[3].Content, "unknown tool")
}

func TestRunRaisesStepsExceeded(t *testing.T) {
	client := &llm.MockClient{Responses: []llm.Response{
		{ToolCalls: []llm.ToolCall{{ID: "call-1", Name: "echo", Arguments: `{"text":"x"}`}}},
	}}
	ex := NewExecutor(client, "test-model", "be helpful", []*tool.Tool{echoTool(t)}, 1)

	tk := task.New("crawler:x", 1, json.RawMessage(`{}`))
	_, err := ex.Run(context.Background(), tk)
	assert.ErrorIs(t, err, ErrStepsExceeded)
}

func TestParseFinalPlainTextFallback(t *testing.T) {
	res, err := parseFinal("not json at all")
	require.NoError(t, err)
	var decoded string
	require.NoError(t, json.Unmarshal(res.Data, &decoded))
	assert.Equal(t, "not json at all", decoded)
}
