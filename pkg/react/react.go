// Package react implements the bounded ReAct (reason+act) executor
// (spec.md §4.5, C7): the LLM alternates between tool calls and a final
// JSON result, and the executor enforces a hard step cap.
package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/codeready-toolchain/scout/pkg/llm"
	"github.com/codeready-toolchain/scout/pkg/task"
	"github.com/codeready-toolchain/scout/pkg/tool"
)

// DefaultMaxSteps matches spec.md §4.5's default.
const DefaultMaxSteps = 10

// ErrStepsExceeded is raised when the loop exhausts MaxSteps without a
// final answer. The agent runtime maps this to mark_failed.
var ErrStepsExceeded = errors.New("react: step budget exceeded")

// Executor runs the bounded tool-calling loop for one task.
type Executor struct {
	Client       llm.Client
	Model        string
	SystemPrompt string
	Tools        []*tool.Tool
	MaxSteps     int
	Tracer       trace.Tracer // defaults to a no-op tracer when unset
}

// NewExecutor builds an Executor; maxSteps <= 0 uses DefaultMaxSteps.
func NewExecutor(client llm.Client, model, systemPrompt string, tools []*tool.Tool, maxSteps int) *Executor {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Executor{
		Client: client, Model: model, SystemPrompt: systemPrompt, Tools: tools, MaxSteps: maxSteps,
		Tracer: nooptrace.NewTracerProvider().Tracer("react"),
	}
}

// Run drives the loop for t and returns the final Result.
func (e *Executor) Run(ctx context.Context, t *task.Task) (*task.Result, error) {
	if e.Tracer == nil {
		e.Tracer = nooptrace.NewTracerProvider().Tracer("react")
	}
	schemas := toolSpecs(e.Tools)
	byName := tool.ByName(e.Tools)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: e.SystemPrompt},
		{Role: llm.RoleUser, Content: taskDescription(t)},
	}

	for step := 0; step < e.MaxSteps; step++ {
		stepCtx, span := e.Tracer.Start(ctx, "react.iteration", trace.WithAttributes(
			attribute.String("scout.task_id", t.ID),
			attribute.Int("scout.react.step", step),
		))

		resp, err := e.Client.Chat(stepCtx, llm.Request{
			Model:    e.Model,
			Messages: messages,
			Tools:    schemas,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, fmt.Errorf("react: llm call failed: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			span.SetStatus(codes.Ok, "final answer")
			span.End()
			return parseFinal(resp.Content)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			observation := e.dispatch(stepCtx, byName, call)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    observation,
				ToolCallID: call.ID,
				ToolName:   call.Name,
			})
		}
		span.End()
	}

	return nil, ErrStepsExceeded
}

func (e *Executor) dispatch(ctx context.Context, byName map[string]*tool.Tool, call llm.ToolCall) string {
	ctx, span := e.Tracer.Start(ctx, "react.tool_execute", trace.WithAttributes(
		attribute.String("scout.tool_name", call.Name),
	))
	defer span.End()

	t, ok := byName[call.Name]
	if !ok {
		err := fmt.Sprintf("Error: unknown tool %q", call.Name)
		span.SetStatus(codes.Error, err)
		return err
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Sprintf("Error: invalid arguments: %v", err)
	}
	result, err := t.Invoke(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "Error: " + err.Error()
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "Error: " + err.Error()
	}
	span.SetStatus(codes.Ok, "")
	return string(encoded)
}

func taskDescription(t *task.Task) string {
	return fmt.Sprintf("Task %s (label=%s)\nPayload: %s", t.ID, t.Label, string(t.Payload))
}

func toolSpecs(tools []*tool.Tool) []llm.ToolSpec {
	out := make([]llm.ToolSpec, len(tools))
	for i, t := range tools {
		out[i] = llm.ToolSpec{
			Type: "function",
			Function: llm.ToolFunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return out
}

// newTaskSpec is the embedded task specification a final answer's
// new_tasks array carries (spec.md §4.5 parse_final).
type newTaskSpec struct {
	Label       string          `json:"label"`
	Priority    int             `json:"priority"`
	Payload     json.RawMessage `json:"payload"`
	ParentJobID string          `json:"parent_job_id,omitempty"`
	FromAgent   string          `json:"from_agent,omitempty"`
}

type finalEnvelope struct {
	Data     json.RawMessage `json:"data"`
	NewTasks []newTaskSpec   `json:"new_tasks"`
}

// parseFinal turns the model's final content into a Result: an object with
// "new_tasks" yields those child tasks plus its "data" field; any other
// object with a "data" field yields that field alone; any other JSON value
// is the data itself; content that is not JSON becomes a JSON string.
func parseFinal(content string) (*task.Result, error) {
	var raw interface{}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		data, _ := json.Marshal(content)
		return &task.Result{Data: data}, nil
	}

	if obj, ok := raw.(map[string]interface{}); ok {
		if _, hasNewTasks := obj["new_tasks"]; hasNewTasks {
			var env finalEnvelope
			if err := json.Unmarshal([]byte(content), &env); err != nil {
				return nil, fmt.Errorf("react: malformed new_tasks envelope: %w", err)
			}
			children := make([]*task.Task, 0, len(env.NewTasks))
			for _, nt := range env.NewTasks {
				child := task.New(nt.Label, nt.Priority, nt.Payload)
				child.ParentJobID = nt.ParentJobID
				child.FromAgent = nt.FromAgent
				children = append(children, child)
			}
			return &task.Result{Data: env.Data, NewTasks: children}, nil
		}
		if _, hasData := obj["data"]; hasData {
			var env finalEnvelope
			if err := json.Unmarshal([]byte(content), &env); err != nil {
				return nil, fmt.Errorf("react: malformed data envelope: %w", err)
			}
			return &task.Result{Data: env.Data}, nil
		}
	}

	return &task.Result{Data: json.RawMessage(content)}, nil
}
