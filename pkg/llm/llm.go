// Package llm defines the LLM client contract the ReAct executor drives
// (spec.md §4.7, C11): a single chat-completions+function-calling method,
// kept deliberately narrower than a streaming/multi-modal vendor SDK
// since that surface is explicitly out of scope for the core.
package llm

import "context"

// Message roles, matching the OpenAI-style chat-completions contract
// spec.md §4.7 specifies.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn of the conversation sent to the LLM.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // set on assistant messages that requested tool calls
	ToolCallID string     // set on tool-result messages
	ToolName   string     // set on tool-result messages
}

// ToolCall is one function call the assistant requested.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON object
}

// ToolSpec is the function-calling schema shown to the LLM for one tool.
// Mirrors tool.Schema's wire shape without importing pkg/tool, so pkg/llm
// has no dependency on the tool package.
type ToolSpec struct {
	Type     string
	Function ToolFunctionSpec
}

// ToolFunctionSpec is the inner function description of a ToolSpec.
type ToolFunctionSpec struct {
	Name        string
	Description string
	Parameters  []byte // raw JSON Schema
}

// Request is one chat-completions call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolSpec
	Temperature *float64
	MaxTokens   *int
}

// Response is the subset of a chat-completions response the executor
// needs: the first choice's message.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Client is the LLM collaborator interface (spec.md §4.7). Implementations
// must be safe for concurrent use since multiple agent processes may
// share one client instance in-process (e.g. a shared HTTP connection
// pool), though the runtime itself never calls Chat concurrently from a
// single agent (spec.md §4.2 "single task in flight").
type Client interface {
	Chat(ctx context.Context, req Request) (Response, error)
}
