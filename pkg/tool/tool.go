// Package tool implements the typed tool abstraction (spec.md §3.6, §4.4,
// C6): name, description, JSON-schema parameters, and a handler, plus the
// function-calling schema export the ReAct executor shows the LLM.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Handler executes a tool call. args is the LLM-supplied argument object,
// already validated against Parameters. The return value must be
// JSON-serializable; a non-nil error is fed back to the ReAct loop as the
// observation rather than aborting it (spec.md §4.4 "Error contract").
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool is immutable after construction (spec.md §3.6).
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema, object type
	Handler     Handler

	schema *gojsonschema.Schema
}

// New builds a Tool, pre-compiling its JSON Schema so Validate is cheap
// on the hot path.
func New(name, description string, parameters json.RawMessage, handler Handler) (*Tool, error) {
	loader := gojsonschema.NewBytesLoader(parameters)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("tool %q: invalid parameters schema: %w", name, err)
	}
	return &Tool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		Handler:     handler,
		schema:      schema,
	}, nil
}

// Validate checks args against the tool's JSON Schema.
func (t *Tool) Validate(args map[string]interface{}) error {
	result, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &ValidationError{Tool: t.Name, Errors: msgs}
	}
	return nil
}

// Invoke validates args and runs the handler.
func (t *Tool) Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if err := t.Validate(args); err != nil {
		return nil, err
	}
	return t.Handler(ctx, args)
}

// ValidationError reports schema validation failures for one tool call.
type ValidationError struct {
	Tool   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %q: invalid arguments: %v", e.Tool, e.Errors)
}

// Schema is the {type:"function", function:{...}} envelope the LLM client
// expects for function-calling (spec.md §4.4 "Schema export").
type Schema struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the inner function description of a Schema.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ExportSchema returns t's function-calling envelope.
func (t *Tool) ExportSchema() Schema {
	return Schema{
		Type: "function",
		Function: FunctionSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}

// ExportSchemas concatenates the schema export of every tool, the form
// the ReAct executor presents to the LLM (spec.md §4.4).
func ExportSchemas(tools []*Tool) []Schema {
	out := make([]Schema, len(tools))
	for i, t := range tools {
		out[i] = t.ExportSchema()
	}
	return out
}

// ByName indexes tools for dispatch by name.
func ByName(tools []*Tool) map[string]*Tool {
	out := make(map[string]*Tool, len(tools))
	for _, t := range tools {
		out[t.Name] = t
	}
	return out
}
