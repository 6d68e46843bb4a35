package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "search terms"},
			"max_results": {"type": "integer", "default": 10}
		},
		"required": ["query"]
	}`)
}

func TestInvokeValidatesArgsThenCallsHandler(t *testing.T) {
	called := false
	tl, err := New("searcher:web", "search the web", searchSchema(), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		called = true
		assert.Equal(t, "golang", args["query"])
		return map[string]interface{}{"results": []string{"a"}}, nil
	})
	require.NoError(t, err)

	out, err := tl.Invoke(context.Background(), map[string]interface{}{"query": "golang"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NotNil(t, out)
}

func TestInvokeRejectsMissingRequiredField(t *testing.T) {
	tl, err := New("searcher:web", "search the web", searchSchema(), func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		t.Fatal("handler must not run when validation fails")
		return nil, nil
	})
	require.NoError(t, err)

	_, err = tl.Invoke(context.Background(), map[string]interface{}{})
	require.Error(t, err)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestExportSchemasProducesFunctionEnvelope(t *testing.T) {
	tl, err := New("searcher:web", "search the web", searchSchema(), nil)
	require.NoError(t, err)

	schemas := ExportSchemas([]*Tool{tl})
	require.Len(t, schemas, 1)
	assert.Equal(t, "function", schemas[0].Type)
	assert.Equal(t, "searcher:web", schemas[0].Function.Name)
}

func TestByNameIndexes(t *testing.T) {
	tl, err := New("searcher:web", "search the web", searchSchema(), nil)
	require.NoError(t, err)

	idx := ByName([]*Tool{tl})
	assert.Same(t, tl, idx["searcher:web"])
}
