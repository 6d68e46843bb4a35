package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPClient calls an OpenAI-compatible chat-completions endpoint
// (spec.md §6.4 GROK_BASE_URL/GROK_API_KEY). No HTTP client library
// appears anywhere in the retrieved corpus (tarsy's LLM traffic goes
// over gRPC to a Python sidecar, which spec.md's Non-goals explicitly
// excludes), so this talks to the endpoint with net/http directly.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retryMax   time.Duration
}

// NewHTTPClient builds a client against baseURL (e.g. "https://api.x.ai/v1")
// using apiKey as a bearer token.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retryMax:   5 * time.Second,
	}
}

type wireMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []wireToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function wireToolCallFn  `json:"function"`
}

type wireToolCallFn struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat implements Client.
func (c *HTTPClient) Chat(ctx context.Context, req Request) (Response, error) {
	body := wireRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.ToolName}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireToolCallFn{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		body.Messages = append(body.Messages, wm)
	}
	for _, ts := range req.Tools {
		body.Tools = append(body.Tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        ts.Function.Name,
				Description: ts.Function.Description,
				Parameters:  ts.Function.Parameters,
			},
		})
	}

	var wr wireResponse
	err := c.withRetry(ctx, func() error {
		var e error
		wr, e = c.post(ctx, body)
		return e
	})
	if err != nil {
		return Response{}, err
	}
	if wr.Error != nil {
		return Response{}, fmt.Errorf("llm: %s", wr.Error.Message)
	}
	if len(wr.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: no choices in response")
	}
	msg := wr.Choices[0].Message
	resp := Response{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

func (c *HTTPClient) post(ctx context.Context, body wireRequest) (wireResponse, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return wireResponse{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return wireResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return wireResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return wireResponse{}, err
	}
	if resp.StatusCode >= 500 {
		return wireResponse{}, fmt.Errorf("llm: server error %d: %s", resp.StatusCode, data)
	}
	if resp.StatusCode >= 400 {
		return wireResponse{}, backoff.Permanent(fmt.Errorf("llm: request error %d: %s", resp.StatusCode, data))
	}
	var wr wireResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return wireResponse{}, err
	}
	return wr, nil
}

func (c *HTTPClient) withRetry(ctx context.Context, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.MaxElapsedTime = c.retryMax
	return backoff.Retry(op, backoff.WithContext(exp, ctx))
}
