// Package platform implements concrete `pkg/tool.Tool` collaborators
// for the two opaque labels spec.md §6.2 names: `searcher:web` and
// `crawler:<platform>`. The core treats these strings as routing keys
// only; this package gives the ReAct executor and the agent runtime
// something real to dispatch to.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/scout/pkg/tool"
)

// SearchResult is one hit from a web search.
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Body  string `json:"body,omitempty"`
}

// Searcher performs a web search and optionally fetches the body of
// each hit with bounded parallelism.
type Searcher struct {
	// Endpoint is a search API that accepts ?q=<query> and returns a
	// JSON array of {title,url,snippet}. Pluggable so tests can point
	// it at an httptest server.
	Endpoint string
	// FetchBodies, when true, downloads each result page and fills
	// Body; otherwise Body holds the hit's snippet.
	FetchBodies bool
	// Concurrency bounds the number of simultaneous page fetches.
	Concurrency int

	HTTPClient *http.Client
}

const searcherToolName = "searcher:web"

var searchParamsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string"},
		"max_results": {"type": "integer", "minimum": 1, "maximum": 20}
	},
	"required": ["query"]
}`)

// Tool builds the "searcher:web" tool.Tool wired to s.
func (s *Searcher) Tool() (*tool.Tool, error) {
	return tool.New(searcherToolName, "Search the web and return matching pages", searchParamsSchema, s.handle)
}

func (s *Searcher) handle(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("searcher:web: missing query")
	}
	maxResults := 5
	if v, ok := args["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}

	results, err := s.search(ctx, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("searcher:web: %w", err)
	}
	if s.FetchBodies {
		if err := s.fetchBodies(ctx, results); err != nil {
			return nil, fmt.Errorf("searcher:web: fetch bodies: %w", err)
		}
	}
	return results, nil
}

type wireHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (s *Searcher) search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	client := s.httpClient()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Set("q", query)
	req.URL.RawQuery = q.Encode()

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search endpoint returned %s", resp.Status)
	}

	var hits []wireHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = SearchResult{Title: h.Title, URL: h.URL, Body: h.Snippet}
	}
	return out, nil
}

// fetchBodies downloads each result's page body with bounded
// parallelism via errgroup, replacing the snippet with the fetched
// text, and tolerates individual page failures (leaves Body as the
// snippet) rather than failing the whole search.
func (s *Searcher) fetchBodies(ctx context.Context, results []SearchResult) error {
	client := s.httpClient()
	limit := s.Concurrency
	if limit <= 0 {
		limit = 4
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i := range results {
		i := i
		g.Go(func() error {
			body, err := fetchPage(gctx, client, results[i].URL)
			if err != nil {
				return nil // best-effort, keep the snippet
			}
			results[i].Body = body
			return nil
		})
	}
	return g.Wait()
}

func fetchPage(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page %s returned %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (s *Searcher) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}
