package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearcherToolReturnsResults(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang queues", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode([]wireHit{
			{Title: "A", URL: "http://a.example", Snippet: "snippet a"},
			{Title: "B", URL: "http://b.example", Snippet: "snippet b"},
		})
	}))
	defer search.Close()

	s := &Searcher{Endpoint: search.URL}
	tl, err := s.Tool()
	require.NoError(t, err)

	out, err := tl.Invoke(context.Background(), map[string]interface{}{"query": "golang queues"})
	require.NoError(t, err)

	results := out.([]SearchResult)
	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].Title)
	assert.Equal(t, "snippet a", results[0].Body)
}

func TestSearcherToolFetchesBodies(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("full page text"))
	}))
	defer page.Close()

	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]wireHit{{Title: "A", URL: page.URL, Snippet: "snippet"}})
	}))
	defer search.Close()

	s := &Searcher{Endpoint: search.URL, FetchBodies: true}
	tl, err := s.Tool()
	require.NoError(t, err)

	out, err := tl.Invoke(context.Background(), map[string]interface{}{"query": "x"})
	require.NoError(t, err)

	results := out.([]SearchResult)
	require.Len(t, results, 1)
	assert.Equal(t, "full page text", results[0].Body)
}

func TestSearcherToolRejectsMissingQuery(t *testing.T) {
	s := &Searcher{Endpoint: "http://unused.example"}
	tl, err := s.Tool()
	require.NoError(t, err)

	_, err = tl.Invoke(context.Background(), map[string]interface{}{})
	assert.Error(t, err, "query is required by the schema")
}
