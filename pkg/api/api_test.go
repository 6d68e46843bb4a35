package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/scout/pkg/config"
	"github.com/codeready-toolchain/scout/pkg/heartbeat"
	"github.com/codeready-toolchain/scout/pkg/kv"
	"github.com/codeready-toolchain/scout/pkg/progress"
	"github.com/codeready-toolchain/scout/pkg/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer() *Server {
	store := kv.NewMemoryStore()
	prog := progress.New(store)
	hb := heartbeat.New(store)
	q := queue.New(store, 0)
	agents := config.NewAgentRegistry(map[string]*config.AgentConfig{
		"analyst": {Labels: []string{"analyst:analyze"}, AIEnabled: true, FanIn: true},
	})
	return New(prog, hb, q, agents)
}

func TestHealthz(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListAgentsOfflineByDefault(t *testing.T) {
	s := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Agents []map[string]interface{} `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "offline", body.Agents[0]["status"])
}

func TestListAgentsReportsLiveHeartbeat(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.Heartbeat.Beat(context.Background(), heartbeat.Record{
		Name: "analyst", Labels: []string{"analyst:analyze"}, Status: heartbeat.StatusIdle,
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	s.Router().ServeHTTP(rec, req)

	var body struct {
		Agents []map[string]interface{} `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "idle", body.Agents[0]["status"])
}

func TestProgressJoinsTaskSetAndMessages(t *testing.T) {
	s := newTestServer()
	ctx := context.Background()

	require.NoError(t, s.Progress.StartFanIn(ctx, "topic", "t-1", 1))
	require.NoError(t, s.Progress.ReplaceTaskIDs(ctx, "topic", "t-1", []string{"c-1"}))
	require.NoError(t, s.Progress.SetTaskProgress(ctx, "c-1", map[string]string{"action": "fetch_page", "page": "1"}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/progress/topic/t-1", nil)
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Phase string                       `json:"phase"`
		Total int                          `json:"total"`
		Tasks map[string]map[string]string `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, progress.PhaseCrawling, body.Phase)
	assert.Equal(t, 1, body.Total)
	require.Contains(t, body.Tasks, "c-1")
	assert.Equal(t, "fetch_page", body.Tasks["c-1"]["action"])
}
