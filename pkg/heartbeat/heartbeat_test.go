package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/scout/pkg/kv"
)

func TestBeatAndGet(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemoryStore())

	rec := Record{
		Name:           "analyst-1",
		Labels:         []string{"analyst:analyze", "analyst:summarize"},
		Status:         StatusBusy,
		CurrentTaskID:  "task-1",
		TasksCompleted: 4,
		StartedAt:      time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, s.Beat(ctx, rec))

	got, err := s.Get(ctx, "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, "analyst-1", got.Name)
	assert.ElementsMatch(t, rec.Labels, got.Labels)
	assert.Equal(t, StatusBusy, got.Status)
	assert.Equal(t, 4, got.TasksCompleted)
	assert.False(t, got.LastHeartbeat.IsZero())
}

func TestDeleteRemovesRecord(t *testing.T) {
	ctx := context.Background()
	s := New(kv.NewMemoryStore())

	require.NoError(t, s.Beat(ctx, Record{Name: "crawler-1", Status: StatusIdle}))
	require.NoError(t, s.Delete(ctx, "crawler-1"))

	got, err := s.Get(ctx, "crawler-1")
	require.NoError(t, err)
	assert.Empty(t, got.Name)
}
