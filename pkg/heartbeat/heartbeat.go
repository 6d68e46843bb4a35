// Package heartbeat implements the per-agent liveness record (spec.md
// §3.5, C4): a self-expiring TTL key refreshed by the agent runtime's
// background ticker, modeled on tarsy's worker heartbeat updater.
package heartbeat

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/codeready-toolchain/scout/pkg/kv"
)

// TTL and RefreshInterval match spec.md §3.5 exactly.
const (
	TTL             = 30 * time.Second
	RefreshInterval = 10 * time.Second
)

// Status values for Record.Status.
const (
	StatusIdle = "idle"
	StatusBusy = "busy"
)

// Record is one agent's liveness snapshot.
type Record struct {
	Name             string
	Labels           []string
	Status           string
	CurrentTaskID    string
	CurrentTaskLabel string
	TasksCompleted   int
	TasksFailed      int
	StartedAt        time.Time
	LastHeartbeat    time.Time
}

// Store wraps kv.Store with the heartbeat key/field contract.
type Store struct {
	kv kv.Store
}

// New builds a Store over kv.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

func key(agentName string) string { return "heartbeat:" + agentName }

// Beat writes rec with TTL, stamping LastHeartbeat to now.
func (s *Store) Beat(ctx context.Context, rec Record) error {
	rec.LastHeartbeat = time.Now().UTC()
	fields := map[string]string{
		"name":               rec.Name,
		"labels":             strings.Join(rec.Labels, ","),
		"status":             rec.Status,
		"current_task_id":    rec.CurrentTaskID,
		"current_task_label": rec.CurrentTaskLabel,
		"tasks_completed":    strconv.Itoa(rec.TasksCompleted),
		"tasks_failed":       strconv.Itoa(rec.TasksFailed),
		"started_at":         rec.StartedAt.Format(time.RFC3339Nano),
		"last_heartbeat":     rec.LastHeartbeat.Format(time.RFC3339Nano),
	}
	return s.kv.HSet(ctx, key(rec.Name), fields, TTL)
}

// Get reads an agent's current heartbeat record. A zero-value, non-error
// result (empty Name) means the key has expired or was never written.
func (s *Store) Get(ctx context.Context, agentName string) (Record, error) {
	f, err := s.kv.HGetAll(ctx, key(agentName))
	if err != nil {
		return Record{}, err
	}
	r := Record{
		Name:             f["name"],
		Status:           f["status"],
		CurrentTaskID:    f["current_task_id"],
		CurrentTaskLabel: f["current_task_label"],
	}
	if f["labels"] != "" {
		r.Labels = strings.Split(f["labels"], ",")
	}
	r.TasksCompleted, _ = strconv.Atoi(f["tasks_completed"])
	r.TasksFailed, _ = strconv.Atoi(f["tasks_failed"])
	if f["started_at"] != "" {
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, f["started_at"])
	}
	if f["last_heartbeat"] != "" {
		r.LastHeartbeat, _ = time.Parse(time.RFC3339Nano, f["last_heartbeat"])
	}
	return r, nil
}

// Delete removes the heartbeat record (called on graceful shutdown, after
// the last in-flight task is accounted for — spec.md §4.2 "the heartbeat
// loop is cancelled last").
func (s *Store) Delete(ctx context.Context, agentName string) error {
	return s.kv.Delete(ctx, key(agentName))
}
