// Package progress implements the pipeline-progress store (spec.md §3.2,
// §3.4, §4.6, C3): per-entity phase/counter state and per-task structured
// status messages, both TTL-backed so stalled pipelines self-clean.
package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/codeready-toolchain/scout/pkg/kv"
)

// EntityTTL and TaskTTL match spec.md §3.2/§3.4 exactly.
const (
	EntityTTL = 24 * time.Hour
	TaskTTL   = 1 * time.Hour
)

// Phase values an entity progress record can carry. Transitions are not
// enforced (spec.md §4.6): the store records whatever phase is written.
const (
	PhaseAnalyzing   = "analyzing"
	PhaseCrawling    = "crawling"
	PhaseSummarizing = "summarizing"
	PhaseDone        = "done"
	PhaseError       = "error"
)

// Entity is the entity progress record, keyed by (entity_type, entity_id).
type Entity struct {
	Phase     string
	Total     int
	Done      int
	Step      string
	ErrorMsg  string
	UpdatedAt time.Time
}

// Store is a thin, TTL-aware wrapper over kv.Store for progress records.
type Store struct {
	kv kv.Store
}

// New builds a Store over kv.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

func entityKey(entityType, entityID string) string {
	return fmt.Sprintf("progress:entity:%s:%s", entityType, entityID)
}

func entityTaskSetKey(entityType, entityID string) string {
	return fmt.Sprintf("progress:entity:%s:%s:tasks", entityType, entityID)
}

func taskProgressKey(taskID string) string {
	return "progress:task:" + taskID
}

// SetEntityPhase writes phase only and refreshes updated_at + the 24h TTL;
// StartFanIn is the call that also sets total and done.
func (s *Store) SetEntityPhase(ctx context.Context, entityType, entityID, phase string) error {
	return s.UpdateEntity(ctx, entityType, entityID, map[string]string{"phase": phase})
}

// SetEntityError writes phase=error with the given message.
func (s *Store) SetEntityError(ctx context.Context, entityType, entityID, msg string) error {
	return s.UpdateEntity(ctx, entityType, entityID, map[string]string{
		"phase":     PhaseError,
		"error_msg": msg,
	})
}

// UpdateEntity merges fields into the entity progress hash, stamps
// updated_at, and refreshes the TTL.
func (s *Store) UpdateEntity(ctx context.Context, entityType, entityID string, fields map[string]string) error {
	merged := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	return s.kv.HSet(ctx, entityKey(entityType, entityID), merged, EntityTTL)
}

// StartFanIn records phase=crawling, total=N, done=0 (spec.md §4.3 step 3).
func (s *Store) StartFanIn(ctx context.Context, entityType, entityID string, total int) error {
	return s.UpdateEntity(ctx, entityType, entityID, map[string]string{
		"phase": PhaseCrawling,
		"total": strconv.Itoa(total),
		"done":  "0",
	})
}

// IncrDone atomically bumps the done counter by one (spec.md §4.3
// `hincr(progress, "done", 1)`) via kv.Store's HIncrBy, then refreshes
// updated_at and the TTL. The counter bump itself never races: two
// processes terminating sibling children concurrently both land on
// Redis HINCRBY, which serializes on the field, so neither increment is
// lost even though they run in independent processes (spec.md §5).
func (s *Store) IncrDone(ctx context.Context, entityType, entityID string) error {
	key := entityKey(entityType, entityID)
	if _, err := s.kv.HIncrBy(ctx, key, "done", 1); err != nil {
		return err
	}
	if err := s.kv.HSet(ctx, key, map[string]string{
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}, EntityTTL); err != nil {
		return err
	}
	return nil
}

// GetEntity reads the entity progress record. kv.ErrNotFound is never
// returned for a simply-missing record: HGetAll on an absent key just
// comes back empty, so callers distinguish "never written" from
// "written" by checking UpdatedAt.IsZero().
func (s *Store) GetEntity(ctx context.Context, entityType, entityID string) (Entity, error) {
	f, err := s.kv.HGetAll(ctx, entityKey(entityType, entityID))
	if err != nil {
		return Entity{}, err
	}
	e := Entity{
		Phase:    f["phase"],
		Step:     f["step"],
		ErrorMsg: f["error_msg"],
	}
	e.Total, _ = strconv.Atoi(f["total"])
	e.Done, _ = strconv.Atoi(f["done"])
	if f["updated_at"] != "" {
		if t, err := time.Parse(time.RFC3339Nano, f["updated_at"]); err == nil {
			e.UpdatedAt = t
		}
	}
	return e, nil
}

// ReplaceTaskIDs replaces the entity's task_ids set with ids and refreshes
// its 24h TTL. The replacement is a delete followed by an add, made as
// separate store calls, so it is not atomic: a reader between the two sees
// an empty set.
func (s *Store) ReplaceTaskIDs(ctx context.Context, entityType, entityID string, ids []string) error {
	key := entityTaskSetKey(entityType, entityID)
	if err := s.kv.Delete(ctx, key); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.kv.SAdd(ctx, key, ids...); err != nil {
		return err
	}
	return s.kv.Expire(ctx, key, EntityTTL)
}

// TaskIDs returns the entity's currently fanned-in child task ids.
func (s *Store) TaskIDs(ctx context.Context, entityType, entityID string) ([]string, error) {
	return s.kv.SMembers(ctx, entityTaskSetKey(entityType, entityID))
}

// DeleteEntityTaskSet removes the task_ids set (fan-in cleanup).
func (s *Store) DeleteEntityTaskSet(ctx context.Context, entityType, entityID string) error {
	return s.kv.Delete(ctx, entityTaskSetKey(entityType, entityID))
}

// SetTaskProgress writes a per-task structured status message with a 1h
// TTL (spec.md §3.4).
func (s *Store) SetTaskProgress(ctx context.Context, taskID string, fields map[string]string) error {
	merged := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	return s.kv.HSet(ctx, taskProgressKey(taskID), merged, TaskTTL)
}

// GetTaskProgress reads a per-task status message.
func (s *Store) GetTaskProgress(ctx context.Context, taskID string) (map[string]string, error) {
	return s.kv.HGetAll(ctx, taskProgressKey(taskID))
}

// DeleteTaskProgress removes a per-task status message (fan-in cleanup).
func (s *Store) DeleteTaskProgress(ctx context.Context, taskID string) error {
	return s.kv.Delete(ctx, taskProgressKey(taskID))
}
