package platform

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/codeready-toolchain/scout/pkg/fanin"
	"github.com/codeready-toolchain/scout/pkg/progress"
	"github.com/codeready-toolchain/scout/pkg/store"
	"github.com/codeready-toolchain/scout/pkg/task"
)

// Analyst implements the `analyst:analyze` / `analyst:summarize` labels
// (spec.md §6.2, §8 scenario S1) as plain agent.ExecuteFn values: analyze
// stages a fan-in continuation and fans a crawl out across one child task
// per discovered content id, and summarize reads back whatever the fanned-
// in crawlers persisted and finalizes the entity's progress phase.
//
// Analyze never calls an LLM directly — the ReAct executor is an
// alternative execution strategy an agent can pick (spec.md §4.2 step 3),
// not a requirement every analyst:analyze task goes through. A deployment
// that wants the LLM to choose which content ids to crawl sets
// DiscoverFn to a ReAct-backed implementation instead of the stub below.
type Analyst struct {
	FanIn    *fanin.Coordinator
	Progress *progress.Store
	Store    ContentLister

	// CrawlerLabel is the label analyze pushes child tasks under, e.g.
	// "crawler:x".
	CrawlerLabel string

	// DiscoverFn returns the platform content ids to crawl for an
	// entity. Defaults to discoverStub, a single deterministic id, so a
	// deployment without a search/discovery integration configured
	// still exercises the full analyze -> crawl -> summarize pipeline.
	DiscoverFn func(ctx context.Context, entityType, entityID string) ([]string, error)

	// SummaryLimit bounds how many persisted rows summarize reads back.
	SummaryLimit int
}

// ContentLister is the slice of *store.Client summarize needs.
type ContentLister interface {
	ListByTopic(ctx context.Context, topicID string, limit int) ([]store.Content, error)
}

func discoverStub(_ context.Context, _, entityID string) ([]string, error) {
	return []string{entityID + "-seed"}, nil
}

// Analyze is the analyst:analyze execute_fn (spec.md §8 S1): it stages a
// fan-in continuation to analyst:summarize before pushing any children,
// as spec.md §4.3 step order requires, then returns one crawler child
// task per discovered content id.
func (a *Analyst) Analyze(ctx context.Context, t *task.Task) (*task.Result, error) {
	entityType, entityID, ok := task.ExtractEntity(t.Payload)
	if !ok {
		return nil, fmt.Errorf("analyst:analyze: task %s carries no topic_id/user_id", t.ID)
	}

	if err := a.Progress.SetEntityPhase(ctx, entityType, entityID, progress.PhaseAnalyzing); err != nil {
		return nil, fmt.Errorf("analyst:analyze: set phase: %w", err)
	}

	discover := a.DiscoverFn
	if discover == nil {
		discover = discoverStub
	}
	contentIDs, err := discover(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("analyst:analyze: discover: %w", err)
	}

	children := make([]*task.Task, 0, len(contentIDs))
	for _, id := range contentIDs {
		payload, err := json.Marshal(childPayload{
			EntityType:        entityType,
			EntityID:          entityID,
			PlatformContentID: id,
		})
		if err != nil {
			return nil, fmt.Errorf("analyst:analyze: marshal child payload: %w", err)
		}
		children = append(children, task.New(a.crawlerLabel(), t.Priority, payload))
	}

	if err := a.FanIn.Stage(ctx, entityType, entityID, len(children), fanin.OnComplete{
		Label:     "analyst:summarize",
		Payload:   t.Payload,
		NextPhase: progress.PhaseSummarizing,
	}); err != nil {
		return nil, fmt.Errorf("analyst:analyze: stage fan-in: %w", err)
	}

	data, _ := json.Marshal(map[string]any{"status": "crawling", "child_count": len(children)})
	return &task.Result{Data: data, NewTasks: children}, nil
}

// Summarize is the analyst:summarize execute_fn: the fan-in continuation
// spec.md §8 S1 expects after every crawler child reaches a terminal
// state. It reads back whatever got persisted and finalizes the entity's
// progress phase to "done".
func (a *Analyst) Summarize(ctx context.Context, t *task.Task) (*task.Result, error) {
	entityType, entityID, ok := task.ExtractEntity(t.Payload)
	if !ok {
		return nil, fmt.Errorf("analyst:summarize: task %s carries no topic_id/user_id", t.ID)
	}

	limit := a.SummaryLimit
	if limit <= 0 {
		limit = 50
	}

	var rows []store.Content
	if entityType == "topic" && a.Store != nil {
		var err error
		rows, err = a.Store.ListByTopic(ctx, entityID, limit)
		if err != nil {
			return nil, fmt.Errorf("analyst:summarize: list content: %w", err)
		}
	}

	if err := a.Progress.SetEntityPhase(ctx, entityType, entityID, progress.PhaseDone); err != nil {
		return nil, fmt.Errorf("analyst:summarize: set phase: %w", err)
	}

	data, _ := json.Marshal(map[string]any{"status": "done", "content_count": len(rows)})
	return &task.Result{Data: data}, nil
}

func (a *Analyst) crawlerLabel() string {
	if a.CrawlerLabel != "" {
		return a.CrawlerLabel
	}
	return "crawler:x"
}

type childPayload struct {
	EntityType        string `json:"-"`
	EntityID          string `json:"-"`
	PlatformContentID string `json:"platform_content_id"`
	TopicID           string `json:"topic_id,omitempty"`
	UserID            string `json:"user_id,omitempty"`
}

// MarshalJSON fills TopicID/UserID from EntityType/EntityID so the
// precedence rule (task.ExtractEntity) sees the right key without the
// caller duplicating the branch.
func (p childPayload) MarshalJSON() ([]byte, error) {
	type alias childPayload
	a := alias(p)
	if p.EntityType == "topic" {
		a.TopicID = p.EntityID
	} else if p.EntityType == "user" {
		a.UserID = p.EntityID
	}
	return json.Marshal(a)
}
