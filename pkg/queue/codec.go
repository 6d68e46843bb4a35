package queue

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/codeready-toolchain/scout/pkg/task"
)

const timeLayout = time.RFC3339Nano

func toFields(t *task.Task) map[string]string {
	f := map[string]string{
		"id":          t.ID,
		"label":       t.Label,
		"priority":    strconv.Itoa(t.Priority),
		"status":      string(t.Status),
		"payload":     string(t.Payload),
		"created_at":  t.CreatedAt.Format(timeLayout),
		"retry_count": strconv.Itoa(t.RetryCount),
		"max_retries": strconv.Itoa(t.MaxRetries),
	}
	if t.ParentJobID != "" {
		f["parent_job_id"] = t.ParentJobID
	}
	if t.FromAgent != "" {
		f["from_agent"] = t.FromAgent
	}
	if t.AssignedTo != "" {
		f["assigned_to"] = t.AssignedTo
	}
	if t.StartedAt != nil {
		f["started_at"] = t.StartedAt.Format(timeLayout)
	}
	if t.CompletedAt != nil {
		f["completed_at"] = t.CompletedAt.Format(timeLayout)
	}
	if t.Error != "" {
		f["error"] = t.Error
	}
	if len(t.Result) > 0 {
		f["result"] = string(t.Result)
	}
	f["queue_score"] = strconv.FormatFloat(score(t.Priority, t.CreatedAt.UnixMilli()), 'f', -1, 64)
	return f
}

func fromFields(f map[string]string) (*task.Task, error) {
	if f["id"] == "" {
		return nil, ErrTaskNotFound
	}
	priority, _ := strconv.Atoi(f["priority"])
	retryCount, _ := strconv.Atoi(f["retry_count"])
	maxRetries, _ := strconv.Atoi(f["max_retries"])
	createdAt, err := time.Parse(timeLayout, f["created_at"])
	if err != nil {
		return nil, err
	}
	t := &task.Task{
		ID:          f["id"],
		Label:       f["label"],
		Priority:    priority,
		Status:      task.Status(f["status"]),
		Payload:     json.RawMessage(f["payload"]),
		ParentJobID: f["parent_job_id"],
		FromAgent:   f["from_agent"],
		AssignedTo:  f["assigned_to"],
		CreatedAt:   createdAt,
		RetryCount:  retryCount,
		MaxRetries:  maxRetries,
		Error:       f["error"],
	}
	if f["started_at"] != "" {
		if v, err := time.Parse(timeLayout, f["started_at"]); err == nil {
			t.StartedAt = &v
		}
	}
	if f["completed_at"] != "" {
		if v, err := time.Parse(timeLayout, f["completed_at"]); err == nil {
			t.CompletedAt = &v
		}
	}
	if f["result"] != "" {
		t.Result = json.RawMessage(f["result"])
	}
	return t, nil
}

func fieldsToArgs(f map[string]string) []interface{} {
	args := make([]interface{}, 0, len(f)*2)
	for k, v := range f {
		args = append(args, k, v)
	}
	return args
}
