// Package queue implements the durable priority task queue (spec.md §4.1,
// C2): push, pop, mark_done, mark_failed, requeue_delayed, plus the
// lease-timeout / deferred-task sweeper.
package queue

import "fmt"

// priorityCeiling bounds the priority component of the sort score so it
// never collides with the timestamp component. Priorities above this
// value still work but lose strict FIFO tie-breaking precision at the
// float64 boundary; spec.md's own convention (0/1/2) is far below it.
const priorityCeiling = 100

// priorityWeight separates priority buckets in the composite sort score.
const priorityWeight = 1e13

func taskKey(id string) string { return "task:" + id }

func pendingKey(label string) string { return fmt.Sprintf("queue:pending:%s", label) }

const deferredKey = "queue:deferred"
const claimedKey = "queue:claimed"

// score computes the pop-ordering score for a task: higher priority pops
// first, ties broken by oldest created_at (spec.md §4.1, invariant 5).
// Lower score == popped first (ZRANGE is ascending).
func score(priority int, createdAtUnixMilli int64) float64 {
	return float64(priorityCeiling-priority)*priorityWeight + float64(createdAtUnixMilli)
}
