// Package kv abstracts the atomic key/value surface the task queue,
// progress store, heartbeat store, and fan-in coordinator all sit on
// (spec.md §4.7 "External Interfaces" / "KV store").
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a hash/key lookup misses.
var ErrNotFound = errors.New("kv: not found")

// Script names a compound atomic operation (push-if-absent, pop-best-
// across-labels, mark-failed-with-threshold, ...) together with its Lua
// source for the Redis backend. The in-memory backend switches on Name
// and implements the same operation natively under a mutex; it never
// interprets Source. Every caller goes through Eval so neither backend
// choice leaks into pkg/queue, pkg/fanin, or pkg/progress.
type Script struct {
	Name   string
	Source string
}

// Store is the minimal atomic surface the core needs from a KV backend.
// A Redis-backed implementation and an in-memory implementation both
// satisfy this interface; callers must not assume which.
type Store interface {
	// Hash operations (per-entity / per-task records).
	HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HDel(ctx context.Context, key string, fields ...string) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Set operations (entity task-id sets).
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SRem(ctx context.Context, key string, members ...string) error
	Delete(ctx context.Context, key string) error

	// Atomic counters (fan-in pending counts).
	Incr(ctx context.Context, key string, delta int64) (int64, error)

	// Simple string get/set with TTL (on_complete continuation spec, locks).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	GetDel(ctx context.Context, key string) (string, bool, error)

	// Sorted-set operations back the priority queue's pending/deferred/
	// claimed indices.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)

	// Eval runs a named compound atomic operation. See the Script* values
	// in pkg/queue (scripts.go) for the concrete operations and their
	// keys/args contracts.
	Eval(ctx context.Context, script Script, keys []string, args ...interface{}) (interface{}, error)

	// Close releases backend resources.
	Close() error
}
