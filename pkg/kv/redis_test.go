package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/scout/pkg/kv"
)

// newTestStore starts an in-process miniredis server and wraps it in a
// RedisStore, so the Store contract is exercised against real Redis
// semantics (TTL expiry, sorted-set scoring, EVAL) without a network
// dependency in CI.
func newTestStore(t *testing.T) *kv.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return kv.NewRedisStore(client)
}

func TestRedisStore_HashRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.HSet(ctx, "task:1", map[string]string{"status": "pending", "label": "crawler:x"}, time.Hour)
	require.NoError(t, err)

	got, err := store.HGetAll(ctx, "task:1")
	require.NoError(t, err)
	require.Equal(t, "pending", got["status"])
	require.Equal(t, "crawler:x", got["label"])

	require.NoError(t, store.HDel(ctx, "task:1", "label"))
	got, err = store.HGetAll(ctx, "task:1")
	require.NoError(t, err)
	_, ok := got["label"]
	require.False(t, ok)
}

func TestRedisStore_HSetAppliesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kv.NewRedisStore(client)
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "progress:topic:1", map[string]string{"phase": "crawling"}, 50*time.Millisecond))

	got, err := store.HGetAll(ctx, "progress:topic:1")
	require.NoError(t, err)
	require.Equal(t, "crawling", got["phase"])

	// miniredis only expires keys when its clock is advanced.
	mr.FastForward(100 * time.Millisecond)
	got, err = store.HGetAll(ctx, "progress:topic:1")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestRedisStore_SetMembership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SAdd(ctx, "entity:topic:1:tasks", "a", "b", "c"))
	members, err := store.SMembers(ctx, "entity:topic:1:tasks")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c"}, members)

	require.NoError(t, store.SRem(ctx, "entity:topic:1:tasks", "b"))
	members, err = store.SMembers(ctx, "entity:topic:1:tasks")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "c"}, members)

	require.NoError(t, store.Delete(ctx, "entity:topic:1:tasks"))
	members, err = store.SMembers(ctx, "entity:topic:1:tasks")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestRedisStore_IncrDecr(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.Incr(ctx, "pending:topic:1", 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	n, err = store.Incr(ctx, "pending:topic:1", -1)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestRedisStore_GetSetDel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "on_complete:topic:1")
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, store.Set(ctx, "on_complete:topic:1", `{"label":"analyst:summarize"}`, time.Hour))
	v, err := store.Get(ctx, "on_complete:topic:1")
	require.NoError(t, err)
	require.Equal(t, `{"label":"analyst:summarize"}`, v)

	got, found, err := store.GetDel(ctx, "on_complete:topic:1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, `{"label":"analyst:summarize"}`, got)

	_, found, err = store.GetDel(ctx, "on_complete:topic:1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRedisStore_SortedSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ZAdd(ctx, "queue:pending:crawler:x", 100, "t1"))
	require.NoError(t, store.ZAdd(ctx, "queue:pending:crawler:x", 50, "t2"))
	require.NoError(t, store.ZAdd(ctx, "queue:pending:crawler:x", 200, "t3"))

	members, err := store.ZRangeByScore(ctx, "queue:pending:crawler:x", 0, 150, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"t2", "t1"}, members)

	require.NoError(t, store.ZRem(ctx, "queue:pending:crawler:x", "t2"))
	members, err = store.ZRangeByScore(ctx, "queue:pending:crawler:x", 0, 1000, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t3"}, members)
}

// TestRedisStore_Eval exercises the Lua plumbing with a minimal script,
// independent of any specific pkg/queue script body (those are
// unexported and covered by their own package's tests against an
// in-memory store).
func TestRedisStore_Eval(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	script := kv.Script{Name: "test.incr_and_get", Source: `
redis.call('INCRBY', KEYS[1], ARGV[1])
return redis.call('GET', KEYS[1])
`}
	out, err := store.Eval(ctx, script, []string{"counter:1"}, 5)
	require.NoError(t, err)
	require.Equal(t, "5", out)

	out, err = store.Eval(ctx, script, []string{"counter:1"}, 3)
	require.NoError(t, err)
	require.Equal(t, "8", out)
}

func TestRedisStore_Close(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
}
