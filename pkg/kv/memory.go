package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store implementation. It is used for unit
// tests and for single-process deployments that don't need a shared
// Redis instance. It satisfies the exact same Store interface as
// RedisStore, and the design note in spec.md §9 ("preserve atomic
// semantics regardless of KV backend") holds here too: every mutating
// method takes the store's single mutex for its whole duration.
type MemoryStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	expiry  map[string]time.Time
	sets    map[string]map[string]struct{}
	strings map[string]string
	zsets   map[string]map[string]float64

	// evalFuncs lets callers register native Go implementations for named
	// scripts (pkg/queue registers its scripts from queue.New).
	evalFuncs map[string]EvalFunc
}

// EvalFunc is the native equivalent of a Lua Script.Source, used by
// MemoryStore in place of interpreting Lua.
type EvalFunc func(s *MemoryStore, keys []string, args []interface{}) (interface{}, error)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hashes:    make(map[string]map[string]string),
		expiry:    make(map[string]time.Time),
		sets:      make(map[string]map[string]struct{}),
		strings:   make(map[string]string),
		zsets:     make(map[string]map[string]float64),
		evalFuncs: make(map[string]EvalFunc),
	}
}

// RegisterScript installs the native implementation for a named Script.
// Packages that define a Script (pkg/queue) call this from their
// constructor so MemoryStore-backed tests exercise the exact
// same operation Redis would run via Lua.
func (s *MemoryStore) RegisterScript(name string, fn EvalFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evalFuncs[name] = fn
}

func (s *MemoryStore) expired(key string) bool {
	t, ok := s.expiry[key]
	return ok && time.Now().After(t)
}

func (s *MemoryStore) purgeIfExpired(key string) {
	if s.expired(key) {
		delete(s.hashes, key)
		delete(s.strings, key)
		delete(s.sets, key)
		delete(s.zsets, key)
		delete(s.expiry, key)
	}
}

func (s *MemoryStore) HSet(_ context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpired(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	if ttl > 0 {
		s.expiry[key] = time.Now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpired(key)
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out, nil
}

// HIncrBy adjusts one hash field by delta under the store's single mutex,
// the in-memory equivalent of Redis HINCRBY.
func (s *MemoryStore) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpired(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	v := parseIntDefault(h[field], 0) + delta
	h[field] = formatInt(v)
	return v, nil
}

func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.hashes[key]
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.hashes, key)
		delete(s.strings, key)
		delete(s.sets, key)
		delete(s.zsets, key)
		delete(s.expiry, key)
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error { return s.Del(ctx, key) }

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry[key] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpired(key)
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	for _, m := range members {
		delete(set, m)
	}
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrLocked(key, delta), nil
}

func (s *MemoryStore) incrLocked(key string, delta int64) int64 {
	v := parseIntDefault(s.strings[key], 0)
	v += delta
	s.strings[key] = formatInt(v)
	return v
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = value
	if ttl > 0 {
		s.expiry[key] = time.Now().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpired(key)
	v, ok := s.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) GetDel(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeIfExpired(key)
	v, ok := s.strings[key]
	if ok {
		delete(s.strings, key)
		delete(s.expiry, key)
	}
	return v, ok, nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zAddLocked(key, score, member)
	return nil
}

func (s *MemoryStore) zAddLocked(key string, score float64, member string) {
	z, ok := s.zsets[key]
	if !ok {
		z = make(map[string]float64)
		s.zsets[key] = z
	}
	z[member] = score
}

func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	z := s.zsets[key]
	for _, m := range members {
		delete(z, m)
	}
	return nil
}

func (s *MemoryStore) ZRangeByScore(_ context.Context, key string, min, max float64, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zRangeByScoreLocked(key, min, max, limit), nil
}

func (s *MemoryStore) zRangeByScoreLocked(key string, min, max float64, limit int64) []string {
	type kv struct {
		member string
		score  float64
	}
	all := make([]kv, 0, len(s.zsets[key]))
	for m, sc := range s.zsets[key] {
		if sc >= min && sc <= max {
			all = append(all, kv{m, sc})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score < all[j].score
		}
		return all[i].member < all[j].member
	})
	if limit > 0 && int64(len(all)) > limit {
		all = all[:limit]
	}
	out := make([]string, len(all))
	for i, e := range all {
		out[i] = e.member
	}
	return out
}

func (s *MemoryStore) Eval(ctx context.Context, script Script, keys []string, args ...interface{}) (interface{}, error) {
	s.mu.Lock()
	fn, ok := s.evalFuncs[script.Name]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s, keys, args)
}

func (s *MemoryStore) Close() error { return nil }

// --- Script* helpers -------------------------------------------------
//
// These are the primitives EvalFunc implementations (registered by
// pkg/queue) use to build compound atomic operations. They
// assume the caller already holds s.mu — which Eval guarantees — and must
// never be called outside of an EvalFunc.

// ScriptHGet reads one hash field.
func (s *MemoryStore) ScriptHGet(key, field string) (string, bool) {
	s.purgeIfExpired(key)
	v, ok := s.hashes[key][field]
	return v, ok
}

// ScriptHExists reports whether the hash key exists at all (used for
// idempotent push).
func (s *MemoryStore) ScriptHExists(key string) bool {
	s.purgeIfExpired(key)
	_, ok := s.hashes[key]
	return ok
}

// ScriptHGetAll returns a copy of an entire hash.
func (s *MemoryStore) ScriptHGetAll(key string) map[string]string {
	s.purgeIfExpired(key)
	out := make(map[string]string, len(s.hashes[key]))
	for k, v := range s.hashes[key] {
		out[k] = v
	}
	return out
}

// ScriptHSet merges fields into the hash, creating it if absent.
func (s *MemoryStore) ScriptHSet(key string, fields map[string]string) {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
}

// ScriptDel deletes keys across all namespaces.
func (s *MemoryStore) ScriptDel(keys ...string) {
	for _, key := range keys {
		delete(s.hashes, key)
		delete(s.strings, key)
		delete(s.sets, key)
		delete(s.zsets, key)
		delete(s.expiry, key)
	}
}

// ScriptZAdd adds/updates one sorted-set member.
func (s *MemoryStore) ScriptZAdd(key string, score float64, member string) {
	s.zAddLocked(key, score, member)
}

// ScriptZRem removes members from a sorted set.
func (s *MemoryStore) ScriptZRem(key string, members ...string) {
	z := s.zsets[key]
	for _, m := range members {
		delete(z, m)
	}
}

// ScriptZRangeByScore returns members with min<=score<=max, ascending,
// capped at limit (0 = unlimited).
func (s *MemoryStore) ScriptZRangeByScore(key string, min, max float64, limit int64) []string {
	return s.zRangeByScoreLocked(key, min, max, limit)
}

// ScriptZPopMinAcross finds the globally-lowest-scored member across all
// given sorted sets, removes it from whichever set held it, and returns
// it. This is the in-memory equivalent of the Redis pop Lua script's
// cross-label ZRANGE/ZREM loop.
func (s *MemoryStore) ScriptZPopMinAcross(keys []string) (key, member string, score float64, ok bool) {
	bestScore := 0.0
	bestKey, bestMember := "", ""
	found := false
	for _, k := range keys {
		for m, sc := range s.zsets[k] {
			if !found || sc < bestScore || (sc == bestScore && m < bestMember) {
				bestScore, bestKey, bestMember, found = sc, k, m, true
			}
		}
	}
	if !found {
		return "", "", 0, false
	}
	delete(s.zsets[bestKey], bestMember)
	return bestKey, bestMember, bestScore, true
}

// ScriptIncr adjusts a counter and returns the new value.
func (s *MemoryStore) ScriptIncr(key string, delta int64) int64 {
	return s.incrLocked(key, delta)
}

// ScriptSAdd adds members to a set.
func (s *MemoryStore) ScriptSAdd(key string, members ...string) {
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
}

// ScriptSMembers returns all members of a set, sorted for determinism.
func (s *MemoryStore) ScriptSMembers(key string) []string {
	out := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ScriptGetDel reads and deletes a string key atomically.
func (s *MemoryStore) ScriptGetDel(key string) (string, bool) {
	s.purgeIfExpired(key)
	v, ok := s.strings[key]
	if ok {
		delete(s.strings, key)
		delete(s.expiry, key)
	}
	return v, ok
}

// ScriptSet writes a string key with optional TTL.
func (s *MemoryStore) ScriptSet(key, value string, ttl time.Duration) {
	s.strings[key] = value
	if ttl > 0 {
		s.expiry[key] = time.Now().Add(ttl)
	}
}
