package queue

import (
	"strconv"

	"github.com/codeready-toolchain/scout/pkg/kv"
)

// The seven compound atomic operations the queue needs. Each is expressed
// once as Lua (run via redis.(*Script).Run against a real Redis/miniredis
// server) and once as a native Go closure (run under MemoryStore's single
// mutex). Both must implement identical semantics; see registerScripts.

var scriptPush = kv.Script{Name: "queue.push", Source: `
local score = tonumber(ARGV[1])
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 2, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
local id = redis.call('HGET', KEYS[1], 'id')
redis.call('ZADD', KEYS[2], score, id)
return 1
`}

var scriptPop = kv.Script{Name: "queue.pop", Source: `
local n = #KEYS - 1
local bestKey, bestMember, bestScore = nil, nil, nil
for i = 1, n do
  local res = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
  if #res > 0 then
    local sc = tonumber(res[2])
    if bestScore == nil or sc < bestScore then
      bestScore, bestKey, bestMember = sc, KEYS[i], res[1]
    end
  end
end
if bestMember == nil then
  return false
end
redis.call('ZREM', bestKey, bestMember)
local taskKey = 'task:' .. bestMember
redis.call('HSET', taskKey, 'status', 'claimed', 'assigned_to', ARGV[1], 'started_at', ARGV[2])
redis.call('ZADD', KEYS[n+1], tonumber(ARGV[3]), bestMember)
return redis.call('HGETALL', taskKey)
`}

var scriptMarkDone = kv.Script{Name: "queue.mark_done", Source: `
redis.call('HSET', KEYS[1], 'status', 'completed', 'result', ARGV[1], 'completed_at', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[3])
return 1
`}

var scriptMarkFailed = kv.Script{Name: "queue.mark_failed", Source: `
local retry = tonumber(redis.call('HGET', KEYS[1], 'retry_count')) or 0
local maxRetry = tonumber(redis.call('HGET', KEYS[1], 'max_retries')) or 3
retry = retry + 1
redis.call('ZREM', KEYS[2], ARGV[3])
if retry >= maxRetry then
  redis.call('HSET', KEYS[1], 'status', 'failed', 'error', ARGV[1], 'retry_count', tostring(retry), 'completed_at', ARGV[2])
  return 'failed'
else
  redis.call('HSET', KEYS[1], 'status', 'pending', 'error', ARGV[1], 'retry_count', tostring(retry))
  redis.call('ZADD', KEYS[3], tonumber(ARGV[4]), ARGV[3])
  return 'pending'
end
`}

var scriptRequeueDelayed = kv.Script{Name: "queue.requeue_delayed", Source: `
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'status', 'deferred', 'queue_score', ARGV[3])
redis.call('ZADD', KEYS[3], tonumber(ARGV[2]), ARGV[1])
return 1
`}

var scriptSweepDeferred = kv.Script{Name: "queue.sweep_deferred", Source: `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local promoted = {}
for _, id in ipairs(due) do
  local taskKey = 'task:' .. id
  local label = redis.call('HGET', taskKey, 'label')
  local qscore = redis.call('HGET', taskKey, 'queue_score')
  if label and qscore and label ~= '' and qscore ~= '' then
    redis.call('ZADD', 'queue:pending:' .. label, tonumber(qscore), id)
    redis.call('HSET', taskKey, 'status', 'pending')
    redis.call('ZREM', KEYS[1], id)
    table.insert(promoted, id)
  end
end
return promoted
`}

var scriptReclaimExpired = kv.Script{Name: "queue.reclaim_expired", Source: `
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local reclaimed = {}
for _, id in ipairs(expired) do
  local taskKey = 'task:' .. id
  local retry = tonumber(redis.call('HGET', taskKey, 'retry_count')) or 0
  local maxRetry = tonumber(redis.call('HGET', taskKey, 'max_retries')) or 3
  local label = redis.call('HGET', taskKey, 'label')
  local qscore = redis.call('HGET', taskKey, 'queue_score')
  redis.call('ZREM', KEYS[1], id)
  retry = retry + 1
  if retry >= maxRetry then
    redis.call('HSET', taskKey, 'status', 'failed', 'error', 'lease timeout exceeded', 'retry_count', tostring(retry))
  else
    redis.call('HSET', taskKey, 'status', 'pending', 'retry_count', tostring(retry))
    if label and qscore and label ~= '' and qscore ~= '' then
      redis.call('ZADD', 'queue:pending:' .. label, tonumber(qscore), id)
    end
  end
  table.insert(reclaimed, id)
end
return reclaimed
`}

// registerScripts installs the native MemoryStore equivalents of the Lua
// sources above. Called once when a Queue is constructed over a
// *kv.MemoryStore.
func registerScripts(ms *kv.MemoryStore) {
	ms.RegisterScript(scriptPush.Name, memPush)
	ms.RegisterScript(scriptPop.Name, memPop)
	ms.RegisterScript(scriptMarkDone.Name, memMarkDone)
	ms.RegisterScript(scriptMarkFailed.Name, memMarkFailed)
	ms.RegisterScript(scriptRequeueDelayed.Name, memRequeueDelayed)
	ms.RegisterScript(scriptSweepDeferred.Name, memSweepDeferred)
	ms.RegisterScript(scriptReclaimExpired.Name, memReclaimExpired)
}

func argStr(a interface{}) string {
	s, _ := a.(string)
	return s
}

func memPush(s *kv.MemoryStore, keys []string, args []interface{}) (interface{}, error) {
	taskK, pendingK := keys[0], keys[1]
	if s.ScriptHExists(taskK) {
		return int64(0), nil
	}
	score, _ := strconv.ParseFloat(argStr(args[0]), 64)
	fields := make(map[string]string, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		fields[argStr(args[i])] = argStr(args[i+1])
	}
	s.ScriptHSet(taskK, fields)
	s.ScriptZAdd(pendingK, score, fields["id"])
	return int64(1), nil
}

func memPop(s *kv.MemoryStore, keys []string, args []interface{}) (interface{}, error) {
	n := len(keys) - 1
	labelKeys := keys[:n]
	claimedK := keys[n]
	_, member, _, ok := s.ScriptZPopMinAcross(labelKeys)
	if !ok {
		return nil, nil
	}
	taskK := taskKey(member)
	agent := argStr(args[0])
	startedAt := argStr(args[1])
	leaseScore, _ := strconv.ParseFloat(argStr(args[2]), 64)
	s.ScriptHSet(taskK, map[string]string{
		"status":      "claimed",
		"assigned_to": agent,
		"started_at":  startedAt,
	})
	s.ScriptZAdd(claimedK, leaseScore, member)
	return s.ScriptHGetAll(taskK), nil
}

func memMarkDone(s *kv.MemoryStore, keys []string, args []interface{}) (interface{}, error) {
	taskK, claimedK := keys[0], keys[1]
	s.ScriptHSet(taskK, map[string]string{
		"status":       "completed",
		"result":       argStr(args[0]),
		"completed_at": argStr(args[1]),
	})
	s.ScriptZRem(claimedK, argStr(args[2]))
	return int64(1), nil
}

func memMarkFailed(s *kv.MemoryStore, keys []string, args []interface{}) (interface{}, error) {
	taskK, claimedK, pendingK := keys[0], keys[1], keys[2]
	retry, _ := strconv.Atoi(fieldOr(s, taskK, "retry_count", "0"))
	maxRetry, _ := strconv.Atoi(fieldOr(s, taskK, "max_retries", "3"))
	retry++
	s.ScriptZRem(claimedK, argStr(args[2]))
	errMsg, completedAt, taskID := argStr(args[0]), argStr(args[1]), argStr(args[2])
	reenqueueScore, _ := strconv.ParseFloat(argStr(args[3]), 64)
	if retry >= maxRetry {
		s.ScriptHSet(taskK, map[string]string{
			"status":       "failed",
			"error":        errMsg,
			"retry_count":  strconv.Itoa(retry),
			"completed_at": completedAt,
		})
		return "failed", nil
	}
	s.ScriptHSet(taskK, map[string]string{
		"status":      "pending",
		"error":       errMsg,
		"retry_count": strconv.Itoa(retry),
	})
	s.ScriptZAdd(pendingK, reenqueueScore, taskID)
	return "pending", nil
}

func memRequeueDelayed(s *kv.MemoryStore, keys []string, args []interface{}) (interface{}, error) {
	taskK, claimedK, deferredK := keys[0], keys[1], keys[2]
	taskID := argStr(args[0])
	visibleAt, _ := strconv.ParseFloat(argStr(args[1]), 64)
	queueScore := argStr(args[2])
	s.ScriptZRem(claimedK, taskID)
	s.ScriptHSet(taskK, map[string]string{"status": "deferred", "queue_score": queueScore})
	s.ScriptZAdd(deferredK, visibleAt, taskID)
	return int64(1), nil
}

func memSweepDeferred(s *kv.MemoryStore, keys []string, args []interface{}) (interface{}, error) {
	deferredK := keys[0]
	now, _ := strconv.ParseFloat(argStr(args[0]), 64)
	limit, _ := strconv.ParseInt(argStr(args[1]), 10, 64)
	due := s.ScriptZRangeByScore(deferredK, negInf, now, limit)
	promoted := make([]string, 0, len(due))
	for _, id := range due {
		taskK := taskKey(id)
		label, hasLabel := s.ScriptHGet(taskK, "label")
		qscoreStr, hasScore := s.ScriptHGet(taskK, "queue_score")
		if !hasLabel || !hasScore || label == "" || qscoreStr == "" {
			continue
		}
		qscore, _ := strconv.ParseFloat(qscoreStr, 64)
		s.ScriptZAdd(pendingKey(label), qscore, id)
		s.ScriptHSet(taskK, map[string]string{"status": "pending"})
		s.ScriptZRem(deferredK, id)
		promoted = append(promoted, id)
	}
	return promoted, nil
}

func memReclaimExpired(s *kv.MemoryStore, keys []string, args []interface{}) (interface{}, error) {
	claimedK := keys[0]
	now, _ := strconv.ParseFloat(argStr(args[0]), 64)
	limit, _ := strconv.ParseInt(argStr(args[1]), 10, 64)
	expired := s.ScriptZRangeByScore(claimedK, negInf, now, limit)
	reclaimed := make([]string, 0, len(expired))
	for _, id := range expired {
		taskK := taskKey(id)
		retry, _ := strconv.Atoi(fieldOr(s, taskK, "retry_count", "0"))
		maxRetry, _ := strconv.Atoi(fieldOr(s, taskK, "max_retries", "3"))
		label, hasLabel := s.ScriptHGet(taskK, "label")
		qscoreStr, hasScore := s.ScriptHGet(taskK, "queue_score")
		s.ScriptZRem(claimedK, id)
		retry++
		if retry >= maxRetry {
			s.ScriptHSet(taskK, map[string]string{
				"status":      "failed",
				"error":       "lease timeout exceeded",
				"retry_count": strconv.Itoa(retry),
			})
		} else {
			s.ScriptHSet(taskK, map[string]string{
				"status":      "pending",
				"retry_count": strconv.Itoa(retry),
			})
			if hasLabel && hasScore && label != "" && qscoreStr != "" {
				qscore, _ := strconv.ParseFloat(qscoreStr, 64)
				s.ScriptZAdd(pendingKey(label), qscore, id)
			}
		}
		reclaimed = append(reclaimed, id)
	}
	return reclaimed, nil
}

func fieldOr(s *kv.MemoryStore, key, field, def string) string {
	v, ok := s.ScriptHGet(key, field)
	if !ok || v == "" {
		return def
	}
	return v
}

const negInf = -1e18
