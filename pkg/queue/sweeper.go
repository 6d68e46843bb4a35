package queue

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

// sweepBatchLimit bounds how many deferred/expired tasks one sweep tick
// promotes, so a large backlog can't monopolize a tick.
const sweepBatchLimit = 500

// RunSweeper promotes due deferred tasks and reclaims expired leases on
// every tick until ctx is cancelled. One sweeper per queue is enough
// regardless of worker count: the operations it drives (ZRANGEBYSCORE +
// ZADD/ZREM) are idempotent and safe to run from a single goroutine,
// mirroring tarsy's pkg/queue/pool.go orphan-detection loop.
func (q *Queue) RunSweeper(ctx context.Context, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.sweepOnce(ctx, log)
		}
	}
}

func (q *Queue) sweepOnce(ctx context.Context, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	now := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)

	if promoted, err := q.store.Eval(ctx, scriptSweepDeferred, []string{deferredKey}, now, strconv.Itoa(sweepBatchLimit)); err != nil {
		log.Error("sweep deferred tasks failed", "error", err)
	} else if ids := stringList(promoted); len(ids) > 0 {
		log.Debug("promoted deferred tasks", "count", len(ids))
	}

	if reclaimed, err := q.store.Eval(ctx, scriptReclaimExpired, []string{claimedKey}, now, strconv.Itoa(sweepBatchLimit)); err != nil {
		log.Error("reclaim expired leases failed", "error", err)
	} else if ids := stringList(reclaimed); len(ids) > 0 {
		log.Warn("reclaimed expired task leases", "count", len(ids), "ids", ids)
	}
}

func stringList(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			out = append(out, toStr(e))
		}
		return out
	default:
		return nil
	}
}
