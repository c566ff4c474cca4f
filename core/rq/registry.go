package rq

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RegistryKind names a per-queue lifecycle registry.
type RegistryKind string

const (
	RegistryStarted   RegistryKind = "wip"
	RegistryDeferred  RegistryKind = "deferred"
	RegistryScheduled RegistryKind = "scheduled"
	RegistryFinished  RegistryKind = "finished"
	RegistryFailed    RegistryKind = "failed"
)

// RegistryKinds lists registries in the order jobs are enumerated.
var RegistryKinds = []RegistryKind{
	RegistryStarted, RegistryDeferred, RegistryScheduled, RegistryFinished, RegistryFailed,
}

// DefaultFailureTTL is how long jobs moved to the failed registry are kept.
const DefaultFailureTTL = 365 * 24 * time.Hour

func RegistryKey(kind RegistryKind, queue string) string {
	return "rq:" + string(kind) + ":" + queue
}

// Registry is a sorted set of job ids scored by expiry (or run time for
// the scheduled registry).
type Registry struct {
	Kind   RegistryKind
	Queue  string
	client redis.Cmdable
}

func NewRegistry(kind RegistryKind, queue string, c redis.Cmdable) *Registry {
	return &Registry{Kind: kind, Queue: queue, client: c}
}

func (r *Registry) Key() string { return RegistryKey(r.Kind, r.Queue) }

func (r *Registry) Count(ctx context.Context) (int64, error) {
	n, err := r.client.ZCard(ctx, r.Key()).Result()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.Key(), err)
	}
	return n, nil
}

func (r *Registry) JobIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.ZRange(ctx, r.Key(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.Key(), err)
	}
	return ids, nil
}

// Add records id with the given score; a zero time means never expires.
func (r *Registry) Add(ctx context.Context, id string, at time.Time) error {
	score := math.Inf(1)
	if !at.IsZero() {
		score = float64(at.Unix())
	}
	return r.client.ZAdd(ctx, r.Key(), redis.Z{Score: score, Member: id}).Err()
}

func (r *Registry) Remove(ctx context.Context, id string) error {
	return r.client.ZRem(ctx, r.Key(), id).Err()
}

// Cleanup drops entries that expired before now. Expired started jobs are
// marked failed and moved to the failed registry. Deferred and scheduled
// registries are never cleaned. Returns the number of entries removed.
func (r *Registry) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	switch r.Kind {
	case RegistryDeferred, RegistryScheduled:
		return 0, nil
	}
	max := strconv.FormatInt(now.Unix(), 10)
	ids, err := r.client.ZRangeByScore(ctx, r.Key(), &redis.ZRangeBy{Min: "0", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("cleanup %s: %w", r.Key(), err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if r.Kind == RegistryStarted {
		if err := r.failExpired(ctx, ids, now); err != nil {
			return 0, err
		}
	}
	n, err := r.client.ZRemRangeByScore(ctx, r.Key(), "0", max).Result()
	if err != nil {
		return 0, fmt.Errorf("cleanup %s: %w", r.Key(), err)
	}
	return n, nil
}

func (r *Registry) failExpired(ctx context.Context, ids []string, now time.Time) error {
	jobs, err := FetchMany(ctx, r.client, ids)
	if err != nil {
		return err
	}
	failed := NewRegistry(RegistryFailed, r.Queue, r.client)
	pipe := r.client.TxPipeline()
	for _, j := range jobs {
		j.Status = StatusFailed
		if j.EndedAt.IsZero() {
			j.EndedAt = now.UTC()
		}
		j.ExcInfo = "Moved to FailedJobRegistry at " + FormatTime(now)
		if err := j.saveTo(ctx, pipe); err != nil {
			return err
		}
		pipe.ZAdd(ctx, failed.Key(), redis.Z{Score: float64(now.Add(DefaultFailureTTL).Unix()), Member: j.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("move expired jobs to %s: %w", failed.Key(), err)
	}
	return nil
}

// CleanRegistries runs Cleanup on the started, finished and failed
// registries of q.
func CleanRegistries(ctx context.Context, q *Queue) error {
	now := time.Now()
	for _, kind := range []RegistryKind{RegistryStarted, RegistryFinished, RegistryFailed} {
		if _, err := q.Registry(kind).Cleanup(ctx, now); err != nil {
			return err
		}
	}
	return nil
}

// CleanWorkerRegistry drops worker keys registered for q whose hash no
// longer exists.
func CleanWorkerRegistry(ctx context.Context, q *Queue) error {
	key := QueueWorkersKey(q.Name)
	members, err := q.client.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("list workers of %s: %w", q.Name, err)
	}
	if len(members) == 0 {
		return nil
	}
	pipe := q.client.Pipeline()
	exists := make([]*redis.IntCmd, len(members))
	for i, m := range members {
		exists[i] = pipe.Exists(ctx, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("check workers of %s: %w", q.Name, err)
	}
	var dead []any
	for i, m := range members {
		if exists[i].Val() == 0 {
			dead = append(dead, m)
		}
	}
	if len(dead) == 0 {
		return nil
	}
	pipe = q.client.TxPipeline()
	pipe.SRem(ctx, WorkersKey, dead...)
	pipe.SRem(ctx, key, dead...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("prune workers of %s: %w", q.Name, err)
	}
	return nil
}
