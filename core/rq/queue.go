package rq

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue is a handle on rq:queue:<name>.
type Queue struct {
	Name   string
	client redis.UniversalClient
}

func NewQueue(name string, c redis.UniversalClient) *Queue {
	return &Queue{Name: name, client: c}
}

func (q *Queue) Key() string { return QueueKey(q.Name) }

// Client returns the connection the queue lives on.
func (q *Queue) Client() redis.UniversalClient { return q.client }

func (q *Queue) Count(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.Key()).Result()
	if err != nil {
		return 0, fmt.Errorf("count queue %s: %w", q.Name, err)
	}
	return n, nil
}

// JobIDs returns every queued job id in queue order.
func (q *Queue) JobIDs(ctx context.Context) ([]string, error) {
	ids, err := q.client.LRange(ctx, q.Key(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list queue %s: %w", q.Name, err)
	}
	return ids, nil
}

// Jobs fetches every queued job that still exists.
func (q *Queue) Jobs(ctx context.Context) ([]*Job, error) {
	ids, err := q.JobIDs(ctx)
	if err != nil {
		return nil, err
	}
	return FetchMany(ctx, q.client, ids)
}

// Empty deletes every queued job hash and the queue list. Returns the
// number of jobs removed.
func (q *Queue) Empty(ctx context.Context) (int64, error) {
	ids, err := q.JobIDs(ctx)
	if err != nil {
		return 0, err
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, JobKey(id), DependentsKey(id))
	}
	pipe.Del(ctx, q.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("empty queue %s: %w", q.Name, err)
	}
	return int64(len(ids)), nil
}

// Remove drops id from the queue list without touching the job hash.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.client.LRem(ctx, q.Key(), 0, id).Err()
}

func (q *Queue) Registry(kind RegistryKind) *Registry {
	return NewRegistry(kind, q.Name, q.client)
}

func (q *Queue) StartedJobRegistry() *Registry   { return q.Registry(RegistryStarted) }
func (q *Queue) DeferredJobRegistry() *Registry  { return q.Registry(RegistryDeferred) }
func (q *Queue) ScheduledJobRegistry() *Registry { return q.Registry(RegistryScheduled) }
func (q *Queue) FinishedJobRegistry() *Registry  { return q.Registry(RegistryFinished) }
func (q *Queue) FailedJobRegistry() *Registry    { return q.Registry(RegistryFailed) }

// WorkerCount is the number of workers registered for this queue.
func (q *Queue) WorkerCount(ctx context.Context) (int64, error) {
	n, err := q.client.SCard(ctx, QueueWorkersKey(q.Name)).Result()
	if err != nil {
		return 0, fmt.Errorf("count workers of %s: %w", q.Name, err)
	}
	return n, nil
}

// EnqueueJob saves job as queued on this queue and appends it to the list.
func (q *Queue) EnqueueJob(ctx context.Context, job *Job) error {
	job.Origin = q.Name
	job.Status = StatusQueued
	job.EnqueuedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.EnqueuedAt
	}
	pipe := q.client.TxPipeline()
	if err := job.saveTo(ctx, pipe); err != nil {
		return err
	}
	pipe.SAdd(ctx, QueuesKey, q.Key())
	pipe.RPush(ctx, q.Key(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s on %s: %w", job.ID, q.Name, err)
	}
	return nil
}
