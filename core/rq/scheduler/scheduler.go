// Package scheduler reads and drives the rq-scheduler sorted set.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cordum/rqadmin/core/rq"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultJobsKey = "rq:scheduler:scheduled_jobs"
	DefaultLockKey = "rq:scheduler:scheduler_lock"
	DefaultQueue   = "default"
)

// ErrNotScheduled is returned when an id is absent from the scheduled set.
var ErrNotScheduled = errors.New("scheduler: job not scheduled")

// Options selects the keys of one scheduler instance. Isolated schedulers on
// the same Redis server use distinct keys.
type Options struct {
	JobsKey        string
	LockKey        string
	Queue          string
	QueueClassName string
}

// Scheduler wraps the scheduled jobs sorted set, scored by run time.
type Scheduler struct {
	client         redis.UniversalClient
	jobsKey        string
	lockKey        string
	queue          string
	queueClassName string
}

func New(c redis.UniversalClient, opts Options) *Scheduler {
	s := &Scheduler{
		client:         c,
		jobsKey:        opts.JobsKey,
		lockKey:        opts.LockKey,
		queue:          opts.Queue,
		queueClassName: opts.QueueClassName,
	}
	if s.jobsKey == "" {
		s.jobsKey = DefaultJobsKey
	}
	if s.lockKey == "" {
		s.lockKey = DefaultLockKey
	}
	if s.queue == "" {
		s.queue = DefaultQueue
	}
	return s
}

func (s *Scheduler) JobsKey() string { return s.jobsKey }
func (s *Scheduler) LockKey() string { return s.lockKey }

// Entry is one scheduled job. Job is nil when its hash has expired.
type Entry struct {
	JobID string
	RunAt time.Time
	Job   *rq.Job
}

// Schedule saves job as scheduled and registers it to run at the given time.
// An empty queue means the scheduler's default queue.
func (s *Scheduler) Schedule(ctx context.Context, job *rq.Job, at time.Time, queue string) error {
	if job == nil {
		return errors.New("nil job")
	}
	if queue == "" {
		queue = s.queue
	}
	job.Origin = queue
	job.Status = rq.StatusScheduled
	if s.queueClassName != "" {
		if job.Meta == nil {
			job.Meta = map[string]any{}
		}
		job.Meta["queue_class_name"] = s.queueClassName
	}
	if err := job.Save(ctx, s.client); err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.jobsKey, redis.Z{Score: float64(at.Unix()), Member: job.ID}).Err()
}

// Count returns the number of scheduled jobs.
func (s *Scheduler) Count(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.jobsKey).Result()
}

// List returns scheduled jobs due up to until, earliest first. A zero until
// lists every job.
func (s *Scheduler) List(ctx context.Context, until time.Time) ([]Entry, error) {
	max := "+inf"
	if !until.IsZero() {
		max = strconv.FormatInt(until.Unix(), 10)
	}
	zs, err := s.client.ZRangeByScoreWithScores(ctx, s.jobsKey, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	ids := make([]string, 0, len(zs))
	for _, z := range zs {
		if id, ok := z.Member.(string); ok {
			ids = append(ids, id)
		}
	}
	jobs, err := rq.FetchMany(ctx, s.client, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*rq.Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}
	out := make([]Entry, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, Entry{JobID: id, RunAt: time.Unix(int64(z.Score), 0).UTC(), Job: byID[id]})
	}
	return out, nil
}

// Cancel removes id from the schedule. The job hash is left alone.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	n, err := s.client.ZRem(ctx, s.jobsKey, id).Result()
	if err != nil {
		return fmt.Errorf("cancel scheduled job %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotScheduled
	}
	return nil
}

// Discard cancels the job and deletes its hash from the scheduler's
// connection. A hash that is already gone is not an error.
func (s *Scheduler) Discard(ctx context.Context, id string) error {
	if err := s.Cancel(ctx, id); err != nil {
		return err
	}
	job, err := rq.Fetch(ctx, s.client, id)
	if errors.Is(err, rq.ErrNoSuchJob) {
		return nil
	}
	if err != nil {
		return err
	}
	return job.Delete(ctx, s.client)
}

// EnqueueNow moves a scheduled job onto its origin queue. Jobs carrying an
// "interval" meta are rescheduled for the next run, honouring "repeat".
func (s *Scheduler) EnqueueNow(ctx context.Context, id string) (*rq.Job, error) {
	if _, err := s.client.ZScore(ctx, s.jobsKey, id).Result(); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotScheduled
		}
		return nil, fmt.Errorf("lookup scheduled job %s: %w", id, err)
	}
	job, err := rq.Fetch(ctx, s.client, id)
	if err != nil {
		if errors.Is(err, rq.ErrNoSuchJob) {
			_ = s.client.ZRem(ctx, s.jobsKey, id).Err()
		}
		return nil, err
	}
	if err := s.client.ZRem(ctx, s.jobsKey, id).Err(); err != nil {
		return nil, fmt.Errorf("unschedule job %s: %w", id, err)
	}
	origin := job.Origin
	if origin == "" {
		origin = s.queue
	}
	if err := rq.NewQueue(origin, s.client).EnqueueJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.reschedule(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

func (s *Scheduler) reschedule(ctx context.Context, job *rq.Job) error {
	interval := metaInt(job.Meta, "interval")
	if interval <= 0 {
		return nil
	}
	if _, ok := job.Meta["repeat"]; ok {
		repeat := metaInt(job.Meta, "repeat")
		if repeat <= 0 {
			return nil
		}
		job.Meta["repeat"] = repeat - 1
		if err := job.Save(ctx, s.client); err != nil {
			return err
		}
	}
	next := time.Now().Add(time.Duration(interval) * time.Second)
	return s.client.ZAdd(ctx, s.jobsKey, redis.Z{Score: float64(next.Unix()), Member: job.ID}).Err()
}

func metaInt(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case interface{ Int64() (int64, error) }:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// LockStatus describes who holds the scheduler lock.
type LockStatus struct {
	Held  bool          `json:"held"`
	Owner string        `json:"owner,omitempty"`
	TTL   time.Duration `json:"ttl"`
}

// LockStatus reports whether a scheduler instance currently holds the lock.
func (s *Scheduler) LockStatus(ctx context.Context) (LockStatus, error) {
	owner, err := s.client.Get(ctx, s.lockKey).Result()
	if errors.Is(err, redis.Nil) {
		return LockStatus{}, nil
	}
	if err != nil {
		return LockStatus{}, fmt.Errorf("read scheduler lock: %w", err)
	}
	ttl, err := s.client.TTL(ctx, s.lockKey).Result()
	if err != nil {
		return LockStatus{}, fmt.Errorf("read scheduler lock ttl: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return LockStatus{Held: true, Owner: owner, TTL: ttl}, nil
}
