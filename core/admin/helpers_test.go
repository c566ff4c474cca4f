package admin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cordum/rqadmin/core/infra/bus"
	"github.com/cordum/rqadmin/core/infra/redisutil"
	"github.com/cordum/rqadmin/core/rq"
	"github.com/cordum/rqadmin/core/rq/scheduler"
	"github.com/redis/go-redis/v9"
)

type recordingMetrics struct {
	mu       sync.Mutex
	cleared  []string
	requeued []string
	deleted  []string
	invalid  []string
}

func (m *recordingMetrics) IncQueuesCleared(q string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, q)
}

func (m *recordingMetrics) IncJobsRequeued(q, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeued = append(m.requeued, q+":"+status)
}

func (m *recordingMetrics) IncJobsDeleted(q string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, q)
}

func (m *recordingMetrics) IncInvalidJobs(q string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalid = append(m.invalid, q)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *recordingPublisher) PublishEvent(ev bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Kind
	}
	return out
}

type fixture struct {
	srv     *miniredis.Miniredis
	main    *redis.Client
	other   *redis.Client
	admin   *Admin
	metrics *recordingMetrics
	events  *recordingPublisher
}

// newFixture wires "default" and "high" on db 0 and "low" on db 1 of one
// miniredis server.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(srv.Close)
	mainOpts := &redis.Options{Addr: srv.Addr()}
	otherOpts := &redis.Options{Addr: srv.Addr(), DB: 1}
	main := redis.NewClient(mainOpts)
	other := redis.NewClient(otherOpts)
	t.Cleanup(func() {
		_ = main.Close()
		_ = other.Close()
	})
	mainConn := &Connection{Info: redisutil.InfoFromOptions(mainOpts), Client: main}
	dupConn := &Connection{Info: redisutil.InfoFromOptions(mainOpts), Client: main}
	otherConn := &Connection{Info: redisutil.InfoFromOptions(otherOpts), Client: other}

	f := &fixture{srv: srv, main: main, other: other, metrics: &recordingMetrics{}, events: &recordingPublisher{}}
	f.admin = New([]Binding{
		{Queue: "default", Conn: mainConn},
		{Queue: "high", Conn: dupConn},
		{Queue: "low", Conn: otherConn},
	},
		WithMetrics(f.metrics),
		WithEvents(f.events),
		WithScheduler(scheduler.New(main, scheduler.Options{})),
	)
	return f
}

// addJob saves a job with the given status and files it where RQ would.
func addJob(t *testing.T, c *redis.Client, queue string, status rq.Status, created time.Time) *rq.Job {
	t.Helper()
	ctx := context.Background()
	job, err := rq.NewJob("app.tasks.work", []any{queue}, nil)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	job.Origin = queue
	job.Status = status
	job.CreatedAt = created
	q := rq.NewQueue(queue, c)
	switch status {
	case rq.StatusQueued:
		if err := q.EnqueueJob(ctx, job); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		return job
	case rq.StatusFailed:
		job.ExcInfo = "Traceback: boom"
		job.EndedAt = created.Add(time.Second)
		_ = q.FailedJobRegistry().Add(ctx, job.ID, time.Time{})
	case rq.StatusFinished:
		job.Result = "done"
		job.EndedAt = created.Add(time.Second)
		_ = q.FinishedJobRegistry().Add(ctx, job.ID, time.Time{})
	case rq.StatusStarted:
		_ = q.StartedJobRegistry().Add(ctx, job.ID, time.Now().Add(time.Hour))
	case rq.StatusScheduled:
		_ = q.ScheduledJobRegistry().Add(ctx, job.ID, time.Now().Add(time.Hour))
	case rq.StatusDeferred:
		_ = q.DeferredJobRegistry().Add(ctx, job.ID, time.Time{})
	}
	if err := job.Save(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	return job
}
