package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/cordum/rqadmin/core/admin/listset"
	"github.com/cordum/rqadmin/core/rq"
)

// QueueManager lists configured queues.
type QueueManager struct{ a *Admin }

func (a *Admin) Queues() QueueManager { return QueueManager{a: a} }

// All returns every configured queue in configuration order.
func (m QueueManager) All(ctx context.Context) (*listset.ListSet[QueueRow], error) {
	set := listset.New[QueueRow](QueueMeta)
	for _, q := range m.a.queues {
		row, err := m.a.queueRow(ctx, q)
		if err != nil {
			return nil, err
		}
		set.Append(row)
	}
	return set, nil
}

// Get returns a configured queue by name.
func (m QueueManager) Get(ctx context.Context, name string) (QueueRow, error) {
	for _, q := range m.a.queues {
		if q.name == name {
			return m.a.queueRow(ctx, q)
		}
	}
	return QueueRow{}, fmt.Errorf("queue %q: %w", name, ErrNotFound)
}

func (a *Admin) queueRow(ctx context.Context, e queueEntry) (QueueRow, error) {
	row := QueueRow{Name: e.name, Order: e.order}
	if e.conn == nil {
		return row, nil
	}
	row.Location = e.conn.Info.Location()
	row.DB = e.conn.Info.DB
	q := rq.NewQueue(e.name, e.conn.Client)
	var err error
	if row.Queued, err = q.Count(ctx); err != nil {
		return row, err
	}
	counts := []*int64{&row.Started, &row.Deferred, &row.Scheduled, &row.Finished, &row.Failed}
	for i, kind := range rq.RegistryKinds {
		if *counts[i], err = q.Registry(kind).Count(ctx); err != nil {
			return row, err
		}
	}
	if row.Workers, err = q.WorkerCount(ctx); err != nil {
		return row, err
	}
	return row, nil
}

// WorkerManager lists workers over every distinct connection.
type WorkerManager struct{ a *Admin }

func (a *Admin) Workers() WorkerManager { return WorkerManager{a: a} }

func (m WorkerManager) All(ctx context.Context) (*listset.ListSet[WorkerRow], error) {
	set := listset.New[WorkerRow](WorkerMeta)
	for _, c := range m.a.conns {
		workers, err := rq.AllWorkers(ctx, c.Client)
		if err != nil {
			return nil, err
		}
		for _, w := range workers {
			set.Append(workerRow(w, c))
		}
	}
	return set, nil
}

func (m WorkerManager) Get(ctx context.Context, name string) (WorkerRow, error) {
	for _, c := range m.a.conns {
		w, err := rq.FindWorker(ctx, c.Client, name)
		if errors.Is(err, rq.ErrNoSuchWorker) {
			continue
		}
		if err != nil {
			return WorkerRow{}, err
		}
		return workerRow(w, c), nil
	}
	return WorkerRow{}, fmt.Errorf("worker %q: %w", name, ErrNotFound)
}

// JobManager lists jobs from every queue list and registry.
type JobManager struct{ a *Admin }

func (a *Admin) Jobs() JobManager { return JobManager{a: a} }

// All walks each configured queue: its pending list, then the started,
// deferred, scheduled, finished and failed registries. A job listed in
// more than one place of the same queue appears once.
func (m JobManager) All(ctx context.Context) (*listset.ListSet[JobRow], error) {
	set := listset.New[JobRow](JobMeta)
	for _, e := range m.a.queues {
		if e.conn == nil {
			continue
		}
		q := rq.NewQueue(e.name, e.conn.Client)
		ids, err := q.JobIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, kind := range rq.RegistryKinds {
			more, err := q.Registry(kind).JobIDs(ctx)
			if err != nil {
				return nil, err
			}
			ids = append(ids, more...)
		}
		jobs, err := rq.FetchMany(ctx, e.conn.Client, dedupe(ids))
		if err != nil {
			return nil, err
		}
		for _, j := range jobs {
			if j.Invalid {
				m.a.metrics.IncInvalidJobs(e.name)
			}
			set.Append(jobRow(j))
		}
	}
	return set, nil
}

// Get returns the detail view of a job found on any connection.
func (m JobManager) Get(ctx context.Context, id string) (JobDetail, error) {
	job, conn, err := m.a.findJob(ctx, id)
	if err != nil {
		return JobDetail{}, err
	}
	detail := JobDetail{
		JobRow:       jobRow(job),
		StartedAt:    timePtr(job.StartedAt),
		DependencyID: job.DependencyID,
		OriginalJob:  job.OriginalJob(),
		FuncName:     job.CallString(),
		Result:       job.Result,
		Exception:    job.ExcInfo,
		Meta:         job.Meta,
		Timeout:      job.Timeout,
		WorkerName:   job.WorkerName,
	}
	if job.Invalid && job.Err != nil {
		detail.FuncName = job.Err.Error()
	}
	ttl, err := job.TTL(ctx, conn.Client)
	if err != nil {
		return JobDetail{}, err
	}
	detail.TTL = formatTTL(ttl)
	return detail, nil
}

func (a *Admin) findJob(ctx context.Context, id string) (*rq.Job, *Connection, error) {
	for _, c := range a.conns {
		job, err := rq.Fetch(ctx, c.Client, id)
		if errors.Is(err, rq.ErrNoSuchJob) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return job, c, nil
	}
	return nil, nil, fmt.Errorf("job %q: %w", id, ErrNotFound)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
