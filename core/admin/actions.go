package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cordum/rqadmin/core/admin/listset"
	"github.com/cordum/rqadmin/core/infra/bus"
	"github.com/cordum/rqadmin/core/infra/logging"
	"github.com/cordum/rqadmin/core/rq"
	"github.com/cordum/rqadmin/core/rq/scheduler"
	"github.com/google/uuid"
)

// ErrNoScheduler is returned by scheduler actions when none is wired.
var ErrNoScheduler = errors.New("scheduler not configured")

// ActionResult reports a bulk action. Busy lists objects skipped because
// another replica held their action lock.
type ActionResult struct {
	Count   int      `json:"count"`
	Message string   `json:"message"`
	Busy    []string `json:"busy,omitempty"`
}

// ObjectMessage is the confirmation for an action on a single object.
func ObjectMessage(meta listset.Meta, obj, verb string) string {
	return fmt.Sprintf("The %s “%s” was %s successfully.", meta.VerboseName, obj, verb)
}

func bulkMessage(meta listset.Meta, verb string, count int) string {
	items := meta.VerboseName
	if count != 1 {
		items = meta.VerboseNamePlural
	}
	return fmt.Sprintf("Successfully %s %d %s.", verb, count, items)
}

// bulk applies act to each key. Missing objects are skipped and busy ones
// are reported in Busy. On any other error the partial result so far is
// returned with it.
func bulk(keys []string, meta listset.Meta, verb string, act func(string) error) (ActionResult, error) {
	res := ActionResult{}
	for _, key := range keys {
		err := act(key)
		switch {
		case err == nil:
			res.Count++
		case errors.Is(err, ErrNotFound):
		case errors.Is(err, ErrBusy):
			res.Busy = append(res.Busy, key)
		default:
			res.Message = bulkMessage(meta, verb, res.Count)
			return res, err
		}
	}
	res.Message = bulkMessage(meta, verb, res.Count)
	return res, nil
}

// ClearQueue empties the queue, then cleans its registries and worker
// registry.
func (a *Admin) ClearQueue(ctx context.Context, name string) error {
	entry, q, err := a.queue(name)
	if err != nil {
		return err
	}
	return a.withLock(ctx, entry.conn, "queue:"+name, func() error {
		return a.clearQueue(ctx, q)
	})
}

func (a *Admin) clearQueue(ctx context.Context, q *rq.Queue) error {
	name := q.Name
	removed, err := q.Empty(ctx)
	if err != nil {
		return err
	}
	if err := rq.CleanRegistries(ctx, q); err != nil {
		return err
	}
	if err := rq.CleanWorkerRegistry(ctx, q); err != nil {
		return err
	}
	a.metrics.IncQueuesCleared(name)
	ev := bus.NewEvent(bus.KindQueueCleared)
	ev.Queue = name
	ev.Count = int(removed)
	a.publish(ctx, ev)
	logging.Info("admin", "queue cleared", "queue", name, "jobs", removed)
	return nil
}

// ClearQueues clears each named queue; unknown names are skipped.
func (a *Admin) ClearQueues(ctx context.Context, names []string) (ActionResult, error) {
	return bulk(names, QueueMeta, "cleared", func(name string) error {
		return a.ClearQueue(ctx, name)
	})
}

// RequeueJob resubmits a job according to its status and returns the id of
// the job a caller should look at next:
//   - failed or finished: a copy with a new id, fresh created_at, cleared
//     result and exc_info, and meta {"original_job": id} is enqueued on the
//     origin queue; the original is left as is.
//   - scheduled: the job itself is enqueued on its origin queue and removed
//     from the scheduled registry.
//   - otherwise nothing changes and id is returned.
func (a *Admin) RequeueJob(ctx context.Context, id string) (string, error) {
	job, conn, err := a.findJob(ctx, id)
	if err != nil {
		return "", err
	}
	var next *rq.Job
	err = a.withLock(ctx, conn, "job:"+job.ID, func() error {
		next, err = a.requeue(ctx, job, conn)
		return err
	})
	if err != nil {
		return "", err
	}
	return next.ID, nil
}

func (a *Admin) requeue(ctx context.Context, job *rq.Job, conn *Connection) (*rq.Job, error) {
	previous := job.Status
	q := a.originQueue(job.Origin, conn)
	var next *rq.Job
	switch previous {
	case rq.StatusFailed, rq.StatusFinished:
		clone := *job
		clone.ID = uuid.NewString()
		clone.CreatedAt = a.now().UTC()
		clone.Meta = map[string]any{"original_job": job.ID}
		clone.Result = nil
		clone.ExcInfo = ""
		clone.StartedAt, clone.EndedAt = time.Time{}, time.Time{}
		clone.WorkerName = ""
		if err := q.EnqueueJob(ctx, &clone); err != nil {
			return nil, err
		}
		next = &clone
	case rq.StatusScheduled:
		if err := q.EnqueueJob(ctx, job); err != nil {
			return nil, err
		}
		if err := q.ScheduledJobRegistry().Remove(ctx, job.ID); err != nil {
			return nil, err
		}
		next = job
	default:
		return job, nil
	}
	a.metrics.IncJobsRequeued(q.Name, string(previous))
	ev := bus.NewEvent(bus.KindJobRequeued)
	ev.Queue = q.Name
	ev.JobID = job.ID
	ev.NewJobID = next.ID
	ev.PreviousStatus = string(previous)
	a.publish(ctx, ev)
	logging.Info("admin", "job requeued", "job_id", job.ID, "new_job_id", next.ID, "previous_status", previous)
	return next, nil
}

// RequeueJobs requeues every job found among ids; missing ids are skipped.
func (a *Admin) RequeueJobs(ctx context.Context, ids []string) (ActionResult, error) {
	return bulk(ids, JobMeta, "enqueued", func(id string) error {
		_, err := a.RequeueJob(ctx, id)
		return err
	})
}

// DeleteJob removes the job from its queue and registries and deletes it.
func (a *Admin) DeleteJob(ctx context.Context, id string) error {
	job, conn, err := a.findJob(ctx, id)
	if err != nil {
		return err
	}
	if err := job.Delete(ctx, conn.Client); err != nil {
		return err
	}
	a.metrics.IncJobsDeleted(job.Origin)
	ev := bus.NewEvent(bus.KindJobDeleted)
	ev.Queue = job.Origin
	ev.JobID = job.ID
	ev.PreviousStatus = string(job.Status)
	a.publish(ctx, ev)
	logging.Info("admin", "job deleted", "job_id", job.ID, "queue", job.Origin)
	return nil
}

// DeleteJobs deletes every job found among ids; missing ids are skipped.
func (a *Admin) DeleteJobs(ctx context.Context, ids []string) (ActionResult, error) {
	return bulk(ids, JobMeta, "deleted", func(id string) error {
		return a.DeleteJob(ctx, id)
	})
}

// originQueue resolves a job origin to its configured connection, falling
// back to the connection the job was found on.
func (a *Admin) originQueue(origin string, found *Connection) *rq.Queue {
	for _, q := range a.queues {
		if q.name == origin && q.conn != nil {
			return rq.NewQueue(origin, q.conn.Client)
		}
	}
	return rq.NewQueue(origin, found.Client)
}

// ScheduledRow is one job held by rq-scheduler.
type ScheduledRow struct {
	JobID       string `json:"job_id"`
	RunAt       string `json:"run_at"`
	Queue       string `json:"queue,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Missing     bool   `json:"missing,omitempty"`
}

// ScheduledJobs lists rq-scheduler entries, earliest first.
func (a *Admin) ScheduledJobs(ctx context.Context) ([]ScheduledRow, error) {
	if a.scheduler == nil {
		return nil, ErrNoScheduler
	}
	entries, err := a.scheduler.List(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	out := make([]ScheduledRow, 0, len(entries))
	for _, e := range entries {
		row := ScheduledRow{JobID: e.JobID, RunAt: rq.FormatTime(e.RunAt)}
		if e.Job == nil {
			row.Missing = true
		} else {
			row.Queue = e.Job.Origin
			row.Description = e.Job.Description
			row.Status = string(e.Job.Status)
		}
		out = append(out, row)
	}
	return out, nil
}

// EnqueueScheduled moves an rq-scheduler job onto its queue now.
func (a *Admin) EnqueueScheduled(ctx context.Context, id string) error {
	if a.scheduler == nil {
		return ErrNoScheduler
	}
	job, err := a.scheduler.EnqueueNow(ctx, id)
	if errors.Is(err, scheduler.ErrNotScheduled) || errors.Is(err, rq.ErrNoSuchJob) {
		return fmt.Errorf("scheduled job %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	ev := bus.NewEvent(bus.KindScheduledMoved)
	ev.Queue = job.Origin
	ev.JobID = job.ID
	a.publish(ctx, ev)
	return nil
}

// CancelScheduled drops a job from rq-scheduler and deletes its hash.
func (a *Admin) CancelScheduled(ctx context.Context, id string) error {
	if a.scheduler == nil {
		return ErrNoScheduler
	}
	if err := a.scheduler.Discard(ctx, id); err != nil {
		if errors.Is(err, scheduler.ErrNotScheduled) {
			return fmt.Errorf("scheduled job %q: %w", id, ErrNotFound)
		}
		return err
	}
	ev := bus.NewEvent(bus.KindScheduledDrop)
	ev.JobID = id
	a.publish(ctx, ev)
	return nil
}

// LockStatus reports the rq-scheduler lock.
func (a *Admin) LockStatus(ctx context.Context) (scheduler.LockStatus, error) {
	if a.scheduler == nil {
		return scheduler.LockStatus{}, ErrNoScheduler
	}
	return a.scheduler.LockStatus(ctx)
}
