package admin

import (
	"time"

	"github.com/cordum/rqadmin/core/admin/listset"
	"github.com/cordum/rqadmin/core/rq"
)

var (
	QueueMeta  = listset.Meta{VerboseName: "queue", VerboseNamePlural: "queues"}
	WorkerMeta = listset.Meta{VerboseName: "worker", VerboseNamePlural: "workers"}
	JobMeta    = listset.Meta{VerboseName: "job", VerboseNamePlural: "jobs"}
)

// QueueRow is a configured queue with its current counters.
type QueueRow struct {
	Name      string `json:"name"`
	Order     int    `json:"order"`
	Queued    int64  `json:"queued_jobs"`
	Started   int64  `json:"started_jobs"`
	Deferred  int64  `json:"deferred_jobs"`
	Scheduled int64  `json:"scheduled_jobs"`
	Finished  int64  `json:"finished_jobs"`
	Failed    int64  `json:"failed_jobs"`
	Workers   int64  `json:"workers"`
	Location  string `json:"location"`
	DB        int    `json:"db"`
}

func (r QueueRow) PK() string { return r.Name }

func (r QueueRow) Field(name string) (any, bool) {
	switch name {
	case "name":
		return r.Name, true
	case "order":
		return r.Order, true
	case "queued_jobs":
		return r.Queued, true
	case "started_jobs":
		return r.Started, true
	case "deferred_jobs":
		return r.Deferred, true
	case "scheduled_jobs":
		return r.Scheduled, true
	case "finished_jobs":
		return r.Finished, true
	case "failed_jobs":
		return r.Failed, true
	case "workers", "worker_count":
		return r.Workers, true
	case "location":
		return r.Location, true
	case "db":
		return r.DB, true
	}
	return nil, false
}

// WorkerRow is one registered worker.
type WorkerRow struct {
	Name               string     `json:"name"`
	PID                int        `json:"pid"`
	Hostname           string     `json:"hostname,omitempty"`
	BirthDate          *time.Time `json:"birth_date"`
	LastHeartbeat      *time.Time `json:"last_heartbeat,omitempty"`
	State              string     `json:"state"`
	Queues             []string   `json:"queues"`
	CurrentJob         string     `json:"current_job,omitempty"`
	SuccessfulJobCount int64      `json:"successful_job_count"`
	FailedJobCount     int64      `json:"failed_job_count"`
	TotalWorkingTime   float64    `json:"total_working_time"`
	Location           string     `json:"location"`
	DB                 int        `json:"db"`
}

func workerRow(w *rq.Worker, c *Connection) WorkerRow {
	return WorkerRow{
		Name:               w.Name,
		PID:                w.PID,
		Hostname:           w.Hostname,
		BirthDate:          timePtr(w.Birth),
		LastHeartbeat:      timePtr(w.LastHeartbeat),
		State:              w.State,
		Queues:             w.QueueNames(),
		CurrentJob:         w.CurrentJob,
		SuccessfulJobCount: w.SuccessfulJobCount,
		FailedJobCount:     w.FailedJobCount,
		TotalWorkingTime:   w.TotalWorkingTime,
		Location:           c.Info.Location(),
		DB:                 c.Info.DB,
	}
}

func (r WorkerRow) PK() string { return r.Name }

func (r WorkerRow) Field(name string) (any, bool) {
	switch name {
	case "name":
		return r.Name, true
	case "pid":
		return r.PID, true
	case "birth_date":
		return r.BirthDate, true
	case "last_heartbeat":
		return r.LastHeartbeat, true
	case "state":
		return r.State, true
	case "current_job":
		return r.CurrentJob, true
	case "successful_job_count":
		return r.SuccessfulJobCount, true
	case "failed_job_count":
		return r.FailedJobCount, true
	case "total_working_time":
		return r.TotalWorkingTime, true
	case "location":
		return r.Location, true
	case "db":
		return r.DB, true
	}
	return nil, false
}

// JobRow is the list projection of a job.
type JobRow struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	CreatedAt   *time.Time `json:"created_at"`
	EnqueuedAt  *time.Time `json:"enqueued_at"`
	EndedAt     *time.Time `json:"ended_at"`
	// Invalid rows could not be decoded; Error carries the reason.
	Invalid bool   `json:"invalid,omitempty"`
	Error   string `json:"error,omitempty"`
}

func jobRow(j *rq.Job) JobRow {
	row := JobRow{
		ID:          j.ID,
		Queue:       j.Origin,
		Description: j.Description,
		Status:      string(j.Status),
		CreatedAt:   timePtr(j.CreatedAt),
		EnqueuedAt:  timePtr(j.EnqueuedAt),
		EndedAt:     timePtr(j.EndedAt),
		Invalid:     j.Invalid,
	}
	if j.Err != nil {
		row.Error = j.Err.Error()
	}
	return row
}

func (r JobRow) PK() string { return r.ID }

func (r JobRow) Field(name string) (any, bool) {
	switch name {
	case "id":
		return r.ID, true
	case "queue":
		return r.Queue, true
	case "description":
		return r.Description, true
	case "status":
		return r.Status, true
	case "created_at":
		return r.CreatedAt, true
	case "enqueued_at":
		return r.EnqueuedAt, true
	case "ended_at":
		return r.EndedAt, true
	}
	return nil, false
}

// JobDetail is the full view of one job.
type JobDetail struct {
	JobRow
	StartedAt    *time.Time     `json:"started_at"`
	DependencyID string         `json:"dependency_id,omitempty"`
	OriginalJob  string         `json:"original_job,omitempty"`
	TTL          string         `json:"ttl"`
	FuncName     string         `json:"func_name"`
	Result       any            `json:"result,omitempty"`
	Exception    string         `json:"exception,omitempty"`
	Meta         map[string]any `json:"meta,omitempty"`
	Timeout      string         `json:"timeout,omitempty"`
	WorkerName   string         `json:"worker_name,omitempty"`
}

// formatTTL renders a key TTL in seconds: -1 is "Infinite".
func formatTTL(seconds int64) string {
	switch {
	case seconds == -1:
		return "Infinite"
	case seconds < 0:
		return "-"
	}
	return (time.Duration(seconds) * time.Second).String()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
