package rq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSuchWorker is returned when a worker hash does not exist.
var ErrNoSuchWorker = errors.New("rq: no such worker")

// Worker is one decoded rq:worker:<name> hash.
type Worker struct {
	Name               string
	Hostname           string
	PID                int
	Birth              time.Time
	LastHeartbeat      time.Time
	Queues             []string
	State              string
	CurrentJob         string
	SuccessfulJobCount int64
	FailedJobCount     int64
	// TotalWorkingTime is in seconds.
	TotalWorkingTime float64
}

func (w *Worker) Key() string { return WorkerKey(w.Name) }

// QueueNames returns the queues the worker listens on.
func (w *Worker) QueueNames() []string { return w.Queues }

// AllWorkers lists every registered worker on the connection, sorted by name.
// Keys whose hash has vanished are skipped.
func AllWorkers(ctx context.Context, c redis.Cmdable) ([]*Worker, error) {
	keys, err := c.SMembers(ctx, WorkersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return []*Worker{}, nil
	}
	pipe := c.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("fetch workers: %w", err)
	}
	out := make([]*Worker, 0, len(keys))
	for i, key := range keys {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		out = append(out, workerFromHash(WorkerNameFromKey(key), fields))
	}
	return out, nil
}

// FindWorker loads a worker by name.
func FindWorker(ctx context.Context, c redis.Cmdable, name string) (*Worker, error) {
	fields, err := c.HGetAll(ctx, WorkerKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch worker %s: %w", name, err)
	}
	if len(fields) == 0 {
		return nil, ErrNoSuchWorker
	}
	return workerFromHash(name, fields), nil
}

func workerFromHash(name string, h map[string]string) *Worker {
	w := &Worker{
		Name:          name,
		Hostname:      h["hostname"],
		Birth:         ParseTime(h["birth"]),
		LastHeartbeat: ParseTime(h["last_heartbeat"]),
		State:         h["state"],
		CurrentJob:    h["current_job"],
	}
	w.PID, _ = strconv.Atoi(h["pid"])
	w.SuccessfulJobCount, _ = strconv.ParseInt(h["successful_job_count"], 10, 64)
	w.FailedJobCount, _ = strconv.ParseInt(h["failed_job_count"], 10, 64)
	w.TotalWorkingTime, _ = strconv.ParseFloat(h["total_working_time"], 64)
	for _, q := range strings.Split(h["queues"], ",") {
		if q = strings.TrimSpace(q); q != "" {
			w.Queues = append(w.Queues, q)
		}
	}
	return w
}

// Register writes the worker hash and adds it to the global and per-queue
// worker sets. Workers normally do this themselves; the admin uses it for
// fixtures and tooling.
func (w *Worker) Register(ctx context.Context, c redis.Cmdable) error {
	pipe := c.TxPipeline()
	pipe.HSet(ctx, w.Key(), map[string]any{
		"birth":                FormatTime(w.Birth),
		"last_heartbeat":       FormatTime(w.LastHeartbeat),
		"queues":               strings.Join(w.Queues, ","),
		"pid":                  w.PID,
		"hostname":             w.Hostname,
		"state":                w.State,
		"current_job":          w.CurrentJob,
		"successful_job_count": w.SuccessfulJobCount,
		"failed_job_count":     w.FailedJobCount,
		"total_working_time":   w.TotalWorkingTime,
	})
	pipe.SAdd(ctx, WorkersKey, w.Key())
	for _, q := range w.Queues {
		pipe.SAdd(ctx, QueueWorkersKey(q), w.Key())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register worker %s: %w", w.Name, err)
	}
	return nil
}
