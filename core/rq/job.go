package rq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoSuchJob is returned when a job hash does not exist.
var ErrNoSuchJob = errors.New("rq: no such job")

// Job is one decoded rq:job:<id> hash.
type Job struct {
	ID           string
	Origin       string
	Description  string
	Status       Status
	CreatedAt    time.Time
	EnqueuedAt   time.Time
	StartedAt    time.Time
	EndedAt      time.Time
	FuncName     string
	Args         []any
	Kwargs       map[string]any
	Result       any
	ExcInfo      string
	Meta         map[string]any
	Timeout      string
	ResultTTL    string
	QueueTTL     string
	DependencyID string
	WorkerName   string

	// Invalid marks a job whose payload could not be decoded; Err says why.
	Invalid bool
	Err     error

	data []byte
}

// NewJob builds an unsaved job with a fresh id.
func NewJob(funcName string, args []any, kwargs map[string]any) (*Job, error) {
	data, err := encodeData(funcName, args, kwargs)
	if err != nil {
		return nil, err
	}
	j := &Job{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		FuncName:  funcName,
		Args:      args,
		Kwargs:    kwargs,
		data:      data,
	}
	j.Description = j.CallString()
	return j, nil
}

func (j *Job) Key() string { return JobKey(j.ID) }

// OriginalJob returns meta["original_job"] set by a requeue, if any.
func (j *Job) OriginalJob() string {
	if j.Meta == nil {
		return ""
	}
	if v, ok := j.Meta["original_job"].(string); ok {
		return v
	}
	return ""
}

// Fetch loads a single job.
func Fetch(ctx context.Context, c redis.Cmdable, id string) (*Job, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNoSuchJob
	}
	fields, err := c.HGetAll(ctx, JobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNoSuchJob
	}
	return jobFromHash(id, fields), nil
}

// FetchMany loads jobs in one pipeline, preserving order and skipping ids
// whose hash no longer exists.
func FetchMany(ctx context.Context, c redis.Cmdable, ids []string) ([]*Job, error) {
	if len(ids) == 0 {
		return []*Job{}, nil
	}
	pipe := c.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, JobKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("fetch jobs: %w", err)
	}
	out := make([]*Job, 0, len(ids))
	for i, id := range ids {
		fields, err := cmds[i].Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		out = append(out, jobFromHash(id, fields))
	}
	return out, nil
}

func jobFromHash(id string, h map[string]string) *Job {
	j := &Job{
		ID:           id,
		Origin:       h["origin"],
		Description:  h["description"],
		Status:       Status(h["status"]),
		CreatedAt:    ParseTime(h["created_at"]),
		EnqueuedAt:   ParseTime(h["enqueued_at"]),
		StartedAt:    ParseTime(h["started_at"]),
		EndedAt:      ParseTime(h["ended_at"]),
		Timeout:      h["timeout"],
		ResultTTL:    h["result_ttl"],
		QueueTTL:     h["ttl"],
		DependencyID: h["dependency_id"],
		WorkerName:   h["worker_name"],
		data:         []byte(h["data"]),
	}
	var errs []error
	if len(j.data) > 0 {
		fn, args, kwargs, err := decodeData(j.data)
		if err != nil {
			errs = append(errs, err)
		} else {
			j.FuncName, j.Args, j.Kwargs = fn, args, kwargs
		}
	}
	if raw := h["meta"]; raw != "" {
		if err := decodeJSON(inflate([]byte(raw)), &j.Meta); err != nil {
			errs = append(errs, fmt.Errorf("decode job meta: %w", err))
		}
	}
	if raw := h["result"]; raw != "" {
		if err := decodeJSON(inflate([]byte(raw)), &j.Result); err != nil {
			errs = append(errs, fmt.Errorf("decode job result: %w", err))
		}
	}
	if raw := h["exc_info"]; raw != "" {
		j.ExcInfo = string(inflate([]byte(raw)))
	}
	if len(errs) > 0 {
		j.Invalid = true
		j.Err = errors.Join(errs...)
	}
	return j
}

// Save writes the job hash. Empty result and exc_info fields are removed.
func (j *Job) Save(ctx context.Context, c redis.Cmdable) error {
	pipe := c.TxPipeline()
	if err := j.saveTo(ctx, pipe); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (j *Job) saveTo(ctx context.Context, pipe redis.Pipeliner) error {
	if j.ID == "" {
		return errors.New("job id required")
	}
	fields := map[string]any{
		"status":      string(j.Status),
		"origin":      j.Origin,
		"description": j.Description,
		"created_at":  FormatTime(j.CreatedAt),
		"enqueued_at": FormatTime(j.EnqueuedAt),
		"started_at":  FormatTime(j.StartedAt),
		"ended_at":    FormatTime(j.EndedAt),
		"data":        j.data,
	}
	optional := map[string]string{
		"timeout":       j.Timeout,
		"result_ttl":    j.ResultTTL,
		"ttl":           j.QueueTTL,
		"dependency_id": j.DependencyID,
		"worker_name":   j.WorkerName,
	}
	var drop []string
	for k, v := range optional {
		if v == "" {
			drop = append(drop, k)
			continue
		}
		fields[k] = v
	}
	if j.Meta != nil {
		meta, err := json.Marshal(j.Meta)
		if err != nil {
			return fmt.Errorf("encode job meta: %w", err)
		}
		fields["meta"] = meta
	}
	if j.Result != nil {
		res, err := json.Marshal(j.Result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		fields["result"] = res
	} else {
		drop = append(drop, "result")
	}
	if j.ExcInfo != "" {
		fields["exc_info"] = deflate([]byte(j.ExcInfo))
	} else {
		drop = append(drop, "exc_info")
	}
	pipe.HSet(ctx, j.Key(), fields)
	if len(drop) > 0 {
		sort.Strings(drop)
		pipe.HDel(ctx, j.Key(), drop...)
	}
	return nil
}

// Delete removes the job from its queue list and every registry of its
// origin queue, then deletes the hash and its dependents set.
func (j *Job) Delete(ctx context.Context, c redis.Cmdable) error {
	pipe := c.TxPipeline()
	if j.Origin != "" {
		pipe.LRem(ctx, QueueKey(j.Origin), 0, j.ID)
		for _, kind := range RegistryKinds {
			pipe.ZRem(ctx, RegistryKey(kind, j.Origin), j.ID)
		}
	}
	pipe.Del(ctx, j.Key(), DependentsKey(j.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete job %s: %w", j.ID, err)
	}
	return nil
}

// TTL reports the remaining lifetime of the job hash in seconds: -1 when
// it never expires, -2 when it is gone.
func (j *Job) TTL(ctx context.Context, c redis.Cmdable) (int64, error) {
	d, err := c.TTL(ctx, j.Key()).Result()
	if err != nil {
		return 0, fmt.Errorf("job ttl %s: %w", j.ID, err)
	}
	if d < 0 {
		return int64(d), nil
	}
	return int64(d / time.Second), nil
}

// CallString renders the call the way RQ describes jobs:
// func(arg, key=value).
func (j *Job) CallString() string {
	if j.FuncName == "" {
		return ""
	}
	parts := make([]string, 0, len(j.Args)+len(j.Kwargs))
	for _, a := range j.Args {
		parts = append(parts, reprValue(a))
	}
	keys := make([]string, 0, len(j.Kwargs))
	for k := range j.Kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+reprValue(j.Kwargs[k]))
	}
	return j.FuncName + "(" + strings.Join(parts, ", ") + ")"
}

func reprValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case string:
		return "'" + strings.ReplaceAll(val, "'", `\'`) + "'"
	case bool:
		if val {
			return "True"
		}
		return "False"
	case json.Number:
		return val.String()
	case int:
		return strconv.Itoa(val)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(raw)
	}
}
