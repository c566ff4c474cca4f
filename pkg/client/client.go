// Package client is a small HTTP client for the rqadmin gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal HTTP client for the admin gateway.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New returns a client with a default HTTP timeout.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Queue mirrors a queue row.
type Queue struct {
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

// Worker mirrors a worker row.
type Worker struct {
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

// Job mirrors a job list row.
type Job struct {
	ID          string     `json:"id"`
	Queue       string     `json:"queue"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	CreatedAt   *time.Time `json:"created_at"`
	EnqueuedAt  *time.Time `json:"enqueued_at"`
	EndedAt     *time.Time `json:"ended_at"`
	Invalid     bool       `json:"invalid,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// JobDetail mirrors the job detail view.
type JobDetail struct {
	Job
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

// ScheduledJob mirrors an rq-scheduler entry.
type ScheduledJob struct {
	JobID       string `json:"job_id"`
	RunAt       string `json:"run_at"`
	Queue       string `json:"queue,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
	Missing     bool   `json:"missing,omitempty"`
}

// List is one page of rows.
type List[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ActionResult reports the outcome of an admin action.
type ActionResult struct {
	Count   int      `json:"count"`
	Message string   `json:"message"`
	JobID   string   `json:"job_id,omitempty"`
	Busy    []string `json:"busy,omitempty"`
}

// ListOptions filters and pages list calls.
type ListOptions struct {
	Queues   []string
	Statuses []string
	IDs      []string
	Order    []string
	Limit    int
	Offset   int
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	for _, q := range o.Queues {
		v.Add("queue", q)
	}
	for _, s := range o.Statuses {
		v.Add("status", s)
	}
	for _, id := range o.IDs {
		v.Add("id", id)
	}
	if len(o.Order) > 0 {
		v.Set("order", strings.Join(o.Order, ","))
	}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		v.Set("offset", strconv.Itoa(o.Offset))
	}
	return v
}

func withQuery(path string, v url.Values) string {
	if len(v) == 0 {
		return path
	}
	return path + "?" + v.Encode()
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	return base + path
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// GetStatus returns the gateway status snapshot.
func (c *Client) GetStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListQueues returns configured queues with their counts.
func (c *Client) ListQueues(ctx context.Context, opts ListOptions) (*List[Queue], error) {
	var out List[Queue]
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/v1/queues", opts.values()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetQueue returns one queue.
func (c *Client) GetQueue(ctx context.Context, name string) (*Queue, error) {
	var out Queue
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/queues/"+url.PathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearQueue empties one queue.
func (c *Client) ClearQueue(ctx context.Context, name string) (*ActionResult, error) {
	var out ActionResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/queues/"+url.PathEscape(name)+"/clear", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearQueues empties several queues.
func (c *Client) ClearQueues(ctx context.Context, names []string) (*ActionResult, error) {
	var out ActionResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/queues/clear", map[string]any{"names": names}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListWorkers returns registered workers.
func (c *Client) ListWorkers(ctx context.Context, opts ListOptions) (*List[Worker], error) {
	var out List[Worker]
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/v1/workers", opts.values()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListJobs returns jobs across queues and registries.
func (c *Client) ListJobs(ctx context.Context, opts ListOptions) (*List[Job], error) {
	var out List[Job]
	if err := c.doJSON(ctx, http.MethodGet, withQuery("/api/v1/jobs", opts.values()), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetJob returns the detail view of one job.
func (c *Client) GetJob(ctx context.Context, id string) (*JobDetail, error) {
	var out JobDetail
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RequeueJob requeues one job and returns the id of the job now queued.
func (c *Client) RequeueJob(ctx context.Context, id string) (string, error) {
	var out ActionResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/requeue", nil, &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

// DeleteJob deletes one job.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(id), nil, nil)
}

// RequeueJobs requeues several jobs.
func (c *Client) RequeueJobs(ctx context.Context, ids []string) (*ActionResult, error) {
	var out ActionResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/jobs/requeue", map[string]any{"ids": ids}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteJobs deletes several jobs.
func (c *Client) DeleteJobs(ctx context.Context, ids []string) (*ActionResult, error) {
	var out ActionResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/jobs/delete", map[string]any{"ids": ids}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListScheduled returns rq-scheduler entries.
func (c *Client) ListScheduled(ctx context.Context) (*List[ScheduledJob], error) {
	var out List[ScheduledJob]
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/scheduler/jobs", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnqueueScheduled moves a scheduled job onto its queue now.
func (c *Client) EnqueueScheduled(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/v1/scheduler/jobs/"+url.PathEscape(id)+"/enqueue", nil, nil)
}

// CancelScheduled drops a job from rq-scheduler.
func (c *Client) CancelScheduled(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/scheduler/jobs/"+url.PathEscape(id), nil, nil)
}
