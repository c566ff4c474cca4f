package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/cordum/rqadmin/core/admin"
	"github.com/cordum/rqadmin/core/infra/bus"
	"github.com/cordum/rqadmin/core/infra/redisutil"
	"github.com/cordum/rqadmin/core/rq"
	"github.com/cordum/rqadmin/core/rq/scheduler"
	"github.com/redis/go-redis/v9"
)

type stubPublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *stubPublisher) PublishEvent(ev bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *stubPublisher) last() bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return bus.Event{}
	}
	return p.events[len(p.events)-1]
}

type stubGatewayMetrics struct {
	mu     sync.Mutex
	routes []string
}

func (m *stubGatewayMetrics) ObserveRequest(method, route, status string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, method+" "+route+" "+status)
}

type testEnv struct {
	redis   *miniredis.Miniredis
	client  *redis.Client
	sched   *scheduler.Scheduler
	events  *stubPublisher
	metrics *stubGatewayMetrics
	srv     *server
}

// newTestEnv serves queues "default" and "high" from one miniredis db.
func newTestEnv(t *testing.T, auth AuthProvider) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	t.Cleanup(mr.Close)
	opts := &redis.Options{Addr: mr.Addr()}
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	conn := &admin.Connection{Info: redisutil.InfoFromOptions(opts), Client: client}
	env := &testEnv{
		redis:   mr,
		client:  client,
		sched:   scheduler.New(client, scheduler.Options{}),
		events:  &stubPublisher{},
		metrics: &stubGatewayMetrics{},
	}
	adm := admin.New([]admin.Binding{
		{Queue: "default", Conn: conn},
		{Queue: "high", Conn: conn},
	},
		admin.WithEvents(env.events),
		admin.WithScheduler(env.sched),
		admin.WithActionLocks(time.Minute),
	)
	env.srv = newServer(adm, auth, env.metrics, env.events, 20*time.Millisecond)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.srv.handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) enqueue(t *testing.T, queue string) *rq.Job {
	t.Helper()
	job, err := rq.NewJob("app.tasks.work", []any{queue}, nil)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	job.CreatedAt = time.Now().UTC()
	if err := rq.NewQueue(queue, e.client).EnqueueJob(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func (e *testEnv) fail(t *testing.T, queue string) *rq.Job {
	t.Helper()
	ctx := context.Background()
	job, err := rq.NewJob("app.tasks.explode", nil, nil)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	job.Origin = queue
	job.Status = rq.StatusFailed
	job.CreatedAt = time.Now().UTC().Add(-time.Minute)
	job.EndedAt = time.Now().UTC()
	job.ExcInfo = "Traceback: boom"
	if err := job.Save(ctx, e.client); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := rq.NewQueue(queue, e.client).FailedJobRegistry().Add(ctx, job.ID, time.Time{}); err != nil {
		t.Fatalf("registry add: %v", err)
	}
	return job
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
