package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cordum/rqadmin/core/admin"
	"github.com/cordum/rqadmin/core/rq"
	"github.com/gorilla/websocket"
)

func clearAuthEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envAPIKeys, "")
	t.Setenv(envAPIKey, "")
	t.Setenv("API_KEY", "")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", "")
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "ok" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestListQueues(t *testing.T) {
	env := newTestEnv(t, nil)
	env.enqueue(t, "default")
	env.enqueue(t, "default")
	env.fail(t, "high")

	rec := env.do(t, http.MethodGet, "/api/v1/queues", "")
	expectStatus(t, rec, http.StatusOK)
	resp := decodeJSON[listResponse[admin.QueueRow]](t, rec)
	if resp.Total != 2 || len(resp.Items) != 2 {
		t.Fatalf("expected 2 queues, got %+v", resp)
	}
	if resp.Items[0].Name != "default" || resp.Items[0].Queued != 2 {
		t.Fatalf("unexpected first queue %+v", resp.Items[0])
	}
	if resp.Items[1].Name != "high" || resp.Items[1].Failed != 1 {
		t.Fatalf("unexpected second queue %+v", resp.Items[1])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/queues?order=-queued_jobs", "")
	expectStatus(t, rec, http.StatusOK)
	resp = decodeJSON[listResponse[admin.QueueRow]](t, rec)
	if resp.Items[0].Name != "default" {
		t.Fatalf("expected default first by queued desc, got %s", resp.Items[0].Name)
	}
}

func TestGetQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	env.enqueue(t, "high")

	rec := env.do(t, http.MethodGet, "/api/v1/queues/high", "")
	expectStatus(t, rec, http.StatusOK)
	row := decodeJSON[admin.QueueRow](t, rec)
	if row.Queued != 1 {
		t.Fatalf("expected 1 queued job, got %d", row.Queued)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/queues/missing", "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestClearQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	job := env.enqueue(t, "default")
	env.enqueue(t, "high")

	rec := env.do(t, http.MethodPost, "/api/v1/queues/default/clear", "")
	expectStatus(t, rec, http.StatusOK)
	res := decodeJSON[admin.ActionResult](t, rec)
	if res.Message != "The queue “default” was cleared successfully." {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if n, _ := env.client.LLen(context.Background(), rq.QueueKey("default")).Result(); n != 0 {
		t.Fatalf("expected empty default queue, got %d", n)
	}
	if env.redis.Exists(rq.JobKey(job.ID)) {
		t.Fatalf("expected job hash removed")
	}
	if n, _ := env.client.LLen(context.Background(), rq.QueueKey("high")).Result(); n != 1 {
		t.Fatalf("expected high untouched, got %d", n)
	}
}

func TestClearQueueConflictWhileLocked(t *testing.T) {
	env := newTestEnv(t, nil)
	env.enqueue(t, "default")
	if err := env.redis.Set("rqadmin:lock:queue:default", "other-replica"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/queues/default/clear", "")
	expectStatus(t, rec, http.StatusConflict)
	if n, _ := env.client.LLen(context.Background(), rq.QueueKey("default")).Result(); n != 1 {
		t.Fatalf("expected queue untouched while locked, got %d", n)
	}

	env.redis.Del("rqadmin:lock:queue:default")
	rec = env.do(t, http.MethodPost, "/api/v1/queues/default/clear", "")
	expectStatus(t, rec, http.StatusOK)
	if env.redis.Exists("rqadmin:lock:queue:default") {
		t.Fatalf("expected lock released after clear")
	}
}

func TestBulkRequeueReportsBusyJobs(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.fail(t, "default")
	b := env.fail(t, "default")
	if err := env.redis.Set("rqadmin:lock:job:"+b.ID, "other-replica"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/requeue", `{"ids":["`+a.ID+`","`+b.ID+`"]}`)
	expectStatus(t, rec, http.StatusOK)
	res := decodeJSON[admin.ActionResult](t, rec)
	if res.Count != 1 || res.Message != "Successfully enqueued 1 job." {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Busy) != 1 || res.Busy[0] != b.ID {
		t.Fatalf("expected busy job reported, got %v", res.Busy)
	}
}

func TestClearQueueConflictNamesHolder(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.redis.Set("rqadmin:lock:queue:high", "replica-7"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	env.redis.SetTTL("rqadmin:lock:queue:high", time.Minute)

	rec := env.do(t, http.MethodPost, "/api/v1/queues/high/clear", "")
	expectStatus(t, rec, http.StatusConflict)
	if !strings.Contains(rec.Body.String(), "held by replica-7") {
		t.Fatalf("expected holder in body, got %q", rec.Body.String())
	}
}

func TestClearQueuesBulk(t *testing.T) {
	env := newTestEnv(t, nil)
	env.enqueue(t, "default")
	env.enqueue(t, "high")

	rec := env.do(t, http.MethodPost, "/api/v1/queues/clear", `{"names":["default","high","nope"]}`)
	expectStatus(t, rec, http.StatusOK)
	res := decodeJSON[admin.ActionResult](t, rec)
	if res.Count != 2 || res.Message != "Successfully cleared 2 queues." {
		t.Fatalf("unexpected result %+v", res)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/queues/clear", `{"names":[]}`)
	expectStatus(t, rec, http.StatusBadRequest)
	rec = env.do(t, http.MethodPost, "/api/v1/queues/clear", `not json`)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestListJobsFiltersAndPages(t *testing.T) {
	env := newTestEnv(t, nil)
	env.enqueue(t, "default")
	env.enqueue(t, "default")
	highJob := env.enqueue(t, "high")
	failed := env.fail(t, "default")

	rec := env.do(t, http.MethodGet, "/api/v1/jobs", "")
	expectStatus(t, rec, http.StatusOK)
	resp := decodeJSON[listResponse[admin.JobRow]](t, rec)
	if resp.Total != 4 || resp.Limit != defaultJobsLimit {
		t.Fatalf("unexpected list %+v", resp)
	}
	// failed job is the oldest, default order is newest first
	if resp.Items[len(resp.Items)-1].ID != failed.ID {
		t.Fatalf("expected failed job last, got %+v", resp.Items)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/jobs?queue=high", "")
	expectStatus(t, rec, http.StatusOK)
	resp = decodeJSON[listResponse[admin.JobRow]](t, rec)
	if resp.Total != 1 || resp.Items[0].ID != highJob.ID {
		t.Fatalf("unexpected queue filter result %+v", resp)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/jobs?status=failed&status=finished", "")
	resp = decodeJSON[listResponse[admin.JobRow]](t, rec)
	if resp.Total != 1 || resp.Items[0].ID != failed.ID {
		t.Fatalf("unexpected status filter result %+v", resp)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/jobs?id="+highJob.ID+"&id="+failed.ID+"&id=missing", "")
	expectStatus(t, rec, http.StatusOK)
	resp = decodeJSON[listResponse[admin.JobRow]](t, rec)
	if resp.Total != 2 {
		t.Fatalf("unexpected id selection %+v", resp)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/jobs?limit=1&offset=1&order=created_at", "")
	resp = decodeJSON[listResponse[admin.JobRow]](t, rec)
	if resp.Total != 4 || len(resp.Items) != 1 || resp.Offset != 1 {
		t.Fatalf("unexpected page %+v", resp)
	}
}

func TestListJobsBadParams(t *testing.T) {
	env := newTestEnv(t, nil)
	env.enqueue(t, "default")

	for _, path := range []string{
		"/api/v1/jobs?order=bogus",
		"/api/v1/jobs?limit=-1",
		"/api/v1/jobs?offset=x",
	} {
		rec := env.do(t, http.MethodGet, path, "")
		expectStatus(t, rec, http.StatusBadRequest)
	}
}

func TestListBadOrderOnEmptySets(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{
		"/api/v1/jobs?order=bogus",
		"/api/v1/workers?order=bogus",
	} {
		rec := env.do(t, http.MethodGet, path, "")
		expectStatus(t, rec, http.StatusBadRequest)
	}
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t, nil)
	job := env.fail(t, "default")

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, "")
	expectStatus(t, rec, http.StatusOK)
	detail := decodeJSON[admin.JobDetail](t, rec)
	if detail.ID != job.ID || detail.Exception != "Traceback: boom" || detail.FuncName != "app.tasks.explode" {
		t.Fatalf("unexpected detail %+v", detail)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/jobs/missing", "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestRequeueFailedJob(t *testing.T) {
	env := newTestEnv(t, nil)
	job := env.fail(t, "high")

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/requeue", "")
	expectStatus(t, rec, http.StatusOK)
	body := decodeJSON[map[string]string](t, rec)
	newID := body["job_id"]
	if newID == "" || newID == job.ID {
		t.Fatalf("expected a new job id, got %q", newID)
	}
	ids, _ := env.client.LRange(context.Background(), rq.QueueKey("high"), 0, -1).Result()
	if len(ids) != 1 || ids[0] != newID {
		t.Fatalf("expected new job on high queue, got %v", ids)
	}
	if ev := env.events.last(); ev.NewJobID != newID || ev.PreviousStatus != "failed" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRequeueQueuedJobIsNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	job := env.enqueue(t, "default")

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/requeue", "")
	expectStatus(t, rec, http.StatusOK)
	if got := decodeJSON[map[string]string](t, rec)["job_id"]; got != job.ID {
		t.Fatalf("expected same id, got %q", got)
	}
}

func TestBulkJobActions(t *testing.T) {
	env := newTestEnv(t, nil)
	a := env.fail(t, "default")
	b := env.fail(t, "high")
	c := env.enqueue(t, "default")

	rec := env.do(t, http.MethodPost, "/api/v1/jobs/requeue", `{"ids":["`+a.ID+`","missing"]}`)
	expectStatus(t, rec, http.StatusOK)
	res := decodeJSON[admin.ActionResult](t, rec)
	if res.Count != 1 || res.Message != "Successfully enqueued 1 job." {
		t.Fatalf("unexpected requeue result %+v", res)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/jobs/delete", `{"ids":["`+b.ID+`","`+c.ID+`"]}`)
	expectStatus(t, rec, http.StatusOK)
	res = decodeJSON[admin.ActionResult](t, rec)
	if res.Count != 2 || res.Message != "Successfully deleted 2 jobs." {
		t.Fatalf("unexpected delete result %+v", res)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/jobs/delete", `{}`)
	expectStatus(t, rec, http.StatusBadRequest)
	rec = env.do(t, http.MethodPost, "/api/v1/jobs/requeue", `{"ids":[""]}`)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestDeleteJob(t *testing.T) {
	env := newTestEnv(t, nil)
	job := env.enqueue(t, "default")

	rec := env.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, "")
	expectStatus(t, rec, http.StatusOK)
	if env.redis.Exists(rq.JobKey(job.ID)) {
		t.Fatalf("expected job hash removed")
	}
	rec = env.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestListWorkers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for _, w := range []*rq.Worker{
		{Name: "w1", Queues: []string{"default"}, State: "idle", Birth: time.Now().UTC()},
		{Name: "w2", Queues: []string{"high"}, State: "busy", Birth: time.Now().UTC()},
	} {
		if err := w.Register(ctx, env.client); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/workers", "")
	expectStatus(t, rec, http.StatusOK)
	resp := decodeJSON[listResponse[admin.WorkerRow]](t, rec)
	if resp.Total != 2 {
		t.Fatalf("expected 2 workers, got %+v", resp)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/workers?queue=high", "")
	resp = decodeJSON[listResponse[admin.WorkerRow]](t, rec)
	if resp.Total != 1 || resp.Items[0].Name != "w2" {
		t.Fatalf("unexpected filtered workers %+v", resp)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/workers/w1", "")
	expectStatus(t, rec, http.StatusOK)
	rec = env.do(t, http.MethodGet, "/api/v1/workers/ghost", "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestSchedulerRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	later, err := rq.NewJob("app.tasks.later", nil, nil)
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if err := env.sched.Schedule(ctx, later, time.Now().Add(time.Hour), "high"); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	drop, _ := rq.NewJob("app.tasks.drop", nil, nil)
	if err := env.sched.Schedule(ctx, drop, time.Now().Add(2*time.Hour), ""); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/scheduler/jobs", "")
	expectStatus(t, rec, http.StatusOK)
	resp := decodeJSON[listResponse[admin.ScheduledRow]](t, rec)
	if resp.Total != 2 || resp.Items[0].JobID != later.ID {
		t.Fatalf("unexpected scheduled list %+v", resp)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/scheduler/jobs/"+later.ID+"/enqueue", "")
	expectStatus(t, rec, http.StatusOK)
	ids, _ := env.client.LRange(ctx, rq.QueueKey("high"), 0, -1).Result()
	if len(ids) != 1 || ids[0] != later.ID {
		t.Fatalf("expected scheduled job on high, got %v", ids)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/scheduler/jobs/"+drop.ID, "")
	expectStatus(t, rec, http.StatusOK)
	rec = env.do(t, http.MethodDelete, "/api/v1/scheduler/jobs/"+drop.ID, "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/status", "")
	expectStatus(t, rec, http.StatusOK)
	body := decodeJSON[map[string]any](t, rec)
	conns, ok := body["redis"].([]any)
	if !ok || len(conns) != 1 {
		t.Fatalf("expected one redis connection, got %#v", body["redis"])
	}
	if conn := conns[0].(map[string]any); conn["ok"] != true {
		t.Fatalf("expected redis ok, got %#v", conn)
	}
	sched := body["scheduler"].(map[string]any)
	if sched["configured"] != true || sched["lock_held"] != false {
		t.Fatalf("unexpected scheduler status %#v", sched)
	}
	if build, ok := body["build"].(map[string]any); !ok || build["version"] == "" {
		t.Fatalf("expected build info, got %#v", body["build"])
	}
}

func TestFilters(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/filters", "")
	expectStatus(t, rec, http.StatusOK)
	body := decodeJSON[map[string][]admin.Choice](t, rec)
	if len(body["queues"]) != 2 || len(body["statuses"]) == 0 {
		t.Fatalf("unexpected filters %+v", body)
	}
}

func TestRequestsAreInstrumented(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/api/v1/queues/missing", "")
	env.metrics.mu.Lock()
	defer env.metrics.mu.Unlock()
	if len(env.metrics.routes) != 1 || env.metrics.routes[0] != "GET /api/v1/queues/{name} 404" {
		t.Fatalf("unexpected observations %v", env.metrics.routes)
	}
}

func TestActorRecordedOnEvents(t *testing.T) {
	clearAuthEnv(t)
	auth, err := NewBasicAuthProvider()
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	env := newTestEnv(t, auth)
	job := env.enqueue(t, "default")

	rec := env.do(t, http.MethodDelete, "/api/v1/jobs/"+job.ID, "", "X-Principal-Id", "alice")
	expectStatus(t, rec, http.StatusOK)
	if ev := env.events.last(); ev.Actor != "alice" || ev.JobID != job.ID {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRoleEnforcement(t *testing.T) {
	clearAuthEnv(t)
	t.Setenv(envAPIKeys, "ops:ops-key:admin,dash:view-key:viewer")
	auth, err := NewBasicAuthProvider()
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	env := newTestEnv(t, auth)

	rec := env.do(t, http.MethodGet, "/api/v1/queues", "")
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.do(t, http.MethodGet, "/api/v1/queues", "", "X-API-Key", "wrong")
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.do(t, http.MethodGet, "/api/v1/queues", "", "X-API-Key", "view-key")
	expectStatus(t, rec, http.StatusForbidden)

	rec = env.do(t, http.MethodGet, "/api/v1/status", "", "X-API-Key", "view-key")
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/api/v1/queues", "", "X-API-Key", "ops-key")
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/health", "")
	expectStatus(t, rec, http.StatusOK)
}

func TestStreamPushesQueueSnapshots(t *testing.T) {
	env := newTestEnv(t, nil)
	env.enqueue(t, "default")
	srv := httptest.NewServer(env.srv.handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var snap queueSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot %d: %v", i, err)
		}
		if len(snap.Queues) != 2 || snap.Queues[0].Queued != 1 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
	}
}
