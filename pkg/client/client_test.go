package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestListJobsSendsFiltersAndKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("missing api key header")
		}
		q := r.URL.Query()
		if len(q["queue"]) != 2 || q.Get("status") != "failed" || q.Get("order") != "-created_at,id" || q.Get("limit") != "10" || q.Get("id") != "j1" {
			t.Errorf("unexpected query %v", q)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{{"id": "j1", "queue": "default", "status": "failed"}},
			"total": 1,
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "secret")
	list, err := c.ListJobs(context.Background(), ListOptions{
		Queues:   []string{"default", "high"},
		Statuses: []string{"failed"},
		IDs:      []string{"j1"},
		Order:    []string{"-created_at", "id"},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if list.Total != 1 || list.Items[0].ID != "j1" || list.Items[0].Status != "failed" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestRequeueJobReturnsNextID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/jobs/j1/requeue" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "j2"})
	}))
	defer srv.Close()

	id, err := New(srv.URL, "").RequeueJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if id != "j2" {
		t.Fatalf("expected j2, got %q", id)
	}
}

func TestBulkDeleteSendsIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.IDs) != 2 {
			t.Errorf("unexpected body %+v err=%v", body, err)
		}
		_ = json.NewEncoder(w).Encode(ActionResult{Count: 2, Message: "Successfully deleted 2 jobs."})
	}))
	defer srv.Close()

	res, err := New(srv.URL, "").DeleteJobs(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("delete jobs: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestErrorStatusIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "job \"x\": not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").GetJob(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message == "" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}
