// Package gateway serves the RQ admin API over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cordum/rqadmin/core/admin"
	"github.com/cordum/rqadmin/core/infra/buildinfo"
	"github.com/cordum/rqadmin/core/infra/bus"
	"github.com/cordum/rqadmin/core/infra/config"
	"github.com/cordum/rqadmin/core/infra/logging"
	infraMetrics "github.com/cordum/rqadmin/core/infra/metrics"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
)

const (
	wsAPIKeyProtocol = "rqadmin-api-key"

	metricsNamespace = "rqadmin"

	defaultJobsOrder = "-created_at"
	defaultJobsLimit = 100
	maxListLimit     = 1000
	maxBodyBytes     = 1 << 20
)

var errBadRequest = errors.New("bad request")

var validate = validator.New(validator.WithRequiredStructEnabled())

type server struct {
	admin          *admin.Admin
	bus            bus.Publisher
	auth           AuthProvider
	metrics        infraMetrics.GatewayMetrics
	limiter        *tokenBucket
	started        time.Time
	streamInterval time.Duration
	upgrader       websocket.Upgrader
}

func newServer(adm *admin.Admin, auth AuthProvider, m infraMetrics.GatewayMetrics, events bus.Publisher, streamInterval time.Duration) *server {
	if events == nil {
		events = bus.Noop{}
	}
	if streamInterval <= 0 {
		streamInterval = 5 * time.Second
	}
	return &server{
		admin:          adm,
		bus:            events,
		auth:           auth,
		metrics:        m,
		started:        time.Now().UTC(),
		streamInterval: streamInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     isAllowedOrigin,
			Subprotocols:    []string{wsAPIKeyProtocol},
		},
	}
}

// Run starts the admin gateway with the basic API key provider.
func Run(cfg *config.Config) error {
	return RunWithAuth(cfg, nil)
}

// RunWithAuth starts the gateway with a custom auth provider. When nil, the
// basic provider is used.
func RunWithAuth(cfg *config.Config, provider AuthProvider) error {
	if cfg == nil {
		cfg = config.Load()
	}
	if provider == nil {
		basic, err := NewBasicAuthProvider()
		if err != nil {
			return fmt.Errorf("init auth: %w", err)
		}
		provider = basic
	}

	qc, err := cfg.LoadQueues()
	if err != nil {
		return fmt.Errorf("load queues: %w", err)
	}

	var events bus.Publisher = bus.Noop{}
	if cfg.NatsURL != "" {
		natsBus, err := bus.NewNatsBus(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsBus.Close()
		events = natsBus
	}

	adm, err := admin.Dial(qc,
		admin.WithMetrics(infraMetrics.NewProm(metricsNamespace)),
		admin.WithEvents(events),
		admin.WithActionLocks(cfg.ActionLockTTL),
	)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer adm.Close()

	s := newServer(adm, provider, infraMetrics.NewGatewayProm(metricsNamespace), events, cfg.StreamInterval)
	s.limiter = rateLimitFromEnv()
	defer s.limiter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return startHTTPServer(ctx, s, cfg.HTTPAddr, cfg.MetricsAddr)
}

func startHTTPServer(ctx context.Context, s *server, httpAddr, metricsAddr string) error {
	if metricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", infraMetrics.Handler())
		metricsSrv := &http.Server{
			Addr:         metricsAddr,
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logging.Info("gateway", "metrics listening", "addr", metricsAddr+"/metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("gateway", "metrics server error", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	srv := &http.Server{
		Addr:              httpAddr,
		Handler:           s.handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Info("gateway", "http listening", "addr", httpAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handler builds the routed and wrapped API handler.
func (s *server) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/v1/status", s.instrumented("/api/v1/status", s.handleStatus))
	mux.HandleFunc("GET /api/v1/filters", s.instrumented("/api/v1/filters", s.handleFilters))

	// Queues
	mux.HandleFunc("GET /api/v1/queues", s.instrumented("/api/v1/queues", s.handleListQueues))
	mux.HandleFunc("POST /api/v1/queues/clear", s.instrumented("/api/v1/queues/clear", s.handleClearQueues))
	mux.HandleFunc("GET /api/v1/queues/{name}", s.instrumented("/api/v1/queues/{name}", s.handleGetQueue))
	mux.HandleFunc("POST /api/v1/queues/{name}/clear", s.instrumented("/api/v1/queues/{name}/clear", s.handleClearQueue))

	// Workers
	mux.HandleFunc("GET /api/v1/workers", s.instrumented("/api/v1/workers", s.handleListWorkers))
	mux.HandleFunc("GET /api/v1/workers/{name}", s.instrumented("/api/v1/workers/{name}", s.handleGetWorker))

	// Jobs
	mux.HandleFunc("GET /api/v1/jobs", s.instrumented("/api/v1/jobs", s.handleListJobs))
	mux.HandleFunc("POST /api/v1/jobs/requeue", s.instrumented("/api/v1/jobs/requeue", s.handleRequeueJobs))
	mux.HandleFunc("POST /api/v1/jobs/delete", s.instrumented("/api/v1/jobs/delete", s.handleDeleteJobs))
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.instrumented("/api/v1/jobs/{id}", s.handleGetJob))
	mux.HandleFunc("POST /api/v1/jobs/{id}/requeue", s.instrumented("/api/v1/jobs/{id}/requeue", s.handleRequeueJob))
	mux.HandleFunc("DELETE /api/v1/jobs/{id}", s.instrumented("/api/v1/jobs/{id}", s.handleDeleteJob))

	// rq-scheduler
	mux.HandleFunc("GET /api/v1/scheduler/jobs", s.instrumented("/api/v1/scheduler/jobs", s.handleListScheduled))
	mux.HandleFunc("POST /api/v1/scheduler/jobs/{id}/enqueue", s.instrumented("/api/v1/scheduler/jobs/{id}/enqueue", s.handleEnqueueScheduled))
	mux.HandleFunc("DELETE /api/v1/scheduler/jobs/{id}", s.instrumented("/api/v1/scheduler/jobs/{id}", s.handleCancelScheduled))

	mux.HandleFunc("GET /api/v1/stream", s.instrumented("/api/v1/stream", s.handleStream))

	return corsMiddleware(rateLimitMiddleware(s.limiter, apiKeyMiddleware(s.auth, mux)))
}

func (s *server) requireRole(r *http.Request, roles ...string) error {
	if s.auth == nil {
		return nil
	}
	return s.auth.RequireRole(r, roles...)
}

// requireManage writes 403 and returns false when the caller may not manage
// queues and jobs.
func (s *server) requireManage(w http.ResponseWriter, r *http.Request) bool {
	if err := s.requireRole(r, roleAdmin); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return false
	}
	return true
}

// actionContext tags the request context with the caller for audit events.
func actionContext(r *http.Request) context.Context {
	return admin.ContextWithActor(r.Context(), actorFromRequest(r))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps admin errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), errorStatus(err))
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, admin.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, admin.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, admin.ErrNoScheduler):
		return http.StatusServiceUnavailable
	default:
		logging.Error("gateway", "request failed", "error", err)
		return http.StatusInternalServerError
	}
}

// writeActionError reports a bulk action that failed part way, keeping the
// count of objects already acted on.
func writeActionError(w http.ResponseWriter, res admin.ActionResult, err error) {
	writeJSON(w, errorStatus(err), struct {
		admin.ActionResult
		Error string `json:"error"`
	}{ActionResult: res, Error: err.Error()})
}

type listParams struct {
	order  []string
	limit  int
	offset int
}

func parseListParams(r *http.Request, defaultOrder string, defaultLimit int) (listParams, error) {
	q := r.URL.Query()
	p := listParams{limit: defaultLimit}
	for _, raw := range q["order"] {
		for _, field := range strings.Split(raw, ",") {
			if field = strings.TrimSpace(field); field != "" {
				p.order = append(p.order, field)
			}
		}
	}
	if len(p.order) == 0 && defaultOrder != "" {
		p.order = []string{defaultOrder}
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return p, fmt.Errorf("%w: invalid limit %q", errBadRequest, raw)
		}
		p.limit = v
	}
	if p.limit > maxListLimit {
		p.limit = maxListLimit
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return p, fmt.Errorf("%w: invalid offset %q", errBadRequest, raw)
		}
		p.offset = v
	}
	return p, nil
}

// multiValue collects a repeatable query parameter, also splitting commas.
func multiValue(r *http.Request, name string) []string {
	var out []string
	for _, raw := range r.URL.Query()[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type namesRequest struct {
	Names []string `json:"names" validate:"required,min=1,dive,required"`
}

type idsRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// decodeBody reads a JSON body into v and validates its struct tags.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json: %v", errBadRequest, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptimeSeconds := int64(0)
	if !s.started.IsZero() {
		uptimeSeconds = int64(now.Sub(s.started).Seconds())
	}

	natsConnected := false
	natsStatus := "DISABLED"
	natsURL := ""
	if nb, ok := s.bus.(*bus.NatsBus); ok {
		natsConnected = nb.IsConnected()
		natsStatus = nb.Status()
		natsURL = nb.ConnectedURL()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	conns := s.admin.Ping(ctx)

	schedulerStatus := map[string]any{"configured": false}
	if lock, err := s.admin.LockStatus(ctx); err == nil {
		schedulerStatus = map[string]any{
			"configured":  true,
			"lock_held":   lock.Held,
			"lock_owner":  lock.Owner,
			"ttl_seconds": int64(lock.TTL.Seconds()),
		}
	} else if !errors.Is(err, admin.ErrNoScheduler) {
		schedulerStatus = map[string]any{"configured": true, "error": err.Error()}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"time":           now.Format(time.RFC3339),
		"uptime_seconds": uptimeSeconds,
		"build":          buildinfo.Current(),
		"nats": map[string]any{
			"connected": natsConnected,
			"status":    natsStatus,
			"url":       natsURL,
		},
		"redis":     conns,
		"scheduler": schedulerStatus,
	})
}

func (s *server) handleFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"queues":   s.admin.QueueChoices(),
		"statuses": admin.StatusChoices(),
	})
}

func (s *server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	p, err := parseListParams(r, "order", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	set, err := s.admin.Queues().All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	set, err = set.OrderBy(p.order...)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	items, total := set.Page(p.offset, p.limit)
	writeJSON(w, http.StatusOK, listResponse[admin.QueueRow]{Items: items, Total: total, Limit: p.limit, Offset: p.offset})
}

func (s *server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	row, err := s.admin.Queues().Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	name := r.PathValue("name")
	if err := s.admin.ClearQueue(actionContext(r), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, admin.ActionResult{
		Count:   1,
		Message: admin.ObjectMessage(admin.QueueMeta, name, "cleared"),
	})
}

func (s *server) handleClearQueues(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	var req namesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.admin.ClearQueues(actionContext(r), req.Names)
	if err != nil {
		writeActionError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	p, err := parseListParams(r, "", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	set, err := s.admin.Workers().All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	set = admin.WorkerFilter{Queues: multiValue(r, "queue")}.Apply(set)
	set, err = set.OrderBy(p.order...)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	items, total := set.Page(p.offset, p.limit)
	writeJSON(w, http.StatusOK, listResponse[admin.WorkerRow]{Items: items, Total: total, Limit: p.limit, Offset: p.offset})
}

func (s *server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	row, err := s.admin.Workers().Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	p, err := parseListParams(r, defaultJobsOrder, defaultJobsLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	set, err := s.admin.Jobs().All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	set = admin.JobFilter{
		IDs:      multiValue(r, "id"),
		Queues:   multiValue(r, "queue"),
		Statuses: multiValue(r, "status"),
	}.Apply(set)
	set, err = set.OrderBy(p.order...)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	items, total := set.Page(p.offset, p.limit)
	writeJSON(w, http.StatusOK, listResponse[admin.JobRow]{Items: items, Total: total, Limit: p.limit, Offset: p.offset})
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	detail, err := s.admin.Jobs().Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *server) handleRequeueJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	id := r.PathValue("id")
	next, err := s.admin.RequeueJob(actionContext(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  next,
		"message": admin.ObjectMessage(admin.JobMeta, id, "requeued"),
	})
}

func (s *server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	id := r.PathValue("id")
	if err := s.admin.DeleteJob(actionContext(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, admin.ActionResult{
		Count:   1,
		Message: admin.ObjectMessage(admin.JobMeta, id, "deleted"),
	})
}

func (s *server) handleRequeueJobs(w http.ResponseWriter, r *http.Request) {
	s.handleBulkJobs(w, r, s.admin.RequeueJobs)
}

func (s *server) handleDeleteJobs(w http.ResponseWriter, r *http.Request) {
	s.handleBulkJobs(w, r, s.admin.DeleteJobs)
}

func (s *server) handleBulkJobs(w http.ResponseWriter, r *http.Request, action func(context.Context, []string) (admin.ActionResult, error)) {
	if !s.requireManage(w, r) {
		return
	}
	var req idsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := action(actionContext(r), req.IDs)
	if err != nil {
		writeActionError(w, res, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleListScheduled(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	rows, err := s.admin.ScheduledJobs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[admin.ScheduledRow]{Items: rows, Total: len(rows)})
}

func (s *server) handleEnqueueScheduled(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	id := r.PathValue("id")
	if err := s.admin.EnqueueScheduled(actionContext(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  id,
		"message": admin.ObjectMessage(admin.JobMeta, id, "enqueued"),
	})
}

func (s *server) handleCancelScheduled(w http.ResponseWriter, r *http.Request) {
	if !s.requireManage(w, r) {
		return
	}
	id := r.PathValue("id")
	if err := s.admin.CancelScheduled(actionContext(r), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  id,
		"message": admin.ObjectMessage(admin.JobMeta, id, "canceled"),
	})
}
