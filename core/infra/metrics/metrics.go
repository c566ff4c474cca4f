package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminMetrics counts the mutations performed through the admin.
type AdminMetrics interface {
	IncQueuesCleared(queue string)
	IncJobsRequeued(queue, previousStatus string)
	IncJobsDeleted(queue string)
	IncInvalidJobs(queue string)
}

// GatewayMetrics captures request metrics for the HTTP API.
type GatewayMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements AdminMetrics and GatewayMetrics without emitting anything.
type Noop struct{}

func (Noop) IncQueuesCleared(string)                        {}
func (Noop) IncJobsRequeued(string, string)                 {}
func (Noop) IncJobsDeleted(string)                          {}
func (Noop) IncInvalidJobs(string)                          {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements AdminMetrics backed by Prometheus counters.
type Prom struct {
	queuesCleared *prometheus.CounterVec
	jobsRequeued  *prometheus.CounterVec
	jobsDeleted   *prometheus.CounterVec
	invalidJobs   *prometheus.CounterVec
	once          sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		queuesCleared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queues_cleared_total",
			Help:      "Queues cleared by name",
		}, []string{"queue"}),
		jobsRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_requeued_total",
			Help:      "Jobs requeued by queue and status before the requeue",
		}, []string{"queue", "status"}),
		jobsDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_deleted_total",
			Help:      "Jobs deleted by queue",
		}, []string{"queue"}),
		invalidJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_jobs_total",
			Help:      "Jobs that could not be decoded, by queue",
		}, []string{"queue"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.queuesCleared, p.jobsRequeued, p.jobsDeleted, p.invalidJobs)
	})
}

func (p *Prom) IncQueuesCleared(queue string) {
	p.queuesCleared.WithLabelValues(queue).Inc()
}

func (p *Prom) IncJobsRequeued(queue, previousStatus string) {
	p.jobsRequeued.WithLabelValues(queue, previousStatus).Inc()
}

func (p *Prom) IncJobsDeleted(queue string) {
	p.jobsDeleted.WithLabelValues(queue).Inc()
}

func (p *Prom) IncInvalidJobs(queue string) {
	p.invalidJobs.WithLabelValues(queue).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Gateway metrics ---

type gatewayProm struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	once     sync.Once
}

// NewGatewayProm constructs a GatewayMetrics with counters/histograms.
func NewGatewayProm(namespace string) GatewayMetrics {
	g := &gatewayProm{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	g.once.Do(func() {
		prometheus.MustRegister(g.requests, g.latency)
	})
	return g
}

func (g *gatewayProm) ObserveRequest(method, route, status string, durationSeconds float64) {
	g.requests.WithLabelValues(method, route, status).Inc()
	g.latency.WithLabelValues(method, route).Observe(durationSeconds)
}
