// Package admin projects RQ queues, workers and jobs into listable rows and
// performs the administrative actions on them.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cordum/rqadmin/core/infra/bus"
	"github.com/cordum/rqadmin/core/infra/config"
	"github.com/cordum/rqadmin/core/infra/locks"
	"github.com/cordum/rqadmin/core/infra/logging"
	"github.com/cordum/rqadmin/core/infra/metrics"
	"github.com/cordum/rqadmin/core/infra/redisutil"
	"github.com/cordum/rqadmin/core/rq"
	"github.com/cordum/rqadmin/core/rq/scheduler"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a queue, worker or job does not exist.
var ErrNotFound = errors.New("not found")

// ErrBusy is returned when another replica is acting on the same object.
var ErrBusy = errors.New("action in progress")

// Connection is one distinct Redis endpoint.
type Connection struct {
	Info   redisutil.ConnInfo
	Client redis.UniversalClient
}

// Binding attaches a configured queue to its connection.
type Binding struct {
	Queue string
	Conn  *Connection
}

type queueEntry struct {
	name  string
	order int
	conn  *Connection
}

// Admin is the entry point for listings and actions.
type Admin struct {
	queues    []queueEntry
	conns     []*Connection
	scheduler *scheduler.Scheduler
	metrics   metrics.AdminMetrics
	events    bus.Publisher
	now       func() time.Time
	lockTTL   time.Duration
	closers   []func() error
}

// Option customises an Admin.
type Option func(*Admin)

func WithMetrics(m metrics.AdminMetrics) Option {
	return func(a *Admin) {
		if m != nil {
			a.metrics = m
		}
	}
}

func WithEvents(p bus.Publisher) Option {
	return func(a *Admin) {
		if p != nil {
			a.events = p
		}
	}
}

func WithScheduler(s *scheduler.Scheduler) Option {
	return func(a *Admin) { a.scheduler = s }
}

// WithActionLocks serialises clear and requeue actions across gateway
// replicas with a Redis lock on the affected connection. A zero ttl disables
// locking.
func WithActionLocks(ttl time.Duration) Option {
	return func(a *Admin) { a.lockTTL = ttl }
}

// WithClock overrides the time source used for requeued jobs.
func WithClock(now func() time.Time) Option {
	return func(a *Admin) {
		if now != nil {
			a.now = now
		}
	}
}

// New builds an Admin over already open connections. Queue order follows
// bindings. Connections with the same endpoint identity are enumerated once.
func New(bindings []Binding, opts ...Option) *Admin {
	a := &Admin{
		metrics: metrics.Noop{},
		events:  bus.Noop{},
		now:     time.Now,
	}
	seen := map[string]bool{}
	for i, b := range bindings {
		a.queues = append(a.queues, queueEntry{name: b.Queue, order: i, conn: b.Conn})
		if b.Conn == nil {
			continue
		}
		if key := b.Conn.Info.Key(); !seen[key] {
			seen[key] = true
			a.conns = append(a.conns, b.Conn)
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dial opens one client per distinct endpoint named in qc and wires the
// scheduler block.
func Dial(qc *config.QueuesConfig, opts ...Option) (*Admin, error) {
	if qc == nil || len(qc.Queues) == 0 {
		return nil, errors.New("no queues configured")
	}
	byKey := map[string]*Connection{}
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	connect := func(url string) (*Connection, error) {
		parsed, err := redisutil.ParseOptions(url)
		if err != nil {
			return nil, err
		}
		key := redisutil.InfoFromOptions(parsed).Key()
		if c, ok := byKey[key]; ok {
			return c, nil
		}
		client, info, err := redisutil.NewClient(url)
		if err != nil {
			return nil, err
		}
		conn := &Connection{Info: info, Client: client}
		byKey[key] = conn
		closers = append(closers, client.Close)
		logging.Info("admin", "redis connected", "location", info.Location(), "db", info.DB)
		return conn, nil
	}

	bindings := make([]Binding, 0, len(qc.Queues))
	for _, q := range qc.Queues {
		conn, err := connect(q.URL)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("queue %s: %w", q.Name, err)
		}
		bindings = append(bindings, Binding{Queue: q.Name, Conn: conn})
	}
	sc := qc.Scheduler
	schedConn, err := connect(sc.URL)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	sched := scheduler.New(schedConn.Client, scheduler.Options{
		JobsKey:        sc.JobsKey,
		LockKey:        sc.LockKey,
		Queue:          sc.Queue,
		QueueClassName: sc.QueueClassName,
	})
	a := New(bindings, append([]Option{WithScheduler(sched)}, opts...)...)
	a.closers = closers
	return a, nil
}

// Close releases connections opened by Dial.
func (a *Admin) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Connections returns the distinct endpoints in configuration order.
func (a *Admin) Connections() []*Connection {
	out := make([]*Connection, len(a.conns))
	copy(out, a.conns)
	return out
}

// Scheduler returns the rq-scheduler wrapper, or nil if none is wired.
func (a *Admin) Scheduler() *scheduler.Scheduler { return a.scheduler }

// QueueNames lists configured queue names in order.
func (a *Admin) QueueNames() []string {
	out := make([]string, len(a.queues))
	for i, q := range a.queues {
		out[i] = q.name
	}
	return out
}

func (a *Admin) queue(name string) (queueEntry, *rq.Queue, error) {
	for _, q := range a.queues {
		if q.name == name {
			if q.conn == nil {
				return q, nil, fmt.Errorf("queue %s has no connection", name)
			}
			return q, rq.NewQueue(q.name, q.conn.Client), nil
		}
	}
	return queueEntry{}, nil, fmt.Errorf("queue %q: %w", name, ErrNotFound)
}

// ConnStatus is the health of one endpoint.
type ConnStatus struct {
	Location string `json:"location"`
	DB       int    `json:"db"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Ping checks every distinct connection.
func (a *Admin) Ping(ctx context.Context) []ConnStatus {
	out := make([]ConnStatus, 0, len(a.conns))
	for _, c := range a.conns {
		st := ConnStatus{Location: c.Info.Location(), DB: c.Info.DB, OK: true}
		if err := c.Client.Ping(ctx).Err(); err != nil {
			st.OK = false
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out
}

type actorKey struct{}

// ContextWithActor tags actions performed with ctx for audit events.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

// withLock runs fn under resource on conn when action locks are enabled.
func (a *Admin) withLock(ctx context.Context, conn *Connection, resource string, fn func() error) error {
	if a.lockTTL <= 0 || conn == nil {
		return fn()
	}
	err := locks.With(ctx, locks.NewRedisStore(conn.Client), resource, a.lockTTL, fn)
	if errors.Is(err, locks.ErrHeld) {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}

func (a *Admin) publish(ctx context.Context, ev bus.Event) {
	ev.Actor = actorFromContext(ctx)
	if err := a.events.PublishEvent(ev); err != nil {
		logging.Warn("admin", "publish event failed", "kind", ev.Kind, "error", err)
	}
}
