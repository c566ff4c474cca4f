package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueConfig mirrors one RQ_QUEUES entry.
type QueueConfig struct {
	Name           string `yaml:"name" json:"name"`
	URL            string `yaml:"url,omitempty" json:"-"`
	DefaultTimeout string `yaml:"default_timeout,omitempty" json:"default_timeout,omitempty"`
	// IsAsync=false queues run inline in the producer and never hold jobs.
	IsAsync *bool `yaml:"is_async,omitempty" json:"is_async,omitempty"`
	// Serializer must name RQ's JSON serializer; job payloads are decoded as
	// JSON.
	Serializer string `yaml:"serializer,omitempty" json:"serializer,omitempty"`
}

// Timeout parses DefaultTimeout as a Go duration or plain seconds.
func (q QueueConfig) Timeout() (time.Duration, error) {
	raw := strings.TrimSpace(q.DefaultTimeout)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("queue %s: invalid default_timeout %q", q.Name, raw)
	}
	return d, nil
}

// SchedulerConfig selects the keys of an isolated rq-scheduler instance.
type SchedulerConfig struct {
	JobsKey string `yaml:"jobs_key,omitempty" json:"jobs_key"`
	LockKey string `yaml:"lock_key,omitempty" json:"lock_key"`
	// Queue receives scheduled jobs that do not name one.
	Queue          string `yaml:"queue,omitempty" json:"queue"`
	QueueClassName string `yaml:"queue_class_name,omitempty" json:"queue_class_name,omitempty"`
	URL            string `yaml:"url,omitempty" json:"-"`
}

func (s *SchedulerConfig) applyDefaults(qc *QueuesConfig) {
	if s.JobsKey == "" {
		s.JobsKey = defaultSchedulerJobsKey
	}
	if s.LockKey == "" {
		s.LockKey = defaultSchedulerLockKey
	}
	if s.Queue == "" && len(qc.Queues) > 0 {
		s.Queue = qc.Queues[0].Name
	}
	if s.URL == "" {
		if q, ok := qc.Queue(s.Queue); ok {
			s.URL = q.URL
		}
	}
}

// QueuesConfig lists the queues the admin exposes, in display order.
type QueuesConfig struct {
	Queues    []QueueConfig   `yaml:"queues" json:"queues"`
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty" json:"scheduler"`
}

// Queue finds a queue by name.
func (c *QueuesConfig) Queue(name string) (QueueConfig, bool) {
	for _, q := range c.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueConfig{}, false
}

// Names returns queue names in configured order.
func (c *QueuesConfig) Names() []string {
	out := make([]string, 0, len(c.Queues))
	for _, q := range c.Queues {
		out = append(out, q.Name)
	}
	return out
}

// DefaultQueuesConfig is used when no queues file is present.
func DefaultQueuesConfig(redisURL string) *QueuesConfig {
	if redisURL == "" {
		redisURL = defaultRedisURL
	}
	return &QueuesConfig{Queues: []QueueConfig{{Name: "default", URL: redisURL}}}
}

// ParseQueuesConfig parses queues config data from YAML/JSON bytes. Queues
// without a url inherit defaultURL.
func ParseQueuesConfig(data []byte, defaultURL string) (*QueuesConfig, error) {
	if len(data) == 0 {
		return nil, errors.New("queues config is empty")
	}
	if err := validateConfigSchema("queues", queuesSchemaFile, data); err != nil {
		return nil, err
	}
	var cfg QueuesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse queues config: %w", err)
	}
	if defaultURL == "" {
		defaultURL = defaultRedisURL
	}
	seen := make(map[string]struct{}, len(cfg.Queues))
	for i := range cfg.Queues {
		q := &cfg.Queues[i]
		q.Name = strings.TrimSpace(q.Name)
		if _, dup := seen[q.Name]; dup {
			return nil, fmt.Errorf("duplicate queue %q", q.Name)
		}
		seen[q.Name] = struct{}{}
		if q.URL == "" {
			q.URL = defaultURL
		}
		if _, err := q.Timeout(); err != nil {
			return nil, err
		}
	}
	if cfg.Scheduler.Queue != "" {
		if _, ok := seen[cfg.Scheduler.Queue]; !ok {
			return nil, fmt.Errorf("scheduler queue %q is not configured", cfg.Scheduler.Queue)
		}
	}
	cfg.Scheduler.applyDefaults(&cfg)
	return &cfg, nil
}

// LoadQueuesConfig reads a YAML file listing queues.
func LoadQueuesConfig(path, defaultURL string) (*QueuesConfig, error) {
	if path == "" {
		return nil, errors.New("queues config path is empty")
	}
	// #nosec G304 -- queues config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queues config %s: %w", path, err)
	}
	cfg, err := ParseQueuesConfig(data, defaultURL)
	if err != nil {
		return nil, fmt.Errorf("load queues config %s: %w", path, err)
	}
	return cfg, nil
}
