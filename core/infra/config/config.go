package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultRedisURL         = "redis://localhost:6379"
	defaultQueuesConfig     = "config/queues.yaml"
	defaultHTTPAddr         = ":8081"
	defaultMetricsAddr      = ":9092"
	defaultStreamInterval   = 5 * time.Second
	defaultActionLockTTL    = 30 * time.Second
	defaultSchedulerJobsKey = "rq:scheduler:scheduled_jobs"
	defaultSchedulerLockKey = "rq:scheduler:scheduler_lock"
	envNATSURL              = "NATS_URL"
	envRedisURL             = "REDIS_URL"
	envQueuesConfigPath     = "QUEUES_CONFIG_PATH"
	envHTTPAddr             = "RQADMIN_HTTP_ADDR"
	envMetricsAddr          = "RQADMIN_METRICS_ADDR"
	envStreamInterval       = "STREAM_INTERVAL"
	envActionLockTTL        = "RQADMIN_ACTION_LOCK_TTL"
	envSchedulerJobsKey     = "RQ_SCHEDULER_JOBS_KEY"
	envSchedulerLockKey     = "RQ_SCHEDULER_LOCK_KEY"
	envEnvFile              = "RQADMIN_ENV_FILE"
	defaultEnvFile          = ".env"
)

// Config holds runtime configuration for the admin services.
type Config struct {
	// NatsURL enables audit events when set.
	NatsURL          string
	RedisURL         string
	QueuesConfigPath string
	HTTPAddr         string
	MetricsAddr      string
	StreamInterval   time.Duration
	// ActionLockTTL bounds the Redis lock held during clear and requeue.
	// Zero disables locking.
	ActionLockTTL    time.Duration
	SchedulerJobsKey string
	SchedulerLockKey string
}

// Load returns configuration using environment variables with sane defaults.
func Load() *Config {
	return &Config{
		NatsURL:          strings.TrimSpace(os.Getenv(envNATSURL)),
		RedisURL:         envOr(envRedisURL, defaultRedisURL),
		QueuesConfigPath: envOr(envQueuesConfigPath, defaultQueuesConfig),
		HTTPAddr:         envOr(envHTTPAddr, defaultHTTPAddr),
		MetricsAddr:      envOr(envMetricsAddr, defaultMetricsAddr),
		StreamInterval:   durationEnv(envStreamInterval, defaultStreamInterval),
		ActionLockTTL:    lockTTLEnv(envActionLockTTL, defaultActionLockTTL),
		SchedulerJobsKey: strings.TrimSpace(os.Getenv(envSchedulerJobsKey)),
		SchedulerLockKey: strings.TrimSpace(os.Getenv(envSchedulerLockKey)),
	}
}

// LoadQueues resolves the queue list. A missing queues file falls back to a
// single "default" queue on RedisURL; a present but invalid file is an error.
// Scheduler keys from the environment win over the file.
func (c *Config) LoadQueues() (*QueuesConfig, error) {
	var (
		qc  *QueuesConfig
		err error
	)
	if _, statErr := os.Stat(c.QueuesConfigPath); c.QueuesConfigPath != "" && statErr == nil {
		qc, err = LoadQueuesConfig(c.QueuesConfigPath, c.RedisURL)
		if err != nil {
			return nil, err
		}
	} else {
		qc = DefaultQueuesConfig(c.RedisURL)
	}
	if c.SchedulerJobsKey != "" {
		qc.Scheduler.JobsKey = c.SchedulerJobsKey
	}
	if c.SchedulerLockKey != "" {
		qc.Scheduler.LockKey = c.SchedulerLockKey
	}
	qc.Scheduler.applyDefaults(qc)
	return qc, nil
}

// LoadEnvFile reads KEY=value pairs from RQADMIN_ENV_FILE (default .env)
// into the process environment. Variables already set are kept. A missing
// default file is not an error; a missing explicit file is.
func LoadEnvFile() error {
	path := strings.TrimSpace(os.Getenv(envEnvFile))
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

// lockTTLEnv is durationEnv that also accepts "0" or "off" to disable.
func lockTTLEnv(key string, fallback time.Duration) time.Duration {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "0", "off", "false", "none":
		return 0
	}
	return durationEnv(key, fallback)
}
