// Package rq reads and mutates the Redis layout written by RQ workers and
// producers. It covers only what an administrator needs: listing queues,
// registries, workers and jobs, plus the few status-conditioned writes
// behind clear, requeue and delete.
package rq

import (
	"strings"
	"time"
)

const (
	// QueuesKey is the set of every known queue key.
	QueuesKey = "rq:queues"
	// WorkersKey is the set of every registered worker key.
	WorkersKey = "rq:workers"

	queueKeyPrefix  = "rq:queue:"
	jobKeyPrefix    = "rq:job:"
	workerKeyPrefix = "rq:worker:"
	queueWorkersKey = "rq:workers:"

	// TimeFormat is RQ's UTC timestamp layout.
	TimeFormat = "2006-01-02T15:04:05.000000Z"
)

// Status is a job lifecycle state as stored in the job hash.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusDeferred  Status = "deferred"
	StatusScheduled Status = "scheduled"
	StatusStarted   Status = "started"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
	StatusCanceled  Status = "canceled"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{
	StatusQueued, StatusDeferred, StatusScheduled, StatusStarted,
	StatusFinished, StatusFailed, StatusStopped, StatusCanceled,
}

func QueueKey(name string) string { return queueKeyPrefix + name }

func JobKey(id string) string { return jobKeyPrefix + id }

func DependentsKey(id string) string { return jobKeyPrefix + id + ":dependents" }

func WorkerKey(name string) string { return workerKeyPrefix + name }

func QueueWorkersKey(queue string) string { return queueWorkersKey + queue }

// QueueNameFromKey strips the queue key prefix.
func QueueNameFromKey(key string) string { return strings.TrimPrefix(key, queueKeyPrefix) }

// WorkerNameFromKey strips the worker key prefix.
func WorkerNameFromKey(key string) string { return strings.TrimPrefix(key, workerKeyPrefix) }

// FormatTime renders t the way RQ stores timestamps.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeFormat)
}

// ParseTime accepts RQ timestamps with or without microseconds. Empty or
// malformed values yield the zero time.
func ParseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{TimeFormat, "2006-01-02T15:04:05Z", time.RFC3339Nano} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
