package bus

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SubjectPrefix namespaces every admin audit event.
const SubjectPrefix = "rqadmin.events."

// Event kinds published by admin actions.
const (
	KindQueueCleared   = "queue_cleared"
	KindJobRequeued    = "job_requeued"
	KindJobDeleted     = "job_deleted"
	KindScheduledMoved = "scheduled_enqueued"
	KindScheduledDrop  = "scheduled_canceled"
)

// Event is the JSON audit record of one admin mutation.
type Event struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Queue          string    `json:"queue,omitempty"`
	JobID          string    `json:"job_id,omitempty"`
	NewJobID       string    `json:"new_job_id,omitempty"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	Count          int       `json:"count,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	Time           time.Time `json:"time"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(kind string) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Time: time.Now().UTC()}
}

// Subject returns the NATS subject for an event kind.
func Subject(kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		kind = "unknown"
	}
	return SubjectPrefix + kind
}

// Publisher emits audit events.
type Publisher interface {
	PublishEvent(ev Event) error
}

// Noop drops every event; used when NATS_URL is unset.
type Noop struct{}

func (Noop) PublishEvent(Event) error { return nil }
