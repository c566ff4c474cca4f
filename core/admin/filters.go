package admin

import (
	"slices"

	"github.com/cordum/rqadmin/core/admin/listset"
	"github.com/cordum/rqadmin/core/rq"
)

// Choice is one selectable filter value.
type Choice struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// QueueChoices offers every configured queue.
func (a *Admin) QueueChoices() []Choice {
	out := make([]Choice, 0, len(a.queues))
	for _, q := range a.queues {
		out = append(out, Choice{Value: q.name, Label: q.name})
	}
	return out
}

// StatusChoices offers the statuses a job list can be narrowed to.
func StatusChoices() []Choice {
	return []Choice{
		{Value: string(rq.StatusQueued), Label: "Queued"},
		{Value: string(rq.StatusDeferred), Label: "Deferred"},
		{Value: string(rq.StatusScheduled), Label: "Scheduled"},
		{Value: string(rq.StatusStarted), Label: "Started"},
		{Value: string(rq.StatusFinished), Label: "Finished"},
		{Value: string(rq.StatusFailed), Label: "Failed"},
	}
}

// WorkerFilter keeps workers listening on any of Queues.
type WorkerFilter struct {
	Queues []string
}

func (f WorkerFilter) Apply(s *listset.ListSet[WorkerRow]) *listset.ListSet[WorkerRow] {
	if len(f.Queues) == 0 {
		return s
	}
	return s.Filter(func(w WorkerRow) bool {
		for _, q := range f.Queues {
			if slices.Contains(w.Queues, q) {
				return true
			}
		}
		return false
	})
}

// JobFilter keeps jobs whose id is in IDs, whose origin is in Queues and
// whose status is in Statuses. An empty list does not filter.
type JobFilter struct {
	IDs      []string
	Queues   []string
	Statuses []string
}

func (f JobFilter) Apply(s *listset.ListSet[JobRow]) *listset.ListSet[JobRow] {
	if len(f.IDs) > 0 {
		s = s.FilterPK(f.IDs...)
	}
	if len(f.Queues) > 0 {
		s = s.Filter(func(j JobRow) bool { return slices.Contains(f.Queues, j.Queue) })
	}
	if len(f.Statuses) > 0 {
		s = s.Filter(func(j JobRow) bool { return slices.Contains(f.Statuses, j.Status) })
	}
	return s
}
