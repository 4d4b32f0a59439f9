package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jdziat/strand-jobs/pkg/core"
	"github.com/jdziat/strand-jobs/pkg/schedule"
)

// ScheduledJob is a recurring submission.
type ScheduledJob struct {
	Name     string
	Schedule schedule.Schedule
	Type     core.JobType
	Payload  json.RawMessage
}

// Schedule registers a recurring submission of t with payload. Each firing
// goes through Enqueue, so a run that is still in flight absorbs the next
// one as a duplicate.
func (q *Queue) Schedule(name string, sched schedule.Schedule, t core.JobType, payload any) error {
	if name == "" || sched == nil {
		return fmt.Errorf("jobs: schedule needs a name and a schedule")
	}
	raw, _, err := q.prepare(t, payload)
	if err != nil {
		return fmt.Errorf("jobs: schedule %q: %w", name, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.schedules[name] = &ScheduledJob{Name: name, Schedule: sched, Type: t, Payload: raw}
	return nil
}

// Unschedule removes a recurring submission.
func (q *Queue) Unschedule(name string) {
	q.mu.Lock()
	delete(q.schedules, name)
	q.mu.Unlock()
}

// ScheduledJobs returns the registered schedules ordered by name.
func (q *Queue) ScheduledJobs() []*ScheduledJob {
	q.mu.Lock()
	out := make([]*ScheduledJob, 0, len(q.schedules))
	for _, sj := range q.schedules {
		out = append(out, sj)
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Fire submits one run of a scheduled job.
func (q *Queue) Fire(ctx context.Context, sj *ScheduledJob) (EnqueueResult, error) {
	return q.Enqueue(ctx, sj.Type, sj.Payload)
}
