// Package state defines the tagged state values a job moves through.
// A State is an immutable value object: it carries a stable, globally
// unique Name plus a case-specific payload (Scheduled's target instant,
// Processing's worker identity, Succeeded's result, Failed/Deleted's
// exception info). Names are wire identifiers and are never renamed.
package state

import (
	"time"

	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/job"
)

// State is the candidate/elected value passed through the election and
// application pipelines. Copy by value; construct with the functions
// below rather than a struct literal so the Name/case invariant holds.
type State struct {
	name   job.State
	reason string

	scheduledAt *time.Time

	serverID  string
	workerID  id.WorkerID
	startedAt *time.Time

	result   []byte
	duration time.Duration
	latency  time.Duration

	exception  job.ExceptionInfo
	occurredAt *time.Time
}

// Name returns the state's stable wire identifier.
func (s State) Name() job.State { return s.name }

// Reason returns the human-readable reason string, if any.
func (s State) Reason() string { return s.reason }

// WithReason returns a copy of s with its Reason set.
func (s State) WithReason(reason string) State {
	s.reason = reason
	return s
}

// ScheduledAt returns the target enqueue-at instant. Only meaningful
// when Name() == job.StateScheduled.
func (s State) ScheduledAt() time.Time {
	if s.scheduledAt == nil {
		return time.Time{}
	}
	return *s.scheduledAt
}

// ServerID, WorkerID and StartedAt describe a Processing state.
func (s State) ServerID() string     { return s.serverID }
func (s State) WorkerID() id.WorkerID { return s.workerID }
func (s State) StartedAt() time.Time {
	if s.startedAt == nil {
		return time.Time{}
	}
	return *s.startedAt
}

// Result, Duration and Latency describe a Succeeded state.
func (s State) Result() []byte            { return s.result }
func (s State) Duration() time.Duration   { return s.duration }
func (s State) Latency() time.Duration    { return s.latency }

// Exception and OccurredAt describe a Failed or Deleted state. For
// Deleted, Exception may be the zero value (no exception).
func (s State) Exception() job.ExceptionInfo { return s.exception }
func (s State) OccurredAt() time.Time {
	if s.occurredAt == nil {
		return time.Time{}
	}
	return *s.occurredAt
}

// Enqueued is the initial/ready-to-run state.
func Enqueued() State { return State{name: job.StateEnqueued} }

// Scheduled defers the job until at.
func Scheduled(at time.Time) State {
	return State{name: job.StateScheduled, scheduledAt: &at}
}

// Processing marks the job as claimed and running.
func Processing(serverID string, workerID id.WorkerID, startedAt time.Time) State {
	return State{
		name:      job.StateProcessing,
		serverID:  serverID,
		workerID:  workerID,
		startedAt: &startedAt,
	}
}

// Succeeded marks the job as finished successfully.
func Succeeded(result []byte, duration, latency time.Duration) State {
	return State{
		name:     job.StateSucceeded,
		result:   result,
		duration: duration,
		latency:  latency,
	}
}

// Failed marks the job as failed with the given exception, occurring at
// occurredAt.
func Failed(exc job.ExceptionInfo, occurredAt time.Time) State {
	return State{name: job.StateFailed, exception: exc, occurredAt: &occurredAt}
}

// Deleted gives up on the job permanently. exc may be nil when the
// deletion was not exception-driven (e.g. an explicit cancel).
func Deleted(exc *job.ExceptionInfo) State {
	s := State{name: job.StateDeleted}
	if exc != nil {
		s.exception = *exc
	}
	return s
}

// Awaiting pauses the job pending an external signal.
func Awaiting(reason string) State {
	return State{name: job.StateAwaiting, reason: reason}
}

// FromJob reconstructs the State value currently persisted on j, for
// callers (the election pipeline) that need to read "the current state"
// as a State rather than as flattened Job columns.
func FromJob(j *job.Job) State {
	switch {
	case j.State.EqualFold(job.StateScheduled):
		s := Scheduled(valueOrZero(j.ScheduledAt))
		return s.WithReason(j.Reason)
	case j.State.EqualFold(job.StateProcessing):
		s := Processing(j.ServerID, j.WorkerID, valueOrZero(j.StartedAt))
		return s.WithReason(j.Reason)
	case j.State.EqualFold(job.StateSucceeded):
		s := Succeeded(j.Result, j.Duration, j.Latency)
		return s.WithReason(j.Reason)
	case j.State.EqualFold(job.StateFailed):
		s := Failed(j.Exception(), valueOrZero(j.FailedAt))
		return s.WithReason(j.Reason)
	case j.State.EqualFold(job.StateDeleted):
		exc := j.Exception()
		var excPtr *job.ExceptionInfo
		if !exc.IsZero() {
			excPtr = &exc
		}
		s := Deleted(excPtr)
		return s.WithReason(j.Reason)
	case j.State.EqualFold(job.StateAwaiting):
		return Awaiting(j.Reason)
	default:
		s := Enqueued()
		return s.WithReason(j.Reason)
	}
}

// ApplyTo flattens s onto j's columns. It does not touch Parameters or
// RetryCount; callers write those separately (via the transaction).
func ApplyTo(j *job.Job, s State) {
	j.State = s.Name()
	j.Reason = s.Reason()

	j.ScheduledAt = nil
	j.StartedAt = nil
	j.CompletedAt = nil
	j.FailedAt = nil

	switch s.Name() {
	case job.StateScheduled:
		at := s.ScheduledAt()
		j.ScheduledAt = &at
		j.RunAt = at
	case job.StateProcessing:
		j.ServerID = s.ServerID()
		j.WorkerID = s.WorkerID()
		at := s.StartedAt()
		j.StartedAt = &at
	case job.StateSucceeded:
		j.Result = s.Result()
		j.Duration = s.Duration()
		j.Latency = s.Latency()
		now := s.OccurredAt()
		if now.IsZero() {
			n := time.Now().UTC()
			now = n
		}
		j.CompletedAt = &now
	case job.StateFailed:
		j.SetException(s.Exception())
		at := s.OccurredAt()
		if at.IsZero() {
			at = time.Now().UTC()
		}
		j.FailedAt = &at
		j.LastError = s.Exception().Message
	case job.StateDeleted:
		if !s.Exception().IsZero() {
			j.SetException(s.Exception())
		}
	case job.StateEnqueued:
		j.RunAt = time.Now().UTC()
	}
}

func valueOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
