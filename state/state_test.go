package state_test

import (
	"testing"
	"time"

	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/state"
)

func newJob(st job.State) *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		State: st,
	}
}

func TestWithReason_CopiesValue(t *testing.T) {
	t.Parallel()
	a := state.Enqueued()
	b := a.WithReason("because")

	if a.Reason() != "" {
		t.Errorf("original state mutated, Reason() = %q, want empty", a.Reason())
	}
	if b.Reason() != "because" {
		t.Errorf("Reason() = %q, want %q", b.Reason(), "because")
	}
}

func TestDeleted_NilExceptionIsZero(t *testing.T) {
	t.Parallel()
	s := state.Deleted(nil)
	if !s.Exception().IsZero() {
		t.Errorf("Deleted(nil).Exception() = %+v, want zero value", s.Exception())
	}
}

func TestDeleted_WithException(t *testing.T) {
	t.Parallel()
	exc := job.ExceptionInfo{Type: "*os.PathError", Message: "no such file"}
	s := state.Deleted(&exc)
	if s.Exception() != exc {
		t.Errorf("Exception() = %+v, want %+v", s.Exception(), exc)
	}
}

func TestApplyTo_ThenFromJob_RoundTrips(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC().Truncate(time.Second)

	tests := []struct {
		name string
		in   state.State
	}{
		{"enqueued", state.Enqueued()},
		{"scheduled", state.Scheduled(now.Add(time.Minute)).WithReason("Retry attempt 1 of 10: boom")},
		{"processing", state.Processing("server-1", id.NewWorkerID(), now)},
		{"succeeded", state.Succeeded([]byte(`{"ok":true}`), 2*time.Second, 500*time.Millisecond)},
		{"failed", state.Failed(job.ExceptionInfo{Type: "*io.EOF", Message: "eof"}, now)},
		{"deleted with exception", state.Deleted(&job.ExceptionInfo{Type: "*os.PathError", Message: "gone"})},
		{"deleted without exception", state.Deleted(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := newJob(job.StateEnqueued)
			state.ApplyTo(j, tt.in)

			got := state.FromJob(j)
			if got.Name() != tt.in.Name() {
				t.Fatalf("Name() = %v, want %v", got.Name(), tt.in.Name())
			}
			if got.Reason() != tt.in.Reason() {
				t.Errorf("Reason() = %q, want %q", got.Reason(), tt.in.Reason())
			}

			switch tt.in.Name() {
			case job.StateScheduled:
				if !got.ScheduledAt().Equal(tt.in.ScheduledAt()) {
					t.Errorf("ScheduledAt() = %v, want %v", got.ScheduledAt(), tt.in.ScheduledAt())
				}
			case job.StateProcessing:
				if got.ServerID() != tt.in.ServerID() || got.WorkerID() != tt.in.WorkerID() {
					t.Errorf("ServerID/WorkerID = %q/%v, want %q/%v",
						got.ServerID(), got.WorkerID(), tt.in.ServerID(), tt.in.WorkerID())
				}
			case job.StateSucceeded:
				if string(got.Result()) != string(tt.in.Result()) || got.Duration() != tt.in.Duration() || got.Latency() != tt.in.Latency() {
					t.Errorf("Succeeded payload mismatch: got %+v want %+v", got, tt.in)
				}
			case job.StateFailed, job.StateDeleted:
				if got.Exception() != tt.in.Exception() {
					t.Errorf("Exception() = %+v, want %+v", got.Exception(), tt.in.Exception())
				}
			}
		})
	}
}

func TestApplyTo_ClearsStaleTimestampsAcrossTransitions(t *testing.T) {
	t.Parallel()
	j := newJob(job.StateEnqueued)

	state.ApplyTo(j, state.Scheduled(time.Now().UTC().Add(time.Minute)))
	if j.ScheduledAt == nil {
		t.Fatal("expected ScheduledAt to be set after Scheduled")
	}

	state.ApplyTo(j, state.Processing("s1", id.NewWorkerID(), time.Now().UTC()))
	if j.ScheduledAt != nil {
		t.Error("ApplyTo(Processing) must clear a stale ScheduledAt from a prior Scheduled transition")
	}
	if j.StartedAt == nil {
		t.Error("expected StartedAt to be set after Processing")
	}
}
