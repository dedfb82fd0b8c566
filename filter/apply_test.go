package filter_test

import (
	"context"
	"testing"
	"time"

	dispatch "github.com/xraph/taskforge"
	"github.com/xraph/taskforge/filter"
	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/store/memory"
	"github.com/xraph/taskforge/txn"
)

func newStoredJob(t *testing.T, s *memory.Store, st job.State) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity: dispatch.NewEntity(),
		ID:     id.NewJobID(),
		Name:   "test-job",
		Queue:  "default",
		State:  st,
		RunAt:  time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j
}

// trackingApplyFilter records every OnStateApplied/OnStateUnapplied
// invocation it observes, for asserting pipeline ordering.
type trackingApplyFilter struct {
	applied   []job.State
	unapplied []job.State
}

func (f *trackingApplyFilter) OnStateApplied(_ context.Context, actx *filter.ApplyStateContext, _ txn.Transaction) {
	f.applied = append(f.applied, actx.State.Name())
}

func (f *trackingApplyFilter) OnStateUnapplied(_ context.Context, actx *filter.ApplyStateContext, _ txn.Transaction) {
	f.unapplied = append(f.unapplied, actx.State.Name())
}

func TestApply_WritesStateAndNotifiesFilters(t *testing.T) {
	t.Parallel()
	s := memory.New()
	reg := filter.NewRegistry()
	tracker := &trackingApplyFilter{}
	reg.Register(tracker, 10)

	j := newStoredJob(t, s, job.StateEnqueued)
	elected := state.Processing("server-1", id.NewWorkerID(), time.Now().UTC())

	if err := filter.Apply(context.Background(), reg, s, j, elected, nil, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(tracker.unapplied) != 1 || tracker.unapplied[0] != job.StateEnqueued {
		t.Errorf("unapplied = %v, want [%v]", tracker.unapplied, job.StateEnqueued)
	}
	if len(tracker.applied) != 1 || tracker.applied[0] != job.StateProcessing {
		t.Errorf("applied = %v, want [%v]", tracker.applied, job.StateProcessing)
	}
	if j.State != job.StateProcessing {
		t.Errorf("j.State = %v, want %v", j.State, job.StateProcessing)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateProcessing {
		t.Errorf("persisted State = %v, want %v", got.State, job.StateProcessing)
	}
}

func TestApply_FlushesBufferedParameters(t *testing.T) {
	t.Parallel()
	s := memory.New()
	reg := filter.NewRegistry()

	j := newStoredJob(t, s, job.StateEnqueued)
	buf := filter.NewParamBuffer()
	proposed := state.Enqueued()
	ectx := filter.NewElectStateContext(j, proposed, buf)
	if err := ectx.SetJobParameter("RetryCount", 3); err != nil {
		t.Fatalf("SetJobParameter: %v", err)
	}

	if err := filter.Apply(context.Background(), reg, s, j, ectx.Candidate, buf, nil); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	raw, err := s.GetJobParameter(context.Background(), j.ID, "RetryCount")
	if err != nil {
		t.Fatalf("GetJobParameter: %v", err)
	}
	if string(raw) != "3" {
		t.Errorf("RetryCount parameter = %q, want %q", raw, "3")
	}
}

func TestApply_FailedCommitLeavesJobUntouched(t *testing.T) {
	t.Parallel()
	s := memory.New()
	reg := filter.NewRegistry()

	// A job ID the store has never seen: SetJobState inside the
	// transaction fails with ErrJobNotFound, so Apply must surface an
	// error and never call state.ApplyTo on the caller's job value.
	j := &job.Job{Entity: dispatch.NewEntity(), ID: id.NewJobID(), State: job.StateEnqueued}
	elected := state.Processing("s1", id.NewWorkerID(), time.Now().UTC())

	err := filter.Apply(context.Background(), reg, s, j, elected, nil, nil)
	if err == nil {
		t.Fatal("expected Apply to fail for an unknown job")
	}
	if j.State != job.StateEnqueued {
		t.Errorf("j.State = %v, want unchanged %v after a failed Apply", j.State, job.StateEnqueued)
	}
}
