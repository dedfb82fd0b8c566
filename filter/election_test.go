package filter_test

import (
	"context"
	"testing"

	"github.com/xraph/taskforge/filter"
	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/state"
)

// panickingFilter always panics on OnStateElection with msg.
type panickingFilter struct{ msg string }

func (f panickingFilter) OnStateElection(_ context.Context, _ *filter.ElectStateContext) {
	panic(f.msg)
}

func TestElect_FilterPanicBecomesFailedOnce(t *testing.T) {
	t.Parallel()
	reg := filter.NewRegistry()
	reg.Register(panickingFilter{msg: "boom"}, 5)

	j := &job.Job{ID: newTestJobID(), State: job.StateEnqueued}
	elected, _ := filter.Elect(context.Background(), reg, j, state.Enqueued(), nil, nil)

	if elected.Name() != job.StateFailed {
		t.Fatalf("Name() = %v, want %v after a panicking filter", elected.Name(), job.StateFailed)
	}
	if elected.Exception().Message != "boom" {
		t.Errorf("Exception().Message = %q, want %q", elected.Exception().Message, "boom")
	}
}

func TestElect_SecondPanicDoesNotRewriteAgain(t *testing.T) {
	t.Parallel()
	// A second panicking filter in the same election must not clobber
	// the first Failed rewrite with a new one — at most one such
	// replacement per election.
	reg := filter.NewRegistry()
	reg.Register(panickingFilter{msg: "first"}, 5)
	reg.Register(panickingFilter{msg: "second"}, 10)

	j := &job.Job{ID: newTestJobID(), State: job.StateEnqueued}
	elected, _ := filter.Elect(context.Background(), reg, j, state.Enqueued(), nil, nil)

	if elected.Name() != job.StateFailed {
		t.Fatalf("Name() = %v, want %v", elected.Name(), job.StateFailed)
	}
	if elected.Exception().Message != "first" {
		t.Errorf("Exception().Message = %q, want %q (second panic must not rewrite again)", elected.Exception().Message, "first")
	}
}

func TestElect_ContextCancelledStopsPipeline(t *testing.T) {
	t.Parallel()
	reg := filter.NewRegistry()
	reg.Register(&reasonSetter{reason: "should not run"}, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := &job.Job{ID: newTestJobID(), State: job.StateEnqueued}
	proposed := state.Enqueued()
	elected, _ := filter.Elect(ctx, reg, j, proposed, nil, nil)

	if elected.Reason() != "" {
		t.Errorf("Reason() = %q, want empty — cancellation should stop the pipeline before any filter runs", elected.Reason())
	}
}
