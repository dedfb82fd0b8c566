package filter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/state"
)

// Elect runs the state-election pipeline (spec.md §4.3): each election
// filter in order observes and may rewrite the candidate state. If a
// filter panics, the panic is logged and the candidate is replaced with
// a Failed state wrapping it; that replacement happens at most once per
// election — a second panicking filter in the same election is logged
// and swallowed without a further rewrite, so a misbehaving filter can't
// be used to loop forever.
//
// Returns the elected state and the buffer of job-parameter writes
// filters queued along the way, for Apply to flush during commit.
func Elect(ctx context.Context, reg *Registry, j *job.Job, proposed state.State, attachments []Attachment, logger *slog.Logger) (state.State, *ParamBuffer) {
	buf := NewParamBuffer()
	ectx := NewElectStateContext(j, proposed, buf)

	for _, entry := range reg.electionFilters(attachments) {
		select {
		case <-ctx.Done():
			return ectx.Candidate, buf
		default:
		}

		runElectionFilter(ctx, entry.filter, ectx, logger)
	}

	return ectx.Candidate, buf
}

// runElectionFilter invokes a single filter, recovering a panic into the
// one-time Failed rewrite described above.
func runElectionFilter(ctx context.Context, f ElectionFilter, ectx *ElectStateContext, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Error("election filter panicked",
					slog.String("job_id", ectx.Job.ID.String()),
					slog.Any("panic", r),
				)
			}
			if ectx.filterExceptionUsed {
				return
			}
			ectx.filterExceptionUsed = true
			exc := job.ExceptionInfo{
				Type:    fmt.Sprintf("%T", r),
				Message: fmt.Sprint(r),
			}
			ectx.SetCandidate(state.Failed(exc, time.Now().UTC()))
		}
	}()

	f.OnStateElection(ctx, ectx)
}
