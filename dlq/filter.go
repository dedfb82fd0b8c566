package dlq

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/taskforge/filter"
	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/txn"
)

// ApplicationFilter pushes a job to the dead-letter queue whenever the
// application pipeline commits it into a terminal give-up state —
// Failed or Deleted — rather than a scheduled retry. It is a pure
// ApplicationFilter: by the time OnStateApplied runs, the election
// pipeline (including the automatic retry policy) has already decided
// the job is not being retried.
type ApplicationFilter struct {
	service *Service
	logger  *slog.Logger
}

// NewApplicationFilter wraps svc as an ApplicationFilter. Register it
// with a filter.Registry at a high Order so it runs after the retry
// policy's own application hooks.
func NewApplicationFilter(svc *Service, logger *slog.Logger) *ApplicationFilter {
	return &ApplicationFilter{service: svc, logger: logger}
}

var errJobExhausted = errors.New("job exhausted all retry attempts")

// OnStateApplied implements filter.ApplicationFilter.
func (f *ApplicationFilter) OnStateApplied(ctx context.Context, actx *filter.ApplyStateContext, _ txn.Transaction) {
	switch actx.State.Name() {
	case job.StateFailed, job.StateDeleted:
	default:
		return
	}

	jobErr := errJobExhausted
	if exc := actx.State.Exception(); !exc.IsZero() {
		jobErr = errors.New(exc.Message)
	}

	if err := f.service.Push(ctx, actx.Job, jobErr); err != nil {
		f.logger.Error("failed to push job to DLQ",
			slog.String("job_id", actx.Job.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// OnStateUnapplied implements filter.ApplicationFilter; the DLQ filter
// has nothing to undo when a job leaves a state.
func (f *ApplicationFilter) OnStateUnapplied(context.Context, *filter.ApplyStateContext, txn.Transaction) {}
