// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling for jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/taskforge/ext"
	"github.com/xraph/taskforge/filter"
	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/middleware"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/txn"
)

// Executor runs a single job through middleware and the registered
// handler, then elects and applies its next state through the filter
// pipeline (filter.Elect / filter.Apply) rather than writing outcome
// columns directly.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	filters    *filter.Registry
	txnStore   txn.Store
	serverID   string
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies. filters
// should already have AutomaticRetry (or an equivalent) registered;
// Execute does not register one itself.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	filters *filter.Registry,
	txnStore txn.Store,
	serverID string,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		filters:    filters,
		txnStore:   txnStore,
		serverID:   serverID,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and handler, then
// elects and applies whichever next state the outcome (and any
// registered election filter, such as the automatic retry policy)
// produces. It returns a non-nil error only when the elected state is
// Failed or Deleted — a scheduled retry is not reported as an error.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		return fmt.Errorf("no handler registered for job %q", j.Name)
	}

	start := time.Now().UTC()

	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	handlerErr := e.mw(ctx, j, terminal)
	now := time.Now().UTC()
	elapsed := now.Sub(start)
	j.UpdatedAt = now

	var proposed state.State
	if handlerErr != nil {
		proposed = state.Failed(job.ExceptionInfo{
			Type:    fmt.Sprintf("%T", handlerErr),
			Message: handlerErr.Error(),
		}, now)
	} else {
		latency := start.Sub(j.RunAt)
		if latency < 0 {
			latency = 0
		}
		proposed = state.Succeeded(j.Result, elapsed, latency)
	}

	elected, buf := filter.Elect(ctx, e.filters, j, proposed, nil, e.logger)

	if err := filter.Apply(ctx, e.filters, e.txnStore, j, elected, buf, nil); err != nil {
		e.logger.Error("failed to apply elected job state",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("state", string(elected.Name())),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.emitOutcome(ctx, j, elected, elapsed, handlerErr)

	switch elected.Name() {
	case job.StateFailed, job.StateDeleted:
		if handlerErr != nil {
			return handlerErr
		}
		return fmt.Errorf("job %s elected state %s", j.Name, elected.Name())
	default:
		return nil
	}
}

// emitOutcome fires the lifecycle event matching the elected state.
func (e *Executor) emitOutcome(ctx context.Context, j *job.Job, elected state.State, elapsed time.Duration, handlerErr error) {
	switch elected.Name() {
	case job.StateSucceeded:
		e.extensions.EmitJobCompleted(ctx, j, elapsed)
	case job.StateScheduled:
		e.extensions.EmitJobRetrying(ctx, j, j.RetryCount, elected.ScheduledAt())
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("attempt", j.RetryCount),
			slog.Time("run_at", elected.ScheduledAt()),
		)
	case job.StateFailed:
		e.extensions.EmitJobFailed(ctx, j, handlerErr)
		e.extensions.EmitJobDLQ(ctx, j, handlerErr)
		e.logger.Warn("job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("retry_count", j.RetryCount),
		)
	case job.StateDeleted:
		e.extensions.EmitJobFailed(ctx, j, handlerErr)
		e.extensions.EmitJobDLQ(ctx, j, handlerErr)
		e.logger.Warn("job deleted after exhausting retries",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.Int("retry_count", j.RetryCount),
		)
	}
}
