package filter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/taskforge/backoff"
	"github.com/xraph/taskforge/filter/exctype"
	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/txn"
)

// retriesSetName is the set application filters use to track jobs that
// are currently scheduled as a retry (spec.md §4.5's "retries" set).
const retriesSetName = "retries"

// OnAttemptsExceeded selects what happens to a job once AutomaticRetry
// has used up every attempt.
type OnAttemptsExceeded int

const (
	// OnAttemptsExceededFail leaves the job in its Failed candidate state.
	OnAttemptsExceededFail OnAttemptsExceeded = iota
	// OnAttemptsExceededDelete rewrites the candidate to Deleted.
	OnAttemptsExceededDelete
)

// DelayFunc computes the backoff before retry attempt n (1-indexed).
type DelayFunc func(attempt int) int

// defaultStrategy is the retry policy's default schedule, delegated to
// backoff.Strategy the same way the rest of this module pulls delay
// computation out of backoff rather than hand-rolling it.
var defaultStrategy backoff.Strategy = backoff.NewPolynomialJitter()

// defaultDelayFunc adapts defaultStrategy to DelayFunc.
func defaultDelayFunc(attempt int) int {
	return int(defaultStrategy.Delay(attempt).Seconds())
}

// AutomaticRetry is the default retry policy: an election filter that
// reschedules a Failed candidate up to Attempts times with a growing
// delay, and an application filter that keeps the "retries" set
// consistent with which jobs are currently scheduled as a retry
// (spec.md §4.5).
type AutomaticRetry struct {
	mu sync.Mutex

	attempts            int
	delaysInSeconds     []int
	delayFunc           DelayFunc
	onAttemptsExceeded  OnAttemptsExceeded
	logEvents           bool
	onlyOn              []string
	exceptOn            []string
	order               int
	exceptionTypes      *exctype.Registry
	logger              *slog.Logger
}

// RetryOption configures a NewAutomaticRetry call.
type RetryOption func(*AutomaticRetry) error

// WithAttempts sets the maximum number of retry attempts. Negative
// values are rejected by NewAutomaticRetry.
func WithAttempts(n int) RetryOption {
	return func(r *AutomaticRetry) error {
		r.attempts = n
		return nil
	}
}

// WithDelaysInSeconds sets an explicit per-attempt delay schedule.
// Attempts beyond the end of the list reuse its last entry.
func WithDelaysInSeconds(delays ...int) RetryOption {
	return func(r *AutomaticRetry) error {
		r.delaysInSeconds = append([]int(nil), delays...)
		return nil
	}
}

// WithDelayFunc overrides the computed-delay schedule entirely. Ignored
// when WithDelaysInSeconds was also given — an explicit schedule wins.
func WithDelayFunc(fn DelayFunc) RetryOption {
	return func(r *AutomaticRetry) error {
		r.delayFunc = fn
		return nil
	}
}

// WithOnAttemptsExceeded selects the fate of a job once every attempt
// has been used.
func WithOnAttemptsExceeded(mode OnAttemptsExceeded) RetryOption {
	return func(r *AutomaticRetry) error {
		r.onAttemptsExceeded = mode
		return nil
	}
}

// WithLogEvents enables logging of each retry decision: Warn for a
// scheduled retry or a deletion, Error when attempts are exhausted.
func WithLogEvents(enabled bool) RetryOption {
	return func(r *AutomaticRetry) error {
		r.logEvents = enabled
		return nil
	}
}

// WithOnlyOn restricts retries to exceptions assignable to one of the
// given type names (per exceptionTypes, or exctype.Default if none was
// configured). An empty list (the default) matches every exception.
func WithOnlyOn(types ...string) RetryOption {
	return func(r *AutomaticRetry) error {
		r.onlyOn = append([]string(nil), types...)
		return nil
	}
}

// WithExceptOn excludes exceptions assignable to one of the given type
// names from retry, even if WithOnlyOn would otherwise allow them.
func WithExceptOn(types ...string) RetryOption {
	return func(r *AutomaticRetry) error {
		r.exceptOn = append([]string(nil), types...)
		return nil
	}
}

// WithOrder overrides the filter's election/application order. Default 20.
func WithOrder(order int) RetryOption {
	return func(r *AutomaticRetry) error {
		r.order = order
		return nil
	}
}

// WithExceptionTypeRegistry swaps in a non-default subtype registry for
// resolving WithOnlyOn / WithExceptOn assignability.
func WithExceptionTypeRegistry(reg *exctype.Registry) RetryOption {
	return func(r *AutomaticRetry) error {
		r.exceptionTypes = reg
		return nil
	}
}

// WithLogger sets the logger used when LogEvents is enabled.
func WithLogger(logger *slog.Logger) RetryOption {
	return func(r *AutomaticRetry) error {
		r.logger = logger
		return nil
	}
}

// NewAutomaticRetry builds the default retry policy: 10 attempts, the
// computed jittered delay schedule, Order 20, failures left as Failed
// once attempts are exhausted.
func NewAutomaticRetry(opts ...RetryOption) (*AutomaticRetry, error) {
	r := &AutomaticRetry{
		attempts:           10,
		delayFunc:          defaultDelayFunc,
		onAttemptsExceeded: OnAttemptsExceededFail,
		order:              20,
		exceptionTypes:     exctype.Default,
		logger:             slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if r.attempts < 0 {
		return nil, fmt.Errorf("filter: AutomaticRetry Attempts must be >= 0, got %d", r.attempts)
	}
	if r.delaysInSeconds != nil {
		if len(r.delaysInSeconds) == 0 {
			return nil, fmt.Errorf("filter: AutomaticRetry DelaysInSeconds must not be empty when set")
		}
		for _, d := range r.delaysInSeconds {
			if d < 0 {
				return nil, fmt.Errorf("filter: AutomaticRetry DelaysInSeconds entries must be >= 0, got %d", d)
			}
		}
	}
	if r.delayFunc == nil {
		return nil, fmt.Errorf("filter: AutomaticRetry DelayInSecondsByAttemptFunc must not be nil")
	}

	return r, nil
}

// Order reports the filter's configured election/application order.
func (r *AutomaticRetry) Order() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order
}

func (r *AutomaticRetry) delayFor(attempt int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.delaysInSeconds) > 0 {
		idx := attempt - 1
		if idx >= len(r.delaysInSeconds) {
			idx = len(r.delaysInSeconds) - 1
		}
		return time.Duration(r.delaysInSeconds[idx]) * time.Second
	}
	return time.Duration(r.delayFunc(attempt)) * time.Second
}

// OnStateElection implements ElectionFilter. It only acts on a Failed
// candidate; any other candidate passes through untouched.
func (r *AutomaticRetry) OnStateElection(ctx context.Context, ectx *ElectStateContext) {
	if ectx.Candidate.Name() != job.StateFailed {
		return
	}

	exc := ectx.Candidate.Exception()

	r.mu.Lock()
	onlyOn := r.onlyOn
	exceptOn := r.exceptOn
	attempts := r.attempts
	onExceeded := r.onAttemptsExceeded
	logEvents := r.logEvents
	logger := r.logger
	registry := r.exceptionTypes
	r.mu.Unlock()

	if len(onlyOn) > 0 && !registry.MatchesAny(exc.Type, onlyOn) {
		return
	}
	if len(exceptOn) > 0 && registry.MatchesAny(exc.Type, exceptOn) {
		return
	}

	attempt := ectx.Job.RetryCount + 1

	if attempt > attempts {
		switch onExceeded {
		case OnAttemptsExceededDelete:
			reason := "Exceeded the maximum number of retry attempts."
			if attempts == 0 {
				reason = "Retries were disabled for this job."
			}
			ectx.SetCandidate(state.Deleted(&exc).WithReason(reason))
			if logEvents {
				logger.Warn("automatic retry: giving up, deleting job",
					slog.String("job_id", ectx.Job.ID.String()),
					slog.Int("attempts", attempts),
					slog.String("exception_type", exc.Type),
					slog.String("exception_message", exc.Message),
				)
			}
		default:
			// otherwise leave the candidate as the Failed state already elected
			if logEvents {
				logger.Error("automatic retry: attempts exhausted",
					slog.String("job_id", ectx.Job.ID.String()),
					slog.Int("attempts", attempts),
					slog.String("exception_type", exc.Type),
					slog.String("exception_message", exc.Message),
				)
			}
		}
		return
	}

	delay := r.delayFor(attempt)
	// RetryCount is written both ways: directly on the job (the
	// denormalized field other code paths read synchronously) and
	// through the parameter buffer (so it's visible to storage backends
	// that only track the Parameters bag across process restarts).
	ectx.Job.RetryCount = attempt
	if err := ectx.SetJobParameter("RetryCount", attempt); err != nil {
		if logger != nil {
			logger.Error("automatic retry: failed to buffer RetryCount", slog.Any("error", err))
		}
	}

	truncated := truncateMessage(exc.Message)
	reason := fmt.Sprintf("Retry attempt %d of %d: %s", attempt, attempts, truncated)
	if delay > 0 {
		ectx.SetCandidate(state.Scheduled(time.Now().UTC().Add(delay)).WithReason(reason))
	} else {
		ectx.SetCandidate(state.Enqueued().WithReason(reason))
	}

	if logEvents {
		logger.Warn("automatic retry scheduled",
			slog.String("job_id", ectx.Job.ID.String()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("exception_type", exc.Type),
			slog.String("exception_message", truncated),
		)
	}
}

// truncateMessage truncates s to 49 characters followed by a single
// ellipsis when longer than 50 characters; shorter messages pass through
// verbatim.
func truncateMessage(s string) string {
	const maxLen = 50
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}

// OnStateApplied implements ApplicationFilter: a job entering a
// retry-authored Scheduled state is added to the "retries" set.
func (r *AutomaticRetry) OnStateApplied(_ context.Context, actx *ApplyStateContext, tx txn.Transaction) {
	if actx.State.Name() != job.StateScheduled {
		return
	}
	if !isRetryReason(actx.State.Reason()) {
		return
	}
	if err := tx.AddToSet(retriesSetName, actx.Job.ID.String()); err != nil {
		r.logger.Error("automatic retry: AddToSet failed", slog.Any("error", err))
	}
}

// OnStateUnapplied implements ApplicationFilter: a job leaving either
// Scheduled or Failed is removed from the "retries" set. This is
// deliberately asymmetric with OnStateApplied (which only adds on
// Scheduled) — a job can land in "retries" via Scheduled and later be
// observed leaving via either state, so both unapply cases must clear it.
func (r *AutomaticRetry) OnStateUnapplied(_ context.Context, actx *ApplyStateContext, tx txn.Transaction) {
	if actx.State.Name() != job.StateScheduled && actx.State.Name() != job.StateFailed {
		return
	}
	if err := tx.RemoveFromSet(retriesSetName, actx.Job.ID.String()); err != nil {
		r.logger.Error("automatic retry: RemoveFromSet failed", slog.Any("error", err))
	}
}

func isRetryReason(reason string) bool {
	const prefix = "Retry attempt "
	return len(reason) >= len(prefix) && reason[:len(prefix)] == prefix
}
