package filter_test

import (
	"context"
	"strings"
	"testing"
	"time"

	dispatch "github.com/xraph/taskforge"
	"github.com/xraph/taskforge/filter"
	"github.com/xraph/taskforge/filter/exctype"
	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/store/memory"
)

func mustAutomaticRetry(t *testing.T, opts ...filter.RetryOption) *filter.AutomaticRetry {
	t.Helper()
	r, err := filter.NewAutomaticRetry(opts...)
	if err != nil {
		t.Fatalf("NewAutomaticRetry: %v", err)
	}
	return r
}

func failedCandidate(excType, msg string) state.State {
	return state.Failed(job.ExceptionInfo{Type: excType, Message: msg}, time.Now().UTC())
}

func electOnce(r *filter.AutomaticRetry, j *job.Job, candidate state.State) (state.State, *filter.ParamBuffer) {
	buf := filter.NewParamBuffer()
	ectx := filter.NewElectStateContext(j, candidate, buf)
	r.OnStateElection(context.Background(), ectx)
	return ectx.Candidate, buf
}

// ──────────────────────────────────────────────────
// Scenario A — first-attempt retry
// ──────────────────────────────────────────────────

func TestAutomaticRetry_ScenarioA_FirstAttemptRetry(t *testing.T) {
	t.Parallel()
	r := mustAutomaticRetry(t,
		filter.WithAttempts(10),
		filter.WithDelayFunc(func(int) int { return 15 }),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
	)

	j := &job.Job{ID: id.NewJobID(), State: job.StateFailed, RetryCount: 0}
	elected, buf := electOnce(r, j, failedCandidate("IOException", "disk full"))

	if elected.Name() != job.StateScheduled {
		t.Fatalf("Name() = %v, want %v", elected.Name(), job.StateScheduled)
	}
	if want := "Retry attempt 1 of 10: disk full"; elected.Reason() != want {
		t.Errorf("Reason() = %q, want %q", elected.Reason(), want)
	}
	if j.RetryCount != 1 {
		t.Errorf("j.RetryCount = %d, want 1", j.RetryCount)
	}
	if _, ok := buf.Pending()["RetryCount"]; !ok {
		t.Error("expected RetryCount to be buffered for the application transaction")
	}
}

// ──────────────────────────────────────────────────
// Scenario B — give-up with Fail
// ──────────────────────────────────────────────────

func TestAutomaticRetry_ScenarioB_GiveUpWithFail(t *testing.T) {
	t.Parallel()
	r := mustAutomaticRetry(t,
		filter.WithAttempts(10),
		filter.WithOnAttemptsExceeded(filter.OnAttemptsExceededFail),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
	)

	j := &job.Job{ID: id.NewJobID(), State: job.StateFailed, RetryCount: 10}
	candidate := failedCandidate("IOException", "disk full")
	elected, buf := electOnce(r, j, candidate)

	if elected.Name() != job.StateFailed {
		t.Fatalf("Name() = %v, want %v (candidate must not be rewritten)", elected.Name(), job.StateFailed)
	}
	if elected.Reason() != candidate.Reason() {
		t.Errorf("Reason() changed to %q, want untouched %q", elected.Reason(), candidate.Reason())
	}
	if len(buf.Pending()) != 0 {
		t.Errorf("expected no buffered parameter writes, got %v", buf.Pending())
	}
}

// ──────────────────────────────────────────────────
// Scenario C — give-up with Delete
// ──────────────────────────────────────────────────

func TestAutomaticRetry_ScenarioC_GiveUpWithDelete(t *testing.T) {
	t.Parallel()
	r := mustAutomaticRetry(t,
		filter.WithAttempts(10),
		filter.WithOnAttemptsExceeded(filter.OnAttemptsExceededDelete),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
	)

	j := &job.Job{ID: id.NewJobID(), State: job.StateFailed, RetryCount: 10}
	elected, _ := electOnce(r, j, failedCandidate("IOException", "disk full"))

	if elected.Name() != job.StateDeleted {
		t.Fatalf("Name() = %v, want %v", elected.Name(), job.StateDeleted)
	}
	if want := "Exceeded the maximum number of retry attempts."; elected.Reason() != want {
		t.Errorf("Reason() = %q, want %q", elected.Reason(), want)
	}
}

// ──────────────────────────────────────────────────
// Scenario D — retries disabled
// ──────────────────────────────────────────────────

func TestAutomaticRetry_ScenarioD_RetriesDisabled(t *testing.T) {
	t.Parallel()
	r := mustAutomaticRetry(t,
		filter.WithAttempts(0),
		filter.WithOnAttemptsExceeded(filter.OnAttemptsExceededDelete),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
	)

	j := &job.Job{ID: id.NewJobID(), State: job.StateFailed, RetryCount: 0}
	elected, _ := electOnce(r, j, failedCandidate("IOException", "disk full"))

	if elected.Name() != job.StateDeleted {
		t.Fatalf("Name() = %v, want %v", elected.Name(), job.StateDeleted)
	}
	if want := "Retries were disabled for this job."; elected.Reason() != want {
		t.Errorf("Reason() = %q, want %q", elected.Reason(), want)
	}
}

// ──────────────────────────────────────────────────
// Scenario E — filter exception
// ──────────────────────────────────────────────────

func TestAutomaticRetry_ScenarioE_FilterExceptionThenRetried(t *testing.T) {
	t.Parallel()
	reg := filter.NewRegistry()
	reg.Register(panickingFilter{msg: "bad"}, 5)

	r := mustAutomaticRetry(t,
		filter.WithAttempts(10),
		filter.WithDelayFunc(func(int) int { return 15 }),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
		filter.WithOrder(20),
	)
	reg.Register(r, r.Order())

	j := &job.Job{ID: id.NewJobID(), State: job.StateEnqueued, RetryCount: 0}
	elected, _ := filter.Elect(context.Background(), reg, j, state.Enqueued(), nil, nil)

	if elected.Name() != job.StateScheduled {
		t.Fatalf("Name() = %v, want %v", elected.Name(), job.StateScheduled)
	}
	if j.RetryCount != 1 {
		t.Errorf("j.RetryCount = %d, want 1", j.RetryCount)
	}
	if !strings.HasPrefix(elected.Reason(), "Retry attempt 1 of 10: bad") {
		t.Errorf("Reason() = %q, want prefix %q", elected.Reason(), "Retry attempt 1 of 10: bad")
	}
}

// ──────────────────────────────────────────────────
// Scenario F — allow/deny skip
// ──────────────────────────────────────────────────

func TestAutomaticRetry_ScenarioF_AllowListSkip(t *testing.T) {
	t.Parallel()
	r := mustAutomaticRetry(t,
		filter.WithOnlyOn("TimeoutException"),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
	)

	j := &job.Job{ID: id.NewJobID(), State: job.StateFailed, RetryCount: 0}
	candidate := failedCandidate("ArgumentException", "bad arg")
	elected, buf := electOnce(r, j, candidate)

	if elected.Name() != job.StateFailed {
		t.Fatalf("Name() = %v, want %v (not assignable to OnlyOn list)", elected.Name(), job.StateFailed)
	}
	if j.RetryCount != 0 {
		t.Errorf("j.RetryCount = %d, want unchanged 0", j.RetryCount)
	}
	if len(buf.Pending()) != 0 {
		t.Errorf("expected no buffered writes, got %v", buf.Pending())
	}
}

func TestAutomaticRetry_ExceptOnSkip(t *testing.T) {
	t.Parallel()
	r := mustAutomaticRetry(t,
		filter.WithExceptOn("ArgumentException"),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
	)

	j := &job.Job{ID: id.NewJobID(), State: job.StateFailed, RetryCount: 0}
	elected, _ := electOnce(r, j, failedCandidate("ArgumentException", "bad arg"))

	if elected.Name() != job.StateFailed {
		t.Fatalf("Name() = %v, want %v (excluded by ExceptOn)", elected.Name(), job.StateFailed)
	}
}

// ──────────────────────────────────────────────────
// Scenario G — unapply symmetry
// ──────────────────────────────────────────────────

func TestAutomaticRetry_ScenarioG_UnapplySymmetry(t *testing.T) {
	t.Parallel()
	s := memory.New()
	reg := filter.NewRegistry()
	r := mustAutomaticRetry(t, filter.WithExceptionTypeRegistry(exctype.NewRegistry()))
	reg.Register(r, r.Order())

	j := &job.Job{
		Entity: dispatch.NewEntity(),
		ID:     id.NewJobID(),
		Name:   "test-job",
		Queue:  "default",
		State:  job.StateEnqueued,
		RunAt:  time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	// Transition into a retry-scheduled Scheduled state.
	scheduled := state.Scheduled(time.Now().UTC().Add(15 * time.Second)).WithReason("Retry attempt 1 of 10: disk full")
	if err := filter.Apply(context.Background(), reg, s, j, scheduled, nil, nil); err != nil {
		t.Fatalf("Apply(Scheduled): %v", err)
	}
	if members := s.SetMembers("retries"); len(members) != 1 || members[0] != j.ID.String() {
		t.Fatalf("retries set = %v, want [%s]", members, j.ID.String())
	}

	// Transition Scheduled(retry) -> Processing.
	processing := state.Processing("server-1", id.NewWorkerID(), time.Now().UTC())
	if err := filter.Apply(context.Background(), reg, s, j, processing, nil, nil); err != nil {
		t.Fatalf("Apply(Processing): %v", err)
	}
	if members := s.SetMembers("retries"); len(members) != 0 {
		t.Errorf("retries set = %v, want empty after leaving Scheduled", members)
	}
}

// ──────────────────────────────────────────────────
// Invariants (property-style checks)
// ──────────────────────────────────────────────────

func TestAutomaticRetry_Invariant_RetryMonotonicity(t *testing.T) {
	t.Parallel()
	r := mustAutomaticRetry(t,
		filter.WithDelayFunc(func(int) int { return 1 }),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
	)

	j := &job.Job{ID: id.NewJobID(), State: job.StateEnqueued, RetryCount: 0}
	last := 0
	for i := 0; i < 5; i++ {
		elected, _ := electOnce(r, j, failedCandidate("IOException", "boom"))
		if j.RetryCount < last {
			t.Fatalf("RetryCount went from %d to %d, must be non-decreasing", last, j.RetryCount)
		}
		last = j.RetryCount
		state.ApplyTo(j, elected)
		// Simulate the job coming back around to Failed for the next attempt.
		j.State = job.StateFailed
	}
	if last != 5 {
		t.Errorf("final RetryCount = %d, want 5 after 5 failures", last)
	}
}

func TestAutomaticRetry_Invariant_RetrySetCoherence(t *testing.T) {
	t.Parallel()
	s := memory.New()
	reg := filter.NewRegistry()
	r := mustAutomaticRetry(t,
		filter.WithDelayFunc(func(int) int { return 1 }),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
	)
	reg.Register(r, r.Order())

	j := &job.Job{
		Entity: dispatch.NewEntity(),
		ID:     id.NewJobID(),
		Name:   "test-job",
		Queue:  "default",
		State:  job.StateEnqueued,
		RunAt:  time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	transitions := []state.State{
		state.Failed(job.ExceptionInfo{Type: "IOException", Message: "boom"}, time.Now().UTC()),
		state.Processing("s1", id.NewWorkerID(), time.Now().UTC()),
		state.Failed(job.ExceptionInfo{Type: "IOException", Message: "boom again"}, time.Now().UTC()),
		state.Succeeded(nil, time.Second, 0),
	}

	for _, elected := range transitions {
		// Run the candidate through election so the retry filter gets a
		// chance to rewrite a Failed candidate to Scheduled first.
		buf := filter.NewParamBuffer()
		ectx := filter.NewElectStateContext(j, elected, buf)
		r.OnStateElection(context.Background(), ectx)

		if err := filter.Apply(context.Background(), reg, s, j, ectx.Candidate, buf, nil); err != nil {
			t.Fatalf("Apply: %v", err)
		}

		inSet := false
		for _, m := range s.SetMembers("retries") {
			if m == j.ID.String() {
				inSet = true
			}
		}
		isRetryScheduled := j.State == job.StateScheduled && strings.HasPrefix(strings.ToLower(j.Reason), "retry attempt")
		if inSet != isRetryScheduled {
			t.Errorf("retries set membership = %v, want %v (state=%v reason=%q)", inSet, isRetryScheduled, j.State, j.Reason)
		}
	}
}

func TestAutomaticRetry_Invariant_FilterIdempotence(t *testing.T) {
	t.Parallel()
	s := memory.New()
	reg := filter.NewRegistry()
	r := mustAutomaticRetry(t, filter.WithExceptionTypeRegistry(exctype.NewRegistry()))
	reg.Register(r, r.Order())

	j := &job.Job{
		Entity: dispatch.NewEntity(),
		ID:     id.NewJobID(),
		Name:   "test-job",
		Queue:  "default",
		State:  job.StateEnqueued,
		RunAt:  time.Now().UTC(),
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	elected := state.Processing("s1", id.NewWorkerID(), time.Now().UTC())

	if err := filter.Apply(context.Background(), reg, s, j, elected, nil, nil); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	first, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	// Re-running apply(old, new) a second time (simulating a retried
	// commit after a storage failure) must yield the same persisted state.
	if err := filter.Apply(context.Background(), reg, s, j, elected, nil, nil); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	second, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	if first.State != second.State || first.ServerID != second.ServerID || first.WorkerID != second.WorkerID {
		t.Errorf("re-applying the same transition produced different state: %+v vs %+v", first, second)
	}
}

// ──────────────────────────────────────────────────
// Boundary behaviors
// ──────────────────────────────────────────────────

func TestAutomaticRetry_Boundary_MessageTruncation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
	}{
		{"exactly 50 chars preserved verbatim", strings.Repeat("a", 50)},
		{"51 chars truncated to 49 + ellipsis", strings.Repeat("a", 51)},
		{"short message preserved verbatim", "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := mustAutomaticRetry(t,
				filter.WithDelayFunc(func(int) int { return 1 }),
				filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
			)
			j := &job.Job{ID: id.NewJobID(), State: job.StateFailed, RetryCount: 0}
			elected, _ := electOnce(r, j, failedCandidate("IOException", tt.message))

			reason := elected.Reason()
			prefix := "Retry attempt 1 of 10: "
			if !strings.HasPrefix(reason, prefix) {
				t.Fatalf("Reason() = %q, missing prefix %q", reason, prefix)
			}
			got := strings.TrimPrefix(reason, prefix)

			switch {
			case len(tt.message) <= 50:
				if got != tt.message {
					t.Errorf("truncated message = %q, want verbatim %q", got, tt.message)
				}
			default:
				wantRunes := append([]rune(tt.message)[:49:49], '…')
				if got != string(wantRunes) {
					t.Errorf("truncated message = %q, want %q", got, string(wantRunes))
				}
				if n := len([]rune(got)); n != 50 {
					t.Errorf("truncated message rune length = %d, want 50 (49 + ellipsis)", n)
				}
			}
		})
	}
}

func TestAutomaticRetry_Boundary_DelaysInSecondsLastWinsClamp(t *testing.T) {
	t.Parallel()
	r := mustAutomaticRetry(t,
		filter.WithDelaysInSeconds(5, 10),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
	)

	j := &job.Job{ID: id.NewJobID(), State: job.StateFailed, RetryCount: 2}
	elected, _ := electOnce(r, j, failedCandidate("IOException", "boom"))

	wantAt := time.Now().UTC().Add(10 * time.Second)
	gotAt := elected.ScheduledAt()
	if diff := gotAt.Sub(wantAt); diff < -2*time.Second || diff > 2*time.Second {
		t.Errorf("ScheduledAt() = %v, want ~%v (delay clamped to last entry, 10s)", gotAt, wantAt)
	}
}

func TestAutomaticRetry_Boundary_ZeroDelayBecomesEnqueued(t *testing.T) {
	t.Parallel()
	r := mustAutomaticRetry(t,
		filter.WithDelayFunc(func(int) int { return 0 }),
		filter.WithExceptionTypeRegistry(exctype.NewRegistry()),
	)

	j := &job.Job{ID: id.NewJobID(), State: job.StateFailed, RetryCount: 0}
	elected, _ := electOnce(r, j, failedCandidate("IOException", "boom"))

	if elected.Name() != job.StateEnqueued {
		t.Errorf("Name() = %v, want %v when the computed delay is 0", elected.Name(), job.StateEnqueued)
	}
}

// ──────────────────────────────────────────────────
// Configuration validation
// ──────────────────────────────────────────────────

func TestNewAutomaticRetry_RejectsInvalidConfiguration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []filter.RetryOption
	}{
		{"negative attempts", []filter.RetryOption{filter.WithAttempts(-1)}},
		{"negative delay entry", []filter.RetryOption{filter.WithDelaysInSeconds(5, -1)}},
		{"nil delay func", []filter.RetryOption{filter.WithDelayFunc(nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := filter.NewAutomaticRetry(tt.opts...); err == nil {
				t.Error("expected an error, got nil")
			}
		})
	}
}
