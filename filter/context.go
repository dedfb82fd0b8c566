package filter

import (
	"encoding/json"

	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/state"
)

// ParamBuffer accumulates job-parameter writes made during election so
// they can be flushed into the transaction during application (spec.md
// §4.3 "Job-parameter access during election").
type ParamBuffer struct {
	pending map[string]json.RawMessage
}

// NewParamBuffer returns an empty buffer.
func NewParamBuffer() *ParamBuffer {
	return &ParamBuffer{pending: make(map[string]json.RawMessage)}
}

func (b *ParamBuffer) set(name string, raw json.RawMessage) {
	b.pending[name] = raw
}

func (b *ParamBuffer) get(name string) (json.RawMessage, bool) {
	raw, ok := b.pending[name]
	return raw, ok
}

// Pending returns a snapshot of all buffered writes.
func (b *ParamBuffer) Pending() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(b.pending))
	for k, v := range b.pending {
		out[k] = v
	}
	return out
}

// ElectStateContext is passed to every election filter in turn. The
// candidate state it carries is replaced in place as filters run.
type ElectStateContext struct {
	Job       *job.Job
	Candidate state.State

	buf *ParamBuffer

	// filterExceptionUsed marks whether this election has already
	// rewritten the candidate once in response to a filter failure
	// (spec.md §4.3 step 3: at most one such replacement per election).
	filterExceptionUsed bool
}

// NewElectStateContext creates a context for electing j's next state,
// starting from the given proposed candidate.
func NewElectStateContext(j *job.Job, proposed state.State, buf *ParamBuffer) *ElectStateContext {
	return &ElectStateContext{Job: j, Candidate: proposed, buf: buf}
}

// SetCandidate replaces the candidate state a later filter will observe.
func (c *ElectStateContext) SetCandidate(s state.State) {
	c.Candidate = s
}

// GetJobParameter reads the named parameter. If allowStale is false, a
// pending (not-yet-committed) write from this same election is visible;
// if true, only the job's persisted snapshot is consulted (the possibly
// stale read). A missing parameter returns the zero value of T, no error.
func GetJobParameter[T any](c *ElectStateContext, name string, allowStale bool) (T, error) {
	var zero T
	if !allowStale {
		if raw, ok := c.buf.get(name); ok {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return zero, &job.DeserializeError{Name: name, Err: err}
			}
			return v, nil
		}
	}
	return job.GetParameter[T](c.Job, name)
}

// SetJobParameter enqueues a write to be committed with the elected state.
func (c *ElectStateContext) SetJobParameter(name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &job.DeserializeError{Name: name, Err: err}
	}
	c.buf.set(name, raw)
	return nil
}

// ApplyStateContext is passed to application filters for both the
// OnStateUnapplied (old state) and OnStateApplied (new state) calls.
type ApplyStateContext struct {
	Job   *job.Job
	State state.State
}
