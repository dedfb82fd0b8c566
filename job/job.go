package job

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/xraph/taskforge"
	"github.com/xraph/taskforge/id"
)

// State represents the lifecycle state of a job. Names are stable wire
// identifiers (never renamed across versions) and compare case-insensitively
// on input via EqualFold; the constants below are already canonical-cased.
type State string

const (
	// StateEnqueued means the job is waiting to be picked up by a worker.
	StateEnqueued State = "enqueued"
	// StateScheduled means the job is deferred until a future instant —
	// either its first run or a retry backoff.
	StateScheduled State = "scheduled"
	// StateProcessing means a worker is currently executing the job.
	StateProcessing State = "processing"
	// StateSucceeded means the job finished successfully.
	StateSucceeded State = "succeeded"
	// StateFailed means the job failed and has no retry scheduled.
	StateFailed State = "failed"
	// StateDeleted means the job was given up on, explicitly or via the
	// retry policy exhausting its attempts.
	StateDeleted State = "deleted"
	// StateAwaiting means the job is paused pending an external signal
	// (e.g. a workflow step waiting on an event).
	StateAwaiting State = "awaiting"
)

// EqualFold reports whether s names the same state as other, ignoring case.
func (s State) EqualFold(other State) bool {
	return strings.EqualFold(string(s), string(other))
}

// ExceptionInfo carries the flattened exception payload for a Failed or
// Deleted state.
type ExceptionInfo struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// IsZero reports whether the exception info carries no data.
func (e ExceptionInfo) IsZero() bool {
	return e.Type == "" && e.Message == "" && e.Stack == ""
}

// Job represents a unit of work to be processed by a worker.
type Job struct {
	dispatch.Entity

	ID         id.JobID    `json:"id"`
	Name       string      `json:"name"`
	Queue      string      `json:"queue"`
	Payload    []byte      `json:"payload"`
	State      State       `json:"state"`
	Reason     string      `json:"reason,omitempty"`
	Priority   int         `json:"priority"`
	MaxRetries int         `json:"max_retries"`
	RetryCount int         `json:"retry_count"`
	LastError  string      `json:"last_error,omitempty"`
	ScopeAppID string      `json:"scope_app_id,omitempty"`
	ScopeOrgID string      `json:"scope_org_id,omitempty"`
	ServerID   string      `json:"server_id,omitempty"`
	WorkerID   id.WorkerID `json:"worker_id,omitempty"`

	RunAt       time.Time     `json:"run_at"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	FailedAt    *time.Time    `json:"failed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`

	// Result is the opaque, caller-defined success payload (Succeeded case).
	Result []byte `json:"result,omitempty"`
	// Duration is the total wall-clock time the handler ran.
	Duration time.Duration `json:"duration,omitempty"`
	// Latency is the delay between RunAt and the worker actually starting.
	Latency time.Duration `json:"latency,omitempty"`

	// ExceptionType, ExceptionMessage and ExceptionStack carry the Failed
	// or Deleted case's exception payload.
	ExceptionType    string `json:"exception_type,omitempty"`
	ExceptionMessage string `json:"exception_message,omitempty"`
	ExceptionStack   string `json:"exception_stack,omitempty"`

	// Parameters is the job-parameter store: a flat, append/overwrite,
	// case-sensitive string-to-serialized-value bag. RetryCount above is
	// kept as a denormalized mirror of Parameters["RetryCount"] for
	// backward-compatible dequeue/DLQ/heartbeat code paths; the retry
	// filter is the only writer of both.
	Parameters map[string]json.RawMessage `json:"parameters,omitempty"`
}

// Exception returns the job's exception info, or the zero value if none
// is set.
func (j *Job) Exception() ExceptionInfo {
	return ExceptionInfo{
		Type:    j.ExceptionType,
		Message: j.ExceptionMessage,
		Stack:   j.ExceptionStack,
	}
}

// SetException stores exc's fields onto the job's flattened columns.
func (j *Job) SetException(exc ExceptionInfo) {
	j.ExceptionType = exc.Type
	j.ExceptionMessage = exc.Message
	j.ExceptionStack = exc.Stack
}

// GetParameter deserializes the named parameter into T. A missing
// parameter returns the zero value of T and a nil error.
func GetParameter[T any](j *Job, name string) (T, error) {
	var zero T
	if j.Parameters == nil {
		return zero, nil
	}
	raw, ok := j.Parameters[name]
	if !ok {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, &DeserializeError{Name: name, Err: err}
	}
	return v, nil
}

// SetParameter overwrites the named parameter with value's JSON encoding.
func SetParameter(j *Job, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &DeserializeError{Name: name, Err: err}
	}
	if j.Parameters == nil {
		j.Parameters = make(map[string]json.RawMessage)
	}
	j.Parameters[name] = raw
	return nil
}

// DeserializeError is the SerializationError kind: a job parameter's
// stored value could not be unmarshalled into the requested type.
type DeserializeError struct {
	Name string
	Err  error
}

func (e *DeserializeError) Error() string {
	return "job: deserialize parameter " + e.Name + ": " + e.Err.Error()
}

func (e *DeserializeError) Unwrap() error { return e.Err }
