package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/txn"
)

var _ txn.Store = (*Store)(nil)

// Transaction buffers its writes on a go-redis pipeline and issues them
// as a single MULTI/EXEC round trip on Commit.
type Transaction struct {
	jobID id.JobID
	pipe  goredis.Pipeliner
}

// BeginTransaction opens a new pipelined transaction scoped to jobID.
func (s *Store) BeginTransaction(_ context.Context, jobID id.JobID) (txn.Transaction, error) {
	return &Transaction{jobID: jobID, pipe: s.client.TxPipeline()}, nil
}

// GetCurrentState returns the job's currently persisted state.
func (s *Store) GetCurrentState(ctx context.Context, jobID id.JobID) (state.State, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return state.State{}, err
	}
	return state.FromJob(j), nil
}

// GetJobParameter returns the raw serialized value of a job parameter,
// or nil if unset.
func (s *Store) GetJobParameter(ctx context.Context, jobID id.JobID, name string) ([]byte, error) {
	v, err := s.client.HGet(ctx, jobKey(jobID.String()), paramField(name)).Result()
	if err != nil {
		if goredisErrIsNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dispatch/redis: get job parameter: %w", err)
	}
	return []byte(v), nil
}

// SetJobState flattens s onto the job hash within the pipelined
// transaction.
func (t *Transaction) SetJobState(jobID id.JobID, s state.State) error {
	key := jobKey(jobID.String())
	now := time.Now().UTC()

	fields := map[string]interface{}{
		"state":      string(s.Name()),
		"reason":     s.Reason(),
		"updated_at": now.Format(time.RFC3339Nano),
	}

	switch s.Name() {
	case job.StateScheduled:
		fields["scheduled_at"] = s.ScheduledAt().Format(time.RFC3339Nano)
		fields["run_at"] = s.ScheduledAt().Format(time.RFC3339Nano)
	case job.StateProcessing:
		fields["server_id"] = s.ServerID()
		fields["worker_id"] = s.WorkerID().String()
		fields["started_at"] = s.StartedAt().Format(time.RFC3339Nano)
	case job.StateSucceeded:
		fields["result"] = string(s.Result())
		fields["duration"] = strconvInt64(int64(s.Duration()))
		fields["latency"] = strconvInt64(int64(s.Latency()))
		fields["completed_at"] = now.Format(time.RFC3339Nano)
	case job.StateFailed:
		exc := s.Exception()
		fields["exception_type"] = exc.Type
		fields["exception_message"] = exc.Message
		fields["exception_stack"] = exc.Stack
		fields["last_error"] = exc.Message
		fields["failed_at"] = now.Format(time.RFC3339Nano)
	case job.StateDeleted:
		exc := s.Exception()
		if !exc.IsZero() {
			fields["exception_type"] = exc.Type
			fields["exception_message"] = exc.Message
			fields["exception_stack"] = exc.Stack
		}
	case job.StateEnqueued:
		fields["run_at"] = now.Format(time.RFC3339Nano)
	}

	t.pipe.HSet(context.Background(), key, fields)
	return nil
}

// SetJobParameter writes a single namespaced hash field, avoiding a
// read-modify-write of the whole job hash.
func (t *Transaction) SetJobParameter(jobID id.JobID, name string, value []byte) error {
	t.pipe.HSet(context.Background(), jobKey(jobID.String()), paramField(name), string(value))
	return nil
}

// AddToSet adds value to setName.
func (t *Transaction) AddToSet(setName, value string) error {
	t.pipe.SAdd(context.Background(), setKey(setName), value)
	return nil
}

// RemoveFromSet removes value from setName.
func (t *Transaction) RemoveFromSet(setName, value string) error {
	t.pipe.SRem(context.Background(), setKey(setName), value)
	return nil
}

// AddToList is modeled as set membership; no caller on this backend
// relies on list ordering.
func (t *Transaction) AddToList(listName, value string) error {
	return t.AddToSet(listName, value)
}

// TrimList is a no-op for the set-backed list representation above.
func (t *Transaction) TrimList(listName string, start, stop int) error {
	return nil
}

// Commit executes every buffered command as one MULTI/EXEC round trip.
func (t *Transaction) Commit(ctx context.Context) error {
	_, err := t.pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("dispatch/redis: commit: %w", err)
	}
	return nil
}

func goredisErrIsNil(err error) bool {
	return err == goredis.Nil
}

func strconvInt64(v int64) string {
	return fmt.Sprintf("%d", v)
}
