package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/taskforge"
	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/txn"
)

var _ txn.Store = (*Store)(nil)

// Transaction is the PostgreSQL txn.Transaction implementation. It wraps
// a single pgx.Tx: every operation issues its statement immediately
// against the transaction, and Commit (or a caller-triggered rollback)
// is the only linearization point, matching the semantics of a real
// database transaction rather than the memory store's buffered ops.
type Transaction struct {
	tx    pgx.Tx
	jobID id.JobID
	err   error
}

// BeginTransaction opens a new database transaction scoped to jobID.
func (s *Store) BeginTransaction(ctx context.Context, jobID id.JobID) (txn.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch/postgres: begin transaction: %w", err)
	}
	return &Transaction{tx: tx, jobID: jobID}, nil
}

// GetCurrentState returns the job's currently persisted state.
func (s *Store) GetCurrentState(ctx context.Context, jobID id.JobID) (state.State, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM dispatch_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return state.State{}, dispatch.ErrJobNotFound
		}
		return state.State{}, fmt.Errorf("dispatch/postgres: get current state: %w", err)
	}
	return state.FromJob(j), nil
}

// GetJobParameter returns the raw serialized value of a job parameter,
// or nil if unset.
func (s *Store) GetJobParameter(ctx context.Context, jobID id.JobID, name string) ([]byte, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM dispatch_job_params WHERE job_id = $1 AND name = $2`,
		jobID.String(), name,
	).Scan(&raw)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dispatch/postgres: get job parameter: %w", err)
	}
	return raw, nil
}

// SetJobState persists s onto the job row within the transaction.
func (t *Transaction) SetJobState(jobID id.JobID, s state.State) error {
	if t.err != nil {
		return t.err
	}

	var (
		reason                         = s.Reason()
		scheduledAt, startedAt         *time.Time
		completedAt, failedAt         *time.Time
		serverID, workerID            string
		result                        []byte
		duration, latency             int64
		excType, excMessage, excStack string
	)

	switch s.Name() {
	case "scheduled":
		at := s.ScheduledAt()
		scheduledAt = &at
	case "processing":
		serverID = s.ServerID()
		workerID = s.WorkerID().String()
		at := s.StartedAt()
		startedAt = &at
	case "succeeded":
		result = s.Result()
		duration = s.Duration().Nanoseconds()
		latency = s.Latency().Nanoseconds()
		at := s.OccurredAt()
		completedAt = &at
	case "failed":
		exc := s.Exception()
		excType, excMessage, excStack = exc.Type, exc.Message, exc.Stack
		at := s.OccurredAt()
		failedAt = &at
	case "deleted":
		exc := s.Exception()
		excType, excMessage, excStack = exc.Type, exc.Message, exc.Stack
	}

	_, err := t.tx.Exec(context.Background(), `
		UPDATE dispatch_jobs SET
			state = $2, reason = $3,
			scheduled_at = $4, started_at = $5, completed_at = $6, failed_at = $7,
			server_id = $8, worker_id = $9,
			result = $10, duration = $11, latency = $12,
			exception_type = $13, exception_message = $14, exception_stack = $15,
			updated_at = NOW()
		WHERE id = $1`,
		jobID.String(), string(s.Name()), reason,
		scheduledAt, startedAt, completedAt, failedAt,
		serverID, workerID,
		result, duration, latency,
		excType, excMessage, excStack,
	)
	if err != nil {
		t.err = fmt.Errorf("dispatch/postgres: set job state: %w", err)
	}
	return t.err
}

// SetJobParameter upserts a parameter both into dispatch_job_params and
// the denormalized dispatch_jobs.parameters JSONB column.
func (t *Transaction) SetJobParameter(jobID id.JobID, name string, value []byte) error {
	if t.err != nil {
		return t.err
	}

	ctx := context.Background()
	_, err := t.tx.Exec(ctx, `
		INSERT INTO dispatch_job_params (job_id, name, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id, name) DO UPDATE SET value = EXCLUDED.value`,
		jobID.String(), name, value,
	)
	if err != nil {
		t.err = fmt.Errorf("dispatch/postgres: set job parameter: %w", err)
		return t.err
	}

	raw, merr := json.Marshal(json.RawMessage(value))
	if merr != nil {
		t.err = fmt.Errorf("dispatch/postgres: marshal parameter %q: %w", name, merr)
		return t.err
	}

	_, err = t.tx.Exec(ctx, `
		UPDATE dispatch_jobs
		SET parameters = jsonb_set(parameters, $2, $3::jsonb, true), updated_at = NOW()
		WHERE id = $1`,
		jobID.String(), []string{name}, raw,
	)
	if err != nil {
		t.err = fmt.Errorf("dispatch/postgres: merge parameter %q: %w", name, err)
	}
	return t.err
}

// AddToSet inserts value into setName, ignoring a duplicate membership.
func (t *Transaction) AddToSet(setName, value string) error {
	if t.err != nil {
		return t.err
	}
	_, err := t.tx.Exec(context.Background(), `
		INSERT INTO dispatch_sets (set_name, member) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		setName, value,
	)
	if err != nil {
		t.err = fmt.Errorf("dispatch/postgres: add to set: %w", err)
	}
	return t.err
}

// RemoveFromSet deletes value from setName, a no-op if absent.
func (t *Transaction) RemoveFromSet(setName, value string) error {
	if t.err != nil {
		return t.err
	}
	_, err := t.tx.Exec(context.Background(),
		`DELETE FROM dispatch_sets WHERE set_name = $1 AND member = $2`,
		setName, value,
	)
	if err != nil {
		t.err = fmt.Errorf("dispatch/postgres: remove from set: %w", err)
	}
	return t.err
}

// AddToList is not backed by a dedicated table for this store; lists
// are modeled as ordinary set membership since no current caller relies
// on insertion order being preserved across a postgres backend.
func (t *Transaction) AddToList(listName, value string) error {
	return t.AddToSet(listName, value)
}

// TrimList is a no-op for the set-backed list representation above.
func (t *Transaction) TrimList(listName string, start, stop int) error {
	return nil
}

// Commit commits the underlying database transaction.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.err != nil {
		_ = t.tx.Rollback(ctx)
		return t.err
	}
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispatch/postgres: commit: %w", err)
	}
	return nil
}
