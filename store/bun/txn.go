package bunstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/xraph/taskforge"
	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/txn"
)

var _ txn.Store = (*Store)(nil)

// Transaction wraps a bun.Tx. Every operation issues its statement
// immediately against the transaction; Commit/Rollback is the only
// linearization point.
type Transaction struct {
	tx    bun.Tx
	jobID id.JobID
	err   error
}

// BeginTransaction opens a new database transaction scoped to jobID.
func (s *Store) BeginTransaction(ctx context.Context, jobID id.JobID) (txn.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dispatch/bun: begin transaction: %w", err)
	}
	return &Transaction{tx: tx, jobID: jobID}, nil
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
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		if err == dispatch.ErrJobNotFound {
			return nil, nil
		}
		return nil, err
	}
	if j.Parameters == nil {
		return nil, nil
	}
	return j.Parameters[name], nil
}

// SetJobState persists s onto the job row within the transaction.
func (t *Transaction) SetJobState(jobID id.JobID, s state.State) error {
	if t.err != nil {
		return t.err
	}

	m := new(jobModel)
	if err := t.tx.NewSelect().Model(m).Where("id = ?", jobID.String()).Scan(context.Background()); err != nil {
		t.err = fmt.Errorf("dispatch/bun: set job state: load: %w", err)
		return t.err
	}
	j, convErr := fromJobModel(m)
	if convErr != nil {
		t.err = convErr
		return t.err
	}
	state.ApplyTo(j, s)
	next := toJobModel(j)

	if _, err := t.tx.NewUpdate().Model(next).WherePK().Exec(context.Background()); err != nil {
		t.err = fmt.Errorf("dispatch/bun: set job state: %w", err)
	}
	return t.err
}

// SetJobParameter upserts a parameter both into dispatch_job_params and
// the denormalized dispatch_jobs.parameters column.
func (t *Transaction) SetJobParameter(jobID id.JobID, name string, value []byte) error {
	if t.err != nil {
		return t.err
	}

	ctx := context.Background()
	_, err := t.tx.NewRaw(`
		INSERT INTO dispatch_job_params (job_id, name, value)
		VALUES (?, ?, ?)
		ON CONFLICT (job_id, name) DO UPDATE SET value = EXCLUDED.value`,
		jobID.String(), name, value,
	).Exec(ctx)
	if err != nil {
		t.err = fmt.Errorf("dispatch/bun: set job parameter: %w", err)
		return t.err
	}

	raw, merr := json.Marshal(json.RawMessage(value))
	if merr != nil {
		t.err = fmt.Errorf("dispatch/bun: marshal parameter %q: %w", name, merr)
		return t.err
	}

	_, err = t.tx.NewRaw(`
		UPDATE dispatch_jobs
		SET parameters = jsonb_set(parameters, ?, ?::jsonb, true), updated_at = NOW()
		WHERE id = ?`,
		[]string{name}, raw, jobID.String(),
	).Exec(ctx)
	if err != nil {
		t.err = fmt.Errorf("dispatch/bun: merge parameter %q: %w", name, err)
	}
	return t.err
}

// AddToSet inserts value into setName, ignoring a duplicate membership.
func (t *Transaction) AddToSet(setName, value string) error {
	if t.err != nil {
		return t.err
	}
	_, err := t.tx.NewRaw(`
		INSERT INTO dispatch_sets (set_name, member) VALUES (?, ?)
		ON CONFLICT DO NOTHING`,
		setName, value,
	).Exec(context.Background())
	if err != nil {
		t.err = fmt.Errorf("dispatch/bun: add to set: %w", err)
	}
	return t.err
}

// RemoveFromSet deletes value from setName, a no-op if absent.
func (t *Transaction) RemoveFromSet(setName, value string) error {
	if t.err != nil {
		return t.err
	}
	_, err := t.tx.NewRaw(
		`DELETE FROM dispatch_sets WHERE set_name = ? AND member = ?`,
		setName, value,
	).Exec(context.Background())
	if err != nil {
		t.err = fmt.Errorf("dispatch/bun: remove from set: %w", err)
	}
	return t.err
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

// Commit commits the underlying database transaction.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.err != nil {
		_ = t.tx.Rollback()
		return t.err
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("dispatch/bun: commit: %w", err)
	}
	return nil
}
