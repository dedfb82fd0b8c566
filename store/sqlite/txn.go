package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/taskforge"
	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/txn"
)

var _ txn.Store = (*Store)(nil)

// sqliteOp is a single buffered write, issued against the store's grove
// query builder when the owning Transaction commits.
type sqliteOp func(ctx context.Context, s *Store) error

// Transaction buffers its operations and applies them sequentially on
// Commit. Unlike the postgres backend, it does not wrap a single
// database transaction — grove's sqlite driver here is only exercised
// through its per-statement query builder, so Commit is "apply each
// buffered write in order" rather than one atomic round trip. A failure
// partway through can leave earlier writes applied; callers retry the
// whole election+application on error, same as any other backend.
type Transaction struct {
	store *Store
	jobID id.JobID
	ops   []sqliteOp
}

// BeginTransaction opens a new write-only transaction scoped to jobID.
func (s *Store) BeginTransaction(_ context.Context, jobID id.JobID) (txn.Transaction, error) {
	return &Transaction{store: s, jobID: jobID}, nil
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

// SetJobState buffers a job state write.
func (t *Transaction) SetJobState(jobID id.JobID, st state.State) error {
	t.ops = append(t.ops, func(ctx context.Context, s *Store) error {
		j, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		state.ApplyTo(j, st)
		return s.UpdateJob(ctx, j)
	})
	return nil
}

// SetJobParameter buffers a parameter write, merged onto the job's
// Parameters map on commit.
func (t *Transaction) SetJobParameter(jobID id.JobID, name string, value []byte) error {
	t.ops = append(t.ops, func(ctx context.Context, s *Store) error {
		j, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if j.Parameters == nil {
			j.Parameters = make(map[string]json.RawMessage)
		}
		j.Parameters[name] = value
		return s.UpdateJob(ctx, j)
	})
	return nil
}

// AddToSet buffers adding value to setName.
func (t *Transaction) AddToSet(setName, value string) error {
	t.ops = append(t.ops, func(ctx context.Context, s *Store) error {
		_, err := s.sdb.NewRaw(
			`INSERT OR IGNORE INTO dispatch_sets (set_name, member) VALUES (?, ?)`,
			setName, value,
		).Exec(ctx)
		return err
	})
	return nil
}

// RemoveFromSet buffers removing value from setName.
func (t *Transaction) RemoveFromSet(setName, value string) error {
	t.ops = append(t.ops, func(ctx context.Context, s *Store) error {
		_, err := s.sdb.NewRaw(
			`DELETE FROM dispatch_sets WHERE set_name = ? AND member = ?`,
			setName, value,
		).Exec(ctx)
		return err
	})
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

// Commit applies every buffered operation in order.
func (t *Transaction) Commit(ctx context.Context) error {
	for i, apply := range t.ops {
		if err := apply(ctx, t.store); err != nil {
			return fmt.Errorf("dispatch/sqlite: transaction op %d: %w", i, err)
		}
	}
	return nil
}
