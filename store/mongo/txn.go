package mongo

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/taskforge"
	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/txn"
)

var _ txn.Store = (*Store)(nil)

// mongoOp is a single buffered write, issued against the store's
// collections when the owning Transaction commits.
type mongoOp func(ctx context.Context, s *Store) error

// Transaction buffers its operations and applies them sequentially on
// Commit. The grove mongo driver wrapper this store is built on exposes
// collections, not the underlying *mongo.Client a multi-document ACID
// session requires, so Commit applies each buffered write in its own
// round trip rather than inside a single session transaction. Callers
// retry the whole election+application on error, same as any other
// backend.
type Transaction struct {
	store *Store
	jobID id.JobID
	ops   []mongoOp
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
		col := s.mdb.Collection(colSets)
		_, err := col.UpdateOne(ctx,
			bson.M{"set_name": setName, "member": value},
			bson.M{"$setOnInsert": bson.M{"set_name": setName, "member": value}},
			options.Update().SetUpsert(true),
		)
		return err
	})
	return nil
}

// RemoveFromSet buffers removing value from setName.
func (t *Transaction) RemoveFromSet(setName, value string) error {
	t.ops = append(t.ops, func(ctx context.Context, s *Store) error {
		col := s.mdb.Collection(colSets)
		_, err := col.DeleteOne(ctx, bson.M{"set_name": setName, "member": value})
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
			return fmt.Errorf("dispatch/mongo: transaction op %d: %w", i, err)
		}
	}
	return nil
}
