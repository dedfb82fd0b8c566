package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/taskforge"
	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/txn"
)

// op is a single buffered write, applied to the store atomically when
// the owning Transaction commits.
type op func(m *Store) error

// Transaction is the memory store's txn.Transaction implementation. All
// operations are buffered and applied under a single lock acquisition
// inside Commit, so a failed or never-committed transaction leaves the
// store completely untouched.
type Transaction struct {
	store *Store
	jobID id.JobID
	ops   []op
}

// BeginTransaction opens a new write-only transaction scoped to jobID.
func (m *Store) BeginTransaction(_ context.Context, jobID id.JobID) (txn.Transaction, error) {
	return &Transaction{store: m, jobID: jobID}, nil
}

// GetCurrentState returns the job's currently persisted state.
func (m *Store) GetCurrentState(_ context.Context, jobID id.JobID) (state.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return state.State{}, dispatch.ErrJobNotFound
	}
	return state.FromJob(j), nil
}

// GetJobParameter returns the raw serialized value of a job parameter,
// or nil if unset.
func (m *Store) GetJobParameter(_ context.Context, jobID id.JobID, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bucket, ok := m.params[jobID.String()]
	if !ok {
		return nil, nil
	}
	return bucket[name], nil
}

// SetJobState buffers a job state write.
func (t *Transaction) SetJobState(jobID id.JobID, s state.State) error {
	t.ops = append(t.ops, func(m *Store) error {
		j, ok := m.jobs[jobID.String()]
		if !ok {
			return dispatch.ErrJobNotFound
		}
		state.ApplyTo(j, s)
		return nil
	})
	return nil
}

// SetJobParameter buffers a parameter write, visible after Commit both
// through GetJobParameter and on the job's own Parameters map.
func (t *Transaction) SetJobParameter(jobID id.JobID, name string, value []byte) error {
	t.ops = append(t.ops, func(m *Store) error {
		key := jobID.String()
		bucket, ok := m.params[key]
		if !ok {
			bucket = make(map[string][]byte)
			m.params[key] = bucket
		}
		bucket[name] = value

		if j, ok := m.jobs[key]; ok {
			if j.Parameters == nil {
				j.Parameters = make(map[string]json.RawMessage)
			}
			j.Parameters[name] = value
		}
		return nil
	})
	return nil
}

// AddToSet buffers adding value to setName.
func (t *Transaction) AddToSet(setName, value string) error {
	t.ops = append(t.ops, func(m *Store) error {
		bucket, ok := m.sets[setName]
		if !ok {
			bucket = make(map[string]struct{})
			m.sets[setName] = bucket
		}
		bucket[value] = struct{}{}
		return nil
	})
	return nil
}

// RemoveFromSet buffers removing value from setName.
func (t *Transaction) RemoveFromSet(setName, value string) error {
	t.ops = append(t.ops, func(m *Store) error {
		if bucket, ok := m.sets[setName]; ok {
			delete(bucket, value)
		}
		return nil
	})
	return nil
}

// AddToList buffers appending value to listName.
func (t *Transaction) AddToList(listName, value string) error {
	t.ops = append(t.ops, func(m *Store) error {
		m.lists[listName] = append(m.lists[listName], value)
		return nil
	})
	return nil
}

// TrimList buffers trimming listName to the inclusive [start, stop] range.
func (t *Transaction) TrimList(listName string, start, stop int) error {
	t.ops = append(t.ops, func(m *Store) error {
		list := m.lists[listName]
		n := len(list)
		if n == 0 {
			return nil
		}
		if start < 0 {
			start = 0
		}
		if stop >= n {
			stop = n - 1
		}
		if start > stop {
			m.lists[listName] = nil
			return nil
		}
		trimmed := make([]string, stop-start+1)
		copy(trimmed, list[start:stop+1])
		m.lists[listName] = trimmed
		return nil
	})
	return nil
}

// Commit applies every buffered operation under a single lock, or none
// of them if an operation fails partway through.
func (t *Transaction) Commit(_ context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for i, apply := range t.ops {
		if err := apply(t.store); err != nil {
			return fmt.Errorf("memory: transaction op %d: %w", i, err)
		}
	}
	return nil
}
