// Package txn defines the write-only transaction contract storage
// backends implement so the election/application pipeline can persist a
// state change, its parameter writes, and its set/list side effects
// atomically. All operations are safe to issue in any order before
// Commit; Commit is the only linearization point.
package txn

import (
	"context"

	"github.com/xraph/taskforge/id"
	"github.com/xraph/taskforge/state"
)

// Transaction is the set of write operations the election/application
// pipeline demands from a storage backend. Implementations need not be
// safe for concurrent use by multiple goroutines — a Transaction is
// owned by exactly one in-flight job transition.
type Transaction interface {
	// SetJobState atomically replaces the job's current state record,
	// appending to its transition history.
	SetJobState(jobID id.JobID, s state.State) error

	// SetJobParameter buffers a parameter write to be visible after Commit.
	SetJobParameter(jobID id.JobID, name string, value []byte) error

	// AddToSet and RemoveFromSet are idempotent set-membership operations
	// used by filters such as the automatic retry policy's "retries" set.
	AddToSet(setName, value string) error
	RemoveFromSet(setName, value string) error

	// AddToList appends a value to a named list; TrimList keeps only the
	// [start, stop] (inclusive) range. Optional for the retry core —
	// provided for other application filters that maintain history lists.
	AddToList(listName, value string) error
	TrimList(listName string, start, stop int) error

	// Commit makes all buffered operations visible together, or none of
	// them. A failed Commit discards the entire set of writes; the
	// caller is expected to retry the whole election+application from
	// scratch with freshly read job data.
	Commit(ctx context.Context) error
}

// Store is implemented by a backend that can open transactions and
// answer the read-side queries the election pipeline needs.
type Store interface {
	// BeginTransaction opens a new write-only transaction scoped to jobID.
	BeginTransaction(ctx context.Context, jobID id.JobID) (Transaction, error)

	// GetCurrentState returns the job's currently persisted state value.
	GetCurrentState(ctx context.Context, jobID id.JobID) (state.State, error)

	// GetJobParameter returns the raw serialized value of a job
	// parameter, or nil if unset.
	GetJobParameter(ctx context.Context, jobID id.JobID, name string) ([]byte, error)
}
