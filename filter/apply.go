package filter

import (
	"context"
	"fmt"

	"github.com/xraph/taskforge/job"
	"github.com/xraph/taskforge/state"
	"github.com/xraph/taskforge/txn"
)

// Apply runs the state-application pipeline (spec.md §4.4): it opens a
// transaction, lets every application filter observe the state being
// left, writes the newly elected state, lets every filter observe the
// state being entered, flushes whatever job parameters Elect buffered,
// and commits — all as one atomic unit. A failed Commit leaves storage
// untouched; callers should retry the whole election+application from
// freshly read job data rather than patch up a half-applied transition.
func Apply(ctx context.Context, reg *Registry, st txn.Store, j *job.Job, elected state.State, buf *ParamBuffer, attachments []Attachment) error {
	tx, err := st.BeginTransaction(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("filter: begin transaction: %w", err)
	}

	old := state.FromJob(j)
	actx := &ApplyStateContext{Job: j, State: old}

	filters := reg.applicationFilters(attachments)

	for _, entry := range filters {
		entry.filter.OnStateUnapplied(ctx, actx, tx)
	}

	if err := tx.SetJobState(j.ID, elected); err != nil {
		return fmt.Errorf("filter: set job state: %w", err)
	}

	actx.State = elected

	for _, entry := range filters {
		entry.filter.OnStateApplied(ctx, actx, tx)
	}

	if buf != nil {
		for name, raw := range buf.Pending() {
			if err := tx.SetJobParameter(j.ID, name, raw); err != nil {
				return fmt.Errorf("filter: flush parameter %q: %w", name, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("filter: commit: %w", err)
	}

	state.ApplyTo(j, elected)
	return nil
}
