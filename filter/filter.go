// Package filter implements the state-election and state-application
// pipelines: the pluggable mechanism by which every job state transition
// is vetted, rewritten, and persisted atomically alongside storage
// writes. This is the core of dispatch — see the package-level docs on
// Elect and Apply for the algorithm.
package filter

import (
	"context"

	"github.com/xraph/taskforge/txn"
)

// ElectionFilter may rewrite a candidate state before it is persisted.
// OnStateElection observes the current candidate — the output of every
// earlier filter in the same election — and may replace it via
// ctx.SetCandidate. It may also read/write job parameters through ctx;
// parameter writes are buffered and flushed during application.
type ElectionFilter interface {
	OnStateElection(ctx context.Context, ectx *ElectStateContext)
}

// ApplicationFilter is notified of the state being left (OnStateUnapplied)
// and the state being entered (OnStateApplied), both within the single
// transaction that will commit the transition. Implementations may issue
// auxiliary writes on tx; they must be idempotent, since a failed Commit
// causes the whole election+application to be retried from scratch.
type ApplicationFilter interface {
	OnStateApplied(ctx context.Context, actx *ApplyStateContext, tx txn.Transaction)
	OnStateUnapplied(ctx context.Context, actx *ApplyStateContext, tx txn.Transaction)
}

// Attachment pairs a filter with its Order, for per-job-definition
// registration (the attribute-equivalent of spec.md §9). Merge with the
// global Registry at pipeline entry; on an Order tie, Attachments
// (method-level) win over globally registered filters.
type Attachment struct {
	Filter any
	Order  int
}

// electionEntry / applicationEntry are the narrowed views Elect/Apply
// operate over, produced by the Registry.
type electionEntry struct {
	filter       ElectionFilter
	order        int
	seq          int
	methodLevel  bool
}

type applicationEntry struct {
	filter      ApplicationFilter
	order       int
	seq         int
	methodLevel bool
}
