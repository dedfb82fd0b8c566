package filter

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the ordered collection of globally registered filters.
// Order is determined first by the explicit Order passed to Register,
// ties broken by registration order (spec.md §4.2). Registration is
// expected to happen at startup, before any worker runs; Register
// panics if called after the registry has been frozen by Freeze.
type Registry struct {
	mu     sync.Mutex
	seq    int
	frozen bool

	elections []electionEntry
	applies   []applicationEntry
}

// NewRegistry returns an empty, unfrozen filter registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds f to the registry at the given order. f must implement
// at least one of ElectionFilter or ApplicationFilter, or Register
// panics — a non-filter registration is a programming error caught at
// startup, not a runtime condition to recover from.
func (r *Registry) Register(f any, order int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		panic("filter: Register called after the registry was frozen by a running worker")
	}

	ef, isElection := f.(ElectionFilter)
	af, isApply := f.(ApplicationFilter)
	if !isElection && !isApply {
		panic(fmt.Sprintf("filter: %T implements neither ElectionFilter nor ApplicationFilter", f))
	}

	r.seq++
	if isElection {
		r.elections = append(r.elections, electionEntry{filter: ef, order: order, seq: r.seq})
	}
	if isApply {
		r.applies = append(r.applies, applicationEntry{filter: af, order: order, seq: r.seq})
	}
}

// Freeze marks the registry read-only. engine.Build calls this once,
// before it creates the executor and worker pool (spec.md §9 "forbid
// mutation once the first worker observes the registry").
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// electionFilters returns the registry's election filters merged with
// per-job attachments, stably ordered by (Order, methodLevel, sequence) —
// method-level attachments win ties against global registrations.
func (r *Registry) electionFilters(attachments []Attachment) []electionEntry {
	r.mu.Lock()
	all := make([]electionEntry, len(r.elections))
	copy(all, r.elections)
	r.mu.Unlock()

	for i, a := range attachments {
		if ef, ok := a.Filter.(ElectionFilter); ok {
			all = append(all, electionEntry{filter: ef, order: a.Order, seq: -1 - i, methodLevel: true})
		}
	}

	sort.SliceStable(all, func(i, k int) bool {
		if all[i].order != all[k].order {
			return all[i].order < all[k].order
		}
		if all[i].methodLevel != all[k].methodLevel {
			return all[i].methodLevel // method-level wins a tie
		}
		return all[i].seq < all[k].seq
	})
	return all
}

func (r *Registry) applicationFilters(attachments []Attachment) []applicationEntry {
	r.mu.Lock()
	all := make([]applicationEntry, len(r.applies))
	copy(all, r.applies)
	r.mu.Unlock()

	for i, a := range attachments {
		if af, ok := a.Filter.(ApplicationFilter); ok {
			all = append(all, applicationEntry{filter: af, order: a.Order, seq: -1 - i, methodLevel: true})
		}
	}

	sort.SliceStable(all, func(i, k int) bool {
		if all[i].order != all[k].order {
			return all[i].order < all[k].order
		}
		if all[i].methodLevel != all[k].methodLevel {
			return all[i].methodLevel
		}
		return all[i].seq < all[k].seq
	})
	return all
}
