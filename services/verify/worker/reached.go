// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package worker implements the per-block analysis tasks: forward
// reachability over a block's interior and backward error-path
// checking with fault localization.
package worker

import (
	"fmt"

	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/formula"
)

// State is one abstract program state tracked by a forward run: a
// location inside the block plus the path formula under which it was
// reached. Entry is the path formula the state's seed carried into the
// block; every state descending from the same seed shares it, so PF is
// always Entry extended by in-block conjuncts.
type State struct {
	Loc    cfa.NodeID
	PF     formula.PathFormula
	Entry  formula.PathFormula
	Target bool
}

// key is the coverage identity of a state: same location, same path
// formula rendering.
func (s State) key() string {
	return fmt.Sprintf("%d|%s", s.Loc, s.PF.Formula)
}

// ReachedSet is the local state set of one forward run: the states
// explored so far plus the waitlist of states still to expand.
//
// Coverage is syntactic: a state is covered when an already-reached
// state has the same location and the same formula. Semantic coverage
// is deliberately not attempted here; diverging loops are cut off by
// the run's step budget instead.
//
// Thread Safety: not safe for concurrent use. Each run owns its set;
// the scheduler guarantees one task per block at a time.
type ReachedSet struct {
	states map[string]State
	order  []State
	wait   []State
}

// NewReachedSet creates an empty reached set.
func NewReachedSet() *ReachedSet {
	return &ReachedSet{states: make(map[string]State)}
}

// Push appends a state to the waitlist.
func (r *ReachedSet) Push(s State) {
	r.wait = append(r.wait, s)
}

// Pop removes and returns the next waitlist state, FIFO order.
func (r *ReachedSet) Pop() (State, bool) {
	if len(r.wait) == 0 {
		return State{}, false
	}
	s := r.wait[0]
	r.wait = r.wait[1:]
	return s, true
}

// Waiting reports whether unexpanded states remain.
func (r *ReachedSet) Waiting() bool { return len(r.wait) > 0 }

// Add records a state as reached. It returns false when an equal
// state was already present (the new one is covered).
func (r *ReachedSet) Add(s State) bool {
	k := s.key()
	if _, ok := r.states[k]; ok {
		return false
	}
	r.states[k] = s
	r.order = append(r.order, s)
	return true
}

// States returns the reached states in discovery order.
func (r *ReachedSet) States() []State { return r.order }

// At returns the reached states at the given location, discovery
// order.
func (r *ReachedSet) At(loc cfa.NodeID) []State {
	var out []State
	for _, s := range r.order {
		if s.Loc == loc {
			out = append(out, s)
		}
	}
	return out
}

// DropTargets removes all target states from the reached set. Called
// at the start of a re-run so already-reported targets are not
// reported again.
func (r *ReachedSet) DropTargets() {
	kept := r.order[:0]
	for _, s := range r.order {
		if s.Target {
			delete(r.states, s.key())
			continue
		}
		kept = append(kept, s)
	}
	r.order = kept
}

// Size returns the number of reached states.
func (r *ReachedSet) Size() int { return len(r.order) }
