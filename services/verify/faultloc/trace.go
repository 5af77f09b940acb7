// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package faultloc

import (
	"context"
	"fmt"
	"sort"

	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/formula"
)

// Entry is one element of a trace formula: the conjunct a single path
// edge contributed, tagged with a selector and the SSA frontier at the
// moment the conjunct was added.
type Entry struct {
	// ID is the entry's position among contributing edges. IDs are
	// strictly increasing in path order, starting at 0.
	ID int

	// SSA is the frontier snapshot after the edge was applied.
	SSA formula.SSAMap

	// Selector tags the entry for the fault search.
	Selector *Selector

	// Fragment is the contributed conjunct. It is never the trivial
	// true formula; no-op edges produce no entry at all.
	Fragment formula.Formula
}

// TraceFormula is the ordered conjunction of per-edge fragments for
// one concrete error path, with the pre- and postcondition attached
// once construction completes.
type TraceFormula struct {
	// Entries in path order.
	Entries []Entry

	// Full is the complete conjunctive path formula.
	Full formula.PathFormula

	// Precondition is a minimal input assumption: the last-written
	// instance of each variable fixed to one satisfying model.
	Precondition formula.Formula

	// Postcondition is the negated error-state condition.
	Postcondition formula.Formula
}

// Fragments returns the entry fragments in path order, the soft
// constraint list handed to the fault search.
func (tf *TraceFormula) Fragments() []formula.Formula {
	out := make([]formula.Formula, len(tf.Entries))
	for i, e := range tf.Entries {
		out[i] = e.Fragment
	}
	return out
}

// Builder constructs a TraceFormula edge by edge.
//
// The builder maintains the running conjunctive path formula. Each
// added edge either leaves the formula unchanged (no entry) or extends
// it by exactly one conjunct, which is split back off and recorded.
type Builder struct {
	fctx      *formula.Context
	selectors *SelectorFactory
	current   formula.PathFormula
	entries   []Entry
}

// NewBuilder creates a Builder over the given formula context and
// selector factory, starting from the trivially-true path formula.
func NewBuilder(fctx *formula.Context, selectors *SelectorFactory) *Builder {
	return NewBuilderFrom(fctx, selectors, fctx.Manager().MakeEmpty())
}

// NewBuilderFrom creates a Builder whose trace extends an already
// accumulated path formula. Edge fragments are instantiated against
// the prefix's SSA frontier, so a trace rebuilt inside one block lines
// up with a formula carried across block boundaries. The prefix itself
// contributes no entries: only edges added afterwards are candidates
// for a fault.
func NewBuilderFrom(fctx *formula.Context, selectors *SelectorFactory, prefix formula.PathFormula) *Builder {
	return &Builder{
		fctx:      fctx,
		selectors: selectors,
		current:   prefix,
	}
}

// AddEdge extends the trace with one path edge.
//
// Description:
//
//	Computes next = MakeAnd(current, edge). An unchanged formula means
//	the edge contributed nothing and is skipped. Otherwise the new
//	conjunction must consist of exactly the previously accumulated
//	formula and one new conjunct (or be a single conjunct when the
//	accumulated formula was trivially true). Any other shape indicates
//	a bug in formula construction and panics: this is an internal
//	consistency failure, not a recoverable runtime condition.
//
// Outputs:
//
//	error - Non-nil when the edge operation is outside the supported
//	formula language (the caller's feasibility gate).
func (b *Builder) AddEdge(edge *cfa.Edge) error {
	next, err := b.fctx.Manager().MakeAnd(b.current, edge)
	if err != nil {
		return err
	}
	if next.Formula == b.current.Formula {
		b.current = next
		return nil
	}

	fragment := splitContribution(next.Formula, b.current.Formula)

	b.entries = append(b.entries, Entry{
		ID:       len(b.entries),
		SSA:      next.SSA.Copy(),
		Selector: b.selectors.Make(fragment, edge),
		Fragment: fragment,
	})
	b.current = next
	return nil
}

// splitContribution splits the extended formula into the previously
// accumulated part and the newly contributed conjunct, enforcing the
// two-conjunct shape invariant.
func splitContribution(next, old formula.Formula) formula.Formula {
	if old == formula.True {
		// The whole formula is the single contributed conjunct.
		return next
	}
	and, ok := next.(*formula.AndExpr)
	if !ok || and.L != old {
		panic(fmt.Sprintf(
			"trace formula split invariant violated: extension of %v produced %v",
			old, next,
		))
	}
	return and.R
}

// Finish attaches the pre- and postcondition and returns the completed
// trace formula.
//
// Description:
//
//	The precondition is derived from one satisfying model of the full
//	path formula: for every program variable only the assignment of
//	its highest SSA index (the last-written value) is kept, so the
//	precondition pins final values without over-constraining
//	intermediate instances. A path formula with no model (the trace
//	entries already contradict each other) gets the trivial
//	precondition. The postcondition is the negation of the
//	error-state condition, or that condition itself when trivially
//	true.
func (b *Builder) Finish(ctx context.Context, errorState formula.Formula) (*TraceFormula, error) {
	model, err := b.fctx.Solver().Model(ctx, b.current.Formula)
	if err != nil {
		return nil, fmt.Errorf("deriving precondition: %w", err)
	}

	pre := formula.True
	if model != nil {
		pre = preconditionFromModel(model)
	}

	post := formula.Not(errorState)
	if errorState == formula.True {
		post = errorState
	}

	return &TraceFormula{
		Entries:       b.entries,
		Full:          b.current,
		Precondition:  pre,
		Postcondition: post,
	}, nil
}

// preconditionFromModel keeps, per program variable, only the model
// assignment of the highest SSA index and pins it with an equality.
// Conjuncts are ordered by variable name so the same model always
// renders the same precondition.
func preconditionFromModel(model formula.Model) formula.Formula {
	type winner struct {
		name  string
		index int
		value int
	}
	best := make(map[string]winner)
	for name, value := range model {
		base, idx := formula.ParseInstance(name)
		if w, ok := best[base]; !ok || idx > w.index {
			best[base] = winner{name: name, index: idx, value: value}
		}
	}

	bases := make([]string, 0, len(best))
	for base := range best {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	pre := formula.True
	for _, base := range bases {
		w := best[base]
		eq := formula.And(
			formula.LE(w.name, "", w.value),
			formula.LE("", w.name, -w.value),
		)
		pre = formula.And(pre, eq)
	}
	return pre
}
