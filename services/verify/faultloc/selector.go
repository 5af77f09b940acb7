// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package faultloc turns a confirmed error path into an explanation:
// it builds the trace formula for the path and searches for a minimal
// set of statements (selectors) that jointly make the path
// contradictory together with the pre- and postcondition.
package faultloc

import (
	"fmt"
	"sync"

	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/formula"
)

// Selector is a boolean tag uniquely associated with one trace entry
// and therefore with one program edge. Selectors are the unit of blame
// in the fault search.
type Selector struct {
	// ID is unique per factory, assigned in creation order.
	ID int

	// Edge is the originating CFA edge.
	Edge *cfa.Edge

	// Fragment is the formula conjunct the edge contributed.
	Fragment formula.Formula
}

// Name returns the selector's literal name.
func (s *Selector) Name() string {
	return fmt.Sprintf("sel#%d", s.ID)
}

// String renders the selector with its source statement.
func (s *Selector) String() string {
	if s.Edge != nil && s.Edge.Text != "" {
		return fmt.Sprintf("%s<%s>", s.Name(), s.Edge.Text)
	}
	return s.Name()
}

// SelectorFactory mints selectors, memoized per edge: the same edge
// always yields the same selector, no matter how many traces it
// appears in.
//
// The factory is safe for concurrent use by backward-analysis tasks.
type SelectorFactory struct {
	mu      sync.Mutex
	next    int
	byEdge  map[*cfa.Edge]*Selector
	byName  map[string]*Selector
}

// NewSelectorFactory creates an empty factory.
func NewSelectorFactory() *SelectorFactory {
	return &SelectorFactory{
		byEdge: make(map[*cfa.Edge]*Selector),
		byName: make(map[string]*Selector),
	}
}

// Make returns the selector for (fragment, edge), creating it on first
// use. The fragment stored with the selector is the one from the first
// creation; trace construction guarantees a given edge always
// contributes the same fragment shape.
func (f *SelectorFactory) Make(fragment formula.Formula, edge *cfa.Edge) *Selector {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.byEdge[edge]; ok {
		return s
	}
	s := &Selector{ID: f.next, Edge: edge, Fragment: fragment}
	f.next++
	f.byEdge[edge] = s
	f.byName[s.Name()] = s
	return s
}

// Lookup resolves a selector by literal name, used to filter solver
// core output down to known selectors.
func (f *SelectorFactory) Lookup(name string) (*Selector, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byName[name]
	return s, ok
}
