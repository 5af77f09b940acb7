// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package faultloc

import (
	"context"
	"errors"
	"testing"

	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/formula"
	"github.com/faultlinehq/faultline/services/verify/solver"
)

func newTestContext() *formula.Context {
	return formula.NewContext(solver.New(), formula.NewManager())
}

func edge(t *testing.T, stmt string) *cfa.Edge {
	t.Helper()
	op, err := cfa.ParseStatement(stmt)
	if err != nil {
		t.Fatalf("ParseStatement(%q) error = %v", stmt, err)
	}
	return &cfa.Edge{From: 0, To: 1, Op: op, Text: stmt}
}

func buildTrace(t *testing.T, fctx *formula.Context, errorState formula.Formula, stmts ...string) *TraceFormula {
	t.Helper()
	b := NewBuilder(fctx, NewSelectorFactory())
	for _, stmt := range stmts {
		if err := b.AddEdge(edge(t, stmt)); err != nil {
			t.Fatalf("AddEdge(%q) error = %v", stmt, err)
		}
	}
	tf, err := b.Finish(context.Background(), errorState)
	if err != nil {
		t.Fatalf("Finish error = %v", err)
	}
	return tf
}

func TestBuilderSkipsNoOps(t *testing.T) {
	fctx := newTestContext()
	tf := buildTrace(t, fctx, formula.True,
		"x = 1",
		"skip",
		"y = x + 1",
		"x <= x + 1", // tautology, contributes nothing
		"assume y > 0",
	)

	if got := len(tf.Entries); got != 3 {
		t.Fatalf("entry count = %d, want 3", got)
	}
	for i, e := range tf.Entries {
		if e.ID != i {
			t.Errorf("entry %d has id %d, want %d", i, e.ID, i)
		}
		if e.Fragment == formula.True {
			t.Errorf("entry %d fragment is trivially true", i)
		}
		if e.Selector == nil {
			t.Errorf("entry %d has no selector", i)
		}
	}
}

func TestBuilderFragmentsRebuildFullFormula(t *testing.T) {
	fctx := newTestContext()
	tf := buildTrace(t, fctx, formula.True,
		"x = 1",
		"y = x + 1",
		"assume y > 1",
	)

	rebuilt := formula.ConjoinAll(tf.Fragments())
	if rebuilt.String() != tf.Full.Formula.String() {
		t.Errorf("conjoined fragments = %v, want %v", rebuilt, tf.Full.Formula)
	}
}

func TestBuilderFromExtendsPrefix(t *testing.T) {
	fctx := newTestContext()
	prefix, err := fctx.Manager().MakeAnd(fctx.Manager().MakeEmpty(), edge(t, "x = 1"))
	if err != nil {
		t.Fatalf("MakeAnd error = %v", err)
	}

	b := NewBuilderFrom(fctx, NewSelectorFactory(), prefix)
	if err := b.AddEdge(edge(t, "assume x == 1")); err != nil {
		t.Fatalf("AddEdge error = %v", err)
	}
	tf, err := b.Finish(context.Background(), formula.True)
	if err != nil {
		t.Fatalf("Finish error = %v", err)
	}

	if got := len(tf.Entries); got != 1 {
		t.Fatalf("entry count = %d, want 1 (the prefix must contribute none)", got)
	}
	vars := formula.Vars(tf.Entries[0].Fragment)
	if _, ok := vars["x@2"]; !ok {
		t.Errorf("fragment %v not instantiated against the prefix frontier", tf.Entries[0].Fragment)
	}
	and, ok := tf.Full.Formula.(*formula.AndExpr)
	if !ok || and.L != prefix.Formula {
		t.Errorf("full formula %v does not extend the prefix", tf.Full.Formula)
	}
}

// TestLocalizeFaultBehindPrefix keeps only the trace suffix as fault
// candidates while the error state also carries constraints accumulated
// before the trace began; the conflict must still surface.
func TestLocalizeFaultBehindPrefix(t *testing.T) {
	fctx := newTestContext()
	mgr := fctx.Manager()

	one, err := mgr.MakeAnd(mgr.MakeEmpty(), edge(t, "x = 1"))
	if err != nil {
		t.Fatalf("MakeAnd error = %v", err)
	}
	two, err := mgr.MakeAnd(mgr.MakeEmpty(), edge(t, "x = 2"))
	if err != nil {
		t.Fatalf("MakeAnd error = %v", err)
	}
	prefix := mgr.MakeOr(one, two)

	guard := edge(t, "assume x == 1")
	state, err := mgr.MakeAnd(prefix, guard)
	if err != nil {
		t.Fatalf("MakeAnd error = %v", err)
	}

	b := NewBuilderFrom(fctx, NewSelectorFactory(), prefix)
	if err := b.AddEdge(guard); err != nil {
		t.Fatalf("AddEdge error = %v", err)
	}
	tf, err := b.Finish(context.Background(), state.Formula)
	if err != nil {
		t.Fatalf("Finish error = %v", err)
	}

	loc := NewLocalizer(fctx)
	fault, err := loc.Localize(context.Background(), tf)
	if err != nil {
		t.Fatalf("Localize error = %v", err)
	}
	if fault.Size() != 1 {
		t.Fatalf("fault = %v (size %d), want the single guard entry", fault, fault.Size())
	}
	if got := fault.Edges()[0]; got != guard {
		t.Errorf("fault edge = %v, want %v", got, guard)
	}
}

func TestFinishPreconditionDeterministic(t *testing.T) {
	want := ""
	for i := 0; i < 8; i++ {
		fctx := newTestContext()
		tf := buildTrace(t, fctx, formula.True,
			"a = 1",
			"b = 2",
			"c = 3",
			"d = 4",
		)
		got := tf.Precondition.String()
		if i == 0 {
			want = got
			continue
		}
		if got != want {
			t.Fatalf("precondition rendering changed between builds:\n%q\n%q", got, want)
		}
	}
}

func TestSelectorFactoryMemoizesPerEdge(t *testing.T) {
	f := NewSelectorFactory()
	e := &cfa.Edge{From: 0, To: 1, Text: "x = 1"}
	frag := formula.LE("x", "", 1)

	s1 := f.Make(frag, e)
	s2 := f.Make(frag, e)
	if s1 != s2 {
		t.Errorf("same edge produced distinct selectors %v and %v", s1, s2)
	}

	other := f.Make(frag, &cfa.Edge{From: 1, To: 2, Text: "x = 1"})
	if other == s1 {
		t.Error("distinct edges share a selector")
	}

	if got, ok := f.Lookup(s1.Name()); !ok || got != s1 {
		t.Errorf("Lookup(%q) = %v, %v", s1.Name(), got, ok)
	}
}

func TestFinishPreconditionPinsLastWrite(t *testing.T) {
	fctx := newTestContext()
	tf := buildTrace(t, fctx, formula.True,
		"x = 1",
		"x = x + 1",
	)

	vars := formula.Vars(tf.Precondition)
	if _, ok := vars["x@3"]; !ok {
		t.Errorf("precondition %v does not pin x@3", tf.Precondition)
	}
	if _, ok := vars["x@2"]; ok {
		t.Errorf("precondition %v pins intermediate instance x@2", tf.Precondition)
	}

	// The pinned value must agree with the trace: x ends at 2.
	unsat, err := fctx.Solver().IsUnsat(context.Background(),
		formula.And(tf.Full.Formula, tf.Precondition))
	if err != nil {
		t.Fatalf("IsUnsat error = %v", err)
	}
	if unsat {
		t.Error("precondition contradicts its own trace formula")
	}
}

func TestFinishInfeasibleTraceGetsTrivialPrecondition(t *testing.T) {
	fctx := newTestContext()
	tf := buildTrace(t, fctx, formula.True,
		"assume a > b",
		"assume b > a",
	)

	if tf.Precondition != formula.True {
		t.Errorf("precondition = %v, want true", tf.Precondition)
	}
}

func TestLocalizeSingleCore(t *testing.T) {
	fctx := newTestContext()
	errorState := formula.And( // y@2 == 0 at the error location
		formula.LE("y@2", "", 0),
		formula.LE("", "y@2", 0),
	)
	tf := buildTrace(t, fctx, errorState,
		"x = 0",
		"y = x",
		"assume y == 0",
	)

	loc := NewLocalizer(fctx)
	fault, err := loc.Localize(context.Background(), tf)
	if err != nil {
		t.Fatalf("Localize error = %v", err)
	}
	if fault.Size() == 0 || fault.Size() > 3 {
		t.Fatalf("fault size = %d, want between 1 and 3", fault.Size())
	}
	if fault.Strengthened {
		t.Error("conflict needed no precondition but fault says otherwise")
	}
}

func TestLocalizeContradictoryAssumes(t *testing.T) {
	fctx := newTestContext()
	tf := buildTrace(t, fctx, formula.True,
		"assume a > b",
		"assume b > a",
	)
	if got := len(tf.Entries); got != 2 {
		t.Fatalf("entry count = %d, want 2", got)
	}

	loc := NewLocalizer(fctx)
	fault, err := loc.Localize(context.Background(), tf)
	if err != nil {
		t.Fatalf("Localize error = %v", err)
	}
	if fault.Size() > 2 {
		t.Fatalf("fault size = %d, want at most 2", fault.Size())
	}

	// Removing the fault must restore satisfiability.
	faulty := make(map[int]bool)
	for _, e := range fault.Entries {
		faulty[e.ID] = true
	}
	remaining := formula.True
	for _, e := range tf.Entries {
		if !faulty[e.ID] {
			remaining = formula.And(remaining, e.Fragment)
		}
	}
	unsat, err := fctx.Solver().IsUnsat(context.Background(),
		formula.And(remaining, tf.Postcondition))
	if err != nil {
		t.Fatalf("IsUnsat error = %v", err)
	}
	if unsat {
		t.Errorf("removing fault %v did not restore satisfiability", fault)
	}
}

func TestLocalizeStrengthensWithPrecondition(t *testing.T) {
	fctx := newTestContext()
	// The trace alone is consistent with any postcondition over free
	// inputs; only pinning the failing input values forces a conflict.
	tf := buildTrace(t, fctx, formula.True,
		"y = x + 1",
	)
	// Postcondition contradicting the pinned last-write of y.
	last := formula.InstanceName("y", tf.Full.SSA.Index("y"))
	model, err := fctx.Solver().Model(context.Background(), tf.Full.Formula)
	if err != nil {
		t.Fatalf("Model error = %v", err)
	}
	pinned := model[last]
	tf.Postcondition = formula.LE("", last, -(pinned + 1)) // y > pinned

	loc := NewLocalizer(fctx)
	fault, err := loc.Localize(context.Background(), tf)
	if err != nil {
		t.Fatalf("Localize error = %v", err)
	}
	if !fault.Strengthened {
		t.Error("expected precondition strengthening, got direct conflict")
	}
}

func TestLocalizeNoConflict(t *testing.T) {
	fctx := newTestContext()
	tf := buildTrace(t, fctx, formula.True,
		"x = 1",
		"assume x > 0",
	)

	loc := NewLocalizer(fctx)
	if _, err := loc.Localize(context.Background(), tf); !errors.Is(err, ErrNoConflict) {
		t.Errorf("Localize error = %v, want ErrNoConflict", err)
	}
}

func TestMaxSatFindsMinimalFault(t *testing.T) {
	fctx := newTestContext()
	// Two independent contradictions: {a>b, b>a} and the singleton
	// {assume c == 0 vs postcondition c != 0}. The singleton is the
	// smaller explanation.
	tf := buildTrace(t, fctx, formula.True,
		"assume a > b",
		"assume b > a",
		"assume c == 0",
	)
	tf.Postcondition = formula.Or(
		formula.LE("c@1", "", -1),
		formula.LE("", "c@1", -1),
	)

	loc := NewLocalizer(fctx, WithStrategy(StrategyMaxSat), WithCandidateLimit(8))
	fault, err := loc.Localize(context.Background(), tf)
	if err != nil {
		t.Fatalf("Localize error = %v", err)
	}
	if fault.Size() != 1 {
		t.Errorf("fault = %v (size %d), want the singleton core", fault, fault.Size())
	}
}

func TestSelectMinimal(t *testing.T) {
	small := &Fault{Entries: make([]Entry, 3)}
	big := &Fault{Entries: make([]Entry, 5)}

	if got := SelectMinimal([]*Fault{big, small}); got != small {
		t.Errorf("SelectMinimal picked size %d, want 3", got.Size())
	}
	if got := SelectMinimal([]*Fault{small, big}); got != small {
		t.Errorf("SelectMinimal picked size %d, want 3", got.Size())
	}
	tied := &Fault{Entries: make([]Entry, 3)}
	if got := SelectMinimal([]*Fault{small, tied}); got != small {
		t.Error("SelectMinimal did not keep the first candidate on a tie")
	}
}

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		in   string
		want Strategy
		ok   bool
	}{
		{"", StrategySingleCore, true},
		{"single-core", StrategySingleCore, true},
		{"MaxSat", StrategyMaxSat, true},
		{"max_sat", StrategyMaxSat, true},
		{"bogus", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseStrategy(tc.in)
			if tc.ok && (err != nil || got != tc.want) {
				t.Errorf("ParseStrategy(%q) = %v, %v", tc.in, got, err)
			}
			if !tc.ok && err == nil {
				t.Errorf("ParseStrategy(%q) succeeded, want error", tc.in)
			}
		})
	}
}
