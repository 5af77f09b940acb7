// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"context"
	"testing"

	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/faultloc"
	"github.com/faultlinehq/faultline/services/verify/formula"
	"github.com/faultlinehq/faultline/services/verify/message"
	"github.com/faultlinehq/faultline/services/verify/solver"
)

func newTestContext() *formula.Context {
	return formula.NewContext(solver.New(), formula.NewManager())
}

func build(t *testing.T, spec cfa.ProgramSpec) (*cfa.Graph, *cfa.ErrorSpec, *cfa.Decomposition) {
	t.Helper()
	g, es, err := spec.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	d, err := cfa.Decompose(g)
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	return g, es, d
}

// straightSpec is a single linear block ending in the error location.
func straightSpec() cfa.ProgramSpec {
	return cfa.ProgramSpec{
		Name:   "straight",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "x = 0"},
			{From: "L1", To: "L2", Stmt: "y = x"},
			{From: "L2", To: "err", Stmt: "assume y == 0"},
		},
	}
}

func kinds(msgs []*message.Message) map[message.Kind]int {
	out := make(map[message.Kind]int)
	for _, m := range msgs {
		out[m.Kind()]++
	}
	return out
}

func TestForwardFindsTarget(t *testing.T) {
	_, es, d := build(t, straightSpec())
	fctx := newTestContext()

	fa := NewForwardAnalysis(d.EntryBlock(), d, fctx, es)
	fa.SetEntryCondition(fctx.Share(fctx.Manager().MakeEmpty()))

	msgs := fa.Execute(context.Background())
	got := kinds(msgs)
	if got[message.KindBackwardRequest] != 1 {
		t.Fatalf("backward requests = %d, want 1 (messages: %v)", got[message.KindBackwardRequest], msgs)
	}
	if got[message.KindTaskCompleted] != 1 {
		t.Errorf("completions = %d, want 1", got[message.KindTaskCompleted])
	}

	for _, m := range msgs {
		if origin, ok := m.Origin(); ok {
			if origin.Block != d.EntryBlock().ID() {
				t.Errorf("origin block = %s, want %s", origin.Block, d.EntryBlock().ID())
			}
			loc := d.Graph().Node(origin.Location)
			if loc == nil || loc.Label != "err" {
				t.Errorf("origin location = %v, want the err node", origin.Location)
			}
		}
		if status, ok := m.Status(); ok && !status.Sound {
			t.Error("clean run reported unsound status")
		}
	}
}

func TestForwardDoesNotReportTargetTwice(t *testing.T) {
	_, es, d := build(t, straightSpec())
	fctx := newTestContext()

	fa := NewForwardAnalysis(d.EntryBlock(), d, fctx, es)
	fa.SetEntryCondition(fctx.Share(fctx.Manager().MakeEmpty()))

	first := kinds(fa.Execute(context.Background()))
	if first[message.KindBackwardRequest] != 1 {
		t.Fatalf("first run backward requests = %d, want 1", first[message.KindBackwardRequest])
	}

	// Re-running the same instance must not re-report the target.
	second := kinds(fa.Execute(context.Background()))
	if second[message.KindBackwardRequest] != 0 {
		t.Errorf("second run backward requests = %d, want 0", second[message.KindBackwardRequest])
	}
}

// TestForwardSingleDisjoinedRequest checks that two paths into the same
// successor block arrive as one request carrying the disjunction.
func TestForwardSingleDisjoinedRequest(t *testing.T) {
	spec := cfa.ProgramSpec{
		Name:   "split",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "x > 0"},
			{From: "L0", To: "L1", Stmt: "x < 0"},
			{From: "L1", To: "err", Stmt: "x == 0"},
		},
	}
	_, es, d := build(t, spec)
	fctx := newTestContext()

	fa := NewForwardAnalysis(d.EntryBlock(), d, fctx, es,
		WithVersionFn(func(cfa.BlockID) uint64 { return 7 }))
	fa.SetEntryCondition(fctx.Share(fctx.Manager().MakeEmpty()))

	msgs := fa.Execute(context.Background())
	var forwards []*message.Message
	for _, m := range msgs {
		if m.Kind() == message.KindForwardRequest {
			forwards = append(forwards, m)
		}
	}
	if len(forwards) != 1 {
		t.Fatalf("forward requests = %d, want exactly 1", len(forwards))
	}

	fwd := forwards[0]
	if fwd.Version() != 7 {
		t.Errorf("expected version = %d, want 7", fwd.Version())
	}
	shared, _ := fwd.Formula()
	if _, ok := shared.PathFormula().Formula.(*formula.OrExpr); !ok {
		t.Errorf("payload = %v, want a disjunction", shared.PathFormula().Formula)
	}
}

// TestForwardRerunPropagatesOnlyNewExits re-runs a block whose exit
// states were already handed downstream: the re-run must not repeat
// them, and a fresh entry state must still get through.
func TestForwardRerunPropagatesOnlyNewExits(t *testing.T) {
	spec := cfa.ProgramSpec{
		Name:   "split",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "x > 0"},
			{From: "L0", To: "L1", Stmt: "x < 0"},
			{From: "L1", To: "err", Stmt: "x == 0"},
		},
	}
	_, es, d := build(t, spec)
	fctx := newTestContext()

	fa := NewForwardAnalysis(d.EntryBlock(), d, fctx, es)
	fa.SetEntryCondition(fctx.Share(fctx.Manager().MakeEmpty()))

	first := kinds(fa.Execute(context.Background()))
	if first[message.KindForwardRequest] != 1 {
		t.Fatalf("first run forward requests = %d, want 1", first[message.KindForwardRequest])
	}

	second := kinds(fa.Execute(context.Background()))
	if second[message.KindForwardRequest] != 0 {
		t.Errorf("re-run forward requests = %d, want 0", second[message.KindForwardRequest])
	}

	pf := fctx.Manager().MakeEmpty()
	pf.Formula = formula.LE("", "x@1", -5) // x >= 5
	fa.SetEntryCondition(fctx.Share(pf))
	third := kinds(fa.Execute(context.Background()))
	if third[message.KindForwardRequest] != 1 {
		t.Errorf("forward requests after new seed = %d, want 1", third[message.KindForwardRequest])
	}
}

func TestForwardStepBudgetYieldsContinuation(t *testing.T) {
	_, es, d := build(t, straightSpec())
	fctx := newTestContext()

	fa := NewForwardAnalysis(d.EntryBlock(), d, fctx, es, WithStepBudget(1))
	fa.SetEntryCondition(fctx.Share(fctx.Manager().MakeEmpty()))

	msgs := fa.Execute(context.Background())
	got := kinds(msgs)
	if got[message.KindForwardContinuation] != 1 {
		t.Fatalf("continuations = %d, want 1", got[message.KindForwardContinuation])
	}
	if got[message.KindBackwardRequest] != 0 {
		t.Errorf("backward requests before fixpoint = %d, want 0", got[message.KindBackwardRequest])
	}

	// Resuming repeatedly must eventually reach the target exactly once.
	backward := 0
	for i := 0; i < 10; i++ {
		batch := kinds(fa.Execute(context.Background()))
		backward += batch[message.KindBackwardRequest]
		if batch[message.KindForwardContinuation] == 0 {
			break
		}
	}
	if backward != 1 {
		t.Errorf("backward requests after resumption = %d, want 1", backward)
	}
}

func TestForwardShutdownMarksInterrupted(t *testing.T) {
	_, es, d := build(t, straightSpec())
	fctx := newTestContext()

	fa := NewForwardAnalysis(d.EntryBlock(), d, fctx, es)
	fa.SetEntryCondition(fctx.Share(fctx.Manager().MakeEmpty()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msgs := fa.Execute(ctx)

	found := false
	for _, m := range msgs {
		if status, ok := m.Status(); ok {
			found = true
			if !status.Interrupted {
				t.Error("cancelled run not marked interrupted")
			}
		}
	}
	if !found {
		t.Error("no completion message emitted on shutdown")
	}
}

// TestForwardMonotone checks that a strictly stronger entry condition
// never discovers a target the weaker condition missed.
func TestForwardMonotone(t *testing.T) {
	spec := cfa.ProgramSpec{
		Name:   "guarded",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "assume x > 0"},
			{From: "L1", To: "err", Stmt: "assume x > 5"},
		},
	}
	_, es, d := build(t, spec)

	targets := func(seed func(*formula.Context) formula.PathFormula) int {
		fctx := newTestContext()
		fa := NewForwardAnalysis(d.EntryBlock(), d, fctx, es)
		fa.SetEntryCondition(fctx.Share(seed(fctx)))
		return kinds(fa.Execute(context.Background()))[message.KindBackwardRequest]
	}

	weak := targets(func(fctx *formula.Context) formula.PathFormula {
		return fctx.Manager().MakeEmpty()
	})
	strong := targets(func(fctx *formula.Context) formula.PathFormula {
		pf := fctx.Manager().MakeEmpty()
		pf.Formula = formula.LE("", "x@1", -10) // x >= 10
		return pf
	})

	if strong > weak {
		t.Errorf("stronger entry found %d targets, weaker found %d", strong, weak)
	}
}

func originFor(t *testing.T, fctx *formula.Context, d *cfa.Decomposition, stmts ...string) *message.ErrorOrigin {
	t.Helper()
	entry := fctx.Manager().MakeEmpty()
	pf := entry
	var loc cfa.NodeID = d.EntryBlock().Entry()
	for _, e := range pathEdges(d.EntryBlock(), len(stmts)) {
		next, err := fctx.Manager().MakeAnd(pf, e)
		if err != nil {
			t.Fatalf("MakeAnd(%q) error = %v", e.Text, err)
		}
		pf = next
		loc = e.To
	}
	return &message.ErrorOrigin{Block: d.EntryBlock().ID(), Location: loc, State: pf, Entry: entry}
}

func pathEdges(b *cfa.Block, n int) []*cfa.Edge {
	var out []*cfa.Edge
	cur := b.Entry()
	for len(out) < n {
		leaving := b.InnerLeaving(cur)
		if len(leaving) == 0 {
			break
		}
		out = append(out, leaving[0])
		cur = leaving[0].To
	}
	return out
}

func nodeByLabel(t *testing.T, g *cfa.Graph, label string) cfa.NodeID {
	t.Helper()
	for _, id := range g.Nodes() {
		if g.Node(id).Label == label {
			return id
		}
	}
	t.Fatalf("no node labelled %q", label)
	return 0
}

// TestBackwardLocalizesFaultBehindEntry puts the failing guard in a
// block the error path only reaches through earlier blocks: the trace
// must line up with the entry formula's variable instances so the
// guard is still blamed.
func TestBackwardLocalizesFaultBehindEntry(t *testing.T) {
	spec := cfa.ProgramSpec{
		Name:   "merge",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "x = 1"},
			{From: "L0", To: "L2", Stmt: "x = 2"},
			{From: "L1", To: "L3", Stmt: "skip"},
			{From: "L2", To: "L3", Stmt: "skip"},
			{From: "L3", To: "err", Stmt: "assume x == 1"},
		},
	}
	g, _, d := build(t, spec)
	fctx := newTestContext()
	mgr := fctx.Manager()

	l0 := nodeByLabel(t, g, "L0")
	l1 := nodeByLabel(t, g, "L1")
	errNode := nodeByLabel(t, g, "err")

	blk := d.BlockOf(errNode)
	if blk.Contains(l0) {
		t.Fatal("error location shares a block with the program entry")
	}

	// Rebuild the entry formula the way the forward passes would,
	// taking the x = 1 branch down to the merge point.
	entry := mgr.MakeEmpty()
	for _, e := range g.Leaving(l0) {
		if e.To != l1 {
			continue
		}
		next, err := mgr.MakeAnd(entry, e)
		if err != nil {
			t.Fatalf("MakeAnd(%q) error = %v", e.Text, err)
		}
		entry = next
	}
	for _, e := range g.Leaving(l1) {
		next, err := mgr.MakeAnd(entry, e)
		if err != nil {
			t.Fatalf("MakeAnd(%q) error = %v", e.Text, err)
		}
		entry = next
	}

	inner := blk.InnerLeaving(blk.Entry())
	if len(inner) != 1 {
		t.Fatalf("interior edges at block entry = %d, want 1", len(inner))
	}
	state, err := mgr.MakeAnd(entry, inner[0])
	if err != nil {
		t.Fatalf("MakeAnd(%q) error = %v", inner[0].Text, err)
	}

	origin := &message.ErrorOrigin{Block: blk.ID(), Location: errNode, State: state, Entry: entry}
	ba := NewBackwardAnalysis(blk, fctx, faultloc.NewSelectorFactory())
	msgs := ba.Execute(context.Background(), origin)

	var results int
	for _, m := range msgs {
		verdict, fault, ok := m.Result()
		if !ok {
			continue
		}
		results++
		if verdict != message.VerdictFalse {
			t.Errorf("verdict = %v, want FALSE", verdict)
		}
		if fault == nil || fault.Size() == 0 {
			t.Fatal("violation behind the block entry carries no fault")
		}
		if got := fault.Edges()[0]; got.Text != "assume x == 1" {
			t.Errorf("fault edge = %q, want the failing guard", got.Text)
		}
	}
	if results != 1 {
		t.Fatalf("results = %d, want 1", results)
	}
}

func TestBackwardConfirmsFeasibleError(t *testing.T) {
	_, _, d := build(t, straightSpec())
	fctx := newTestContext()
	origin := originFor(t, fctx, d, "x = 0", "y = x", "assume y == 0")

	ba := NewBackwardAnalysis(d.EntryBlock(), fctx, faultloc.NewSelectorFactory())
	msgs := ba.Execute(context.Background(), origin)

	var verdicts int
	for _, m := range msgs {
		verdict, fault, ok := m.Result()
		if !ok {
			continue
		}
		verdicts++
		if verdict != message.VerdictFalse {
			t.Errorf("verdict = %v, want FALSE", verdict)
		}
		if fault == nil || fault.Size() == 0 {
			t.Error("confirmed error carries no fault")
		}
	}
	if verdicts != 1 {
		t.Fatalf("results = %d, want 1", verdicts)
	}
	if got := kinds(msgs)[message.KindTaskCompleted]; got != 1 {
		t.Errorf("completions = %d, want 1", got)
	}
}

func TestBackwardDismissesInfeasibleOrigin(t *testing.T) {
	spec := cfa.ProgramSpec{
		Name:   "contradiction",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "assume a > b"},
			{From: "L1", To: "err", Stmt: "assume b > a"},
		},
	}
	_, _, d := build(t, spec)
	fctx := newTestContext()
	origin := originFor(t, fctx, d, "assume a > b", "assume b > a")

	ba := NewBackwardAnalysis(d.EntryBlock(), fctx, faultloc.NewSelectorFactory())
	msgs := ba.Execute(context.Background(), origin)

	got := kinds(msgs)
	if got[message.KindFoundResult] != 0 {
		t.Errorf("infeasible origin produced a result (messages: %v)", msgs)
	}
	if got[message.KindTaskCompleted] != 1 {
		t.Errorf("completions = %d, want 1", got[message.KindTaskCompleted])
	}
}

func TestBackwardMissingPathSkipsLocalization(t *testing.T) {
	_, _, d := build(t, straightSpec())
	fctx := newTestContext()
	origin := originFor(t, fctx, d, "x = 0")
	origin.Location = 999 // not a block node

	ba := NewBackwardAnalysis(d.EntryBlock(), fctx, faultloc.NewSelectorFactory())
	msgs := ba.Execute(context.Background(), origin)

	for _, m := range msgs {
		if verdict, fault, ok := m.Result(); ok {
			if verdict != message.VerdictFalse {
				t.Errorf("verdict = %v, want FALSE", verdict)
			}
			if fault != nil {
				t.Errorf("fault = %v, want nil when the path cannot be rebuilt", fault)
			}
		}
	}
}

func TestReachedSetCoverage(t *testing.T) {
	fctx := newTestContext()
	r := NewReachedSet()
	s := State{Loc: 1, PF: fctx.Manager().MakeEmpty()}

	if !r.Add(s) {
		t.Fatal("first Add returned covered")
	}
	if r.Add(s) {
		t.Error("duplicate state not covered")
	}
	if r.Size() != 1 {
		t.Errorf("size = %d, want 1", r.Size())
	}

	r.DropTargets()
	if r.Size() != 1 {
		t.Error("DropTargets removed a non-target state")
	}

	target := State{Loc: 2, PF: fctx.Manager().MakeEmpty(), Target: true}
	r.Add(target)
	r.DropTargets()
	if r.Size() != 1 {
		t.Errorf("size after dropping targets = %d, want 1", r.Size())
	}
	if r.Add(target) == false {
		t.Error("dropped target still counted as covered")
	}
}
