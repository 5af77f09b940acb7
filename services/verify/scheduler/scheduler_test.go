// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"
	"testing"

	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/faultloc"
	"github.com/faultlinehq/faultline/services/verify/formula"
	"github.com/faultlinehq/faultline/services/verify/message"
	"github.com/faultlinehq/faultline/services/verify/solver"
)

func newScheduler(t *testing.T, spec cfa.ProgramSpec, opts ...Option) *Scheduler {
	t.Helper()
	g, es, err := spec.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	d, err := cfa.Decompose(g)
	if err != nil {
		t.Fatalf("Decompose() error = %v", err)
	}
	fctx := formula.NewContext(solver.New(), formula.NewManager())
	return New(d, es, fctx, opts...)
}

func TestRunSafeProgram(t *testing.T) {
	s := newScheduler(t, cfa.ProgramSpec{
		Name:   "safe",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "x = 1"},
			{From: "L1", To: "err", Stmt: "assume x == 0"},
			{From: "L1", To: "L2", Stmt: "assume x != 0"},
		},
	})

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Verdict != message.VerdictTrue {
		t.Errorf("verdict = %v, want TRUE", res.Verdict)
	}
	if !res.Sound || res.Interrupted {
		t.Errorf("result flags = %+v", res)
	}
}

func TestRunUnsafeProgram(t *testing.T) {
	s := newScheduler(t, cfa.ProgramSpec{
		Name:   "unsafe",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "x = 0"},
			{From: "L1", To: "L2", Stmt: "y = x"},
			{From: "L2", To: "err", Stmt: "assume y == 0"},
		},
	})

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Verdict != message.VerdictFalse {
		t.Fatalf("verdict = %v, want FALSE", res.Verdict)
	}
	if res.Fault == nil || res.Fault.Size() == 0 {
		t.Error("confirmed violation carries no fault")
	}
}

// TestRunMergeLocalizesGuardBehindEntry branches on x and merges again
// before the error guard, so the violation is confirmed in a block the
// path only reaches through earlier blocks. The fault must survive the
// block boundary and name the failing guard.
func TestRunMergeLocalizesGuardBehindEntry(t *testing.T) {
	s := newScheduler(t, cfa.ProgramSpec{
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
	}, WithWorkers(2))

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Verdict != message.VerdictFalse {
		t.Fatalf("verdict = %v, want FALSE", res.Verdict)
	}
	if res.Fault == nil || res.Fault.Size() == 0 {
		t.Fatal("violation behind a block boundary carries no fault")
	}
	edges := res.Fault.Edges()
	if len(edges) != 1 || edges[0].Text != "assume x == 1" {
		t.Errorf("fault edges = %v, want only the failing guard", edges)
	}
}

// TestRunContradictoryGuard has an error label only reachable through
// two contradicting comparisons; the error must be ruled out.
func TestRunContradictoryGuard(t *testing.T) {
	s := newScheduler(t, cfa.ProgramSpec{
		Name:   "contradiction",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "assume a > b"},
			{From: "L1", To: "err", Stmt: "assume b > a"},
			{From: "L0", To: "L2", Stmt: "assume a <= b"},
			{From: "L1", To: "L2", Stmt: "assume b <= a"},
		},
	}, WithWorkers(2))

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Verdict != message.VerdictTrue {
		t.Errorf("verdict = %v, want TRUE", res.Verdict)
	}
	if res.StaleDropped != 0 {
		t.Errorf("stale drops = %d, want 0", res.StaleDropped)
	}
}

// TestRunLoopProgram drives a counting loop through the scheduler: the
// back edge is an exit, so every iteration is a fresh block run.
func TestRunLoopProgram(t *testing.T) {
	spec := cfa.ProgramSpec{
		Name:   "loop",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "i = 0"},
			{From: "L1", To: "L2", Stmt: "assume i < 3"},
			{From: "L2", To: "L1", Stmt: "i = i + 1"},
			{From: "L1", To: "err", Stmt: "assume i >= 3"},
		},
	}
	s := newScheduler(t, spec, WithWorkers(2))

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Verdict != message.VerdictFalse {
		t.Errorf("verdict = %v, want FALSE after three unrollings", res.Verdict)
	}
	if res.Tasks < 3 {
		t.Errorf("tasks = %d, want at least one per loop iteration", res.Tasks)
	}
}

func TestRunRoundBudgetGivesUnknown(t *testing.T) {
	spec := cfa.ProgramSpec{
		Name:   "diverging",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "L1", Stmt: "i = 0"},
			{From: "L1", To: "L2", Stmt: "assume i >= 0"},
			{From: "L2", To: "L1", Stmt: "i = i + 1"},
			{From: "L1", To: "err", Stmt: "assume i < 0"},
		},
	}
	s := newScheduler(t, spec, WithRoundBudget(4))

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Verdict != message.VerdictUnknown {
		t.Errorf("verdict = %v, want UNKNOWN", res.Verdict)
	}
	if res.Sound {
		t.Error("budget-limited run still claims soundness")
	}
}

func TestRunCancelledContextGivesUnknown(t *testing.T) {
	s := newScheduler(t, cfa.ProgramSpec{
		Name:   "cancel",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "err", Stmt: "assume x == 0"},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Verdict != message.VerdictUnknown {
		t.Errorf("verdict = %v, want UNKNOWN", res.Verdict)
	}
	if !res.Interrupted {
		t.Error("cancelled run not marked interrupted")
	}
}

// TestStaleMessageDropped checks the version-check idempotence
// property: a request stamped against a superseded generation never
// reaches the block.
func TestStaleMessageDropped(t *testing.T) {
	s := newScheduler(t, cfa.ProgramSpec{
		Name:   "stale",
		Entry:  "L0",
		Errors: []string{"err"},
		Edges: []cfa.EdgeSpec{
			{From: "L0", To: "err", Stmt: "assume x == 0"},
		},
	})
	id := s.dec.EntryBlock().ID()
	ctl := s.ctls[id]

	m := message.NewForwardRequest(id, s.Version(id), s.fctx.Share(s.fctx.Manager().MakeEmpty()))
	s.InvalidateBlock(id)
	if s.Version(id) != 1 {
		t.Fatalf("version after invalidation = %d, want 1", s.Version(id))
	}

	var (
		status     = message.Status{Sound: true}
		faults     []*faultloc.Fault
		errorFound bool
		stale      int
	)
	s.route(context.Background(), m, &status, &faults, &errorFound, &stale)

	if stale != 1 {
		t.Errorf("stale count = %d, want 1", stale)
	}
	if len(ctl.seeds) != 0 {
		t.Errorf("stale message seeded the block (%d seeds)", len(ctl.seeds))
	}

	// A request stamped with the current generation passes.
	fresh := message.NewForwardRequest(id, s.Version(id), s.fctx.Share(s.fctx.Manager().MakeEmpty()))
	s.route(context.Background(), fresh, &status, &faults, &errorFound, &stale)
	if len(ctl.seeds) != 1 {
		t.Errorf("fresh message not seeded (%d seeds)", len(ctl.seeds))
	}
}

func TestBlockStateString(t *testing.T) {
	want := map[BlockState]string{
		StateIdle:                "IDLE",
		StateScheduled:           "SCHEDULED",
		StateRunning:             "RUNNING",
		StateCompleted:           "COMPLETED",
		StateContinuationPending: "CONTINUATION_PENDING",
	}
	for st, name := range want {
		if got := st.String(); got != name {
			t.Errorf("%d.String() = %q, want %q", int(st), got, name)
		}
	}
}
