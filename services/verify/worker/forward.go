// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"context"
	"fmt"

	"github.com/faultlinehq/faultline/pkg/logging"
	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/formula"
	"github.com/faultlinehq/faultline/services/verify/message"
)

// VersionFn reports the current generation counter of a block. The
// scheduler provides it so emitted forward requests carry the version
// the sender expects the receiver to be at.
type VersionFn func(cfa.BlockID) uint64

// ForwardAnalysis runs forward reachability over one block's interior.
//
// Description:
//
//	The analysis expands states from the block entry along interior
//	edges until the waitlist empties, the step budget runs out, or a
//	shutdown is requested. Target states are recorded but never
//	expanded. One instance persists across runs of the same block so
//	a continuation resumes with the reached set and waitlist intact.
//
// Thread Safety: not safe for concurrent use. The scheduler runs at
// most one task per block at a time.
type ForwardAnalysis struct {
	block      *cfa.Block
	dec        *cfa.Decomposition
	fctx       *formula.Context
	spec       *cfa.ErrorSpec
	versionOf  VersionFn
	stepBudget int
	logger     *logging.Logger

	reached    *ReachedSet
	reported   map[string]bool
	propagated map[string]bool
	unsound    bool
}

// ForwardOption configures a ForwardAnalysis.
type ForwardOption func(*ForwardAnalysis)

// WithStepBudget bounds how many states one Execute call expands
// before yielding with a continuation.
func WithStepBudget(n int) ForwardOption {
	return func(f *ForwardAnalysis) {
		if n > 0 {
			f.stepBudget = n
		}
	}
}

// WithVersionFn installs the scheduler's generation lookup.
func WithVersionFn(fn VersionFn) ForwardOption {
	return func(f *ForwardAnalysis) { f.versionOf = fn }
}

// WithForwardLogger attaches a logger.
func WithForwardLogger(log *logging.Logger) ForwardOption {
	return func(f *ForwardAnalysis) { f.logger = log }
}

// NewForwardAnalysis creates the forward task for one block.
func NewForwardAnalysis(
	block *cfa.Block,
	dec *cfa.Decomposition,
	fctx *formula.Context,
	spec *cfa.ErrorSpec,
	opts ...ForwardOption,
) *ForwardAnalysis {
	f := &ForwardAnalysis{
		block:      block,
		dec:        dec,
		fctx:       fctx,
		spec:       spec,
		versionOf:  func(cfa.BlockID) uint64 { return 0 },
		stepBudget: 10_000,
		reached:    NewReachedSet(),
		reported:   make(map[string]bool),
		propagated: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Block returns the block this task analyzes.
func (f *ForwardAnalysis) Block() *cfa.Block { return f.block }

// SetEntryCondition seeds the waitlist with a new entry-state for the
// block. Called once per accepted forward request before Execute.
func (f *ForwardAnalysis) SetEntryCondition(shared formula.Shareable) {
	pf := shared.PathFormula()
	f.reached.Push(State{
		Loc:    f.block.Entry(),
		PF:     pf,
		Entry:  pf,
		Target: f.spec.IsTarget(f.dec.Graph().Node(f.block.Entry())),
	})
}

// Execute runs one forward pass and returns the messages it produced.
//
// Description:
//
//	Previously reported target states are dropped first so they are
//	not reported twice. The fixed point then runs to quiescence,
//	budget exhaustion, or shutdown. Afterwards every new target state
//	yields a backward request, every exit node's states are disjoined
//	per successor block into a single forward request, a non-empty
//	waitlist yields a continuation, and a completion message always
//	closes the batch.
func (f *ForwardAnalysis) Execute(ctx context.Context) []*message.Message {
	f.reached.DropTargets()

	status := message.Status{Sound: true}
	steps := 0
	for f.reached.Waiting() {
		if ctx.Err() != nil {
			status.Interrupted = true
			break
		}
		if steps >= f.stepBudget {
			break
		}
		s, _ := f.reached.Pop()
		if s.PF.Formula == formula.False {
			continue
		}
		if !f.reached.Add(s) {
			continue
		}
		steps++
		if s.Target {
			continue
		}
		f.expand(s)
	}

	var out []*message.Message
	out = append(out, f.reportTargets()...)
	out = append(out, f.propagateExits()...)

	if f.reached.Waiting() && !status.Interrupted {
		out = append(out, message.NewForwardContinuation(f.block.ID(), f.versionOf(f.block.ID())))
	}
	if f.unsound {
		status.Sound = false
	}
	out = append(out, message.NewTaskCompleted(f.block.ID(), status))

	if f.logger != nil {
		f.logger.Debug("forward pass finished",
			"block", string(f.block.ID()),
			"steps", steps,
			"reached", f.reached.Size(),
			"waiting", f.reached.Waiting(),
		)
	}
	return out
}

// expand pushes the successors of a state along interior edges.
func (f *ForwardAnalysis) expand(s State) {
	for _, e := range f.block.InnerLeaving(s.Loc) {
		next, err := f.fctx.Manager().MakeAnd(s.PF, e)
		if err != nil {
			// Unsupported edge shape: skip it and flag the loss.
			f.unsound = true
			if f.logger != nil {
				f.logger.Warn("skipping edge with unsupported operation",
					"edge", e.Text, "error", err.Error())
			}
			continue
		}
		f.reached.Push(State{
			Loc:    e.To,
			PF:     next,
			Entry:  s.Entry,
			Target: f.spec.IsTarget(f.dec.Graph().Node(e.To)),
		})
	}
}

// reportTargets emits one backward request per newly reached target
// state.
func (f *ForwardAnalysis) reportTargets() []*message.Message {
	var out []*message.Message
	for _, s := range f.reached.States() {
		if !s.Target || f.reported[s.key()] {
			continue
		}
		f.reported[s.key()] = true
		out = append(out, message.NewBackwardRequest(&message.ErrorOrigin{
			Block:    f.block.ID(),
			Location: s.Loc,
			State:    s.PF,
			Entry:    s.Entry,
		}))
	}
	return out
}

// propagateExits disjoins, per successor block, the formulas of all
// states crossing an exit edge into that block and emits a single
// forward request for each successor. States already handed to a
// successor by an earlier run of this instance are skipped, so a
// continuation sends only the delta; a successor with nothing new gets
// no request at all.
func (f *ForwardAnalysis) propagateExits() []*message.Message {
	merged := make(map[cfa.BlockID]formula.PathFormula)
	var order []cfa.BlockID

	for _, e := range f.block.ExitEdges() {
		succ := f.dec.BlockOf(e.To)
		if succ == nil {
			continue
		}
		for _, s := range f.reached.At(e.From) {
			if s.Target {
				continue
			}
			next, err := f.fctx.Manager().MakeAnd(s.PF, e)
			if err != nil {
				f.unsound = true
				continue
			}
			if next.Formula == formula.False {
				continue
			}
			key := fmt.Sprintf("%s|%s", succ.ID(), next.Formula)
			if f.propagated[key] {
				continue
			}
			f.propagated[key] = true
			if acc, ok := merged[succ.ID()]; ok {
				merged[succ.ID()] = f.fctx.Manager().MakeOr(acc, next)
			} else {
				merged[succ.ID()] = next
				order = append(order, succ.ID())
			}
		}
	}

	out := make([]*message.Message, 0, len(order))
	for _, id := range order {
		out = append(out, message.NewForwardRequest(id, f.versionOf(id), f.fctx.Share(merged[id])))
	}
	return out
}
