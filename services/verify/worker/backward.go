// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/faultlinehq/faultline/pkg/logging"
	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/faultloc"
	"github.com/faultlinehq/faultline/services/verify/formula"
	"github.com/faultlinehq/faultline/services/verify/message"
)

// BackwardAnalysis checks a discovered error origin: it reconstructs
// the straight-line path from the block entry to the error location,
// decides feasibility, and on a confirmed error runs fault
// localization.
//
// Thread Safety: stateless between Execute calls apart from the
// shared selector factory, which synchronizes internally.
type BackwardAnalysis struct {
	block     *cfa.Block
	fctx      *formula.Context
	selectors *faultloc.SelectorFactory
	localizer *faultloc.Localizer
	logger    *logging.Logger
}

// BackwardOption configures a BackwardAnalysis.
type BackwardOption func(*BackwardAnalysis)

// WithBackwardLogger attaches a logger.
func WithBackwardLogger(log *logging.Logger) BackwardOption {
	return func(b *BackwardAnalysis) { b.logger = log }
}

// WithLocalizer replaces the default single-core localizer.
func WithLocalizer(l *faultloc.Localizer) BackwardOption {
	return func(b *BackwardAnalysis) { b.localizer = l }
}

// NewBackwardAnalysis creates the backward task for one block. The
// selector factory is shared across tasks so the same edge always maps
// to the same selector.
func NewBackwardAnalysis(
	block *cfa.Block,
	fctx *formula.Context,
	selectors *faultloc.SelectorFactory,
	opts ...BackwardOption,
) *BackwardAnalysis {
	b := &BackwardAnalysis{
		block:     block,
		fctx:      fctx,
		selectors: selectors,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.localizer == nil {
		b.localizer = faultloc.NewLocalizer(fctx)
	}
	return b
}

// Execute processes one error origin and returns the messages it
// produced.
//
// Description:
//
//	Feasibility is decided on the origin's own state formula, which
//	already carries the constraints of every block on the way to the
//	error. An infeasible origin is dismissed with a completion
//	message. A feasible origin is a confirmed error: the interior
//	path is rebuilt, its trace formula localized, and a FALSE result
//	emitted. When trace construction meets an operation outside the
//	supported formula language the localization is skipped and the
//	result carries no fault.
func (b *BackwardAnalysis) Execute(ctx context.Context, origin *message.ErrorOrigin) []*message.Message {
	status := message.Status{Sound: true}
	done := func() *message.Message { return message.NewTaskCompleted(b.block.ID(), status) }

	unsat, err := b.fctx.Solver().IsUnsat(ctx, origin.State.Formula)
	if err != nil {
		if b.logger != nil {
			b.logger.Error("feasibility check failed",
				"block", string(b.block.ID()), "error", err.Error())
		}
		status.Sound = false
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status.Interrupted = true
		}
		return []*message.Message{done()}
	}
	if unsat {
		// Spurious origin: the path to the error is contradictory.
		return []*message.Message{done()}
	}

	fault := b.localize(ctx, origin)
	return []*message.Message{
		message.NewFoundResult(message.VerdictFalse, fault),
		done(),
	}
}

// localize builds and localizes the trace formula for a confirmed
// error. A nil result means localization was skipped or found no
// conflict to explain.
func (b *BackwardAnalysis) localize(ctx context.Context, origin *message.ErrorOrigin) *faultloc.Fault {
	edges, err := b.reconstructPath(origin.Location)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("fault localization skipped",
				"block", string(b.block.ID()), "error", err.Error())
		}
		return nil
	}

	// The trace must extend the same path formula the forward run
	// carried into the block, or its fragments and the error state
	// would constrain disjoint variable instances.
	entry := origin.Entry
	if entry.Formula == nil {
		entry = b.fctx.Manager().MakeEmpty()
	}
	builder := faultloc.NewBuilderFrom(b.fctx, b.selectors, entry)
	for _, e := range edges {
		if err := builder.AddEdge(e); err != nil {
			if b.logger != nil {
				b.logger.Warn("fault localization skipped",
					"edge", e.Text, "error", err.Error())
			}
			return nil
		}
	}

	tf, err := builder.Finish(ctx, origin.State.Formula)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("fault localization skipped", "error", err.Error())
		}
		return nil
	}

	fault, err := b.localizer.Localize(ctx, tf)
	if err != nil {
		if !errors.Is(err, faultloc.ErrNoConflict) && b.logger != nil {
			b.logger.Warn("fault localization failed", "error", err.Error())
		}
		return nil
	}
	return fault
}

// reconstructPath walks the unique interior edge sequence from the
// block entry to the error location. Block interiors are linear by
// construction; a branching node means the decomposition is broken
// and the walk fails loudly.
func (b *BackwardAnalysis) reconstructPath(target cfa.NodeID) ([]*cfa.Edge, error) {
	var path []*cfa.Edge
	cur := b.block.Entry()
	for cur != target {
		leaving := b.block.InnerLeaving(cur)
		switch len(leaving) {
		case 0:
			return nil, fmt.Errorf("%w: stuck at node %d before reaching %d", ErrNoPath, cur, target)
		case 1:
		default:
			return nil, fmt.Errorf("%w: node %d has %d interior successors", ErrNonLinearBlock, cur, len(leaving))
		}
		path = append(path, leaving[0])
		cur = leaving[0].To
		if len(path) > len(b.block.Nodes()) {
			return nil, fmt.Errorf("%w: interior walk cycled without reaching %d", ErrNoPath, target)
		}
	}
	return path, nil
}
