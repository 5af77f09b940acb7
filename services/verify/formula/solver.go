// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package formula

import (
	"context"
	"errors"
)

// Model assigns an integer value to each formula variable (SSA names).
type Model map[string]int

// Solver is the theorem-proving boundary of the verification core.
// All methods are atomic, side-effect-free queries; implementations
// may cache internally but must be safe for concurrent use or be used
// per-task-exclusively.
//
// The production backend lives in services/verify/solver; this
// consumer-side interface keeps the core independent of it.
type Solver interface {
	// IsUnsat reports whether the formula has no satisfying model.
	IsUnsat(ctx context.Context, f Formula) (bool, error)

	// Model returns one satisfying model, or nil when f is
	// unsatisfiable.
	Model(ctx context.Context, f Formula) (Model, error)

	// UnsatCore returns indices into soft identifying a minimal
	// subset S with hard AND conjunction(S) unsatisfiable. When the
	// full conjunction is satisfiable it returns (nil, nil): there is
	// no core to extract.
	UnsatCore(ctx context.Context, hard Formula, soft []Formula) ([]int, error)
}

// Errors reported across the solver boundary.
var (
	// ErrUnsupportedFormula indicates a formula outside the backend's
	// theory. Callers treat this as "calculation not possible", not as
	// a verdict.
	ErrUnsupportedFormula = errors.New("formula not supported by solver backend")

	// ErrSolverFailure indicates an internal solver failure or
	// resource exhaustion. Soundness of the overall run degrades to
	// UNKNOWN when this surfaces from a task.
	ErrSolverFailure = errors.New("solver failure")
)

// Context bundles the solver handle with the path-formula algebra and
// SSA bookkeeping. It is the explicit dependency passed into every
// analysis task constructor; there is no ambient global solver state.
type Context struct {
	solver Solver
	mgr    *Manager
}

// NewContext builds a formula context.
func NewContext(s Solver, m *Manager) *Context {
	if m == nil {
		m = NewManager()
	}
	return &Context{solver: s, mgr: m}
}

// Solver returns the solver handle.
func (c *Context) Solver() Solver { return c.solver }

// Manager returns the path-formula manager.
func (c *Context) Manager() *Manager { return c.mgr }

// Share wraps a path formula for inter-task transfer under this
// context's manager.
func (c *Context) Share(pf PathFormula) Shareable {
	return NewShareable(c.mgr, pf)
}
