// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package solver implements the formula.Solver interface over integer
// difference logic.
//
// The backend is deliberately small: the propositional structure of a
// formula is handled by the gophersat SAT solver, and each
// propositional model is checked against the difference-constraint
// theory with Bellman-Ford negative-cycle detection. Inconsistent
// models are blocked and the SAT solver re-queried (the classic lazy
// loop). This is an embedded backend for the constraint language the
// front end produces, not a general SMT solver; a real SMT binding can
// replace it behind the same interface without touching any caller.
package solver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/crillab/gophersat/bf"

	"github.com/faultlinehq/faultline/services/verify/formula"
)

// defaultMaxRounds bounds the lazy refinement loop. Each round blocks
// at least one propositional model, so the loop always terminates; the
// bound exists to turn pathological inputs into ErrSolverFailure
// instead of long stalls.
const defaultMaxRounds = 10000

// DiffSolver is the difference-logic solver backend.
//
// DiffSolver is stateless between queries and safe for concurrent use.
type DiffSolver struct {
	maxRounds int
	logger    *slog.Logger
}

// Option configures a DiffSolver.
type Option func(*DiffSolver)

// WithMaxRounds overrides the lazy-loop round budget.
func WithMaxRounds(n int) Option {
	return func(s *DiffSolver) {
		if n > 0 {
			s.maxRounds = n
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *DiffSolver) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a DiffSolver.
func New(opts ...Option) *DiffSolver {
	s := &DiffSolver{
		maxRounds: defaultMaxRounds,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ formula.Solver = (*DiffSolver)(nil)

// IsUnsat reports whether f has no satisfying model.
func (s *DiffSolver) IsUnsat(ctx context.Context, f formula.Formula) (bool, error) {
	sat, _, err := s.check(ctx, f)
	if err != nil {
		return false, err
	}
	return !sat, nil
}

// Model returns one satisfying model of f, or nil when f is
// unsatisfiable.
func (s *DiffSolver) Model(ctx context.Context, f formula.Formula) (formula.Model, error) {
	sat, model, err := s.check(ctx, f)
	if err != nil {
		return nil, err
	}
	if !sat {
		return nil, nil
	}
	return model, nil
}

// UnsatCore returns indices into soft identifying a minimal subset S
// such that hard AND conjunction(S) is unsatisfiable.
//
// Description:
//
//	Deletion-based minimization: starting from the full soft set, each
//	element is tentatively dropped and dropped permanently when the
//	remainder stays unsatisfiable. The result is a minimal (not
//	necessarily minimum) core in at most len(soft)+1 solver calls.
//
// Outputs:
//
//	[]int - Core indices in ascending order; nil when hard plus all of
//	soft is satisfiable (no core exists).
//	error - Non-nil on solver failure or cancellation.
func (s *DiffSolver) UnsatCore(ctx context.Context, hard formula.Formula, soft []formula.Formula) ([]int, error) {
	if hard == nil {
		hard = formula.True
	}

	conjoin := func(keep map[int]bool) formula.Formula {
		out := hard
		for i, f := range soft {
			if keep[i] {
				out = formula.And(out, f)
			}
		}
		return out
	}

	keep := make(map[int]bool, len(soft))
	for i := range soft {
		keep[i] = true
	}

	unsat, err := s.IsUnsat(ctx, conjoin(keep))
	if err != nil {
		return nil, err
	}
	if !unsat {
		return nil, nil
	}

	for i := range soft {
		keep[i] = false
		unsat, err := s.IsUnsat(ctx, conjoin(keep))
		if err != nil {
			return nil, err
		}
		if !unsat {
			keep[i] = true
		}
	}

	var core []int
	for i := range soft {
		if keep[i] {
			core = append(core, i)
		}
	}
	return core, nil
}

// check runs the lazy SAT-plus-theory loop.
//
// Outputs:
//
//	bool - Whether f is satisfiable.
//	formula.Model - A satisfying assignment when satisfiable.
//	error - Cancellation or round-budget exhaustion.
func (s *DiffSolver) check(ctx context.Context, f formula.Formula) (bool, formula.Model, error) {
	if f == nil {
		return false, nil, fmt.Errorf("%w: nil formula", formula.ErrUnsupportedFormula)
	}

	nf := nnf(f, false)
	switch nf {
	case formula.True:
		return true, formula.Model{}, nil
	case formula.False:
		return false, nil, nil
	}

	atoms := make(map[string]*formula.Atom)
	skel := encode(nf, atoms)

	for round := 0; round < s.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}

		model := bf.Solve(skel)
		if model == nil {
			return false, nil, nil
		}

		assertions := make([]lit, 0, len(atoms))
		for key, atom := range atoms {
			if model[key] {
				assertions = append(assertions, lit{key: key, positive: true, atom: atom})
			} else {
				assertions = append(assertions, lit{key: key, positive: false, atom: atom.Negate()})
			}
		}

		values, conflict := checkTheory(assertions)
		if conflict == nil {
			return true, values, nil
		}

		s.logger.Debug("blocking theory-inconsistent model",
			slog.Int("round", round),
			slog.Int("conflict_size", len(conflict)),
		)

		// Forbid the conflicting literal combination and re-solve.
		clause := make([]bf.Formula, 0, len(conflict))
		for _, l := range conflict {
			if l.positive {
				clause = append(clause, bf.Not(bf.Var(l.key)))
			} else {
				clause = append(clause, bf.Var(l.key))
			}
		}
		skel = bf.And(skel, bf.Or(clause...))
	}

	return false, nil, fmt.Errorf("%w: refinement budget exhausted", formula.ErrSolverFailure)
}

// lit is one asserted theory literal: the skeleton variable, its
// polarity in the propositional model, and the concrete constraint it
// asserts (already negated for negative polarity).
type lit struct {
	key      string
	positive bool
	atom     *formula.Atom
}

// atomKey canonicalizes an atom for skeleton encoding.
func atomKey(a *formula.Atom) string {
	return fmt.Sprintf("%s|%s|%d", a.X, a.Y, a.K)
}

// encode translates an NNF formula into a gophersat skeleton,
// registering every atom under its canonical key.
func encode(f formula.Formula, atoms map[string]*formula.Atom) bf.Formula {
	switch f := f.(type) {
	case *formula.Atom:
		key := atomKey(f)
		atoms[key] = f
		return bf.Var(key)
	case *formula.AndExpr:
		return bf.And(encode(f.L, atoms), encode(f.R, atoms))
	case *formula.OrExpr:
		return bf.Or(encode(f.L, atoms), encode(f.R, atoms))
	default:
		// True/False inside a non-trivial formula were already
		// simplified away by the constructors; NNF leaves no NotExpr.
		panic(fmt.Sprintf("unexpected formula node %T in skeleton encoding", f))
	}
}

// nnf pushes negations down to atoms. The result contains only
// conjunctions, disjunctions, atoms, and the trivial constants.
func nnf(f formula.Formula, negated bool) formula.Formula {
	switch f := f.(type) {
	case *formula.Atom:
		if negated {
			return f.Negate()
		}
		return f
	case *formula.AndExpr:
		if negated {
			return formula.Or(nnf(f.L, true), nnf(f.R, true))
		}
		return formula.And(nnf(f.L, false), nnf(f.R, false))
	case *formula.OrExpr:
		if negated {
			return formula.And(nnf(f.L, true), nnf(f.R, true))
		}
		return formula.Or(nnf(f.L, false), nnf(f.R, false))
	case *formula.NotExpr:
		return nnf(f.Sub, !negated)
	default:
		if f == formula.True {
			if negated {
				return formula.False
			}
			return formula.True
		}
		if negated {
			return formula.True
		}
		return formula.False
	}
}
