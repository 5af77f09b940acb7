// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package formula

import (
	"fmt"

	"github.com/faultlinehq/faultline/services/verify/cfa"
)

// PathFormula is a boolean formula paired with the SSA frontier it was
// built against. Both parts are immutable values.
type PathFormula struct {
	Formula Formula
	SSA     SSAMap
}

// IsTrue reports whether the path formula is trivially true.
func (pf PathFormula) IsTrue() bool { return pf.Formula == True }

// Manager is the path-formula algebra: it turns CFA edge operations
// into SSA-instantiated difference constraints and combines path
// formulas.
//
// Manager is stateless and safe for concurrent use; the only reason it
// is a type at all is that shareable formulas are tagged with the
// manager that created them so a formula is never mixed into a
// different manager's algebra.
type Manager struct{}

// NewManager returns a new Manager.
func NewManager() *Manager {
	return &Manager{}
}

// MakeEmpty returns the trivially-true path formula with a fresh SSA
// frontier.
func (m *Manager) MakeEmpty() PathFormula {
	return PathFormula{Formula: True, SSA: NewSSAMap()}
}

// MakeAnd extends a path formula with one CFA edge.
//
// Description:
//
//	No-op edges and tautological assumptions return pf unchanged (the
//	identical Formula value), which callers use to detect that the
//	edge contributed no conjunct. Otherwise the result is the binary
//	conjunction And(pf.Formula, contributed) with the SSA frontier
//	advanced for assignments.
//
// Outputs:
//
//	PathFormula - The extended formula.
//	error - Non-nil when the edge operation cannot be expressed as
//	difference constraints (feasibility-gate condition for callers).
func (m *Manager) MakeAnd(pf PathFormula, edge *cfa.Edge) (PathFormula, error) {
	if edge == nil {
		return pf, fmt.Errorf("%w: nil edge", ErrUnsupportedFormula)
	}

	switch edge.Op.Kind {
	case cfa.OpNop:
		return pf, nil

	case cfa.OpAssume:
		frag := m.Instantiate(edge.Op.Cond, pf.SSA)
		if frag == True {
			return pf, nil
		}
		return PathFormula{Formula: And(pf.Formula, frag), SSA: pf.SSA}, nil

	case cfa.OpAssign:
		ssa, fresh := pf.SSA.Freshen(edge.Op.Lhs)
		rhs := ""
		if edge.Op.Rhs.Var != "" {
			// The right-hand side reads the pre-assignment instance.
			rhs = pf.SSA.Name(edge.Op.Rhs.Var)
		}
		k := edge.Op.Rhs.Const
		frag := And(LE(fresh, rhs, k), LE(rhs, fresh, -k))
		if frag == True {
			return PathFormula{Formula: pf.Formula, SSA: ssa}, nil
		}
		return PathFormula{Formula: And(pf.Formula, frag), SSA: ssa}, nil

	default:
		return pf, fmt.Errorf("%w: operation kind %d", ErrUnsupportedFormula, edge.Op.Kind)
	}
}

// MakeOr disjoins two path formulas, merging SSA frontiers by
// per-variable maximum. Exit merges in this core happen at a single
// location whose incoming states share one frontier, so no
// reconciliation constraints are needed.
func (m *Manager) MakeOr(a, b PathFormula) PathFormula {
	return PathFormula{
		Formula: Or(a.Formula, b.Formula),
		SSA:     a.SSA.MergeMax(b.SSA),
	}
}

// Instantiate lowers a comparison to difference constraints against
// the given SSA frontier.
//
// With lhs = (x + cx) and rhs = (y + cy), the lowering is:
//
//	lhs <= rhs  ->  x - y <= cy - cx
//	lhs <  rhs  ->  x - y <= cy - cx - 1
//	lhs == rhs  ->  both inequalities
//	lhs != rhs  ->  either strict inequality
//
// Constant-only sides use the implicit zero variable.
func (m *Manager) Instantiate(c cfa.Comparison, ssa SSAMap) Formula {
	x := ""
	if c.Lhs.Var != "" {
		x = ssa.Name(c.Lhs.Var)
	}
	y := ""
	if c.Rhs.Var != "" {
		y = ssa.Name(c.Rhs.Var)
	}
	cx, cy := c.Lhs.Const, c.Rhs.Const

	le := func() Formula { return LE(x, y, cy-cx) }
	lt := func() Formula { return LE(x, y, cy-cx-1) }
	ge := func() Formula { return LE(y, x, cx-cy) }
	gt := func() Formula { return LE(y, x, cx-cy-1) }

	switch c.Op {
	case cfa.CmpLE:
		return le()
	case cfa.CmpLT:
		return lt()
	case cfa.CmpGE:
		return ge()
	case cfa.CmpGT:
		return gt()
	case cfa.CmpEQ:
		return And(le(), ge())
	case cfa.CmpNE:
		return Or(lt(), gt())
	default:
		return True
	}
}

// Shareable is an immutable formula value tagged with the manager that
// created it, safe to pass between tasks. The tag prevents a formula
// built by one manager from being combined under a different one.
type Shareable struct {
	mgr *Manager
	pf  PathFormula
}

// NewShareable wraps a path formula for inter-task transfer.
func NewShareable(mgr *Manager, pf PathFormula) Shareable {
	return Shareable{mgr: mgr, pf: pf}
}

// PathFormula returns the wrapped path formula.
func (s Shareable) PathFormula() PathFormula { return s.pf }

// Manager returns the creating manager.
func (s Shareable) Manager() *Manager { return s.mgr }
