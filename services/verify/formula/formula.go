// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package formula provides the boolean formula algebra used by the
// verification core: path formulas over SSA-indexed program variables,
// lowered to integer difference constraints.
//
// The algebra is deliberately binary: And(a, b) builds a two-child
// conjunction node without flattening. Trace-formula construction
// relies on that shape to split an extended path formula back into
// the previously accumulated part and the newly contributed conjunct.
//
// All formula values are immutable and safe to share between tasks.
package formula

import (
	"fmt"
	"strings"
)

// Formula is an immutable boolean formula. The implementations are
// *Atom, *AndExpr, *OrExpr, *NotExpr, and the True/False constants.
type Formula interface {
	fmt.Stringer
	isFormula()
}

type trueExpr struct{}
type falseExpr struct{}

func (*trueExpr) isFormula()  {}
func (*falseExpr) isFormula() {}

func (*trueExpr) String() string  { return "true" }
func (*falseExpr) String() string { return "false" }

// True and False are the trivial formulas. They are singletons:
// comparing against them with == is valid.
var (
	True  Formula = &trueExpr{}
	False Formula = &falseExpr{}
)

// Atom is the difference constraint `X - Y <= K` over integer
// variables. An empty variable name denotes the constant zero, so
// `x <= 5` is Atom{X: "x", K: 5} and `x >= 5` is Atom{Y: "x", K: -5}.
type Atom struct {
	X, Y string
	K    int
}

func (*Atom) isFormula() {}

// String renders the constraint.
func (a *Atom) String() string {
	x, y := a.X, a.Y
	if x == "" {
		x = "0"
	}
	if y == "" {
		y = "0"
	}
	return fmt.Sprintf("%s - %s <= %d", x, y, a.K)
}

// Negate returns the complementary constraint. Over integers,
// not(X - Y <= K) is Y - X <= -K-1, so atom negation stays inside
// difference logic.
func (a *Atom) Negate() *Atom {
	return &Atom{X: a.Y, Y: a.X, K: -a.K - 1}
}

// AndExpr is a binary conjunction.
type AndExpr struct {
	L, R Formula
}

func (*AndExpr) isFormula() {}

func (f *AndExpr) String() string {
	return "(" + f.L.String() + " & " + f.R.String() + ")"
}

// OrExpr is a binary disjunction.
type OrExpr struct {
	L, R Formula
}

func (*OrExpr) isFormula() {}

func (f *OrExpr) String() string {
	return "(" + f.L.String() + " | " + f.R.String() + ")"
}

// NotExpr is a negation of a non-atomic subformula. Negated atoms are
// rewritten by LE/Not into plain atoms instead.
type NotExpr struct {
	Sub Formula
}

func (*NotExpr) isFormula() {}

func (f *NotExpr) String() string {
	return "!" + f.Sub.String()
}

// LE builds the constraint `x - y <= k`, simplifying the degenerate
// x == y case to True or False.
func LE(x, y string, k int) Formula {
	if x == y {
		if k >= 0 {
			return True
		}
		return False
	}
	return &Atom{X: x, Y: y, K: k}
}

// And conjoins two formulas. True operands vanish so that conjoining
// a no-op fragment returns the other operand unchanged (same value),
// which is how callers detect that an edge contributed nothing.
func And(l, r Formula) Formula {
	if l == True {
		return r
	}
	if r == True {
		return l
	}
	if l == False || r == False {
		return False
	}
	return &AndExpr{L: l, R: r}
}

// Or disjoins two formulas with the dual simplifications.
func Or(l, r Formula) Formula {
	if l == False {
		return r
	}
	if r == False {
		return l
	}
	if l == True || r == True {
		return True
	}
	return &OrExpr{L: l, R: r}
}

// Not negates a formula, pushing negation through atoms immediately.
func Not(f Formula) Formula {
	switch f := f.(type) {
	case *trueExpr:
		return False
	case *falseExpr:
		return True
	case *Atom:
		return f.Negate()
	case *NotExpr:
		return f.Sub
	default:
		return &NotExpr{Sub: f}
	}
}

// Conjuncts flattens a conjunction tree into its top-level conjunct
// list. For non-conjunctions it returns the formula itself; for True
// it returns nil.
func Conjuncts(f Formula) []Formula {
	if f == True {
		return nil
	}
	and, ok := f.(*AndExpr)
	if !ok {
		return []Formula{f}
	}
	return append(Conjuncts(and.L), Conjuncts(and.R)...)
}

// ConjoinAll folds a conjunct list back into a formula.
func ConjoinAll(fs []Formula) Formula {
	out := True
	for _, f := range fs {
		out = And(out, f)
	}
	return out
}

// Vars collects the variable names occurring in the formula, excluding
// the implicit zero variable.
func Vars(f Formula) map[string]struct{} {
	out := make(map[string]struct{})
	collectVars(f, out)
	return out
}

func collectVars(f Formula, out map[string]struct{}) {
	switch f := f.(type) {
	case *Atom:
		if f.X != "" {
			out[f.X] = struct{}{}
		}
		if f.Y != "" {
			out[f.Y] = struct{}{}
		}
	case *AndExpr:
		collectVars(f.L, out)
		collectVars(f.R, out)
	case *OrExpr:
		collectVars(f.L, out)
		collectVars(f.R, out)
	case *NotExpr:
		collectVars(f.Sub, out)
	}
}

// Render returns a compact single-line rendering of a conjunct list,
// used in logs and fault reports.
func Render(fs []Formula) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = f.String()
	}
	return strings.Join(parts, " & ")
}
