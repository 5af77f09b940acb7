// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cfa

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ParseStatement parses one edge statement into an Operation.
//
// Accepted forms:
//
//	""                - no-op
//	"skip"            - no-op
//	"assume a > b"    - assumption
//	"a > b + 1"       - bare comparison, treated as assumption
//	"x = y + 1"       - assignment (linear term right-hand side)
//	"x = 5"           - constant assignment
//
// Terms are limited to `var`, `const`, and `var ± const`. Anything
// richer is rejected so every operation stays expressible as integer
// difference constraints.
func ParseStatement(s string) (Operation, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "skip" || s == "nop" {
		return Operation{Kind: OpNop}, nil
	}

	if rest, ok := strings.CutPrefix(s, "assume "); ok {
		cond, err := ParseComparison(rest)
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: OpAssume, Cond: cond}, nil
	}

	if _, ok := findCmpOp(s); ok {
		cond, err := ParseComparison(s)
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: OpAssume, Cond: cond}, nil
	}

	// Assignment: a single "=" not part of a comparison operator.
	if i := strings.Index(s, "="); i >= 0 {
		lhs := strings.TrimSpace(s[:i])
		rhs := strings.TrimSpace(s[i+1:])
		if !isIdent(lhs) {
			return Operation{}, fmt.Errorf("%w: assignment target %q is not an identifier", ErrParse, lhs)
		}
		term, err := ParseTerm(rhs)
		if err != nil {
			return Operation{}, err
		}
		return Operation{Kind: OpAssign, Lhs: lhs, Rhs: term}, nil
	}

	return Operation{}, fmt.Errorf("%w: cannot parse %q", ErrParse, s)
}

// ParseComparison parses `term op term` where op is one of
// <, <=, >, >=, ==, !=.
func ParseComparison(s string) (Comparison, error) {
	s = strings.TrimSpace(s)
	opText, ok := findCmpOp(s)
	if !ok {
		return Comparison{}, fmt.Errorf("%w: no comparison operator in %q", ErrParse, s)
	}

	i := strings.Index(s, opText)
	lhs, err := ParseTerm(s[:i])
	if err != nil {
		return Comparison{}, err
	}
	rhs, err := ParseTerm(s[i+len(opText):])
	if err != nil {
		return Comparison{}, err
	}

	var op CmpOp
	switch opText {
	case "<=":
		op = CmpLE
	case ">=":
		op = CmpGE
	case "==":
		op = CmpEQ
	case "!=":
		op = CmpNE
	case "<":
		op = CmpLT
	case ">":
		op = CmpGT
	}

	return Comparison{Lhs: lhs, Op: op, Rhs: rhs}, nil
}

// ParseTerm parses `var`, `const`, or `var ± const`.
func ParseTerm(s string) (Term, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Term{}, fmt.Errorf("%w: empty term", ErrParse)
	}

	// Bare constant, possibly negative.
	if c, err := strconv.Atoi(s); err == nil {
		return Term{Const: c}, nil
	}

	// var [± const]; scan past the identifier, then an optional offset.
	j := 0
	for j < len(s) && (isIdentRune(rune(s[j]), j == 0)) {
		j++
	}
	name := s[:j]
	if !isIdent(name) {
		return Term{}, fmt.Errorf("%w: bad term %q", ErrParse, s)
	}

	rest := strings.TrimSpace(s[j:])
	if rest == "" {
		return Term{Var: name}, nil
	}

	sign := 0
	switch rest[0] {
	case '+':
		sign = 1
	case '-':
		sign = -1
	default:
		return Term{}, fmt.Errorf("%w: bad term %q", ErrParse, s)
	}

	c, err := strconv.Atoi(strings.TrimSpace(rest[1:]))
	if err != nil {
		return Term{}, fmt.Errorf("%w: bad offset in term %q", ErrParse, s)
	}
	return Term{Var: name, Const: sign * c}, nil
}

// findCmpOp returns the first comparison operator in s, longest match
// first so "<=" is never mistaken for "<".
func findCmpOp(s string) (string, bool) {
	for _, op := range []string{"<=", ">=", "==", "!=", "<", ">"} {
		if strings.Contains(s, op) {
			return op, true
		}
	}
	return "", false
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if !isIdentRune(r, i == 0) {
			return false
		}
	}
	return true
}

func isIdentRune(r rune, first bool) bool {
	if unicode.IsLetter(r) || r == '_' {
		return true
	}
	return !first && unicode.IsDigit(r)
}
