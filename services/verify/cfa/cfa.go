// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cfa models the control-flow automaton consumed by the
// verification core, together with its partition into single-entry
// blocks.
//
// The CFA front end proper (parsing a real programming language) is an
// external collaborator. This package defines the graph contract that
// collaborator must satisfy, a small YAML program format used by the
// CLI and HTTP service, and the block decomposition that turns the
// graph into units of concurrent analysis.
package cfa

import (
	"fmt"
	"sort"
)

// NodeID identifies a CFA node. IDs are dense and assigned in
// declaration order by the program loader.
type NodeID int

// Node is a single program location.
type Node struct {
	// ID is the node identifier, unique within one Graph.
	ID NodeID

	// Label is the human-readable location name, e.g. "L4" or "err".
	Label string
}

// OpKind discriminates edge operations.
type OpKind int

const (
	// OpNop is a no-op edge (skip statements, structural edges).
	OpNop OpKind = iota

	// OpAssume constrains the path with a comparison.
	OpAssume

	// OpAssign writes a term to a variable.
	OpAssign
)

// Term is a linear term of the shape `var + const`, `var`, or a bare
// constant (empty Var). Richer terms are rejected by the parser; the
// solver backend only supports integer difference constraints.
type Term struct {
	Var   string
	Const int
}

// String renders the term in source form.
func (t Term) String() string {
	switch {
	case t.Var == "":
		return fmt.Sprintf("%d", t.Const)
	case t.Const == 0:
		return t.Var
	case t.Const < 0:
		return fmt.Sprintf("%s - %d", t.Var, -t.Const)
	default:
		return fmt.Sprintf("%s + %d", t.Var, t.Const)
	}
}

// CmpOp is a comparison operator.
type CmpOp int

const (
	CmpLT CmpOp = iota
	CmpLE
	CmpGT
	CmpGE
	CmpEQ
	CmpNE
)

// String returns the source spelling of the operator.
func (op CmpOp) String() string {
	switch op {
	case CmpLT:
		return "<"
	case CmpLE:
		return "<="
	case CmpGT:
		return ">"
	case CmpGE:
		return ">="
	case CmpEQ:
		return "=="
	case CmpNE:
		return "!="
	default:
		return "?"
	}
}

// Comparison is a binary comparison between two linear terms.
type Comparison struct {
	Lhs Term
	Op  CmpOp
	Rhs Term
}

// String renders the comparison in source form.
func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Lhs, c.Op, c.Rhs)
}

// Operation is the semantic payload of one edge.
type Operation struct {
	Kind OpKind

	// Cond is the assumed comparison when Kind is OpAssume.
	Cond Comparison

	// Lhs and Rhs describe the assignment when Kind is OpAssign.
	Lhs string
	Rhs Term
}

// String renders the operation in source form.
func (o Operation) String() string {
	switch o.Kind {
	case OpAssume:
		return "assume " + o.Cond.String()
	case OpAssign:
		return fmt.Sprintf("%s = %s", o.Lhs, o.Rhs)
	default:
		return "skip"
	}
}

// Edge is a directed CFA edge carrying one operation.
type Edge struct {
	From NodeID
	To   NodeID
	Op   Operation

	// Text is the original statement text from the program source,
	// used in fault reports.
	Text string
}

// String renders the edge for logs and fault reports.
func (e *Edge) String() string {
	return fmt.Sprintf("%d->%d: %s", e.From, e.To, e.Op)
}

// Graph is an immutable control-flow automaton.
//
// A Graph is built once by NewGraph and never mutated afterwards, so it
// is safe for concurrent use by any number of analysis tasks.
type Graph struct {
	nodes map[NodeID]*Node
	order []NodeID
	entry NodeID
	succ  map[NodeID][]*Edge
	pred  map[NodeID][]*Edge
}

// NewGraph builds a Graph from nodes and edges.
//
// Inputs:
//
//	entry - The program entry node. Must be among nodes.
//	nodes - All program locations. IDs must be unique.
//	edges - All control edges. Endpoints must be among nodes.
//
// Outputs:
//
//	*Graph - The immutable graph.
//	error - Non-nil when the inputs violate the contract above.
func NewGraph(entry NodeID, nodes []*Node, edges []*Edge) (*Graph, error) {
	g := &Graph{
		nodes: make(map[NodeID]*Node, len(nodes)),
		order: make([]NodeID, 0, len(nodes)),
		entry: entry,
		succ:  make(map[NodeID][]*Edge),
		pred:  make(map[NodeID][]*Edge),
	}

	for _, n := range nodes {
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node %d", ErrMalformedGraph, n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i] < g.order[j] })

	if _, ok := g.nodes[entry]; !ok {
		return nil, fmt.Errorf("%w: entry node %d not declared", ErrMalformedGraph, entry)
	}

	for _, e := range edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("%w: edge source %d not declared", ErrMalformedGraph, e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, fmt.Errorf("%w: edge target %d not declared", ErrMalformedGraph, e.To)
		}
		g.succ[e.From] = append(g.succ[e.From], e)
		g.pred[e.To] = append(g.pred[e.To], e)
	}

	return g, nil
}

// Entry returns the program entry node.
func (g *Graph) Entry() NodeID { return g.entry }

// Node returns the node with the given ID, or nil.
func (g *Graph) Node(id NodeID) *Node { return g.nodes[id] }

// Nodes returns all node IDs in ascending order.
func (g *Graph) Nodes() []NodeID { return g.order }

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Leaving returns the edges leaving the given node.
func (g *Graph) Leaving(id NodeID) []*Edge { return g.succ[id] }

// Entering returns the edges entering the given node.
func (g *Graph) Entering(id NodeID) []*Edge { return g.pred[id] }

// ErrorSpec is the target-location predicate: it decides which program
// locations are error (target) states.
type ErrorSpec struct {
	labels map[string]struct{}
}

// NewErrorSpec builds an ErrorSpec matching the given node labels.
func NewErrorSpec(labels ...string) *ErrorSpec {
	s := &ErrorSpec{labels: make(map[string]struct{}, len(labels))}
	for _, l := range labels {
		s.labels[l] = struct{}{}
	}
	return s
}

// IsTarget reports whether the node is an error location.
func (s *ErrorSpec) IsTarget(n *Node) bool {
	if n == nil {
		return false
	}
	_, ok := s.labels[n.Label]
	return ok
}
