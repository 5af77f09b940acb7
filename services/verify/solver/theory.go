// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package solver

import (
	"sort"

	"github.com/faultlinehq/faultline/services/verify/formula"
)

// checkTheory decides whether a set of asserted difference constraints
// is consistent.
//
// Description:
//
//	Each constraint x - y <= k becomes an edge y -> x with weight k in
//	the constraint graph; the set is consistent iff the graph has no
//	negative cycle (Bellman-Ford). On consistency the shortest-path
//	distances, shifted so the implicit zero variable maps to 0, form a
//	satisfying integer assignment. On inconsistency the literals along
//	one negative cycle are returned as the conflict explanation.
//
// Outputs:
//
//	formula.Model - Satisfying assignment, nil when inconsistent.
//	[]lit - Conflict literals, nil when consistent.
func checkTheory(assertions []lit) (formula.Model, []lit) {
	type diffEdge struct {
		from, to int
		weight   int
		source   lit
	}

	index := make(map[string]int)
	var names []string
	intern := func(name string) int {
		if i, ok := index[name]; ok {
			return i
		}
		i := len(names)
		index[name] = i
		names = append(names, name)
		return i
	}
	intern("") // the zero origin always exists

	edges := make([]diffEdge, 0, len(assertions))
	for _, l := range assertions {
		edges = append(edges, diffEdge{
			from:   intern(l.atom.Y),
			to:     intern(l.atom.X),
			weight: l.atom.K,
			source: l,
		})
	}

	// Deterministic edge order keeps conflicts and models stable.
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}
		if edges[i].to != edges[j].to {
			return edges[i].to < edges[j].to
		}
		return edges[i].weight < edges[j].weight
	})

	n := len(names)
	dist := make([]int, n)
	pred := make([]int, n) // index into edges, -1 = none
	for i := range pred {
		pred[i] = -1
	}

	// Implicit super-source at distance 0 to every node, so
	// disconnected components still get values.
	var relaxedNode int
	for pass := 0; pass <= n; pass++ {
		relaxedNode = -1
		for ei, e := range edges {
			if dist[e.from]+e.weight < dist[e.to] {
				dist[e.to] = dist[e.from] + e.weight
				pred[e.to] = ei
				relaxedNode = e.to
			}
		}
		if relaxedNode < 0 {
			break
		}
	}

	if relaxedNode >= 0 {
		// A relaxation on the final pass means a negative cycle.
		// Walk predecessors n times to guarantee landing inside it,
		// then collect the cycle's literals.
		node := relaxedNode
		for i := 0; i < n; i++ {
			node = edges[pred[node]].from
		}
		var conflict []lit
		start := node
		for {
			e := edges[pred[node]]
			conflict = append(conflict, e.source)
			node = e.from
			if node == start {
				break
			}
		}
		return nil, conflict
	}

	shift := dist[index[""]]
	model := make(formula.Model, n-1)
	for name, i := range index {
		if name == "" {
			continue
		}
		model[name] = dist[i] - shift
	}
	return model, nil
}
