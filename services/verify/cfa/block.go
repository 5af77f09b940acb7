// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cfa

import (
	"fmt"
	"sort"
)

// BlockID identifies one block of the decomposition. The ID is derived
// from the block's entry node and stable across runs.
type BlockID string

// Block is one unit of concurrent analysis: a contiguous CFA region
// with a single entry node.
//
// A Block is created once during decomposition and never mutated. It
// is referenced, not owned, by the analysis tasks, so it carries no
// analysis state: reached sets, version counters, and scheduling
// status all live with the scheduler.
//
// Exit contract: for every control edge leaving the region (including
// back edges onto the block's own entry) the exit map records an
// (exit node -> successor block) association. Inner edges are the
// remaining edges between block nodes.
type Block struct {
	id    BlockID
	entry NodeID
	nodes map[NodeID]struct{}
	order []NodeID

	inner map[NodeID][]*Edge
	exits map[NodeID][]BlockID

	exitEdges []*Edge
}

// ID returns the block identifier.
func (b *Block) ID() BlockID { return b.id }

// Entry returns the block's single entry node.
func (b *Block) Entry() NodeID { return b.entry }

// Contains reports whether the node belongs to this block.
func (b *Block) Contains(id NodeID) bool {
	_, ok := b.nodes[id]
	return ok
}

// Nodes returns the block's nodes in ascending order.
func (b *Block) Nodes() []NodeID { return b.order }

// InnerLeaving returns the intra-block edges leaving the given node.
// An edge counts as intra-block only when both endpoints are in the
// block and the target is not the block entry; re-entry edges are
// exits so loops are driven through the scheduler, not inside a task.
func (b *Block) InnerLeaving(id NodeID) []*Edge { return b.inner[id] }

// Exits returns the exit map: exit node to successor block IDs.
// The map is shared; callers must not mutate it.
func (b *Block) Exits() map[NodeID][]BlockID { return b.exits }

// IsExit reports whether the node has at least one edge leaving the
// block region.
func (b *Block) IsExit(id NodeID) bool {
	_, ok := b.exits[id]
	return ok
}

// ExitEdges returns all edges leaving the block region.
func (b *Block) ExitEdges() []*Edge { return b.exitEdges }

// String renders the block for logs.
func (b *Block) String() string {
	return fmt.Sprintf("%s(entry=%d, nodes=%d, exits=%d)", b.id, b.entry, len(b.nodes), len(b.exits))
}

// Decomposition is the partition of a Graph into blocks.
type Decomposition struct {
	graph  *Graph
	blocks map[BlockID]*Block
	order  []BlockID
	byNode map[NodeID]BlockID
	entry  BlockID
}

// Decompose partitions the graph into single-entry blocks.
//
// Description:
//
//	A node heads a block when it is the graph entry, has two or more
//	entering edges (merge point), or follows a branching node. Each
//	block is its head plus the maximal single-predecessor chain below
//	it. Nodes unreachable from any head chain become degenerate
//	single-node blocks, so the partition always covers every node
//	exactly once.
//
// Outputs:
//
//	*Decomposition - Blocks, adjacency, and the entry block.
//	error - Non-nil only for a nil graph.
func Decompose(g *Graph) (*Decomposition, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: nil graph", ErrMalformedGraph)
	}

	heads := make(map[NodeID]bool)
	heads[g.Entry()] = true
	for _, id := range g.Nodes() {
		if len(g.Entering(id)) >= 2 {
			heads[id] = true
		}
		if len(g.Leaving(id)) >= 2 {
			for _, e := range g.Leaving(id) {
				heads[e.To] = true
			}
		}
	}

	d := &Decomposition{
		graph:  g,
		blocks: make(map[BlockID]*Block),
		byNode: make(map[NodeID]BlockID),
	}

	assign := func(head NodeID) {
		id := BlockID(fmt.Sprintf("B%d", head))
		b := &Block{
			id:    id,
			entry: head,
			nodes: make(map[NodeID]struct{}),
			inner: make(map[NodeID][]*Edge),
			exits: make(map[NodeID][]BlockID),
		}
		cur := head
		for {
			b.nodes[cur] = struct{}{}
			d.byNode[cur] = id
			leaving := g.Leaving(cur)
			if len(leaving) != 1 {
				break
			}
			next := leaving[0].To
			if heads[next] {
				break
			}
			if _, taken := d.byNode[next]; taken {
				break
			}
			cur = next
		}
		b.order = sortedNodes(b.nodes)
		d.blocks[id] = b
		d.order = append(d.order, id)
	}

	// Heads in ascending node order keeps block IDs deterministic.
	headOrder := make([]NodeID, 0, len(heads))
	for h := range heads {
		headOrder = append(headOrder, h)
	}
	sort.Slice(headOrder, func(i, j int) bool { return headOrder[i] < headOrder[j] })
	for _, h := range headOrder {
		assign(h)
	}

	// Leftover nodes (unreachable, no merge structure) become
	// degenerate single-node blocks.
	for _, id := range g.Nodes() {
		if _, ok := d.byNode[id]; !ok {
			assign(id)
		}
	}

	// Classify every edge as inner or exit now that assignment is total.
	for _, id := range g.Nodes() {
		for _, e := range g.Leaving(id) {
			from := d.blocks[d.byNode[e.From]]
			toBlock := d.byNode[e.To]
			if toBlock == from.id && e.To != from.entry {
				from.inner[e.From] = append(from.inner[e.From], e)
				continue
			}
			from.exitEdges = append(from.exitEdges, e)
			if !containsBlock(from.exits[e.From], toBlock) {
				from.exits[e.From] = append(from.exits[e.From], toBlock)
			}
		}
	}

	d.entry = d.byNode[g.Entry()]
	return d, nil
}

// Graph returns the underlying graph.
func (d *Decomposition) Graph() *Graph { return d.graph }

// Block returns the block with the given ID, or nil.
func (d *Decomposition) Block(id BlockID) *Block { return d.blocks[id] }

// Blocks returns all blocks in deterministic order.
func (d *Decomposition) Blocks() []*Block {
	out := make([]*Block, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.blocks[id])
	}
	return out
}

// BlockOf returns the block containing the node.
func (d *Decomposition) BlockOf(id NodeID) *Block {
	return d.blocks[d.byNode[id]]
}

// EntryBlock returns the block containing the graph entry.
func (d *Decomposition) EntryBlock() *Block { return d.blocks[d.entry] }

// NumBlocks returns the block count.
func (d *Decomposition) NumBlocks() int { return len(d.blocks) }

func sortedNodes(set map[NodeID]struct{}) []NodeID {
	out := make([]NodeID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func containsBlock(ids []BlockID, id BlockID) bool {
	for _, b := range ids {
		if b == id {
			return true
		}
	}
	return false
}
