// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"fmt"
	"sync/atomic"

	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/formula"
	"github.com/faultlinehq/faultline/services/verify/message"
	"github.com/faultlinehq/faultline/services/verify/worker"
)

// BlockState is the scheduling state of one block.
type BlockState int

const (
	// StateIdle means no request has arrived for the block yet.
	StateIdle BlockState = iota

	// StateScheduled means a task for the block sits on the queue.
	StateScheduled

	// StateRunning means a worker is executing the block's task.
	StateRunning

	// StateCompleted means the last run finished without leftovers.
	StateCompleted

	// StateContinuationPending means the last run stopped early and
	// asked to be resumed.
	StateContinuationPending
)

func (s BlockState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateScheduled:
		return "SCHEDULED"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateContinuationPending:
		return "CONTINUATION_PENDING"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// blockCtl is the dispatcher's bookkeeping for one block. All fields
// except version are owned by the dispatch loop; the version counter
// is atomic because running tasks read it when stamping outgoing
// requests.
type blockCtl struct {
	block   *cfa.Block
	state   BlockState
	version atomic.Uint64

	forward  *worker.ForwardAnalysis
	backward *worker.BackwardAnalysis

	// Work accumulated while the block was busy, consumed on the next
	// scheduling of the block.
	seeds        []formula.Shareable
	origins      []*message.ErrorOrigin
	continuation bool
}

// hasWork reports whether the block has anything to run.
func (c *blockCtl) hasWork() bool {
	return len(c.seeds) > 0 || len(c.origins) > 0 || c.continuation
}

// schedulable reports whether the block may move to SCHEDULED.
func (c *blockCtl) schedulable() bool {
	switch c.state {
	case StateIdle, StateCompleted, StateContinuationPending:
		return true
	default:
		return false
	}
}

// take removes and returns the block's accumulated work.
func (c *blockCtl) take() ([]formula.Shareable, []*message.ErrorOrigin, bool) {
	seeds, origins, cont := c.seeds, c.origins, c.continuation
	c.seeds, c.origins, c.continuation = nil, nil, false
	return seeds, origins, cont
}
