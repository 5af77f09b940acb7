// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package message defines the typed, immutable unit of communication
// between block analysis tasks and the scheduler.
//
// A Message is created by exactly one task and consumed by exactly one
// scheduler dispatch cycle. Payloads are tagged by Kind and read back
// through ok-style accessors; a Message never changes after
// construction.
package message

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/faultloc"
	"github.com/faultlinehq/faultline/services/verify/formula"
)

// Kind discriminates the message payload.
type Kind int

const (
	// KindForwardRequest asks the target block to run forward
	// reachability from a new entry formula.
	KindForwardRequest Kind = iota

	// KindForwardContinuation asks the target block to resume a
	// forward run that stopped with waiting states left over.
	KindForwardContinuation

	// KindBackwardRequest asks the target block to reconstruct and
	// check the error path for a discovered origin.
	KindBackwardRequest

	// KindTaskCompleted reports that a dispatched task finished,
	// carrying its accumulated soundness status.
	KindTaskCompleted

	// KindFoundResult reports a definitive analysis outcome.
	KindFoundResult
)

func (k Kind) String() string {
	switch k {
	case KindForwardRequest:
		return "FORWARD_REQUEST"
	case KindForwardContinuation:
		return "FORWARD_CONTINUATION"
	case KindBackwardRequest:
		return "BACKWARD_REQUEST"
	case KindTaskCompleted:
		return "TASK_COMPLETED"
	case KindFoundResult:
		return "FOUND_RESULT"
	default:
		return fmt.Sprintf("KIND(%d)", int(k))
	}
}

// Verdict is the outcome of an analysis run.
type Verdict int

const (
	// VerdictUnknown means the analysis could not decide, because it
	// was interrupted, hit a budget, or lost soundness.
	VerdictUnknown Verdict = iota

	// VerdictTrue means no error state is reachable.
	VerdictTrue

	// VerdictFalse means an error state is reachable.
	VerdictFalse
)

func (v Verdict) String() string {
	switch v {
	case VerdictTrue:
		return "TRUE"
	case VerdictFalse:
		return "FALSE"
	case VerdictUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("VERDICT(%d)", int(v))
	}
}

// Status is the soundness bookkeeping a completed task reports back.
type Status struct {
	// Sound is false when the task over- or under-approximated, e.g.
	// by hitting its step budget before reaching quiescence.
	Sound bool

	// Interrupted is true when the task stopped early on shutdown.
	Interrupted bool
}

// Merge combines two task statuses pessimistically.
func (s Status) Merge(other Status) Status {
	return Status{
		Sound:       s.Sound && other.Sound,
		Interrupted: s.Interrupted || other.Interrupted,
	}
}

// ErrorOrigin is a discovered target state: where the error was found
// and the path formula under which it was reached. Created by a
// forward task, consumed by exactly one backward task.
type ErrorOrigin struct {
	// Block is the block containing the error location.
	Block cfa.BlockID

	// Location is the error node.
	Location cfa.NodeID

	// State is the path formula at the error location at the moment
	// of discovery.
	State formula.PathFormula

	// Entry is the path formula the discovering run carried into the
	// block: the accumulated constraints of every block on the way to
	// the error. State extends Entry with the block's own conjuncts.
	Entry formula.PathFormula
}

// Message is an immutable envelope routed through the scheduler.
type Message struct {
	id      uuid.UUID
	kind    Kind
	target  cfa.BlockID
	version uint64

	shared  formula.Shareable
	origin  *ErrorOrigin
	status  Status
	verdict Verdict
	fault   *faultloc.Fault
}

// NewForwardRequest creates a forward-analysis request carrying the
// entry formula for the target block. The version is the generation
// the sender expects the target block to be at; the scheduler drops
// the message if the block has moved on.
func NewForwardRequest(target cfa.BlockID, version uint64, shared formula.Shareable) *Message {
	return &Message{
		id:      uuid.New(),
		kind:    KindForwardRequest,
		target:  target,
		version: version,
		shared:  shared,
	}
}

// NewForwardContinuation creates a request to resume the target
// block's interrupted forward run.
func NewForwardContinuation(target cfa.BlockID, version uint64) *Message {
	return &Message{
		id:      uuid.New(),
		kind:    KindForwardContinuation,
		target:  target,
		version: version,
	}
}

// NewBackwardRequest creates a backward-analysis request for a
// discovered error origin.
func NewBackwardRequest(origin *ErrorOrigin) *Message {
	return &Message{
		id:     uuid.New(),
		kind:   KindBackwardRequest,
		target: origin.Block,
		origin: origin,
	}
}

// NewTaskCompleted reports a finished task and its soundness status.
func NewTaskCompleted(block cfa.BlockID, status Status) *Message {
	return &Message{
		id:     uuid.New(),
		kind:   KindTaskCompleted,
		target: block,
		status: status,
	}
}

// NewFoundResult reports a definitive verdict. The fault is non-nil
// only for VerdictFalse when localization succeeded.
func NewFoundResult(verdict Verdict, fault *faultloc.Fault) *Message {
	return &Message{
		id:      uuid.New(),
		kind:    KindFoundResult,
		verdict: verdict,
		fault:   fault,
	}
}

// ID returns the unique message id.
func (m *Message) ID() uuid.UUID { return m.id }

// Kind returns the payload discriminator.
func (m *Message) Kind() Kind { return m.kind }

// Target returns the receiving block. Empty for FOUND_RESULT.
func (m *Message) Target() cfa.BlockID { return m.target }

// Version returns the sender's expected block generation. Only
// meaningful for forward requests and continuations.
func (m *Message) Version() uint64 { return m.version }

// Formula returns the carried entry formula for a FORWARD_REQUEST.
func (m *Message) Formula() (formula.Shareable, bool) {
	return m.shared, m.kind == KindForwardRequest
}

// Origin returns the error origin for a BACKWARD_REQUEST.
func (m *Message) Origin() (*ErrorOrigin, bool) {
	return m.origin, m.kind == KindBackwardRequest
}

// Status returns the soundness status for a TASK_COMPLETED.
func (m *Message) Status() (Status, bool) {
	return m.status, m.kind == KindTaskCompleted
}

// Result returns the verdict and optional fault for a FOUND_RESULT.
func (m *Message) Result() (Verdict, *faultloc.Fault, bool) {
	return m.verdict, m.fault, m.kind == KindFoundResult
}

func (m *Message) String() string {
	switch m.kind {
	case KindFoundResult:
		return fmt.Sprintf("%s(%s)", m.kind, m.verdict)
	case KindForwardRequest, KindForwardContinuation:
		return fmt.Sprintf("%s(%s@v%d)", m.kind, m.target, m.version)
	default:
		return fmt.Sprintf("%s(%s)", m.kind, m.target)
	}
}
