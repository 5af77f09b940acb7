// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package message

import (
	"testing"

	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/formula"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindForwardRequest:      "FORWARD_REQUEST",
		KindForwardContinuation: "FORWARD_CONTINUATION",
		KindBackwardRequest:     "BACKWARD_REQUEST",
		KindTaskCompleted:       "TASK_COMPLETED",
		KindFoundResult:         "FOUND_RESULT",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(k), got, want)
		}
	}
}

func TestPayloadAccessorsGuardKind(t *testing.T) {
	mgr := formula.NewManager()
	shared := formula.NewShareable(mgr, mgr.MakeEmpty())

	fwd := NewForwardRequest("B1", 3, shared)
	if _, ok := fwd.Formula(); !ok {
		t.Error("forward request exposes no formula")
	}
	if fwd.Version() != 3 || fwd.Target() != cfa.BlockID("B1") {
		t.Errorf("forward request routing = (%s, v%d)", fwd.Target(), fwd.Version())
	}
	if _, ok := fwd.Origin(); ok {
		t.Error("forward request exposes an origin")
	}

	origin := &ErrorOrigin{Block: "B2", Location: 4, State: mgr.MakeEmpty()}
	back := NewBackwardRequest(origin)
	if back.Target() != cfa.BlockID("B2") {
		t.Errorf("backward request target = %s, want B2", back.Target())
	}
	if got, ok := back.Origin(); !ok || got != origin {
		t.Errorf("Origin() = %v, %v", got, ok)
	}
	if _, ok := back.Status(); ok {
		t.Error("backward request exposes a status")
	}
}

func TestStatusMerge(t *testing.T) {
	sound := Status{Sound: true}
	unsound := Status{Sound: false}
	interrupted := Status{Sound: true, Interrupted: true}

	if got := sound.Merge(unsound); got.Sound {
		t.Error("merging with an unsound status kept soundness")
	}
	if got := sound.Merge(interrupted); !got.Interrupted {
		t.Error("merging with an interrupted status lost the interruption")
	}
	if got := sound.Merge(sound); !got.Sound || got.Interrupted {
		t.Errorf("merge of two clean statuses = %+v", got)
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	a := NewTaskCompleted("B1", Status{Sound: true})
	b := NewTaskCompleted("B1", Status{Sound: true})
	if a.ID() == b.ID() {
		t.Error("two messages share an id")
	}
}

func TestFoundResultCarriesVerdict(t *testing.T) {
	m := NewFoundResult(VerdictFalse, nil)
	verdict, fault, ok := m.Result()
	if !ok || verdict != VerdictFalse || fault != nil {
		t.Errorf("Result() = %v, %v, %v", verdict, fault, ok)
	}
	if got := m.String(); got != "FOUND_RESULT(FALSE)" {
		t.Errorf("String() = %q", got)
	}
}
