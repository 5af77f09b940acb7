// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package faultloc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/faultlinehq/faultline/pkg/logging"
	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/formula"
)

// Strategy selects how hard the localizer works to find a small fault.
type Strategy int

const (
	// StrategySingleCore extracts one minimal unsatisfiable core and
	// reports it directly. Cheap, but the core found first is not
	// necessarily the smallest one.
	StrategySingleCore Strategy = iota

	// StrategyMaxSat enumerates distinct cores by successively
	// disabling core members and re-solving, then reports the
	// smallest candidate. Bounded by the candidate limit.
	StrategyMaxSat
)

func (s Strategy) String() string {
	switch s {
	case StrategySingleCore:
		return "single-core"
	case StrategyMaxSat:
		return "max-sat"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single-core", "single_core", "singlecore":
		return StrategySingleCore, nil
	case "max-sat", "max_sat", "maxsat":
		return StrategyMaxSat, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Fault is a minimal set of trace entries whose fragments, taken
// together, contradict the postcondition. Removing any one of them
// restores satisfiability.
type Fault struct {
	// Entries are the suspect entries in path order.
	Entries []Entry

	// Strengthened records whether the precondition had to be added
	// before a conflict appeared.
	Strengthened bool
}

// Size returns the number of suspect entries.
func (f *Fault) Size() int { return len(f.Entries) }

// Edges returns the path edges of the suspect entries in path order.
func (f *Fault) Edges() []*cfa.Edge {
	out := make([]*cfa.Edge, len(f.Entries))
	for i, e := range f.Entries {
		out[i] = e.Selector.Edge
	}
	return out
}

// Selectors returns the selector names of the suspect entries,
// primarily for logging and result reporting.
func (f *Fault) Selectors() []string {
	out := make([]string, len(f.Entries))
	for i, e := range f.Entries {
		out[i] = e.Selector.Name()
	}
	return out
}

func (f *Fault) String() string {
	return fmt.Sprintf("fault{%s}", strings.Join(f.Selectors(), ", "))
}

// Localizer runs the fault search over a completed trace formula.
//
// Thread Safety: a Localizer is stateless after construction and safe
// for concurrent use.
type Localizer struct {
	fctx           *formula.Context
	strategy       Strategy
	candidateLimit int
	logger         *logging.Logger
}

// LocalizerOption configures a Localizer.
type LocalizerOption func(*Localizer)

// WithStrategy selects the localization strategy.
func WithStrategy(s Strategy) LocalizerOption {
	return func(l *Localizer) { l.strategy = s }
}

// WithCandidateLimit bounds how many candidate cores the max-sat
// strategy enumerates before settling.
func WithCandidateLimit(n int) LocalizerOption {
	return func(l *Localizer) {
		if n > 0 {
			l.candidateLimit = n
		}
	}
}

// WithLocalizerLogger attaches a logger.
func WithLocalizerLogger(log *logging.Logger) LocalizerOption {
	return func(l *Localizer) { l.logger = log }
}

// NewLocalizer creates a Localizer over the given formula context.
func NewLocalizer(fctx *formula.Context, opts ...LocalizerOption) *Localizer {
	l := &Localizer{
		fctx:           fctx,
		strategy:       StrategySingleCore,
		candidateLimit: 16,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Localize finds a minimal fault for the given trace.
//
// Description:
//
//	The entry fragments are the soft constraints; the postcondition is
//	hard. If the combination is satisfiable the postcondition alone
//	does not pin the error, so the hard part is strengthened with the
//	precondition and the search repeats. A satisfiable combination
//	even then means there is no conflict to explain and Localize
//	returns ErrNoConflict.
//
// Outputs:
//
//	*Fault - The smallest fault found under the configured strategy.
//	error - ErrNoConflict, ErrUnknownStrategy, solver failure, or
//	cancellation.
func (l *Localizer) Localize(ctx context.Context, tf *TraceFormula) (*Fault, error) {
	soft := tf.Fragments()
	hard := tf.Postcondition

	core, err := l.fctx.Solver().UnsatCore(ctx, hard, soft)
	if err != nil {
		return nil, fmt.Errorf("localizing fault: %w", err)
	}
	strengthened := false
	if core == nil {
		hard = formula.And(hard, tf.Precondition)
		strengthened = true
		core, err = l.fctx.Solver().UnsatCore(ctx, hard, soft)
		if err != nil {
			return nil, fmt.Errorf("localizing fault: %w", err)
		}
		if core == nil {
			return nil, ErrNoConflict
		}
	}

	switch l.strategy {
	case StrategySingleCore:
		return l.faultFromCore(tf, core, strengthened), nil
	case StrategyMaxSat:
		return l.enumerate(ctx, tf, hard, soft, core, strengthened)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownStrategy, l.strategy)
	}
}

// enumerate explores alternative cores by disabling one member of each
// known core at a time, keeping the smallest fault seen.
func (l *Localizer) enumerate(
	ctx context.Context,
	tf *TraceFormula,
	hard formula.Formula,
	soft []formula.Formula,
	first []int,
	strengthened bool,
) (*Fault, error) {
	type candidate struct {
		disabled map[int]bool
	}

	faults := []*Fault{l.faultFromCore(tf, first, strengthened)}
	seen := map[string]bool{coreKey(first): true}

	queue := make([]candidate, 0, len(first))
	for _, idx := range first {
		queue = append(queue, candidate{disabled: map[int]bool{idx: true}})
	}

	for len(queue) > 0 && len(faults) < l.candidateLimit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := queue[0]
		queue = queue[1:]

		core, err := l.coreWithout(ctx, hard, soft, next.disabled)
		if err != nil {
			return nil, err
		}
		if core == nil {
			// Disabling this set restores satisfiability; the removed
			// entries already explain the conflict on this branch.
			continue
		}
		key := coreKey(core)
		if seen[key] {
			continue
		}
		seen[key] = true
		faults = append(faults, l.faultFromCore(tf, core, strengthened))

		for _, idx := range core {
			d := make(map[int]bool, len(next.disabled)+1)
			for k := range next.disabled {
				d[k] = true
			}
			d[idx] = true
			queue = append(queue, candidate{disabled: d})
		}
	}

	best := SelectMinimal(faults)
	if l.logger != nil {
		l.logger.Debug("fault enumeration settled",
			"candidates", len(faults),
			"best_size", best.Size(),
		)
	}
	return best, nil
}

// coreWithout extracts a core from the soft constraints that are not
// disabled, translating indices back to the full soft list.
func (l *Localizer) coreWithout(
	ctx context.Context,
	hard formula.Formula,
	soft []formula.Formula,
	disabled map[int]bool,
) ([]int, error) {
	sub := make([]formula.Formula, 0, len(soft))
	back := make([]int, 0, len(soft))
	for i, f := range soft {
		if disabled[i] {
			continue
		}
		sub = append(sub, f)
		back = append(back, i)
	}

	core, err := l.fctx.Solver().UnsatCore(ctx, hard, sub)
	if err != nil {
		return nil, fmt.Errorf("localizing fault: %w", err)
	}
	if core == nil {
		return nil, nil
	}
	out := make([]int, len(core))
	for i, idx := range core {
		out[i] = back[idx]
	}
	sort.Ints(out)
	return out, nil
}

// faultFromCore maps core indices to their trace entries in path
// order.
func (l *Localizer) faultFromCore(tf *TraceFormula, core []int, strengthened bool) *Fault {
	idx := append([]int(nil), core...)
	sort.Ints(idx)
	entries := make([]Entry, len(idx))
	for i, c := range idx {
		entries[i] = tf.Entries[c]
	}
	return &Fault{Entries: entries, Strengthened: strengthened}
}

// SelectMinimal returns the fault with the fewest entries, preferring
// the earliest candidate on ties. Returns nil for an empty slice.
func SelectMinimal(faults []*Fault) *Fault {
	var best *Fault
	for _, f := range faults {
		if best == nil || f.Size() < best.Size() {
			best = f
		}
	}
	return best
}

func coreKey(core []int) string {
	idx := append([]int(nil), core...)
	sort.Ints(idx)
	parts := make([]string, len(idx))
	for i, c := range idx {
		parts[i] = fmt.Sprintf("%d", c)
	}
	return strings.Join(parts, ",")
}
