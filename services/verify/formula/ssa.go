// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package formula

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ssaSeparator joins a program variable with its SSA index in formula
// variable names, e.g. "x@3".
const ssaSeparator = "@"

// SSAMap tracks the current SSA index per program variable. Maps are
// treated as immutable values: mutating operations return a copy, so a
// snapshot stored in a trace entry stays valid while the path formula
// advances.
type SSAMap map[string]int

// NewSSAMap returns an empty map. Unwritten variables implicitly have
// index 1.
func NewSSAMap() SSAMap {
	return make(SSAMap)
}

// Index returns the current index of the variable (1 when unwritten).
func (m SSAMap) Index(v string) int {
	if i, ok := m[v]; ok {
		return i
	}
	return 1
}

// Name returns the formula variable name for the current instance of v.
func (m SSAMap) Name(v string) string {
	return InstanceName(v, m.Index(v))
}

// Freshen returns a copy with v advanced to a new index, plus the
// formula name of the new instance.
func (m SSAMap) Freshen(v string) (SSAMap, string) {
	next := m.Copy()
	idx := m.Index(v) + 1
	next[v] = idx
	return next, InstanceName(v, idx)
}

// Copy returns an independent copy.
func (m SSAMap) Copy() SSAMap {
	out := make(SSAMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MergeMax returns the pointwise maximum of two maps, the SSA frontier
// used when two path formulas are disjoined.
func (m SSAMap) MergeMax(other SSAMap) SSAMap {
	out := m.Copy()
	for k, v := range other {
		if v > out.Index(k) {
			out[k] = v
		}
	}
	return out
}

// InstanceName builds the formula variable name for instance i of v.
func InstanceName(v string, i int) string {
	return v + ssaSeparator + strconv.Itoa(i)
}

// ParseInstance splits a formula variable name back into the program
// variable and its SSA index. Names without an index parse as index 1.
func ParseInstance(name string) (string, int) {
	at := strings.LastIndex(name, ssaSeparator)
	if at < 0 {
		return name, 1
	}
	idx, err := strconv.Atoi(name[at+1:])
	if err != nil {
		return name, 1
	}
	return name[:at], idx
}

// String renders the map deterministically for debugging.
func (m SSAMap) String() string {
	if len(m) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, fmt.Sprintf("%s:%d", k, v))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}
