// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cfa

import "errors"

// Sentinel errors for the CFA layer.
var (
	// ErrMalformedGraph indicates nodes/edges violating the graph contract.
	ErrMalformedGraph = errors.New("malformed control-flow graph")

	// ErrParse indicates an unparseable statement or expression.
	ErrParse = errors.New("statement parse error")

	// ErrUnknownNode indicates an edge referencing an undeclared node name.
	ErrUnknownNode = errors.New("unknown node name")

	// ErrEmptyProgram indicates a program spec with no edges.
	ErrEmptyProgram = errors.New("program has no edges")
)
