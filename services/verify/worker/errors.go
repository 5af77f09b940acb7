// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import "errors"

var (
	// ErrNonLinearBlock indicates a backward task met a branching
	// node inside a block. Block interiors are linear by
	// construction; hitting this means the decomposition is broken.
	ErrNonLinearBlock = errors.New("worker: block interior branches, path reconstruction impossible")

	// ErrNoPath indicates the error location could not be reached
	// from the block entry by following interior edges.
	ErrNoPath = errors.New("worker: no interior path to the error location")
)
