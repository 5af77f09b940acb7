// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package faultloc

import "errors"

var (
	// ErrNoConflict indicates the trace formula remained satisfiable
	// together with the postcondition even after strengthening with
	// the precondition, leaving nothing to localize.
	ErrNoConflict = errors.New("faultloc: trace formula does not conflict with the postcondition")

	// ErrUnknownStrategy indicates a Strategy value outside the
	// declared enumeration.
	ErrUnknownStrategy = errors.New("faultloc: unknown localization strategy")
)
