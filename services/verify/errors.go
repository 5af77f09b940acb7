// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package verify

import "errors"

var (
	// ErrNilProgram indicates Analyze was called without a program.
	ErrNilProgram = errors.New("verify: program must not be nil")

	// ErrInvalidProgram indicates the submitted program failed
	// validation, parsing, or decomposition.
	ErrInvalidProgram = errors.New("verify: invalid program")

	// ErrVerdictNotFound indicates no cached verdict exists for the
	// requested program hash.
	ErrVerdictNotFound = errors.New("verify: verdict not found")

	// ErrCacheDisabled indicates a cache operation was requested but
	// the verdict cache is not configured.
	ErrCacheDisabled = errors.New("verify: verdict cache is disabled")
)
