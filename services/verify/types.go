// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package verify

import (
	"github.com/faultlinehq/faultline/services/verify/cfa"
)

// AnalyzeRequest is the body of POST /v1/verify/analyze.
type AnalyzeRequest struct {
	// Program is the CFA description to analyze.
	Program *cfa.ProgramSpec `json:"program" validate:"required"`

	// Strategy overrides the configured fault-localization strategy
	// for this request: "single-core" or "max-sat".
	Strategy string `json:"strategy,omitempty" validate:"omitempty,oneof=single-core max-sat"`

	// NoCache skips the verdict cache for both lookup and store.
	NoCache bool `json:"no_cache,omitempty"`
}

// AnalyzeResponse is the outcome of one analysis request.
type AnalyzeResponse struct {
	// Program echoes the program name.
	Program string `json:"program"`

	// Hash is the canonical program hash used as the cache key.
	Hash string `json:"hash"`

	// Verdict is "TRUE", "FALSE", or "UNKNOWN".
	Verdict string `json:"verdict"`

	// Sound is false when the verdict was reached after budget
	// exhaustion or a degraded solver call.
	Sound bool `json:"sound"`

	// Interrupted is true when the run stopped on shutdown or timeout.
	Interrupted bool `json:"interrupted"`

	// Fault lists the suspect statements for a FALSE verdict,
	// rendered as "<from> -> <to>: <stmt>". Empty when localization
	// failed or the verdict is not FALSE.
	Fault []string `json:"fault,omitempty"`

	// Tasks is the number of dispatched block runs.
	Tasks int `json:"tasks"`

	// ElapsedMS is the analysis wall-clock time in milliseconds.
	ElapsedMS int64 `json:"elapsed_ms"`

	// Cached is true when the verdict was served from the cache.
	Cached bool `json:"cached"`
}

// VerdictResponse is the body of GET /v1/verify/verdicts/:hash.
type VerdictResponse struct {
	Hash       string   `json:"hash"`
	Verdict    string   `json:"verdict"`
	Sound      bool     `json:"sound"`
	FaultEdges []string `json:"fault_edges,omitempty"`
	Tasks      int      `json:"tasks"`
	ElapsedMS  int64    `json:"elapsed_ms"`
	CreatedAt  string   `json:"created_at"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the body of GET /v1/verify/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse is the body of GET /v1/verify/ready.
type ReadyResponse struct {
	Ready   bool `json:"ready"`
	CacheOK bool `json:"cache_ok"`
}

// StreamEvent is one progress message on the analysis WebSocket.
type StreamEvent struct {
	// Event is "accepted", "decomposed", "running", "verdict", or
	// "error".
	Event string `json:"event"`

	// RequestID correlates events of one analysis.
	RequestID string `json:"request_id"`

	// Blocks is the block count, set on "decomposed".
	Blocks int `json:"blocks,omitempty"`

	// Result carries the final outcome, set on "verdict".
	Result *AnalyzeResponse `json:"result,omitempty"`

	// Error describes a failure, set on "error".
	Error string `json:"error,omitempty"`
}
