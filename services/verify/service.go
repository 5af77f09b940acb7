// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package verify provides the Faultline HTTP service for program
// verification.
//
// The service exposes endpoints for:
//   - Running a reachability analysis on a program CFA
//   - Fetching and invalidating cached verdicts
//   - Streaming analysis progress over a WebSocket
package verify

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/faultlinehq/faultline/pkg/logging"
	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/config"
	"github.com/faultlinehq/faultline/services/verify/faultloc"
	"github.com/faultlinehq/faultline/services/verify/formula"
	"github.com/faultlinehq/faultline/services/verify/scheduler"
	"github.com/faultlinehq/faultline/services/verify/solver"
	"github.com/faultlinehq/faultline/services/verify/storage"
)

// ServiceVersion is the verify service version.
const ServiceVersion = "0.1.0"

// Service runs analyses and manages the verdict cache.
//
// Thread Safety: Service is safe for concurrent use. Each Analyze call
// builds its own solver context and scheduler; only the verdict cache
// is shared.
type Service struct {
	cfg      config.Config
	logger   *logging.Logger
	cache    *storage.Cache
	validate *validator.Validate
}

// NewService creates a Service from the given configuration.
//
// Description:
//
//	Opens the verdict cache when enabled. A cache open failure is
//	logged and degrades the service to uncached operation rather
//	than failing startup.
//
// Inputs:
//
//	cfg - Service configuration. Use config.Default() for defaults.
//	logger - Destination for service logs. Must not be nil.
//
// Outputs:
//
//	*Service - The service. Close must be called on shutdown.
func NewService(cfg config.Config, logger *logging.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		logger:   logger,
		validate: validator.New(),
	}
	if cfg.Cache.Enabled {
		storeCfg := storage.DefaultConfig(cfg.Cache.Path)
		storeCfg.TTL = cfg.Cache.TTL
		storeCfg.Logger = logger.Slog()
		cache, err := storage.Open(storeCfg)
		if err != nil {
			logger.Warn("verdict cache unavailable, continuing uncached",
				"path", cfg.Cache.Path, "error", err)
		} else {
			s.cache = cache
		}
	}
	return s
}

// Close releases the verdict cache.
func (s *Service) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// CacheReady reports whether the verdict cache is open.
func (s *Service) CacheReady() bool { return s.cache != nil }

// Analyze runs a full analysis for the given request.
//
// Description:
//
//	Validates the request, consults the verdict cache, and on a miss
//	builds the CFA, decomposes it into blocks, and runs the
//	scheduler. Fresh verdicts are stored back unless NoCache is set.
//
// Inputs:
//
//	ctx - Controls cancellation. The configured analysis timeout is
//	      applied on top.
//	req - The analysis request.
//
// Outputs:
//
//	*AnalyzeResponse - The verdict and, for FALSE, the localized fault.
//	error - Non-nil on invalid input or an internal failure.
func (s *Service) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResponse, error) {
	return s.analyze(ctx, req, nil)
}

// AnalyzeStream runs Analyze while emitting progress events.
//
// The emit callback receives "decomposed", "running", and "verdict"
// (or "error") events in order. It is called from the calling
// goroutine and must not block indefinitely.
func (s *Service) AnalyzeStream(ctx context.Context, req *AnalyzeRequest, emit func(StreamEvent)) (*AnalyzeResponse, error) {
	return s.analyze(ctx, req, emit)
}

func (s *Service) analyze(ctx context.Context, req *AnalyzeRequest, emit func(StreamEvent)) (*AnalyzeResponse, error) {
	if req == nil || req.Program == nil {
		return nil, ErrNilProgram
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}

	hash := req.Program.Hash()
	logger := s.logger.With("program", req.Program.Name, "hash", hash)

	if s.cache != nil && !req.NoCache {
		cached, err := s.cache.Get(ctx, hash)
		if err != nil {
			logger.Warn("verdict cache lookup failed", "error", err)
		} else if cached != nil {
			logger.Info("verdict served from cache", "verdict", cached.Verdict)
			resp := &AnalyzeResponse{
				Program:   req.Program.Name,
				Hash:      hash,
				Verdict:   cached.Verdict,
				Sound:     cached.Sound,
				Fault:     cached.FaultEdges,
				Tasks:     cached.Tasks,
				ElapsedMS: cached.ElapsedMS,
				Cached:    true,
			}
			s.send(emit, StreamEvent{Event: "verdict", Result: resp})
			return resp, nil
		}
	}

	graph, espec, err := req.Program.Build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	dec, err := cfa.Decompose(graph)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	s.send(emit, StreamEvent{Event: "decomposed", Blocks: dec.NumBlocks()})

	strategyName := s.cfg.Analysis.Strategy
	if req.Strategy != "" {
		strategyName = req.Strategy
	}
	strategy, err := faultloc.ParseStrategy(strategyName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}

	fctx := formula.NewContext(
		solver.New(solver.WithLogger(logger.Slog())),
		formula.NewManager(),
	)
	sched := scheduler.New(dec, espec, fctx,
		scheduler.WithWorkers(s.cfg.Analysis.Workers),
		scheduler.WithStepBudget(s.cfg.Analysis.StepBudget),
		scheduler.WithRoundBudget(s.cfg.Analysis.RoundBudget),
		scheduler.WithStrategy(strategy),
		scheduler.WithCandidateLimit(s.cfg.Analysis.CandidateLimit),
		scheduler.WithLogger(logger),
	)

	runCtx := ctx
	if s.cfg.Analysis.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Analysis.Timeout)
		defer cancel()
	}

	s.send(emit, StreamEvent{Event: "running"})
	result, err := sched.Run(runCtx)
	if err != nil {
		return nil, fmt.Errorf("run analysis: %w", err)
	}

	resp := &AnalyzeResponse{
		Program:     req.Program.Name,
		Hash:        hash,
		Verdict:     result.Verdict.String(),
		Sound:       result.Sound,
		Interrupted: result.Interrupted,
		Fault:       renderFault(graph, result.Fault),
		Tasks:       result.Tasks,
		ElapsedMS:   result.Elapsed.Milliseconds(),
	}
	logger.Info("analysis finished",
		"verdict", resp.Verdict,
		"sound", resp.Sound,
		"tasks", resp.Tasks,
		"elapsed_ms", resp.ElapsedMS)

	// Interrupted runs are not representative and stay out of the cache.
	if s.cache != nil && !req.NoCache && !result.Interrupted {
		err := s.cache.Put(ctx, hash, storage.CachedVerdict{
			Verdict:    resp.Verdict,
			Sound:      resp.Sound,
			FaultEdges: resp.Fault,
			Tasks:      resp.Tasks,
			ElapsedMS:  resp.ElapsedMS,
		})
		if err != nil {
			logger.Warn("verdict cache store failed", "error", err)
		}
	}

	s.send(emit, StreamEvent{Event: "verdict", Result: resp})
	return resp, nil
}

// Verdict fetches a cached verdict by program hash.
func (s *Service) Verdict(ctx context.Context, hash string) (*storage.CachedVerdict, error) {
	if s.cache == nil {
		return nil, ErrCacheDisabled
	}
	cached, err := s.cache.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if cached == nil {
		return nil, ErrVerdictNotFound
	}
	return cached, nil
}

// Invalidate removes a cached verdict by program hash.
func (s *Service) Invalidate(ctx context.Context, hash string) error {
	if s.cache == nil {
		return ErrCacheDisabled
	}
	return s.cache.Delete(ctx, hash)
}

func (s *Service) send(emit func(StreamEvent), ev StreamEvent) {
	if emit != nil {
		emit(ev)
	}
}

// renderFault formats each suspect edge as "<from> -> <to>: <stmt>".
func renderFault(g *cfa.Graph, fault *faultloc.Fault) []string {
	if fault == nil {
		return nil
	}
	edges := fault.Edges()
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, fmt.Sprintf("%s -> %s: %s",
			g.Node(e.From).Label, g.Node(e.To).Label, e.Text))
	}
	return out
}
