// Copyright (C) 2026 Faultline HQ (engineering@faultlinehq.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler dispatches block analysis tasks across a worker
// pool and decides the global verdict.
//
// The dispatch loop is single-threaded: it alone mutates block states
// and the message queue. Tasks run on pool goroutines and communicate
// exclusively through message batches, so a block's reached set is
// only ever touched by one goroutine at a time.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/faultlinehq/faultline/pkg/logging"
	"github.com/faultlinehq/faultline/services/verify/cfa"
	"github.com/faultlinehq/faultline/services/verify/faultloc"
	"github.com/faultlinehq/faultline/services/verify/formula"
	"github.com/faultlinehq/faultline/services/verify/message"
	"github.com/faultlinehq/faultline/services/verify/worker"
)

var (
	tracer = otel.Tracer("faultline.scheduler")
	meter  = otel.Meter("faultline.scheduler")
)

// Result is the outcome of one analysis run.
type Result struct {
	// Verdict is TRUE, FALSE, or UNKNOWN.
	Verdict message.Verdict

	// Fault explains a FALSE verdict when localization succeeded.
	Fault *faultloc.Fault

	// Sound is false when any task over-approximated or a solver
	// call failed; a TRUE verdict is then degraded to UNKNOWN.
	Sound bool

	// Interrupted is true when the run stopped on an external
	// shutdown signal.
	Interrupted bool

	// Tasks is the number of dispatched block runs.
	Tasks int

	// StaleDropped counts forward messages dropped by the version
	// check.
	StaleDropped int

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration
}

// Scheduler owns the message queue, the per-block state machines, and
// the worker pool for one analysis run.
//
// Thread Safety: Run may be called once per Scheduler. The per-block
// version counters are safe to read concurrently; everything else is
// confined to the dispatch loop.
type Scheduler struct {
	dec       *cfa.Decomposition
	spec      *cfa.ErrorSpec
	fctx      *formula.Context
	selectors *faultloc.SelectorFactory

	workers     int64
	stepBudget  int
	roundBudget int
	loc         localizerOpts
	logger      *logging.Logger

	ctls map[cfa.BlockID]*blockCtl

	metricsOnce   sync.Once
	tasksTotal    metric.Int64Counter
	staleTotal    metric.Int64Counter
	runLatency    metric.Float64Histogram
	verdictsTotal metric.Int64Counter
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = int64(n)
		}
	}
}

// WithStepBudget bounds how many states one block run expands before
// yielding with a continuation.
func WithStepBudget(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.stepBudget = n
		}
	}
}

// WithRoundBudget bounds the total number of dispatched tasks. A run
// exceeding it stops with an unsound UNKNOWN instead of looping on a
// diverging program.
func WithRoundBudget(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.roundBudget = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = log }
}

// localizerOpts collects pass-through localizer configuration.
type localizerOpts struct {
	strategy       faultloc.Strategy
	candidateLimit int
}

// WithStrategy selects the fault-localization strategy.
func WithStrategy(st faultloc.Strategy) Option {
	return func(s *Scheduler) { s.loc.strategy = st }
}

// WithCandidateLimit bounds max-sat candidate enumeration.
func WithCandidateLimit(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.loc.candidateLimit = n
		}
	}
}

// New creates a Scheduler for one decomposed program.
func New(dec *cfa.Decomposition, spec *cfa.ErrorSpec, fctx *formula.Context, opts ...Option) *Scheduler {
	s := &Scheduler{
		dec:         dec,
		spec:        spec,
		fctx:        fctx,
		selectors:   faultloc.NewSelectorFactory(),
		workers:     4,
		stepBudget:  10_000,
		roundBudget: 1_000,
		ctls:        make(map[cfa.BlockID]*blockCtl),
		loc:         localizerOpts{strategy: faultloc.StrategySingleCore, candidateLimit: 16},
	}
	for _, opt := range opts {
		opt(s)
	}

	versionOf := func(id cfa.BlockID) uint64 {
		if ctl, ok := s.ctls[id]; ok {
			return ctl.version.Load()
		}
		return 0
	}
	localizer := faultloc.NewLocalizer(fctx,
		faultloc.WithStrategy(s.loc.strategy),
		faultloc.WithCandidateLimit(s.loc.candidateLimit),
	)

	for _, b := range dec.Blocks() {
		ctl := &blockCtl{block: b}
		ctl.forward = worker.NewForwardAnalysis(b, dec, fctx, spec,
			worker.WithStepBudget(s.stepBudget),
			worker.WithVersionFn(versionOf),
			worker.WithForwardLogger(s.logger),
		)
		ctl.backward = worker.NewBackwardAnalysis(b, fctx, s.selectors,
			worker.WithLocalizer(localizer),
			worker.WithBackwardLogger(s.logger),
		)
		s.ctls[b.ID()] = ctl
	}
	return s
}

// InvalidateBlock bumps a block's generation counter. Forward messages
// stamped against the old generation are dropped on arrival.
func (s *Scheduler) InvalidateBlock(id cfa.BlockID) {
	if ctl, ok := s.ctls[id]; ok {
		ctl.version.Add(1)
	}
}

// Version returns a block's current generation counter.
func (s *Scheduler) Version(id cfa.BlockID) uint64 {
	if ctl, ok := s.ctls[id]; ok {
		return ctl.version.Load()
	}
	return 0
}

// initMetrics lazily initializes metrics.
// Logs failures and continues without them (graceful degradation).
func (s *Scheduler) initMetrics() {
	s.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		s.tasksTotal, err = meter.Int64Counter("scheduler_tasks_total",
			metric.WithDescription("Number of dispatched block analysis tasks"),
		)
		if err != nil {
			initErrors = append(initErrors, "tasks_total: "+err.Error())
		}

		s.staleTotal, err = meter.Int64Counter("scheduler_stale_messages_total",
			metric.WithDescription("Number of forward messages dropped by the version check"),
		)
		if err != nil {
			initErrors = append(initErrors, "stale_total: "+err.Error())
		}

		s.runLatency, err = meter.Float64Histogram("scheduler_run_duration_seconds",
			metric.WithDescription("Wall-clock duration of one analysis run"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		s.verdictsTotal, err = meter.Int64Counter("scheduler_verdicts_total",
			metric.WithDescription("Number of runs by final verdict"),
		)
		if err != nil {
			initErrors = append(initErrors, "verdicts_total: "+err.Error())
		}

		if len(initErrors) > 0 && s.logger != nil {
			s.logger.Error("failed to initialize some scheduler metrics (observability degraded)",
				"failed_count", len(initErrors),
				"errors", initErrors,
			)
		}
	})
}

// batch is one finished task's output.
type batch struct {
	id   cfa.BlockID
	msgs []*message.Message
}

// Run drives the analysis to a verdict.
//
// Description:
//
//	The entry block is seeded with the empty path formula, then the
//	dispatch loop alternates between routing queued messages, moving
//	schedulable blocks onto pool workers, and waiting for batches.
//	The run halts on quiescence (queue empty, nothing running,
//	nothing pending), on a confirmed violation, on the round budget,
//	or on external cancellation. Outstanding tasks are cancelled and
//	drained before returning, so no block is left RUNNING.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	s.initMetrics()
	start := time.Now()

	ctx, span := tracer.Start(ctx, "scheduler.Run",
		trace.WithAttributes(attribute.Int("blocks", s.dec.NumBlocks())))
	defer span.End()

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(s.workers)
	batches := make(chan batch)

	entry := s.ctls[s.dec.EntryBlock().ID()]
	queue := []*message.Message{
		message.NewForwardRequest(entry.block.ID(), entry.version.Load(),
			s.fctx.Share(s.fctx.Manager().MakeEmpty())),
	}

	status := message.Status{Sound: true}
	var faults []*faultloc.Fault
	errorFound := false
	inflight := 0
	tasks := 0
	stale := 0

	for {
		for len(queue) > 0 {
			m := queue[0]
			queue = queue[1:]
			s.route(ctx, m, &status, &faults, &errorFound, &stale)
		}

		if errorFound || ctx.Err() != nil {
			break
		}
		if tasks >= s.roundBudget {
			if s.logger != nil {
				s.logger.Warn("round budget exhausted, giving up", "tasks", tasks)
			}
			status.Sound = false
			break
		}

		inflight += s.schedule(taskCtx, sem, batches, &tasks)
		if inflight == 0 {
			break // quiescent
		}

		select {
		case b := <-batches:
			inflight--
			sem.Release(1)
			s.settle(b)
			queue = append(queue, b.msgs...)
		case <-ctx.Done():
			status.Interrupted = true
		}
	}

	// Drain: cancel outstanding tasks and absorb their batches so the
	// pool goroutines can exit. Verdict-relevant payloads still count.
	cancel()
	for inflight > 0 {
		b := <-batches
		inflight--
		sem.Release(1)
		s.settle(b)
		for _, m := range b.msgs {
			s.route(ctx, m, &status, &faults, &errorFound, &stale)
		}
	}
	if ctx.Err() != nil {
		status.Interrupted = true
	}

	res := &Result{
		Sound:        status.Sound,
		Interrupted:  status.Interrupted,
		Tasks:        tasks,
		StaleDropped: stale,
		Elapsed:      time.Since(start),
	}
	switch {
	case errorFound:
		res.Verdict = message.VerdictFalse
		res.Fault = faultloc.SelectMinimal(faults)
	case status.Sound && !status.Interrupted:
		res.Verdict = message.VerdictTrue
	default:
		res.Verdict = message.VerdictUnknown
	}

	if s.runLatency != nil {
		s.runLatency.Record(ctx, res.Elapsed.Seconds())
	}
	if s.verdictsTotal != nil {
		s.verdictsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("verdict", res.Verdict.String())))
	}
	span.SetAttributes(
		attribute.String("verdict", res.Verdict.String()),
		attribute.Int("tasks", tasks),
		attribute.Int("stale_dropped", stale),
	)
	if s.logger != nil {
		s.logger.Info("analysis finished",
			"verdict", res.Verdict.String(),
			"tasks", tasks,
			"stale_dropped", stale,
			"elapsed", res.Elapsed.String(),
		)
	}
	return res, nil
}

// route applies one message to the dispatcher state.
func (s *Scheduler) route(
	ctx context.Context,
	m *message.Message,
	status *message.Status,
	faults *[]*faultloc.Fault,
	errorFound *bool,
	stale *int,
) {
	switch m.Kind() {
	case message.KindForwardRequest, message.KindForwardContinuation:
		ctl, ok := s.ctls[m.Target()]
		if !ok {
			return
		}
		if m.Version() != ctl.version.Load() {
			*stale++
			if s.staleTotal != nil {
				s.staleTotal.Add(ctx, 1)
			}
			if s.logger != nil {
				s.logger.Debug("dropping stale message",
					"message", m.String(),
					"current_version", ctl.version.Load(),
				)
			}
			return
		}
		if m.Kind() == message.KindForwardContinuation {
			ctl.continuation = true
			return
		}
		if shared, ok := m.Formula(); ok {
			ctl.seeds = append(ctl.seeds, shared)
		}

	case message.KindBackwardRequest:
		if origin, ok := m.Origin(); ok {
			if ctl, found := s.ctls[origin.Block]; found {
				ctl.origins = append(ctl.origins, origin)
			}
		}

	case message.KindTaskCompleted:
		if st, ok := m.Status(); ok {
			*status = status.Merge(st)
		}

	case message.KindFoundResult:
		verdict, fault, _ := m.Result()
		if verdict == message.VerdictFalse {
			*errorFound = true
			if fault != nil {
				*faults = append(*faults, fault)
			}
		}
	}
}

// schedule launches tasks for every schedulable block with pending
// work, as long as pool slots are free. Returns the number launched.
func (s *Scheduler) schedule(
	ctx context.Context,
	sem *semaphore.Weighted,
	batches chan<- batch,
	tasks *int,
) int {
	launched := 0
	for _, b := range s.dec.Blocks() {
		ctl := s.ctls[b.ID()]
		if !ctl.schedulable() || !ctl.hasWork() {
			continue
		}
		if !sem.TryAcquire(1) {
			break
		}
		ctl.state = StateScheduled
		seeds, origins, cont := ctl.take()

		ctl.state = StateRunning
		*tasks++
		launched++
		if s.tasksTotal != nil {
			s.tasksTotal.Add(ctx, 1)
		}

		go func(ctl *blockCtl, seeds []formula.Shareable, origins []*message.ErrorOrigin, cont bool) {
			tctx, span := tracer.Start(ctx, "scheduler.task",
				trace.WithAttributes(attribute.String("block", string(ctl.block.ID()))))
			defer span.End()

			var msgs []*message.Message
			for _, o := range origins {
				msgs = append(msgs, ctl.backward.Execute(tctx, o)...)
			}
			if len(seeds) > 0 || cont {
				for _, sd := range seeds {
					ctl.forward.SetEntryCondition(sd)
				}
				msgs = append(msgs, ctl.forward.Execute(tctx)...)
			}
			batches <- batch{id: ctl.block.ID(), msgs: msgs}
		}(ctl, seeds, origins, cont)
	}
	return launched
}

// settle records a finished batch's state transition for its block.
func (s *Scheduler) settle(b batch) {
	ctl, ok := s.ctls[b.id]
	if !ok {
		return
	}
	ctl.state = StateCompleted
	for _, m := range b.msgs {
		if m.Kind() == message.KindForwardContinuation && m.Target() == b.id {
			ctl.state = StateContinuationPending
		}
	}
}
