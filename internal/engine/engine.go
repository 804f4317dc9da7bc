// Package engine is the central orchestrator of the market-data lake.
//
// It wires together all subsystems:
//
//  1. One Ingestor per configured exchange streams trades and
//     top-of-book quotes, journalling raw events and publishing them
//     on the event bus.
//  2. The bar Aggregator periodically turns raw symbol-days into
//     one-second OHLCV parquet partitions.
//  3. The macro Fetcher polls an external provider for reference-asset
//     minute bars.
//  4. The Compactor and Retention sweeps maintain finished days and
//     the raw tree.
//  5. The health Reporter renders every component's status cell to the
//     heartbeat artefacts.
//
// Lifecycle: New() → Start() → [runs until SIGINT/SIGTERM] → Stop().
// Failures are component-local: an errored ingestor flips its status
// cell and exits its goroutine while everything else runs on. Only
// invalid configuration discovered inside New is fatal.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cryptolake/internal/bars"
	"cryptolake/internal/bus"
	"cryptolake/internal/config"
	"cryptolake/internal/exchange"
	"cryptolake/internal/health"
	"cryptolake/internal/ingest"
	"cryptolake/internal/macro"
	"cryptolake/internal/paths"
	"cryptolake/internal/storage"
)

// joinTimeout bounds how long Stop waits for supervised goroutines.
// Stragglers are logged and abandoned so final flushing still happens.
const joinTimeout = 10 * time.Second

// Engine owns the lifecycle of every supervised task.
type Engine struct {
	cfg     *config.Config
	logger  *slog.Logger
	layout  *paths.Layout
	bus     *bus.Bus
	tracker *health.Tracker

	ingestors  []*ingest.Ingestor
	aggregator *bars.Aggregator
	fetcher    *macro.Fetcher
	compactor  *storage.Compactor
	retention  *storage.Retention
	reporter   *health.Reporter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components. Unknown adapter names
// surface here as errors, before anything starts.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	layout := paths.New(cfg.General.BasePath)
	tracker := health.NewTracker()
	b := bus.New(logger, cfg.Bus.MaxQueue)

	ingestors := make([]*ingest.Ingestor, 0, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		adapter, err := exchange.New(ex.Name, ex.WSSURL)
		if err != nil {
			return nil, fmt.Errorf("exchange %q: %w", ex.Name, err)
		}
		ingestors = append(ingestors, ingest.New(logger, cfg.Collector, ex, adapter, layout, b, tracker))
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "engine"),
		layout:     layout,
		bus:        b,
		tracker:    tracker,
		ingestors:  ingestors,
		aggregator: bars.New(logger, cfg.Transformer, cfg.Exchanges, layout, tracker, cfg.Testing.Enabled),
		reporter:   health.NewReporter(logger, layout, tracker, b, cfg.Health.ReportInterval(), cfg.Testing.Enabled),
	}

	if cfg.Macro.Enabled {
		client := macro.NewClient(cfg.Macro, logger.With("component", "macro"))
		e.fetcher = macro.NewFetcher(logger, cfg.Macro, client, layout, tracker)
	} else {
		tracker.SetRunStatus(health.ComponentMacro, health.StatusDisabled)
	}
	if cfg.Compactor.Enabled {
		e.compactor = storage.NewCompactor(logger, cfg.Compactor, cfg.Exchanges, layout, tracker)
	} else {
		tracker.SetRunStatus(health.ComponentCompactor, health.StatusDisabled)
	}
	if cfg.Retention.Enabled {
		e.retention = storage.NewRetention(logger, cfg.Retention, layout, tracker)
	} else {
		tracker.SetRunStatus(health.ComponentRetention, health.StatusDisabled)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Start launches every supervised task on its own goroutine: one per
// ingestor, the scheduled runners, and the health reporter.
func (e *Engine) Start() {
	for _, in := range e.ingestors {
		e.spawn(func() { in.Run(e.ctx) })
	}

	e.spawn(func() { e.aggregator.Run(e.ctx) })

	if e.fetcher != nil {
		e.spawn(func() { e.fetcher.Run(e.ctx) })
	}
	if e.compactor != nil {
		e.spawn(func() { e.compactor.Run(e.ctx) })
	}
	if e.retention != nil {
		e.spawn(func() { e.retention.Run(e.ctx) })
	}

	e.spawn(func() { e.reporter.Run(e.ctx) })

	e.logger.Info("engine started",
		"exchanges", len(e.ingestors),
		"macro", e.fetcher != nil,
		"compactor", e.compactor != nil,
		"retention", e.retention != nil,
	)
}

// Stop shuts down gracefully: cancels the shared context, joins the
// supervised goroutines with a bounded wait, closes the bus so
// external subscribers unblock, and writes the final all-stopped
// heartbeat. Ingestors flush and close their journal writers on the
// way out of Run.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(joinTimeout):
		e.logger.Warn("some tasks did not stop in time, proceeding", "timeout", joinTimeout)
	}

	e.bus.Close()
	e.tracker.MarkAllStopped()
	if err := e.reporter.WriteNow(time.Now()); err != nil {
		e.logger.Warn("final heartbeat write failed", "error", err)
	}

	e.logger.Info("shutdown complete")
}

// Bus exposes the event bus so in-process consumers can subscribe to
// live channels.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}

// Health returns a point-in-time copy of every component's status cell.
func (e *Engine) Health() health.Snapshot {
	return e.tracker.Snapshot()
}

func (e *Engine) spawn(task func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		task()
	}()
}
