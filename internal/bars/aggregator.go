package bars

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"cryptolake/internal/config"
	"cryptolake/internal/health"
	"cryptolake/internal/journal"
	"cryptolake/internal/paths"
)

// testWarmup is the shortened delay before the forced first run in
// test mode. Production waits one full schedule interval instead, so
// the first day of raw data has time to accumulate.
const testWarmup = 2 * time.Minute

// Aggregator runs the raw-to-bars pipeline for every configured
// (exchange, symbol) pair on a fixed schedule. Symbol-days are
// independent: one failure is recorded in the health cell and the
// remaining symbols still run.
type Aggregator struct {
	logger    *slog.Logger
	cfg       config.TransformerConfig
	exchanges []config.ExchangeConfig
	layout    *paths.Layout
	tracker   *health.Tracker
	testMode  bool

	// lastDay is the most recent UTC day a run processed. The first
	// run after a rollover re-aggregates it, picking up events
	// journalled between the previous run and midnight.
	lastDay string
}

// New returns an Aggregator covering every symbol of the given
// exchanges.
func New(logger *slog.Logger, cfg config.TransformerConfig, exchanges []config.ExchangeConfig, layout *paths.Layout, tracker *health.Tracker, testMode bool) *Aggregator {
	return &Aggregator{
		logger:    logger.With("component", "transformer"),
		cfg:       cfg,
		exchanges: exchanges,
		layout:    layout,
		tracker:   tracker,
		testMode:  testMode,
	}
}

// Run executes scheduled aggregation until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	defer a.tracker.SetRunStatus(health.ComponentTransformer, health.StatusStopped)

	warmup := a.cfg.Schedule()
	if a.testMode {
		warmup = testWarmup
		a.logger.Warn("test mode: forcing an early first aggregation", "warmup", warmup)
	} else {
		a.logger.Info("first aggregation scheduled", "in", warmup)
	}
	if !waitOrDone(ctx, warmup) {
		return
	}

	for {
		a.RunOnce(ctx, time.Now().UTC())
		if !waitOrDone(ctx, a.cfg.Schedule()) {
			return
		}
	}
}

// RunOnce aggregates the UTC day of now for every configured symbol,
// preceded by a re-run of the previously processed day when a
// midnight rollover happened since the last run.
func (a *Aggregator) RunOnce(ctx context.Context, now time.Time) {
	start := time.Now().UTC()
	a.tracker.BeginRun(health.ComponentTransformer, start)

	today := paths.DayString(now)
	days := make([]time.Time, 0, 2)
	if a.lastDay != "" && a.lastDay != today {
		if prev, err := time.Parse("2006-01-02", a.lastDay); err == nil {
			days = append(days, prev)
		}
	}
	days = append(days, now.UTC())
	a.lastDay = today

	var (
		total   int64
		failed  int
		lastErr error
	)
	for _, day := range days {
		rows, errs := a.runDay(ctx, day)
		total += rows
		failed += len(errs)
		if len(errs) > 0 {
			lastErr = errs[len(errs)-1]
		}
	}

	var runErr error
	if failed > 0 {
		runErr = fmt.Errorf("%d symbol-day runs failed, last: %w", failed, lastErr)
	}
	end := time.Now().UTC()
	a.tracker.EndRun(health.ComponentTransformer, end, total, runErr)
	a.logger.Info("aggregation run finished",
		"days", len(days), "rows", total, "failed", failed,
		"elapsed", end.Sub(start).Round(time.Millisecond))
}

// runDay fans the day's symbols out on a bounded pool and collects
// per-symbol failures.
func (a *Aggregator) runDay(ctx context.Context, day time.Time) (int64, []error) {
	var (
		mu    sync.Mutex
		total int64
		errs  []error
	)
	p := pool.New().WithMaxGoroutines(a.cfg.MaxConcurrency)
	for _, ex := range a.exchanges {
		for _, symbol := range ex.Symbols {
			if ctx.Err() != nil {
				p.Wait()
				return total, errs
			}
			exchange, symbol := ex.Name, symbol
			p.Go(func() {
				rows, err := a.runSymbolDay(exchange, symbol, day)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					a.logger.Error("symbol-day aggregation failed",
						"exchange", exchange, "symbol", symbol,
						"day", paths.DayString(day), "error", err)
					errs = append(errs, err)
					return
				}
				total += rows
			})
		}
	}
	p.Wait()
	return total, errs
}

// runSymbolDay reads one symbol-day of raw journal, aggregates it and
// appends the bars to the symbol's partition tree. Returns the number
// of rows written.
func (a *Aggregator) runSymbolDay(exchange, symbol string, day time.Time) (int64, error) {
	dayStr := paths.DayString(day)
	events, skipped, err := journal.ReadDay(a.layout.RawSymbolDayDir(exchange, symbol, dayStr))
	if err != nil {
		return 0, fmt.Errorf("%s %s %s: %w", exchange, symbol, dayStr, err)
	}
	if skipped > 0 {
		a.logger.Warn("skipped unparsable journal lines",
			"exchange", exchange, "symbol", symbol, "day", dayStr, "lines", skipped)
	}
	if len(events) == 0 {
		a.logger.Warn("no raw events to aggregate",
			"exchange", exchange, "symbol", symbol, "day", dayStr)
		return 0, nil
	}

	rows := Aggregate(events, symbol, a.cfg.ResampleIntervalSec)
	written, err := WritePartitioned(a.layout.ParquetSymbolRoot(exchange, symbol), rows, a.cfg.ParquetCompression)
	if err != nil {
		return int64(written), fmt.Errorf("%s %s %s: %w", exchange, symbol, dayStr, err)
	}
	a.logger.Info("symbol-day aggregated",
		"exchange", exchange, "symbol", symbol, "day", dayStr,
		"events", len(events), "rows", written)

	if a.cfg.ValidateAfterRun {
		a.validate(exchange, symbol, day)
	}
	return int64(written), nil
}

// validate re-checks a freshly written day and files the report.
// Validation problems are logged, never escalated: the write already
// succeeded.
func (a *Aggregator) validate(exchange, symbol string, day time.Time) {
	rep, err := ValidateDay(a.layout, exchange, symbol, day, a.cfg.ResampleIntervalSec)
	if err != nil {
		a.logger.Warn("day validation failed",
			"exchange", exchange, "symbol", symbol, "day", paths.DayString(day), "error", err)
		return
	}
	path, err := WriteReport(a.layout, rep)
	if err != nil {
		a.logger.Warn("validation report write failed",
			"exchange", exchange, "symbol", symbol, "error", err)
		return
	}
	a.logger.Info("validation report written",
		"path", path, "rows", rep.Rows,
		"duplicates", rep.Duplicates, "missing_seconds", rep.MissingSeconds)
}

// waitOrDone sleeps for d, returning false when ctx is cancelled
// before the delay elapses.
func waitOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
