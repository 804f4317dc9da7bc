// Package macro fetches minute bars for macro reference assets (index
// futures, FX, yields) over REST and lands them next to the crypto
// data as partitioned parquet.
//
// The Fetcher runs on a fixed cadence. Startup performs one bounded
// backfill over startup_lookback_days; every later run covers only the
// runtime lookback. Before writing it reads what the lookback window
// already holds and keeps only rows whose timestamp is new, so a rerun
// against identical upstream data writes nothing. Keys are independent:
// one failing provider symbol is recorded and the rest still run.
package macro

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cryptolake/internal/config"
	"cryptolake/internal/health"
	"cryptolake/internal/paths"
	"cryptolake/pkg/types"
)

// BarSource supplies minute bars for one provider key. *Client is the
// production implementation.
type BarSource interface {
	FetchMinuteBars(ctx context.Context, key string, start, end time.Time) ([]types.MacroBar, error)
}

// Fetcher schedules macro minute-bar collection for every configured
// key.
type Fetcher struct {
	logger  *slog.Logger
	cfg     config.MacroConfig
	source  BarSource
	layout  *paths.Layout
	tracker *health.Tracker

	// lastErrs keeps the most recent failure per key until a later run
	// of that key succeeds.
	mu       sync.Mutex
	lastErrs map[string]string
}

// NewFetcher wires a fetcher to its bar source.
func NewFetcher(logger *slog.Logger, cfg config.MacroConfig, source BarSource, layout *paths.Layout, tracker *health.Tracker) *Fetcher {
	return &Fetcher{
		logger:   logger.With("component", "macro"),
		cfg:      cfg,
		source:   source,
		layout:   layout,
		tracker:  tracker,
		lastErrs: make(map[string]string),
	}
}

// Run executes the startup backfill immediately, then one runtime-
// lookback fetch per schedule interval until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) {
	defer f.tracker.SetRunStatus(health.ComponentMacro, health.StatusStopped)

	f.logger.Info("macro fetcher started",
		"keys", len(f.cfg.Keys),
		"schedule", f.cfg.Schedule(),
		"startup_lookback_days", f.cfg.StartupLookbackDays)

	f.RunOnce(ctx, time.Now().UTC(), f.cfg.StartupLookbackDays)

	ticker := time.NewTicker(f.cfg.Schedule())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("macro fetcher stopping")
			return
		case <-ticker.C:
			f.RunOnce(ctx, time.Now().UTC(), f.cfg.RuntimeLookbackDays)
		}
	}
}

// RunOnce fetches the lookback window ending at now for every key and
// appends the previously-absent rows. The stop signal is checked
// between keys so shutdown never waits out a long backfill.
func (f *Fetcher) RunOnce(ctx context.Context, now time.Time, lookbackDays int) {
	start := time.Now().UTC()
	f.tracker.BeginRun(health.ComponentMacro, start)

	var (
		total  int64
		failed []string
	)
	for _, key := range f.cfg.Keys {
		if ctx.Err() != nil {
			break
		}
		rows, err := f.fetchKey(ctx, key, now, lookbackDays)
		f.mu.Lock()
		if err != nil {
			f.lastErrs[key] = err.Error()
			failed = append(failed, key)
			f.mu.Unlock()
			f.logger.Error("macro fetch failed", "key", key, "error", err)
			continue
		}
		delete(f.lastErrs, key)
		f.mu.Unlock()
		total += int64(rows)
	}

	var runErr error
	if len(failed) > 0 {
		runErr = fmt.Errorf("%d of %d keys failed: %v", len(failed), len(f.cfg.Keys), failed)
	}
	end := time.Now().UTC()
	f.tracker.EndRun(health.ComponentMacro, end, total, runErr)
	f.logger.Info("macro run finished",
		"keys", len(f.cfg.Keys), "rows", total, "failed", len(failed),
		"elapsed", end.Sub(start).Round(time.Millisecond))
}

// fetchKey pulls one key's lookback window and writes the rows whose
// timestamps are not already stored. Returns the number written.
func (f *Fetcher) fetchKey(ctx context.Context, key string, now time.Time, lookbackDays int) (int, error) {
	windowStart := now.AddDate(0, 0, -lookbackDays)
	fetched, err := f.source.FetchMinuteBars(ctx, key, windowStart, now)
	if err != nil {
		return 0, err
	}
	if len(fetched) == 0 {
		f.logger.Debug("provider returned no rows", "key", key)
		return 0, nil
	}

	// The partition walk covers one extra day so a lookback window that
	// starts mid-day still sees that day's stored rows.
	existing := readExisting(f.logger, f.layout, key, now, lookbackDays+1)
	seen := make(map[int64]bool, len(existing))
	for _, r := range existing {
		seen[r.Ts.UnixMilli()] = true
	}

	fresh := make([]types.MacroBar, 0, len(fetched))
	for _, r := range fetched {
		if seen[r.Ts.UnixMilli()] {
			continue
		}
		seen[r.Ts.UnixMilli()] = true
		fresh = append(fresh, r)
	}
	if len(fresh) == 0 {
		f.logger.Debug("no new rows", "key", key, "fetched", len(fetched))
		return 0, nil
	}

	written, err := writePartitioned(f.layout.MacroKeyRoot(key), fresh, "snappy")
	if err != nil {
		return written, err
	}
	f.logger.Info("macro rows written",
		"key", key, "fetched", len(fetched), "written", written)
	return written, nil
}

// LastErrors returns a copy of the per-key failure map.
func (f *Fetcher) LastErrors() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.lastErrs))
	for k, v := range f.lastErrs {
		out[k] = v
	}
	return out
}
