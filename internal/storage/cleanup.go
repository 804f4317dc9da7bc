package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cryptolake/internal/config"
	"cryptolake/internal/health"
	"cryptolake/internal/paths"
)

// Retention deletes raw journal parts older than the configured keep
// window and prunes the day directories they leave empty. Bars are
// never touched: the parquet tree is the long-term store.
type Retention struct {
	logger  *slog.Logger
	cfg     config.RetentionConfig
	layout  *paths.Layout
	tracker *health.Tracker
}

// NewRetention returns a retention sweeper over the raw tree.
func NewRetention(logger *slog.Logger, cfg config.RetentionConfig, layout *paths.Layout, tracker *health.Tracker) *Retention {
	return &Retention{
		logger:  logger.With("component", "retention"),
		cfg:     cfg,
		layout:  layout,
		tracker: tracker,
	}
}

// Run sweeps once per schedule interval until ctx is cancelled.
func (r *Retention) Run(ctx context.Context) {
	defer r.tracker.SetRunStatus(health.ComponentRetention, health.StatusStopped)

	r.logger.Info("retention started", "schedule", r.cfg.Schedule(), "retention_days", r.cfg.RetentionDays)
	ticker := time.NewTicker(r.cfg.Schedule())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("retention stopping")
			return
		case <-ticker.C:
			r.RunOnce(time.Now().UTC())
		}
	}
}

// RunOnce deletes raw part files whose modification time is older than
// the keep window, then removes emptied directories bottom-up. Reports
// the number of deleted files through the health cell.
func (r *Retention) RunOnce(now time.Time) {
	start := time.Now().UTC()
	r.tracker.BeginRun(health.ComponentRetention, start)

	cutoff := now.AddDate(0, 0, -r.cfg.RetentionDays)
	deleted, sweepErr := r.sweep(cutoff)

	end := time.Now().UTC()
	r.tracker.EndRun(health.ComponentRetention, end, deleted, sweepErr)
	r.logger.Info("retention sweep finished",
		"deleted", deleted, "cutoff", paths.DayString(cutoff),
		"elapsed", end.Sub(start).Round(time.Millisecond))
}

func (r *Retention) sweep(cutoff time.Time) (int64, error) {
	root := filepath.Join(r.layout.Root(), "raw")

	var (
		deleted int64
		dirs    []string
	)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil // nothing journalled yet
			}
			return err
		}
		if d.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if !strings.HasPrefix(d.Name(), "part_") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil // raced with a concurrent delete
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				r.logger.Warn("delete failed", "path", path, "error", err)
				return nil
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}

	// Deepest first, so a day directory empties before its parent is
	// considered. Remove refuses non-empty directories, which keeps
	// live days safe.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		if err := os.Remove(dir); err == nil {
			r.logger.Debug("pruned empty directory", "path", dir)
		}
	}
	return deleted, nil
}
