// Package storage holds the lake's maintenance jobs: day compaction
// and raw-journal retention.
//
// The compactor turns a finished day's bar partitions into one
// deduplicated parquet file plus a JSON sidecar carrying row counts and
// a checksum, so downstream consumers can read a day without the
// multi-file dedup pass. Retention deletes raw journal parts past their
// keep window and prunes the emptied directories.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"

	"cryptolake/internal/bars"
	"cryptolake/internal/config"
	"cryptolake/internal/health"
	"cryptolake/internal/paths"
	"cryptolake/pkg/types"
)

// DayMeta is the compaction sidecar. Its presence marks the day as
// compacted; reruns skip it.
type DayMeta struct {
	Timezone       string `json:"timezone"`
	Date           string `json:"date"`
	Exchange       string `json:"exchange"`
	Symbol         string `json:"symbol"`
	Rows           int    `json:"rows"`
	MissingSeconds int    `json:"missing_seconds"`
	Duplicates     int    `json:"duplicates"`
	SHA256         string `json:"sha256"`
}

// Compactor sweeps finished days for every configured symbol.
type Compactor struct {
	logger    *slog.Logger
	cfg       config.CompactorConfig
	exchanges []config.ExchangeConfig
	layout    *paths.Layout
	tracker   *health.Tracker
}

// NewCompactor returns a compactor covering every symbol of the given
// exchanges.
func NewCompactor(logger *slog.Logger, cfg config.CompactorConfig, exchanges []config.ExchangeConfig, layout *paths.Layout, tracker *health.Tracker) *Compactor {
	return &Compactor{
		logger:    logger.With("component", "compactor"),
		cfg:       cfg,
		exchanges: exchanges,
		layout:    layout,
		tracker:   tracker,
	}
}

// Run sweeps once per schedule interval until ctx is cancelled. The
// first sweep waits a full interval: a freshly started lake has no
// finished day the aggregator has not already covered.
func (c *Compactor) Run(ctx context.Context) {
	defer c.tracker.SetRunStatus(health.ComponentCompactor, health.StatusStopped)

	c.logger.Info("compactor started", "schedule", c.cfg.Schedule(), "lookback_days", c.cfg.LookbackDays)
	ticker := time.NewTicker(c.cfg.Schedule())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("compactor stopping")
			return
		case <-ticker.C:
			c.RunOnce(ctx, time.Now().UTC())
		}
	}
}

// RunOnce compacts every uncompacted symbol-day in the lookback window
// ending yesterday. Today is never touched: its partitions are still
// being appended to.
func (c *Compactor) RunOnce(ctx context.Context, now time.Time) {
	start := time.Now().UTC()
	c.tracker.BeginRun(health.ComponentCompactor, start)

	var (
		total   int64
		failed  int
		lastErr error
	)
	for d := c.cfg.LookbackDays; d >= 1; d-- {
		day := now.AddDate(0, 0, -d)
		for _, ex := range c.exchanges {
			for _, symbol := range ex.Symbols {
				if ctx.Err() != nil {
					c.tracker.EndRun(health.ComponentCompactor, time.Now().UTC(), total, nil)
					return
				}
				rows, err := c.compactSymbolDay(ex.Name, symbol, day)
				if err != nil {
					c.logger.Error("compaction failed",
						"exchange", ex.Name, "symbol", symbol,
						"day", paths.DayString(day), "error", err)
					failed++
					lastErr = err
					continue
				}
				total += int64(rows)
			}
		}
	}

	var runErr error
	if failed > 0 {
		runErr = fmt.Errorf("%d symbol-day compactions failed, last: %w", failed, lastErr)
	}
	end := time.Now().UTC()
	c.tracker.EndRun(health.ComponentCompactor, end, total, runErr)
	c.logger.Info("compaction sweep finished",
		"rows", total, "failed", failed,
		"elapsed", end.Sub(start).Round(time.Millisecond))
}

// compactSymbolDay writes the day file and sidecar for one symbol-day.
// Returns the number of rows compacted; zero when the day is empty or
// already compacted.
func (c *Compactor) compactSymbolDay(exchange, symbol string, day time.Time) (int, error) {
	dayStr := paths.DayString(day)
	metaPath := c.layout.CompactedMetaPath(exchange, symbol, dayStr)
	if _, err := os.Stat(metaPath); err == nil {
		return 0, nil // sidecar present, day already compacted
	}

	raw, err := bars.ReadDay(c.layout.ParquetDayDir(exchange, symbol, day))
	if err != nil {
		return 0, fmt.Errorf("%s %s %s: %w", exchange, symbol, dayStr, err)
	}
	if len(raw) == 0 {
		return 0, nil
	}
	rows := bars.Dedup(raw)

	dayPath := c.layout.CompactedDayPath(exchange, symbol, dayStr)
	tmp := dayPath + ".tmp"
	if err := parquet.WriteFile(tmp, rows, parquet.Compression(&parquet.Snappy)); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dayPath); err != nil {
		return 0, fmt.Errorf("finalize %s: %w", dayPath, err)
	}

	sum, err := fileSHA256(dayPath)
	if err != nil {
		return 0, fmt.Errorf("checksum %s: %w", dayPath, err)
	}
	meta := DayMeta{
		Timezone:       "UTC",
		Date:           dayStr,
		Exchange:       exchange,
		Symbol:         symbol,
		Rows:           len(rows),
		MissingSeconds: countMissing(rows),
		Duplicates:     len(raw) - len(rows),
		SHA256:         sum,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal meta: %w", err)
	}
	// The sidecar lands last: a crash between the two writes leaves a
	// day file a rerun simply overwrites.
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return 0, fmt.Errorf("write meta: %w", err)
	}

	c.logger.Info("day compacted",
		"exchange", exchange, "symbol", symbol, "day", dayStr,
		"rows", len(rows), "duplicates", meta.Duplicates)
	return len(rows), nil
}

// countMissing counts absent one-second buckets between consecutive
// deduplicated rows.
func countMissing(rows []types.BarRecord) int {
	missing := 0
	for i := 1; i < len(rows); i++ {
		gap := (rows[i].WindowStart.UnixMilli() - rows[i-1].WindowStart.UnixMilli()) / 1000
		if gap > 1 {
			missing += int(gap) - 1
		}
	}
	return missing
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
