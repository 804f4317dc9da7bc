package health

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"cryptolake/internal/paths"
)

// FileCounts summarises today's on-disk output volumes.
type FileCounts struct {
	RawCountToday    int   `json:"raw_count_today"`
	ParquetRowsToday int64 `json:"parquet_1s_rows_today"`
	MacroRowsToday   int64 `json:"macro_min_rows_today"`
}

// CountFiles scans the lake for the given UTC day: raw part files on
// disk, bar rows in the parquet tree, and scheduled-fetch rows in the
// macro tree. Missing directories and unreadable files count as zero;
// the heartbeat must never fail because nothing has been written yet.
func CountFiles(logger *slog.Logger, layout *paths.Layout, now time.Time) FileCounts {
	var fc FileCounts

	rawPattern := filepath.Join(layout.Root(), "raw", "*", "*", paths.DayString(now), "part_*.jsonl")
	if matches, err := filepath.Glob(rawPattern); err == nil {
		fc.RawCountToday = len(matches)
	}

	barsPattern := filepath.Join(paths.PartitionDir(filepath.Join(layout.Root(), "parquet", "*", "*"), now), "*.parquet")
	fc.ParquetRowsToday = sumRows(logger, barsPattern)

	macroPattern := filepath.Join(paths.PartitionDir(filepath.Join(layout.Root(), "macro", "minute", "*"), now), "*.parquet")
	fc.MacroRowsToday = sumRows(logger, macroPattern)

	return fc
}

func sumRows(logger *slog.Logger, pattern string) int64 {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0
	}
	var total int64
	for _, path := range matches {
		n, err := numRows(path)
		if err != nil {
			logger.Debug("skipping unreadable parquet file", "path", path, "error", err)
			continue
		}
		total += n
	}
	return total
}

// numRows reads the footer only; row counts never require scanning
// column data.
func numRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return 0, err
	}
	return pf.NumRows(), nil
}
