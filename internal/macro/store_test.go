package macro

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cryptolake/internal/paths"
	"cryptolake/pkg/types"
)

func TestWritePartitionedGroupsByDay(t *testing.T) {
	t.Parallel()

	layout := paths.New(t.TempDir())
	root := layout.MacroKeyRoot("SPY")

	// One row before midnight, two after: two partitions.
	rows := []types.MacroBar{
		{Ts: time.Date(2025, 3, 9, 23, 59, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1, Key: "SPY"},
		{Ts: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), Open: 2, High: 2, Low: 2, Close: 2, Key: "SPY"},
		{Ts: time.Date(2025, 3, 10, 0, 1, 0, 0, time.UTC), Open: 3, High: 3, Low: 3, Close: 3, Key: "SPY"},
	}
	written, err := writePartitioned(root, rows, "snappy")
	if err != nil {
		t.Fatalf("writePartitioned: %v", err)
	}
	if written != 3 {
		t.Errorf("written = %d, want 3", written)
	}

	for _, day := range []time.Time{rows[0].Ts, rows[1].Ts} {
		matches, err := filepath.Glob(filepath.Join(paths.PartitionDir(root, day), "*.parquet"))
		if err != nil || len(matches) != 1 {
			t.Errorf("partition for %s: files = %v, err = %v", paths.DayString(day), matches, err)
		}
	}
	if matches, _ := filepath.Glob(filepath.Join(root, "*", "*", "*", "*.tmp")); len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestWritePartitionedEmptyRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	written, err := writePartitioned(filepath.Join(dir, "SPY"), nil, "snappy")
	if err != nil {
		t.Fatalf("writePartitioned: %v", err)
	}
	if written != 0 {
		t.Errorf("written = %d, want 0", written)
	}
	if _, err := os.Stat(filepath.Join(dir, "SPY")); !os.IsNotExist(err) {
		t.Errorf("tree created for empty input, stat err = %v", err)
	}
}

func TestReadExistingWalksLookbackDays(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	layout := paths.New(t.TempDir())
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	rows := []types.MacroBar{
		{Ts: now.AddDate(0, 0, -2), Open: 1, High: 1, Low: 1, Close: 1, Key: "SPY"},
		{Ts: now.AddDate(0, 0, -1), Open: 2, High: 2, Low: 2, Close: 2, Key: "SPY"},
		{Ts: now.Add(-time.Hour), Open: 3, High: 3, Low: 3, Close: 3, Key: "SPY"},
	}
	if _, err := writePartitioned(layout.MacroKeyRoot("SPY"), rows, "snappy"); err != nil {
		t.Fatalf("writePartitioned: %v", err)
	}

	// Two-day lookback covers yesterday and today but not the oldest row.
	got := readExisting(logger, layout, "SPY", now, 2)
	if len(got) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(got))
	}

	if got := readExisting(logger, layout, "QQQ", now, 2); len(got) != 0 {
		t.Errorf("unknown key rows = %d, want 0", len(got))
	}
}
