package journal

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"cryptolake/pkg/types"
)

func newTestWriter(t *testing.T, interval time.Duration) (*Writer, string) {
	t.Helper()
	base := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWriter(logger, base, "BTCUSDT", interval), base
}

func tradeEvent(ts int64) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		Exchange:   "binance",
		Symbol:     "BTCUSDT",
		TsEvent:    ts,
		TsRecv:     ts + 5,
		StreamKind: types.StreamTrade,
		Price:      types.Ptr(decimal.NewFromFloat(97000.5)),
		Qty:        types.Ptr(decimal.NewFromFloat(0.25)),
		Side:       types.Buy,
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Count(string(data), "\n")
}

func TestWriterRotatesOnIntervalBoundary(t *testing.T) {
	t.Parallel()

	w, base := newTestWriter(t, time.Minute)
	defer w.Close()

	t0 := time.Date(2025, 1, 1, 12, 0, 30, 0, time.UTC)
	for i, ts := range []time.Time{t0, t0.Add(15 * time.Second)} {
		if err := w.writeAt(tradeEvent(int64(i)), ts); err != nil {
			t.Fatalf("writeAt(%v): %v", ts, err)
		}
	}
	// 12:01:00 is the next multiple of the interval past the open time.
	if err := w.writeAt(tradeEvent(2), t0.Add(35*time.Second)); err != nil {
		t.Fatalf("writeAt after boundary: %v", err)
	}

	day := filepath.Join(base, "BTCUSDT", "2025-01-01")
	if got := countLines(t, filepath.Join(day, "part_001.jsonl")); got != 2 {
		t.Errorf("part_001 lines = %d, want 2", got)
	}
	if got := countLines(t, filepath.Join(day, "part_002.jsonl")); got != 1 {
		t.Errorf("part_002 lines = %d, want 1", got)
	}
}

func TestWriterDayRolloverResetsParts(t *testing.T) {
	t.Parallel()

	w, base := newTestWriter(t, time.Minute)
	defer w.Close()

	lastSecond := time.Date(2025, 1, 1, 23, 59, 59, 0, time.UTC)
	if err := w.writeAt(tradeEvent(1), lastSecond); err != nil {
		t.Fatalf("writeAt day one: %v", err)
	}
	if err := w.writeAt(tradeEvent(2), lastSecond.Add(2*time.Second)); err != nil {
		t.Fatalf("writeAt day two: %v", err)
	}

	dayOne := filepath.Join(base, "BTCUSDT", "2025-01-01", "part_001.jsonl")
	dayTwo := filepath.Join(base, "BTCUSDT", "2025-01-02", "part_001.jsonl")
	for _, p := range []string{dayOne, dayTwo} {
		if got := countLines(t, p); got != 1 {
			t.Errorf("%s lines = %d, want 1", p, got)
		}
	}
}

func TestWriterResumesPartNumberingAfterRestart(t *testing.T) {
	t.Parallel()

	w, base := newTestWriter(t, time.Minute)
	defer w.Close()

	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	day := filepath.Join(base, "BTCUSDT", "2025-01-01")
	if err := os.MkdirAll(day, 0o755); err != nil {
		t.Fatal(err)
	}
	// Parts left behind by an earlier process on the same day.
	for _, name := range []string{"part_003.jsonl", "part_007.jsonl", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(day, name), []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.writeAt(tradeEvent(1), now); err != nil {
		t.Fatalf("writeAt: %v", err)
	}
	if _, err := os.Stat(filepath.Join(day, "part_008.jsonl")); err != nil {
		t.Errorf("expected part_008.jsonl after scan: %v", err)
	}
}

func TestWriterLinesAreCanonicalJSON(t *testing.T) {
	t.Parallel()

	w, base := newTestWriter(t, time.Minute)

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := w.writeAt(tradeEvent(1735725600000), now); err != nil {
		t.Fatalf("writeAt: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	path := filepath.Join(base, "BTCUSDT", "2025-01-01", "part_001.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read part: %v", err)
	}
	line := strings.TrimRight(string(data), "\n")
	if strings.Contains(line, "\n") {
		t.Fatalf("expected exactly one line, got: %q", data)
	}
	if !strings.Contains(line, `"price":97000.5`) {
		t.Errorf("price not a bare JSON number: %s", line)
	}
	if !strings.Contains(line, `"stream_kind":"trade"`) {
		t.Errorf("missing stream_kind: %s", line)
	}
}

func TestWriterReopensAfterClose(t *testing.T) {
	t.Parallel()

	w, base := newTestWriter(t, time.Minute)

	now := time.Date(2025, 1, 1, 10, 0, 10, 0, time.UTC)
	if err := w.writeAt(tradeEvent(1), now); err != nil {
		t.Fatalf("writeAt: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Still inside the same rotation window: the same part grows.
	if err := w.writeAt(tradeEvent(2), now.Add(5*time.Second)); err != nil {
		t.Fatalf("writeAt after Close: %v", err)
	}
	w.Close()

	path := filepath.Join(base, "BTCUSDT", "2025-01-01", "part_001.jsonl")
	if got := countLines(t, path); got != 2 {
		t.Errorf("part_001 lines = %d, want 2", got)
	}
}

func TestWriterSanitizesSymbolDirectories(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWriter(logger, base, "BTC/USD", time.Minute)
	defer w.Close()

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := w.writeAt(tradeEvent(1), now); err != nil {
		t.Fatalf("writeAt: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "BTC-USD", "2025-01-01", "part_001.jsonl")); err != nil {
		t.Errorf("sanitised symbol dir missing: %v", err)
	}
}
