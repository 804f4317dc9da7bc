package health

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"cryptolake/internal/bus"
	"cryptolake/internal/paths"
)

func newTestReporter(t *testing.T) (*Reporter, *Tracker, *paths.Layout) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	layout := paths.New(t.TempDir())
	tracker := NewTracker()
	b := bus.New(logger, 8)
	return NewReporter(logger, layout, tracker, b, time.Minute, false), tracker, layout
}

func TestWriteNowProducesBothArtifacts(t *testing.T) {
	t.Parallel()

	r, tracker, layout := newTestReporter(t)
	tracker.SetCollectorStatus("binance", StatusRunning)
	tracker.MarkCollectorSeen("binance", time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	tracker.SetCollectorLatency("binance", 12.0, 44.5, 130.2)

	if err := r.WriteNow(time.Date(2026, 1, 15, 12, 0, 30, 0, time.UTC)); err != nil {
		t.Fatalf("WriteNow error: %v", err)
	}

	raw, err := os.ReadFile(layout.HeartbeatPath())
	if err != nil {
		t.Fatalf("read heartbeat: %v", err)
	}
	var hb map[string]any
	if err := json.Unmarshal(raw, &hb); err != nil {
		t.Fatalf("heartbeat is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts_utc", "status", "collector", "macro_minute", "transformer", "bus", "files", "disk", "mode"} {
		if _, ok := hb[key]; !ok {
			t.Errorf("heartbeat missing key %q", key)
		}
	}
	if hb["status"] != "running" {
		t.Errorf("status = %v, want running", hb["status"])
	}
	if hb["mode"] != "PRODUCTION" {
		t.Errorf("mode = %v, want PRODUCTION", hb["mode"])
	}

	md, err := os.ReadFile(layout.HealthReportPath())
	if err != nil {
		t.Fatalf("read health report: %v", err)
	}
	report := string(md)
	for _, want := range []string{
		"# Crypto Lake Health Report",
		"[OK] HEALTHY",
		"| Status | RUNNING |",
		"| Latency P95 | 44.5 ms |",
		"| Latency Max | 130.2 ms |",
		"## Data Volume (Today)",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("health report missing %q", want)
		}
	}
}

func TestWriteNowAfterShutdownMarksStopped(t *testing.T) {
	t.Parallel()

	r, tracker, layout := newTestReporter(t)
	tracker.SetCollectorStatus("binance", StatusRunning)
	tracker.MarkAllStopped()

	if err := r.WriteNow(time.Now()); err != nil {
		t.Fatalf("WriteNow error: %v", err)
	}
	md, err := os.ReadFile(layout.HealthReportPath())
	if err != nil {
		t.Fatalf("read health report: %v", err)
	}
	if !strings.Contains(string(md), "[STOPPED] STOPPED") {
		t.Error("health report does not show [STOPPED] STOPPED after shutdown")
	}
}

func TestWriteNowBeforeFirstDialShowsStarting(t *testing.T) {
	t.Parallel()

	r, tracker, layout := newTestReporter(t)
	tracker.RegisterCollector("binance")

	if err := r.WriteNow(time.Now()); err != nil {
		t.Fatalf("WriteNow error: %v", err)
	}
	raw, err := os.ReadFile(layout.HeartbeatPath())
	if err != nil {
		t.Fatalf("read heartbeat: %v", err)
	}
	if !strings.Contains(string(raw), `"status": "starting"`) {
		t.Errorf("first heartbeat status not starting:\n%s", raw)
	}
	md, err := os.ReadFile(layout.HealthReportPath())
	if err != nil {
		t.Fatalf("read health report: %v", err)
	}
	if !strings.Contains(string(md), "[STARTING] STARTING") {
		t.Error("health report does not show [STARTING] STARTING before first dial")
	}
}

func TestCountFilesTalliesRawParts(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	layout := paths.New(t.TempDir())
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	for _, rel := range []string{
		"raw/binance/BTCUSDT/2026-01-15/part_001.jsonl",
		"raw/binance/BTCUSDT/2026-01-15/part_002.jsonl",
		"raw/kraken/BTC-USD/2026-01-15/part_001.jsonl",
		"raw/binance/BTCUSDT/2026-01-14/part_009.jsonl", // yesterday, excluded
		"raw/binance/BTCUSDT/2026-01-15/notes.txt",      // not a part file
	} {
		path := filepath.Join(layout.Root(), rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	fc := CountFiles(logger, layout, now)
	if fc.RawCountToday != 3 {
		t.Errorf("RawCountToday = %d, want 3", fc.RawCountToday)
	}
	if fc.ParquetRowsToday != 0 || fc.MacroRowsToday != 0 {
		t.Errorf("parquet/macro rows = %d/%d, want 0/0 on empty tree", fc.ParquetRowsToday, fc.MacroRowsToday)
	}
}

func TestCountFilesSkipsCorruptParquet(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	layout := paths.New(t.TempDir())
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	dir := paths.PartitionDir(layout.ParquetSymbolRoot("binance", "BTCUSDT"), now)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.parquet"), []byte("not parquet"), 0o644); err != nil {
		t.Fatal(err)
	}

	fc := CountFiles(logger, layout, now)
	if fc.ParquetRowsToday != 0 {
		t.Errorf("ParquetRowsToday = %d, want 0 when footer unreadable", fc.ParquetRowsToday)
	}
}

func TestOverallVerdicts(t *testing.T) {
	t.Parallel()

	running := CollectorCell{Status: StatusRunning}
	tests := []struct {
		name string
		snap Snapshot
		want string
	}{
		{"healthy", Snapshot{Collector: running, Macro: RunCell{Status: StatusIdle}}, "HEALTHY"},
		{"macro disabled still healthy", Snapshot{Collector: running, Macro: RunCell{Status: StatusDisabled}}, "HEALTHY"},
		{"collector error", Snapshot{Collector: CollectorCell{Status: StatusError}}, "ERROR"},
		{"transformer error", Snapshot{Collector: running, Macro: RunCell{Status: StatusIdle}, Transformer: RunCell{Status: StatusError}}, "ERROR"},
		{"starting", Snapshot{Collector: CollectorCell{Status: StatusIdle}}, "STARTING"},
		{"stopped", Snapshot{Collector: CollectorCell{Status: StatusStopped}}, "STOPPED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, label, _ := overall(tt.snap)
			if label != tt.want {
				t.Errorf("overall = %q, want %q", label, tt.want)
			}
		})
	}
}

func TestGroupInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{86400, "86,400"},
		{1234567, "1,234,567"},
	}
	for _, tt := range tests {
		if got := groupInt(tt.n); got != tt.want {
			t.Errorf("groupInt(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
