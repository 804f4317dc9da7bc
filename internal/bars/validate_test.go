package bars

import (
	"os"
	"strings"
	"testing"
	"time"

	"cryptolake/internal/paths"
	"cryptolake/pkg/types"
)

func TestValidateDayCleanData(t *testing.T) {
	t.Parallel()

	layout := paths.New(t.TempDir())
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]types.BarRecord, 0, 3)
	for i := 0; i < 3; i++ {
		r := barRow(day.Add(time.Duration(i)*time.Second), 10.0)
		r.Bid = types.Ptr(9.9)
		r.Ask = types.Ptr(10.1)
		r.Spread = types.Ptr(*r.Ask - *r.Bid)
		rows = append(rows, r)
	}
	if _, err := WritePartitioned(layout.ParquetSymbolRoot("binance", "ADAUSDT"), rows, "snappy"); err != nil {
		t.Fatalf("WritePartitioned: %v", err)
	}

	rep, err := ValidateDay(layout, "binance", "ADAUSDT", day, 1)
	if err != nil {
		t.Fatalf("ValidateDay: %v", err)
	}
	if rep.Rows != 3 {
		t.Errorf("Rows = %d, want 3", rep.Rows)
	}
	for name, got := range map[string]int{
		"Duplicates":       rep.Duplicates,
		"MissingSeconds":   rep.MissingSeconds,
		"OHLCViolations":   rep.OHLCViolations,
		"VwapViolations":   rep.VwapViolations,
		"SpreadMismatches": rep.SpreadMismatches,
	} {
		if got != 0 {
			t.Errorf("%s = %d, want 0", name, got)
		}
	}
	if lines := rep.Lines(); !strings.Contains(lines, "missing_seconds: 0") {
		t.Errorf("Lines() missing field:\n%s", lines)
	}
}

func TestValidateDayCountsGapsAndDuplicates(t *testing.T) {
	t.Parallel()

	layout := paths.New(t.TempDir())
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	root := layout.ParquetSymbolRoot("binance", "ADAUSDT")

	first := []types.BarRecord{
		barRow(day, 1.0),
		barRow(day.Add(time.Second), 1.1),
	}
	if _, err := WritePartitioned(root, first, "snappy"); err != nil {
		t.Fatalf("WritePartitioned(first): %v", err)
	}
	rerun := []types.BarRecord{
		barRow(day.Add(time.Second), 1.2), // supersedes the first write
		barRow(day.Add(5*time.Second), 1.3),
	}
	if _, err := WritePartitioned(root, rerun, "snappy"); err != nil {
		t.Fatalf("WritePartitioned(rerun): %v", err)
	}

	rep, err := ValidateDay(layout, "binance", "ADAUSDT", day, 1)
	if err != nil {
		t.Fatalf("ValidateDay: %v", err)
	}
	if rep.Rows != 3 {
		t.Errorf("Rows = %d, want 3 after dedup", rep.Rows)
	}
	if rep.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", rep.Duplicates)
	}
	// Windows 2, 3 and 4 are absent between second 1 and second 5.
	if rep.MissingSeconds != 3 {
		t.Errorf("MissingSeconds = %d, want 3", rep.MissingSeconds)
	}
}

func TestValidateDayFlagsInvariantViolations(t *testing.T) {
	t.Parallel()

	layout := paths.New(t.TempDir())
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	badOHLC := types.BarRecord{
		Symbol:      "ADAUSDT",
		WindowStart: day,
		Open:        types.Ptr(2.0),
		High:        types.Ptr(2.0),
		Low:         types.Ptr(3.0), // low above open and close
		Close:       types.Ptr(2.0),
	}
	badVwap := barRow(day.Add(time.Second), 1.5)
	badVwap.High = types.Ptr(2.0)
	badVwap.Low = types.Ptr(1.0)
	badVwap.Vwap = types.Ptr(5.0)
	badSpread := barRow(day.Add(2*time.Second), 10.0)
	badSpread.Bid = types.Ptr(10.0)
	badSpread.Ask = types.Ptr(11.0)
	badSpread.Spread = types.Ptr(5.0)

	rows := []types.BarRecord{badOHLC, badVwap, badSpread}
	if _, err := WritePartitioned(layout.ParquetSymbolRoot("binance", "ADAUSDT"), rows, "snappy"); err != nil {
		t.Fatalf("WritePartitioned: %v", err)
	}

	rep, err := ValidateDay(layout, "binance", "ADAUSDT", day, 1)
	if err != nil {
		t.Fatalf("ValidateDay: %v", err)
	}
	if rep.OHLCViolations != 1 {
		t.Errorf("OHLCViolations = %d, want 1", rep.OHLCViolations)
	}
	if rep.VwapViolations != 1 {
		t.Errorf("VwapViolations = %d, want 1", rep.VwapViolations)
	}
	if rep.SpreadMismatches != 1 {
		t.Errorf("SpreadMismatches = %d, want 1", rep.SpreadMismatches)
	}
}

func TestValidateDayMissingPartitionsIsZeroRows(t *testing.T) {
	t.Parallel()

	layout := paths.New(t.TempDir())
	rep, err := ValidateDay(layout, "binance", "ADAUSDT", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 1)
	if err != nil {
		t.Fatalf("ValidateDay: %v", err)
	}
	if rep.Rows != 0 || rep.Duplicates != 0 {
		t.Errorf("empty day report = %+v, want zero counts", rep)
	}
}

func TestWriteReportSanitizesSymbolPath(t *testing.T) {
	t.Parallel()

	layout := paths.New(t.TempDir())
	rep := &Report{Exchange: "kraken", Symbol: "BTC/USD", Date: "2025-01-01", Rows: 7}

	path, err := WriteReport(layout, rep)
	if err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if !strings.HasSuffix(path, "kraken_BTC-USD_2025-01-01.txt") {
		t.Errorf("path = %q, want sanitized file name", path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(body), "symbol: BTC/USD") {
		t.Errorf("report body keeps the venue spelling, got:\n%s", body)
	}
	if !strings.Contains(string(body), "rows: 7") {
		t.Errorf("report body missing rows, got:\n%s", body)
	}
}
