package bars

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cryptolake/internal/paths"
)

// Report summarises the integrity checks for one symbol-day of bars.
// Counts are over the deduplicated rows; Duplicates is how many rows
// the deduplication removed.
type Report struct {
	Exchange         string
	Symbol           string
	Date             string
	Rows             int
	Duplicates       int
	MissingSeconds   int
	OHLCViolations   int
	VwapViolations   int
	SpreadMismatches int
}

// Lines renders the report as "key: value" lines, one per field.
func (r *Report) Lines() string {
	var b strings.Builder
	fmt.Fprintf(&b, "exchange: %s\n", r.Exchange)
	fmt.Fprintf(&b, "symbol: %s\n", r.Symbol)
	fmt.Fprintf(&b, "date: %s\n", r.Date)
	fmt.Fprintf(&b, "rows: %d\n", r.Rows)
	fmt.Fprintf(&b, "duplicates: %d\n", r.Duplicates)
	fmt.Fprintf(&b, "missing_seconds: %d\n", r.MissingSeconds)
	fmt.Fprintf(&b, "ohlc_violations: %d\n", r.OHLCViolations)
	fmt.Fprintf(&b, "vwap_violations: %d\n", r.VwapViolations)
	fmt.Fprintf(&b, "spread_mismatches: %d\n", r.SpreadMismatches)
	return b.String()
}

// ValidateDay re-reads one symbol-day of bar partitions, deduplicates
// by window, and checks continuity plus per-row invariants: OHLC
// ordering, vwap within [low, high], and spread consistent with
// ask − bid. A day with no partitions yet validates as zero rows.
func ValidateDay(layout *paths.Layout, exchange, symbol string, day time.Time, intervalSec int) (*Report, error) {
	if intervalSec <= 0 {
		intervalSec = 1
	}
	raw, err := ReadDay(layout.ParquetDayDir(exchange, symbol, day))
	if err != nil {
		return nil, err
	}
	rows := Dedup(raw)

	rep := &Report{
		Exchange:   exchange,
		Symbol:     symbol,
		Date:       paths.DayString(day),
		Rows:       len(rows),
		Duplicates: len(raw) - len(rows),
	}

	step := int64(intervalSec)
	for i, r := range rows {
		if i > 0 {
			gap := (r.WindowStart.UnixMilli() - rows[i-1].WindowStart.UnixMilli()) / 1000
			if gap > step {
				rep.MissingSeconds += int(gap/step) - 1
			}
		}
		if r.Open != nil && r.High != nil && r.Low != nil && r.Close != nil {
			if *r.Low > *r.Open || *r.Low > *r.Close || *r.Open > *r.High || *r.Close > *r.High {
				rep.OHLCViolations++
			}
		}
		if r.Vwap != nil && r.Low != nil && r.High != nil {
			tol := floatTolerance(*r.High)
			if *r.Vwap < *r.Low-tol || *r.Vwap > *r.High+tol {
				rep.VwapViolations++
			}
		}
		if r.Spread != nil && r.Bid != nil && r.Ask != nil {
			if math.Abs(*r.Spread-(*r.Ask-*r.Bid)) > floatTolerance(*r.Ask) {
				rep.SpreadMismatches++
			}
		}
	}
	return rep, nil
}

// floatTolerance scales the comparison slack with price magnitude, so
// float64 conversion noise on large prices does not count as a
// violation.
func floatTolerance(v float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(v))
}

// WriteReport stores the report under logs/validation and returns the
// file path.
func WriteReport(layout *paths.Layout, rep *Report) (string, error) {
	path := layout.ValidationReportPath(rep.Exchange, rep.Symbol, rep.Date)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create validation dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(rep.Lines()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
