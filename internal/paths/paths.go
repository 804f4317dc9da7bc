// Package paths centralises the on-disk layout of the lake.
//
// Every component resolves file locations through Layout so the tree
// shape lives in exactly one place:
//
//	<root>/raw/<exchange>/<symbol>/<YYYY-MM-DD>/part_NNN.jsonl
//	<root>/parquet/<exchange>/<symbol>/year=Y/month=M/day=D/*.parquet
//	<root>/macro/minute/<key>/year=Y/month=M/day=D/*.parquet
//	<root>/logs/health/heartbeat.json
//	<root>/reports/health.md
//
// All date reasoning is UTC.
package paths

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Layout resolves lake file locations under a single root directory.
type Layout struct {
	root string
}

// New returns a Layout rooted at dir.
func New(dir string) *Layout {
	return &Layout{root: dir}
}

// Root returns the lake root directory.
func (l *Layout) Root() string {
	return l.root
}

// DayString formats t as the UTC date string used in raw day directories.
func DayString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// SanitizeSymbol makes a venue symbol safe as a single path component:
// "BTC/USD" becomes "BTC-USD". Symbols without separators pass through.
func SanitizeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "-")
}

// PartFileName returns the raw journal file name for a part index,
// e.g. PartFileName(3) = "part_003.jsonl".
func PartFileName(idx int) string {
	return fmt.Sprintf("part_%03d.jsonl", idx)
}

// PartitionDir returns the hive-style partition directory for t under
// root: root/year=2025/month=1/day=2. Partition values are unpadded to
// stay byte-compatible with existing reader tooling.
func PartitionDir(root string, t time.Time) string {
	t = t.UTC()
	return filepath.Join(root,
		fmt.Sprintf("year=%d", t.Year()),
		fmt.Sprintf("month=%d", int(t.Month())),
		fmt.Sprintf("day=%d", t.Day()),
	)
}

// RawExchangeDir is the raw journal root for one exchange.
func (l *Layout) RawExchangeDir(exchange string) string {
	return filepath.Join(l.root, "raw", exchange)
}

// RawSymbolDayDir is the directory holding one symbol's journal parts
// for one UTC day.
func (l *Layout) RawSymbolDayDir(exchange, symbol, day string) string {
	return filepath.Join(l.RawExchangeDir(exchange), SanitizeSymbol(symbol), day)
}

// ParquetExchangeRoot is the columnar output root for one exchange.
func (l *Layout) ParquetExchangeRoot(exchange string) string {
	return filepath.Join(l.root, "parquet", exchange)
}

// ParquetSymbolRoot is the partitioned bar root for one symbol.
func (l *Layout) ParquetSymbolRoot(exchange, symbol string) string {
	return filepath.Join(l.ParquetExchangeRoot(exchange), SanitizeSymbol(symbol))
}

// ParquetDayDir is the bar partition directory for one symbol and day.
func (l *Layout) ParquetDayDir(exchange, symbol string, t time.Time) string {
	return PartitionDir(l.ParquetSymbolRoot(exchange, symbol), t)
}

// CompactedDayPath is the single-file parquet a finished day compacts
// into, beside the day's hive partitions.
func (l *Layout) CompactedDayPath(exchange, symbol, day string) string {
	return filepath.Join(l.ParquetSymbolRoot(exchange, symbol), day+".parquet")
}

// CompactedMetaPath is the JSON sidecar recording the compacted day's
// row counts and checksum. Its presence marks the day as done.
func (l *Layout) CompactedMetaPath(exchange, symbol, day string) string {
	return filepath.Join(l.ParquetSymbolRoot(exchange, symbol), day+".meta.json")
}

// MacroRoot is the root for minute-resolution macro bars.
func (l *Layout) MacroRoot() string {
	return filepath.Join(l.root, "macro", "minute")
}

// MacroKeyRoot is the partitioned root for one macro key. Keys keep
// their provider spelling ("ES=F", "^TNX"); only path separators are
// rewritten.
func (l *Layout) MacroKeyRoot(key string) string {
	return filepath.Join(l.MacroRoot(), SanitizeSymbol(key))
}

// MacroDayDir is the macro partition directory for one key and day.
func (l *Layout) MacroDayDir(key string, t time.Time) string {
	return PartitionDir(l.MacroKeyRoot(key), t)
}

// LogsDir is where component logs land.
func (l *Layout) LogsDir() string {
	return filepath.Join(l.root, "logs")
}

// ValidationReportPath is the integrity report location for one
// symbol-day of bars.
func (l *Layout) ValidationReportPath(exchange, symbol, day string) string {
	name := fmt.Sprintf("%s_%s_%s.txt", exchange, SanitizeSymbol(symbol), day)
	return filepath.Join(l.root, "logs", "validation", name)
}

// HeartbeatPath is the machine-readable health snapshot location.
func (l *Layout) HeartbeatPath() string {
	return filepath.Join(l.root, "logs", "health", "heartbeat.json")
}

// HealthReportPath is the human-readable health report location.
func (l *Layout) HealthReportPath() string {
	return filepath.Join(l.root, "reports", "health.md")
}
