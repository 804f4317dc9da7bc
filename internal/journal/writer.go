// Package journal persists canonical events as append-only JSON lines
// and reads them back for aggregation.
//
// One Writer owns one (exchange, symbol) stream. Files live under
// <raw>/<symbol>/<YYYY-MM-DD>/part_NNN.jsonl and rotate on a fixed
// wall-clock window (next multiple of the interval past the open time)
// and on UTC day change. Part numbering restarts each day at the next
// unused index, discovered by scanning the day directory once.
package journal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"cryptolake/internal/paths"
	"cryptolake/pkg/types"
)

// Writer appends events for a single symbol. Not safe for concurrent
// use: each ingestor exclusively owns its writers.
type Writer struct {
	logger   *slog.Logger
	baseDir  string // raw root for the exchange
	symbol   string
	interval time.Duration

	f            *os.File
	currentDay   string
	partIndex    int
	nextRotation time.Time
}

// NewWriter returns a Writer for one symbol under the exchange's raw
// directory. No file is opened until the first write.
func NewWriter(logger *slog.Logger, baseDir, symbol string, interval time.Duration) *Writer {
	return &Writer{
		logger:   logger.With("component", "journal", "symbol", symbol),
		baseDir:  baseDir,
		symbol:   symbol,
		interval: interval,
	}
}

// Write appends one event as a single JSON line, opening or rotating
// the underlying file as needed. On I/O failure the event is lost and
// the error returned; the writer recovers on a later call.
func (w *Writer) Write(ev *types.CanonicalEvent) error {
	return w.writeAt(ev, time.Now())
}

func (w *Writer) writeAt(ev *types.CanonicalEvent, now time.Time) error {
	if err := w.rotateIfNeeded(now); err != nil {
		return err
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	line = append(line, '\n')
	if _, err := w.f.Write(line); err != nil {
		return fmt.Errorf("append %s: %w", w.f.Name(), err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded(now time.Time) error {
	if w.f == nil {
		return w.openNew(now)
	}
	if !now.Before(w.nextRotation) {
		w.partIndex++
		return w.openNew(now)
	}
	return nil
}

// openNew closes the current file (if any) and opens the next part for
// the UTC day containing now. On failure the writer stays unopened so
// the next write retries.
func (w *Writer) openNew(now time.Time) error {
	day := paths.DayString(now)
	if day != w.currentDay {
		w.currentDay = day
		w.partIndex = 0
	}

	dir := filepath.Join(w.baseDir, paths.SanitizeSymbol(w.symbol), w.currentDay)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create day dir: %w", err)
	}
	if w.partIndex == 0 {
		w.partIndex = nextPartIndex(dir)
	}

	path := filepath.Join(dir, paths.PartFileName(w.partIndex))
	if w.f != nil {
		w.closeCurrent()
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	w.f = f

	intervalSec := int64(w.interval / time.Second)
	window := now.Unix() / intervalSec * intervalSec
	w.nextRotation = time.Unix(window+intervalSec, 0).UTC()

	w.logger.Info("opened journal part", "path", path, "next_rotation", w.nextRotation.Format(time.RFC3339))
	return nil
}

// nextPartIndex scans a day directory once and returns one past the
// highest existing part number, or 1 for a fresh directory.
func nextPartIndex(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}
	maxPart := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".jsonl") || !strings.HasPrefix(name, "part_") {
			continue
		}
		numStr := strings.TrimSuffix(strings.TrimPrefix(name, "part_"), filepath.Ext(name))
		idx, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		if idx > maxPart {
			maxPart = idx
		}
	}
	return maxPart + 1
}

// Close flushes and closes the current part. Idempotent; a later Write
// reopens a fresh part.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	w.closeCurrent()
	return nil
}

func (w *Writer) closeCurrent() {
	if err := w.f.Sync(); err != nil {
		w.logger.Warn("sync journal part", "path", w.f.Name(), "error", err)
	}
	if err := w.f.Close(); err != nil {
		w.logger.Warn("close journal part", "path", w.f.Name(), "error", err)
	}
	w.f = nil
}
