package bars

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"cryptolake/internal/paths"
	"cryptolake/pkg/types"
)

// codecFor maps the configured compression name to a parquet codec.
// Config validation restricts the set; anything unexpected falls back
// to snappy, the write default.
func codecFor(name string) compress.Codec {
	switch strings.ToLower(name) {
	case "zstd":
		return &parquet.Zstd
	case "gzip":
		return &parquet.Gzip
	case "none", "uncompressed":
		return &parquet.Uncompressed
	default:
		return &parquet.Snappy
	}
}

// WritePartitioned appends rows to the hive partition tree under root,
// one new part file per touched day. Rows land in the partition of
// their own window_start, so a day of raw input whose tail crosses
// midnight writes into two partitions. Re-runs add files rather than
// replacing them; readers collapse duplicates with Dedup.
func WritePartitioned(root string, rows []types.BarRecord, compression string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	codec := codecFor(compression)

	groups := make(map[string][]types.BarRecord)
	var order []string
	for _, r := range rows {
		dir := paths.PartitionDir(root, r.WindowStart)
		if _, ok := groups[dir]; !ok {
			order = append(order, dir)
		}
		groups[dir] = append(groups[dir], r)
	}

	written := 0
	for _, dir := range order {
		if err := writePart(dir, groups[dir], codec); err != nil {
			return written, err
		}
		written += len(groups[dir])
	}
	return written, nil
}

func writePart(dir string, rows []types.BarRecord, codec compress.Codec) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}
	path := filepath.Join(dir, "part-"+uuid.NewString()+".parquet")
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows, parquet.Compression(codec)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return nil
}

// ReadDay loads every bar row under one partition directory, visiting
// part files in write order (modification time, then name) so that
// Dedup keeps the latest write. A missing directory reads as empty.
func ReadDay(dir string) ([]types.BarRecord, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read partition dir: %w", err)
	}

	type partFile struct {
		name  string
		mtime time.Time
	}
	var files []partFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".parquet") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, partFile{name: e.Name(), mtime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].mtime.Equal(files[j].mtime) {
			return files[i].mtime.Before(files[j].mtime)
		}
		return files[i].name < files[j].name
	})

	var rows []types.BarRecord
	for _, f := range files {
		part, err := parquet.ReadFile[types.BarRecord](filepath.Join(dir, f.name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.name, err)
		}
		rows = append(rows, part...)
	}
	return rows, nil
}

type windowKey struct {
	symbol string
	ms     int64
}

// Dedup collapses duplicate (symbol, window_start) rows, keeping the
// last occurrence. Callers feed it rows in write order, so the latest
// written version of a re-aggregated window wins. The result is sorted
// by window_start, then symbol.
func Dedup(rows []types.BarRecord) []types.BarRecord {
	if len(rows) == 0 {
		return nil
	}
	latest := make(map[windowKey]types.BarRecord, len(rows))
	for _, r := range rows {
		latest[windowKey{symbol: r.Symbol, ms: r.WindowStart.UnixMilli()}] = r
	}
	out := make([]types.BarRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WindowStart.Equal(out[j].WindowStart) {
			return out[i].WindowStart.Before(out[j].WindowStart)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
