// store.go holds the partitioned parquet I/O for macro minute bars.
package macro

import (
	"fmt"
	"log/slog"
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

// writePartitioned appends rows to the key's hive partition tree, one
// new part file per touched day, finished with tmp+rename.
func writePartitioned(root string, rows []types.MacroBar, compression string) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	codec := codecFor(compression)

	groups := make(map[string][]types.MacroBar)
	var order []string
	for _, r := range rows {
		dir := paths.PartitionDir(root, r.Ts)
		if _, ok := groups[dir]; !ok {
			order = append(order, dir)
		}
		groups[dir] = append(groups[dir], r)
	}

	written := 0
	for _, dir := range order {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return written, fmt.Errorf("create partition dir: %w", err)
		}
		path := filepath.Join(dir, "part-"+uuid.NewString()+".parquet")
		tmp := path + ".tmp"
		if err := parquet.WriteFile(tmp, groups[dir], parquet.Compression(codec)); err != nil {
			os.Remove(tmp)
			return written, fmt.Errorf("write %s: %w", tmp, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return written, fmt.Errorf("finalize %s: %w", path, err)
		}
		written += len(groups[dir])
	}
	return written, nil
}

// readExisting loads every stored row for key across the lookback day
// partitions ending at now. Unreadable files are skipped with a
// warning: deduplicating against a partial view only re-writes rows
// that already exist, which read-side dedup absorbs.
func readExisting(logger *slog.Logger, layout *paths.Layout, key string, now time.Time, days int) []types.MacroBar {
	var rows []types.MacroBar
	for d := days - 1; d >= 0; d-- {
		dir := layout.MacroDayDir(key, now.AddDate(0, 0, -d))
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue // missing partition, nothing stored that day
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".parquet") {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(dir, name)
			part, err := parquet.ReadFile[types.MacroBar](path)
			if err != nil {
				logger.Warn("skipping unreadable macro file", "path", path, "error", err)
				continue
			}
			rows = append(rows, part...)
		}
	}
	return rows
}
