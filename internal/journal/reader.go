package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"cryptolake/pkg/types"
)

// maxLineBytes bounds a single journal line during reads. Canonical
// events are tiny; the headroom covers pathological venue payloads.
const maxLineBytes = 1 << 20

// ReadDay loads every event under one symbol-day directory, visiting
// part files in lexicographic name order. Unparsable lines — including
// a final line truncated by a crash — are skipped and counted, never
// fatal. A missing directory reads as empty.
func ReadDay(dir string) (events []*types.CanonicalEvent, skipped int, err error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read day dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".jsonl") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	for _, name := range files {
		fileEvents, fileSkipped, err := readFile(filepath.Join(dir, name))
		if err != nil {
			return nil, skipped, err
		}
		events = append(events, fileEvents...)
		skipped += fileSkipped
	}
	return events, skipped, nil
}

func readFile(path string) ([]*types.CanonicalEvent, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var (
		events  []*types.CanonicalEvent
		skipped int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.CanonicalEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			skipped++
			continue
		}
		events = append(events, &ev)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scan %s: %w", path, err)
	}
	return events, skipped, nil
}
