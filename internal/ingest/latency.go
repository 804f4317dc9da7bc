package ingest

import "sort"

// latencyWindow keeps the most recent event latencies in a fixed-size
// ring. It is owned by a single session goroutine and needs no lock.
type latencyWindow struct {
	samples []int64
	next    int
	filled  bool
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{samples: make([]int64, size)}
}

func (w *latencyWindow) add(ms int64) {
	w.samples[w.next] = ms
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

func (w *latencyWindow) len() int {
	if w.filled {
		return len(w.samples)
	}
	return w.next
}

// summary returns p50, p95, and max over the current window.
// Percentiles use nearest-rank indexing: sorted[n/2] and
// sorted[int(n*0.95)].
func (w *latencyWindow) summary() (p50, p95, max float64, n int) {
	n = w.len()
	if n == 0 {
		return 0, 0, 0, 0
	}
	s := make([]int64, n)
	copy(s, w.samples[:n])
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })

	p50 = float64(s[n/2])
	p95 = float64(s[int(float64(n)*0.95)])
	max = float64(s[n-1])
	return p50, p95, max, n
}
