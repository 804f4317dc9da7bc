package ingest

import "testing"

func TestLatencyWindowPercentiles(t *testing.T) {
	t.Parallel()

	w := newLatencyWindow(1000)
	// 1..100 ms: p50 = sorted[50] = 51, p95 = sorted[95] = 96.
	for i := 1; i <= 100; i++ {
		w.add(int64(i))
	}
	p50, p95, max, n := w.summary()
	if n != 100 {
		t.Fatalf("n = %d, want 100", n)
	}
	if p50 != 51 {
		t.Errorf("p50 = %v, want 51", p50)
	}
	if p95 != 96 {
		t.Errorf("p95 = %v, want 96", p95)
	}
	if max != 100 {
		t.Errorf("max = %v, want 100", max)
	}
}

func TestLatencyWindowEmpty(t *testing.T) {
	t.Parallel()

	w := newLatencyWindow(10)
	p50, p95, max, n := w.summary()
	if n != 0 || p50 != 0 || p95 != 0 || max != 0 {
		t.Errorf("summary on empty window = %v/%v/%v/%d, want zeros", p50, p95, max, n)
	}
}

func TestLatencyWindowEvictsOldest(t *testing.T) {
	t.Parallel()

	w := newLatencyWindow(4)
	for _, ms := range []int64{1000, 2000, 3000, 4000} {
		w.add(ms)
	}
	// Two more overwrite the 1000 and 2000 slots.
	w.add(10)
	w.add(20)

	_, _, max, n := w.summary()
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
	if max != 4000 {
		t.Errorf("max = %v, want 4000 (3000/4000 still in window)", max)
	}
	p50, _, _, _ := w.summary()
	// sorted window is [10 20 3000 4000]; p50 = index 2.
	if p50 != 3000 {
		t.Errorf("p50 = %v, want 3000", p50)
	}
}

func TestLatencyWindowSingleSample(t *testing.T) {
	t.Parallel()

	w := newLatencyWindow(10)
	w.add(42)
	p50, p95, max, n := w.summary()
	if n != 1 || p50 != 42 || p95 != 42 || max != 42 {
		t.Errorf("summary = %v/%v/%v/%d, want 42/42/42/1", p50, p95, max, n)
	}
}
