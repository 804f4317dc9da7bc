// Package health maintains the shared view of subsystem liveness and
// renders it to the heartbeat artefacts.
//
// Components push state transitions into a Tracker as they happen:
//
//   - Ingestors: session status, per-exchange disconnect tallies, event
//     recency and rolling decode latency percentiles.
//   - Scheduled runners (macro fetcher, bar transformer, compactor,
//     retention): run start/end stamps, rows written, last error.
//
// The Reporter snapshots the Tracker on a fixed interval and writes a
// machine-readable heartbeat plus a human-readable Markdown summary.
// Readers copy cells under the lock and serialise after releasing it.
package health

import (
	"sync"
	"time"
)

// Status is the lifecycle state of one supervised subsystem.
type Status string

const (
	StatusRunning  Status = "running"
	StatusIdle     Status = "idle"
	StatusError    Status = "error"
	StatusStopped  Status = "stopped"
	StatusDisabled Status = "disabled"
)

// Component names a scheduled runner tracked by run cells.
type Component string

const (
	ComponentMacro       Component = "macro_minute"
	ComponentTransformer Component = "transformer"
	ComponentCompactor   Component = "compactor"
	ComponentRetention   Component = "retention"
)

// CollectorCell is the serialised state of the collector subsystem.
// Timestamps are nullable ISO-8601 strings.
type CollectorCell struct {
	Status       Status  `json:"status"`
	LatencyP50Ms float64 `json:"last_latency_p50_ms"`
	LatencyP95Ms float64 `json:"last_latency_p95_ms"`
	LatencyMaxMs float64 `json:"last_latency_max_ms"`
	LastSeen     *string `json:"last_seen_ts"`
	Disconnects  int64   `json:"disconnects"`
}

// RunCell is the serialised state of one scheduled runner.
type RunCell struct {
	Status       Status  `json:"status"`
	LastRunStart *string `json:"last_run_start"`
	LastRunEnd   *string `json:"last_run_end"`
	RowsWritten  int64   `json:"last_run_rows_written"`
	LastError    *string `json:"last_error"`
}

// Snapshot is a point-in-time copy of all cells. The Collector cell
// aggregates the per-exchange sessions; Exchanges carries the detail.
type Snapshot struct {
	Collector   CollectorCell
	Exchanges   map[string]CollectorCell
	Macro       RunCell
	Transformer RunCell
	Compactor   RunCell
	Retention   RunCell
}

// Tracker is the single shared status store. All methods are safe for
// concurrent use; each holds the lock only long enough to copy or
// mutate plain fields.
type Tracker struct {
	mu         sync.RWMutex
	collectors map[string]*CollectorCell
	runs       map[Component]*RunCell
}

// NewTracker returns a Tracker with every runner idle. Exchanges are
// registered separately so the heartbeat lists them from the first
// tick, before any session connects.
func NewTracker() *Tracker {
	runs := make(map[Component]*RunCell, 4)
	for _, c := range []Component{ComponentMacro, ComponentTransformer, ComponentCompactor, ComponentRetention} {
		runs[c] = &RunCell{Status: StatusIdle}
	}
	return &Tracker{
		collectors: make(map[string]*CollectorCell),
		runs:       runs,
	}
}

// RegisterCollector creates the status cell for one exchange session.
// Never-connected sessions read idle, so the heartbeat of a fresh boot
// shows the collector starting rather than stopped.
func (t *Tracker) RegisterCollector(exchange string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.collectors[exchange]; !ok {
		t.collectors[exchange] = &CollectorCell{Status: StatusIdle}
	}
}

// SetCollectorStatus records a session state transition.
func (t *Tracker) SetCollectorStatus(exchange string, s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cell(exchange).Status = s
}

// MarkCollectorSeen stamps the last event time for an exchange.
func (t *Tracker) MarkCollectorSeen(exchange string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cell(exchange).LastSeen = isoPtr(now)
}

// SetCollectorLatency publishes the rolling latency percentiles and
// window maximum.
func (t *Tracker) SetCollectorLatency(exchange string, p50, p95, max float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.cell(exchange)
	c.LatencyP50Ms = p50
	c.LatencyP95Ms = p95
	c.LatencyMaxMs = max
}

// AddDisconnect bumps the per-exchange disconnect tally.
func (t *Tracker) AddDisconnect(exchange string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cell(exchange).Disconnects++
}

// cell returns the collector cell, creating it on first touch.
// Caller holds t.mu.
func (t *Tracker) cell(exchange string) *CollectorCell {
	c, ok := t.collectors[exchange]
	if !ok {
		c = &CollectorCell{Status: StatusIdle}
		t.collectors[exchange] = c
	}
	return c
}

// SetRunStatus forces a runner's status, used for idle and disabled.
func (t *Tracker) SetRunStatus(c Component, s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[c].Status = s
}

// BeginRun marks a runner busy and stamps the start time.
func (t *Tracker) BeginRun(c Component, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cell := t.runs[c]
	cell.Status = StatusRunning
	cell.LastRunStart = isoPtr(now)
}

// EndRun records the run outcome. A nil runErr returns the runner to
// idle and clears the last error; otherwise the error text is kept
// until a later run succeeds.
func (t *Tracker) EndRun(c Component, now time.Time, rows int64, runErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cell := t.runs[c]
	cell.LastRunEnd = isoPtr(now)
	cell.RowsWritten = rows
	if runErr != nil {
		cell.Status = StatusError
		msg := runErr.Error()
		cell.LastError = &msg
		return
	}
	cell.Status = StatusIdle
	cell.LastError = nil
}

// MarkAllStopped is the shutdown transition: every cell that is not
// disabled becomes stopped, so the final heartbeat reads unambiguously.
func (t *Tracker) MarkAllStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.collectors {
		c.Status = StatusStopped
	}
	for _, r := range t.runs {
		if r.Status != StatusDisabled {
			r.Status = StatusStopped
		}
	}
}

// Snapshot copies every cell and derives the aggregate collector view:
// worst status wins (error > running > stopped > idle), latencies take
// the slowest session, recency the freshest, disconnects the sum.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Collector:   CollectorCell{Status: StatusIdle},
		Exchanges:   make(map[string]CollectorCell, len(t.collectors)),
		Macro:       *t.runs[ComponentMacro],
		Transformer: *t.runs[ComponentTransformer],
		Compactor:   *t.runs[ComponentCompactor],
		Retention:   *t.runs[ComponentRetention],
	}

	agg := &snap.Collector
	for name, c := range t.collectors {
		snap.Exchanges[name] = *c

		if statusRank(c.Status) > statusRank(agg.Status) {
			agg.Status = c.Status
		}
		if c.LatencyP50Ms > agg.LatencyP50Ms {
			agg.LatencyP50Ms = c.LatencyP50Ms
		}
		if c.LatencyP95Ms > agg.LatencyP95Ms {
			agg.LatencyP95Ms = c.LatencyP95Ms
		}
		if c.LatencyMaxMs > agg.LatencyMaxMs {
			agg.LatencyMaxMs = c.LatencyMaxMs
		}
		if laterISO(c.LastSeen, agg.LastSeen) {
			agg.LastSeen = c.LastSeen
		}
		agg.Disconnects += c.Disconnects
	}
	return snap
}

func statusRank(s Status) int {
	switch s {
	case StatusError:
		return 4
	case StatusRunning:
		return 3
	case StatusStopped:
		return 2
	case StatusIdle:
		return 1
	default:
		return 0
	}
}

// laterISO reports whether a is a more recent stamp than b. Both are
// RFC3339, so string comparison matches time comparison.
func laterISO(a, b *string) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return *a > *b
}

func isoPtr(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
