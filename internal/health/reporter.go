package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shirou/gopsutil/v4/disk"

	"cryptolake/internal/bus"
	"cryptolake/internal/paths"
)

// DiskStats summarises the volume holding the lake root.
type DiskStats struct {
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	FreeGB      float64 `json:"free_gb"`
	PercentUsed float64 `json:"percent_used"`
}

// heartbeat is the machine-readable status document, overwritten on
// every tick.
type heartbeat struct {
	TsUTC       string         `json:"ts_utc"`
	Status      string         `json:"status"`
	Collector   collectorBlock `json:"collector"`
	MacroMinute RunCell        `json:"macro_minute"`
	Transformer RunCell        `json:"transformer"`
	Compactor   RunCell        `json:"compactor"`
	Retention   RunCell        `json:"retention"`
	Bus         bus.Stats      `json:"bus"`
	Files       FileCounts     `json:"files"`
	Disk        DiskStats      `json:"disk"`
	Mode        string         `json:"mode"`
}

type collectorBlock struct {
	CollectorCell
	Exchanges map[string]CollectorCell `json:"exchanges,omitempty"`
}

// Reporter periodically renders the Tracker to the two health
// artefacts: a JSON heartbeat and a Markdown summary.
type Reporter struct {
	logger   *slog.Logger
	layout   *paths.Layout
	tracker  *Tracker
	bus      *bus.Bus
	interval time.Duration
	testMode bool
}

// NewReporter wires the reporter to its inputs.
func NewReporter(logger *slog.Logger, layout *paths.Layout, tracker *Tracker, b *bus.Bus, interval time.Duration, testMode bool) *Reporter {
	return &Reporter{
		logger:   logger.With("component", "health"),
		layout:   layout,
		tracker:  tracker,
		bus:      b,
		interval: interval,
		testMode: testMode,
	}
}

// Run writes one snapshot immediately, then one per interval until the
// context is cancelled. The final "stopped" snapshot is written by the
// orchestrator after all components have joined.
func (r *Reporter) Run(ctx context.Context) {
	r.logger.Info("health reporter started", "interval", r.interval)

	if err := r.WriteNow(time.Now()); err != nil {
		r.logger.Warn("heartbeat write failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("health reporter stopping")
			return
		case <-ticker.C:
			if err := r.WriteNow(time.Now()); err != nil {
				r.logger.Warn("heartbeat write failed", "error", err)
			}
		}
	}
}

// WriteNow renders both artefacts from the current tracker state.
func (r *Reporter) WriteNow(now time.Time) error {
	snap := r.tracker.Snapshot()
	counts := CountFiles(r.logger, r.layout, now)
	du := r.readDisk()

	icon, label, status := overall(snap)
	mode := "PRODUCTION"
	if r.testMode {
		mode = "TEST"
	}

	hb := heartbeat{
		TsUTC:       now.UTC().Format(time.RFC3339Nano),
		Status:      status,
		Collector:   collectorBlock{CollectorCell: snap.Collector, Exchanges: snap.Exchanges},
		MacroMinute: snap.Macro,
		Transformer: snap.Transformer,
		Compactor:   snap.Compactor,
		Retention:   snap.Retention,
		Bus:         r.bus.Stats(),
		Files:       counts,
		Disk:        du,
		Mode:        mode,
	}

	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	if err := writeAtomic(r.layout.HeartbeatPath(), data); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}

	md := renderMarkdown(hb, icon, label)
	if err := writeAtomic(r.layout.HealthReportPath(), []byte(md)); err != nil {
		return fmt.Errorf("write health report: %w", err)
	}

	r.logger.Debug("wrote heartbeat", "status", status)
	return nil
}

func (r *Reporter) readDisk() DiskStats {
	usage, err := disk.Usage(r.layout.Root())
	if err != nil {
		// The root may not exist before the first writer opens a file.
		usage, err = disk.Usage(".")
		if err != nil {
			r.logger.Debug("disk usage unavailable", "error", err)
			return DiskStats{}
		}
	}
	const gb = 1 << 30
	return DiskStats{
		TotalGB:     float64(usage.Total) / gb,
		UsedGB:      float64(usage.Used) / gb,
		FreeGB:      float64(usage.Free) / gb,
		PercentUsed: usage.UsedPercent,
	}
}

// overall folds per-subsystem states into the top-level verdict. Any
// errored subsystem wins; a running collector with a quiet fetcher is
// healthy; an idle collector has sessions registered but none
// connected yet; a stopped collector means shutdown.
func overall(snap Snapshot) (icon, label, status string) {
	anyError := snap.Collector.Status == StatusError ||
		snap.Macro.Status == StatusError ||
		snap.Transformer.Status == StatusError ||
		snap.Compactor.Status == StatusError ||
		snap.Retention.Status == StatusError

	macroQuiet := snap.Macro.Status == StatusIdle ||
		snap.Macro.Status == StatusRunning ||
		snap.Macro.Status == StatusDisabled

	switch {
	case anyError:
		return "[ERROR]", "ERROR", "error"
	case snap.Collector.Status == StatusRunning && macroQuiet:
		return "[OK]", "HEALTHY", "running"
	case snap.Collector.Status == StatusIdle:
		return "[STARTING]", "STARTING", "starting"
	case snap.Collector.Status == StatusStopped:
		return "[STOPPED]", "STOPPED", "stopped"
	default:
		return "[UNKNOWN]", "UNKNOWN", "unknown"
	}
}

// writeAtomic replaces path contents via a temp file and rename so a
// crash mid-write never leaves a torn artefact.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func renderMarkdown(hb heartbeat, icon, label string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Crypto Lake Health Report\n\n")
	fmt.Fprintf(&b, "**MODE:** %s\n\n", hb.Mode)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", hb.TsUTC)
	fmt.Fprintf(&b, "**Overall Status:** %s %s\n\n---\n\n", icon, label)

	c := hb.Collector
	fmt.Fprintf(&b, "## Real-Time Crypto Collector\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Status | %s |\n", strings.ToUpper(string(c.Status)))
	fmt.Fprintf(&b, "| Last Seen | %s |\n", deref(c.LastSeen))
	fmt.Fprintf(&b, "| Latency P50 | %.1f ms |\n", c.LatencyP50Ms)
	fmt.Fprintf(&b, "| Latency P95 | %.1f ms |\n", c.LatencyP95Ms)
	fmt.Fprintf(&b, "| Latency Max | %.1f ms |\n", c.LatencyMaxMs)
	fmt.Fprintf(&b, "| Disconnects | %s |\n\n", groupInt(c.Disconnects))
	fmt.Fprintf(&b, "%s\n\n---\n\n", collectorText(c.Status))

	m := hb.MacroMinute
	fmt.Fprintf(&b, "## Macro/FX Data Fetcher\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Status | %s |\n", strings.ToUpper(string(m.Status)))
	fmt.Fprintf(&b, "| Last Run Start | %s |\n", deref(m.LastRunStart))
	fmt.Fprintf(&b, "| Last Run End | %s |\n", deref(m.LastRunEnd))
	fmt.Fprintf(&b, "| Last Run Rows | %s |\n", groupInt(m.RowsWritten))
	fmt.Fprintf(&b, "| Last Error | %s |\n\n", deref(m.LastError))
	fmt.Fprintf(&b, "%s\n\n---\n\n", macroText(m))

	tr := hb.Transformer
	fmt.Fprintf(&b, "## Bar Transformer\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Status | %s |\n", strings.ToUpper(string(tr.Status)))
	fmt.Fprintf(&b, "| Last Run Start | %s |\n", deref(tr.LastRunStart))
	fmt.Fprintf(&b, "| Last Run End | %s |\n", deref(tr.LastRunEnd))
	fmt.Fprintf(&b, "| Last Run Rows | %s |\n", groupInt(tr.RowsWritten))
	fmt.Fprintf(&b, "| Last Error | %s |\n\n---\n\n", deref(tr.LastError))

	fmt.Fprintf(&b, "## Maintenance\n\n")
	fmt.Fprintf(&b, "| Task | Status | Last Run End | Last Error |\n")
	fmt.Fprintf(&b, "|------|--------|--------------|------------|\n")
	fmt.Fprintf(&b, "| Compactor | %s | %s | %s |\n",
		strings.ToUpper(string(hb.Compactor.Status)), deref(hb.Compactor.LastRunEnd), deref(hb.Compactor.LastError))
	fmt.Fprintf(&b, "| Retention | %s | %s | %s |\n\n---\n\n",
		strings.ToUpper(string(hb.Retention.Status)), deref(hb.Retention.LastRunEnd), deref(hb.Retention.LastError))

	fmt.Fprintf(&b, "## Event Bus\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Subscribers | %d |\n", hb.Bus.Subscribers)
	fmt.Fprintf(&b, "| Channels | %d |\n", hb.Bus.Channels)
	fmt.Fprintf(&b, "| Dropped Events | %s |\n\n---\n\n", groupInt(int64(hb.Bus.Dropped)))

	fmt.Fprintf(&b, "## Data Volume (Today)\n\n")
	fmt.Fprintf(&b, "| Metric | Count |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Raw JSONL Files | %s |\n", groupInt(int64(hb.Files.RawCountToday)))
	fmt.Fprintf(&b, "| Parquet 1s Bars | %s |\n", groupInt(hb.Files.ParquetRowsToday))
	fmt.Fprintf(&b, "| Macro Minute Bars | %s |\n\n---\n\n", groupInt(hb.Files.MacroRowsToday))

	fmt.Fprintf(&b, "## Disk Usage\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Total | %.1f GB |\n", hb.Disk.TotalGB)
	fmt.Fprintf(&b, "| Free | %.1f GB |\n", hb.Disk.FreeGB)
	fmt.Fprintf(&b, "| Used | %.1f%% |\n\n---\n\n", hb.Disk.PercentUsed)

	fmt.Fprintf(&b, "## Notes\n\n")
	fmt.Fprintf(&b, "- Health metrics are updated every 60 seconds\n")
	fmt.Fprintf(&b, "- Raw JSONL files rotate every 60 seconds\n")
	fmt.Fprintf(&b, "- Macro data is fetched on a schedule (typically every 15 minutes)\n")
	fmt.Fprintf(&b, "- Press Ctrl+C to stop the orchestrator gracefully\n\n---\n\n")
	fmt.Fprintf(&b, "*Generated by Crypto Lake Orchestrator*\n")

	return b.String()
}

func collectorText(s Status) string {
	switch s {
	case StatusRunning:
		return "The WebSocket collector is actively streaming data from the configured exchanges."
	case StatusIdle:
		return "The WebSocket collector is starting; no session has connected yet."
	case StatusStopped:
		return "The WebSocket collector has been stopped."
	case StatusError:
		return "WARNING: The WebSocket collector encountered an error. Check logs for details."
	default:
		return "Status unknown."
	}
}

func macroText(m RunCell) string {
	switch m.Status {
	case StatusRunning:
		return "Currently fetching macro/FX minute bars..."
	case StatusIdle:
		if m.LastRunEnd != nil {
			return fmt.Sprintf("Macro fetcher is idle. Last fetch completed at %s.", *m.LastRunEnd)
		}
		return "Macro fetcher is idle, waiting for first scheduled run."
	case StatusStopped:
		return "The macro fetcher has been stopped."
	case StatusDisabled:
		return "The macro fetcher is disabled by configuration."
	case StatusError:
		return fmt.Sprintf("WARNING: The macro fetcher encountered an error: %s", deref(m.LastError))
	default:
		return "Status unknown."
	}
}

func deref(p *string) string {
	if p == nil {
		return "None"
	}
	return *p
}

// groupInt renders n with thousands separators, matching the report's
// original number formatting.
func groupInt(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) > 3 {
		var b strings.Builder
		lead := len(s) % 3
		if lead > 0 {
			b.WriteString(s[:lead])
		}
		for i := lead; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		s = "-" + s
	}
	return s
}
