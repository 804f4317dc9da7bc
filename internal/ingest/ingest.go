// Package ingest sustains one logical WebSocket session per exchange.
//
// Each Ingestor dials its venue, sends the adapter's subscribe
// payloads, and drains frames in a single goroutine: decode, journal
// to the symbol's raw writer, publish on the bus. Session faults
// trigger reconnection with jittered exponential backoff; decode
// faults drop one frame and never terminate the loop. A rolling
// latency window over the last 1,000 events feeds the health tracker
// and a periodic log summary.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cryptolake/internal/bus"
	"cryptolake/internal/config"
	"cryptolake/internal/exchange"
	"cryptolake/internal/health"
	"cryptolake/internal/journal"
	"cryptolake/internal/paths"
	"cryptolake/pkg/types"
)

const (
	pingInterval         = 50 * time.Second // keepalive cadence, under the read deadline
	readTimeout          = 60 * time.Second // silent sessions beyond this reconnect
	writeTimeout         = 10 * time.Second // deadline for subscribe and ping writes
	latencyWindowSize    = 1000
	latencySummaryPeriod = 60 * time.Second
)

// Ingestor owns one exchange session end to end: connection lifecycle,
// raw journals for its symbols, and bus publication. Writers are never
// shared; only the session goroutine touches them.
type Ingestor struct {
	logger  *slog.Logger
	cfg     config.CollectorConfig
	adapter exchange.Adapter
	layout  *paths.Layout
	bus     *bus.Bus
	tracker *health.Tracker

	name    string
	symbols []string

	writers map[string]*journal.Writer
	window  *latencyWindow
}

// New builds an ingestor for one configured exchange. Raw writers are
// opened lazily on the first event per symbol.
func New(logger *slog.Logger, cfg config.CollectorConfig, ex config.ExchangeConfig, adapter exchange.Adapter, layout *paths.Layout, b *bus.Bus, tracker *health.Tracker) *Ingestor {
	in := &Ingestor{
		logger:  logger.With("component", "ingest", "exchange", adapter.Name()),
		cfg:     cfg,
		adapter: adapter,
		layout:  layout,
		bus:     b,
		tracker: tracker,
		name:    adapter.Name(),
		symbols: ex.Symbols,
		writers: make(map[string]*journal.Writer, len(ex.Symbols)),
		window:  newLatencyWindow(latencyWindowSize),
	}
	tracker.RegisterCollector(in.name)
	return in
}

// Run drives the reconnect loop until ctx is cancelled. A malformed
// connect URL is fatal to this ingestor only: the status cell flips to
// error and the goroutine exits while the rest of the process runs on.
func (in *Ingestor) Run(ctx context.Context) {
	defer in.closeWriters()

	connectURL := in.adapter.ConnectURL(in.symbols)
	if u, err := url.Parse(connectURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		in.logger.Error("invalid websocket url, ingestor exiting", "url", connectURL, "error", err)
		in.tracker.SetCollectorStatus(in.name, health.StatusError)
		return
	}

	backoff := in.cfg.InitialBackoff()
	for {
		established, err := in.runSession(ctx, connectURL)
		if ctx.Err() != nil {
			in.tracker.SetCollectorStatus(in.name, health.StatusStopped)
			in.logger.Info("ingestor stopped")
			return
		}
		in.tracker.AddDisconnect(in.name)
		if established {
			backoff = in.cfg.InitialBackoff()
		}

		delay := min(backoff, in.cfg.MaxBackoff())
		delay += time.Duration(rand.Float64() * in.cfg.ReconnectJitter * float64(backoff))
		in.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", delay.Round(time.Millisecond),
		)

		select {
		case <-ctx.Done():
			in.tracker.SetCollectorStatus(in.name, health.StatusStopped)
			return
		case <-time.After(delay):
		}

		backoff = min(backoff*2, in.cfg.MaxBackoff())
	}
}

// runSession holds one connection from dial to failure. established
// reports whether the session got as far as a completed subscription;
// the caller resets its backoff only in that case.
func (in *Ingestor) runSession(ctx context.Context, connectURL string) (established bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, connectURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	// Closing the conn is the only way to unblock a pending read when
	// the context is cancelled.
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		conn.Close()
	}()

	msgs, err := in.adapter.SubscribeMessages(in.symbols)
	if err != nil {
		return false, fmt.Errorf("build subscriptions: %w", err)
	}
	for _, msg := range msgs {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return false, fmt.Errorf("subscribe: %w", err)
		}
	}

	in.logger.Info("websocket connected", "symbols", len(in.symbols))
	in.tracker.SetCollectorStatus(in.name, health.StatusRunning)
	established = true

	// A pong extends the deadline so a live-but-quiet feed is not
	// mistaken for a dead one.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	go in.pingLoop(sessionCtx, conn)

	lastSummary := time.Now()
	for {
		if ctx.Err() != nil {
			return established, ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return established, fmt.Errorf("read: %w", err)
		}

		in.handleFrame(frame, time.Now())

		if time.Since(lastSummary) >= latencySummaryPeriod {
			in.logLatencySummary()
			lastSummary = time.Now()
		}
	}
}

// handleFrame runs the decode → journal → publish pipeline for one
// inbound frame. Failures here are per-message: an undecodable frame
// is dropped at debug, a journal fault drops the event and the writer
// retries on the next one.
func (in *Ingestor) handleFrame(frame []byte, recv time.Time) {
	ev, err := in.adapter.DecodeFrame(frame, recv)
	if err != nil {
		in.logger.Debug("dropping undecodable frame", "error", err)
		return
	}
	if ev == nil {
		return
	}

	in.window.add(ev.LatencyMs())
	in.tracker.MarkCollectorSeen(in.name, recv)

	if err := in.writerFor(ev.Symbol).Write(ev); err != nil {
		in.logger.Warn("journal write failed, event dropped",
			"symbol", ev.Symbol,
			"error", err,
		)
	}

	in.bus.Publish(ev.Channel(), ev)
	in.bus.Publish(types.ChannelAll, ev)
}

func (in *Ingestor) writerFor(symbol string) *journal.Writer {
	symbol = strings.ToUpper(symbol)
	if w, ok := in.writers[symbol]; ok {
		return w
	}
	w := journal.NewWriter(in.logger, in.layout.RawExchangeDir(in.name), symbol, in.cfg.WriteInterval())
	in.writers[symbol] = w
	return w
}

func (in *Ingestor) logLatencySummary() {
	p50, p95, max, n := in.window.summary()
	if n == 0 {
		return
	}
	in.tracker.SetCollectorLatency(in.name, p50, p95, max)

	if p95 > float64(in.cfg.LatencyWarnP95Ms) || max > float64(in.cfg.LatencyWarnMaxMs) {
		in.logger.Warn("event latency above thresholds",
			"p50_ms", p50, "p95_ms", p95, "max_ms", max, "window", n)
		return
	}
	in.logger.Info("event latency",
		"p50_ms", p50, "p95_ms", p95, "max_ms", max, "window", n)
}

func (in *Ingestor) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				in.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (in *Ingestor) closeWriters() {
	for symbol, w := range in.writers {
		if err := w.Close(); err != nil {
			in.logger.Warn("closing journal writer", "symbol", symbol, "error", err)
		}
	}
}
