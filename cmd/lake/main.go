// Crypto Lake — a long-running market-data collector that ingests
// real-time trades and top-of-book quotes from crypto exchanges,
// journals raw events to disk, and materialises one-second OHLCV bars
// as partitioned parquet.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: supervises all tasks, owns shutdown and the final heartbeat
//	exchange/adapter.go  — venue adapters (binance, kraken, coinbase): URL, subscriptions, frame decode
//	ingest/ingest.go     — per-exchange WebSocket session: reconnect/backoff, latency window, fan-out
//	journal/writer.go    — rotating per-symbol JSONL journal (interval + UTC-day rotation)
//	bus/bus.go           — in-process pub/sub with bounded drop-oldest subscriber queues
//	bars/aggregator.go   — scheduled raw-to-1s-bar transformation with gap-fill and parquet output
//	macro/fetcher.go     — periodic macro/FX minute-bar fetch with dedup-by-timestamp
//	storage/             — day compaction and raw retention sweeps
//	health/reporter.go   — heartbeat JSON + Markdown status report every interval
//
// Data flow:
//
//	Every decoded event is appended to its symbol's raw journal and
//	published on the bus ("all" plus "<kind>:<SYMBOL>"). The aggregator
//	reads raw days independently of live state, so a crash never loses
//	more than unflushed lines; bars are append-only and deduplicated by
//	window on read.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"cryptolake/internal/config"
	"cryptolake/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("LAKE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.General.LogLevel)}
	if cfg.General.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	eng.Start()

	if cfg.Testing.Enabled {
		logger.Warn("TEST MODE — output relocated and warmups shortened", "base_path", cfg.General.BasePath)
	}
	logger.Info("crypto lake started",
		"base_path", cfg.General.BasePath,
		"exchanges", len(cfg.Exchanges),
		"macro", cfg.Macro.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()

	// Conventional exit codes: 130 for Ctrl-C, 0 for a clean SIGTERM.
	if sig == syscall.SIGINT {
		os.Exit(130)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
