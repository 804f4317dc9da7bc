// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the lake — canonical market
// events, one-second bars, and macro rows. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Journal lines carry prices as plain JSON numbers, not quoted
	// strings, so they stay readable by any downstream tooling.
	decimal.MarshalJSONWithoutQuotes = true
}

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// StreamKind identifies which venue feed produced a canonical event.
type StreamKind string

const (
	StreamTrade      StreamKind = "trade"       // individual fills
	StreamBookTicker StreamKind = "book_ticker" // top-of-book quote updates
)

// Side is the taker direction of a trade. Venues that report
// "is buyer maker" instead are translated: buyer-maker = sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// ————————————————————————————————————————————————————————————————————————
// Canonical events
// ————————————————————————————————————————————————————————————————————————

// ChannelAll is the wildcard bus channel carrying every published event.
const ChannelAll = "all"

// CanonicalEvent is the venue-neutral form of one inbound WebSocket
// message. Adapters produce at most one per decoded frame; the event is
// immutable after construction and is consumed by both the raw journal
// and the live event bus.
//
// Trade events populate Price, Qty and Side (plus TradeID when the venue
// reports one). Book-ticker events populate Bid and Ask. Timestamps are
// milliseconds since the Unix epoch, UTC. When a venue omits event time,
// TsEvent equals TsRecv.
type CanonicalEvent struct {
	Exchange   string           `json:"exchange"`
	Symbol     string           `json:"symbol"` // upper-cased venue symbol, e.g. "BTCUSDT"
	TsEvent    int64            `json:"ts_event"`
	TsRecv     int64            `json:"ts_recv"`
	StreamKind StreamKind       `json:"stream_kind"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Qty        *decimal.Decimal `json:"qty,omitempty"`
	Side       Side             `json:"side,omitempty"`
	Bid        *decimal.Decimal `json:"bid,omitempty"`
	Ask        *decimal.Decimal `json:"ask,omitempty"`
	TradeID    *int64           `json:"trade_id,omitempty"`
}

// Channel returns the bus channel for this event, e.g. "trade:BTCUSDT".
func (e *CanonicalEvent) Channel() string {
	return string(e.StreamKind) + ":" + e.Symbol
}

// EventTime returns TsEvent as a UTC time.Time.
func (e *CanonicalEvent) EventTime() time.Time {
	return time.UnixMilli(e.TsEvent).UTC()
}

// LatencyMs returns receive time minus event time in milliseconds.
// Negative values happen when the venue clock runs ahead of ours.
func (e *CanonicalEvent) LatencyMs() int64 {
	return e.TsRecv - e.TsEvent
}

// IsTrade reports whether the event carries a fill.
func (e *CanonicalEvent) IsTrade() bool {
	return e.StreamKind == StreamTrade
}

// Ptr returns a pointer to v. Convenience for populating the optional
// fields of CanonicalEvent and BarRecord.
func Ptr[T any](v T) *T {
	return &v
}

// ————————————————————————————————————————————————————————————————————————
// Columnar records
// ————————————————————————————————————————————————————————————————————————

// BarRecord is a one-second OHLCV + top-of-book bar, produced by the
// aggregator in daily batches and written to parquet partitioned by
// year/month/day.
//
// OHLC, vwap and quote columns are nullable: seconds before the first
// trade of the day have no close to forward-fill from, and seconds
// before the first quote have no bid/ask. Quotes-only seconds carry
// open = high = low = close = previous close with zero volume.
type BarRecord struct {
	Symbol      string    `parquet:"symbol,dict"`
	WindowStart time.Time `parquet:"window_start,timestamp(millisecond)"`
	Open        *float64  `parquet:"open,optional"`
	High        *float64  `parquet:"high,optional"`
	Low         *float64  `parquet:"low,optional"`
	Close       *float64  `parquet:"close,optional"`
	VolumeBase  float64   `parquet:"volume_base"`
	VolumeQuote float64   `parquet:"volume_quote"`
	TradeCount  int64     `parquet:"trade_count"`
	Vwap        *float64  `parquet:"vwap,optional"`
	Bid         *float64  `parquet:"bid,optional"`
	Ask         *float64  `parquet:"ask,optional"`
	Spread      *float64  `parquet:"spread,optional"`
}

// MacroBar is one one-minute bar of a macro reference asset (index
// future, FX pair, treasury yield proxy) fetched over REST. Key is the
// provider ticker, kept as a column so one partition can hold several
// assets.
type MacroBar struct {
	Ts     time.Time `parquet:"ts,timestamp(millisecond)"`
	Open   float64   `parquet:"open"`
	High   float64   `parquet:"high"`
	Low    float64   `parquet:"low"`
	Close  float64   `parquet:"close"`
	Volume float64   `parquet:"volume"`
	Key    string    `parquet:"key,dict"`
}
