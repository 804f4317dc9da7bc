// Package bars turns raw journal days into one-second OHLCV bars.
//
// The pipeline is: read a symbol-day of canonical events, resample
// trades and quotes into per-second buckets, gap-fill the range so
// every second between the first and last observed bucket has a row,
// and append the result to the symbol's partitioned parquet tree.
// Aggregator drives the pipeline on a schedule across all configured
// exchanges and symbols; the validator re-reads finished days and
// writes an integrity report.
package bars

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"cryptolake/pkg/types"
)

// bucket accumulates one resample window while events stream through
// Aggregate. Quote sides fill independently so a one-sided update does
// not erase the other side seen earlier in the same window.
type bucket struct {
	hasTrades bool
	open      decimal.Decimal
	high      decimal.Decimal
	low       decimal.Decimal
	close     decimal.Decimal
	volBase   decimal.Decimal
	volQuote  decimal.Decimal
	trades    int64
	bid       *decimal.Decimal
	ask       *decimal.Decimal
}

// Aggregate resamples one symbol's events into bars of intervalSec
// seconds. Sums and the vwap quotient are computed in decimal and
// converted to float64 only on the way out.
//
// The output covers every window from the earliest to the latest
// bucket observed across all input events, inclusive. Windows without
// trades carry the previous close as a flat OHLC with zero volume;
// windows before the first trade leave OHLC and vwap null. Bid, ask
// and spread forward-fill independently, matching how the columns
// were aggregated: spread is recomputed only in windows where both
// sides were actually quoted.
//
// Empty input produces no output.
func Aggregate(events []*types.CanonicalEvent, symbol string, intervalSec int) []types.BarRecord {
	if len(events) == 0 {
		return nil
	}
	if intervalSec <= 0 {
		intervalSec = 1
	}
	step := int64(intervalSec)
	bucketOf := func(tsMs int64) int64 {
		return (tsMs / 1000 / step) * step
	}

	// Window range spans every event, including ones that contribute
	// no columns (e.g. a malformed trade missing its qty).
	var tMin, tMax int64
	for i, ev := range events {
		sec := bucketOf(ev.TsEvent)
		if i == 0 {
			tMin, tMax = sec, sec
			continue
		}
		if sec < tMin {
			tMin = sec
		}
		if sec > tMax {
			tMax = sec
		}
	}

	var trades, quotes []*types.CanonicalEvent
	for _, ev := range events {
		switch ev.StreamKind {
		case types.StreamTrade:
			if ev.Price != nil && ev.Qty != nil {
				trades = append(trades, ev)
			}
		case types.StreamBookTicker:
			quotes = append(quotes, ev)
		}
	}

	// Stable sort keeps arrival order for equal timestamps, so
	// first/last aggregation is deterministic.
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].TsEvent < trades[j].TsEvent
	})
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].TsEvent < quotes[j].TsEvent
	})

	buckets := make(map[int64]*bucket)
	get := func(sec int64) *bucket {
		b, ok := buckets[sec]
		if !ok {
			b = &bucket{}
			buckets[sec] = b
		}
		return b
	}

	for _, tr := range trades {
		b := get(bucketOf(tr.TsEvent))
		price, qty := *tr.Price, *tr.Qty
		if !b.hasTrades {
			b.hasTrades = true
			b.open, b.high, b.low = price, price, price
		} else {
			if price.GreaterThan(b.high) {
				b.high = price
			}
			if price.LessThan(b.low) {
				b.low = price
			}
		}
		b.close = price
		b.volBase = b.volBase.Add(qty)
		b.volQuote = b.volQuote.Add(price.Mul(qty))
		b.trades++
	}
	for _, qt := range quotes {
		b := get(bucketOf(qt.TsEvent))
		if qt.Bid != nil {
			b.bid = qt.Bid
		}
		if qt.Ask != nil {
			b.ask = qt.Ask
		}
	}

	out := make([]types.BarRecord, 0, (tMax-tMin)/step+1)
	var prevClose, prevBid, prevAsk, prevSpread *float64
	for sec := tMin; sec <= tMax; sec += step {
		b := buckets[sec]
		bar := types.BarRecord{
			Symbol:      symbol,
			WindowStart: time.Unix(sec, 0).UTC(),
		}

		if b != nil && b.hasTrades {
			bar.Open = types.Ptr(b.open.InexactFloat64())
			bar.High = types.Ptr(b.high.InexactFloat64())
			bar.Low = types.Ptr(b.low.InexactFloat64())
			closePx := b.close.InexactFloat64()
			bar.Close = types.Ptr(closePx)
			bar.VolumeBase = b.volBase.InexactFloat64()
			bar.VolumeQuote = b.volQuote.InexactFloat64()
			bar.TradeCount = b.trades
			if b.volBase.IsPositive() {
				bar.Vwap = types.Ptr(b.volQuote.Div(b.volBase).InexactFloat64())
			} else {
				bar.Vwap = types.Ptr(closePx)
			}
			prevClose = types.Ptr(closePx)
		} else if prevClose != nil {
			closePx := *prevClose
			bar.Open = types.Ptr(closePx)
			bar.High = types.Ptr(closePx)
			bar.Low = types.Ptr(closePx)
			bar.Close = types.Ptr(closePx)
			bar.Vwap = types.Ptr(closePx)
		}

		if b != nil && b.bid != nil && b.ask != nil {
			bar.Spread = types.Ptr(b.ask.Sub(*b.bid).InexactFloat64())
			prevSpread = bar.Spread
		} else if prevSpread != nil {
			bar.Spread = types.Ptr(*prevSpread)
		}
		if b != nil && b.bid != nil {
			bar.Bid = types.Ptr(b.bid.InexactFloat64())
			prevBid = bar.Bid
		} else if prevBid != nil {
			bar.Bid = types.Ptr(*prevBid)
		}
		if b != nil && b.ask != nil {
			bar.Ask = types.Ptr(b.ask.InexactFloat64())
			prevAsk = bar.Ask
		} else if prevAsk != nil {
			bar.Ask = types.Ptr(*prevAsk)
		}

		out = append(out, bar)
	}
	return out
}
