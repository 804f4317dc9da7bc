package exchange

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"cryptolake/pkg/types"
)

// Binance speaks the combined-stream dialect: every subscription is
// encoded into the connect URL and frames arrive wrapped in a
// {stream, data} envelope. No subscribe payloads are sent.
type Binance struct {
	wssURL string
}

// binanceEnvelope wraps combined-stream frames. Raw /ws frames carry
// the payload at the top level and leave Data empty.
type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// binanceProbe sniffs the event type on un-enveloped frames. Both "e"
// and "E" must be declared: encoding/json matches keys
// case-insensitively when no exact tag exists, so an undeclared "E"
// (event time, int) would collide with "e" (event type, string).
type binanceProbe struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
}

// binanceTrade declares every documented key of the trade payload so
// each incoming field binds exactly and never falls back to a
// case-insensitive match. Prices and quantities arrive as strings.
type binanceTrade struct {
	EventType     string `json:"e"` // "trade"
	EventTime     int64  `json:"E"` // event time, epoch ms
	Symbol        string `json:"s"`
	TradeID       int64  `json:"t"`
	Price         string `json:"p"`
	Qty           string `json:"q"`
	BuyerOrderID  int64  `json:"b"`
	SellerOrderID int64  `json:"a"`
	TradeTime     int64  `json:"T"` // trade time, epoch ms
	BuyerMaker    bool   `json:"m"`
	Ignore        bool   `json:"M"`
}

// binanceBookTicker declares all four of b/B/a/A for the same reason:
// "b" is the bid price and "B" the bid quantity, and leaving either
// undeclared lets the other capture both values. Futures frames also
// carry e/E; spot frames do not.
type binanceBookTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	UpdateID  int64  `json:"u"`
	Symbol    string `json:"s"`
	BidPrice  string `json:"b"`
	BidQty    string `json:"B"`
	AskPrice  string `json:"a"`
	AskQty    string `json:"A"`
}

func (b *Binance) Name() string { return "binance" }

// ConnectURL folds every symbol's trade and bookTicker topics into one
// combined-stream URL. A configured ".../ws" endpoint is rewritten to
// the ".../stream?streams=" form; anything else gets the query path
// appended.
func (b *Binance) ConnectURL(symbols []string) string {
	topics := make([]string, 0, 2*len(symbols))
	for _, s := range symbols {
		ls := strings.ToLower(s)
		topics = append(topics, ls+"@trade", ls+"@bookTicker")
	}
	streams := strings.Join(topics, "/")
	if strings.Contains(b.wssURL, "/ws") {
		return strings.Replace(b.wssURL, "/ws", "/stream?streams=", 1) + streams
	}
	return strings.TrimRight(b.wssURL, "/") + "/stream?streams=" + streams
}

// SubscribeMessages is empty: subscriptions ride the connect URL.
func (b *Binance) SubscribeMessages([]string) ([][]byte, error) { return nil, nil }

func (b *Binance) DecodeFrame(frame []byte, recv time.Time) (*types.CanonicalEvent, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("binance envelope: %w", err)
	}
	payload := env.Data
	if len(payload) == 0 {
		payload = frame
	}

	isTrade := strings.Contains(env.Stream, "@trade")
	isTicker := strings.Contains(env.Stream, "@bookTicker")
	if !isTrade && !isTicker {
		var probe binanceProbe
		if err := json.Unmarshal(payload, &probe); err != nil {
			return nil, fmt.Errorf("binance probe: %w", err)
		}
		switch strings.ToLower(probe.EventType) {
		case "trade":
			isTrade = true
		case "bookticker":
			isTicker = true
		default:
			return nil, nil
		}
	}

	recvMs := recv.UnixMilli()
	if isTrade {
		var msg binanceTrade
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("binance trade: %w", err)
		}
		price, err := dec(msg.Price)
		if err != nil {
			return nil, fmt.Errorf("binance trade price: %w", err)
		}
		qty, err := dec(msg.Qty)
		if err != nil {
			return nil, fmt.Errorf("binance trade qty: %w", err)
		}
		if price == nil || qty == nil {
			return nil, fmt.Errorf("binance trade missing price or qty")
		}
		tsEvent := msg.EventTime
		if tsEvent == 0 {
			tsEvent = msg.TradeTime
		}
		if tsEvent == 0 {
			tsEvent = recvMs
		}
		side := types.Buy
		if msg.BuyerMaker {
			side = types.Sell // buyer was the maker, so the seller crossed
		}
		return &types.CanonicalEvent{
			Exchange:   b.Name(),
			Symbol:     strings.ToUpper(msg.Symbol),
			TsEvent:    tsEvent,
			TsRecv:     recvMs,
			StreamKind: types.StreamTrade,
			Price:      price,
			Qty:        qty,
			Side:       side,
			TradeID:    types.Ptr(msg.TradeID),
		}, nil
	}

	var msg binanceBookTicker
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("binance book ticker: %w", err)
	}
	bid, err := dec(msg.BidPrice)
	if err != nil {
		return nil, fmt.Errorf("binance book ticker bid: %w", err)
	}
	ask, err := dec(msg.AskPrice)
	if err != nil {
		return nil, fmt.Errorf("binance book ticker ask: %w", err)
	}
	tsEvent := msg.EventTime
	if tsEvent == 0 {
		tsEvent = recvMs
	}
	return &types.CanonicalEvent{
		Exchange:   b.Name(),
		Symbol:     strings.ToUpper(msg.Symbol),
		TsEvent:    tsEvent,
		TsRecv:     recvMs,
		StreamKind: types.StreamBookTicker,
		Bid:        bid,
		Ask:        ask,
	}, nil
}
