package exchange

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"cryptolake/pkg/types"
)

// Kraken speaks the v2 WebSocket dialect: connect to the plain
// endpoint, then subscribe to the trade and ticker channels with one
// message each carrying the full symbol list.
type Kraken struct {
	wssURL string
}

type krakenSubscribe struct {
	Method string          `json:"method"`
	Params krakenSubParams `json:"params"`
}

type krakenSubParams struct {
	Channel string   `json:"channel"`
	Symbol  []string `json:"symbol"`
}

// krakenEnvelope routes inbound frames. Channel messages carry data;
// method acks carry method/success and no channel.
type krakenEnvelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Method  string          `json:"method"`
	Data    json.RawMessage `json:"data"`
}

// Kraken v2 reports prices as JSON numbers, not strings. Pointer
// fields distinguish absent values from legitimate zeroes.
type krakenTrade struct {
	Symbol    string   `json:"symbol"`
	Side      string   `json:"side"`
	Price     *float64 `json:"price"`
	Qty       *float64 `json:"qty"`
	OrdType   string   `json:"ord_type"`
	TradeID   int64    `json:"trade_id"`
	Timestamp string   `json:"timestamp"`
}

type krakenTicker struct {
	Symbol string   `json:"symbol"`
	Bid    *float64 `json:"bid"`
	BidQty *float64 `json:"bid_qty"`
	Ask    *float64 `json:"ask"`
	AskQty *float64 `json:"ask_qty"`
	Last   *float64 `json:"last"`
}

func (k *Kraken) Name() string { return "kraken" }

func (k *Kraken) ConnectURL([]string) string { return k.wssURL }

func (k *Kraken) SubscribeMessages(symbols []string) ([][]byte, error) {
	msgs := make([][]byte, 0, 2)
	for _, channel := range []string{"trade", "ticker"} {
		payload, err := json.Marshal(krakenSubscribe{
			Method: "subscribe",
			Params: krakenSubParams{Channel: channel, Symbol: symbols},
		})
		if err != nil {
			return nil, fmt.Errorf("kraken subscribe %s: %w", channel, err)
		}
		msgs = append(msgs, payload)
	}
	return msgs, nil
}

func (k *Kraken) DecodeFrame(frame []byte, recv time.Time) (*types.CanonicalEvent, error) {
	var env krakenEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("kraken envelope: %w", err)
	}
	// Status updates, heartbeats and subscribe/unsubscribe acks carry
	// no market data.
	if env.Channel == "status" || env.Channel == "heartbeat" || env.Method != "" {
		return nil, nil
	}

	recvMs := recv.UnixMilli()
	switch env.Channel {
	case "trade":
		var trades []krakenTrade
		if err := json.Unmarshal(env.Data, &trades); err != nil {
			return nil, fmt.Errorf("kraken trade data: %w", err)
		}
		if len(trades) == 0 {
			return nil, nil
		}
		t := trades[0]
		if t.Price == nil || t.Qty == nil {
			return nil, fmt.Errorf("kraken trade missing price or qty")
		}
		return &types.CanonicalEvent{
			Exchange:   k.Name(),
			Symbol:     strings.ToUpper(t.Symbol),
			TsEvent:    parseISO(t.Timestamp, recvMs),
			TsRecv:     recvMs,
			StreamKind: types.StreamTrade,
			Price:      types.Ptr(decimal.NewFromFloat(*t.Price)),
			Qty:        types.Ptr(decimal.NewFromFloat(*t.Qty)),
			Side:       krakenSide(t.Side),
			TradeID:    types.Ptr(t.TradeID),
		}, nil
	case "ticker":
		var ticks []krakenTicker
		if err := json.Unmarshal(env.Data, &ticks); err != nil {
			return nil, fmt.Errorf("kraken ticker data: %w", err)
		}
		if len(ticks) == 0 {
			return nil, nil
		}
		t := ticks[0]
		if t.Bid == nil || t.Ask == nil {
			return nil, fmt.Errorf("kraken ticker missing bid or ask")
		}
		// The ticker payload carries no event timestamp.
		return &types.CanonicalEvent{
			Exchange:   k.Name(),
			Symbol:     strings.ToUpper(t.Symbol),
			TsEvent:    recvMs,
			TsRecv:     recvMs,
			StreamKind: types.StreamBookTicker,
			Bid:        types.Ptr(decimal.NewFromFloat(*t.Bid)),
			Ask:        types.Ptr(decimal.NewFromFloat(*t.Ask)),
		}, nil
	default:
		return nil, nil
	}
}

func krakenSide(s string) types.Side {
	switch strings.ToLower(s) {
	case "buy":
		return types.Buy
	case "sell":
		return types.Sell
	default:
		return ""
	}
}
