package exchange

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"cryptolake/pkg/types"
)

// Coinbase uses a single feed endpoint with one subscribe message
// naming the product ids and the ticker and matches channels. Every
// inbound frame is a flat object tagged by "type".
type Coinbase struct {
	wssURL string
}

type coinbaseSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

// coinbaseMessage covers both match and ticker frames; the unused
// fields of each shape simply stay zero.
type coinbaseMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Time      string `json:"time"`
	TradeID   *int64 `json:"trade_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
}

func (c *Coinbase) Name() string { return "coinbase" }

func (c *Coinbase) ConnectURL([]string) string { return c.wssURL }

func (c *Coinbase) SubscribeMessages(symbols []string) ([][]byte, error) {
	payload, err := json.Marshal(coinbaseSubscribe{
		Type:       "subscribe",
		ProductIDs: symbols,
		Channels:   []string{"ticker", "matches"},
	})
	if err != nil {
		return nil, fmt.Errorf("coinbase subscribe: %w", err)
	}
	return [][]byte{payload}, nil
}

func (c *Coinbase) DecodeFrame(frame []byte, recv time.Time) (*types.CanonicalEvent, error) {
	var msg coinbaseMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, fmt.Errorf("coinbase message: %w", err)
	}

	recvMs := recv.UnixMilli()
	switch msg.Type {
	case "match", "last_match":
		price, err := dec(msg.Price)
		if err != nil {
			return nil, fmt.Errorf("coinbase match price: %w", err)
		}
		qty, err := dec(msg.Size)
		if err != nil {
			return nil, fmt.Errorf("coinbase match size: %w", err)
		}
		if price == nil || qty == nil {
			return nil, fmt.Errorf("coinbase match missing price or size")
		}
		return &types.CanonicalEvent{
			Exchange:   c.Name(),
			Symbol:     strings.ToUpper(msg.ProductID),
			TsEvent:    parseISO(msg.Time, recvMs),
			TsRecv:     recvMs,
			StreamKind: types.StreamTrade,
			Price:      price,
			Qty:        qty,
			Side:       coinbaseSide(msg.Side),
			TradeID:    msg.TradeID,
		}, nil
	case "ticker":
		bid, err := dec(msg.BestBid)
		if err != nil {
			return nil, fmt.Errorf("coinbase ticker bid: %w", err)
		}
		ask, err := dec(msg.BestAsk)
		if err != nil {
			return nil, fmt.Errorf("coinbase ticker ask: %w", err)
		}
		return &types.CanonicalEvent{
			Exchange:   c.Name(),
			Symbol:     strings.ToUpper(msg.ProductID),
			TsEvent:    parseISO(msg.Time, recvMs),
			TsRecv:     recvMs,
			StreamKind: types.StreamBookTicker,
			Bid:        bid,
			Ask:        ask,
		}, nil
	default:
		// subscriptions acks, heartbeats, errors and anything newer.
		return nil, nil
	}
}

func coinbaseSide(s string) types.Side {
	switch strings.ToLower(s) {
	case "buy":
		return types.Buy
	case "sell":
		return types.Sell
	default:
		return ""
	}
}
