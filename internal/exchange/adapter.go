// Package exchange abstracts venue WebSocket dialects behind a uniform
// stateless decoder.
//
// An Adapter knows three things about its venue: how to build the
// connect URL for a set of symbols, which subscribe payloads (if any)
// to send after the handshake, and how to normalise one inbound frame
// into a CanonicalEvent. Heartbeats, subscription acks and unknown
// message types decode to skip, not errors; only malformed payloads
// error, and those are per-message.
package exchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cryptolake/pkg/types"
)

// Adapter is the venue capability set. Implementations are stateless
// and safe for concurrent use.
type Adapter interface {
	// Name is the venue identifier recorded on every event.
	Name() string
	// ConnectURL builds the wss URL for one session over symbols.
	ConnectURL(symbols []string) string
	// SubscribeMessages returns ordered JSON payloads to send after the
	// handshake. Empty when subscriptions ride the URL.
	SubscribeMessages(symbols []string) ([][]byte, error)
	// DecodeFrame normalises one inbound frame, stamping recv as the
	// receive time. A (nil, nil) return means skip the frame.
	DecodeFrame(frame []byte, recv time.Time) (*types.CanonicalEvent, error)
}

// New returns the adapter for a venue name. Unknown names are a
// configuration error surfaced at startup.
func New(name, wssURL string) (Adapter, error) {
	switch strings.ToLower(name) {
	case "binance":
		return &Binance{wssURL: wssURL}, nil
	case "kraken":
		return &Kraken{wssURL: wssURL}, nil
	case "coinbase":
		return &Coinbase{wssURL: wssURL}, nil
	default:
		return nil, fmt.Errorf("unknown exchange adapter: %q", name)
	}
}

// dec parses a venue-reported numeric string. Absent fields ("") parse
// to nil; present-but-garbage values are a decode error.
func dec(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return &d, nil
}

// parseISO converts an ISO-8601 timestamp to epoch milliseconds,
// falling back to the given value when the field is absent or
// unparsable. Venue clocks emit both "Z" and "+00:00" suffixes.
func parseISO(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fallback
	}
	return t.UnixMilli()
}
