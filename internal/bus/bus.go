// Package bus implements the in-process event fan-out.
//
// Publishers hand every decoded event to the bus keyed by string
// channel names ("all", "trade:BTCUSDT", "book_ticker:ETHUSDT");
// subscribers own a bounded FIFO per subscription. Publishing never
// blocks: when a subscriber's queue is full the oldest element is
// dropped and a counter incremented, so a slow consumer loses the
// stalest data and can never stall an ingestor.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"cryptolake/pkg/types"
)

// Bus is a many-publisher / many-subscriber registry. The zero value is
// not usable; construct with New.
type Bus struct {
	logger   *slog.Logger
	maxQueue int

	mu       sync.RWMutex
	channels map[string][]*Subscription

	dropped atomic.Uint64
}

// Subscription is one subscriber queue, possibly registered against
// several channels. Receive from C. After Close, C is closed once any
// in-flight publishes finish; buffered events remain readable.
type Subscription struct {
	ID string
	C  <-chan *types.CanonicalEvent

	ch  chan *types.CanonicalEvent
	bus *Bus

	// guarded by bus.mu
	channels map[string]bool
	closed   bool
}

// Stats is a point-in-time view of bus health counters.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Channels    int    `json:"channels"`
	Dropped     uint64 `json:"dropped_total"`
}

// New returns a Bus whose subscriber queues hold at most maxQueue
// elements each.
func New(logger *slog.Logger, maxQueue int) *Bus {
	return &Bus{
		logger:   logger.With("component", "bus"),
		maxQueue: maxQueue,
		channels: make(map[string][]*Subscription),
	}
}

// Subscribe allocates one bounded queue and registers it against every
// given channel. Events published to any of them arrive on the same
// queue in publish order.
func (b *Bus) Subscribe(channels ...string) *Subscription {
	ch := make(chan *types.CanonicalEvent, b.maxQueue)
	sub := &Subscription{
		ID:       uuid.NewString(),
		C:        ch,
		ch:       ch,
		bus:      b,
		channels: make(map[string]bool, len(channels)),
	}

	b.mu.Lock()
	for _, name := range channels {
		if sub.channels[name] {
			continue
		}
		sub.channels[name] = true
		b.channels[name] = append(b.channels[name], sub)
	}
	b.mu.Unlock()

	b.logger.Debug("subscribed", "id", sub.ID, "channels", channels)
	return sub
}

// Unsubscribe removes the queue's registration on one channel. The
// queue keeps receiving from its remaining channels; removing the last
// registration closes it.
func (b *Bus) Unsubscribe(channel string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.bus != b || !sub.channels[channel] {
		return
	}
	delete(sub.channels, channel)
	b.removeLocked(channel, sub)
	if len(sub.channels) == 0 && !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Close removes the subscription from every channel and closes C.
// Safe to call more than once.
func (s *Subscription) Close() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	for name := range s.channels {
		b.removeLocked(name, s)
	}
	s.channels = map[string]bool{}
	s.closed = true
	close(s.ch)
}

// Close shuts the whole bus down: every live subscription is closed
// and the registry emptied, so consumers ranging over their queues
// terminate once buffered events drain. Later publishes deliver to
// nobody. Safe to call more than once; Subscription.Close afterwards
// is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[*Subscription]bool)
	for _, subs := range b.channels {
		for _, s := range subs {
			if seen[s] || s.closed {
				continue
			}
			seen[s] = true
			s.channels = map[string]bool{}
			s.closed = true
			close(s.ch)
		}
	}
	b.channels = make(map[string][]*Subscription)
}

// removeLocked drops sub from one channel's registration list.
// Caller holds b.mu.
func (b *Bus) removeLocked(channel string, sub *Subscription) {
	subs := b.channels[channel]
	for i, s := range subs {
		if s == sub {
			b.channels[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.channels[channel]) == 0 {
		delete(b.channels, channel)
	}
}

// Publish delivers ev to every queue registered on channel. Synchronous
// and non-blocking: a full queue drops its oldest element first. Events
// from one publisher arrive on each surviving queue in publish order.
func (b *Bus) Publish(channel string, ev *types.CanonicalEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.channels[channel] {
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		// Full: evict the oldest queued event, then retry once. The
		// second send can still lose to a concurrent publisher; the
		// event counts as dropped in that case too.
		select {
		case <-sub.ch:
			b.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the total number of events discarded across all
// queues since construction.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Stats returns subscriber and drop counters for the health snapshot.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[*Subscription]bool)
	for _, subs := range b.channels {
		for _, s := range subs {
			seen[s] = true
		}
	}
	return Stats{
		Subscribers: len(seen),
		Channels:    len(b.channels),
		Dropped:     b.dropped.Load(),
	}
}
