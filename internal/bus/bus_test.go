package bus

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cryptolake/pkg/types"
)

func newTestBus(maxQueue int) *Bus {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, maxQueue)
}

func ev(tsEvent int64) *types.CanonicalEvent {
	return &types.CanonicalEvent{
		Exchange:   "binance",
		Symbol:     "BTCUSDT",
		TsEvent:    tsEvent,
		TsRecv:     tsEvent,
		StreamKind: types.StreamTrade,
	}
}

func TestPublishDelivers(t *testing.T) {
	t.Parallel()

	b := newTestBus(10)
	sub := b.Subscribe("trade:BTCUSDT")
	defer sub.Close()

	b.Publish("trade:BTCUSDT", ev(1))

	select {
	case got := <-sub.C:
		if got.TsEvent != 1 {
			t.Errorf("TsEvent = %d, want 1", got.TsEvent)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSubscribeFiltersByChannel(t *testing.T) {
	t.Parallel()

	b := newTestBus(10)
	sub := b.Subscribe("trade:ETHUSDT")
	defer sub.Close()

	b.Publish("trade:BTCUSDT", ev(1))

	select {
	case got := <-sub.C:
		t.Errorf("received event %d from foreign channel", got.TsEvent)
	default:
	}
}

func TestMultiChannelSubscriptionSharesOneQueue(t *testing.T) {
	t.Parallel()

	b := newTestBus(10)
	sub := b.Subscribe("trade:BTCUSDT", "book_ticker:BTCUSDT")
	defer sub.Close()

	b.Publish("trade:BTCUSDT", ev(1))
	b.Publish("book_ticker:BTCUSDT", ev(2))

	var got []int64
	for i := 0; i < 2; i++ {
		select {
		case e := <-sub.C:
			got = append(got, e.TsEvent)
		case <-time.After(time.Second):
			t.Fatalf("only received %d of 2 events", len(got))
		}
	}
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("events = %v, want [1 2]", got)
	}
}

func TestPublishPreservesFIFO(t *testing.T) {
	t.Parallel()

	b := newTestBus(100)
	sub := b.Subscribe(types.ChannelAll)
	defer sub.Close()

	for i := int64(1); i <= 50; i++ {
		b.Publish(types.ChannelAll, ev(i))
	}

	for want := int64(1); want <= 50; want++ {
		got := <-sub.C
		if got.TsEvent != want {
			t.Fatalf("event %d arrived out of order: got %d", want, got.TsEvent)
		}
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	b := newTestBus(4)
	sub := b.Subscribe(types.ChannelAll)
	defer sub.Close()

	for i := int64(1); i <= 6; i++ {
		b.Publish(types.ChannelAll, ev(i))
	}

	var got []int64
	for i := 0; i < 4; i++ {
		select {
		case e := <-sub.C:
			got = append(got, e.TsEvent)
		default:
			t.Fatalf("queue held only %d events, want 4", len(got))
		}
	}
	want := []int64{3, 4, 5, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queue[%d] = %d, want %d (full read: %v)", i, got[i], want[i], got)
		}
	}
	if d := b.Dropped(); d != 2 {
		t.Errorf("Dropped() = %d, want 2", d)
	}

	// Queue is empty again.
	select {
	case e := <-sub.C:
		t.Errorf("unexpected extra event %d", e.TsEvent)
	default:
	}
}

func TestUnsubscribeStopsDeliveryAndClosesQueue(t *testing.T) {
	t.Parallel()

	b := newTestBus(10)
	sub := b.Subscribe("trade:BTCUSDT")

	b.Unsubscribe("trade:BTCUSDT", sub)
	b.Publish("trade:BTCUSDT", ev(1))

	// Last registration gone: C closes after draining.
	select {
	case e, ok := <-sub.C:
		if ok {
			t.Errorf("received event %d after unsubscribe", e.TsEvent)
		}
	case <-time.After(time.Second):
		t.Fatal("queue not closed after final unsubscribe")
	}

	if got := b.Stats().Subscribers; got != 0 {
		t.Errorf("Subscribers = %d, want 0", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	b := newTestBus(10)
	sub := b.Subscribe("trade:BTCUSDT", types.ChannelAll)

	sub.Close()
	sub.Close() // must not panic

	b.Publish("trade:BTCUSDT", ev(1))
	if got := b.Stats(); got.Subscribers != 0 || got.Channels != 0 {
		t.Errorf("Stats() after close = %+v, want empty registry", got)
	}
}

func TestConcurrentPublishersDoNotBlock(t *testing.T) {
	t.Parallel()

	b := newTestBus(8)
	sub := b.Subscribe(types.ChannelAll)
	defer sub.Close()

	const publishers = 4
	const perPublisher = 500

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(0); i < perPublisher; i++ {
				b.Publish(types.ChannelAll, ev(i))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publishers blocked on a slow subscriber")
	}

	// Everything beyond the queue bound was dropped, not buffered.
	total := uint64(publishers * perPublisher)
	if d := b.Dropped(); d == 0 || d > total {
		t.Errorf("Dropped() = %d, want within (0, %d]", d, total)
	}
}

func TestCloseReleasesAllSubscribers(t *testing.T) {
	t.Parallel()

	b := newTestBus(10)
	trades := b.Subscribe("trade:BTCUSDT")
	books := b.Subscribe("book_ticker:BTCUSDT", types.ChannelAll)

	b.Publish("trade:BTCUSDT", ev(1))
	b.Close()

	// Buffered events drain first, then the queue reports closed so a
	// consumer ranging over it terminates.
	if got, ok := <-trades.C; !ok || got.TsEvent != 1 {
		t.Fatalf("buffered event after Close = (%v, %v), want (1, open)", got, ok)
	}
	if _, ok := <-trades.C; ok {
		t.Error("trade queue still open after Close")
	}
	if _, ok := <-books.C; ok {
		t.Error("book queue still open after Close")
	}

	// A closed bus delivers to nobody and keeps an empty registry.
	b.Publish("trade:BTCUSDT", ev(2))
	if got := b.Stats(); got.Subscribers != 0 || got.Channels != 0 {
		t.Errorf("Stats() after Close = %+v, want empty registry", got)
	}

	b.Close()      // must not panic
	trades.Close() // nor must a late subscription Close
}
