package httpapi

import (
	"context"
	"sync"

	"github.com/R3E-Network/bridge_layer/internal/app/domain/settlement"
	"github.com/R3E-Network/bridge_layer/internal/app/storage"
)

// Broker decorates an EventStore and fans successfully appended events out
// to live subscribers. Wire it between the engine and the underlying store
// to drive the websocket feed.
type Broker struct {
	storage.EventStore

	mu   sync.Mutex
	subs map[chan settlement.Event]struct{}
}

// NewBroker wraps the given store.
func NewBroker(inner storage.EventStore) *Broker {
	return &Broker{EventStore: inner, subs: make(map[chan settlement.Event]struct{})}
}

// AppendEvent persists the event and then broadcasts it. Slow subscribers
// miss events rather than backpressuring settlement.
func (b *Broker) AppendEvent(ctx context.Context, evt settlement.Event) (settlement.Event, error) {
	stored, err := b.EventStore.AppendEvent(ctx, evt)
	if err != nil {
		return stored, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- stored:
		default:
		}
	}
	return stored, nil
}

// Subscribe registers a live feed. The returned cancel func must be called
// to release the subscription.
func (b *Broker) Subscribe() (<-chan settlement.Event, func()) {
	ch := make(chan settlement.Event, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}
