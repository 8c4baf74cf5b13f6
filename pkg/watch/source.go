package watch

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Source publishes events to subscribers. Cancelling a subscription stops further dispatch to
// its handler; an event already being handled may complete.
type Source interface {
	Subscribe(filter Filter, handler Handler) (cancel func())
	Close() error
}

type subscription struct {
	filter    Filter
	handler   Handler
	cancelled atomic.Bool
}

// Broadcaster is an in-memory Source. Publish delivers synchronously on the caller's goroutine
// in publish order. Handlers may cancel subscriptions but must not publish.
type Broadcaster struct {
	publishMu sync.Mutex

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[uint64]*subscription),
	}
}

func (b *Broadcaster) Subscribe(filter Filter, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscription{filter: filter, handler: handler}
	b.subs[id] = sub

	return func() {
		sub.cancelled.Store(true)
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every subscription whose filter accepts it
func (b *Broadcaster) Publish(e Event) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	for _, sub := range b.snapshot() {
		if sub.cancelled.Load() {
			continue
		}
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		sub.handler(e)
	}
}

func (b *Broadcaster) snapshot() []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]*subscription, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.subs[id])
	}
	return out
}

// Subscribers returns the number of active subscriptions
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscription. Later subscriptions are ignored. Closing twice is a no-op.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.cancelled.Store(true)
	}
	b.subs = nil
	return nil
}

// Stream adapts a source to a channel. The returned cancel unsubscribes and closes the channel;
// a publisher blocked on a full channel is released by cancel.
func Stream(source Source, filter Filter, buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	done := make(chan struct{})

	var (
		mu     sync.Mutex
		closed bool
	)
	unsubscribe := source.Subscribe(filter, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		case <-done:
		}
	})

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			close(done)
			unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
}
