package bus

import (
	"context"
	"path"
	"sync"
)

// MemoryBus is an in-process Bus. It backs single-process deployments and
// tests; delivery is synchronous in publish order.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[int]*memorySubscription
	nextID int
	closed bool
}

type memorySubscription struct {
	bus     *MemoryBus
	id      int
	channel string
	pattern bool
	h       Handler
	once    sync.Once
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
	return nil
}

func (s *memorySubscription) matches(channel string) bool {
	if !s.pattern {
		return s.channel == channel
	}
	ok, err := path.Match(s.channel, channel)
	return err == nil && ok
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySubscription)}
}

// Publish delivers the event to every matching subscriber before returning.
// Handler failures are isolated; the publisher never sees them.
func (b *MemoryBus) Publish(ctx context.Context, e *Event) error {
	b.mu.RLock()
	matched := make([]*memorySubscription, 0, 4)
	for _, s := range b.subs {
		if s.matches(e.Channel) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		dispatch(ctx, s.h, e)
	}
	return nil
}

// Subscribe registers a handler on a single channel.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	return b.add(channel, false, h)
}

// SubscribePattern registers a handler on a glob pattern.
func (b *MemoryBus) SubscribePattern(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	return b.add(pattern, true, h)
}

func (b *MemoryBus) add(channel string, pattern bool, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	s := &memorySubscription{bus: b, id: b.nextID, channel: channel, pattern: pattern, h: h}
	b.subs[s.id] = s
	return s, nil
}

// Close drops all subscriptions.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]*memorySubscription)
	return nil
}
