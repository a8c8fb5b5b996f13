package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	pkglog "github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

// RedisBus implements Bus on Redis pub/sub. Within one channel, events
// published by the same process reach a given subscriber in publish order;
// there is no cross-channel guarantee, which is all the room layer needs.
type RedisBus struct {
	client *redis.Client
	subs   map[int]*redisSubscription
	nextID int
	mu     sync.Mutex
	closed bool
}

type redisSubscription struct {
	bus    *RedisBus
	id     int
	pubsub *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (s *redisSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.pubsub.Close()
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
	return err
}

// NewRedisBus creates a Redis-backed bus on an existing client. The caller
// owns the client; subscriber connections are created per subscription
// because a Redis connection in subscribe mode cannot run other commands.
func NewRedisBus(client *redis.Client) (*RedisBus, error) {
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisBus{
		client: client,
		subs:   make(map[int]*redisSubscription),
	}, nil
}

// Publish publishes an event to its channel.
func (b *RedisBus) Publish(ctx context.Context, e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.client.Publish(ctx, e.Channel, data).Err()
}

// Subscribe registers a handler on a single channel.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	return b.track(ctx, pubsub, h)
}

// SubscribePattern registers a handler on every channel matching a glob
// pattern, e.g. "live:room:*".
func (b *RedisBus) SubscribePattern(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	pubsub := b.client.PSubscribe(ctx, pattern)
	return b.track(ctx, pubsub, h)
}

func (b *RedisBus) track(ctx context.Context, pubsub *redis.PubSub, h Handler) (Subscription, error) {
	// Wait for the subscription to be active so a publish issued right
	// after Subscribe returns is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("bus is closed")
	}
	b.nextID++
	sub := &redisSubscription{bus: b, id: b.nextID, pubsub: pubsub, cancel: cancel}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go b.pump(subCtx, pubsub, h)
	return sub, nil
}

// pump reads raw messages and hands decoded events to the handler.
func (b *RedisBus) pump(ctx context.Context, pubsub *redis.PubSub, h Handler) {
	ch := pubsub.Channel(redis.WithChannelSize(100))
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				pkglog.L().Warn().
					Str(pkglog.FieldChannel, msg.Channel).
					Err(err).
					Msg("dropping undecodable bus event")
				continue
			}
			dispatch(ctx, h, &e)
		}
	}
}

// Close cancels every subscription. The underlying client stays open for
// its owner.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	return nil
}
