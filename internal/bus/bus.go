// Package bus is the event fan-out layer of the coordination core. A single
// abstraction covers both intra-process listeners and cross-process delivery:
// an event published on one server is observed by subscribers on every server
// holding a subscription for the channel. Delivery is at-most-once per local
// subscriber; a missed presence event self-corrects on the next reconnect.
package bus

import (
	"context"
	"encoding/json"
	"time"

	pkglog "github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

// Event is the unit exchanged on the bus. Payload stays raw until the
// subscription boundary, where it is decoded into the concrete type for
// the channel and name. Events are never persisted.
type Event struct {
	Channel   string          `json:"channel"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(channel, name string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Channel:   channel,
		Name:      name,
		Payload:   data,
		Timestamp: time.Now(),
	}, nil
}

// Decode unmarshals the event payload into the given struct.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler processes one event. Handlers on the same event run independently:
// a panic or failure in one never reaches the publisher or its siblings.
type Handler func(ctx context.Context, e *Event)

// Subscription is a live registration on a channel or pattern.
type Subscription interface {
	Unsubscribe() error
}

// Publisher publishes events to the bus.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// Subscriber registers handlers for events. Multiple processes subscribing
// to the same channel is how cross-process fan-out works, not a conflict.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
	SubscribePattern(ctx context.Context, pattern string, h Handler) (Subscription, error)
}

// Bus combines Publisher and Subscriber.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// dispatch invokes a handler with panic isolation.
func dispatch(ctx context.Context, h Handler, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			pkglog.L().Error().
				Str(pkglog.FieldChannel, e.Channel).
				Str(pkglog.FieldEvent, e.Name).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	h(ctx, e)
}
