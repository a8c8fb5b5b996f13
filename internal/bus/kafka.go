package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/boyrevue/api.boyvue.com-sub001/pkg/log"
)

// KafkaConfig holds the kafka driver configuration.
type KafkaConfig struct {
	Brokers    string
	GroupID    string
	Partitions int
}

// Topic layout for the kafka driver. Room and identity channels share one
// topic each, keyed by room/identity ID so same-key events stay on one
// partition and keep their relative order.
const (
	topicRoomEvents       = "live-room-events"
	topicIdentityEvents   = "live-identity-events"
	topicStreamEvents     = "live-stream-events"
	topicDisconnectEvents = "live-disconnect-events"
)

// channelToTopicAndKey maps a bus channel onto a kafka topic and message key.
//
//	"live:room:private:c42"  -> topic live-room-events, key "private:c42"
//	"live:identity:u7"       -> topic live-identity-events, key "u7"
//	"live:stream"            -> topic live-stream-events, key ""
//	"live:gateway:disconnects" -> topic live-disconnect-events, key ""
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	switch {
	case channel == ChannelStream:
		return topicStreamEvents, "", nil
	case channel == ChannelDisconnects:
		return topicDisconnectEvents, "", nil
	case strings.HasPrefix(channel, channelRoomPrefix):
		return topicRoomEvents, strings.TrimPrefix(channel, channelRoomPrefix), nil
	case strings.HasPrefix(channel, channelIdentityPrefix):
		return topicIdentityEvents, strings.TrimPrefix(channel, channelIdentityPrefix), nil
	}
	return "", "", fmt.Errorf("channel %q has no kafka topic mapping", channel)
}

// patternToTopic maps a subscribe pattern onto a kafka topic; the consumer
// sees every key on the topic.
func patternToTopic(pattern string) (string, error) {
	topic, _, err := channelToTopicAndKey(strings.ReplaceAll(pattern, "*", "any"))
	return topic, err
}

type kafkaSubscription struct {
	bus      *KafkaBus
	id       int
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	once     sync.Once
}

func (s *kafkaSubscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.consumer.Close()
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
	return err
}

// KafkaBus implements Bus on Apache Kafka for deployments that already run
// a broker. Same-channel ordering holds because every channel maps to a
// single partition key.
type KafkaBus struct {
	producer *kafka.Producer
	config   KafkaConfig
	subs     map[int]*kafkaSubscription
	nextID   int
	mu       sync.Mutex
	closed   bool
}

// NewKafkaBus creates a kafka-backed bus.
func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	b := &KafkaBus{
		producer: p,
		config:   cfg,
		subs:     make(map[int]*kafkaSubscription),
	}
	go b.deliveryReports()
	return b, nil
}

// deliveryReports drains producer events and logs failed deliveries.
func (b *KafkaBus) deliveryReports() {
	for e := range b.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			pkglog.L().Error().Err(m.TopicPartition.Error).Msg("kafka bus delivery failed")
		}
	}
}

// Publish publishes an event to the topic its channel maps to.
func (b *KafkaBus) Publish(ctx context.Context, e *Event) error {
	topic, key, err := channelToTopicAndKey(e.Channel)
	if err != nil {
		return err
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return b.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          data,
	}, nil)
}

// Subscribe registers a handler on a single channel. The consumer reads
// the whole topic and filters on the channel name.
func (b *KafkaBus) Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error) {
	topic, _, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, err
	}
	return b.subscribeTopic(ctx, topic, channel, h)
}

// SubscribePattern registers a handler on every channel mapped to the
// pattern's topic.
func (b *KafkaBus) SubscribePattern(ctx context.Context, pattern string, h Handler) (Subscription, error) {
	topic, err := patternToTopic(pattern)
	if err != nil {
		return nil, err
	}
	return b.subscribeTopic(ctx, topic, "", h)
}

func (b *KafkaBus) subscribeTopic(ctx context.Context, topic, filterChannel string, h Handler) (Subscription, error) {
	groupID := b.config.GroupID
	if groupID == "" {
		groupID = "live-coordinator"
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus is closed")
	}
	b.nextID++
	id := b.nextID
	b.mu.Unlock()

	// Each subscription gets its own group so every process observes every
	// event; fan-out, not work sharing.
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  b.config.Brokers,
		"group.id":           fmt.Sprintf("%s-%d", groupID, id),
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &kafkaSubscription{bus: b, id: id, consumer: c, cancel: cancel}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	go b.consume(subCtx, c, filterChannel, h)
	return sub, nil
}

func (b *KafkaBus) consume(ctx context.Context, c *kafka.Consumer, filterChannel string, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := c.Poll(500)
		if ev == nil {
			continue
		}

		switch m := ev.(type) {
		case *kafka.Message:
			var e Event
			if err := json.Unmarshal(m.Value, &e); err != nil {
				pkglog.L().Warn().Err(err).Msg("dropping undecodable kafka event")
				continue
			}
			if filterChannel != "" && e.Channel != filterChannel {
				continue
			}
			dispatch(ctx, h, &e)

		case kafka.Error:
			pkglog.L().Error().Err(m).Bool("fatal", m.IsFatal()).Msg("kafka bus error")
			if m.IsFatal() {
				return
			}
		}
	}
}

// Close cancels every subscription and flushes the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*kafkaSubscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}

	b.producer.Flush(5000)
	b.producer.Close()
	return nil
}
