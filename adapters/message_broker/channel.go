package message_broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/satriahrh/gemini-chat/domain"
	"github.com/satriahrh/gemini-chat/utils/log"
	"go.uber.org/zap"
)

const subscriberBuffer = 100

// ChannelMessageBroker implements MessageBroker using Go channels.
// Subscribing with an empty routing key receives every message of the topic.
type ChannelMessageBroker struct {
	subs   map[string][]chan domain.Message
	mu     sync.RWMutex
	closed bool
}

// NewChannelMessageBroker creates a new channel-based message broker
func NewChannelMessageBroker() *ChannelMessageBroker {
	return &ChannelMessageBroker{
		subs: make(map[string][]chan domain.Message),
	}
}

// makeKey creates a unique key for topic and routingKey
func makeKey(topic, routingKey string) string {
	return topic + ":" + routingKey
}

// Publish delivers a message to the subscribers of the routing key and to
// the topic-wide subscribers. Messages without subscribers are dropped; a
// subscriber whose buffer is full misses the message.
func (b *ChannelMessageBroker) Publish(ctx context.Context, topic string, routingKey string, message []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("message broker is closed")
	}

	msg := domain.Message{
		Topic:      topic,
		RoutingKey: routingKey,
		Payload:    message,
		Timestamp:  time.Now(),
	}

	targets := b.subs[makeKey(topic, routingKey)]
	if routingKey != "" {
		targets = append(targets[:len(targets):len(targets)], b.subs[makeKey(topic, "")]...)
	}

	var dropped int
	for _, ch := range targets {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return ctx.Err()
		default:
			dropped++
		}
	}

	log.WithCtx(ctx).Debug("📤 Message published to topic",
		zap.String("topic", topic),
		zap.String("routingKey", routingKey),
		zap.Int("subscribers", len(targets)),
		zap.Int("payload_size", len(message)))

	if dropped > 0 {
		return fmt.Errorf("%d subscriber(s) of %s:%s are full", dropped, topic, routingKey)
	}
	return nil
}

// Subscribe listens for messages on a specific topic and routing key. The
// subscription ends and the channel is closed when ctx is done.
func (b *ChannelMessageBroker) Subscribe(ctx context.Context, topic string, routingKey string) (<-chan domain.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("message broker is closed")
	}

	key := makeKey(topic, routingKey)
	ch := make(chan domain.Message, subscriberBuffer)
	b.subs[key] = append(b.subs[key], ch)

	go func() {
		<-ctx.Done()
		b.unsubscribe(key, ch)
	}()

	log.WithCtx(ctx).Info("📡 Subscribed to topic", zap.String("topic", topic), zap.String("routingKey", routingKey))
	return ch, nil
}

func (b *ChannelMessageBroker) unsubscribe(key string, ch chan domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[key]
	for i, c := range subs {
		if c == ch {
			b.subs[key] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
}

// Close closes the message broker and all subscriber channels
func (b *ChannelMessageBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	for key, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		log.WithCtx(context.Background()).Debug("🔒 Closed topic channels", zap.String("key", key))
	}

	b.subs = make(map[string][]chan domain.Message)

	log.WithCtx(context.Background()).Info("🔒 Message broker closed")
	return nil
}

// GetTopicCount returns the number of routing keys with live subscribers
func (b *ChannelMessageBroker) GetTopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// IsClosed returns whether the broker is closed
func (b *ChannelMessageBroker) IsClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}
