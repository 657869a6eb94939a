package bus

import (
	"reflect"

	"github.com/cskr/pubsub"
)

// Topics.
const (
	// TopicTransitions carries lifecycle.Transition values.
	TopicTransitions = "lifecycle.transition"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 128

type Subscription chan any

// Logger is the logging interface used by the bus.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topic string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus fans messages out to in-process observers.
//
// Publish never blocks: a subscriber whose buffer is full misses the
// message. The lifecycle control loop publishes, so a slow observer must
// not stall it.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger Logger
}

func New(logger Logger) *PubSubBus {
	if logger == nil {
		logger = noopLogger{}
	}
	return &PubSubBus{
		ps:     pubsub.New(subscriberBuffer),
		logger: logger,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.TryPub(msg, topic)
}

func (b *PubSubBus) Subscribe(topic string) Subscription {
	ch := b.ps.Sub(topic)
	b.logger.Debug("subscribe", "topic", topic)
	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")
		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

// Close shuts the bus down and closes every subscription channel.
func (b *PubSubBus) Close() {
	b.ps.Shutdown()
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
