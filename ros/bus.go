package ros

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Bus is an in-process Subscriber. Publish delivers synchronously to every handler of the topic,
// which makes it the transport of choice for tests and for feeding recorded data back in.
type Bus struct {
	handlers *handlerSet
	closed   atomic.Bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: newHandlerSet()}
}

// Subscribe implements Subscriber. The message type is not checked.
func (b *Bus) Subscribe(ctx context.Context, topic, msgType string, handler Handler) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	id, _ := b.handlers.add(topic, handler)
	return &subscription{
		topic: topic,
		unsubscribe: func() error {
			b.handlers.remove(topic, id)
			return nil
		},
	}, nil
}

// Publish encodes msg as JSON and hands it to every subscriber of topic.
func (b *Bus) Publish(topic string, msg interface{}) error {
	if b.closed.Load() {
		return ErrClosed
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrapf(err, "encoding message for %s", topic)
	}
	b.PublishRaw(topic, raw)
	return nil
}

// PublishRaw hands an already encoded message to every subscriber of topic.
func (b *Bus) PublishRaw(topic string, raw json.RawMessage) {
	if b.closed.Load() {
		return
	}
	for _, h := range b.handlers.get(topic) {
		h(raw)
	}
}

// Close drops all subscriptions. Publishing afterwards fails with ErrClosed.
func (b *Bus) Close() error {
	b.closed.Store(true)
	b.handlers.clear()
	return nil
}
