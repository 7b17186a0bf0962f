package ros

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/jointrecord/logging"
)

// ErrClosed is returned when subscribing to or publishing on a closed transport.
var ErrClosed = errors.New("transport is closed")

// A Handler receives the JSON payload of one message. Handlers may be called from any goroutine.
type Handler func(msg json.RawMessage)

// A Subscriber delivers messages published on named topics.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, msgType string, handler Handler) (Subscription, error)
}

// A Subscription is the handle to a registered Handler.
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once.
	Unsubscribe() error
	Topic() string
}

// SubscribeJointState subscribes to sensor_msgs/JointState messages on topic. Messages that fail
// to decode are logged and dropped.
func SubscribeJointState(
	ctx context.Context,
	sub Subscriber,
	topic string,
	logger logging.Logger,
	handler func(*JointState),
) (Subscription, error) {
	return subscribeTyped(ctx, sub, topic, JointStateType, logger, handler)
}

// SubscribeJointPositions subscribes to baxter_msgs/JointPositions messages on topic.
func SubscribeJointPositions(
	ctx context.Context,
	sub Subscriber,
	topic string,
	logger logging.Logger,
	handler func(*JointPositions),
) (Subscription, error) {
	return subscribeTyped(ctx, sub, topic, JointPositionsType, logger, handler)
}

// SubscribeJointVelocities subscribes to baxter_msgs/JointVelocities messages on topic.
func SubscribeJointVelocities(
	ctx context.Context,
	sub Subscriber,
	topic string,
	logger logging.Logger,
	handler func(*JointVelocities),
) (Subscription, error) {
	return subscribeTyped(ctx, sub, topic, JointVelocitiesType, logger, handler)
}

func subscribeTyped[T any](
	ctx context.Context,
	sub Subscriber,
	topic, msgType string,
	logger logging.Logger,
	handler func(*T),
) (Subscription, error) {
	s, err := sub.Subscribe(ctx, topic, msgType, func(raw json.RawMessage) {
		var msg T
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Warnw("dropping message that failed to decode", "topic", topic, "type", msgType, "error", err)
			return
		}
		handler(&msg)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "subscribing to %s", topic)
	}
	return s, nil
}

// handlerSet is the per-topic bookkeeping shared by the transports.
type handlerSet struct {
	mu     sync.RWMutex
	nextID int
	topics map[string]map[int]Handler
}

func newHandlerSet() *handlerSet {
	return &handlerSet{topics: map[string]map[int]Handler{}}
}

// add registers handler and reports whether it is the first one on topic.
func (hs *handlerSet) add(topic string, handler Handler) (id int, first bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.nextID++
	handlers, ok := hs.topics[topic]
	if !ok {
		handlers = map[int]Handler{}
		hs.topics[topic] = handlers
	}
	handlers[hs.nextID] = handler
	return hs.nextID, !ok
}

// remove unregisters a handler and reports whether the topic has no handlers left.
func (hs *handlerSet) remove(topic string, id int) (last bool) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	handlers, ok := hs.topics[topic]
	if !ok {
		return false
	}
	delete(handlers, id)
	if len(handlers) == 0 {
		delete(hs.topics, topic)
		return true
	}
	return false
}

func (hs *handlerSet) get(topic string) []Handler {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	handlers := make([]Handler, 0, len(hs.topics[topic]))
	for _, h := range hs.topics[topic] {
		handlers = append(handlers, h)
	}
	return handlers
}

func (hs *handlerSet) clear() {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.topics = map[string]map[int]Handler{}
}

func (hs *handlerSet) subscribedTopics() []string {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	topics := make([]string, 0, len(hs.topics))
	for topic := range hs.topics {
		topics = append(topics, topic)
	}
	return topics
}

type subscription struct {
	once        sync.Once
	topic       string
	unsubscribe func() error
	err         error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.unsubscribe()
	})
	return s.err
}

func (s *subscription) Topic() string {
	return s.topic
}
