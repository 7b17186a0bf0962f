package ros

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"

	"go.viam.com/jointrecord/logging"
)

// BagPlayer replays recorded messages to subscribers. Subscriptions must be made before Play.
type BagPlayer struct {
	logger   logging.Logger
	clk      clock.Clock
	handlers *handlerSet
	load     func(topics []string) ([]BagMessage, error)

	mu      sync.Mutex
	playing bool
}

// NewBagPlayer opens the rosbag at path for replay.
func NewBagPlayer(path string, logger logging.Logger) (*BagPlayer, error) {
	rb, err := ReadBag(path)
	if err != nil {
		return nil, err
	}
	return NewBagPlayerFromBag(rb, clock.New(), logger), nil
}

// NewBagPlayerFromBag replays a rosbag that has already been read.
func NewBagPlayerFromBag(rb *rosbag.RosBag, clk clock.Clock, logger logging.Logger) *BagPlayer {
	return newBagPlayer(logger, clk, func(topics []string) ([]BagMessage, error) {
		return MessagesForTopics(rb, topics)
	})
}

// NewBagPlayerFromMessages replays an in-memory list of messages, which need not be sorted.
func NewBagPlayerFromMessages(msgs []BagMessage, clk clock.Clock, logger logging.Logger) *BagPlayer {
	return newBagPlayer(logger, clk, func(topics []string) ([]BagMessage, error) {
		wanted := make(map[string]bool, len(topics))
		for _, topic := range topics {
			wanted[topic] = true
		}
		var selected []BagMessage
		for _, msg := range msgs {
			if wanted[msg.Topic] {
				selected = append(selected, msg)
			}
		}
		sortByRecorded(selected)
		return selected, nil
	})
}

func newBagPlayer(logger logging.Logger, clk clock.Clock, load func([]string) ([]BagMessage, error)) *BagPlayer {
	return &BagPlayer{logger: logger, clk: clk, handlers: newHandlerSet(), load: load}
}

// Subscribe implements Subscriber.
func (bp *BagPlayer) Subscribe(ctx context.Context, topic, msgType string, handler Handler) (Subscription, error) {
	id, _ := bp.handlers.add(topic, handler)
	return &subscription{
		topic: topic,
		unsubscribe: func() error {
			bp.handlers.remove(topic, id)
			return nil
		},
	}, nil
}

// Play delivers every message of the subscribed topics in record order. Gaps between messages are
// divided by speed; a speed <= 0 replays as fast as possible. Play returns when the bag is
// exhausted or ctx is done.
func (bp *BagPlayer) Play(ctx context.Context, speed float64) error {
	bp.mu.Lock()
	if bp.playing {
		bp.mu.Unlock()
		return errors.New("bag is already playing")
	}
	bp.playing = true
	bp.mu.Unlock()
	defer func() {
		bp.mu.Lock()
		bp.playing = false
		bp.mu.Unlock()
	}()

	msgs, err := bp.load(bp.handlers.subscribedTopics())
	if err != nil {
		return err
	}
	bp.logger.Infow("replaying bag", "messages", len(msgs), "speed", speed)
	if len(msgs) == 0 {
		return nil
	}

	start := bp.clk.Now()
	first := msgs[0].Recorded
	for _, msg := range msgs {
		if speed > 0 {
			offset := time.Duration(float64(msg.Recorded.Sub(first)) / speed)
			if wait := start.Add(offset).Sub(bp.clk.Now()); wait > 0 {
				timer := bp.clk.Timer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, h := range bp.handlers.get(msg.Topic) {
			h(msg.Data)
		}
	}
	bp.logger.Info("bag replay finished")
	return nil
}

func sortByRecorded(msgs []BagMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Recorded.Sub(msgs[j].Recorded) < 0
	})
}
