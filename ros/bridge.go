package ros

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/jointrecord/logging"
	"go.viam.com/jointrecord/utils"
)

const (
	bridgeHandshakeTimeout = 10 * time.Second
	bridgeReadTimeout      = 30 * time.Second
	bridgePingInterval     = 15 * time.Second
	bridgeWriteTimeout     = 5 * time.Second
	bridgeReadLimit        = 16 << 20
)

// bridgeOp is one rosbridge v2 protocol frame. Msg is a message object for "publish" frames and a
// string for "status" frames.
type bridgeOp struct {
	Op          string          `json:"op"`
	ID          string          `json:"id,omitempty"`
	Topic       string          `json:"topic,omitempty"`
	Type        string          `json:"type,omitempty"`
	QueueLength int             `json:"queue_length,omitempty"`
	Level       string          `json:"level,omitempty"`
	Msg         json.RawMessage `json:"msg,omitempty"`
}

// BridgeClient is a Subscriber talking to a rosbridge server over a websocket.
type BridgeClient struct {
	conn     *websocket.Conn
	logger   logging.Logger
	handlers *handlerSet
	workers  utils.StoppableWorkers

	writeMu sync.Mutex

	mu     sync.Mutex
	subIDs map[string]string
	nextID int

	closed   atomic.Bool
	done     chan struct{}
	errMu    sync.Mutex
	readErr  error
	received atomic.Int64
}

// DialBridge connects to the rosbridge server at url (e.g. "ws://localhost:9090").
func DialBridge(ctx context.Context, url string, logger logging.Logger) (*BridgeClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: bridgeHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to rosbridge at %s", url)
	}

	conn.SetReadLimit(bridgeReadLimit)
	goutils.UncheckedError(conn.SetReadDeadline(time.Now().Add(bridgeReadTimeout)))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(bridgeReadTimeout))
	})

	c := &BridgeClient{
		conn:     conn,
		logger:   logger,
		handlers: newHandlerSet(),
		subIDs:   map[string]string{},
		done:     make(chan struct{}),
	}
	c.workers = utils.NewStoppableWorkers(c.readLoop)
	c.workers.AddTicker(clock.New(), bridgePingInterval, c.ping)
	logger.Infow("connected to rosbridge", "url", url)
	return c, nil
}

// Subscribe implements Subscriber. The first handler on a topic sends a subscribe frame to the
// server; later handlers share it.
func (c *BridgeClient) Subscribe(ctx context.Context, topic, msgType string, handler Handler) (Subscription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	id, first := c.handlers.add(topic, handler)
	if first {
		c.mu.Lock()
		c.nextID++
		subID := fmt.Sprintf("subscribe:%s:%d", topic, c.nextID)
		c.subIDs[topic] = subID
		c.mu.Unlock()

		if err := c.write(bridgeOp{Op: "subscribe", ID: subID, Topic: topic, Type: msgType, QueueLength: 1}); err != nil {
			c.handlers.remove(topic, id)
			return nil, err
		}
		c.logger.Debugw("subscribed", "topic", topic, "type", msgType)
	}

	return &subscription{
		topic: topic,
		unsubscribe: func() error {
			if !c.handlers.remove(topic, id) || c.closed.Load() {
				return nil
			}
			c.mu.Lock()
			subID := c.subIDs[topic]
			delete(c.subIDs, topic)
			c.mu.Unlock()
			return c.write(bridgeOp{Op: "unsubscribe", ID: subID, Topic: topic})
		},
	}, nil
}

// Done is closed once the connection is lost or closed.
func (c *BridgeClient) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *BridgeClient) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// Received returns the number of publish frames received so far.
func (c *BridgeClient) Received() int64 {
	return c.received.Load()
}

// Close closes the connection and waits for the background workers to exit.
func (c *BridgeClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	goutils.UncheckedError(c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(bridgeWriteTimeout),
	))
	err := c.conn.Close()
	c.workers.Stop()
	c.handlers.clear()
	return err
}

func (c *BridgeClient) write(op bridgeOp) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout)); err != nil {
		return err
	}
	return errors.Wrapf(c.conn.WriteJSON(op), "sending %s for %s", op.Op, op.Topic)
}

func (c *BridgeClient) ping(ctx context.Context, now time.Time) bool {
	err := c.conn.WriteControl(websocket.PingMessage, nil, now.Add(bridgeWriteTimeout))
	if err != nil {
		if !c.closed.Load() {
			c.logger.Warnw("rosbridge ping failed", "error", err)
		}
		return false
	}
	return true
}

func (c *BridgeClient) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && ctx.Err() == nil {
				c.logger.Errorw("rosbridge connection lost", "error", err)
				c.errMu.Lock()
				c.readErr = err
				c.errMu.Unlock()
			}
			return
		}
		goutils.UncheckedError(c.conn.SetReadDeadline(time.Now().Add(bridgeReadTimeout)))

		var op bridgeOp
		if err := json.Unmarshal(data, &op); err != nil {
			c.logger.Warnw("failed to decode rosbridge frame", "error", err)
			continue
		}
		switch op.Op {
		case "publish":
			c.received.Add(1)
			for _, h := range c.handlers.get(op.Topic) {
				h(op.Msg)
			}
		case "status":
			c.logStatus(op)
		default:
			c.logger.Debugw("ignoring rosbridge frame", "op", op.Op)
		}
	}
}

func (c *BridgeClient) logStatus(op bridgeOp) {
	var text string
	if err := json.Unmarshal(op.Msg, &text); err != nil {
		text = string(op.Msg)
	}
	switch op.Level {
	case "error":
		c.logger.Errorw("rosbridge status", "id", op.ID, "msg", text)
	case "warning":
		c.logger.Warnw("rosbridge status", "id", op.ID, "msg", text)
	default:
		c.logger.Infow("rosbridge status", "id", op.ID, "msg", text)
	}
}
