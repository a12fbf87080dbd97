// Package messaging provides the NATS client wrapper the safety gate uses to
// serve evaluate requests from the chat pipeline and to announce new
// concerns. It handles connection lifecycle and subscription bookkeeping.
package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/brightboard/safety-gate/internal/protocol"
)

// NATS subjects used by the gate.
const (
	SubjectEvaluate       = "safety.evaluate"        // request/reply
	SubjectConcernCreated = "safety.concern.created" // + .<room_id>

	// QueueEvaluate load-balances evaluate requests across gate instances.
	QueueEvaluate = "safetygate"
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "safetygate",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// NewNATSClient connects to NATS and returns a ready client. It fails if the
// initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// subscribe registers handler on subject (in a queue group when queue is
// set) and tracks the subscription under key for cleanup.
func (c *NATSClient) subscribe(key, subject, queue string, handler nats.MsgHandler) error {
	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = c.conn.QueueSubscribe(subject, queue, handler)
	} else {
		sub, err = c.conn.Subscribe(subject, handler)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// SubscribeEvaluate serves evaluate requests in the QueueEvaluate queue
// group. The handler's return value is sent as the reply.
func (c *NATSClient) SubscribeEvaluate(handler func(data []byte) []byte) error {
	return c.subscribe(SubjectEvaluate, SubjectEvaluate, QueueEvaluate, func(msg *nats.Msg) {
		reply := handler(msg.Data)
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(reply); err != nil {
			log.Printf("[nats] evaluate reply failed: %v", err)
		}
	})
}

// Evaluate sends an evaluate request and waits for the decision. It is the
// chat pipeline side of SubscribeEvaluate.
func (c *NATSClient) Evaluate(ctx context.Context, data []byte) ([]byte, error) {
	msg, err := c.conn.RequestWithContext(ctx, SubjectEvaluate, data)
	if err != nil {
		return nil, fmt.Errorf("nats evaluate request: %w", err)
	}
	return msg.Data, nil
}

// PublishConcernCreated announces a new concern on
// safety.concern.created.<room_id>.
func (c *NATSClient) PublishConcernCreated(_ context.Context, ev protocol.ConcernCreatedMsg) error {
	data, err := protocol.Encode(protocol.TypeConcernCreated, ev)
	if err != nil {
		return err
	}
	return c.Publish(SubjectConcernCreated+"."+ev.RoomID, data)
}

// SubscribeConcernCreated delivers concern events for every room.
func (c *NATSClient) SubscribeConcernCreated(handler func(data []byte)) error {
	return c.subscribe(SubjectConcernCreated, SubjectConcernCreated+".*", "", func(msg *nats.Msg) {
		handler(msg.Data)
	})
}

// Unsubscribe removes a subscription registered under subject.
func (c *NATSClient) Unsubscribe(subject string) error {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for subject %s", subject)
	}
	delete(c.subs, subject)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", subject, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	log.Printf("[nats] client closed")
}
