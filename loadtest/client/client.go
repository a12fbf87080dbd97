// Package client is a load test client for the safety gate. It sends
// evaluate requests over NATS request/reply and measures the round trip.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brightboard/safety-gate/internal/message"
	"github.com/brightboard/safety-gate/internal/messaging"
	"github.com/brightboard/safety-gate/internal/protocol"
)

// Client wraps one NATS connection. It is safe for concurrent use; NATS
// multiplexes requests over the connection.
type Client struct {
	nats *messaging.NATSClient
}

// New connects to the NATS server at url.
func New(url, name string) (*Client, error) {
	cfg := messaging.DefaultNATSConfig()
	cfg.URL = url
	cfg.Name = name
	cfg.MaxReconnects = 0
	nc, err := messaging.NewNATSClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{nats: nc}, nil
}

// Close closes the connection.
func (c *Client) Close() {
	c.nats.Close()
}

// Reply is the decoded answer to one request. Exactly one of Decision and
// Error is set.
type Reply struct {
	Decision *protocol.DecisionMsg
	Error    *protocol.ErrorMsg
	Latency  time.Duration
}

// Evaluate sends m and waits for the gate's reply.
func (c *Client) Evaluate(ctx context.Context, m message.Inbound) (Reply, error) {
	data, err := protocol.Encode(protocol.TypeEvaluate, protocol.EvaluateMsg{Inbound: m})
	if err != nil {
		return Reply{}, err
	}
	return c.roundTrip(ctx, data)
}

// Ping checks that a gate instance is serving the evaluate subject.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	data, err := protocol.Encode(protocol.TypePing, protocol.PingMsg{})
	if err != nil {
		return 0, err
	}
	start := time.Now()
	raw, err := c.nats.Evaluate(ctx, data)
	if err != nil {
		return 0, err
	}
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return 0, fmt.Errorf("decode pong: %w", err)
	}
	if env.Type != protocol.TypePong {
		return 0, fmt.Errorf("expected %s, got %s", protocol.TypePong, env.Type)
	}
	return time.Since(start), nil
}

// WatchConcerns streams concern-created events for every room until the
// client is closed. Events that fail to decode are dropped.
func (c *Client) WatchConcerns() (<-chan protocol.ConcernCreatedMsg, error) {
	ch := make(chan protocol.ConcernCreatedMsg, 64)
	err := c.nats.SubscribeConcernCreated(func(data []byte) {
		var ev protocol.ConcernCreatedMsg
		if json.Unmarshal(data, &ev) != nil {
			return
		}
		select {
		case ch <- ev:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *Client) roundTrip(ctx context.Context, data []byte) (Reply, error) {
	start := time.Now()
	raw, err := c.nats.Evaluate(ctx, data)
	if err != nil {
		return Reply{}, err
	}
	r := Reply{Latency: time.Since(start)}

	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	switch env.Type {
	case protocol.TypeDecision:
		var d protocol.DecisionMsg
		if err := json.Unmarshal(raw, &d); err != nil {
			return Reply{}, fmt.Errorf("decode decision: %w", err)
		}
		r.Decision = &d
	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(raw, &e); err != nil {
			return Reply{}, fmt.Errorf("decode error: %w", err)
		}
		r.Error = &e
	default:
		return Reply{}, fmt.Errorf("unexpected reply type %q", env.Type)
	}
	return r, nil
}
