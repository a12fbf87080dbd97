package messaging

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/brightboard/safety-gate/internal/protocol"
)

func newTestClient(t *testing.T) *NATSClient {
	t.Helper()
	cfg := DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.URL = v
	}
	cfg.MaxReconnects = 0
	c, err := NewNATSClient(cfg)
	if err != nil {
		t.Skipf("nats not available: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestEvaluateRequestReply(t *testing.T) {
	c := newTestClient(t)

	err := c.SubscribeEvaluate(func(data []byte) []byte {
		_, msg, err := protocol.ParseRequest(data)
		if err != nil {
			return protocol.NewError(protocol.CodeInvalidRequest, err.Error(), "")
		}
		em := msg.(protocol.EvaluateMsg)
		out, _ := protocol.Encode(protocol.TypeDecision, protocol.DecisionMsg{MessageID: em.MessageID, Action: "allow"})
		return out
	})
	if err != nil {
		t.Fatalf("SubscribeEvaluate() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := c.Evaluate(ctx, []byte(`{"type":"evaluate","message_id":"m-1","text":"hi","sender_id":"s","room_id":"r","bot_id":"b"}`))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	var d protocol.DecisionMsg
	if err := json.Unmarshal(reply, &d); err != nil {
		t.Fatalf("reply is not JSON: %v", err)
	}
	if d.Type != protocol.TypeDecision || d.MessageID != "m-1" {
		t.Errorf("reply = %+v", d)
	}

	if err := c.Unsubscribe(SubjectEvaluate); err != nil {
		t.Errorf("Unsubscribe() error: %v", err)
	}
	if err := c.Unsubscribe(SubjectEvaluate); err == nil {
		t.Error("second Unsubscribe() should fail")
	}
}

func TestConcernCreatedFanout(t *testing.T) {
	c := newTestClient(t)

	got := make(chan protocol.ConcernCreatedMsg, 1)
	if err := c.SubscribeConcernCreated(func(data []byte) {
		var ev protocol.ConcernCreatedMsg
		if json.Unmarshal(data, &ev) == nil {
			got <- ev
		}
	}); err != nil {
		t.Fatalf("SubscribeConcernCreated() error: %v", err)
	}
	c.conn.Flush()

	err := c.PublishConcernCreated(context.Background(), protocol.ConcernCreatedMsg{
		ConcernID: "c-1", MessageID: "m-1", RoomID: "room-7", ConcernType: "self_harm",
	})
	if err != nil {
		t.Fatalf("PublishConcernCreated() error: %v", err)
	}

	select {
	case ev := <-got:
		if ev.Type != protocol.TypeConcernCreated || ev.RoomID != "room-7" || ev.ConcernID != "c-1" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("concern event not delivered")
	}
}
