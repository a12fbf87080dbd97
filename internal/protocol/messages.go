// Package protocol defines the messages exchanged between the chat pipeline
// and the safety gate over NATS (and the HTTP evaluate endpoint). All
// messages are JSON objects with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/brightboard/safety-gate/internal/message"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Pipeline -> gate message types.
const (
	TypeEvaluate = "evaluate"
	TypePing     = "ping"
)

// Gate -> pipeline message types.
const (
	TypeDecision       = "decision"
	TypeError          = "error"
	TypePong           = "pong"
	TypeConcernCreated = "concern_created"
)

// Error codes carried by ErrorMsg.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidMessage = "invalid_message"
	CodeInternal       = "internal"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the raw bytes and reads only the "type" field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = append(json.RawMessage(nil), data...)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Pipeline -> gate
// ---------------------------------------------------------------------------

// EvaluateMsg asks the gate for a decision on one inbound message. The
// message fields sit at the top level next to "type".
type EvaluateMsg struct {
	Type string `json:"type"`
	message.Inbound
}

// PingMsg is a liveness probe.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Gate -> pipeline
// ---------------------------------------------------------------------------

// DecisionMsg is the reply to EvaluateMsg. Text is what the pipeline
// forwards to the AI responder; it is empty when Action blocks, in which
// case UserFacingMessage is shown to the student instead.
type DecisionMsg struct {
	Type              string   `json:"type"`
	MessageID         string   `json:"message_id"`
	Action            string   `json:"action"`
	Text              string   `json:"text,omitempty"`
	UserFacingMessage string   `json:"user_facing_message,omitempty"`
	ConcernID         string   `json:"concern_id,omitempty"`
	Reasons           []string `json:"reasons,omitempty"`
	RuleVersion       string   `json:"rule_version,omitempty"`
}

// ErrorMsg reports a request the gate could not evaluate.
type ErrorMsg struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	MessageID string `json:"message_id,omitempty"`
}

// PongMsg answers PingMsg.
type PongMsg struct {
	Type string `json:"type"`
}

// ConcernCreatedMsg is published once when a new concern is opened, for
// notification services. It never carries message text.
type ConcernCreatedMsg struct {
	Type            string `json:"type"`
	ConcernID       string `json:"concern_id"`
	MessageID       string `json:"message_id"`
	SenderID        string `json:"sender_id"`
	RoomID          string `json:"room_id"`
	BotID           string `json:"bot_id"`
	ReviewerOwnerID string `json:"reviewer_owner_id"`
	ConcernType     string `json:"concern_type"`
	SeverityLevel   string `json:"severity_level"`
	CreatedAt       int64  `json:"created_at"` // unix milliseconds
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseRequest decodes a pipeline message. It returns the type, the decoded
// struct, and an error for malformed payloads or unknown types.
func ParseRequest(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)
	switch env.Type {
	case TypeEvaluate:
		var m EvaluateMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown request type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// Encode marshals payload with its "type" field forced to msgType.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: payload is not an object: %w", err)
	}
	t, _ := json.Marshal(msgType)
	m["type"] = t

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal %s message: %w", msgType, err)
	}
	return out, nil
}

// NewError encodes an ErrorMsg. Encoding a fixed struct cannot fail.
func NewError(code, text, messageID string) []byte {
	out, _ := Encode(TypeError, ErrorMsg{Code: code, Message: text, MessageID: messageID})
	return out
}
