// Package history keeps the recent messages of each conversation so that a
// reviewer opening a concern can see what was said before and after the
// triggering message.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/brightboard/safety-gate/internal/message"
)

const (
	// DefaultCapacity is the number of messages retained per conversation.
	DefaultCapacity = 200

	// DefaultTTL expires idle conversations.
	DefaultTTL = 30 * 24 * time.Hour

	// MaxWindow caps the before/after counts of Around.
	MaxWindow = 50
)

// ErrMessageNotFound is returned by Around when the anchor message is not in
// the retained history (never recorded, or aged out).
var ErrMessageNotFound = errors.New("history: message not found")

// Entry is one retained message. Text is what the gate forwarded or, for a
// blocked message, its redacted form.
type Entry struct {
	MessageID string       `json:"message_id"`
	SenderID  string       `json:"sender_id"`
	Role      message.Role `json:"role"`
	Text      string       `json:"text"`
	Timestamp time.Time    `json:"timestamp"`
	Blocked   bool         `json:"blocked,omitempty"`
}

// Source stores and reads conversation history.
type Source interface {
	Append(ctx context.Context, key message.ConversationKey, e Entry) error

	// Around returns up to before messages preceding messageID, the message
	// itself, and up to after messages following it, oldest first.
	Around(ctx context.Context, key message.ConversationKey, messageID string, before, after int) ([]Entry, error)
}

func clampWindow(n int) int {
	switch {
	case n < 0:
		return 0
	case n > MaxWindow:
		return MaxWindow
	}
	return n
}

// window slices entries around the anchor. entries must be oldest first.
func window(entries []Entry, messageID string, before, after int) ([]Entry, error) {
	idx := -1
	for i, e := range entries {
		if e.MessageID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrMessageNotFound
	}
	lo := idx - clampWindow(before)
	if lo < 0 {
		lo = 0
	}
	hi := idx + clampWindow(after) + 1
	if hi > len(entries) {
		hi = len(entries)
	}
	out := make([]Entry, hi-lo)
	copy(out, entries[lo:hi])
	return out, nil
}
