// Package message defines the inbound chat message evaluated by the safety
// gate and the identifiers used to group messages into conversations.
package message

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleSystem  Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleSystem:
		return true
	}
	return false
}

// RequiresClassifier reports whether messages from this role go through the
// model-based moderation classifier. Teacher and system messages do not.
func (r Role) RequiresClassifier() bool {
	return r == RoleStudent
}

// Inbound is one chat message as received from the chat pipeline. It is
// treated as immutable: the gate never rewrites it, it derives new text.
type Inbound struct {
	MessageID  string    `json:"message_id"`
	Text       string    `json:"text"`
	SenderID   string    `json:"sender_id"`
	SenderRole Role      `json:"sender_role"`
	RoomID     string    `json:"room_id"`
	BotID      string    `json:"bot_id"`
	Timestamp  time.Time `json:"timestamp"`

	// IsMinor overrides the roster lookup when the caller already knows the
	// sender's age band. Nil means "ask the roster".
	IsMinor *bool `json:"is_minor,omitempty"`

	// StrictMode is the room-level switch that applies minor-only rules to
	// every sender.
	StrictMode bool `json:"strict_mode,omitempty"`

	// Locale selects the language of the user-facing message ("en", "es").
	Locale string `json:"locale,omitempty"`
}

// Key returns the conversation this message belongs to.
func (m Inbound) Key() ConversationKey {
	return ConversationKey{SenderID: m.SenderID, RoomID: m.RoomID, BotID: m.BotID}
}

// ConversationKey groups the messages of one sender with one bot in one
// room. Surrounding context for a concern is drawn from the same key.
type ConversationKey struct {
	SenderID string `json:"sender_id"`
	RoomID   string `json:"room_id"`
	BotID    string `json:"bot_id"`
}

// String renders the key as "room:sender:bot", used for storage keys.
func (k ConversationKey) String() string {
	return k.RoomID + ":" + k.SenderID + ":" + k.BotID
}
