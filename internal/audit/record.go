// Package audit keeps the append-only compliance trail of filtered
// content. A record is written for every message the gate blocks for a
// non-crisis reason; messages carrying a crisis signal are never recorded
// here and route exclusively through the concern queue.
package audit

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxTextRunes is the longest original text kept in a record.
const MaxTextRunes = 500

// recordNamespace seeds deterministic record ids.
var recordNamespace = uuid.MustParse("5b0f3c4e-8a43-4d1f-9f6a-2f1e0c7d9a11")

// FilteredContentRecord is one compliance-log entry.
type FilteredContentRecord struct {
	ID             string    `json:"id"`
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	RoomID         string    `json:"room_id"`
	TruncatedText  string    `json:"truncated_text"`
	Reason         string    `json:"reason"`
	MatchedReasons []string  `json:"matched_reasons"`
	RuleVersion    string    `json:"rule_version,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	// CrisisConcern marks a record built for a crisis message. Such records
	// are refused; the field is never persisted.
	CrisisConcern bool `json:"-"`
}

// RecordID returns the id of the record for (messageID, reason). The same
// pair always maps to the same id, which makes writes idempotent.
func RecordID(messageID, reason string) string {
	return uuid.NewSHA1(recordNamespace, []byte(messageID+"\x00"+reason)).String()
}

// Truncate shortens text to at most MaxTextRunes runes without splitting a
// multi-byte character.
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxTextRunes {
		return text
	}
	n := 0
	for i := range text {
		if n == MaxTextRunes {
			return text[:i]
		}
		n++
	}
	return text
}

// Query selects a page of the compliance stream, ordered by creation time
// then id. AfterID continues from the last record of the previous page.
type Query struct {
	Since   time.Time
	AfterID string
	Limit   int
}

const (
	// DefaultLimit is used when Query.Limit is zero.
	DefaultLimit = 100
	// MaxLimit caps Query.Limit.
	MaxLimit = 1000
)

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return DefaultLimit
	case q.Limit > MaxLimit:
		return MaxLimit
	}
	return q.Limit
}
