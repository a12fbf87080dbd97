package message

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max payload
	MaxTextChars    = 2000 // max character count
)

// ErrEmpty is returned for messages with no visible text. The gate treats
// these as Allow without side effects rather than as a failure.
var ErrEmpty = errors.New("message: text is empty")

// ErrTooLong wraps the size-limit failures. Oversize text is never
// forwarded but is still screened for crisis signals.
var ErrTooLong = errors.New("message: text too long")

// Validate checks the identifying fields and text limits of an inbound
// message. Whitespace-only text yields ErrEmpty.
func Validate(m Inbound) error {
	if m.MessageID == "" {
		return fmt.Errorf("message: missing message_id")
	}
	if m.SenderID == "" {
		return fmt.Errorf("message: missing sender_id")
	}
	if m.SenderRole != "" && !m.SenderRole.Valid() {
		return fmt.Errorf("message: unknown sender_role %q", m.SenderRole)
	}
	return ValidateText(m.Text)
}

// ValidateText checks that text meets content requirements.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("%w: exceeds %d byte limit", ErrTooLong, MaxMessageBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message: contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("%w: exceeds %d character limit", ErrTooLong, MaxTextChars)
	}
	return nil
}
