// Package concern owns the escalation entity a teacher reviews: its
// creation (at most one per triggering message), listing, detail with
// surrounding conversation, and status transitions.
package concern

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/brightboard/safety-gate/internal/moderation"
)

var (
	ErrNotFound      = errors.New("concern: not found")
	ErrForbidden     = errors.New("concern: reviewer does not own this roster")
	ErrInvalidStatus = errors.New("concern: invalid status")
	ErrInvalid       = errors.New("concern: message_id, sender_id and concern_type are required")
)

// Status is the review state of a concern.
type Status string

const (
	StatusPending       Status = "pending"
	StatusReviewing     Status = "reviewing"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusReviewing, StatusResolved, StatusFalsePositive:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// Terminal reports whether s closes the review. Terminal concerns can still
// be reopened; the flag is informational.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFalsePositive
}

// Concern is one escalated message awaiting or past human review. Concerns
// are never deleted.
type Concern struct {
	ID              string     `json:"id"`
	MessageID       string     `json:"message_id"`
	SenderID        string     `json:"sender_id"`
	ReviewerOwnerID string     `json:"reviewer_owner_id"`
	RoomID          string     `json:"room_id"`
	BotID           string     `json:"bot_id"`
	ConcernType     string     `json:"concern_type"`
	SeverityLevel   string     `json:"severity_level"`
	Explanation     string     `json:"explanation"`
	Status          Status     `json:"status"`
	ReviewerID      *string    `json:"reviewer_id,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewConcern is the input to Queue.Create.
type NewConcern struct {
	MessageID       string
	SenderID        string
	ReviewerOwnerID string
	RoomID          string
	BotID           string
	ConcernType     string
	SeverityLevel   string
	Explanation     string
}

var idNamespace = uuid.MustParse("9d1c6a52-3e0b-4f5e-b6a4-7c2d8e1f0a93")

// IDFor returns the concern id for a message. It is deterministic so the
// gate can hand the id to the caller before the concern is persisted.
func IDFor(messageID string) string {
	return uuid.NewSHA1(idNamespace, []byte(messageID)).String()
}

// IsCrisisType reports whether t is one of the crisis concern types.
func IsCrisisType(t string) bool {
	switch t {
	case moderation.ConcernSelfHarm, moderation.ConcernAbuseDisclosure, moderation.ConcernEmotionalDistress:
		return true
	}
	return false
}

// Filter selects concerns for the review list. Empty fields match all;
// a non-nil empty RoomIDs matches nothing.
type Filter struct {
	Status          Status
	SenderID        string
	ReviewerOwnerID string
	RoomIDs         []string
	Page            int // 1-based
	PageSize        int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PageSize <= 0:
		f.PageSize = DefaultPageSize
	case f.PageSize > MaxPageSize:
		f.PageSize = MaxPageSize
	}
	return f
}

func (f Filter) offset() int {
	return (f.Page - 1) * f.PageSize
}

// Page is one page of the review list.
type Page struct {
	Concerns []Concern `json:"concerns"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}
