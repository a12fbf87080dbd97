package concern

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/brightboard/safety-gate/internal/history"
	"github.com/brightboard/safety-gate/internal/message"
	"github.com/brightboard/safety-gate/internal/metrics"
)

// Store persists concerns. InsertIfAbsent must be atomic on message_id.
type Store interface {
	// InsertIfAbsent stores c unless a concern for c.MessageID exists, and
	// returns the stored concern and whether it was created by this call.
	InsertIfAbsent(ctx context.Context, c Concern) (Concern, bool, error)
	Get(ctx context.Context, id string) (Concern, error)
	GetByMessage(ctx context.Context, messageID string) (Concern, error)
	SetStatus(ctx context.Context, id string, u StatusUpdate) (Concern, error)
	List(ctx context.Context, f Filter) ([]Concern, int, error)
}

// StatusUpdate carries the fields written by a review.
type StatusUpdate struct {
	Status     Status
	ReviewerID string
	Notes      *string // nil keeps the existing notes
	At         time.Time
}

// Authorizer decides whether a reviewer may act on a sender's concerns and
// which rooms a reviewer's list covers. The roster directory implements it.
type Authorizer interface {
	CanReview(ctx context.Context, reviewerID, roomID, senderID string) (bool, error)
	OwnedRooms(ctx context.Context, ownerID string) ([]string, error)
}

// Detail is a concern with its surrounding conversation.
type Detail struct {
	Concern Concern         `json:"concern"`
	Context []history.Entry `json:"context"`
}

// Queue is the concern lifecycle service.
type Queue struct {
	store   Store
	auth    Authorizer
	history history.Source
	now     func() time.Time
}

// NewQueue creates a Queue. hist may be nil, in which case Detail returns
// no surrounding context.
func NewQueue(store Store, auth Authorizer, hist history.Source) *Queue {
	return &Queue{store: store, auth: auth, history: hist, now: time.Now}
}

// Create opens a pending concern for nc.MessageID. A second call for the
// same message returns the existing concern with created=false.
func (q *Queue) Create(ctx context.Context, nc NewConcern) (Concern, bool, error) {
	if nc.MessageID == "" || nc.SenderID == "" || nc.ConcernType == "" {
		return Concern{}, false, ErrInvalid
	}
	now := q.now().UTC()
	c := Concern{
		ID:              IDFor(nc.MessageID),
		MessageID:       nc.MessageID,
		SenderID:        nc.SenderID,
		ReviewerOwnerID: nc.ReviewerOwnerID,
		RoomID:          nc.RoomID,
		BotID:           nc.BotID,
		ConcernType:     nc.ConcernType,
		SeverityLevel:   nc.SeverityLevel,
		Explanation:     nc.Explanation,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	stored, created, err := q.store.InsertIfAbsent(ctx, c)
	if err != nil {
		return Concern{}, false, fmt.Errorf("concern: create: %w", err)
	}
	if created {
		metrics.ConcernsCreated.WithLabelValues(stored.ConcernType).Inc()
		log.Printf("[concern] created id=%s message=%s type=%s severity=%s",
			stored.ID, stored.MessageID, stored.ConcernType, stored.SeverityLevel)
	}
	return stored, created, nil
}

// UpdateStatus moves a concern to status on behalf of reviewerID. Any
// status may follow any other so that resolved items can be reopened.
func (q *Queue) UpdateStatus(ctx context.Context, id, reviewerID string, status Status, notes *string) (Concern, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Concern{}, err
	}
	c, err := q.authorized(ctx, id, reviewerID)
	if err != nil {
		return Concern{}, err
	}

	updated, err := q.store.SetStatus(ctx, c.ID, StatusUpdate{
		Status:     status,
		ReviewerID: reviewerID,
		Notes:      notes,
		At:         q.now().UTC(),
	})
	if err != nil {
		return Concern{}, fmt.Errorf("concern: update status: %w", err)
	}
	log.Printf("[concern] status id=%s %s -> %s reviewer=%s", c.ID, c.Status, updated.Status, reviewerID)
	return updated, nil
}

// List returns a page of concerns, newest first. A ReviewerOwnerID filter
// covers the rooms that reviewer owns now, not the owner recorded when each
// concern was opened.
func (q *Queue) List(ctx context.Context, f Filter) (Page, error) {
	f = f.normalized()
	if f.Status != "" {
		if _, err := ParseStatus(string(f.Status)); err != nil {
			return Page{}, err
		}
	}
	if f.ReviewerOwnerID != "" {
		rooms, err := q.auth.OwnedRooms(ctx, f.ReviewerOwnerID)
		if err != nil {
			return Page{}, fmt.Errorf("concern: owned rooms: %w", err)
		}
		if rooms == nil {
			rooms = []string{}
		}
		f.RoomIDs = rooms
		f.ReviewerOwnerID = ""
	}
	items, total, err := q.store.List(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("concern: list: %w", err)
	}
	if items == nil {
		items = []Concern{}
	}
	return Page{Concerns: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// Detail returns the concern with up to before/after messages of the same
// conversation around the triggering message.
func (q *Queue) Detail(ctx context.Context, id, reviewerID string, before, after int) (Detail, error) {
	c, err := q.authorized(ctx, id, reviewerID)
	if err != nil {
		return Detail{}, err
	}
	d := Detail{Concern: c, Context: []history.Entry{}}
	if q.history == nil {
		return d, nil
	}

	key := message.ConversationKey{SenderID: c.SenderID, RoomID: c.RoomID, BotID: c.BotID}
	entries, err := q.history.Around(ctx, key, c.MessageID, before, after)
	switch {
	case errors.Is(err, history.ErrMessageNotFound):
		log.Printf("[concern] history for message=%s no longer retained", c.MessageID)
	case err != nil:
		return Detail{}, fmt.Errorf("concern: history: %w", err)
	default:
		d.Context = entries
	}
	return d, nil
}

// HasCrisisConcern reports whether messageID has a crisis-type concern.
// It lets the audit logger re-check the crisis invariant.
func (q *Queue) HasCrisisConcern(ctx context.Context, messageID string) (bool, error) {
	c, err := q.store.GetByMessage(ctx, messageID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("concern: lookup: %w", err)
	}
	return IsCrisisType(c.ConcernType), nil
}

func (q *Queue) authorized(ctx context.Context, id, reviewerID string) (Concern, error) {
	c, err := q.store.Get(ctx, id)
	if err != nil {
		return Concern{}, err
	}
	if reviewerID == "" {
		return Concern{}, ErrForbidden
	}
	ok, err := q.auth.CanReview(ctx, reviewerID, c.RoomID, c.SenderID)
	if err != nil {
		return Concern{}, fmt.Errorf("concern: authorize: %w", err)
	}
	if !ok {
		log.Printf("[concern] WARN reviewer=%s denied on concern=%s", reviewerID, c.ID)
		return Concern{}, ErrForbidden
	}
	return c, nil
}
