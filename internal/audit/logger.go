package audit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/brightboard/safety-gate/internal/metrics"
)

// ErrInvalidRecord is returned for records missing a message id or reason.
var ErrInvalidRecord = errors.New("audit: record requires message_id and reason")

// Store persists filtered-content records.
type Store interface {
	// Insert adds rec unless a record with the same (message_id, reason)
	// exists. It reports whether a row was written.
	Insert(ctx context.Context, rec FilteredContentRecord) (bool, error)

	// List returns records matching q in stream order.
	List(ctx context.Context, q Query) ([]FilteredContentRecord, error)
}

// CrisisIndex reports whether a message already has a crisis concern open.
// The concern queue implements it.
type CrisisIndex interface {
	HasCrisisConcern(ctx context.Context, messageID string) (bool, error)
}

// Logger writes the compliance trail.
type Logger struct {
	store  Store
	crisis CrisisIndex
	now    func() time.Time
}

// NewLogger creates a Logger. crisis may be nil, in which case only the
// record's own CrisisConcern flag is checked.
func NewLogger(store Store, crisis CrisisIndex) *Logger {
	return &Logger{store: store, crisis: crisis, now: time.Now}
}

// RecordFiltered appends rec to the compliance log. Records for crisis
// messages are refused: the call logs a warning and returns nil without
// writing. Writing the same (message_id, reason) twice is a no-op.
func (l *Logger) RecordFiltered(ctx context.Context, rec FilteredContentRecord) error {
	if rec.MessageID == "" || rec.Reason == "" {
		return ErrInvalidRecord
	}

	if rec.CrisisConcern {
		l.refuse(rec, "crisis flag")
		return nil
	}
	if l.crisis != nil {
		hasCrisis, err := l.crisis.HasCrisisConcern(ctx, rec.MessageID)
		if err != nil {
			return fmt.Errorf("audit: crisis check: %w", err)
		}
		if hasCrisis {
			l.refuse(rec, "crisis concern on file")
			return nil
		}
	}

	rec.ID = RecordID(rec.MessageID, rec.Reason)
	rec.TruncatedText = Truncate(rec.TruncatedText)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}

	inserted, err := l.store.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	if inserted {
		log.Printf("[audit] recorded message=%s reason=%s", rec.MessageID, rec.Reason)
	} else {
		log.Printf("[audit] duplicate message=%s reason=%s (ignored)", rec.MessageID, rec.Reason)
	}
	return nil
}

// List reads the compliance stream.
func (l *Logger) List(ctx context.Context, q Query) ([]FilteredContentRecord, error) {
	recs, err := l.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return recs, nil
}

func (l *Logger) refuse(rec FilteredContentRecord, why string) {
	metrics.AuditRefused.Inc()
	log.Printf("[audit] WARN refusing filtered record for crisis message=%s (%s)", rec.MessageID, why)
}
