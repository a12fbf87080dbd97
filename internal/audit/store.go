package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore keeps records in the filtered_content table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert writes rec. The unique index on (message_id, reason) makes
// repeated deliveries a no-op.
func (s *PostgresStore) Insert(ctx context.Context, rec FilteredContentRecord) (bool, error) {
	const query = `
		INSERT INTO filtered_content
			(id, message_id, sender_id, room_id, truncated_text, reason, matched_reasons, rule_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id, reason) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.MessageID,
		rec.SenderID,
		rec.RoomID,
		rec.TruncatedText,
		rec.Reason,
		pq.Array(rec.MatchedReasons),
		rec.RuleVersion,
		rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("audit: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("audit: rows affected: %w", err)
	}
	return n == 1, nil
}

// List returns one page of the stream. AfterID is resolved to its
// (created_at, id) position so pages never skip or repeat rows. A cursor
// that is not a record id matches nothing.
func (s *PostgresStore) List(ctx context.Context, q Query) ([]FilteredContentRecord, error) {
	const columns = `id, message_id, sender_id, room_id, truncated_text, reason, matched_reasons, rule_version, created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if q.AfterID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+columns+`
			FROM filtered_content
			WHERE created_at >= $1
			ORDER BY created_at, id
			LIMIT $2`, q.Since, q.limit())
	} else {
		if _, perr := uuid.Parse(q.AfterID); perr != nil {
			return []FilteredContentRecord{}, nil
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+columns+`
			FROM filtered_content
			WHERE created_at >= $1
			  AND (created_at, id) > (SELECT created_at, id FROM filtered_content WHERE id = $2)
			ORDER BY created_at, id
			LIMIT $3`, q.Since, q.AfterID, q.limit())
	}
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []FilteredContentRecord
	for rows.Next() {
		var rec FilteredContentRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.MessageID,
			&rec.SenderID,
			&rec.RoomID,
			&rec.TruncatedText,
			&rec.Reason,
			pq.Array(&rec.MatchedReasons),
			&rec.RuleVersion,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records []FilteredContentRecord
	byID    map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]bool)}
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, rec FilteredContentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := RecordID(rec.MessageID, rec.Reason)
	if s.byID[id] {
		return false, nil
	}
	rec.ID = id
	rec.MatchedReasons = append([]string(nil), rec.MatchedReasons...)
	s.byID[id] = true
	s.records = append(s.records, rec)
	sort.SliceStable(s.records, func(i, j int) bool {
		a, b := s.records[i], s.records[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return true, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, q Query) ([]FilteredContentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if q.AfterID != "" {
		start = len(s.records)
		for i, rec := range s.records {
			if rec.ID == q.AfterID {
				start = i + 1
				break
			}
		}
	}

	out := []FilteredContentRecord{}
	for _, rec := range s.records[start:] {
		if rec.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, rec)
		if len(out) == q.limit() {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
