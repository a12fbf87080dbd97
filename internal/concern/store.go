package concern

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const concernColumns = `id, message_id, sender_id, reviewer_owner_id, room_id, bot_id, concern_type,
	severity_level, explanation, status, reviewer_id, reviewed_at, notes, created_at, updated_at`

// PostgresStore keeps concerns in the concerns table. A unique index on
// message_id backs InsertIfAbsent.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConcern(row rowScanner) (Concern, error) {
	var (
		c          Concern
		reviewerID sql.NullString
		reviewedAt sql.NullTime
		notes      sql.NullString
	)
	err := row.Scan(
		&c.ID, &c.MessageID, &c.SenderID, &c.ReviewerOwnerID, &c.RoomID, &c.BotID, &c.ConcernType,
		&c.SeverityLevel, &c.Explanation, &c.Status, &reviewerID, &reviewedAt, &notes, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Concern{}, err
	}
	if reviewerID.Valid {
		c.ReviewerID = &reviewerID.String
	}
	if reviewedAt.Valid {
		c.ReviewedAt = &reviewedAt.Time
	}
	if notes.Valid {
		c.Notes = &notes.String
	}
	return c, nil
}

// InsertIfAbsent implements Store.
func (s *PostgresStore) InsertIfAbsent(ctx context.Context, c Concern) (Concern, bool, error) {
	query := `
		INSERT INTO concerns (id, message_id, sender_id, reviewer_owner_id, room_id, bot_id, concern_type,
			severity_level, explanation, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (message_id) DO NOTHING
		RETURNING ` + concernColumns

	stored, err := scanConcern(s.db.QueryRowContext(ctx, query,
		c.ID, c.MessageID, c.SenderID, c.ReviewerOwnerID, c.RoomID, c.BotID, c.ConcernType,
		c.SeverityLevel, c.Explanation, c.Status, c.CreatedAt, c.UpdatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Concern{}, false, fmt.Errorf("concern: insert: %w", err)
	}

	// Conflict: another delivery already created it.
	existing, err := s.GetByMessage(ctx, c.MessageID)
	if err != nil {
		return Concern{}, false, err
	}
	return existing, false, nil
}

// Get implements Store. Ids that are not UUIDs cannot exist.
func (s *PostgresStore) Get(ctx context.Context, id string) (Concern, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Concern{}, ErrNotFound
	}
	return s.getOne(ctx, `SELECT `+concernColumns+` FROM concerns WHERE id = $1`, id)
}

// GetByMessage implements Store.
func (s *PostgresStore) GetByMessage(ctx context.Context, messageID string) (Concern, error) {
	return s.getOne(ctx, `SELECT `+concernColumns+` FROM concerns WHERE message_id = $1`, messageID)
}

func (s *PostgresStore) getOne(ctx context.Context, query string, arg string) (Concern, error) {
	c, err := scanConcern(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return Concern{}, ErrNotFound
	}
	if err != nil {
		return Concern{}, fmt.Errorf("concern: get: %w", err)
	}
	return c, nil
}

// SetStatus implements Store.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, u StatusUpdate) (Concern, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Concern{}, ErrNotFound
	}
	query := `
		UPDATE concerns
		SET status = $2,
		    reviewer_id = $3,
		    reviewed_at = $4,
		    notes = COALESCE($5, notes),
		    updated_at = $4
		WHERE id = $1
		RETURNING ` + concernColumns

	var notes sql.NullString
	if u.Notes != nil {
		notes = sql.NullString{String: *u.Notes, Valid: true}
	}
	c, err := scanConcern(s.db.QueryRowContext(ctx, query, id, u.Status, u.ReviewerID, u.At, notes))
	if errors.Is(err, sql.ErrNoRows) {
		return Concern{}, ErrNotFound
	}
	if err != nil {
		return Concern{}, fmt.Errorf("concern: set status: %w", err)
	}
	return c, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Concern, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.SenderID != "" {
		add("sender_id = $%d", f.SenderID)
	}
	if f.ReviewerOwnerID != "" {
		add("reviewer_owner_id = $%d", f.ReviewerOwnerID)
	}
	if f.RoomIDs != nil {
		add("room_id = ANY($%d)", pq.Array(f.RoomIDs))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM concerns "+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("concern: count: %w", err)
	}

	args = append(args, f.PageSize, f.offset())
	query := fmt.Sprintf(`SELECT %s FROM concerns %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		concernColumns, clause, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("concern: list: %w", err)
	}
	defer rows.Close()

	var out []Concern
	for rows.Next() {
		c, err := scanConcern(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("concern: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// ---------------------------------------------------------------------------
// In-memory store
// ---------------------------------------------------------------------------

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]*Concern
	byMessage map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Concern),
		byMessage: make(map[string]string),
	}
}

// InsertIfAbsent implements Store.
func (s *MemoryStore) InsertIfAbsent(_ context.Context, c Concern) (Concern, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byMessage[c.MessageID]; ok {
		return clone(s.byID[id]), false, nil
	}
	stored := clone(&c)
	s.byID[c.ID] = &stored
	s.byMessage[c.MessageID] = c.ID
	return clone(&stored), true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Concern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return Concern{}, ErrNotFound
	}
	return clone(c), nil
}

// GetByMessage implements Store.
func (s *MemoryStore) GetByMessage(ctx context.Context, messageID string) (Concern, error) {
	s.mu.RLock()
	id, ok := s.byMessage[messageID]
	s.mu.RUnlock()
	if !ok {
		return Concern{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

// SetStatus implements Store.
func (s *MemoryStore) SetStatus(_ context.Context, id string, u StatusUpdate) (Concern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return Concern{}, ErrNotFound
	}
	reviewer := u.ReviewerID
	at := u.At
	c.Status = u.Status
	c.ReviewerID = &reviewer
	c.ReviewedAt = &at
	c.UpdatedAt = at
	if u.Notes != nil {
		notes := *u.Notes
		c.Notes = &notes
	}
	return clone(c), nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]Concern, int, error) {
	s.mu.RLock()
	var matched []Concern
	for _, c := range s.byID {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.SenderID != "" && c.SenderID != f.SenderID {
			continue
		}
		if f.ReviewerOwnerID != "" && c.ReviewerOwnerID != f.ReviewerOwnerID {
			continue
		}
		if f.RoomIDs != nil && !slices.Contains(f.RoomIDs, c.RoomID) {
			continue
		}
		matched = append(matched, clone(c))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	lo := f.offset()
	if lo > total {
		lo = total
	}
	hi := lo + f.PageSize
	if hi > total {
		hi = total
	}
	return matched[lo:hi], total, nil
}

// clone copies c including its pointer fields.
func clone(c *Concern) Concern {
	out := *c
	if c.ReviewerID != nil {
		v := *c.ReviewerID
		out.ReviewerID = &v
	}
	if c.ReviewedAt != nil {
		v := *c.ReviewedAt
		out.ReviewedAt = &v
	}
	if c.Notes != nil {
		v := *c.Notes
		out.Notes = &v
	}
	return out
}
