// Package roster adapts the room/roster service to the two questions the
// safety gate asks of it: who is this sender (age band, role, strictness of
// the room), and may this reviewer act on concerns about them.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brightboard/safety-gate/internal/message"
)

var (
	// ErrUnknownMember is returned when a sender is not on the room's roster.
	ErrUnknownMember = errors.New("roster: unknown member")

	// ErrUnknownRoom is returned when a room is not in the roster read model.
	ErrUnknownRoom = errors.New("roster: unknown room")
)

// Profile is what the gate needs to know about a sender in a room.
type Profile struct {
	Role       message.Role `json:"role"`
	IsMinor    bool         `json:"is_minor"`
	OwnerID    string       `json:"owner_id"` // teacher who owns the room's roster
	StrictMode bool         `json:"strict_mode"`
}

// UnknownProfile is assumed when the roster cannot answer: a minor student
// with no owner, which selects the narrowest tolerance.
var UnknownProfile = Profile{Role: message.RoleStudent, IsMinor: true}

// Directory answers roster questions.
type Directory interface {
	Profile(ctx context.Context, senderID, roomID string) (Profile, error)

	// CanReview reports whether reviewerID owns the roster that senderID
	// belongs to in roomID.
	CanReview(ctx context.Context, reviewerID, roomID, senderID string) (bool, error)

	// RoomOwner returns the teacher who currently owns roomID.
	RoomOwner(ctx context.Context, roomID string) (string, error)

	// OwnedRooms lists the rooms ownerID currently owns.
	OwnedRooms(ctx context.Context, ownerID string) ([]string, error)
}

// PostgresDirectory reads the roster read model (roster_rooms and
// roster_members) kept up to date by the room service.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a directory backed by db.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Profile implements Directory.
func (d *PostgresDirectory) Profile(ctx context.Context, senderID, roomID string) (Profile, error) {
	const query = `
		SELECT m.role, m.is_minor, r.owner_id, r.strict_mode
		FROM roster_members m
		JOIN roster_rooms r ON r.room_id = m.room_id
		WHERE m.room_id = $1 AND m.member_id = $2`

	var p Profile
	err := d.db.QueryRowContext(ctx, query, roomID, senderID).Scan(&p.Role, &p.IsMinor, &p.OwnerID, &p.StrictMode)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrUnknownMember
	}
	if err != nil {
		return Profile{}, fmt.Errorf("roster: profile: %w", err)
	}
	return p, nil
}

// CanReview implements Directory.
func (d *PostgresDirectory) CanReview(ctx context.Context, reviewerID, roomID, senderID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM roster_rooms r
			JOIN roster_members m ON m.room_id = r.room_id
			WHERE r.room_id = $1 AND r.owner_id = $2 AND m.member_id = $3
		)`

	var ok bool
	if err := d.db.QueryRowContext(ctx, query, roomID, reviewerID, senderID).Scan(&ok); err != nil {
		return false, fmt.Errorf("roster: can review: %w", err)
	}
	return ok, nil
}

// RoomOwner implements Directory.
func (d *PostgresDirectory) RoomOwner(ctx context.Context, roomID string) (string, error) {
	var owner string
	err := d.db.QueryRowContext(ctx, `SELECT owner_id FROM roster_rooms WHERE room_id = $1`, roomID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownRoom
	}
	if err != nil {
		return "", fmt.Errorf("roster: room owner: %w", err)
	}
	return owner, nil
}

// OwnedRooms implements Directory.
func (d *PostgresDirectory) OwnedRooms(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT room_id FROM roster_rooms WHERE owner_id = $1 ORDER BY room_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("roster: owned rooms: %w", err)
	}
	defer rows.Close()

	rooms := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("roster: owned rooms: %w", err)
		}
		rooms = append(rooms, id)
	}
	return rooms, rows.Err()
}
