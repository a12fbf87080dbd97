package roster

import (
	"context"
	"sort"
	"sync"
)

// StaticDirectory is an in-memory Directory for tests and single-tenant
// deployments.
type StaticDirectory struct {
	mu       sync.RWMutex
	rooms    map[string]room
	fallback *Profile
}

type room struct {
	ownerID string
	strict  bool
	members map[string]Profile
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{rooms: make(map[string]room)}
}

// SetRoom registers a room owned by ownerID.
func (d *StaticDirectory) SetRoom(roomID, ownerID string, strict bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rooms[roomID]
	if !ok {
		r.members = make(map[string]Profile)
	}
	r.ownerID = ownerID
	r.strict = strict
	d.rooms[roomID] = r
}

// AddMember puts a member on a room's roster. The room must exist.
func (d *StaticDirectory) AddMember(roomID, memberID string, p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.rooms[roomID]; ok {
		r.members[memberID] = p
	}
}

// SetFallback makes Profile return p for unknown members instead of
// ErrUnknownMember.
func (d *StaticDirectory) SetFallback(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = &p
}

// Profile implements Directory.
func (d *StaticDirectory) Profile(_ context.Context, senderID, roomID string) (Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r, ok := d.rooms[roomID]; ok {
		if p, ok := r.members[senderID]; ok {
			p.OwnerID = r.ownerID
			p.StrictMode = r.strict
			return p, nil
		}
	}
	if d.fallback != nil {
		return *d.fallback, nil
	}
	return Profile{}, ErrUnknownMember
}

// CanReview implements Directory.
func (d *StaticDirectory) CanReview(_ context.Context, reviewerID, roomID, senderID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[roomID]
	if !ok || r.ownerID != reviewerID {
		return false, nil
	}
	_, member := r.members[senderID]
	return member, nil
}

// RoomOwner implements Directory.
func (d *StaticDirectory) RoomOwner(_ context.Context, roomID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.rooms[roomID]
	if !ok {
		return "", ErrUnknownRoom
	}
	return r.ownerID, nil
}

// OwnedRooms implements Directory.
func (d *StaticDirectory) OwnedRooms(_ context.Context, ownerID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rooms := []string{}
	for id, r := range d.rooms {
		if r.ownerID == ownerID {
			rooms = append(rooms, id)
		}
	}
	sort.Strings(rooms)
	return rooms, nil
}
