package room

import (
	"context"
	"fmt"
	"sync"

	"roomsync/internal/backend"
	"roomsync/internal/content"
	"roomsync/internal/models"
	"roomsync/internal/session"
)

// Registry owns the room instances of one session.
type Registry struct {
	s *session.Session

	// Map of room ID -> room
	rooms map[string]*Room
	mu    sync.Mutex
}

func NewRegistry(s *session.Session) *Registry {
	return &Registry{s: s, rooms: make(map[string]*Room)}
}

func (reg *Registry) GetOrCreate(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[id]; ok {
		return r
	}
	r := New(id, reg.s)
	reg.rooms[id] = r
	return r
}

func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// Create writes a new room owned by the current user, adds members and returns it.
func (reg *Registry) Create(ctx context.Context, name string, typ models.RoomType, members []string) (*Room, error) {
	if typ == models.RoomTypeInvalid {
		return nil, ErrInvalidRoomType
	}

	id := reg.s.Paths.Rooms().Push().Key()
	err := reg.s.Paths.RoomMeta(id).Set(ctx, map[string]any{
		"name":        content.SanitizeName(name),
		"type":        int(typ),
		"created":     backend.ServerTimestamp,
		"userCreated": reg.s.UserID(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	r := reg.GetOrCreate(id)
	if err := r.Join(ctx, models.MembershipOwner); err != nil {
		return nil, err
	}
	for _, userID := range members {
		if userID == reg.s.UserID() {
			continue
		}
		name := ""
		if u, ok := reg.s.Users.Get(userID); ok {
			name = u.Name
		}
		if err := r.addMember(ctx, userID, name, models.MembershipMember); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Remove turns the room off and forgets it.
func (reg *Registry) Remove(id string) {
	reg.mu.Lock()
	r, ok := reg.rooms[id]
	delete(reg.rooms, id)
	reg.mu.Unlock()

	if ok {
		r.Off()
	}
}

// OffAll turns every room off, e.g. before the session ends.
func (reg *Registry) OffAll() {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		rooms = append(rooms, r)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		r.Off()
	}
}

func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
