// Package paths resolves domain objects to backend locations.
package paths

import (
	"roomsync/internal/backend"
)

const (
	rooms   = "rooms"
	flagged = "flagged"
	clock   = "time"
	online  = "online"
	users   = "users"
)

// Resolver hands out references on one backend.
type Resolver struct {
	db backend.Backend
}

func New(db backend.Backend) *Resolver {
	return &Resolver{db: db}
}

func (r *Resolver) Rooms() backend.Reference {
	return r.db.Ref(rooms)
}

func (r *Resolver) Room(roomID string) backend.Reference {
	return r.db.Ref(backend.Join(rooms, roomID))
}

func (r *Resolver) RoomMeta(roomID string) backend.Reference {
	return r.db.Ref(backend.Join(rooms, roomID, "meta"))
}

func (r *Resolver) RoomUsers(roomID string) backend.Reference {
	return r.db.Ref(backend.Join(rooms, roomID, "users"))
}

func (r *Resolver) RoomMessages(roomID string) backend.Reference {
	return r.db.Ref(backend.Join(rooms, roomID, "messages"))
}

func (r *Resolver) RoomTyping(roomID string) backend.Reference {
	return r.db.Ref(backend.Join(rooms, roomID, "typing"))
}

func (r *Resolver) RoomState(roomID string) backend.Reference {
	return r.db.Ref(backend.Join(rooms, roomID, "state"))
}

func (r *Resolver) Flagged(messageID string) backend.Reference {
	return r.db.Ref(backend.Join(flagged, messageID))
}

// Clock is the probe location the clock synchronizer writes to.
func (r *Resolver) Clock(userID string) backend.Reference {
	return r.db.Ref(backend.Join(clock, userID))
}

func (r *Resolver) Online(userID string) backend.Reference {
	return r.db.Ref(backend.Join(online, userID))
}

func (r *Resolver) OnlineUsers() backend.Reference {
	return r.db.Ref(online)
}

func (r *Resolver) UserMeta(userID string) backend.Reference {
	return r.db.Ref(backend.Join(users, userID, "meta"))
}

func (r *Resolver) UserRoom(userID, roomID string) backend.Reference {
	return r.db.Ref(backend.Join(users, userID, "rooms", roomID))
}
