package users

import (
	"context"
	"fmt"

	"roomsync/internal/backend"
	"roomsync/internal/paths"
)

// Presence publishes the current user as online. Update doubles as the session refresh
// step before a retried write.
type Presence struct {
	paths *paths.Resolver
	dir   *Directory
}

func NewPresence(p *paths.Resolver, dir *Directory) *Presence {
	return &Presence{paths: p, dir: dir}
}

func (p *Presence) Update(ctx context.Context) error {
	u := p.dir.CurrentUser()
	ref := p.paths.Online(u.ID)

	if err := ref.Set(ctx, map[string]any{"time": backend.ServerTimestamp, "name": u.Name}); err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	if err := ref.OnDisconnectRemove(ctx); err != nil {
		return fmt.Errorf("failed to arm presence cleanup: %w", err)
	}
	return nil
}

func (p *Presence) Offline(ctx context.Context) error {
	if err := p.paths.Online(p.dir.CurrentUserID()).Remove(ctx); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

// MarkRoomRead stores the server time as the user's last read time for the room.
func (p *Presence) MarkRoomRead(ctx context.Context, roomID string) error {
	ref := p.paths.UserRoom(p.dir.CurrentUserID(), roomID)
	if err := ref.Update(ctx, map[string]any{"read": backend.ServerTimestamp}); err != nil {
		return fmt.Errorf("failed to mark room %s read: %w", roomID, err)
	}
	return nil
}

// RoomReadTime returns the user's last read time for the room, if any.
func (p *Presence) RoomReadTime(ctx context.Context, roomID string) (int64, bool, error) {
	snap, err := p.paths.UserRoom(p.dir.CurrentUserID(), roomID).Once(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read room %s state: %w", roomID, err)
	}
	ts, ok := backend.Int64(snap.Field("read"))
	return ts, ok, nil
}
