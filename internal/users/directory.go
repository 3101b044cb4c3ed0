// Package users holds the session's view of other users: a directory with online flags,
// the block list, the presence writer and per-user read state.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"roomsync/internal/backend"
	"roomsync/internal/events"
	"roomsync/internal/models"
	"roomsync/internal/paths"

	"github.com/c-pro/geche"
)

// Directory caches users by ID. It is safe for concurrent use.
type Directory struct {
	currentID string
	users     *geche.Locker[string, models.User]
	bus       *events.Bus
}

func NewDirectory(current models.User, bus *events.Bus) *Directory {
	d := &Directory{
		currentID: current.ID,
		users:     geche.NewLocker[string, models.User](geche.NewMapCache[string, models.User]()),
		bus:       bus,
	}
	current.Presence.Online = true
	d.Put(current)
	return d
}

func (d *Directory) CurrentUserID() string {
	return d.currentID
}

func (d *Directory) CurrentUser() models.User {
	u, _ := d.Get(d.currentID)
	return u
}

func (d *Directory) Get(id string) (models.User, bool) {
	tx := d.users.RLock()
	defer tx.Unlock()
	u, err := tx.Get(id)
	if err != nil {
		return models.User{}, false
	}
	return u, true
}

// GetOrCreate returns the cached user, creating a placeholder if the ID is unknown.
func (d *Directory) GetOrCreate(id string) models.User {
	tx := d.users.Lock()
	defer tx.Unlock()
	u, err := tx.Get(id)
	if err == nil {
		return u
	}
	u = models.User{ID: id}
	tx.Set(id, u)
	return u
}

// Put stores profile fields. Empty fields keep their known values and presence of a
// known user only changes through SetOnline.
func (d *Directory) Put(u models.User) {
	tx := d.users.Lock()
	defer tx.Unlock()
	if old, err := tx.Get(u.ID); err == nil {
		if u.Name == "" {
			u.Name = old.Name
		}
		if u.ImageURL == "" {
			u.ImageURL = old.ImageURL
		}
		u.Presence = old.Presence
	}
	tx.Set(u.ID, u)
}

func (d *Directory) IsOnline(id string) bool {
	if id == d.currentID {
		return true
	}
	u, ok := d.Get(id)
	return ok && u.Presence.Online
}

// SetOnline updates the online flag and announces changes on the bus.
func (d *Directory) SetOnline(id string, online bool, lastSeen int64) {
	tx := d.users.Lock()
	u, err := tx.Get(id)
	if err != nil {
		u = models.User{ID: id}
	}
	changed := u.Presence.Online != online
	u.Presence = models.Presence{Online: online, LastSeen: lastSeen}
	tx.Set(id, u)
	tx.Unlock()

	if changed && d.bus != nil {
		d.bus.Publish(events.Event{Type: events.UserOnlineStateChanged, UserID: id, Online: online})
	}
}

// Watch mirrors the online node into the directory until the subscriptions are cancelled.
func (d *Directory) Watch(ctx context.Context, p *paths.Resolver) (func(), error) {
	ref := p.OnlineUsers()

	added, err := ref.On(ctx, backend.EventChildAdded, func(s backend.Snapshot) {
		ts, _ := backend.Int64(s.Field("time"))
		if name := backend.String(s.Field("name")); name != "" {
			d.Put(models.User{ID: s.Key, Name: name})
		}
		d.SetOnline(s.Key, true, ts)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to watch online users: %w", err)
	}

	removed, err := ref.On(ctx, backend.EventChildRemoved, func(s backend.Snapshot) {
		ts, _ := backend.Int64(s.Field("time"))
		d.SetOnline(s.Key, false, ts)
	})
	if err != nil {
		added.Cancel()
		return nil, fmt.Errorf("failed to watch online users: %w", err)
	}

	return func() {
		added.Cancel()
		removed.Cancel()
	}, nil
}

// Fetch reads the user's profile from the backend into the directory.
func (d *Directory) Fetch(ctx context.Context, p *paths.Resolver, id string) (models.User, error) {
	snap, err := p.UserMeta(id).Once(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	if !snap.Exists() {
		return d.GetOrCreate(id), models.ErrNotFound
	}
	d.Put(models.User{ID: id, Name: backend.String(snap.Field("name")), ImageURL: backend.String(snap.Field("image"))})
	u, _ := d.Get(id)
	return u, nil
}

// FetchAll fetches every ID, logging failures other than unknown users.
func (d *Directory) FetchAll(ctx context.Context, p *paths.Resolver, ids []string) {
	for _, id := range ids {
		if _, err := d.Fetch(ctx, p, id); err != nil && !errors.Is(err, models.ErrNotFound) {
			slog.Error("failed to fetch user", "user", id, "error", err)
		}
	}
}
