package room

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"roomsync/internal/backend"
	"roomsync/internal/content"
	"roomsync/internal/events"
	"roomsync/internal/models"
)

// metaOn attaches the metadata listener and waits for its first value.
func (r *Room) metaOn(ctx context.Context) error {
	first := make(chan struct{})
	var once sync.Once

	sub, err := r.s.Paths.RoomMeta(r.id).On(ctx, backend.EventValue, func(s backend.Snapshot) {
		r.post(func() { r.applyMeta(s) })
		once.Do(func() { close(first) })
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to meta: %w", err)
	}

	var stale bool
	r.call(func() {
		if !r.isOn || r.metaSub != nil {
			stale = true
			return
		}
		r.metaSub = sub
	})
	if stale {
		sub.Cancel()
		return nil
	}

	select {
	case <-first:
		return nil
	case <-ctx.Done():
		r.metaOff()
		return ctx.Err()
	}
}

func (r *Room) metaOff() {
	var sub backend.Subscription
	r.call(func() {
		sub = r.metaSub
		r.metaSub = nil
	})
	if sub != nil {
		sub.Cancel()
	}
}

func (r *Room) applyMeta(s backend.Snapshot) {
	if !r.isOn {
		return
	}
	r.meta = metaFromSnapshot(s)
	r.updateDerived()
	r.publish(events.RoomUpdated)
}

func metaFromSnapshot(s backend.Snapshot) models.RoomMeta {
	meta := models.RoomMeta{
		Name:        content.SanitizeName(backend.String(s.Field("name"))),
		Image:       backend.String(s.Field("image")),
		UserCreated: backend.String(s.Field("userCreated")),
	}
	meta.Created, _ = backend.Int64(s.Field("created"))

	typ, ok := backend.Int64(s.Field("type"))
	if !ok {
		typ, _ = backend.Int64(s.Field("type_v4"))
	}
	switch t := models.RoomType(typ); t {
	case models.RoomTypeGroup, models.RoomTypeOneToOne, models.RoomTypePublic:
		meta.Type = t
	default:
		meta.Type = models.RoomTypeInvalid
	}
	return meta
}

func (r *Room) usersMetaOn(ctx context.Context) error {
	ref := r.s.Paths.RoomUsers(r.id)

	added, err := ref.On(ctx, backend.EventChildAdded, func(s backend.Snapshot) {
		m := membershipFromSnapshot(s)
		r.post(func() { r.onUserAdded(m) })
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to members: %w", err)
	}

	removed, err := ref.On(ctx, backend.EventChildRemoved, func(s backend.Snapshot) {
		userID := s.Key
		r.post(func() { r.onUserRemoved(userID) })
	})
	if err != nil {
		added.Cancel()
		return fmt.Errorf("failed to subscribe to members: %w", err)
	}

	var stale bool
	r.call(func() {
		if !r.isOn || r.userSubs != nil {
			stale = true
			return
		}
		r.userSubs = []backend.Subscription{added, removed}
	})
	if stale {
		added.Cancel()
		removed.Cancel()
	}
	return nil
}

func (r *Room) usersMetaOff() {
	var subs []backend.Subscription
	r.call(func() {
		subs = r.userSubs
		r.userSubs = nil
	})
	for _, sub := range subs {
		sub.Cancel()
	}
}

func membershipFromSnapshot(s backend.Snapshot) models.Membership {
	m := models.Membership{
		UserID: s.Key,
		Status: models.MembershipStatus(backend.String(s.Field("status"))),
		Name:   content.SanitizeName(backend.String(s.Field("name"))),
	}
	m.Time, _ = backend.Int64(s.Field("time"))
	return m
}

func (r *Room) onUserAdded(m models.Membership) {
	if !r.isOn {
		return
	}
	r.memberships[m.UserID] = m
	if m.Name != "" {
		r.s.Users.Put(models.User{ID: m.UserID, Name: m.Name})
	} else {
		r.s.Users.GetOrCreate(m.UserID)
	}
	r.updateDerived()
	r.publish(events.RoomUpdated)
}

func (r *Room) onUserRemoved(userID string) {
	if _, ok := r.memberships[userID]; !ok {
		return
	}
	delete(r.memberships, userID)
	r.updateDerived()
	r.publish(events.RoomUpdated)
}

func (r *Room) updateDerived() {
	r.name = r.deriveName()
	r.onlineUserCount = r.countOnline()
}

func (r *Room) displayName(userID string) string {
	if u, ok := r.s.Users.Get(userID); ok && u.Name != "" {
		return u.Name
	}
	if m, ok := r.memberships[userID]; ok && m.Name != "" {
		return m.Name
	}
	return ""
}

func (r *Room) deriveName() string {
	if r.meta.Name != "" {
		return r.meta.Name
	}

	me := r.s.UserID()
	ids := make([]string, 0, len(r.memberships))
	for id, m := range r.memberships {
		if id != me && m.Status != models.MembershipClosed {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name := r.displayName(id); name != "" {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		return truncate(strings.Join(names, ", "), r.cfg.NameMaxLength)
	}

	switch {
	case r.meta.Type == models.RoomTypePublic:
		return r.cfg.PublicRoomName
	case len(r.memberships) == 1:
		return r.cfg.EmptyRoomName
	case r.meta.Type == models.RoomTypeGroup:
		return r.cfg.GroupName
	}
	return r.cfg.DirectName
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// countOnline counts members the directory reports online. The current user is always
// online.
func (r *Room) countOnline() int {
	n := 0
	for id := range r.memberships {
		if r.s.Users.IsOnline(id) {
			n++
		}
	}
	return n
}

func (r *Room) Name() string {
	var name string
	r.call(func() { name = r.name })
	return name
}

func (r *Room) Type() models.RoomType {
	var t models.RoomType
	r.call(func() { t = r.meta.Type })
	return t
}

func (r *Room) Meta() models.RoomMeta {
	var meta models.RoomMeta
	r.call(func() { meta = r.meta })
	return meta
}

func (r *Room) OnlineUserCount() int {
	var n int
	r.call(func() { n = r.onlineUserCount })
	return n
}

// UserStatus returns the user's membership status, or "" for non-members.
func (r *Room) UserStatus(userID string) models.MembershipStatus {
	var status models.MembershipStatus
	r.call(func() { status = r.memberships[userID].Status })
	return status
}

func (r *Room) ContainsUser(userID string) bool {
	var ok bool
	r.call(func() { _, ok = r.memberships[userID] })
	return ok
}

func (r *Room) UserCount() int {
	var n int
	r.call(func() { n = len(r.memberships) })
	return n
}

// Members returns member IDs in order.
func (r *Room) Members() []string {
	var ids []string
	r.call(func() {
		for id := range r.memberships {
			ids = append(ids, id)
		}
	})
	slices.Sort(ids)
	return ids
}

// Owner returns the ID of the owning member, or "".
func (r *Room) Owner() string {
	var owner string
	r.call(func() {
		for id, m := range r.memberships {
			if m.Status == models.MembershipOwner {
				owner = id
				return
			}
		}
	})
	return owner
}

// CalculatedType derives the room type from membership. Public rooms stay public.
func (r *Room) CalculatedType() models.RoomType {
	var meta models.RoomType
	var n int
	r.call(func() {
		meta = r.meta.Type
		n = len(r.memberships)
	})
	return calculateType(meta, n)
}

func calculateType(meta models.RoomType, members int) models.RoomType {
	switch {
	case meta == models.RoomTypePublic:
		return models.RoomTypePublic
	case members <= 1:
		return models.RoomTypeInvalid
	case members == 2:
		return models.RoomTypeOneToOne
	}
	return models.RoomTypeGroup
}

// UpdateType persists the calculated type. Groups are never downgraded.
func (r *Room) UpdateType(ctx context.Context) error {
	current := r.Type()
	if current == models.RoomTypeGroup {
		return nil
	}
	calculated := r.CalculatedType()
	if calculated == current || calculated == models.RoomTypeInvalid {
		return nil
	}
	if err := r.s.Paths.RoomMeta(r.id).Update(ctx, map[string]any{"type": int(calculated)}); err != nil {
		return fmt.Errorf("failed to update room type: %w", err)
	}
	return nil
}
