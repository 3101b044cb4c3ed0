// Package room keeps one chat room in sync with the backend log: metadata, membership,
// the message window, typing presence and unread state.
//
// All room state is owned by a serial mailbox. Backend callbacks and public operations
// post closures to it; backend I/O always happens outside the mailbox, in the caller's
// goroutine.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roomsync/internal/backend"
	"roomsync/internal/config"
	"roomsync/internal/content"
	"roomsync/internal/events"
	"roomsync/internal/models"
	"roomsync/internal/session"
)

var (
	ErrInvalidRoomType = errors.New("invalid room type")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyMessage    = errors.New("empty message")
)

type Room struct {
	id  string
	s   *session.Session
	cfg config.SyncConfig

	queue    []func()
	draining bool
	mbMu     sync.Mutex

	// Everything below is owned by the mailbox.

	meta            models.RoomMeta
	name            string
	memberships     map[string]models.Membership
	onlineUserCount int

	messages      []*models.Message
	unread        []*models.Message
	badge         int
	readTimestamp int64

	typing        map[string]string
	typingMessage string

	isOn             bool
	messagesAreOn    bool
	typingOn         bool
	active           bool
	minimized        bool
	isOpen           bool
	muted            bool
	deleted          bool
	deletedTimestamp int64
	loadingMore      bool

	// generation changes whenever the message subscription is armed or torn down.
	// Results of calls started under an older generation are dropped.
	generation uint64

	metaSub     backend.Subscription
	userSubs    []backend.Subscription
	messageSubs []backend.Subscription
	typingSubs  []backend.Subscription
	busCancel   func()
}

func New(id string, s *session.Session) *Room {
	return &Room{
		id:          id,
		s:           s,
		cfg:         s.Config,
		memberships: make(map[string]models.Membership),
		typing:      make(map[string]string),
	}
}

// post queues fn on the mailbox. If nobody is draining it, the caller drains it.
// fn must not block and must not call r.call.
func (r *Room) post(fn func()) {
	r.mbMu.Lock()
	r.queue = append(r.queue, fn)
	if r.draining {
		r.mbMu.Unlock()
		return
	}
	r.draining = true
	r.mbMu.Unlock()

	for {
		r.mbMu.Lock()
		if len(r.queue) == 0 {
			r.draining = false
			r.mbMu.Unlock()
			return
		}
		next := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.mbMu.Unlock()

		next()
	}
}

// call runs fn on the mailbox and waits for it.
func (r *Room) call(fn func()) {
	done := make(chan struct{})
	r.post(func() {
		fn()
		close(done)
	})
	<-done
}

func (r *Room) publish(t events.Type) {
	r.s.Bus.Publish(events.Event{Type: t, RoomID: r.id, Badge: r.badge})
}

func (r *Room) ID() string {
	return r.id
}

// On starts syncing metadata, membership and messages. It is a no-op for a room that is
// already on or has no ID. A failed metadata read is logged and leaves the room off.
func (r *Room) On(ctx context.Context) error {
	if r.id == "" {
		return nil
	}

	var start bool
	r.call(func() {
		if !r.isOn {
			r.isOn = true
			start = true
		}
	})
	if !start {
		return nil
	}

	if err := r.metaOn(ctx); err != nil {
		slog.Error("failed to read room meta", "room", r.id, "error", err)
		r.call(func() { r.isOn = false })
		return nil
	}

	typ := r.Type()
	if typ == models.RoomTypeOneToOne {
		r.restoreDeleted(ctx)
	}

	switch typ {
	case models.RoomTypePublic, models.RoomTypeGroup, models.RoomTypeOneToOne:
	default:
		return nil
	}

	r.watchOnlineState()

	var errs []error
	if err := r.usersMetaOn(ctx); err != nil {
		errs = append(errs, err)
	}
	if typ != models.RoomTypePublic {
		r.restoreReadTime(ctx)
	}
	if err := r.messagesOn(ctx, r.DeletedTimestamp()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// restoreDeleted marks a one-to-one room deleted if the user closed it earlier.
func (r *Room) restoreDeleted(ctx context.Context) {
	snap, err := r.s.Paths.RoomUsers(r.id).Child(r.s.UserID()).Once(ctx)
	if err != nil {
		slog.Error("failed to read membership", "room", r.id, "error", err)
		return
	}
	m := membershipFromSnapshot(snap)
	if m.Status != models.MembershipClosed {
		return
	}
	r.call(func() {
		r.deleted = true
		r.deletedTimestamp = m.Time
	})
}

func (r *Room) restoreReadTime(ctx context.Context) {
	ts, ok, err := r.s.Presence.RoomReadTime(ctx, r.id)
	if err != nil {
		slog.Error("failed to read last read time", "room", r.id, "error", err)
		return
	}
	if !ok {
		return
	}
	r.call(func() {
		if ts > r.readTimestamp {
			r.readTimestamp = ts
		}
	})
}

func (r *Room) watchOnlineState() {
	ch, cancel := r.s.Bus.Subscribe(64, events.UserOnlineStateChanged)

	var stale bool
	r.call(func() {
		if !r.isOn || r.busCancel != nil {
			stale = true
			return
		}
		r.busCancel = cancel
	})
	if stale {
		cancel()
		return
	}

	go func() {
		for e := range ch {
			userID := e.UserID
			r.post(func() {
				if _, ok := r.memberships[userID]; !ok {
					return
				}
				r.updateDerived()
				r.publish(events.RoomUpdated)
			})
		}
	}()
}

// Off stops metadata and membership sync. Messages and typing are left to Close.
func (r *Room) Off() {
	var busCancel func()
	r.call(func() {
		r.isOn = false
		busCancel = r.busCancel
		r.busCancel = nil
	})

	r.metaOff()
	r.usersMetaOff()
	if busCancel != nil {
		busCancel()
	}
}

// Open shows the room in the layout and starts message and typing sync. Public rooms
// are joined first.
func (r *Room) Open(ctx context.Context, slot int, duration time.Duration) error {
	if !r.IsOn() {
		if err := r.On(ctx); err != nil {
			return err
		}
	}

	typ := r.Type()
	if typ == models.RoomTypeInvalid {
		return ErrInvalidRoomType
	}

	if typ == models.RoomTypePublic && !r.UserStatus(r.s.UserID()).Joined() {
		if err := r.Join(ctx, models.MembershipMember); err != nil {
			return err
		}
	}

	r.s.Layout.InsertRoom(r.id, slot, duration)
	r.call(func() {
		r.isOpen = true
		r.minimized = false
	})

	if err := r.messagesOn(ctx, r.DeletedTimestamp()); err != nil {
		return err
	}
	if err := r.typingOnSub(ctx); err != nil {
		return err
	}

	r.call(func() { r.publish(events.RoomAdded) })
	return nil
}

// Close stops message and typing sync and removes the room from the layout. The user
// leaves public rooms on close.
func (r *Room) Close(ctx context.Context) error {
	r.typingOff()
	r.messagesOff()

	var err error
	if r.Type() == models.RoomTypePublic {
		if rerr := r.s.Paths.RoomUsers(r.id).Child(r.s.UserID()).Remove(ctx); rerr != nil {
			err = fmt.Errorf("failed to leave public room %s: %w", r.id, rerr)
		}
	}

	r.call(func() { r.isOpen = false })
	r.s.Layout.CloseRoom(r.id)
	return err
}

// Leave deletes the room for the current user and turns it off.
func (r *Room) Leave(ctx context.Context) error {
	var typ models.RoomType
	r.call(func() {
		typ = r.meta.Type
		r.messages = nil
		r.unread = nil
		r.setBadge(0)
		r.deleted = true
		if now, ok := r.s.Clock.Now(); ok {
			r.deletedTimestamp = now
		}
		r.publish(events.RoomRemoved)
	})

	err := r.removeUserFromRoom(ctx, typ)
	r.Off()
	return err
}

func (r *Room) removeUserFromRoom(ctx context.Context, typ models.RoomType) error {
	ref := r.s.Paths.RoomUsers(r.id).Child(r.s.UserID())

	if typ == models.RoomTypeOneToOne {
		err := ref.Set(ctx, map[string]any{
			"status": string(models.MembershipClosed),
			"time":   backend.ServerTimestamp,
			"name":   r.s.Users.CurrentUser().Name,
		})
		if err != nil {
			return fmt.Errorf("failed to close room %s: %w", r.id, err)
		}
		return nil
	}

	if err := ref.Remove(ctx); err != nil {
		return fmt.Errorf("failed to leave room %s: %w", r.id, err)
	}
	return nil
}

// Join writes the current user's membership with the given status.
func (r *Room) Join(ctx context.Context, status models.MembershipStatus) error {
	return r.addMember(ctx, r.s.UserID(), r.s.Users.CurrentUser().Name, status)
}

func (r *Room) addMember(ctx context.Context, userID, name string, status models.MembershipStatus) error {
	value := map[string]any{
		"status": string(status),
		"time":   backend.ServerTimestamp,
	}
	if name = content.SanitizeName(name); name != "" {
		value["name"] = name
	}
	if err := r.s.Paths.RoomUsers(r.id).Child(userID).Set(ctx, value); err != nil {
		return fmt.Errorf("failed to add %s to room %s: %w", userID, r.id, err)
	}
	return nil
}

// FlashHeader asks the presentation layer to draw attention to an open room.
func (r *Room) FlashHeader() {
	if !r.s.Layout.IsOpen(r.id) {
		return
	}
	r.call(func() { r.publish(events.FlashHeader) })
}

func (r *Room) SetMinimized(minimized bool) {
	r.call(func() { r.minimized = minimized })
}

func (r *Room) SetMuted(muted bool) {
	r.call(func() { r.muted = muted })
}

func (r *Room) IsOn() bool {
	var on bool
	r.call(func() { on = r.isOn })
	return on
}

func (r *Room) IsOpen() bool {
	var open bool
	r.call(func() { open = r.isOpen })
	return open
}

func (r *Room) IsDeleted() bool {
	var deleted bool
	r.call(func() { deleted = r.deleted })
	return deleted
}

func (r *Room) DeletedTimestamp() int64 {
	var ts int64
	r.call(func() { ts = r.deletedTimestamp })
	return ts
}
