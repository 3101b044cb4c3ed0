package room

import (
	"context"
	"slices"

	"roomsync/internal/events"
	"roomsync/internal/models"
)

// accountUnread buffers msg as unread when the user cannot be looking at it, and marks
// it read otherwise.
func (r *Room) accountUnread(msg *models.Message) {
	if msg.Read {
		return
	}

	if !r.shouldCountUnread(msg) {
		msg.Read = true
		return
	}
	if slices.ContainsFunc(r.unread, func(m *models.Message) bool { return m.ID == msg.ID }) {
		return
	}
	r.unread = append(r.unread, msg)
	r.setBadge(len(r.unread))
}

func (r *Room) shouldCountUnread(msg *models.Message) bool {
	if msg.UserID == r.s.UserID() {
		return false
	}
	if r.readTimestamp > 0 && msg.Date <= r.readTimestamp {
		return false
	}
	return !r.active || r.minimized || !r.s.Layout.IsOpen(r.id)
}

// setBadge clamps n to the ceiling and announces changes.
func (r *Room) setBadge(n int) {
	n = min(n, r.cfg.BadgeCeiling)
	if n == r.badge {
		return
	}
	r.badge = n
	r.publish(events.BadgeChanged)
}

// MarkRead marks every buffered message read and clears the badge. Non-public rooms
// persist the read time so it survives reconnects.
func (r *Room) MarkRead(ctx context.Context) error {
	var persist bool
	r.call(func() {
		for _, m := range r.unread {
			m.Read = true
		}
		r.unread = nil
		r.setBadge(0)

		if n := len(r.messages); n > 0 && r.messages[n-1].Date > r.readTimestamp {
			r.readTimestamp = r.messages[n-1].Date
		}
		persist = r.meta.Type != models.RoomTypePublic
	})

	if !persist {
		return nil
	}
	return r.s.Presence.MarkRoomRead(ctx, r.id)
}

// SetActive marks the room as the foreground room. Activating it marks everything read.
func (r *Room) SetActive(ctx context.Context, active bool) error {
	r.call(func() { r.active = active })
	if !active {
		return nil
	}
	return r.MarkRead(ctx)
}

func (r *Room) Badge() int {
	var badge int
	r.call(func() { badge = r.badge })
	return badge
}

func (r *Room) UnreadCount() int {
	var n int
	r.call(func() { n = len(r.unread) })
	return n
}

func (r *Room) ReadTimestamp() int64 {
	var ts int64
	r.call(func() { ts = r.readTimestamp })
	return ts
}
