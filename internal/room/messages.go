package room

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"roomsync/internal/backend"
	"roomsync/internal/events"
	"roomsync/internal/models"
)

// messagesOn attaches the single live message subscription. It resumes after the newest
// local message, or after watermark when the window is empty.
func (r *Room) messagesOn(ctx context.Context, watermark int64) error {
	var (
		start    bool
		gen      uint64
		startAt  int64
		hasStart bool
	)
	r.call(func() {
		if r.messagesAreOn {
			return
		}
		r.messagesAreOn = true
		r.generation++
		gen = r.generation
		start = true

		if n := len(r.messages); n > 0 {
			startAt, hasStart = r.messages[n-1].Date+1, true
		} else if watermark > 0 {
			startAt, hasStart = watermark+1, true
		}
	})
	if !start {
		return nil
	}

	ref := r.s.Paths.RoomMessages(r.id)
	query := ref.OrderByPriority()
	if hasStart {
		query = query.StartAt(startAt)
	}
	query = query.LimitToLast(r.cfg.MaxHistoricMessages)

	reset := func() {
		r.call(func() {
			if r.generation == gen {
				r.messagesAreOn = false
			}
		})
	}

	added, err := query.On(ctx, backend.EventChildAdded, func(s backend.Snapshot) {
		msg := messageFromSnapshot(s)
		r.post(func() { r.onMessageAdded(gen, msg) })
	})
	if err != nil {
		reset()
		return fmt.Errorf("failed to subscribe to messages: %w", err)
	}

	removed, err := ref.On(ctx, backend.EventChildRemoved, func(s backend.Snapshot) {
		id := s.Key
		r.post(func() { r.onMessageRemoved(gen, id) })
	})
	if err != nil {
		added.Cancel()
		reset()
		return fmt.Errorf("failed to subscribe to message removals: %w", err)
	}

	var stale bool
	r.call(func() {
		if r.generation != gen || !r.messagesAreOn {
			stale = true
			return
		}
		r.messageSubs = []backend.Subscription{added, removed}
	})
	if stale {
		added.Cancel()
		removed.Cancel()
	}
	return nil
}

func (r *Room) messagesOff() {
	var subs []backend.Subscription
	r.call(func() {
		if !r.messagesAreOn {
			return
		}
		r.messagesAreOn = false
		r.generation++
		subs = r.messageSubs
		r.messageSubs = nil
	})
	for _, sub := range subs {
		sub.Cancel()
	}
}

func messageFromSnapshot(s backend.Snapshot) *models.Message {
	msg := &models.Message{
		ID:     s.Key,
		Type:   models.MessageType(backend.String(s.Field("type"))),
		UserID: backend.String(s.Field("uid")),
	}
	if msg.Type == "" {
		msg.Type = models.MessageTypeText
	}

	var ok bool
	if msg.Date, ok = backend.Int64(s.Field("date")); !ok {
		msg.Date = s.Priority
	}

	switch to := s.Field("to").(type) {
	case []string:
		msg.To = slices.Clone(to)
	case []any:
		for _, v := range to {
			if id := backend.String(v); id != "" {
				msg.To = append(msg.To, id)
			}
		}
	}

	if p, ok := s.Field("payload").(map[string]any); ok {
		msg.Payload.Text = backend.String(p["text"])
		msg.Payload.URL = backend.String(p["url"])
		msg.Payload.Name = backend.String(p["name"])
		msg.Payload.MimeType = backend.String(p["mimeType"])
		w, _ := backend.Int64(p["width"])
		h, _ := backend.Int64(p["height"])
		msg.Payload.Width, msg.Payload.Height = int(w), int(h)
	}
	return msg
}

func (r *Room) onMessageAdded(gen uint64, msg *models.Message) {
	if gen != r.generation || !r.messagesAreOn {
		return
	}
	if r.s.Blocked.IsBlocked(msg.UserID) {
		return
	}

	// Replayed deliveries are collapsed by the trim and raise nothing.
	i := r.indexOf(msg.ID)
	if i >= 0 && r.messages[i].Read {
		msg.Read = true
	}
	r.messages = append(r.messages, msg)

	r.accountUnread(msg)
	r.trimMessageList()
	if i >= 0 {
		return
	}
	r.maybePlaySound(msg)

	r.s.Bus.Publish(events.Event{
		Type:     events.ChatUpdated,
		RoomID:   r.id,
		Badge:    r.badge,
		Messages: []models.Message{*msg},
	})
}

func (r *Room) onMessageRemoved(gen uint64, id string) {
	if gen != r.generation {
		return
	}

	before := len(r.messages)
	r.messages = slices.DeleteFunc(r.messages, func(m *models.Message) bool { return m.ID == id })
	if len(r.messages) == before {
		return
	}
	r.relink()

	unread := len(r.unread)
	r.unread = slices.DeleteFunc(r.unread, func(m *models.Message) bool { return m.ID == id })
	if len(r.unread) != unread {
		r.setBadge(len(r.unread))
	}
	r.publish(events.ChatUpdated)
}

func (r *Room) maybePlaySound(msg *models.Message) {
	if r.muted || msg.UserID == r.s.UserID() {
		return
	}
	if !r.s.Visibility.Hidden() && r.active && !r.minimized {
		return
	}
	if r.s.Clock.SecondsSince(msg.Date) >= r.cfg.SoundFreshness.Seconds() {
		return
	}
	r.publish(events.PlayReceivedSound)
}

// trimMessageList sorts the window by time, drops duplicate IDs keeping the first copy,
// evicts the oldest messages beyond the retention cap and rebuilds the display links.
func (r *Room) trimMessageList() {
	slices.SortStableFunc(r.messages, func(a, b *models.Message) int {
		if c := cmp.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	r.messages = slices.CompactFunc(r.messages, func(a, b *models.Message) bool { return a.ID == b.ID })

	if limit := r.cfg.RetentionCap; limit > 0 && len(r.messages) > limit {
		evicted := len(r.messages) - limit
		clear(r.messages[:evicted])
		r.messages = r.messages[evicted:]
	}
	r.relink()
}

func (r *Room) relink() {
	for i, m := range r.messages {
		m.PreviousID, m.NextID = "", ""
		if i > 0 {
			m.PreviousID = r.messages[i-1].ID
		}
		if i < len(r.messages)-1 {
			m.NextID = r.messages[i+1].ID
		}
	}
}

func (r *Room) indexOf(id string) int {
	return slices.IndexFunc(r.messages, func(m *models.Message) bool { return m.ID == id })
}

// LoadMoreMessages fetches up to count messages older than the oldest one held and returns
// those the window kept. It returns nil at once if a load is already running, on query
// failure, and once the window is full.
func (r *Room) LoadMoreMessages(ctx context.Context, count int) []models.Message {
	if count <= 0 {
		count = r.cfg.PageSize
	}

	var (
		busy      bool
		gen       uint64
		oldest    int64
		hasOldest bool
	)
	r.call(func() {
		if r.loadingMore {
			busy = true
			return
		}
		r.loadingMore = true
		gen = r.generation
		if len(r.messages) > 0 {
			oldest, hasOldest = r.messages[0].Date, true
		}
	})
	if busy {
		return nil
	}

	query := r.s.Paths.RoomMessages(r.id).OrderByPriority()
	if hasOldest {
		query = query.EndAt(oldest - 1)
	}
	snap, err := query.LimitToLast(count).Once(ctx)
	if err != nil {
		slog.Error("failed to load older messages", "room", r.id, "error", err)
		r.call(func() { r.loadingMore = false })
		return nil
	}

	var loaded []models.Message
	r.call(func() {
		r.loadingMore = false
		if gen != r.generation {
			return
		}

		var older []*models.Message
		for _, child := range snap.Children {
			msg := messageFromSnapshot(child)
			if r.s.Blocked.IsBlocked(msg.UserID) || r.indexOf(msg.ID) >= 0 {
				continue
			}
			msg.Read = true
			older = append(older, msg)
		}
		if len(older) == 0 {
			return
		}

		r.messages = append(older, r.messages...)
		r.trimMessageList()

		// Pages evicted by the retention cap are not history the window can show.
		for _, m := range older {
			if r.indexOf(m.ID) >= 0 {
				loaded = append(loaded, *m)
			}
		}
		if len(loaded) > 0 {
			r.s.Bus.Publish(events.Event{Type: events.LazyLoadedMessages, RoomID: r.id, Messages: loaded})
		}
	})
	return loaded
}

// Messages returns a copy of the message window, oldest first.
func (r *Room) Messages() []models.Message {
	var out []models.Message
	r.call(func() {
		out = make([]models.Message, len(r.messages))
		for i, m := range r.messages {
			out[i] = *m
		}
	})
	return out
}

func (r *Room) LastMessage() (models.Message, bool) {
	var msg models.Message
	var ok bool
	r.call(func() {
		if n := len(r.messages); n > 0 {
			msg, ok = *r.messages[n-1], true
		}
	})
	return msg, ok
}
