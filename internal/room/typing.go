package room

import (
	"context"
	"fmt"

	"roomsync/internal/backend"
	"roomsync/internal/content"
	"roomsync/internal/events"
)

// StartTyping publishes the current user's typing entry. The backend drops it if the
// connection goes away first.
func (r *Room) StartTyping(ctx context.Context) error {
	ref := r.s.Paths.RoomTyping(r.id).Child(r.s.UserID())

	name := content.SanitizeName(r.s.Users.CurrentUser().Name)
	if err := ref.Set(ctx, map[string]any{"name": name}); err != nil {
		return fmt.Errorf("failed to start typing: %w", err)
	}
	if err := ref.OnDisconnectRemove(ctx); err != nil {
		return fmt.Errorf("failed to arm typing cleanup: %w", err)
	}
	return nil
}

func (r *Room) FinishTyping(ctx context.Context) error {
	if err := r.s.Paths.RoomTyping(r.id).Child(r.s.UserID()).Remove(ctx); err != nil {
		return fmt.Errorf("failed to finish typing: %w", err)
	}
	return nil
}

func (r *Room) typingOnSub(ctx context.Context) error {
	var start bool
	r.call(func() {
		if !r.typingOn {
			r.typingOn = true
			start = true
		}
	})
	if !start {
		return nil
	}

	ref := r.s.Paths.RoomTyping(r.id)
	reset := func() { r.call(func() { r.typingOn = false }) }

	added, err := ref.On(ctx, backend.EventChildAdded, func(s backend.Snapshot) {
		userID, name := s.Key, content.SanitizeName(backend.String(s.Field("name")))
		r.post(func() {
			if !r.typingOn {
				return
			}
			r.typing[userID] = name
			r.updateTyping()
		})
	})
	if err != nil {
		reset()
		return fmt.Errorf("failed to subscribe to typing: %w", err)
	}

	removed, err := ref.On(ctx, backend.EventChildRemoved, func(s backend.Snapshot) {
		userID := s.Key
		r.post(func() {
			if _, ok := r.typing[userID]; !ok {
				return
			}
			delete(r.typing, userID)
			r.updateTyping()
		})
	})
	if err != nil {
		added.Cancel()
		reset()
		return fmt.Errorf("failed to subscribe to typing: %w", err)
	}

	var stale bool
	r.call(func() {
		if !r.typingOn || r.typingSubs != nil {
			stale = true
			return
		}
		r.typingSubs = []backend.Subscription{added, removed}
	})
	if stale {
		added.Cancel()
		removed.Cancel()
	}
	return nil
}

func (r *Room) typingOff() {
	var subs []backend.Subscription
	r.call(func() {
		r.typingOn = false
		subs = r.typingSubs
		r.typingSubs = nil
		clear(r.typing)
		r.typingMessage = ""
	})
	for _, sub := range subs {
		sub.Cancel()
	}
}

// updateTyping recomputes the summary, leaving out the current user.
func (r *Room) updateTyping() {
	me := r.s.UserID()

	var others []string
	for id, name := range r.typing {
		if id == me {
			continue
		}
		if name == "" {
			name = r.displayName(id)
		}
		if name == "" {
			name = "Someone"
		}
		others = append(others, name)
	}

	switch len(others) {
	case 0:
		r.typingMessage = ""
	case 1:
		r.typingMessage = others[0] + "..."
	default:
		r.typingMessage = fmt.Sprintf("%d people typing", len(others))
	}
	r.publish(events.ChatUpdated)
}

// TypingMessage is "" when nobody else is typing.
func (r *Room) TypingMessage() string {
	var msg string
	r.call(func() { msg = r.typingMessage })
	return msg
}
