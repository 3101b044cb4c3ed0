package room

import (
	"context"
	"fmt"
	"strings"
	"time"

	"roomsync/internal/backend"
	"roomsync/internal/content"
	"roomsync/internal/events"
	"roomsync/internal/models"

	"golang.org/x/sync/errgroup"
)

func (r *Room) SendTextMessage(ctx context.Context, text string) error {
	text = content.Sanitize(strings.TrimSpace(text))
	if text == "" {
		return ErrEmptyMessage
	}
	return r.send(ctx, models.MessageTypeText, map[string]any{"text": text})
}

func (r *Room) SendImageMessage(ctx context.Context, url string, width, height int) error {
	if url == "" {
		return ErrEmptyMessage
	}
	return r.send(ctx, models.MessageTypeImage, map[string]any{
		"url":    url,
		"width":  width,
		"height": height,
	})
}

// SendFileMessage sends a file link. An empty mimeType is guessed from the name.
func (r *Room) SendFileMessage(ctx context.Context, name, mimeType, url string) error {
	if url == "" {
		return ErrEmptyMessage
	}
	if mimeType == "" {
		mimeType = content.DetectMIME(name, nil)
	}
	return r.send(ctx, models.MessageTypeFile, map[string]any{
		"name":     content.SanitizeName(name),
		"mimeType": mimeType,
		"url":      url,
	})
}

// send appends a message to the log, stamped and ordered by server time, and moves the
// room's state pointer in parallel.
func (r *Room) send(ctx context.Context, typ models.MessageType, payload map[string]any) error {
	me := r.s.UserID()
	var to []string
	for _, id := range r.Members() {
		if id != me {
			to = append(to, id)
		}
	}

	value := map[string]any{
		"type":    string(typ),
		"date":    backend.ServerTimestamp,
		"uid":     me,
		"to":      to,
		"payload": payload,
	}
	ref := r.s.Paths.RoomMessages(r.id).Push()
	state := r.s.Paths.RoomState(r.id)

	err := r.s.WithRefresh(ctx, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return ref.SetWithPriority(gctx, value, backend.ServerTimestamp)
		})
		g.Go(func() error {
			return state.Update(gctx, map[string]any{"messages": backend.ServerTimestamp})
		})
		return g.Wait()
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// ToggleMessageFlag flags a message for moderation, or withdraws the flag.
func (r *Room) ToggleMessageFlag(ctx context.Context, messageID string) error {
	var msg models.Message
	var found bool
	r.call(func() {
		if i := r.indexOf(messageID); i >= 0 {
			msg, found = *r.messages[i], true
		}
	})
	if !found {
		return ErrMessageNotFound
	}

	ref := r.s.Paths.Flagged(messageID)
	if msg.Flagged {
		if err := ref.Remove(ctx); err != nil {
			return fmt.Errorf("failed to unflag message: %w", err)
		}
	} else {
		err := ref.Set(ctx, map[string]any{
			"creator": r.s.UserID(),
			"from":    msg.UserID,
			"text":    msg.Text(),
			"room":    r.id,
			"date":    backend.ServerTimestamp,
		})
		if err != nil {
			return fmt.Errorf("failed to flag message: %w", err)
		}
	}

	r.call(func() {
		if i := r.indexOf(messageID); i >= 0 {
			r.messages[i].Flagged = !msg.Flagged
		}
		r.publish(events.ChatUpdated)
	})
	return nil
}

// Transcript renders the message window as "HH:MM name: text" lines.
func (r *Room) Transcript() string {
	var b strings.Builder
	r.call(func() {
		for _, m := range r.messages {
			name := r.displayName(m.UserID)
			if name == "" {
				name = m.UserID
			}
			fmt.Fprintf(&b, "%s %s: %s\n", time.UnixMilli(m.Date).Format("15:04"), name, m.Text())
		}
	})
	return b.String()
}
