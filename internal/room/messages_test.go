package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"roomsync/internal/backend"
	"roomsync/internal/config"
	"roomsync/internal/events"
	"roomsync/internal/models"
)

func openRoom(t *testing.T, e *env, id string) *Room {
	t.Helper()
	r := New(id, e.s)
	if err := r.Open(context.Background(), -1, 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return r
}

func checkLinks(t *testing.T, msgs []models.Message) {
	t.Helper()
	for i, m := range msgs {
		prev, next := "", ""
		if i > 0 {
			prev = msgs[i-1].ID
			if msgs[i-1].Date > m.Date {
				t.Fatalf("messages out of order at %d: %d > %d", i, msgs[i-1].Date, m.Date)
			}
		}
		if i < len(msgs)-1 {
			next = msgs[i+1].ID
		}
		if m.PreviousID != prev || m.NextID != next {
			t.Fatalf("bad links for %s: got (%q, %q), want (%q, %q)", m.ID, m.PreviousID, m.NextID, prev, next)
		}
	}
}

func TestMessageWindow(t *testing.T) {
	e := newEnv(t)
	e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1", name: "Alice"})
	r := openRoom(t, e, "r1")

	// Dates 1..120 in scrambled order.
	for i := range 120 {
		n := (i*37)%120 + 1
		e.writeMessage(t, "r1", msgID(n), "u1", int64(n), fmt.Sprintf("message %d", n))
	}

	msgs := r.Messages()
	if len(msgs) != 100 {
		t.Fatalf("expected the window to hold 100 messages, got %d", len(msgs))
	}
	if msgs[0].Date != 21 || msgs[99].Date != 120 {
		t.Errorf("expected dates 21..120, got %d..%d", msgs[0].Date, msgs[99].Date)
	}
	checkLinks(t, msgs)

	last, ok := r.LastMessage()
	if !ok || last.ID != msgID(120) {
		t.Errorf("unexpected last message %+v", last)
	}

	if r.UnreadCount() != 120 {
		t.Errorf("expected 120 unread, got %d", r.UnreadCount())
	}
	if r.Badge() != 99 {
		t.Errorf("badge should stop at 99, got %d", r.Badge())
	}
}

func TestInitialHistory(t *testing.T) {
	cfg := config.DefaultSync()
	cfg.MaxHistoricMessages = 2
	e := newEnvWithConfig(t, cfg)
	e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"})
	for n := 1; n <= 5; n++ {
		e.writeMessage(t, "r1", msgID(n), "u1", int64(n), "hi")
	}

	r := openRoom(t, e, "r1")
	msgs := r.Messages()
	if len(msgs) != 2 || msgs[0].ID != msgID(4) || msgs[1].ID != msgID(5) {
		t.Fatalf("expected the two newest messages, got %+v", msgs)
	}

	// Live additions are not limited.
	for n := 6; n <= 9; n++ {
		e.writeMessage(t, "r1", msgID(n), "u1", int64(n), "hi")
	}
	if got := len(r.Messages()); got != 6 {
		t.Errorf("expected 6 messages, got %d", got)
	}
}

func TestReplayedMessage(t *testing.T) {
	e := newEnv(t)
	e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"})
	r := openRoom(t, e, "r1")
	if err := r.SetActive(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	e.writeMessage(t, "r1", "a", "u1", 10, "hello")
	e.drain()

	deliver(r, &models.Message{ID: "a", UserID: "u1", Date: 10, Type: models.MessageTypeText})

	msgs := r.Messages()
	if len(msgs) != 1 {
		t.Fatalf("replay duplicated the message: %+v", msgs)
	}
	if !msgs[0].Read {
		t.Error("replay lost the read flag")
	}
	if evs := e.drain(); len(evs) != 0 {
		t.Errorf("replay raised events: %+v", evs)
	}
}

func TestMessageRemoved(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"})
	r := openRoom(t, e, "r1")

	for n := 1; n <= 3; n++ {
		e.writeMessage(t, "r1", msgID(n), "u1", int64(n), "hi")
	}
	if r.Badge() != 3 {
		t.Fatalf("expected badge 3, got %d", r.Badge())
	}

	if err := e.other.RoomMessages("r1").Child(msgID(2)).Remove(ctx); err != nil {
		t.Fatal(err)
	}

	msgs := r.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	checkLinks(t, msgs)
	if msgs[0].NextID != msgID(3) {
		t.Errorf("expected %s to link to %s", msgs[0].ID, msgID(3))
	}
	if r.Badge() != 2 || r.UnreadCount() != 2 {
		t.Errorf("expected 2 unread, got badge=%d unread=%d", r.Badge(), r.UnreadCount())
	}

	// Unknown removals change nothing.
	deliverRemoval := func(id string) {
		r.call(func() { r.onMessageRemoved(r.generation, id) })
	}
	e.drain()
	deliverRemoval("nope")
	if len(e.drain()) != 0 {
		t.Error("unknown removal raised events")
	}
}

func TestBlockedSender(t *testing.T) {
	e := newEnv(t)
	e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"}, member{id: "u2"})
	e.s.Blocked.Block("u2")
	r := openRoom(t, e, "r1")

	e.writeMessage(t, "r1", "a", "u2", 1, "spam")
	e.writeMessage(t, "r1", "b", "u1", 2, "hi")

	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].ID != "b" {
		t.Errorf("expected only the message from u1, got %+v", msgs)
	}
}

func TestUnread(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"})
	r := openRoom(t, e, "r1")

	e.writeMessage(t, "r1", "a", "u1", 10, "one")
	e.writeMessage(t, "r1", "b", "me", 11, "mine")
	if r.UnreadCount() != 1 || r.Badge() != 1 {
		t.Fatalf("expected 1 unread, got unread=%d badge=%d", r.UnreadCount(), r.Badge())
	}
	if countEvents(e.drain(), events.BadgeChanged) != 1 {
		t.Error("expected one badge change")
	}

	if err := r.SetActive(ctx, true); err != nil {
		t.Fatal(err)
	}
	if r.UnreadCount() != 0 || r.Badge() != 0 {
		t.Errorf("activating should mark everything read, got unread=%d badge=%d", r.UnreadCount(), r.Badge())
	}
	if r.ReadTimestamp() != 11 {
		t.Errorf("expected read timestamp 11, got %d", r.ReadTimestamp())
	}
	for _, m := range r.Messages() {
		if !m.Read {
			t.Errorf("message %s still unread", m.ID)
		}
	}

	snap, err := e.other.UserRoom("me", "r1").Once(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := backend.Int64(snap.Field("read")); !ok {
		t.Error("read time was not stored")
	}

	// Marking read again changes nothing.
	e.drain()
	if err := r.MarkRead(ctx); err != nil {
		t.Fatal(err)
	}
	if countEvents(e.drain(), events.BadgeChanged) != 0 {
		t.Error("second MarkRead changed the badge")
	}

	// The room is in view, so new messages arrive read.
	e.writeMessage(t, "r1", "c", "u1", 12, "seen")
	if r.UnreadCount() != 0 {
		t.Error("message in an active room was counted unread")
	}

	// Minimized rooms count again.
	r.SetMinimized(true)
	e.writeMessage(t, "r1", "d", "u1", 13, "missed")
	if r.UnreadCount() != 1 {
		t.Errorf("expected 1 unread while minimized, got %d", r.UnreadCount())
	}

	// A fresh instance restores the stored read time and skips older messages.
	fresh := New("r1", e.s)
	if err := fresh.On(ctx); err != nil {
		t.Fatal(err)
	}
	if fresh.ReadTimestamp() == 0 {
		t.Fatal("read time was not restored")
	}
	if fresh.UnreadCount() != 0 {
		t.Errorf("messages before the read time counted unread: %d", fresh.UnreadCount())
	}
}

func TestPublicRoomReadTimeNotStored(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createRoom(t, "pub", models.RoomTypePublic, "Lobby")
	r := openRoom(t, e, "pub")

	e.writeMessage(t, "pub", "a", "u1", 10, "hi")
	if err := r.MarkRead(ctx); err != nil {
		t.Fatal(err)
	}
	if n := e.h.writeCount("users/me/rooms"); n != 0 {
		t.Errorf("public room stored its read time (%d writes)", n)
	}
}

func TestTyping(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createRoom(t, "r1", models.RoomTypeGroup, "",
		member{id: "me"}, member{id: "u1", name: "Alice"}, member{id: "u2", name: "Bob"})
	r := openRoom(t, e, "r1")
	typing := e.other.RoomTyping("r1")

	steps := []struct {
		name     string
		apply    func() error
		expected string
	}{
		{"Alice", func() error { return typing.Child("u1").Set(ctx, map[string]any{"name": "Alice"}) }, "Alice..."},
		{"Both", func() error { return typing.Child("u2").Set(ctx, map[string]any{"name": "Bob"}) }, "2 people typing"},
		{"Me", func() error { return r.StartTyping(ctx) }, "2 people typing"},
		{"BobStops", func() error { return typing.Child("u2").Remove(ctx) }, "Alice..."},
		{"MeStops", func() error { return r.FinishTyping(ctx) }, "Alice..."},
		{"AliceStops", func() error { return typing.Child("u1").Remove(ctx) }, ""},
		{"Unnamed", func() error { return typing.Child("u2").Set(ctx, map[string]any{"since": 1}) }, "Bob..."},
		{"Stranger", func() error { return typing.Child("u9").Set(ctx, map[string]any{"since": 1}) }, "2 people typing"},
		{"OnlyStranger", func() error { return typing.Child("u2").Remove(ctx) }, "Someone..."},
	}
	for _, step := range steps {
		if err := step.apply(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got := r.TypingMessage(); got != step.expected {
			t.Fatalf("%s: expected %q, got %q", step.name, step.expected, got)
		}
	}

	if err := r.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if r.TypingMessage() != "" {
		t.Error("typing state survived Close")
	}
	if err := typing.Child("u1").Set(ctx, map[string]any{"name": "Alice"}); err != nil {
		t.Fatal(err)
	}
	if r.TypingMessage() != "" {
		t.Error("typing listener survived Close")
	}
}

// blockOnce makes the next message page query wait until release is closed.
func blockOnce(e *env, roomID string) (entered <-chan struct{}, release chan struct{}) {
	in := make(chan struct{}, 1)
	release = make(chan struct{})
	path := "rooms/" + roomID + "/messages"
	e.h.setOnce(func(p string) error {
		if p == path {
			in <- struct{}{}
			<-release
		}
		return nil
	})
	return in, release
}

func pagedEnv(t *testing.T) (*env, *Room) {
	cfg := config.DefaultSync()
	cfg.MaxHistoricMessages = 5
	e := newEnvWithConfig(t, cfg)
	e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"})
	for n := 1; n <= 30; n++ {
		e.writeMessage(t, "r1", msgID(n), "u1", int64(n), "hi")
	}
	return e, openRoom(t, e, "r1")
}

func TestLoadMoreMessages(t *testing.T) {
	ctx := context.Background()
	e, r := pagedEnv(t)

	if got := len(r.Messages()); got != 5 {
		t.Fatalf("expected 5 initial messages, got %d", got)
	}

	pages := []struct {
		first, last int
	}{
		{16, 25},
		{6, 15},
		{1, 5},
	}
	for _, p := range pages {
		e.drain()
		loaded := r.LoadMoreMessages(ctx, 10)
		if len(loaded) != p.last-p.first+1 {
			t.Fatalf("expected %d messages, got %d", p.last-p.first+1, len(loaded))
		}
		if loaded[0].ID != msgID(p.first) || loaded[len(loaded)-1].ID != msgID(p.last) {
			t.Errorf("expected %s..%s, got %s..%s", msgID(p.first), msgID(p.last), loaded[0].ID, loaded[len(loaded)-1].ID)
		}
		for _, m := range loaded {
			if !m.Read {
				t.Errorf("loaded message %s should be read", m.ID)
			}
		}
		if countEvents(e.drain(), events.LazyLoadedMessages) != 1 {
			t.Error("expected a lazy loaded event")
		}
	}

	if loaded := r.LoadMoreMessages(ctx, 10); loaded != nil {
		t.Errorf("expected nothing more, got %d messages", len(loaded))
	}

	msgs := r.Messages()
	if len(msgs) != 30 {
		t.Fatalf("expected 30 messages, got %d", len(msgs))
	}
	checkLinks(t, msgs)
	if r.UnreadCount() != 5 {
		t.Errorf("paged messages must not count unread, got %d", r.UnreadCount())
	}
}

func TestLoadMoreMessagesAtCap(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultSync()
	cfg.MaxHistoricMessages = 5
	cfg.RetentionCap = 8
	e := newEnvWithConfig(t, cfg)
	e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"})
	for n := 1; n <= 30; n++ {
		e.writeMessage(t, "r1", msgID(n), "u1", int64(n), "hi")
	}
	r := openRoom(t, e, "r1")

	// Only the newest part of the page fits under the cap.
	e.drain()
	loaded := r.LoadMoreMessages(ctx, 10)
	if len(loaded) != 3 || loaded[0].ID != msgID(23) || loaded[2].ID != msgID(25) {
		t.Fatalf("expected %s..%s, got %v", msgID(23), msgID(25), loaded)
	}
	if countEvents(e.drain(), events.LazyLoadedMessages) != 1 {
		t.Error("expected a lazy loaded event")
	}

	for i := 0; i < 3; i++ {
		if loaded := r.LoadMoreMessages(ctx, 10); loaded != nil {
			t.Errorf("call %d: expected nothing once the window is full, got %d messages", i, len(loaded))
		}
	}
	if countEvents(e.drain(), events.LazyLoadedMessages) != 0 {
		t.Error("evicted pages raised an event")
	}

	msgs := r.Messages()
	if len(msgs) != 8 || msgs[0].ID != msgID(23) || msgs[7].ID != msgID(30) {
		t.Errorf("expected window %s..%s, got %d messages", msgID(23), msgID(30), len(msgs))
	}
	checkLinks(t, msgs)
}

func TestLoadMoreMessagesBusy(t *testing.T) {
	ctx := context.Background()
	e, r := pagedEnv(t)
	entered, release := blockOnce(e, "r1")

	result := make(chan []models.Message, 1)
	go func() { result <- r.LoadMoreMessages(ctx, 10) }()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("page query never started")
	}

	if loaded := r.LoadMoreMessages(ctx, 10); loaded != nil {
		t.Errorf("concurrent load should return nil, got %d messages", len(loaded))
	}

	close(release)
	select {
	case loaded := <-result:
		if len(loaded) != 10 {
			t.Errorf("expected 10 messages, got %d", len(loaded))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("load never finished")
	}
}

func TestLoadMoreMessagesAfterClose(t *testing.T) {
	ctx := context.Background()
	e, r := pagedEnv(t)
	entered, release := blockOnce(e, "r1")

	result := make(chan []models.Message, 1)
	go func() { result <- r.LoadMoreMessages(ctx, 10) }()
	<-entered

	if err := r.Close(ctx); err != nil {
		t.Fatal(err)
	}
	e.drain()
	close(release)

	if loaded := <-result; loaded != nil {
		t.Errorf("stale page was applied: %d messages", len(loaded))
	}
	if got := len(r.Messages()); got != 5 {
		t.Errorf("window changed after close: %d messages", got)
	}
	if countEvents(e.drain(), events.LazyLoadedMessages) != 0 {
		t.Error("stale page raised an event")
	}
}

func TestLoadMoreMessagesFailure(t *testing.T) {
	ctx := context.Background()
	e, r := pagedEnv(t)

	e.h.setOnce(func(string) error { return errors.New("unavailable") })
	if loaded := r.LoadMoreMessages(ctx, 10); loaded != nil {
		t.Fatalf("expected nil on failure, got %d messages", len(loaded))
	}

	e.h.setOnce(nil)
	if loaded := r.LoadMoreMessages(ctx, 0); len(loaded) != 10 {
		t.Errorf("expected a default page of 10 after recovery, got %d", len(loaded))
	}
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("write rejected")

	t.Run("RetriesOnce", func(t *testing.T) {
		e := newEnv(t)
		e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"})
		r := openRoom(t, e, "r1")

		var attempts atomic.Int32
		e.h.setWrite(func(p string) error {
			if strings.HasPrefix(p, "rooms/r1/messages/") && attempts.Add(1) == 1 {
				return boom
			}
			return nil
		})

		if err := r.SendTextMessage(ctx, "  hello <b>there</b> "); err != nil {
			t.Fatalf("send failed: %v", err)
		}
		if attempts.Load() != 2 {
			t.Errorf("expected 2 attempts, got %d", attempts.Load())
		}
		if e.h.writeCount("online/me") != 1 {
			t.Error("session was not refreshed before retrying")
		}

		msgs := r.Messages()
		if len(msgs) != 1 {
			t.Fatalf("expected the sent message, got %+v", msgs)
		}
		m := msgs[0]
		if m.UserID != "me" || m.Text() != "hello <b>there</b>" || m.Date == 0 {
			t.Errorf("unexpected message %+v", m)
		}
		if len(m.To) != 1 || m.To[0] != "u1" {
			t.Errorf("expected recipients [u1], got %v", m.To)
		}
		if r.UnreadCount() != 0 {
			t.Error("own message counted unread")
		}

		state, err := e.other.RoomState("r1").Once(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if ts, _ := backend.Int64(state.Field("messages")); ts == 0 {
			t.Error("state pointer was not moved")
		}
	})

	t.Run("GivesUp", func(t *testing.T) {
		e := newEnv(t)
		e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"})
		r := openRoom(t, e, "r1")

		var attempts atomic.Int32
		e.h.setWrite(func(p string) error {
			if strings.HasPrefix(p, "rooms/r1/messages/") {
				attempts.Add(1)
				return boom
			}
			return nil
		})

		err := r.SendTextMessage(ctx, "hello")
		if !errors.Is(err, boom) {
			t.Fatalf("expected the write error, got %v", err)
		}
		if attempts.Load() != 2 {
			t.Errorf("expected exactly 2 attempts, got %d", attempts.Load())
		}
		if len(r.Messages()) != 0 {
			t.Error("failed message appeared in the window")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		e := newEnv(t)
		r := New("r1", e.s)
		if err := r.SendTextMessage(ctx, "   "); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("expected ErrEmptyMessage, got %v", err)
		}
		if err := r.SendImageMessage(ctx, "", 1, 1); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("expected ErrEmptyMessage, got %v", err)
		}
	})

	t.Run("Attachments", func(t *testing.T) {
		e := newEnv(t)
		e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"})
		r := openRoom(t, e, "r1")

		if err := r.SendImageMessage(ctx, "https://example.com/cat.jpg", 640, 480); err != nil {
			t.Fatal(err)
		}
		if err := r.SendFileMessage(ctx, "report.pdf", "", "https://example.com/report.pdf"); err != nil {
			t.Fatal(err)
		}

		msgs := r.Messages()
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		byType := make(map[models.MessageType]models.Message)
		for _, m := range msgs {
			byType[m.Type] = m
		}
		if img := byType[models.MessageTypeImage]; img.Payload.Width != 640 || img.Payload.Height != 480 {
			t.Errorf("unexpected image payload %+v", img.Payload)
		}
		if f := byType[models.MessageTypeFile]; f.Payload.MimeType != "application/pdf" || f.Payload.Name != "report.pdf" {
			t.Errorf("unexpected file payload %+v", f.Payload)
		}
	})
}

func TestReceivedSound(t *testing.T) {
	now := int64(1_000_000)

	tests := []struct {
		name     string
		hidden   bool
		active   bool
		muted    bool
		from     string
		date     int64
		expected bool
	}{
		{"HiddenFresh", true, true, false, "u1", now - 1000, true},
		{"InactiveFresh", false, false, false, "u1", now - 1000, true},
		{"InView", false, true, false, "u1", now - 1000, false},
		{"Stale", true, false, false, "u1", now - 60_000, false},
		{"Muted", true, false, true, "u1", now - 1000, false},
		{"Own", true, false, false, "me", now - 1000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1"})
			r := openRoom(t, e, "r1")

			e.vis.SetHidden(tt.hidden)
			r.SetMuted(tt.muted)
			if err := r.SetActive(context.Background(), tt.active); err != nil {
				t.Fatal(err)
			}
			e.drain()

			deliver(r, &models.Message{ID: "a", UserID: tt.from, Date: tt.date, Type: models.MessageTypeText})
			if got := countEvents(e.drain(), events.PlayReceivedSound) == 1; got != tt.expected {
				t.Errorf("expected sound=%v, got %v", tt.expected, got)
			}
		})
	}
}

func TestFlagAndTranscript(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.createRoom(t, "r1", models.RoomTypeGroup, "", member{id: "me"}, member{id: "u1", name: "Alice"})
	r := openRoom(t, e, "r1")

	date := time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local).UnixMilli()
	e.writeMessage(t, "r1", "a", "u1", date, "hello")

	if err := r.ToggleMessageFlag(ctx, "a"); err != nil {
		t.Fatalf("flag failed: %v", err)
	}
	snap, err := e.other.Flagged("a").Once(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Field("text") != "hello" || snap.Field("from") != "u1" || snap.Field("creator") != "me" {
		t.Errorf("unexpected flag record %v", snap.Value)
	}
	if !r.Messages()[0].Flagged {
		t.Error("message should be flagged")
	}

	if err := r.ToggleMessageFlag(ctx, "a"); err != nil {
		t.Fatalf("unflag failed: %v", err)
	}
	if snap, _ := e.other.Flagged("a").Once(ctx); snap.Exists() {
		t.Error("flag record should be removed")
	}
	if r.Messages()[0].Flagged {
		t.Error("message should be unflagged")
	}

	if err := r.ToggleMessageFlag(ctx, "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}

	if got, want := r.Transcript(), "09:30 Alice: hello\n"; got != want {
		t.Errorf("expected transcript %q, got %q", want, got)
	}
}

func TestMessageFromSnapshot(t *testing.T) {
	msg := messageFromSnapshot(backend.Snapshot{
		Key:      "x",
		Priority: 42,
		Value: map[string]any{
			"uid": "u1",
			"to":  []any{"u2", "", "u3"},
			"payload": map[string]any{
				"url":    "https://example.com/a.png",
				"width":  float64(10),
				"height": uint16(20),
			},
		},
	})

	if msg.ID != "x" || msg.Date != 42 || msg.Type != models.MessageTypeText {
		t.Errorf("unexpected message %+v", msg)
	}
	if len(msg.To) != 2 || msg.To[1] != "u3" {
		t.Errorf("unexpected recipients %v", msg.To)
	}
	if msg.Payload.Width != 10 || msg.Payload.Height != 20 {
		t.Errorf("unexpected payload %+v", msg.Payload)
	}
}
