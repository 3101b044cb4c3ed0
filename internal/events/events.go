// Package events is the typed notification bus the room engine publishes to.
package events

import (
	"log/slog"
	"sync"

	"roomsync/internal/models"
)

type Type string

const (
	RoomUpdated            Type = "room_updated"
	RoomAdded              Type = "room_added"
	RoomRemoved            Type = "room_removed"
	ChatUpdated            Type = "chat_updated"
	LazyLoadedMessages     Type = "lazy_loaded_messages"
	FlashHeader            Type = "flash_header"
	PlayReceivedSound      Type = "play_received_sound"
	BadgeChanged           Type = "badge_changed"
	UserOnlineStateChanged Type = "user_online_state_changed"
)

type Event struct {
	Type     Type
	RoomID   string
	UserID   string
	Badge    int
	Online   bool
	Messages []models.Message
}

type subscriber struct {
	ch    chan Event
	types map[Type]bool
}

// Bus fans events out to channel subscribers. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	// Map of subscriber ID -> subscriber
	subs   map[uint64]*subscriber
	nextID uint64
	mu     sync.RWMutex
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe returns a channel receiving events of the given types, or every event if
// none are given. cancel closes the channel.
func (b *Bus) Subscribe(buffer int, types ...Type) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[Type]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.types != nil && !s.types[e.Type] {
			continue
		}
		select {
		case s.ch <- e:
		default:
			slog.Warn("dropping event for slow subscriber", "type", e.Type, "room", e.RoomID)
		}
	}
}
