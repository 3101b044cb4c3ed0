// Package layout tracks which rooms are open and where.
package layout

import (
	"sort"
	"sync"
	"time"
)

// Manager is what the room engine needs from the layout.
type Manager interface {
	InsertRoom(roomID string, slot int, duration time.Duration)
	CloseRoom(roomID string)
	IsOpen(roomID string) bool
}

type placement struct {
	roomID string
	slot   int
	at     time.Time
}

// Slots is an in-memory Manager: a set of open rooms ordered by slot.
type Slots struct {
	// Map of room ID -> placement
	open map[string]placement
	now  func() time.Time
	mu   sync.RWMutex
}

func NewSlots() *Slots {
	return &Slots{open: make(map[string]placement), now: time.Now}
}

// InsertRoom opens the room at slot. A negative slot appends. duration is the animation
// length the presentation layer asked for; it only delays when the room counts as shown.
func (s *Slots) InsertRoom(roomID string, slot int, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot < 0 {
		slot = len(s.open)
		if p, ok := s.open[roomID]; ok {
			slot = p.slot
		}
	}
	s.open[roomID] = placement{roomID: roomID, slot: slot, at: s.now().Add(duration)}
}

func (s *Slots) CloseRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, roomID)
}

func (s *Slots) IsOpen(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.open[roomID]
	return ok
}

// Shown reports whether the room is open and its opening animation has finished.
func (s *Slots) Shown(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.open[roomID]
	return ok && !s.now().Before(p.at)
}

// Rooms lists open rooms by slot.
func (s *Slots) Rooms() []string {
	s.mu.RLock()
	placed := make([]placement, 0, len(s.open))
	for _, p := range s.open {
		placed = append(placed, p)
	}
	s.mu.RUnlock()

	sort.Slice(placed, func(i, j int) bool {
		if placed[i].slot != placed[j].slot {
			return placed[i].slot < placed[j].slot
		}
		return placed[i].roomID < placed[j].roomID
	})

	ids := make([]string, len(placed))
	for i, p := range placed {
		ids[i] = p.roomID
	}
	return ids
}
