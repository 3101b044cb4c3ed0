package ws

import (
	"sync"

	"roomsync/internal/backend"
)

type FrameType string

const (
	FrameRequest FrameType = "req"
	FrameReply   FrameType = "reply"
	FrameEvent   FrameType = "event"
)

type Op string

const (
	OpSet          Op = "set"
	OpSetPriority  Op = "setp"
	OpUpdate       Op = "update"
	OpRemove       Op = "remove"
	OpOnce         Op = "once"
	OpOn           Op = "on"
	OpCancel       Op = "cancel"
	OpOff          Op = "off"
	OpOnDisconnect Op = "ondisconnect"
)

// Frame is the single message shape exchanged over the socket.
//
// Requests carry an ID that the reply echoes. Subscription ids are picked by the client
// so events for a listener can arrive before the reply to the "on" request.
type Frame struct {
	Type     FrameType          `json:"type"`
	ID       uint64             `json:"id,omitempty"`
	Op       Op                 `json:"op,omitempty"`
	Path     string             `json:"path,omitempty"`
	Query    *backend.QuerySpec `json:"query,omitempty"`
	Value    any                `json:"value,omitempty"`
	Priority any                `json:"priority,omitempty"`
	Fields   map[string]any     `json:"fields,omitempty"`
	Event    backend.EventType  `json:"event,omitempty"`
	Sub      uint64             `json:"sub,omitempty"`
	Snapshot *backend.Snapshot  `json:"snapshot,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// queue is an unbounded FIFO of frames. Producers never block, which keeps backend
// callbacks from stalling on a slow socket.
type queue struct {
	frames []Frame
	notify chan struct{}
	mu     sync.Mutex
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(f Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) drain() []Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	frames := q.frames
	q.frames = nil
	return frames
}
