package room

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"roomsync/internal/backend"
	"roomsync/internal/config"
	"roomsync/internal/events"
	"roomsync/internal/models"
	"roomsync/internal/paths"
	"roomsync/internal/realtime"
	"roomsync/internal/session"
	"roomsync/internal/storage"
)

type fakeClock struct {
	now int64
	mu  sync.Mutex
}

func (c *fakeClock) set(now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) Now() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, c.now != 0
}

func (c *fakeClock) SecondsSince(t int64) float64 {
	now, ok := c.Now()
	if !ok {
		return math.Inf(1)
	}
	return math.Abs(float64(now-t)) / 1000
}

// hooks intercepts backend calls made through a hookBackend.
type hooks struct {
	mu     sync.Mutex
	ons    map[string]int
	writes map[string]int

	// Each hook may block or fail the call for a path.
	on    func(path string) error
	once  func(path string) error
	write func(path string) error
}

func newHooks() *hooks {
	return &hooks{ons: make(map[string]int), writes: make(map[string]int)}
}

func (h *hooks) beforeOn(path string) error {
	h.mu.Lock()
	h.ons[path]++
	fn := h.on
	h.mu.Unlock()
	if fn != nil {
		return fn(path)
	}
	return nil
}

func (h *hooks) beforeOnce(path string) error {
	h.mu.Lock()
	fn := h.once
	h.mu.Unlock()
	if fn != nil {
		return fn(path)
	}
	return nil
}

func (h *hooks) beforeWrite(path string) error {
	h.mu.Lock()
	h.writes[path]++
	fn := h.write
	h.mu.Unlock()
	if fn != nil {
		return fn(path)
	}
	return nil
}

func (h *hooks) onCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ons[path]
}

func (h *hooks) writeCount(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for p, c := range h.writes {
		if strings.HasPrefix(p, prefix) {
			n += c
		}
	}
	return n
}

func (h *hooks) setOnce(fn func(path string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.once = fn
}

func (h *hooks) setWrite(fn func(path string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.write = fn
}

func (h *hooks) setOn(fn func(path string) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.on = fn
}

type hookBackend struct {
	backend.Backend
	h *hooks
}

func (b hookBackend) Ref(path string) backend.Reference {
	return hookRef{Reference: b.Backend.Ref(path), h: b.h}
}

type hookRef struct {
	backend.Reference
	h *hooks
}

func (r hookRef) Child(key string) backend.Reference {
	return hookRef{Reference: r.Reference.Child(key), h: r.h}
}

func (r hookRef) Push() backend.Reference {
	return hookRef{Reference: r.Reference.Push(), h: r.h}
}

func (r hookRef) query(q backend.Query) backend.Query {
	return hookQuery{Query: q, path: r.Path(), h: r.h}
}

func (r hookRef) OrderByChild(field string) backend.Query { return r.query(r.Reference.OrderByChild(field)) }
func (r hookRef) OrderByPriority() backend.Query        { return r.query(r.Reference.OrderByPriority()) }
func (r hookRef) StartAt(v int64) backend.Query         { return r.query(r.Reference.StartAt(v)) }
func (r hookRef) EndAt(v int64) backend.Query           { return r.query(r.Reference.EndAt(v)) }
func (r hookRef) LimitToLast(n int) backend.Query       { return r.query(r.Reference.LimitToLast(n)) }

func (r hookRef) On(ctx context.Context, event backend.EventType, cb backend.Callback) (backend.Subscription, error) {
	if err := r.h.beforeOn(r.Path()); err != nil {
		return nil, err
	}
	return r.Reference.On(ctx, event, cb)
}

func (r hookRef) Once(ctx context.Context) (backend.Snapshot, error) {
	if err := r.h.beforeOnce(r.Path()); err != nil {
		return backend.Snapshot{}, err
	}
	return r.Reference.Once(ctx)
}

func (r hookRef) Set(ctx context.Context, v backend.Value) error {
	if err := r.h.beforeWrite(r.Path()); err != nil {
		return err
	}
	return r.Reference.Set(ctx, v)
}

func (r hookRef) SetWithPriority(ctx context.Context, v backend.Value, priority backend.Value) error {
	if err := r.h.beforeWrite(r.Path()); err != nil {
		return err
	}
	return r.Reference.SetWithPriority(ctx, v, priority)
}

func (r hookRef) Update(ctx context.Context, fields map[string]backend.Value) error {
	if err := r.h.beforeWrite(r.Path()); err != nil {
		return err
	}
	return r.Reference.Update(ctx, fields)
}

type hookQuery struct {
	backend.Query
	path string
	h    *hooks
}

func (q hookQuery) wrap(next backend.Query) backend.Query {
	return hookQuery{Query: next, path: q.path, h: q.h}
}

func (q hookQuery) OrderByChild(field string) backend.Query { return q.wrap(q.Query.OrderByChild(field)) }
func (q hookQuery) OrderByPriority() backend.Query        { return q.wrap(q.Query.OrderByPriority()) }
func (q hookQuery) StartAt(v int64) backend.Query         { return q.wrap(q.Query.StartAt(v)) }
func (q hookQuery) EndAt(v int64) backend.Query           { return q.wrap(q.Query.EndAt(v)) }
func (q hookQuery) LimitToLast(n int) backend.Query       { return q.wrap(q.Query.LimitToLast(n)) }

func (q hookQuery) On(ctx context.Context, event backend.EventType, cb backend.Callback) (backend.Subscription, error) {
	if err := q.h.beforeOn(q.path); err != nil {
		return nil, err
	}
	return q.Query.On(ctx, event, cb)
}

func (q hookQuery) Once(ctx context.Context) (backend.Snapshot, error) {
	if err := q.h.beforeOnce(q.path); err != nil {
		return backend.Snapshot{}, err
	}
	return q.Query.Once(ctx)
}

type env struct {
	db     *realtime.DB
	s      *session.Session
	h      *hooks
	clock  *fakeClock
	vis    *session.VisibilityFlag
	other  *paths.Resolver
	events <-chan events.Event
}

func newEnv(t *testing.T) *env {
	return newEnvWithConfig(t, config.DefaultSync())
}

func newEnvWithConfig(t *testing.T, cfg config.SyncConfig) *env {
	t.Helper()

	db := realtime.New(storage.NewMemoryStorage())
	h := newHooks()
	s := session.New(hookBackend{Backend: db.Connect(), h: h}, models.User{ID: "me", Name: "Me"}, cfg)

	clock := &fakeClock{now: 1_000_000}
	vis := &session.VisibilityFlag{}
	s.Clock = clock
	s.Visibility = vis

	ch, cancel := s.Bus.Subscribe(4096)
	t.Cleanup(cancel)

	return &env{
		db:     db,
		s:      s,
		h:      h,
		clock:  clock,
		vis:    vis,
		other:  paths.New(db.Connect()),
		events: ch,
	}
}

type member struct {
	id     string
	name   string
	status models.MembershipStatus
}

func (e *env) createRoom(t *testing.T, id string, typ models.RoomType, name string, members ...member) {
	t.Helper()
	ctx := context.Background()

	meta := map[string]any{"type": int(typ)}
	if name != "" {
		meta["name"] = name
	}
	if err := e.other.RoomMeta(id).Set(ctx, meta); err != nil {
		t.Fatalf("failed to create room: %v", err)
	}
	for _, m := range members {
		status := m.status
		if status == "" {
			status = models.MembershipMember
		}
		value := map[string]any{"status": string(status), "time": 1}
		if m.name != "" {
			value["name"] = m.name
		}
		if err := e.other.RoomUsers(id).Child(m.id).Set(ctx, value); err != nil {
			t.Fatalf("failed to add member: %v", err)
		}
	}
}

func (e *env) writeMessage(t *testing.T, roomID, id, uid string, date int64, text string) {
	t.Helper()
	value := map[string]any{
		"type":    "text",
		"date":    date,
		"uid":     uid,
		"payload": map[string]any{"text": text},
	}
	if err := e.other.RoomMessages(roomID).Child(id).SetWithPriority(context.Background(), value, date); err != nil {
		t.Fatalf("failed to write message: %v", err)
	}
}

// drain returns every event published so far.
func (e *env) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-e.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countEvents(evs []events.Event, t events.Type) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// deliver feeds a message straight into the live handler, bypassing the backend.
func deliver(r *Room, msg *models.Message) {
	r.call(func() { r.onMessageAdded(r.generation, msg) })
}

func msgID(n int) string {
	return fmt.Sprintf("m%03d", n)
}
