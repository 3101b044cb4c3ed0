package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"roomsync/internal/backend"

	"github.com/google/uuid"
)

// Conn is one client's view of the DB. Listeners and disconnect hooks belong to the
// connection and are dropped when it closes.
type Conn struct {
	db *DB
	id string

	// Map of listener ID -> path
	listeners    map[uint64]string
	onDisconnect []string
	closed       bool

	mu sync.Mutex
}

func (db *DB) Connect() *Conn {
	return &Conn{
		db:        db,
		id:        uuid.NewString(),
		listeners: make(map[uint64]string),
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Ref(path string) backend.Reference {
	clean, err := backend.CleanPath(path)
	return &Ref{conn: c, path: clean, err: err}
}

// Close detaches every listener and runs the disconnect hooks.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	listeners := c.listeners
	hooks := c.onDisconnect
	c.listeners = nil
	c.onDisconnect = nil
	c.mu.Unlock()

	for id, path := range listeners {
		c.db.removeListener(path, id)
	}

	var errs []error
	for _, path := range hooks {
		if err := c.db.remove(path); err != nil {
			errs = append(errs, fmt.Errorf("on disconnect remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Conn) live() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return backend.ErrNotConnected
	}
	return nil
}

func (c *Conn) track(id uint64, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.listeners[id] = path
	return true
}

func (c *Conn) untrack(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, id)
}

type subscription struct {
	conn *Conn
	path string
	id   uint64
	once sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.conn.untrack(s.id)
		s.conn.db.removeListener(s.path, s.id)
	})
}

// Ref is both a location and a query over its children.
type Ref struct {
	conn *Conn
	path string
	spec backend.QuerySpec
	err  error
}

func (r *Ref) Path() string { return r.path }

func (r *Ref) Key() string {
	_, key := backend.Parent(r.path)
	return key
}

func (r *Ref) Spec() backend.QuerySpec { return r.spec }

func (r *Ref) Child(key string) backend.Reference {
	return r.conn.Ref(backend.Join(r.path, key))
}

func (r *Ref) Push() backend.Reference {
	return r.Child(uuid.Must(uuid.NewV7()).String())
}

func (r *Ref) OrderByChild(field string) backend.Query {
	q := *r
	q.spec.OrderBy = field
	return &q
}

func (r *Ref) OrderByPriority() backend.Query {
	q := *r
	q.spec.OrderBy = ""
	return &q
}

func (r *Ref) StartAt(v int64) backend.Query {
	q := *r
	q.spec.StartAt = &v
	return &q
}

func (r *Ref) EndAt(v int64) backend.Query {
	q := *r
	q.spec.EndAt = &v
	return &q
}

func (r *Ref) LimitToLast(n int) backend.Query {
	q := *r
	q.spec.Limit = n
	return &q
}

func (r *Ref) check(ctx context.Context) error {
	if r.err != nil {
		return r.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.conn.live()
}

func (r *Ref) Set(ctx context.Context, v backend.Value) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	return r.conn.db.set(r.path, v, nil)
}

func (r *Ref) SetWithPriority(ctx context.Context, v backend.Value, priority backend.Value) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	return r.conn.db.set(r.path, v, priority)
}

func (r *Ref) Update(ctx context.Context, fields map[string]backend.Value) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	return r.conn.db.update(r.path, fields)
}

func (r *Ref) Remove(ctx context.Context) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	return r.conn.db.remove(r.path)
}

func (r *Ref) OnDisconnectRemove(ctx context.Context) error {
	if err := r.check(ctx); err != nil {
		return err
	}
	r.conn.mu.Lock()
	defer r.conn.mu.Unlock()
	for _, p := range r.conn.onDisconnect {
		if p == r.path {
			return nil
		}
	}
	r.conn.onDisconnect = append(r.conn.onDisconnect, r.path)
	return nil
}

func (r *Ref) Once(ctx context.Context) (backend.Snapshot, error) {
	if err := r.check(ctx); err != nil {
		return backend.Snapshot{}, err
	}
	return r.conn.db.once(ctx, r.path, r.spec)
}

func (r *Ref) On(ctx context.Context, event backend.EventType, cb backend.Callback) (backend.Subscription, error) {
	if err := r.check(ctx); err != nil {
		return nil, err
	}
	switch event {
	case backend.EventValue, backend.EventChildAdded, backend.EventChildRemoved:
	default:
		return nil, fmt.Errorf("unsupported event %q", event)
	}

	l := &listener{conn: r.conn, path: r.path, event: event, spec: r.spec, cb: cb}
	initial := r.conn.db.addListener(l)
	if !r.conn.track(l.id, r.path) {
		r.conn.db.removeListener(r.path, l.id)
		return nil, backend.ErrNotConnected
	}
	deliver(initial)

	return &subscription{conn: r.conn, path: r.path, id: l.id}, nil
}

// Off removes every listener this connection holds at the location.
func (r *Ref) Off() {
	r.conn.mu.Lock()
	var ids []uint64
	for id, path := range r.conn.listeners {
		if path == r.path {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(r.conn.listeners, id)
	}
	r.conn.mu.Unlock()

	for _, id := range ids {
		r.conn.db.removeListener(r.path, id)
	}
}
