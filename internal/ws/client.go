package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roomsync/internal/backend"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const cancelTimeout = 5 * time.Second

// Client implements backend.Backend against a remote Server.
//
// Event callbacks run on a single dispatch goroutine in arrival order. They may issue
// further requests on the same client.
type Client struct {
	ws *websocket.Conn

	nextID  uint64
	pending map[uint64]chan Frame
	// Map of subscription ID -> listener
	subs map[uint64]clientSub
	mu   sync.Mutex

	writeMu sync.Mutex
	events  *queue
	done    chan struct{}
	err     error
}

type clientSub struct {
	path string
	cb   backend.Callback
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &Client{
		ws:      conn,
		pending: make(map[uint64]chan Frame),
		subs:    make(map[uint64]clientSub),
		events:  newQueue(),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatchLoop()
	return c, nil
}

func (c *Client) Ref(path string) backend.Reference {
	clean, err := backend.CleanPath(path)
	return &clientRef{client: c, path: clean, err: err}
}

// Close drops the socket. The server runs this session's disconnect hooks.
func (c *Client) Close() error {
	return c.ws.Close()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	var err error
	for {
		var f Frame
		if err = c.ws.ReadJSON(&f); err != nil {
			break
		}
		switch f.Type {
		case FrameReply:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case FrameEvent:
			c.events.push(f)
		}
	}

	c.mu.Lock()
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	close(c.done)
	c.mu.Unlock()
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.events.notify:
			for _, f := range c.events.drain() {
				c.mu.Lock()
				s, ok := c.subs[f.Sub]
				c.mu.Unlock()
				if ok && f.Snapshot != nil {
					s.cb(*f.Snapshot)
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrNotConnected, err)
	}
	return nil
}

// request sends f and waits for the matching reply.
func (c *Client) request(ctx context.Context, f Frame) (Frame, error) {
	ch := make(chan Frame, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return Frame{}, backend.ErrNotConnected
	default:
	}
	c.nextID++
	f.ID = c.nextID
	f.Type = FrameRequest
	c.pending[f.ID] = ch
	c.mu.Unlock()

	if err := c.send(f); err != nil {
		c.forget(f.ID)
		return Frame{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return Frame{}, backend.ErrNotConnected
		}
		if reply.Error != "" {
			return reply, errors.New(reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		c.forget(f.ID)
		return Frame{}, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) subscribe(path string, cb backend.Callback) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.subs[c.nextID] = clientSub{path: path, cb: cb}
	return c.nextID
}

func (c *Client) unsubscribe(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	return ok
}

type remoteSub struct {
	client *Client
	id     uint64
}

func (s *remoteSub) Cancel() {
	if !s.client.unsubscribe(s.id) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if _, err := s.client.request(ctx, Frame{Op: OpCancel, Sub: s.id}); err != nil && !errors.Is(err, backend.ErrNotConnected) {
		slog.Error("failed to cancel subscription", "sub", s.id, "error", err)
	}
}

type clientRef struct {
	client *Client
	path   string
	spec   backend.QuerySpec
	err    error
}

func (r *clientRef) Path() string { return r.path }

func (r *clientRef) Key() string {
	_, key := backend.Parent(r.path)
	return key
}

func (r *clientRef) Spec() backend.QuerySpec { return r.spec }

func (r *clientRef) Child(key string) backend.Reference {
	return r.client.Ref(backend.Join(r.path, key))
}

// Push keys are generated locally; UUIDv7 keeps them time ordered.
func (r *clientRef) Push() backend.Reference {
	return r.Child(uuid.Must(uuid.NewV7()).String())
}

func (r *clientRef) OrderByChild(field string) backend.Query {
	q := *r
	q.spec.OrderBy = field
	return &q
}

func (r *clientRef) OrderByPriority() backend.Query {
	q := *r
	q.spec.OrderBy = ""
	return &q
}

func (r *clientRef) StartAt(v int64) backend.Query {
	q := *r
	q.spec.StartAt = &v
	return &q
}

func (r *clientRef) EndAt(v int64) backend.Query {
	q := *r
	q.spec.EndAt = &v
	return &q
}

func (r *clientRef) LimitToLast(n int) backend.Query {
	q := *r
	q.spec.Limit = n
	return &q
}

func (r *clientRef) do(ctx context.Context, f Frame) (Frame, error) {
	if r.err != nil {
		return Frame{}, r.err
	}
	f.Path = r.path
	return r.client.request(ctx, f)
}

func (r *clientRef) query() *backend.QuerySpec {
	spec := r.spec
	return &spec
}

func (r *clientRef) Set(ctx context.Context, v backend.Value) error {
	_, err := r.do(ctx, Frame{Op: OpSet, Value: v})
	return err
}

func (r *clientRef) SetWithPriority(ctx context.Context, v backend.Value, priority backend.Value) error {
	_, err := r.do(ctx, Frame{Op: OpSetPriority, Value: v, Priority: priority})
	return err
}

func (r *clientRef) Update(ctx context.Context, fields map[string]backend.Value) error {
	_, err := r.do(ctx, Frame{Op: OpUpdate, Fields: fields})
	return err
}

func (r *clientRef) Remove(ctx context.Context) error {
	_, err := r.do(ctx, Frame{Op: OpRemove})
	return err
}

func (r *clientRef) OnDisconnectRemove(ctx context.Context) error {
	_, err := r.do(ctx, Frame{Op: OpOnDisconnect})
	return err
}

func (r *clientRef) Once(ctx context.Context) (backend.Snapshot, error) {
	reply, err := r.do(ctx, Frame{Op: OpOnce, Query: r.query()})
	if err != nil {
		return backend.Snapshot{}, err
	}
	if reply.Snapshot == nil {
		return backend.Snapshot{Key: r.Key()}, nil
	}
	return *reply.Snapshot, nil
}

func (r *clientRef) On(ctx context.Context, event backend.EventType, cb backend.Callback) (backend.Subscription, error) {
	if r.err != nil {
		return nil, r.err
	}
	id := r.client.subscribe(r.path, cb)
	if _, err := r.do(ctx, Frame{Op: OpOn, Event: event, Sub: id, Query: r.query()}); err != nil {
		r.client.unsubscribe(id)
		return nil, err
	}
	return &remoteSub{client: r.client, id: id}, nil
}

func (r *clientRef) Off() {
	c := r.client
	c.mu.Lock()
	for id, s := range c.subs {
		if s.path == r.path {
			delete(c.subs, id)
		}
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if _, err := r.do(ctx, Frame{Op: OpOff}); err != nil && !errors.Is(err, backend.ErrNotConnected) {
		slog.Error("failed to detach listeners", "path", r.path, "error", err)
	}
}
