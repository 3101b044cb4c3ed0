package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"roomsync/internal/backend"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// BackendConn is one client's session with the log service. Closing it runs the
// session's disconnect hooks.
type BackendConn interface {
	backend.Backend
	Close() error
}

type serverSub struct {
	path string
	sub  backend.Subscription
}

// Connection serves the log service protocol for one socket.
type Connection struct {
	ws         wsConnection
	backend    BackendConn
	fromClient chan Frame
	out        *queue
	errorCh    chan error

	// Map of client subscription ID -> listener; owned by mainLoop
	subs map[uint64]serverSub
}

func NewConnection(ws wsConnection, conn BackendConn) *Connection {
	return &Connection{
		ws:         ws,
		backend:    conn,
		fromClient: make(chan Frame),
		out:        newQueue(),
		errorCh:    make(chan error, 2),
		subs:       make(map[uint64]serverSub),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		for _, s := range c.subs {
			s.sub.Cancel()
		}
		if err := c.backend.Close(); err != nil {
			slog.Error("failed to close backend session", "error", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			return err
		}
		select {
		case c.fromClient <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case f := <-c.fromClient:
			if f.Type != FrameRequest {
				continue
			}
			c.out.push(c.process(ctx, f))
		case <-c.out.notify:
			for _, f := range c.out.drain() {
				if err := c.ws.WriteJSON(f); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// process executes one request and returns its reply. Events raised while the request
// runs are queued ahead of the reply.
func (c *Connection) process(ctx context.Context, f Frame) Frame {
	reply := Frame{Type: FrameReply, ID: f.ID}

	snap, err := c.execute(ctx, f)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.Snapshot = snap
	return reply
}

func (c *Connection) execute(ctx context.Context, f Frame) (*backend.Snapshot, error) {
	ref := c.backend.Ref(f.Path)
	query := applySpec(ref, f.Query)

	switch f.Op {
	case OpSet:
		return nil, ref.Set(ctx, f.Value)
	case OpSetPriority:
		return nil, ref.SetWithPriority(ctx, f.Value, f.Priority)
	case OpUpdate:
		return nil, ref.Update(ctx, f.Fields)
	case OpRemove:
		return nil, ref.Remove(ctx)
	case OpOnDisconnect:
		return nil, ref.OnDisconnectRemove(ctx)
	case OpOnce:
		snap, err := query.Once(ctx)
		if err != nil {
			return nil, err
		}
		return &snap, nil
	case OpOn:
		if f.Sub == 0 {
			return nil, fmt.Errorf("missing subscription id")
		}
		if _, ok := c.subs[f.Sub]; ok {
			return nil, fmt.Errorf("subscription %d already exists", f.Sub)
		}
		id, event := f.Sub, f.Event
		sub, err := query.On(ctx, event, func(s backend.Snapshot) {
			c.out.push(Frame{Type: FrameEvent, Sub: id, Event: event, Snapshot: &s})
		})
		if err != nil {
			return nil, err
		}
		c.subs[id] = serverSub{path: ref.Path(), sub: sub}
		return nil, nil
	case OpCancel:
		if s, ok := c.subs[f.Sub]; ok {
			s.sub.Cancel()
			delete(c.subs, f.Sub)
		}
		return nil, nil
	case OpOff:
		ref.Off()
		for id, s := range c.subs {
			if s.path == ref.Path() {
				delete(c.subs, id)
			}
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown op %q", f.Op)
}

func applySpec(ref backend.Reference, spec *backend.QuerySpec) backend.Query {
	var q backend.Query = ref
	if spec == nil {
		return q
	}
	if spec.OrderBy != "" {
		q = q.OrderByChild(spec.OrderBy)
	}
	if spec.StartAt != nil {
		q = q.StartAt(*spec.StartAt)
	}
	if spec.EndAt != nil {
		q = q.EndAt(*spec.EndAt)
	}
	if spec.Limit > 0 {
		q = q.LimitToLast(spec.Limit)
	}
	return q
}
