// Package backend describes the ordered append-log service the sync engine talks to.
//
// Data is a tree of nodes addressed by slash separated paths. A node either holds a value
// (usually a map[string]any) or has children. Children can be queried in order, either by
// their priority or by a numeric field, and observed live.
package backend

import (
	"context"
	"errors"
)

var (
	ErrNotConnected = errors.New("backend not connected")
	ErrInvalidPath  = errors.New("invalid path")
)

// Value is anything that survives a JSON or msgpack round trip.
type Value = any

type EventType string

const (
	EventValue        EventType = "value"
	EventChildAdded   EventType = "child_added"
	EventChildRemoved EventType = "child_removed"
)

// Snapshot is an immutable copy of a node at the time an event fired.
type Snapshot struct {
	Key      string     `json:"key"`
	Value    Value      `json:"value,omitempty"`
	Priority int64      `json:"priority,omitempty"`
	Children []Snapshot `json:"children,omitempty"`
}

func (s Snapshot) Exists() bool {
	return s.Value != nil || len(s.Children) > 0
}

// Map returns the node value as a map, or nil if it is not one.
func (s Snapshot) Map() map[string]any {
	m, _ := s.Value.(map[string]any)
	return m
}

// Field returns a single field of a map value.
func (s Snapshot) Field(name string) any {
	if m := s.Map(); m != nil {
		return m[name]
	}
	return nil
}

type Callback func(Snapshot)

// Subscription is a live listener handle.
type Subscription interface {
	Cancel()
}

// QuerySpec is the serialisable form of a query.
// An empty OrderBy orders children by priority.
type QuerySpec struct {
	OrderBy string `json:"orderBy,omitempty"`
	StartAt *int64 `json:"startAt,omitempty"`
	EndAt   *int64 `json:"endAt,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// Query narrows the children of a location.
//
// LimitToLast bounds the initial batch delivered by Once and by a fresh child_added
// listener. Children added later are always delivered if they fall inside the range.
type Query interface {
	OrderByChild(field string) Query
	OrderByPriority() Query
	StartAt(v int64) Query
	EndAt(v int64) Query
	LimitToLast(n int) Query
	Spec() QuerySpec

	// On attaches a persistent listener. Value listeners receive the current value
	// immediately; child_added listeners receive every existing child in range.
	On(ctx context.Context, event EventType, cb Callback) (Subscription, error)
	// Once reads the location (and its children in range) a single time.
	Once(ctx context.Context) (Snapshot, error)
}

// Reference is an addressable location.
type Reference interface {
	Query

	Path() string
	Key() string
	Child(key string) Reference
	// Push returns a child location with a new unique, time ordered key.
	// Nothing is written until Set is called on it.
	Push() Reference

	Set(ctx context.Context, v Value) error
	SetWithPriority(ctx context.Context, v Value, priority Value) error
	Update(ctx context.Context, fields map[string]Value) error
	Remove(ctx context.Context) error
	// OnDisconnectRemove arranges for the location to be removed when this
	// connection goes away.
	OnDisconnectRemove(ctx context.Context) error
	// Off detaches every listener this connection holds at the location.
	Off()
}

// Backend resolves paths into references.
type Backend interface {
	Ref(path string) Reference
}
