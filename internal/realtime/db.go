// Package realtime implements the ordered append-log service in process: a tree of nodes
// kept in a Store, ordered child queries, live child/value listeners, server timestamps,
// push keys and per-connection disconnect cleanup.
package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"roomsync/internal/backend"
	"roomsync/internal/storage"
)

type Store interface {
	Get(path string) (storage.Node, bool, error)
	Put(node storage.Node) error
	Delete(path string) ([]storage.Node, error)
	Children(path string) ([]storage.Node, error)
}

type listener struct {
	id    uint64
	conn  *Conn
	path  string
	event backend.EventType
	spec  backend.QuerySpec
	cb    backend.Callback
}

type delivery struct {
	cb   backend.Callback
	snap backend.Snapshot
}

type change struct {
	path   string
	before *storage.Node
	after  *storage.Node
}

// DB serialises writes and keeps listener bookkeeping. Callbacks run after the write lock
// is released, in the goroutine that performed the write.
type DB struct {
	store Store

	// Map of path -> listener ID -> listener
	listeners map[string]map[uint64]*listener
	nextID    uint64
	lastTS    int64
	now       func() time.Time

	mu sync.Mutex
}

func New(store Store) *DB {
	return &DB{
		store:     store,
		listeners: make(map[string]map[uint64]*listener),
		now:       time.Now,
	}
}

// timestamp returns the service clock in milliseconds, strictly increasing.
func (db *DB) timestamp() int64 {
	ts := db.now().UnixMilli()
	if ts <= db.lastTS {
		ts = db.lastTS + 1
	}
	db.lastTS = ts
	return ts
}

func (db *DB) set(path string, v backend.Value, priority backend.Value) error {
	if v == nil {
		return db.remove(path)
	}

	db.mu.Lock()
	ts := db.timestamp()
	node := storage.Node{Path: path, Value: resolve(v, ts)}
	if priority != nil {
		node.Priority, _ = backend.Int64(resolve(priority, ts))
	}

	removed, err := db.store.Delete(path)
	if err != nil {
		db.mu.Unlock()
		return err
	}
	if err := db.store.Put(node); err != nil {
		db.mu.Unlock()
		return err
	}

	changes := make([]change, 0, len(removed)+1)
	var before *storage.Node
	for i := range removed {
		if removed[i].Path == path {
			before = &removed[i]
			continue
		}
		changes = append(changes, change{path: removed[i].Path, before: &removed[i]})
	}
	changes = append(changes, change{path: path, before: before, after: &node})

	deliveries := db.collect(changes)
	db.mu.Unlock()

	deliver(deliveries)
	return nil
}

func (db *DB) update(path string, fields map[string]backend.Value) error {
	db.mu.Lock()
	ts := db.timestamp()

	old, existed, err := db.store.Get(path)
	if err != nil {
		db.mu.Unlock()
		return err
	}

	merged := make(map[string]any)
	if m, ok := old.Value.(map[string]any); ok {
		for k, v := range m {
			merged[k] = cloneValue(v)
		}
	}
	for k, v := range fields {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = resolve(v, ts)
	}

	node := storage.Node{Path: path, Value: merged, Priority: old.Priority}
	if err := db.store.Put(node); err != nil {
		db.mu.Unlock()
		return err
	}

	c := change{path: path, after: &node}
	if existed {
		c.before = &old
	}
	deliveries := db.collect([]change{c})
	db.mu.Unlock()

	deliver(deliveries)
	return nil
}

func (db *DB) remove(path string) error {
	db.mu.Lock()
	removed, err := db.store.Delete(path)
	if err != nil {
		db.mu.Unlock()
		return err
	}
	changes := make([]change, 0, len(removed))
	for i := range removed {
		changes = append(changes, change{path: removed[i].Path, before: &removed[i]})
	}
	deliveries := db.collect(changes)
	db.mu.Unlock()

	deliver(deliveries)
	return nil
}

// collect works out which listeners fire for a set of changes. Must hold db.mu.
func (db *DB) collect(changes []change) []delivery {
	var out []delivery

	touched := make(map[string]bool)
	for _, c := range changes {
		parent, _ := backend.Parent(c.path)
		for _, l := range db.listeners[parent] {
			switch {
			case l.event == backend.EventChildAdded && c.before == nil && c.after != nil:
				if inRange(l.spec, *c.after) {
					out = append(out, delivery{cb: l.cb, snap: nodeSnapshot(*c.after)})
				}
			case l.event == backend.EventChildRemoved && c.before != nil && c.after == nil:
				if inRange(l.spec, *c.before) {
					out = append(out, delivery{cb: l.cb, snap: nodeSnapshot(*c.before)})
				}
			}
		}

		for p := c.path; ; {
			touched[p] = true
			if p == "" {
				break
			}
			p, _ = backend.Parent(p)
		}
	}

	paths := make([]string, 0, len(touched))
	for p := range touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		for _, l := range db.listeners[p] {
			if l.event != backend.EventValue {
				continue
			}
			snap, err := db.snapshot(p, l.spec)
			if err != nil {
				continue
			}
			out = append(out, delivery{cb: l.cb, snap: snap})
		}
	}
	return out
}

// snapshot reads a location and its children in range. Must hold db.mu.
func (db *DB) snapshot(path string, spec backend.QuerySpec) (backend.Snapshot, error) {
	_, key := backend.Parent(path)
	snap := backend.Snapshot{Key: key}

	node, ok, err := db.store.Get(path)
	if err != nil {
		return snap, err
	}
	if ok {
		snap.Value = cloneValue(node.Value)
		snap.Priority = node.Priority
	}

	children, err := db.children(path, spec)
	if err != nil {
		return snap, err
	}
	for _, c := range children {
		snap.Children = append(snap.Children, nodeSnapshot(c))
	}
	return snap, nil
}

// children returns the children in range, ordered and limited. Must hold db.mu.
func (db *DB) children(path string, spec backend.QuerySpec) ([]storage.Node, error) {
	all, err := db.store.Children(path)
	if err != nil {
		return nil, err
	}

	matched := all[:0]
	for _, n := range all {
		if inRange(spec, n) {
			matched = append(matched, n)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		oi, _ := orderValue(spec, matched[i])
		oj, _ := orderValue(spec, matched[j])
		if oi != oj {
			return oi < oj
		}
		return matched[i].Path < matched[j].Path
	})

	if spec.Limit > 0 && len(matched) > spec.Limit {
		matched = matched[len(matched)-spec.Limit:]
	}
	return matched, nil
}

func (db *DB) addListener(l *listener) []delivery {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextID++
	l.id = db.nextID
	if db.listeners[l.path] == nil {
		db.listeners[l.path] = make(map[uint64]*listener)
	}
	db.listeners[l.path][l.id] = l

	var initial []delivery
	switch l.event {
	case backend.EventValue:
		if snap, err := db.snapshot(l.path, l.spec); err == nil {
			initial = append(initial, delivery{cb: l.cb, snap: snap})
		}
	case backend.EventChildAdded:
		children, err := db.children(l.path, l.spec)
		if err != nil {
			return nil
		}
		for _, c := range children {
			initial = append(initial, delivery{cb: l.cb, snap: nodeSnapshot(c)})
		}
	}
	return initial
}

func (db *DB) removeListener(path string, id uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.listeners[path], id)
	if len(db.listeners[path]) == 0 {
		delete(db.listeners, path)
	}
}

func (db *DB) once(ctx context.Context, path string, spec backend.QuerySpec) (backend.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return backend.Snapshot{}, err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.snapshot(path, spec)
}

func deliver(deliveries []delivery) {
	for _, d := range deliveries {
		d.cb(d.snap)
	}
}

func nodeSnapshot(n storage.Node) backend.Snapshot {
	_, key := backend.Parent(n.Path)
	return backend.Snapshot{Key: key, Value: cloneValue(n.Value), Priority: n.Priority}
}

func orderValue(spec backend.QuerySpec, n storage.Node) (int64, bool) {
	if spec.OrderBy == "" {
		return n.Priority, true
	}
	m, ok := n.Value.(map[string]any)
	if !ok {
		return 0, false
	}
	return backend.Int64(m[spec.OrderBy])
}

func inRange(spec backend.QuerySpec, n storage.Node) bool {
	v, ok := orderValue(spec, n)
	if !ok {
		return spec.StartAt == nil && spec.EndAt == nil
	}
	if spec.StartAt != nil && v < *spec.StartAt {
		return false
	}
	if spec.EndAt != nil && v > *spec.EndAt {
		return false
	}
	return true
}

// resolve replaces server timestamps and deep copies maps and slices.
func resolve(v any, ts int64) any {
	if backend.IsServerTimestamp(v) {
		return ts
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, fv := range t {
			if fv == nil {
				continue
			}
			out[k] = resolve(fv, ts)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = resolve(e, ts)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	}
	return v
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, fv := range t {
			out[k] = cloneValue(fv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
