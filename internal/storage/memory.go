package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStorage is a map backed store with the same semantics as BboltStorage.
type MemoryStorage struct {
	nodes map[string]Node
	mu    sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{nodes: make(map[string]Node)}
}

func (s *MemoryStorage) Get(path string) (Node, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[path]
	return n, ok, nil
}

func (s *MemoryStorage) Put(node Node) error {
	if node.Path == "" {
		return ErrRootPath
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.Path] = node
	return nil
}

func (s *MemoryStorage) Delete(path string) ([]Node, error) {
	if path == "" {
		return nil, ErrRootPath
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []Node
	for p, n := range s.nodes {
		if p == path || strings.HasPrefix(p, path+"/") {
			removed = append(removed, n)
			delete(s.nodes, p)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Path < removed[j].Path })
	return removed, nil
}

func (s *MemoryStorage) Children(path string) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := path + "/"
	if path == "" {
		prefix = ""
	}
	var children []Node
	for p, n := range s.nodes {
		if !strings.HasPrefix(p, prefix) || strings.Contains(p[len(prefix):], "/") {
			continue
		}
		children = append(children, n)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Path < children[j].Path })
	return children, nil
}
