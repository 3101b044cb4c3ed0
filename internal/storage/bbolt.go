package storage

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketNodes = []byte("nodes")
	bucketFiles = []byte("files")

	ErrRootPath = errors.New("root path cannot be modified")
)

// BboltStorage keeps every node under its full path in a single bucket. Children of a
// location are found with a prefix scan, so they come back ordered by key.
type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketFiles} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// Get returns the node stored at path.
func (s *BboltStorage) Get(path string) (Node, bool, error) {
	var (
		node  Node
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(path))
		if data == nil {
			return nil
		}
		var dbNode DBNode
		if err := dbNode.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal node %s: %w", path, err)
		}
		node, found = dbNode.node(), true
		return nil
	})
	return node, found, err
}

// Put stores a node, replacing whatever was at its path.
func (s *BboltStorage) Put(node Node) error {
	if node.Path == "" {
		return ErrRootPath
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbNode := newDBNode(node)
		data, err := dbNode.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal node: %w", err)
		}
		return tx.Bucket(bucketNodes).Put(dbNode.Key(), data)
	})
}

// Delete removes the node at path and everything below it, returning what was removed.
func (s *BboltStorage) Delete(path string) ([]Node, error) {
	if path == "" {
		return nil, ErrRootPath
	}
	var removed []Node
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNodes)

		var keys [][]byte
		if data := b.Get([]byte(path)); data != nil {
			var dbNode DBNode
			if err := dbNode.UnmarshalBinary(data); err != nil {
				return err
			}
			removed = append(removed, dbNode.node())
			keys = append(keys, []byte(path))
		}

		prefix := []byte(path + "/")
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var dbNode DBNode
			if err := dbNode.UnmarshalBinary(v); err != nil {
				return err
			}
			removed = append(removed, dbNode.node())
			keys = append(keys, append([]byte(nil), k...))
		}

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("failed to delete %s: %w", k, err)
			}
		}
		return nil
	})
	return removed, err
}

// Children returns the direct children of path that hold a value, ordered by key.
func (s *BboltStorage) Children(path string) ([]Node, error) {
	var children []Node
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefix := []byte(path + "/")
		if path == "" {
			prefix = nil
		}

		c := tx.Bucket(bucketNodes).Cursor()
		k, v := c.First()
		if prefix != nil {
			k, v = c.Seek(prefix)
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if strings.Contains(string(k[len(prefix):]), "/") {
				continue
			}
			var dbNode DBNode
			if err := dbNode.UnmarshalBinary(v); err != nil {
				return err
			}
			children = append(children, dbNode.node())
		}
		return nil
	})
	return children, err
}
