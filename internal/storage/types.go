package storage

import (
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Node is a single stored location of the log tree.
type Node struct {
	Path     string
	Value    any
	Priority int64
}

type DBNode struct {
	Path     string `msgpack:"path"`
	Value    any    `msgpack:"value"`
	Priority int64  `msgpack:"priority"`
}

func (n *DBNode) Key() []byte {
	return []byte(n.Path)
}

func (n *DBNode) MarshalBinary() (data []byte, err error) {
	type alias DBNode
	return msgpack.Marshal((*alias)(n))
}

func (n *DBNode) UnmarshalBinary(data []byte) error {
	type alias DBNode
	return msgpack.Unmarshal(data, (*alias)(n))
}

func (n *DBNode) node() Node {
	return Node{Path: n.Path, Value: n.Value, Priority: n.Priority}
}

func newDBNode(n Node) *DBNode {
	return &DBNode{Path: n.Path, Value: n.Value, Priority: n.Priority}
}
