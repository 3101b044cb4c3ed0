package users

import (
	"github.com/c-pro/geche"
)

// BlockList is the set of users whose messages are dropped on arrival.
type BlockList struct {
	blocked geche.Geche[string, struct{}]
}

func NewBlockList() *BlockList {
	return &BlockList{blocked: geche.NewMapCache[string, struct{}]()}
}

func (b *BlockList) Block(userID string) {
	b.blocked.Set(userID, struct{}{})
}

func (b *BlockList) Unblock(userID string) {
	_ = b.blocked.Del(userID)
}

func (b *BlockList) IsBlocked(userID string) bool {
	_, err := b.blocked.Get(userID)
	return err == nil
}
