package core

import (
	"time"

	"github.com/google/uuid"
)

// BlockID identifies an immutable block. Ids are never reused.
type BlockID string

// NodeID identifies a storage node.
type NodeID string

func NewBlockID() BlockID {
	return BlockID(uuid.NewString())
}

// Target is a storage node and the address it serves blocks on.
type Target struct {
	Node NodeID `json:"node"`
	Addr string `json:"addr"`
}

type BlockMeta struct {
	ID        BlockID   `json:"id"`
	Size      int64     `json:"size"`
	Checksum  uint32    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
}
