package core

import "context"

// BlockService is the block-level API served by every storage node.
type BlockService interface {
	// WriteBlock stores data under id and forwards it along chain. The call
	// returns once the local copy is durable.
	WriteBlock(ctx context.Context, id BlockID, data []byte, chain []Target) error
	ReadBlock(ctx context.Context, id BlockID) ([]byte, error)
	// ReplicateBlock copies a locally held block to target.
	ReplicateBlock(ctx context.Context, id BlockID, target Target) error
	DeleteBlocks(ctx context.Context, ids []BlockID) error
	BlockReport(ctx context.Context) ([]BlockID, error)
}

type Dialer interface {
	Dial(target Target) (BlockService, error)
}

// Reporter receives replica bookkeeping events from a storage node.
type Reporter interface {
	BlockReceived(ctx context.Context, node NodeID, block BlockID, size int64) error
	ReplicationFailed(ctx context.Context, node NodeID, block BlockID, target Target) error
}

// BlockStore persists blocks on the local node.
type BlockStore interface {
	Put(id BlockID, data []byte) (BlockMeta, error)
	Get(id BlockID) ([]byte, error)
	Has(id BlockID) bool
	Delete(id BlockID) error
	List() ([]BlockID, error)
}
