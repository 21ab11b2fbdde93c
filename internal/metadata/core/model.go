package core

import (
	"time"

	storagecore "github.com/nemanja-m/mrfs/internal/storage/core"
)

type FileState string

const (
	FileOpenForWrite FileState = "OPEN_FOR_WRITE"
	FileFinalized    FileState = "FINALIZED"
	FileDeleted      FileState = "DELETED"
)

type FileEntry struct {
	Path        string                `json:"path"`
	Blocks      []storagecore.BlockID `json:"blocks"`
	Length      int64                 `json:"length"`
	Replication int                   `json:"replication"`
	BlockSize   int64                 `json:"block_size"`
	State       FileState             `json:"state"`
	Owner       string                `json:"owner"`
	CreatedAt   time.Time             `json:"created_at"`
	ModifiedAt  time.Time             `json:"modified_at"`
}

type DirectoryEntry struct {
	Path      string    `json:"path"`
	Children  []string  `json:"children"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

type BlockLocation struct {
	Block storagecore.BlockID `json:"block"`
	Node  storagecore.NodeID  `json:"node"`
	Index int                 `json:"index"`
}

// BlockInfo is the coordinator's view of one block and its replicas.
type BlockInfo struct {
	ID          storagecore.BlockID  `json:"id"`
	File        string               `json:"file"`
	Size        int64                `json:"size"`
	Replication int                  `json:"replication"`
	Replicas    []storagecore.NodeID `json:"replicas"`
	Committed   bool                 `json:"committed"`
}

// FileHandle identifies an open write session on a file.
type FileHandle struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Replication int    `json:"replication"`
	BlockSize   int64  `json:"block_size"`
}

type CreateOptions struct {
	Replication int   `json:"replication"`
	BlockSize   int64 `json:"block_size"`
	// RequestID makes a retried Create return the write session it already
	// opened instead of failing with ALREADY_EXISTS.
	RequestID string `json:"request_id,omitempty"`
}

// BlockAllocation is a freshly allocated block and the ordered replica chain
// a client should write it to.
type BlockAllocation struct {
	Block     storagecore.BlockID  `json:"block"`
	Targets   []storagecore.Target `json:"targets"`
	BlockSize int64                `json:"block_size"`
}

type CommitRequest struct {
	Block     storagecore.BlockID  `json:"block"`
	Size      int64                `json:"size"`
	Confirmed []storagecore.NodeID `json:"confirmed"`
}

// LocatedBlock is a block of an opened file with its live replicas. Lost is
// set when no live replica remains.
type LocatedBlock struct {
	ID       storagecore.BlockID  `json:"id"`
	Offset   int64                `json:"offset"`
	Size     int64                `json:"size"`
	Replicas []storagecore.Target `json:"replicas"`
	Lost     bool                 `json:"lost"`
}

type LocatedFile struct {
	Entry  FileEntry      `json:"entry"`
	Blocks []LocatedBlock `json:"blocks"`
}

// EntryInfo is a single row of a listing or stat.
type EntryInfo struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	IsDir       bool      `json:"is_dir"`
	Length      int64     `json:"length"`
	Replication int       `json:"replication"`
	BlockSize   int64     `json:"block_size"`
	State       FileState `json:"state,omitempty"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"created_at"`
}

type NodeInfo struct {
	ID   storagecore.NodeID `json:"id"`
	Addr string             `json:"addr"`
}

type NodeStatus string

const (
	NodeAlive NodeStatus = "ALIVE"
	NodeDead  NodeStatus = "DEAD"
)

type NodeHeartbeat struct {
	Node   storagecore.NodeID `json:"node"`
	Addr   string             `json:"addr"`
	Blocks int                `json:"blocks"`
}

// HeartbeatReply carries work for a storage node. Reregister asks the node to
// register again with a full block report.
type HeartbeatReply struct {
	DeleteBlocks []storagecore.BlockID `json:"delete_blocks"`
	Reregister   bool                  `json:"reregister"`
}
