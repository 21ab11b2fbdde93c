package core

import "time"

// Snapshot is the persisted form of the namespace. Replica locations are not
// persisted; storage nodes rebuild them with block reports on registration.
type Snapshot struct {
	Files   []FileEntry      `json:"files"`
	Dirs    []DirectoryEntry `json:"dirs"`
	Blocks  []BlockInfo      `json:"blocks"`
	SavedAt time.Time        `json:"saved_at"`
}

type NamespaceStore interface {
	// Load returns the last saved snapshot, or nil when nothing was saved.
	Load() (*Snapshot, error)
	Save(snapshot *Snapshot) error
}
