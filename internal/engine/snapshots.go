package engine

import (
	"sync"

	"fabula/internal/narrative"
)

// SnapshotStore keeps the latest deep-copied StoryState per job so status
// and introspection queries can read mid-flight state without touching the
// state the pipeline is mutating. Snapshots outlive the job until the
// process exits, matching the in-memory job registry's lifetime.
type SnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]*narrative.StoryState
}

// NewSnapshotStore creates an empty store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{snaps: make(map[string]*narrative.StoryState)}
}

// Put stores a deep copy of st for the job.
func (s *SnapshotStore) Put(jobID string, st *narrative.StoryState) {
	clone := st.Clone()
	s.mu.Lock()
	s.snaps[jobID] = clone
	s.mu.Unlock()
}

// Get returns the latest snapshot for the job.
func (s *SnapshotStore) Get(jobID string) (*narrative.StoryState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.snaps[jobID]
	return st, ok
}
