package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps the last saved snapshot in memory. Used in tests and for
// throwaway stores. SaveErr, when set, is returned by every Save.
type MemoryBackend struct {
	mu      sync.Mutex
	snap    *Snapshot
	saves   int
	SaveErr error
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Kind returns the backend identifier.
func (m *MemoryBackend) Kind() string { return "memory" }

// Paths returns nil; nothing is on disk.
func (m *MemoryBackend) Paths() []string { return nil }

// Load returns a deep copy of the last saved snapshot.
func (m *MemoryBackend) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.snap), nil
}

// Save stores a deep copy of snap.
func (m *MemoryBackend) Save(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.snap = cloneSnapshot(snap)
	m.saves++
	return nil
}

// Saves returns how many successful saves have happened.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// SetSaveErr changes the injected save error.
func (m *MemoryBackend) SetSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveErr = err
}

// Close is a no-op for MemoryBackend.
func (m *MemoryBackend) Close() error {
	return nil
}

func cloneSnapshot(s *Snapshot) *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{Dimensions: s.Dimensions, Clusters: make([]ClusterRecord, len(s.Clusters))}
	for i, c := range s.Clusters {
		vecs := make([][]float32, len(c.Vectors))
		for j, v := range c.Vectors {
			vecs[j] = append([]float32(nil), v...)
		}
		out.Clusters[i] = ClusterRecord{Name: c.Name, Vectors: vecs}
	}
	return out
}
