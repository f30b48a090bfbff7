// Package storage defines the persistence interface for cluster state.
package storage

import (
	"context"
	"errors"
)

// ErrCorrupt is returned by Load when persisted state exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt cluster state")

// ClusterRecord is one persisted game cluster.
type ClusterRecord struct {
	Name    string
	Vectors [][]float32
}

// Snapshot is the complete persisted state. Clusters are kept in creation order.
type Snapshot struct {
	Dimensions int
	Clusters   []ClusterRecord
}

// TotalVectors returns the number of vectors across all clusters.
func (s *Snapshot) TotalVectors() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, c := range s.Clusters {
		n += len(c.Vectors)
	}
	return n
}

// Backend loads and saves whole snapshots. Save replaces the previous state entirely.
type Backend interface {
	// Load returns nil, nil when nothing has been persisted yet.
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
	// Paths lists files backing the store, for disk usage reporting.
	Paths() []string
	Kind() string
	Close() error
}
