// Package cluster holds the in-memory game clusters and persists them through a storage backend.
package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperjump/gamesense/internal/models"
	"github.com/hyperjump/gamesense/internal/storage"
	"github.com/hyperjump/gamesense/internal/vector"
	"go.uber.org/zap"
)

type gameCluster struct {
	name    string
	vectors []models.FeatureVector
}

// Store maps game names to their collected feature vectors. Clusters are kept in
// creation order, which is also the iteration order for centroids and stats.
// The flat (game, vector) log is derived from the clusters on demand.
type Store struct {
	backend    storage.Backend
	logger     *zap.Logger
	mu         sync.RWMutex
	clusters   []*gameCluster
	byName     map[string]*gameCluster
	dimensions int
	total      int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a logger for load/save events.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore creates an empty store backed by backend. Call Load to read persisted state.
func NewStore(backend storage.Backend, opts ...StoreOption) *Store {
	s := &Store{
		backend: backend,
		logger:  zap.NewNop(),
		byName:  make(map[string]*gameCluster),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces in-memory state with the persisted snapshot. Missing state leaves the
// store empty; corrupt state is returned as an error.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load clusters: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	if snap == nil {
		s.logger.Info("no persisted clusters, starting empty", zap.String("backend", s.backend.Kind()))
		return nil
	}
	for _, rec := range snap.Clusters {
		if _, dup := s.byName[rec.Name]; dup {
			s.reset()
			return fmt.Errorf("failed to load clusters: %w: duplicate cluster %q", storage.ErrCorrupt, rec.Name)
		}
		c := &gameCluster{name: rec.Name, vectors: make([]models.FeatureVector, 0, len(rec.Vectors))}
		for _, v := range rec.Vectors {
			if len(v) != snap.Dimensions || !vector.IsFinite(v) {
				s.reset()
				return fmt.Errorf("failed to load clusters: %w: cluster %q holds an invalid vector", storage.ErrCorrupt, rec.Name)
			}
			c.vectors = append(c.vectors, models.FeatureVector(v))
		}
		s.clusters = append(s.clusters, c)
		s.byName[rec.Name] = c
		s.total += len(c.vectors)
	}
	s.dimensions = snap.Dimensions
	s.logger.Info("clusters loaded",
		zap.String("backend", s.backend.Kind()),
		zap.Int("clusters", len(s.clusters)),
		zap.Int("vectors", s.total))
	return nil
}

func (s *Store) reset() {
	s.clusters = nil
	s.byName = make(map[string]*gameCluster)
	s.dimensions = 0
	s.total = 0
}

// Save writes the complete in-memory state through the backend.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Save(ctx, s.snapshotLocked()); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	return nil
}

func (s *Store) snapshotLocked() *storage.Snapshot {
	snap := &storage.Snapshot{Dimensions: s.dimensions, Clusters: make([]storage.ClusterRecord, len(s.clusters))}
	for i, c := range s.clusters {
		vecs := make([][]float32, len(c.vectors))
		for j, v := range c.vectors {
			vecs[j] = v
		}
		snap.Clusters[i] = storage.ClusterRecord{Name: c.name, Vectors: vecs}
	}
	return snap
}

// AddToCluster appends copies of vectors to the named cluster, creating it if absent.
// Returns whether a new cluster was created.
func (s *Store) AddToCluster(name string, vectors []models.FeatureVector) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created, _, err := s.addLocked(name, vectors)
	return created, err
}

func (s *Store) addLocked(name string, vectors []models.FeatureVector) (created bool, prevDims int, err error) {
	if strings.TrimSpace(name) == "" {
		return false, s.dimensions, fmt.Errorf("%w: cluster name is empty", models.ErrInvalidInput)
	}
	if len(vectors) == 0 {
		return false, s.dimensions, fmt.Errorf("%w: no vectors to add", models.ErrInvalidInput)
	}
	dims := s.dimensions
	if dims == 0 {
		dims = len(vectors[0])
	}
	if dims == 0 {
		return false, s.dimensions, fmt.Errorf("%w: zero-length feature vector", models.ErrInvalidInput)
	}
	for i, v := range vectors {
		if len(v) != dims {
			return false, s.dimensions, fmt.Errorf("%w: vector %d has dimension %d, expected %d", models.ErrInvalidInput, i, len(v), dims)
		}
		if !vector.IsFinite(v) {
			return false, s.dimensions, fmt.Errorf("%w: vector %d has a non-finite component", models.ErrInvalidInput, i)
		}
	}
	prevDims = s.dimensions
	c, ok := s.byName[name]
	if !ok {
		c = &gameCluster{name: name}
		s.clusters = append(s.clusters, c)
		s.byName[name] = c
		created = true
	}
	for _, v := range vectors {
		c.vectors = append(c.vectors, v.Clone())
	}
	s.dimensions = dims
	s.total += len(vectors)
	return created, prevDims, nil
}

// Commit appends vectors to the named cluster and persists the result. When the save
// fails the append is undone, so the mutation is never observable.
func (s *Store) Commit(ctx context.Context, name string, vectors []models.FeatureVector) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prevLen int
	if c, ok := s.byName[name]; ok {
		prevLen = len(c.vectors)
	}
	created, prevDims, err := s.addLocked(name, vectors)
	if err != nil {
		return false, err
	}
	if err := s.backend.Save(ctx, s.snapshotLocked()); err != nil {
		s.rollbackLocked(name, prevLen, created, prevDims, len(vectors))
		s.logger.Error("cluster save failed, mutation rolled back",
			zap.String("game", name), zap.Int("vectors", len(vectors)), zap.Error(err))
		return false, fmt.Errorf("%w: %v", models.ErrPersistence, err)
	}
	s.logger.Debug("clusters committed",
		zap.String("game", name), zap.Int("added", len(vectors)), zap.Bool("created", created))
	return created, nil
}

func (s *Store) rollbackLocked(name string, prevLen int, created bool, prevDims, added int) {
	if created {
		delete(s.byName, name)
		s.clusters = s.clusters[:len(s.clusters)-1]
	} else {
		c := s.byName[name]
		c.vectors = c.vectors[:prevLen]
	}
	s.dimensions = prevDims
	s.total -= added
}

// Centroids returns the mean vector of every cluster, in creation order.
func (s *Store) Centroids() []models.Centroid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Centroid, 0, len(s.clusters))
	for _, c := range s.clusters {
		vecs := make([][]float32, len(c.vectors))
		for i, v := range c.vectors {
			vecs[i] = v
		}
		mean, err := vector.Mean(vecs)
		if err != nil {
			continue
		}
		out = append(out, models.Centroid{Game: c.name, Vector: mean})
	}
	return out
}

// Stats returns the vector count of every cluster.
func (s *Store) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int, len(s.clusters))
	for _, c := range s.clusters {
		out[c.name] = len(c.vectors)
	}
	return out
}

// OrderedStats returns vector counts in cluster creation order.
func (s *Store) OrderedStats() []models.GameStat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.GameStat, len(s.clusters))
	for i, c := range s.clusters {
		out[i] = models.GameStat{Game: c.name, Vectors: len(c.vectors)}
	}
	return out
}

// Log returns the flat (game, vector) list in cluster creation order.
// Vectors are shared with the store and must not be modified.
func (s *Store) Log() []models.LabeledVector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LabeledVector, 0, s.total)
	for _, c := range s.clusters {
		for _, v := range c.vectors {
			out = append(out, models.LabeledVector{Game: c.name, Vector: v})
		}
	}
	return out
}

// Names returns cluster names in creation order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.clusters))
	for i, c := range s.clusters {
		out[i] = c.name
	}
	return out
}

// Has reports whether a cluster with exactly this name exists.
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[name]
	return ok
}

// Len returns the number of clusters.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clusters)
}

// TotalVectors returns the number of vectors across all clusters.
func (s *Store) TotalVectors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// Dimensions returns the vector dimension, or 0 while the store is empty.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimensions
}

// BackendKind returns the backend identifier.
func (s *Store) BackendKind() string {
	return s.backend.Kind()
}

// Backend returns the persistence backend.
func (s *Store) Backend() storage.Backend {
	return s.backend
}
