// Package models defines core data structures for feature vectors, clusters, and classify outcomes.
package models

// FeatureVector is a fixed-length visual embedding of one sampled frame.
type FeatureVector []float32

// Clone returns a copy of v so callers cannot mutate stored state.
func (v FeatureVector) Clone() FeatureVector {
	if v == nil {
		return nil
	}
	out := make(FeatureVector, len(v))
	copy(out, v)
	return out
}

// LabeledVector is one entry of the flat (game, vector) log.
type LabeledVector struct {
	Game   string        `json:"game"`
	Vector FeatureVector `json:"vector"`
}

// Centroid is the mean vector of one game cluster.
type Centroid struct {
	Game   string        `json:"game"`
	Vector FeatureVector `json:"vector"`
}

// GameStat is the vector count of one cluster.
type GameStat struct {
	Game    string `json:"game"`
	Vectors int    `json:"vectors"`
}
