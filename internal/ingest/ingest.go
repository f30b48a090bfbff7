// Package ingest runs one video through sampling, embedding and classification.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/hyperjump/gamesense/internal/embedding"
	"github.com/hyperjump/gamesense/internal/match"
	"github.com/hyperjump/gamesense/internal/models"
	"github.com/hyperjump/gamesense/internal/sampler"
	"go.uber.org/zap"
)

// NameIndex tracks known game names for lookups. Implemented by catalog.Catalog.
type NameIndex interface {
	Add(name string) error
	Suggest(query string, limit int) ([]string, error)
}

// maxSuggestions caps similar_games in a labeled response.
const maxSuggestions = 5

// Result is the outcome of ingesting one clip.
type Result struct {
	Outcome      *models.Outcome
	Frames       int
	SimilarGames []string
}

// Response converts the result to the upload response body.
func (r *Result) Response() *models.UploadResponse {
	resp := r.Outcome.Response()
	resp.SimilarGames = r.SimilarGames
	return resp
}

// Ingester samples frames from a video, embeds them, and classifies the clip.
type Ingester struct {
	sampler  sampler.Sampler
	embedder embedding.ImageEmbedder
	engine   *match.Engine
	names    NameIndex
	logger   *zap.Logger
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithLogger sets a logger for per-clip events.
func WithLogger(l *zap.Logger) IngesterOption {
	return func(in *Ingester) { in.logger = l }
}

// WithNameIndex keeps names current in idx and reports look-alike names for new labeled games.
func WithNameIndex(idx NameIndex) IngesterOption {
	return func(in *Ingester) { in.names = idx }
}

// NewIngester creates an ingester with the given dependencies.
func NewIngester(s sampler.Sampler, e embedding.ImageEmbedder, engine *match.Engine, opts ...IngesterOption) *Ingester {
	in := &Ingester{
		sampler:  s,
		embedder: e,
		engine:   engine,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Engine returns the match engine.
func (in *Ingester) Engine() *match.Engine {
	return in.engine
}

// IngestFile samples frames from path and classifies them.
func (in *Ingester) IngestFile(ctx context.Context, path string, isLabeled bool, gameName string) (*Result, error) {
	frames, err := in.sampler.Sample(ctx, path)
	if err != nil {
		if errors.Is(err, models.ErrUnprocessableMedia) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("failed to sample frames: %w", err)
	}
	in.logger.Debug("video sampled", zap.String("file", filepath.Base(path)), zap.Int("frames", len(frames)))
	return in.IngestFrames(ctx, frames, isLabeled, gameName)
}

// IngestFrames embeds frames and classifies them as one clip.
func (in *Ingester) IngestFrames(ctx context.Context, frames []image.Image, isLabeled bool, gameName string) (*Result, error) {
	if len(frames) == 0 {
		return nil, sampler.ErrNoFrames
	}
	embeddings, err := in.embedder.EmbedBatch(ctx, frames)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	vectors := make([]models.FeatureVector, len(embeddings))
	for i, emb := range embeddings {
		vectors[i] = emb
	}

	outcome, err := in.engine.Classify(ctx, vectors, isLabeled, gameName)
	if err != nil {
		return nil, err
	}
	res := &Result{Outcome: outcome, Frames: len(frames)}
	if outcome.Created && in.names != nil {
		res.SimilarGames = in.trackName(outcome)
	}
	return res, nil
}

// trackName adds a newly created cluster to the name index. For labeled games it first
// collects existing names that look alike so the caller can spot a duplicate label.
func (in *Ingester) trackName(outcome *models.Outcome) []string {
	var similar []string
	if outcome.Kind == models.OutcomeLabeled {
		hits, err := in.names.Suggest(outcome.Game, maxSuggestions+1)
		if err != nil {
			in.logger.Warn("name lookup failed", zap.String("game", outcome.Game), zap.Error(err))
		}
		for _, h := range hits {
			if h != outcome.Game && len(similar) < maxSuggestions {
				similar = append(similar, h)
			}
		}
	}
	if err := in.names.Add(outcome.Game); err != nil {
		in.logger.Warn("name index update failed", zap.String("game", outcome.Game), zap.Error(err))
	}
	return similar
}
