// Package match decides which game a clip belongs to and updates the cluster store.
package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperjump/gamesense/internal/cluster"
	"github.com/hyperjump/gamesense/internal/config"
	"github.com/hyperjump/gamesense/internal/models"
	"github.com/hyperjump/gamesense/internal/vector"
	"go.uber.org/zap"
)

const (
	// PolicyShared folds every unmatched clip into the NoMatchGame cluster.
	PolicyShared = "shared"
	// PolicyPerVideo gives every unmatched clip its own "Unknown game" cluster.
	PolicyPerVideo = "per_video"
)

// DefaultThreshold is the minimum centroid similarity accepted as a match.
const DefaultThreshold = config.DefaultConfidenceThreshold

// Renderer draws the stored vectors and returns a public reference to the artifact.
type Renderer interface {
	Render(ctx context.Context, points []models.LabeledVector) (string, error)
}

// Observer receives classify results, e.g. for metrics.
type Observer interface {
	ObserveOutcome(o *models.Outcome)
	ObserveClusters(stats []models.GameStat)
	ObserveVisualizeFailure()
}

// Engine classifies clips against the cluster store. All Classify calls are serialised.
type Engine struct {
	store     *cluster.Store
	threshold float64
	policy    string
	renderer  Renderer
	observer  Observer
	logger    *zap.Logger
	mu        sync.Mutex
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithRenderer regenerates a plot after every mutation.
func WithRenderer(r Renderer) EngineOption {
	return func(e *Engine) { e.renderer = r }
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates a match engine over store. A nil cfg uses the default threshold and shared policy.
func NewEngine(store *cluster.Store, cfg *config.MatchConfig, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     store,
		threshold: DefaultThreshold,
		policy:    PolicyShared,
		logger:    zap.NewNop(),
	}
	if cfg != nil {
		e.threshold = cfg.ThresholdOrDefault()
		if cfg.UnmatchedPolicy != "" {
			e.policy = cfg.UnmatchedPolicy
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Threshold returns the confidence threshold in use.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Store returns the underlying cluster store.
func (e *Engine) Store() *cluster.Store {
	return e.store
}

// Classify assigns the clip's frame vectors to a game. Labeled clips go straight to
// gameName; unlabeled clips go to the most similar cluster, or to the unmatched bucket
// when the best similarity is below the threshold.
func (e *Engine) Classify(ctx context.Context, vectors []models.FeatureVector, isLabeled bool, gameName string) (*models.Outcome, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no frames were extracted", models.ErrUnprocessableMedia)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		outcome *models.Outcome
		err     error
	)
	if isLabeled {
		outcome, err = e.classifyLabeled(ctx, vectors, gameName)
	} else {
		outcome, err = e.classifyUnlabeled(ctx, vectors)
	}
	if err != nil {
		return nil, err
	}

	if e.observer != nil {
		e.observer.ObserveOutcome(outcome)
	}
	if outcome.Mutated() {
		if e.observer != nil {
			e.observer.ObserveClusters(e.store.OrderedStats())
		}
		e.refreshPlot(ctx)
	}
	return outcome, nil
}

func (e *Engine) classifyLabeled(ctx context.Context, vectors []models.FeatureVector, gameName string) (*models.Outcome, error) {
	if strings.TrimSpace(gameName) == "" {
		return nil, fmt.Errorf("%w: must provide a game name for labeled videos", models.ErrInvalidInput)
	}
	created, err := e.store.Commit(ctx, gameName, vectors)
	if err != nil {
		return nil, err
	}
	e.logger.Info("labeled clip added",
		zap.String("game", gameName), zap.Int("vectors", len(vectors)), zap.Bool("created", created))
	return &models.Outcome{
		Kind:    models.OutcomeLabeled,
		Game:    gameName,
		Message: models.LabeledMessage(gameName),
		Vectors: len(vectors),
		Created: created,
	}, nil
}

func (e *Engine) classifyUnlabeled(ctx context.Context, vectors []models.FeatureVector) (*models.Outcome, error) {
	centroids := e.store.Centroids()
	if len(centroids) == 0 {
		return &models.Outcome{Kind: models.OutcomeNoClusters, Message: models.NoClustersMessage}, nil
	}

	raw := make([][]float32, len(vectors))
	for i, v := range vectors {
		raw[i] = v
	}
	representative, err := vector.Mean(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if dims := e.store.Dimensions(); dims != 0 && len(representative) != dims {
		return nil, fmt.Errorf("%w: clip vectors have dimension %d, clusters have %d",
			models.ErrInvalidInput, len(representative), dims)
	}

	best, bestSim := Best(representative, centroids)

	kind := models.OutcomeMatched
	target := best
	if bestSim < e.threshold {
		kind = models.OutcomeUnmatched
		target = e.unmatchedName()
	}
	created, err := e.store.Commit(ctx, target, vectors)
	if err != nil {
		return nil, err
	}
	e.logger.Info("clip classified",
		zap.String("outcome", string(kind)),
		zap.String("game", target),
		zap.String("closest", best),
		zap.Float64("similarity", bestSim),
		zap.Int("vectors", len(vectors)))
	return &models.Outcome{
		Kind:       kind,
		Game:       target,
		Similarity: bestSim,
		Vectors:    len(vectors),
		Created:    created,
	}, nil
}

// Best returns the centroid most similar to v. Only a strictly greater similarity replaces
// the current best, so ties keep the earliest centroid. Returns "" and -1 for no centroids.
func Best(v []float32, centroids []models.Centroid) (string, float64) {
	bestName := ""
	bestSim := -1.0
	for i, c := range centroids {
		sim := vector.CosineSimilarity(v, c.Vector)
		if i == 0 || sim > bestSim {
			bestName = c.Game
			bestSim = sim
		}
	}
	return bestName, bestSim
}

func (e *Engine) unmatchedName() string {
	if e.policy == PolicyPerVideo {
		return "Unknown game " + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return models.NoMatchGame
}

func (e *Engine) refreshPlot(ctx context.Context) {
	if e.renderer == nil {
		return
	}
	if _, err := e.Visualize(ctx); err != nil {
		if e.observer != nil && !errors.Is(err, ErrNothingToPlot) {
			e.observer.ObserveVisualizeFailure()
		}
		e.logger.Warn("cluster plot not regenerated", zap.Error(err))
	}
}

// ErrNothingToPlot is returned by Visualize when the store has too few vectors to draw.
var ErrNothingToPlot = errors.New("not enough vectors to plot")

// Visualize renders the current store. It never mutates the store.
func (e *Engine) Visualize(ctx context.Context) (string, error) {
	if e.renderer == nil {
		return "", fmt.Errorf("%w: no renderer configured", models.ErrVisualization)
	}
	points := e.store.Log()
	if len(points) < 2 {
		return "", ErrNothingToPlot
	}
	url, err := e.renderer.Render(ctx, points)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrVisualization, err)
	}
	return url, nil
}
