package visualize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hyperjump/gamesense/internal/models"
	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	filePrefix = "cluster_visualization_"
	// URLPrefix is the public path under which artifacts are served.
	URLPrefix = "static/"
)

// PlotRenderer writes PNG scatter plots of the cluster vectors into a static directory.
type PlotRenderer struct {
	dir    string
	logger *zap.Logger
}

// NewPlotRenderer creates the static directory if needed.
func NewPlotRenderer(dir string, logger *zap.Logger) (*PlotRenderer, error) {
	if dir == "" {
		return nil, fmt.Errorf("static dir is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create static dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlotRenderer{dir: dir, logger: logger}, nil
}

// Dir returns the directory artifacts are written to.
func (r *PlotRenderer) Dir() string {
	return r.dir
}

// Render projects points with PCA and saves a new uniquely named PNG.
// Returns the public URL path, e.g. "static/cluster_visualization_<hex>.png".
func (r *PlotRenderer) Render(ctx context.Context, points []models.LabeledVector) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rows := make([][]float32, len(points))
	for i, p := range points {
		rows[i] = p.Vector
	}
	coords, err := Project2D(rows)
	if err != nil {
		return "", err
	}

	p := plot.New()
	p.Title.Text = "Gameplay Clustering Visualization"
	p.X.Label.Text = "PCA Feature 1"
	p.Y.Label.Text = "PCA Feature 2"
	p.Legend.Top = true

	// One series per game, in first-seen order so colours are stable.
	var order []string
	series := make(map[string]plotter.XYs)
	for i, pt := range points {
		if _, ok := series[pt.Game]; !ok {
			order = append(order, pt.Game)
		}
		series[pt.Game] = append(series[pt.Game], plotter.XY{X: coords[i][0], Y: coords[i][1]})
	}
	for i, game := range order {
		s, err := plotter.NewScatter(series[game])
		if err != nil {
			return "", fmt.Errorf("failed to build scatter for %q: %w", game, err)
		}
		s.GlyphStyle.Color = plotutil.Color(i)
		s.GlyphStyle.Shape = plotutil.Shape(i)
		s.GlyphStyle.Radius = vg.Points(3)
		p.Add(s)
		p.Legend.Add(game, s)
	}

	name := filePrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + ".png"
	path := filepath.Join(r.dir, name)
	if err := p.Save(10*vg.Inch, 7*vg.Inch, path); err != nil {
		return "", fmt.Errorf("failed to save plot: %w", err)
	}
	r.logger.Debug("cluster plot written", zap.String("path", path), zap.Int("points", len(points)), zap.Int("games", len(order)))
	return URLPrefix + name, nil
}
