package visualize

import (
	"context"
	"errors"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/gamesense/internal/models"
)

func TestProject2D(t *testing.T) {
	rows := [][]float32{
		{1, 0, 0},
		{2, 0, 0},
		{3, 0, 0},
		{4, 0, 0},
	}
	coords, err := Project2D(rows)
	if err != nil {
		t.Fatal(err)
	}
	if len(coords) != 4 {
		t.Fatalf("got %d coords, want 4", len(coords))
	}
	// Points lie on one line: distances along the first component are preserved.
	for i := 1; i < len(coords); i++ {
		step := math.Abs(coords[i][0] - coords[i-1][0])
		if math.Abs(step-1) > 1e-9 {
			t.Errorf("step %d = %v, want 1", i, step)
		}
		if math.Abs(coords[i][1]) > 1e-9 {
			t.Errorf("second component of point %d = %v, want 0", i, coords[i][1])
		}
	}
	var sum float64
	for _, c := range coords {
		sum += c[0]
	}
	if math.Abs(sum) > 1e-9 {
		t.Errorf("projection should be centred, sum = %v", sum)
	}
}

func TestProject2D_OneDimension(t *testing.T) {
	coords, err := Project2D([][]float32{{1}, {3}})
	if err != nil {
		t.Fatal(err)
	}
	if coords[0][1] != 0 || coords[1][1] != 0 {
		t.Errorf("missing axis should be zero: %v", coords)
	}
	if math.Abs(math.Abs(coords[0][0]-coords[1][0])-2) > 1e-9 {
		t.Errorf("coords = %v", coords)
	}
}

func TestProject2D_Errors(t *testing.T) {
	tests := []struct {
		name string
		rows [][]float32
	}{
		{"nil", nil},
		{"single", [][]float32{{1, 2}}},
		{"mismatch", [][]float32{{1, 2}, {1}}},
		{"empty vectors", [][]float32{{}, {}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Project2D(tt.rows); err == nil {
				t.Error("expected error")
			}
		})
	}
	if _, err := Project2D([][]float32{{1}}); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("error = %v, want ErrInsufficientData", err)
	}
}

func TestPlotRenderer_Render(t *testing.T) {
	dir := t.TempDir()
	r, err := NewPlotRenderer(filepath.Join(dir, "static"), nil)
	if err != nil {
		t.Fatal(err)
	}
	points := []models.LabeledVector{
		{Game: "Chess", Vector: models.FeatureVector{1, 0, 0}},
		{Game: "Chess", Vector: models.FeatureVector{0.9, 0.1, 0}},
		{Game: "Tetris", Vector: models.FeatureVector{0, 1, 0}},
		{Game: models.NoMatchGame, Vector: models.FeatureVector{0, 0, 1}},
	}
	url, err := r.Render(context.Background(), points)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(url, "static/cluster_visualization_") || !strings.HasSuffix(url, ".png") {
		t.Errorf("url = %q", url)
	}
	f, err := os.Open(filepath.Join(r.Dir(), strings.TrimPrefix(url, URLPrefix)))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("artifact is not a PNG: %v", err)
	}

	second, err := r.Render(context.Background(), points)
	if err != nil {
		t.Fatal(err)
	}
	if second == url {
		t.Error("each render should produce a new artifact name")
	}
	entries, _ := os.ReadDir(r.Dir())
	if len(entries) != 2 {
		t.Errorf("old artifacts should be kept, found %d files", len(entries))
	}
}

func TestPlotRenderer_InsufficientData(t *testing.T) {
	r, err := NewPlotRenderer(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Render(context.Background(), []models.LabeledVector{{Game: "Chess", Vector: models.FeatureVector{1, 0}}})
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("error = %v, want ErrInsufficientData", err)
	}
}

func TestNewPlotRenderer_EmptyDir(t *testing.T) {
	if _, err := NewPlotRenderer("", nil); err == nil {
		t.Error("expected error for empty dir")
	}
}
