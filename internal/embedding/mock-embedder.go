package embedding

import (
	"context"
	"image"
	"math"

	"github.com/hyperjump/gamesense/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and for running without ONNX. It
// splits the frame into a grid and uses each cell's mean colour, centred on mid-grey,
// as features, so frames that look alike get similar vectors.
type MockEmbedder struct {
	dimensions int
	grid       int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 512
	}
	cells := (dimensions + 2) / 3
	grid := int(math.Ceil(math.Sqrt(float64(cells))))
	return &MockEmbedder{dimensions: dimensions, grid: grid}
}

// Embed returns the grid colour embedding of img, L2-normalised.
func (e *MockEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := img.Bounds()
	emb := make([]float32, e.dimensions)
	if b.Empty() {
		return emb, nil
	}

	sums := make([][3]float64, e.grid*e.grid)
	counts := make([]int, e.grid*e.grid)
	w, h := b.Dx(), b.Dy()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		gy := (y - b.Min.Y) * e.grid / h
		for x := b.Min.X; x < b.Max.X; x++ {
			gx := (x - b.Min.X) * e.grid / w
			cell := gy*e.grid + gx
			r, g, bl, _ := img.At(x, y).RGBA()
			sums[cell][0] += float64(r) / 0xffff
			sums[cell][1] += float64(g) / 0xffff
			sums[cell][2] += float64(bl) / 0xffff
			counts[cell]++
		}
	}

	for i := range emb {
		cell, ch := i/3, i%3
		if counts[cell] == 0 {
			continue
		}
		emb[i] = float32(sums[cell][ch]/float64(counts[cell]) - 0.5)
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each image.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, imgs []image.Image) ([][]float32, error) {
	return embedEach(ctx, imgs, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
