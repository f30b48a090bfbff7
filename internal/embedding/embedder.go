// Package embedding turns video frames into feature vectors via ONNX and caching.
package embedding

import (
	"context"
	"image"
)

// ImageEmbedder produces one feature vector per image.
type ImageEmbedder interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
	EmbedBatch(ctx context.Context, imgs []image.Image) ([][]float32, error)
	Dimensions() int
	Close() error
}

// embedEach runs embed over imgs in order, stopping at the first error or cancellation.
func embedEach(ctx context.Context, imgs []image.Image, embed func(context.Context, image.Image) ([]float32, error)) ([][]float32, error) {
	embeddings := make([][]float32, len(imgs))
	for i, img := range imgs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := embed(ctx, img)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
