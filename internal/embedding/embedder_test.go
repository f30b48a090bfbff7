package embedding

import (
	"context"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/hyperjump/gamesense/internal/vector"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// split paints the left half with left and the right half with right.
func split(w, h int, left, right color.Color) *image.RGBA {
	img := solid(w, h, left)
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			img.Set(x, y, right)
		}
	}
	return img
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(48)
	img := split(64, 36, color.RGBA{200, 30, 30, 255}, color.RGBA{20, 20, 220, 255})
	a, err := e.Embed(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(context.Background(), img)
	if len(a) != 48 {
		t.Fatalf("len = %d, want 48", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}
	if math.Abs(vector.L2Norm(a)-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", vector.L2Norm(a))
	}
}

func TestMockEmbedder_SimilarFramesAreClose(t *testing.T) {
	e := NewMockEmbedder(48)
	ctx := context.Background()
	red := split(64, 36, color.RGBA{220, 20, 20, 255}, color.RGBA{30, 30, 30, 255})
	redish := split(64, 36, color.RGBA{210, 30, 25, 255}, color.RGBA{35, 25, 30, 255})
	blue := split(64, 36, color.RGBA{30, 30, 30, 255}, color.RGBA{20, 20, 220, 255})

	vr, _ := e.Embed(ctx, red)
	vrr, _ := e.Embed(ctx, redish)
	vb, _ := e.Embed(ctx, blue)
	near := vector.CosineSimilarity(vr, vrr)
	far := vector.CosineSimilarity(vr, vb)
	if near < 0.95 {
		t.Errorf("similar frames similarity = %v, want >= 0.95", near)
	}
	if far > 0.7 {
		t.Errorf("different frames similarity = %v, want < 0.7", far)
	}
}

func TestMockEmbedder_EmbedBatch(t *testing.T) {
	e := NewMockEmbedder(0)
	if e.Dimensions() != 512 {
		t.Errorf("Dimensions() = %d, want 512", e.Dimensions())
	}
	imgs := []image.Image{solid(8, 8, color.White), solid(8, 8, color.Black)}
	out, err := e.EmbedBatch(context.Background(), imgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || len(out[0]) != 512 {
		t.Fatalf("unexpected batch shape %d x %d", len(out), len(out[0]))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.EmbedBatch(ctx, imgs); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestCenterSquare(t *testing.T) {
	tests := []struct {
		in   image.Rectangle
		want image.Rectangle
	}{
		{image.Rect(0, 0, 1920, 1080), image.Rect(420, 0, 1500, 1080)},
		{image.Rect(0, 0, 100, 300), image.Rect(0, 100, 100, 200)},
		{image.Rect(10, 10, 20, 20), image.Rect(10, 10, 20, 20)},
	}
	for _, tt := range tests {
		if got := CenterSquare(tt.in); got != tt.want {
			t.Errorf("CenterSquare(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPreprocess(t *testing.T) {
	img := solid(40, 20, color.RGBA{255, 0, 0, 255})
	out := Preprocess(img, 8)
	if len(out) != 3*8*8 {
		t.Fatalf("len = %d, want %d", len(out), 3*8*8)
	}
	wantR := (1 - clipMean[0]) / clipStd[0]
	wantG := (0 - clipMean[1]) / clipStd[1]
	plane := 64
	if math.Abs(float64(out[0]-wantR)) > 0.02 {
		t.Errorf("R = %v, want %v", out[0], wantR)
	}
	if math.Abs(float64(out[plane+10]-wantG)) > 0.02 {
		t.Errorf("G = %v, want %v", out[plane+10], wantG)
	}
}

func TestHashImage(t *testing.T) {
	a := solid(4, 4, color.RGBA{1, 2, 3, 255})
	b := solid(4, 4, color.RGBA{1, 2, 3, 255})
	c := solid(4, 4, color.RGBA{1, 2, 4, 255})
	if HashImage(a) != HashImage(b) {
		t.Error("identical images should hash equally")
	}
	if HashImage(a) == HashImage(c) {
		t.Error("different images should hash differently")
	}
	if HashImage(solid(4, 2, color.Black)) == HashImage(solid(2, 4, color.Black)) {
		t.Error("hash should include dimensions")
	}

	// Generic path agrees with the RGBA fast path.
	nrgba := image.NewNRGBA(a.Bounds())
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			nrgba.Set(x, y, a.At(x, y))
		}
	}
	if HashImage(nrgba) != HashImage(a) {
		t.Error("hash should depend on pixels, not image type")
	}
}
