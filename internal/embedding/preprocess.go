package embedding

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"

	"golang.org/x/image/draw"
)

// CLIP image normalisation constants (RGB).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// CenterSquare returns the largest square centred in r.
func CenterSquare(r image.Rectangle) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	side := w
	if h < side {
		side = h
	}
	x0 := r.Min.X + (w-side)/2
	y0 := r.Min.Y + (h-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}

// Resize scales the centre square of img to size x size with bicubic interpolation.
func Resize(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, CenterSquare(img.Bounds()), draw.Src, nil)
	return dst
}

// Preprocess converts img to a CHW float32 tensor of shape [3, size, size] with CLIP
// mean/std normalisation applied per channel.
func Preprocess(img image.Image, size int) []float32 {
	rgba := Resize(img, size)
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := rgba.PixOffset(x, y)
			idx := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(rgba.Pix[off+c]) / 255
				out[c*plane+idx] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}

// HashImage returns a content hash of img's pixels, used as the cache key.
func HashImage(img image.Image) string {
	h := sha256.New()
	b := img.Bounds()
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(buf[4:], uint32(b.Dy()))
	h.Write(buf[:8])
	if rgba, ok := img.(*image.RGBA); ok && rgba.Stride == 4*b.Dx() {
		h.Write(rgba.Pix[:4*b.Dx()*b.Dy()])
		return hex.EncodeToString(h.Sum(nil))
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			buf[0], buf[1], buf[2], buf[3] = byte(r>>8), byte(g>>8), byte(bl>>8), byte(a>>8)
			h.Write(buf[:4])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
