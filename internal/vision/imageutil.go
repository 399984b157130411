package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/your-org/facegroups/internal/models"
)

// Decode decodes JPEG, PNG, BMP or WebP image bytes.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Crop copies the region of img covered by box (relative to img's origin)
// into a new image. It returns nil when the clamped box is empty.
func Crop(img image.Image, box models.Box) image.Image {
	b := img.Bounds()
	box = box.Pad(0, b.Dx(), b.Dy())
	if box.Empty() {
		return nil
	}
	src := image.Rect(box.Left, box.Top, box.Right, box.Bottom).Add(b.Min)
	dst := image.NewRGBA(image.Rect(0, 0, src.Dx(), src.Dy()))
	draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	return dst
}

// Resize scales img to exactly w x h.
func Resize(img image.Image, w, h int, scaler draw.Scaler) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	scaler.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func preprocessForDetection(img image.Image, w, h int) []float32 {
	return toCHW(img, w, h, 127.5, 128.0)
}

func preprocessForEmbedding(img image.Image, w, h int) []float32 {
	return toCHW(img, w, h, 127.5, 127.5)
}

// toCHW resizes img to w x h and lays it out as normalised CHW float32:
//
//	pixel = (pixel - mean) / std
func toCHW(img image.Image, w, h int, mean, std float32) []float32 {
	resized := Resize(img, w, h, draw.ApproxBiLinear)
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := resized.PixOffset(x, y)
			px := resized.Pix[off : off+3]
			idx := y*w + x
			data[idx] = (float32(px[0]) - mean) / std
			data[plane+idx] = (float32(px[1]) - mean) / std
			data[2*plane+idx] = (float32(px[2]) - mean) / std
		}
	}
	return data
}
