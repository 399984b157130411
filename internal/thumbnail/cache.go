// Package thumbnail caches a small face crop per image.
package thumbnail

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/image/draw"

	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/vision"
)

// ErrNoFace is returned when the image has no detectable face to crop.
var ErrNoFace = errors.New("no face detected")

type BlobStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Cache writes face_<imageID>.jpg once per image and never overwrites it.
type Cache struct {
	blobs     BlobStore
	extractor vision.Extractor
	cfg       config.ThumbnailConfig
}

func NewCache(blobs BlobStore, extractor vision.Extractor, cfg config.ThumbnailConfig) *Cache {
	return &Cache{blobs: blobs, extractor: extractor, cfg: cfg}
}

// Key is the object key of an image's thumbnail.
func (c *Cache) Key(imageID int64) string {
	return fmt.Sprintf("%sface_%d.jpg", c.cfg.Prefix, imageID)
}

// Ensure makes sure a thumbnail exists for img. Faces are re-detected
// because incremental matches do not store a box; the first face found is
// used.
func (c *Cache) Ensure(ctx context.Context, img models.Image) error {
	key := c.Key(img.ID)

	exists, err := c.blobs.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check thumbnail: %w", err)
	}
	if exists {
		return nil
	}

	data, err := c.blobs.GetObject(ctx, img.ObjectKey)
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}

	faces, err := c.extractor.Extract(ctx, data)
	if err != nil {
		return fmt.Errorf("detect faces: %w", err)
	}
	if len(faces) == 0 {
		return ErrNoFace
	}

	thumb, err := c.render(data, faces[0].Box)
	if err != nil {
		return err
	}

	if err := c.blobs.PutObject(ctx, key, thumb, "image/jpeg"); err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}
	return nil
}

// render pads box, crops it from the source image and scales it to the
// configured square size.
func (c *Cache) render(data []byte, box models.Box) ([]byte, error) {
	src, err := vision.Decode(data)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()

	crop := vision.Crop(src, box.Pad(c.cfg.Padding, b.Dx(), b.Dy()))
	if crop == nil {
		return nil, fmt.Errorf("empty face region %+v", box)
	}

	out := vision.Resize(crop, c.cfg.Size, c.cfg.Size, draw.CatmullRom)
	return vision.EncodeJPEG(out, c.cfg.Quality)
}
