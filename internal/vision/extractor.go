package vision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/observability"
)

// Face is one detected face: where it is and what it looks like.
type Face struct {
	Box    models.Box
	Vector []float32
}

// Extractor turns image bytes into an ordered list of faces. An image
// without faces yields an empty list, not an error.
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]Face, error)
}

// OnnxExtractor runs RetinaFace detection followed by ArcFace embedding on
// every detected face. ONNX sessions own fixed tensors, so calls are
// serialised.
type OnnxExtractor struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

func NewOnnxExtractor(cfg config.VisionConfig) (*OnnxExtractor, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &OnnxExtractor{detector: det, embedder: emb}, nil
}

func (x *OnnxExtractor) Extract(ctx context.Context, data []byte) ([]Face, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()

	x.mu.Lock()
	defer x.mu.Unlock()

	start := time.Now()
	dw, dh := x.detector.InputSize()
	dets, err := x.detector.Detect(preprocessForDetection(img, dw, dh), b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	faces := make([]Face, 0, len(dets))
	ew, eh := x.embedder.InputSize()
	for _, d := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		box := d.Box()
		crop := Crop(img, box)
		if crop == nil {
			continue
		}

		start = time.Now()
		vec, err := x.embedder.Extract(preprocessForEmbedding(crop, ew, eh))
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		faces = append(faces, Face{Box: box, Vector: vec})
	}
	return faces, nil
}

func (x *OnnxExtractor) Close() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.detector.Close()
	x.embedder.Close()
}
