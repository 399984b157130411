//go:build dlib

package vision

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	face "github.com/Kagami/go-face"

	"github.com/your-org/facegroups/internal/config"
	"github.com/your-org/facegroups/internal/models"
)

// DlibExtractor produces the 128-d dlib ResNet descriptors the default
// clustering tolerances were tuned for. ModelsDir must contain
// shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat.
type DlibExtractor struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

func newDlibExtractor(cfg config.VisionConfig) (Extractor, io.Closer, error) {
	slog.Info("loading dlib models", "path", cfg.ModelsDir)
	rec, err := face.NewRecognizer(cfg.ModelsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load dlib models: %w", err)
	}
	x := &DlibExtractor{rec: rec}
	return x, x, nil
}

func (x *DlibExtractor) Extract(ctx context.Context, data []byte) ([]Face, error) {
	// go-face only reads JPEG; normalise other formats first.
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	jpg, err := EncodeJPEG(img, 95)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	found, err := x.rec.Recognize(jpg)
	x.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	faces := make([]Face, 0, len(found))
	for _, f := range found {
		r := f.Rectangle
		vec := make([]float32, len(f.Descriptor))
		copy(vec, f.Descriptor[:])
		faces = append(faces, Face{
			Box:    models.Box{Top: r.Min.Y, Left: r.Min.X, Bottom: r.Max.Y, Right: r.Max.X},
			Vector: vec,
		})
	}
	return faces, nil
}

func (x *DlibExtractor) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.rec.Close()
	return nil
}
