//go:build !dlib

package vision

import (
	"errors"
	"io"

	"github.com/your-org/facegroups/internal/config"
)

func newDlibExtractor(config.VisionConfig) (Extractor, io.Closer, error) {
	return nil, nil, errors.New("dlib backend not compiled in; rebuild with -tags dlib")
}
