package vision

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facegroups/internal/config"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// InitRuntime initialises the ONNX Runtime environment once per process.
// Later calls return the result of the first one.
func InitRuntime(libPath string) error {
	ortOnce.Do(func() {
		if libPath == "" {
			libPath = defaultLibPath()
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			ortErr = fmt.Errorf("init onnx runtime: %w", err)
		}
	})
	return ortErr
}

// defaultLibPath returns the ONNX Runtime shared library name for the OS.
func defaultLibPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}

// Load builds the extractor selected by cfg.Backend. The returned closer
// releases model resources.
func Load(cfg config.VisionConfig) (Extractor, io.Closer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "onnx":
		if err := InitRuntime(cfg.ONNXLibPath); err != nil {
			return nil, nil, err
		}
		x, err := NewOnnxExtractor(cfg)
		if err != nil {
			return nil, nil, err
		}
		return x, closerFunc(func() error {
			x.Close()
			return nil
		}), nil
	case "dlib":
		return newDlibExtractor(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown vision backend %q", cfg.Backend)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
