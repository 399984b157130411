package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	embInputSize = 112
	embDim       = 512
)

// Embedder extracts face embeddings using the ArcFace (w600k_r50) ONNX model.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	e := &Embedder{}

	var err error
	e.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, embInputSize, embInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	e.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(1, embDim))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{e.inputTensor},
		[]ort.Value{e.outputTensor},
		opts,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return e, nil
}

// Extract embeds a CHW [3, 112, 112] face crop and returns an
// L2-normalised 512-d vector.
func (e *Embedder) Extract(input []float32) ([]float32, error) {
	copy(e.inputTensor.GetData(), input)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	v := make([]float32, embDim)
	copy(v, e.outputTensor.GetData())
	normalize(v)
	return v, nil
}

func (e *Embedder) InputSize() (int, int) {
	return embInputSize, embInputSize
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
