package vision

import (
	"fmt"
	"slices"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facegroups/internal/models"
)

// Detection is one face found by the detector.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2 (pixel coordinates)
	Confidence float32
	Landmarks  [5][2]float32 // eyes, nose, mouth corners
}

// Box converts the float bounding box to integer pixel coordinates.
func (d Detection) Box() models.Box {
	return models.Box{
		Top:    int(d.BBox[1]),
		Left:   int(d.BBox[0]),
		Bottom: int(d.BBox[3]),
		Right:  int(d.BBox[2]),
	}
}

// Detector runs RetinaFace (det_10g) face detection using ONNX Runtime.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

const (
	detInputSize     = 640
	anchorsPerStride = 2
	nmsThreshold     = 0.4
)

var strides = []int{8, 16, 32}

// det_10g has no batch dimension on its outputs. For each stride the row
// count is (640/stride)^2 * 2 anchors: 12800, 3200, 800.
var detOutputs = []struct {
	name string
	cols int64
}{
	{"448", 1}, {"471", 1}, {"494", 1}, // scores
	{"451", 4}, {"474", 4}, {"497", 4}, // bboxes
	{"454", 10}, {"477", 10}, {"500", 10}, // landmarks
}

// NewDetector loads the RetinaFace ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	d := &Detector{
		inputTensor: inputTensor,
		threshold:   threshold,
		inputW:      detInputSize,
		inputH:      detInputSize,
	}

	names := make([]string, len(detOutputs))
	values := make([]ort.Value, len(detOutputs))
	for i, spec := range detOutputs {
		fm := detInputSize / strides[i%len(strides)]
		rows := int64(fm * fm * anchorsPerStride)
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, spec.cols))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", spec.name, err)
		}
		names[i] = spec.name
		values[i] = t
		d.outputTensors = append(d.outputTensors, t)
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{inputTensor}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect runs face detection on a preprocessed CHW [3, 640, 640] input.
// origW/origH are the source image dimensions used to scale coordinates back.
// The result is ordered by descending confidence.
func (d *Detector) Detect(input []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), input)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	return nms(d.decode(origW, origH), nmsThreshold), nil
}

func (d *Detector) decode(origW, origH int) []Detection {
	var out []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)
	maxW, maxH := float32(origW), float32(origH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()
		landmarks := d.outputTensors[si+6].GetData()

		fmW, fmH := d.inputW/stride, d.inputH/stride
		st := float32(stride)

		for idx := 0; idx < fmW*fmH*anchorsPerStride; idx++ {
			if scores[idx] < d.threshold {
				continue
			}
			cell := idx / anchorsPerStride
			ax := float32(cell%fmW) * st
			ay := float32(cell/fmW) * st

			b := bboxes[idx*4 : idx*4+4]
			det := Detection{
				BBox: [4]float32{
					clamp((ax-b[0]*st)*scaleW, 0, maxW),
					clamp((ay-b[1]*st)*scaleH, 0, maxH),
					clamp((ax+b[2]*st)*scaleW, 0, maxW),
					clamp((ay+b[3]*st)*scaleH, 0, maxH),
				},
				Confidence: scores[idx],
			}
			lm := landmarks[idx*10 : idx*10+10]
			for li := range det.Landmarks {
				det.Landmarks[li] = [2]float32{(ax + lm[li*2]*st) * scaleW, (ay + lm[li*2+1]*st) * scaleH}
			}
			out = append(out, det)
		}
	}
	return out
}

func (d *Detector) InputSize() (int, int) {
	return d.inputW, d.inputH
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		t.Destroy()
	}
}

// nms sorts detections by confidence and drops any that overlap a stronger
// one by more than iouThreshold.
func nms(dets []Detection, iouThreshold float32) []Detection {
	slices.SortStableFunc(dets, func(a, b Detection) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	var kept []Detection
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if iou(k.BBox, d.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	w := max(0, min(a[2], b[2])-max(a[0], b[0]))
	h := max(0, min(a[3], b[3])-max(a[1], b[1]))
	inter := w * h

	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
