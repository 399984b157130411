package clustering

import (
	"math"
	"testing"

	"github.com/your-org/facegroups/internal/config"
)

func TestPolicyDefaults(t *testing.T) {
	if DefaultTolerance != 0.6 {
		t.Errorf("DefaultTolerance = %v, want 0.6", DefaultTolerance)
	}
	if IncrementalTolerance != 0.5 {
		t.Errorf("IncrementalTolerance = %v, want 0.5", IncrementalTolerance)
	}

	batch := BatchPolicy(0)
	if batch.Tolerance != 0.6 || batch.Retention != RetainAll || !batch.Reset || batch.Thumbnails {
		t.Errorf("BatchPolicy(0) = %+v", batch)
	}

	inc := IncrementalPolicy(0)
	if inc.Tolerance != 0.5 || inc.Retention != RetainFirst || inc.Reset || !inc.Thumbnails {
		t.Errorf("IncrementalPolicy(0) = %+v", inc)
	}
}

func TestPoliciesFromConfig(t *testing.T) {
	batch, inc := policiesFromConfig(config.ClusteringConfig{BatchTolerance: 0.55, IncrementalTolerance: 0.4})
	if batch.Tolerance != 0.55 {
		t.Errorf("batch tolerance = %v, want 0.55", batch.Tolerance)
	}
	if inc.Tolerance != 0.4 {
		t.Errorf("incremental tolerance = %v, want 0.4", inc.Tolerance)
	}
}

func TestRetentionString(t *testing.T) {
	if RetainAll.String() != "all" || RetainFirst.String() != "first" {
		t.Errorf("Retention strings = %q, %q", RetainAll, RetainFirst)
	}
}

// unitPair returns two 512-d unit vectors with the given cosine similarity.
func unitPair(cos float64) (a, b []float32) {
	a = make([]float32, 512)
	b = make([]float32, 512)
	a[0] = 1
	b[0] = float32(cos)
	b[1] = float32(math.Sqrt(1 - cos*cos))
	return a, b
}

func TestArcFaceTolerances(t *testing.T) {
	onnxBatch, onnxIncr := config.DefaultTolerances("onnx")
	dlibBatch, dlibIncr := config.DefaultTolerances("dlib")

	tests := []struct {
		name      string
		cos       float64
		tolerance float64
		want      bool
	}{
		{"same person, onnx incremental", 0.6, onnxIncr, true},
		{"same person, onnx batch", 0.45, onnxBatch, true},
		{"different people, onnx incremental", 0.3, onnxIncr, false},
		{"different people, onnx batch", 0.3, onnxBatch, false},
		{"dlib cutoffs split unit vectors", 0.6, dlibIncr, false},
		{"dlib batch cutoff", 0.6, dlibBatch, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := unitPair(tt.cos)
			as := newAssigner(IncrementalPolicy(tt.tolerance))
			as.seed(1, a)
			if _, ok := as.match(b); ok != tt.want {
				t.Errorf("match at cosine %.2f (distance %.3f, tolerance %.2f) = %v, want %v",
					tt.cos, Distance(a, b), tt.tolerance, ok, tt.want)
			}
		})
	}
}
