package clustering

import "math"

// Distance returns the Euclidean distance between two vectors. Vectors of
// different length are infinitely far apart.
func Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Within reports whether a and b are the same face under tolerance.
func Within(a, b []float32, tolerance float64) bool {
	return Distance(a, b) <= tolerance
}
