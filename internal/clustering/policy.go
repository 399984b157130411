// Package clustering groups face embeddings into clusters of the same person.
//
// A single engine serves both modes. A Policy decides how lenient the
// comparison is, how many representative vectors a cluster keeps, and
// whether existing clusters are wiped before the run.
package clustering

import "github.com/your-org/facegroups/internal/config"

const (
	// DefaultTolerance is the standard dlib face-match cutoff used by batch
	// rebuilds when no tolerance is configured.
	DefaultTolerance = 0.6
	// IncrementalTolerance is the stricter cutoff used when appending to
	// existing clusters.
	IncrementalTolerance = 0.5
)

// Retention selects which vectors a cluster compares new faces against.
type Retention int

const (
	// RetainAll keeps every vector assigned to the cluster; a face matches
	// when it is within tolerance of any of them.
	RetainAll Retention = iota
	// RetainFirst keeps only the vector the cluster was seeded with.
	RetainFirst
)

func (r Retention) String() string {
	if r == RetainFirst {
		return "first"
	}
	return "all"
}

// Policy parameterises one clustering run.
type Policy struct {
	Tolerance float64
	Retention Retention
	// Reset deletes every match and cluster before the run.
	Reset bool
	// Thumbnails ensures a cached face thumbnail for every assigned image.
	Thumbnails bool
}

// BatchPolicy rebuilds all clusters from scratch.
func BatchPolicy(tolerance float64) Policy {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return Policy{Tolerance: tolerance, Retention: RetainAll, Reset: true}
}

// IncrementalPolicy appends unclustered embeddings to existing clusters.
func IncrementalPolicy(tolerance float64) Policy {
	if tolerance <= 0 {
		tolerance = IncrementalTolerance
	}
	return Policy{Tolerance: tolerance, Retention: RetainFirst, Thumbnails: true}
}

func policiesFromConfig(cfg config.ClusteringConfig) (batch, incremental Policy) {
	return BatchPolicy(cfg.BatchTolerance), IncrementalPolicy(cfg.IncrementalTolerance)
}
