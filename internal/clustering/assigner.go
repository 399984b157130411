package clustering

// assigner holds the in-memory representative map for one run. Clusters
// are compared in the order they became known, and the first cluster with
// a representative within tolerance wins.
type assigner struct {
	policy Policy
	order  []int64
	reps   map[int64][][]float32
}

func newAssigner(p Policy) *assigner {
	return &assigner{policy: p, reps: make(map[int64][][]float32)}
}

// seed registers a cluster known before the run started.
func (a *assigner) seed(clusterID int64, vec []float32) {
	if _, ok := a.reps[clusterID]; ok {
		return
	}
	a.order = append(a.order, clusterID)
	a.reps[clusterID] = [][]float32{vec}
}

// match returns the first cluster with a representative within tolerance.
func (a *assigner) match(vec []float32) (int64, bool) {
	for _, id := range a.order {
		for _, rep := range a.reps[id] {
			if Within(vec, rep, a.policy.Tolerance) {
				return id, true
			}
		}
	}
	return 0, false
}

// observe records that vec was assigned to clusterID.
func (a *assigner) observe(clusterID int64, vec []float32) {
	if _, ok := a.reps[clusterID]; !ok {
		a.seed(clusterID, vec)
		return
	}
	if a.policy.Retention == RetainAll {
		a.reps[clusterID] = append(a.reps[clusterID], vec)
	}
}

func (a *assigner) size() int { return len(a.order) }
