package clustering

import "testing"

func TestAssigner_FirstMatchWinsNotBest(t *testing.T) {
	a := newAssigner(Policy{Tolerance: 0.5, Retention: RetainFirst})
	a.seed(1, []float32{0})
	a.seed(2, []float32{0.3})

	// 0.35 from cluster 1, 0.05 from cluster 2: cluster 1 is checked first.
	id, ok := a.match([]float32{0.35})
	if !ok || id != 1 {
		t.Errorf("match() = %d, %v; want 1, true", id, ok)
	}
}

func TestAssigner_NoMatch(t *testing.T) {
	a := newAssigner(Policy{Tolerance: 0.5})
	a.seed(1, []float32{0})

	if id, ok := a.match([]float32{2}); ok {
		t.Errorf("match() = %d, want no match", id)
	}
}

func TestAssigner_RetainAllGrowsRepresentatives(t *testing.T) {
	a := newAssigner(Policy{Tolerance: 0.6, Retention: RetainAll})
	a.observe(7, []float32{0})
	a.observe(7, []float32{0.55})

	if got := len(a.reps[7]); got != 2 {
		t.Fatalf("representatives = %d, want 2", got)
	}
	// 1.1 from the seed but 0.55 from the second representative.
	if id, ok := a.match([]float32{1.1}); !ok || id != 7 {
		t.Errorf("match() = %d, %v; want 7, true", id, ok)
	}
}

func TestAssigner_RetainFirstKeepsSeed(t *testing.T) {
	a := newAssigner(Policy{Tolerance: 0.5, Retention: RetainFirst})
	a.observe(3, []float32{0})
	a.observe(3, []float32{0.45})

	if got := len(a.reps[3]); got != 1 {
		t.Fatalf("representatives = %d, want 1", got)
	}
	if _, ok := a.match([]float32{0.9}); ok {
		t.Error("match() against a non-seed vector should fail under RetainFirst")
	}
}

func TestAssigner_SeedIgnoresDuplicates(t *testing.T) {
	a := newAssigner(Policy{Tolerance: 0.5})
	a.seed(1, []float32{0})
	a.seed(1, []float32{10})

	if a.size() != 1 || a.reps[1][0][0] != 0 {
		t.Errorf("seed() overwrote existing cluster: %+v", a.reps)
	}
}

func TestAssigner_OrderFollowsCreation(t *testing.T) {
	a := newAssigner(Policy{Tolerance: 1, Retention: RetainAll})
	a.observe(9, []float32{0})
	a.observe(4, []float32{0.2})

	if id, _ := a.match([]float32{0.1}); id != 9 {
		t.Errorf("match() = %d, want 9 (created first)", id)
	}
}
